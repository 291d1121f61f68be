package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

// Mode selects which predictor scores a step.
type Mode string

const (
	ModeClassification Mode = "classification"
	ModeRegression     Mode = "regression"
)

var ErrUnknownMode = errors.New("mode must be 'classification' or 'regression'")

// ParseMode validates a mode name.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ModeClassification, ModeRegression:
		return m, nil
	default:
		return "", fmt.Errorf("%w: got %q", ErrUnknownMode, s)
	}
}

func (m Mode) String() string { return string(m) }

// Classification is the result of a hazard-class model.
type Classification struct {
	Class      int     // ordinal hazard class, 0 = Low .. 3 = Critical
	Confidence float64 // probability of Class, 0..1
}

// Regression is the result of the stacked risk-score model.
type Regression struct {
	RiskScore       float64
	BasePredictions []float64
}

// Output is the uniform record of one step's model result. Exactly one of
// the classification fields, the regression fields, or Error is populated;
// HazardLevel and DisplacementValue are derived by the simulation step.
type Output struct {
	Prediction        *int
	Confidence        *float64
	RiskScore         *float64
	BasePredictions   []float64
	HazardLevel       *int
	DisplacementValue *float64
	Error             string
}

// Output converts a classification into the uniform shape, carrying the
// displacement reading taken from the dataset row.
func (c Classification) Output(displacement float64) Output {
	class, conf := c.Class, c.Confidence
	return Output{
		Prediction:        &class,
		Confidence:        &conf,
		DisplacementValue: &displacement,
	}
}

// Output converts a regression into the uniform shape. The hazard level is
// the risk score rounded half to even and the displacement value is the
// risk score itself. A non-finite score cannot be rounded and yields a
// failed output.
func (r Regression) Output() Output {
	if math.IsNaN(r.RiskScore) || math.IsInf(r.RiskScore, 0) {
		return Failed(fmt.Errorf("risk score is not finite: %v", r.RiskScore))
	}
	score := r.RiskScore
	level := int(math.RoundToEven(score))
	base := r.BasePredictions
	if base == nil {
		base = []float64{}
	}
	return Output{
		RiskScore:         &score,
		BasePredictions:   base,
		HazardLevel:       &level,
		DisplacementValue: &score,
	}
}

// Failed records a prediction failure in place of a model result.
func Failed(err error) Output {
	return Output{Error: err.Error()}
}

// Failed reports whether the step's prediction failed.
func (o Output) Failed() bool { return o.Error != "" }

type outputJSON struct {
	Prediction        *int       `json:"prediction,omitempty"`
	Confidence        *float64   `json:"confidence,omitempty"`
	RiskScore         *float64   `json:"risk_score,omitempty"`
	BasePredictions   []*float64 `json:"base_predictions,omitempty"`
	HazardLevel       *int       `json:"hazard_level,omitempty"`
	DisplacementValue *float64   `json:"displacement_value,omitempty"`
	Error             string     `json:"error,omitempty"`
}

// MarshalJSON drops non-finite numbers, which JSON cannot represent.
func (o Output) MarshalJSON() ([]byte, error) {
	w := outputJSON{
		Prediction:        o.Prediction,
		Confidence:        finite(o.Confidence),
		RiskScore:         finite(o.RiskScore),
		HazardLevel:       o.HazardLevel,
		DisplacementValue: finite(o.DisplacementValue),
		Error:             o.Error,
	}
	if o.BasePredictions != nil {
		w.BasePredictions = make([]*float64, len(o.BasePredictions))
		for i := range o.BasePredictions {
			w.BasePredictions[i] = finite(&o.BasePredictions[i])
		}
	}
	return json.Marshal(w)
}

func (o *Output) UnmarshalJSON(data []byte) error {
	var w outputJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*o = Output{
		Prediction:        w.Prediction,
		Confidence:        w.Confidence,
		RiskScore:         w.RiskScore,
		HazardLevel:       w.HazardLevel,
		DisplacementValue: w.DisplacementValue,
		Error:             w.Error,
	}
	if w.BasePredictions != nil {
		o.BasePredictions = make([]float64, len(w.BasePredictions))
		for i, p := range w.BasePredictions {
			if p == nil {
				o.BasePredictions[i] = math.NaN()
				continue
			}
			o.BasePredictions[i] = *p
		}
	}
	return nil
}

func finite(p *float64) *float64 {
	if p == nil || math.IsNaN(*p) || math.IsInf(*p, 0) {
		return nil
	}
	return p
}
