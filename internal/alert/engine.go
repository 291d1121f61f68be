// Package alert evaluates the per-step model output stream for escalation,
// sustained risk and displacement spikes.
package alert

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"terraguard/internal/config"
	"terraguard/internal/model"
)

// Rule names an alert rule that fired.
type Rule string

const (
	RuleEscalation Rule = "escalation"
	RuleSustained  Rule = "sustained_risk"
	RuleSpike      Rule = "displacement_spike"
)

const (
	msgEscalation = "Escalation detected: hazard class increased."
	msgSustained  = "Sustained high risk for %d steps."
	msgSpike      = "Displacement spike detected."
)

// Result is the alert evaluation of one step.
type Result struct {
	Timestamp         time.Time
	Mode              model.Mode
	HazardLevel       *int
	HazardConfidence  float64
	DisplacementValue *float64
	Band              Band
	AlertFlag         bool
	AlertMessage      string
	Rules             []Rule
}

type resultJSON struct {
	Timestamp         time.Time  `json:"timestamp"`
	Mode              model.Mode `json:"mode"`
	HazardLevel       *int       `json:"hazard_level"`
	HazardConfidence  *float64   `json:"hazard_confidence"`
	DisplacementValue *float64   `json:"displacement_value"`
	Band              Band       `json:"risk_band"`
	AlertFlag         bool       `json:"alert_flag"`
	AlertMessage      string     `json:"alert_message"`
	Rules             []Rule     `json:"rules,omitempty"`
}

// MarshalJSON writes non-finite readings as null.
func (r Result) MarshalJSON() ([]byte, error) {
	conf := r.HazardConfidence
	return json.Marshal(resultJSON{
		Timestamp:         r.Timestamp,
		Mode:              r.Mode,
		HazardLevel:       r.HazardLevel,
		HazardConfidence:  finite(&conf),
		DisplacementValue: finite(r.DisplacementValue),
		Band:              r.Band,
		AlertFlag:         r.AlertFlag,
		AlertMessage:      r.AlertMessage,
		Rules:             r.Rules,
	})
}

// StepContext is the previous step as seen by the escalation and spike
// rules: the model output with the evaluated hazard level and displacement
// folded in. Values are immutable once built.
type StepContext struct {
	model.Output
}

// NewStepContext merges a step's model output with its alert result.
func NewStepContext(out model.Output, res Result) *StepContext {
	out.HazardLevel = res.HazardLevel
	out.DisplacementValue = res.DisplacementValue
	return &StepContext{Output: out}
}

// Engine evaluates alert rules. It owns a bounded history of hazard levels
// used for sustained-risk counting; the history survives simulation resets.
type Engine struct {
	mu  sync.Mutex
	cfg config.AlertsConfig

	history []*int
	head    int // next write position once the ring is full
}

func NewEngine(cfg config.AlertsConfig) *Engine {
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 1000
	}
	return &Engine{
		cfg:     cfg,
		history: make([]*int, 0, cfg.HistorySize),
	}
}

// Evaluate applies the rules to out, comparing against prev when it is set.
func (e *Engine) Evaluate(ts time.Time, mode model.Mode, out model.Output, prev *StepContext) Result {
	hazard := out.HazardLevel
	if mode == model.ModeClassification {
		hazard = out.Prediction
	}

	confidence := 0.0
	if out.Confidence != nil {
		confidence = *out.Confidence
	}

	var displacement *float64
	if mode == model.ModeRegression {
		displacement = out.RiskScore
	} else {
		displacement = out.DisplacementValue
		if displacement == nil {
			zero := 0.0
			displacement = &zero
		}
	}

	res := Result{
		Timestamp:         ts,
		Mode:              mode,
		HazardLevel:       hazard,
		HazardConfidence:  confidence,
		DisplacementValue: displacement,
		Band:              band(mode, out),
	}

	var msgs []string
	fire := func(rule Rule, msg string) {
		res.Rules = append(res.Rules, rule)
		msgs = append(msgs, msg)
	}

	if prev != nil {
		prevHazard := prev.HazardLevel
		if prevHazard == nil {
			prevHazard = prev.Prediction
		}
		if prevHazard != nil && hazard != nil && *hazard > *prevHazard {
			fire(RuleEscalation, msgEscalation)
		}
	}

	if n := e.record(hazard); n >= e.cfg.SustainedSteps && n > 0 {
		fire(RuleSustained, fmt.Sprintf(msgSustained, n))
	}

	if prev != nil && displacement != nil {
		if *displacement-prevDisplacement(prev) > e.cfg.DisplacementSpike {
			fire(RuleSpike, msgSpike)
		}
	}

	res.AlertFlag = len(msgs) > 0
	res.AlertMessage = strings.Join(msgs, "; ")
	return res
}

// record appends hazard to the history and returns the length of the
// qualifying run ending at it, or 0 when hazard itself does not qualify.
func (e *Engine) record(hazard *int) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.history) < cap(e.history) {
		e.history = append(e.history, hazard)
	} else {
		e.history[e.head] = hazard
		e.head = (e.head + 1) % len(e.history)
	}

	if !e.qualifies(hazard) {
		return 0
	}

	count := 0
	size := len(e.history)
	for i := 0; i < size; i++ {
		// newest entry sits just before head
		h := e.history[(e.head-1-i+2*size)%size]
		if !e.qualifies(h) {
			break
		}
		count++
	}
	return count
}

func (e *Engine) qualifies(h *int) bool {
	return h != nil && *h >= e.cfg.SustainedThreshold
}

// Len reports how many hazard levels the history holds.
func (e *Engine) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.history)
}

func prevDisplacement(prev *StepContext) float64 {
	switch {
	case prev.DisplacementValue != nil:
		return *prev.DisplacementValue
	case prev.RiskScore != nil:
		return *prev.RiskScore
	default:
		return 0
	}
}

func band(mode model.Mode, out model.Output) Band {
	switch {
	case mode == model.ModeRegression && out.RiskScore != nil:
		return BandFromScore(*out.RiskScore)
	case mode == model.ModeClassification && out.Prediction != nil:
		return BandFromClass(*out.Prediction)
	default:
		return BandUnknown
	}
}

func finite(p *float64) *float64 {
	if p == nil || math.IsNaN(*p) || math.IsInf(*p, 0) {
		return nil
	}
	return p
}
