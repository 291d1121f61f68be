package model

import (
	"context"
	"fmt"
	"math"
)

// HeuristicClassifier is the deterministic stand-in used when no trained
// model is available: the class is the truncated feature sum modulo 3.
type HeuristicClassifier struct {
	features []string
}

func NewHeuristicClassifier(featureOrder []string) *HeuristicClassifier {
	return &HeuristicClassifier{features: featureOrder}
}

func (h *HeuristicClassifier) FeatureOrder() []string { return h.features }

func (h *HeuristicClassifier) Classify(_ context.Context, features []float64) (Classification, error) {
	// NaN counts as zero and infinities saturate to the largest finite value
	var sum float64
	for _, f := range features {
		switch {
		case math.IsNaN(f):
			continue
		case math.IsInf(f, 1):
			f = math.MaxFloat64
		case math.IsInf(f, -1):
			f = -math.MaxFloat64
		}
		sum += f
	}
	if math.IsInf(sum, 0) {
		return Classification{}, fmt.Errorf("feature sum overflows: %v", sum)
	}

	class := math.Mod(math.Trunc(sum), 3)
	if class < 0 {
		class += 3
	}
	return Classification{Class: int(class), Confidence: 0.5}, nil
}

// HeuristicRegressor scores a window by the mean of its finite values.
type HeuristicRegressor struct{}

func (HeuristicRegressor) Regress(_ context.Context, window [][]float64) (Regression, error) {
	var (
		sum float64
		n   int
	)
	for _, row := range window {
		for _, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				continue
			}
			sum += v
			n++
		}
	}

	risk := 0.0
	if n > 0 {
		risk = sum / float64(n)
	}
	return Regression{RiskScore: risk, BasePredictions: []float64{}}, nil
}
