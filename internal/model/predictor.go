// Package model defines the prediction contracts consumed by the
// simulation and the backends that satisfy them.
package model

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"terraguard/internal/config"
)

// Classifier maps one row's feature vector to a hazard class.
type Classifier interface {
	Classify(ctx context.Context, features []float64) (Classification, error)
}

// Regressor maps a window of consecutive rows to a risk score.
type Regressor interface {
	Regress(ctx context.Context, window [][]float64) (Regression, error)
}

// FeatureOrderer is implemented by classifiers trained on named columns.
// The returned order is the order features must be supplied in.
type FeatureOrderer interface {
	FeatureOrder() []string
}

// ClassLabels names the hazard classes by ordinal.
var ClassLabels = []string{"Low", "Moderate", "High", "Critical"}

// ClassFromLabel maps a class label to its ordinal.
func ClassFromLabel(label string) (int, bool) {
	for i, l := range ClassLabels {
		if l == label {
			return i, true
		}
	}
	return 0, false
}

// New picks the predictor backend named in cfg: the heuristic fallback,
// a remote model server, or "auto" which uses the server when it answers.
func New(ctx context.Context, cfg config.ModelsConfig) (Classifier, Regressor, error) {
	var order []string
	if cfg.ClassificationMetadata != "" {
		meta, err := LoadMetadata(cfg.ClassificationMetadata)
		if err != nil {
			log.Warn().Err(err).Str("path", cfg.ClassificationMetadata).Msg("classification metadata unavailable, using numeric column order")
		} else {
			order = meta.Features
		}
	}

	backend := cfg.Backend
	if backend == "" {
		backend = "heuristic"
	}

	switch backend {
	case "heuristic":
		return NewHeuristicClassifier(order), HeuristicRegressor{}, nil
	case "remote":
		c := NewClient(cfg.Endpoint, cfg.Timeout, order)
		return c, c, nil
	case "auto":
		if cfg.Endpoint != "" {
			c := NewClient(cfg.Endpoint, cfg.Timeout, order)
			err := c.Ping(ctx)
			if err == nil {
				log.Info().Str("endpoint", cfg.Endpoint).Msg("using remote model server")
				return c, c, nil
			}
			log.Warn().Err(err).Str("endpoint", cfg.Endpoint).Msg("model server unreachable, using heuristic predictors")
		}
		return NewHeuristicClassifier(order), HeuristicRegressor{}, nil
	default:
		return nil, nil, fmt.Errorf("unknown model backend %q: must be heuristic, remote, or auto", backend)
	}
}

func defaultHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &http.Client{Timeout: timeout}
}
