package api

import (
	"time"

	"terraguard/internal/simulation"
)

// Duration wraps time.Duration for JSON marshaling as a string like "10s".
type Duration struct {
	time.Duration
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.String() + `"`), nil
}

// ControlResponse acknowledges a control operation and echoes the new state.
type ControlResponse struct {
	Status string            `json:"status"`
	State  simulation.Status `json:"state"`
}

// StartResponse is returned by POST /simulation/start.
type StartResponse struct {
	Status     string            `json:"status"`
	LoadedPath string            `json:"loaded_path"`
	State      simulation.Status `json:"state"`
}

// SpeedResponse is returned by POST /simulation/set-speed.
type SpeedResponse struct {
	Status string  `json:"status"`
	Speed  float64 `json:"speed"`
}

// ModeResponse is returned by POST /simulation/set-mode.
type ModeResponse struct {
	Status string `json:"status"`
	Mode   string `json:"mode"`
}

// PredictRequest is the body of the direct prediction endpoints.
type PredictRequest struct {
	Features []float64 `json:"features"`
}

// ClassificationResponse mirrors the model server's classification reply.
type ClassificationResponse struct {
	Status     string   `json:"status"`
	Prediction string   `json:"prediction,omitempty"`
	Class      *int     `json:"class,omitempty"`
	Confidence *float64 `json:"confidence,omitempty"`
	RiskBand   string   `json:"risk_band,omitempty"`
	Message    string   `json:"message,omitempty"`
}

// RegressionResponse mirrors the model server's regression reply.
type RegressionResponse struct {
	Status          string    `json:"status"`
	RiskScore       *float64  `json:"risk_score,omitempty"`
	RiskLevel       string    `json:"risk_level,omitempty"`
	BasePredictions []float64 `json:"base_predictions,omitempty"`
	Message         string    `json:"message,omitempty"`
}

// ErrorResponse is returned for API errors.
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"request_id"`
}

// HealthResponse is returned by the health check endpoint.
type HealthResponse struct {
	Status   string   `json:"status"`
	Database bool     `json:"database"`
	Running  bool     `json:"running"`
	Uptime   Duration `json:"uptime"`
}

// RootResponse is returned by GET /.
type RootResponse struct {
	Message string `json:"message"`
}
