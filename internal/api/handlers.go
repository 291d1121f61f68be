package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"

	"github.com/rs/zerolog/log"

	"terraguard/internal/alert"
	"terraguard/internal/model"
	"terraguard/internal/monitor"
	"terraguard/internal/simulation"
	"terraguard/internal/storage"
)

// Simulation is the control surface the handlers drive.
type Simulation interface {
	StartWith(path, mode string) (string, error)
	Stop()
	Reset(ctx context.Context) error
	SetSpeed(seconds float64) error
	SetMode(mode string) error
	Status() simulation.Status
	History(ctx context.Context, limit int) ([]storage.Record, error)
}

type Handlers struct {
	sim          Simulation
	classifier   model.Classifier
	regressor    model.Regressor
	metrics      *monitor.Metrics
	historyLimit int
}

func NewHandlers(sim Simulation, clf model.Classifier, reg model.Regressor, metrics *monitor.Metrics, historyLimit int) *Handlers {
	if clf == nil {
		clf = model.NewHeuristicClassifier(nil)
	}
	if reg == nil {
		reg = model.HeuristicRegressor{}
	}
	if historyLimit <= 0 {
		historyLimit = 1000
	}
	return &Handlers{
		sim:          sim,
		classifier:   clf,
		regressor:    reg,
		metrics:      metrics,
		historyLimit: historyLimit,
	}
}

func (h *Handlers) HandleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, RootResponse{Message: "TerraGuard Backend Running"})
}

func (h *Handlers) HandleStart(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	path, err := h.sim.StartWith(q.Get("csv_path"), q.Get("mode"))
	if err != nil {
		h.writeControlError(w, "start", err, r)
		return
	}

	writeJSON(w, http.StatusOK, StartResponse{
		Status:     "started",
		LoadedPath: path,
		State:      h.sim.Status(),
	})
}

func (h *Handlers) HandleStop(w http.ResponseWriter, r *http.Request) {
	h.sim.Stop()
	writeJSON(w, http.StatusOK, ControlResponse{Status: "stopped", State: h.sim.Status()})
}

func (h *Handlers) HandleReset(w http.ResponseWriter, r *http.Request) {
	if err := h.sim.Reset(r.Context()); err != nil {
		h.writeControlError(w, "reset", err, r)
		return
	}
	writeJSON(w, http.StatusOK, ControlResponse{Status: "reset", State: h.sim.Status()})
}

func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.sim.Status())
}

func (h *Handlers) HandleHistory(w http.ResponseWriter, r *http.Request) {
	limit := h.historyLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, fmt.Sprintf("limit must be a non-negative integer, got %q", raw), "INVALID_ARGUMENT", http.StatusBadRequest, r)
			return
		}
		limit = n
	}

	recs, err := h.sim.History(r.Context(), limit)
	if err != nil {
		h.writeControlError(w, "history", err, r)
		return
	}
	if recs == nil {
		recs = []storage.Record{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func (h *Handlers) HandleSetSpeed(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("speed")
	speed, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		writeError(w, fmt.Sprintf("speed must be a number of seconds, got %q", raw), "INVALID_ARGUMENT", http.StatusBadRequest, r)
		return
	}
	if err := h.sim.SetSpeed(speed); err != nil {
		h.writeControlError(w, "set-speed", err, r)
		return
	}
	writeJSON(w, http.StatusOK, SpeedResponse{Status: "updated", Speed: speed})
}

func (h *Handlers) HandleSetMode(w http.ResponseWriter, r *http.Request) {
	mode := r.URL.Query().Get("mode")
	if err := h.sim.SetMode(mode); err != nil {
		h.writeControlError(w, "set-mode", err, r)
		return
	}
	writeJSON(w, http.StatusOK, ModeResponse{Status: "updated", Mode: mode})
}

// HandlePredictClassification answers in the model server's format, so a
// TerraGuard backend can itself serve as a remote model endpoint.
func (h *Handlers) HandlePredictClassification(w http.ResponseWriter, r *http.Request) {
	var req PredictRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid JSON: "+err.Error(), "INVALID_REQUEST", http.StatusBadRequest, r)
		return
	}

	res, err := h.classifier.Classify(r.Context(), req.Features)
	if err != nil {
		h.predictionFailed(model.ModeClassification, err, r)
		writeJSON(w, http.StatusOK, ClassificationResponse{Status: "error", Message: err.Error()})
		return
	}

	class, conf := res.Class, res.Confidence
	resp := ClassificationResponse{
		Status:   "success",
		Class:    &class,
		RiskBand: alert.BandFromClass(class).String(),
	}
	if class >= 0 && class < len(model.ClassLabels) {
		resp.Prediction = model.ClassLabels[class]
	}
	if !math.IsNaN(conf) && !math.IsInf(conf, 0) {
		resp.Confidence = &conf
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handlers) HandlePredictRegression(w http.ResponseWriter, r *http.Request) {
	var req PredictRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid JSON: "+err.Error(), "INVALID_REQUEST", http.StatusBadRequest, r)
		return
	}

	res, err := h.regressor.Regress(r.Context(), [][]float64{req.Features})
	if err == nil && (math.IsNaN(res.RiskScore) || math.IsInf(res.RiskScore, 0)) {
		err = fmt.Errorf("risk score is not finite: %v", res.RiskScore)
	}
	if err != nil {
		h.predictionFailed(model.ModeRegression, err, r)
		writeJSON(w, http.StatusOK, RegressionResponse{Status: "error", Message: err.Error()})
		return
	}

	score := res.RiskScore
	base := make([]float64, 0, len(res.BasePredictions))
	for _, v := range res.BasePredictions {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			v = 0
		}
		base = append(base, v)
	}
	writeJSON(w, http.StatusOK, RegressionResponse{
		Status:          "success",
		RiskScore:       &score,
		RiskLevel:       alert.BandFromScore(score).String(),
		BasePredictions: base,
	})
}

func (h *Handlers) predictionFailed(mode model.Mode, err error, r *http.Request) {
	if h.metrics != nil {
		h.metrics.PredictionErrors.WithLabelValues(mode.String()).Inc()
	}
	log.Warn().
		Err(err).
		Str("mode", mode.String()).
		Str("request_id", RequestIDFromContext(r.Context())).
		Msg("direct prediction failed")
}

func (h *Handlers) writeControlError(w http.ResponseWriter, op string, err error, r *http.Request) {
	switch {
	case simulation.IsInvalidArgument(err):
		writeError(w, err.Error(), "INVALID_ARGUMENT", http.StatusBadRequest, r)
	case simulation.IsDatasetError(err):
		writeError(w, err.Error(), "DATASET_ERROR", http.StatusBadRequest, r)
	case errors.Is(err, simulation.ErrBusy):
		writeError(w, err.Error(), "BUSY", http.StatusConflict, r)
	default:
		log.Error().
			Err(err).
			Str("op", op).
			Str("request_id", RequestIDFromContext(r.Context())).
			Msg("control operation failed")
		writeError(w, op+" failed", "INTERNAL", http.StatusInternalServerError, r)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, msg, code string, status int, r *http.Request) {
	resp := ErrorResponse{
		Error:     msg,
		Code:      code,
		RequestID: RequestIDFromContext(r.Context()),
	}
	writeJSON(w, status, resp)
}
