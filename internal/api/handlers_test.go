package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"terraguard/internal/alert"
	"terraguard/internal/config"
	"terraguard/internal/dataset"
	"terraguard/internal/events"
	"terraguard/internal/model"
	"terraguard/internal/monitor"
	"terraguard/internal/simulation"
	"terraguard/internal/storage"
)

type testEnv struct {
	server *Server
	sim    *simulation.Controller
	store  *storage.Memory
	hub    *events.Hub
	cfg    *config.Config
	dir    string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()

	cfg := config.DefaultConfig()
	cfg.Simulation.DefaultSpeed = 0
	cfg.Security.RateLimitRPS = 0
	cfg.Dataset = config.DatasetConfig{
		ClassificationPath: writeDataset(t, dir, "classification.csv", 5),
		RegressionPath:     writeDataset(t, dir, "regression.csv", 7),
	}

	ctx, cancel := context.WithCancel(context.Background())
	hub := events.NewHub()
	go hub.Run(ctx)

	metrics := monitor.NewMetrics()
	store := storage.NewMemory()
	sim := simulation.NewController(simulation.Options{
		Dataset:  dataset.NewLoader(),
		Store:    store,
		Alerts:   alert.NewEngine(cfg.Alerts),
		Config:   cfg.Simulation,
		Defaults: cfg.Dataset,
		Metrics:  metrics,
		Events:   hub,
	})
	t.Cleanup(func() {
		sim.Stop()
		cancel()
	})

	srv := NewServer(cfg, Deps{
		Simulation: sim,
		Store:      store,
		Hub:        hub,
		Metrics:    metrics,
	})
	return &testEnv{server: srv, sim: sim, store: store, hub: hub, cfg: cfg, dir: dir}
}

func writeDataset(t *testing.T, dir, name string, rows int) string {
	t.Helper()
	var b strings.Builder
	b.WriteString("Rainfall,Moisture,Displacement\n")
	for i := range rows {
		fmt.Fprintf(&b, "%d,1,0.%d\n", i, i)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(b.String()), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func (e *testEnv) do(t *testing.T, method, target string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, target, bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decoding response %q: %v", rec.Body.String(), err)
	}
	return v
}

func (e *testEnv) waitIdle(t *testing.T) simulation.Status {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if st := e.sim.Status(); !st.Running {
			return st
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("simulation did not finish in time")
	return simulation.Status{}
}

func TestHandleRoot(t *testing.T) {
	e := newTestEnv(t)
	rec := e.do(t, http.MethodGet, "/", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d, want 200", rec.Code)
	}
	if got := decode[RootResponse](t, rec).Message; got != "TerraGuard Backend Running" {
		t.Errorf("message = %q", got)
	}

	if rec := e.do(t, http.MethodGet, "/nope", nil); rec.Code != http.StatusNotFound {
		t.Errorf("unknown path: got status %d, want 404", rec.Code)
	}
}

func TestHandleStatus_Initial(t *testing.T) {
	e := newTestEnv(t)
	rec := e.do(t, http.MethodGet, "/simulation/status", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d, want 200", rec.Code)
	}

	var st map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&st); err != nil {
		t.Fatal(err)
	}
	if st["running"] != false || st["current_index"] != float64(0) || st["mode"] != "classification" {
		t.Errorf("unexpected status %v", st)
	}
	if st["last_prediction"] != nil {
		t.Errorf("last_prediction = %v, want null", st["last_prediction"])
	}
}

func TestHandleStart_RunsToCompletion(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(t, http.MethodPost, "/simulation/start", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d, want 200: %s", rec.Code, rec.Body)
	}
	resp := decode[StartResponse](t, rec)
	if resp.Status != "started" || resp.LoadedPath != e.cfg.Dataset.ClassificationPath {
		t.Errorf("unexpected start response %+v", resp)
	}

	st := e.waitIdle(t)
	if st.CurrentIndex != 5 || st.DatasetLength != 5 {
		t.Errorf("index=%d length=%d, want 5/5", st.CurrentIndex, st.DatasetLength)
	}

	rec = e.do(t, http.MethodGet, "/simulation/history", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("history: got status %d", rec.Code)
	}
	recs := decode[[]storage.Record](t, rec)
	if len(recs) != 5 {
		t.Fatalf("got %d records, want 5", len(recs))
	}
	for i, r := range recs {
		if v, _ := r.RawRow.Float("Rainfall"); v != float64(i) {
			t.Errorf("record %d Rainfall = %v, want %d", i, v, i)
		}
	}

	rec = e.do(t, http.MethodGet, "/simulation/history?limit=2", nil)
	if got := decode[[]storage.Record](t, rec); len(got) != 2 || got[0].ID != recs[0].ID {
		t.Errorf("limited history = %d records, want the first 2", len(got))
	}
}

func TestHandleStart_ExplicitPathAndMode(t *testing.T) {
	e := newTestEnv(t)

	target := "/simulation/start?mode=regression&csv_path=" + e.cfg.Dataset.RegressionPath
	rec := e.do(t, http.MethodPost, target, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d, want 200: %s", rec.Code, rec.Body)
	}
	st := e.waitIdle(t)
	if st.Mode != model.ModeRegression || st.CurrentIndex != 7 {
		t.Errorf("mode=%s index=%d, want regression/7", st.Mode, st.CurrentIndex)
	}
}

func TestHandleStart_Errors(t *testing.T) {
	tests := []struct {
		name   string
		target string
		code   string
	}{
		{"missing file", "/simulation/start?csv_path=/does/not/exist.csv", "DATASET_ERROR"},
		{"bad mode", "/simulation/start?mode=forecast", "INVALID_ARGUMENT"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEnv(t)
			rec := e.do(t, http.MethodPost, tt.target, nil)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("got status %d, want 400", rec.Code)
			}
			if resp := decode[ErrorResponse](t, rec); resp.Code != tt.code {
				t.Errorf("code = %q, want %q", resp.Code, tt.code)
			}
			if e.sim.Status().Running {
				t.Error("simulation should not be running")
			}
		})
	}
}

func TestHandleStart_EmptyDataset(t *testing.T) {
	e := newTestEnv(t)
	path := writeDataset(t, e.dir, "empty.csv", 0)

	rec := e.do(t, http.MethodPost, "/simulation/start?csv_path="+path, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("got status %d, want 400", rec.Code)
	}
}

func TestHandleHistory_InvalidLimit(t *testing.T) {
	e := newTestEnv(t)
	for _, limit := range []string{"abc", "-1", "1.5"} {
		rec := e.do(t, http.MethodGet, "/simulation/history?limit="+limit, nil)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("limit=%s: got status %d, want 400", limit, rec.Code)
		}
	}

	rec := e.do(t, http.MethodGet, "/simulation/history?limit=0", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("limit=0: got status %d", rec.Code)
	}
	if got := strings.TrimSpace(rec.Body.String()); got != "[]" {
		t.Errorf("limit=0 body = %s, want []", got)
	}
}

func TestHandleReset(t *testing.T) {
	e := newTestEnv(t)
	e.do(t, http.MethodPost, "/simulation/start", nil)
	e.waitIdle(t)

	rec := e.do(t, http.MethodPost, "/simulation/reset", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d, want 200", rec.Code)
	}
	resp := decode[ControlResponse](t, rec)
	if resp.State.CurrentIndex != 0 || resp.State.LastPrediction != nil {
		t.Errorf("state after reset = %+v", resp.State)
	}

	rec = e.do(t, http.MethodGet, "/simulation/history", nil)
	if got := decode[[]storage.Record](t, rec); len(got) != 0 {
		t.Errorf("history after reset has %d records", len(got))
	}
}

func TestHandleStop(t *testing.T) {
	e := newTestEnv(t)
	e.sim.SetSpeed(10)
	e.do(t, http.MethodPost, "/simulation/start", nil)

	rec := e.do(t, http.MethodPost, "/simulation/stop", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d, want 200", rec.Code)
	}
	if resp := decode[ControlResponse](t, rec); resp.Status != "stopped" || resp.State.Running {
		t.Errorf("unexpected stop response %+v", resp)
	}
}

func TestHandleSetSpeed(t *testing.T) {
	tests := []struct {
		speed string
		want  int
	}{
		{"0.5", http.StatusOK},
		{"0", http.StatusOK},
		{"-1", http.StatusBadRequest},
		{"fast", http.StatusBadRequest},
		{"", http.StatusBadRequest},
		{"NaN", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.speed, func(t *testing.T) {
			e := newTestEnv(t)
			rec := e.do(t, http.MethodPost, "/simulation/set-speed?speed="+tt.speed, nil)
			if rec.Code != tt.want {
				t.Errorf("got status %d, want %d", rec.Code, tt.want)
			}
		})
	}

	e := newTestEnv(t)
	e.do(t, http.MethodPost, "/simulation/set-speed?speed=0.25", nil)
	if got := e.sim.Status().Speed; got != 0.25 {
		t.Errorf("speed = %v, want 0.25", got)
	}
}

func TestHandleSetMode(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(t, http.MethodPost, "/simulation/set-mode?mode=regression", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d, want 200", rec.Code)
	}
	if got := e.sim.Status().Mode; got != model.ModeRegression {
		t.Errorf("mode = %s, want regression", got)
	}

	rec = e.do(t, http.MethodPost, "/simulation/set-mode?mode=forecast", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("invalid mode: got status %d, want 400", rec.Code)
	}
	if got := e.sim.Status().Mode; got != model.ModeRegression {
		t.Errorf("invalid mode changed state to %s", got)
	}
}

func TestHandleMethodNotAllowed(t *testing.T) {
	e := newTestEnv(t)
	if rec := e.do(t, http.MethodGet, "/simulation/start", nil); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("got status %d, want 405", rec.Code)
	}
}

func TestHandlePredictClassification(t *testing.T) {
	e := newTestEnv(t)
	body, _ := json.Marshal(PredictRequest{Features: []float64{1, 2, 4}})

	rec := e.do(t, http.MethodPost, "/predict/classification", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d, want 200", rec.Code)
	}
	resp := decode[ClassificationResponse](t, rec)
	// 7 mod 3 = 1
	if resp.Status != "success" || resp.Prediction != "Moderate" || resp.Class == nil || *resp.Class != 1 {
		t.Errorf("unexpected response %+v", resp)
	}
	if resp.Confidence == nil || *resp.Confidence != 0.5 {
		t.Errorf("confidence = %v, want 0.5", resp.Confidence)
	}
	if resp.RiskBand != "Moderate" {
		t.Errorf("risk_band = %q", resp.RiskBand)
	}
}

func TestHandlePredictRegression(t *testing.T) {
	e := newTestEnv(t)
	body, _ := json.Marshal(PredictRequest{Features: []float64{10, 20, 30}})

	rec := e.do(t, http.MethodPost, "/predict/regression", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d, want 200", rec.Code)
	}
	resp := decode[RegressionResponse](t, rec)
	if resp.Status != "success" || resp.RiskScore == nil || *resp.RiskScore != 20 {
		t.Fatalf("unexpected response %+v", resp)
	}
	if resp.RiskLevel != "High" {
		t.Errorf("risk_level = %q, want High", resp.RiskLevel)
	}
}

func TestHandlePredict_InvalidJSON(t *testing.T) {
	e := newTestEnv(t)
	for _, path := range []string{"/predict/classification", "/predict/regression"} {
		rec := e.do(t, http.MethodPost, path, []byte(`{"features": "nope"`))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: got status %d, want 400", path, rec.Code)
		}
	}
}

type failingClassifier struct{}

func (failingClassifier) Classify(context.Context, []float64) (model.Classification, error) {
	return model.Classification{}, errors.New("model not loaded")
}

func TestHandlePredict_ModelError(t *testing.T) {
	h := NewHandlers(nil, failingClassifier{}, nil, monitor.NewMetrics(), 0)
	body, _ := json.Marshal(PredictRequest{Features: []float64{1}})
	req := httptest.NewRequest(http.MethodPost, "/predict/classification", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.HandlePredictClassification(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d, want 200", rec.Code)
	}
	resp := decode[ClassificationResponse](t, rec)
	if resp.Status != "error" || resp.Message != "model not loaded" {
		t.Errorf("unexpected response %+v", resp)
	}
}

// The direct prediction endpoints speak the model server protocol, so the
// remote client can use a running backend as its model endpoint.
func TestPredictEndpoints_ServeRemoteClient(t *testing.T) {
	e := newTestEnv(t)
	ts := httptest.NewServer(e.server.Handler())
	defer ts.Close()

	client := model.NewClient(ts.URL, 2*time.Second, nil)
	ctx := context.Background()

	cls, err := client.Classify(ctx, []float64{2, 3})
	if err != nil {
		t.Fatal(err)
	}
	if cls.Class != 2 || cls.Confidence != 0.5 {
		t.Errorf("Classify = %+v, want class 2", cls)
	}

	reg, err := client.Regress(ctx, [][]float64{{1, 2}, {3, 6}})
	if err != nil {
		t.Fatal(err)
	}
	if reg.RiskScore != 3 {
		t.Errorf("RiskScore = %v, want 3", reg.RiskScore)
	}

	if err := client.Ping(ctx); err != nil {
		t.Errorf("Ping: %v", err)
	}
}

// healthReply is HealthResponse as a client sees it.
type healthReply struct {
	Status   string `json:"status"`
	Database bool   `json:"database"`
	Running  bool   `json:"running"`
	Uptime   string `json:"uptime"`
}

type failingPinger struct{}

func (failingPinger) Ping(context.Context) error { return errors.New("database is locked") }

func TestHealth(t *testing.T) {
	e := newTestEnv(t)
	rec := e.do(t, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d, want 200", rec.Code)
	}
	resp := decode[healthReply](t, rec)
	if resp.Status != "ok" || !resp.Database || resp.Running {
		t.Errorf("unexpected health %+v", resp)
	}
	if _, err := time.ParseDuration(resp.Uptime); err != nil {
		t.Errorf("uptime %q is not a duration string: %v", resp.Uptime, err)
	}

	srv := NewServer(e.cfg, Deps{Simulation: e.sim, Store: failingPinger{}})
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("got status %d, want 503", rec.Code)
	}
	if resp := decode[healthReply](t, rec); resp.Status != "degraded" || resp.Database {
		t.Errorf("unexpected degraded health %+v", resp)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	e := newTestEnv(t)
	e.do(t, http.MethodPost, "/simulation/start", nil)
	e.waitIdle(t)

	rec := e.do(t, http.MethodGet, "/metrics", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `terraguard_steps_total{mode="classification"} 5`) {
		t.Errorf("metrics output missing step counter:\n%s", rec.Body)
	}
}

// stubSimulation lets tests inject control errors.
type stubSimulation struct {
	startErr error
	resetErr error
}

func (s *stubSimulation) StartWith(path, _ string) (string, error) { return path, s.startErr }
func (s *stubSimulation) Stop()                                    {}
func (s *stubSimulation) Reset(context.Context) error              { return s.resetErr }
func (s *stubSimulation) SetSpeed(float64) error                   { return nil }
func (s *stubSimulation) SetMode(string) error                     { return nil }
func (s *stubSimulation) Status() simulation.Status                { return simulation.Status{} }
func (s *stubSimulation) History(context.Context, int) ([]storage.Record, error) {
	return nil, nil
}

func TestControlErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		sim        *stubSimulation
		target     string
		wantStatus int
		wantCode   string
	}{
		{"busy", &stubSimulation{startErr: simulation.ErrBusy}, "/simulation/start", http.StatusConflict, "BUSY"},
		{"dataset", &stubSimulation{startErr: fmt.Errorf("%w: bad sheet", simulation.ErrDataset)}, "/simulation/start", http.StatusBadRequest, "DATASET_ERROR"},
		{"store", &stubSimulation{resetErr: fmt.Errorf("%w: disk full", simulation.ErrStore)}, "/simulation/reset", http.StatusInternalServerError, "INTERNAL"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := NewServer(config.DefaultConfig(), Deps{Simulation: tt.sim})
			rec := httptest.NewRecorder()
			srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, tt.target, nil))

			if rec.Code != tt.wantStatus {
				t.Fatalf("got status %d, want %d", rec.Code, tt.wantStatus)
			}
			resp := decode[ErrorResponse](t, rec)
			if resp.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", resp.Code, tt.wantCode)
			}
			if resp.RequestID == "" {
				t.Error("error response has no request id")
			}
		})
	}
}

func TestHistory_NilRecordsEncodeAsEmptyList(t *testing.T) {
	srv := NewServer(config.DefaultConfig(), Deps{Simulation: &stubSimulation{}})
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/simulation/history", nil))

	if got := strings.TrimSpace(rec.Body.String()); got != "[]" {
		t.Errorf("body = %s, want []", got)
	}
}
