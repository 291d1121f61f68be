package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics for the simulation service.
type Metrics struct {
	Registry *prometheus.Registry

	StepsTotal        *prometheus.CounterVec
	StepDuration      *prometheus.HistogramVec
	PredictionErrors  *prometheus.CounterVec
	AlertsTotal       *prometheus.CounterVec
	SimulationRunning prometheus.Gauge
	SimulationIndex   prometheus.Gauge
	DatasetRows       prometheus.Gauge
	RunsTotal         *prometheus.CounterVec
	RequestsInFlight  prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics using a dedicated registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,

		StepsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "terraguard",
				Name:      "steps_total",
				Help:      "Total simulation steps processed by mode.",
			},
			[]string{"mode"},
		),

		StepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "terraguard",
				Name:      "step_duration_seconds",
				Help:      "Time spent scoring, evaluating and persisting one step, excluding pacing.",
				Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
			},
			[]string{"mode"},
		),

		PredictionErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "terraguard",
				Name:      "prediction_errors_total",
				Help:      "Steps whose prediction failed and was recorded as an error.",
			},
			[]string{"mode"},
		),

		AlertsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "terraguard",
				Name:      "alerts_total",
				Help:      "Alert rules fired by rule name.",
			},
			[]string{"rule"},
		),

		SimulationRunning: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "terraguard",
				Name:      "simulation_running",
				Help:      "1 while a playback run is active.",
			},
		),

		SimulationIndex: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "terraguard",
				Name:      "simulation_index",
				Help:      "Current dataset cursor.",
			},
		),

		DatasetRows: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "terraguard",
				Name:      "dataset_rows",
				Help:      "Rows in the active dataset.",
			},
		),

		RunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "terraguard",
				Name:      "runs_total",
				Help:      "Playback runs by how they ended.",
			},
			[]string{"outcome"},
		),

		RequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "terraguard",
				Subsystem: "api",
				Name:      "requests_in_flight",
				Help:      "Number of HTTP requests currently being processed.",
			},
		),
	}

	reg.MustRegister(
		m.StepsTotal,
		m.StepDuration,
		m.PredictionErrors,
		m.AlertsTotal,
		m.SimulationRunning,
		m.SimulationIndex,
		m.DatasetRows,
		m.RunsTotal,
		m.RequestsInFlight,
	)

	return m
}

// RecordStep records metrics for a completed step.
func (m *Metrics) RecordStep(mode string, durationSec float64, failed bool) {
	m.StepsTotal.WithLabelValues(mode).Inc()
	m.StepDuration.WithLabelValues(mode).Observe(durationSec)
	if failed {
		m.PredictionErrors.WithLabelValues(mode).Inc()
	}
}

// RecordAlert counts a fired alert rule.
func (m *Metrics) RecordAlert(rule string) {
	m.AlertsTotal.WithLabelValues(rule).Inc()
}

// RecordRun counts a finished run: "completed", "stopped" or "failed".
func (m *Metrics) RecordRun(outcome string) {
	m.RunsTotal.WithLabelValues(outcome).Inc()
}

// SetRunning reflects the run flag and cursor.
func (m *Metrics) SetRunning(running bool, index int) {
	v := 0.0
	if running {
		v = 1
	}
	m.SimulationRunning.Set(v)
	m.SimulationIndex.Set(float64(index))
}
