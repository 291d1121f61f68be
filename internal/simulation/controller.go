// Package simulation replays a dataset row by row through the predictors,
// evaluates alerts on the score stream and persists every step.
package simulation

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/codes"

	"terraguard/internal/alert"
	"terraguard/internal/config"
	"terraguard/internal/dataset"
	"terraguard/internal/events"
	"terraguard/internal/model"
	"terraguard/internal/monitor"
	"terraguard/internal/storage"
)

// Dataset is the row source being replayed.
type Dataset interface {
	Len() int
	Row(index int) (dataset.Row, error)
}

// Loader is a Dataset that can switch to another file.
type Loader interface {
	Dataset
	Load(path string) error
}

// Store is the step log.
type Store interface {
	Insert(ctx context.Context, rec *storage.Record) error
	Fetch(ctx context.Context, limit int) ([]storage.Record, error)
	Clear(ctx context.Context) error
}

// Publisher receives live step and state events.
type Publisher interface {
	Publish(kind string, data any)
}

// Options wires a Controller. Dataset, Store and Alerts are required; nil
// predictors fall back to the heuristic ones.
type Options struct {
	Dataset    Loader
	Store      Store
	Alerts     *alert.Engine
	Classifier model.Classifier
	Regressor  model.Regressor
	Config     config.SimulationConfig
	Defaults   config.DatasetConfig
	Metrics    *monitor.Metrics
	Tracer     *monitor.Tracer
	Events     Publisher
}

// Status is the run state plus the active dataset length.
type Status struct {
	RunState
	DatasetLength int `json:"dataset_length"`
}

// StepEvent is published after every persisted step.
type StepEvent struct {
	Index  int            `json:"index"`
	Record storage.Record `json:"record"`
	Alert  alert.Result   `json:"alert"`
}

// Controller runs at most one playback loop at a time.
type Controller struct {
	state      *StateManager
	data       Loader
	store      Store
	alerts     *alert.Engine
	classifier model.Classifier
	regressor  model.Regressor
	cfg        config.SimulationConfig
	defaults   config.DatasetConfig
	metrics    *monitor.Metrics
	tracer     *monitor.Tracer
	events     Publisher

	ctl    sync.Mutex // guards the loop lifecycle; distinct from the state lock
	cancel context.CancelFunc
	done   chan struct{}

	// previous step as seen by the alert rules; written by the loop and
	// cleared by Reset
	prev atomic.Pointer[alert.StepContext]
}

var errCancelled = errors.New("step cancelled")

func NewController(opts Options) *Controller {
	cfg := opts.Config
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = 2 * time.Second
	}
	if cfg.FeatureCap <= 0 {
		cfg.FeatureCap = 33
	}
	if cfg.RegressionWindow <= 0 {
		cfg.RegressionWindow = 5
	}
	if cfg.DisplacementColumn == "" {
		cfg.DisplacementColumn = "Displacement"
	}

	mode, err := model.ParseMode(cfg.DefaultMode)
	if err != nil {
		mode = model.ModeClassification
	}

	c := &Controller{
		state:      NewStateManager(mode, math.Max(0, cfg.DefaultSpeed)),
		data:       opts.Dataset,
		store:      opts.Store,
		alerts:     opts.Alerts,
		classifier: opts.Classifier,
		regressor:  opts.Regressor,
		cfg:        cfg,
		defaults:   opts.Defaults,
		metrics:    opts.Metrics,
		tracer:     opts.Tracer,
		events:     opts.Events,
	}
	if c.classifier == nil {
		c.classifier = model.NewHeuristicClassifier(nil)
	}
	if c.regressor == nil {
		c.regressor = model.HeuristicRegressor{}
	}
	if c.tracer == nil {
		c.tracer = monitor.NewTracer()
	}
	return c
}

// Start launches the playback loop. It is a no-op while a run is active.
func (c *Controller) Start() error {
	c.ctl.Lock()
	defer c.ctl.Unlock()

	if c.state.Get().Running {
		return nil
	}

	// a loop that ended on its own, or outlived a Stop, may still be exiting
	if c.done != nil {
		select {
		case <-c.done:
		case <-time.After(c.cfg.StopTimeout):
			return ErrBusy
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.cancel, c.done = cancel, done

	c.state.Update(func(s *RunState) { s.Running = true })
	st := c.state.Get()

	runID := uuid.New().String()
	logger := log.With().
		Str("run_id", runID).
		Str("mode", st.Mode.String()).
		Logger()
	logger.Info().
		Int("index", st.CurrentIndex).
		Int("dataset_length", c.data.Len()).
		Float64("speed", st.Speed).
		Msg("simulation started")

	c.observeState()
	go c.run(ctx, done, logger)
	return nil
}

// StartWith loads path (or the default dataset for the mode when path is
// empty), applies mode when given, and starts playback.
func (c *Controller) StartWith(path, mode string) (string, error) {
	m := c.state.Get().Mode
	if mode != "" {
		parsed, err := model.ParseMode(mode)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidArgument, err)
		}
		m = parsed
	}

	if path == "" {
		path = c.defaultPath(m)
	}
	if path == "" {
		return "", fmt.Errorf("%w: no dataset path given and no default for %s", ErrDataset, m)
	}
	_, span := c.tracer.StartSpan(context.Background(), "load", monitor.AttrDatasetPath.String(path))
	err := c.data.Load(path)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
	if err != nil {
		return path, fmt.Errorf("%w: %v", ErrDataset, err)
	}
	if c.data.Len() == 0 {
		return path, fmt.Errorf("%w: dataset not loaded or empty: %s", ErrDataset, path)
	}
	if c.metrics != nil {
		c.metrics.DatasetRows.Set(float64(c.data.Len()))
	}

	c.state.Update(func(s *RunState) { s.Mode = m })
	return path, c.Start()
}

func (c *Controller) defaultPath(m model.Mode) string {
	if m == model.ModeRegression {
		return c.defaults.RegressionPath
	}
	return c.defaults.ClassificationPath
}

// Stop halts playback and waits, bounded by the stop timeout, for the loop
// to exit.
func (c *Controller) Stop() {
	c.ctl.Lock()
	defer c.ctl.Unlock()
	c.stopLocked()
}

// stopLocked requires c.ctl.
func (c *Controller) stopLocked() {
	c.state.Update(func(s *RunState) { s.Running = false })
	if c.cancel != nil {
		c.cancel()
	}

	if c.done != nil {
		select {
		case <-c.done:
			c.done, c.cancel = nil, nil
		case <-time.After(c.cfg.StopTimeout):
			log.Warn().
				Dur("timeout", c.cfg.StopTimeout).
				Msg("simulation loop did not exit in time")
		}
	}
	c.observeState()
}

// Reset stops playback, rewinds the cursor, clears the step log and
// forgets the previous step context. No Start can interleave with it.
func (c *Controller) Reset(ctx context.Context) error {
	c.ctl.Lock()
	defer c.ctl.Unlock()

	c.stopLocked()
	c.state.ResetIndex()
	c.prev.Store(nil)

	// the run is already rewound; a departed caller must not leave the log behind
	if err := c.store.Clear(context.WithoutCancel(ctx)); err != nil {
		return fmt.Errorf("%w: %v", ErrStore, err)
	}

	log.Info().Msg("simulation reset")
	c.observeState()
	return nil
}

// SetSpeed sets the delay between steps in seconds.
func (c *Controller) SetSpeed(seconds float64) error {
	if math.IsNaN(seconds) || math.IsInf(seconds, 0) || seconds < 0 {
		return fmt.Errorf("%w: speed must be a non-negative number of seconds, got %v", ErrInvalidArgument, seconds)
	}
	c.state.Update(func(s *RunState) { s.Speed = seconds })
	return nil
}

// SetMode switches the predictor used from the next step on.
func (c *Controller) SetMode(mode string) error {
	m, err := model.ParseMode(mode)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	c.state.Update(func(s *RunState) { s.Mode = m })
	return nil
}

func (c *Controller) Status() Status {
	return Status{RunState: c.state.Get(), DatasetLength: c.data.Len()}
}

// History returns up to limit persisted steps, oldest first.
func (c *Controller) History(ctx context.Context, limit int) ([]storage.Record, error) {
	if limit < 0 {
		return nil, fmt.Errorf("%w: limit must not be negative", ErrInvalidArgument)
	}
	recs, err := c.store.Fetch(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStore, err)
	}
	return recs, nil
}

func (c *Controller) run(ctx context.Context, done chan struct{}, logger zerolog.Logger) {
	defer close(done)

	outcome := "stopped"
	defer func() {
		if c.metrics != nil {
			c.metrics.RecordRun(outcome)
		}
		c.observeState()
		logger.Info().
			Str("outcome", outcome).
			Int("index", c.state.Get().CurrentIndex).
			Msg("simulation loop exited")
	}()

	for {
		if ctx.Err() != nil {
			return
		}
		s := c.state.Get()
		if !s.Running {
			return
		}
		if s.CurrentIndex >= c.data.Len() {
			c.state.Update(func(st *RunState) { st.Running = false })
			outcome = "completed"
			return
		}

		if err := c.step(ctx, s); err != nil {
			if errors.Is(err, errCancelled) {
				return
			}
			c.state.Update(func(st *RunState) { st.Running = false })
			outcome = "failed"
			logger.Error().Err(err).Int("index", s.CurrentIndex).Msg("simulation step failed")
			return
		}

		delay := time.Duration(math.Max(0, s.Speed) * float64(time.Second))
		if delay <= 0 {
			continue
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// step scores, evaluates and persists the row at s.CurrentIndex.
func (c *Controller) step(ctx context.Context, s RunState) error {
	idx, mode := s.CurrentIndex, s.Mode
	started := time.Now()

	ctx, span := c.tracer.StartSpan(ctx, "step",
		monitor.AttrIndex.Int(idx),
		monitor.AttrMode.String(mode.String()),
	)
	defer span.End()

	row, err := c.data.Row(idx)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return &StepError{Index: idx, Op: "read_row", Err: fmt.Errorf("%w: %v", ErrDataset, err)}
	}

	ts := time.Now().UTC()
	out, risk := c.predict(ctx, idx, mode, row)
	if ctx.Err() != nil {
		return errCancelled
	}

	res := c.alerts.Evaluate(ts, mode, out, c.prev.Load())

	hazard := risk
	if res.HazardLevel != nil {
		hazard = *res.HazardLevel
	}
	rec := &storage.Record{
		Timestamp:    ts,
		Mode:         mode,
		RawRow:       row,
		ModelOutput:  out,
		HazardLevel:  hazard,
		AlertMessage: res.AlertMessage,
	}
	// a Stop arriving mid-step must not lose a scored row
	if err := c.store.Insert(context.WithoutCancel(ctx), rec); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return &StepError{Index: idx, Op: "persist", Err: fmt.Errorf("%w: %v", ErrStore, err)}
	}

	next := alert.NewStepContext(out, res)
	c.prev.Store(next)
	c.state.Update(func(st *RunState) {
		st.CurrentIndex = idx + 1
		st.LastPrediction = next
	})

	span.SetAttributes(
		monitor.AttrHazardLevel.Int(hazard),
		monitor.AttrAlert.Bool(res.AlertFlag),
	)
	if out.Failed() {
		log.Debug().Int("index", idx).Str("error", out.Error).Msg("prediction failed")
	}
	if res.AlertFlag {
		log.Info().
			Int("index", idx).
			Int("hazard_level", hazard).
			Str("band", res.Band.String()).
			Str("alert", res.AlertMessage).
			Msg("hazard alert")
	}

	if c.metrics != nil {
		c.metrics.RecordStep(mode.String(), time.Since(started).Seconds(), out.Failed())
		for _, r := range res.Rules {
			c.metrics.RecordAlert(string(r))
		}
		c.metrics.SetRunning(c.state.Get().Running, idx+1)
	}
	if c.events != nil {
		c.events.Publish(events.KindStep, StepEvent{Index: idx, Record: *rec, Alert: res})
	}
	return nil
}

// predict runs the mode's predictor. Failures, panics included, come back
// as an error output. risk is the model's own hazard reading, used when the
// alert result carries none.
func (c *Controller) predict(ctx context.Context, idx int, mode model.Mode, row dataset.Row) (out model.Output, risk int) {
	defer func() {
		if r := recover(); r != nil {
			out = model.Failed(fmt.Errorf("%w: panic: %v", ErrPrediction, r))
		}
	}()
	fail := func(err error) model.Output {
		return model.Failed(fmt.Errorf("%w: %v", ErrPrediction, err))
	}

	ctx, span := c.tracer.StartSpan(ctx, "predict", monitor.AttrMode.String(mode.String()))
	defer span.End()

	switch mode {
	case model.ModeRegression:
		window, err := regressionWindow(c.data, idx, c.cfg.RegressionWindow)
		if err != nil {
			return fail(err), 0
		}
		reg, err := c.regressor.Regress(ctx, window)
		if err != nil {
			return fail(err), 0
		}
		out = reg.Output()
		if out.HazardLevel != nil {
			risk = *out.HazardLevel
		}
		return out, risk

	default:
		features, err := classificationFeatures(row, c.classifier, c.cfg.FeatureCap)
		if err != nil {
			return fail(err), 0
		}
		cls, err := c.classifier.Classify(ctx, features)
		if err != nil {
			return fail(err), 0
		}
		disp, err := displacement(row, c.cfg.DisplacementColumn)
		if err != nil {
			return fail(err), cls.Class
		}
		return cls.Output(disp), cls.Class
	}
}

func (c *Controller) observeState() {
	st := c.Status()
	if c.metrics != nil {
		c.metrics.SetRunning(st.Running, st.CurrentIndex)
		c.metrics.DatasetRows.Set(float64(st.DatasetLength))
	}
	if c.events != nil {
		c.events.Publish(events.KindState, st)
	}
}
