// Package pipeline chains the windower, Box-Cox normalisation and the
// dimensionality reducer, and guarantees that apply reproduces exactly the
// transforms used at fit time.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/blelocate/internal/ble"
	"github.com/banshee-data/blelocate/internal/db"
	"github.com/banshee-data/blelocate/internal/modelstore"
	"github.com/banshee-data/blelocate/internal/monitoring"
	"github.com/banshee-data/blelocate/internal/timeutil"
	"github.com/banshee-data/blelocate/internal/transform"
	"github.com/banshee-data/blelocate/internal/window"
)

// RunRecorder stores the outcome of each fit attempt.
type RunRecorder interface {
	RecordFitRun(ctx context.Context, r db.FitRun) error
}

// Models is a matched pair of fitted transforms. BoxCox is nil when the
// configuration does not normalise.
type Models struct {
	BoxCox  *transform.Fitted
	Reducer *transform.Fitted
}

// FitResult is returned by a successful Fit.
type FitResult struct {
	Models Models
	// Windows are the labelled windows the models were trained on, before
	// subsampling.
	Windows []ble.Window
	// Reduced holds the projection of every window in Windows.
	Reduced []ble.LabeledVector
	// Sampled is the number of windows actually used for fitting.
	Sampled int
}

// Coordinator runs fit and apply against a model store.
type Coordinator struct {
	store *modelstore.Store
	runs  RunRecorder
	clock timeutil.Clock
}

// NewCoordinator returns a coordinator persisting to store. runs may be nil.
func NewCoordinator(store *modelstore.Store, runs RunRecorder) *Coordinator {
	return &Coordinator{store: store, runs: runs, clock: timeutil.RealClock{}}
}

// SetClock replaces the clock used to timestamp fit runs.
func (c *Coordinator) SetClock(clock timeutil.Clock) {
	c.clock = clock
}

// Fit windows readings, fits every stage and persists the models. Nothing is
// written unless every stage succeeds.
func (c *Coordinator) Fit(ctx context.Context, readings []ble.Reading, cfg Config) (*FitResult, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	started := c.clock.Now()
	res, err := fitModels(readings, cfg)
	if err == nil {
		err = ctx.Err()
	}
	if err == nil {
		err = c.save(cfg, res.Models)
	}
	c.record(ctx, cfg, res, err, started)
	if err != nil {
		return nil, err
	}
	monitoring.Logf("fit %s t=%s: %d windows (%d sampled) -> %d components, explained variance %v",
		cfg.Method(), cfg.TimeWindow, len(res.Windows), res.Sampled,
		res.Models.Reducer.OutputDim, res.Models.Reducer.Linear.ExplainedVarianceRatio)
	return res, nil
}

func fitModels(readings []ble.Reading, cfg Config) (*FitResult, error) {
	windows, err := cfg.Window(readings)
	if err != nil {
		return nil, err
	}
	if cfg.reducer() == ReducerLDA {
		windows = labelled(windows)
	}
	if len(windows) == 0 {
		return nil, fmt.Errorf("%w: no complete windows in %d readings", ble.ErrInsufficientData, len(readings))
	}

	train := sample(windows, cfg.MaxRecordsPerGroup, cfg.SampleSeed)
	vectors := window.Vectors(train)
	labels := make([]string, len(train))
	for i, w := range train {
		labels[i] = w.Stream.Label
	}

	var models Models
	if cfg.BoxCox {
		fitter := transform.NewBoxCoxFitter(cfg.BoxCoxOptions())
		if models.BoxCox, err = fitter.Fit(vectors); err != nil {
			return nil, fmt.Errorf("box-cox: %w", err)
		}
		if vectors, err = transform.ApplyBoxCox(models.BoxCox, vectors); err != nil {
			return nil, fmt.Errorf("box-cox: %w", err)
		}
		cfg.annotate(&models.BoxCox.Header)
	}

	switch cfg.reducer() {
	case ReducerLDA:
		models.Reducer, err = transform.FitLDA(vectors, labels, transform.LDAOptions{
			Components: cfg.Components,
			Shrinkage:  cfg.Shrinkage,
		})
	case ReducerPCA:
		models.Reducer, err = transform.FitPCA(vectors, cfg.Components)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", cfg.reducer(), err)
	}
	models.Reducer.Method = cfg.Method()
	cfg.annotate(&models.Reducer.Header)
	if models.BoxCox != nil {
		models.Reducer.Preprocess = string(transform.KindBoxCox)
		models.Reducer.PreprocessRunID = models.BoxCox.RunID
	}

	reduced, err := project(windows, models)
	if err != nil {
		return nil, err
	}
	return &FitResult{Models: models, Windows: windows, Reduced: reduced, Sampled: len(train)}, nil
}

func (c *Coordinator) save(cfg Config, m Models) error {
	if m.BoxCox != nil {
		if err := c.store.Save(cfg.BoxCoxKey(), m.BoxCox); err != nil {
			return err
		}
	}
	return c.store.Save(cfg.ReducerKey(), m.Reducer)
}

func (c *Coordinator) record(ctx context.Context, cfg Config, res *FitResult, fitErr error, started time.Time) {
	if c.runs == nil {
		return
	}
	run := db.FitRun{
		RunID:             uuid.New().String(),
		Version:           cfg.Version,
		Method:            cfg.Method(),
		TimeWindow:        cfg.TimeWindow,
		BeaconFingerprint: cfg.Beacons.Fingerprint(),
		InputDim:          cfg.Beacons.Len(),
		Status:            db.FitRunSucceeded,
		Started:           started,
		Finished:          c.clock.Now(),
	}
	if res != nil {
		run.RunID = res.Models.Reducer.RunID
		run.RecordCount = res.Models.Reducer.FitRecordCount
		run.OutputDim = res.Models.Reducer.OutputDim
		run.ExplainedVariance = res.Models.Reducer.Linear.ExplainedVarianceRatio
	}
	if fitErr != nil {
		run.Status = db.FitRunFailed
		run.Error = fitErr.Error()
	}
	// A cancelled fit is still worth recording.
	if err := c.runs.RecordFitRun(context.WithoutCancel(ctx), run); err != nil {
		monitoring.Logf("record fit run %s: %v", run.RunID, err)
	}
}

// LoadModels reads the models for cfg and checks them against it and each
// other.
func (c *Coordinator) LoadModels(cfg Config) (Models, error) {
	if err := cfg.Validate(); err != nil {
		return Models{}, err
	}
	var m Models
	var err error
	if cfg.BoxCox {
		if m.BoxCox, err = c.store.Load(cfg.BoxCoxKey()); err != nil {
			return Models{}, err
		}
	}
	if m.Reducer, err = c.store.Load(cfg.ReducerKey()); err != nil {
		return Models{}, err
	}
	if err := CheckModels(m, cfg); err != nil {
		return Models{}, err
	}
	return m, nil
}

// CheckModels verifies that m was fitted under cfg and that the reducer was
// trained on the output of exactly this Box-Cox instance.
func CheckModels(m Models, cfg Config) error {
	if m.Reducer == nil {
		return fmt.Errorf("%w: no reducer", ble.ErrMissingModel)
	}
	if err := cfg.checkHeader(m.Reducer.Header); err != nil {
		return err
	}
	want := cfg.Beacons.Len()
	if m.BoxCox != nil {
		if !cfg.BoxCox {
			return fmt.Errorf("%w: box-cox model supplied but normalisation is disabled", ble.ErrConfigMismatch)
		}
		if err := cfg.checkHeader(m.BoxCox.Header); err != nil {
			return err
		}
		if err := checkBoxCox(m.BoxCox, cfg); err != nil {
			return err
		}
		if m.Reducer.Preprocess != string(transform.KindBoxCox) || m.Reducer.PreprocessRunID != m.BoxCox.RunID {
			return fmt.Errorf("%w: reducer %s was trained on box-cox run %q, loaded %q",
				ble.ErrConfigMismatch, m.Reducer.RunID, m.Reducer.PreprocessRunID, m.BoxCox.RunID)
		}
		want = m.BoxCox.OutputDim
	} else {
		if cfg.BoxCox {
			return fmt.Errorf("%w: box-cox normalisation enabled but no box-cox model", ble.ErrMissingModel)
		}
		if m.Reducer.Preprocess != "" {
			return fmt.Errorf("%w: reducer expects %s preprocessing", ble.ErrConfigMismatch, m.Reducer.Preprocess)
		}
	}
	if m.Reducer.InputDim != want {
		return fmt.Errorf("%w: reducer input dimension %d, pipeline produces %d",
			ble.ErrConfigMismatch, m.Reducer.InputDim, want)
	}
	if cfg.Components > 0 && cfg.Components != m.Reducer.OutputDim {
		return fmt.Errorf("%w: reducer has %d components, config asks for %d",
			ble.ErrConfigMismatch, m.Reducer.OutputDim, cfg.Components)
	}
	if m.Reducer.Kind == transform.KindLDA && m.Reducer.Linear != nil && m.Reducer.Linear.Shrinkage != cfg.Shrinkage {
		return fmt.Errorf("%w: reducer was fitted with shrinkage %v, config has %v",
			ble.ErrConfigMismatch, m.Reducer.Linear.Shrinkage, cfg.Shrinkage)
	}
	return nil
}

// checkBoxCox compares the domain policy of a fitted Box-Cox model with cfg.
func checkBoxCox(f *transform.Fitted, cfg Config) error {
	p := f.BoxCox
	if p == nil {
		return fmt.Errorf("%w: box-cox model has no parameters", ble.ErrConfigMismatch)
	}
	want := cfg.BoxCoxOptions()
	var shift float64
	if want.Policy == transform.PolicyShift {
		shift = want.Offset
	}
	if p.Policy != want.Policy {
		return fmt.Errorf("%w: box-cox was fitted with policy %s, config has %s",
			ble.ErrConfigMismatch, p.Policy, want.Policy)
	}
	if p.Shift != shift {
		return fmt.Errorf("%w: box-cox was fitted with offset %v, config has %v",
			ble.ErrConfigMismatch, p.Shift, shift)
	}
	return nil
}

// Apply loads the models for cfg and projects readings with them.
func (c *Coordinator) Apply(readings []ble.Reading, cfg Config) ([]ble.LabeledVector, error) {
	m, err := c.LoadModels(cfg)
	if err != nil {
		return nil, err
	}
	return ApplyModels(readings, m, cfg)
}

// ApplyModels runs the windower and both transforms over readings with
// already loaded models.
func ApplyModels(readings []ble.Reading, m Models, cfg Config) ([]ble.LabeledVector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := CheckModels(m, cfg); err != nil {
		return nil, err
	}
	windows, err := cfg.Window(readings)
	if err != nil {
		return nil, err
	}
	return project(windows, m)
}

// ApplyWindow is ApplyModels over an explicit time range: exactly the
// windows ending at or before until, anchored at epoch.
func ApplyWindow(readings []ble.Reading, m Models, cfg Config, epoch, until time.Time) ([]ble.LabeledVector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := CheckModels(m, cfg); err != nil {
		return nil, err
	}
	opts := cfg.WindowOptions()
	opts.Epoch = epoch
	opts.Until = until
	windows, err := window.Window(relabel(readings, cfg.Labels), opts)
	if err != nil {
		return nil, err
	}
	return project(windows, m)
}

func project(windows []ble.Window, m Models) ([]ble.LabeledVector, error) {
	if len(windows) == 0 {
		return nil, nil
	}
	vectors := window.Vectors(windows)
	var err error
	if m.BoxCox != nil {
		if vectors, err = transform.ApplyBoxCox(m.BoxCox, vectors); err != nil {
			return nil, fmt.Errorf("box-cox: %w", err)
		}
	}
	if vectors, err = transform.Apply(m.Reducer, vectors); err != nil {
		return nil, fmt.Errorf("%s: %w", m.Reducer.Kind, err)
	}
	out := make([]ble.LabeledVector, len(windows))
	for i, w := range windows {
		out[i] = ble.LabeledVector{Stream: w.Stream, Start: w.Start, Vector: vectors[i]}
	}
	return out, nil
}

// relabel returns readings with labels taken from labels when it is set.
func relabel(readings []ble.Reading, labels map[int]string) []ble.Reading {
	if len(labels) == 0 {
		return readings
	}
	out := make([]ble.Reading, len(readings))
	for i, r := range readings {
		r.Label = labels[r.Tag]
		out[i] = r
	}
	return out
}

func labelled(windows []ble.Window) []ble.Window {
	out := windows[:0:0]
	for _, w := range windows {
		if w.Stream.Label != "" {
			out = append(out, w)
		}
	}
	if dropped := len(windows) - len(out); dropped > 0 {
		monitoring.Logf("fit: ignoring %d unlabelled windows", dropped)
	}
	return out
}
