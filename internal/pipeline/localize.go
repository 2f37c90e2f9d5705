package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/banshee-data/blelocate/internal/ble"
	"github.com/banshee-data/blelocate/internal/db"
	"github.com/banshee-data/blelocate/internal/monitoring"
	"github.com/banshee-data/blelocate/internal/timeutil"
)

var localizeLogf = monitoring.Prefixed("localize")

// ReadingSource supplies readings for a time range.
type ReadingSource interface {
	Readings(ctx context.Context, f db.ReadingFilter) ([]ble.Reading, error)
}

// Localizer periodically projects the most recent window of stored readings.
// Models are reloaded every cycle so a refit is picked up without a restart.
type Localizer struct {
	coord    *Coordinator
	source   ReadingSource
	cfg      Config
	interval time.Duration
	clock    timeutil.Clock

	// OnResult, if set, receives the projections of every successful cycle.
	OnResult func(end time.Time, out []ble.LabeledVector)
}

// NewLocalizer returns a localizer that runs every interval.
func NewLocalizer(coord *Coordinator, source ReadingSource, cfg Config, interval time.Duration) *Localizer {
	return &Localizer{
		coord:    coord,
		source:   source,
		cfg:      cfg,
		interval: interval,
		clock:    timeutil.RealClock{},
	}
}

// SetClock replaces the clock driving the loop.
func (l *Localizer) SetClock(clock timeutil.Clock) {
	l.clock = clock
}

// Step projects the window (now-TimeWindow, now] for every tag with readings
// in it.
func (l *Localizer) Step(ctx context.Context) ([]ble.LabeledVector, error) {
	end := l.clock.Now()
	start := end.Add(-l.cfg.TimeWindow)

	models, err := l.coord.LoadModels(l.cfg)
	if err != nil {
		return nil, err
	}
	readings, err := l.source.Readings(ctx, db.ReadingFilter{
		From:    start,
		To:      end,
		Beacons: l.cfg.Beacons.IDs(),
	})
	if err != nil {
		return nil, fmt.Errorf("read window: %w", err)
	}
	return ApplyWindow(readings, models, l.cfg, start, end)
}

// Run ticks until ctx is cancelled. A missing model or a transient read
// failure is logged and retried on the next tick; a configuration or
// dimension mismatch stops the loop.
func (l *Localizer) Run(ctx context.Context) error {
	if l.interval <= 0 {
		return fmt.Errorf("localize interval must be positive, got %s", l.interval)
	}
	ticker := l.clock.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C():
			if err := l.tick(ctx); err != nil {
				return err
			}
		}
	}
}

func (l *Localizer) tick(ctx context.Context) error {
	began := time.Now()
	defer func() { monitoring.LocalizeDuration.Observe(time.Since(began).Seconds()) }()

	out, err := l.Step(ctx)
	switch {
	case err == nil:
	case ble.Retryable(err):
		monitoring.LocalizeTicks.WithLabelValues("missing_model").Inc()
		localizeLogf("model not ready, retrying: %v", err)
		return nil
	case errors.Is(err, ble.ErrConfigMismatch), errors.Is(err, ble.ErrDimensionMismatch):
		monitoring.LocalizeTicks.WithLabelValues("error").Inc()
		return err
	default:
		monitoring.LocalizeTicks.WithLabelValues("error").Inc()
		localizeLogf("cycle failed: %v", err)
		return nil
	}

	if len(out) == 0 {
		monitoring.LocalizeTicks.WithLabelValues("empty").Inc()
		monitoring.ActiveTags.Set(0)
		return nil
	}
	tags := make(map[int]struct{})
	for _, v := range out {
		tags[v.Stream.Tag] = struct{}{}
	}
	monitoring.LocalizeTicks.WithLabelValues("ok").Inc()
	monitoring.ReducedVectors.Add(float64(len(out)))
	monitoring.ActiveTags.Set(float64(len(tags)))
	monitoring.LastSuccess.Set(float64(l.clock.Now().Unix()))
	if l.OnResult != nil {
		l.OnResult(l.clock.Now(), out)
	}
	return nil
}
