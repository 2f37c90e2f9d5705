package pipeline

import (
	"fmt"
	"math"
	"time"

	"github.com/banshee-data/blelocate/internal/ble"
	"github.com/banshee-data/blelocate/internal/modelstore"
	"github.com/banshee-data/blelocate/internal/transform"
	"github.com/banshee-data/blelocate/internal/window"
)

// Reducer selects the dimensionality reducer.
type Reducer string

const (
	ReducerLDA Reducer = "lda"
	ReducerPCA Reducer = "pca"
)

// Config is the full, explicit configuration of one pipeline run. The same
// value must be used for fit and apply; every field that shapes a feature
// vector is recorded in the model headers and checked on load.
type Config struct {
	// Version is the model store namespace.
	Version    string
	TimeWindow time.Duration
	Beacons    ble.BeaconSet

	Aggregation    window.Aggregation
	Mode           window.Mode
	Sentinel       float64
	Warmup         int
	IncludePartial bool
	SkipEmpty      bool

	// BoxCox enables Box-Cox normalisation ahead of the reducer.
	BoxCox       bool
	BoxCoxPolicy transform.DomainPolicy
	BoxCoxOffset float64

	Reducer    Reducer
	Components int
	Shrinkage  float64

	// MaxRecordsPerGroup caps the training windows taken from each
	// (tag, label) stream. Zero keeps every window.
	MaxRecordsPerGroup int
	SampleSeed         uint64

	// Labels optionally assigns a ground-truth label to every reading of a
	// tag, overriding the readings' own label column.
	Labels map[int]string
}

// Validate checks the configuration once, before any stage runs.
func (c Config) Validate() error {
	if c.Version == "" {
		return fmt.Errorf("model version is required")
	}
	if err := c.WindowOptions().Validate(); err != nil {
		return err
	}
	switch c.reducer() {
	case ReducerLDA, ReducerPCA:
	default:
		return fmt.Errorf("unknown reducer %q", c.Reducer)
	}
	if c.Components < 0 {
		return fmt.Errorf("components must be non-negative, got %d", c.Components)
	}
	if c.Shrinkage < 0 || c.Shrinkage > 1 || math.IsNaN(c.Shrinkage) {
		return fmt.Errorf("shrinkage must be in [0, 1], got %v", c.Shrinkage)
	}
	if c.BoxCox {
		switch c.policy() {
		case transform.PolicyReject:
		case transform.PolicyShift:
			if math.IsNaN(c.BoxCoxOffset) || math.IsInf(c.BoxCoxOffset, 0) {
				return fmt.Errorf("boxcox offset must be finite")
			}
		default:
			return fmt.Errorf("unknown boxcox policy %q", c.BoxCoxPolicy)
		}
	}
	if c.MaxRecordsPerGroup < 0 {
		return fmt.Errorf("max records per group must be non-negative, got %d", c.MaxRecordsPerGroup)
	}
	return nil
}

func (c Config) reducer() Reducer {
	if c.Reducer == "" {
		return ReducerLDA
	}
	return c.Reducer
}

func (c Config) policy() transform.DomainPolicy {
	if c.BoxCoxPolicy == "" {
		return transform.PolicyReject
	}
	return c.BoxCoxPolicy
}

func (c Config) aggregation() window.Aggregation {
	if c.Aggregation == "" {
		return window.AggregateMean
	}
	return c.Aggregation
}

func (c Config) mode() window.Mode {
	if c.Mode == "" {
		return window.ModeTumbling
	}
	return c.Mode
}

// WindowOptions returns the windower options implied by c.
func (c Config) WindowOptions() window.Options {
	return window.Options{
		Size:           c.TimeWindow,
		Beacons:        c.Beacons,
		Aggregation:    c.aggregation(),
		Mode:           c.mode(),
		Sentinel:       c.Sentinel,
		Warmup:         c.Warmup,
		IncludePartial: c.IncludePartial,
		SkipEmpty:      c.SkipEmpty,
	}
}

// Window applies the configured tag labels to readings and windows them
// with WindowOptions. Fit, apply and the window export all go through it.
func (c Config) Window(readings []ble.Reading) ([]ble.Window, error) {
	return window.Window(relabel(readings, c.Labels), c.WindowOptions())
}

// BoxCoxOptions returns the Box-Cox fit options implied by c.
func (c Config) BoxCoxOptions() transform.BoxCoxOptions {
	return transform.BoxCoxOptions{Policy: c.policy(), Offset: c.BoxCoxOffset}
}

// Method is the stored name of the reducer model, prefixed with the
// preprocessing chain: "lda", "pca", "boxcox-lda" or "boxcox-pca".
func (c Config) Method() string {
	if c.BoxCox {
		return string(transform.KindBoxCox) + "-" + string(c.reducer())
	}
	return string(c.reducer())
}

// BoxCoxKey addresses the Box-Cox model of c.
func (c Config) BoxCoxKey() modelstore.Key {
	return modelstore.Key{Version: c.Version, Method: string(transform.KindBoxCox), TimeWindow: c.TimeWindow}
}

// ReducerKey addresses the reducer model of c.
func (c Config) ReducerKey() modelstore.Key {
	return modelstore.Key{Version: c.Version, Method: c.Method(), TimeWindow: c.TimeWindow}
}

// annotate stamps the window and beacon configuration into h.
func (c Config) annotate(h *transform.Header) {
	h.TimeWindow = c.TimeWindow
	h.Beacons = c.Beacons.IDs()
	h.BeaconFingerprint = c.Beacons.Fingerprint()
	h.Aggregation = string(c.aggregation())
	h.Mode = string(c.mode())
	h.Sentinel = c.Sentinel
}

// checkHeader reports how h disagrees with c, wrapped in
// ble.ErrConfigMismatch.
func (c Config) checkHeader(h transform.Header) error {
	mismatch := func(field string, got, want any) error {
		return fmt.Errorf("%w: %s model was fitted with %s %v, config has %v",
			ble.ErrConfigMismatch, h.Method, field, got, want)
	}
	if h.TimeWindow != c.TimeWindow {
		return mismatch("time window", h.TimeWindow, c.TimeWindow)
	}
	if h.BeaconFingerprint != c.Beacons.Fingerprint() {
		return mismatch("beacon set", h.Beacons, c.Beacons.IDs())
	}
	if h.InputDim != c.Beacons.Len() && h.Kind == transform.KindBoxCox {
		return mismatch("input dimension", h.InputDim, c.Beacons.Len())
	}
	if h.Aggregation != string(c.aggregation()) {
		return mismatch("aggregation", h.Aggregation, c.aggregation())
	}
	if h.Mode != string(c.mode()) {
		return mismatch("window mode", h.Mode, c.mode())
	}
	if h.Sentinel != c.Sentinel {
		return mismatch("sentinel", h.Sentinel, c.Sentinel)
	}
	return nil
}
