// Package transform fits and applies the feature transforms of the
// localization pipeline: a per-feature Box-Cox power transform and linear
// reducers (LDA, PCA).
//
// Fitted transforms are immutable values. Apply functions are pure: the same
// transform and input always produce the same output, and no output vector
// ever contains NaN or Inf.
package transform

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/blelocate/internal/ble"
)

// Kind identifies the transform family of a Fitted value.
type Kind string

const (
	KindBoxCox Kind = "boxcox"
	KindLDA    Kind = "lda"
	KindPCA    Kind = "pca"
)

// SchemaVersion is bumped whenever the persisted parameter layout changes.
const SchemaVersion = 1

// Header is the metadata persisted alongside a fitted transform. The window
// and beacon fields are filled in by the pipeline; the transform package only
// knows about dimensions.
type Header struct {
	Kind          Kind      `json:"kind"`
	Method        string    `json:"method"`
	SchemaVersion int       `json:"schema_version"`
	RunID         string    `json:"run_id"`
	CreatedAt     time.Time `json:"created_at"`

	InputDim       int `json:"input_dimension"`
	OutputDim      int `json:"output_dimension"`
	FitRecordCount int `json:"fit_record_count"`

	TimeWindow        time.Duration `json:"time_window_ns"`
	Beacons           []string      `json:"beacons"`
	BeaconFingerprint string        `json:"beacon_fingerprint"`
	Aggregation       string        `json:"aggregation"`
	Mode              string        `json:"mode"`
	Sentinel          float64       `json:"sentinel"`
	// Preprocess names the transform applied before this one, if any, and
	// PreprocessRunID pins the exact fitted instance it was trained on.
	Preprocess      string `json:"preprocess,omitempty"`
	PreprocessRunID string `json:"preprocess_run_id,omitempty"`
}

// Fitted is an immutable fitted transform. Exactly one of the parameter
// fields is set, matching Header.Kind.
type Fitted struct {
	Header
	BoxCox *BoxCoxParams `json:"-"`
	Linear *LinearParams `json:"-"`
}

func newHeader(kind Kind, in, out, records int) Header {
	return Header{
		Kind:           kind,
		Method:         string(kind),
		SchemaVersion:  SchemaVersion,
		RunID:          uuid.New().String(),
		CreatedAt:      time.Now().UTC(),
		InputDim:       in,
		OutputDim:      out,
		FitRecordCount: records,
	}
}

// Validate checks that the parameters agree with the header.
func (f *Fitted) Validate() error {
	if f == nil {
		return fmt.Errorf("nil transform")
	}
	if f.SchemaVersion != SchemaVersion {
		return fmt.Errorf("%w: schema version %d, want %d", ble.ErrConfigMismatch, f.SchemaVersion, SchemaVersion)
	}
	if f.InputDim <= 0 || f.OutputDim <= 0 {
		return fmt.Errorf("invalid dimensions %d -> %d", f.InputDim, f.OutputDim)
	}
	switch f.Kind {
	case KindBoxCox:
		if f.BoxCox == nil {
			return fmt.Errorf("boxcox transform has no parameters")
		}
		return f.BoxCox.validate(f.InputDim)
	case KindLDA, KindPCA:
		if f.Linear == nil {
			return fmt.Errorf("%s transform has no parameters", f.Kind)
		}
		return f.Linear.validate(f.InputDim, f.OutputDim)
	default:
		return fmt.Errorf("unknown transform kind %q", f.Kind)
	}
}

// Apply dispatches on the transform kind.
func Apply(f *Fitted, features []ble.FeatureVector) ([]ble.FeatureVector, error) {
	if f == nil {
		return nil, fmt.Errorf("nil transform")
	}
	switch f.Kind {
	case KindBoxCox:
		return ApplyBoxCox(f, features)
	case KindLDA, KindPCA:
		return ApplyLinear(f, features)
	default:
		return nil, fmt.Errorf("unknown transform kind %q", f.Kind)
	}
}

// checkDims verifies every vector has length dim and finite components.
func checkDims(features []ble.FeatureVector, dim int) error {
	for i, v := range features {
		if len(v) != dim {
			return fmt.Errorf("%w: vector %d has length %d, want %d", ble.ErrDimensionMismatch, i, len(v), dim)
		}
	}
	return nil
}

func checkFinite(features []ble.FeatureVector) error {
	for i, v := range features {
		if err := v.CheckFinite(); err != nil {
			return fmt.Errorf("vector %d: %w", i, err)
		}
	}
	return nil
}

// uniformDim returns the shared vector length of features.
func uniformDim(features []ble.FeatureVector) (int, error) {
	if len(features) == 0 {
		return 0, fmt.Errorf("%w: no training vectors", ble.ErrInsufficientData)
	}
	d := len(features[0])
	if d == 0 {
		return 0, fmt.Errorf("%w: training vectors are empty", ble.ErrDimensionMismatch)
	}
	if err := checkDims(features, d); err != nil {
		return 0, err
	}
	return d, nil
}
