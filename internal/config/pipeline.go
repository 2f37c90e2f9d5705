package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/banshee-data/blelocate/internal/ble"
	"github.com/banshee-data/blelocate/internal/pipeline"
	"github.com/banshee-data/blelocate/internal/transform"
	"github.com/banshee-data/blelocate/internal/window"
)

// Defaults applied by the Get* accessors.
const (
	DefaultDBPath           = "blelocate.db"
	DefaultModelRoot        = "models"
	DefaultModelVersion     = "v1"
	DefaultTimeWindow       = 300 * time.Second
	DefaultLocalizeInterval = 10 * time.Second
)

const maxConfigSize = 1 * 1024 * 1024 // 1MB

// PipelineConfig is the on-disk configuration of the pipeline. Every field is
// optional except beacons; the Get* methods supply defaults for omitted ones.
type PipelineConfig struct {
	DBPath       *string `json:"db_path,omitempty"`
	ModelRoot    *string `json:"model_root,omitempty"`
	ModelVersion *string `json:"model_version,omitempty"`

	// Window params
	TimeWindow     *string  `json:"time_window,omitempty"` // duration string like "300s"
	Beacons        []string `json:"beacons,omitempty"`
	Aggregation    *string  `json:"aggregation,omitempty"`
	Mode           *string  `json:"mode,omitempty"`
	Sentinel       *float64 `json:"sentinel,omitempty"`
	Warmup         *int     `json:"warmup,omitempty"`
	IncludePartial *bool    `json:"include_partial,omitempty"`
	SkipEmpty      *bool    `json:"skip_empty,omitempty"`

	// Box-Cox params
	BoxCox       *bool    `json:"boxcox,omitempty"`
	BoxCoxPolicy *string  `json:"boxcox_policy,omitempty"`
	BoxCoxOffset *float64 `json:"boxcox_offset,omitempty"`

	// Reducer params
	Reducer    *string  `json:"reducer,omitempty"`
	Components *int     `json:"components,omitempty"`
	Shrinkage  *float64 `json:"shrinkage,omitempty"`

	// Sampling params
	MaxRecordsPerGroup *int    `json:"max_records_per_group,omitempty"`
	SampleSeed         *uint64 `json:"sample_seed,omitempty"`

	// Labels maps tag ids (as strings, JSON keys) to room labels.
	Labels map[string]string `json:"labels,omitempty"`

	LocalizeInterval *string `json:"localize_interval,omitempty"` // duration string like "10s"
}

// LoadPipelineConfig loads a PipelineConfig from a JSON file.
// The file must have a .json extension and be under 1MB.
func LoadPipelineConfig(path string) (*PipelineConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxConfigSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxConfigSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &PipelineConfig{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks the values that can be checked without building a
// pipeline.Config.
func (c *PipelineConfig) Validate() error {
	if len(c.Beacons) == 0 {
		return fmt.Errorf("beacons must list at least one beacon id")
	}
	if _, err := ble.NewBeaconSet(c.Beacons); err != nil {
		return err
	}
	if c.TimeWindow != nil && *c.TimeWindow != "" {
		d, err := time.ParseDuration(*c.TimeWindow)
		if err != nil {
			return fmt.Errorf("invalid time_window '%s': %w", *c.TimeWindow, err)
		}
		if d <= 0 {
			return fmt.Errorf("time_window must be positive, got %s", d)
		}
	}
	if c.LocalizeInterval != nil && *c.LocalizeInterval != "" {
		d, err := time.ParseDuration(*c.LocalizeInterval)
		if err != nil {
			return fmt.Errorf("invalid localize_interval '%s': %w", *c.LocalizeInterval, err)
		}
		if d <= 0 {
			return fmt.Errorf("localize_interval must be positive, got %s", d)
		}
	}
	if c.Sentinel != nil && (math.IsNaN(*c.Sentinel) || math.IsInf(*c.Sentinel, 0)) {
		return fmt.Errorf("sentinel must be finite")
	}
	if c.Warmup != nil && *c.Warmup < 0 {
		return fmt.Errorf("warmup must be non-negative, got %d", *c.Warmup)
	}
	if c.Shrinkage != nil && (*c.Shrinkage < 0 || *c.Shrinkage > 1) {
		return fmt.Errorf("shrinkage must be between 0 and 1, got %f", *c.Shrinkage)
	}
	if c.Components != nil && *c.Components < 0 {
		return fmt.Errorf("components must be non-negative, got %d", *c.Components)
	}
	if c.MaxRecordsPerGroup != nil && *c.MaxRecordsPerGroup < 0 {
		return fmt.Errorf("max_records_per_group must be non-negative, got %d", *c.MaxRecordsPerGroup)
	}
	if _, err := c.GetLabels(); err != nil {
		return err
	}
	return nil
}

// GetDBPath returns the db_path value or the default.
func (c *PipelineConfig) GetDBPath() string {
	if c.DBPath == nil || *c.DBPath == "" {
		return DefaultDBPath
	}
	return *c.DBPath
}

// GetModelRoot returns the model_root value or the default.
func (c *PipelineConfig) GetModelRoot() string {
	if c.ModelRoot == nil || *c.ModelRoot == "" {
		return DefaultModelRoot
	}
	return *c.ModelRoot
}

// GetModelVersion returns the model_version value or the default.
func (c *PipelineConfig) GetModelVersion() string {
	if c.ModelVersion == nil || *c.ModelVersion == "" {
		return DefaultModelVersion
	}
	return *c.ModelVersion
}

// GetTimeWindow parses and returns the TimeWindow as a time.Duration.
func (c *PipelineConfig) GetTimeWindow() time.Duration {
	if c.TimeWindow == nil || *c.TimeWindow == "" {
		return DefaultTimeWindow
	}
	d, err := time.ParseDuration(*c.TimeWindow)
	if err != nil {
		return DefaultTimeWindow
	}
	return d
}

// GetLocalizeInterval parses and returns the LocalizeInterval as a
// time.Duration.
func (c *PipelineConfig) GetLocalizeInterval() time.Duration {
	if c.LocalizeInterval == nil || *c.LocalizeInterval == "" {
		return DefaultLocalizeInterval
	}
	d, err := time.ParseDuration(*c.LocalizeInterval)
	if err != nil {
		return DefaultLocalizeInterval
	}
	return d
}

// GetAggregation returns the aggregation value or the default.
func (c *PipelineConfig) GetAggregation() string {
	if c.Aggregation == nil || *c.Aggregation == "" {
		return string(window.AggregateMean)
	}
	return *c.Aggregation
}

// GetMode returns the mode value or the default.
func (c *PipelineConfig) GetMode() string {
	if c.Mode == nil || *c.Mode == "" {
		return string(window.ModeTumbling)
	}
	return *c.Mode
}

// GetSentinel returns the sentinel value or the default.
func (c *PipelineConfig) GetSentinel() float64 {
	if c.Sentinel == nil {
		return window.DefaultSentinel
	}
	return *c.Sentinel
}

// GetWarmup returns the warmup value or the default: one window per beacon.
func (c *PipelineConfig) GetWarmup() int {
	if c.Warmup == nil {
		return len(c.Beacons)
	}
	return *c.Warmup
}

// GetIncludePartial returns the include_partial value or the default.
func (c *PipelineConfig) GetIncludePartial() bool {
	if c.IncludePartial == nil {
		return false
	}
	return *c.IncludePartial
}

// GetSkipEmpty returns the skip_empty value or the default.
func (c *PipelineConfig) GetSkipEmpty() bool {
	if c.SkipEmpty == nil {
		return false
	}
	return *c.SkipEmpty
}

// GetBoxCox returns the boxcox value or the default.
func (c *PipelineConfig) GetBoxCox() bool {
	if c.BoxCox == nil {
		return true
	}
	return *c.BoxCox
}

// GetBoxCoxPolicy returns the boxcox_policy value or the default.
func (c *PipelineConfig) GetBoxCoxPolicy() string {
	if c.BoxCoxPolicy == nil || *c.BoxCoxPolicy == "" {
		return string(transform.PolicyReject)
	}
	return *c.BoxCoxPolicy
}

// GetBoxCoxOffset returns the boxcox_offset value or the default.
func (c *PipelineConfig) GetBoxCoxOffset() float64 {
	if c.BoxCoxOffset == nil {
		return 0
	}
	return *c.BoxCoxOffset
}

// GetReducer returns the reducer value or the default.
func (c *PipelineConfig) GetReducer() string {
	if c.Reducer == nil || *c.Reducer == "" {
		return string(pipeline.ReducerLDA)
	}
	return *c.Reducer
}

// GetComponents returns the components value or the default (0, the maximum
// the reducer allows).
func (c *PipelineConfig) GetComponents() int {
	if c.Components == nil {
		return 0
	}
	return *c.Components
}

// GetShrinkage returns the shrinkage value or the default.
func (c *PipelineConfig) GetShrinkage() float64 {
	if c.Shrinkage == nil {
		return 0
	}
	return *c.Shrinkage
}

// GetMaxRecordsPerGroup returns the max_records_per_group value or the
// default (0, no sampling).
func (c *PipelineConfig) GetMaxRecordsPerGroup() int {
	if c.MaxRecordsPerGroup == nil {
		return 0
	}
	return *c.MaxRecordsPerGroup
}

// GetSampleSeed returns the sample_seed value or the default.
func (c *PipelineConfig) GetSampleSeed() uint64 {
	if c.SampleSeed == nil {
		return 1
	}
	return *c.SampleSeed
}

// GetLabels returns the tag to label map with integer keys.
func (c *PipelineConfig) GetLabels() (map[int]string, error) {
	if len(c.Labels) == 0 {
		return nil, nil
	}
	keys := make([]string, 0, len(c.Labels))
	for k := range c.Labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make(map[int]string, len(c.Labels))
	for _, k := range keys {
		tag, err := strconv.Atoi(k)
		if err != nil {
			return nil, fmt.Errorf("labels: tag %q is not an integer", k)
		}
		if c.Labels[k] == "" {
			return nil, fmt.Errorf("labels: tag %d has an empty label", tag)
		}
		out[tag] = c.Labels[k]
	}
	return out, nil
}

// ToPipeline builds the explicit pipeline configuration and validates it.
func (c *PipelineConfig) ToPipeline() (pipeline.Config, error) {
	if err := c.Validate(); err != nil {
		return pipeline.Config{}, err
	}
	beacons, err := ble.NewBeaconSet(c.Beacons)
	if err != nil {
		return pipeline.Config{}, err
	}
	labels, err := c.GetLabels()
	if err != nil {
		return pipeline.Config{}, err
	}
	p := pipeline.Config{
		Version:            c.GetModelVersion(),
		TimeWindow:         c.GetTimeWindow(),
		Beacons:            beacons,
		Aggregation:        window.Aggregation(c.GetAggregation()),
		Mode:               window.Mode(c.GetMode()),
		Sentinel:           c.GetSentinel(),
		Warmup:             c.GetWarmup(),
		IncludePartial:     c.GetIncludePartial(),
		SkipEmpty:          c.GetSkipEmpty(),
		BoxCox:             c.GetBoxCox(),
		BoxCoxPolicy:       transform.DomainPolicy(c.GetBoxCoxPolicy()),
		BoxCoxOffset:       c.GetBoxCoxOffset(),
		Reducer:            pipeline.Reducer(c.GetReducer()),
		Components:         c.GetComponents(),
		Shrinkage:          c.GetShrinkage(),
		MaxRecordsPerGroup: c.GetMaxRecordsPerGroup(),
		SampleSeed:         c.GetSampleSeed(),
		Labels:             labels,
	}
	if err := p.Validate(); err != nil {
		return pipeline.Config{}, err
	}
	return p, nil
}
