package ble

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"strings"
	"time"
)

// Reading is a single signal-strength sample. Readings are immutable once
// recorded.
type Reading struct {
	BeaconID  string    `json:"beacon_id"`
	Timestamp time.Time `json:"timestamp"`
	RSSI      float64   `json:"rssi"`
	// Tag is the BLE tag worn by the tracked occupant.
	Tag int `json:"tag"`
	// Label is the ground-truth place, empty outside of training captures.
	Label   string   `json:"label,omitempty"`
	Battery *float64 `json:"battery,omitempty"`
}

// StreamKey identifies an independently windowed stream of readings.
type StreamKey struct {
	Tag   int    `json:"tag"`
	Label string `json:"label,omitempty"`
}

func (k StreamKey) String() string {
	if k.Label == "" {
		return fmt.Sprintf("tag=%d", k.Tag)
	}
	return fmt.Sprintf("tag=%d label=%s", k.Tag, k.Label)
}

// Less orders stream keys by tag then label.
func (k StreamKey) Less(o StreamKey) bool {
	if k.Tag != o.Tag {
		return k.Tag < o.Tag
	}
	return k.Label < o.Label
}

// BeaconSet is an ordered, duplicate-free list of beacon ids. Its order
// defines the feature order of every vector produced under it.
type BeaconSet struct {
	ids   []string
	index map[string]int
}

// NewBeaconSet validates ids and returns a BeaconSet preserving their order.
func NewBeaconSet(ids []string) (BeaconSet, error) {
	if len(ids) == 0 {
		return BeaconSet{}, fmt.Errorf("beacon set must not be empty")
	}
	index := make(map[string]int, len(ids))
	out := make([]string, len(ids))
	for i, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			return BeaconSet{}, fmt.Errorf("beacon id %d is empty", i)
		}
		if _, dup := index[id]; dup {
			return BeaconSet{}, fmt.Errorf("duplicate beacon id %q", id)
		}
		index[id] = i
		out[i] = id
	}
	return BeaconSet{ids: out, index: index}, nil
}

// MustBeaconSet is NewBeaconSet for static fixtures; it panics on error.
func MustBeaconSet(ids ...string) BeaconSet {
	s, err := NewBeaconSet(ids)
	if err != nil {
		panic(err)
	}
	return s
}

// Len returns the number of beacons, which is also the feature dimension.
func (s BeaconSet) Len() int { return len(s.ids) }

// IDs returns a copy of the ordered beacon ids.
func (s BeaconSet) IDs() []string {
	out := make([]string, len(s.ids))
	copy(out, s.ids)
	return out
}

// Index returns the feature position of id.
func (s BeaconSet) Index(id string) (int, bool) {
	i, ok := s.index[id]
	return i, ok
}

// Fingerprint is a short stable digest of the ordered ids. Two sets with the
// same members in a different order have different fingerprints.
func (s BeaconSet) Fingerprint() string {
	h := sha256.Sum256([]byte(strings.Join(s.ids, "\x1f")))
	return hex.EncodeToString(h[:])[:16]
}

// Equal reports whether both sets list the same ids in the same order.
func (s BeaconSet) Equal(o BeaconSet) bool {
	if len(s.ids) != len(o.ids) {
		return false
	}
	for i := range s.ids {
		if s.ids[i] != o.ids[i] {
			return false
		}
	}
	return true
}

// FeatureVector is the ordered numeric row derived from one window.
type FeatureVector []float64

// Clone returns an independent copy of v.
func (v FeatureVector) Clone() FeatureVector {
	out := make(FeatureVector, len(v))
	copy(out, v)
	return out
}

// CheckFinite returns an error naming the first NaN or Inf component.
func (v FeatureVector) CheckFinite() error {
	for i, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return fmt.Errorf("feature %d is not finite (%v)", i, x)
		}
	}
	return nil
}

// Window is one fixed-duration bucket of a stream aggregated per beacon.
type Window struct {
	Stream StreamKey `json:"stream"`
	Start  time.Time `json:"start"`
	End    time.Time `json:"end"`
	// Values holds one aggregated value per beacon, in beacon-set order.
	Values FeatureVector `json:"values"`
	// Counts holds the number of readings behind each value; zero means the
	// value is the sentinel.
	Counts []int `json:"counts"`
}

// Observed returns the number of beacons that had at least one reading.
func (w Window) Observed() int {
	n := 0
	for _, c := range w.Counts {
		if c > 0 {
			n++
		}
	}
	return n
}

// LabeledVector is a reduced or raw vector with the stream and window start
// it came from.
type LabeledVector struct {
	Stream StreamKey     `json:"stream"`
	Start  time.Time     `json:"start"`
	Vector FeatureVector `json:"vector"`
}
