package ble

import (
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewBeaconSet(t *testing.T) {
	tests := []struct {
		name    string
		ids     []string
		wantErr bool
	}{
		{"ordered", []string{"kitchen-1", "hall-2"}, false},
		{"trims", []string{" kitchen-1 ", "hall-2"}, false},
		{"empty list", nil, true},
		{"empty id", []string{"a", " "}, true},
		{"duplicate", []string{"a", "b", "a"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewBeaconSet(tt.ids)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, []string{"kitchen-1", "hall-2"}, s.IDs())
			i, ok := s.Index("hall-2")
			assert.True(t, ok)
			assert.Equal(t, 1, i)
		})
	}
}

func TestBeaconSet_Fingerprint(t *testing.T) {
	a := MustBeaconSet("a", "b", "c")
	b := MustBeaconSet("a", "b", "c")
	c := MustBeaconSet("c", "b", "a")

	assert.Len(t, a.Fingerprint(), 16)
	assert.Equal(t, a.Fingerprint(), b.Fingerprint())
	assert.NotEqual(t, a.Fingerprint(), c.Fingerprint(), "order is part of the identity")
	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
	assert.NotEqual(t, MustBeaconSet("ab", "c").Fingerprint(), MustBeaconSet("a", "bc").Fingerprint())
}

func TestBeaconSet_IDsIsACopy(t *testing.T) {
	s := MustBeaconSet("a", "b")
	ids := s.IDs()
	ids[0] = "z"
	assert.Equal(t, []string{"a", "b"}, s.IDs())
}

func TestFeatureVector(t *testing.T) {
	v := FeatureVector{1, 2, 3}
	c := v.Clone()
	c[0] = 9
	assert.Equal(t, 1.0, v[0])

	assert.NoError(t, v.CheckFinite())
	assert.Error(t, FeatureVector{1, math.NaN()}.CheckFinite())
	assert.Error(t, FeatureVector{math.Inf(-1)}.CheckFinite())
}

func TestStreamKey(t *testing.T) {
	assert.Equal(t, "tag=3", StreamKey{Tag: 3}.String())
	assert.Equal(t, "tag=3 label=hall", StreamKey{Tag: 3, Label: "hall"}.String())
	assert.True(t, StreamKey{Tag: 1, Label: "z"}.Less(StreamKey{Tag: 2, Label: "a"}))
	assert.True(t, StreamKey{Tag: 1, Label: "a"}.Less(StreamKey{Tag: 1, Label: "b"}))
	assert.False(t, StreamKey{Tag: 1, Label: "a"}.Less(StreamKey{Tag: 1, Label: "a"}))
}

func TestWindowObserved(t *testing.T) {
	w := Window{Counts: []int{0, 3, 0, 1}}
	assert.Equal(t, 2, w.Observed())
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(fmt.Errorf("load: %w", ErrMissingModel)))
	for _, err := range []error{ErrConfigMismatch, ErrDimensionMismatch, ErrFit, ErrInsufficientData, ErrSingularScatter, ErrDomain, nil} {
		assert.False(t, Retryable(err), "%v", err)
	}
}
