package testutil

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/blelocate/internal/ble"
)

func TestAssertHelpers_PassingPaths(t *testing.T) {
	t.Parallel()

	AssertErrorIs(t, fmt.Errorf("wrapped: %w", ble.ErrMissingModel), ble.ErrMissingModel)
	AssertVectorsNear(t,
		[]ble.FeatureVector{{1, 2}, {3, 4}},
		[]ble.FeatureVector{{1, 2 + 1e-12}, {3, 4}},
		1e-9)
}

func TestBeaconIDs(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []string{"room-0", "room-1", "room-2"}, BeaconIDs(3))
	_, err := ble.NewBeaconSet(BeaconIDs(10))
	assert.NoError(t, err)
}

func TestSynthetic_Readings(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := Synthetic{
		Beacons:  BeaconIDs(4),
		Labels:   []string{"kitchen", "hall"},
		Start:    start,
		Duration: time.Minute,
		Period:   10 * time.Second,
		Noise:    2,
		Seed:     7,
	}
	rs := s.Readings()
	// 7 sightings (0..60s) x 4 beacons x 2 labels.
	require.Len(t, rs, 56)

	again := s.Readings()
	assert.Equal(t, rs, again, "generation must be deterministic")

	for _, r := range rs {
		assert.Positive(t, r.RSSI)
		assert.False(t, r.Timestamp.Before(start))
		assert.False(t, r.Timestamp.After(start.Add(time.Minute)))
	}
	assert.Equal(t, 1, rs[0].Tag)
	assert.Equal(t, "hall", rs[len(rs)-1].Label)
	assert.Equal(t, 2, rs[len(rs)-1].Tag)

	s.Seed = 8
	assert.NotEqual(t, rs, s.Readings())
}
