// Package testutil provides shared test utilities and fixtures.
//
// It centralises the synthetic reading generator used by the window,
// transform and pipeline tests so they exercise the same data shapes.
package testutil

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/banshee-data/blelocate/internal/ble"
)

// AssertErrorIs fails the test unless errors.Is(err, target).
func AssertErrorIs(t *testing.T, err, target error) {
	t.Helper()
	if !errors.Is(err, target) {
		t.Fatalf("error = %v, want %v", err, target)
	}
}

// AssertVectorsNear fails the test if got and want differ in shape or any
// component differs by more than tol.
func AssertVectorsNear(t *testing.T, got, want []ble.FeatureVector, tol float64) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("got %d vectors, want %d", len(got), len(want))
	}
	for i := range want {
		if len(got[i]) != len(want[i]) {
			t.Fatalf("vector %d has length %d, want %d", i, len(got[i]), len(want[i]))
		}
		for j := range want[i] {
			if math.Abs(got[i][j]-want[i][j]) > tol {
				t.Fatalf("vector %d component %d = %v, want %v (tol %g)", i, j, got[i][j], want[i][j], tol)
			}
		}
	}
}

// BeaconIDs returns n beacon ids "room-0" .. "room-<n-1>".
func BeaconIDs(n int) []string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("room-%d", i)
	}
	return ids
}

// Synthetic describes a generated capture: one tag per label walking
// nowhere, sighted by every beacon at a fixed period.
type Synthetic struct {
	Beacons  []string
	Labels   []string
	Start    time.Time
	Duration time.Duration
	Period   time.Duration
	// Noise is the standard deviation added to every reading.
	Noise float64
	Seed  uint64
}

// Readings generates the capture. Each beacon reports a mean proximity that
// grows with its distance (in index space) from the label's home beacon, so
// labels are linearly separable. Values are always positive. The first
// reading of every beacon is at Start; the last is at Start+Duration
// inclusive.
func (s Synthetic) Readings() []ble.Reading {
	rng := rand.New(rand.NewPCG(s.Seed, s.Seed+1))
	var out []ble.Reading
	for li, label := range s.Labels {
		home := li * len(s.Beacons) / max(len(s.Labels), 1)
		for ts := time.Duration(0); ts <= s.Duration; ts += s.Period {
			for bi, id := range s.Beacons {
				dist := math.Abs(float64(bi - home))
				v := 20 + 15*dist + s.Noise*rng.NormFloat64()
				out = append(out, ble.Reading{
					BeaconID:  id,
					Timestamp: s.Start.Add(ts),
					RSSI:      math.Max(v, 1),
					Tag:       li + 1,
					Label:     label,
				})
			}
		}
	}
	return out
}
