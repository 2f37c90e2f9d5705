package window

import (
	"math/rand/v2"
	"slices"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/blelocate/internal/ble"
	"github.com/banshee-data/blelocate/internal/testutil"
)

var t0 = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

func at(sec float64) time.Time {
	return t0.Add(time.Duration(sec * float64(time.Second)))
}

func reading(beacon string, sec, v float64) ble.Reading {
	return ble.Reading{BeaconID: beacon, Timestamp: at(sec), RSSI: v, Tag: 1}
}

func TestWindow_HourOfReadings(t *testing.T) {
	beacons := testutil.BeaconIDs(10)
	capture := testutil.Synthetic{
		Beacons:  beacons,
		Labels:   []string{"kitchen"},
		Start:    t0,
		Duration: time.Hour,
		Period:   5 * time.Second,
		Noise:    1,
		Seed:     1,
	}
	opts := Options{Size: 300 * time.Second, Beacons: ble.MustBeaconSet(beacons...), Sentinel: DefaultSentinel}

	ws, err := Window(capture.Readings(), opts)
	require.NoError(t, err)
	require.Len(t, ws, 12)
	for i, w := range ws {
		assert.Len(t, w.Values, 10)
		assert.True(t, w.Start.Equal(t0.Add(time.Duration(i)*300*time.Second)), "window %d start %s", i, w.Start)
		assert.Equal(t, 10, w.Observed())
		assert.Equal(t, 60, w.Counts[0], "5 s period gives 60 readings per beacon per window")
	}
}

func TestWindow_HourWithoutClosingReading(t *testing.T) {
	ids := testutil.BeaconIDs(10)
	var rs []ble.Reading
	for s := 0.0; s < 3600; s += 5 {
		for _, id := range ids {
			rs = append(rs, reading(id, s, 10))
		}
	}
	ws, err := Window(rs, Options{Size: 300 * time.Second, Beacons: ble.MustBeaconSet(ids...), Sentinel: DefaultSentinel})
	require.NoError(t, err)
	require.Len(t, ws, 12)
	last := ws[len(ws)-1]
	assert.True(t, last.Start.Equal(at(3300)))
	assert.Equal(t, 60, last.Counts[0])
}

func TestWindow_TrailingPartial(t *testing.T) {
	beacons := ble.MustBeaconSet("a")
	var rs []ble.Reading
	for s := 0.0; s < 3400; s += 5 {
		rs = append(rs, reading("a", s, 10))
	}
	base := Options{Size: 300 * time.Second, Beacons: beacons, Sentinel: DefaultSentinel}

	tests := []struct {
		name      string
		mod       func(*Options)
		want      int
		lastStart float64
	}{
		{"readings stop mid window", func(*Options) {}, 11, 3000},
		{"include partial", func(o *Options) { o.IncludePartial = true }, 12, 3300},
		{"explicit horizon", func(o *Options) { o.Until = at(3600) }, 12, 3300},
		{"horizon before data end", func(o *Options) { o.Until = at(1000) }, 3, 600},
		{"horizon before data end, include partial", func(o *Options) {
			o.Until = at(1000)
			o.IncludePartial = true
		}, 4, 900},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := base
			tt.mod(&opts)
			ws, err := Window(rs, opts)
			require.NoError(t, err)
			require.Len(t, ws, tt.want)
			assert.True(t, ws[len(ws)-1].Start.Equal(at(tt.lastStart)), "last start %s", ws[len(ws)-1].Start)
		})
	}
}

func TestSamplingPeriod(t *testing.T) {
	assert.Zero(t, samplingPeriod(nil))
	assert.Zero(t, samplingPeriod([]ble.Reading{reading("a", 0, 1), reading("b", 0, 1)}))
	assert.Equal(t, 5*time.Second, samplingPeriod([]ble.Reading{
		reading("a", 0, 1), reading("b", 0, 1), reading("a", 5, 1), reading("a", 10, 1), reading("a", 40, 1),
	}))
}

func TestWindow_Deterministic(t *testing.T) {
	capture := testutil.Synthetic{
		Beacons:  testutil.BeaconIDs(5),
		Labels:   []string{"a", "b", "c"},
		Start:    t0,
		Duration: 20 * time.Minute,
		Period:   7 * time.Second,
		Noise:    3,
		Seed:     42,
	}
	rs := capture.Readings()
	opts := Options{Size: time.Minute, Beacons: ble.MustBeaconSet(capture.Beacons...), Sentinel: DefaultSentinel}

	first, err := Window(rs, opts)
	require.NoError(t, err)
	second, err := Window(rs, opts)
	require.NoError(t, err)
	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("repeat run differs (-first +second):\n%s", diff)
	}

	shuffled := slices.Clone(rs)
	rand.New(rand.NewPCG(1, 2)).Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	third, err := Window(shuffled, opts)
	require.NoError(t, err)
	if diff := cmp.Diff(first, third); diff != "" {
		t.Fatalf("input order changed output (-ordered +shuffled):\n%s", diff)
	}

	// Streams come out in (tag, label) order, windows chronologically.
	for i := 1; i < len(first); i++ {
		prev, cur := first[i-1], first[i]
		if prev.Stream == cur.Stream {
			assert.True(t, prev.Start.Before(cur.Start))
		} else {
			assert.True(t, prev.Stream.Less(cur.Stream))
		}
	}
}

func TestWindow_SentinelAndUnknownBeacons(t *testing.T) {
	beacons := ble.MustBeaconSet("a", "b", "c")
	rs := []ble.Reading{
		reading("a", 0, 10),
		reading("a", 5, 20),
		reading("zz", 6, 99),
		reading("c", 7, 30),
		reading("a", 10, 0),
	}
	ws, err := Window(rs, Options{Size: 10 * time.Second, Beacons: beacons, Sentinel: 300})
	require.NoError(t, err)
	require.Len(t, ws, 1)

	want := ble.Window{
		Stream: ble.StreamKey{Tag: 1},
		Start:  at(0),
		End:    at(10),
		Values: ble.FeatureVector{15, 300, 30},
		Counts: []int{2, 0, 1},
	}
	if diff := cmp.Diff(want, ws[0]); diff != "" {
		t.Errorf("window mismatch (-want +got):\n%s", diff)
	}
}

func TestWindow_WeightedAggregation(t *testing.T) {
	beacons := ble.MustBeaconSet("a")
	rs := []ble.Reading{
		reading("a", 0, 10),
		reading("a", 8, 20),
		reading("a", 10, 0),
	}
	ws, err := Window(rs, Options{Size: 10 * time.Second, Beacons: beacons, Aggregation: AggregateWeighted})
	require.NoError(t, err)
	require.Len(t, ws, 1)
	// The reading at 0 s is 8 s older than the latest, beyond half the
	// window, so it weighs 0.5.
	assert.InDelta(t, (0.5*10+20)/1.5, ws[0].Values[0], 1e-12)
}

func TestWindow_EmptyWindows(t *testing.T) {
	beacons := ble.MustBeaconSet("a", "b")
	rs := []ble.Reading{
		reading("a", 0, 10),
		reading("b", 35, 20),
		reading("a", 40, 0),
	}
	opts := Options{Size: 10 * time.Second, Beacons: beacons, Sentinel: -1}

	ws, err := Window(rs, opts)
	require.NoError(t, err)
	require.Len(t, ws, 4)
	assert.Equal(t, 0, ws[1].Observed())
	assert.Equal(t, ble.FeatureVector{-1, -1}, ws[1].Values)
	assert.Equal(t, 0, ws[2].Observed())

	opts.SkipEmpty = true
	ws, err = Window(rs, opts)
	require.NoError(t, err)
	require.Len(t, ws, 2)
	assert.True(t, ws[1].Start.Equal(at(30)))
}

func TestWindow_Epoch(t *testing.T) {
	beacons := ble.MustBeaconSet("a")
	var rs []ble.Reading
	for s := 7.0; s <= 40; s++ {
		rs = append(rs, reading("a", s, 1))
	}
	ws, err := Window(rs, Options{Size: 10 * time.Second, Beacons: beacons, Epoch: at(0)})
	require.NoError(t, err)
	require.NotEmpty(t, ws)
	assert.True(t, ws[0].Start.Equal(at(0)), "first window aligned to epoch, got %s", ws[0].Start)
	assert.Len(t, ws, 4)
}

func TestWindow_StreamsByTagAndLabel(t *testing.T) {
	beacons := ble.MustBeaconSet("a")
	rs := []ble.Reading{
		{BeaconID: "a", Timestamp: at(0), RSSI: 1, Tag: 2, Label: "hall"},
		{BeaconID: "a", Timestamp: at(0), RSSI: 2, Tag: 1, Label: "kitchen"},
		{BeaconID: "a", Timestamp: at(0), RSSI: 3, Tag: 1, Label: "hall"},
		{BeaconID: "a", Timestamp: at(10), RSSI: 0, Tag: 1, Label: "hall"},
		{BeaconID: "a", Timestamp: at(10), RSSI: 0, Tag: 1, Label: "kitchen"},
		{BeaconID: "a", Timestamp: at(10), RSSI: 0, Tag: 2, Label: "hall"},
	}
	ws, err := Window(rs, Options{Size: 10 * time.Second, Beacons: beacons, Until: at(10)})
	require.NoError(t, err)

	var got []ble.StreamKey
	var vals []float64
	for _, w := range ws {
		got = append(got, w.Stream)
		vals = append(vals, w.Values[0])
	}
	assert.Equal(t, []ble.StreamKey{{Tag: 1, Label: "hall"}, {Tag: 1, Label: "kitchen"}, {Tag: 2, Label: "hall"}}, got)
	assert.Equal(t, []float64{3, 2, 1}, vals)
}

func TestWindows_Restartable(t *testing.T) {
	beacons := ble.MustBeaconSet("a")
	var rs []ble.Reading
	for s := 0.0; s <= 100; s += 2 {
		rs = append(rs, reading("a", s, s))
	}
	seq, err := Windows(rs, Options{Size: 10 * time.Second, Beacons: beacons})
	require.NoError(t, err)

	// Mutating the caller's slice after the call must not leak in.
	rs[0].RSSI = 1e9

	first := slices.Collect(seq)
	second := slices.Collect(seq)
	require.Len(t, first, 10)
	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("second pass differs:\n%s", diff)
	}
	assert.InDelta(t, 4.0, first[0].Values[0], 1e-12)

	n := 0
	for range seq {
		n++
		if n == 3 {
			break
		}
	}
	assert.Equal(t, 3, n)
}

func TestWindow_Rolling(t *testing.T) {
	beacons := ble.MustBeaconSet("a", "b")
	rs := []ble.Reading{
		reading("a", 0, 10),
		reading("b", 1, 20),
		reading("a", 2, 30),
		reading("b", 3, 40),
		reading("a", 6, 50),
	}
	ws, err := Window(rs, Options{
		Size:     3 * time.Second,
		Beacons:  beacons,
		Mode:     ModeRolling,
		Sentinel: 300,
		Warmup:   2,
	})
	require.NoError(t, err)
	require.Len(t, ws, 3)

	// (-1, 2]: a=10,30 b=20
	assert.Equal(t, ble.FeatureVector{20, 20}, ws[0].Values)
	assert.True(t, ws[0].End.Equal(at(2)))
	// (0, 3]: a=30 b=20,40
	assert.Equal(t, ble.FeatureVector{30, 30}, ws[1].Values)
	// (3, 6]: a=50 only
	assert.Equal(t, ble.FeatureVector{50, 300}, ws[2].Values)
}

func TestOptions_Validate(t *testing.T) {
	beacons := ble.MustBeaconSet("a")
	tests := []struct {
		name string
		opts Options
	}{
		{"zero size", Options{Beacons: beacons}},
		{"no beacons", Options{Size: time.Second}},
		{"bad aggregation", Options{Size: time.Second, Beacons: beacons, Aggregation: "median"}},
		{"bad mode", Options{Size: time.Second, Beacons: beacons, Mode: "sliding"}},
		{"negative warmup", Options{Size: time.Second, Beacons: beacons, Warmup: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, tt.opts.Validate())
			_, err := Window(nil, tt.opts)
			assert.Error(t, err)
		})
	}

	ws, err := Window(nil, Options{Size: time.Second, Beacons: beacons})
	require.NoError(t, err)
	assert.Empty(t, ws)
}

func TestVectors(t *testing.T) {
	ws := []ble.Window{{Values: ble.FeatureVector{1, 2}}, {Values: ble.FeatureVector{3, 4}}}
	assert.Equal(t, []ble.FeatureVector{{1, 2}, {3, 4}}, Vectors(ws))
}
