// Package window turns raw readings into fixed-duration feature rows.
//
// Readings are grouped into streams by (tag, label). Each stream is cut into
// consecutive windows and every window yields one value per configured
// beacon, so the row length is fixed by the beacon set alone.
package window

import (
	"fmt"
	"iter"
	"math"
	"slices"
	"sort"
	"time"

	"github.com/banshee-data/blelocate/internal/ble"
)

// Aggregation selects the per-beacon statistic.
type Aggregation string

const (
	// AggregateMean is the arithmetic mean of rssi.
	AggregateMean Aggregation = "mean"
	// AggregateWeighted weights readings in the most recent half of the
	// window (relative to the beacon's latest reading) at 1 and older ones
	// at 0.5.
	AggregateWeighted Aggregation = "weighted"
)

// Mode selects how windows are laid out in time.
type Mode string

const (
	// ModeTumbling emits consecutive non-overlapping windows.
	ModeTumbling Mode = "tumbling"
	// ModeRolling emits one window per reading covering (t-size, t].
	ModeRolling Mode = "rolling"
)

// DefaultSentinel is the value reported for a beacon with no readings in a
// window. Readings are proximity estimates, so a large value reads as "far".
const DefaultSentinel = 300.0

// Options configures a windowing run.
type Options struct {
	Size        time.Duration
	Beacons     ble.BeaconSet
	Aggregation Aggregation
	Mode        Mode
	Sentinel    float64

	// Epoch anchors tumbling boundaries. Zero means the earliest reading.
	Epoch time.Time
	// Until is the exclusive horizon for completeness checks. Zero means one
	// sampling period (the median gap between readings) past the latest
	// reading of each stream.
	Until time.Time
	// IncludePartial keeps the one window that straddles the horizon.
	IncludePartial bool
	// SkipEmpty drops tumbling windows in which no beacon was seen.
	SkipEmpty bool
	// Warmup drops the first N rolling windows of each stream.
	Warmup int
}

// Validate checks the options for internal consistency.
func (o Options) Validate() error {
	if o.Size <= 0 {
		return fmt.Errorf("window size must be positive, got %s", o.Size)
	}
	if o.Beacons.Len() == 0 {
		return fmt.Errorf("beacon set must not be empty")
	}
	switch o.aggregation() {
	case AggregateMean, AggregateWeighted:
	default:
		return fmt.Errorf("unknown aggregation %q", o.Aggregation)
	}
	switch o.mode() {
	case ModeTumbling, ModeRolling:
	default:
		return fmt.Errorf("unknown window mode %q", o.Mode)
	}
	if math.IsNaN(o.Sentinel) || math.IsInf(o.Sentinel, 0) {
		return fmt.Errorf("sentinel must be finite")
	}
	if o.Warmup < 0 {
		return fmt.Errorf("warmup must be non-negative, got %d", o.Warmup)
	}
	return nil
}

func (o Options) aggregation() Aggregation {
	if o.Aggregation == "" {
		return AggregateMean
	}
	return o.Aggregation
}

func (o Options) mode() Mode {
	if o.Mode == "" {
		return ModeTumbling
	}
	return o.Mode
}

type stream struct {
	key      ble.StreamKey
	readings []ble.Reading
}

// Windows returns a lazy sequence of windows over readings. The sequence is
// finite and restartable: ranging over it again recomputes the same windows
// from a private copy of the input. Streams are visited in (tag, label) order
// and windows within a stream in chronological order.
func Windows(readings []ble.Reading, opts Options) (iter.Seq[ble.Window], error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	streams := groupStreams(readings, opts.Beacons)
	epoch := opts.Epoch
	if epoch.IsZero() {
		epoch = earliest(streams)
	}

	return func(yield func(ble.Window) bool) {
		for _, s := range streams {
			var ok bool
			if opts.mode() == ModeRolling {
				ok = rolling(s, opts, yield)
			} else {
				ok = tumbling(s, epoch, opts, yield)
			}
			if !ok {
				return
			}
		}
	}, nil
}

// Window collects Windows into a slice.
func Window(readings []ble.Reading, opts Options) ([]ble.Window, error) {
	seq, err := Windows(readings, opts)
	if err != nil {
		return nil, err
	}
	return slices.Collect(seq), nil
}

// groupStreams copies the readings for configured beacons into per-stream
// slices sorted by timestamp. Equal timestamps keep their input order.
func groupStreams(readings []ble.Reading, beacons ble.BeaconSet) []stream {
	byKey := make(map[ble.StreamKey][]ble.Reading)
	for _, r := range readings {
		if _, ok := beacons.Index(r.BeaconID); !ok {
			continue
		}
		k := ble.StreamKey{Tag: r.Tag, Label: r.Label}
		byKey[k] = append(byKey[k], r)
	}

	out := make([]stream, 0, len(byKey))
	for k, rs := range byKey {
		sort.SliceStable(rs, func(i, j int) bool {
			return rs[i].Timestamp.Before(rs[j].Timestamp)
		})
		out = append(out, stream{key: k, readings: rs})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].key.Less(out[j].key) })
	return out
}

func earliest(streams []stream) time.Time {
	var t time.Time
	for _, s := range streams {
		first := s.readings[0].Timestamp
		if t.IsZero() || first.Before(t) {
			t = first
		}
	}
	return t
}

func tumbling(s stream, epoch time.Time, opts Options, yield func(ble.Window) bool) bool {
	first := s.readings[0].Timestamp
	last := s.readings[len(s.readings)-1].Timestamp
	// The last reading stands for one sampling period, so a window ending
	// one period after it is complete.
	horizon := last.Add(samplingPeriod(s.readings))
	if !opts.Until.IsZero() {
		horizon = opts.Until
	}

	// Align the first boundary to the epoch grid at or before the stream's
	// first reading.
	offset := first.Sub(epoch)
	steps := int64(math.Floor(float64(offset) / float64(opts.Size)))
	start := epoch.Add(time.Duration(steps) * opts.Size)

	i := 0
	for ; !start.After(last); start = start.Add(opts.Size) {
		end := start.Add(opts.Size)
		partial := end.After(horizon)
		if partial && !opts.IncludePartial {
			break
		}
		for i < len(s.readings) && s.readings[i].Timestamp.Before(start) {
			i++
		}
		j := i
		for j < len(s.readings) && s.readings[j].Timestamp.Before(end) {
			j++
		}
		w := aggregate(s.key, start, end, s.readings[i:j], opts)
		i = j
		if opts.SkipEmpty && w.Observed() == 0 {
			if partial {
				break
			}
			continue
		}
		if !yield(w) {
			return false
		}
		if partial {
			break
		}
	}
	return true
}

// samplingPeriod is the lower median gap between the distinct timestamps of a
// sorted stream, or zero when it has fewer than two.
func samplingPeriod(rs []ble.Reading) time.Duration {
	var gaps []time.Duration
	for i := 1; i < len(rs); i++ {
		if d := rs[i].Timestamp.Sub(rs[i-1].Timestamp); d > 0 {
			gaps = append(gaps, d)
		}
	}
	if len(gaps) == 0 {
		return 0
	}
	slices.Sort(gaps)
	return gaps[(len(gaps)-1)/2]
}

func rolling(s stream, opts Options, yield func(ble.Window) bool) bool {
	lo := 0
	for hi, r := range s.readings {
		end := r.Timestamp
		start := end.Add(-opts.Size)
		for lo < hi && !s.readings[lo].Timestamp.After(start) {
			lo++
		}
		if hi < opts.Warmup {
			continue
		}
		if !yield(aggregate(s.key, start, end, s.readings[lo:hi+1], opts)) {
			return false
		}
	}
	return true
}

func aggregate(key ble.StreamKey, start, end time.Time, readings []ble.Reading, opts Options) ble.Window {
	n := opts.Beacons.Len()
	w := ble.Window{
		Stream: key,
		Start:  start,
		End:    end,
		Values: make(ble.FeatureVector, n),
		Counts: make([]int, n),
	}

	sums := make([]float64, n)
	weights := make([]float64, n)
	latest := make([]time.Time, n)
	if opts.aggregation() == AggregateWeighted {
		for _, r := range readings {
			idx, _ := opts.Beacons.Index(r.BeaconID)
			if r.Timestamp.After(latest[idx]) {
				latest[idx] = r.Timestamp
			}
		}
	}

	half := opts.Size / 2
	for _, r := range readings {
		idx, _ := opts.Beacons.Index(r.BeaconID)
		wt := 1.0
		if opts.aggregation() == AggregateWeighted && latest[idx].Sub(r.Timestamp) > half {
			wt = 0.5
		}
		sums[idx] += wt * r.RSSI
		weights[idx] += wt
		w.Counts[idx]++
	}

	for i := range w.Values {
		if w.Counts[i] == 0 {
			w.Values[i] = opts.Sentinel
			continue
		}
		w.Values[i] = sums[i] / weights[i]
	}
	return w
}

// Vectors extracts the feature rows of ws.
func Vectors(ws []ble.Window) []ble.FeatureVector {
	out := make([]ble.FeatureVector, len(ws))
	for i, w := range ws {
		out[i] = w.Values
	}
	return out
}
