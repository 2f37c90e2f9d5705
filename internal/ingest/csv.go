// Package ingest reads the collector's CSV capture format into readings.
//
// A capture has the header
//
//	label,id,timestamp,ble_id,place,proxi,detector,batt
//
// with one row per detector sighting of a tag. The feature key of a row is
// "<place>-<detector>", the tag is ble_id and the signal value is proxi.
package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/banshee-data/blelocate/internal/ble"
)

// Columns of the capture format. id is the collector's row id and is not
// kept.
const (
	ColLabel    = "label"
	ColID       = "id"
	ColTime     = "timestamp"
	ColTag      = "ble_id"
	ColPlace    = "place"
	ColProxi    = "proxi"
	ColDetector = "detector"
	ColBattery  = "batt"
)

var required = []string{ColTime, ColTag, ColPlace, ColProxi, ColDetector}

// dbLayout is the database timestamp layout written by older collectors.
const dbLayout = "2006-01-02 15:04:05"

// Options configures Read.
type Options struct {
	// Location interprets timestamps written without a zone. Nil means UTC.
	Location *time.Location
	// Label replaces every row's label when set.
	Label string
}

// BeaconID returns the feature key of a detector.
func BeaconID(place, detector string) string {
	return strings.TrimSpace(place) + "-" + strings.TrimSpace(detector)
}

// Read parses a capture. Columns are located by header name, so their order
// does not matter and extra columns are ignored. Any malformed row fails the
// whole read with its line number.
func Read(r io.Reader, opts Options) ([]ble.Reading, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.ReuseRecord = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("empty capture: missing header")
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, h := range header {
		col[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))] = i
	}
	for _, name := range required {
		if _, ok := col[name]; !ok {
			return nil, fmt.Errorf("capture header has no %q column", name)
		}
	}
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}

	var out []ble.Reading
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		line, _ := cr.FieldPos(0)
		rd, err := parseRow(rec, col, loc)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if opts.Label != "" {
			rd.Label = opts.Label
		}
		out = append(out, rd)
	}
}

// ReadFile is Read on a file.
func ReadFile(path string, opts Options) ([]ble.Reading, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	readings, err := Read(f, opts)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return readings, nil
}

func parseRow(rec []string, col map[string]int, loc *time.Location) (ble.Reading, error) {
	field := func(name string) string {
		i, ok := col[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	var r ble.Reading
	ts, err := ParseTimestamp(field(ColTime), loc)
	if err != nil {
		return r, err
	}
	r.Timestamp = ts

	if r.Tag, err = strconv.Atoi(field(ColTag)); err != nil {
		return r, fmt.Errorf("invalid %s %q", ColTag, field(ColTag))
	}
	place, detector := field(ColPlace), field(ColDetector)
	if place == "" || detector == "" {
		return r, fmt.Errorf("empty %s or %s", ColPlace, ColDetector)
	}
	r.BeaconID = BeaconID(place, detector)

	if r.RSSI, err = parseFinite(field(ColProxi)); err != nil {
		return r, fmt.Errorf("invalid %s: %w", ColProxi, err)
	}
	if s := field(ColBattery); s != "" {
		b, err := parseFinite(s)
		if err != nil {
			return r, fmt.Errorf("invalid %s: %w", ColBattery, err)
		}
		r.Battery = &b
	}
	r.Label = field(ColLabel)
	return r, nil
}

func parseFinite(s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("%q is not a number", s)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%q is not finite", s)
	}
	return v, nil
}

// ParseTimestamp accepts unix seconds (fractions kept to the microsecond),
// RFC 3339, or the database layout "2006-01-02 15:04:05" in loc.
func ParseTimestamp(s string, loc *time.Location) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("empty %s", ColTime)
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		if math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
			return time.Time{}, fmt.Errorf("invalid %s %q", ColTime, s)
		}
		sec := math.Floor(f)
		usec := math.Round((f - sec) * 1e6)
		return time.Unix(int64(sec), int64(usec)*int64(time.Microsecond)).UTC(), nil
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.ParseInLocation(dbLayout, s, loc); err == nil {
		return t.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("invalid %s %q", ColTime, s)
}
