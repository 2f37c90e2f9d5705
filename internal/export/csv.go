// Package export writes windowed and reduced features for downstream
// classifiers and for visual inspection.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/banshee-data/blelocate/internal/ble"
)

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func streamColumns(k ble.StreamKey, start time.Time) []string {
	return []string{k.Label, strconv.Itoa(k.Tag), start.UTC().Format(time.RFC3339Nano)}
}

// WriteWindows writes one row per window with the header
// label,tag,start,<beacon ids...>.
func WriteWindows(w io.Writer, beacons ble.BeaconSet, windows []ble.Window) error {
	cw := csv.NewWriter(w)
	header := append([]string{"label", "tag", "start"}, beacons.IDs()...)
	if err := cw.Write(header); err != nil {
		return err
	}
	for i, win := range windows {
		if len(win.Values) != beacons.Len() {
			return fmt.Errorf("%w: window %d has %d values for %d beacons",
				ble.ErrDimensionMismatch, i, len(win.Values), beacons.Len())
		}
		row := streamColumns(win.Stream, win.Start)
		for _, v := range win.Values {
			row = append(row, formatFloat(v))
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteReduced writes one row per vector with the header
// label,tag,start,C0..C<k-1>.
func WriteReduced(w io.Writer, vectors []ble.LabeledVector) error {
	k := 0
	if len(vectors) > 0 {
		k = len(vectors[0].Vector)
	}
	cw := csv.NewWriter(w)
	header := []string{"label", "tag", "start"}
	for i := 0; i < k; i++ {
		header = append(header, "C"+strconv.Itoa(i))
	}
	if err := cw.Write(header); err != nil {
		return err
	}
	for i, v := range vectors {
		if len(v.Vector) != k {
			return fmt.Errorf("%w: vector %d has length %d, want %d", ble.ErrDimensionMismatch, i, len(v.Vector), k)
		}
		row := streamColumns(v.Stream, v.Start)
		for _, x := range v.Vector {
			row = append(row, formatFloat(x))
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
