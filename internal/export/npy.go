package export

import (
	"fmt"

	"github.com/kshedden/gonpy"
	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/blelocate/internal/ble"
)

// Matrix stacks vectors into a row-major matrix. All vectors must have the
// same length.
func Matrix(vectors []ble.FeatureVector) (*mat.Dense, error) {
	if len(vectors) == 0 {
		return nil, fmt.Errorf("%w: no vectors", ble.ErrInsufficientData)
	}
	cols := len(vectors[0])
	if cols == 0 {
		return nil, fmt.Errorf("%w: vectors are empty", ble.ErrDimensionMismatch)
	}
	m := mat.NewDense(len(vectors), cols, nil)
	for i, v := range vectors {
		if len(v) != cols {
			return nil, fmt.Errorf("%w: vector %d has length %d, want %d", ble.ErrDimensionMismatch, i, len(v), cols)
		}
		m.SetRow(i, v)
	}
	return m, nil
}

// WriteNpy writes vectors as a float64 (rows, cols) numpy array.
func WriteNpy(path string, vectors []ble.FeatureVector) error {
	m, err := Matrix(vectors)
	if err != nil {
		return err
	}
	rows, cols := m.Dims()

	w, err := gonpy.NewFileWriter(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	w.Shape = []int{rows, cols}
	w.Version = 2
	// WriteFloat64 closes the file.
	if err := w.WriteFloat64(m.RawMatrix().Data); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// ReadNpy reads a two-dimensional float64 numpy array written by WriteNpy.
func ReadNpy(path string) ([]ble.FeatureVector, error) {
	r, err := gonpy.NewFileReader(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	if len(r.Shape) != 2 {
		return nil, fmt.Errorf("%s: expected a matrix, got shape %v", path, r.Shape)
	}
	data, err := r.GetFloat64()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	m := mat.NewDense(r.Shape[0], r.Shape[1], data)
	out := make([]ble.FeatureVector, r.Shape[0])
	for i := range out {
		out[i] = mat.Row(nil, i, m)
	}
	return out, nil
}
