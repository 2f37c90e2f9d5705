package transform

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/blelocate/internal/ble"
)

// LinearParams hold a fitted projection y = (x - Mean) · Componentsᵀ.
type LinearParams struct {
	Mean []float64 `json:"mean"`
	// Components has one row per output dimension.
	Components             [][]float64 `json:"components"`
	ExplainedVarianceRatio []float64   `json:"explained_variance_ratio"`
	Classes                []string    `json:"classes,omitempty"`
	Shrinkage              float64     `json:"shrinkage,omitempty"`
}

func (p *LinearParams) validate(in, out int) error {
	if len(p.Mean) != in {
		return fmt.Errorf("%w: mean has length %d, want %d", ble.ErrDimensionMismatch, len(p.Mean), in)
	}
	if len(p.Components) != out {
		return fmt.Errorf("%w: %d components, want %d", ble.ErrDimensionMismatch, len(p.Components), out)
	}
	for i, c := range p.Components {
		if len(c) != in {
			return fmt.Errorf("%w: component %d has length %d, want %d", ble.ErrDimensionMismatch, i, len(c), in)
		}
		if err := ble.FeatureVector(c).CheckFinite(); err != nil {
			return fmt.Errorf("component %d: %w", i, err)
		}
	}
	return nil
}

// ApplyLinear projects features with a fitted LDA or PCA transform. Labels
// play no part in the projection.
func ApplyLinear(f *Fitted, features []ble.FeatureVector) ([]ble.FeatureVector, error) {
	if f == nil || f.Linear == nil || (f.Kind != KindLDA && f.Kind != KindPCA) {
		return nil, fmt.Errorf("not a linear transform")
	}
	if err := checkDims(features, f.InputDim); err != nil {
		return nil, err
	}
	p := f.Linear
	out := make([]ble.FeatureVector, len(features))
	centered := make([]float64, f.InputDim)
	for i, v := range features {
		for j, x := range v {
			centered[j] = x - p.Mean[j]
		}
		row := make(ble.FeatureVector, f.OutputDim)
		for k, comp := range p.Components {
			var s float64
			for j, c := range comp {
				s += centered[j] * c
			}
			row[k] = s
		}
		if err := row.CheckFinite(); err != nil {
			return nil, fmt.Errorf("%w: vector %d: %v", ble.ErrDomain, i, err)
		}
		out[i] = row
	}
	return out, nil
}

// toDense copies features into an n×d matrix.
func toDense(features []ble.FeatureVector, d int) *mat.Dense {
	x := mat.NewDense(len(features), d, nil)
	for i, v := range features {
		x.SetRow(i, v)
	}
	return x
}

// columnMeans returns the per-column mean of x.
func columnMeans(x *mat.Dense) []float64 {
	n, d := x.Dims()
	means := make([]float64, d)
	for i := 0; i < n; i++ {
		for j := 0; j < d; j++ {
			means[j] += x.At(i, j)
		}
	}
	for j := range means {
		means[j] /= float64(n)
	}
	return means
}

// orientComponent flips c in place so its largest-magnitude coefficient is
// positive. Eigenvectors are only defined up to sign; fixing it keeps
// repeated fits comparable.
func orientComponent(c []float64) {
	best := 0
	for i, v := range c {
		if math.Abs(v) > math.Abs(c[best]) {
			best = i
		}
	}
	if c[best] < 0 {
		for i := range c {
			c[i] = -c[i]
		}
	}
}
