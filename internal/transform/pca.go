package transform

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/blelocate/internal/ble"
)

// FitPCA fits an unsupervised principal component projection.
// Components ≤ 0 keeps min(samples, features) components.
func FitPCA(features []ble.FeatureVector, components int) (*Fitted, error) {
	d, err := uniformDim(features)
	if err != nil {
		return nil, err
	}
	n := len(features)
	if n < 2 {
		return nil, fmt.Errorf("%w: need at least 2 samples, got %d", ble.ErrInsufficientData, n)
	}
	if err := checkFinite(features); err != nil {
		return nil, fmt.Errorf("%w: %v", ble.ErrFit, err)
	}

	maxK := min(n, d)
	k := components
	if k <= 0 {
		k = maxK
	}
	if k > maxK {
		return nil, fmt.Errorf("%w: %d components requested, at most %d feasible", ble.ErrFit, k, maxK)
	}

	x := toDense(features, d)
	var pc stat.PC
	if ok := pc.PrincipalComponents(x, nil); !ok {
		return nil, fmt.Errorf("%w: principal component analysis failed", ble.ErrFit)
	}
	var vecs mat.Dense
	pc.VectorsTo(&vecs)
	vars := pc.VarsTo(nil)

	var total float64
	for _, v := range vars {
		total += v
	}
	if total <= 0 {
		return nil, fmt.Errorf("%w: features have zero variance", ble.ErrFit)
	}

	out := make([][]float64, k)
	ratio := make([]float64, k)
	for c := 0; c < k; c++ {
		col := mat.Col(nil, c, &vecs)
		orientComponent(col)
		out[c] = col
		ratio[c] = vars[c] / total
	}

	f := &Fitted{
		Header: newHeader(KindPCA, d, k, n),
		Linear: &LinearParams{
			Mean:                   columnMeans(x),
			Components:             out,
			ExplainedVarianceRatio: ratio,
		},
	}
	return f, nil
}
