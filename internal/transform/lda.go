package transform

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/blelocate/internal/ble"
)

// maxScatterCond is the largest acceptable condition number of the
// within-class covariance.
const maxScatterCond = 1e12

// LDAOptions configures an LDA fit.
type LDAOptions struct {
	// Components caps the output dimension. Zero or negative selects the
	// maximum feasible, min(classes-1, features).
	Components int
	// Shrinkage blends the within-class covariance towards a scaled
	// identity: (1-α)·Sw + α·(tr(Sw)/d)·I. Zero disables it.
	Shrinkage float64
}

// FitLDA fits a linear discriminant projection that maximises between-class
// scatter relative to within-class scatter.
//
// The generalised eigenproblem Sb·v = λ·Sw·v is solved by whitening: with
// Sw = Q·Λ·Qᵀ and W = Q·Λ^(-1/2), the symmetric problem (Wᵀ·Sb·W)·u = λ·u
// gives v = W·u. Projected within-class variance is therefore 1 per
// component. Both scatter matrices are first scaled to unit within-class
// variance per feature, which leaves the projection unchanged.
func FitLDA(features []ble.FeatureVector, labels []string, opts LDAOptions) (*Fitted, error) {
	d, err := uniformDim(features)
	if err != nil {
		return nil, err
	}
	n := len(features)
	if len(labels) != n {
		return nil, fmt.Errorf("%w: %d labels for %d vectors", ble.ErrFit, len(labels), n)
	}
	if err := checkFinite(features); err != nil {
		return nil, fmt.Errorf("%w: %v", ble.ErrFit, err)
	}
	if opts.Shrinkage < 0 || opts.Shrinkage > 1 || math.IsNaN(opts.Shrinkage) {
		return nil, fmt.Errorf("%w: shrinkage must be in [0, 1], got %v", ble.ErrFit, opts.Shrinkage)
	}

	members := make(map[string][]int)
	for i, l := range labels {
		if l == "" {
			return nil, fmt.Errorf("%w: vector %d has no label", ble.ErrFit, i)
		}
		members[l] = append(members[l], i)
	}
	classes := make([]string, 0, len(members))
	for l := range members {
		classes = append(classes, l)
	}
	sort.Strings(classes)

	if len(classes) < 2 {
		return nil, fmt.Errorf("%w: need at least 2 classes, got %d", ble.ErrInsufficientData, len(classes))
	}
	if n <= d {
		return nil, fmt.Errorf("%w: %d samples for %d features", ble.ErrInsufficientData, n, d)
	}

	maxK := min(len(classes)-1, d)
	k := opts.Components
	if k <= 0 {
		k = maxK
	}
	if k > maxK {
		return nil, fmt.Errorf("%w: %d components requested, at most %d feasible", ble.ErrFit, k, maxK)
	}

	x := toDense(features, d)
	mean := columnMeans(x)

	sw := mat.NewSymDense(d, nil)
	sb := mat.NewSymDense(d, nil)
	diff := mat.NewVecDense(d, nil)
	for _, cl := range classes {
		idx := members[cl]
		cm := make([]float64, d)
		for _, i := range idx {
			for j := 0; j < d; j++ {
				cm[j] += x.At(i, j)
			}
		}
		for j := range cm {
			cm[j] /= float64(len(idx))
		}
		for _, i := range idx {
			for j := 0; j < d; j++ {
				diff.SetVec(j, x.At(i, j)-cm[j])
			}
			sw.SymRankOne(sw, 1, diff)
		}
		for j := 0; j < d; j++ {
			diff.SetVec(j, cm[j]-mean[j])
		}
		sb.SymRankOne(sb, float64(len(idx)), diff)
	}
	sw.ScaleSym(1/float64(n-len(classes)), sw)
	sb.ScaleSym(1/float64(n), sb)

	if opts.Shrinkage > 0 {
		var trace float64
		for j := 0; j < d; j++ {
			trace += sw.At(j, j)
		}
		mu := trace / float64(d)
		for i := 0; i < d; i++ {
			for j := i; j < d; j++ {
				v := (1 - opts.Shrinkage) * sw.At(i, j)
				if i == j {
					v += opts.Shrinkage * mu
				}
				sw.SetSym(i, j, v)
			}
		}
	}

	// Rescale every feature to unit within-class variance so the
	// conditioning check measures collinearity rather than units.
	scale := make([]float64, d)
	for j := 0; j < d; j++ {
		v := sw.At(j, j)
		if !(v > 0) {
			return nil, fmt.Errorf("%w: feature %d has no within-class variance", ble.ErrSingularScatter, j)
		}
		scale[j] = 1 / math.Sqrt(v)
	}
	for i := 0; i < d; i++ {
		for j := i; j < d; j++ {
			sw.SetSym(i, j, sw.At(i, j)*scale[i]*scale[j])
			sb.SetSym(i, j, sb.At(i, j)*scale[i]*scale[j])
		}
	}

	whiten, err := whitening(sw)
	if err != nil {
		return nil, err
	}

	var tmp, m mat.Dense
	tmp.Mul(whiten.T(), sb)
	m.Mul(&tmp, whiten)
	msym := mat.NewSymDense(d, nil)
	for i := 0; i < d; i++ {
		for j := i; j < d; j++ {
			msym.SetSym(i, j, (m.At(i, j)+m.At(j, i))/2)
		}
	}

	var eig mat.EigenSym
	if ok := eig.Factorize(msym, true); !ok {
		return nil, fmt.Errorf("%w: discriminant eigen decomposition failed", ble.ErrSingularScatter)
	}
	values := eig.Values(nil)
	var u mat.Dense
	eig.VectorsTo(&u)
	var v mat.Dense
	v.Mul(whiten, &u)

	order := descending(values)
	var total float64
	for _, ev := range values {
		if ev > 0 {
			total += ev
		}
	}

	components := make([][]float64, k)
	ratio := make([]float64, k)
	for c := 0; c < k; c++ {
		col := mat.Col(nil, order[c], &v)
		for j := range col {
			col[j] *= scale[j]
		}
		orientComponent(col)
		components[c] = col
		if total > 0 {
			ratio[c] = math.Max(values[order[c]], 0) / total
		}
	}

	f := &Fitted{
		Header: newHeader(KindLDA, d, k, n),
		Linear: &LinearParams{
			Mean:                   mean,
			Components:             components,
			ExplainedVarianceRatio: ratio,
			Classes:                classes,
			Shrinkage:              opts.Shrinkage,
		},
	}
	if err := f.Linear.validate(d, k); err != nil {
		return nil, fmt.Errorf("%w: %v", ble.ErrSingularScatter, err)
	}
	return f, nil
}

// whitening returns W = Q·Λ^(-1/2) for the symmetric positive definite sw, or
// ErrSingularScatter when sw is not safely invertible.
func whitening(sw *mat.SymDense) (*mat.Dense, error) {
	d := sw.SymmetricDim()
	var eig mat.EigenSym
	if ok := eig.Factorize(sw, true); !ok {
		return nil, fmt.Errorf("%w: eigen decomposition failed", ble.ErrSingularScatter)
	}
	values := eig.Values(nil)
	lo, hi := values[0], values[len(values)-1]
	if hi <= 0 || lo <= hi/maxScatterCond {
		return nil, fmt.Errorf("%w: eigenvalues span [%g, %g]", ble.ErrSingularScatter, lo, hi)
	}
	var q mat.Dense
	eig.VectorsTo(&q)

	w := mat.NewDense(d, d, nil)
	for j := 0; j < d; j++ {
		s := 1 / math.Sqrt(values[j])
		for i := 0; i < d; i++ {
			w.Set(i, j, q.At(i, j)*s)
		}
	}
	return w, nil
}

// descending returns the indices of values sorted by decreasing value, ties
// broken by index.
func descending(values []float64) []int {
	order := make([]int, len(values))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return values[order[a]] > values[order[b]] })
	return order
}
