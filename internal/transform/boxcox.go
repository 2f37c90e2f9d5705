package transform

import (
	"fmt"
	"math"
	"sync"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/blelocate/internal/ble"
)

// DomainPolicy decides what happens to non-positive training values, which
// lie outside the classic Box-Cox domain.
type DomainPolicy string

const (
	// PolicyReject fails the fit.
	PolicyReject DomainPolicy = "reject"
	// PolicyShift adds a fixed offset to every value before fitting and
	// before every apply.
	PolicyShift DomainPolicy = "shift"
)

// Lambda search interval and resolution.
const (
	lambdaMin     = -5.0
	lambdaMax     = 5.0
	lambdaGrid    = 0.25
	lambdaTol     = 1e-9
	zeroLambdaEps = 1e-12
)

// BoxCoxOptions configures a Box-Cox fit.
type BoxCoxOptions struct {
	Policy DomainPolicy
	// Offset is added to every value under PolicyShift.
	Offset float64
}

// BoxCoxParams are the fitted per-column parameters.
type BoxCoxParams struct {
	Lambdas []float64    `json:"lambdas"`
	Policy  DomainPolicy `json:"policy"`
	Shift   float64      `json:"shift"`
}

func (p *BoxCoxParams) validate(dim int) error {
	if len(p.Lambdas) != dim {
		return fmt.Errorf("%w: %d lambdas for input dimension %d", ble.ErrDimensionMismatch, len(p.Lambdas), dim)
	}
	for i, l := range p.Lambdas {
		if math.IsNaN(l) || math.IsInf(l, 0) {
			return fmt.Errorf("lambda %d is not finite", i)
		}
	}
	return nil
}

// FitBoxCox estimates one lambda per column by maximum likelihood.
func FitBoxCox(features []ble.FeatureVector, opts BoxCoxOptions) (*Fitted, error) {
	d, err := uniformDim(features)
	if err != nil {
		return nil, err
	}
	if err := checkFinite(features); err != nil {
		return nil, fmt.Errorf("%w: %v", ble.ErrFit, err)
	}

	policy := opts.Policy
	if policy == "" {
		policy = PolicyReject
	}
	var shift float64
	switch policy {
	case PolicyReject:
	case PolicyShift:
		if math.IsNaN(opts.Offset) || math.IsInf(opts.Offset, 0) {
			return nil, fmt.Errorf("%w: shift offset must be finite", ble.ErrFit)
		}
		shift = opts.Offset
	default:
		return nil, fmt.Errorf("unknown box-cox domain policy %q", policy)
	}

	lambdas := make([]float64, d)
	col := make([]float64, len(features))
	for j := 0; j < d; j++ {
		for i, v := range features {
			col[i] = v[j] + shift
		}
		l, err := fitLambda(col)
		if err != nil {
			return nil, fmt.Errorf("%w: column %d: %v", ble.ErrFit, j, err)
		}
		lambdas[j] = l
	}

	f := &Fitted{
		Header: newHeader(KindBoxCox, d, d, len(features)),
		BoxCox: &BoxCoxParams{Lambdas: lambdas, Policy: policy, Shift: shift},
	}
	return f, nil
}

// fitLambda maximises the profile log-likelihood over a coarse grid and then
// refines around the best grid point with a golden-section search.
func fitLambda(x []float64) (float64, error) {
	for _, v := range x {
		if v <= 0 {
			return 0, fmt.Errorf("non-positive value %v", v)
		}
	}
	if floats.Min(x) == floats.Max(x) {
		return 0, fmt.Errorf("column is constant")
	}

	logs := make([]float64, len(x))
	for i, v := range x {
		logs[i] = math.Log(v)
	}
	sumLog := floats.Sum(logs)
	y := make([]float64, len(x))
	llf := func(lambda float64) float64 {
		for i, v := range x {
			y[i] = boxcox(v, logs[i], lambda)
		}
		_, variance := stat.PopMeanVariance(y, nil)
		if variance <= 0 || math.IsNaN(variance) || math.IsInf(variance, 0) {
			return math.Inf(-1)
		}
		n := float64(len(x))
		return -n/2*math.Log(variance) + (lambda-1)*sumLog
	}

	best, bestVal := 0.0, math.Inf(-1)
	for l := lambdaMin; l <= lambdaMax+zeroLambdaEps; l += lambdaGrid {
		if v := llf(l); v > bestVal {
			best, bestVal = l, v
		}
	}
	if math.IsInf(bestVal, -1) {
		return 0, fmt.Errorf("likelihood is degenerate")
	}

	lo := math.Max(lambdaMin, best-lambdaGrid)
	hi := math.Min(lambdaMax, best+lambdaGrid)
	return goldenMax(llf, lo, hi, lambdaTol), nil
}

// goldenMax finds the maximiser of a unimodal f on [a, b].
func goldenMax(f func(float64) float64, a, b, tol float64) float64 {
	invPhi := (math.Sqrt(5) - 1) / 2
	c := b - invPhi*(b-a)
	d := a + invPhi*(b-a)
	fc, fd := f(c), f(d)
	for math.Abs(b-a) > tol {
		if fc > fd {
			b, d, fd = d, c, fc
			c = b - invPhi*(b-a)
			fc = f(c)
		} else {
			a, c, fc = c, d, fd
			d = a + invPhi*(b-a)
			fd = f(d)
		}
	}
	return (a + b) / 2
}

func boxcox(x, logx, lambda float64) float64 {
	if math.Abs(lambda) < zeroLambdaEps {
		return logx
	}
	return math.Expm1(lambda*logx) / lambda
}

// ApplyBoxCox transforms features with the fitted lambdas. The configured
// shift is applied first, exactly as during fitting.
func ApplyBoxCox(f *Fitted, features []ble.FeatureVector) ([]ble.FeatureVector, error) {
	if f == nil || f.Kind != KindBoxCox || f.BoxCox == nil {
		return nil, fmt.Errorf("not a box-cox transform")
	}
	if err := checkDims(features, f.InputDim); err != nil {
		return nil, err
	}
	p := f.BoxCox
	out := make([]ble.FeatureVector, len(features))
	for i, v := range features {
		row := make(ble.FeatureVector, len(v))
		for j, x := range v {
			x += p.Shift
			if !(x > 0) || math.IsInf(x, 0) {
				return nil, fmt.Errorf("%w: vector %d feature %d value %v", ble.ErrDomain, i, j, v[j])
			}
			row[j] = boxcox(x, math.Log(x), p.Lambdas[j])
		}
		if err := row.CheckFinite(); err != nil {
			return nil, fmt.Errorf("%w: vector %d: %v", ble.ErrDomain, i, err)
		}
		out[i] = row
	}
	return out, nil
}

// InverseBoxCox maps transformed values back to the original scale.
func InverseBoxCox(f *Fitted, features []ble.FeatureVector) ([]ble.FeatureVector, error) {
	if f == nil || f.Kind != KindBoxCox || f.BoxCox == nil {
		return nil, fmt.Errorf("not a box-cox transform")
	}
	if err := checkDims(features, f.InputDim); err != nil {
		return nil, err
	}
	p := f.BoxCox
	out := make([]ble.FeatureVector, len(features))
	for i, v := range features {
		row := make(ble.FeatureVector, len(v))
		for j, y := range v {
			lambda := p.Lambdas[j]
			var x float64
			if math.Abs(lambda) < zeroLambdaEps {
				x = math.Exp(y)
			} else {
				base := lambda*y + 1
				if base <= 0 {
					return nil, fmt.Errorf("%w: vector %d feature %d value %v", ble.ErrDomain, i, j, y)
				}
				x = math.Exp(math.Log(base) / lambda)
			}
			row[j] = x - p.Shift
		}
		if err := row.CheckFinite(); err != nil {
			return nil, fmt.Errorf("%w: vector %d: %v", ble.ErrDomain, i, err)
		}
		out[i] = row
	}
	return out, nil
}

// FitState is the lifecycle of a BoxCoxFitter.
type FitState int

const (
	StateUnfit FitState = iota
	StateFitting
	StateFitted
)

func (s FitState) String() string {
	switch s {
	case StateUnfit:
		return "unfit"
	case StateFitting:
		return "fitting"
	case StateFitted:
		return "fitted"
	default:
		return fmt.Sprintf("FitState(%d)", int(s))
	}
}

// BoxCoxFitter tracks the unfit → fitting → fitted lifecycle of a single
// Box-Cox fit. A failed fit returns the fitter to unfit; a fitted fitter
// refuses to fit again so the transform it handed out stays authoritative.
type BoxCoxFitter struct {
	opts BoxCoxOptions

	mu     sync.Mutex
	state  FitState
	fitted *Fitted
}

// NewBoxCoxFitter returns an unfit fitter.
func NewBoxCoxFitter(opts BoxCoxOptions) *BoxCoxFitter {
	return &BoxCoxFitter{opts: opts}
}

// State returns the current lifecycle state.
func (b *BoxCoxFitter) State() FitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Fitted returns the fitted transform, or nil before a successful Fit.
func (b *BoxCoxFitter) Fitted() *Fitted {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.fitted
}

// Fit runs FitBoxCox and records the result.
func (b *BoxCoxFitter) Fit(features []ble.FeatureVector) (*Fitted, error) {
	b.mu.Lock()
	if b.state != StateUnfit {
		state := b.state
		b.mu.Unlock()
		return nil, fmt.Errorf("box-cox fitter is %s", state)
	}
	b.state = StateFitting
	b.mu.Unlock()

	f, err := FitBoxCox(features, b.opts)

	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		b.state = StateUnfit
		return nil, err
	}
	b.state = StateFitted
	b.fitted = f
	return f, nil
}
