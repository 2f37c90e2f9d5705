package transform

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/blelocate/internal/ble"
	"github.com/banshee-data/blelocate/internal/testutil"
)

func TestFitPCA_Line(t *testing.T) {
	rng := rand.New(rand.NewPCG(9, 10))
	var x []ble.FeatureVector
	for i := 0; i < 200; i++ {
		s := rng.NormFloat64() * 10
		x = append(x, ble.FeatureVector{s + 0.1*rng.NormFloat64(), 2*s + 0.1*rng.NormFloat64()})
	}
	f, err := FitPCA(x, 1)
	require.NoError(t, err)
	assert.Equal(t, KindPCA, f.Kind)
	assert.Equal(t, 1, f.OutputDim)

	c := f.Linear.Components[0]
	assert.InDelta(t, 1/math.Sqrt(5), c[0], 1e-2)
	assert.InDelta(t, 2/math.Sqrt(5), c[1], 1e-2)
	assert.Greater(t, f.Linear.ExplainedVarianceRatio[0], 0.99)

	y, err := Apply(f, x)
	require.NoError(t, err)
	require.Len(t, y, len(x))
	assert.Len(t, y[0], 1)
}

func TestFitPCA_DefaultsAndErrors(t *testing.T) {
	x, _ := clusters(threeRooms, 10, 2, 11)
	f, err := FitPCA(x, 0)
	require.NoError(t, err)
	assert.Equal(t, 4, f.OutputDim)

	_, err = FitPCA(x[:1], 0)
	testutil.AssertErrorIs(t, err, ble.ErrInsufficientData)

	_, err = FitPCA(x, 5)
	testutil.AssertErrorIs(t, err, ble.ErrFit)

	flat := []ble.FeatureVector{{1, 1}, {1, 1}, {1, 1}}
	_, err = FitPCA(flat, 1)
	testutil.AssertErrorIs(t, err, ble.ErrFit)
}
