package transform

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/blelocate/internal/ble"
	"github.com/banshee-data/blelocate/internal/testutil"
)

func TestFitted_Validate(t *testing.T) {
	good := &Fitted{
		Header: Header{Kind: KindBoxCox, SchemaVersion: SchemaVersion, InputDim: 2, OutputDim: 2},
		BoxCox: &BoxCoxParams{Lambdas: []float64{0.5, 1}},
	}
	require.NoError(t, good.Validate())

	tests := []struct {
		name string
		f    *Fitted
	}{
		{"nil", nil},
		{"schema", &Fitted{Header: Header{Kind: KindBoxCox, SchemaVersion: 99, InputDim: 1, OutputDim: 1}, BoxCox: &BoxCoxParams{Lambdas: []float64{1}}}},
		{"dims", &Fitted{Header: Header{Kind: KindBoxCox, SchemaVersion: SchemaVersion}, BoxCox: &BoxCoxParams{}}},
		{"missing params", &Fitted{Header: Header{Kind: KindLDA, SchemaVersion: SchemaVersion, InputDim: 2, OutputDim: 1}}},
		{"lambda count", &Fitted{Header: Header{Kind: KindBoxCox, SchemaVersion: SchemaVersion, InputDim: 2, OutputDim: 2}, BoxCox: &BoxCoxParams{Lambdas: []float64{1}}}},
		{"component shape", &Fitted{
			Header: Header{Kind: KindPCA, SchemaVersion: SchemaVersion, InputDim: 2, OutputDim: 1},
			Linear: &LinearParams{Mean: []float64{0, 0}, Components: [][]float64{{1, 0, 0}}},
		}},
		{"unknown kind", &Fitted{Header: Header{Kind: "tsne", SchemaVersion: SchemaVersion, InputDim: 1, OutputDim: 1}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, tt.f.Validate())
		})
	}

	err := (&Fitted{Header: Header{Kind: KindBoxCox, SchemaVersion: 2, InputDim: 1, OutputDim: 1}}).Validate()
	testutil.AssertErrorIs(t, err, ble.ErrConfigMismatch)
}

func TestApply_Dispatch(t *testing.T) {
	bc := &Fitted{
		Header: Header{Kind: KindBoxCox, SchemaVersion: SchemaVersion, InputDim: 1, OutputDim: 1},
		BoxCox: &BoxCoxParams{Lambdas: []float64{1}},
	}
	y, err := Apply(bc, []ble.FeatureVector{{3}})
	require.NoError(t, err)
	assert.InDelta(t, 2, y[0][0], 1e-12, "lambda 1 is a shift by -1")

	lin := &Fitted{
		Header: Header{Kind: KindPCA, SchemaVersion: SchemaVersion, InputDim: 2, OutputDim: 1},
		Linear: &LinearParams{Mean: []float64{1, 1}, Components: [][]float64{{1, -1}}},
	}
	y, err = Apply(lin, []ble.FeatureVector{{3, 2}})
	require.NoError(t, err)
	assert.InDelta(t, 1, y[0][0], 1e-12)

	_, err = Apply(nil, nil)
	assert.Error(t, err)
	_, err = Apply(&Fitted{Header: Header{Kind: "tsne"}}, nil)
	assert.Error(t, err)
}
