package modelstore

import (
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/blelocate/internal/ble"
	"github.com/banshee-data/blelocate/internal/fsutil"
	"github.com/banshee-data/blelocate/internal/testutil"
	"github.com/banshee-data/blelocate/internal/transform"
)

func ldaModel(method string, window time.Duration) *transform.Fitted {
	return &transform.Fitted{
		Header: transform.Header{
			Kind:              transform.KindLDA,
			Method:            method,
			SchemaVersion:     transform.SchemaVersion,
			RunID:             "0b4f6a0e-4a51-4f38-9d4c-6d1d3f2b8a11",
			CreatedAt:         time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
			InputDim:          3,
			OutputDim:         2,
			FitRecordCount:    90,
			TimeWindow:        window,
			Beacons:           []string{"a", "b", "c"},
			BeaconFingerprint: ble.MustBeaconSet("a", "b", "c").Fingerprint(),
			Aggregation:       "mean",
			Mode:              "tumbling",
			Sentinel:          300,
			Preprocess:        "boxcox",
			PreprocessRunID:   "c1d7c8a2-2a3e-4c5e-8f0f-3f1f9b2c0d44",
		},
		Linear: &transform.LinearParams{
			Mean:                   []float64{1, 2, 3},
			Components:             [][]float64{{1, 0, 0}, {0, 0.5, 0.5}},
			ExplainedVarianceRatio: []float64{0.8, 0.2},
			Classes:                []string{"hall", "kitchen", "lounge"},
		},
	}
}

func boxcoxModel(window time.Duration) *transform.Fitted {
	return &transform.Fitted{
		Header: transform.Header{
			Kind:          transform.KindBoxCox,
			Method:        "boxcox",
			SchemaVersion: transform.SchemaVersion,
			RunID:         "c1d7c8a2-2a3e-4c5e-8f0f-3f1f9b2c0d44",
			InputDim:      3,
			OutputDim:     3,
			TimeWindow:    window,
		},
		BoxCox: &transform.BoxCoxParams{Lambdas: []float64{0.1, -0.3, 1.2}, Policy: transform.PolicyShift, Shift: 1},
	}
}

func TestEncodeDecode(t *testing.T) {
	for _, f := range []*transform.Fitted{ldaModel("boxcox-lda", 5*time.Minute), boxcoxModel(time.Minute)} {
		t.Run(string(f.Kind), func(t *testing.T) {
			data, err := Encode(f)
			require.NoError(t, err)

			var raw map[string]json.RawMessage
			require.NoError(t, json.Unmarshal(data, &raw))
			assert.Contains(t, raw, "header")
			assert.Contains(t, raw, "parameters")

			got, err := Decode(data)
			require.NoError(t, err)
			assert.Equal(t, f, got)
		})
	}
}

func TestEncode_RejectsInvalid(t *testing.T) {
	f := ldaModel("lda", time.Minute)
	f.Linear.Mean = []float64{1}
	_, err := Encode(f)
	assert.Error(t, err)
}

func TestDecode_Errors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not json", "{"},
		{"unknown kind", `{"header":{"kind":"tsne","schema_version":1,"input_dimension":1,"output_dimension":1},"parameters":{}}`},
		{"bad parameters", `{"header":{"kind":"boxcox","schema_version":1,"input_dimension":1,"output_dimension":1},"parameters":[1]}`},
		{"invalid shape", `{"header":{"kind":"boxcox","schema_version":1,"input_dimension":2,"output_dimension":2},"parameters":{"lambdas":[1]}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.data))
			assert.Error(t, err)
		})
	}
}

func TestStore_Path(t *testing.T) {
	s := New(fsutil.NewMemoryFileSystem(), "/models")

	p, err := s.Path(Key{Version: "v1", Method: "boxcox-lda", TimeWindow: 300 * time.Second})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/models", "v1", "model", "boxcox-lda", "t=300.json"), p)

	p, err = s.Path(Key{Version: "v1", Method: "lda", TimeWindow: 1500 * time.Millisecond})
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(p, "t=1.5.json"), p)

	for _, k := range []Key{
		{Version: "..", Method: "lda", TimeWindow: time.Second},
		{Version: "v1", Method: "../lda", TimeWindow: time.Second},
		{Version: "", Method: "lda", TimeWindow: time.Second},
		{Version: "v1", Method: "lda"},
	} {
		_, err := s.Path(k)
		assert.Error(t, err, "%+v", k)
	}
}

func TestStore_SaveLoad(t *testing.T) {
	mem := fsutil.NewMemoryFileSystem()
	s := New(mem, "/models")
	key := Key{Version: "v1", Method: "boxcox-lda", TimeWindow: 5 * time.Minute}
	f := ldaModel(key.Method, key.TimeWindow)

	assert.False(t, s.Exists(key))
	_, err := s.Load(key)
	testutil.AssertErrorIs(t, err, ble.ErrMissingModel)

	require.NoError(t, s.Save(key, f))
	assert.True(t, s.Exists(key))
	assert.Equal(t, []string{"/models/v1/model/boxcox-lda/t=300.json"}, mem.Files("/models"),
		"no temporary files are left behind")

	got, err := s.Load(key)
	require.NoError(t, err)
	assert.Equal(t, f, got)

	require.NoError(t, s.Remove(key))
	assert.False(t, s.Exists(key))
	require.NoError(t, s.Remove(key), "removing a missing model is not an error")
}

func TestStore_SaveRejectsMismatchedHeader(t *testing.T) {
	mem := fsutil.NewMemoryFileSystem()
	s := New(mem, "/models")
	key := Key{Version: "v1", Method: "lda", TimeWindow: time.Minute}

	err := s.Save(key, ldaModel("boxcox-lda", time.Minute))
	testutil.AssertErrorIs(t, err, ble.ErrConfigMismatch)
	err = s.Save(key, ldaModel("lda", 2*time.Minute))
	testutil.AssertErrorIs(t, err, ble.ErrConfigMismatch)
	assert.Empty(t, mem.Files("/models"))
}

func TestStore_LoadDetectsMisplacedFile(t *testing.T) {
	mem := fsutil.NewMemoryFileSystem()
	s := New(mem, "/models")
	src := Key{Version: "v1", Method: "lda", TimeWindow: time.Minute}
	dst := Key{Version: "v1", Method: "lda", TimeWindow: 2 * time.Minute}
	require.NoError(t, s.Save(src, ldaModel("lda", time.Minute)))

	from, _ := s.Path(src)
	to, _ := s.Path(dst)
	require.NoError(t, mem.Rename(from, to))

	_, err := s.Load(dst)
	testutil.AssertErrorIs(t, err, ble.ErrConfigMismatch)
}

func TestStore_LoadCorrupt(t *testing.T) {
	mem := fsutil.NewMemoryFileSystem()
	s := New(mem, "/models")
	key := Key{Version: "v1", Method: "lda", TimeWindow: time.Minute}
	p, _ := s.Path(key)
	require.NoError(t, fsutil.WriteFileAtomic(mem, p, []byte("not json"), 0o644))

	_, err := s.Load(key)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ble.ErrMissingModel)
}

func TestStore_List(t *testing.T) {
	s := New(fsutil.NewMemoryFileSystem(), "/models")
	for _, w := range []time.Duration{5 * time.Minute, 30 * time.Second, time.Minute} {
		key := Key{Version: "v1", Method: "lda", TimeWindow: w}
		require.NoError(t, s.Save(key, ldaModel("lda", w)))
	}
	require.NoError(t, s.Save(Key{Version: "v1", Method: "boxcox", TimeWindow: time.Minute}, boxcoxModel(time.Minute)))

	keys, err := s.List("v1", "lda")
	require.NoError(t, err)
	require.Len(t, keys, 3)
	assert.Equal(t, 30*time.Second, keys[0].TimeWindow)
	assert.Equal(t, 5*time.Minute, keys[2].TimeWindow)

	keys, err = s.List("v2", "lda")
	require.NoError(t, err)
	assert.Empty(t, keys)

	_, err = s.List("../v1", "lda")
	assert.Error(t, err)
}

func TestStore_OSFileSystem(t *testing.T) {
	root := t.TempDir()
	s := New(fsutil.OSFileSystem{}, root)
	key := Key{Version: "v1", Method: "boxcox", TimeWindow: time.Minute}
	f := boxcoxModel(time.Minute)

	require.NoError(t, s.Save(key, f))
	got, err := s.Load(key)
	require.NoError(t, err)
	assert.Equal(t, f, got)
	assert.Equal(t, root, s.Root())
}
