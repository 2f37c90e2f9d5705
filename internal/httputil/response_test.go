package httputil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/blelocate/internal/monitoring"
)

func TestMain(m *testing.M) {
	monitoring.SetLogger(nil)
	m.Run()
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body
}

func TestWriteJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteJSON(rec, http.StatusCreated, map[string]int{"tags": 3})

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, map[string]any{"tags": 3.0}, decode(t, rec))
}

func TestWriteJSON_UnencodableIsLogged(t *testing.T) {
	var logged []string
	monitoring.SetLogger(func(format string, v ...any) { logged = append(logged, format) })
	defer monitoring.SetLogger(nil)

	rec := httptest.NewRecorder()
	WriteJSON(rec, http.StatusOK, map[string]any{"bad": make(chan int)})

	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, logged, 1)
	assert.Contains(t, logged[0], "[http] failed to encode")
}

func TestErrors(t *testing.T) {
	for _, tc := range []struct {
		name   string
		write  func(http.ResponseWriter)
		status int
		msg    string
	}{
		{"error", func(w http.ResponseWriter) { WriteJSONError(w, http.StatusBadRequest, "bad window") }, http.StatusBadRequest, "bad window"},
		{"method", func(w http.ResponseWriter) { MethodNotAllowed(w, http.MethodGet) }, http.StatusMethodNotAllowed, "method not allowed"},
		{"unavailable", func(w http.ResponseWriter) { Unavailable(w, "no cycle yet") }, http.StatusServiceUnavailable, "no cycle yet"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			tc.write(rec)
			assert.Equal(t, tc.status, rec.Code)
			assert.Equal(t, map[string]any{"error": tc.msg}, decode(t, rec))
		})
	}

	rec := httptest.NewRecorder()
	MethodNotAllowed(rec, http.MethodGet)
	assert.Equal(t, http.MethodGet, rec.Header().Get("Allow"))
}
