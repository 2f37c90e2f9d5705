package main

import (
	"net/http"
	"sync"
	"time"

	"github.com/banshee-data/blelocate/internal/ble"
	"github.com/banshee-data/blelocate/internal/httputil"
)

// latestResult is the JSON body of /api/latest.
type latestResult struct {
	Method     string              `json:"method"`
	TimeWindow string              `json:"time_window"`
	End        time.Time           `json:"end"`
	Vectors    []ble.LabeledVector `json:"vectors"`
}

// latest keeps the projections of the most recent successful localize cycle.
type latest struct {
	method string
	window time.Duration

	mu     sync.RWMutex
	result *latestResult
}

func (l *latest) update(end time.Time, out []ble.LabeledVector) {
	r := &latestResult{
		Method:     l.method,
		TimeWindow: l.window.String(),
		End:        end.UTC(),
		Vectors:    out,
	}
	l.mu.Lock()
	l.result = r
	l.mu.Unlock()
}

func (l *latest) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}
	l.mu.RLock()
	res := l.result
	l.mu.RUnlock()
	if res == nil {
		httputil.Unavailable(w, "no localize cycle has produced a result yet")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}
