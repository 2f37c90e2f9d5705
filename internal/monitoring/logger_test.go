package monitoring

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSetLogger(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	called := false
	SetLogger(func(format string, v ...interface{}) { called = true })
	Logf("test message")
	assert.True(t, called, "custom logger was not called")

	SetLogger(nil)
	assert.NotPanics(t, func() { Logf("muted %d", 1) })
}

func TestPrefixed(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	var lines []string
	SetLogger(func(format string, v ...interface{}) {
		lines = append(lines, fmt.Sprintf(format, v...))
	})

	logf := Prefixed("localize")
	logf("tick %d", 3)

	// Swapping the logger after Prefixed still takes effect.
	var late []string
	SetLogger(func(format string, v ...interface{}) {
		late = append(late, fmt.Sprintf(format, v...))
	})
	logf("tick %d", 4)

	assert.Equal(t, []string{"[localize] tick 3"}, lines)
	assert.Equal(t, []string{"[localize] tick 4"}, late)
}

func TestMetricsRegistered(t *testing.T) {
	LocalizeTicks.WithLabelValues("ok").Inc()
	ReducedVectors.Add(2)
	ActiveTags.Set(3)
	assert.NotPanics(t, func() { LocalizeDuration.Observe(0.01) })
}
