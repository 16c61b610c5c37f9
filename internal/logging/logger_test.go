package logging

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger(t *testing.T) *Logger {
	t.Helper()
	l, err := New(&Config{
		LogDir:     t.TempDir(),
		Level:      "debug",
		MaxHistory: 3,
		Console:    false,
	})
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func TestWritesToFile(t *testing.T) {
	l := newTestLogger(t)
	cl := l.Component("test")
	cl.Info().Msg("hello log")

	data, err := os.ReadFile(l.Path())
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello log")
	assert.Contains(t, string(data), `"component":"test"`)
}

func TestHistoryBounded(t *testing.T) {
	l := newTestLogger(t)
	log := l.Zerolog()

	log.Info().Msg("one")
	log.Info().Msg("two")
	log.Info().Msg("three")
	log.Info().Msg("four")

	hist := l.History(0)
	require.Len(t, hist, 3)
	// Oldest entries fall off the front.
	assert.Equal(t, "two", hist[0].Message)
	assert.Equal(t, "four", hist[2].Message)
}

func TestHistoryCarriesComponent(t *testing.T) {
	l := newTestLogger(t)
	cl := l.Component("gateway")
	cl.Info().Msg("surface connected")

	hist := l.History(0)
	require.NotEmpty(t, hist)
	last := hist[len(hist)-1]
	assert.Equal(t, "gateway", last.Component)
	assert.Equal(t, "surface connected", last.Message)
}

func TestSetLevelFilters(t *testing.T) {
	l := newTestLogger(t)
	l.SetLevel("error")
	defer l.SetLevel("debug")

	cl := l.Component("test")
	cl.Info().Msg("below threshold")
	cl.Error().Msg("kept")

	hist := l.History(0)
	require.NotEmpty(t, hist)
	assert.Equal(t, "kept", hist[len(hist)-1].Message)
	for _, e := range hist {
		assert.NotEqual(t, "below threshold", e.Message)
	}
}

func TestHistoryLimit(t *testing.T) {
	l := newTestLogger(t)
	log := l.Zerolog()
	log.Info().Msg("a")
	log.Info().Msg("b")

	hist := l.History(1)
	require.Len(t, hist, 1)
	assert.Equal(t, "b", hist[0].Message)
}
