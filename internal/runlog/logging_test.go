package runlog

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"":        LevelEnding,
		"Ending":  LevelEnding,
		"info":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
	}
	for raw, want := range tests {
		assert.Equal(t, want, ParseLevel(raw), raw)
	}
}

func TestFileAndConsoleSinks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.log")
	var console bytes.Buffer
	l, err := New(Options{Level: "ending", File: path, Console: &console})
	require.NoError(t, err)

	l.Debug("hidden")
	l.Ending("ending reached", "decision_point", "home")
	l.Info("checkpoint saved")
	l.Error("fault", "kind", "loop")
	require.NoError(t, l.Close())
	require.NoError(t, l.Close())

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	file := string(b)
	assert.NotContains(t, file, "hidden")
	assert.Contains(t, file, "level=ENDING")
	assert.Contains(t, file, "decision_point=home")
	assert.Contains(t, file, "checkpoint saved")
	assert.Contains(t, file, "level=ERROR")

	out := console.String()
	assert.Equal(t, 1, strings.Count(out, "\n"), "console shows errors only")
	assert.Contains(t, out, "kind=loop")
	assert.NotContains(t, out, "\x1b[")
}

func TestJSONFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.log")
	l, err := New(Options{Level: "ending", Format: "json", File: path})
	require.NoError(t, err)
	l.With("run_id", "r1").Ending("done")
	require.NoError(t, l.Close())

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"level":"ENDING"`)
	assert.Contains(t, string(b), `"run_id":"r1"`)
}

func TestColouredConsole(t *testing.T) {
	var console bytes.Buffer
	l, err := New(Options{Console: &console, Color: true})
	require.NoError(t, err)
	l.Error("boom")
	assert.Contains(t, console.String(), "\x1b[31m")
}

func TestWithKeepsEndingLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.log")
	l, err := New(Options{File: path})
	require.NoError(t, err)
	child := l.With("run_id", "r2")
	child.Ending("ending reached", "decision_point", "cellar")
	assert.NoError(t, child.Close(), "a child owns no sinks")
	require.NoError(t, l.Close())

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), "level=ENDING")
	assert.Contains(t, string(b), "run_id=r2")
}

func TestStreamSink(t *testing.T) {
	var stream bytes.Buffer
	l, err := New(Options{Level: "info", Stream: &stream})
	require.NoError(t, err)

	l.Ending("skipped below info")
	l.Info("request", "status", 200)
	assert.NotContains(t, stream.String(), "skipped")
	assert.Contains(t, stream.String(), "status=200")
}
