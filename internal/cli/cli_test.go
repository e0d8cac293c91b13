package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storywalk/internal/explore"
	"storywalk/internal/server"
)

const doors = `digraph doors {
  start [text="Two doors."]
  win [text="You won."]
  lose [text="You lost.", assert="false"]
  start -> win [choice="Left"]
  start -> lose [choice="Right"]
}`

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	cmd := RootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetIn(strings.NewReader(""))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), errOut.String(), err
}

func writeStory(t *testing.T, dot string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "doors.dot")
	require.NoError(t, os.WriteFile(p, []byte(dot), 0o644))
	return p
}

func TestRunReportExport(t *testing.T) {
	storyPath := writeStory(t, doors)
	runsdir := filepath.Join(t.TempDir(), "runs")

	out, errOut, err := execute(t, "run", storyPath, "--runsdir", runsdir, "--run-id", "cli", "--batch-size", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "Run cli completed")
	assert.Contains(t, out, "errors:   1")
	assert.Contains(t, errOut, "level=ERROR", "runtime fault should reach the console")

	reportPath := filepath.Join(runsdir, "cli", "report.json")
	out, _, err = execute(t, "report", reportPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Total Choices Clicked: 2")
	assert.Contains(t, out, "Total Number of Unique Errors: 1")
	assert.Contains(t, out, "End of Report")

	textPath := filepath.Join(t.TempDir(), "report.txt")
	_, _, err = execute(t, "report", reportPath, "-o", textPath)
	require.NoError(t, err)
	text, err := os.ReadFile(textPath)
	require.NoError(t, err)
	assert.Contains(t, string(text), "End of Report")

	dbPath := filepath.Join(t.TempDir(), "runs.db")
	out, _, err = execute(t, "export", reportPath, "--db", dbPath)
	require.NoError(t, err)
	assert.Contains(t, out, "exported run cli")
	_, err = os.Stat(dbPath)
	require.NoError(t, err)
}

func TestRunArguments(t *testing.T) {
	_, _, err := execute(t, "run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing story path")

	storyPath := writeStory(t, doors)
	_, _, err = execute(t, "run", storyPath, "--batch-size", "0", "--runsdir", t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "batch size")

	_, _, err = execute(t, "export", "report.json")
	require.Error(t, err, "--db is required")
}

func TestValidate(t *testing.T) {
	out, _, err := execute(t, "validate", writeStory(t, doors))
	require.NoError(t, err)
	assert.Contains(t, out, "ok (3 nodes")

	out, _, err = execute(t, "validate", writeStory(t, `digraph G { a; b; a -> b; }`))
	require.Error(t, err)
	assert.Equal(t, 1, ExitCode(err))
	assert.Contains(t, out, "ERROR: must have exactly one start node")
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 0, ExitCode(nil))
	assert.Equal(t, 1, ExitCode(errors.New("plain")))
	wrapped := fmt.Errorf("run: %w", &ExitError{Code: 3, Err: explore.ErrUnexpectedFault})
	assert.Equal(t, 3, ExitCode(wrapped))
	assert.ErrorIs(t, wrapped, explore.ErrUnexpectedFault)
}

func TestPrompt(t *testing.T) {
	var out bytes.Buffer
	ask := newPrompt(strings.NewReader("y\nno\n"), &out)
	p := explore.Progress{Totals: explore.Counters{EndingsCount: 10}}
	assert.True(t, ask(p))
	assert.False(t, ask(p))
	assert.False(t, ask(p), "EOF declines")
	assert.Contains(t, out.String(), "Reached 10 endings")
}

func TestServeShutsDownOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv := server.New(server.Options{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serve(ctx, srv.HTTPServer(ln.Addr().String()), ln, discardLog{}) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

type discardLog struct{}

func (discardLog) Info(string, ...any) {}
