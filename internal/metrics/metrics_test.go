package metrics

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storywalk/internal/explore"
)

func TestCollectors(t *testing.T) {
	m := New()
	m.Fault(explore.KindLoop)
	m.Fault(explore.KindLoop)
	m.Fault(explore.KindRuntime)
	m.Ending(2)
	m.Checkpoint("batch")
	m.RunFinished(explore.Completed)
	m.Progress(explore.Progress{
		Totals:       explore.Counters{ChoicesCount: 12, MaxDepthReached: 4},
		FrontierSize: 3,
		VisitedSize:  7,
	})

	assert.Equal(t, 2.0, testutil.ToFloat64(m.faults.WithLabelValues("loop")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.faults.WithLabelValues("runtime")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.endings))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.checkpoints.WithLabelValues("batch")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("completed")))
	assert.Equal(t, 12.0, testutil.ToFloat64(m.choices))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.maxDepth))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.frontierSize))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.visitedSize))
}

func TestInstancesDoNotShareRegistry(t *testing.T) {
	a, b := New(), New()
	a.Ending(1)
	assert.Equal(t, 0.0, testutil.ToFloat64(b.endings))
}

func TestWriteTextfile(t *testing.T) {
	m := New()
	m.Ending(1)
	path := filepath.Join(t.TempDir(), "storywalk.prom")
	require.NoError(t, m.WriteTextfile(path))
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), "storywalk_endings_total 1")
}

func TestHandler(t *testing.T) {
	m := New()
	m.Checkpoint("memory")
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `storywalk_checkpoints_total{reason="memory"} 1`))
}
