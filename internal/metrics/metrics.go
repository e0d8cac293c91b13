// Package metrics exposes exploration progress as Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"storywalk/internal/explore"
)

// Metrics holds the collectors of one process. Each instance owns its
// registry so several runs can be observed side by side.
type Metrics struct {
	reg *prometheus.Registry

	runs        *prometheus.CounterVec
	faults      *prometheus.CounterVec
	endings     prometheus.Counter
	checkpoints *prometheus.CounterVec
	endingDepth prometheus.Histogram

	choices      prometheus.Gauge
	depthAborts  prometheus.Gauge
	maxDepth     prometheus.Gauge
	maxSteps     prometheus.Gauge
	frontierSize prometheus.Gauge
	visitedSize  prometheus.Gauge
	heapInUse    prometheus.Gauge
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		reg: reg,
		runs: f.NewCounterVec(prometheus.CounterOpts{
			Name: "storywalk_runs_total",
			Help: "Exploration runs by outcome",
		}, []string{"outcome"}),
		faults: f.NewCounterVec(prometheus.CounterOpts{
			Name: "storywalk_faults_total",
			Help: "Distinct faults recorded, by kind",
		}, []string{"kind"}),
		endings: f.NewCounter(prometheus.CounterOpts{
			Name: "storywalk_endings_total",
			Help: "Endings reached",
		}),
		checkpoints: f.NewCounterVec(prometheus.CounterOpts{
			Name: "storywalk_checkpoints_total",
			Help: "Checkpoint snapshots written, by reason",
		}, []string{"reason"}),
		endingDepth: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "storywalk_ending_depth",
			Help:    "Number of choices taken to reach an ending",
			Buckets: prometheus.ExponentialBuckets(1, 2, 9),
		}),
		choices: f.NewGauge(prometheus.GaugeOpts{
			Name: "storywalk_choices",
			Help: "Choices processed so far",
		}),
		depthAborts: f.NewGauge(prometheus.GaugeOpts{
			Name: "storywalk_depth_aborts",
			Help: "Frames discarded at the depth limit",
		}),
		maxDepth: f.NewGauge(prometheus.GaugeOpts{
			Name: "storywalk_max_depth_reached",
			Help: "Deepest frame popped",
		}),
		maxSteps: f.NewGauge(prometheus.GaugeOpts{
			Name: "storywalk_max_steps_between_choices",
			Help: "Longest narration run between two decision points",
		}),
		frontierSize: f.NewGauge(prometheus.GaugeOpts{
			Name: "storywalk_frontier_frames",
			Help: "Frames waiting on the frontier",
		}),
		visitedSize: f.NewGauge(prometheus.GaugeOpts{
			Name: "storywalk_visited_states",
			Help: "States in the visited set of the current epoch",
		}),
		heapInUse: f.NewGauge(prometheus.GaugeOpts{
			Name: "storywalk_heap_bytes",
			Help: "Heap in use at the last sample",
		}),
	}
}

func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

func (m *Metrics) Fault(kind explore.Kind) { m.faults.WithLabelValues(string(kind)).Inc() }

func (m *Metrics) Ending(depth int) {
	m.endings.Inc()
	m.endingDepth.Observe(float64(depth))
}

func (m *Metrics) Checkpoint(reason string) { m.checkpoints.WithLabelValues(reason).Inc() }

func (m *Metrics) RunFinished(outcome explore.Outcome) { m.runs.WithLabelValues(string(outcome)).Inc() }

func (m *Metrics) Progress(p explore.Progress) {
	m.choices.Set(float64(p.Totals.ChoicesCount))
	m.depthAborts.Set(float64(p.Totals.MaxDepthAborts))
	m.maxDepth.Set(float64(p.Totals.MaxDepthReached))
	m.maxSteps.Set(float64(p.Totals.MaxStepsBetweenChoices))
	m.frontierSize.Set(float64(p.FrontierSize))
	m.visitedSize.Set(float64(p.VisitedSize))
	m.heapInUse.Set(float64(p.HeapInUse))
}

// WriteTextfile writes the registry in the node exporter textfile format.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.reg)
}
