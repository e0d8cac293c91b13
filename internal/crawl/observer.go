package crawl

import (
	"fmt"
	"io"
	"path/filepath"

	"storywalk/internal/checkpoint"
	"storywalk/internal/explore"
	"storywalk/internal/metrics"
	"storywalk/internal/runlog"
)

// observer turns explorer events into log records, metrics, checkpoint
// files, lifecycle events and operator prompts.
type observer struct {
	log         *runlog.Logger
	store       *checkpoint.Store
	metrics     *metrics.Metrics
	metricsFile string
	runDir      string
	prompt      func(explore.Progress) bool
	progress    io.Writer
	drawn       bool
}

func (o *observer) Fault(rec explore.ErrorRecord) {
	o.metrics.Fault(rec.Kind)
	o.log.Error(rec.Message,
		"kind", rec.Kind,
		"decision_point", rec.DecisionPoint,
		"path", rec.Path,
		"last_choice", rec.LastChoice,
	)
}

func (o *observer) Ending(fp explore.Fingerprint, d explore.EndingDetail, depth int) {
	o.metrics.Ending(depth)
	o.log.Ending("ending reached",
		"fingerprint", fp.Short(),
		"decision_point", d.DecisionPoint,
		"last_line", d.LastLine,
		"depth", depth,
	)
}

func (o *observer) Checkpoint(snap *explore.Snapshot) error {
	path, err := o.store.Save(snap)
	if err != nil {
		return err
	}
	o.metrics.Checkpoint(snap.Reason)
	o.log.Info("checkpoint saved", "sequence", snap.Sequence, "reason", snap.Reason, "file", filepath.Base(path), "endings", len(snap.Endings))
	_ = appendEvent(o.runDir, map[string]any{
		"type":     "CheckpointSaved",
		"sequence": snap.Sequence,
		"reason":   snap.Reason,
		"final":    snap.Final,
		"file":     filepath.Base(path),
	})
	if o.metricsFile != "" {
		if err := o.metrics.WriteTextfile(o.metricsFile); err != nil {
			o.log.Warn("metrics textfile", "error", err)
		}
	}
	return nil
}

func (o *observer) Progress(p explore.Progress) {
	o.metrics.Progress(p)
	o.log.Info("progress",
		"choices", p.Totals.ChoicesCount,
		"endings", p.Totals.EndingsCount,
		"errors", p.Errors,
		"frontier", p.FrontierSize,
		"visited", p.VisitedSize,
		"depth", p.CurrentDepth,
		"heap_mb", p.HeapInUse>>20,
	)
	if o.progress != nil {
		fmt.Fprintf(o.progress, "\rchoices %d | endings %d | errors %d | frontier %d | heap %d MB   ",
			p.Totals.ChoicesCount, p.Totals.EndingsCount, p.Errors, p.FrontierSize, p.HeapInUse>>20)
		o.drawn = true
	}
}

func (o *observer) Milestone(p explore.Progress) bool {
	_ = appendEvent(o.runDir, map[string]any{"type": "MilestoneReached", "endings": p.Totals.EndingsCount})
	o.log.Info("milestone reached", "endings", p.Totals.EndingsCount)
	if o.prompt == nil {
		return true
	}
	o.endProgress()
	ok := o.prompt(p)
	if !ok {
		o.log.Info("operator declined to continue", "endings", p.Totals.EndingsCount)
	}
	return ok
}

// endProgress moves past the status line so later output starts clean.
func (o *observer) endProgress() {
	if o.drawn && o.progress != nil {
		fmt.Fprintln(o.progress)
		o.drawn = false
	}
}
