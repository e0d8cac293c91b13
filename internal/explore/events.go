package explore

import "time"

// Counters are the run statistics. In a Snapshot the additive fields are
// per-epoch deltas and the Max fields are per-epoch maxima.
type Counters struct {
	ChoicesCount           int `json:"choicesCount"`
	EndingsCount           int `json:"endingsCount"`
	MaxDepthReached        int `json:"maxDepthReached"`
	MaxDepthAborts         int `json:"maxDepthAborts"`
	MaxStepsBetweenChoices int `json:"maxStepsBetweenChoices"`
	// SuppressedErrors counts faults dropped as duplicates by the ledger.
	SuppressedErrors int `json:"suppressedErrors"`
}

// Merge sums the additive fields and keeps the larger maxima.
func (c Counters) Merge(o Counters) Counters {
	return Counters{
		ChoicesCount:           c.ChoicesCount + o.ChoicesCount,
		EndingsCount:           c.EndingsCount + o.EndingsCount,
		MaxDepthReached:        max(c.MaxDepthReached, o.MaxDepthReached),
		MaxDepthAborts:         c.MaxDepthAborts + o.MaxDepthAborts,
		MaxStepsBetweenChoices: max(c.MaxStepsBetweenChoices, o.MaxStepsBetweenChoices),
		SuppressedErrors:       c.SuppressedErrors + o.SuppressedErrors,
	}
}

// Snapshot is what one checkpoint flush persists.
type Snapshot struct {
	Sequence  int           `json:"sequence"`
	Final     bool          `json:"final"`
	Reason    string        `json:"reason"`
	WrittenAt time.Time     `json:"writtenAt"`
	Endings   []EndingCount `json:"endingCounts"`
	Counters  Counters      `json:"counters"`
	Totals    Counters      `json:"totals"`
	Errors    []ErrorRecord `json:"errors"`
	// Resume is nil once the frontier is exhausted.
	Resume *ResumePoint `json:"-"`
}

// ResumePoint is enough state to continue a run from a checkpoint boundary.
type ResumePoint struct {
	NextSequence  int           `json:"nextSequence"`
	Totals        Counters      `json:"totals"`
	Frontier      []Frame       `json:"frontier"`
	Errors        []ErrorRecord `json:"errors"`
	LastMilestone int           `json:"lastMilestone"`
}

// Progress is a point-in-time view of the search for display.
type Progress struct {
	Totals       Counters
	Errors       int
	FrontierSize int
	VisitedSize  int
	CurrentDepth int
	HeapInUse    uint64
}

// Observer receives everything the driving loop wants done outside the
// search: logging, display, prompting and persistence.
type Observer interface {
	Fault(rec ErrorRecord)
	Ending(fp Fingerprint, d EndingDetail, depth int)
	Checkpoint(snap *Snapshot) error
	Progress(p Progress)
	// Milestone asks whether to keep going. False stops the run.
	Milestone(p Progress) bool
}

// NopObserver ignores every event and always continues.
type NopObserver struct{}

func (NopObserver) Fault(ErrorRecord)                     {}
func (NopObserver) Ending(Fingerprint, EndingDetail, int) {}
func (NopObserver) Checkpoint(*Snapshot) error            { return nil }
func (NopObserver) Progress(Progress)                     {}
func (NopObserver) Milestone(Progress) bool               { return true }
