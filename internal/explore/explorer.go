// Package explore walks every reachable decision path of a narrative
// interpreter depth-first, deduplicating states per checkpoint epoch and
// recording faults once per (decision point, kind).
package explore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrUnexpectedFault = errors.New("unexpected fault during traversal")
	ErrNothingToResume = errors.New("resume point has an empty frontier")
)

// Outcome says how Run ended.
type Outcome string

const (
	Completed   Outcome = "completed"
	Declined    Outcome = "declined"
	Interrupted Outcome = "interrupted"
	Failed      Outcome = "failed"
)

const progressEvery = 1000

// State is the single aggregate the driving loop mutates.
type State struct {
	Frontier *Frontier
	Visited  map[Fingerprint]struct{}
	Endings  *EndingTally
	Ledger   *Ledger
	Totals   Counters

	epoch         Counters
	sequence      int
	batch         int
	frames        int
	sinceSample   int
	lastMilestone int
}

func newState(frontier *Frontier, ledger *Ledger) *State {
	return &State{
		Frontier: frontier,
		Visited:  map[Fingerprint]struct{}{},
		Endings:  NewEndingTally(),
		Ledger:   ledger,
	}
}

func (s *State) countChoice(depth int) {
	if depth > 0 {
		s.Totals.ChoicesCount++
		s.epoch.ChoicesCount++
	}
	s.Totals.MaxDepthReached = max(s.Totals.MaxDepthReached, depth)
	s.epoch.MaxDepthReached = max(s.epoch.MaxDepthReached, depth)
}

func (s *State) countDepthAbort() {
	s.Totals.MaxDepthAborts++
	s.epoch.MaxDepthAborts++
}

func (s *State) countEnding() {
	s.Totals.EndingsCount++
	s.epoch.EndingsCount++
}

func (s *State) countSuppressed() {
	s.Totals.SuppressedErrors++
	s.epoch.SuppressedErrors++
}

func (s *State) countSteps(n int) {
	s.Totals.MaxStepsBetweenChoices = max(s.Totals.MaxStepsBetweenChoices, n)
	s.epoch.MaxStepsBetweenChoices = max(s.epoch.MaxStepsBetweenChoices, n)
}

func (s *State) rollEpoch() {
	clear(s.Visited)
	s.Endings.Reset()
	s.epoch = Counters{}
	s.batch = 0
	s.sequence++
}

type Options struct {
	Limits   Limits
	Observer Observer
	// Resume continues from a checkpoint instead of the interpreter's
	// current state.
	Resume    *ResumePoint
	HeapInUse func() uint64
	Now       func() time.Time
}

// cursor is what a fault raised right now should be attributed to.
type cursor struct {
	path  []string
	trace *ChoiceTrace
}

// Explorer is the depth-first driver. It is not safe for concurrent use.
type Explorer struct {
	interp Interpreter
	limits Limits
	obs    Observer
	state  *State
	heap   func() uint64
	now    func() time.Time

	cur               cursor
	lastDecisionPoint string
}

func New(interp Interpreter, opts Options) (*Explorer, error) {
	if err := opts.Limits.Validate(); err != nil {
		return nil, err
	}
	e := &Explorer{
		interp: interp,
		limits: opts.Limits,
		obs:    opts.Observer,
		heap:   opts.HeapInUse,
		now:    opts.Now,
	}
	if e.obs == nil {
		e.obs = NopObserver{}
	}
	if e.heap == nil {
		e.heap = HeapInUse
	}
	if e.now == nil {
		e.now = time.Now
	}

	ledger := NewLedger()
	ledger.now = e.now
	if rp := opts.Resume; rp != nil {
		if len(rp.Frontier) == 0 {
			return nil, ErrNothingToResume
		}
		frontier, err := NewFrontier(rp.Frontier...)
		if err != nil {
			return nil, fmt.Errorf("restore frontier: %w", err)
		}
		ledger.Restore(rp.Errors)
		e.state = newState(frontier, ledger)
		e.state.Totals = rp.Totals
		e.state.sequence = rp.NextSequence
		e.state.lastMilestone = rp.LastMilestone
	} else {
		root, err := interp.SerializeState()
		if err != nil {
			return nil, fmt.Errorf("serialize initial state: %w", err)
		}
		frontier, err := NewFrontier(Frame{State: root, Path: []string{}})
		if err != nil {
			return nil, err
		}
		e.state = newState(frontier, ledger)
	}
	e.lastDecisionPoint = interp.CurrentDecisionPoint()
	interp.OnError(func(message string) {
		e.fault(KindRuntime, message)
	})
	return e, nil
}

func (e *Explorer) State() *State { return e.state }

// Run drains the frontier. Cancelling ctx stops between frames; the final
// snapshot then carries a resume point. A panic or internal error while
// expanding a frame is recorded as an unexpected fault, the final snapshot
// is flushed best-effort and the returned error wraps ErrUnexpectedFault.
func (e *Explorer) Run(ctx context.Context) (Outcome, error) {
	for {
		if ctx.Err() != nil {
			return Interrupted, e.flush("interrupted", true)
		}
		fr, ok := e.state.Frontier.Pop()
		if !ok {
			break
		}
		if err := e.safeExpand(fr); err != nil {
			e.fault(KindUnexpected, err.Error())
			fatal := fmt.Errorf("%w: %v", ErrUnexpectedFault, err)
			if ferr := e.flush("fatal", true); ferr != nil {
				return Failed, errors.Join(fatal, ferr)
			}
			return Failed, fatal
		}
		proceed, err := e.afterFrame(fr)
		if err != nil {
			return Failed, err
		}
		if !proceed {
			return Declined, e.flush("declined", true)
		}
	}
	return Completed, e.flush("completed", true)
}

func (e *Explorer) safeExpand(fr Frame) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return e.expand(fr)
}

// expand processes one frame. Faults the story can cause are recorded and
// end the frame; only broken invariants are returned.
func (e *Explorer) expand(fr Frame) error {
	s := e.state
	s.countChoice(fr.Depth)
	if fr.Depth >= e.limits.MaxDepth {
		s.countDepthAbort()
		return nil
	}

	e.cur = cursor{path: fr.Path}
	if fr.Choice != "" {
		e.cur.trace = &ChoiceTrace{Label: fr.Choice, StateBefore: fr.Parent, StateAfter: fr.State}
	}
	if err := e.interp.LoadState(fr.State); err != nil {
		e.fault(KindRuntime, fmt.Sprintf("load state: %v", err))
		return nil
	}
	e.lastDecisionPoint = e.interp.CurrentDecisionPoint()

	fp := FingerprintOf(fr.State)
	if _, ok := s.Visited[fp]; ok {
		return nil
	}
	s.Visited[fp] = struct{}{}

	if !e.advance(fp) {
		return nil
	}
	choices := e.interp.CurrentChoices()
	if len(choices) == 0 {
		e.ending(fr.Depth)
		return nil
	}
	return e.branch(fr, choices)
}

// advance runs narration up to the next decision point under the loop and
// step-budget guards. It reports false when the frame was abandoned.
func (e *Explorer) advance(initial Fingerprint) bool {
	reps := newRepetitions(e.limits.LoopThreshold, initial)
	steps := 0
	for e.interp.CanAdvance() {
		if _, err := e.interp.Advance(); err != nil {
			e.fault(KindRuntime, err.Error())
			return false
		}
		steps++
		e.state.countSteps(steps)
		st, err := e.interp.SerializeState()
		if err != nil {
			e.fault(KindRuntime, fmt.Sprintf("serialize state: %v", err))
			return false
		}
		if reps.observe(FingerprintOf(st)) {
			e.fault(KindLoop, "Detected loop without choices")
			return false
		}
		if steps >= e.limits.MaxSteps {
			e.fault(KindStepBudget, fmt.Sprintf("Exceeded maximum of %d narration steps between choices", e.limits.MaxSteps))
			return false
		}
	}
	return true
}

func (e *Explorer) ending(depth int) {
	st, err := e.interp.SerializeState()
	if err != nil {
		e.fault(KindRuntime, fmt.Sprintf("serialize state: %v", err))
		return
	}
	fp := FingerprintOf(st)
	d := EndingDetail{
		DecisionPoint: e.interp.CurrentDecisionPoint(),
		LastLine:      strings.TrimSpace(e.interp.LastNarrationLine()),
	}
	e.state.Endings.Add(fp, d)
	e.state.countEnding()
	e.obs.Ending(fp, d, depth)
}

// branch applies every choice from the same parent state and pushes the
// unseen results.
func (e *Explorer) branch(fr Frame, choices []Choice) error {
	before, err := e.interp.SerializeState()
	if err != nil {
		e.fault(KindRuntime, fmt.Sprintf("serialize state: %v", err))
		return nil
	}
	for _, c := range choices {
		if err := e.interp.ApplyChoice(c.Index); err != nil {
			e.cur.trace = &ChoiceTrace{Label: c.Label, StateBefore: before}
			e.fault(KindRuntime, err.Error())
			return nil
		}
		after, err := e.interp.SerializeState()
		if err != nil {
			e.fault(KindRuntime, fmt.Sprintf("serialize state: %v", err))
			return nil
		}
		if _, seen := e.state.Visited[FingerprintOf(after)]; !seen {
			if err := e.state.Frontier.Push(fr.Child(c.Label, before, after)); err != nil {
				return err
			}
		}
		if err := e.interp.LoadState(before); err != nil {
			e.fault(KindRuntime, fmt.Sprintf("restore state: %v", err))
			return nil
		}
	}
	return nil
}

func (e *Explorer) fault(kind Kind, message string) {
	rec, fresh := e.state.Ledger.Record(kind, message, e.lastDecisionPoint, e.cur.path, e.cur.trace)
	if !fresh {
		e.state.countSuppressed()
		return
	}
	e.obs.Fault(rec)
}

// afterFrame applies the batch, milestone and memory policies. It reports
// false when the operator declined to continue.
func (e *Explorer) afterFrame(fr Frame) (bool, error) {
	s := e.state
	s.batch++
	s.frames++
	flushed := false
	if s.batch >= e.limits.BatchSize {
		if err := e.flush("batch", false); err != nil {
			return false, err
		}
		flushed = true
	}
	if s.frames%progressEvery == 0 && !flushed {
		e.obs.Progress(e.progress(fr.Depth))
	}

	if n := e.limits.ContinueInterval; n > 0 {
		endings := s.Totals.EndingsCount
		if endings > 0 && endings%n == 0 && endings != s.lastMilestone {
			s.lastMilestone = endings
			if !e.obs.Milestone(e.progress(fr.Depth)) {
				return false, nil
			}
		}
	}

	if flushed {
		return true, nil
	}
	reason := ""
	if t := e.limits.StepFlushThreshold; t > 0 && s.epoch.MaxStepsBetweenChoices > t {
		reason = "steps"
	}
	if e.limits.MemoryLimit > 0 {
		s.sinceSample++
		if s.sinceSample >= max(e.limits.MemorySampleEvery, 1) {
			s.sinceSample = 0
			if e.heap() > e.limits.MemoryLimit {
				reason = "memory"
			}
		}
	}
	if reason != "" {
		if err := e.flush(reason, false); err != nil {
			return false, err
		}
	}
	return true, nil
}

// flush hands the epoch to the observer and starts a new one. The frontier
// and ledger survive.
func (e *Explorer) flush(reason string, final bool) error {
	s := e.state
	snap := &Snapshot{
		Sequence:  s.sequence,
		Final:     final,
		Reason:    reason,
		WrittenAt: e.now().UTC(),
		Endings:   s.Endings.Rows(),
		Counters:  s.epoch,
		Totals:    s.Totals,
		Errors:    s.Ledger.Records(),
	}
	if s.Frontier.Len() > 0 {
		snap.Resume = &ResumePoint{
			NextSequence:  s.sequence + 1,
			Totals:        s.Totals,
			Frontier:      s.Frontier.Frames(),
			Errors:        snap.Errors,
			LastMilestone: s.lastMilestone,
		}
	}
	if err := e.obs.Checkpoint(snap); err != nil {
		return fmt.Errorf("checkpoint %d: %w", snap.Sequence, err)
	}
	s.rollEpoch()
	e.obs.Progress(e.progress(0))
	return nil
}

func (e *Explorer) progress(depth int) Progress {
	return Progress{
		Totals:       e.state.Totals,
		Errors:       e.state.Ledger.Len(),
		FrontierSize: e.state.Frontier.Len(),
		VisitedSize:  len(e.state.Visited),
		CurrentDepth: depth,
		HeapInUse:    e.heap(),
	}
}
