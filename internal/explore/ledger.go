package explore

import (
	"time"

	"github.com/google/uuid"
)

// Kind classifies a recorded fault.
type Kind string

const (
	KindRuntime    Kind = "runtime"
	KindLoop       Kind = "loop"
	KindStepBudget Kind = "step-budget"
	KindUnexpected Kind = "unexpected"
)

// ChoiceTrace is the choice that led into the frame where a fault occurred.
type ChoiceTrace struct {
	Label       string
	StateBefore []byte
	StateAfter  []byte
}

// ErrorRecord is the retained representative of a (decision point, kind) fault.
type ErrorRecord struct {
	ID            string    `json:"id"`
	Message       string    `json:"message"`
	Kind          Kind      `json:"kind"`
	DecisionPoint string    `json:"decisionPoint"`
	Path          []string  `json:"path"`
	LastChoice    string    `json:"lastChoice"`
	StateBefore   string    `json:"stateBefore,omitempty"`
	StateAfter    string    `json:"stateAfter,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// Key is the dedup key of the record.
func (r ErrorRecord) Key() LedgerKey {
	return LedgerKey{DecisionPoint: r.DecisionPoint, Kind: r.Kind}
}

type LedgerKey struct {
	DecisionPoint string `json:"decisionPoint"`
	Kind          Kind   `json:"kind"`
}

// Ledger keeps the first fault per (decision point, kind) and drops the rest.
type Ledger struct {
	seen    map[LedgerKey]struct{}
	records []ErrorRecord
	now     func() time.Time
}

func NewLedger() *Ledger {
	return &Ledger{seen: map[LedgerKey]struct{}{}, now: time.Now}
}

// Record stores a fault unless one with the same key already exists. It
// reports whether the fault was new.
func (l *Ledger) Record(kind Kind, message, decisionPoint string, path []string, last *ChoiceTrace) (ErrorRecord, bool) {
	key := LedgerKey{DecisionPoint: decisionPoint, Kind: kind}
	if _, ok := l.seen[key]; ok {
		return ErrorRecord{}, false
	}
	rec := ErrorRecord{
		ID:            uuid.NewString(),
		Message:       message,
		Kind:          kind,
		DecisionPoint: decisionPoint,
		Path:          append([]string{}, path...),
		LastChoice:    "No choices made",
		Timestamp:     l.now().UTC(),
	}
	if last != nil {
		rec.LastChoice = last.Label
		rec.StateBefore = string(last.StateBefore)
		rec.StateAfter = string(last.StateAfter)
	}
	l.seen[key] = struct{}{}
	l.records = append(l.records, rec)
	return rec, true
}

// Restore re-seeds the ledger from persisted records, keeping dedup intact
// across a resume.
func (l *Ledger) Restore(records []ErrorRecord) {
	for _, r := range records {
		if _, ok := l.seen[r.Key()]; ok {
			continue
		}
		l.seen[r.Key()] = struct{}{}
		l.records = append(l.records, r)
	}
}

func (l *Ledger) Records() []ErrorRecord {
	return append([]ErrorRecord{}, l.records...)
}

func (l *Ledger) Len() int { return len(l.records) }
