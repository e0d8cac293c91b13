// Package report assembles the final run report from consolidated
// checkpoints and renders it for people and databases.
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"storywalk/internal/checkpoint"
	"storywalk/internal/explore"
)

const SchemaVersion = 1

// Ending is a reached terminal state with how often it was hit.
type Ending struct {
	Fingerprint   explore.Fingerprint `json:"fingerprint"`
	DecisionPoint string              `json:"decisionPoint"`
	LastLine      string              `json:"lastLine"`
	Count         int                 `json:"count"`
}

// Report is the document written as report.json. The counter fields sit at
// the top level.
type Report struct {
	SchemaVersion int       `json:"schema_version"`
	RunID         string    `json:"runId"`
	Story         string    `json:"story"`
	Outcome       string    `json:"outcome"`
	GeneratedAt   time.Time `json:"generatedAt"`
	explore.Counters
	TotalErrors   int                   `json:"totalErrors"`
	UniqueEndings int                   `json:"uniqueEndings"`
	Snapshots     int                   `json:"snapshots"`
	MostReached   *Ending               `json:"mostReachedEnding,omitempty"`
	LeastReached  *Ending               `json:"leastReachedEnding,omitempty"`
	Endings       []explore.EndingCount `json:"endingCounts"`
	Errors        []explore.ErrorRecord `json:"allErrors"`
}

type Meta struct {
	RunID       string
	Story       string
	Outcome     explore.Outcome
	GeneratedAt time.Time
}

// Assemble builds the report. Ties for most and least reached ending go to
// the lowest fingerprint.
func Assemble(c *checkpoint.Consolidated, meta Meta) *Report {
	r := &Report{
		SchemaVersion: SchemaVersion,
		RunID:         meta.RunID,
		Story:         meta.Story,
		Outcome:       string(meta.Outcome),
		GeneratedAt:   meta.GeneratedAt.UTC(),
		Counters:      c.Counters,
		TotalErrors:   len(c.Errors),
		UniqueEndings: len(c.Endings),
		Snapshots:     c.Snapshots,
		Endings:       c.Endings,
		Errors:        c.Errors,
	}
	if r.Endings == nil {
		r.Endings = []explore.EndingCount{}
	}
	if r.Errors == nil {
		r.Errors = []explore.ErrorRecord{}
	}
	for i := range r.Endings {
		row := r.Endings[i]
		if r.MostReached == nil || row.Count > r.MostReached.Count {
			r.MostReached = endingOf(row)
		}
		if r.LeastReached == nil || row.Count < r.LeastReached.Count {
			r.LeastReached = endingOf(row)
		}
	}
	return r
}

func endingOf(row explore.EndingCount) *Ending {
	return &Ending{
		Fingerprint:   row.Fingerprint,
		DecisionPoint: row.Detail.DecisionPoint,
		LastLine:      row.Detail.LastLine,
		Count:         row.Count,
	}
}

func Write(path string, r *Report) error {
	b, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(b, '\n'), 0o644)
}

func Read(path string) (*Report, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var r Report
	if err := json.Unmarshal(b, &r); err != nil {
		return nil, fmt.Errorf("decode report: %w", err)
	}
	return &r, nil
}
