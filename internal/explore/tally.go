package explore

import (
	"bytes"
	"sort"
)

// EndingDetail describes where a terminal state was reached.
type EndingDetail struct {
	DecisionPoint string `json:"decisionPoint"`
	LastLine      string `json:"lastLine"`
}

// EndingCount is one row of a flushed tally.
type EndingCount struct {
	Fingerprint Fingerprint  `json:"fingerprint"`
	Count       int          `json:"count"`
	Detail      EndingDetail `json:"detail"`
}

// EndingTally counts terminal states within one epoch.
type EndingTally struct {
	counts  map[Fingerprint]int
	details map[Fingerprint]EndingDetail
}

func NewEndingTally() *EndingTally {
	return &EndingTally{counts: map[Fingerprint]int{}, details: map[Fingerprint]EndingDetail{}}
}

// Add counts one arrival at fp. The first detail seen for fp is kept.
func (t *EndingTally) Add(fp Fingerprint, d EndingDetail) int {
	t.counts[fp]++
	if _, ok := t.details[fp]; !ok {
		t.details[fp] = d
	}
	return t.counts[fp]
}

func (t *EndingTally) Len() int { return len(t.counts) }

// Rows returns the tally sorted by fingerprint.
func (t *EndingTally) Rows() []EndingCount {
	out := make([]EndingCount, 0, len(t.counts))
	for fp, n := range t.counts {
		out = append(out, EndingCount{Fingerprint: fp, Count: n, Detail: t.details[fp]})
	}
	SortEndings(out)
	return out
}

func (t *EndingTally) Reset() {
	clear(t.counts)
	clear(t.details)
}

func SortEndings(rows []EndingCount) {
	sort.Slice(rows, func(i, j int) bool {
		return bytes.Compare(rows[i].Fingerprint[:], rows[j].Fingerprint[:]) < 0
	})
}
