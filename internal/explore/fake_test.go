package explore

import (
	"encoding/json"
	"errors"
)

type fakeEdge struct {
	label string
	to    string
}

type fakeNode struct {
	lines   []string
	divert  string
	choices []fakeEdge
	// bump increments the counter on entry so every visit is a new state.
	bump   bool
	fail   string
	report string
	panics bool
}

type fakeState struct {
	Node string `json:"node"`
	Line int    `json:"line"`
	N    int    `json:"n"`
	Last string `json:"last"`
}

// fakeStory is a tiny interpreter over a map of nodes.
type fakeStory struct {
	nodes map[string]fakeNode
	st    fakeState
	onErr func(string)
	loads []fakeState
}

func newFakeStory(start string, nodes map[string]fakeNode) *fakeStory {
	return &fakeStory{nodes: nodes, st: fakeState{Node: start}}
}

func (f *fakeStory) node() fakeNode { return f.nodes[f.st.Node] }

func (f *fakeStory) CanAdvance() bool {
	n := f.node()
	return f.st.Line < len(n.lines) || n.divert != ""
}

func (f *fakeStory) enter(id string) error {
	f.st.Node = id
	f.st.Line = 0
	n := f.node()
	if n.bump {
		f.st.N++
	}
	if n.panics {
		panic("interpreter blew up in " + id)
	}
	if n.report != "" && f.onErr != nil {
		f.onErr(n.report)
	}
	if n.fail != "" {
		return errors.New(n.fail)
	}
	return nil
}

func (f *fakeStory) Advance() (string, error) {
	n := f.node()
	if f.st.Line < len(n.lines) {
		f.st.Last = n.lines[f.st.Line]
		f.st.Line++
		return f.st.Last, nil
	}
	if n.divert == "" {
		return "", errors.New("cannot advance")
	}
	if err := f.enter(n.divert); err != nil {
		return "", err
	}
	if next := f.node(); len(next.lines) > 0 {
		f.st.Last = next.lines[0]
		f.st.Line = 1
	}
	return f.st.Last, nil
}

func (f *fakeStory) CurrentChoices() []Choice {
	if f.CanAdvance() {
		return nil
	}
	var out []Choice
	for i, c := range f.node().choices {
		out = append(out, Choice{Index: i, Label: c.label})
	}
	return out
}

func (f *fakeStory) ApplyChoice(index int) error {
	choices := f.node().choices
	if index < 0 || index >= len(choices) {
		return errors.New("choice out of range")
	}
	return f.enter(choices[index].to)
}

func (f *fakeStory) SerializeState() ([]byte, error) { return json.Marshal(f.st) }

func (f *fakeStory) LoadState(b []byte) error {
	var st fakeState
	if err := json.Unmarshal(b, &st); err != nil {
		return err
	}
	f.st = st
	f.loads = append(f.loads, st)
	return nil
}

func (f *fakeStory) CurrentDecisionPoint() string { return f.st.Node }
func (f *fakeStory) LastNarrationLine() string    { return f.st.Last }
func (f *fakeStory) OnError(fn func(string))      { f.onErr = fn }

type recorder struct {
	NopObserver
	snaps    []*Snapshot
	faults   []ErrorRecord
	endings  []EndingDetail
	decline  bool
	prompts  int
	failSave error
}

func (r *recorder) Fault(rec ErrorRecord) { r.faults = append(r.faults, rec) }

func (r *recorder) Ending(_ Fingerprint, d EndingDetail, _ int) {
	r.endings = append(r.endings, d)
}

func (r *recorder) Checkpoint(s *Snapshot) error {
	if r.failSave != nil {
		return r.failSave
	}
	r.snaps = append(r.snaps, s)
	return nil
}

func (r *recorder) Milestone(Progress) bool {
	r.prompts++
	return !r.decline
}

func (r *recorder) last() *Snapshot {
	if len(r.snaps) == 0 {
		return nil
	}
	return r.snaps[len(r.snaps)-1]
}

func testLimits() Limits {
	l := DefaultLimits()
	l.MemoryLimit = 0
	l.ContinueInterval = 0
	return l
}
