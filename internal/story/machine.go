package story

import (
	"encoding/json"
	"errors"
	"fmt"

	"storywalk/internal/explore"
)

var errCannotAdvance = errors.New("cannot advance: no narration left and no divert applies")

type machineState struct {
	Node string         `json:"node"`
	Line int            `json:"line"`
	Last string         `json:"last,omitempty"`
	Vars map[string]any `json:"vars"`
}

// Machine interprets one Story. It implements explore.Interpreter and is not
// safe for concurrent use.
type Machine struct {
	story  *Story
	script *Script
	st     machineState
	onErr  func(string)
}

var _ explore.Interpreter = (*Machine)(nil)

// NewMachine runs the init chunk and enters the start node.
func NewMachine(s *Story) (*Machine, error) {
	script, err := NewScript(s.Init)
	if err != nil {
		return nil, err
	}
	m := &Machine{story: s, script: script}
	m.st.Vars = script.Initial()
	if err := m.enter(s.Start); err != nil {
		return nil, fmt.Errorf("enter %s: %w", s.Start, err)
	}
	return m, nil
}

func (m *Machine) block() *block { return m.story.blocks[m.st.Node] }

func (m *Machine) enter(id string) error {
	b, ok := m.story.blocks[id]
	if !ok {
		return fmt.Errorf("unknown node %s", id)
	}
	m.st.Node = id
	m.st.Line = 0
	if b.enter != "" {
		vars, err := m.script.Exec(b.enter, id, m.st.Vars)
		if err != nil {
			return fmt.Errorf("%s: %w", id, err)
		}
		m.st.Vars = vars
	}
	if b.assert != "" {
		ok, err := m.script.Eval(b.assert, m.st.Vars)
		switch {
		case err != nil:
			m.report(fmt.Sprintf("%s: assert: %v", id, err))
		case !ok:
			m.report(fmt.Sprintf("%s: assertion failed: %s", id, b.assert))
		}
	}
	return nil
}

func (m *Machine) report(msg string) {
	if m.onErr != nil {
		m.onErr(msg)
	}
}

func (m *Machine) take(e *Edge) error {
	if fx := e.Effect(); fx != "" {
		vars, err := m.script.Exec(fx, e.String(), m.st.Vars)
		if err != nil {
			return fmt.Errorf("effect on %s: %w", e, err)
		}
		m.st.Vars = vars
	}
	return m.enter(e.To)
}

func (m *Machine) passes(e *Edge) (bool, error) {
	w := e.When()
	if w == "" {
		return true, nil
	}
	ok, err := m.script.Eval(w, m.st.Vars)
	if err != nil {
		return false, fmt.Errorf("when on %s: %w", e, err)
	}
	return ok, nil
}

// divert returns the first divert whose condition holds.
func (m *Machine) divert() (*Edge, error) {
	for _, e := range m.block().diverts {
		ok, err := m.passes(e)
		if err != nil {
			return nil, err
		}
		if ok {
			return e, nil
		}
	}
	return nil, nil
}

func (m *Machine) CanAdvance() bool {
	if m.st.Line < len(m.block().lines) {
		return true
	}
	e, err := m.divert()
	// a broken condition still lets Advance run so the error surfaces there
	return e != nil || err != nil
}

func (m *Machine) Advance() (string, error) {
	b := m.block()
	if m.st.Line < len(b.lines) {
		m.st.Last = b.lines[m.st.Line]
		m.st.Line++
		return m.st.Last, nil
	}
	e, err := m.divert()
	if err != nil {
		return "", err
	}
	if e == nil {
		return "", errCannotAdvance
	}
	if err := m.take(e); err != nil {
		return "", err
	}
	if next := m.block(); len(next.lines) > 0 {
		m.st.Last = next.lines[0]
		m.st.Line = 1
	}
	return m.st.Last, nil
}

// visible lists the choices whose conditions hold. Condition errors are
// reported when report is set and the choice is hidden.
func (m *Machine) visible(report bool) []*Edge {
	var out []*Edge
	for _, e := range m.block().choices {
		ok, err := m.passes(e)
		if err != nil {
			if report {
				m.report(fmt.Sprintf("%s: %v", m.st.Node, err))
			}
			continue
		}
		if ok {
			out = append(out, e)
		}
	}
	return out
}

func (m *Machine) CurrentChoices() []explore.Choice {
	if m.CanAdvance() {
		return nil
	}
	edges := m.visible(true)
	out := make([]explore.Choice, 0, len(edges))
	for i, e := range edges {
		out = append(out, explore.Choice{Index: i, Label: e.Label()})
	}
	return out
}

func (m *Machine) ApplyChoice(index int) error {
	edges := m.visible(false)
	if index < 0 || index >= len(edges) {
		return fmt.Errorf("choice %d out of range (%d available)", index, len(edges))
	}
	return m.take(edges[index])
}

func (m *Machine) SerializeState() ([]byte, error) {
	return json.Marshal(m.st)
}

func (m *Machine) LoadState(b []byte) error {
	var st machineState
	if err := json.Unmarshal(b, &st); err != nil {
		return fmt.Errorf("decode state: %w", err)
	}
	if _, ok := m.story.blocks[st.Node]; !ok {
		return fmt.Errorf("state names unknown node %q", st.Node)
	}
	if st.Vars == nil {
		st.Vars = map[string]any{}
	}
	m.st = st
	return nil
}

func (m *Machine) CurrentDecisionPoint() string { return m.st.Node }
func (m *Machine) LastNarrationLine() string    { return m.st.Last }
func (m *Machine) OnError(fn func(string))      { m.onErr = fn }

// Vars returns a copy of the current story variables.
func (m *Machine) Vars() map[string]any { return copyVars(m.st.Vars) }

// DecodeVars extracts the variables from a serialized machine state.
func DecodeVars(state []byte) (map[string]any, error) {
	var st machineState
	if err := json.Unmarshal(state, &st); err != nil {
		return nil, err
	}
	return st.Vars, nil
}
