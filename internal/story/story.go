// Package story compiles digraph story files into an interpreter the
// explorer can drive. Nodes carry narration lines and optional Lua hooks;
// edges are choices when labelled and diverts otherwise.
package story

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
)

var ErrNoStart = errors.New("story has no start node")

// Story is a validated, compiled story. It is immutable and may back any
// number of machines.
type Story struct {
	Name  string
	Start string
	Init  string
	// Hash identifies the source bytes so a resumed run can refuse a
	// story that changed underneath it.
	Hash  string
	Nodes int

	blocks map[string]*block
}

type block struct {
	id      string
	lines   []string
	enter   string
	assert  string
	diverts []*Edge
	choices []*Edge
}

// Load reads, parses, validates and compiles a story file. Diagnostics are
// returned even when compilation fails so callers can print them.
func Load(path string) (*Story, []Diagnostic, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	return LoadBytes(b)
}

func LoadBytes(b []byte) (*Story, []Diagnostic, error) {
	g, err := Parse(string(b))
	if err != nil {
		return nil, nil, fmt.Errorf("parse: %w", err)
	}
	diags := Validate(g)
	if HasErrors(diags) {
		return nil, diags, fmt.Errorf("invalid story: %s", Errors(diags))
	}
	s, err := Compile(g)
	if err != nil {
		return nil, diags, err
	}
	sum := sha256.Sum256(b)
	s.Hash = hex.EncodeToString(sum[:])
	return s, diags, nil
}

// Compile turns a validated graph into a Story.
func Compile(g *Graph) (*Story, error) {
	start, err := startNode(g)
	if err != nil {
		return nil, err
	}
	s := &Story{
		Name:   g.Name,
		Start:  start,
		Init:   g.StringAttr("init", ""),
		Nodes:  len(g.Nodes),
		blocks: make(map[string]*block, len(g.Nodes)),
	}
	for _, id := range g.Order {
		n := g.Nodes[id]
		b := &block{id: id, lines: n.Lines(), enter: n.Enter(), assert: n.Assert()}
		for _, e := range g.OutEdges(id) {
			if e.IsChoice() {
				b.choices = append(b.choices, e)
			} else {
				b.diverts = append(b.diverts, e)
			}
		}
		s.blocks[id] = b
	}
	return s, nil
}

func startNode(g *Graph) (string, error) {
	var marked []string
	for _, id := range g.Order {
		if g.Nodes[id].BoolAttr("start", false) {
			marked = append(marked, id)
		}
	}
	switch {
	case len(marked) == 1:
		return marked[0], nil
	case len(marked) > 1:
		return "", fmt.Errorf("multiple start nodes: %v", marked)
	}
	if _, ok := g.Nodes["start"]; ok {
		return "start", nil
	}
	return "", ErrNoStart
}
