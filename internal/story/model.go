package story

import (
	"fmt"
	"strconv"
	"strings"
)

type Value = any

// Graph is a parsed story file before compilation.
type Graph struct {
	Name  string
	Nodes map[string]*Node
	// Order lists node ids in declaration order.
	Order []string
	Edges []*Edge
	Attrs map[string]Value
}

// Node is one narration block.
type Node struct {
	ID    string
	Attrs map[string]Value
}

// Edge is a choice when it carries a choice label, a divert otherwise.
type Edge struct {
	From  string
	To    string
	Attrs map[string]Value
}

type Diagnostic struct {
	Level   string
	Message string
}

const (
	LevelError   = "ERROR"
	LevelWarning = "WARNING"
)

func NewGraph() *Graph {
	return &Graph{Nodes: map[string]*Node{}, Edges: []*Edge{}, Attrs: map[string]Value{}}
}

func (g *Graph) StringAttr(k, def string) string {
	return stringAttr(g.Attrs, k, def)
}

// OutEdges returns the edges leaving id in file order.
func (g *Graph) OutEdges(id string) []*Edge {
	var out []*Edge
	for _, e := range g.Edges {
		if e.From == id {
			out = append(out, e)
		}
	}
	return out
}

func (n *Node) StringAttr(k, def string) string {
	if n == nil {
		return def
	}
	return stringAttr(n.Attrs, k, def)
}

func (n *Node) BoolAttr(k string, def bool) bool {
	if n == nil {
		return def
	}
	v, ok := n.Attrs[k]
	if !ok {
		return def
	}
	switch t := v.(type) {
	case bool:
		return t
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(t))
		if err == nil {
			return b
		}
	}
	return def
}

// Lines splits the node text into narration units. Blank lines are dropped.
func (n *Node) Lines() []string {
	raw := n.StringAttr("text", "")
	if raw == "" {
		return nil
	}
	var out []string
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) != "" {
			out = append(out, line)
		}
	}
	return out
}

func (n *Node) Enter() string  { return strings.TrimSpace(n.StringAttr("enter", "")) }
func (n *Node) Assert() string { return strings.TrimSpace(n.StringAttr("assert", "")) }

func (e *Edge) StringAttr(k, def string) string {
	if e == nil {
		return def
	}
	return stringAttr(e.Attrs, k, def)
}

func (e *Edge) IsChoice() bool {
	_, ok := e.Attrs["choice"]
	return ok
}

func (e *Edge) Label() string  { return strings.TrimSpace(e.StringAttr("choice", "")) }
func (e *Edge) When() string   { return strings.TrimSpace(e.StringAttr("when", "")) }
func (e *Edge) Effect() string { return strings.TrimSpace(e.StringAttr("effect", "")) }

func (e *Edge) String() string {
	if e.IsChoice() {
		return fmt.Sprintf("%s -> %s [%q]", e.From, e.To, e.Label())
	}
	return fmt.Sprintf("%s -> %s", e.From, e.To)
}

func stringAttr(attrs map[string]Value, k, def string) string {
	v, ok := attrs[k]
	if !ok {
		return def
	}
	s, ok := v.(string)
	if !ok {
		return fmt.Sprintf("%v", v)
	}
	return s
}

func HasErrors(diags []Diagnostic) bool {
	for _, d := range diags {
		if d.Level == LevelError {
			return true
		}
	}
	return false
}

// Errors joins the error-level messages.
func Errors(diags []Diagnostic) string {
	var msgs []string
	for _, d := range diags {
		if d.Level == LevelError {
			msgs = append(msgs, d.Message)
		}
	}
	return strings.Join(msgs, "; ")
}
