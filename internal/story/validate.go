package story

import (
	"errors"
	"fmt"
	"sort"
)

func Validate(g *Graph) []Diagnostic {
	d := []Diagnostic{}
	if g == nil {
		return []Diagnostic{{Level: LevelError, Message: "graph is nil"}}
	}
	errorf := func(format string, args ...any) {
		d = append(d, Diagnostic{Level: LevelError, Message: fmt.Sprintf(format, args...)})
	}
	warnf := func(format string, args ...any) {
		d = append(d, Diagnostic{Level: LevelWarning, Message: fmt.Sprintf(format, args...)})
	}

	if init := g.StringAttr("init", ""); init != "" {
		if err := CheckChunk(init); err != nil {
			errorf("init: %v", err)
		}
	}
	for _, e := range g.Edges {
		if _, ok := g.Nodes[e.From]; !ok {
			errorf("edge source missing: %s", e.From)
		}
		if _, ok := g.Nodes[e.To]; !ok {
			errorf("edge target missing: %s", e.To)
		}
		if e.IsChoice() && e.Label() == "" {
			errorf("choice without label: %s", e)
		}
		if w := e.When(); w != "" {
			if err := CheckExpr(w); err != nil {
				errorf("when on %s: %v", e, err)
			}
		}
		if fx := e.Effect(); fx != "" {
			if err := CheckChunk(fx); err != nil {
				errorf("effect on %s: %v", e, err)
			}
		}
	}
	for _, id := range g.Order {
		n := g.Nodes[id]
		if c := n.Enter(); c != "" {
			if err := CheckChunk(c); err != nil {
				errorf("enter on %s: %v", id, err)
			}
		}
		if a := n.Assert(); a != "" {
			if err := CheckExpr(a); err != nil {
				errorf("assert on %s: %v", id, err)
			}
		}
	}

	start, err := startNode(g)
	switch {
	case errors.Is(err, ErrNoStart):
		errorf("must have exactly one start node")
	case err != nil:
		errorf("%v", err)
	}

	if err == nil {
		seen := map[string]bool{}
		queue := []string{start}
		for len(queue) > 0 {
			id := queue[0]
			queue = queue[1:]
			if seen[id] {
				continue
			}
			seen[id] = true
			for _, e := range g.OutEdges(id) {
				queue = append(queue, e.To)
			}
		}
		for _, id := range g.Order {
			if !seen[id] {
				warnf("unreachable node: %s", id)
			}
		}
	}

	for _, id := range divertCycles(g) {
		warnf("unconditional divert cycle through %s", id)
	}

	sort.SliceStable(d, func(i, j int) bool {
		if d[i].Level != d[j].Level {
			return d[i].Level == LevelError
		}
		return d[i].Message < d[j].Message
	})
	return d
}

// divertCycles finds nodes that, once entered, are diverted around a cycle
// forever: every hop is the first divert of its node and has no condition,
// and no node on the way offers a choice.
func divertCycles(g *Graph) []string {
	always := map[string]string{}
	for _, id := range g.Order {
		var first *Edge
		for _, e := range g.OutEdges(id) {
			if !e.IsChoice() {
				first = e
				break
			}
		}
		if first != nil && first.When() == "" {
			always[id] = first.To
		}
	}
	var out []string
	reported := map[string]bool{}
	for _, id := range g.Order {
		seen := map[string]bool{}
		cur := id
		for {
			next, ok := always[cur]
			if !ok || seen[cur] {
				break
			}
			seen[cur] = true
			cur = next
		}
		if cur == id && seen[id] && !reported[id] {
			// report the cycle once, by its first member in file order
			for member := range seen {
				reported[member] = true
			}
			out = append(out, id)
		}
	}
	return out
}
