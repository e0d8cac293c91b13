package story

import (
	"strings"
	"testing"
)

func mustParse(t *testing.T, dot string) *Graph {
	t.Helper()
	g, err := Parse(dot)
	if err != nil {
		t.Fatal(err)
	}
	return g
}

func hasMessage(diags []Diagnostic, level, substr string) bool {
	for _, d := range diags {
		if d.Level == level && strings.Contains(d.Message, substr) {
			return true
		}
	}
	return false
}

func TestValidateStarts(t *testing.T) {
	g := mustParse(t, `digraph G { a; b; a -> b; }`)
	if !HasErrors(Validate(g)) {
		t.Fatal("expected error for missing start")
	}
	g2 := mustParse(t, `digraph G { a [start=true]; b [start=true]; a -> b; }`)
	if !HasErrors(Validate(g2)) {
		t.Fatal("expected error for multiple starts")
	}
	g3 := mustParse(t, `digraph G { intro [start=true]; start; intro -> start; }`)
	if diags := Validate(g3); HasErrors(diags) {
		t.Fatalf("explicit start attribute should win: %v", diags)
	}
}

func TestValidateMissingTarget(t *testing.T) {
	g := NewGraph()
	g.Nodes["start"] = &Node{ID: "start", Attrs: map[string]Value{}}
	g.Order = []string{"start"}
	g.Edges = []*Edge{{From: "start", To: "ghost", Attrs: map[string]Value{}}}
	if !hasMessage(Validate(g), LevelError, "edge target missing: ghost") {
		t.Fatal("expected missing target error")
	}
}

func TestValidateUnreachableIsWarning(t *testing.T) {
	g := mustParse(t, `digraph G { start; a; orphan; start -> a; }`)
	diags := Validate(g)
	if HasErrors(diags) {
		t.Fatalf("unreachable node should not be an error: %v", diags)
	}
	if !hasMessage(diags, LevelWarning, "unreachable node: orphan") {
		t.Fatalf("expected unreachable warning: %v", diags)
	}
}

func TestValidateLuaSyntax(t *testing.T) {
	bad := []string{
		`digraph G { graph [init="x = "]; start; }`,
		`digraph G { start [enter="if then"]; }`,
		`digraph G { start [assert="x >"]; }`,
		`digraph G { start; a; start -> a [when="and or"]; }`,
		`digraph G { start; a; start -> a [choice="Go", effect="x +"]; }`,
	}
	for _, dot := range bad {
		if !HasErrors(Validate(mustParse(t, dot))) {
			t.Fatalf("expected lua syntax error for %s", dot)
		}
	}
	ok := `digraph G { graph [init="x = 1"]; start [assert="x == 1"]; a; start -> a [choice="Go", when="x > 0", effect="x = x + 1"]; }`
	if diags := Validate(mustParse(t, ok)); HasErrors(diags) {
		t.Fatalf("valid lua rejected: %v", diags)
	}
}

func TestValidateChoiceNeedsLabel(t *testing.T) {
	g := mustParse(t, `digraph G { start; a; start -> a [choice=""]; }`)
	if !hasMessage(Validate(g), LevelError, "choice without label") {
		t.Fatal("expected empty label error")
	}
}

func TestValidateDivertCycleWarning(t *testing.T) {
	g := mustParse(t, `digraph G { start; a; b; start -> a; a -> b; b -> a; }`)
	diags := Validate(g)
	if HasErrors(diags) {
		t.Fatalf("cycle should only warn: %v", diags)
	}
	if !hasMessage(diags, LevelWarning, "unconditional divert cycle through a") {
		t.Fatalf("expected cycle warning: %v", diags)
	}
	guarded := mustParse(t, `digraph G { start; a; b; start -> a; a -> b; b -> a [when="false"]; }`)
	if hasMessage(Validate(guarded), LevelWarning, "cycle") {
		t.Fatal("conditional divert should not be reported as a cycle")
	}
}

func TestErrorsJoinsOnlyErrors(t *testing.T) {
	diags := []Diagnostic{
		{Level: LevelError, Message: "one"},
		{Level: LevelWarning, Message: "skip"},
		{Level: LevelError, Message: "two"},
	}
	if got := Errors(diags); got != "one; two" {
		t.Fatalf("unexpected %q", got)
	}
}
