package story

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var idRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Parse reads the digraph subset used for stories. Statements end with a
// semicolon or a newline outside quotes and attribute brackets.
func Parse(input string) (*Graph, error) {
	input = strings.TrimPrefix(input, "\ufeff")
	trimmed := strings.TrimSpace(stripComments(input))
	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("invalid digraph syntax")
	}
	header := strings.Fields(trimmed[:start])
	if len(header) == 0 || header[0] != "digraph" || len(header) > 2 {
		return nil, fmt.Errorf("expected 'digraph [name] {'")
	}
	if strings.TrimSpace(trimmed[end+1:]) != "" {
		return nil, fmt.Errorf("unexpected content after closing brace")
	}
	g := NewGraph()
	if len(header) == 2 {
		g.Name = strings.Trim(header[1], `"`)
	}
	nodeDefaults := map[string]Value{}
	edgeDefaults := map[string]Value{}

	for _, stmt := range splitTopLevel(trimmed[start+1:end], ";\n") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		keyword, rest := leadingWord(stmt)
		var err error
		switch {
		case strings.Contains(stmt, "--") && !strings.Contains(stmt, "->") && !strings.Contains(stmt, "["):
			err = fmt.Errorf("undirected edges are unsupported: %s", stmt)
		case keyword == "subgraph":
			err = fmt.Errorf("subgraphs are unsupported")
		case keyword == "graph":
			err = mergeStmtAttrs(g.Attrs, rest)
		case keyword == "node":
			err = mergeStmtAttrs(nodeDefaults, rest)
		case keyword == "edge":
			err = mergeStmtAttrs(edgeDefaults, rest)
		case isEdgeStmt(stmt):
			err = parseEdgeStmt(g, stmt, edgeDefaults)
		case strings.Contains(stmt, "=") && !strings.Contains(stmt, "["):
			// bare graph attribute: key=value
			var attrs map[string]Value
			attrs, err = parseAttrs(stmt)
			for k, v := range attrs {
				g.Attrs[k] = v
			}
		default:
			err = parseNodeStmt(g, stmt, nodeDefaults)
		}
		if err != nil {
			return nil, err
		}
	}
	return g, nil
}

func stripComments(in string) string {
	lines := strings.Split(in, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		t := strings.TrimSpace(line)
		if strings.HasPrefix(t, "//") || strings.HasPrefix(t, "#") {
			out = append(out, "")
			continue
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}

func leadingWord(stmt string) (string, string) {
	i := strings.IndexAny(stmt, " \t[")
	if i < 0 {
		return stmt, ""
	}
	return stmt[:i], stmt[i:]
}

// isEdgeStmt looks for an arrow before any attribute block.
func isEdgeStmt(stmt string) bool {
	head := stmt
	if i := strings.Index(stmt, "["); i >= 0 {
		head = stmt[:i]
	}
	return strings.Contains(head, "->")
}

// splitTopLevel cuts s at any rune in seps that is outside a quoted string
// and outside square brackets.
func splitTopLevel(s, seps string) []string {
	var out []string
	var cur strings.Builder
	inQuote := false
	escaped := false
	depth := 0
	for _, r := range s {
		switch {
		case escaped:
			escaped = false
		case r == '\\' && inQuote:
			escaped = true
		case r == '"':
			inQuote = !inQuote
		case !inQuote && r == '[':
			depth++
		case !inQuote && r == ']' && depth > 0:
			depth--
		case !inQuote && depth == 0 && strings.ContainsRune(seps, r):
			out = append(out, cur.String())
			cur.Reset()
			continue
		}
		cur.WriteRune(r)
	}
	if strings.TrimSpace(cur.String()) != "" {
		out = append(out, cur.String())
	}
	return out
}

func mergeStmtAttrs(dst map[string]Value, s string) error {
	attrs, err := parseStmtAttrs(s)
	if err != nil {
		return err
	}
	for k, v := range attrs {
		dst[k] = v
	}
	return nil
}

func parseStmtAttrs(s string) (map[string]Value, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return map[string]Value{}, nil
	}
	open := strings.Index(s, "[")
	close := strings.LastIndex(s, "]")
	if open < 0 || close <= open {
		return nil, fmt.Errorf("expected attrs block: %s", s)
	}
	return parseAttrs(s[open+1 : close])
}

// splitAttrs separates "lhs [attrs]" into its two parts.
func splitAttrs(stmt string) (string, map[string]Value, error) {
	i := strings.Index(stmt, "[")
	if i < 0 {
		return strings.TrimSpace(stmt), map[string]Value{}, nil
	}
	j := strings.LastIndex(stmt, "]")
	if j <= i {
		return "", nil, fmt.Errorf("unterminated attrs: %s", stmt)
	}
	attrs, err := parseAttrs(stmt[i+1 : j])
	if err != nil {
		return "", nil, err
	}
	return strings.TrimSpace(stmt[:i]), attrs, nil
}

func parseNodeStmt(g *Graph, stmt string, defaults map[string]Value) error {
	id, attrs, err := splitAttrs(stmt)
	if err != nil {
		return err
	}
	if !idRe.MatchString(id) {
		return fmt.Errorf("invalid node id: %s", id)
	}
	n := g.Nodes[id]
	if n == nil {
		n = &Node{ID: id, Attrs: map[string]Value{}}
		for k, v := range defaults {
			n.Attrs[k] = v
		}
		g.Nodes[id] = n
		g.Order = append(g.Order, id)
	}
	for k, v := range attrs {
		n.Attrs[k] = v
	}
	return nil
}

func parseEdgeStmt(g *Graph, stmt string, defaults map[string]Value) error {
	lhs, attrs, err := splitAttrs(stmt)
	if err != nil {
		return err
	}
	parts := strings.Split(lhs, "->")
	ids := make([]string, 0, len(parts))
	for _, p := range parts {
		id := strings.TrimSpace(p)
		if !idRe.MatchString(id) {
			return fmt.Errorf("invalid edge endpoint: %q", id)
		}
		ids = append(ids, id)
	}
	for i := 0; i < len(ids)-1; i++ {
		eAttrs := map[string]Value{}
		for k, v := range defaults {
			eAttrs[k] = v
		}
		for k, v := range attrs {
			eAttrs[k] = v
		}
		g.Edges = append(g.Edges, &Edge{From: ids[i], To: ids[i+1], Attrs: eAttrs})
	}
	return nil
}

func parseAttrs(body string) (map[string]Value, error) {
	out := map[string]Value{}
	for _, p := range splitTopLevel(body, ",;\n") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		k, vRaw, ok := strings.Cut(p, "=")
		if !ok {
			return nil, fmt.Errorf("invalid attr: %s", p)
		}
		k = strings.TrimSpace(k)
		if strings.HasPrefix(k, `"`) {
			u, err := strconv.Unquote(k)
			if err != nil {
				return nil, fmt.Errorf("invalid attr name %s: %w", k, err)
			}
			k = u
		}
		v, err := parseValue(strings.TrimSpace(vRaw))
		if err != nil {
			return nil, fmt.Errorf("attr %s: %w", k, err)
		}
		out[k] = v
	}
	return out, nil
}

func parseValue(v string) (Value, error) {
	if strings.HasPrefix(v, `"`) {
		return strconv.Unquote(v)
	}
	if v == "true" || v == "false" {
		return v == "true", nil
	}
	if i, err := strconv.Atoi(v); err == nil {
		return i, nil
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return f, nil
	}
	return v, nil
}
