package report

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/fatih/color"

	"storywalk/internal/explore"
	"storywalk/internal/story"
)

type palette struct {
	head, bad, warn *color.Color
}

func newPalette(colored bool) palette {
	p := palette{
		head: color.New(color.Bold),
		bad:  color.New(color.FgRed),
		warn: color.New(color.FgYellow),
	}
	if !colored {
		p.head.DisableColor()
		p.bad.DisableColor()
		p.warn.DisableColor()
	}
	return p
}

// RenderText writes the human readable report. Errors that read the same
// (message, decision point, path and variables) are listed once.
func RenderText(w io.Writer, r *Report, colored bool) error {
	p := newPalette(colored)
	bw := bufio.NewWriter(w)

	fmt.Fprintf(bw, "%s %s (%s)\n", p.head.Sprint("Run:"), r.RunID, r.Outcome)
	if r.Story != "" {
		fmt.Fprintf(bw, "%s %s\n", p.head.Sprint("Story:"), r.Story)
	}
	fmt.Fprintf(bw, "Total Choices Clicked: %d\n", r.ChoicesCount)
	fmt.Fprintf(bw, "Total Endings Reached: %d\n", r.EndingsCount)
	fmt.Fprintf(bw, "Unique Endings: %d\n", r.UniqueEndings)
	fmt.Fprintf(bw, "Maximum Depth Of A Path: %d\n", r.MaxDepthReached)
	fmt.Fprintf(bw, "Paths Too Deep To Crawl: %d\n", r.MaxDepthAborts)
	fmt.Fprintf(bw, "Maximum Steps Between Choices: %d\n", r.MaxStepsBetweenChoices)
	fmt.Fprintf(bw, "Suppressed Duplicate Errors: %d\n", r.SuppressedErrors)
	if e := r.MostReached; e != nil {
		fmt.Fprintf(bw, "Most Reached Ending: %s, %q (%d times)\n", e.DecisionPoint, e.LastLine, e.Count)
	}
	if e := r.LeastReached; e != nil {
		fmt.Fprintf(bw, "Least Reached Ending: %s, %q (%d times)\n", e.DecisionPoint, e.LastLine, e.Count)
	}

	unique, points := uniqueErrors(r.Errors)
	errCount := fmt.Sprint(len(unique))
	if len(unique) > 0 {
		errCount = p.bad.Sprint(errCount)
	}
	fmt.Fprintf(bw, "\nTotal Number of Unique Errors: %s\n", errCount)
	fmt.Fprintf(bw, "Total Number of Decision Points With Errors: %d\n", len(points))
	for _, dp := range points {
		fmt.Fprintf(bw, "%s\n", dp)
	}
	fmt.Fprintln(bw)

	for i, block := range unique {
		fmt.Fprintf(bw, "%s %d\n", p.head.Sprint("Error Number:"), i+1)
		fmt.Fprintf(bw, "%s\n", block)
	}
	fmt.Fprintln(bw, "End of Report")
	return bw.Flush()
}

func uniqueErrors(records []explore.ErrorRecord) ([]string, []string) {
	var blocks []string
	seen := map[string]bool{}
	pointSet := map[string]bool{}
	var points []string
	for _, rec := range records {
		block := describe(rec)
		if seen[block] {
			continue
		}
		seen[block] = true
		blocks = append(blocks, block)
		if !pointSet[rec.DecisionPoint] {
			pointSet[rec.DecisionPoint] = true
			points = append(points, rec.DecisionPoint)
		}
	}
	return blocks, points
}

func describe(rec explore.ErrorRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Error Message: %s\n", rec.Message)
	fmt.Fprintf(&b, "Kind: %s\n", rec.Kind)
	fmt.Fprintf(&b, "Last Decision Point Before Error: %s\n", rec.DecisionPoint)
	fmt.Fprintf(&b, "Path To Error (%d Steps): %s\n", len(rec.Path), strings.Join(rec.Path, " > "))
	fmt.Fprintf(&b, "Last Choice: %s\n", rec.LastChoice)
	fmt.Fprintf(&b, "Variables In Use At Error: %s\n", variables(rec.StateAfter))
	return b.String()
}

func variables(state string) string {
	if state == "" {
		return "N/A"
	}
	vars, err := story.DecodeVars([]byte(state))
	if err != nil || len(vars) == 0 {
		return "N/A"
	}
	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %v", k, vars[k]))
	}
	return strings.Join(parts, ", ")
}
