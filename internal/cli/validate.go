package cli

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"storywalk/internal/story"
)

// ValidateCmd returns the validate command
func ValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <story.dot>",
		Short: "Check a story without exploring it",
		Long: `Parse and validate a story. Errors (missing start node, dangling edges,
script syntax) fail the command; warnings (unreachable nodes, unconditional
divert cycles) are printed but do not.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			s, diags, err := story.Load(args[0])
			for _, d := range diags {
				level := color.New(color.FgYellow).Sprint(d.Level)
				if d.Level == story.LevelError {
					level = color.New(color.FgRed).Sprint(d.Level)
				}
				fmt.Fprintf(out, "%s: %s\n", level, d.Message)
			}
			if err != nil {
				return &ExitError{Code: 1, Err: fmt.Errorf("%s: %w", args[0], err)}
			}
			fmt.Fprintf(out, "%s: ok (%d nodes, start %q)\n", args[0], s.Nodes, s.Start)
			return nil
		},
	}
}
