package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"storywalk/internal/crawl"
	"storywalk/internal/explore"
)

// RunCmd returns the run command
func RunCmd(g *globalFlags) *cobra.Command {
	var (
		batchSize   int
		runsdir     string
		runID       string
		metricsFile string
		resume      bool
		yes         bool
	)

	cmd := &cobra.Command{
		Use:   "run [story.dot]",
		Short: "Explore every path of a story",
		Long: `Explore every reachable path of a story and write report.json into the
run directory.

Every ending milestone asks whether to continue when stdin is a terminal;
--yes never asks. Ctrl-C stops at the next frame, saves a checkpoint and
prints the command that resumes the run.

Examples:
  storywalk run stories/bar.dot
  storywalk run stories/bar.dot --batch-size 5000 --run-id bar-nightly
  storywalk run --resume --run-id bar-nightly`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := g.settings()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("batch-size") {
				settings.BatchSize = batchSize
			}
			if runsdir != "" {
				settings.RunsDir = runsdir
			}
			if metricsFile != "" {
				settings.MetricsFile = metricsFile
			}
			if err := settings.Validate(); err != nil {
				return err
			}

			var storyPath string
			if len(args) == 1 {
				storyPath = args[0]
			} else if !resume {
				return fmt.Errorf("missing story path")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			stderr := cmd.ErrOrStderr()
			_, errTTY := terminalFile(stderr)
			rc := crawl.RunConfig{
				StoryPath: storyPath,
				Runsdir:   settings.RunsDir,
				RunID:     runID,
				Resume:    resume,
				Settings:  settings,
				Console:   stderr,
				Color:     errTTY,
			}
			if errTTY {
				rc.Progress = stderr
			}
			if _, inTTY := terminalFile(cmd.InOrStdin()); inTTY && !yes {
				rc.Prompt = newPrompt(cmd.InOrStdin(), stderr)
			}

			res, err := crawl.RunStory(ctx, rc)
			if res != nil && res.Report != nil {
				printSummary(cmd.OutOrStdout(), res)
			}
			if err != nil {
				if errors.Is(err, explore.ErrUnexpectedFault) {
					return &ExitError{Code: 1, Err: err}
				}
				return err
			}
			if res.Outcome == explore.Interrupted {
				fmt.Fprintf(cmd.OutOrStdout(), "resume with: storywalk run --resume --run-id %s --runsdir %s\n", res.RunID, settings.RunsDir)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&batchSize, "batch-size", 0, "frames explored between checkpoints")
	cmd.Flags().StringVar(&runsdir, "runsdir", "", "directory holding run directories")
	cmd.Flags().StringVar(&runID, "run-id", "", "run id (default <story>_<timestamp>)")
	cmd.Flags().StringVar(&metricsFile, "metrics-file", "", "write Prometheus metrics to this textfile")
	cmd.Flags().BoolVar(&resume, "resume", false, "continue an interrupted or declined run")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "never ask before continuing")
	return cmd
}

// newPrompt asks on out and reads the answer from in. Only y or yes
// continue.
func newPrompt(in io.Reader, out io.Writer) func(explore.Progress) bool {
	r := bufio.NewReader(in)
	return func(p explore.Progress) bool {
		fmt.Fprintf(out, "Reached %d endings (%d errors, %d frames queued). Continue crawling? [y/N] ",
			p.Totals.EndingsCount, p.Errors, p.FrontierSize)
		line, err := r.ReadString('\n')
		if err != nil && line == "" {
			return false
		}
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
			return true
		}
		return false
	}
}

func printSummary(w io.Writer, res *crawl.Result) {
	rep := res.Report
	outcome := string(res.Outcome)
	switch res.Outcome {
	case explore.Completed:
		outcome = color.New(color.FgGreen).Sprint(outcome)
	case explore.Failed:
		outcome = color.New(color.FgRed).Sprint(outcome)
	default:
		outcome = color.New(color.FgYellow).Sprint(outcome)
	}
	fmt.Fprintf(w, "Run %s %s\n", res.RunID, outcome)
	fmt.Fprintf(w, "  choices:  %d\n", rep.ChoicesCount)
	fmt.Fprintf(w, "  endings:  %d (%d unique)\n", rep.EndingsCount, rep.UniqueEndings)
	fmt.Fprintf(w, "  errors:   %d\n", rep.TotalErrors)
	fmt.Fprintf(w, "  max depth: %d\n", rep.MaxDepthReached)
	fmt.Fprintf(w, "  report:   %s\n", res.ReportPath)
}
