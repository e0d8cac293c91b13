// Package cli holds the storywalk commands.
package cli

import (
	"errors"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"storywalk/internal/config"
)

// ExitError asks main to exit with Code after printing Err.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string { return e.Err.Error() }
func (e *ExitError) Unwrap() error { return e.Err }

// ExitCode maps an Execute error to a process exit code.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var ee *ExitError
	if errors.As(err, &ee) {
		return ee.Code
	}
	return 1
}

type globalFlags struct {
	configPath string
}

func (g *globalFlags) settings() (*config.Config, error) {
	return config.Load(g.configPath)
}

// RootCmd returns the storywalk command tree.
func RootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:   "storywalk",
		Short: "Exhaustively explore branching stories",
		Long: `storywalk walks every reachable path of a branching story, records each
ending it reaches and every runtime fault it hits, and writes a report.

Long runs checkpoint to disk and can be resumed after an interrupt.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&g.configPath, "config", "c", "", "config file path (YAML)")

	root.AddCommand(RunCmd(g))
	root.AddCommand(ValidateCmd())
	root.AddCommand(ReportCmd())
	root.AddCommand(ExportCmd())
	root.AddCommand(ServeCmd(g))
	return root
}

func isTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// terminalFile returns the *os.File behind w when it is a terminal.
func terminalFile(w any) (*os.File, bool) {
	f, ok := w.(*os.File)
	if !ok || !isTerminal(f) {
		return nil, false
	}
	return f, true
}
