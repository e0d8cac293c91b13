package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"storywalk/internal/report"
)

// ReportCmd returns the report command
func ReportCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "report <report.json>",
		Short: "Render a run report as text",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := report.Read(args[0])
			if err != nil {
				return err
			}
			if output == "" {
				w := cmd.OutOrStdout()
				_, tty := terminalFile(w)
				return report.RenderText(w, r, tty)
			}
			f, err := os.Create(output)
			if err != nil {
				return err
			}
			if err := report.RenderText(f, r, false); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", output)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "write the text report to this file")
	return cmd
}

// ExportCmd returns the export command
func ExportCmd() *cobra.Command {
	var dbPath string

	cmd := &cobra.Command{
		Use:   "export <report.json>",
		Short: "Store a run report in a SQLite database",
		Long: `Insert the run, its endings and its errors into a SQLite database so
several runs can be queried together. Exporting the same run again replaces
its rows.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := report.Read(args[0])
			if err != nil {
				return err
			}
			if err := report.Export(cmd.Context(), dbPath, r); err != nil {
				return err
			}
			return printExported(cmd.OutOrStdout(), r, dbPath)
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", "", "SQLite database file")
	_ = cmd.MarkFlagRequired("db")
	return cmd
}

func printExported(w io.Writer, r *report.Report, dbPath string) error {
	_, err := fmt.Fprintf(w, "exported run %s (%d endings, %d errors) to %s\n", r.RunID, len(r.Endings), len(r.Errors), dbPath)
	return err
}
