package main

import (
	"github.com/spf13/cobra"

	"github.com/tonylturner/xcpmaster/internal/app"
)

func newMetricsReportCmd() *cobra.Command {
	var input string

	cmd := &cobra.Command{
		Use:   "metrics-report",
		Short: "Summarize per-command metrics CSVs",
		Long: `Read metrics CSVs written by record (--metrics-file or --output-dir) and
print success rates, negative responses, timeouts and RTT percentiles per
command.`,
		Example: `  xcpmaster metrics-report --input runs/`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if handleHelpArg(cmd, args) {
				return nil
			}
			if input == "" && len(args) > 0 {
				input = args[0]
			}
			if input == "" {
				return missingFlagError(cmd, "--input")
			}
			return app.RunMetricsReport(app.MetricsReportOptions{Input: input})
		},
	}

	cmd.Flags().StringVar(&input, "input", "", "Metrics CSV file or directory (required)")
	return cmd
}
