package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/tonylturner/xcpmaster/internal/app"
)

type recordFlags struct {
	common      commonFlags
	durationSec int
	samplesFile string
	metricsFile string
	pcapFile    string
	outputDir   string
	noProgress  bool
}

func newRecordCmd() *cobra.Command {
	flags := &recordFlags{}

	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record signals from an XCP slave",
		Long: `Connect to the slave, provision DAQ lists for event-triggered signals,
poll the rest with SHORT_UPLOAD and write every decoded sample.

Signals, events and protocol settings come from xcpmaster.yaml (or --config).
A samples file ending in .json is written as JSON lines, anything else as CSV.
With --output-dir every artifact (samples, metrics, pcap, summary, run.json)
goes into that directory under a run id.`,
		Example: `  # Record for one minute
  xcpmaster record --duration-seconds 60

  # Record until Ctrl+C with samples as JSON and a pcap of the session
  xcpmaster record --samples samples.json --pcap session.pcap

  # Keep all artifacts of the run together
  xcpmaster record --duration-seconds 30 --output-dir runs/`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if handleHelpArg(cmd, args) {
				return nil
			}
			return app.RunRecord(app.RecordOptions{
				CommonOptions: flags.common.options(),
				Duration:      time.Duration(flags.durationSec) * time.Second,
				SamplesFile:   flags.samplesFile,
				MetricsFile:   flags.metricsFile,
				PCAPFile:      flags.pcapFile,
				OutputDir:     flags.outputDir,
				NoProgress:    flags.noProgress,
			})
		},
	}

	flags.common.register(cmd)
	cmd.Flags().IntVar(&flags.durationSec, "duration-seconds", 0, "Recording time in seconds (0 records until Ctrl+C)")
	cmd.Flags().StringVar(&flags.samplesFile, "samples", "", "Samples output file, .csv or .json (default: config output.samples_file)")
	cmd.Flags().StringVar(&flags.metricsFile, "metrics-file", "", "Per-command metrics CSV (default: config output.metrics_file)")
	cmd.Flags().StringVar(&flags.pcapFile, "pcap", "", "Write the session traffic to a pcap file")
	cmd.Flags().StringVar(&flags.outputDir, "output-dir", "", "Output directory for all artifacts of the run")
	cmd.Flags().BoolVar(&flags.noProgress, "no-progress", false, "Disable the progress display")

	return cmd
}
