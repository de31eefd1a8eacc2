package main

import (
	"github.com/spf13/cobra"

	"github.com/tonylturner/xcpmaster/internal/app"
)

type simulateFlags struct {
	config    string
	listen    string
	dropEvery int
	bigEndian bool
	logFile   string
	verbose   bool
	debug     bool
}

func newSimulateCmd() *cobra.Command {
	flags := &simulateFlags{}

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run an emulated XCP slave",
		Long: `Serve an in-memory XCP-on-UDP slave for local testing. Signals from the
config are seeded with starting values and event-triggered ones count up on
every DAQ cycle. --drop-every N discards every Nth response to exercise the
master's timeout handling.`,
		Example: `  # Serve the default config on 127.0.0.1:5555
  xcpmaster simulate

  # Drop every 10th response
  xcpmaster simulate --listen 0.0.0.0:5555 --drop-every 10`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if handleHelpArg(cmd, args) {
				return nil
			}
			return app.RunSimulate(app.SimulateOptions{
				ConfigPath: flags.config,
				Listen:     flags.listen,
				DropEvery:  flags.dropEvery,
				BigEndian:  flags.bigEndian,
				LogFile:    flags.logFile,
				Verbose:    flags.verbose,
				Debug:      flags.debug,
			})
		},
	}

	cmd.Flags().StringVar(&flags.config, "config", "xcpmaster.yaml", "Config with events and signals to serve (defaults used if missing)")
	cmd.Flags().StringVar(&flags.listen, "listen", "", "UDP listen address (default: config slave address)")
	cmd.Flags().IntVar(&flags.dropEvery, "drop-every", 0, "Discard every Nth response (0 disables)")
	cmd.Flags().BoolVar(&flags.bigEndian, "big-endian", false, "Report Motorola byte order in CONNECT")
	cmd.Flags().StringVar(&flags.logFile, "log-file", "", "Log file path")
	cmd.Flags().BoolVar(&flags.verbose, "verbose", false, "Enable verbose output")
	cmd.Flags().BoolVar(&flags.debug, "debug", false, "Log every command and response")

	return cmd
}
