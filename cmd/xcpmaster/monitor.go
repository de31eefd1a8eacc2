package main

import (
	"github.com/spf13/cobra"

	"github.com/tonylturner/xcpmaster/internal/app"
)

type monitorFlags struct {
	common    commonFlags
	autoStart bool
}

func newMonitorCmd() *cobra.Command {
	flags := &monitorFlags{}

	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Live signal monitor in the terminal",
		Long: `Connect to the slave and show the latest value, range and history of
every signal. Press r to start or stop recording, c to copy the selected
value and q to quit. Logs go to the configured log file only.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if handleHelpArg(cmd, args) {
				return nil
			}
			return app.RunMonitor(app.MonitorOptions{
				CommonOptions: flags.common.options(),
				AutoStart:     flags.autoStart,
			})
		},
	}

	flags.common.register(cmd)
	cmd.Flags().BoolVar(&flags.autoStart, "start", true, "Start recording once connected")

	return cmd
}
