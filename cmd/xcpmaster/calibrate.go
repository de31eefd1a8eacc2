package main

import (
	"github.com/spf13/cobra"

	"github.com/tonylturner/xcpmaster/internal/app"
)

type calibrateFlags struct {
	common      commonFlags
	signal      string
	value       string
	interactive bool
}

func newCalibrateCmd() *cobra.Command {
	flags := &calibrateFlags{}

	cmd := &cobra.Command{
		Use:   "calibrate",
		Short: "Write a value to a configured signal",
		Long: `Download a value to a signal from the config (SET_MTA + DOWNLOAD) and
read it back with SHORT_UPLOAD.

Integer values accept decimal, 0x hex and 0o octal. Float signals are not
supported by the master yet and are rejected.`,
		Example: `  # Write 300 to idle_offset
  xcpmaster calibrate --signal idle_offset --value 300

  # Pick the signal and value in a form
  xcpmaster calibrate --interactive`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if handleHelpArg(cmd, args) {
				return nil
			}
			if !flags.interactive {
				if flags.signal == "" {
					return missingFlagError(cmd, "--signal")
				}
				if flags.value == "" {
					return missingFlagError(cmd, "--value")
				}
			}
			return app.RunCalibrate(app.CalibrateOptions{
				CommonOptions: flags.common.options(),
				Signal:        flags.signal,
				Value:         flags.value,
				Interactive:   flags.interactive,
			})
		},
	}

	flags.common.register(cmd)
	cmd.Flags().StringVar(&flags.signal, "signal", "", "Signal name from the config")
	cmd.Flags().StringVar(&flags.value, "value", "", "Value to write")
	cmd.Flags().BoolVar(&flags.interactive, "interactive", false, "Choose signal and value in a terminal form")

	return cmd
}
