package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "xcpmaster",
		Short: "XCP-on-UDP master for measurement and calibration",
		Long: `xcpmaster connects to an XCP slave over UDP, records signals through
polling and DAQ lists, calibrates parameters and decodes captured XCP traffic.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newRecordCmd())
	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newCalibrateCmd())
	rootCmd.AddCommand(newChecksumCmd())
	rootCmd.AddCommand(newMonitorCmd())
	rootCmd.AddCommand(newSimulateCmd())
	rootCmd.AddCommand(newPcapDumpCmd())
	rootCmd.AddCommand(newCaptureCmd())
	rootCmd.AddCommand(newMetricsReportCmd())
	rootCmd.AddCommand(newInitConfigCmd())

	rootCmd.SetHelpFunc(func(cmd *cobra.Command, args []string) {
		if cmd != rootCmd {
			desc := cmd.Long
			if desc == "" {
				desc = cmd.Short
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\n\n%s", desc, cmd.UsageString())
			return
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Usage:\n  %s <command> [options]\n\n", cmd.Name())
		fmt.Fprintf(out, "Available Commands:\n")
		for _, subCmd := range cmd.Commands() {
			if !subCmd.Hidden {
				fmt.Fprintf(out, "  %-15s %s\n", subCmd.Name(), subCmd.Short)
			}
		}
		fmt.Fprintf(out, "\nUse \"%s help <command>\" for more information about a command.\n", cmd.Name())
	})
	return rootCmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
