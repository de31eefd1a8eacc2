package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/tonylturner/xcpmaster/internal/app"
)

type captureFlags struct {
	iface       string
	slaveIP     string
	output      string
	port        int
	durationSec int
	list        bool
}

func newCaptureCmd() *cobra.Command {
	flags := &captureFlags{}

	cmd := &cobra.Command{
		Use:   "capture",
		Short: "Capture XCP-on-UDP traffic from a network interface",
		Long: `Capture traffic to or from the slave port with libpcap and write it to a
pcap file. Without --interface the interface that routes to --slave-ip is
used. Live capture usually needs elevated privileges; record --pcap writes
the master's own traffic without them.`,
		Example: `  # List interfaces
  xcpmaster capture --list

  # Capture for 30 seconds on eth0
  xcpmaster capture --interface eth0 --output xcp.pcap --duration-seconds 30`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if handleHelpArg(cmd, args) {
				return nil
			}
			if !flags.list && flags.output == "" {
				return missingFlagError(cmd, "--output")
			}
			return app.RunCapture(app.CaptureOptions{
				Interface: flags.iface,
				SlaveIP:   flags.slaveIP,
				Output:    flags.output,
				Port:      flags.port,
				Duration:  time.Duration(flags.durationSec) * time.Second,
				List:      flags.list,
			})
		},
	}

	cmd.Flags().StringVar(&flags.iface, "interface", "", "Capture interface (auto-detected from --slave-ip if empty)")
	cmd.Flags().StringVar(&flags.slaveIP, "slave-ip", "", "Slave IP used to pick the interface")
	cmd.Flags().StringVar(&flags.output, "output", "", "Output pcap file (required)")
	cmd.Flags().IntVar(&flags.port, "port", 5555, "Slave UDP port")
	cmd.Flags().IntVar(&flags.durationSec, "duration-seconds", 0, "Capture time in seconds (0 captures until Ctrl+C)")
	cmd.Flags().BoolVar(&flags.list, "list", false, "List capture interfaces and exit")

	return cmd
}
