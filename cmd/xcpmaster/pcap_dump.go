package main

import (
	"github.com/spf13/cobra"

	"github.com/tonylturner/xcpmaster/internal/app"
)

type pcapDumpFlags struct {
	inputFile   string
	port        int
	maxEntries  int
	showPayload bool
	bigEndian   bool
	summaryOnly bool
}

func newPcapDumpCmd() *cobra.Command {
	flags := &pcapDumpFlags{}

	cmd := &cobra.Command{
		Use:   "pcap-dump",
		Short: "Decode XCP-on-UDP frames from a PCAP",
		Long: `Decode the XCP frames exchanged with the slave port in a pcap or pcapng
file, or in every capture under a directory, and summarize commands,
negative responses, DAQ lists and counter gaps.`,
		Example: `  # Dump the first 20 frames with hex
  xcpmaster pcap-dump --input session.pcap --max 20 --payload

  # Summary only for a directory of captures on port 5556
  xcpmaster pcap-dump --input captures/ --port 5556 --summary`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if handleHelpArg(cmd, args) {
				return nil
			}
			if flags.inputFile == "" && len(args) > 0 {
				flags.inputFile = args[0]
			}
			if flags.inputFile == "" {
				return missingFlagError(cmd, "--input")
			}
			return app.RunPCAPDump(app.PCAPDumpOptions{
				Input:       flags.inputFile,
				Port:        flags.port,
				Max:         flags.maxEntries,
				Payload:     flags.showPayload,
				BigEndian:   flags.bigEndian,
				SummaryOnly: flags.summaryOnly,
			})
		},
	}

	cmd.Flags().StringVar(&flags.inputFile, "input", "", "Input PCAP file or directory (required)")
	cmd.Flags().IntVar(&flags.port, "port", 5555, "Slave UDP port")
	cmd.Flags().IntVar(&flags.maxEntries, "max", 0, "Maximum frames to print per file (0 for all)")
	cmd.Flags().BoolVar(&flags.showPayload, "payload", false, "Include a hex dump of each frame")
	cmd.Flags().BoolVar(&flags.bigEndian, "big-endian", false, "Decode headers and payloads as Motorola byte order")
	cmd.Flags().BoolVar(&flags.summaryOnly, "summary", false, "Print only the summary")

	return cmd
}
