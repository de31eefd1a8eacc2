package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/tonylturner/xcpmaster/internal/app"
)

type checksumFlags struct {
	common    commonFlags
	address   string
	extension uint8
	blockSize uint32
}

func newChecksumCmd() *cobra.Command {
	flags := &checksumFlags{}

	cmd := &cobra.Command{
		Use:     "checksum",
		Short:   "Ask the slave for a checksum over a memory block",
		Example: `  xcpmaster checksum --address 0x1000 --block-size 256`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if handleHelpArg(cmd, args) {
				return nil
			}
			if flags.address == "" {
				return missingFlagError(cmd, "--address")
			}
			addr, err := strconv.ParseUint(flags.address, 0, 32)
			if err != nil {
				return fmt.Errorf("invalid --address %q: %w", flags.address, err)
			}
			return app.RunChecksum(app.ChecksumOptions{
				CommonOptions: flags.common.options(),
				Address:       uint32(addr),
				Extension:     flags.extension,
				BlockSize:     flags.blockSize,
			})
		},
	}

	flags.common.register(cmd)
	cmd.Flags().StringVar(&flags.address, "address", "", "Start address, decimal or 0x hex (required)")
	cmd.Flags().Uint8Var(&flags.extension, "extension", 0, "Address extension")
	cmd.Flags().Uint32Var(&flags.blockSize, "block-size", 256, "Block size in bytes")

	return cmd
}
