package main

import (
	"github.com/spf13/cobra"

	"github.com/tonylturner/xcpmaster/internal/app"
)

func newStatusCmd() *cobra.Command {
	flags := &commonFlags{}

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Connect and print the slave configuration",
		Long: `Connect to the slave, query GET_STATUS and GET_SYNC and print what the
slave reported: resources, byte order, MAX_CTO/MAX_DTO, session status and
protection.`,
		Example: `  xcpmaster status --ip 192.168.1.20 --port 5555`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if handleHelpArg(cmd, args) {
				return nil
			}
			return app.RunStatus(app.StatusOptions{CommonOptions: flags.options()})
		},
	}

	flags.register(cmd)
	return cmd
}
