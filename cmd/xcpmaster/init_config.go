package main

import (
	"github.com/spf13/cobra"

	"github.com/tonylturner/xcpmaster/internal/app"
)

func newInitConfigCmd() *cobra.Command {
	var output string
	var force bool

	cmd := &cobra.Command{
		Use:   "init-config",
		Short: "Write a default xcpmaster.yaml",
		RunE: func(cmd *cobra.Command, args []string) error {
			if handleHelpArg(cmd, args) {
				return nil
			}
			return app.RunInitConfig(app.InitConfigOptions{
				Output: output,
				Force:  force,
				Stdout: cmd.OutOrStdout(),
			})
		},
	}

	cmd.Flags().StringVar(&output, "output", "xcpmaster.yaml", "Config file to write")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")

	return cmd
}
