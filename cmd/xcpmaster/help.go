package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tonylturner/xcpmaster/internal/app"
)

func handleHelpArg(cmd *cobra.Command, args []string) bool {
	if len(args) == 0 {
		return false
	}
	if strings.EqualFold(args[0], "help") {
		_ = cmd.Help()
		return true
	}
	return false
}

func missingFlagError(cmd *cobra.Command, flag string) error {
	_ = cmd.Help()
	return fmt.Errorf("required flag %s not set", flag)
}

// commonFlags are shared by the commands that talk to a slave.
type commonFlags struct {
	config     string
	quickStart bool
	ip         string
	port       int
	logFile    string
	verbose    bool
	debug      bool
}

func (f *commonFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.config, "config", "xcpmaster.yaml", "Project config file")
	cmd.Flags().BoolVar(&f.quickStart, "quick-start", false, "Auto-generate a default config if missing")
	cmd.Flags().StringVar(&f.ip, "ip", "", "Override the slave IP address from the config")
	cmd.Flags().IntVar(&f.port, "port", 0, "Override the slave UDP port from the config")
	cmd.Flags().StringVar(&f.logFile, "log-file", "", "Log file path (default: config logging.file)")
	cmd.Flags().BoolVar(&f.verbose, "verbose", false, "Enable verbose output")
	cmd.Flags().BoolVar(&f.debug, "debug", false, "Enable debug output with packet hex dumps")
}

func (f *commonFlags) options() app.CommonOptions {
	return app.CommonOptions{
		ConfigPath: f.config,
		QuickStart: f.quickStart,
		IP:         f.ip,
		Port:       f.port,
		LogFile:    f.logFile,
		Verbose:    f.verbose,
		Debug:      f.debug,
	}
}
