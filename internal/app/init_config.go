package app

import (
	"fmt"
	"io"
	"os"

	"github.com/tonylturner/xcpmaster/internal/config"
)

// InitConfigOptions configures the init-config command.
type InitConfigOptions struct {
	Output string
	Force  bool
	Stdout io.Writer
}

// RunInitConfig writes the default project file.
func RunInitConfig(opts InitConfigOptions) error {
	out := opts.Stdout
	if out == nil {
		out = os.Stdout
	}
	path := opts.Output
	if path == "" {
		path = config.DefaultPath
	}
	if !opts.Force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
	}
	if err := config.WriteDefaultConfig(path); err != nil {
		return err
	}
	fmt.Fprintf(out, "Wrote default config to %s\n", path)
	fmt.Fprintln(out, "Start a local slave with 'xcpmaster simulate' and record with 'xcpmaster record'.")
	return nil
}
