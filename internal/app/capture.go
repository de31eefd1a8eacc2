package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/tonylturner/xcpmaster/internal/capture"
	"github.com/tonylturner/xcpmaster/internal/logging"
	"github.com/tonylturner/xcpmaster/internal/progress"
)

// CaptureOptions configures the capture command.
type CaptureOptions struct {
	Interface string
	// SlaveIP picks the interface when Interface is empty.
	SlaveIP  string
	Output   string
	Port     int
	Duration time.Duration
	// List prints the capture interfaces and exits.
	List       bool
	NoProgress bool
	Stdout     io.Writer
}

// RunCapture records XCP-on-UDP traffic from a live interface into a pcap
// file until the duration elapses or the user interrupts.
func RunCapture(opts CaptureOptions) error {
	out := opts.Stdout
	if out == nil {
		out = os.Stdout
	}
	if opts.List {
		return listInterfaces(out)
	}
	if opts.Output == "" {
		return fmt.Errorf("--output is required")
	}
	if opts.Port <= 0 {
		opts.Port = 5555
	}

	logger, err := logging.NewLogger(logging.LogLevelInfo, "")
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer logger.Close()
	ctx, cancel := interruptContext(context.Background(), logger)
	defer cancel()

	var c *capture.Capture
	if opts.Interface != "" {
		c, err = capture.Start(capture.Options{Interface: opts.Interface, Output: opts.Output, Port: opts.Port})
	} else {
		target := opts.SlaveIP
		if target == "" {
			target = "127.0.0.1"
		}
		c, err = capture.StartForTarget(target, opts.Output, opts.Port)
	}
	if err != nil {
		return fmt.Errorf("start capture: %w", err)
	}
	fmt.Fprintf(out, "Capturing %s into %s (Ctrl+C to stop)\n", capture.Filter(opts.Port), opts.Output)

	waitCapture(ctx, c, opts)

	if err := c.Stop(); err != nil {
		return fmt.Errorf("close capture: %w", err)
	}
	st := c.Stats()
	fmt.Fprintf(out, "Captured %d packets (%d bytes) in %s", st.Packets, st.Bytes, st.Elapsed.Round(time.Millisecond))
	if st.WriteErrors > 0 {
		fmt.Fprintf(out, ", %d write errors", st.WriteErrors)
	}
	fmt.Fprintln(out)
	return nil
}

func waitCapture(ctx context.Context, c *capture.Capture, opts CaptureOptions) {
	if opts.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Duration)
		defer cancel()
	}
	var counter *progress.Counter
	if !opts.NoProgress {
		counter = progress.NewCounter("Capturing", "packets", time.Second)
		defer counter.Finish()
	}
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if counter != nil {
				st := c.Stats()
				counter.Update(st.Packets, fmt.Sprintf("%d bytes", st.Bytes))
			}
		}
	}
}

func listInterfaces(out io.Writer) error {
	ifaces, err := capture.ListInterfaces()
	if err != nil {
		return err
	}
	if len(ifaces) == 0 {
		fmt.Fprintln(out, "No capture interfaces found")
		return nil
	}
	for _, iface := range ifaces {
		state := "down"
		if iface.IsUp {
			state = "up"
		}
		if iface.IsLoopback {
			state += ", loopback"
		}
		fmt.Fprintf(out, "%-20s %-10s %s\n", iface.DisplayName(), state, strings.Join(iface.Addresses, ", "))
	}
	return nil
}
