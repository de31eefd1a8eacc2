package app

import (
	"context"
	"fmt"

	"github.com/tonylturner/xcpmaster/internal/record"
	"github.com/tonylturner/xcpmaster/internal/tui"
)

// MonitorOptions configures the monitor command.
type MonitorOptions struct {
	CommonOptions
	// AutoStart begins recording as soon as the session is connected.
	AutoStart bool
}

// RunMonitor connects and opens the live signal monitor.
func RunMonitor(opts MonitorOptions) error {
	cfg, err := loadConfig(opts.CommonOptions)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg, opts.CommonOptions)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer logger.Close()
	// The monitor owns the terminal.
	logger.FileOnly()

	ctx, cancel := interruptContext(context.Background(), logger)
	defer cancel()

	rec := record.NewRecorder(record.DefaultHistory)
	live, err := startSession(ctx, cfg, logger, hooks{OnSample: rec.Add})
	if err != nil {
		return err
	}
	defer live.close()
	if err := live.connect(ctx); err != nil {
		return err
	}
	if opts.AutoStart {
		if err := live.sess.StartRecording(ctx); err != nil {
			return fmt.Errorf("start recording: %w", err)
		}
	}

	return tui.RunMonitor(ctx, live.sess, rec, tui.MonitorOptions{
		Endpoint: cfg.SlaveAddress(),
		Signals:  live.signals,
		Notices:  live.notices,
	})
}
