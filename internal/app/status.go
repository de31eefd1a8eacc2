package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/tonylturner/xcpmaster/internal/xcp/session"
)

// StatusOptions configures the status command.
type StatusOptions struct {
	CommonOptions
	Stdout io.Writer
}

// RunStatus connects, queries GET_STATUS and GET_SYNC, prints the slave
// snapshot and disconnects.
func RunStatus(opts StatusOptions) error {
	out := opts.Stdout
	if out == nil {
		out = os.Stdout
	}
	cfg, err := loadConfig(opts.CommonOptions)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg, opts.CommonOptions)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer logger.Close()

	ctx, cancel := interruptContext(context.Background(), logger)
	defer cancel()

	// Polling is not wanted here; only the session snapshot.
	cfg.Signals = nil
	live, err := startSession(ctx, cfg, logger, hooks{})
	if err != nil {
		return err
	}
	defer live.close()

	if err := live.connect(ctx); err != nil {
		return err
	}

	waitCtx, waitCancel := context.WithTimeout(ctx, live.connectTimeout())
	defer waitCancel()
	if err := live.sess.RefreshStatus(waitCtx); err != nil {
		return fmt.Errorf("queue GET_STATUS: %w", err)
	}
	if err := live.sess.Synchronize(waitCtx); err != nil {
		return fmt.Errorf("queue GET_SYNC: %w", err)
	}
	if _, err := live.waitNotice(waitCtx, func(n session.Notice) bool {
		return n.Kind == session.NoticeSynch || isFailure(n)
	}); err != nil {
		logger.Error("No GET_SYNC answer: %v", err)
	}
	// GET_STATUS was queued first, so it has completed once GET_SYNC has.
	waitStatus(waitCtx, live.sess)

	fmt.Fprint(out, FormatSlaveConfig(cfg.SlaveAddress(), live.sess.SlaveConfig()))
	st := live.sess.Stats()
	fmt.Fprintf(out, "Commands: %d sent, %d responses, %d negative, %d timeouts\n",
		st.Sent, st.Responses, st.NegativeResponse, st.Timeouts)
	return nil
}

func waitStatus(ctx context.Context, s *session.Session) {
	for !s.SlaveConfig().StatusKnown {
		select {
		case <-ctx.Done():
			return
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// FormatSlaveConfig renders a slave snapshot for the terminal.
func FormatSlaveConfig(addr string, c session.SlaveConfig) string {
	var b strings.Builder
	fmt.Fprintf(&b, "XCP slave %s\n", addr)
	fmt.Fprintf(&b, "  Connected:          %t\n", c.Connected)
	if !c.Connected && c.MaxCTO == 0 {
		return b.String()
	}
	order := "little-endian (Intel)"
	if c.CommMode.BigEndian() {
		order = "big-endian (Motorola)"
	}
	fmt.Fprintf(&b, "  Resources:          %s\n", c.Resources)
	fmt.Fprintf(&b, "  Byte order:         %s\n", order)
	fmt.Fprintf(&b, "  Granularity:        %s\n", c.AddressGranularity)
	fmt.Fprintf(&b, "  MAX_CTO / MAX_DTO:  %d / %d\n", c.MaxCTO, c.MaxDTO)
	fmt.Fprintf(&b, "  Protocol layer:     %d\n", c.ProtocolVersion)
	fmt.Fprintf(&b, "  Transport layer:    %d\n", c.TransportVersion)
	if c.StatusKnown {
		fmt.Fprintf(&b, "  Session status:     0x%02X (DAQ running: %t)\n", uint8(c.SessionStatus), c.DaqRunning())
		fmt.Fprintf(&b, "  Protection:         %s\n", c.Protection)
		fmt.Fprintf(&b, "  State number:       %d\n", c.StateNumber)
		fmt.Fprintf(&b, "  Session config id:  0x%04X\n", c.SessionConfigID)
	}
	if c.SynchErrorCode != nil {
		fmt.Fprintf(&b, "  GET_SYNC reply:     %s\n", *c.SynchErrorCode)
	}
	return b.String()
}
