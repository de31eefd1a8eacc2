package app

import (
	"context"
	"fmt"
	"io"
	"os"

	xcperrors "github.com/tonylturner/xcpmaster/internal/errors"
	"github.com/tonylturner/xcpmaster/internal/tui"
	"github.com/tonylturner/xcpmaster/internal/xcp/protocol"
	"github.com/tonylturner/xcpmaster/internal/xcp/session"
	"github.com/tonylturner/xcpmaster/internal/xcp/signal"
)

// CalibrateOptions configures the calibrate command.
type CalibrateOptions struct {
	CommonOptions
	Signal      string
	Value       string
	Interactive bool
	Stdout      io.Writer
}

// RunCalibrate writes one value to a configured signal and prints the
// value read back from the slave.
func RunCalibrate(opts CalibrateOptions) error {
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

	signals, err := cfg.Signals()
	if err != nil {
		return err
	}
	var req tui.CalibrationRequest
	if opts.Interactive {
		req, err = tui.RunCalibrationForm(signals)
	} else {
		req, err = calibrationRequest(signals, opts.Signal, opts.Value)
	}
	if err != nil {
		return err
	}

	ctx, cancel := interruptContext(context.Background(), logger)
	defer cancel()

	live, err := startSession(ctx, cfg, logger, hooks{})
	if err != nil {
		return err
	}
	defer live.close()
	if err := live.connect(ctx); err != nil {
		return err
	}

	if req.Signal.Float {
		err = live.sess.CalibrateFloat(ctx, req.Signal.Name, req.Float)
	} else {
		err = live.sess.Calibrate(ctx, req.Signal.Name, req.Value)
	}
	if err != nil {
		return xcperrors.WrapXCPError(err, "calibrate "+req.Signal.Name)
	}
	logger.Info("Queued calibration %s", req)

	waitCtx, waitCancel := context.WithTimeout(ctx, live.connectTimeout())
	defer waitCancel()
	sample, failure, err := live.waitResult(waitCtx,
		func(s signal.Sample) bool {
			return s.Source == signal.SourceCalibration && s.Name == req.Signal.Name
		},
		func(n session.Notice) bool {
			return isFailure(n) && calibrationCommand(n.Command.Command)
		})
	if err != nil {
		return xcperrors.WrapXCPError(fmt.Errorf("no read-back: %w", err), "calibrate "+req.Signal.Name)
	}
	if failure != nil {
		return xcperrors.WrapXCPError(failure.Err, "calibrate "+req.Signal.Name)
	}

	fmt.Fprintf(out, "%s at 0x%08X: wrote %d, read back %d (raw 0x%X)\n",
		req.Signal.Name, req.Signal.Address, req.Value, sample.Value, sample.Raw)
	if sample.Value != req.Value {
		fmt.Fprintf(out, "Note: read-back differs from the written value; %q is decoded as a %d byte %s value\n",
			req.Signal.Name, req.Signal.Size, signedness(req.Signal))
	}
	return nil
}

func calibrationCommand(c protocol.Command) bool {
	return c == protocol.CmdSetMTA || c == protocol.CmdDownload || c == protocol.CmdShortUpload
}

func signedness(s signal.Signal) string {
	if s.Unsigned() {
		return "unsigned"
	}
	return "signed"
}

func calibrationRequest(signals []signal.Signal, name, value string) (tui.CalibrationRequest, error) {
	if name == "" {
		return tui.CalibrationRequest{}, fmt.Errorf("--signal is required")
	}
	return tui.NewCalibrationRequest(signals, name, value)
}
