package app

import (
	"context"
	"fmt"
	"io"
	"os"

	xcperrors "github.com/tonylturner/xcpmaster/internal/errors"
	"github.com/tonylturner/xcpmaster/internal/xcp/protocol"
	"github.com/tonylturner/xcpmaster/internal/xcp/session"
)

// ChecksumOptions configures the checksum command.
type ChecksumOptions struct {
	CommonOptions
	Address   uint32
	Extension uint8
	BlockSize uint32
	Stdout    io.Writer
}

// RunChecksum asks the slave for a BUILD_CHECKSUM over a memory block.
func RunChecksum(opts ChecksumOptions) error {
	out := opts.Stdout
	if out == nil {
		out = os.Stdout
	}
	if opts.BlockSize == 0 {
		return fmt.Errorf("--block-size must be positive")
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

	cfg.Signals = nil
	live, err := startSession(ctx, cfg, logger, hooks{})
	if err != nil {
		return err
	}
	defer live.close()
	if err := live.connect(ctx); err != nil {
		return err
	}

	op := fmt.Sprintf("checksum 0x%08X+%d", opts.Address, opts.BlockSize)
	if err := live.sess.RequestChecksum(ctx, opts.Address, opts.Extension, opts.BlockSize); err != nil {
		return xcperrors.WrapXCPError(err, op)
	}

	waitCtx, waitCancel := context.WithTimeout(ctx, live.connectTimeout())
	defer waitCancel()
	n, err := live.waitNotice(waitCtx, func(n session.Notice) bool {
		if n.Kind == session.NoticeChecksum {
			return true
		}
		return isFailure(n) && (n.Command.Command == protocol.CmdSetMTA || n.Command.Command == protocol.CmdBuildChecksum)
	})
	if err != nil {
		return xcperrors.WrapXCPError(fmt.Errorf("no checksum response: %w", err), op)
	}
	if n.Kind != session.NoticeChecksum {
		return xcperrors.WrapXCPError(n.Err, op)
	}

	fmt.Fprintf(out, "Checksum of %d bytes at 0x%08X (ext %d): 0x%08X (%s)\n",
		opts.BlockSize, opts.Address, opts.Extension, n.Checksum.Checksum, n.Checksum.Type)
	return nil
}
