package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/tonylturner/xcpmaster/internal/xcp/protocol"
)

// ErrFloatCalibration is returned by CalibrateFloat. The transfer encoding
// for floating point calibration values is not defined yet, so nothing is
// written to the slave.
var ErrFloatCalibration = errors.New("float calibration not supported")

// Calibrate writes an integer value to the named signal. SET_MTA, DOWNLOAD
// and a SHORT_UPLOAD read-back are queued together or not at all; a full
// queue is returned as queue.ErrFull.
func (s *Session) Calibrate(ctx context.Context, name string, value int64) error {
	return s.do(ctx, func(e *engine) error { return e.calibrate(name, value) })
}

// CalibrateFloat is the floating point calibration path. It validates the
// target and then always fails with ErrFloatCalibration.
//
// TODO: encode IEEE-754 values once the ASAP2 float transfer convention for
// DOWNLOAD is settled.
func (s *Session) CalibrateFloat(ctx context.Context, name string, value float64) error {
	sig, ok := s.signals.ByName(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSignal, name)
	}
	if sig.Size != 4 && sig.Size != 8 {
		return fmt.Errorf("calibrate %s: %d byte signal cannot hold a float", name, sig.Size)
	}
	return fmt.Errorf("calibrate %s=%g: %w", name, value, ErrFloatCalibration)
}

// RequestChecksum queues SET_MTA and BUILD_CHECKSUM over blockSize bytes.
// The result arrives as a NoticeChecksum.
func (s *Session) RequestChecksum(ctx context.Context, address uint32, extension uint8, blockSize uint32) error {
	return s.do(ctx, func(e *engine) error {
		if !e.sessionOpen() {
			return ErrNotConnected
		}
		return e.submit(e.builder.SetMTA(address, extension), e.builder.BuildChecksum(blockSize))
	})
}

// Synchronize queues GET_SYNC. The slave's answer, normally ERR_CMD_SYNCH,
// is stored in SlaveConfig.SynchErrorCode.
func (s *Session) Synchronize(ctx context.Context) error {
	return s.do(ctx, func(e *engine) error {
		if !e.sessionOpen() {
			return ErrNotConnected
		}
		return e.submit(e.builder.GetSync())
	})
}

// RefreshStatus queues GET_STATUS.
func (s *Session) RefreshStatus(ctx context.Context) error {
	return s.do(ctx, func(e *engine) error {
		if !e.sessionOpen() {
			return ErrNotConnected
		}
		return e.submit(e.builder.GetStatus())
	})
}

// Upload queues a SHORT_UPLOAD of one configured signal outside the polling
// schedule.
func (s *Session) Upload(ctx context.Context, name string) error {
	return s.do(ctx, func(e *engine) error {
		if !e.sessionOpen() {
			return ErrNotConnected
		}
		sig, ok := e.signals.ByName(name)
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownSignal, name)
		}
		p, err := e.builder.ShortUpload(sig.Address, sig.Extension, sig.Size)
		if err != nil {
			return fmt.Errorf("upload %s: %w", name, err)
		}
		return e.submit(p)
	})
}

// Enqueue queues prebuilt commands as one group.
func (s *Session) Enqueue(ctx context.Context, cmds ...protocol.CommandPayload) error {
	return s.do(ctx, func(e *engine) error {
		if !e.sessionOpen() {
			return ErrNotConnected
		}
		return e.submit(cmds...)
	})
}

// Builder returns a copy of the payload builder in its current byte order.
func (s *Session) Builder(ctx context.Context) (protocol.Builder, error) {
	var b protocol.Builder
	err := s.do(ctx, func(e *engine) error {
		b = *e.builder
		return nil
	})
	return b, err
}

// submit queues cmds atomically and kicks the send loop.
func (e *engine) submit(cmds ...protocol.CommandPayload) error {
	if err := e.enqueueAll(cmds...); err != nil {
		return err
	}
	e.trySendNext()
	return nil
}

func (e *engine) calibrate(name string, value int64) error {
	if !e.sessionOpen() {
		return ErrNotConnected
	}
	sig, ok := e.signals.ByName(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSignal, name)
	}
	if sig.Float {
		return fmt.Errorf("calibrate %s: %w", name, ErrFloatCalibration)
	}

	download, err := e.builder.DownloadValue(uint64(value), sig.Size)
	if err != nil {
		return fmt.Errorf("calibrate %s: %w", name, err)
	}
	readback, err := e.builder.ShortUpload(sig.Address, sig.Extension, sig.Size)
	if err != nil {
		return fmt.Errorf("calibrate %s: %w", name, err)
	}
	if err := e.submit(e.builder.SetMTA(sig.Address, sig.Extension), download, readback); err != nil {
		return fmt.Errorf("calibrate %s: %w", name, err)
	}
	e.log.Info("calibrating %s = %d", name, value)
	return nil
}
