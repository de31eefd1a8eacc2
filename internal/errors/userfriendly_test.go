package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/tonylturner/xcpmaster/internal/xcp/protocol"
	"github.com/tonylturner/xcpmaster/internal/xcp/queue"
)

func TestUserFriendlyError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      UserFriendlyError
		contains []string
	}{
		{
			name:     "message only",
			err:      UserFriendlyError{Message: "something broke"},
			contains: []string{"something broke"},
		},
		{
			name: "all fields",
			err: UserFriendlyError{
				Message: "connection failed",
				Reason:  "timeout",
				Hint:    "check network",
				Try:     "ping host",
				Err:     fmt.Errorf("dial tcp: timeout"),
			},
			contains: []string{"connection failed", "Reason: timeout", "Hint: check network", "Try: ping host", "Details: dial tcp: timeout"},
		},
		{
			name: "no reason",
			err: UserFriendlyError{
				Message: "failed",
				Hint:    "hint here",
			},
			contains: []string{"failed", "Hint: hint here"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := tt.err.Error()
			for _, s := range tt.contains {
				if !strings.Contains(msg, s) {
					t.Errorf("Error() = %q, want to contain %q", msg, s)
				}
			}
		})
	}
}

func TestUserFriendlyError_ErrorOmitsEmptyFields(t *testing.T) {
	err := UserFriendlyError{Message: "msg"}
	msg := err.Error()
	if strings.Contains(msg, "Reason:") || strings.Contains(msg, "Hint:") || strings.Contains(msg, "Try:") || strings.Contains(msg, "Details:") {
		t.Errorf("Error() = %q, should not contain empty fields", msg)
	}
}

func TestUserFriendlyError_Unwrap(t *testing.T) {
	inner := fmt.Errorf("root cause")
	err := UserFriendlyError{Message: "wrapper", Err: inner}

	if !errors.Is(err, inner) {
		t.Error("Unwrap should return the inner error")
	}

	var nilErr UserFriendlyError
	if nilErr.Unwrap() != nil {
		t.Error("Unwrap on nil Err should return nil")
	}
}

func TestWrapNetworkError(t *testing.T) {
	t.Run("nil error returns nil", func(t *testing.T) {
		if WrapNetworkError(nil, "10.0.0.1", 5555) != nil {
			t.Error("expected nil")
		}
	})

	tests := []struct {
		name   string
		err    error
		reason string
	}{
		{"address in use", fmt.Errorf("listen udp 0.0.0.0:5556: bind: address already in use"), "already in use"},
		{"bad host ip", fmt.Errorf("bind: cannot assign requested address"), "not configured"},
		{"timeout", fmt.Errorf("read udp: i/o timeout"), "Timeout"},
		{"refused", fmt.Errorf("connection refused"), "refused"},
		{"no route", fmt.Errorf("no route to host"), "route"},
		{"generic", fmt.Errorf("something else"), "Network communication failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := WrapNetworkError(tt.err, "10.0.0.1", 5555)
			ufe := err.(UserFriendlyError)
			if !strings.Contains(ufe.Message, "10.0.0.1:5555") {
				t.Errorf("message should contain address, got %q", ufe.Message)
			}
			if !strings.Contains(ufe.Reason, tt.reason) {
				t.Errorf("reason = %q, want to contain %q", ufe.Reason, tt.reason)
			}
			if !errors.Is(err, tt.err) {
				t.Error("wrapped error should unwrap to the cause")
			}
		})
	}
}

func TestWrapXCPError(t *testing.T) {
	t.Run("nil error returns nil", func(t *testing.T) {
		if WrapXCPError(nil, "calibrate") != nil {
			t.Error("expected nil")
		}
	})

	t.Run("negative response", func(t *testing.T) {
		perr := &protocol.ProtocolError{Command: protocol.CmdDownload, Code: protocol.ErrWriteProtected}
		err := WrapXCPError(fmt.Errorf("calibrate speed: %w", perr), "calibrate speed")
		ufe := err.(UserFriendlyError)
		if !strings.Contains(ufe.Message, "calibrate speed") {
			t.Errorf("message should contain operation, got %q", ufe.Message)
		}
		if !strings.Contains(ufe.Reason, "ERR_WRITE_PROTECTED") {
			t.Errorf("reason should name the error code, got %q", ufe.Reason)
		}
		if !strings.Contains(ufe.Hint, "calibration memory") {
			t.Errorf("hint = %q", ufe.Hint)
		}
	})

	t.Run("short response", func(t *testing.T) {
		err := WrapXCPError(&protocol.ShortResponseError{Command: protocol.CmdShortUpload, Got: 2, Want: 5}, "read")
		if !strings.Contains(err.(UserFriendlyError).Reason, "shorter") {
			t.Errorf("reason = %q", err.(UserFriendlyError).Reason)
		}
	})

	t.Run("queue full", func(t *testing.T) {
		err := WrapXCPError(fmt.Errorf("enqueue: %w", queue.ErrFull), "calibrate")
		ufe := err.(UserFriendlyError)
		if !strings.Contains(ufe.Reason, "queue is full") {
			t.Errorf("reason = %q", ufe.Reason)
		}
		if !strings.Contains(ufe.Hint, "polling rates") {
			t.Errorf("hint = %q", ufe.Hint)
		}
	})

	t.Run("timeout", func(t *testing.T) {
		err := WrapXCPError(fmt.Errorf("response timeout"), "status")
		if !strings.Contains(err.(UserFriendlyError).Reason, "timeout") {
			t.Errorf("reason = %q", err.(UserFriendlyError).Reason)
		}
	})

	t.Run("generic", func(t *testing.T) {
		err := WrapXCPError(fmt.Errorf("something"), "read")
		if err.(UserFriendlyError).Reason != "XCP protocol error occurred" {
			t.Errorf("unexpected reason: %q", err.(UserFriendlyError).Reason)
		}
	})
}

func TestWrapConfigError(t *testing.T) {
	t.Run("nil error returns nil", func(t *testing.T) {
		if WrapConfigError(nil, "xcpmaster.yaml") != nil {
			t.Error("expected nil")
		}
	})

	t.Run("wraps config error", func(t *testing.T) {
		err := WrapConfigError(fmt.Errorf("invalid yaml"), "xcpmaster.yaml")
		ufe := err.(UserFriendlyError)
		if !strings.Contains(ufe.Message, "xcpmaster.yaml") {
			t.Errorf("message should contain config path, got %q", ufe.Message)
		}
		if ufe.Reason != "invalid yaml" {
			t.Errorf("reason should be inner error message, got %q", ufe.Reason)
		}
		if !strings.Contains(ufe.Try, "init-config") {
			t.Errorf("try should suggest init-config, got %q", ufe.Try)
		}
	})
}
