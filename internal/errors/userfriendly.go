package errors

import (
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/tonylturner/xcpmaster/internal/xcp/protocol"
	"github.com/tonylturner/xcpmaster/internal/xcp/queue"
)

// UserFriendlyError provides user-friendly error messages with context and hints
type UserFriendlyError struct {
	Message string
	Reason  string
	Hint    string
	Try     string
	Err     error
}

func (e UserFriendlyError) Error() string {
	var buf strings.Builder
	buf.WriteString(e.Message)
	if e.Reason != "" {
		buf.WriteString("\n  Reason: " + e.Reason)
	}
	if e.Hint != "" {
		buf.WriteString("\n  Hint: " + e.Hint)
	}
	if e.Try != "" {
		buf.WriteString("\n  Try: " + e.Try)
	}
	if e.Err != nil {
		buf.WriteString("\n  Details: " + e.Err.Error())
	}
	return buf.String()
}

func (e UserFriendlyError) Unwrap() error {
	return e.Err
}

// WrapNetworkError wraps socket bind and send failures with user-friendly context
func WrapNetworkError(err error, ip string, port int) error {
	if err == nil {
		return nil
	}

	return UserFriendlyError{
		Message: fmt.Sprintf("Failed to communicate with XCP slave at %s:%d", ip, port),
		Reason:  extractNetworkReason(err),
		Hint:    "Check that the slave listens for XCP on UDP and that host_ip/host_port are free on this machine",
		Try:     fmt.Sprintf("xcpmaster status --ip %s --port %d", ip, port),
		Err:     err,
	}
}

// WrapXCPError wraps XCP protocol failures with user-friendly context
func WrapXCPError(err error, operation string) error {
	if err == nil {
		return nil
	}

	return UserFriendlyError{
		Message: fmt.Sprintf("XCP operation failed: %s", operation),
		Reason:  extractXCPReason(err),
		Hint:    xcpHint(err),
		Try:     "Run with --log-level debug to see every packet exchanged",
		Err:     err,
	}
}

// WrapConfigError wraps configuration errors with user-friendly context
func WrapConfigError(err error, configPath string) error {
	if err == nil {
		return nil
	}

	return UserFriendlyError{
		Message: fmt.Sprintf("Configuration error in %s", configPath),
		Reason:  err.Error(),
		Hint:    "See docs/CONFIGURATION.md for configuration examples",
		Try:     fmt.Sprintf("Generate a starting point: xcpmaster init-config --output %s", configPath),
		Err:     err,
	}
}

func extractNetworkReason(err error) string {
	errStr := err.Error()

	if strings.Contains(errStr, "address already in use") {
		return "Local address already in use - another process owns the host port"
	}
	if strings.Contains(errStr, "cannot assign requested address") {
		return "Host IP is not configured on any local interface"
	}
	if strings.Contains(errStr, "timeout") || strings.Contains(errStr, "deadline exceeded") {
		return "Timeout - slave may be offline or unreachable"
	}
	if strings.Contains(errStr, "connection refused") {
		return "Connection refused - nothing is listening on the slave port"
	}
	if strings.Contains(errStr, "no route to host") {
		return "No route to host - network routing issue or slave unreachable"
	}

	return "Network communication failed"
}

func extractXCPReason(err error) string {
	var perr *protocol.ProtocolError
	if stderrors.As(err, &perr) {
		return fmt.Sprintf("Slave answered %s: %s", perr.Code, perr.Code.Message())
	}
	if protocol.IsShortResponse(err) {
		return "Received a response shorter than the command requires"
	}
	if stderrors.Is(err, queue.ErrFull) {
		return "Command queue is full - the command was not sent"
	}

	errStr := err.Error()
	if strings.Contains(errStr, "timeout") {
		return "Slave did not respond within the timeout period"
	}
	if strings.Contains(errStr, "not connected") {
		return "No XCP session is established"
	}

	return "XCP protocol error occurred"
}

func xcpHint(err error) string {
	var perr *protocol.ProtocolError
	if stderrors.As(err, &perr) {
		switch perr.Code {
		case protocol.ErrAccessLocked:
			return "The resource is protected; unlock it with seed & key on the slave side"
		case protocol.ErrWriteProtected, protocol.ErrAccessDenied:
			return "The address may be outside the slave's calibration memory"
		case protocol.ErrDaqActive:
			return "Stop recording before changing the DAQ configuration"
		case protocol.ErrMemoryOverflow, protocol.ErrDaqConfig:
			return "Reduce the number of event signals or their sizes"
		}
	}
	if stderrors.Is(err, queue.ErrFull) {
		return "Lower polling rates or retry once the queue drains"
	}
	return "Check signal addresses, sizes and the slave's supported resources"
}
