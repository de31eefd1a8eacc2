package protocol

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyPacket is returned when a zero-length packet is decoded.
	ErrEmptyPacket = errors.New("empty XCP packet")

	// ErrUnsolicited is returned for a positive response that arrives while
	// no command is in flight.
	ErrUnsolicited = errors.New("positive response with no command in flight")

	// ErrPayloadTooLarge is returned when a command would exceed MAX_CTO.
	ErrPayloadTooLarge = errors.New("payload exceeds MAX_CTO")

	// ErrInvalidSize is returned for a zero or unsupported data size.
	ErrInvalidSize = errors.New("invalid data size")
)

// ProtocolError is a negative response from the slave.
type ProtocolError struct {
	Command Command
	Code    ErrorCode
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%s rejected: %s (0x%02X): %s", e.Command, e.Code, uint8(e.Code), e.Code.Message())
}

// ShortResponseError reports a positive response below the minimum length
// mandated for the command it answers.
type ShortResponseError struct {
	Command Command
	Got     int
	Want    int
}

func (e *ShortResponseError) Error() string {
	return fmt.Sprintf("%s response too short: got %d bytes, need %d", e.Command, e.Got, e.Want)
}

// IsShortResponse reports whether err is a ShortResponseError.
func IsShortResponse(err error) bool {
	var short *ShortResponseError
	return errors.As(err, &short)
}
