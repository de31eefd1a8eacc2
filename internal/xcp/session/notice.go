package session

import (
	"fmt"
	"time"

	"github.com/tonylturner/xcpmaster/internal/xcp/protocol"
)

// NoticeKind classifies a Notice.
type NoticeKind int

const (
	NoticeStateChanged NoticeKind = iota
	NoticeProtocolError
	NoticeTimeout
	NoticeDropped
	NoticeQueueFull
	NoticeInvalidResponse
	NoticeChecksum
	NoticeTransportError
	NoticeSynch
)

func (k NoticeKind) String() string {
	switch k {
	case NoticeStateChanged:
		return "state"
	case NoticeProtocolError:
		return "protocol-error"
	case NoticeTimeout:
		return "timeout"
	case NoticeDropped:
		return "dropped"
	case NoticeQueueFull:
		return "queue-full"
	case NoticeInvalidResponse:
		return "invalid-response"
	case NoticeChecksum:
		return "checksum"
	case NoticeTransportError:
		return "transport-error"
	case NoticeSynch:
		return "synch"
	default:
		return fmt.Sprintf("notice(%d)", int(k))
	}
}

// Notice reports something the caller may want to surface: a negative
// response, a timeout, a dropped command, a checksum result or a state
// change.
type Notice struct {
	Kind    NoticeKind
	Time    time.Time
	Command protocol.CommandPayload
	State   State
	Err     error
	// Checksum is set for NoticeChecksum.
	Checksum *protocol.ChecksumResponse
}

func (n Notice) String() string {
	switch {
	case n.Kind == NoticeStateChanged:
		return fmt.Sprintf("%s: %s", n.Kind, n.State)
	case n.Checksum != nil:
		return fmt.Sprintf("%s: %s 0x%08X over %d bytes", n.Kind, n.Checksum.Type, n.Checksum.Checksum, n.Checksum.BlockSize)
	case n.Err != nil:
		return fmt.Sprintf("%s: %s: %v", n.Kind, n.Command, n.Err)
	default:
		return fmt.Sprintf("%s: %s", n.Kind, n.Command)
	}
}
