package protocol

import (
	"encoding/binary"
	"fmt"
	"time"
)

// CommandPayload is one outbound CTO packet together with the metadata
// needed to route its response. A payload is not modified after it is
// built; use the With* helpers to derive a copy.
type CommandPayload struct {
	Command Command
	Packet  []byte

	// ID correlates the response with a signal; it carries the signal's
	// slave address for SET_MTA and SHORT_UPLOAD.
	ID uint32
	// Size is the expected data width of the response in bytes.
	Size int
	// Rate is the polling period that produced the request, zero otherwise.
	Rate time.Duration
	// Attempt counts how many times the command timed out and was requeued.
	Attempt int
}

// Empty is the "no command" value. It is never transmitted.
var Empty CommandPayload

// IsEmpty reports whether p carries no packet.
func (p CommandPayload) IsEmpty() bool {
	return len(p.Packet) == 0
}

// Bytes returns a copy of the packet.
func (p CommandPayload) Bytes() []byte {
	out := make([]byte, len(p.Packet))
	copy(out, p.Packet)
	return out
}

// WithRate returns a copy of p tagged with a polling rate.
func (p CommandPayload) WithRate(rate time.Duration) CommandPayload {
	p.Rate = rate
	return p
}

// WithAttempt returns a copy of p with the given retry attempt.
func (p CommandPayload) WithAttempt(attempt int) CommandPayload {
	p.Attempt = attempt
	return p
}

func (p CommandPayload) String() string {
	if p.IsEmpty() {
		return "<empty>"
	}
	if p.ID != 0 {
		return fmt.Sprintf("%s[0x%08X]", p.Command, p.ID)
	}
	return p.Command.String()
}

// Builder lays out command packets at their ASAM field offsets. Multi-byte
// fields are written in Order, which starts as the host setting and is
// replaced by the slave's byte order once CONNECT has been answered.
// Calibration values are written in ValueOrder, little endian when nil.
type Builder struct {
	Order      binary.ByteOrder
	ValueOrder binary.ByteOrder
	MaxCTO     int
}

// Values returns the byte order of memory values.
func (b *Builder) Values() binary.ByteOrder {
	if b.ValueOrder == nil {
		return binary.LittleEndian
	}
	return b.ValueOrder
}

// NewBuilder returns a builder for the given byte order and MAX_CTO.
// A nil order means little endian; a MAX_CTO below 8 is raised to 8.
func NewBuilder(order binary.ByteOrder, maxCTO int) *Builder {
	if order == nil {
		order = binary.LittleEndian
	}
	if maxCTO < MinCTO {
		maxCTO = MinCTO
	}
	return &Builder{Order: order, MaxCTO: maxCTO}
}

// MinCTO is the smallest MAX_CTO an XCP slave may report.
const MinCTO = 8

func newPayload(cmd Command, size int) CommandPayload {
	packet := make([]byte, size)
	packet[0] = uint8(cmd)
	return CommandPayload{Command: cmd, Packet: packet}
}

// Connect builds CONNECT: [FF, mode].
func (b *Builder) Connect(mode ConnectMode) CommandPayload {
	p := newPayload(CmdConnect, 2)
	p.Packet[1] = uint8(mode)
	return p
}

// Disconnect builds DISCONNECT: [FE].
func (b *Builder) Disconnect() CommandPayload {
	return newPayload(CmdDisconnect, 1)
}

// GetStatus builds GET_STATUS: [FD].
func (b *Builder) GetStatus() CommandPayload {
	return newPayload(CmdGetStatus, 1)
}

// GetSync builds GET_SYNC: [FC].
func (b *Builder) GetSync() CommandPayload {
	return newPayload(CmdGetSync, 1)
}

// SetMTA builds SET_MTA: [F6, 0, 0, ext, addr x4].
func (b *Builder) SetMTA(address uint32, extension uint8) CommandPayload {
	p := newPayload(CmdSetMTA, 8)
	p.Packet[3] = extension
	b.Order.PutUint32(p.Packet[4:8], address)
	p.ID = address
	return p
}

// ShortUpload builds SHORT_UPLOAD: [F4, size, 0, ext, addr x4].
func (b *Builder) ShortUpload(address uint32, extension uint8, size int) (CommandPayload, error) {
	if size <= 0 || size > 0xFF {
		return Empty, fmt.Errorf("SHORT_UPLOAD size %d: %w", size, ErrInvalidSize)
	}
	if size+1 > b.MaxCTO {
		return Empty, fmt.Errorf("SHORT_UPLOAD of %d bytes: %w", size, ErrPayloadTooLarge)
	}
	p := newPayload(CmdShortUpload, 8)
	p.Packet[1] = uint8(size)
	p.Packet[3] = extension
	b.Order.PutUint32(p.Packet[4:8], address)
	p.ID = address
	p.Size = size
	return p, nil
}

// Download builds DOWNLOAD: [F0, n, data...].
func (b *Builder) Download(data []byte) (CommandPayload, error) {
	if len(data) == 0 || len(data) > 0xFF {
		return Empty, fmt.Errorf("DOWNLOAD size %d: %w", len(data), ErrInvalidSize)
	}
	if len(data)+2 > b.MaxCTO {
		return Empty, fmt.Errorf("DOWNLOAD of %d bytes: %w", len(data), ErrPayloadTooLarge)
	}
	p := newPayload(CmdDownload, 2+len(data))
	p.Packet[1] = uint8(len(data))
	copy(p.Packet[2:], data)
	p.Size = len(data)
	return p, nil
}

// DownloadValue encodes value into size bytes and builds DOWNLOAD.
func (b *Builder) DownloadValue(value uint64, size int) (CommandPayload, error) {
	data, err := EncodeUint(value, size, b.Values())
	if err != nil {
		return Empty, err
	}
	return b.Download(data)
}

// BuildChecksum builds BUILD_CHECKSUM: [F3, 0, 0, 0, block size x4].
func (b *Builder) BuildChecksum(blockSize uint32) CommandPayload {
	p := newPayload(CmdBuildChecksum, 8)
	b.Order.PutUint32(p.Packet[4:8], blockSize)
	p.ID = blockSize
	return p
}

// FreeDaq builds FREE_DAQ: [D6].
func (b *Builder) FreeDaq() CommandPayload {
	return newPayload(CmdFreeDaq, 1)
}

// AllocDaq builds ALLOC_DAQ: [D5, 0, count x2].
func (b *Builder) AllocDaq(count uint16) CommandPayload {
	p := newPayload(CmdAllocDaq, 4)
	b.Order.PutUint16(p.Packet[2:4], count)
	return p
}

// AllocODT builds ALLOC_ODT: [D4, 0, list x2, count].
func (b *Builder) AllocODT(list uint16, count uint8) CommandPayload {
	p := newPayload(CmdAllocODT, 5)
	b.Order.PutUint16(p.Packet[2:4], list)
	p.Packet[4] = count
	return p
}

// AllocODTEntry builds ALLOC_ODT_ENTRY: [D3, 0, list x2, odt, count].
func (b *Builder) AllocODTEntry(list uint16, odt, count uint8) CommandPayload {
	p := newPayload(CmdAllocODTEntry, 6)
	b.Order.PutUint16(p.Packet[2:4], list)
	p.Packet[4] = odt
	p.Packet[5] = count
	return p
}

// SetDaqPtr builds SET_DAQ_PTR: [E2, 0, list x2, odt, entry].
func (b *Builder) SetDaqPtr(list uint16, odt, entry uint8) CommandPayload {
	p := newPayload(CmdSetDaqPtr, 6)
	b.Order.PutUint16(p.Packet[2:4], list)
	p.Packet[4] = odt
	p.Packet[5] = entry
	return p
}

// WriteDaq builds WRITE_DAQ: [E1, bit offset, size, ext, addr x4].
func (b *Builder) WriteDaq(address uint32, extension uint8, size int) (CommandPayload, error) {
	if size <= 0 || size > 0xFF {
		return Empty, fmt.Errorf("WRITE_DAQ size %d: %w", size, ErrInvalidSize)
	}
	p := newPayload(CmdWriteDaq, 8)
	p.Packet[1] = WriteDaqBitOffset
	p.Packet[2] = uint8(size)
	p.Packet[3] = extension
	b.Order.PutUint32(p.Packet[4:8], address)
	p.ID = address
	p.Size = size
	return p, nil
}

// SetDaqListMode builds SET_DAQ_LIST_MODE:
// [E0, mode, list x2, event x2, prescaler, priority].
func (b *Builder) SetDaqListMode(list uint16, mode DaqListMode, event uint16, prescaler, priority uint8) CommandPayload {
	p := newPayload(CmdSetDaqListMode, 8)
	p.Packet[1] = uint8(mode)
	b.Order.PutUint16(p.Packet[2:4], list)
	b.Order.PutUint16(p.Packet[4:6], event)
	p.Packet[6] = prescaler
	p.Packet[7] = priority
	return p
}

// StartStopDaqList builds START_STOP_DAQ_LIST: [DE, mode, list x2].
func (b *Builder) StartStopDaqList(list uint16, mode StartStopMode) CommandPayload {
	p := newPayload(CmdStartStopDaqList, 4)
	p.Packet[1] = uint8(mode)
	b.Order.PutUint16(p.Packet[2:4], list)
	return p
}

// StartStopSynch builds START_STOP_SYNCH: [DD, mode].
func (b *Builder) StartStopSynch(mode SynchMode) CommandPayload {
	p := newPayload(CmdStartStopSynch, 2)
	p.Packet[1] = uint8(mode)
	return p
}

// EncodeUint writes the low size bytes of value in the given order.
func EncodeUint(value uint64, size int, order binary.ByteOrder) ([]byte, error) {
	if size <= 0 || size > 8 {
		return nil, fmt.Errorf("encode %d bytes: %w", size, ErrInvalidSize)
	}
	out := make([]byte, size)
	for i := 0; i < size; i++ {
		shift := uint(8 * i)
		if order == binary.BigEndian {
			out[size-1-i] = byte(value >> shift)
		} else {
			out[i] = byte(value >> shift)
		}
	}
	return out, nil
}

// DecodeUint accumulates up to eight bytes into an unsigned value.
func DecodeUint(data []byte, order binary.ByteOrder) uint64 {
	var v uint64
	n := len(data)
	if n > 8 {
		n = 8
	}
	for i := 0; i < n; i++ {
		if order == binary.BigEndian {
			v = v<<8 | uint64(data[i])
		} else {
			v |= uint64(data[i]) << uint(8*i)
		}
	}
	return v
}
