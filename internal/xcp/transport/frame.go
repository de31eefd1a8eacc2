package transport

// XCP on Ethernet framing.
//
// Each XCP packet travels behind a four byte header:
//
//	LEN (u16) | CTR (u16) | packet (LEN bytes)
//
// Header byte order follows the host configuration. One datagram may carry
// several frames back to back.

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// HeaderSize is the length of the LEN and CTR fields.
const HeaderSize = 4

// MaxPacketSize is the largest packet a frame can carry.
const MaxPacketSize = 0xFFFF

// ErrMalformedDatagram is returned for a datagram whose frames do not
// parse. Complete frames that precede the fault are still returned.
var ErrMalformedDatagram = errors.New("malformed XCP datagram")

// Frame is one deframed packet with its counter.
type Frame struct {
	Counter uint16
	Packet  []byte
}

// EncodeFrame wraps packet in a LEN/CTR header.
func EncodeFrame(order binary.ByteOrder, counter uint16, packet []byte) ([]byte, error) {
	if len(packet) == 0 {
		return nil, fmt.Errorf("encode frame: empty packet")
	}
	if len(packet) > MaxPacketSize {
		return nil, fmt.Errorf("encode frame: packet of %d bytes exceeds %d", len(packet), MaxPacketSize)
	}
	out := make([]byte, HeaderSize+len(packet))
	order.PutUint16(out[0:2], uint16(len(packet)))
	order.PutUint16(out[2:4], counter)
	copy(out[HeaderSize:], packet)
	return out, nil
}

// DecodeFrames splits a datagram into frames. A zero-length frame, a
// truncated header or a LEN that runs past the end of the datagram stops
// parsing with ErrMalformedDatagram.
func DecodeFrames(order binary.ByteOrder, datagram []byte) ([]Frame, error) {
	var frames []Frame
	rest := datagram
	for len(rest) > 0 {
		if len(rest) < HeaderSize {
			return frames, fmt.Errorf("%w: %d trailing bytes, header needs %d", ErrMalformedDatagram, len(rest), HeaderSize)
		}
		length := int(order.Uint16(rest[0:2]))
		counter := order.Uint16(rest[2:4])
		if length == 0 {
			return frames, fmt.Errorf("%w: zero length frame (ctr %d)", ErrMalformedDatagram, counter)
		}
		if HeaderSize+length > len(rest) {
			return frames, fmt.Errorf("%w: LEN %d but %d bytes remain (ctr %d)", ErrMalformedDatagram, length, len(rest)-HeaderSize, counter)
		}
		packet := make([]byte, length)
		copy(packet, rest[HeaderSize:HeaderSize+length])
		frames = append(frames, Frame{Counter: counter, Packet: packet})
		rest = rest[HeaderSize+length:]
	}
	if len(frames) == 0 {
		return nil, fmt.Errorf("%w: empty datagram", ErrMalformedDatagram)
	}
	return frames, nil
}
