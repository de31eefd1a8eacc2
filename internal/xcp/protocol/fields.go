package protocol

// Bit fields carried in CONNECT, GET_STATUS and DAQ configuration packets.

import (
	"encoding/binary"
	"strings"
)

// Resource is the RESOURCE byte of a CONNECT response and the resource
// protection byte of a GET_STATUS response.
type Resource uint8

const (
	ResourceCalPag Resource = 1 << 0 // bit 0: calibration and paging
	ResourceDaq    Resource = 1 << 2 // bit 2: data acquisition
	ResourceStim   Resource = 1 << 3 // bit 3: stimulation
	ResourcePgm    Resource = 1 << 4 // bit 4: flash programming
)

// CalPag reports bit 0.
func (r Resource) CalPag() bool { return r&ResourceCalPag != 0 }

// Daq reports bit 2.
func (r Resource) Daq() bool { return r&ResourceDaq != 0 }

// Stim reports bit 3.
func (r Resource) Stim() bool { return r&ResourceStim != 0 }

// Pgm reports bit 4.
func (r Resource) Pgm() bool { return r&ResourcePgm != 0 }

// String lists the set resources, e.g. "CAL/PAG|DAQ".
func (r Resource) String() string {
	var names []string
	if r.CalPag() {
		names = append(names, "CAL/PAG")
	}
	if r.Daq() {
		names = append(names, "DAQ")
	}
	if r.Stim() {
		names = append(names, "STIM")
	}
	if r.Pgm() {
		names = append(names, "PGM")
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, "|")
}

// CommModeBasic is the COMM_MODE_BASIC byte of a CONNECT response.
type CommModeBasic uint8

const (
	CommModeByteOrder          CommModeBasic = 1 << 0 // bit 0: 0 = Intel, 1 = Motorola
	CommModeAddressGranularity CommModeBasic = 0x06   // bits 1-2
	CommModeSlaveBlockMode     CommModeBasic = 1 << 6 // bit 6
	CommModeOptional           CommModeBasic = 1 << 7 // bit 7
)

const commModeAddressGranularityShift = 1

// BigEndian reports whether the slave uses Motorola byte order.
func (c CommModeBasic) BigEndian() bool { return c&CommModeByteOrder != 0 }

// ByteOrder returns the slave byte order.
func (c CommModeBasic) ByteOrder() binary.ByteOrder {
	if c.BigEndian() {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

// AddressGranularity returns bits 1-2.
func (c CommModeBasic) AddressGranularity() AddressGranularity {
	return AddressGranularity((c & CommModeAddressGranularity) >> commModeAddressGranularityShift)
}

// SlaveBlockMode reports bit 6.
func (c CommModeBasic) SlaveBlockMode() bool { return c&CommModeSlaveBlockMode != 0 }

// Optional reports bit 7 (COMM_MODE_INFO available).
func (c CommModeBasic) Optional() bool { return c&CommModeOptional != 0 }

// AddressGranularity is the size of one addressable element on the slave.
type AddressGranularity uint8

const (
	GranularityByte  AddressGranularity = 0
	GranularityWord  AddressGranularity = 1
	GranularityDWord AddressGranularity = 2
)

// ElementSize returns the element size in bytes.
func (g AddressGranularity) ElementSize() int {
	switch g {
	case GranularityWord:
		return 2
	case GranularityDWord:
		return 4
	default:
		return 1
	}
}

func (g AddressGranularity) String() string {
	switch g {
	case GranularityByte:
		return "byte"
	case GranularityWord:
		return "word"
	case GranularityDWord:
		return "dword"
	default:
		return "reserved"
	}
}

// SessionStatus is the session status byte of a GET_STATUS response.
type SessionStatus uint8

const (
	SessionStoreCalReq SessionStatus = 1 << 0 // bit 0
	SessionStoreDaqReq SessionStatus = 1 << 2 // bit 2
	SessionClearDaqReq SessionStatus = 1 << 3 // bit 3
	SessionDaqRunning  SessionStatus = 1 << 6 // bit 6
	SessionResume      SessionStatus = 1 << 7 // bit 7
)

// StoreCalReq reports bit 0.
func (s SessionStatus) StoreCalReq() bool { return s&SessionStoreCalReq != 0 }

// StoreDaqReq reports bit 2.
func (s SessionStatus) StoreDaqReq() bool { return s&SessionStoreDaqReq != 0 }

// ClearDaqReq reports bit 3.
func (s SessionStatus) ClearDaqReq() bool { return s&SessionClearDaqReq != 0 }

// DaqRunning reports bit 6.
func (s SessionStatus) DaqRunning() bool { return s&SessionDaqRunning != 0 }

// Resume reports bit 7.
func (s SessionStatus) Resume() bool { return s&SessionResume != 0 }

// DaqListMode is the mode byte of SET_DAQ_LIST_MODE.
type DaqListMode uint8

const (
	DaqModeAlternating DaqListMode = 1 << 0 // bit 0
	DaqModeDirection   DaqListMode = 1 << 1 // bit 1: 0 = DAQ, 1 = STIM
	DaqModeDTOCounter  DaqListMode = 1 << 3 // bit 3
	DaqModeTimestamp   DaqListMode = 1 << 4 // bit 4
	DaqModePIDOff      DaqListMode = 1 << 5 // bit 5
)

// StartStopMode is the mode byte of START_STOP_DAQ_LIST.
type StartStopMode uint8

const (
	DaqListStop   StartStopMode = 0x00
	DaqListStart  StartStopMode = 0x01
	DaqListSelect StartStopMode = 0x02
)

// SynchMode is the mode byte of START_STOP_SYNCH.
type SynchMode uint8

const (
	SynchStopAll       SynchMode = 0x00
	SynchStartSelected SynchMode = 0x01
	SynchStopSelected  SynchMode = 0x02
)

// ConnectMode is the mode byte of CONNECT.
type ConnectMode uint8

const (
	ConnectNormal      ConnectMode = 0x00
	ConnectUserDefined ConnectMode = 0x01
)

// WriteDaqBitOffset marks a WRITE_DAQ entry as a whole-element transfer.
const WriteDaqBitOffset uint8 = 0xFF
