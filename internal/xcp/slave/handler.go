package slave

import (
	"encoding/binary"

	"github.com/tonylturner/xcpmaster/internal/xcp/protocol"
)

const (
	protocolLayerVersion  = 0x01
	transportLayerVersion = 0x01
)

// daqCommandLength is the minimum packet length of each DAQ command.
var daqCommandLength = map[protocol.Command]int{
	protocol.CmdFreeDaq:          1,
	protocol.CmdAllocDaq:         4,
	protocol.CmdAllocODT:         5,
	protocol.CmdAllocODTEntry:    6,
	protocol.CmdSetDaqPtr:        6,
	protocol.CmdWriteDaq:         8,
	protocol.CmdSetDaqListMode:   8,
	protocol.CmdStartStopDaqList: 4,
	protocol.CmdStartStopSynch:   2,
}

func positive(data ...byte) []byte {
	return append([]byte{protocol.PIDResponse}, data...)
}

func negative(code protocol.ErrorCode) []byte {
	return []byte{protocol.PIDError, uint8(code)}
}

// handle answers one command packet. It runs with s.mu held and returns nil
// when no response is due.
func (s *Slave) handle(packet []byte) []byte {
	if len(packet) == 0 {
		return nil
	}
	cmd := protocol.Command(packet[0])
	s.logger.Debug("slave <- %s", protocol.DescribeCommand(packet, s.config.Order))

	if cmd != protocol.CmdConnect && !s.connected {
		return nil
	}

	switch cmd {
	case protocol.CmdConnect:
		return s.onConnect()
	case protocol.CmdDisconnect:
		s.stopDaqLocked()
		s.daq = daqState{}
		s.connected = false
		return positive()
	case protocol.CmdGetStatus:
		return s.onGetStatus()
	case protocol.CmdGetSync:
		return negative(protocol.ErrCmdSynch)
	case protocol.CmdSetMTA:
		if len(packet) < 8 {
			return negative(protocol.ErrCmdSyntax)
		}
		s.mta = s.config.Order.Uint32(packet[4:8])
		return positive()
	case protocol.CmdShortUpload:
		return s.onShortUpload(packet)
	case protocol.CmdDownload:
		return s.onDownload(packet)
	case protocol.CmdBuildChecksum:
		return s.onChecksum(packet)
	case protocol.CmdFreeDaq, protocol.CmdAllocDaq, protocol.CmdAllocODT, protocol.CmdAllocODTEntry,
		protocol.CmdSetDaqPtr, protocol.CmdWriteDaq, protocol.CmdSetDaqListMode,
		protocol.CmdStartStopDaqList, protocol.CmdStartStopSynch:
		return s.onDaqCommand(cmd, packet)
	default:
		return negative(protocol.ErrCmdUnknown)
	}
}

func (s *Slave) onConnect() []byte {
	s.connected = true
	var mode protocol.CommModeBasic
	if s.config.Order == binary.BigEndian {
		mode |= protocol.CommModeByteOrder
	}
	resp := positive(uint8(s.config.Resources), uint8(mode), s.config.MaxCTO, 0, 0, protocolLayerVersion, transportLayerVersion)
	s.config.Order.PutUint16(resp[4:6], s.config.MaxDTO)
	return resp
}

func (s *Slave) onGetStatus() []byte {
	var status protocol.SessionStatus
	if s.daq.running() {
		status |= protocol.SessionDaqRunning
	}
	return positive(uint8(status), 0, 0, 0, 0)
}

func (s *Slave) onShortUpload(packet []byte) []byte {
	if len(packet) < 8 {
		return negative(protocol.ErrCmdSyntax)
	}
	size := int(packet[1])
	if size == 0 || size+1 > int(s.config.MaxCTO) {
		return negative(protocol.ErrOutOfRange)
	}
	addr := s.config.Order.Uint32(packet[4:8])
	s.mta = addr + uint32(size)
	return positive(s.mem.Read(addr, size)...)
}

func (s *Slave) onDownload(packet []byte) []byte {
	if len(packet) < 2 || len(packet) < 2+int(packet[1]) {
		return negative(protocol.ErrCmdSyntax)
	}
	data := packet[2 : 2+int(packet[1])]
	if !s.mem.Write(s.mta, data) {
		return negative(protocol.ErrWriteProtected)
	}
	s.mta += uint32(len(data))
	return positive()
}

func (s *Slave) onChecksum(packet []byte) []byte {
	if len(packet) < 8 {
		return negative(protocol.ErrCmdSyntax)
	}
	block := s.config.Order.Uint32(packet[4:8])
	if block == 0 || block%4 != 0 {
		return negative(protocol.ErrOutOfRange)
	}
	sum := s.mem.Checksum(s.mta, block)
	s.mta += block
	resp := positive(uint8(protocol.ChecksumAdd44), 0, 0, 0, 0, 0, 0)
	s.config.Order.PutUint32(resp[4:8], sum)
	return resp
}

func (s *Slave) onDaqCommand(cmd protocol.Command, packet []byte) []byte {
	order := s.config.Order
	if len(packet) < daqCommandLength[cmd] {
		return negative(protocol.ErrCmdSyntax)
	}

	switch cmd {
	case protocol.CmdFreeDaq:
		s.stopDaqLocked()
		s.daq = daqState{}
		return positive()

	case protocol.CmdAllocDaq:
		count := int(order.Uint16(packet[2:4]))
		if s.daq.running() {
			return negative(protocol.ErrDaqActive)
		}
		if len(s.daq.lists) > 0 {
			return negative(protocol.ErrSequence)
		}
		if count > s.config.MaxLists {
			return negative(protocol.ErrMemoryOverflow)
		}
		s.daq.lists = make([]*daqList, count)
		for i := range s.daq.lists {
			s.daq.lists[i] = &daqList{}
		}
		return positive()

	case protocol.CmdAllocODT:
		l, ok := s.daq.list(order.Uint16(packet[2:4]))
		if !ok {
			return negative(protocol.ErrOutOfRange)
		}
		l.odts = make([][]odtEntry, packet[4])
		return positive()

	case protocol.CmdAllocODTEntry:
		l, ok := s.daq.list(order.Uint16(packet[2:4]))
		if !ok || int(packet[4]) >= len(l.odts) {
			return negative(protocol.ErrOutOfRange)
		}
		l.odts[packet[4]] = make([]odtEntry, packet[5])
		return positive()

	case protocol.CmdSetDaqPtr:
		n := order.Uint16(packet[2:4])
		l, ok := s.daq.list(n)
		if !ok || int(packet[4]) >= len(l.odts) || int(packet[5]) >= len(l.odts[packet[4]]) {
			return negative(protocol.ErrOutOfRange)
		}
		s.daq.ptr = daqPointer{list: int(n), odt: int(packet[4]), entry: int(packet[5]), valid: true}
		return positive()

	case protocol.CmdWriteDaq:
		return s.onWriteDaq(packet)

	case protocol.CmdSetDaqListMode:
		l, ok := s.daq.list(order.Uint16(packet[2:4]))
		if !ok {
			return negative(protocol.ErrOutOfRange)
		}
		l.mode = protocol.DaqListMode(packet[1])
		l.event = order.Uint16(packet[4:6])
		return positive()

	case protocol.CmdStartStopDaqList:
		n := order.Uint16(packet[2:4])
		l, ok := s.daq.list(n)
		if !ok {
			return negative(protocol.ErrOutOfRange)
		}
		switch protocol.StartStopMode(packet[1]) {
		case protocol.DaqListStop:
			l.running = false
			s.startDaqLocked()
		case protocol.DaqListStart:
			l.running = true
			s.startDaqLocked()
		case protocol.DaqListSelect:
			l.selected = true
		default:
			return negative(protocol.ErrModeNotValid)
		}
		// The first PID of a list is its number.
		return positive(uint8(n))

	case protocol.CmdStartStopSynch:
		switch protocol.SynchMode(packet[1]) {
		case protocol.SynchStopAll:
			for _, l := range s.daq.lists {
				l.running, l.selected = false, false
			}
			s.stopDaqLocked()
		case protocol.SynchStartSelected:
			for _, l := range s.daq.lists {
				if l.selected {
					l.running, l.selected = true, false
				}
			}
			s.startDaqLocked()
		case protocol.SynchStopSelected:
			for _, l := range s.daq.lists {
				if l.selected {
					l.running, l.selected = false, false
				}
			}
			s.startDaqLocked()
		default:
			return negative(protocol.ErrModeNotValid)
		}
		return positive()
	}
	return negative(protocol.ErrCmdUnknown)
}

func (s *Slave) onWriteDaq(packet []byte) []byte {
	p := s.daq.ptr
	if !p.valid {
		return negative(protocol.ErrSequence)
	}
	if s.daq.running() {
		return negative(protocol.ErrDaqActive)
	}
	l := s.daq.lists[p.list]
	odt := l.odts[p.odt]
	if p.entry >= len(odt) {
		return negative(protocol.ErrOutOfRange)
	}
	size := int(packet[2])
	if size == 0 {
		return negative(protocol.ErrOutOfRange)
	}
	if l.dataSize()+size+1 > int(s.config.MaxDTO) {
		return negative(protocol.ErrDaqConfig)
	}
	odt[p.entry] = odtEntry{address: s.config.Order.Uint32(packet[4:8]), size: size}
	s.daq.ptr.entry++
	if s.daq.ptr.entry >= len(odt) {
		s.daq.ptr.valid = false
	}
	return positive()
}
