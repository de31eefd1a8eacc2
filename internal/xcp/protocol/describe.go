package protocol

import (
	"encoding/binary"
	"fmt"
)

// DescribeCommand summarizes a master-to-slave packet without needing the
// session context. Used by the capture tooling.
func DescribeCommand(packet []byte, order binary.ByteOrder) string {
	if len(packet) == 0 {
		return "empty"
	}
	if order == nil {
		order = binary.LittleEndian
	}
	cmd := Command(packet[0])
	addr := func() string {
		if len(packet) < 8 {
			return "?"
		}
		return fmt.Sprintf("0x%08X", order.Uint32(packet[4:8]))
	}
	list := func() string {
		if len(packet) < 4 {
			return "?"
		}
		return fmt.Sprintf("%d", order.Uint16(packet[2:4]))
	}

	switch cmd {
	case CmdShortUpload:
		return fmt.Sprintf("%s size=%d addr=%s", cmd, at(packet, 1), addr())
	case CmdSetMTA:
		return fmt.Sprintf("%s ext=%d addr=%s", cmd, at(packet, 3), addr())
	case CmdDownload:
		return fmt.Sprintf("%s size=%d", cmd, at(packet, 1))
	case CmdBuildChecksum:
		return fmt.Sprintf("%s block=%s", cmd, addr())
	case CmdWriteDaq:
		return fmt.Sprintf("%s size=%d addr=%s", cmd, at(packet, 2), addr())
	case CmdAllocDaq:
		return fmt.Sprintf("%s count=%s", cmd, list())
	case CmdAllocODT:
		return fmt.Sprintf("%s list=%s count=%d", cmd, list(), at(packet, 4))
	case CmdAllocODTEntry:
		return fmt.Sprintf("%s list=%s odt=%d count=%d", cmd, list(), at(packet, 4), at(packet, 5))
	case CmdSetDaqPtr:
		return fmt.Sprintf("%s list=%s odt=%d entry=%d", cmd, list(), at(packet, 4), at(packet, 5))
	case CmdSetDaqListMode:
		event := "?"
		if len(packet) >= 6 {
			event = fmt.Sprintf("%d", order.Uint16(packet[4:6]))
		}
		return fmt.Sprintf("%s list=%s event=%s mode=0x%02X", cmd, list(), event, at(packet, 1))
	case CmdStartStopDaqList:
		return fmt.Sprintf("%s list=%s mode=%d", cmd, list(), at(packet, 1))
	case CmdStartStopSynch:
		return fmt.Sprintf("%s mode=%d", cmd, at(packet, 1))
	default:
		return cmd.String()
	}
}

// DescribeReply summarizes a slave-to-master packet.
func DescribeReply(packet []byte) string {
	if len(packet) == 0 {
		return "empty"
	}
	switch packet[0] {
	case PIDResponse:
		return fmt.Sprintf("RES len=%d", len(packet))
	case PIDError:
		code := ErrorCode(at(packet, 1))
		return fmt.Sprintf("ERR %s", code)
	case PIDEvent:
		return fmt.Sprintf("EV code=0x%02X", at(packet, 1))
	case PIDServiceRequest:
		return fmt.Sprintf("SERV code=0x%02X", at(packet, 1))
	default:
		return fmt.Sprintf("DAQ list=%d len=%d", packet[0], len(packet)-1)
	}
}
