package pcap

// Hex dump utilities for packet analysis

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/tonylturner/xcpmaster/internal/xcp/transport"
)

// HexDump creates a hex dump of packet data
func HexDump(data []byte, width int) string {
	if width <= 0 {
		width = 16
	}

	var sb strings.Builder
	for i := 0; i < len(data); i += width {
		fmt.Fprintf(&sb, "%04x: ", i)
		for j := 0; j < width; j++ {
			if i+j < len(data) {
				fmt.Fprintf(&sb, "%02x ", data[i+j])
			} else {
				sb.WriteString("   ")
			}
		}
		sb.WriteString(" |")
		for j := 0; j < width && i+j < len(data); j++ {
			b := data[i+j]
			if b >= 32 && b < 127 {
				sb.WriteByte(b)
			} else {
				sb.WriteByte('.')
			}
		}
		sb.WriteString("|\n")
	}
	return sb.String()
}

// FormatFrameHex prints one XCP frame. With annotate the LEN/CTR header and
// the packet are dumped separately.
func FormatFrameHex(f XCPFrame, order binary.ByteOrder, annotate bool) string {
	if order == nil {
		order = binary.LittleEndian
	}
	if !annotate {
		var sb strings.Builder
		for i, b := range f.Packet {
			if i > 0 && i%16 == 0 {
				sb.WriteString("\n")
			}
			fmt.Fprintf(&sb, "%02x ", b)
		}
		return sb.String()
	}

	header := make([]byte, transport.HeaderSize)
	order.PutUint16(header[0:2], uint16(len(f.Packet)))
	order.PutUint16(header[2:4], f.Counter)

	var sb strings.Builder
	fmt.Fprintf(&sb, "XCP Header (LEN=%d CTR=%d):\n", len(f.Packet), f.Counter)
	sb.WriteString(HexDump(header, 16))
	sb.WriteString("XCP Packet:\n")
	sb.WriteString(HexDump(f.Packet, 16))
	return sb.String()
}
