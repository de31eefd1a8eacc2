package pcap

import (
	"encoding/binary"
	"strings"
	"testing"
)

func TestHexDump(t *testing.T) {
	data := []byte{0x00, 0x01, 0x02, 0x03, 0x41, 0x42, 0x43, 0x07, 0x08, 0x09, 0x0A, 0x0B, 0x0C, 0x0D, 0x0E, 0x0F, 0x10}

	dump := HexDump(data, 16)
	lines := strings.Split(strings.TrimSuffix(dump, "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2:\n%s", len(lines), dump)
	}
	if !strings.HasPrefix(lines[0], "0000: 00 01 02 03 41 42 43") {
		t.Errorf("first line = %q", lines[0])
	}
	if !strings.HasSuffix(lines[0], "|....ABC.........|") {
		t.Errorf("ASCII column = %q", lines[0])
	}
	if !strings.HasPrefix(lines[1], "0010: 10 ") {
		t.Errorf("second line = %q", lines[1])
	}
}

func TestFormatFrameHex(t *testing.T) {
	f := XCPFrame{Counter: 0x0102, Packet: []byte{0xFF, 0x00}}

	if simple := FormatFrameHex(f, nil, false); simple != "ff 00 " {
		t.Errorf("simple = %q", simple)
	}

	annotated := FormatFrameHex(f, binary.BigEndian, true)
	if !strings.Contains(annotated, "XCP Header (LEN=2 CTR=258)") {
		t.Errorf("annotated header label missing:\n%s", annotated)
	}
	if !strings.Contains(annotated, "0000: 00 02 01 02") {
		t.Errorf("big endian header bytes missing:\n%s", annotated)
	}
	if !strings.Contains(annotated, "XCP Packet:\n0000: ff 00") {
		t.Errorf("packet dump missing:\n%s", annotated)
	}
}
