package pcap

import (
	"encoding/binary"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/tonylturner/xcpmaster/internal/xcp/protocol"
	"github.com/tonylturner/xcpmaster/internal/xcp/transport"
)

var (
	masterAddr = &net.UDPAddr{IP: net.IPv4(192, 168, 1, 10), Port: 40000}
	slaveAddr  = &net.UDPAddr{IP: net.IPv4(192, 168, 1, 20), Port: DefaultPort}
)

func frame(t *testing.T, ctr uint16, packet ...byte) []byte {
	t.Helper()
	d, err := transport.EncodeFrame(binary.LittleEndian, ctr, packet)
	if err != nil {
		t.Fatalf("EncodeFrame: %v", err)
	}
	return d
}

// session builds a short exchange: CONNECT, GET_STATUS answered with an
// error, then one datagram carrying two DAQ frames, then a stray datagram on
// another port and a truncated datagram.
func session(t *testing.T) []Datagram {
	t.Helper()
	b := protocol.NewBuilder(binary.LittleEndian, 8)
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	at := func(ms int) time.Time { return base.Add(time.Duration(ms) * time.Millisecond) }

	daq := append(frame(t, 2, 0x00, 0x01, 0x02), frame(t, 3, 0x01, 0x03)...)
	other := &net.UDPAddr{IP: net.IPv4(192, 168, 1, 30), Port: 9999}
	return []Datagram{
		{Timestamp: at(0), Src: masterAddr, Dst: slaveAddr, Payload: frame(t, 0, b.Connect(protocol.ConnectNormal).Packet...)},
		{Timestamp: at(1), Src: slaveAddr, Dst: masterAddr, Payload: frame(t, 0, 0xFF, 0x05, 0x00, 0x08, 0x08, 0x00, 0x01, 0x01)},
		{Timestamp: at(2), Src: masterAddr, Dst: slaveAddr, Payload: frame(t, 1, b.GetStatus().Packet...)},
		{Timestamp: at(3), Src: slaveAddr, Dst: masterAddr, Payload: frame(t, 1, 0xFE, byte(protocol.ErrCmdBusy))},
		{Timestamp: at(4), Src: slaveAddr, Dst: masterAddr, Payload: daq},
		{Timestamp: at(5), Src: masterAddr, Dst: other, Payload: frame(t, 9, 0xFF)},
		{Timestamp: at(6), Src: slaveAddr, Dst: masterAddr, Payload: []byte{0x05, 0x00, 0x04}},
		{Timestamp: at(7), Src: masterAddr, Dst: slaveAddr, Payload: frame(t, 5, b.GetStatus().Packet...)},
	}
}

func TestExtractXCPFromPCAP(t *testing.T) {
	path := filepath.Join(t.TempDir(), "xcp.pcap")
	if err := WriteDatagrams(path, session(t)); err != nil {
		t.Fatalf("WriteDatagrams: %v", err)
	}

	ex, err := ExtractXCPFromPCAP(path, ExtractOptions{})
	if err != nil {
		t.Fatalf("ExtractXCPFromPCAP: %v", err)
	}
	if ex.Packets != 8 {
		t.Errorf("Packets = %d, want 8", ex.Packets)
	}
	if len(ex.Frames) != 7 {
		t.Fatalf("Frames = %d, want 7", len(ex.Frames))
	}
	if len(ex.Malformed) != 1 || ex.Malformed[0].PacketIndex != 6 {
		t.Errorf("Malformed = %+v", ex.Malformed)
	}

	connect := ex.Frames[0]
	if connect.Direction != ToSlave || connect.SrcIP != "192.168.1.10" || connect.DstPort != DefaultPort {
		t.Errorf("connect frame = %+v", connect)
	}
	if !strings.Contains(connect.Description, "CONNECT") {
		t.Errorf("connect description = %q", connect.Description)
	}

	res := ex.Frames[1]
	if res.Direction != FromSlave || res.InReplyTo == nil || *res.InReplyTo != protocol.CmdConnect {
		t.Errorf("response pairing = %+v", res)
	}
	errFrame := ex.Frames[3]
	if !strings.Contains(errFrame.Description, "ERR_CMD_BUSY") || !strings.HasSuffix(errFrame.Description, "<- GET_STATUS") {
		t.Errorf("error description = %q", errFrame.Description)
	}

	d0, d1 := ex.Frames[4], ex.Frames[5]
	if d0.PacketIndex != 4 || d1.PacketIndex != 4 || d0.Counter != 2 || d1.Counter != 3 {
		t.Errorf("multi-frame datagram split wrong: %+v %+v", d0, d1)
	}
	if d0.InReplyTo != nil {
		t.Error("DAQ packet paired with a command")
	}
}

func TestSummarize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "xcp.pcap")
	if err := WriteDatagrams(path, session(t)); err != nil {
		t.Fatalf("WriteDatagrams: %v", err)
	}
	ex, err := ExtractXCPFromPCAP(path, ExtractOptions{})
	if err != nil {
		t.Fatalf("ExtractXCPFromPCAP: %v", err)
	}

	s := Summarize(ex)
	if s.Commands["CONNECT"] != 1 || s.Commands["GET_STATUS"] != 2 {
		t.Errorf("Commands = %v", s.Commands)
	}
	if s.Responses != 1 || s.Errors["ERR_CMD_BUSY"] != 1 {
		t.Errorf("Responses = %d, Errors = %v", s.Responses, s.Errors)
	}
	if s.DaqPackets[0] != 1 || s.DaqPackets[1] != 1 {
		t.Errorf("DaqPackets = %v", s.DaqPackets)
	}
	if s.Unanswered != 1 {
		t.Errorf("Unanswered = %d, want 1", s.Unanswered)
	}
	if s.CounterGaps[ToSlave] != 1 || s.CounterGaps[FromSlave] != 0 {
		t.Errorf("CounterGaps = %v", s.CounterGaps)
	}
	if s.SlaveEndpoint != "192.168.1.20:5555" {
		t.Errorf("SlaveEndpoint = %s", s.SlaveEndpoint)
	}

	out := FormatSummary(s)
	for _, want := range []string{"XCP frames: 7", "malformed datagrams: 1", "GET_STATUS", "list 1", "Counter gaps: 1 master"} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}
}

func TestExtractPCAPNG(t *testing.T) {
	path := filepath.Join(t.TempDir(), "xcp.pcapng")
	file, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	w, err := pcapgo.NewNgWriter(file, layers.LinkTypeEthernet)
	if err != nil {
		t.Fatalf("NewNgWriter: %v", err)
	}
	for _, d := range session(t)[:2] {
		data, err := encodeUDP(d)
		if err != nil {
			t.Fatalf("encodeUDP: %v", err)
		}
		ci := gopacket.CaptureInfo{Timestamp: d.Timestamp, CaptureLength: len(data), Length: len(data), InterfaceIndex: 0}
		if err := w.WritePacket(ci, data); err != nil {
			t.Fatalf("WritePacket: %v", err)
		}
	}
	if err := w.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	file.Close()

	ex, err := ExtractXCPFromPCAP(path, ExtractOptions{})
	if err != nil {
		t.Fatalf("ExtractXCPFromPCAP: %v", err)
	}
	if len(ex.Frames) != 2 || ex.Frames[1].InReplyTo == nil {
		t.Errorf("pcapng frames = %+v", ex.Frames)
	}
}

func TestExtractCustomPort(t *testing.T) {
	path := filepath.Join(t.TempDir(), "xcp.pcap")
	if err := WriteDatagrams(path, session(t)); err != nil {
		t.Fatal(err)
	}
	ex, err := ExtractXCPFromPCAP(path, ExtractOptions{Port: 9999})
	if err != nil {
		t.Fatal(err)
	}
	if len(ex.Frames) != 1 || ex.Frames[0].Counter != 9 {
		t.Errorf("frames on port 9999 = %+v", ex.Frames)
	}
}

func TestTrafficWriterTap(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tap.pcap")
	w, err := NewTrafficWriter(path)
	if err != nil {
		t.Fatal(err)
	}
	local := &net.UDPAddr{IP: net.IPv4zero, Port: 41000}
	remote := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: DefaultPort}
	w.Datagram(true, local, remote, frame(t, 0, 0xFF, 0x00))
	w.Datagram(false, local, remote, frame(t, 0, 0xFF))
	if w.Count() != 2 || w.Err() != nil {
		t.Fatalf("Count = %d, Err = %v", w.Count(), w.Err())
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	ex, err := ExtractXCPFromPCAP(path, ExtractOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(ex.Frames) != 2 {
		t.Fatalf("frames = %+v", ex.Frames)
	}
	if ex.Frames[0].SrcIP != "127.0.0.1" || ex.Frames[0].Direction != ToSlave || ex.Frames[1].Direction != FromSlave {
		t.Errorf("tap frames = %+v", ex.Frames)
	}
}

func TestInputFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.pcap", "a.pcapng", "notes.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0644); err != nil {
			t.Fatal(err)
		}
	}
	files, err := InputFiles(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 2 || filepath.Base(files[0]) != "a.pcapng" {
		t.Errorf("files = %v", files)
	}
	single, err := InputFiles(files[1])
	if err != nil || len(single) != 1 {
		t.Errorf("single file = %v, %v", single, err)
	}
	if _, err := InputFiles(filepath.Join(dir, "missing")); err == nil {
		t.Error("missing path accepted")
	}
}
