package pcap

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/tonylturner/xcpmaster/internal/xcp/protocol"
	"github.com/tonylturner/xcpmaster/internal/xcp/transport"
)

// DefaultPort is the usual XCP-on-UDP slave port.
const DefaultPort = 5555

// Direction tells which side sent a frame.
type Direction uint8

const (
	ToSlave Direction = iota
	FromSlave
)

func (d Direction) String() string {
	if d == ToSlave {
		return "M->S"
	}
	return "S->M"
}

// XCPFrame is one XCP packet found in a capture.
type XCPFrame struct {
	PacketIndex int
	Timestamp   time.Time
	SrcIP       string
	DstIP       string
	SrcPort     uint16
	DstPort     uint16
	Direction   Direction
	Counter     uint16
	Packet      []byte
	Datagram    []byte
	Description string
	// InReplyTo is the last command seen towards the slave when this frame
	// is a RES or ERR packet.
	InReplyTo *protocol.Command
}

// MalformedDatagram records a datagram on the XCP port that did not deframe.
type MalformedDatagram struct {
	PacketIndex int
	Timestamp   time.Time
	Err         error
}

// ExtractOptions controls frame extraction.
type ExtractOptions struct {
	Port  uint16           // slave UDP port, default 5555
	Order binary.ByteOrder // LEN/CTR and payload byte order, default little endian
}

func (o *ExtractOptions) applyDefaults() {
	if o.Port == 0 {
		o.Port = DefaultPort
	}
	if o.Order == nil {
		o.Order = binary.LittleEndian
	}
}

// Extraction is the result of scanning a capture.
type Extraction struct {
	Frames    []XCPFrame
	Malformed []MalformedDatagram
	Packets   int // packets read from the file
}

// ExtractXCPFromPCAP reads a pcap or pcapng file and returns the XCP frames
// exchanged with the slave port.
func ExtractXCPFromPCAP(path string, opts ExtractOptions) (*Extraction, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open pcap file: %w", err)
	}
	defer file.Close()
	return ExtractXCP(file, opts)
}

// pcapng section header block type.
var ngMagic = []byte{0x0A, 0x0D, 0x0D, 0x0A}

type packetReader interface {
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
}

// ExtractXCP scans a pcap or pcapng stream.
func ExtractXCP(r io.Reader, opts ExtractOptions) (*Extraction, error) {
	opts.applyDefaults()

	br := bufio.NewReader(r)
	magic, err := br.Peek(4)
	if err != nil {
		return nil, fmt.Errorf("read pcap header: %w", err)
	}

	var (
		src      packetReader
		linkType layers.LinkType
	)
	if bytes.Equal(magic, ngMagic) {
		ng, err := pcapgo.NewNgReader(br, pcapgo.DefaultNgReaderOptions)
		if err != nil {
			return nil, fmt.Errorf("open pcapng: %w", err)
		}
		src, linkType = ng, ng.LinkType()
	} else {
		rd, err := pcapgo.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("open pcap: %w", err)
		}
		src, linkType = rd, rd.LinkType()
	}

	ex := &Extraction{}
	pending := make(map[string]protocol.Command)
	for {
		data, ci, err := src.ReadPacketData()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return ex, fmt.Errorf("read packet %d: %w", ex.Packets, err)
		}
		index := ex.Packets
		ex.Packets++

		packet := gopacket.NewPacket(data, linkType, gopacket.DecodeOptions{Lazy: true, NoCopy: true})
		udp, ok := packet.Layer(layers.LayerTypeUDP).(*layers.UDP)
		if !ok || len(udp.Payload) == 0 {
			continue
		}
		var dir Direction
		switch opts.Port {
		case uint16(udp.DstPort):
			dir = ToSlave
		case uint16(udp.SrcPort):
			dir = FromSlave
		default:
			continue
		}

		srcIP, dstIP := endpoints(packet)
		master := net.JoinHostPort(dstIP, fmt.Sprint(uint16(udp.DstPort)))
		if dir == ToSlave {
			master = net.JoinHostPort(srcIP, fmt.Sprint(uint16(udp.SrcPort)))
		}

		frames, err := transport.DecodeFrames(opts.Order, udp.Payload)
		if err != nil {
			ex.Malformed = append(ex.Malformed, MalformedDatagram{PacketIndex: index, Timestamp: ci.Timestamp, Err: err})
		}
		datagram := append([]byte(nil), udp.Payload...)
		for _, f := range frames {
			xf := XCPFrame{
				PacketIndex: index,
				Timestamp:   ci.Timestamp,
				SrcIP:       srcIP,
				DstIP:       dstIP,
				SrcPort:     uint16(udp.SrcPort),
				DstPort:     uint16(udp.DstPort),
				Direction:   dir,
				Counter:     f.Counter,
				Packet:      append([]byte(nil), f.Packet...),
				Datagram:    datagram,
			}
			describe(&xf, pending, master, opts.Order)
			ex.Frames = append(ex.Frames, xf)
		}
	}
	return ex, nil
}

// describe fills Description, pairing RES and ERR packets with the command
// last sent by the same master.
func describe(f *XCPFrame, pending map[string]protocol.Command, master string, order binary.ByteOrder) {
	if f.Direction == ToSlave {
		f.Description = protocol.DescribeCommand(f.Packet, order)
		pending[master] = protocol.Command(f.Packet[0])
		return
	}
	f.Description = protocol.DescribeReply(f.Packet)
	pid := f.Packet[0]
	if pid != protocol.PIDResponse && pid != protocol.PIDError {
		return
	}
	cmd, ok := pending[master]
	if !ok {
		return
	}
	delete(pending, master)
	f.InReplyTo = &cmd
	f.Description += " <- " + cmd.String()
}

func endpoints(packet gopacket.Packet) (string, string) {
	switch ip := packet.NetworkLayer().(type) {
	case *layers.IPv4:
		return ip.SrcIP.String(), ip.DstIP.String()
	case *layers.IPv6:
		return ip.SrcIP.String(), ip.DstIP.String()
	default:
		return "", ""
	}
}
