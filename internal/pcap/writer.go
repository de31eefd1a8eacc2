package pcap

import (
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

const snapLen = 65535

var (
	masterMAC = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01}
	slaveMAC  = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x02}
)

// Datagram is one UDP payload to write into a capture.
type Datagram struct {
	Timestamp time.Time
	Src, Dst  *net.UDPAddr
	Payload   []byte
}

// TrafficWriter writes UDP datagrams to a pcap file with synthesized
// Ethernet and IP headers. It implements transport.Tap, so a session can
// record its own traffic without a live capture.
type TrafficWriter struct {
	mu      sync.Mutex
	file    *os.File
	writer  *pcapgo.Writer
	count   int
	lastErr error
	now     func() time.Time
}

// NewTrafficWriter creates path and writes the pcap file header.
func NewTrafficWriter(path string) (*TrafficWriter, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create pcap: %w", err)
	}
	writer := pcapgo.NewWriter(file)
	if err := writer.WriteFileHeader(snapLen, layers.LinkTypeEthernet); err != nil {
		file.Close()
		return nil, fmt.Errorf("write pcap header: %w", err)
	}
	return &TrafficWriter{file: file, writer: writer, now: time.Now}, nil
}

// Datagram records one datagram seen by the transport.
func (w *TrafficWriter) Datagram(outbound bool, local, remote *net.UDPAddr, datagram []byte) {
	src, dst := local, remote
	if !outbound {
		src, dst = remote, local
	}
	_ = w.Write(Datagram{Timestamp: w.now(), Src: src, Dst: dst, Payload: datagram})
}

// Write appends one datagram.
func (w *TrafficWriter) Write(d Datagram) error {
	data, err := encodeUDP(d)
	if err != nil {
		return w.fail(err)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.writer == nil {
		return fmt.Errorf("pcap writer closed")
	}
	ci := gopacket.CaptureInfo{Timestamp: d.Timestamp, CaptureLength: len(data), Length: len(data)}
	if err := w.writer.WritePacket(ci, data); err != nil {
		w.lastErr = err
		return fmt.Errorf("write packet: %w", err)
	}
	w.count++
	return nil
}

func (w *TrafficWriter) fail(err error) error {
	w.mu.Lock()
	w.lastErr = err
	w.mu.Unlock()
	return err
}

// Count returns the number of packets written.
func (w *TrafficWriter) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.count
}

// Err returns the last write error.
func (w *TrafficWriter) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastErr
}

// Close closes the file. Later datagrams are ignored.
func (w *TrafficWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file, w.writer = nil, nil
	return err
}

// WriteDatagrams writes a complete capture file.
func WriteDatagrams(path string, datagrams []Datagram) error {
	w, err := NewTrafficWriter(path)
	if err != nil {
		return err
	}
	for _, d := range datagrams {
		if err := w.Write(d); err != nil {
			w.Close()
			return err
		}
	}
	return w.Close()
}

func encodeUDP(d Datagram) ([]byte, error) {
	if d.Src == nil || d.Dst == nil {
		return nil, fmt.Errorf("datagram without endpoints")
	}
	srcIP, dstIP := endpointIP(d.Src.IP, d.Dst.IP), endpointIP(d.Dst.IP, d.Src.IP)

	buffer := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	udp := &layers.UDP{SrcPort: layers.UDPPort(d.Src.Port), DstPort: layers.UDPPort(d.Dst.Port)}

	var err error
	if v4src, v4dst := srcIP.To4(), dstIP.To4(); v4src != nil && v4dst != nil {
		eth := &layers.Ethernet{SrcMAC: masterMAC, DstMAC: slaveMAC, EthernetType: layers.EthernetTypeIPv4}
		ip := &layers.IPv4{Version: 4, TTL: 64, Protocol: layers.IPProtocolUDP, SrcIP: v4src, DstIP: v4dst}
		_ = udp.SetNetworkLayerForChecksum(ip)
		err = gopacket.SerializeLayers(buffer, opts, eth, ip, udp, gopacket.Payload(d.Payload))
	} else {
		eth := &layers.Ethernet{SrcMAC: masterMAC, DstMAC: slaveMAC, EthernetType: layers.EthernetTypeIPv6}
		ip := &layers.IPv6{Version: 6, HopLimit: 64, NextHeader: layers.IPProtocolUDP, SrcIP: srcIP.To16(), DstIP: dstIP.To16()}
		_ = udp.SetNetworkLayerForChecksum(ip)
		err = gopacket.SerializeLayers(buffer, opts, eth, ip, udp, gopacket.Payload(d.Payload))
	}
	if err != nil {
		return nil, fmt.Errorf("serialize packet: %w", err)
	}
	return buffer.Bytes(), nil
}

// endpointIP replaces an unspecified bind address with something a capture
// reader can show: loopback when the peer is local, otherwise 0.0.0.0.
func endpointIP(ip, peer net.IP) net.IP {
	if ip != nil && !ip.IsUnspecified() {
		return ip
	}
	if peer != nil && peer.IsLoopback() {
		if peer.To4() != nil {
			return net.IPv4(127, 0, 0, 1)
		}
		return net.IPv6loopback
	}
	if peer != nil && peer.To4() == nil {
		return net.IPv6unspecified
	}
	return net.IPv4zero
}
