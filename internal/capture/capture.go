package capture

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/pcap"
	"github.com/google/gopacket/pcapgo"
	"go.uber.org/atomic"
)

const snapLen = 65535

// Filter returns the BPF expression matching XCP-on-UDP traffic to or from
// port.
func Filter(port int) string {
	return fmt.Sprintf("udp port %d", port)
}

// Options configures a live capture.
type Options struct {
	Interface string
	Output    string
	Port      int
}

// Capture represents a packet capture session
type Capture struct {
	handle    *pcap.Handle
	writer    *pcapgo.Writer
	file      *os.File
	startTime time.Time
	packets   *atomic.Uint64
	bytes     *atomic.Uint64
	writeErrs *atomic.Uint64
	stopChan  chan struct{}
	done      chan struct{}
	stopOnce  sync.Once
}

// Start opens a live capture of the XCP port and writes matching packets to
// opts.Output.
func Start(opts Options) (*Capture, error) {
	if opts.Port <= 0 {
		opts.Port = 5555
	}
	handle, err := pcap.OpenLive(opts.Interface, snapLen, true, 250*time.Millisecond)
	if err != nil {
		return nil, fmt.Errorf("open live capture on %s: %w", opts.Interface, err)
	}
	if err := handle.SetBPFFilter(Filter(opts.Port)); err != nil {
		handle.Close()
		return nil, fmt.Errorf("set BPF filter: %w", err)
	}

	file, err := os.Create(opts.Output)
	if err != nil {
		handle.Close()
		return nil, fmt.Errorf("create pcap file: %w", err)
	}
	writer := pcapgo.NewWriter(file)
	if err := writer.WriteFileHeader(snapLen, handle.LinkType()); err != nil {
		file.Close()
		handle.Close()
		return nil, fmt.Errorf("write pcap header: %w", err)
	}

	c := &Capture{
		handle:    handle,
		writer:    writer,
		file:      file,
		startTime: time.Now(),
		packets:   atomic.NewUint64(0),
		bytes:     atomic.NewUint64(0),
		writeErrs: atomic.NewUint64(0),
		stopChan:  make(chan struct{}),
		done:      make(chan struct{}),
	}
	go c.captureLoop()
	return c, nil
}

// StartForTarget captures on the interface that routes to slaveIP.
func StartForTarget(slaveIP, output string, port int) (*Capture, error) {
	iface, err := InterfaceForTarget(slaveIP)
	if err != nil {
		return nil, err
	}
	return Start(Options{Interface: iface, Output: output, Port: port})
}

func (c *Capture) captureLoop() {
	defer close(c.done)
	source := gopacket.NewPacketSource(c.handle, c.handle.LinkType())
	packets := source.Packets()

	for {
		select {
		case <-c.stopChan:
			return
		case packet, ok := <-packets:
			if !ok {
				return
			}
			ci := packet.Metadata().CaptureInfo
			if err := c.writer.WritePacket(ci, packet.Data()); err != nil {
				c.writeErrs.Inc()
				continue
			}
			c.packets.Inc()
			c.bytes.Add(uint64(ci.CaptureLength))
		}
	}
}

// Stop ends the capture and closes the file. It is idempotent.
func (c *Capture) Stop() error {
	var err error
	c.stopOnce.Do(func() {
		close(c.stopChan)
		<-c.done
		c.handle.Close()
		err = c.file.Close()
	})
	return err
}

// Stats is a snapshot of capture counters.
type Stats struct {
	Packets     uint64
	Bytes       uint64
	WriteErrors uint64
	Elapsed     time.Duration
}

// Stats returns the capture counters.
func (c *Capture) Stats() Stats {
	return Stats{
		Packets:     c.packets.Load(),
		Bytes:       c.bytes.Load(),
		WriteErrors: c.writeErrs.Load(),
		Elapsed:     time.Since(c.startTime),
	}
}
