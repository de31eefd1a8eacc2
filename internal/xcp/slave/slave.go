package slave

// In-process XCP-on-UDP slave used by tests and the simulate command.

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/tonylturner/xcpmaster/internal/logging"
	"github.com/tonylturner/xcpmaster/internal/xcp/protocol"
	"github.com/tonylturner/xcpmaster/internal/xcp/transport"
)

// DefaultEventPeriod is used for event channels without a configured rate.
const DefaultEventPeriod = 10 * time.Millisecond

// Config describes the emulated slave.
type Config struct {
	ListenAddr string
	Order      binary.ByteOrder
	// ValueOrder lays out memory values. Nil means little endian whatever
	// Order reports.
	ValueOrder binary.ByteOrder
	Resources  protocol.Resource
	MaxCTO     uint8
	MaxDTO     uint16
	MaxLists   int

	// Events maps event channel numbers to their cycle time.
	Events map[uint16]time.Duration

	// DropEveryN discards every Nth response. Zero disables it.
	DropEveryN int
}

func (c *Config) applyDefaults() {
	if c.ListenAddr == "" {
		c.ListenAddr = "127.0.0.1:5555"
	}
	if c.Order == nil {
		c.Order = binary.LittleEndian
	}
	if c.Resources == 0 {
		c.Resources = protocol.ResourceCalPag | protocol.ResourceDaq
	}
	if c.MaxCTO < protocol.MinCTO {
		c.MaxCTO = protocol.MinCTO
	}
	if c.MaxDTO < protocol.MinCTO {
		c.MaxDTO = protocol.MinCTO
	}
	if c.MaxLists <= 0 {
		c.MaxLists = 16
	}
}

// Stats counts slave traffic.
type Stats struct {
	Commands   uint64
	Responses  uint64
	Dropped    uint64
	DaqPackets uint64
	Malformed  uint64
}

// Slave answers XCP commands from one master at a time.
type Slave struct {
	config Config
	logger *logging.Logger
	mem    *Memory

	conn *net.UDPConn

	mu        sync.Mutex
	master    *net.UDPAddr
	connected bool
	mta       uint32
	daq       daqState
	animated  map[uint32]int

	counter       *atomic.Uint32
	responseCount *atomic.Uint64
	commands      *atomic.Uint64
	responses     *atomic.Uint64
	dropped       *atomic.Uint64
	daqPackets    *atomic.Uint64
	malformed     *atomic.Uint64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a stopped slave.
func New(cfg Config, logger *logging.Logger) *Slave {
	cfg.applyDefaults()
	if logger == nil {
		logger = logging.Discard()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Slave{
		config:        cfg,
		logger:        logger,
		mem:           NewMemory(cfg.ValueOrder),
		animated:      make(map[uint32]int),
		counter:       atomic.NewUint32(0),
		responseCount: atomic.NewUint64(0),
		commands:      atomic.NewUint64(0),
		responses:     atomic.NewUint64(0),
		dropped:       atomic.NewUint64(0),
		daqPackets:    atomic.NewUint64(0),
		malformed:     atomic.NewUint64(0),
		ctx:           ctx,
		cancel:        cancel,
	}
}

// Memory returns the slave address space.
func (s *Slave) Memory() *Memory {
	return s.mem
}

// Animate makes the value at addr count up once per DAQ cycle that samples it.
func (s *Slave) Animate(addr uint32, size int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.animated[addr] = size
}

// Start binds the UDP socket and serves until Stop.
func (s *Slave) Start() error {
	udpAddr, err := net.ResolveUDPAddr("udp", s.config.ListenAddr)
	if err != nil {
		return fmt.Errorf("resolve UDP address: %w", err)
	}
	s.conn, err = net.ListenUDP("udp", udpAddr)
	if err != nil {
		return fmt.Errorf("listen UDP: %w", err)
	}
	s.logger.Info("XCP slave listening on %s", s.conn.LocalAddr())

	s.wg.Add(1)
	go s.handleUDP()
	return nil
}

// Addr returns the bound address after Start.
func (s *Slave) Addr() *net.UDPAddr {
	if s.conn == nil {
		return nil
	}
	if addr, ok := s.conn.LocalAddr().(*net.UDPAddr); ok {
		return addr
	}
	return nil
}

// Stop closes the socket and waits for all goroutines.
func (s *Slave) Stop() error {
	s.cancel()
	s.mu.Lock()
	s.stopDaqLocked()
	s.mu.Unlock()
	if s.conn != nil {
		s.conn.Close()
	}
	s.wg.Wait()
	s.logger.Info("XCP slave stopped")
	return nil
}

// Stats returns the traffic counters.
func (s *Slave) Stats() Stats {
	return Stats{
		Commands:   s.commands.Load(),
		Responses:  s.responses.Load(),
		Dropped:    s.dropped.Load(),
		DaqPackets: s.daqPackets.Load(),
		Malformed:  s.malformed.Load(),
	}
}

// Connected reports whether a master holds the session.
func (s *Slave) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *Slave) handleUDP() {
	defer s.wg.Done()
	buf := make([]byte, 0xFFFF)

	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		_ = s.conn.SetReadDeadline(time.Now().Add(time.Second))
		n, addr, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			return
		}

		frames, err := transport.DecodeFrames(s.config.Order, buf[:n])
		if err != nil {
			s.malformed.Inc()
			s.logger.Debug("UDP datagram from %s: %v", addr, err)
		}
		for _, f := range frames {
			s.commands.Inc()
			s.mu.Lock()
			s.master = addr
			resp := s.handle(f.Packet)
			s.mu.Unlock()
			if resp == nil {
				continue
			}
			s.respond(resp)
		}
	}
}

// respond sends a command response subject to the drop fault.
func (s *Slave) respond(packet []byte) {
	count := s.responseCount.Inc()
	if every := uint64(s.config.DropEveryN); every > 0 && count%every == 0 {
		s.dropped.Inc()
		s.logger.Debug("dropping response %d (%s)", count, protocol.DescribeReply(packet))
		return
	}
	if err := s.send(packet); err != nil {
		s.logger.Error("UDP write error: %v", err)
		return
	}
	s.responses.Inc()
}

func (s *Slave) send(packet []byte) error {
	s.mu.Lock()
	addr := s.master
	s.mu.Unlock()
	if addr == nil {
		return errors.New("no master address")
	}
	ctr := uint16(s.counter.Inc() - 1)
	datagram, err := transport.EncodeFrame(s.config.Order, ctr, packet)
	if err != nil {
		return err
	}
	_, err = s.conn.WriteToUDP(datagram, addr)
	return err
}
