package transport

// UDP transport for the XCP master.

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/atomic"
	"golang.org/x/net/ipv4"
)

// ErrNotConnected is returned by Send and Receive before Connect.
var ErrNotConnected = errors.New("transport not connected")

// maxDatagram is the largest UDP payload.
const maxDatagram = 65535

// Transport carries framed XCP packets to and from one slave.
type Transport interface {
	Connect(ctx context.Context, addr string) error
	Disconnect() error
	Send(ctx context.Context, packet []byte) error
	Receive(ctx context.Context, timeout time.Duration) ([]Frame, error)
	IsConnected() bool
}

// Tap observes every datagram the transport writes or reads. It is called
// on the sending or receiving goroutine and must not retain datagram.
type Tap interface {
	Datagram(outbound bool, local, remote *net.UDPAddr, datagram []byte)
}

// Config configures the master-side UDP socket.
type Config struct {
	LocalAddr string           // local bind address, default ":0"
	Order     binary.ByteOrder // LEN/CTR byte order, default little endian
	TOS       int              // IP TOS byte, 0 leaves the system default
	TTL       int              // unicast TTL, 0 leaves the system default
	Tap       Tap              // optional traffic observer
}

func (c *Config) applyDefaults() {
	if c.LocalAddr == "" {
		c.LocalAddr = ":0"
	}
	if c.Order == nil {
		c.Order = binary.LittleEndian
	}
}

// UDPTransport frames XCP packets into UDP datagrams.
type UDPTransport struct {
	config Config
	conn   *net.UDPConn
	addr   *net.UDPAddr
	connMu sync.RWMutex

	counter  *atomic.Uint32
	sent     *atomic.Uint64
	received *atomic.Uint64
	dropped  *atomic.Uint64
}

var _ Transport = (*UDPTransport)(nil)

// NewUDPTransport creates a UDP transport.
func NewUDPTransport(cfg Config) *UDPTransport {
	cfg.applyDefaults()
	return &UDPTransport{
		config:   cfg,
		counter:  atomic.NewUint32(0),
		sent:     atomic.NewUint64(0),
		received: atomic.NewUint64(0),
		dropped:  atomic.NewUint64(0),
	}
}

// Connect binds the local socket and records the slave address. A bind
// failure is returned as is; nothing is retried.
func (t *UDPTransport) Connect(ctx context.Context, addr string) error {
	t.connMu.Lock()
	defer t.connMu.Unlock()

	if t.conn != nil {
		return fmt.Errorf("already connected")
	}

	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return fmt.Errorf("resolve UDP address: %w", err)
	}
	localAddr, err := net.ResolveUDPAddr("udp", t.config.LocalAddr)
	if err != nil {
		return fmt.Errorf("resolve local UDP address: %w", err)
	}

	conn, err := net.ListenUDP("udp", localAddr)
	if err != nil {
		return fmt.Errorf("listen UDP: %w", err)
	}

	if t.config.TOS != 0 || t.config.TTL != 0 {
		p := ipv4.NewConn(conn)
		if t.config.TOS != 0 {
			if err := p.SetTOS(t.config.TOS); err != nil {
				_ = conn.Close()
				return fmt.Errorf("set TOS: %w", err)
			}
		}
		if t.config.TTL != 0 {
			if err := p.SetTTL(t.config.TTL); err != nil {
				_ = conn.Close()
				return fmt.Errorf("set TTL: %w", err)
			}
		}
	}

	t.conn = conn
	t.addr = udpAddr
	t.counter.Store(0)
	return nil
}

// Disconnect closes the socket. Calling it twice is safe.
func (t *UDPTransport) Disconnect() error {
	t.connMu.Lock()
	defer t.connMu.Unlock()

	if t.conn == nil {
		return nil
	}
	err := t.conn.Close()
	t.conn = nil
	t.addr = nil
	return err
}

// Send frames packet with the next counter value and writes one datagram.
func (t *UDPTransport) Send(ctx context.Context, packet []byte) error {
	t.connMu.RLock()
	defer t.connMu.RUnlock()

	if t.conn == nil || t.addr == nil {
		return ErrNotConnected
	}

	ctr := uint16(t.counter.Inc() - 1)
	datagram, err := EncodeFrame(t.config.Order, ctr, packet)
	if err != nil {
		return err
	}

	if deadline, ok := ctx.Deadline(); ok {
		if err := t.conn.SetWriteDeadline(deadline); err != nil {
			return fmt.Errorf("set write deadline: %w", err)
		}
	}

	if _, err := t.conn.WriteToUDP(datagram, t.addr); err != nil {
		return fmt.Errorf("write UDP: %w", err)
	}
	t.sent.Inc()
	if t.config.Tap != nil {
		t.config.Tap.Datagram(true, udpAddr(t.conn.LocalAddr()), t.addr, datagram)
	}
	return nil
}

// Receive waits up to timeout for one datagram and returns its frames.
// A malformed datagram returns the frames parsed before the fault together
// with an error wrapping ErrMalformedDatagram.
func (t *UDPTransport) Receive(ctx context.Context, timeout time.Duration) ([]Frame, error) {
	t.connMu.RLock()
	conn := t.conn
	t.connMu.RUnlock()

	if conn == nil {
		return nil, ErrNotConnected
	}

	deadline := time.Now().Add(timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	if err := conn.SetReadDeadline(deadline); err != nil {
		return nil, fmt.Errorf("set read deadline: %w", err)
	}

	buffer := make([]byte, maxDatagram)
	n, from, err := conn.ReadFromUDP(buffer)
	if err != nil {
		return nil, fmt.Errorf("read UDP: %w", err)
	}
	if t.config.Tap != nil {
		t.config.Tap.Datagram(false, udpAddr(conn.LocalAddr()), from, buffer[:n])
	}

	frames, err := DecodeFrames(t.config.Order, buffer[:n])
	t.received.Add(uint64(len(frames)))
	if err != nil {
		t.dropped.Inc()
	}
	return frames, err
}

// IsConnected reports whether the socket is open.
func (t *UDPTransport) IsConnected() bool {
	t.connMu.RLock()
	defer t.connMu.RUnlock()
	return t.conn != nil
}

// LocalAddr returns the bound address, or nil before Connect.
func (t *UDPTransport) LocalAddr() net.Addr {
	t.connMu.RLock()
	defer t.connMu.RUnlock()
	if t.conn == nil {
		return nil
	}
	return t.conn.LocalAddr()
}

func udpAddr(addr net.Addr) *net.UDPAddr {
	if a, ok := addr.(*net.UDPAddr); ok {
		return a
	}
	return nil
}

// Stats is a snapshot of transport counters.
type Stats struct {
	Sent      uint64
	Received  uint64
	Malformed uint64
	Counter   uint16
}

// Stats returns the datagram counters.
func (t *UDPTransport) Stats() Stats {
	return Stats{
		Sent:      t.sent.Load(),
		Received:  t.received.Load(),
		Malformed: t.dropped.Load(),
		Counter:   uint16(t.counter.Load()),
	}
}

// IsTimeout reports whether err is a read deadline expiry.
func IsTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// IsClosed reports whether err comes from a closed socket.
func IsClosed(err error) bool {
	return errors.Is(err, net.ErrClosed) || errors.Is(err, ErrNotConnected)
}
