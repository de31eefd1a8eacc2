package transport

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"net"
	"testing"
	"time"
)

func listenPeer(t *testing.T) *net.UDPConn {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Skipf("loopback UDP unavailable: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestUDPTransportNotConnected(t *testing.T) {
	tr := NewUDPTransport(Config{})
	ctx := context.Background()

	if err := tr.Send(ctx, []byte{0xFF, 0x00}); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Send err = %v, want ErrNotConnected", err)
	}
	if _, err := tr.Receive(ctx, 10*time.Millisecond); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Receive err = %v, want ErrNotConnected", err)
	}
	if tr.IsConnected() {
		t.Error("IsConnected = true before Connect")
	}
	if err := tr.Disconnect(); err != nil {
		t.Errorf("Disconnect on closed transport: %v", err)
	}
}

func TestUDPTransportBadAddress(t *testing.T) {
	tr := NewUDPTransport(Config{})
	if err := tr.Connect(context.Background(), "invalid:99999"); err == nil {
		t.Fatal("Connect to invalid address should fail")
	}
	if tr.IsConnected() {
		t.Error("IsConnected = true after failed Connect")
	}
}

func TestUDPTransportBindFailure(t *testing.T) {
	peer := listenPeer(t)
	tr := NewUDPTransport(Config{LocalAddr: peer.LocalAddr().String()})
	if err := tr.Connect(context.Background(), peer.LocalAddr().String()); err == nil {
		_ = tr.Disconnect()
		t.Fatal("binding an address in use should fail")
	}
}

func TestUDPTransportExchange(t *testing.T) {
	peer := listenPeer(t)
	tr := NewUDPTransport(Config{LocalAddr: "127.0.0.1:0"})
	ctx := context.Background()

	if err := tr.Connect(ctx, peer.LocalAddr().String()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer tr.Disconnect()

	if err := tr.Connect(ctx, peer.LocalAddr().String()); err == nil {
		t.Error("second Connect should fail")
	}

	for i := 0; i < 2; i++ {
		if err := tr.Send(ctx, []byte{0xFD}); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}

	buf := make([]byte, 64)
	var from *net.UDPAddr
	for want := uint16(0); want < 2; want++ {
		_ = peer.SetReadDeadline(time.Now().Add(time.Second))
		n, addr, err := peer.ReadFromUDP(buf)
		if err != nil {
			t.Fatalf("peer read: %v", err)
		}
		from = addr
		frames, err := DecodeFrames(binary.LittleEndian, buf[:n])
		if err != nil {
			t.Fatalf("DecodeFrames: %v", err)
		}
		if frames[0].Counter != want {
			t.Errorf("counter = %d, want %d", frames[0].Counter, want)
		}
	}

	reply, _ := EncodeFrame(binary.LittleEndian, 0, []byte{0xFF, 0x00, 0x00, 0x00, 0x00})
	if _, err := peer.WriteToUDP(reply, from); err != nil {
		t.Fatalf("peer write: %v", err)
	}
	frames, err := tr.Receive(ctx, time.Second)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if len(frames) != 1 || !bytes.Equal(frames[0].Packet, []byte{0xFF, 0x00, 0x00, 0x00, 0x00}) {
		t.Errorf("frames = %+v", frames)
	}

	stats := tr.Stats()
	if stats.Sent != 2 || stats.Received != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestUDPTransportReceiveTimeout(t *testing.T) {
	peer := listenPeer(t)
	tr := NewUDPTransport(Config{LocalAddr: "127.0.0.1:0"})
	if err := tr.Connect(context.Background(), peer.LocalAddr().String()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer tr.Disconnect()

	_, err := tr.Receive(context.Background(), 20*time.Millisecond)
	if !IsTimeout(err) {
		t.Errorf("err = %v, want timeout", err)
	}
}

func TestUDPTransportMalformedDatagram(t *testing.T) {
	peer := listenPeer(t)
	tr := NewUDPTransport(Config{LocalAddr: "127.0.0.1:0"})
	if err := tr.Connect(context.Background(), peer.LocalAddr().String()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer tr.Disconnect()

	local := tr.LocalAddr().(*net.UDPAddr)
	if _, err := peer.WriteToUDP([]byte{0x09, 0x00, 0x00}, local); err != nil {
		t.Fatalf("peer write: %v", err)
	}
	_, err := tr.Receive(context.Background(), time.Second)
	if !errors.Is(err, ErrMalformedDatagram) {
		t.Fatalf("err = %v, want ErrMalformedDatagram", err)
	}
	if tr.Stats().Malformed != 1 {
		t.Errorf("Malformed = %d, want 1", tr.Stats().Malformed)
	}
}

type recordingTap struct {
	outbound, inbound [][]byte
	remote            *net.UDPAddr
}

func (r *recordingTap) Datagram(outbound bool, local, remote *net.UDPAddr, datagram []byte) {
	cp := append([]byte(nil), datagram...)
	if outbound {
		r.outbound = append(r.outbound, cp)
	} else {
		r.inbound = append(r.inbound, cp)
	}
	r.remote = remote
}

func TestUDPTransportTap(t *testing.T) {
	peer := listenPeer(t)
	tap := &recordingTap{}
	tr := NewUDPTransport(Config{LocalAddr: "127.0.0.1:0", Tap: tap})
	ctx := context.Background()
	if err := tr.Connect(ctx, peer.LocalAddr().String()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer tr.Disconnect()

	if err := tr.Send(ctx, []byte{0xFF, 0x00}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	buf := make([]byte, 64)
	_ = peer.SetReadDeadline(time.Now().Add(time.Second))
	_, from, err := peer.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("peer read: %v", err)
	}
	reply, _ := EncodeFrame(binary.LittleEndian, 0, []byte{0xFF})
	if _, err := peer.WriteToUDP(reply, from); err != nil {
		t.Fatalf("peer write: %v", err)
	}
	if _, err := tr.Receive(ctx, time.Second); err != nil {
		t.Fatalf("Receive: %v", err)
	}

	if len(tap.outbound) != 1 || !bytes.Equal(tap.outbound[0], []byte{0x02, 0x00, 0x00, 0x00, 0xFF, 0x00}) {
		t.Errorf("outbound = % X", tap.outbound)
	}
	if len(tap.inbound) != 1 || !bytes.Equal(tap.inbound[0], reply) {
		t.Errorf("inbound = % X", tap.inbound)
	}
	if tap.remote.Port != peer.LocalAddr().(*net.UDPAddr).Port {
		t.Errorf("remote = %v", tap.remote)
	}
}
