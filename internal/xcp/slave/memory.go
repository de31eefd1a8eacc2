package slave

import (
	"encoding/binary"
	"sync"

	"github.com/tonylturner/xcpmaster/internal/xcp/protocol"
)

// Memory is the emulated ECU address space. Unwritten bytes read as zero.
type Memory struct {
	mu        sync.RWMutex
	bytes     map[uint32]byte
	protected []region
	order     binary.ByteOrder
}

type region struct {
	start uint32
	size  uint32
}

func (r region) overlaps(addr uint32, n int) bool {
	end := uint64(addr) + uint64(n)
	return uint64(addr) < uint64(r.start)+uint64(r.size) && end > uint64(r.start)
}

// NewMemory creates an empty address space whose multi-byte values use order.
func NewMemory(order binary.ByteOrder) *Memory {
	if order == nil {
		order = binary.LittleEndian
	}
	return &Memory{bytes: make(map[uint32]byte), order: order}
}

// Read returns n bytes starting at addr.
func (m *Memory) Read(addr uint32, n int) []byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]byte, n)
	for i := range out {
		out[i] = m.bytes[addr+uint32(i)]
	}
	return out
}

// Write stores data at addr. It reports false if any byte is protected.
func (m *Memory) Write(addr uint32, data []byte) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.protected {
		if r.overlaps(addr, len(data)) {
			return false
		}
	}
	for i, b := range data {
		m.bytes[addr+uint32(i)] = b
	}
	return true
}

// SetValue stores the low size bytes of value at addr, ignoring protection.
func (m *Memory) SetValue(addr uint32, value uint64, size int) error {
	data, err := protocol.EncodeUint(value, size, m.order)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, b := range data {
		m.bytes[addr+uint32(i)] = b
	}
	return nil
}

// Value reads size bytes at addr as an unsigned integer.
func (m *Memory) Value(addr uint32, size int) uint64 {
	return protocol.DecodeUint(m.Read(addr, size), m.order)
}

// Protect makes a region reject DOWNLOAD.
func (m *Memory) Protect(addr uint32, size int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.protected = append(m.protected, region{start: addr, size: uint32(size)})
}

// Increment adds one to the value at addr, wrapping within size bytes.
func (m *Memory) Increment(addr uint32, size int) {
	_ = m.SetValue(addr, m.Value(addr, size)+1, size)
}

// Checksum sums blockSize bytes from addr as 32-bit words (ADD_44).
func (m *Memory) Checksum(addr, blockSize uint32) uint32 {
	data := m.Read(addr, int(blockSize))
	var sum uint32
	for i := 0; i+4 <= len(data); i += 4 {
		sum += m.order.Uint32(data[i : i+4])
	}
	return sum
}
