package slave

import (
	"time"

	"github.com/tonylturner/xcpmaster/internal/xcp/protocol"
)

type odtEntry struct {
	address uint32
	size    int
}

type daqList struct {
	odts     [][]odtEntry
	mode     protocol.DaqListMode
	event    uint16
	selected bool
	running  bool
}

func (l *daqList) dataSize() int {
	n := 0
	for _, odt := range l.odts {
		for _, e := range odt {
			n += e.size
		}
	}
	return n
}

type daqPointer struct {
	list  int
	odt   int
	entry int
	valid bool
}

// daqState is the dynamic DAQ configuration. It is guarded by Slave.mu.
type daqState struct {
	lists []*daqList
	ptr   daqPointer
	stop  chan struct{}
}

func (d *daqState) running() bool {
	for _, l := range d.lists {
		if l.running {
			return true
		}
	}
	return false
}

func (d *daqState) list(n uint16) (*daqList, bool) {
	if int(n) >= len(d.lists) {
		return nil, false
	}
	return d.lists[n], true
}

// startDaqLocked launches one emitter per event channel with a running list.
func (s *Slave) startDaqLocked() {
	s.stopDaqLocked()
	channels := make(map[uint16]bool)
	for _, l := range s.daq.lists {
		if l.running {
			channels[l.event] = true
		}
	}
	if len(channels) == 0 {
		return
	}

	stop := make(chan struct{})
	s.daq.stop = stop
	for ch := range channels {
		period := s.config.Events[ch]
		if period <= 0 {
			period = DefaultEventPeriod
		}
		s.wg.Add(1)
		go s.emit(ch, period, stop)
	}
}

// stopDaqLocked signals the emitters to exit. It does not wait for them.
func (s *Slave) stopDaqLocked() {
	if s.daq.stop != nil {
		close(s.daq.stop)
		s.daq.stop = nil
	}
}

func (s *Slave) emit(channel uint16, period time.Duration, stop <-chan struct{}) {
	defer s.wg.Done()
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-s.ctx.Done():
			return
		case <-ticker.C:
		}

		packets, ok := s.sampleChannel(channel, stop)
		if !ok {
			return
		}
		for _, p := range packets {
			if err := s.send(p); err != nil {
				s.logger.Debug("DAQ send on channel %d: %v", channel, err)
				continue
			}
			s.daqPackets.Inc()
		}
	}
}

// sampleChannel builds one DTO per running list bound to channel. Each ODT
// becomes one packet whose first byte is the list number.
func (s *Slave) sampleChannel(channel uint16, stop <-chan struct{}) ([][]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-stop:
		return nil, false
	default:
	}

	var packets [][]byte
	for n, l := range s.daq.lists {
		if !l.running || l.event != channel {
			continue
		}
		for _, odt := range l.odts {
			packet := []byte{uint8(n)}
			for _, e := range odt {
				if size, ok := s.animated[e.address]; ok {
					s.mem.Increment(e.address, size)
				}
				packet = append(packet, s.mem.Read(e.address, e.size)...)
			}
			packets = append(packets, packet)
		}
	}
	return packets, true
}
