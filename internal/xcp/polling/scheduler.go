package polling

// Per-signal polling timers.

import (
	"sort"
	"sync"
	"time"

	"github.com/tonylturner/xcpmaster/internal/xcp/signal"
)

// Entry is one polled signal.
type Entry struct {
	Signal signal.Signal
	Rate   time.Duration
}

// Scheduler runs one ticker per polling signal and delivers the signal on
// C each time its period elapses. After Stop returns no further signal is
// delivered.
type Scheduler struct {
	entries map[uint32]Entry
	out     chan signal.Signal

	mu      sync.Mutex
	stop    chan struct{}
	wg      sync.WaitGroup
	running bool
}

// NewScheduler keeps the polling-triggered signals of signals, keyed by
// address. Event signals are ignored.
func NewScheduler(signals []signal.Signal) *Scheduler {
	s := &Scheduler{
		entries: make(map[uint32]Entry),
		out:     make(chan signal.Signal),
	}
	for _, sig := range signals {
		if sig.Trigger != signal.TriggerPolling {
			continue
		}
		s.entries[sig.Address] = Entry{Signal: sig, Rate: sig.Rate()}
	}
	return s
}

// C delivers signals that are due for a SHORT_UPLOAD.
func (s *Scheduler) C() <-chan signal.Signal {
	return s.out
}

// Entries returns the polling entries sorted by address.
func (s *Scheduler) Entries() []Entry {
	out := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Signal.Address < out[j].Signal.Address })
	return out
}

// Len returns the number of polling entries.
func (s *Scheduler) Len() int {
	return len(s.entries)
}

// Start launches the timers. Calling Start while running does nothing.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}
	s.running = true
	s.stop = make(chan struct{})
	for _, e := range s.Entries() {
		s.wg.Add(1)
		go s.run(e, s.stop)
	}
}

func (s *Scheduler) run(e Entry, stop <-chan struct{}) {
	defer s.wg.Done()

	ticker := time.NewTicker(e.Rate)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			select {
			case s.out <- e.Signal:
			case <-stop:
				return
			}
		}
	}
}

// Stop cancels every timer and waits for them to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stop)
	s.mu.Unlock()

	s.wg.Wait()
}

// Running reports whether the timers are active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}
