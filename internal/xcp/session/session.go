package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/tonylturner/xcpmaster/internal/xcp/signal"
)

var (
	// ErrNotConnected is returned for commands issued without an open session.
	ErrNotConnected = errors.New("session not connected")
	// ErrInvalidState is returned when an operation is not allowed in the
	// current state.
	ErrInvalidState = errors.New("invalid session state")
	// ErrClosed is returned once Run has exited.
	ErrClosed = errors.New("session closed")
	// ErrUnknownSignal is returned for a signal name that was not configured.
	ErrUnknownSignal = errors.New("unknown signal")
)

// Session is one XCP master session. All protocol state lives on the
// goroutine running Run; the exported methods post requests to it and wait
// for the result.
type Session struct {
	signals *signal.Set
	engine  *engine
	inbox   chan func(*engine)
	done    chan struct{}
	started *atomic.Bool

	mu      sync.Mutex
	state   State
	changed chan struct{}
	slave   SlaveConfig
}

// New validates opts and creates a disconnected session.
func New(opts Options) (*Session, error) {
	if opts.Transport == nil {
		return nil, errors.New("session: transport is required")
	}
	if opts.Address == "" {
		return nil, errors.New("session: slave address is required")
	}
	opts.applyDefaults()

	set, err := signal.NewSet(opts.Signals)
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}

	s := &Session{
		signals: set,
		inbox:   make(chan func(*engine)),
		done:    make(chan struct{}),
		started: atomic.NewBool(false),
		state:   StateDisconnected,
		changed: make(chan struct{}),
	}
	s.engine = newEngine(s, opts, set)
	return s, nil
}

// Run drives the session until ctx is cancelled, then disconnects. It may
// be called once.
func (s *Session) Run(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return ErrClosed
	}
	defer close(s.done)

	e := s.engine
	e.ctx = ctx
	defer e.shutdown()

	ticker := time.NewTicker(e.opts.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case fn := <-s.inbox:
			fn(e)
		case <-ticker.C:
			e.trySendNext()
		case <-e.timeoutC():
			e.onTimeout()
		case r := <-e.recvC:
			e.onFrames(r)
		case sig := <-e.pollC():
			e.onPoll(sig)
		}
	}
}

// do runs fn on the session goroutine and returns its error.
func (s *Session) do(ctx context.Context, fn func(*engine) error) error {
	reply := make(chan error, 1)
	req := func(e *engine) { reply <- fn(e) }

	select {
	case s.inbox <- req:
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return ErrClosed
	}

	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return ErrClosed
	}
}

// Connect binds the transport and queues CONNECT. The session reaches
// StateConnected once the slave answers; use WaitFor to block on it. A bind
// failure moves the session to StateError.
func (s *Session) Connect(ctx context.Context) error {
	return s.do(ctx, func(e *engine) error { return e.connect(ctx) })
}

// Disconnect cancels acquisition, sends DISCONNECT once and closes the
// transport without waiting for the slave's answer. A session in StateError
// stays there until Connect.
func (s *Session) Disconnect(ctx context.Context) error {
	return s.do(ctx, func(e *engine) error { return e.disconnect("disconnect requested") })
}

// StartRecording provisions DAQ lists for event signals, starts the polling
// timers and enters StateRun.
func (s *Session) StartRecording(ctx context.Context) error {
	return s.do(ctx, func(e *engine) error { return e.startRecording() })
}

// StopRecording cancels acquisition and enters StateStop. The session stays
// connected.
func (s *Session) StopRecording(ctx context.Context) error {
	return s.do(ctx, func(e *engine) error { return e.stopRecording() })
}

// State returns the current session state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SlaveConfig returns the latest slave snapshot.
func (s *Session) SlaveConfig() SlaveConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.slave
}

// Signals returns the configured signals.
func (s *Session) Signals() *signal.Set {
	return s.signals
}

// WaitFor blocks until the session is in one of states or ctx ends.
func (s *Session) WaitFor(ctx context.Context, states ...State) (State, error) {
	for {
		s.mu.Lock()
		current, changed := s.state, s.changed
		s.mu.Unlock()

		for _, want := range states {
			if current == want {
				return current, nil
			}
		}

		select {
		case <-changed:
		case <-ctx.Done():
			return current, ctx.Err()
		}
	}
}

func (s *Session) publishState(state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
	close(s.changed)
	s.changed = make(chan struct{})
}

func (s *Session) publishSlave(c SlaveConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slave = c
}

// Stats is a snapshot of session counters.
type Stats struct {
	Sent             uint64
	Responses        uint64
	NegativeResponse uint64
	Timeouts         uint64
	Retries          uint64
	Dropped          uint64
	Invalid          uint64
	SendFailures     uint64
	Malformed        uint64
	Unsolicited      uint64
	DaqPackets       uint64
	Samples          uint64
	Queued           int
	InFlight         bool
}

// Stats returns the session counters. It is safe to call from any goroutine.
func (s *Session) Stats() Stats {
	c := s.engine.stats
	return Stats{
		Sent:             c.sent.Load(),
		Responses:        c.responses.Load(),
		NegativeResponse: c.negative.Load(),
		Timeouts:         c.timeouts.Load(),
		Retries:          c.retries.Load(),
		Dropped:          c.dropped.Load(),
		Invalid:          c.invalid.Load(),
		SendFailures:     c.sendFailed.Load(),
		Malformed:        c.malformed.Load(),
		Unsolicited:      c.unsolicited.Load(),
		DaqPackets:       c.daqPackets.Load(),
		Samples:          c.samples.Load(),
		Queued:           s.engine.queue.Len(),
		InFlight:         !s.engine.sendable.Load(),
	}
}
