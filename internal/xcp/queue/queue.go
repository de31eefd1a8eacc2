package queue

// Bounded FIFO of pending XCP commands.

import (
	"errors"
	"sync"

	"github.com/tonylturner/xcpmaster/internal/xcp/protocol"
	"go.uber.org/atomic"
)

// DefaultCapacity is the number of commands a queue holds before it drops.
const DefaultCapacity = 100

var (
	// ErrFull is returned when a command is dropped because the queue is at capacity.
	ErrFull = errors.New("command queue full")

	// ErrEmptyCommand is returned for the empty payload.
	ErrEmptyCommand = errors.New("empty command")
)

// Queue is a bounded FIFO that is safe for many producers and one consumer.
// No operation blocks.
type Queue struct {
	mu       sync.Mutex
	items    []protocol.CommandPayload
	capacity int
	dropped  *atomic.Uint64
}

// New creates a queue. A capacity below one uses DefaultCapacity.
func New(capacity int) *Queue {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	return &Queue{
		items:    make([]protocol.CommandPayload, 0, capacity),
		capacity: capacity,
		dropped:  atomic.NewUint64(0),
	}
}

// Enqueue appends cmd at the tail. At capacity the command is dropped and
// ErrFull returned.
func (q *Queue) Enqueue(cmd protocol.CommandPayload) error {
	if cmd.IsEmpty() {
		return ErrEmptyCommand
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) >= q.capacity {
		q.dropped.Inc()
		return ErrFull
	}
	q.items = append(q.items, cmd)
	return nil
}

// EnqueueAll appends every command or none of them.
func (q *Queue) EnqueueAll(cmds ...protocol.CommandPayload) error {
	for _, cmd := range cmds {
		if cmd.IsEmpty() {
			return ErrEmptyCommand
		}
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items)+len(cmds) > q.capacity {
		q.dropped.Add(uint64(len(cmds)))
		return ErrFull
	}
	q.items = append(q.items, cmds...)
	return nil
}

// Dequeue pops the head. It returns protocol.Empty and false when the queue
// is empty.
func (q *Queue) Dequeue() (protocol.CommandPayload, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return protocol.Empty, false
	}
	head := q.items[0]
	q.items[0] = protocol.Empty
	q.items = q.items[1:]
	if len(q.items) == 0 {
		q.items = make([]protocol.CommandPayload, 0, q.capacity)
	}
	return head, true
}

// Clear drops every pending command and returns how many were removed.
func (q *Queue) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.items)
	q.items = make([]protocol.CommandPayload, 0, q.capacity)
	return n
}

// Len returns the number of pending commands.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Cap returns the queue capacity.
func (q *Queue) Cap() int {
	return q.capacity
}

// Free returns how many more commands fit.
func (q *Queue) Free() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.capacity - len(q.items)
}

// Dropped returns the number of commands rejected for lack of space.
func (q *Queue) Dropped() uint64 {
	return q.dropped.Load()
}

// Snapshot returns a copy of the pending commands, head first.
func (q *Queue) Snapshot() []protocol.CommandPayload {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]protocol.CommandPayload, len(q.items))
	copy(out, q.items)
	return out
}
