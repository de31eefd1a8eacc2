package record

// Telemetry sink for decoded signal values.

import (
	"sort"
	"sync"
	"time"

	"github.com/tonylturner/xcpmaster/internal/xcp/signal"
)

// DefaultHistory is the number of samples kept per signal.
const DefaultHistory = 1000

// Element is the recorded state of one signal.
type Element struct {
	Name    string
	Address uint32
	Latest  signal.Sample
	Count   uint64
	Min     int64
	Max     int64
	history []signal.Sample
	next    int
	full    bool
}

// History returns the retained samples, oldest first.
func (e *Element) History() []signal.Sample {
	if !e.full {
		out := make([]signal.Sample, e.next)
		copy(out, e.history[:e.next])
		return out
	}
	out := make([]signal.Sample, 0, len(e.history))
	out = append(out, e.history[e.next:]...)
	return append(out, e.history[:e.next]...)
}

func (e *Element) add(s signal.Sample) {
	if e.Count == 0 || s.Value < e.Min {
		e.Min = s.Value
	}
	if e.Count == 0 || s.Value > e.Max {
		e.Max = s.Value
	}
	e.Count++
	e.Latest = s
	e.history[e.next] = s
	e.next++
	if e.next == len(e.history) {
		e.next = 0
		e.full = true
	}
}

// Recorder keeps the latest value and a bounded history for every signal
// that produced a sample. It is safe for concurrent use.
type Recorder struct {
	mu       sync.RWMutex
	capacity int
	elements map[uint32]*Element
	writer   *Writer
	started  time.Time
	total    uint64
	writeErr error
}

// NewRecorder creates a Recorder keeping up to capacity samples per signal.
// A non-positive capacity selects DefaultHistory.
func NewRecorder(capacity int) *Recorder {
	if capacity <= 0 {
		capacity = DefaultHistory
	}
	return &Recorder{
		capacity: capacity,
		elements: make(map[uint32]*Element),
		started:  time.Now(),
	}
}

// SetWriter streams every subsequent sample to w.
func (r *Recorder) SetWriter(w *Writer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writer = w
}

// Add records one sample. It matches session.Options.OnSample.
func (r *Recorder) Add(s signal.Sample) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.elements[s.Address]
	if !ok {
		e = &Element{
			Name:    s.Name,
			Address: s.Address,
			history: make([]signal.Sample, r.capacity),
		}
		r.elements[s.Address] = e
	}
	e.add(s)
	r.total++

	if r.writer != nil && r.writeErr == nil {
		r.writeErr = r.writer.WriteSample(s)
	}
}

// Latest returns the newest sample for the named signal.
func (r *Recorder) Latest(name string) (signal.Sample, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.elements {
		if e.Name == name {
			return e.Latest, true
		}
	}
	return signal.Sample{}, false
}

// History returns the retained samples of the named signal.
func (r *Recorder) History(name string) []signal.Sample {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.elements {
		if e.Name == name {
			return e.History()
		}
	}
	return nil
}

// Snapshot returns a copy of every element sorted by address. The copies
// do not carry history.
func (r *Recorder) Snapshot() []Element {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Element, 0, len(r.elements))
	for _, e := range r.elements {
		out = append(out, Element{
			Name:    e.Name,
			Address: e.Address,
			Latest:  e.Latest,
			Count:   e.Count,
			Min:     e.Min,
			Max:     e.Max,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out
}

// Total returns the number of samples recorded.
func (r *Recorder) Total() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.total
}

// Rate returns samples per second since the recorder was created.
func (r *Recorder) Rate() float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	elapsed := time.Since(r.started).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(r.total) / elapsed
}

// Err returns the first error the attached writer reported.
func (r *Recorder) Err() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.writeErr
}
