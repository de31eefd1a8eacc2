package queue

import (
	"errors"
	"sync"
	"testing"

	"github.com/tonylturner/xcpmaster/internal/xcp/protocol"
)

func upload(t *testing.T, addr uint32) protocol.CommandPayload {
	t.Helper()
	p, err := protocol.NewBuilder(nil, 8).ShortUpload(addr, 0, 4)
	if err != nil {
		t.Fatalf("ShortUpload: %v", err)
	}
	return p
}

func TestQueueFIFO(t *testing.T) {
	q := New(DefaultCapacity)
	for i := 0; i < DefaultCapacity; i++ {
		if err := q.Enqueue(upload(t, uint32(i))); err != nil {
			t.Fatalf("Enqueue %d: %v", i, err)
		}
	}
	for i := 0; i < DefaultCapacity; i++ {
		cmd, ok := q.Dequeue()
		if !ok {
			t.Fatalf("Dequeue %d: queue empty", i)
		}
		if cmd.ID != uint32(i) {
			t.Fatalf("Dequeue %d: got id %d", i, cmd.ID)
		}
	}
	cmd, ok := q.Dequeue()
	if ok || !cmd.IsEmpty() {
		t.Errorf("Dequeue on empty queue = %v, %v", cmd, ok)
	}
}

func TestQueueOverflowDrops(t *testing.T) {
	q := New(DefaultCapacity)
	for i := 0; i < DefaultCapacity; i++ {
		_ = q.Enqueue(upload(t, uint32(i)))
	}
	if err := q.Enqueue(upload(t, 999)); !errors.Is(err, ErrFull) {
		t.Fatalf("Enqueue at capacity err = %v, want ErrFull", err)
	}
	if q.Len() != DefaultCapacity {
		t.Errorf("Len = %d, want %d", q.Len(), DefaultCapacity)
	}
	if q.Dropped() != 1 {
		t.Errorf("Dropped = %d, want 1", q.Dropped())
	}
	if q.Free() != 0 {
		t.Errorf("Free = %d, want 0", q.Free())
	}
	head, _ := q.Dequeue()
	if head.ID != 0 {
		t.Errorf("head id = %d, want 0", head.ID)
	}
}

func TestQueueEnqueueAllIsAtomic(t *testing.T) {
	q := New(3)
	_ = q.Enqueue(upload(t, 1))
	_ = q.Enqueue(upload(t, 2))

	err := q.EnqueueAll(upload(t, 3), upload(t, 4))
	if !errors.Is(err, ErrFull) {
		t.Fatalf("EnqueueAll err = %v, want ErrFull", err)
	}
	if q.Len() != 2 {
		t.Errorf("Len = %d, want 2 after rejected batch", q.Len())
	}
	if err := q.EnqueueAll(upload(t, 3)); err != nil {
		t.Fatalf("EnqueueAll: %v", err)
	}
	ids := []uint32{}
	for _, c := range q.Snapshot() {
		ids = append(ids, c.ID)
	}
	if len(ids) != 3 || ids[0] != 1 || ids[2] != 3 {
		t.Errorf("snapshot ids = %v", ids)
	}
}

func TestQueueRejectsEmpty(t *testing.T) {
	q := New(0)
	if q.Cap() != DefaultCapacity {
		t.Errorf("Cap = %d, want %d", q.Cap(), DefaultCapacity)
	}
	if err := q.Enqueue(protocol.Empty); !errors.Is(err, ErrEmptyCommand) {
		t.Errorf("err = %v, want ErrEmptyCommand", err)
	}
	if err := q.EnqueueAll(upload(t, 1), protocol.Empty); !errors.Is(err, ErrEmptyCommand) {
		t.Errorf("EnqueueAll err = %v, want ErrEmptyCommand", err)
	}
	if q.Len() != 0 {
		t.Errorf("Len = %d, want 0", q.Len())
	}
}

func TestQueueClear(t *testing.T) {
	q := New(10)
	for i := 0; i < 5; i++ {
		_ = q.Enqueue(upload(t, uint32(i)))
	}
	if n := q.Clear(); n != 5 {
		t.Errorf("Clear = %d, want 5", n)
	}
	if q.Len() != 0 {
		t.Errorf("Len after Clear = %d", q.Len())
	}
}

func TestQueueConcurrentProducers(t *testing.T) {
	q := New(DefaultCapacity)
	batches := make([][]protocol.CommandPayload, 10)
	for p := range batches {
		for i := 0; i < 20; i++ {
			batches[p] = append(batches[p], upload(t, uint32(p*100+i)))
		}
	}

	var wg sync.WaitGroup
	for _, batch := range batches {
		wg.Add(1)
		go func(batch []protocol.CommandPayload) {
			defer wg.Done()
			for _, cmd := range batch {
				_ = q.Enqueue(cmd)
			}
		}(batch)
	}
	wg.Wait()

	if q.Len() != DefaultCapacity {
		t.Errorf("Len = %d, want %d", q.Len(), DefaultCapacity)
	}
	if q.Dropped() != 100 {
		t.Errorf("Dropped = %d, want 100", q.Dropped())
	}

	// Each producer's commands keep their relative order.
	last := map[uint32]int{}
	for _, c := range q.Snapshot() {
		producer, seq := c.ID/100, int(c.ID%100)
		if prev, ok := last[producer]; ok && seq <= prev {
			t.Fatalf("producer %d out of order: %d after %d", producer, seq, prev)
		}
		last[producer] = seq
	}
}
