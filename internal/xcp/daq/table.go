package daq

// Dynamic DAQ lists.
//
// Event-triggered signals are grouped by event channel into DAQ lists,
// numbered in the order their channel was first seen. Each list has a
// single ODT whose entries follow the order signals were added. That
// order fixes every signal's byte offset inside the DAQ packets of the
// list, so a table is never edited after provisioning; a new table is
// built and provisioned from FREE_DAQ instead.

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/tonylturner/xcpmaster/internal/xcp/protocol"
	"github.com/tonylturner/xcpmaster/internal/xcp/signal"
)

// SingleODTPerList is the number of ODTs allocated for every DAQ list.
const SingleODTPerList = 1

// PIDSize is the identification field in front of every DAQ packet.
const PIDSize = 1

// maxEntriesPerODT is the largest ALLOC_ODT_ENTRY count.
const maxEntriesPerODT = 0xFF

var (
	// ErrNoLists is returned when provisioning a table without event signals.
	ErrNoLists = errors.New("no event-triggered signals to provision")

	// ErrUnknownList is returned for a DAQ packet of a list that is not armed.
	ErrUnknownList = errors.New("DAQ packet for unknown list")
)

// ShortPacketError reports a DAQ packet smaller than its list's entries.
type ShortPacketError struct {
	List uint8
	Got  int
	Want int
}

func (e *ShortPacketError) Error() string {
	return fmt.Sprintf("DAQ list %d packet too short: got %d data bytes, need %d", e.List, e.Got, e.Want)
}

// DTOSizeError reports a list whose entries do not fit in MAX_DTO.
type DTOSizeError struct {
	List   uint16
	Size   int
	MaxDTO int
}

func (e *DTOSizeError) Error() string {
	return fmt.Sprintf("DAQ list %d needs %d bytes, MAX_DTO is %d", e.List, e.Size, e.MaxDTO)
}

// Entry is one ODT entry.
type Entry struct {
	Signal signal.Signal
	Offset int // byte offset after the PID
}

// List is one DAQ list bound to one event channel.
type List struct {
	Number       uint16
	EventChannel uint16
	Entries      []Entry
}

// DataSize returns the number of data bytes in one packet of the list.
func (l List) DataSize() int {
	n := 0
	for _, e := range l.Entries {
		n += e.Signal.Size
	}
	return n
}

// Table holds the DAQ lists derived from a set of signals.
type Table struct {
	lists []List
}

// NewTable groups event-triggered signals by event channel. Polling
// signals are ignored.
func NewTable(signals []signal.Signal) *Table {
	t := &Table{}
	index := map[uint16]int{}
	for _, sig := range signals {
		if sig.Trigger != signal.TriggerEvent {
			continue
		}
		i, ok := index[sig.EventChannel]
		if !ok {
			i = len(t.lists)
			index[sig.EventChannel] = i
			t.lists = append(t.lists, List{Number: uint16(i), EventChannel: sig.EventChannel})
		}
		l := &t.lists[i]
		l.Entries = append(l.Entries, Entry{Signal: sig, Offset: l.DataSize()})
	}
	return t
}

// Lists returns a copy of the lists in list-number order.
func (t *Table) Lists() []List {
	out := make([]List, len(t.lists))
	for i, l := range t.lists {
		out[i] = List{Number: l.Number, EventChannel: l.EventChannel, Entries: append([]Entry(nil), l.Entries...)}
	}
	return out
}

// Len returns the number of lists.
func (t *Table) Len() int {
	return len(t.lists)
}

// Empty reports whether the table has no lists.
func (t *Table) Empty() bool {
	return len(t.lists) == 0
}

// Provision returns the dynamic DAQ command sequence:
//
//	FREE_DAQ
//	ALLOC_DAQ(lists)
//	ALLOC_ODT(list, 1)                      for each list
//	ALLOC_ODT_ENTRY(list, 0, entries)       for each list
//	SET_DAQ_PTR(list, 0, 0), WRITE_DAQ...   for each list
//	SET_DAQ_LIST_MODE, START_STOP_DAQ_LIST  for each list
//	START_STOP_SYNCH(start selected)
//
// A maxDTO of zero skips the DTO size check.
func (t *Table) Provision(b *protocol.Builder, maxDTO int) ([]protocol.CommandPayload, error) {
	if t.Empty() {
		return nil, ErrNoLists
	}
	for _, l := range t.lists {
		if len(l.Entries) > maxEntriesPerODT {
			return nil, fmt.Errorf("DAQ list %d: %d entries exceed %d", l.Number, len(l.Entries), maxEntriesPerODT)
		}
		if size := PIDSize + l.DataSize(); maxDTO > 0 && size > maxDTO {
			return nil, &DTOSizeError{List: l.Number, Size: size, MaxDTO: maxDTO}
		}
	}

	cmds := []protocol.CommandPayload{
		b.FreeDaq(),
		b.AllocDaq(uint16(len(t.lists))),
	}
	for _, l := range t.lists {
		cmds = append(cmds, b.AllocODT(l.Number, SingleODTPerList))
	}
	for _, l := range t.lists {
		cmds = append(cmds, b.AllocODTEntry(l.Number, 0, uint8(len(l.Entries))))
	}
	for _, l := range t.lists {
		cmds = append(cmds, b.SetDaqPtr(l.Number, 0, 0))
		for _, e := range l.Entries {
			w, err := b.WriteDaq(e.Signal.Address, e.Signal.Extension, e.Signal.Size)
			if err != nil {
				return nil, fmt.Errorf("DAQ list %d entry %s: %w", l.Number, e.Signal.Name, err)
			}
			cmds = append(cmds, w)
		}
	}
	for _, l := range t.lists {
		cmds = append(cmds,
			b.SetDaqListMode(l.Number, 0, l.EventChannel, 1, 0),
			b.StartStopDaqList(l.Number, protocol.DaqListSelect),
		)
	}
	cmds = append(cmds, b.StartStopSynch(protocol.SynchStartSelected))
	return cmds, nil
}

// StopAll returns START_STOP_SYNCH(stop all).
func StopAll(b *protocol.Builder) protocol.CommandPayload {
	return b.StartStopSynch(protocol.SynchStopAll)
}

// Decode splits a DAQ packet into one sample per ODT entry, in entry
// order. Trailing bytes beyond the entries are ignored. Values are read in
// valueOrder, little endian when nil, independent of the header byte order.
func (t *Table) Decode(pkt protocol.DaqPacket, valueOrder binary.ByteOrder, now time.Time) ([]signal.Sample, error) {
	if valueOrder == nil {
		valueOrder = binary.LittleEndian
	}
	if int(pkt.List) >= len(t.lists) {
		return nil, fmt.Errorf("%w: %d", ErrUnknownList, pkt.List)
	}
	l := t.lists[pkt.List]
	if want := l.DataSize(); len(pkt.Data) < want {
		return nil, &ShortPacketError{List: pkt.List, Got: len(pkt.Data), Want: want}
	}

	samples := make([]signal.Sample, 0, len(l.Entries))
	for _, e := range l.Entries {
		raw := protocol.DecodeUint(pkt.Data[e.Offset:e.Offset+e.Signal.Size], valueOrder)
		samples = append(samples, signal.Sample{
			Address:   e.Signal.Address,
			Name:      e.Signal.Name,
			Raw:       raw,
			Value:     e.Signal.Interpret(raw),
			Timestamp: now,
			Source:    signal.SourceDaq,
		})
	}
	return samples, nil
}
