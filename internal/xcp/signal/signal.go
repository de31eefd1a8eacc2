package signal

// Observed variables and the values decoded for them.
//
// A Signal is what the debug-info resolver hands to the master: a named
// slave memory location with a byte size and a declared C type, plus how
// it should be acquired.

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Trigger selects how a signal is acquired.
type Trigger uint8

const (
	// TriggerPolling reads the signal with periodic SHORT_UPLOAD requests.
	TriggerPolling Trigger = iota
	// TriggerEvent reads the signal from a DAQ list bound to an event channel.
	TriggerEvent
)

func (t Trigger) String() string {
	switch t {
	case TriggerPolling:
		return "polling"
	case TriggerEvent:
		return "event"
	default:
		return fmt.Sprintf("trigger(%d)", uint8(t))
	}
}

// ParseTrigger maps a config string to a Trigger.
func ParseTrigger(s string) (Trigger, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "polling", "poll":
		return TriggerPolling, nil
	case "event", "daq":
		return TriggerEvent, nil
	default:
		return 0, fmt.Errorf("unknown trigger %q (want polling or event)", s)
	}
}

// DefaultPollingRate is the polling period used when none is configured.
const DefaultPollingRate = time.Second

// MaxSize is the widest value the master decodes.
const MaxSize = 8

// Signal is one observed or calibrated variable.
type Signal struct {
	Name         string
	Address      uint32
	Extension    uint8
	Size         int
	TypeName     string
	Trigger      Trigger
	PollingRate  time.Duration
	EventChannel uint16
	Float        bool
}

// Unsigned reports whether the declared type names an unsigned integer.
func (s Signal) Unsigned() bool {
	return strings.Contains(strings.ToLower(s.TypeName), "unsigned")
}

// Rate returns the polling period, falling back to DefaultPollingRate.
func (s Signal) Rate() time.Duration {
	if s.PollingRate <= 0 {
		return DefaultPollingRate
	}
	return s.PollingRate
}

// Validate checks the fields the protocol engine depends on.
func (s Signal) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("signal at 0x%08X: name is required", s.Address)
	}
	if s.Size <= 0 || s.Size > MaxSize {
		return fmt.Errorf("signal %s: size %d out of range 1-%d", s.Name, s.Size, MaxSize)
	}
	return nil
}

// Interpret converts a raw unsigned accumulation into the signal's value.
// Unsigned types are read as u32 and everything else as i32; eight byte
// signals keep the full 64 bits.
func (s Signal) Interpret(raw uint64) int64 {
	if s.Size >= 8 {
		// Unsigned values above MaxInt64 wrap; Sample.Raw keeps the exact bits.
		return int64(raw)
	}
	if s.Unsigned() {
		return int64(uint32(raw))
	}
	return int64(int32(uint32(raw)))
}

// Source tells where a sample came from.
type Source uint8

const (
	SourcePolling Source = iota
	SourceDaq
	SourceCalibration
)

func (s Source) String() string {
	switch s {
	case SourcePolling:
		return "polling"
	case SourceDaq:
		return "daq"
	case SourceCalibration:
		return "calibration"
	default:
		return "unknown"
	}
}

// Sample is one decoded value.
type Sample struct {
	Address   uint32
	Name      string
	Raw       uint64
	Value     int64
	Timestamp time.Time
	Source    Source
}

// Set indexes signals by address and by name.
type Set struct {
	byAddress map[uint32]Signal
	byName    map[string]Signal
	order     []uint32
}

// NewSet builds a Set. Duplicate addresses or names are rejected.
func NewSet(signals []Signal) (*Set, error) {
	set := &Set{
		byAddress: make(map[uint32]Signal, len(signals)),
		byName:    make(map[string]Signal, len(signals)),
	}
	for _, s := range signals {
		if err := s.Validate(); err != nil {
			return nil, err
		}
		if _, dup := set.byAddress[s.Address]; dup {
			return nil, fmt.Errorf("signal %s: address 0x%08X already used", s.Name, s.Address)
		}
		if _, dup := set.byName[s.Name]; dup {
			return nil, fmt.Errorf("signal %s: duplicate name", s.Name)
		}
		set.byAddress[s.Address] = s
		set.byName[s.Name] = s
		set.order = append(set.order, s.Address)
	}
	return set, nil
}

// ByAddress looks a signal up by slave address.
func (s *Set) ByAddress(addr uint32) (Signal, bool) {
	sig, ok := s.byAddress[addr]
	return sig, ok
}

// ByName looks a signal up by name.
func (s *Set) ByName(name string) (Signal, bool) {
	sig, ok := s.byName[name]
	return sig, ok
}

// All returns the signals in insertion order.
func (s *Set) All() []Signal {
	out := make([]Signal, 0, len(s.order))
	for _, addr := range s.order {
		out = append(out, s.byAddress[addr])
	}
	return out
}

// Polling returns the polling-triggered signals sorted by address.
func (s *Set) Polling() []Signal {
	var out []Signal
	for _, sig := range s.byAddress {
		if sig.Trigger == TriggerPolling {
			out = append(out, sig)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out
}

// Event returns the event-triggered signals in insertion order.
func (s *Set) Event() []Signal {
	var out []Signal
	for _, addr := range s.order {
		if sig := s.byAddress[addr]; sig.Trigger == TriggerEvent {
			out = append(out, sig)
		}
	}
	return out
}

// Len returns the number of signals.
func (s *Set) Len() int {
	return len(s.order)
}
