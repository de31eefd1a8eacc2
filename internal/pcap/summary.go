package pcap

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/tonylturner/xcpmaster/internal/xcp/protocol"
)

// Summary aggregates an Extraction.
type Summary struct {
	Packets       int
	Frames        int
	Malformed     int
	Commands      map[string]int
	Responses     int
	Errors        map[string]int
	Events        int
	ServiceReqs   int
	DaqPackets    map[uint8]int
	CounterGaps   map[Direction]int
	Unanswered    int
	First, Last   time.Time
	SlaveEndpoint string
}

// Summarize counts commands, replies and counter discontinuities.
func Summarize(ex *Extraction) *Summary {
	s := &Summary{
		Packets:     ex.Packets,
		Frames:      len(ex.Frames),
		Malformed:   len(ex.Malformed),
		Commands:    make(map[string]int),
		Errors:      make(map[string]int),
		DaqPackets:  make(map[uint8]int),
		CounterGaps: make(map[Direction]int),
	}

	last := make(map[Direction]uint16)
	seen := make(map[Direction]bool)
	outstanding := 0
	for _, f := range ex.Frames {
		if s.First.IsZero() || f.Timestamp.Before(s.First) {
			s.First = f.Timestamp
		}
		if f.Timestamp.After(s.Last) {
			s.Last = f.Timestamp
		}
		if seen[f.Direction] && f.Counter != last[f.Direction]+1 {
			s.CounterGaps[f.Direction]++
		}
		last[f.Direction] = f.Counter
		seen[f.Direction] = true

		if f.Direction == ToSlave {
			s.Commands[protocol.Command(f.Packet[0]).String()]++
			s.SlaveEndpoint = fmt.Sprintf("%s:%d", f.DstIP, f.DstPort)
			outstanding++
			continue
		}
		switch pid := f.Packet[0]; pid {
		case protocol.PIDResponse:
			s.Responses++
			if f.InReplyTo != nil {
				outstanding--
			}
		case protocol.PIDError:
			code := protocol.ErrCmdUnknown
			if len(f.Packet) > 1 {
				code = protocol.ErrorCode(f.Packet[1])
			}
			s.Errors[code.String()]++
			if f.InReplyTo != nil {
				outstanding--
			}
		case protocol.PIDEvent:
			s.Events++
		case protocol.PIDServiceRequest:
			s.ServiceReqs++
		default:
			s.DaqPackets[pid]++
		}
	}
	if outstanding > 0 {
		s.Unanswered = outstanding
	}
	return s
}

// FormatSummary renders a Summary for the terminal.
func FormatSummary(s *Summary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Packets: %d, XCP frames: %d, malformed datagrams: %d\n", s.Packets, s.Frames, s.Malformed)
	if s.Frames == 0 {
		return b.String()
	}
	if s.SlaveEndpoint != "" {
		fmt.Fprintf(&b, "Slave: %s\n", s.SlaveEndpoint)
	}
	fmt.Fprintf(&b, "Duration: %s\n", s.Last.Sub(s.First).Round(time.Millisecond))
	fmt.Fprintf(&b, "Responses: %d, unanswered commands: %d\n", s.Responses, s.Unanswered)

	if len(s.Commands) > 0 {
		b.WriteString("\nCommands:\n")
		for _, name := range sortedKeys(s.Commands) {
			fmt.Fprintf(&b, "  %-22s %d\n", name, s.Commands[name])
		}
	}
	if len(s.Errors) > 0 {
		b.WriteString("\nErrors:\n")
		for _, name := range sortedKeys(s.Errors) {
			fmt.Fprintf(&b, "  %-22s %d\n", name, s.Errors[name])
		}
	}
	if len(s.DaqPackets) > 0 {
		b.WriteString("\nDAQ packets:\n")
		pids := make([]int, 0, len(s.DaqPackets))
		for pid := range s.DaqPackets {
			pids = append(pids, int(pid))
		}
		sort.Ints(pids)
		for _, pid := range pids {
			fmt.Fprintf(&b, "  list %-17d %d\n", pid, s.DaqPackets[uint8(pid)])
		}
	}
	if s.Events > 0 || s.ServiceReqs > 0 {
		fmt.Fprintf(&b, "\nEvents: %d, service requests: %d\n", s.Events, s.ServiceReqs)
	}
	if gaps := s.CounterGaps[ToSlave] + s.CounterGaps[FromSlave]; gaps > 0 {
		fmt.Fprintf(&b, "\nCounter gaps: %d master, %d slave\n", s.CounterGaps[ToSlave], s.CounterGaps[FromSlave])
	}
	return b.String()
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
