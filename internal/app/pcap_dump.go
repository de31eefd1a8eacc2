package app

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/tonylturner/xcpmaster/internal/pcap"
	"github.com/tonylturner/xcpmaster/internal/progress"
)

// PCAPDumpOptions configures the pcap-dump command.
type PCAPDumpOptions struct {
	Input     string
	Port      int
	Max       int // frames printed per file, 0 for all
	Payload   bool
	BigEndian bool
	// SummaryOnly skips the per-frame listing.
	SummaryOnly bool
	NoProgress  bool
	Stdout      io.Writer
}

// RunPCAPDump decodes the XCP traffic in a capture file or directory.
func RunPCAPDump(opts PCAPDumpOptions) error {
	out := opts.Stdout
	if out == nil {
		out = os.Stdout
	}
	if opts.Input == "" {
		return fmt.Errorf("--input is required")
	}
	if opts.Port < 0 || opts.Port > 65535 {
		return fmt.Errorf("invalid port %d", opts.Port)
	}
	files, err := pcap.InputFiles(opts.Input)
	if err != nil {
		return err
	}
	var order binary.ByteOrder = binary.LittleEndian
	if opts.BigEndian {
		order = binary.BigEndian
	}
	extractOpts := pcap.ExtractOptions{Port: uint16(opts.Port), Order: order}

	var bar *progress.Bar
	if len(files) > 1 && !opts.NoProgress {
		bar = progress.NewBar(int64(len(files)), "Reading captures", "files")
	}

	total := &pcap.Extraction{}
	for _, path := range files {
		ex, err := pcap.ExtractXCPFromPCAP(path, extractOpts)
		if err != nil {
			if bar != nil {
				bar.Finish()
			}
			return fmt.Errorf("%s: %w", path, err)
		}
		if bar != nil {
			bar.SetNote(filepath.Base(path))
			bar.Add(1)
		}
		if !opts.SummaryOnly {
			if len(files) > 1 {
				fmt.Fprintf(out, "== %s ==\n", path)
			}
			writeFrames(out, ex, opts.Max, opts.Payload, order)
		}
		total.Packets += ex.Packets
		total.Frames = append(total.Frames, ex.Frames...)
		total.Malformed = append(total.Malformed, ex.Malformed...)
	}
	if bar != nil {
		bar.Finish()
	}

	if !opts.SummaryOnly {
		fmt.Fprintln(out)
	}
	fmt.Fprint(out, pcap.FormatSummary(pcap.Summarize(total)))
	return nil
}

func writeFrames(out io.Writer, ex *pcap.Extraction, max int, payload bool, order binary.ByteOrder) {
	for i, f := range ex.Frames {
		if max > 0 && i >= max {
			fmt.Fprintf(out, "... %d more frames\n", len(ex.Frames)-max)
			break
		}
		fmt.Fprintf(out, "#%-6d %s %s %s:%d -> %s:%d ctr=%-5d %s\n",
			f.PacketIndex, f.Timestamp.Format("15:04:05.000000"), f.Direction,
			f.SrcIP, f.SrcPort, f.DstIP, f.DstPort, f.Counter, f.Description)
		if payload {
			fmt.Fprint(out, pcap.FormatFrameHex(f, order, true))
		}
	}
	for _, m := range ex.Malformed {
		fmt.Fprintf(out, "#%-6d %s malformed datagram: %v\n", m.PacketIndex, m.Timestamp.Format("15:04:05.000000"), m.Err)
	}
}
