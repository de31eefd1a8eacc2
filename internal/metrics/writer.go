package metrics

// Metrics output (CSV/JSON) and summary formatting

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"
)

// Writer handles writing metrics to files
type Writer struct {
	csvFile   *os.File
	csvWriter *csv.Writer
	jsonFile  *os.File
	jsonCount int
}

// NewWriter creates a new metrics writer
func NewWriter(csvPath, jsonPath string) (*Writer, error) {
	w := &Writer{}

	// Open CSV file if path provided
	if csvPath != "" {
		file, err := os.Create(csvPath)
		if err != nil {
			return nil, fmt.Errorf("create CSV file: %w", err)
		}
		w.csvFile = file
		w.csvWriter = csv.NewWriter(file)

		// Write CSV header
		header := []string{
			"timestamp",
			"command",
			"target",
			"success",
			"rtt_ms",
			"attempt",
			"error_code",
			"error",
			"outcome",
		}
		if err := w.csvWriter.Write(header); err != nil {
			file.Close()
			return nil, fmt.Errorf("write CSV header: %w", err)
		}
		w.csvWriter.Flush()
	}

	// Open JSON file if path provided
	if jsonPath != "" {
		file, err := os.Create(jsonPath)
		if err != nil {
			if w.csvFile != nil {
				w.csvFile.Close()
			}
			return nil, fmt.Errorf("create JSON file: %w", err)
		}
		w.jsonFile = file

		// Write JSON array start
		if _, err := file.WriteString("[\n"); err != nil {
			file.Close()
			if w.csvFile != nil {
				w.csvFile.Close()
			}
			return nil, fmt.Errorf("write JSON start: %w", err)
		}
	}

	return w, nil
}

// WriteMetric writes a single metric
func (w *Writer) WriteMetric(m Metric) error {
	// Write to CSV
	if w.csvWriter != nil {
		record := []string{
			m.Timestamp.Format(time.RFC3339Nano),
			m.Command,
			m.Target,
			fmt.Sprintf("%t", m.Success),
			formatRTT(m.RTTMs),
			fmt.Sprintf("%d", m.Attempt),
			m.ErrorCode,
			m.Error,
			string(m.Outcome),
		}
		if err := w.csvWriter.Write(record); err != nil {
			return fmt.Errorf("write CSV record: %w", err)
		}
		w.csvWriter.Flush()
	}

	// Write to JSON
	if w.jsonFile != nil {
		jsonData, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("marshal JSON: %w", err)
		}

		if w.jsonCount > 0 {
			if _, err := w.jsonFile.WriteString(",\n"); err != nil {
				return fmt.Errorf("write JSON comma: %w", err)
			}
		}
		w.jsonCount++

		// Write indented JSON
		var buf bytes.Buffer
		if err := json.Indent(&buf, jsonData, "", "  "); err != nil {
			return fmt.Errorf("indent JSON: %w", err)
		}
		if _, err := w.jsonFile.Write(buf.Bytes()); err != nil {
			return fmt.Errorf("write JSON: %w", err)
		}
	}

	return nil
}

// Close closes the writer and flushes all data
func (w *Writer) Close() error {
	var errs []error

	if w.csvWriter != nil {
		w.csvWriter.Flush()
	}
	if w.csvFile != nil {
		if err := w.csvFile.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	if w.jsonFile != nil {
		// Write JSON array end
		if _, err := w.jsonFile.WriteString("\n]\n"); err != nil {
			errs = append(errs, err)
		}
		if err := w.jsonFile.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("close writer: %v", errs)
	}

	return nil
}

// formatRTT formats RTT value for CSV (empty string if 0)
func formatRTT(rtt float64) string {
	if rtt == 0 {
		return ""
	}
	return fmt.Sprintf("%.3f", rtt)
}

// FormatSummary formats a summary for human-readable output
func FormatSummary(summary *Summary) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Total Commands: %d\n", summary.TotalOperations)
	if summary.TotalOperations == 0 {
		return b.String()
	}
	fmt.Fprintf(&b, "Successful: %d (%.1f%%)\n",
		summary.SuccessfulOps,
		float64(summary.SuccessfulOps)/float64(summary.TotalOperations)*100)
	fmt.Fprintf(&b, "Failed: %d (%.1f%%)\n",
		summary.FailedOps,
		float64(summary.FailedOps)/float64(summary.TotalOperations)*100)

	if summary.TimeoutCount > 0 {
		fmt.Fprintf(&b, "Timeouts: %d\n", summary.TimeoutCount)
	}
	if summary.NegativeResponses > 0 {
		fmt.Fprintf(&b, "Negative Responses: %d\n", summary.NegativeResponses)
	}
	if summary.InvalidResponses > 0 {
		fmt.Fprintf(&b, "Invalid Responses: %d\n", summary.InvalidResponses)
	}
	if summary.DroppedCommands > 0 {
		fmt.Fprintf(&b, "Dropped Commands: %d\n", summary.DroppedCommands)
	}
	if summary.RetriedCommands > 0 {
		fmt.Fprintf(&b, "Completed After Retry: %d\n", summary.RetriedCommands)
	}

	if summary.SuccessfulOps > 0 {
		b.WriteString("\nRTT Statistics (all commands):\n")
		fmt.Fprintf(&b, "  Min: %.3f ms\n", summary.MinRTT)
		fmt.Fprintf(&b, "  Max: %.3f ms\n", summary.MaxRTT)
		fmt.Fprintf(&b, "  Avg: %.3f ms\n", summary.AvgRTT)
		if summary.P50RTT > 0 || summary.P90RTT > 0 || summary.P95RTT > 0 || summary.P99RTT > 0 {
			fmt.Fprintf(&b, "  P50: %.3f ms\n", summary.P50RTT)
			fmt.Fprintf(&b, "  P90: %.3f ms\n", summary.P90RTT)
			fmt.Fprintf(&b, "  P95: %.3f ms\n", summary.P95RTT)
			fmt.Fprintf(&b, "  P99: %.3f ms\n", summary.P99RTT)
		}
		if len(summary.RTTBuckets) > 0 {
			fmt.Fprintf(&b, "  Buckets: <1ms=%d 1-5ms=%d 5-10ms=%d 10-50ms=%d 50-100ms=%d 100-500ms=%d >500ms=%d\n",
				summary.RTTBuckets["lt_1ms"],
				summary.RTTBuckets["1_5ms"],
				summary.RTTBuckets["5_10ms"],
				summary.RTTBuckets["10_50ms"],
				summary.RTTBuckets["50_100ms"],
				summary.RTTBuckets["100_500ms"],
				summary.RTTBuckets["gt_500ms"],
			)
		}
	}

	if len(summary.ByCommand) > 0 {
		b.WriteString("\nPer-Command Statistics:\n")
		names := make([]string, 0, len(summary.ByCommand))
		for name := range summary.ByCommand {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			stats := summary.ByCommand[name]
			fmt.Fprintf(&b, "  %s: %d (%d ok, %d failed)", name, stats.Count, stats.Success, stats.Failed)
			if stats.Success > 0 {
				fmt.Fprintf(&b, " - RTT: min=%.3fms, max=%.3fms, avg=%.3fms",
					stats.MinRTT, stats.MaxRTT, stats.AvgRTT)
			}
			b.WriteString("\n")
		}
	}

	if len(summary.ErrorsByCode) > 0 {
		b.WriteString("\nErrors By Code:\n")
		codes := make([]string, 0, len(summary.ErrorsByCode))
		for code := range summary.ErrorsByCode {
			codes = append(codes, code)
		}
		sort.Strings(codes)
		for _, code := range codes {
			fmt.Fprintf(&b, "  %s: %d\n", code, summary.ErrorsByCode[code])
		}
	}

	return b.String()
}
