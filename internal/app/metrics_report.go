package app

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/tonylturner/xcpmaster/internal/metrics"
)

// MetricsReportOptions configures the metrics-report command.
type MetricsReportOptions struct {
	// Input is a metrics CSV or a directory of them.
	Input  string
	Stdout io.Writer
}

// RunMetricsReport summarizes per-command metrics written by record.
func RunMetricsReport(opts MetricsReportOptions) error {
	out := opts.Stdout
	if out == nil {
		out = os.Stdout
	}
	files, err := metricsFiles(opts.Input)
	if err != nil {
		return err
	}

	sink := metrics.NewSink()
	var first, last time.Time
	for _, path := range files {
		ms, f, l, err := metrics.ReadMetricsCSV(path)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		for _, m := range ms {
			sink.Record(m)
		}
		if !f.IsZero() && (first.IsZero() || f.Before(first)) {
			first = f
		}
		if l.After(last) {
			last = l
		}
	}

	fmt.Fprintf(out, "Metrics files: %d\n", len(files))
	if !first.IsZero() {
		fmt.Fprintf(out, "Span: %s to %s (%s)\n", first.Format(time.RFC3339), last.Format(time.RFC3339), last.Sub(first).Round(time.Millisecond))
	}
	fmt.Fprint(out, metrics.FormatSummary(sink.GetSummary()))
	return nil
}

func metricsFiles(path string) ([]string, error) {
	if path == "" {
		return nil, fmt.Errorf("--input is required")
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat input: %w", err)
	}
	if !info.IsDir() {
		return []string{path}, nil
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("read directory: %w", err)
	}
	var files []string
	for _, e := range entries {
		name := e.Name()
		if !e.IsDir() && strings.HasSuffix(name, ".csv") && strings.Contains(name, "metrics") {
			files = append(files, filepath.Join(path, name))
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no metrics CSV files in %s", path)
	}
	sort.Strings(files)
	return files, nil
}
