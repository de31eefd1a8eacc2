package record

// Sample output (CSV/JSON)

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/tonylturner/xcpmaster/internal/xcp/signal"
)

// sampleJSON is the on-disk form of a sample.
type sampleJSON struct {
	Timestamp time.Time `json:"timestamp"`
	Name      string    `json:"name"`
	Address   string    `json:"address"`
	Source    string    `json:"source"`
	Raw       uint64    `json:"raw"`
	Value     int64     `json:"value"`
}

// Writer streams samples to CSV and/or JSON files.
type Writer struct {
	csvFile   *os.File
	csvWriter *csv.Writer
	jsonFile  *os.File
	jsonCount int
}

// NewWriter opens the requested outputs. An empty path disables that format.
func NewWriter(csvPath, jsonPath string) (*Writer, error) {
	w := &Writer{}

	if csvPath != "" {
		file, err := os.Create(csvPath)
		if err != nil {
			return nil, fmt.Errorf("create samples CSV: %w", err)
		}
		w.csvFile = file
		w.csvWriter = csv.NewWriter(file)
		header := []string{"timestamp", "name", "address", "source", "raw", "value"}
		if err := w.csvWriter.Write(header); err != nil {
			file.Close()
			return nil, fmt.Errorf("write CSV header: %w", err)
		}
		w.csvWriter.Flush()
	}

	if jsonPath != "" {
		file, err := os.Create(jsonPath)
		if err != nil {
			w.closeCSV()
			return nil, fmt.Errorf("create samples JSON: %w", err)
		}
		if _, err := file.WriteString("[\n"); err != nil {
			file.Close()
			w.closeCSV()
			return nil, fmt.Errorf("write JSON start: %w", err)
		}
		w.jsonFile = file
	}

	return w, nil
}

// WriteSample appends one sample to every open output.
func (w *Writer) WriteSample(s signal.Sample) error {
	addr := fmt.Sprintf("0x%08X", s.Address)

	if w.csvWriter != nil {
		row := []string{
			s.Timestamp.Format(time.RFC3339Nano),
			s.Name,
			addr,
			s.Source.String(),
			strconv.FormatUint(s.Raw, 10),
			strconv.FormatInt(s.Value, 10),
		}
		if err := w.csvWriter.Write(row); err != nil {
			return fmt.Errorf("write CSV record: %w", err)
		}
		w.csvWriter.Flush()
	}

	if w.jsonFile != nil {
		data, err := json.Marshal(sampleJSON{
			Timestamp: s.Timestamp,
			Name:      s.Name,
			Address:   addr,
			Source:    s.Source.String(),
			Raw:       s.Raw,
			Value:     s.Value,
		})
		if err != nil {
			return fmt.Errorf("marshal JSON: %w", err)
		}
		if w.jsonCount > 0 {
			if _, err := w.jsonFile.WriteString(",\n"); err != nil {
				return fmt.Errorf("write JSON comma: %w", err)
			}
		}
		w.jsonCount++
		var buf bytes.Buffer
		if err := json.Indent(&buf, data, "  ", "  "); err != nil {
			return fmt.Errorf("indent JSON: %w", err)
		}
		if _, err := w.jsonFile.Write(append([]byte("  "), buf.Bytes()...)); err != nil {
			return fmt.Errorf("write JSON: %w", err)
		}
	}
	return nil
}

func (w *Writer) closeCSV() {
	if w.csvFile != nil {
		w.csvFile.Close()
	}
}

// Close flushes and closes the outputs.
func (w *Writer) Close() error {
	var errs []error
	if w.csvWriter != nil {
		w.csvWriter.Flush()
		if err := w.csvWriter.Error(); err != nil {
			errs = append(errs, err)
		}
	}
	if w.csvFile != nil {
		if err := w.csvFile.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if w.jsonFile != nil {
		if _, err := w.jsonFile.WriteString("\n]\n"); err != nil {
			errs = append(errs, err)
		}
		if err := w.jsonFile.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("close sample writer: %v", errs)
	}
	return nil
}
