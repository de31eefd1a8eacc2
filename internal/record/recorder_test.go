package record

import (
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/tonylturner/xcpmaster/internal/xcp/signal"
)

func sample(name string, addr uint32, v int64) signal.Sample {
	return signal.Sample{Name: name, Address: addr, Raw: uint64(v), Value: v, Timestamp: time.Now(), Source: signal.SourcePolling}
}

func TestRecorderLatestAndStats(t *testing.T) {
	r := NewRecorder(0)
	r.Add(sample("rpm", 0x10, 5))
	r.Add(sample("rpm", 0x10, -3))
	r.Add(sample("rpm", 0x10, 9))
	r.Add(sample("temp", 0x04, 40))

	latest, ok := r.Latest("rpm")
	if !ok || latest.Value != 9 {
		t.Fatalf("Latest(rpm) = %+v, %v", latest, ok)
	}
	if _, ok := r.Latest("missing"); ok {
		t.Error("Latest returned a value for an unknown signal")
	}

	snap := r.Snapshot()
	if len(snap) != 2 || snap[0].Name != "temp" || snap[1].Name != "rpm" {
		t.Fatalf("snapshot order = %+v", snap)
	}
	if rpm := snap[1]; rpm.Count != 3 || rpm.Min != -3 || rpm.Max != 9 {
		t.Errorf("rpm element = %+v", rpm)
	}
	if r.Total() != 4 {
		t.Errorf("Total = %d, want 4", r.Total())
	}
}

func TestRecorderHistoryIsBounded(t *testing.T) {
	tests := []struct {
		name  string
		cap   int
		added int
		first int64
	}{
		{"partial", 5, 3, 0},
		{"exact", 5, 5, 0},
		{"wrapped", 5, 12, 7},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRecorder(tt.cap)
			for i := 0; i < tt.added; i++ {
				r.Add(sample("x", 1, int64(i)))
			}
			h := r.History("x")
			want := tt.added
			if want > tt.cap {
				want = tt.cap
			}
			if len(h) != want {
				t.Fatalf("len(history) = %d, want %d", len(h), want)
			}
			if h[0].Value != tt.first || h[len(h)-1].Value != int64(tt.added-1) {
				t.Errorf("history spans %d..%d", h[0].Value, h[len(h)-1].Value)
			}
		})
	}
}

func TestDefaultHistoryCapacity(t *testing.T) {
	r := NewRecorder(0)
	for i := 0; i < DefaultHistory+10; i++ {
		r.Add(sample("x", 1, int64(i)))
	}
	if got := len(r.History("x")); got != DefaultHistory {
		t.Errorf("history length = %d, want %d", got, DefaultHistory)
	}
}

func TestRecorderConcurrentAdd(t *testing.T) {
	r := NewRecorder(10)
	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				r.Add(sample("s", uint32(g), int64(i)))
				_ = r.Snapshot()
			}
		}(g)
	}
	wg.Wait()
	if r.Total() != 400 {
		t.Errorf("Total = %d, want 400", r.Total())
	}
}

func TestWriterOutputs(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "samples.csv")
	jsonPath := filepath.Join(dir, "samples.json")

	w, err := NewWriter(csvPath, jsonPath)
	if err != nil {
		t.Fatalf("NewWriter failed: %v", err)
	}
	r := NewRecorder(0)
	r.SetWriter(w)
	r.Add(sample("rpm", 0x1000, 1200))
	daq := sample("torque", 0x1004, -7)
	daq.Source = signal.SourceDaq
	r.Add(daq)
	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := r.Err(); err != nil {
		t.Fatalf("writer error: %v", err)
	}

	f, err := os.Open(csvPath)
	if err != nil {
		t.Fatalf("open CSV: %v", err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read CSV: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("CSV rows = %d, want 3", len(rows))
	}
	if rows[1][1] != "rpm" || rows[1][2] != "0x00001000" || rows[1][5] != "1200" {
		t.Errorf("CSV row = %v", rows[1])
	}
	if rows[2][3] != "daq" || rows[2][5] != "-7" {
		t.Errorf("CSV row = %v", rows[2])
	}

	data, err := os.ReadFile(jsonPath)
	if err != nil {
		t.Fatalf("read JSON: %v", err)
	}
	var decoded []sampleJSON
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("JSON output invalid: %v\n%s", err, data)
	}
	if len(decoded) != 2 || decoded[1].Name != "torque" || decoded[1].Value != -7 {
		t.Errorf("decoded JSON = %+v", decoded)
	}
}

func TestWriterEmptyJSONIsValid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.json")
	w, err := NewWriter("", path)
	if err != nil {
		t.Fatalf("NewWriter failed: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	data, _ := os.ReadFile(path)
	var decoded []sampleJSON
	if err := json.Unmarshal(data, &decoded); err != nil || len(decoded) != 0 {
		t.Errorf("empty output = %q (%v)", data, err)
	}
}
