// Package artifact lays out the output directory of a recording run.
package artifact

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/tonylturner/xcpmaster/internal/metrics"
	"github.com/tonylturner/xcpmaster/internal/record"
	"github.com/tonylturner/xcpmaster/internal/xcp/session"
)

// RunMetadata is written to run.json when a run finishes.
type RunMetadata struct {
	RunID     string    `json:"run_id"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	Duration  string    `json:"duration"`

	ConfigFile string `json:"config_file,omitempty"`
	SlaveIP    string `json:"slave_ip"`
	SlavePort  int    `json:"slave_port"`

	Slave   SlaveInfo       `json:"slave"`
	Stats   RunStats        `json:"stats"`
	Signals []SignalSummary `json:"signals"`

	ExitCode int    `json:"exit_code"`
	Error    string `json:"error,omitempty"`

	// Paths are relative to the output directory.
	Artifacts ArtifactPaths `json:"artifacts"`
}

// SlaveInfo is what the slave reported on CONNECT.
type SlaveInfo struct {
	Resources string `json:"resources"`
	ByteOrder string `json:"byte_order"`
	MaxCTO    int    `json:"max_cto"`
	MaxDTO    int    `json:"max_dto"`
}

// RunStats are the session counters and command round-trip times.
type RunStats struct {
	CommandsSent      uint64  `json:"commands_sent"`
	Responses         uint64  `json:"responses"`
	NegativeResponses uint64  `json:"negative_responses"`
	Timeouts          uint64  `json:"timeouts"`
	Retries           uint64  `json:"retries"`
	Dropped           uint64  `json:"dropped"`
	DaqPackets        uint64  `json:"daq_packets"`
	Samples           uint64  `json:"samples"`
	AvgRTTMs          float64 `json:"avg_rtt_ms"`
	P50RTTMs          float64 `json:"p50_rtt_ms"`
	P95RTTMs          float64 `json:"p95_rtt_ms"`
	P99RTTMs          float64 `json:"p99_rtt_ms"`
	MaxRTTMs          float64 `json:"max_rtt_ms"`
}

// SignalSummary is the recorded range of one signal.
type SignalSummary struct {
	Name    string `json:"name"`
	Address string `json:"address"`
	Count   uint64 `json:"count"`
	Latest  int64  `json:"latest"`
	Min     int64  `json:"min"`
	Max     int64  `json:"max"`
}

// ArtifactPaths lists the files produced by the run.
type ArtifactPaths struct {
	RunJSON     string `json:"run_json"`
	MetricsCSV  string `json:"metrics_csv,omitempty"`
	SamplesCSV  string `json:"samples_csv,omitempty"`
	SamplesJSON string `json:"samples_json,omitempty"`
	SummaryTxt  string `json:"summary_txt,omitempty"`
	PCAPFile    string `json:"pcap_file,omitempty"`
}

// OutputManager owns one run directory.
type OutputManager struct {
	outputDir string
	runID     string
	metadata  *RunMetadata
}

// NewOutputManager creates outputDir and starts the run clock.
func NewOutputManager(outputDir string) (*OutputManager, error) {
	now := time.Now()
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}
	runID := now.Format("20060102-150405")
	return &OutputManager{
		outputDir: outputDir,
		runID:     runID,
		metadata: &RunMetadata{
			RunID:     runID,
			StartTime: now,
			Artifacts: ArtifactPaths{RunJSON: "run.json"},
		},
	}, nil
}

// OutputDir returns the run directory.
func (m *OutputManager) OutputDir() string {
	return m.outputDir
}

// RunID returns the run identifier.
func (m *OutputManager) RunID() string {
	return m.runID
}

// Metadata returns the metadata collected so far.
func (m *OutputManager) Metadata() RunMetadata {
	return *m.metadata
}

// SetTarget records the slave endpoint.
func (m *OutputManager) SetTarget(ip string, port int) {
	m.metadata.SlaveIP = ip
	m.metadata.SlavePort = port
}

// SetConfigFile records the configuration the run was started from.
func (m *OutputManager) SetConfigFile(path string) {
	m.metadata.ConfigFile = path
}

// SetSlave records the CONNECT result.
func (m *OutputManager) SetSlave(c session.SlaveConfig) {
	order := "little-endian"
	if c.CommMode.BigEndian() {
		order = "big-endian"
	}
	m.metadata.Slave = SlaveInfo{
		Resources: c.Resources.String(),
		ByteOrder: order,
		MaxCTO:    c.MaxCTO,
		MaxDTO:    c.MaxDTO,
	}
}

// MetricsPath returns the per-command metrics CSV path.
func (m *OutputManager) MetricsPath() string {
	return filepath.Join(m.outputDir, fmt.Sprintf("metrics_%s.csv", m.runID))
}

// SamplesCSVPath returns the sample stream CSV path.
func (m *OutputManager) SamplesCSVPath() string {
	return filepath.Join(m.outputDir, fmt.Sprintf("samples_%s.csv", m.runID))
}

// SamplesJSONPath returns the sample stream JSON path.
func (m *OutputManager) SamplesJSONPath() string {
	return filepath.Join(m.outputDir, fmt.Sprintf("samples_%s.json", m.runID))
}

// PCAPPath returns the traffic capture path.
func (m *OutputManager) PCAPPath() string {
	return filepath.Join(m.outputDir, fmt.Sprintf("traffic_%s.pcap", m.runID))
}

// SummaryPath returns the text summary path.
func (m *OutputManager) SummaryPath() string {
	return filepath.Join(m.outputDir, fmt.Sprintf("summary_%s.txt", m.runID))
}

// RunJSONPath returns the run.json path.
func (m *OutputManager) RunJSONPath() string {
	return filepath.Join(m.outputDir, "run.json")
}

// UseMetrics marks the metrics CSV as produced.
func (m *OutputManager) UseMetrics() string {
	m.metadata.Artifacts.MetricsCSV = filepath.Base(m.MetricsPath())
	return m.MetricsPath()
}

// UseSamples marks both sample files as produced.
func (m *OutputManager) UseSamples() (csvPath, jsonPath string) {
	m.metadata.Artifacts.SamplesCSV = filepath.Base(m.SamplesCSVPath())
	m.metadata.Artifacts.SamplesJSON = filepath.Base(m.SamplesJSONPath())
	return m.SamplesCSVPath(), m.SamplesJSONPath()
}

// UsePCAP marks the capture as produced.
func (m *OutputManager) UsePCAP() string {
	m.metadata.Artifacts.PCAPFile = filepath.Base(m.PCAPPath())
	return m.PCAPPath()
}

// Finalize fills in the results and writes the summary and run.json.
func (m *OutputManager) Finalize(summary *metrics.Summary, stats session.Stats, elements []record.Element, exitCode int, runErr error) error {
	m.metadata.EndTime = time.Now()
	m.metadata.Duration = m.metadata.EndTime.Sub(m.metadata.StartTime).Round(time.Millisecond).String()
	m.metadata.ExitCode = exitCode
	if runErr != nil {
		m.metadata.Error = runErr.Error()
	}

	m.metadata.Stats = RunStats{
		CommandsSent:      stats.Sent,
		Responses:         stats.Responses,
		NegativeResponses: stats.NegativeResponse,
		Timeouts:          stats.Timeouts,
		Retries:           stats.Retries,
		Dropped:           stats.Dropped,
		DaqPackets:        stats.DaqPackets,
		Samples:           stats.Samples,
	}
	if summary != nil {
		m.metadata.Stats.AvgRTTMs = summary.AvgRTT
		m.metadata.Stats.P50RTTMs = summary.P50RTT
		m.metadata.Stats.P95RTTMs = summary.P95RTT
		m.metadata.Stats.P99RTTMs = summary.P99RTT
		m.metadata.Stats.MaxRTTMs = summary.MaxRTT
	}

	m.metadata.Signals = make([]SignalSummary, 0, len(elements))
	for _, e := range elements {
		m.metadata.Signals = append(m.metadata.Signals, SignalSummary{
			Name:    e.Name,
			Address: fmt.Sprintf("0x%08X", e.Address),
			Count:   e.Count,
			Latest:  e.Latest.Value,
			Min:     e.Min,
			Max:     e.Max,
		})
	}

	m.metadata.Artifacts.SummaryTxt = filepath.Base(m.SummaryPath())
	if err := m.writeSummary(summary); err != nil {
		return fmt.Errorf("write summary: %w", err)
	}
	if err := m.writeRunJSON(); err != nil {
		return fmt.Errorf("write run.json: %w", err)
	}
	return nil
}

func (m *OutputManager) writeSummary(summary *metrics.Summary) error {
	f, err := os.Create(m.SummaryPath())
	if err != nil {
		return err
	}
	defer f.Close()

	md := m.metadata
	fmt.Fprintf(f, "XCP Recording Summary\n")
	fmt.Fprintf(f, "=====================\n\n")
	fmt.Fprintf(f, "Run ID:     %s\n", md.RunID)
	fmt.Fprintf(f, "Start Time: %s\n", md.StartTime.Format(time.RFC3339))
	fmt.Fprintf(f, "End Time:   %s\n", md.EndTime.Format(time.RFC3339))
	fmt.Fprintf(f, "Duration:   %s\n\n", md.Duration)
	fmt.Fprintf(f, "Slave: %s:%d", md.SlaveIP, md.SlavePort)
	if md.Slave.MaxCTO > 0 {
		fmt.Fprintf(f, " (%s, MAX_CTO %d, MAX_DTO %d, %s)", md.Slave.ByteOrder, md.Slave.MaxCTO, md.Slave.MaxDTO, md.Slave.Resources)
	}
	fmt.Fprintf(f, "\n\n")

	st := md.Stats
	fmt.Fprintf(f, "Session\n")
	fmt.Fprintf(f, "-------\n")
	fmt.Fprintf(f, "Commands sent:      %d\n", st.CommandsSent)
	fmt.Fprintf(f, "Responses:          %d\n", st.Responses)
	fmt.Fprintf(f, "Negative responses: %d\n", st.NegativeResponses)
	fmt.Fprintf(f, "Timeouts:           %d (retries %d, dropped %d)\n", st.Timeouts, st.Retries, st.Dropped)
	fmt.Fprintf(f, "DAQ packets:        %d\n", st.DaqPackets)
	fmt.Fprintf(f, "Samples:            %d\n\n", st.Samples)

	if len(md.Signals) > 0 {
		fmt.Fprintf(f, "Signals\n")
		fmt.Fprintf(f, "-------\n")
		for _, s := range md.Signals {
			fmt.Fprintf(f, "%-20s %s  n=%-8d last=%-12d min=%-12d max=%d\n", s.Name, s.Address, s.Count, s.Latest, s.Min, s.Max)
		}
		fmt.Fprintf(f, "\n")
	}

	if summary != nil {
		fmt.Fprintf(f, "%s\n", metrics.FormatSummary(summary))
	}
	if md.Error != "" {
		fmt.Fprintf(f, "Error: %s\n\n", md.Error)
	}

	fmt.Fprintf(f, "Artifacts\n")
	fmt.Fprintf(f, "---------\n")
	for _, a := range []struct{ label, path string }{
		{"Metrics", md.Artifacts.MetricsCSV},
		{"Samples CSV", md.Artifacts.SamplesCSV},
		{"Samples JSON", md.Artifacts.SamplesJSON},
		{"PCAP", md.Artifacts.PCAPFile},
		{"Summary", md.Artifacts.SummaryTxt},
		{"Run JSON", md.Artifacts.RunJSON},
	} {
		if a.path != "" {
			fmt.Fprintf(f, "%-13s %s\n", a.label+":", a.path)
		}
	}
	return nil
}

func (m *OutputManager) writeRunJSON() error {
	data, err := json.MarshalIndent(m.metadata, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(m.RunJSONPath(), data, 0644)
}

// LoadRunMetadata reads a run.json file.
func LoadRunMetadata(path string) (*RunMetadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var md RunMetadata
	if err := json.Unmarshal(data, &md); err != nil {
		return nil, fmt.Errorf("parse run.json: %w", err)
	}
	return &md, nil
}
