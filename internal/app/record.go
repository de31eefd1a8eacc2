package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tonylturner/xcpmaster/internal/artifact"
	"github.com/tonylturner/xcpmaster/internal/metrics"
	"github.com/tonylturner/xcpmaster/internal/pcap"
	"github.com/tonylturner/xcpmaster/internal/progress"
	"github.com/tonylturner/xcpmaster/internal/record"
)

// RecordOptions configures a recording run.
type RecordOptions struct {
	CommonOptions
	Duration    time.Duration // zero records until interrupted
	SamplesFile string
	MetricsFile string
	PCAPFile    string
	OutputDir   string
	NoProgress  bool
	// Stdout receives the run summary; nil means os.Stdout.
	Stdout io.Writer
}

// recordOutputs are the resolved artifact paths of a run.
type recordOutputs struct {
	samplesCSV  string
	samplesJSON string
	metricsCSV  string
	pcapFile    string
}

// splitSamplesPath picks the sample format from the file extension.
func splitSamplesPath(path string) (csvPath, jsonPath string) {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return "", path
	}
	return path, ""
}

// RunRecord connects, records until the duration elapses or the user
// interrupts, and writes the requested artifacts.
func RunRecord(opts RecordOptions) error {
	out := opts.Stdout
	if out == nil {
		out = os.Stdout
	}
	cfg, err := loadConfig(opts.CommonOptions)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg, opts.CommonOptions)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer logger.Close()

	outputs := recordOutputs{metricsCSV: cfg.Output.MetricsFile, pcapFile: cfg.Output.PCAPFile}
	outputs.samplesCSV, outputs.samplesJSON = splitSamplesPath(cfg.Output.SamplesFile)
	if opts.SamplesFile != "" {
		outputs.samplesCSV, outputs.samplesJSON = splitSamplesPath(opts.SamplesFile)
	}
	if opts.MetricsFile != "" {
		outputs.metricsCSV = opts.MetricsFile
	}
	if opts.PCAPFile != "" {
		outputs.pcapFile = opts.PCAPFile
	}

	outputDir := opts.OutputDir
	if outputDir == "" {
		outputDir = cfg.Output.Directory
	}
	var outputMgr *artifact.OutputManager
	if outputDir != "" {
		outputMgr, err = artifact.NewOutputManager(outputDir)
		if err != nil {
			return fmt.Errorf("create output manager: %w", err)
		}
		outputs.samplesCSV, outputs.samplesJSON = outputMgr.UseSamples()
		outputs.metricsCSV = outputMgr.UseMetrics()
		outputs.pcapFile = outputMgr.UsePCAP()
		outputMgr.SetTarget(cfg.Ethernet.SlaveIP, cfg.Ethernet.SlavePort)
		outputMgr.SetConfigFile(opts.ConfigPath)
		fmt.Fprintf(out, "Output directory: %s\n", outputDir)
	}

	rec := record.NewRecorder(record.DefaultHistory)
	if outputs.samplesCSV != "" || outputs.samplesJSON != "" {
		w, err := record.NewWriter(outputs.samplesCSV, outputs.samplesJSON)
		if err != nil {
			return err
		}
		defer w.Close()
		rec.SetWriter(w)
	}

	var traffic *pcap.TrafficWriter
	if outputs.pcapFile != "" {
		traffic, err = pcap.NewTrafficWriter(outputs.pcapFile)
		if err != nil {
			return err
		}
		defer traffic.Close()
	}

	sink := metrics.NewSink()
	h := hooks{OnSample: rec.Add, Metrics: sink}
	if traffic != nil {
		h.Tap = traffic
	}

	ctx, cancel := interruptContext(context.Background(), logger)
	defer cancel()

	live, err := startSession(ctx, cfg, logger, h)
	if err != nil {
		return err
	}
	defer live.close()

	logger.LogStartup("record", cfg.SlaveAddress(), cfg.XCP.TimeoutMs, len(live.signals), opts.ConfigPath)
	fmt.Fprintf(out, "xcpmaster recording from %s\n", cfg.SlaveAddress())
	fmt.Fprintf(out, "  Signals: %d\n", len(live.signals))
	if opts.Duration > 0 {
		fmt.Fprintf(out, "  Duration: %s\n", opts.Duration)
	}
	fmt.Fprintf(out, "  Press Ctrl+C to stop\n\n")

	if err := live.connect(ctx); err != nil {
		return err
	}
	if outputMgr != nil {
		outputMgr.SetSlave(live.sess.SlaveConfig())
	}
	if err := live.sess.StartRecording(ctx); err != nil {
		return fmt.Errorf("start recording: %w", err)
	}

	start := time.Now()
	runErr := waitRecording(ctx, opts, rec)
	elapsed := time.Since(start)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
	if err := live.sess.StopRecording(stopCtx); err != nil {
		logger.Debug("stop recording: %v", err)
	}
	stopCancel()
	live.close()

	if err := rec.Err(); err != nil && runErr == nil {
		runErr = fmt.Errorf("write samples: %w", err)
	}
	if traffic != nil {
		if err := traffic.Err(); err != nil {
			logger.Error("Failed to write pcap: %v", err)
		}
	}

	summary := sink.GetSummary()
	if outputs.metricsCSV != "" {
		if err := writeMetrics(outputs.metricsCSV, sink); err != nil {
			logger.Error("Failed to write metrics: %v", err)
		}
	}

	stats := live.sess.Stats()
	fmt.Fprintf(out, "Recorded %d samples in %.1fs (%.1f/s), %d commands, %d timeouts\n",
		rec.Total(), elapsed.Seconds(), rec.Rate(), stats.Sent, stats.Timeouts)
	if opts.Verbose || opts.Debug {
		fmt.Fprintf(out, "\n%s", metrics.FormatSummary(summary))
	}

	if outputMgr != nil {
		exitCode := 0
		if runErr != nil {
			exitCode = 1
		}
		if err := outputMgr.Finalize(summary, stats, rec.Snapshot(), exitCode, runErr); err != nil {
			logger.Error("Failed to finalize artifacts: %v", err)
		} else {
			fmt.Fprintf(out, "Artifacts written to: %s\n", outputMgr.OutputDir())
		}
	}
	return runErr
}

// waitRecording blocks until the duration elapses or ctx ends, showing
// progress on stderr.
func waitRecording(ctx context.Context, opts RecordOptions, rec *record.Recorder) error {
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	if opts.Duration <= 0 {
		counter := progress.NewCounter("Recording", "samples", time.Second)
		if opts.NoProgress {
			counter.Disable()
		}
		defer counter.Finish()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				counter.Update(rec.Total(), fmt.Sprintf("%.1f/s", rec.Rate()))
			}
		}
	}

	bar := progress.NewBar(int64(opts.Duration.Seconds()), "Recording", "s")
	if opts.NoProgress {
		bar.Disable()
	}
	start := time.Now()
	timer := time.NewTimer(opts.Duration)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			bar.Finish()
			return nil
		case <-timer.C:
			bar.Finish()
			return nil
		case <-ticker.C:
			bar.SetNote(fmt.Sprintf("%d samples", rec.Total()))
			bar.Set(int64(time.Since(start).Seconds()))
		}
	}
}

func writeMetrics(path string, sink *metrics.Sink) error {
	w, err := metrics.NewWriter(path, "")
	if err != nil {
		return err
	}
	for _, m := range sink.GetMetrics() {
		if err := w.WriteMetric(m); err != nil {
			w.Close()
			return err
		}
	}
	return w.Close()
}
