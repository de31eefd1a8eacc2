package app

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/tonylturner/xcpmaster/internal/config"
	"github.com/tonylturner/xcpmaster/internal/logging"
	"github.com/tonylturner/xcpmaster/internal/xcp/signal"
	"github.com/tonylturner/xcpmaster/internal/xcp/slave"
)

// SimulateOptions configures the simulate command.
type SimulateOptions struct {
	// ConfigPath supplies events and signals to seed. A missing file falls
	// back to the default config.
	ConfigPath string
	Listen     string
	DropEvery  int
	BigEndian  bool
	LogFile    string
	Verbose    bool
	Debug      bool
	Stdout     io.Writer

	// Ready is called with the bound address once the slave is serving.
	Ready func(addr string)
}

// RunSimulate serves an emulated slave until interrupted.
func RunSimulate(opts SimulateOptions) error {
	logger, err := simulatorLogger(opts)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer logger.Close()
	ctx, cancel := interruptContext(context.Background(), logger)
	defer cancel()
	return Simulate(ctx, opts, logger)
}

// Simulate serves an emulated slave until ctx is cancelled and prints its
// traffic counters.
func Simulate(ctx context.Context, opts SimulateOptions, logger *logging.Logger) error {
	out := opts.Stdout
	if out == nil {
		out = os.Stdout
	}
	if logger == nil {
		logger = logging.Discard()
	}
	cfg, err := simulatorConfig(opts.ConfigPath)
	if err != nil {
		return err
	}
	signals, err := cfg.Signals()
	if err != nil {
		return err
	}

	listen := opts.Listen
	if listen == "" {
		listen = cfg.SlaveAddress()
	}
	var order, values binary.ByteOrder = binary.LittleEndian, nil
	if opts.BigEndian {
		order = binary.BigEndian
	}
	if cfg.XCP.SlaveOrderValues {
		values = order
	}

	s := slave.New(slave.Config{
		ListenAddr: listen,
		Order:      order,
		ValueOrder: values,
		Events:     cfg.EventRates(),
		DropEveryN: opts.DropEvery,
	}, logger)
	seedSignals(s, signals)
	if err := s.Start(); err != nil {
		return err
	}

	addr := s.Addr().String()
	fmt.Fprintf(out, "XCP slave simulator listening on %s (%d signals, drop every %d)\n", addr, len(signals), opts.DropEvery)
	if opts.Ready != nil {
		opts.Ready(addr)
	}

	<-ctx.Done()
	if err := s.Stop(); err != nil {
		return err
	}
	st := s.Stats()
	fmt.Fprintf(out, "Simulator stopped: %d commands, %d responses, %d dropped, %d DAQ packets, %d malformed\n",
		st.Commands, st.Responses, st.Dropped, st.DaqPackets, st.Malformed)
	return nil
}

func simulatorLogger(opts SimulateOptions) (*logging.Logger, error) {
	level := logging.LogLevelInfo
	if opts.Debug {
		level = logging.LogLevelDebug
	} else if opts.Verbose {
		level = logging.LogLevelVerbose
	}
	return logging.NewLogger(level, opts.LogFile)
}

func simulatorConfig(path string) (*config.Config, error) {
	if path == "" {
		path = config.DefaultPath
	}
	cfg, err := config.LoadConfig(path, false)
	if err == nil {
		return cfg, nil
	}
	if _, statErr := os.Stat(path); errors.Is(statErr, os.ErrNotExist) {
		return config.CreateDefaultConfig(), nil
	}
	return nil, err
}

// seedSignals gives every signal a distinct starting value and makes the
// event-triggered ones count up per DAQ cycle.
func seedSignals(s *slave.Slave, signals []signal.Signal) {
	for i, sig := range signals {
		_ = s.Memory().SetValue(sig.Address, uint64(100*(i+1)), sig.Size)
		if sig.Trigger == signal.TriggerEvent {
			s.Animate(sig.Address, sig.Size)
		}
	}
}
