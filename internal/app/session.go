package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	ossignal "os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/tonylturner/xcpmaster/internal/config"
	xcperrors "github.com/tonylturner/xcpmaster/internal/errors"
	"github.com/tonylturner/xcpmaster/internal/logging"
	"github.com/tonylturner/xcpmaster/internal/metrics"
	"github.com/tonylturner/xcpmaster/internal/xcp/session"
	"github.com/tonylturner/xcpmaster/internal/xcp/signal"
	"github.com/tonylturner/xcpmaster/internal/xcp/transport"
)

const noticeBuffer = 256

// CommonOptions are the flags shared by every command that talks to a slave.
type CommonOptions struct {
	ConfigPath string
	QuickStart bool
	// IP and Port override the ethernet section when set.
	IP      string
	Port    int
	LogFile string
	Verbose bool
	Debug   bool
}

func loadConfig(opts CommonOptions) (*config.Config, error) {
	path := opts.ConfigPath
	if path == "" {
		path = config.DefaultPath
	}
	cfg, err := config.LoadConfig(path, opts.QuickStart)
	if err != nil {
		return nil, err
	}
	if opts.IP != "" {
		cfg.Ethernet.SlaveIP = opts.IP
	}
	if opts.Port != 0 {
		cfg.Ethernet.SlavePort = opts.Port
	}
	if err := config.ValidateConfig(cfg); err != nil {
		return nil, xcperrors.WrapConfigError(err, path)
	}
	return cfg, nil
}

// newLogger honors --verbose/--debug over the configured level.
func newLogger(cfg *config.Config, opts CommonOptions) (*logging.Logger, error) {
	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	if opts.Debug {
		level = logging.LogLevelDebug
	} else if opts.Verbose && level < logging.LogLevelVerbose {
		level = logging.LogLevelVerbose
	}
	file := cfg.Logging.File
	if opts.LogFile != "" {
		file = opts.LogFile
	}
	return logging.NewLoggerWithOptions(level, file, cfg.Logging.Format, 1)
}

// interruptContext is cancelled on SIGINT or SIGTERM.
func interruptContext(parent context.Context, logger *logging.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	sigChan := make(chan os.Signal, 1)
	ossignal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		defer ossignal.Stop(sigChan)
		select {
		case <-sigChan:
			logger.Info("Received interrupt signal, shutting down gracefully...")
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// hooks are the optional observers wired into a live session.
type hooks struct {
	OnSample func(signal.Sample)
	Tap      transport.Tap
	Metrics  *metrics.Sink
}

// liveSession is a session running on its own goroutine.
type liveSession struct {
	cfg     *config.Config
	logger  *logging.Logger
	signals []signal.Signal
	sess    *session.Session
	notices chan session.Notice
	samples chan signal.Sample
	cancel  context.CancelFunc
	done    chan error
	closed  sync.Once
}

func startSession(ctx context.Context, cfg *config.Config, logger *logging.Logger, h hooks) (*liveSession, error) {
	signals, err := cfg.Signals()
	if err != nil {
		return nil, err
	}

	l := &liveSession{
		cfg:     cfg,
		logger:  logger,
		signals: signals,
		notices: make(chan session.Notice, noticeBuffer),
		samples: make(chan signal.Sample, noticeBuffer),
		done:    make(chan error, 1),
	}

	tcfg := cfg.TransportConfig()
	tcfg.Tap = h.Tap
	sess, err := session.New(session.Options{
		Transport:        transport.NewUDPTransport(tcfg),
		Address:          cfg.SlaveAddress(),
		Order:            cfg.ByteOrder(),
		Timeout:          cfg.Timeout(),
		Tick:             cfg.Tick(),
		QueueCapacity:    cfg.XCP.QueueCapacity,
		MaxCTO:           cfg.XCP.MaxCTO,
		Retry:            session.RetryPolicy{MaxRetries: cfg.XCP.MaxRetries},
		DaqHoldsCommand:  cfg.XCP.DaqHoldsCommand,
		SlaveOrderValues: cfg.XCP.SlaveOrderValues,
		Signals:          signals,
		Logger:           logger,
		Metrics:          h.Metrics,
		OnSample: func(s signal.Sample) {
			if h.OnSample != nil {
				h.OnSample(s)
			}
			select {
			case l.samples <- s:
			default:
			}
		},
		OnNotice: func(n session.Notice) {
			select {
			case l.notices <- n:
			default:
			}
		},
	})
	if err != nil {
		return nil, err
	}
	l.sess = sess

	runCtx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	go func() { l.done <- sess.Run(runCtx) }()
	return l, nil
}

// connectTimeout bounds how long a command waits for CONNECT to succeed.
func (l *liveSession) connectTimeout() time.Duration {
	t := 3 * l.cfg.Timeout()
	if t < 5*time.Second {
		t = 5 * time.Second
	}
	return t
}

// connect opens the session and waits for the slave to answer CONNECT.
func (l *liveSession) connect(ctx context.Context) error {
	eth := l.cfg.Ethernet
	if err := l.sess.Connect(ctx); err != nil {
		return xcperrors.WrapNetworkError(err, eth.SlaveIP, eth.SlavePort)
	}
	waitCtx, cancel := context.WithTimeout(ctx, l.connectTimeout())
	defer cancel()
	st, err := l.sess.WaitFor(waitCtx, session.StateConnected, session.StateError)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("no CONNECT response within %s", l.connectTimeout())
		}
		return xcperrors.WrapNetworkError(err, eth.SlaveIP, eth.SlavePort)
	}
	if st == session.StateError {
		return xcperrors.WrapNetworkError(errors.New("session entered error state"), eth.SlaveIP, eth.SlavePort)
	}
	c := l.sess.SlaveConfig()
	l.logger.Verbose("Connected to %s (MAX_CTO %d, MAX_DTO %d, %s)", l.cfg.SlaveAddress(), c.MaxCTO, c.MaxDTO, c.Resources)
	return nil
}

// close disconnects and stops the session goroutine. It is idempotent.
func (l *liveSession) close() {
	l.closed.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := l.sess.Disconnect(ctx); err != nil && !errors.Is(err, session.ErrClosed) {
			l.logger.Debug("disconnect: %v", err)
		}
		l.cancel()
		<-l.done
	})
}

// waitNotice returns the first notice accepted by match.
func (l *liveSession) waitNotice(ctx context.Context, match func(session.Notice) bool) (session.Notice, error) {
	for {
		select {
		case n := <-l.notices:
			if match(n) {
				return n, nil
			}
		case <-ctx.Done():
			return session.Notice{}, ctx.Err()
		}
	}
}

// waitResult waits for a sample or a failure notice related to an
// operation the caller just queued.
func (l *liveSession) waitResult(ctx context.Context, sample func(signal.Sample) bool, notice func(session.Notice) bool) (signal.Sample, *session.Notice, error) {
	for {
		select {
		case s := <-l.samples:
			if sample != nil && sample(s) {
				return s, nil, nil
			}
		case n := <-l.notices:
			if notice != nil && notice(n) {
				return signal.Sample{}, &n, nil
			}
		case <-ctx.Done():
			return signal.Sample{}, nil, ctx.Err()
		}
	}
}

func isFailure(n session.Notice) bool {
	switch n.Kind {
	case session.NoticeProtocolError, session.NoticeDropped, session.NoticeQueueFull,
		session.NoticeInvalidResponse, session.NoticeTransportError:
		return true
	}
	return false
}
