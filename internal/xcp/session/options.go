package session

import (
	"encoding/binary"
	"time"

	"github.com/tonylturner/xcpmaster/internal/logging"
	"github.com/tonylturner/xcpmaster/internal/metrics"
	"github.com/tonylturner/xcpmaster/internal/xcp/protocol"
	"github.com/tonylturner/xcpmaster/internal/xcp/queue"
	"github.com/tonylturner/xcpmaster/internal/xcp/signal"
	"github.com/tonylturner/xcpmaster/internal/xcp/transport"
)

// Defaults used when Options leaves a field zero.
const (
	DefaultTimeout = 500 * time.Millisecond
	DefaultTick    = 10 * time.Millisecond
)

// RetryPolicy bounds how often a timed-out command is requeued.
type RetryPolicy struct {
	// MaxRetries is the number of requeues allowed per command. Zero means
	// the command is requeued after every timeout without limit.
	MaxRetries int
}

// Unbounded reports whether timeouts requeue forever.
func (p RetryPolicy) Unbounded() bool {
	return p.MaxRetries <= 0
}

// allows reports whether a command may be requeued for the given attempt.
func (p RetryPolicy) allows(attempt int) bool {
	return p.Unbounded() || attempt <= p.MaxRetries
}

// Options configures a Session.
type Options struct {
	Transport transport.Transport
	Address   string // slave host:port

	// Order is the host byte order used until CONNECT reports the slave's.
	Order         binary.ByteOrder
	Timeout       time.Duration
	Tick          time.Duration
	QueueCapacity int
	MaxCTO        int
	Retry         RetryPolicy

	// DaqHoldsCommand keeps the command in flight when DAQ data arrives, so
	// only RES and ERR packets complete it. By default any DAQ packet does.
	DaqHoldsCommand bool

	// SlaveOrderValues reads and writes memory values in the byte order
	// CONNECT reports instead of little endian.
	SlaveOrderValues bool

	Signals []signal.Signal

	Logger  *logging.Logger
	Metrics *metrics.Sink

	// OnSample and OnNotice run on the session goroutine and must not block.
	OnSample func(signal.Sample)
	OnNotice func(Notice)
}

func (o *Options) applyDefaults() {
	if o.Order == nil {
		o.Order = binary.LittleEndian
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.Tick <= 0 {
		o.Tick = DefaultTick
	}
	if o.QueueCapacity <= 0 {
		o.QueueCapacity = queue.DefaultCapacity
	}
	if o.MaxCTO < protocol.MinCTO {
		o.MaxCTO = protocol.MinCTO
	}
	if o.Logger == nil {
		o.Logger = logging.Discard()
	}
}
