package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/looplab/fsm"
	"go.uber.org/atomic"

	"github.com/tonylturner/xcpmaster/internal/logging"
	"github.com/tonylturner/xcpmaster/internal/metrics"
	"github.com/tonylturner/xcpmaster/internal/xcp/daq"
	"github.com/tonylturner/xcpmaster/internal/xcp/polling"
	"github.com/tonylturner/xcpmaster/internal/xcp/protocol"
	"github.com/tonylturner/xcpmaster/internal/xcp/queue"
	"github.com/tonylturner/xcpmaster/internal/xcp/signal"
	"github.com/tonylturner/xcpmaster/internal/xcp/transport"
)

// readPoll bounds each blocking Receive so the reader notices shutdown.
const readPoll = 100 * time.Millisecond

var errResponseTimeout = errors.New("response timeout")

type received struct {
	frames []transport.Frame
	err    error
}

type counters struct {
	sent        *atomic.Uint64
	responses   *atomic.Uint64
	negative    *atomic.Uint64
	timeouts    *atomic.Uint64
	retries     *atomic.Uint64
	dropped     *atomic.Uint64
	invalid     *atomic.Uint64
	sendFailed  *atomic.Uint64
	malformed   *atomic.Uint64
	daqPackets  *atomic.Uint64
	samples     *atomic.Uint64
	unsolicited *atomic.Uint64
}

func newCounters() counters {
	return counters{
		sent:        atomic.NewUint64(0),
		responses:   atomic.NewUint64(0),
		negative:    atomic.NewUint64(0),
		timeouts:    atomic.NewUint64(0),
		retries:     atomic.NewUint64(0),
		dropped:     atomic.NewUint64(0),
		invalid:     atomic.NewUint64(0),
		sendFailed:  atomic.NewUint64(0),
		malformed:   atomic.NewUint64(0),
		daqPackets:  atomic.NewUint64(0),
		samples:     atomic.NewUint64(0),
		unsolicited: atomic.NewUint64(0),
	}
}

// engine is the state owned by the session goroutine. Only Run and the
// functions it dispatches touch it; the queue, the sendable flag and the
// counters are also read from other goroutines.
type engine struct {
	owner   *Session
	opts    Options
	log     *logging.Logger
	tr      transport.Transport
	queue   *queue.Queue
	builder *protocol.Builder
	machine *fsm.FSM
	signals *signal.Set

	daq    *daq.Table
	poller *polling.Scheduler
	slave  SlaveConfig

	inFlight    protocol.CommandPayload
	sentAt      time.Time
	sendable    *atomic.Bool
	timer       *time.Timer
	initialPoll bool

	recvC      chan received
	readerStop chan struct{}
	readerDone chan struct{}

	ctx   context.Context
	stats counters
}

func newEngine(owner *Session, opts Options, set *signal.Set) *engine {
	e := &engine{
		owner:    owner,
		opts:     opts,
		log:      opts.Logger,
		tr:       opts.Transport,
		queue:    queue.New(opts.QueueCapacity),
		builder:  protocol.NewBuilder(opts.Order, opts.MaxCTO),
		signals:  set,
		sendable: atomic.NewBool(true),
		recvC:    make(chan received),
		ctx:      context.Background(),
		stats:    newCounters(),
	}
	e.machine = newStateMachine(e.onEnter)
	return e
}

func (e *engine) state() State {
	return State(e.machine.Current())
}

func (e *engine) fire(event, reason string) error {
	return fire(e.ctx, e.machine, event, reason)
}

func (e *engine) onEnter(from, to State, reason string) {
	e.log.LogStateChange(from.String(), to.String(), reason)
	e.owner.publishState(to)
	e.notify(Notice{Kind: NoticeStateChanged, State: to})
}

func (e *engine) notify(n Notice) {
	if n.Time.IsZero() {
		n.Time = time.Now()
	}
	if e.opts.OnNotice != nil {
		e.opts.OnNotice(n)
	}
}

func (e *engine) emit(s signal.Sample) {
	e.stats.samples.Inc()
	if e.opts.OnSample != nil {
		e.opts.OnSample(s)
	}
}

func (e *engine) publishSlave() {
	e.owner.publishSlave(e.slave)
}

// sessionOpen reports whether commands may be queued for the slave.
func (e *engine) sessionOpen() bool {
	switch e.state() {
	case StateConnected, StateRun, StateStop:
		return true
	}
	return false
}

func (e *engine) target(cmd protocol.CommandPayload) string {
	if cmd.ID == 0 {
		return ""
	}
	if sig, ok := e.signals.ByAddress(cmd.ID); ok && cmd.Command != protocol.CmdBuildChecksum {
		return fmt.Sprintf("%s@0x%08X", sig.Name, cmd.ID)
	}
	return fmt.Sprintf("0x%08X", cmd.ID)
}

// record logs one finished exchange and feeds the metrics sink.
func (e *engine) record(cmd protocol.CommandPayload, outcome metrics.Outcome, rtt float64, code string, err error) {
	success := outcome == metrics.OutcomeOK
	e.log.LogCommand(cmd.Command.String(), e.target(cmd), success, rtt, code, err)
	if e.opts.Metrics == nil {
		return
	}
	m := metrics.Metric{
		Timestamp: time.Now(),
		Command:   cmd.Command.String(),
		Target:    e.target(cmd),
		Success:   success,
		RTTMs:     rtt,
		Attempt:   cmd.Attempt,
		ErrorCode: code,
		Outcome:   outcome,
	}
	if err != nil {
		m.Error = err.Error()
	}
	e.opts.Metrics.Record(m)
}

// enqueue adds one command and reports a full queue.
func (e *engine) enqueue(cmd protocol.CommandPayload) error {
	if err := e.queue.Enqueue(cmd); err != nil {
		if errors.Is(err, queue.ErrFull) {
			e.queueFull(cmd)
		}
		return err
	}
	return nil
}

// enqueueAll adds a group of commands or none of them.
func (e *engine) enqueueAll(cmds ...protocol.CommandPayload) error {
	if err := e.queue.EnqueueAll(cmds...); err != nil {
		if errors.Is(err, queue.ErrFull) && len(cmds) > 0 {
			e.queueFull(cmds[0])
		}
		return err
	}
	return nil
}

func (e *engine) queueFull(cmd protocol.CommandPayload) {
	e.stats.dropped.Inc()
	e.log.Error("command queue full (%d), dropping %s", e.queue.Cap(), cmd)
	e.record(cmd, metrics.OutcomeDropped, 0, "", queue.ErrFull)
	e.notify(Notice{Kind: NoticeQueueFull, Command: cmd, Err: queue.ErrFull})
}

// trySendNext transmits the queue head if no command is in flight.
func (e *engine) trySendNext() {
	if !e.sendable.Load() || !e.tr.IsConnected() {
		return
	}
	cmd, ok := e.queue.Dequeue()
	if !ok {
		return
	}

	e.sendable.Store(false)
	e.inFlight = cmd
	e.sentAt = time.Now()
	e.log.LogHex("TX "+protocol.DescribeCommand(cmd.Packet, e.builder.Order), cmd.Packet)

	if err := e.tr.Send(e.ctx, cmd.Packet); err != nil {
		e.inFlight = protocol.Empty
		e.sendable.Store(true)
		e.stats.sendFailed.Inc()
		e.record(cmd, metrics.OutcomeSendFail, 0, "", err)
		e.notify(Notice{Kind: NoticeTransportError, Command: cmd, Err: err})
		return
	}
	e.stats.sent.Inc()
	e.timer = time.NewTimer(e.opts.Timeout)
}

func (e *engine) stopTimer() {
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
}

func (e *engine) timeoutC() <-chan time.Time {
	if e.timer == nil {
		return nil
	}
	return e.timer.C
}

func (e *engine) pollC() <-chan signal.Signal {
	if e.poller == nil {
		return nil
	}
	return e.poller.C()
}

// complete releases the in-flight slot and returns the command it held with
// its round-trip time in milliseconds.
func (e *engine) complete() (protocol.CommandPayload, float64) {
	cmd := e.inFlight
	rtt := float64(time.Since(e.sentAt).Microseconds()) / 1000
	e.inFlight = protocol.Empty
	e.stopTimer()
	e.sendable.Store(true)
	return cmd, rtt
}

// abandon discards the in-flight command without waiting for its answer.
func (e *engine) abandon() {
	e.inFlight = protocol.Empty
	e.stopTimer()
	e.sendable.Store(true)
}

// onTimeout requeues the unanswered command at the tail.
func (e *engine) onTimeout() {
	e.stopTimer()
	if e.inFlight.IsEmpty() {
		return
	}
	cmd := e.inFlight
	e.inFlight = protocol.Empty
	e.stats.timeouts.Inc()
	e.record(cmd, metrics.OutcomeTimeout, float64(e.opts.Timeout.Milliseconds()), "", errResponseTimeout)
	e.notify(Notice{Kind: NoticeTimeout, Command: cmd, Err: errResponseTimeout})

	retry := cmd.WithAttempt(cmd.Attempt + 1)
	switch {
	case !e.opts.Retry.allows(retry.Attempt):
		e.stats.dropped.Inc()
		e.log.Error("%s unanswered after %d attempts, giving up", cmd, retry.Attempt)
		e.notify(Notice{Kind: NoticeDropped, Command: cmd, Err: errResponseTimeout})
	case e.enqueue(retry) == nil:
		e.stats.retries.Inc()
		e.log.Verbose("%s timed out, requeued (attempt %d)", cmd, retry.Attempt)
	}
	e.sendable.Store(true)
}

func (e *engine) onFrames(r received) {
	if r.err != nil {
		if errors.Is(r.err, transport.ErrMalformedDatagram) {
			e.stats.malformed.Inc()
			e.log.Error("discarding datagram: %v", r.err)
		} else {
			e.log.Error("receive: %v", r.err)
			e.notify(Notice{Kind: NoticeTransportError, Err: r.err})
		}
	}
	for _, f := range r.frames {
		e.onPacket(f.Packet)
	}
}

// onPacket decodes one inbound packet and applies it.
func (e *engine) onPacket(packet []byte) {
	e.log.LogHex("RX "+protocol.DescribeReply(packet), packet)

	resp, err := protocol.Decode(packet, e.inFlight, e.builder.Order)
	if err != nil {
		e.onDecodeError(err)
		return
	}

	switch r := resp.(type) {
	case protocol.ErrorResponse:
		e.onNegative(r)
	case protocol.DaqPacket:
		e.onDaq(r)
	case protocol.EventPacket:
		e.log.Verbose("event packet code=0x%02X ignored", r.Code)
	case protocol.ServicePacket:
		e.log.Verbose("service request code=0x%02X ignored", r.Code)
	default:
		e.onPositive(resp)
	}
}

func (e *engine) onDecodeError(err error) {
	switch {
	case errors.Is(err, protocol.ErrUnsolicited):
		e.stats.unsolicited.Inc()
		e.log.Verbose("positive response with no command in flight dropped")
	case protocol.IsShortResponse(err) && !e.inFlight.IsEmpty():
		cmd, rtt := e.complete()
		e.stats.invalid.Inc()
		e.record(cmd, metrics.OutcomeInvalid, rtt, "", err)
		e.notify(Notice{Kind: NoticeInvalidResponse, Command: cmd, Err: err})
		e.trySendNext()
	default:
		e.stats.invalid.Inc()
		e.log.Error("discarding packet: %v", err)
	}
}

func (e *engine) onPositive(resp protocol.Response) {
	cmd, rtt := e.complete()
	e.stats.responses.Inc()
	e.record(cmd, metrics.OutcomeOK, rtt, "", nil)

	switch r := resp.(type) {
	case protocol.ConnectResponse:
		e.onConnected(r)
	case protocol.StatusResponse:
		e.slave.applyStatus(r)
		e.publishSlave()
		if e.initialPoll {
			e.initialPoll = false
			e.enqueuePolling()
		}
	case protocol.ShortUploadResponse:
		e.onUpload(cmd, r)
	case protocol.ChecksumResponse:
		e.log.Info("checksum %s 0x%08X over %d bytes", r.Type, r.Checksum, r.BlockSize)
		e.notify(Notice{Kind: NoticeChecksum, Command: cmd, Checksum: &r})
	case protocol.DisconnectResponse, protocol.SetMTAResponse, protocol.DownloadResponse, protocol.AckResponse:
	}
	e.trySendNext()
}

func (e *engine) onConnected(r protocol.ConnectResponse) {
	e.slave.applyConnect(r)
	e.builder.Order = r.CommMode.ByteOrder()
	e.builder.ValueOrder = nil
	if e.opts.SlaveOrderValues {
		e.builder.ValueOrder = e.builder.Order
	}
	if int(r.MaxCTO) >= protocol.MinCTO {
		e.builder.MaxCTO = int(r.MaxCTO)
	}
	e.publishSlave()
	e.log.Info("slave connected: resources=0x%02X byte order %s, MAX_CTO %d, MAX_DTO %d",
		uint8(r.Resource), r.CommMode.ByteOrder(), r.MaxCTO, r.MaxDTO)

	if e.machine.Can(evConnected) {
		if err := e.fire(evConnected, "CONNECT accepted"); err != nil {
			e.log.Error("connect transition: %v", err)
		}
	}
	e.initialPoll = true
	_ = e.enqueue(e.builder.GetStatus())
}

// enqueuePolling queues one SHORT_UPLOAD per polling signal.
func (e *engine) enqueuePolling() {
	for _, sig := range e.signals.Polling() {
		e.enqueueUpload(sig)
	}
}

func (e *engine) enqueueUpload(sig signal.Signal) {
	p, err := e.builder.ShortUpload(sig.Address, sig.Extension, sig.Size)
	if err != nil {
		e.log.Error("signal %s: %v", sig.Name, err)
		return
	}
	_ = e.enqueue(p.WithRate(sig.Rate()))
}

func (e *engine) onUpload(cmd protocol.CommandPayload, r protocol.ShortUploadResponse) {
	source := signal.SourceCalibration
	if cmd.Rate > 0 {
		source = signal.SourcePolling
	}
	if e.opts.SlaveOrderValues {
		r.Raw = protocol.DecodeUint(r.Data, e.builder.Values())
	}
	sample := signal.Sample{
		Address:   r.Address,
		Raw:       r.Raw,
		Value:     int64(r.Raw),
		Timestamp: time.Now(),
		Source:    source,
	}
	if sig, ok := e.signals.ByAddress(r.Address); ok {
		sample.Name = sig.Name
		sample.Value = sig.Interpret(r.Raw)
	}
	e.emit(sample)
}

func (e *engine) onNegative(r protocol.ErrorResponse) {
	if e.inFlight.IsEmpty() {
		e.log.Verbose("error packet %s with no command in flight ignored", r.Code)
		return
	}
	cmd, rtt := e.complete()
	r.Command = cmd.Command
	e.stats.negative.Inc()

	if cmd.Command == protocol.CmdGetSync && r.Code == protocol.ErrCmdSynch {
		code := r.Code
		e.slave.SynchErrorCode = &code
		e.publishSlave()
		e.record(cmd, metrics.OutcomeOK, rtt, r.Code.String(), nil)
		e.notify(Notice{Kind: NoticeSynch, Command: cmd})
	} else {
		perr := r.Err()
		e.record(cmd, metrics.OutcomeNegative, rtt, r.Code.String(), perr)
		e.notify(Notice{Kind: NoticeProtocolError, Command: cmd, Err: perr})
	}
	e.trySendNext()
}

func (e *engine) onDaq(pkt protocol.DaqPacket) {
	e.stats.daqPackets.Inc()
	if !e.opts.DaqHoldsCommand && !e.inFlight.IsEmpty() {
		cmd, rtt := e.complete()
		e.log.Verbose("%s released by DAQ packet for list %d", cmd, pkt.List)
		e.record(cmd, metrics.OutcomeOK, rtt, "", nil)
	}
	if e.daq == nil || e.state() != StateRun {
		e.log.Debug("DAQ packet for list %d outside recording dropped", pkt.List)
	} else {
		samples, err := e.daq.Decode(pkt, e.builder.Values(), time.Now())
		if err != nil {
			e.stats.invalid.Inc()
			e.log.Error("DAQ packet: %v", err)
		}
		for _, s := range samples {
			e.emit(s)
		}
	}
	e.trySendNext()
}

// onPoll queues the SHORT_UPLOAD for a signal whose polling period elapsed.
func (e *engine) onPoll(sig signal.Signal) {
	if e.state() != StateRun {
		return
	}
	e.enqueueUpload(sig)
}

func (e *engine) startReader() {
	stop := make(chan struct{})
	done := make(chan struct{})
	e.readerStop, e.readerDone = stop, done
	tr, out, ctx := e.tr, e.recvC, e.ctx

	go func() {
		defer close(done)
		for {
			select {
			case <-stop:
				return
			default:
			}
			frames, err := tr.Receive(ctx, readPoll)
			if err != nil {
				if transport.IsTimeout(err) {
					continue
				}
				if transport.IsClosed(err) || ctx.Err() != nil {
					return
				}
			}
			if len(frames) == 0 && err == nil {
				continue
			}
			select {
			case out <- received{frames: frames, err: err}:
			case <-stop:
				return
			}
		}
	}()
}

// closeTransport stops the reader and closes the socket.
func (e *engine) closeTransport() error {
	if e.readerStop != nil {
		close(e.readerStop)
	}
	err := e.tr.Disconnect()
	if e.readerDone != nil {
		<-e.readerDone
	}
	e.readerStop, e.readerDone = nil, nil
	return err
}

func (e *engine) connect(ctx context.Context) error {
	if e.state() == StateError {
		if err := e.fire(evReset, "reconnect"); err != nil {
			return err
		}
	}
	if st := e.state(); st != StateDisconnected {
		return fmt.Errorf("%w: connect while %s", ErrInvalidState, st)
	}

	if err := e.tr.Connect(ctx, e.opts.Address); err != nil {
		e.notify(Notice{Kind: NoticeTransportError, Err: err})
		if ferr := e.fire(evFail, "transport bind failed"); ferr != nil {
			e.log.Error("fail transition: %v", ferr)
		}
		return fmt.Errorf("connect %s: %w", e.opts.Address, err)
	}

	e.builder = protocol.NewBuilder(e.opts.Order, e.opts.MaxCTO)
	e.slave = SlaveConfig{}
	e.publishSlave()
	e.queue.Clear()
	e.abandon()
	e.initialPoll = false
	e.startReader()

	if err := e.enqueue(e.builder.Connect(protocol.ConnectNormal)); err != nil {
		return err
	}
	e.trySendNext()
	return nil
}

// stopAcquisition cancels polling timers and forgets the DAQ lists.
func (e *engine) stopAcquisition() bool {
	if e.poller != nil {
		e.poller.Stop()
		e.poller = nil
	}
	hadDaq := e.daq != nil && !e.daq.Empty()
	e.daq = nil
	return hadDaq
}

// disconnect tears the session down locally after sending DISCONNECT once.
// StateError is kept; only connect leaves it.
func (e *engine) disconnect(reason string) error {
	st := e.state()
	if st == StateDisconnected && !e.tr.IsConnected() {
		return nil
	}

	e.stopAcquisition()
	e.queue.Clear()
	e.abandon()
	e.initialPoll = false

	if e.tr.IsConnected() && st != StateError && st != StateDisconnected {
		if err := e.enqueue(e.builder.Disconnect()); err == nil {
			e.trySendNext()
		}
		e.abandon()
		e.queue.Clear()
	}

	var err error
	if st == StateError {
		e.log.Verbose("%s: session stays in error until reconnected", reason)
	} else {
		err = e.fire(evDisconnect, reason)
	}
	if cerr := e.closeTransport(); cerr != nil && err == nil {
		err = cerr
	}
	e.slave.Connected = false
	e.publishSlave()
	return err
}

func (e *engine) startRecording() error {
	st := e.state()
	if st != StateConnected && st != StateStop {
		return fmt.Errorf("%w: start recording while %s", ErrInvalidState, st)
	}

	table := daq.NewTable(e.signals.Event())
	if !table.Empty() {
		if !e.slave.Resources.Daq() {
			e.log.Info("slave does not report the DAQ resource; provisioning anyway")
		}
		cmds, err := table.Provision(e.builder, e.slave.MaxDTO)
		if err != nil {
			return fmt.Errorf("provision DAQ: %w", err)
		}
		if err := e.enqueueAll(cmds...); err != nil {
			return fmt.Errorf("provision DAQ: %w", err)
		}
		e.log.Verbose("queued %d DAQ provisioning commands for %d lists", len(cmds), table.Len())
	}
	e.daq = table

	e.poller = polling.NewScheduler(e.signals.Polling())
	e.poller.Start()

	if err := e.fire(evStart, "recording started"); err != nil {
		return err
	}
	e.trySendNext()
	return nil
}

func (e *engine) stopRecording() error {
	st := e.state()
	if st != StateRun && st != StateConnected {
		return fmt.Errorf("%w: stop recording while %s", ErrInvalidState, st)
	}

	hadDaq := e.stopAcquisition()
	e.queue.Clear()
	if hadDaq {
		_ = e.enqueue(daq.StopAll(e.builder))
	}
	if err := e.fire(evStop, "recording stopped"); err != nil {
		return err
	}
	e.trySendNext()
	return nil
}

// shutdown releases everything when Run returns.
func (e *engine) shutdown() {
	e.ctx = context.Background()
	if err := e.disconnect("session closed"); err != nil {
		e.log.Error("shutdown: %v", err)
	}
	e.stopAcquisition()
	e.stopTimer()
}
