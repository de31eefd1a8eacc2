package session

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/tonylturner/xcpmaster/internal/metrics"
	"github.com/tonylturner/xcpmaster/internal/xcp/protocol"
	"github.com/tonylturner/xcpmaster/internal/xcp/queue"
	"github.com/tonylturner/xcpmaster/internal/xcp/signal"
	"github.com/tonylturner/xcpmaster/internal/xcp/transport"
)

// fakeTransport records sent packets. Receive blocks until Disconnect.
type fakeTransport struct {
	mu         sync.Mutex
	connected  bool
	connectErr error
	sendErr    error
	sent       [][]byte
	closed     chan struct{}
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{}
}

func (f *fakeTransport) Connect(ctx context.Context, addr string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connectErr != nil {
		return f.connectErr
	}
	f.connected = true
	f.closed = make(chan struct{})
	return nil
}

func (f *fakeTransport) Disconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connected {
		f.connected = false
		close(f.closed)
	}
	return nil
}

func (f *fakeTransport) Send(ctx context.Context, packet []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return transport.ErrNotConnected
	}
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, append([]byte(nil), packet...))
	return nil
}

func (f *fakeTransport) Receive(ctx context.Context, timeout time.Duration) ([]transport.Frame, error) {
	f.mu.Lock()
	closed := f.closed
	f.mu.Unlock()
	if closed == nil {
		return nil, transport.ErrNotConnected
	}
	select {
	case <-closed:
		return nil, transport.ErrNotConnected
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *fakeTransport) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeTransport) packets() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.sent...)
}

func (f *fakeTransport) last() []byte {
	p := f.packets()
	if len(p) == 0 {
		return nil
	}
	return p[len(p)-1]
}

var _ transport.Transport = (*fakeTransport)(nil)

func testSignals() []signal.Signal {
	return []signal.Signal{
		{Name: "speed", Address: 0x1000, Size: 2, TypeName: "unsigned short", Trigger: signal.TriggerPolling, PollingRate: time.Hour},
		{Name: "torque", Address: 0x1004, Size: 4, TypeName: "int", Trigger: signal.TriggerEvent, EventChannel: 7},
	}
}

type harness struct {
	t       *testing.T
	tr      *fakeTransport
	s       *Session
	e       *engine
	samples []signal.Sample
	notices []Notice
	sink    *metrics.Sink
}

func newHarness(t *testing.T, mutate func(*Options)) *harness {
	t.Helper()
	h := &harness{t: t, tr: newFakeTransport(), sink: metrics.NewSink()}
	opts := Options{
		Transport: h.tr,
		Address:   "127.0.0.1:5555",
		Signals:   testSignals(),
		Metrics:   h.sink,
		OnSample:  func(s signal.Sample) { h.samples = append(h.samples, s) },
		OnNotice:  func(n Notice) { h.notices = append(h.notices, n) },
	}
	if mutate != nil {
		mutate(&opts)
	}
	s, err := New(opts)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	h.s = s
	h.e = s.engine
	t.Cleanup(func() { _ = h.e.disconnect("test done") })
	return h
}

func (h *harness) noticesOf(kind NoticeKind) []Notice {
	var out []Notice
	for _, n := range h.notices {
		if n.Kind == kind {
			out = append(out, n)
		}
	}
	return out
}

// connectResponse is a positive CONNECT answer: CAL/PAG and DAQ, little
// endian, MAX_CTO 8, MAX_DTO 8.
var connectResponse = []byte{0xFF, 0x05, 0x00, 0x08, 0x08, 0x00, 0x01, 0x01}

// connected drives the harness through CONNECT and GET_STATUS.
func (h *harness) connected() {
	h.t.Helper()
	if err := h.e.connect(context.Background()); err != nil {
		h.t.Fatalf("connect failed: %v", err)
	}
	h.e.onPacket(connectResponse)
	h.e.onPacket([]byte{0xFF, 0x00, 0x00, 0x00, 0x00, 0x00})
	if got := h.e.state(); got != StateConnected {
		h.t.Fatalf("state = %s, want %s", got, StateConnected)
	}
}

func TestConnectSequence(t *testing.T) {
	h := newHarness(t, nil)

	if err := h.e.connect(context.Background()); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	if got := h.tr.last(); !bytes.Equal(got, []byte{0xFF, 0x00}) {
		t.Fatalf("first packet = % X, want FF 00", got)
	}
	if h.e.state() != StateDisconnected {
		t.Fatalf("state before CONNECT answer = %s", h.e.state())
	}

	h.e.onPacket(connectResponse)
	if h.s.State() != StateConnected {
		t.Fatalf("published state = %s, want connected", h.s.State())
	}
	if got := h.tr.last(); !bytes.Equal(got, []byte{0xFD}) {
		t.Fatalf("after CONNECT sent % X, want GET_STATUS", got)
	}
	cfg := h.s.SlaveConfig()
	if !cfg.Connected || !cfg.Resources.Daq() || !cfg.Resources.CalPag() || cfg.MaxDTO != 8 {
		t.Errorf("slave config not applied: %+v", cfg)
	}

	h.e.onPacket([]byte{0xFF, 0x00, 0x00, 0x00, 0x00, 0x00})
	want := []byte{0xF4, 0x02, 0x00, 0x00, 0x00, 0x10, 0x00, 0x00}
	if got := h.tr.last(); !bytes.Equal(got, want) {
		t.Fatalf("after GET_STATUS sent % X, want polling upload % X", got, want)
	}
}

func TestSingleCommandInFlight(t *testing.T) {
	h := newHarness(t, nil)
	h.connected()
	h.e.onPacket([]byte{0xFF, 0x34, 0x12})
	before := len(h.tr.packets())

	if err := h.e.submit(h.e.builder.GetSync(), h.e.builder.GetStatus()); err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	for i := 0; i < 5; i++ {
		h.e.trySendNext()
	}
	if got := len(h.tr.packets()) - before; got != 1 {
		t.Fatalf("sent %d packets with one outstanding, want 1", got)
	}
	if h.s.Stats().Queued != 1 || !h.s.Stats().InFlight {
		t.Fatalf("stats = %+v", h.s.Stats())
	}

	h.e.onPacket([]byte{0xFE, byte(protocol.ErrCmdSynch)})
	if got := len(h.tr.packets()) - before; got != 2 {
		t.Fatalf("sent %d packets after answer, want 2", got)
	}
}

func TestTimeoutRequeuesOnce(t *testing.T) {
	h := newHarness(t, nil)
	h.connected()
	h.e.onPacket([]byte{0xFF, 0x34, 0x12})

	if err := h.e.submit(h.e.builder.GetSync()); err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if h.e.inFlight.Command != protocol.CmdGetSync {
		t.Fatalf("in flight = %s", h.e.inFlight)
	}
	if err := h.e.enqueue(h.e.builder.GetStatus()); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	h.e.onTimeout()

	pending := h.e.queue.Snapshot()
	count := 0
	for _, cmd := range pending {
		if cmd.Command == protocol.CmdGetSync {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("GET_SYNC present %d times after timeout, want 1", count)
	}
	if pending[len(pending)-1].Command != protocol.CmdGetSync || pending[len(pending)-1].Attempt != 1 {
		t.Errorf("requeued command not at tail: %v", pending)
	}
	if !h.e.sendable.Load() {
		t.Error("sending not re-permitted after timeout")
	}
	if !h.e.inFlight.IsEmpty() {
		t.Error("in-flight slot not cleared")
	}
	if len(h.noticesOf(NoticeTimeout)) != 1 {
		t.Errorf("timeout notices = %d, want 1", len(h.noticesOf(NoticeTimeout)))
	}
	if h.sink.GetSummary().TimeoutCount != 1 {
		t.Errorf("timeout metric not recorded")
	}

	h.e.trySendNext()
	if h.e.inFlight.Command != protocol.CmdGetStatus {
		t.Errorf("next sent = %s, want GET_STATUS ahead of the requeued command", h.e.inFlight)
	}
}

func TestRetryPolicyCap(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.Retry = RetryPolicy{MaxRetries: 2} })
	h.connected()
	h.e.onPacket([]byte{0xFF, 0x34, 0x12})

	if err := h.e.submit(h.e.builder.GetSync()); err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	for i := 0; i < 3; i++ {
		h.e.onTimeout()
		h.e.trySendNext()
	}
	if !h.e.inFlight.IsEmpty() || h.e.queue.Len() != 0 {
		t.Fatalf("command still pending after retry cap: inFlight=%s queued=%d", h.e.inFlight, h.e.queue.Len())
	}
	if len(h.noticesOf(NoticeDropped)) != 1 {
		t.Errorf("dropped notices = %d, want 1", len(h.noticesOf(NoticeDropped)))
	}
	if h.s.Stats().Retries != 2 {
		t.Errorf("retries = %d, want 2", h.s.Stats().Retries)
	}
}

func TestUnboundedRetryDefault(t *testing.T) {
	if !(RetryPolicy{}).Unbounded() {
		t.Fatal("zero RetryPolicy must be unbounded")
	}
	h := newHarness(t, nil)
	if err := h.e.connect(context.Background()); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	for i := 0; i < 20; i++ {
		h.e.onTimeout()
		h.e.trySendNext()
	}
	if h.e.inFlight.Command != protocol.CmdConnect || h.e.inFlight.Attempt != 20 {
		t.Errorf("in flight = %s attempt %d, want CONNECT attempt 20", h.e.inFlight, h.e.inFlight.Attempt)
	}
}

func TestShortUploadRejectedQueueProceeds(t *testing.T) {
	h := newHarness(t, nil)
	h.connected()

	if err := h.e.enqueue(h.e.builder.GetSync()); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	// The 2 byte polling upload is in flight; answer with one data byte.
	h.e.onPacket([]byte{0xFF, 0x34})

	if len(h.samples) != 0 {
		t.Fatalf("short response emitted %d samples", len(h.samples))
	}
	if len(h.noticesOf(NoticeInvalidResponse)) != 1 {
		t.Errorf("invalid response notices = %d, want 1", len(h.noticesOf(NoticeInvalidResponse)))
	}
	if h.e.inFlight.Command != protocol.CmdGetSync {
		t.Errorf("queue did not proceed: in flight = %s", h.e.inFlight)
	}
}

func TestPollingUploadSample(t *testing.T) {
	h := newHarness(t, nil)
	h.connected()

	h.e.onPacket([]byte{0xFF, 0xFE, 0xFF})
	if len(h.samples) != 1 {
		t.Fatalf("samples = %d, want 1", len(h.samples))
	}
	s := h.samples[0]
	if s.Name != "speed" || s.Address != 0x1000 || s.Value != 0xFFFE || s.Source != signal.SourcePolling {
		t.Errorf("sample = %+v", s)
	}
}

func TestGetStatusDaqRunningBit(t *testing.T) {
	tests := []struct {
		name   string
		status byte
		want   bool
	}{
		{"bit 6 set", 0x40, true},
		{"bit 6 clear", 0xBF, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nil)
			h.connected()
			h.e.onPacket([]byte{0xFF, 0x00, 0x00})
			if err := h.e.submit(h.e.builder.GetStatus()); err != nil {
				t.Fatalf("submit failed: %v", err)
			}
			h.e.onPacket([]byte{0xFF, tt.status, 0x00, 0x00, 0x00, 0x00})
			if got := h.s.SlaveConfig().DaqRunning(); got != tt.want {
				t.Errorf("DaqRunning = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNegativeResponseKeepsState(t *testing.T) {
	h := newHarness(t, nil)
	h.connected()
	h.e.onPacket([]byte{0xFF, 0x00, 0x00})

	if err := h.e.submit(h.e.builder.GetStatus(), h.e.builder.GetStatus()); err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	h.e.onPacket([]byte{0xFE, byte(protocol.ErrAccessDenied)})

	if h.e.state() != StateConnected {
		t.Errorf("state = %s after negative response", h.e.state())
	}
	errs := h.noticesOf(NoticeProtocolError)
	if len(errs) != 1 {
		t.Fatalf("protocol error notices = %d, want 1", len(errs))
	}
	var perr *protocol.ProtocolError
	if !errors.As(errs[0].Err, &perr) || perr.Code != protocol.ErrAccessDenied || perr.Command != protocol.CmdGetStatus {
		t.Errorf("notice error = %v", errs[0].Err)
	}
	if h.e.inFlight.Command != protocol.CmdGetStatus {
		t.Errorf("queue did not proceed after negative response")
	}
}

func TestGetSyncStoresSynchCode(t *testing.T) {
	h := newHarness(t, nil)
	h.connected()
	h.e.onPacket([]byte{0xFF, 0x00, 0x00})

	if err := h.e.submit(h.e.builder.GetSync()); err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	h.e.onPacket([]byte{0xFE, byte(protocol.ErrCmdSynch)})

	code := h.s.SlaveConfig().SynchErrorCode
	if code == nil || *code != protocol.ErrCmdSynch {
		t.Fatalf("SynchErrorCode = %v", code)
	}
	if len(h.noticesOf(NoticeProtocolError)) != 0 {
		t.Error("ERR_CMD_SYNCH to GET_SYNC surfaced as a protocol error")
	}
}

func TestStartRecordingProvisionsDaq(t *testing.T) {
	h := newHarness(t, nil)
	h.connected()
	h.e.onPacket([]byte{0xFF, 0x00, 0x00})
	before := len(h.tr.packets())

	if err := h.e.startRecording(); err != nil {
		t.Fatalf("startRecording failed: %v", err)
	}
	if h.e.state() != StateRun {
		t.Fatalf("state = %s, want run", h.e.state())
	}
	for i := 0; i < 20 && !h.e.inFlight.IsEmpty(); i++ {
		h.e.onPacket([]byte{0xFF})
	}

	var pids []byte
	for _, p := range h.tr.packets()[before:] {
		pids = append(pids, p[0])
	}
	want := []byte{0xD6, 0xD5, 0xD4, 0xD3, 0xE2, 0xE1, 0xE0, 0xDE, 0xDD}
	if !bytes.Equal(pids, want) {
		t.Fatalf("provisioning PIDs = % X, want % X", pids, want)
	}

	h.e.onPacket([]byte{0x00, 0x78, 0x56, 0x34, 0x12})
	if len(h.samples) != 1 || h.samples[0].Name != "torque" || h.samples[0].Value != 0x12345678 || h.samples[0].Source != signal.SourceDaq {
		t.Fatalf("DAQ samples = %+v", h.samples)
	}
}

func TestDaqPacketReleasesCommand(t *testing.T) {
	h := newHarness(t, nil)
	h.connected()
	if h.e.inFlight.Command != protocol.CmdShortUpload || h.e.timer == nil {
		t.Fatalf("in flight = %s timer=%v, want armed SHORT_UPLOAD", h.e.inFlight, h.e.timer != nil)
	}

	h.e.onPacket([]byte{0x00, 0x01, 0x00, 0x00, 0x00})
	if !h.e.inFlight.IsEmpty() || !h.e.sendable.Load() || h.e.timer != nil {
		t.Fatalf("after DAQ packet: in flight=%s sendable=%v timerArmed=%v", h.e.inFlight, h.e.sendable.Load(), h.e.timer != nil)
	}

	if err := h.e.submit(h.e.builder.GetSync(), h.e.builder.GetStatus()); err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	h.e.onPacket([]byte{0x00, 0x01, 0x00, 0x00, 0x00})
	if got := h.tr.last(); !bytes.Equal(got, []byte{0xFD}) {
		t.Errorf("last packet = % X, want GET_STATUS sent after DAQ release", got)
	}
	if h.e.inFlight.Command != protocol.CmdGetStatus || h.e.timer == nil {
		t.Errorf("in flight = %s timerArmed=%v, want armed GET_STATUS", h.e.inFlight, h.e.timer != nil)
	}
}

func TestDaqHoldsCommandOption(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.DaqHoldsCommand = true })
	h.connected()
	h.e.onPacket([]byte{0xFF, 0x00, 0x00})
	if err := h.e.startRecording(); err != nil {
		t.Fatalf("startRecording failed: %v", err)
	}
	inFlight := h.e.inFlight

	h.e.onPacket([]byte{0x00, 0x01, 0x00, 0x00, 0x00})
	if h.e.inFlight.Command != inFlight.Command || h.e.sendable.Load() || h.e.timer == nil {
		t.Errorf("DAQ packet released %s with DaqHoldsCommand", inFlight)
	}
}

// bigEndianConnect is connectResponse with the Motorola byte order bit set.
var bigEndianConnect = []byte{0xFF, 0x05, 0x01, 0x08, 0x00, 0x08, 0x01, 0x01}

func TestBigEndianSlaveValues(t *testing.T) {
	daqSignals := []signal.Signal{
		{Name: "S1", Address: 0x1000, Size: 2, TypeName: "unsigned short", Trigger: signal.TriggerEvent, EventChannel: 7},
		{Name: "S2", Address: 0x1004, Size: 4, TypeName: "unsigned int", Trigger: signal.TriggerEvent, EventChannel: 7},
	}
	tests := []struct {
		name       string
		slaveOrder bool
		want       [2]int64
	}{
		{"little-endian values", false, [2]int64{0x1234, 0x12345678}},
		{"slave order values", true, [2]int64{0x3412, 0x78563412}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, func(o *Options) {
				o.Signals = daqSignals
				o.SlaveOrderValues = tt.slaveOrder
			})
			if err := h.e.connect(context.Background()); err != nil {
				t.Fatalf("connect failed: %v", err)
			}
			h.e.onPacket(bigEndianConnect)
			h.e.onPacket([]byte{0xFF, 0x00, 0x00, 0x00, 0x00, 0x00})
			if h.e.state() != StateConnected || h.e.builder.Order != binary.BigEndian {
				t.Fatalf("state = %s order = %v", h.e.state(), h.e.builder.Order)
			}

			if err := h.e.startRecording(); err != nil {
				t.Fatalf("startRecording failed: %v", err)
			}
			for i := 0; i < 20 && !h.e.inFlight.IsEmpty(); i++ {
				h.e.onPacket([]byte{0xFF})
			}
			if h.e.state() != StateRun {
				t.Fatalf("state = %s, want run", h.e.state())
			}

			h.e.onPacket([]byte{0x00, 0x34, 0x12, 0x78, 0x56, 0x34, 0x12})
			if len(h.samples) != 2 {
				t.Fatalf("got %d samples, want 2", len(h.samples))
			}
			for i, s := range h.samples {
				if s.Address != daqSignals[i].Address || s.Value != tt.want[i] {
					t.Errorf("sample %d = addr=0x%X value=0x%X, want addr=0x%X value=0x%X",
						i, s.Address, s.Value, daqSignals[i].Address, tt.want[i])
				}
			}
		})
	}
}

func TestBigEndianSlaveUpload(t *testing.T) {
	h := newHarness(t, nil)
	if err := h.e.connect(context.Background()); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	h.e.onPacket(bigEndianConnect)
	h.e.onPacket([]byte{0xFF, 0x00, 0x00, 0x00, 0x00, 0x00})

	h.e.onPacket([]byte{0xFF, 0x34, 0x12})
	if len(h.samples) != 1 || h.samples[0].Value != 0x1234 {
		t.Fatalf("upload samples = %+v, want speed 0x1234", h.samples)
	}

	before := len(h.tr.packets())
	if err := h.e.calibrate("speed", 0x0102); err != nil {
		t.Fatalf("calibrate failed: %v", err)
	}
	h.e.onPacket([]byte{0xFF})
	sent := h.tr.packets()[before:]
	want := [][]byte{
		{0xF6, 0x00, 0x00, 0x00, 0x00, 0x00, 0x10, 0x00},
		{0xF0, 0x02, 0x02, 0x01},
	}
	if len(sent) != len(want) {
		t.Fatalf("sent %d packets, want %d", len(sent), len(want))
	}
	for i := range want {
		if !bytes.Equal(sent[i], want[i]) {
			t.Errorf("packet %d = % X, want % X", i, sent[i], want[i])
		}
	}
}

func TestStopRecording(t *testing.T) {
	h := newHarness(t, nil)
	h.connected()
	h.e.onPacket([]byte{0xFF, 0x00, 0x00})
	if err := h.e.startRecording(); err != nil {
		t.Fatalf("startRecording failed: %v", err)
	}
	poller := h.e.poller

	if err := h.e.stopRecording(); err != nil {
		t.Fatalf("stopRecording failed: %v", err)
	}
	if h.e.state() != StateStop {
		t.Fatalf("state = %s, want stop", h.e.state())
	}
	if poller.Running() || h.e.poller != nil || h.e.daq != nil {
		t.Error("acquisition not cancelled")
	}
	pending := h.e.queue.Snapshot()
	if len(pending) != 1 || !bytes.Equal(pending[0].Packet, []byte{0xDD, 0x00}) {
		t.Errorf("queue after stop = %v, want START_STOP_SYNCH stop_all", pending)
	}

	if err := h.e.startRecording(); err != nil {
		t.Errorf("restart from stop failed: %v", err)
	}
}

func TestStateGuards(t *testing.T) {
	h := newHarness(t, nil)
	if err := h.e.startRecording(); !errors.Is(err, ErrInvalidState) {
		t.Errorf("startRecording while disconnected = %v", err)
	}
	if err := h.e.calibrate("speed", 1); !errors.Is(err, ErrNotConnected) {
		t.Errorf("calibrate while disconnected = %v", err)
	}
	h.connected()
	if err := h.e.connect(context.Background()); !errors.Is(err, ErrInvalidState) {
		t.Errorf("second connect = %v", err)
	}
}

func TestBindFailureEntersError(t *testing.T) {
	h := newHarness(t, nil)
	h.tr.connectErr = errors.New("bind: address already in use")

	if err := h.e.connect(context.Background()); err == nil {
		t.Fatal("connect succeeded with bind failure")
	}
	if h.e.state() != StateError {
		t.Fatalf("state = %s, want error", h.e.state())
	}
	if err := h.e.disconnect("disconnect requested"); err != nil {
		t.Fatalf("disconnect in error failed: %v", err)
	}
	if h.e.state() != StateError {
		t.Fatalf("state after disconnect = %s, want error until reconnect", h.e.state())
	}

	h.tr.connectErr = nil
	if err := h.e.connect(context.Background()); err != nil {
		t.Fatalf("reconnect failed: %v", err)
	}
	if h.e.state() != StateDisconnected {
		t.Errorf("state after reconnect attempt = %s, want disconnected until CONNECT answers", h.e.state())
	}
}

func TestDisconnectTearsDown(t *testing.T) {
	h := newHarness(t, nil)
	h.connected()
	h.e.onPacket([]byte{0xFF, 0x00, 0x00})
	if err := h.e.startRecording(); err != nil {
		t.Fatalf("startRecording failed: %v", err)
	}
	poller := h.e.poller

	if err := h.e.disconnect("test"); err != nil {
		t.Fatalf("disconnect failed: %v", err)
	}
	if got := h.tr.last(); !bytes.Equal(got, []byte{0xFE}) {
		t.Errorf("last packet = % X, want DISCONNECT", got)
	}
	if h.e.state() != StateDisconnected || h.tr.IsConnected() {
		t.Errorf("state = %s connected=%v", h.e.state(), h.tr.IsConnected())
	}
	if poller.Running() || h.e.queue.Len() != 0 || !h.e.inFlight.IsEmpty() || h.e.timer != nil {
		t.Error("session resources survived disconnect")
	}
}

func TestCalibrateQueuesWriteAndReadback(t *testing.T) {
	h := newHarness(t, nil)
	h.connected()
	h.e.onPacket([]byte{0xFF, 0x00, 0x00})
	before := len(h.tr.packets())

	if err := h.e.calibrate("speed", 0x0102); err != nil {
		t.Fatalf("calibrate failed: %v", err)
	}
	h.e.onPacket([]byte{0xFF})
	h.e.onPacket([]byte{0xFF})
	h.e.onPacket([]byte{0xFF, 0x02, 0x01})

	sent := h.tr.packets()[before:]
	want := [][]byte{
		{0xF6, 0x00, 0x00, 0x00, 0x00, 0x10, 0x00, 0x00},
		{0xF0, 0x02, 0x02, 0x01},
		{0xF4, 0x02, 0x00, 0x00, 0x00, 0x10, 0x00, 0x00},
	}
	if len(sent) != len(want) {
		t.Fatalf("sent %d packets, want %d", len(sent), len(want))
	}
	for i := range want {
		if !bytes.Equal(sent[i], want[i]) {
			t.Errorf("packet %d = % X, want % X", i, sent[i], want[i])
		}
	}
	if len(h.samples) != 1 || h.samples[0].Source != signal.SourceCalibration || h.samples[0].Value != 0x0102 {
		t.Errorf("read-back samples = %+v", h.samples)
	}
}

func TestCalibrateQueueFull(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.QueueCapacity = 2 })
	h.connected()

	err := h.e.calibrate("speed", 1)
	if !errors.Is(err, queue.ErrFull) {
		t.Fatalf("calibrate on a full queue = %v, want ErrFull", err)
	}
	if len(h.noticesOf(NoticeQueueFull)) != 1 {
		t.Errorf("queue full notices = %d", len(h.noticesOf(NoticeQueueFull)))
	}
	if h.e.queue.Len() != 0 {
		t.Errorf("partial calibration queued: %d", h.e.queue.Len())
	}
}

func TestCalibrateFloatIsUnsupported(t *testing.T) {
	h := newHarness(t, nil)
	err := h.s.CalibrateFloat(context.Background(), "torque", 1.5)
	if !errors.Is(err, ErrFloatCalibration) {
		t.Errorf("CalibrateFloat = %v, want ErrFloatCalibration", err)
	}
	if err := h.s.CalibrateFloat(context.Background(), "missing", 1); !errors.Is(err, ErrUnknownSignal) {
		t.Errorf("CalibrateFloat unknown = %v", err)
	}
}

func TestChecksumNotice(t *testing.T) {
	h := newHarness(t, nil)
	h.connected()
	h.e.onPacket([]byte{0xFF, 0x00, 0x00})

	if err := h.e.submit(h.e.builder.SetMTA(0x2000, 0), h.e.builder.BuildChecksum(16)); err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	h.e.onPacket([]byte{0xFF})
	h.e.onPacket([]byte{0xFF, byte(protocol.ChecksumAdd44), 0x00, 0x00, 0x78, 0x56, 0x34, 0x12})

	notes := h.noticesOf(NoticeChecksum)
	if len(notes) != 1 || notes[0].Checksum == nil {
		t.Fatalf("checksum notices = %v", notes)
	}
	if notes[0].Checksum.Checksum != 0x12345678 || notes[0].Checksum.Type != protocol.ChecksumAdd44 {
		t.Errorf("checksum = %+v", notes[0].Checksum)
	}
}

func TestSendFailureReleasesSlot(t *testing.T) {
	h := newHarness(t, nil)
	h.connected()
	h.e.onPacket([]byte{0xFF, 0x00, 0x00})
	h.tr.sendErr = errors.New("write: network unreachable")

	if err := h.e.submit(h.e.builder.GetSync()); err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if !h.e.sendable.Load() || !h.e.inFlight.IsEmpty() {
		t.Error("slot held after send failure")
	}
	if len(h.noticesOf(NoticeTransportError)) != 1 {
		t.Errorf("transport error notices = %d", len(h.noticesOf(NoticeTransportError)))
	}
}

func TestMalformedAndUnsolicited(t *testing.T) {
	h := newHarness(t, nil)
	h.connected()
	h.e.onPacket([]byte{0xFF, 0x00, 0x00})

	h.e.onFrames(received{err: transport.ErrMalformedDatagram})
	h.e.onPacket([]byte{0xFF, 0x01})
	h.e.onPacket([]byte{0xFE, 0x20})

	st := h.s.Stats()
	if st.Malformed != 1 || st.Unsolicited != 1 {
		t.Errorf("stats = %+v", st)
	}
	if h.e.state() != StateConnected {
		t.Errorf("state = %s", h.e.state())
	}
}
