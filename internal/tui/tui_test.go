package tui

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/tonylturner/xcpmaster/internal/record"
	"github.com/tonylturner/xcpmaster/internal/xcp/session"
	"github.com/tonylturner/xcpmaster/internal/xcp/signal"
)

type fakeSource struct {
	state   session.State
	started int
	stopped int
	err     error
}

func (f *fakeSource) State() session.State { return f.state }
func (f *fakeSource) Stats() session.Stats { return session.Stats{Sent: 7, Queued: 2} }
func (f *fakeSource) SlaveConfig() session.SlaveConfig {
	return session.SlaveConfig{MaxCTO: 8, MaxDTO: 8}
}

func (f *fakeSource) StartRecording(context.Context) error {
	f.started++
	if f.err == nil {
		f.state = session.StateRun
	}
	return f.err
}

func (f *fakeSource) StopRecording(context.Context) error {
	f.stopped++
	f.state = session.StateStop
	return nil
}

var testSignals = []signal.Signal{
	{Name: "engine_speed", Address: 0x1000, Size: 2, TypeName: "unsigned short", Trigger: signal.TriggerPolling},
	{Name: "torque", Address: 0x2004, Size: 4, TypeName: "int", Trigger: signal.TriggerEvent},
}

func key(s string) tea.KeyMsg {
	switch s {
	case "up":
		return tea.KeyMsg{Type: tea.KeyUp}
	case "down":
		return tea.KeyMsg{Type: tea.KeyDown}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func newTestMonitor(src Source, copyFn func(string) error) (*Monitor, *record.Recorder) {
	rec := record.NewRecorder(16)
	now := time.Now()
	for i, v := range []int64{100, 300, 200} {
		rec.Add(signal.Sample{Address: 0x1000, Name: "engine_speed", Value: v, Timestamp: now.Add(time.Duration(i) * time.Millisecond)})
	}
	m := NewMonitor(context.Background(), src, rec, MonitorOptions{
		Endpoint: "127.0.0.1:5555",
		Signals:  testSignals,
		Copy:     copyFn,
	})
	return m, rec
}

func TestMonitorView(t *testing.T) {
	src := &fakeSource{state: session.StateConnected}
	m, _ := newTestMonitor(src, nil)

	view := m.View()
	for _, want := range []string{"engine_speed", "0x00001000", "torque", "CONNECTED", "127.0.0.1:5555", "sent 7", "queued 2"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q:\n%s", want, view)
		}
	}
	if !strings.Contains(view, "200") || !strings.Contains(view, "300") {
		t.Errorf("view missing latest or max value:\n%s", view)
	}
}

func TestMonitorRecordingToggle(t *testing.T) {
	src := &fakeSource{state: session.StateConnected}
	m, _ := newTestMonitor(src, nil)

	_, cmd := m.Update(key("r"))
	if cmd == nil {
		t.Fatal("r returned no command")
	}
	m.Update(cmd())
	if src.started != 1 || src.State() != session.StateRun {
		t.Fatalf("started=%d state=%s", src.started, src.State())
	}
	if !strings.Contains(m.status, "recording started") {
		t.Errorf("status = %q", m.status)
	}

	_, cmd = m.Update(key("r"))
	m.Update(cmd())
	if src.stopped != 1 {
		t.Errorf("stopped = %d, want 1", src.stopped)
	}

	src.err = errors.New("boom")
	src.state = session.StateStop
	_, cmd = m.Update(key("r"))
	m.Update(cmd())
	if !strings.Contains(m.status, "boom") {
		t.Errorf("status = %q, want failure", m.status)
	}

	src.state = session.StateDisconnected
	if _, cmd = m.Update(key("r")); cmd != nil {
		t.Error("r while disconnected returned a command")
	}
}

func TestMonitorCopyAndCursor(t *testing.T) {
	var copied string
	src := &fakeSource{state: session.StateRun}
	m, _ := newTestMonitor(src, func(s string) error {
		copied = s
		return nil
	})

	_, cmd := m.Update(key("c"))
	if cmd == nil {
		t.Fatal("c returned no command")
	}
	m.Update(cmd())
	if copied != "engine_speed=200" {
		t.Errorf("copied %q", copied)
	}

	m.Update(key("down"))
	m.Update(key("down"))
	if m.cursor != 1 {
		t.Errorf("cursor = %d, want 1", m.cursor)
	}
	if _, cmd = m.Update(key("c")); cmd != nil {
		t.Error("copy of a signal without samples returned a command")
	}
	m.Update(key("up"))
	if m.cursor != 0 {
		t.Errorf("cursor = %d, want 0", m.cursor)
	}

	if _, cmd = m.Update(key("q")); cmd == nil {
		t.Fatal("q returned no command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("q did not quit")
	}
}

func TestMonitorNotices(t *testing.T) {
	ch := make(chan session.Notice, 10)
	m := NewMonitor(context.Background(), &fakeSource{state: session.StateConnected}, nil, MonitorOptions{Notices: ch})

	ch <- session.Notice{Kind: session.NoticeStateChanged, State: session.StateRun}
	for i := 0; i < maxNotices+2; i++ {
		ch <- session.Notice{Kind: session.NoticeTimeout, Time: time.Now()}
	}
	for i := 0; i < maxNotices+3; i++ {
		msg := waitForNotice(ch)()
		m.Update(msg)
	}
	if len(m.notices) != maxNotices {
		t.Errorf("notices = %d, want %d", len(m.notices), maxNotices)
	}
	if !strings.Contains(m.View(), "timeout") {
		t.Error("view does not show timeout notice")
	}
	close(ch)
	if msg := waitForNotice(ch)(); msg != nil {
		t.Errorf("closed channel produced %v", msg)
	}
}

func TestSparkline(t *testing.T) {
	tests := []struct {
		name   string
		values []int64
		width  int
		want   string
	}{
		{"empty", nil, 3, "   "},
		{"flat", []int64{5, 5}, 2, "▁▁"},
		{"ramp", []int64{0, 7}, 2, "▁█"},
		{"negative", []int64{-7, 0}, 3, " ▁█"},
		{"trimmed", []int64{9, 0, 7}, 2, "▁█"},
		{"zero width", []int64{1}, 0, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Sparkline(tt.values, tt.width); got != tt.want {
				t.Errorf("Sparkline = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseCalibrationValue(t *testing.T) {
	intSig := signal.Signal{Name: "idle_offset", Size: 2, TypeName: "short"}
	floatSig := signal.Signal{Name: "gain", Size: 4, TypeName: "float", Float: true}

	req, err := parseCalibrationValue(intSig, " 0x10 ")
	if err != nil || req.Value != 16 {
		t.Errorf("hex value = %+v, %v", req, err)
	}
	if req, err = parseCalibrationValue(intSig, "-3"); err != nil || req.Value != -3 {
		t.Errorf("negative value = %+v, %v", req, err)
	}
	if _, err = parseCalibrationValue(intSig, "1.5"); err == nil {
		t.Error("float accepted for integer signal")
	}
	if _, err = parseCalibrationValue(intSig, ""); err == nil {
		t.Error("empty value accepted")
	}
	req, err = parseCalibrationValue(floatSig, "1.5")
	if err != nil || req.Float != 1.5 {
		t.Errorf("float value = %+v, %v", req, err)
	}
	if got := req.String(); got != "gain = 1.5" {
		t.Errorf("String = %q", got)
	}
}
