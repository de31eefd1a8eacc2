package tui

import (
	"context"
	"encoding/binary"
	"fmt"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/tonylturner/xcpmaster/internal/record"
	"github.com/tonylturner/xcpmaster/internal/xcp/session"
	"github.com/tonylturner/xcpmaster/internal/xcp/signal"
)

const (
	refreshInterval = 250 * time.Millisecond
	sparkWidth      = 24
	maxNotices      = 5
)

// Source is the live session the monitor observes and drives.
type Source interface {
	State() session.State
	Stats() session.Stats
	SlaveConfig() session.SlaveConfig
	StartRecording(ctx context.Context) error
	StopRecording(ctx context.Context) error
}

// MonitorOptions configures a Monitor.
type MonitorOptions struct {
	Title    string
	Endpoint string
	Signals  []signal.Signal
	// Notices is read until closed; nil disables the notice panel.
	Notices <-chan session.Notice
	// Copy replaces the system clipboard, mainly for tests.
	Copy func(string) error
}

type tickMsg time.Time

type noticeMsg session.Notice

type actionMsg struct {
	label string
	err   error
}

type copiedMsg struct {
	text string
	err  error
}

// Monitor is the bubbletea model behind the monitor command.
type Monitor struct {
	ctx      context.Context
	src      Source
	rec      *record.Recorder
	opts     MonitorOptions
	styles   Styles
	cursor   int
	state    session.State
	stats    session.Stats
	slave    session.SlaveConfig
	elements map[string]record.Element
	history  map[string][]int64
	notices  []string
	status   string
	busy     bool
}

// NewMonitor builds the model. ctx bounds the recording commands it issues.
func NewMonitor(ctx context.Context, src Source, rec *record.Recorder, opts MonitorOptions) *Monitor {
	if opts.Title == "" {
		opts.Title = "xcpmaster monitor"
	}
	if opts.Copy == nil {
		opts.Copy = clipboard.WriteAll
	}
	m := &Monitor{
		ctx:      ctx,
		src:      src,
		rec:      rec,
		opts:     opts,
		styles:   DefaultStyles,
		elements: make(map[string]record.Element),
		history:  make(map[string][]int64),
	}
	m.refresh()
	return m
}

func tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func waitForNotice(ch <-chan session.Notice) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		n, ok := <-ch
		if !ok {
			return nil
		}
		return noticeMsg(n)
	}
}

// Init starts the refresh ticker and the notice reader.
func (m *Monitor) Init() tea.Cmd {
	return tea.Batch(tick(), waitForNotice(m.opts.Notices))
}

// Update handles keys, ticks and command results.
func (m *Monitor) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tickMsg:
		m.refresh()
		return m, tick()

	case noticeMsg:
		m.addNotice(session.Notice(msg))
		return m, waitForNotice(m.opts.Notices)

	case actionMsg:
		m.busy = false
		if msg.err != nil {
			m.status = m.styles.Error.Render(fmt.Sprintf("%s failed: %v", msg.label, msg.err))
		} else {
			m.status = m.styles.Success.Render(msg.label)
		}
		m.refresh()
		return m, nil

	case copiedMsg:
		if msg.err != nil {
			m.status = m.styles.Error.Render(fmt.Sprintf("copy failed: %v", msg.err))
		} else {
			m.status = m.styles.Success.Render("copied " + msg.text)
		}
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m *Monitor) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c", "esc":
		return m, tea.Quit
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < len(m.opts.Signals)-1 {
			m.cursor++
		}
	case "r":
		return m, m.toggleRecording()
	case "c":
		return m, m.copySelected()
	}
	return m, nil
}

func (m *Monitor) toggleRecording() tea.Cmd {
	if m.busy {
		return nil
	}
	ctx, src := m.ctx, m.src
	switch m.src.State() {
	case session.StateRun:
		m.busy = true
		return func() tea.Msg {
			return actionMsg{label: "recording stopped", err: src.StopRecording(ctx)}
		}
	case session.StateConnected, session.StateStop:
		m.busy = true
		return func() tea.Msg {
			return actionMsg{label: "recording started", err: src.StartRecording(ctx)}
		}
	default:
		m.status = m.styles.Warning.Render("not connected")
		return nil
	}
}

func (m *Monitor) copySelected() tea.Cmd {
	if len(m.opts.Signals) == 0 {
		return nil
	}
	sig := m.opts.Signals[m.cursor]
	e, ok := m.elements[sig.Name]
	if !ok || e.Count == 0 {
		m.status = m.styles.Warning.Render(sig.Name + " has no value yet")
		return nil
	}
	text := fmt.Sprintf("%s=%d", sig.Name, e.Latest.Value)
	copyFn := m.opts.Copy
	return func() tea.Msg {
		return copiedMsg{text: text, err: copyFn(text)}
	}
}

func (m *Monitor) refresh() {
	m.state = m.src.State()
	m.stats = m.src.Stats()
	m.slave = m.src.SlaveConfig()
	if m.rec == nil {
		return
	}
	for _, e := range m.rec.Snapshot() {
		m.elements[e.Name] = e
		m.history[e.Name] = sampleValues(m.rec.History(e.Name))
	}
}

func (m *Monitor) addNotice(n session.Notice) {
	if n.Kind == session.NoticeStateChanged {
		return
	}
	line := fmt.Sprintf("%s %s", n.Time.Format("15:04:05.000"), n)
	m.notices = append(m.notices, line)
	if len(m.notices) > maxNotices {
		m.notices = m.notices[len(m.notices)-maxNotices:]
	}
}

// View renders the monitor.
func (m *Monitor) View() string {
	s := m.styles
	var b strings.Builder

	b.WriteString(s.Title.Render(m.opts.Title))
	if m.opts.Endpoint != "" {
		b.WriteString(s.Dim.Render("  " + m.opts.Endpoint))
	}
	b.WriteString("  ")
	b.WriteString(s.StateStyle(m.state).Render(strings.ToUpper(m.state.String())))
	b.WriteString("\n")
	if m.slave.MaxCTO > 0 {
		b.WriteString(s.Dim.Render(fmt.Sprintf("slave: %s order, MAX_CTO %d, MAX_DTO %d, resources %s",
			orderName(m.slave), m.slave.MaxCTO, m.slave.MaxDTO, m.slave.Resources)))
		b.WriteString("\n")
	}

	b.WriteString(s.Panel.Render(m.signalTable()))
	b.WriteString("\n")

	st := m.stats
	b.WriteString(fmt.Sprintf("queued %d  in-flight %t  sent %d  responses %d  errors %d  timeouts %d  retries %d  daq %d",
		st.Queued, st.InFlight, st.Sent, st.Responses, st.NegativeResponse, st.Timeouts, st.Retries, st.DaqPackets))
	b.WriteString("\n")

	if len(m.notices) > 0 {
		b.WriteString(s.Header.Render("Notices"))
		b.WriteString("\n")
		for _, n := range m.notices {
			b.WriteString(s.Warning.Render(n))
			b.WriteString("\n")
		}
	}
	if m.status != "" {
		b.WriteString(m.status)
		b.WriteString("\n")
	}

	b.WriteString(s.Footer.Render(strings.Join([]string{
		keyHint(s, "r", "record"),
		keyHint(s, "c", "copy value"),
		keyHint(s, "↑/↓", "select"),
		keyHint(s, "q", "quit"),
	}, "  ")))
	return b.String()
}

func (m *Monitor) signalTable() string {
	s := m.styles
	header := fmt.Sprintf("%-18s %-10s %-8s %12s %12s %12s %8s  %s",
		"SIGNAL", "ADDRESS", "TRIGGER", "VALUE", "MIN", "MAX", "COUNT", "HISTORY")
	rows := []string{s.Header.Render(header)}

	for i, sig := range m.opts.Signals {
		value, lo, hi, count := "-", "-", "-", "0"
		if e, ok := m.elements[sig.Name]; ok && e.Count > 0 {
			value = fmt.Sprintf("%d", e.Latest.Value)
			lo = fmt.Sprintf("%d", e.Min)
			hi = fmt.Sprintf("%d", e.Max)
			count = fmt.Sprintf("%d", e.Count)
		}
		line := fmt.Sprintf("%-18s 0x%08X %-8s %12s %12s %12s %8s  ",
			truncate(sig.Name, 18), sig.Address, sig.Trigger, value, lo, hi, count)
		spark := s.Spark.Render(Sparkline(m.history[sig.Name], sparkWidth))
		if i == m.cursor {
			rows = append(rows, s.Selected.Render(line)+spark)
		} else {
			rows = append(rows, s.Base.Render(line)+spark)
		}
	}
	if len(m.opts.Signals) == 0 {
		rows = append(rows, s.Dim.Render("no signals configured"))
	}
	return lipgloss.JoinVertical(lipgloss.Left, rows...)
}

func keyHint(s Styles, key, label string) string {
	return s.KeyBinding.Render(key) + " " + s.KeyHint.Render(label)
}

func orderName(c session.SlaveConfig) string {
	if c.ByteOrder() == binary.BigEndian {
		return "big-endian"
	}
	return "little-endian"
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}

// RunMonitor runs the monitor full screen until the user quits or ctx ends.
func RunMonitor(ctx context.Context, src Source, rec *record.Recorder, opts MonitorOptions) error {
	p := tea.NewProgram(NewMonitor(ctx, src, rec, opts), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	if err == tea.ErrProgramKilled && ctx.Err() != nil {
		return nil
	}
	return err
}
