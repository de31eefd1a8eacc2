package progress

// Terminal progress for recording runs and capture file processing.

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

const (
	barWidth       = 40
	renderInterval = 100 * time.Millisecond
)

// Bar shows progress toward a known total, e.g. seconds of a timed
// recording or files of a capture directory.
type Bar struct {
	mu         sync.Mutex
	total      int64
	current    int64
	label      string
	unit       string
	note       string
	startTime  time.Time
	lastUpdate time.Time
	output     io.Writer
	enabled    bool
}

// NewBar creates a bar writing to stderr.
func NewBar(total int64, label, unit string) *Bar {
	now := time.Now()
	return &Bar{
		total:      total,
		label:      label,
		unit:       unit,
		startTime:  now,
		lastUpdate: now,
		output:     os.Stderr,
		enabled:    true,
	}
}

// SetOutput redirects rendering.
func (p *Bar) SetOutput(w io.Writer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.output = w
}

// Disable suppresses all output.
func (p *Bar) Disable() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.enabled = false
}

// Add advances the bar by n.
func (p *Bar) Add(n int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.current += n
	p.render(false)
}

// Set moves the bar to n.
func (p *Bar) Set(n int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.current = n
	p.render(false)
}

// SetNote replaces the trailing status text, e.g. a live sample count.
func (p *Bar) SetNote(note string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.note = note
}

// Finish fills the bar and ends the line.
func (p *Bar) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.enabled {
		return
	}
	p.current = p.total
	p.render(true)
	fmt.Fprint(p.output, "\n")
}

func (p *Bar) render(force bool) {
	if !p.enabled {
		return
	}
	now := time.Now()
	if !force && now.Sub(p.lastUpdate) < renderInterval && p.current < p.total {
		return
	}
	p.lastUpdate = now

	var percent float64
	if p.total > 0 {
		percent = float64(p.current) / float64(p.total) * 100
	}
	filled := int(float64(barWidth) * percent / 100)
	if filled > barWidth {
		filled = barWidth
	}
	bar := strings.Repeat("=", filled)
	if filled < barWidth {
		bar += ">" + strings.Repeat("-", barWidth-filled-1)
	}

	elapsed := time.Since(p.startTime)
	var b strings.Builder
	b.WriteString("\r")
	if p.label != "" {
		b.WriteString(p.label + " ")
	}
	fmt.Fprintf(&b, "[%s] %d/%d", bar, p.current, p.total)
	if p.unit != "" {
		b.WriteString(" " + p.unit)
	}
	fmt.Fprintf(&b, " (%.1f%%) | elapsed %s", percent, formatDuration(elapsed))
	if p.current > 0 && p.current < p.total {
		rate := float64(p.current) / elapsed.Seconds()
		if rate > 0 {
			eta := time.Duration(float64(p.total-p.current) / rate * float64(time.Second))
			fmt.Fprintf(&b, " | ETA %s", formatDuration(eta))
		}
	}
	if p.note != "" {
		b.WriteString(" | " + p.note)
	}
	fmt.Fprint(p.output, b.String())
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
}

// Counter reports a running count without a known total, e.g. samples of
// an open-ended recording.
type Counter struct {
	mu         sync.Mutex
	output     io.Writer
	enabled    bool
	label      string
	unit       string
	lastUpdate time.Time
	interval   time.Duration
}

// NewCounter renders at most once per interval to stderr.
func NewCounter(label, unit string, interval time.Duration) *Counter {
	return &Counter{
		output:     os.Stderr,
		enabled:    true,
		label:      label,
		unit:       unit,
		lastUpdate: time.Now(),
		interval:   interval,
	}
}

// SetOutput redirects rendering.
func (c *Counter) SetOutput(w io.Writer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.output = w
}

// Disable suppresses all output.
func (c *Counter) Disable() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enabled = false
}

// Update shows count and an optional message.
func (c *Counter) Update(count uint64, message string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.enabled {
		return
	}
	now := time.Now()
	if now.Sub(c.lastUpdate) < c.interval {
		return
	}
	c.lastUpdate = now

	line := fmt.Sprintf("\r%d %s", count, c.unit)
	if c.label != "" {
		line = fmt.Sprintf("\r%s: %d %s", c.label, count, c.unit)
	}
	if message != "" {
		line += " | " + message
	}
	fmt.Fprint(c.output, line)
}

// Finish ends the line.
func (c *Counter) Finish() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.enabled {
		fmt.Fprint(c.output, "\n")
	}
}
