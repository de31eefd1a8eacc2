package tui

import (
	"strings"

	"github.com/tonylturner/xcpmaster/internal/xcp/signal"
)

var sparkBlocks = []rune{'▁', '▂', '▃', '▄', '▅', '▆', '▇', '█'}

// Sparkline renders the last width values scaled between their minimum and
// maximum. Columns without data are blank.
func Sparkline(values []int64, width int) string {
	if width < 1 {
		return ""
	}
	if len(values) > width {
		values = values[len(values)-width:]
	}
	if len(values) == 0 {
		return strings.Repeat(" ", width)
	}

	lo, hi := values[0], values[0]
	for _, v := range values {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}

	var b strings.Builder
	b.WriteString(strings.Repeat(" ", width-len(values)))
	top := len(sparkBlocks) - 1
	for _, v := range values {
		level := 0
		if hi > lo {
			level = int(float64(v-lo) / float64(hi-lo) * float64(top))
		}
		b.WriteRune(sparkBlocks[level])
	}
	return b.String()
}

func sampleValues(samples []signal.Sample) []int64 {
	values := make([]int64, len(samples))
	for i, s := range samples {
		values[i] = s.Value
	}
	return values
}
