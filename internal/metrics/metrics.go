package metrics

// Metrics collection for XCP command exchanges

import (
	"math"
	"sort"
	"sync"
	"time"
)

// Outcome classifies how a command exchange ended
type Outcome string

const (
	OutcomeOK       Outcome = "ok"
	OutcomeNegative Outcome = "negative"
	OutcomeTimeout  Outcome = "timeout"
	OutcomeInvalid  Outcome = "invalid"
	OutcomeDropped  Outcome = "dropped"
	OutcomeSendFail Outcome = "send_failed"
)

// Metric represents one command exchange
type Metric struct {
	Timestamp time.Time
	Command   string
	Target    string
	Success   bool
	RTTMs     float64
	Attempt   int
	ErrorCode string
	Error     string
	Outcome   Outcome
}

// Sink collects and aggregates metrics
type Sink struct {
	mu      sync.RWMutex
	metrics []Metric
	summary *Summary
}

func newSummary() *Summary {
	return &Summary{
		RTTBuckets:   make(map[string]int),
		ByCommand:    make(map[string]*CommandStats),
		ErrorsByCode: make(map[string]int),
	}
}

// Summary contains aggregated statistics
type Summary struct {
	TotalOperations   int
	SuccessfulOps     int
	FailedOps         int
	TimeoutCount      int
	NegativeResponses int
	InvalidResponses  int
	DroppedCommands   int
	RetriedCommands   int
	MinRTT            float64
	MaxRTT            float64
	AvgRTT            float64
	P50RTT            float64
	P90RTT            float64
	P95RTT            float64
	P99RTT            float64
	RTTBuckets        map[string]int
	ByCommand         map[string]*CommandStats
	ErrorsByCode      map[string]int
}

// CommandStats contains statistics for one XCP command
type CommandStats struct {
	Count   int
	Success int
	Failed  int
	MinRTT  float64
	MaxRTT  float64
	AvgRTT  float64
	SumRTT  float64
}

// NewSink creates a new metrics sink
func NewSink() *Sink {
	return &Sink{
		metrics: make([]Metric, 0),
		summary: newSummary(),
	}
}

// Record records a new metric
func (s *Sink) Record(m Metric) {
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.metrics = append(s.metrics, m)
	s.updateSummary(m)
}

// GetMetrics returns a copy of all recorded metrics
func (s *Sink) GetMetrics() []Metric {
	s.mu.RLock()
	defer s.mu.RUnlock()

	metrics := make([]Metric, len(s.metrics))
	copy(metrics, s.metrics)
	return metrics
}

// GetSummary returns a copy of the aggregated summary
func (s *Sink) GetSummary() *Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	summary := *s.summary
	summary.RTTBuckets = make(map[string]int)
	summary.ByCommand = make(map[string]*CommandStats, len(s.summary.ByCommand))
	summary.ErrorsByCode = make(map[string]int, len(s.summary.ErrorsByCode))

	for cmd, stats := range s.summary.ByCommand {
		copied := *stats
		summary.ByCommand[cmd] = &copied
	}
	for code, n := range s.summary.ErrorsByCode {
		summary.ErrorsByCode[code] = n
	}

	percentiles, buckets := summarizeRTT(s.metrics)
	summary.P50RTT = percentiles[0]
	summary.P90RTT = percentiles[1]
	summary.P95RTT = percentiles[2]
	summary.P99RTT = percentiles[3]
	for k, v := range buckets {
		summary.RTTBuckets[k] = v
	}

	return &summary
}

// updateSummary folds a new metric into the running summary
func (s *Sink) updateSummary(m Metric) {
	s.summary.TotalOperations++

	if m.Success {
		s.summary.SuccessfulOps++
	} else {
		s.summary.FailedOps++
		switch m.Outcome {
		case OutcomeTimeout:
			s.summary.TimeoutCount++
		case OutcomeNegative:
			s.summary.NegativeResponses++
		case OutcomeInvalid:
			s.summary.InvalidResponses++
		case OutcomeDropped:
			s.summary.DroppedCommands++
		}
		if m.ErrorCode != "" {
			s.summary.ErrorsByCode[m.ErrorCode]++
		}
	}
	if m.Attempt > 0 && m.Outcome != OutcomeTimeout {
		s.summary.RetriedCommands++
	}

	if m.Success && m.RTTMs > 0 {
		if s.summary.MinRTT == 0 || m.RTTMs < s.summary.MinRTT {
			s.summary.MinRTT = m.RTTMs
		}
		if m.RTTMs > s.summary.MaxRTT {
			s.summary.MaxRTT = m.RTTMs
		}
		totalRTT := s.summary.AvgRTT * float64(s.summary.SuccessfulOps-1)
		totalRTT += m.RTTMs
		s.summary.AvgRTT = totalRTT / float64(s.summary.SuccessfulOps)
	}

	stats, exists := s.summary.ByCommand[m.Command]
	if !exists {
		stats = &CommandStats{}
		s.summary.ByCommand[m.Command] = stats
	}
	stats.Count++
	if m.Success {
		stats.Success++
		if m.RTTMs > 0 {
			if stats.MinRTT == 0 || m.RTTMs < stats.MinRTT {
				stats.MinRTT = m.RTTMs
			}
			if m.RTTMs > stats.MaxRTT {
				stats.MaxRTT = m.RTTMs
			}
			stats.SumRTT += m.RTTMs
			stats.AvgRTT = stats.SumRTT / float64(stats.Success)
		}
	} else {
		stats.Failed++
	}
}

func summarizeRTT(metrics []Metric) ([4]float64, map[string]int) {
	rtts := make([]float64, 0, len(metrics))
	buckets := make(map[string]int)

	for _, m := range metrics {
		if m.Success && m.RTTMs > 0 {
			rtts = append(rtts, m.RTTMs)
			incrementBucket(buckets, m.RTTMs)
		}
	}
	return computePercentiles(rtts), buckets
}

func incrementBucket(buckets map[string]int, value float64) {
	switch {
	case value < 1:
		buckets["lt_1ms"]++
	case value < 5:
		buckets["1_5ms"]++
	case value < 10:
		buckets["5_10ms"]++
	case value < 50:
		buckets["10_50ms"]++
	case value < 100:
		buckets["50_100ms"]++
	case value < 500:
		buckets["100_500ms"]++
	default:
		buckets["gt_500ms"]++
	}
}

func computePercentiles(values []float64) [4]float64 {
	var result [4]float64
	if len(values) == 0 {
		return result
	}
	sort.Float64s(values)
	result[0] = percentile(values, 0.50)
	result[1] = percentile(values, 0.90)
	result[2] = percentile(values, 0.95)
	result[3] = percentile(values, 0.99)
	return result
}

func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := int(math.Ceil(p*float64(len(sorted)))) - 1
	if rank < 0 {
		rank = 0
	}
	if rank >= len(sorted) {
		rank = len(sorted) - 1
	}
	return sorted[rank]
}
