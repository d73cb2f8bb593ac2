package metrics

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// Aggregator records run measurements in a thread-safe manner.
type Aggregator struct {
	counters Counters

	latMu      sync.Mutex
	hist       *hdrhistogram.Histogram
	samples    int64
	sumLatency time.Duration
	minLatency time.Duration
	maxLatency time.Duration

	errMu        sync.Mutex
	errorsByKind map[ErrorKind]int64

	messagesSent int64
	messagesRecv int64
	bytesSent    int64
	bytesRecv    int64
}

// Traffic is the per-connection message and byte volume folded into the run totals.
type Traffic struct {
	MessagesSent     int64
	MessagesReceived int64
	BytesSent        int64
	BytesReceived    int64
}

// Summary is the immutable result of a run.
type Summary struct {
	RunID              string  `json:"run_id" yaml:"run_id"`
	Connections        int     `json:"connections" yaml:"connections"`
	TotalRequests      int64   `json:"total_requests" yaml:"total_requests"`
	SuccessfulRequests int64   `json:"successful_requests" yaml:"successful_requests"`
	FailedRequests     int64   `json:"failed_requests" yaml:"failed_requests"`
	AverageLatencyMs   float64 `json:"average_latency_ms" yaml:"average_latency_ms"`
	MinLatencyMs       float64 `json:"min_latency_ms" yaml:"min_latency_ms"`
	MaxLatencyMs       float64 `json:"max_latency_ms" yaml:"max_latency_ms"`
	P50LatencyMs       float64 `json:"p50_latency_ms" yaml:"p50_latency_ms"`
	P90LatencyMs       float64 `json:"p90_latency_ms" yaml:"p90_latency_ms"`
	P99LatencyMs       float64 `json:"p99_latency_ms" yaml:"p99_latency_ms"`
	RequestsPerSecond  float64 `json:"requests_per_second" yaml:"requests_per_second"`
	TotalTimeMs        float64 `json:"total_time_ms" yaml:"total_time_ms"`
	MessagesSent       int64   `json:"messages_sent" yaml:"messages_sent"`
	MessagesReceived   int64   `json:"messages_received" yaml:"messages_received"`
	BytesSent          int64   `json:"bytes_sent" yaml:"bytes_sent"`
	BytesReceived      int64   `json:"bytes_received" yaml:"bytes_received"`

	ErrorRates map[string]int64 `json:"error_rates" yaml:"error_rates"`

	AverageLatency time.Duration `json:"-" yaml:"-"`
	MinLatency     time.Duration `json:"-" yaml:"-"`
	MaxLatency     time.Duration `json:"-" yaml:"-"`
	P50Latency     time.Duration `json:"-" yaml:"-"`
	P90Latency     time.Duration `json:"-" yaml:"-"`
	P99Latency     time.Duration `json:"-" yaml:"-"`
	TotalTime      time.Duration `json:"-" yaml:"-"`
}

// NewAggregator returns an empty Aggregator.
func NewAggregator() *Aggregator {
	// Track latencies from 1µs up to 60s with 3 significant figures.
	h := hdrhistogram.New(1, 60_000_000, 3)
	return &Aggregator{
		hist:         h,
		errorsByKind: make(map[ErrorKind]int64),
	}
}

// Counters exposes the lock-free run counters.
func (a *Aggregator) Counters() *Counters {
	return &a.counters
}

// RecordRequest counts one emitted request. Callers count a request before
// it can reach the wire, so a live snapshot never shows more successes than
// requests.
func (a *Aggregator) RecordRequest() {
	atomic.AddInt64(&a.counters.totalRequests, 1)
}

// WithdrawRequest reverses a RecordRequest whose frame was never handed to
// the transport.
func (a *Aggregator) WithdrawRequest() {
	atomic.AddInt64(&a.counters.totalRequests, -1)
}

// RecordSuccess records a resolved request and its latency.
func (a *Aggregator) RecordSuccess(latency time.Duration) {
	if latency < 0 {
		latency = 0
	}
	atomic.AddInt64(&a.counters.successful, 1)

	a.latMu.Lock()
	defer a.latMu.Unlock()

	us := latency.Microseconds()
	if us < a.hist.LowestTrackableValue() {
		us = a.hist.LowestTrackableValue()
	}
	if us > a.hist.HighestTrackableValue() {
		us = a.hist.HighestTrackableValue()
	}
	_ = a.hist.RecordValue(us)

	if a.samples == 0 || latency < a.minLatency {
		a.minLatency = latency
	}
	if latency > a.maxLatency {
		a.maxLatency = latency
	}
	a.sumLatency += latency
	a.samples++
}

// LatencySamples returns the number of latencies recorded.
func (a *Aggregator) LatencySamples() int64 {
	a.latMu.Lock()
	defer a.latMu.Unlock()
	return a.samples
}

// RecordError increments the tally for kind.
func (a *Aggregator) RecordError(kind ErrorKind) {
	a.errMu.Lock()
	a.errorsByKind[kind]++
	a.errMu.Unlock()
}

// AddTraffic folds one connection's traffic into the run totals.
func (a *Aggregator) AddTraffic(t Traffic) {
	atomic.AddInt64(&a.messagesSent, t.MessagesSent)
	atomic.AddInt64(&a.messagesRecv, t.MessagesReceived)
	atomic.AddInt64(&a.bytesSent, t.BytesSent)
	atomic.AddInt64(&a.bytesRecv, t.BytesReceived)
}

// ErrorBreakdown returns a copy of the error tally.
func (a *Aggregator) ErrorBreakdown() map[string]int64 {
	a.errMu.Lock()
	defer a.errMu.Unlock()

	result := make(map[string]int64, len(a.errorsByKind))
	for k, v := range a.errorsByKind {
		result[string(k)] = v
	}
	return result
}

// Summarize computes the run summary for the wall-clock window [start, end].
func (a *Aggregator) Summarize(start, end time.Time) Summary {
	counters := a.counters.Snapshot()

	elapsed := end.Sub(start)
	if elapsed < 0 {
		elapsed = 0
	}

	s := Summary{
		TotalRequests:      counters.TotalRequests,
		SuccessfulRequests: counters.SuccessfulRequests,
		FailedRequests:     counters.TotalRequests - counters.SuccessfulRequests,
		TotalTime:          elapsed,
		MessagesSent:       atomic.LoadInt64(&a.messagesSent),
		MessagesReceived:   atomic.LoadInt64(&a.messagesRecv),
		BytesSent:          atomic.LoadInt64(&a.bytesSent),
		BytesReceived:      atomic.LoadInt64(&a.bytesRecv),
	}
	if s.FailedRequests < 0 {
		s.FailedRequests = 0
	}
	if elapsed > 0 {
		s.RequestsPerSecond = float64(counters.SuccessfulRequests) / elapsed.Seconds()
	}

	a.latMu.Lock()
	if a.samples > 0 {
		s.AverageLatency = time.Duration(int64(a.sumLatency) / a.samples)
		s.MinLatency = a.minLatency
		s.MaxLatency = a.maxLatency
		s.P50Latency = time.Duration(a.hist.ValueAtQuantile(50)) * time.Microsecond
		s.P90Latency = time.Duration(a.hist.ValueAtQuantile(90)) * time.Microsecond
		s.P99Latency = time.Duration(a.hist.ValueAtQuantile(99)) * time.Microsecond
	}
	a.latMu.Unlock()

	s.ErrorRates = a.ErrorBreakdown()

	s.AverageLatencyMs = toMillis(s.AverageLatency)
	s.MinLatencyMs = toMillis(s.MinLatency)
	s.MaxLatencyMs = toMillis(s.MaxLatency)
	s.P50LatencyMs = toMillis(s.P50Latency)
	s.P90LatencyMs = toMillis(s.P90Latency)
	s.P99LatencyMs = toMillis(s.P99Latency)
	s.TotalTimeMs = toMillis(elapsed)

	return s
}

func toMillis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
