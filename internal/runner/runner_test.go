package runner_test

import (
	"context"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/torosent/wsbench/internal/gateway"
	"github.com/torosent/wsbench/internal/metrics"
	"github.com/torosent/wsbench/internal/runner"
	"github.com/torosent/wsbench/internal/websocket"
	"github.com/torosent/wsbench/internal/worker"
)

func runWithin(t *testing.T, d time.Duration, ctx context.Context, r *runner.Runner) metrics.Summary {
	t.Helper()
	type result struct {
		summary metrics.Summary
		err     error
	}
	ch := make(chan result, 1)
	go func() {
		s, err := r.Run(ctx)
		ch <- result{s, err}
	}()
	select {
	case res := <-ch:
		if res.err != nil {
			t.Fatalf("run failed: %v", res.err)
		}
		return res.summary
	case <-time.After(d):
		t.Fatalf("run did not finish within %v", d)
	}
	return metrics.Summary{}
}

func TestRunnerEchoScenario(t *testing.T) {
	r := runner.New(runner.Options{
		Target:                "ws://gateway.test/ws",
		Connections:           3,
		RequestsPerConnection: 2,
		MessageType:           7,
		MessageData:           map[string]interface{}{"user": "benchmark_user", "text": "Benchmark test message"},
		Dialer:                gateway.NewMemoryDialer(gateway.Options{}),
		PollInterval:          5 * time.Millisecond,
	})
	s := runWithin(t, 5*time.Second, context.Background(), r)

	if s.TotalRequests != 6 || s.SuccessfulRequests != 6 || s.FailedRequests != 0 {
		t.Fatalf("total=%d successful=%d failed=%d, want 6/6/0", s.TotalRequests, s.SuccessfulRequests, s.FailedRequests)
	}
	if len(s.ErrorRates) != 0 {
		t.Fatalf("error rates = %v, want empty", s.ErrorRates)
	}
	if s.MinLatency < 0 || s.MinLatency > s.AverageLatency || s.AverageLatency > s.MaxLatency {
		t.Fatalf("latencies out of order: min=%v avg=%v max=%v", s.MinLatency, s.AverageLatency, s.MaxLatency)
	}
	if s.Connections != 3 {
		t.Fatalf("connections = %d", s.Connections)
	}
	if _, err := ulid.Parse(s.RunID); err != nil {
		t.Fatalf("run id %q is not a ULID: %v", s.RunID, err)
	}
	if s.TotalTime <= 0 {
		t.Fatalf("total time = %v", s.TotalTime)
	}
}

func TestRunnerConnectFailures(t *testing.T) {
	d := gateway.NewMemoryDialer(gateway.Options{})
	d.FailConnect = true

	r := runner.New(runner.Options{
		Target:                "ws://gateway.test/ws",
		Connections:           4,
		RequestsPerConnection: 10,
		Dialer:                d,
		PollInterval:          5 * time.Millisecond,
	})
	s := runWithin(t, 5*time.Second, context.Background(), r)

	if s.SuccessfulRequests != 0 || s.TotalRequests != 0 {
		t.Fatalf("total=%d successful=%d, want 0/0", s.TotalRequests, s.SuccessfulRequests)
	}
	if got := s.ErrorRates[string(metrics.ConnectionError)]; got != 4 {
		t.Fatalf("ConnectionError = %d, want 4", got)
	}
	if s.AverageLatencyMs != 0 || s.MinLatencyMs != 0 || s.MaxLatencyMs != 0 {
		t.Fatalf("latencies without samples must be zero: %+v", s)
	}
	if d.Dials() != 4 {
		t.Fatalf("dials = %d, want 4", d.Dials())
	}
}

func TestRunnerNeverAuthenticated(t *testing.T) {
	var mu sync.Mutex
	streaming := 0

	r := runner.New(runner.Options{
		Target:                "ws://gateway.test/ws",
		Connections:           5,
		RequestsPerConnection: 10,
		Dialer:                gateway.NewMemoryDialer(gateway.Options{SkipAuth: true, HangUpUnauthenticated: true}),
		PollInterval:          5 * time.Millisecond,
		OnStateChange: func(_ int, s worker.State) {
			if s == worker.Streaming {
				mu.Lock()
				streaming++
				mu.Unlock()
			}
		},
	})
	s := runWithin(t, 5*time.Second, context.Background(), r)

	if s.TotalRequests != 0 {
		t.Fatalf("total = %d, want 0", s.TotalRequests)
	}
	mu.Lock()
	defer mu.Unlock()
	if streaming != 0 {
		t.Fatalf("%d connections entered streaming without authentication", streaming)
	}
}

func TestRunnerRejectsInvalidTargets(t *testing.T) {
	for _, target := range []string{"", "http://example.com", "ws://", "not a url"} {
		r := runner.New(runner.Options{
			Target:      target,
			Connections: 1,
			Dialer:      gateway.NewMemoryDialer(gateway.Options{}),
		})
		if _, err := r.Run(context.Background()); err == nil {
			t.Errorf("target %q: expected error", target)
		}
	}
}

func TestRunnerRequiresDialerAndConnections(t *testing.T) {
	if _, err := runner.New(runner.Options{Target: "ws://x", Connections: 1}).Run(context.Background()); err == nil {
		t.Error("expected error without a dialer")
	}
	d := gateway.NewMemoryDialer(gateway.Options{})
	if _, err := runner.New(runner.Options{Target: "ws://x", Dialer: d}).Run(context.Background()); err == nil {
		t.Error("expected error with zero connections")
	}
	if d.Dials() != 0 {
		t.Fatal("invalid runs must not attempt connections")
	}
}

// timedDialer records when each connection index was dialed.
type timedDialer struct {
	inner websocket.Dialer
	mu    sync.Mutex
	times []time.Time
}

func (d *timedDialer) Dial(ctx context.Context, url string) (websocket.Conn, error) {
	d.mu.Lock()
	d.times = append(d.times, time.Now())
	d.mu.Unlock()
	return d.inner.Dial(ctx, url)
}

func TestRunnerRampUpSpacing(t *testing.T) {
	const rampUp = time.Second
	d := &timedDialer{inner: gateway.NewMemoryDialer(gateway.Options{})}

	r := runner.New(runner.Options{
		Target:                "ws://gateway.test/ws",
		Connections:           100,
		RequestsPerConnection: 1,
		RampUp:                rampUp,
		Dialer:                d,
		PollInterval:          5 * time.Millisecond,
	})
	start := time.Now()
	runWithin(t, 10*time.Second, context.Background(), r)

	d.mu.Lock()
	times := append([]time.Time(nil), d.times...)
	d.mu.Unlock()
	if len(times) != 100 {
		t.Fatalf("dials = %d, want 100", len(times))
	}
	sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })

	early := 0
	for _, ts := range times {
		if ts.Sub(start) < 50*time.Millisecond {
			early++
		}
	}
	if early > 10 {
		t.Fatalf("%d connection attempts in the first instant, want <= 10", early)
	}

	// Batch k can start no earlier than k delays after the run began.
	for k := 1; k < 10; k++ {
		first := times[k*10]
		if min := time.Duration(k) * rampUp / 10; first.Sub(start) < min {
			t.Fatalf("batch %d started after %v, want >= %v", k, first.Sub(start), min)
		}
	}
	if elapsed := times[99].Sub(start); elapsed >= rampUp {
		t.Fatalf("last batch launched after %v; no trailing delay expected", elapsed)
	}
}

func TestRunnerCancellationCountsUnlaunchedConnections(t *testing.T) {
	d := gateway.NewMemoryDialer(gateway.Options{SkipAuth: true})
	r := runner.New(runner.Options{
		Target:                "ws://gateway.test/ws",
		Connections:           20,
		RequestsPerConnection: 5,
		RampUp:                5 * time.Second,
		Dialer:                d,
		PollInterval:          5 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)
	s := runWithin(t, 5*time.Second, ctx, r)

	if s.Connections != 20 {
		t.Fatalf("connections = %d", s.Connections)
	}
	if d.Dials() >= 20 {
		t.Fatalf("dials = %d; cancellation should stop the ramp", d.Dials())
	}
	if len(s.ErrorRates) != 0 {
		t.Fatalf("cancellation must not tally errors: %v", s.ErrorRates)
	}
	if got := r.Aggregator().Counters().Completed(); got != 20 {
		t.Fatalf("completed = %d, want 20", got)
	}
}

func TestRunnerAgainstGatewayServer(t *testing.T) {
	h := gateway.NewHandler(gateway.Options{HeartbeatInterval: 50 * time.Millisecond})
	server := httptest.NewServer(h)
	defer server.Close()

	r := runner.New(runner.Options{
		Target:                "ws" + strings.TrimPrefix(server.URL, "http"),
		Connections:           5,
		RequestsPerConnection: 3,
		Interval:              5 * time.Millisecond,
		MessageType:           7,
		MessageData:           map[string]interface{}{"text": "hi"},
		DrainTimeout:          2 * time.Second,
		Dialer:                websocket.NewDialer(websocket.Config{}),
		PollInterval:          5 * time.Millisecond,
	})
	s := runWithin(t, 10*time.Second, context.Background(), r)

	if s.TotalRequests != 15 || s.SuccessfulRequests != 15 {
		t.Fatalf("total=%d successful=%d, want 15/15", s.TotalRequests, s.SuccessfulRequests)
	}
	if len(s.ErrorRates) != 0 {
		t.Fatalf("errors = %v", s.ErrorRates)
	}
	if s.MessagesReceived < 15 || s.BytesSent == 0 {
		t.Fatalf("traffic not folded: %+v", s)
	}
	if h.Connections() != 5 {
		t.Fatalf("server saw %d connections, want 5", h.Connections())
	}
}

func TestRunnerDroppedResponsesAreFailedRequests(t *testing.T) {
	r := runner.New(runner.Options{
		Target:                "ws://gateway.test/ws",
		Connections:           2,
		RequestsPerConnection: 3,
		DrainTimeout:          20 * time.Millisecond,
		Dialer:                gateway.NewMemoryDialer(gateway.Options{DropResponses: true}),
		PollInterval:          5 * time.Millisecond,
	})
	s := runWithin(t, 5*time.Second, context.Background(), r)

	if s.TotalRequests != 6 || s.SuccessfulRequests != 0 || s.FailedRequests != 6 {
		t.Fatalf("total=%d successful=%d failed=%d", s.TotalRequests, s.SuccessfulRequests, s.FailedRequests)
	}
	if s.RequestsPerSecond != 0 {
		t.Fatalf("rps = %v, want 0", s.RequestsPerSecond)
	}
}
