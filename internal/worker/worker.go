// Package worker drives a single benchmark connection through its lifecycle:
// connect, identify, authenticate, stream requests, drain and close.
//
// While a connection is open, four duties run concurrently and talk only
// through channels:
//
//   - the writer owns the transport's send side and drains one bounded
//     outbound queue, so writes are serialized without a transport lock;
//   - the reader owns the receive side and dispatches decoded frames;
//   - the emitter produces paced request frames once authenticated;
//   - the heartbeat produces keep-alive frames at the server's cadence.
//
// Connection-level failures are tallied in the shared aggregator and never
// returned to the caller.
package worker

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/torosent/wsbench/internal/metrics"
	"github.com/torosent/wsbench/internal/protocol"
	"github.com/torosent/wsbench/internal/tracker"
	"github.com/torosent/wsbench/internal/websocket"
)

// DefaultQueueSize bounds each connection's outbound queue.
const DefaultQueueSize = 100

// Config is the per-run connection configuration, shared read-only by every worker.
type Config struct {
	Target         string
	Requests       int
	Interval       time.Duration
	DrainTimeout   time.Duration
	UsernamePrefix string
	Template       *protocol.RequestTemplate
	QueueSize      int
}

// Deps are the run-wide collaborators handed to every worker.
type Deps struct {
	Dialer     websocket.Dialer
	Aggregator *metrics.Aggregator
	Tracker    *tracker.Tracker
	IDs        *IDSequence
	Logger     *zap.Logger
	Tracer     trace.Tracer

	// OnStateChange, when set, observes every transition.
	OnStateChange func(connection int, state State)
}

// Worker owns one logical connection.
type Worker struct {
	index int
	cfg   *Config
	deps  Deps
	log   *zap.Logger
	span  trace.Span
	state atomic.Int32
}

// New returns a worker for connection index.
func New(index int, cfg *Config, deps Deps) *Worker {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Tracer == nil {
		deps.Tracer = noop.NewTracerProvider().Tracer("")
	}
	if deps.IDs == nil {
		deps.IDs = &IDSequence{}
	}
	return &Worker{
		index: index,
		cfg:   cfg,
		deps:  deps,
		log:   deps.Logger.With(zap.Int("connection", index)),
	}
}

// State returns the current lifecycle state.
func (w *Worker) State() State {
	return State(w.state.Load())
}

// Run executes the connection lifecycle and returns when it is Closed.
func (w *Worker) Run(ctx context.Context) {
	opts := []trace.SpanStartOption{
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.Int("wsbench.connection", w.index)),
	}
	// Each connection is its own trace, linked to the run, so sampling is per connection.
	if run := trace.SpanContextFromContext(ctx); run.IsValid() {
		opts = append(opts, trace.WithNewRoot(), trace.WithLinks(trace.Link{SpanContext: run}))
	}
	ctx, w.span = w.deps.Tracer.Start(ctx, "websocket connection", opts...)

	opened := false
	defer func() {
		w.setState(Closed)
		w.deps.Aggregator.Counters().ConnectionClosed(opened)
		w.span.End()
	}()

	w.emitState(Connecting)
	conn, err := w.deps.Dialer.Dial(ctx, w.cfg.Target)
	if err != nil {
		if ctx.Err() != nil {
			w.log.Debug("connect aborted", zap.Error(err))
			return
		}
		w.fail(metrics.ConnectionError, err)
		return
	}
	opened = true
	w.deps.Aggregator.Counters().ConnectionOpened()
	defer func() {
		_ = conn.Close()
		w.deps.Aggregator.AddTraffic(conn.Metrics().Traffic())
	}()

	w.setState(HandshakeSent)
	identify, err := protocol.Identify(w.username())
	if err == nil {
		err = conn.Send(ctx, websocket.Message{Type: websocket.TextMessage, Data: identify})
	}
	if err != nil {
		w.fail(metrics.SendError, fmt.Errorf("send identify: %w", err))
		return
	}

	w.setState(AwaitingAuth)
	newSession(w, conn).run(ctx)
}

func (w *Worker) username() string {
	return fmt.Sprintf("%s%d", w.cfg.UsernamePrefix, w.index)
}

// setState moves the worker forward to s. Backward moves are ignored so
// concurrent duties can race to the same transition safely.
func (w *Worker) setState(s State) bool {
	for {
		cur := w.state.Load()
		if State(cur) >= s {
			return false
		}
		if w.state.CompareAndSwap(cur, int32(s)) {
			w.emitState(s)
			return true
		}
	}
}

func (w *Worker) emitState(s State) {
	w.log.Debug("state", zap.Stringer("state", s))
	if w.span != nil {
		w.span.AddEvent(s.String())
	}
	if w.deps.OnStateChange != nil {
		w.deps.OnStateChange(w.index, s)
	}
}

func (w *Worker) fail(kind metrics.ErrorKind, err error) {
	w.deps.Aggregator.RecordError(kind)
	w.log.Debug("connection failure", zap.String("kind", string(kind)), zap.Error(err))
	w.span.RecordError(err, trace.WithAttributes(attribute.String("wsbench.error_kind", string(kind))))
	w.span.SetStatus(codes.Error, string(kind))
}
