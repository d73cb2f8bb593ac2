package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/torosent/wsbench/internal/metrics"
	"github.com/torosent/wsbench/internal/protocol"
	"github.com/torosent/wsbench/internal/websocket"
)

// session holds the concurrent duties of one established connection.
type session struct {
	w    *Worker
	conn websocket.Conn

	outbound chan []byte

	// senders counts every duty that may write to outbound. The reader is
	// counted too because it is the one that starts the heartbeat.
	senders sync.WaitGroup

	authenticated chan struct{}
	authOnce      sync.Once

	// stopCtx is cancelled when the connection starts draining.
	stopCtx  context.Context
	stop     context.CancelFunc
	drainOne sync.Once

	writerDone chan struct{}

	// closing is set before the session tears the transport down itself, so
	// the resulting read failure is not tallied as a ReadError.
	closing    atomic.Bool
	timerMu    sync.Mutex
	drainTimer *time.Timer
	armOnce    sync.Once
}

func newSession(w *Worker, conn websocket.Conn) *session {
	size := w.cfg.QueueSize
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &session{
		w:             w,
		conn:          conn,
		outbound:      make(chan []byte, size),
		authenticated: make(chan struct{}),
		writerDone:    make(chan struct{}),
	}
}

func (s *session) run(ctx context.Context) {
	s.stopCtx, s.stop = context.WithCancel(ctx)
	defer s.stop()

	// Cancellation of the run tears the transport down so a blocked read returns.
	unregister := context.AfterFunc(ctx, s.shutdown)
	defer unregister()

	var g errgroup.Group

	s.senders.Add(2)
	g.Go(func() error {
		return s.read(ctx)
	})
	g.Go(func() error {
		s.emit()
		return nil
	})
	g.Go(func() error {
		s.senders.Wait()
		close(s.outbound)
		return nil
	})
	g.Go(func() error {
		return s.write(ctx)
	})

	if err := g.Wait(); err != nil {
		s.w.log.Debug("connection duties ended", zap.Error(err))
	}

	s.timerMu.Lock()
	if s.drainTimer != nil {
		s.drainTimer.Stop()
	}
	s.timerMu.Unlock()
}

// beginDrain stops emission and heartbeats. In-flight duties finish on their own.
func (s *session) beginDrain() {
	s.drainOne.Do(func() {
		s.w.setState(Draining)
		s.stop()
		s.armDrainTimer()
	})
}

// armDrainTimer bounds how long the connection waits for outstanding responses.
func (s *session) armDrainTimer() {
	timeout := s.w.cfg.DrainTimeout
	if timeout <= 0 {
		return
	}
	s.armOnce.Do(func() {
		s.timerMu.Lock()
		s.drainTimer = time.AfterFunc(timeout, func() {
			s.w.log.Debug("drain timeout reached")
			s.shutdown()
		})
		s.timerMu.Unlock()
	})
}

// shutdown closes the transport deliberately.
func (s *session) shutdown() {
	s.closing.Store(true)
	s.beginDrain()
	_ = s.conn.Close()
}

// enqueue hands a frame to the writer. It reports false once the
// connection is draining or the writer has failed.
func (s *session) enqueue(frame []byte) bool {
	if s.stopCtx.Err() != nil {
		return false
	}
	select {
	case s.outbound <- frame:
		return true
	case <-s.stopCtx.Done():
		return false
	case <-s.writerDone:
		return false
	}
}

// write drains outbound onto the transport. It returns the send failure
// unless the session was already tearing the transport down.
func (s *session) write(ctx context.Context) error {
	for frame := range s.outbound {
		err := s.conn.Send(ctx, websocket.Message{Type: websocket.TextMessage, Data: frame})
		if err == nil {
			continue
		}
		if s.closing.Load() || ctx.Err() != nil {
			err = nil
		} else {
			s.w.fail(metrics.SendError, err)
			err = fmt.Errorf("send: %w", err)
		}
		close(s.writerDone)
		s.beginDrain()
		return err
	}
	return nil
}

// read dispatches inbound frames until the response quota is met or the
// stream ends. Only an unexpected transport failure is returned.
func (s *session) read(ctx context.Context) error {
	defer s.senders.Done()
	defer s.beginDrain()

	w := s.w
	heartbeating := false
	received := 0

	for {
		msg, err := s.conn.Receive(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) || s.closing.Load() || ctx.Err() != nil {
				w.log.Debug("inbound stream ended")
				return nil
			}
			w.fail(metrics.ReadError, err)
			return fmt.Errorf("receive: %w", err)
		}
		if msg.Type != websocket.TextMessage {
			continue
		}

		frame, err := protocol.Decode(msg.Data)
		if err != nil {
			w.deps.Aggregator.RecordError(metrics.MessageParseError)
			w.log.Debug("malformed frame", zap.Int("bytes", len(msg.Data)))
			continue
		}

		switch frame.Kind {
		case protocol.KindHello:
			// Only the first announced interval is honoured.
			if !heartbeating && frame.HeartbeatInterval > 0 {
				heartbeating = true
				s.senders.Add(1)
				go s.heartbeat(frame.HeartbeatInterval)
			}
		case protocol.KindAuthSuccess:
			s.authOnce.Do(func() {
				w.log.Debug("authenticated", zap.String("session", frame.SessionID))
				close(s.authenticated)
			})
		case protocol.KindDispatch:
		default:
			if frame.BenchmarkID != "" {
				if latency, ok := w.deps.Tracker.Resolve(frame.BenchmarkID, time.Now()); ok {
					w.deps.Aggregator.RecordSuccess(latency)
				}
			}
			received++
			if received >= w.cfg.Requests {
				return nil
			}
		}
	}
}

func (s *session) emit() {
	defer s.senders.Done()

	select {
	case <-s.authenticated:
	case <-s.stopCtx.Done():
		return
	}

	w := s.w
	w.setState(Authenticated)
	if !w.setState(Streaming) {
		return
	}

	limit := rate.Inf
	if w.cfg.Interval > 0 {
		limit = rate.Every(w.cfg.Interval)
	}
	limiter := rate.NewLimiter(limit, 1)

	for i := 0; i < w.cfg.Requests; i++ {
		if err := limiter.Wait(s.stopCtx); err != nil {
			return
		}

		id := w.deps.IDs.Next(w.index)
		sentAt := time.Now()
		frame, err := w.cfg.Template.Encode(id, sentAt)
		if err != nil {
			w.fail(metrics.SendError, err)
			s.beginDrain()
			return
		}
		if err := w.deps.Tracker.Register(id, sentAt); err != nil {
			w.log.Error("benchmark id collision", zap.Error(err))
			continue
		}
		w.deps.Aggregator.RecordRequest()
		if !s.enqueue(frame) {
			w.deps.Aggregator.WithdrawRequest()
			w.deps.Tracker.Forget(id)
			return
		}
	}

	if w.cfg.Requests == 0 {
		s.shutdown()
		return
	}
	s.armDrainTimer()
}

func (s *session) heartbeat(interval time.Duration) {
	defer s.senders.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if !s.enqueue(protocol.Heartbeat()) {
			return
		}
		select {
		case <-ticker.C:
		case <-s.stopCtx.Done():
			return
		case <-s.writerDone:
			return
		}
	}
}
