package gateway

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/torosent/wsbench/internal/clientmetrics"
	"github.com/torosent/wsbench/internal/websocket"
)

const memoryQueueSize = 4096

// MemoryDialer connects clients to an in-process gateway without sockets.
type MemoryDialer struct {
	opts Options

	// FailConnect makes every Dial fail.
	FailConnect bool

	dials atomic.Int64
}

// NewMemoryDialer returns a dialer whose connections are served with opts.
func NewMemoryDialer(opts Options) *MemoryDialer {
	return &MemoryDialer{opts: opts.withDefaults()}
}

// Dials returns how many connection attempts were made.
func (d *MemoryDialer) Dials() int64 {
	return d.dials.Load()
}

// Dial opens an in-memory connection. The hello frame is already queued when it returns.
func (d *MemoryDialer) Dial(ctx context.Context, url string) (websocket.Conn, error) {
	d.dials.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if d.FailConnect {
		return nil, fmt.Errorf("dial %s: connection refused", url)
	}

	c := &memoryConn{
		session: newSession(d.opts),
		inbound: make(chan websocket.Message, memoryQueueSize),
		closed:  make(chan struct{}),
		metrics: clientmetrics.New(),
	}
	c.metrics.MarkConnected()
	c.push(c.session.hello())
	return c, nil
}

type memoryConn struct {
	mu      sync.Mutex // guards session and hungUp, serializes pushes
	session *session
	hungUp  bool

	inbound   chan websocket.Message
	closed    chan struct{}
	closeOnce sync.Once
	metrics   *clientmetrics.ClientMetrics
}

func (c *memoryConn) push(frame []byte) {
	select {
	case c.inbound <- websocket.Message{Type: websocket.TextMessage, Data: frame}:
	case <-c.closed:
	}
}

func (c *memoryConn) Send(ctx context.Context, msg websocket.Message) error {
	select {
	case <-c.closed:
		return fmt.Errorf("write message: %w", net.ErrClosed)
	default:
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.metrics.IncrementSent(int64(len(msg.Data)))
	// Frames written after the peer hung up are lost in flight.
	if c.hungUp || msg.Type != websocket.TextMessage {
		return nil
	}

	replies, hangUp := c.session.handle(msg.Data)
	for _, reply := range replies {
		c.push(reply)
	}
	if hangUp {
		c.hungUp = true
		close(c.inbound)
	}
	return nil
}

func (c *memoryConn) Receive(ctx context.Context) (websocket.Message, error) {
	select {
	case msg, ok := <-c.inbound:
		if !ok {
			return websocket.Message{}, io.EOF
		}
		c.metrics.IncrementReceived(int64(len(msg.Data)))
		return msg, nil
	case <-c.closed:
		return websocket.Message{}, fmt.Errorf("read message: %w", net.ErrClosed)
	case <-ctx.Done():
		return websocket.Message{}, ctx.Err()
	}
}

func (c *memoryConn) Metrics() clientmetrics.Snapshot {
	return c.metrics.Snapshot()
}

func (c *memoryConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}
