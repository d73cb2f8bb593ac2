// Package websocket provides the transport capability used by connection
// workers: dial a target and exchange discrete text frames.
package websocket

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/torosent/wsbench/internal/clientmetrics"
)

// Message types mirrored from gorilla/websocket.
const (
	TextMessage   = websocket.TextMessage
	BinaryMessage = websocket.BinaryMessage
)

const closeFrameTimeout = time.Second

// Message represents a WebSocket message to send or receive.
type Message struct {
	Type int // TextMessage or BinaryMessage
	Data []byte
}

// Conn is an established bidirectional message stream. Send and Receive may
// be called concurrently with each other, but each must have a single caller.
type Conn interface {
	Send(ctx context.Context, msg Message) error
	// Receive blocks for the next inbound message. It returns io.EOF when the
	// peer closed the stream normally.
	Receive(ctx context.Context) (Message, error)
	Metrics() clientmetrics.Snapshot
	Close() error
}

// Dialer opens connections to a target URL.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// Config configures the WebSocket client behavior.
type Config struct {
	URL              string
	Headers          http.Header
	HandshakeTimeout time.Duration
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	MaxMessageSize   int64

	// InjectHeaders, when set, adds per-connection handshake headers such as
	// trace context. It receives a private copy of Headers.
	InjectHeaders func(ctx context.Context, h http.Header)
}

// Client represents a WebSocket client connection.
type Client struct {
	cfg     Config
	dialer  *websocket.Dialer
	metrics *clientmetrics.ClientMetrics

	mu   sync.Mutex // guards conn
	conn *websocket.Conn

	// writeMu serializes data frames. Close never takes it, so closing the
	// socket can unblock a write stalled on a peer that stopped reading.
	writeMu sync.Mutex
}

// NewClient creates a new WebSocket client with the given configuration.
func NewClient(cfg Config) *Client {
	cfg = cfg.withDefaults()
	return &Client{
		cfg:     cfg,
		dialer:  newGorillaDialer(cfg),
		metrics: clientmetrics.New(),
	}
}

func (cfg Config) withDefaults() Config {
	if cfg.HandshakeTimeout == 0 {
		cfg.HandshakeTimeout = 30 * time.Second
	}
	if cfg.MaxMessageSize == 0 {
		cfg.MaxMessageSize = 1024 * 1024 // 1MB default
	}
	return cfg
}

func newGorillaDialer(cfg Config) *websocket.Dialer {
	return &websocket.Dialer{
		HandshakeTimeout: cfg.HandshakeTimeout,
		Proxy:            http.ProxyFromEnvironment,
	}
}

// Connect establishes a WebSocket connection.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return fmt.Errorf("already connected")
	}

	conn, resp, err := c.dialer.DialContext(ctx, c.cfg.URL, c.cfg.Headers)
	if err != nil {
		c.metrics.IncrementErrors()
		if resp != nil {
			return fmt.Errorf("websocket dial failed with status %d: %w", resp.StatusCode, err)
		}
		return fmt.Errorf("websocket dial failed: %w", err)
	}
	conn.SetReadLimit(c.cfg.MaxMessageSize)

	c.conn = conn
	c.metrics.MarkConnected()

	return nil
}

// Send writes a message over the WebSocket connection.
func (c *Client) Send(ctx context.Context, msg Message) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return fmt.Errorf("not connected")
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if deadline, ok := c.writeDeadline(ctx); ok {
		_ = conn.SetWriteDeadline(deadline)
	}
	if err := conn.WriteMessage(msg.Type, msg.Data); err != nil {
		c.metrics.IncrementErrors()
		return fmt.Errorf("write message: %w", err)
	}

	c.metrics.IncrementSent(int64(len(msg.Data)))
	return nil
}

func (c *Client) writeDeadline(ctx context.Context) (time.Time, bool) {
	var deadline time.Time
	if c.cfg.WriteTimeout > 0 {
		deadline = time.Now().Add(c.cfg.WriteTimeout)
	}
	if ctxDeadline, ok := ctx.Deadline(); ok && (deadline.IsZero() || ctxDeadline.Before(deadline)) {
		deadline = ctxDeadline
	}
	return deadline, !deadline.IsZero()
}

// Receive reads the next message from the WebSocket connection.
// A normal closure by the peer is reported as io.EOF.
func (c *Client) Receive(ctx context.Context) (Message, error) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return Message{}, fmt.Errorf("not connected")
	}

	if c.cfg.ReadTimeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
	}
	msgType, data, err := conn.ReadMessage()
	if err != nil {
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return Message{}, io.EOF
		}
		c.metrics.IncrementErrors()
		return Message{}, fmt.Errorf("read message: %w", err)
	}

	c.metrics.IncrementReceived(int64(len(data)))
	return Message{Type: msgType, Data: data}, nil
}

// Close closes the WebSocket connection gracefully. Closing the underlying
// socket also unblocks a concurrent Receive.
func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn == nil {
		return nil
	}

	// The close frame waits at most closeFrameTimeout behind an in-flight write.
	err := conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(closeFrameTimeout),
	)

	closeErr := conn.Close()

	if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		return err
	}
	return closeErr
}

// Metrics returns the current traffic snapshot.
func (c *Client) Metrics() clientmetrics.Snapshot {
	return c.metrics.Snapshot()
}

// NetDialer dials real WebSocket connections with gorilla/websocket.
type NetDialer struct {
	cfg    Config
	dialer *websocket.Dialer
}

// NewDialer returns a Dialer sharing cfg across every connection it opens.
// cfg.URL is ignored; the target is passed to Dial.
func NewDialer(cfg Config) *NetDialer {
	cfg = cfg.withDefaults()
	return &NetDialer{cfg: cfg, dialer: newGorillaDialer(cfg)}
}

// Dial opens and connects a new Client to url.
func (d *NetDialer) Dial(ctx context.Context, url string) (Conn, error) {
	cfg := d.cfg
	cfg.URL = url
	if cfg.InjectHeaders != nil {
		h := cfg.Headers.Clone()
		if h == nil {
			h = http.Header{}
		}
		cfg.InjectHeaders(ctx, h)
		cfg.Headers = h
	}
	client := &Client{
		cfg:     cfg,
		dialer:  d.dialer,
		metrics: clientmetrics.New(),
	}
	if err := client.Connect(ctx); err != nil {
		return nil, err
	}
	return client, nil
}
