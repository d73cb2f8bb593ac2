package gateway

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/tidwall/gjson"

	"github.com/torosent/wsbench/internal/protocol"
	"github.com/torosent/wsbench/internal/websocket"
)

func TestSessionHelloAnnouncesInterval(t *testing.T) {
	s := newSession(Options{HeartbeatInterval: 250 * time.Millisecond}.withDefaults())

	frame, err := protocol.Decode(s.hello())
	if err != nil {
		t.Fatalf("decode hello: %v", err)
	}
	if frame.Kind != protocol.KindHello {
		t.Fatalf("kind = %v, want hello", frame.Kind)
	}
	if frame.HeartbeatInterval != 250*time.Millisecond {
		t.Fatalf("interval = %v, want 250ms", frame.HeartbeatInterval)
	}
}

func TestSessionDefaultsInterval(t *testing.T) {
	s := newSession(Options{}.withDefaults())
	got := gjson.GetBytes(s.hello(), "d.heartbeat_interval").Int()
	if got != DefaultHeartbeatInterval.Milliseconds() {
		t.Fatalf("interval = %d, want %d", got, DefaultHeartbeatInterval.Milliseconds())
	}
}

func TestSessionAuthenticatesIdentify(t *testing.T) {
	s := newSession(Options{}.withDefaults())
	identify, _ := protocol.Identify("bench_3")

	replies, hangUp := s.handle(identify)
	if hangUp {
		t.Fatal("unexpected hang up")
	}
	if len(replies) != 1 {
		t.Fatalf("replies = %d, want 1", len(replies))
	}
	frame, err := protocol.Decode(replies[0])
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if frame.Kind != protocol.KindAuthSuccess || frame.SessionID == "" {
		t.Fatalf("frame = %+v, want auth success with session id", frame)
	}
	if s.username != "bench_3" {
		t.Fatalf("username = %q", s.username)
	}
}

func TestSessionSkipAuth(t *testing.T) {
	identify, _ := protocol.Identify("u")

	s := newSession(Options{SkipAuth: true}.withDefaults())
	if replies, hangUp := s.handle(identify); len(replies) != 0 || hangUp {
		t.Fatalf("replies=%d hangUp=%v, want silence", len(replies), hangUp)
	}

	s = newSession(Options{SkipAuth: true, HangUpUnauthenticated: true}.withDefaults())
	if _, hangUp := s.handle(identify); !hangUp {
		t.Fatal("expected hang up after unanswered identify")
	}
}

func TestSessionEchoesApplicationFrames(t *testing.T) {
	tmpl := protocol.NewRequestTemplate(7, map[string]interface{}{"text": "hi"})
	req, err := tmpl.Encode("4_12", time.Now())
	if err != nil {
		t.Fatal(err)
	}

	s := newSession(Options{}.withDefaults())
	replies, _ := s.handle(req)
	if len(replies) != 1 {
		t.Fatalf("replies = %d, want 1", len(replies))
	}
	frame, err := protocol.Decode(replies[0])
	if err != nil {
		t.Fatal(err)
	}
	if frame.Kind != protocol.KindResponse || frame.Op != 7 || frame.BenchmarkID != "4_12" {
		t.Fatalf("frame = %+v", frame)
	}
	if got := gjson.GetBytes(replies[0], "d.text").String(); got != "hi" {
		t.Fatalf("payload text = %q", got)
	}
}

func TestSessionIgnoresHeartbeatsAndGarbage(t *testing.T) {
	s := newSession(Options{}.withDefaults())
	for _, in := range [][]byte{protocol.Heartbeat(), []byte("not json"), []byte(`{"op":"x"}`)} {
		if replies, _ := s.handle(in); len(replies) != 0 {
			t.Fatalf("handle(%s) replied %d frames", in, len(replies))
		}
	}
	if s.beats != 1 {
		t.Fatalf("beats = %d, want 1", s.beats)
	}
}

func TestSessionDropResponses(t *testing.T) {
	tmpl := protocol.NewRequestTemplate(7, nil)
	req, _ := tmpl.Encode("0_0", time.Now())

	s := newSession(Options{DropResponses: true}.withDefaults())
	if replies, _ := s.handle(req); len(replies) != 0 {
		t.Fatalf("replies = %d, want 0", len(replies))
	}
}

func receiveFrame(t *testing.T, conn websocket.Conn) protocol.Frame {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	msg, err := conn.Receive(ctx)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	frame, err := protocol.Decode(msg.Data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	return frame
}

func exerciseHandshake(t *testing.T, conn websocket.Conn) {
	t.Helper()
	ctx := context.Background()

	if f := receiveFrame(t, conn); f.Kind != protocol.KindHello {
		t.Fatalf("first frame kind = %v, want hello", f.Kind)
	}
	identify, _ := protocol.Identify("bench_0")
	if err := conn.Send(ctx, websocket.Message{Type: websocket.TextMessage, Data: identify}); err != nil {
		t.Fatalf("send identify: %v", err)
	}
	if f := receiveFrame(t, conn); f.Kind != protocol.KindAuthSuccess {
		t.Fatalf("kind = %v, want auth success", f.Kind)
	}

	req, _ := protocol.NewRequestTemplate(7, nil).Encode("0_0", time.Now())
	if err := conn.Send(ctx, websocket.Message{Type: websocket.TextMessage, Data: req}); err != nil {
		t.Fatalf("send request: %v", err)
	}
	if f := receiveFrame(t, conn); f.BenchmarkID != "0_0" {
		t.Fatalf("echo = %+v", f)
	}
}

func TestHandlerServesProtocol(t *testing.T) {
	h := NewHandler(Options{HeartbeatInterval: time.Second})
	server := httptest.NewServer(h)
	defer server.Close()

	dialer := websocket.NewDialer(websocket.Config{})
	conn, err := dialer.Dial(context.Background(), "ws"+strings.TrimPrefix(server.URL, "http"))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	exerciseHandshake(t, conn)
	if h.Connections() != 1 {
		t.Fatalf("connections = %d, want 1", h.Connections())
	}
}

func TestHandlerHangsUpNormally(t *testing.T) {
	server := httptest.NewServer(NewHandler(Options{SkipAuth: true, HangUpUnauthenticated: true}))
	defer server.Close()

	conn, err := websocket.NewDialer(websocket.Config{}).Dial(context.Background(), "ws"+strings.TrimPrefix(server.URL, "http"))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	receiveFrame(t, conn)
	identify, _ := protocol.Identify("u")
	if err := conn.Send(context.Background(), websocket.Message{Type: websocket.TextMessage, Data: identify}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if _, err := conn.Receive(context.Background()); !errors.Is(err, io.EOF) {
		t.Fatalf("err = %v, want io.EOF", err)
	}
}

func TestMemoryDialerServesProtocol(t *testing.T) {
	d := NewMemoryDialer(Options{})
	conn, err := d.Dial(context.Background(), "ws://memory")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	exerciseHandshake(t, conn)

	m := conn.Metrics()
	if m.MessagesSent != 2 || m.MessagesReceived != 3 {
		t.Fatalf("metrics = %+v, want 2 sent / 3 received", m)
	}
	if d.Dials() != 1 {
		t.Fatalf("dials = %d", d.Dials())
	}
}

func TestMemoryDialerFailConnect(t *testing.T) {
	d := NewMemoryDialer(Options{})
	d.FailConnect = true
	if _, err := d.Dial(context.Background(), "ws://memory"); err == nil {
		t.Fatal("expected dial error")
	}
}

func TestMemoryConnCloseUnblocksReceive(t *testing.T) {
	conn, _ := NewMemoryDialer(Options{}).Dial(context.Background(), "ws://memory")
	receiveFrame(t, conn)

	errCh := make(chan error, 1)
	go func() {
		_, err := conn.Receive(context.Background())
		errCh <- err
	}()
	time.Sleep(10 * time.Millisecond)
	_ = conn.Close()

	select {
	case err := <-errCh:
		if err == nil || errors.Is(err, io.EOF) {
			t.Fatalf("err = %v, want a non-EOF error", err)
		}
	case <-time.After(time.Second):
		t.Fatal("receive did not unblock")
	}
	if err := conn.Send(context.Background(), websocket.Message{Type: websocket.TextMessage, Data: []byte("{}")}); err == nil {
		t.Fatal("send after close should fail")
	}
}

func TestSessionDuplicateResponses(t *testing.T) {
	tmpl := protocol.NewRequestTemplate(7, map[string]interface{}{"text": "twice"})
	req, _ := tmpl.Encode("0_4", time.Now())

	s := newSession(Options{DuplicateResponses: true}.withDefaults())
	replies, _ := s.handle(req)
	if len(replies) != 2 {
		t.Fatalf("replies = %d, want 2", len(replies))
	}
	for _, reply := range replies {
		if got := gjson.GetBytes(reply, "d.benchmarkId").String(); got != "0_4" {
			t.Fatalf("benchmarkId = %q, want 0_4", got)
		}
	}
}
