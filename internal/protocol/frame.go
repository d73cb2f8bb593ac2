// Package protocol encodes and decodes the gateway's JSON frames.
//
// Every frame is an envelope {"op": <int>, "d": {...}}. Inbound frames are
// decoded once into a [Frame] so the rest of the engine switches on
// [FrameKind] and never inspects raw JSON.
package protocol

import (
	"errors"
	"time"

	"github.com/tidwall/gjson"
)

// Opcodes understood by the engine.
const (
	OpHeartbeat = 1
	OpIdentify  = 2
	OpHello     = 10
)

// FrameKind classifies an inbound frame.
type FrameKind int

const (
	// KindResponse is any frame that is not a control frame. It may carry a
	// benchmark identifier echoed from a request.
	KindResponse FrameKind = iota
	// KindHello announces the heartbeat interval.
	KindHello
	// KindAuthSuccess confirms identification and carries the session uuid.
	KindAuthSuccess
	// KindDispatch is an op 2 frame without a session uuid. It is neither an
	// authentication nor a response and is ignored.
	KindDispatch
)

func (k FrameKind) String() string {
	switch k {
	case KindHello:
		return "hello"
	case KindAuthSuccess:
		return "auth-success"
	case KindDispatch:
		return "dispatch"
	default:
		return "response"
	}
}

// ErrMalformedFrame is returned when an inbound frame is not valid JSON.
var ErrMalformedFrame = errors.New("malformed frame")

// Frame is a decoded inbound message.
type Frame struct {
	Kind FrameKind
	Op   int64

	// HeartbeatInterval is set for KindHello; zero when the server did not
	// announce a usable interval.
	HeartbeatInterval time.Duration
	// SessionID is set for KindAuthSuccess.
	SessionID string
	// BenchmarkID is set for KindResponse when the frame echoes one.
	BenchmarkID string
}

// Decode classifies a raw inbound frame.
func Decode(data []byte) (Frame, error) {
	if !gjson.ValidBytes(data) {
		return Frame{}, ErrMalformedFrame
	}

	root := gjson.ParseBytes(data)
	var op int64
	if v := root.Get("op"); v.Type == gjson.Number {
		op = v.Int()
	}

	switch op {
	case OpHello:
		f := Frame{Kind: KindHello, Op: op}
		if v := root.Get("d.heartbeat_interval"); v.Type == gjson.Number && v.Int() > 0 {
			f.HeartbeatInterval = time.Duration(v.Int()) * time.Millisecond
		}
		return f, nil
	case OpIdentify:
		if v := root.Get("d.uuid"); v.Type == gjson.String {
			return Frame{Kind: KindAuthSuccess, Op: op, SessionID: v.String()}, nil
		}
		return Frame{Kind: KindDispatch, Op: op}, nil
	default:
		f := Frame{Kind: KindResponse, Op: op}
		if v := root.Get("d.benchmarkId"); v.Type == gjson.String {
			f.BenchmarkID = v.String()
		}
		return f, nil
	}
}
