// Package gateway implements the server side of the benchmark protocol: it
// greets every connection with a heartbeat interval, authenticates the
// identify frame and echoes application frames back to the client.
//
// The same protocol logic is exposed over real WebSockets (Handler) and over
// an in-memory transport (MemoryDialer) for deterministic tests.
package gateway

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/torosent/wsbench/internal/protocol"
)

// DefaultHeartbeatInterval is announced in the hello frame when Options leaves it unset.
const DefaultHeartbeatInterval = 41250 * time.Millisecond

// Options tune how the gateway treats its clients.
type Options struct {
	HeartbeatInterval time.Duration

	// SkipAuth never answers the identify frame.
	SkipAuth bool
	// HangUpUnauthenticated closes the stream normally right after an
	// identify frame that SkipAuth left unanswered.
	HangUpUnauthenticated bool
	// DropResponses swallows application frames instead of echoing them.
	DropResponses bool
	// DuplicateResponses echoes every application frame twice.
	DuplicateResponses bool

	Logger *zap.Logger
}

func (o Options) withDefaults() Options {
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

// session is the per-connection protocol state.
type session struct {
	opts      Options
	sessionID string
	username  string
	beats     int
}

func newSession(opts Options) *session {
	return &session{opts: opts}
}

type outFrame struct {
	Op int         `json:"op"`
	D  interface{} `json:"d"`
}

// hello is the first frame written to every connection.
func (s *session) hello() []byte {
	data, _ := json.Marshal(outFrame{
		Op: protocol.OpHello,
		D:  map[string]int64{"heartbeat_interval": s.opts.HeartbeatInterval.Milliseconds()},
	})
	return data
}

// handle consumes one client frame and returns the frames to write back.
// hangUp asks the transport to close the stream normally afterwards.
func (s *session) handle(data []byte) (replies [][]byte, hangUp bool) {
	if !gjson.ValidBytes(data) {
		s.opts.Logger.Debug("ignoring malformed frame", zap.Int("bytes", len(data)))
		return nil, false
	}
	op := gjson.GetBytes(data, "op")
	if op.Type != gjson.Number {
		return nil, false
	}

	switch op.Int() {
	case protocol.OpHeartbeat:
		s.beats++
		return nil, false
	case protocol.OpIdentify:
		s.username = gjson.GetBytes(data, "d.username").String()
		if s.opts.SkipAuth {
			return nil, s.opts.HangUpUnauthenticated
		}
		s.sessionID = uuid.NewString()
		s.opts.Logger.Debug("identified",
			zap.String("username", s.username),
			zap.String("session", s.sessionID),
		)
		reply, _ := json.Marshal(outFrame{
			Op: protocol.OpIdentify,
			D:  map[string]string{"uuid": s.sessionID, "username": s.username},
		})
		return [][]byte{reply}, false
	default:
		if s.opts.DropResponses {
			return nil, false
		}
		d := gjson.GetBytes(data, "d")
		raw := json.RawMessage("{}")
		if d.IsObject() {
			raw = json.RawMessage(d.Raw)
		}
		reply, _ := json.Marshal(outFrame{Op: int(op.Int()), D: raw})
		if s.opts.DuplicateResponses {
			return [][]byte{reply, reply}, false
		}
		return [][]byte{reply}, false
	}
}
