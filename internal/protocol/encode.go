package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

type envelope struct {
	Op int         `json:"op"`
	D  interface{} `json:"d"`
}

type identifyData struct {
	Username    string `json:"username"`
	IsVoiceChat bool   `json:"isVoiceChat"`
}

var heartbeatFrame = []byte(`{"op":1,"d":{}}`)

// Identify encodes the identification frame sent right after connecting.
func Identify(username string) ([]byte, error) {
	return json.Marshal(envelope{
		Op: OpIdentify,
		D:  identifyData{Username: username, IsVoiceChat: false},
	})
}

// Heartbeat returns the keep-alive frame.
func Heartbeat() []byte {
	out := make([]byte, len(heartbeatFrame))
	copy(out, heartbeatFrame)
	return out
}

// RequestTemplate builds application request frames from a fixed opcode and
// payload. The payload is shared and never mutated.
type RequestTemplate struct {
	op      int
	payload map[string]interface{}
}

// NewRequestTemplate returns a template for op whose frames merge payload
// into their "d" object.
func NewRequestTemplate(op int, payload map[string]interface{}) *RequestTemplate {
	copied := make(map[string]interface{}, len(payload))
	for k, v := range payload {
		copied[k] = v
	}
	return &RequestTemplate{op: op, payload: copied}
}

// Encode renders one request frame tagged with benchmarkID and sentAt.
// benchmarkId and timestamp override payload keys of the same name.
func (t *RequestTemplate) Encode(benchmarkID string, sentAt time.Time) ([]byte, error) {
	d := make(map[string]interface{}, len(t.payload)+2)
	for k, v := range t.payload {
		d[k] = v
	}
	d["benchmarkId"] = benchmarkID
	d["timestamp"] = sentAt.UnixMilli()

	data, err := json.Marshal(envelope{Op: t.op, D: d})
	if err != nil {
		return nil, fmt.Errorf("encode request %s: %w", benchmarkID, err)
	}
	return data, nil
}
