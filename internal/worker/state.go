package worker

// State is a connection's position in its lifecycle. States only move forward.
type State int32

const (
	Connecting State = iota
	HandshakeSent
	AwaitingAuth
	Authenticated
	Streaming
	Draining
	Closed
)

var stateNames = [...]string{
	Connecting:    "connecting",
	HandshakeSent: "handshake_sent",
	AwaitingAuth:  "awaiting_auth",
	Authenticated: "authenticated",
	Streaming:     "streaming",
	Draining:      "draining",
	Closed:        "closed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}
