package metrics

// ErrorKind labels a connection-level failure in the error tally.
type ErrorKind string

const (
	// ConnectionError means the transport could not be established.
	ConnectionError ErrorKind = "ConnectionError"
	// SendError means a write to an established transport failed.
	SendError ErrorKind = "SendError"
	// ReadError means the inbound stream failed or closed unexpectedly.
	ReadError ErrorKind = "ReadError"
	// MessageParseError means an inbound frame was not valid structured data.
	MessageParseError ErrorKind = "MessageParseError"
)

var friendlyKinds = map[ErrorKind]string{
	ConnectionError:   "Connection failed",
	SendError:         "Send failed",
	ReadError:         "Read failed",
	MessageParseError: "Malformed inbound frame",
}

// FriendlyErrorName returns a human-friendly label for an error kind.
func FriendlyErrorName(kind ErrorKind) string {
	if name, ok := friendlyKinds[kind]; ok {
		return name
	}
	if kind == "" {
		return "Unknown error"
	}
	return string(kind)
}
