package runner

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/torosent/wsbench/internal/websocket"
	"github.com/torosent/wsbench/internal/worker"
)

// Defaults applied by normalize.
const (
	DefaultProgressInterval = 2 * time.Second
	DefaultPollInterval     = 100 * time.Millisecond
	DefaultUsernamePrefix   = "benchmark_user_"
)

// Options configure a Runner. They are read-only once Run starts.
type Options struct {
	Target                string
	Connections           int
	RequestsPerConnection int
	Interval              time.Duration // pause between requests on one connection (0 means back-to-back)
	RampUp                time.Duration // spread of connection establishment
	MessageType           int
	MessageData           map[string]interface{}
	UsernamePrefix        string
	DrainTimeout          time.Duration // wait for outstanding responses after the last request (0 means until the server closes)
	QueueSize             int           // per-connection outbound queue

	ProgressInterval time.Duration
	PollInterval     time.Duration // completion check cadence

	Dialer websocket.Dialer // transport (required)
	Logger *zap.Logger
	Tracer trace.Tracer

	// OnStateChange, when set, observes every connection state transition.
	OnStateChange func(connection int, state worker.State)
}

func (o *Options) normalize() {
	if o.RequestsPerConnection < 0 {
		o.RequestsPerConnection = 0
	}
	if o.Interval < 0 {
		o.Interval = 0
	}
	if o.RampUp < 0 {
		o.RampUp = 0
	}
	if o.UsernamePrefix == "" {
		o.UsernamePrefix = DefaultUsernamePrefix
	}
	if o.ProgressInterval <= 0 {
		o.ProgressInterval = DefaultProgressInterval
	}
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
}

func (o Options) validate() error {
	if o.Dialer == nil {
		return fmt.Errorf("dialer is required")
	}
	if o.Connections < 1 {
		return fmt.Errorf("connections must be at least 1, got %d", o.Connections)
	}
	return validateTarget(o.Target)
}

func validateTarget(target string) error {
	if strings.TrimSpace(target) == "" {
		return fmt.Errorf("target is required")
	}
	u, err := url.Parse(target)
	if err != nil {
		return fmt.Errorf("invalid target %q: %w", target, err)
	}
	switch strings.ToLower(u.Scheme) {
	case "ws", "wss":
	default:
		return fmt.Errorf("invalid target %q: scheme must be ws or wss", target)
	}
	if u.Host == "" {
		return fmt.Errorf("invalid target %q: missing host", target)
	}
	return nil
}
