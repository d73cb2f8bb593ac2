package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/torosent/wsbench/internal/runner"
	"github.com/torosent/wsbench/internal/threshold"
)

type OutputFormat string

const (
	OutputText OutputFormat = "text"
	OutputJSON OutputFormat = "json"
	OutputYAML OutputFormat = "yaml"
)

// Defaults match the reference benchmark profile.
const (
	DefaultConnections      = 100
	DefaultRequests         = 100
	DefaultInterval         = 200 * time.Millisecond
	DefaultRampUp           = 30 * time.Second
	DefaultMessageType      = 7
	DefaultHandshakeTimeout = 30 * time.Second
	DefaultWriteTimeout     = 10 * time.Second
	DefaultDrainTimeout     = 30 * time.Second
	DefaultProgressInterval = 2 * time.Second
)

// DefaultMessageData is merged into every request when no payload is configured.
func DefaultMessageData() map[string]interface{} {
	return map[string]interface{}{
		"user": "benchmark_user",
		"text": "Benchmark test message",
	}
}

type Config struct {
	TargetURL             string                 `mapstructure:"target"`
	Connections           int                    `mapstructure:"connections"`
	RequestsPerConnection int                    `mapstructure:"requests_per_connection"`
	RequestInterval       time.Duration          `mapstructure:"request_interval"`
	RampUp                time.Duration          `mapstructure:"ramp_up"`
	MessageType           int                    `mapstructure:"message_type"`
	MessageData           map[string]interface{} `mapstructure:"message_data"`
	UsernamePrefix        string                 `mapstructure:"username_prefix"`
	Headers               map[string]string      `mapstructure:"headers"`
	HandshakeTimeout      time.Duration          `mapstructure:"handshake_timeout"`
	WriteTimeout          time.Duration          `mapstructure:"write_timeout"`
	DrainTimeout          time.Duration          `mapstructure:"drain_timeout"`
	ProgressInterval      time.Duration          `mapstructure:"progress_interval"`
	OutputFormat          OutputFormat           `mapstructure:"output_format"`
	OutputFile            string                 `mapstructure:"output_file"`
	LogLevel              string                 `mapstructure:"log_level"`
	LogFormat             string                 `mapstructure:"log_format"`
	Thresholds            []string               `mapstructure:"thresholds"`
	Tracing               TracingConfig          `mapstructure:"tracing"`
	ConfigFile            string                 `mapstructure:"-"`
}

// TracingConfig configures OpenTelemetry export. Tracing is off unless an
// endpoint is set here or through OTEL_EXPORTER_OTLP_ENDPOINT.
type TracingConfig struct {
	Endpoint    string  `mapstructure:"endpoint"`
	Protocol    string  `mapstructure:"protocol"` // grpc or http
	ServiceName string  `mapstructure:"service_name"`
	SampleRate  float64 `mapstructure:"sample_rate"`
	Insecure    bool    `mapstructure:"insecure"`
	Propagate   *bool   `mapstructure:"propagate"`
}

// Enabled reports whether spans should be exported.
func (t TracingConfig) Enabled() bool {
	return strings.TrimSpace(t.Endpoint) != "" || os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") != ""
}

// ShouldPropagate reports whether trace context is injected into handshake
// headers. It defaults to true when tracing is enabled.
func (t TracingConfig) ShouldPropagate() bool {
	if t.Propagate != nil {
		return *t.Propagate
	}
	return t.Enabled()
}

type ValidationError struct {
	issues []string
}

func (e ValidationError) Error() string {
	if len(e.issues) == 0 {
		return "validation failed"
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(e.issues, "; "))
}

func (e ValidationError) Issues() []string {
	return append([]string(nil), e.issues...)
}

func (c Config) Validate() error {
	var issues []string

	issues = append(issues, validateTarget(c.TargetURL)...)

	if c.Connections > 5000 {
		fmt.Fprintf(os.Stderr, "WARNING: High connection count configured (%d). Ensure you have authorization to test the target system.\n", c.Connections)
	}

	if c.Connections < 1 {
		issues = append(issues, "connections must be >= 1")
	}
	if c.RequestsPerConnection < 0 {
		issues = append(issues, "requests must be >= 0")
	}
	if c.RequestInterval < 0 {
		issues = append(issues, "interval must be >= 0")
	}
	if c.RampUp < 0 {
		issues = append(issues, "ramp-up must be >= 0")
	}
	if c.HandshakeTimeout < 0 {
		issues = append(issues, "handshake-timeout must be >= 0")
	}
	if c.WriteTimeout < 0 {
		issues = append(issues, "write-timeout must be >= 0")
	}
	if c.DrainTimeout < 0 {
		issues = append(issues, "drain-timeout must be >= 0")
	}
	if c.ProgressInterval < 0 {
		issues = append(issues, "progress-interval must be >= 0")
	}

	switch c.OutputFormat {
	case "", OutputText, OutputJSON, OutputYAML:
	default:
		issues = append(issues, fmt.Sprintf("output-format must be 'text', 'json' or 'yaml', got %q", c.OutputFormat))
	}

	if _, err := threshold.ParseMultiple(c.Thresholds); err != nil {
		issues = append(issues, fmt.Sprintf("thresholds: %v", err))
	}

	issues = append(issues, validateTracingConfig(c.Tracing)...)

	if len(issues) > 0 {
		return ValidationError{issues: issues}
	}
	return nil
}

func validateTarget(target string) []string {
	if strings.TrimSpace(target) == "" {
		return []string{"target is required (use --help for usage information)"}
	}
	u, err := url.Parse(target)
	if err != nil {
		return []string{fmt.Sprintf("target is not a valid URL: %v", err)}
	}
	switch strings.ToLower(u.Scheme) {
	case "ws", "wss":
	default:
		return []string{fmt.Sprintf("target scheme must be ws or wss, got %q", u.Scheme)}
	}
	if u.Host == "" {
		return []string{"target is missing a host"}
	}
	return nil
}

func validateTracingConfig(t TracingConfig) []string {
	var issues []string
	switch strings.ToLower(t.Protocol) {
	case "", "grpc", "http":
	default:
		issues = append(issues, fmt.Sprintf("tracing: protocol must be 'grpc' or 'http', got %q", t.Protocol))
	}
	if t.SampleRate < 0 || t.SampleRate > 1 {
		issues = append(issues, fmt.Sprintf("tracing: sample_rate must be between 0.0 and 1.0, got %g", t.SampleRate))
	}
	return issues
}

// BenchmarkOptions converts the configuration into the engine's run options.
// The transport, logger and tracer are runtime collaborators and are left
// for the caller to set.
func (c Config) BenchmarkOptions() runner.Options {
	data := c.MessageData
	if data == nil {
		data = DefaultMessageData()
	}
	return runner.Options{
		Target:                c.TargetURL,
		Connections:           c.Connections,
		RequestsPerConnection: c.RequestsPerConnection,
		Interval:              c.RequestInterval,
		RampUp:                c.RampUp,
		MessageType:           c.MessageType,
		MessageData:           data,
		UsernamePrefix:        c.UsernamePrefix,
		DrainTimeout:          c.DrainTimeout,
		ProgressInterval:      c.ProgressInterval,
	}
}
