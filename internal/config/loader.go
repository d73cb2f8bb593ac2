package config

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Loader handles loading configuration from files and command-line arguments.
type Loader struct{}

// ErrHelpRequested is returned when the user requests help via --help flag.
var ErrHelpRequested = errors.New("help requested")

// NewLoader creates a new configuration Loader.
func NewLoader() *Loader {
	return &Loader{}
}

// Load parses command-line arguments and configuration files to produce a Config.
func (Loader) Load(args []string) (*Config, error) {
	cmd := newFlagCommand()
	if err := cmd.Flags().Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			displayHelp(cmd)
			return nil, ErrHelpRequested
		}
		return nil, err
	}

	flagSet := cmd.Flags()
	if helpFlag := flagSet.Lookup("help"); helpFlag != nil {
		if wantsHelp, err := strconv.ParseBool(helpFlag.Value.String()); err == nil && wantsHelp {
			displayHelp(cmd)
			return nil, ErrHelpRequested
		}
	}

	configPath := flagSet.Lookup("config").Value.String()
	cfgViper := viper.New()
	if configPath != "" {
		cfgViper.SetConfigFile(configPath)
		if err := cfgViper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", configPath, err)
		}
	}

	settings := cfgViper.AllSettings()

	cfg := &Config{
		Connections:           DefaultConnections,
		RequestsPerConnection: DefaultRequests,
		RequestInterval:       DefaultInterval,
		RampUp:                DefaultRampUp,
		MessageType:           DefaultMessageType,
		UsernamePrefix:        "benchmark_user_",
		Headers:               map[string]string{},
		HandshakeTimeout:      DefaultHandshakeTimeout,
		WriteTimeout:          DefaultWriteTimeout,
		DrainTimeout:          DefaultDrainTimeout,
		ProgressInterval:      DefaultProgressInterval,
		OutputFormat:          OutputJSON,
		LogLevel:              "info",
		LogFormat:             "console",
		Tracing:               TracingConfig{Protocol: "grpc", SampleRate: 1.0},
		ConfigFile:            configPath,
	}

	if err := applyConfigSettings(cfg, settings); err != nil {
		return nil, err
	}

	if err := applyFlagOverrides(cfg, flagSet); err != nil {
		return nil, err
	}

	cfg.TargetURL = strings.TrimSpace(cfg.TargetURL)
	if cfg.MessageData == nil {
		cfg.MessageData = DefaultMessageData()
	}
	if cfg.Headers == nil {
		cfg.Headers = map[string]string{}
	}

	return cfg, nil
}

// HTTPHeaders returns the handshake headers in net/http form.
func (c Config) HTTPHeaders() http.Header {
	h := http.Header{}
	for k, v := range c.Headers {
		h.Set(k, v)
	}
	return h
}

// applyConfigSettings applies settings from a config file to the Config struct.
func applyConfigSettings(cfg *Config, settings map[string]interface{}) error {
	if len(settings) == 0 {
		return nil
	}

	if raw, ok := lookupSetting(settings, "target"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("target: %w", err)
		}
		cfg.TargetURL = strings.TrimSpace(val)
	}

	if raw, ok := lookupSetting(settings, "connections"); ok {
		val, err := asInt(raw)
		if err != nil {
			return fmt.Errorf("connections: %w", err)
		}
		cfg.Connections = val
	}

	if raw, ok := lookupSetting(settings, "requests_per_connection", "requests-per-connection", "requests"); ok {
		val, err := asInt(raw)
		if err != nil {
			return fmt.Errorf("requestsPerConnection: %w", err)
		}
		cfg.RequestsPerConnection = val
	}

	if err := applyDurationSetting(settings, &cfg.RequestInterval, "requestInterval",
		[]string{"request_interval", "request-interval", "interval"},
		[]string{"request_interval_ms"}); err != nil {
		return err
	}

	if err := applyDurationSetting(settings, &cfg.RampUp, "rampUp",
		[]string{"ramp_up", "ramp-up"},
		[]string{"ramp_up_time_ms", "ramp_up_ms"}); err != nil {
		return err
	}

	if raw, ok := lookupSetting(settings, "message_type", "message-type"); ok {
		val, err := asInt(raw)
		if err != nil {
			return fmt.Errorf("messageType: %w", err)
		}
		cfg.MessageType = val
	}

	if raw, ok := lookupSetting(settings, "message_data", "message-data"); ok {
		data, err := asObject(raw)
		if err != nil {
			return fmt.Errorf("messageData: %w", err)
		}
		cfg.MessageData = data
	}

	if raw, ok := lookupSetting(settings, "username_prefix", "username-prefix"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("usernamePrefix: %w", err)
		}
		cfg.UsernamePrefix = val
	}

	if raw, ok := lookupSetting(settings, "headers"); ok {
		hdrs, err := asStringMap(raw)
		if err != nil {
			return fmt.Errorf("headers: %w", err)
		}
		if cfg.Headers == nil {
			cfg.Headers = map[string]string{}
		}
		for k, v := range hdrs {
			cfg.Headers[http.CanonicalHeaderKey(k)] = v
		}
	}

	for _, d := range []struct {
		target *time.Duration
		label  string
		keys   []string
	}{
		{&cfg.HandshakeTimeout, "handshakeTimeout", []string{"handshake_timeout", "handshake-timeout"}},
		{&cfg.WriteTimeout, "writeTimeout", []string{"write_timeout", "write-timeout"}},
		{&cfg.DrainTimeout, "drainTimeout", []string{"drain_timeout", "drain-timeout"}},
		{&cfg.ProgressInterval, "progressInterval", []string{"progress_interval", "progress-interval"}},
	} {
		if err := applyDurationSetting(settings, d.target, d.label, d.keys, nil); err != nil {
			return err
		}
	}

	if raw, ok := lookupSetting(settings, "output_format", "output-format"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("outputFormat: %w", err)
		}
		cfg.OutputFormat = OutputFormat(strings.ToLower(strings.TrimSpace(val)))
	}

	if raw, ok := lookupSetting(settings, "output_file", "output-file"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("outputFile: %w", err)
		}
		cfg.OutputFile = strings.TrimSpace(val)
	}

	if raw, ok := lookupSetting(settings, "log_level", "log-level"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("logLevel: %w", err)
		}
		cfg.LogLevel = val
	}

	if raw, ok := lookupSetting(settings, "log_format", "log-format"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("logFormat: %w", err)
		}
		cfg.LogFormat = val
	}

	if raw, ok := lookupSetting(settings, "thresholds"); ok {
		thresholds, err := asStringSlice(raw)
		if err != nil {
			return fmt.Errorf("thresholds: %w", err)
		}
		cfg.Thresholds = thresholds
	}

	if raw, ok := lookupSetting(settings, "tracing"); ok {
		tracing, err := parseTracingConfig(raw, cfg.Tracing)
		if err != nil {
			return fmt.Errorf("tracing: %w", err)
		}
		cfg.Tracing = tracing
	}

	return nil
}

// applyDurationSetting reads a duration from the first matching key. Keys in
// msKeys hold plain integer milliseconds.
func applyDurationSetting(settings map[string]interface{}, target *time.Duration, label string, keys, msKeys []string) error {
	if raw, ok := lookupSetting(settings, keys...); ok {
		dur, err := asDuration(raw)
		if err != nil {
			return fmt.Errorf("%s: %w", label, err)
		}
		*target = dur
		return nil
	}
	if raw, ok := lookupSetting(settings, msKeys...); ok {
		ms, err := asInt(raw)
		if err != nil {
			return fmt.Errorf("%s: %w", label, err)
		}
		*target = time.Duration(ms) * time.Millisecond
	}
	return nil
}

func parseTracingConfig(value interface{}, base TracingConfig) (TracingConfig, error) {
	settings, err := toStringKeyMap(value)
	if err != nil {
		return TracingConfig{}, err
	}
	cfg := base

	if raw, ok := lookupSetting(settings, "endpoint"); ok {
		val, err := asString(raw)
		if err != nil {
			return TracingConfig{}, fmt.Errorf("endpoint: %w", err)
		}
		cfg.Endpoint = strings.TrimSpace(val)
	}
	if raw, ok := lookupSetting(settings, "protocol"); ok {
		val, err := asString(raw)
		if err != nil {
			return TracingConfig{}, fmt.Errorf("protocol: %w", err)
		}
		cfg.Protocol = strings.ToLower(strings.TrimSpace(val))
	}
	if raw, ok := lookupSetting(settings, "service_name", "service-name", "servicename"); ok {
		val, err := asString(raw)
		if err != nil {
			return TracingConfig{}, fmt.Errorf("service_name: %w", err)
		}
		cfg.ServiceName = val
	}
	if raw, ok := lookupSetting(settings, "sample_rate", "sample-rate", "samplerate"); ok {
		val, err := asFloat64(raw)
		if err != nil {
			return TracingConfig{}, fmt.Errorf("sample_rate: %w", err)
		}
		cfg.SampleRate = val
	}
	if raw, ok := lookupSetting(settings, "insecure"); ok {
		val, err := asBool(raw)
		if err != nil {
			return TracingConfig{}, fmt.Errorf("insecure: %w", err)
		}
		cfg.Insecure = val
	}
	if raw, ok := lookupSetting(settings, "propagate"); ok {
		val, err := asBool(raw)
		if err != nil {
			return TracingConfig{}, fmt.Errorf("propagate: %w", err)
		}
		cfg.Propagate = &val
	}
	return cfg, nil
}
