package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/torosent/wsbench/internal/config"
	"github.com/torosent/wsbench/internal/logging"
	"github.com/torosent/wsbench/internal/output"
	"github.com/torosent/wsbench/internal/runner"
	"github.com/torosent/wsbench/internal/threshold"
	"github.com/torosent/wsbench/internal/tracing"
	"github.com/torosent/wsbench/internal/websocket"
)

const (
	tracingShutdownTimeout = 5 * time.Second
	outputFileTimeout      = 10 * time.Second
)

// errThresholdsFailed is returned after the report when an assertion fails.
var errThresholdsFailed = errors.New("one or more thresholds failed")

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	cancel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	loader := config.NewLoader()
	cfg, err := loader.Load(args)
	if err != nil {
		if errors.Is(err, config.ErrHelpRequested) {
			return nil
		}
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	thresholds, err := threshold.ParseMultiple(cfg.Thresholds)
	if err != nil {
		return err
	}

	log, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	provider, err := tracing.Init(ctx, cfg.Tracing)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), tracingShutdownTimeout)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			log.Warn("tracing shutdown", zap.Error(err))
		}
	}()

	dialer := websocket.NewDialer(websocket.Config{
		Headers:          cfg.HTTPHeaders(),
		HandshakeTimeout: cfg.HandshakeTimeout,
		WriteTimeout:     cfg.WriteTimeout,
		InjectHeaders:    provider.HeaderInjector(),
	})

	opts := cfg.BenchmarkOptions()
	opts.Dialer = dialer
	opts.Logger = log
	opts.Tracer = provider.Tracer()

	runCtx, span := tracing.StartRunSpan(ctx, opts.Tracer, cfg.TargetURL, cfg.Connections)
	summary, err := runner.New(opts).Run(runCtx)
	if err != nil {
		tracing.EndSpan(span, err)
		return err
	}
	tracing.EndSpan(span, nil,
		attribute.String("wsbench.run_id", summary.RunID),
		attribute.Int64("wsbench.total_requests", summary.TotalRequests),
		attribute.Int64("wsbench.successful_requests", summary.SuccessfulRequests),
	)

	if err := output.Render(stdout, string(cfg.OutputFormat), summary); err != nil {
		return err
	}

	if cfg.OutputFile != "" {
		fileCtx, cancel := context.WithTimeout(context.Background(), outputFileTimeout)
		err := output.WriteFile(fileCtx, cfg.OutputFile, string(cfg.OutputFormat), summary)
		cancel()
		if err != nil {
			return err
		}
		log.Info("summary written", zap.String("path", cfg.OutputFile))
	}

	if len(thresholds) == 0 {
		return nil
	}

	results := threshold.NewEvaluator(thresholds).Evaluate(summary)
	// Keep machine-readable stdout a single document.
	resultsOut := stderr
	if cfg.OutputFormat == config.OutputText {
		resultsOut = stdout
	}
	output.PrintThresholdResults(resultsOut, results)
	if !threshold.AllPassed(results) {
		return errThresholdsFailed
	}
	return nil
}
