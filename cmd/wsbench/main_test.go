package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/torosent/wsbench/internal/gateway"
	"github.com/torosent/wsbench/internal/metrics"
)

func startGateway(t *testing.T, opts gateway.Options) string {
	t.Helper()
	server := httptest.NewServer(gateway.NewHandler(opts))
	t.Cleanup(server.Close)
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func baseArgs(target string) []string {
	return []string{
		"--target=" + target,
		"-c", "3",
		"-n", "2",
		"--interval=5ms",
		"--ramp-up=0s",
		"--drain-timeout=2s",
		"--log-level=error",
	}
}

func runCLI(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	var stdout, stderr bytes.Buffer
	err := run(ctx, args, &stdout, &stderr)
	return stdout.String(), stderr.String(), err
}

func TestRunPrintsJSONSummary(t *testing.T) {
	target := startGateway(t, gateway.Options{HeartbeatInterval: time.Hour})
	path := filepath.Join(t.TempDir(), "summary.json")

	stdout, _, err := runCLI(t, append(baseArgs(target), "--output-file="+path)...)
	if err != nil {
		t.Fatalf("run() error = %v", err)
	}

	var summary metrics.Summary
	if err := json.Unmarshal([]byte(stdout), &summary); err != nil {
		t.Fatalf("stdout is not a JSON summary: %v\n%s", err, stdout)
	}
	if summary.TotalRequests != 6 || summary.SuccessfulRequests != 6 {
		t.Errorf("total = %d, successful = %d, want 6/6", summary.TotalRequests, summary.SuccessfulRequests)
	}
	if summary.Connections != 3 {
		t.Errorf("connections = %d, want 3", summary.Connections)
	}
	if len(summary.ErrorRates) != 0 {
		t.Errorf("error_rates = %v, want empty", summary.ErrorRates)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("output file not written: %v", err)
	}
	var fromFile metrics.Summary
	if err := json.Unmarshal(data, &fromFile); err != nil {
		t.Fatalf("output file is not JSON: %v", err)
	}
	if fromFile.RunID != summary.RunID {
		t.Errorf("file run_id = %q, stdout run_id = %q", fromFile.RunID, summary.RunID)
	}
}

func TestRunTextReportWithThresholds(t *testing.T) {
	target := startGateway(t, gateway.Options{HeartbeatInterval: time.Hour})

	stdout, _, err := runCLI(t, append(baseArgs(target),
		"--output-format=text",
		"--threshold=ws_req_failed:count == 0",
		"--threshold=ws_requests:count >= 6",
	)...)
	if err != nil {
		t.Fatalf("run() error = %v", err)
	}
	if !strings.Contains(stdout, "--- Benchmark Results ---") {
		t.Errorf("missing text report:\n%s", stdout)
	}
	if !strings.Contains(stdout, "Thresholds (2/2 passed)") {
		t.Errorf("missing threshold results:\n%s", stdout)
	}
}

func TestRunFailsOnThreshold(t *testing.T) {
	target := startGateway(t, gateway.Options{HeartbeatInterval: time.Hour, DropResponses: true})

	stdout, stderr, err := runCLI(t, append(baseArgs(target),
		"--drain-timeout=50ms",
		"--threshold=ws_req_failed:count == 0",
	)...)
	if !errors.Is(err, errThresholdsFailed) {
		t.Fatalf("run() error = %v, want errThresholdsFailed", err)
	}

	var summary metrics.Summary
	if err := json.Unmarshal([]byte(stdout), &summary); err != nil {
		t.Fatalf("report must still be printed: %v", err)
	}
	if summary.FailedRequests != 6 {
		t.Errorf("failed_requests = %d, want 6", summary.FailedRequests)
	}
	if !strings.Contains(stderr, "FAIL") {
		t.Errorf("threshold results should go to stderr for JSON output:\n%s", stderr)
	}
}

func TestRunWithoutThresholdsNeverFailsOnData(t *testing.T) {
	target := startGateway(t, gateway.Options{HeartbeatInterval: time.Hour, DropResponses: true})

	_, _, err := runCLI(t, append(baseArgs(target), "--drain-timeout=50ms")...)
	if err != nil {
		t.Fatalf("run() error = %v", err)
	}
}

func TestRunRejectsInvalidConfig(t *testing.T) {
	_, _, err := runCLI(t, "--target=http://localhost:1", "-c", "0")
	if err == nil {
		t.Fatal("run() expected validation error")
	}
	if !strings.Contains(err.Error(), "scheme must be ws or wss") {
		t.Errorf("error = %v", err)
	}
}

func TestRunHelp(t *testing.T) {
	if _, _, err := runCLI(t, "--help"); err != nil {
		t.Fatalf("run(--help) error = %v", err)
	}
}
