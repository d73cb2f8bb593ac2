package output

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/torosent/wsbench/internal/metrics"
	"github.com/torosent/wsbench/internal/threshold"
)

func sampleSummary() metrics.Summary {
	return metrics.Summary{
		RunID:              "01J0000000000000000000TEST",
		Connections:        10,
		TotalRequests:      100,
		SuccessfulRequests: 95,
		FailedRequests:     5,
		AverageLatencyMs:   12.5,
		P99LatencyMs:       40,
		RequestsPerSecond:  47.5,
		TotalTimeMs:        2000,
		TotalTime:          2 * time.Second,
		AverageLatency:     12500 * time.Microsecond,
		ErrorRates: map[string]int64{
			"ConnectionError":   2,
			"MessageParseError": 7,
		},
	}
}

func TestPrintReportBasic(t *testing.T) {
	var buf bytes.Buffer
	PrintReport(&buf, sampleSummary())

	out := buf.String()
	for _, want := range []string{"Total Requests", "95", "Requests/sec:      47.50", "12.5ms"} {
		if !strings.Contains(out, want) {
			t.Errorf("report missing %q:\n%s", want, out)
		}
	}

	// Errors are listed by descending count.
	parse := strings.Index(out, "Malformed inbound frame: 7")
	conn := strings.Index(out, "Connection failed: 2")
	if parse < 0 || conn < 0 || parse > conn {
		t.Errorf("error rows not sorted by count:\n%s", out)
	}
}

func TestPrintReportWithoutErrors(t *testing.T) {
	var buf bytes.Buffer
	PrintReport(&buf, metrics.Summary{})
	if !strings.Contains(buf.String(), "Errors:\n  None") {
		t.Errorf("expected empty error section:\n%s", buf.String())
	}
}

func TestPrintJSONReport(t *testing.T) {
	var buf bytes.Buffer
	if err := PrintJSONReport(&buf, sampleSummary()); err != nil {
		t.Fatalf("PrintJSONReport() error = %v", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if decoded["successful_requests"] != float64(95) {
		t.Errorf("successful_requests = %v", decoded["successful_requests"])
	}
	rates, ok := decoded["error_rates"].(map[string]interface{})
	if !ok || rates["ConnectionError"] != float64(2) {
		t.Errorf("error_rates = %v", decoded["error_rates"])
	}
	if _, ok := decoded["AverageLatency"]; ok {
		t.Error("duration fields must not be serialized")
	}
}

func TestPrintYAMLReport(t *testing.T) {
	var buf bytes.Buffer
	if err := PrintYAMLReport(&buf, sampleSummary()); err != nil {
		t.Fatalf("PrintYAMLReport() error = %v", err)
	}

	var decoded map[string]interface{}
	if err := yaml.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("output is not YAML: %v", err)
	}
	if decoded["run_id"] != "01J0000000000000000000TEST" {
		t.Errorf("run_id = %v", decoded["run_id"])
	}
	if decoded["total_requests"] != 100 {
		t.Errorf("total_requests = %v", decoded["total_requests"])
	}
}

func TestRenderRejectsUnknownFormat(t *testing.T) {
	if err := Render(&bytes.Buffer{}, "html", sampleSummary()); err == nil {
		t.Error("Render() expected error for unknown format")
	}
}

func TestPrintThresholdResults(t *testing.T) {
	results := []threshold.Result{
		{Threshold: threshold.Threshold{Raw: "ws_req_duration:p99 < 50"}, Actual: 40, Pass: true},
		{Threshold: threshold.Threshold{Raw: "ws_req_failed:rate < 0.01"}, Actual: 0.05, Pass: false},
	}
	var buf bytes.Buffer
	PrintThresholdResults(&buf, results)

	out := buf.String()
	if !strings.Contains(out, "Thresholds (1/2 passed)") {
		t.Errorf("missing header:\n%s", out)
	}
	if !strings.Contains(out, "FAIL  ws_req_failed:rate < 0.01") {
		t.Errorf("missing failed row:\n%s", out)
	}

	buf.Reset()
	PrintThresholdResults(&buf, nil)
	if buf.Len() != 0 {
		t.Errorf("expected no output without thresholds, got %q", buf.String())
	}
}

func TestWriteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results", "summary.json")
	if err := WriteFile(context.Background(), path, FormatJSON, sampleSummary()); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	var decoded metrics.Summary
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("file is not JSON: %v", err)
	}
	if decoded.TotalRequests != 100 {
		t.Errorf("TotalRequests = %d, want 100", decoded.TotalRequests)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Errorf("temporary file left behind: %v", err)
	}
}

func TestWriteFileConcurrentWriters(t *testing.T) {
	path := filepath.Join(t.TempDir(), "summary.yaml")

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s := sampleSummary()
			s.Connections = i
			errs <- WriteFile(context.Background(), path, FormatYAML, s)
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("WriteFile() error = %v", err)
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	var decoded map[string]interface{}
	if err := yaml.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("file is not valid YAML after concurrent writes: %v", err)
	}
}

func TestWriteFileCancelledWhileLocked(t *testing.T) {
	path := filepath.Join(t.TempDir(), "summary.json")
	held := flockFor(t, path)
	defer held()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if err := WriteFile(ctx, path, FormatJSON, sampleSummary()); err == nil {
		t.Fatal("WriteFile() expected error while lock is held")
	}
}
