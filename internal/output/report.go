// Package output renders the run summary for people and machines.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/torosent/wsbench/internal/metrics"
	"github.com/torosent/wsbench/internal/threshold"
)

// Supported summary formats.
const (
	FormatText = "text"
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// Render writes the summary in format. An empty format means JSON.
func Render(w io.Writer, format string, summary metrics.Summary) error {
	switch strings.ToLower(format) {
	case "", FormatJSON:
		return PrintJSONReport(w, summary)
	case FormatYAML:
		return PrintYAMLReport(w, summary)
	case FormatText:
		PrintReport(w, summary)
		return nil
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}

// PrintReport outputs a human-readable summary report.
func PrintReport(w io.Writer, s metrics.Summary) {
	fmt.Fprintln(w, "\n--- Benchmark Results ---")
	if s.RunID != "" {
		fmt.Fprintf(w, "Run:               %s\n", s.RunID)
	}
	fmt.Fprintf(w, "Connections:       %d\n", s.Connections)
	fmt.Fprintf(w, "Total Requests:    %d\n", s.TotalRequests)
	fmt.Fprintf(w, "Successful:        %d\n", s.SuccessfulRequests)
	fmt.Fprintf(w, "Failed:            %d\n", s.FailedRequests)
	fmt.Fprintf(w, "Duration:          %s\n", s.TotalTime)
	fmt.Fprintf(w, "Requests/sec:      %.2f\n", s.RequestsPerSecond)
	fmt.Fprintln(w, "\nLatency:")
	fmt.Fprintf(w, "  Min:             %s\n", s.MinLatency)
	fmt.Fprintf(w, "  Max:             %s\n", s.MaxLatency)
	fmt.Fprintf(w, "  Mean:            %s\n", s.AverageLatency)
	fmt.Fprintf(w, "  P50:             %s\n", s.P50Latency)
	fmt.Fprintf(w, "  P90:             %s\n", s.P90Latency)
	fmt.Fprintf(w, "  P99:             %s\n", s.P99Latency)
	fmt.Fprintln(w, "\nTraffic:")
	fmt.Fprintf(w, "  Messages:        %d sent, %d received\n", s.MessagesSent, s.MessagesReceived)
	fmt.Fprintf(w, "  Bytes:           %d sent, %d received\n", s.BytesSent, s.BytesReceived)

	fmt.Fprintln(w, "\nErrors:")
	writeErrorRows(w, s.ErrorRates, "  ")
}

// PrintJSONReport outputs a JSON-formatted report.
func PrintJSONReport(w io.Writer, s metrics.Summary) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(s)
}

// PrintYAMLReport outputs a YAML-formatted report.
func PrintYAMLReport(w io.Writer, s metrics.Summary) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(s); err != nil {
		return err
	}
	return enc.Close()
}

// PrintThresholdResults lists each assertion with its measured value.
func PrintThresholdResults(w io.Writer, results []threshold.Result) {
	if len(results) == 0 {
		return
	}
	passed := 0
	for _, r := range results {
		if r.Pass {
			passed++
		}
	}
	fmt.Fprintf(w, "\nThresholds (%d/%d passed):\n", passed, len(results))
	for _, r := range results {
		mark := "PASS"
		if !r.Pass {
			mark = "FAIL"
		}
		fmt.Fprintf(w, "  %s  %s (actual %.2f)\n", mark, r.Threshold.Raw, r.Actual)
	}
}

func writeErrorRows(w io.Writer, tally map[string]int64, indent string) {
	rows := metrics.FlattenErrors(tally)
	if len(rows) == 0 {
		fmt.Fprintf(w, "%sNone\n", indent)
		return
	}
	for _, row := range rows {
		fmt.Fprintf(w, "%s%s: %d\n", indent, metrics.FriendlyErrorName(metrics.ErrorKind(row.Kind)), row.Count)
	}
}
