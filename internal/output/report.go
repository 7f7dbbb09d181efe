package output

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/torosent/busprobe/internal/clientmetrics"
	"github.com/torosent/busprobe/internal/metrics"
)

// Report is the structured final report. Connection is nil for replayed runs.
type Report struct {
	Probe      metrics.Snapshot        `json:"probe" yaml:"probe"`
	Connection *clientmetrics.Snapshot `json:"connection,omitempty" yaml:"connection,omitempty"`
}

// PrintReport outputs a human-readable summary report.
func PrintReport(w io.Writer, r Report) {
	snap := r.Probe
	fmt.Fprintln(w, "\n--- Probe Results ---")
	if snap.RunID != "" {
		fmt.Fprintf(w, "Run:               %s\n", snap.RunID)
	}
	fmt.Fprintf(w, "Duration:          %s\n", snap.Elapsed.Round(time.Millisecond))
	fmt.Fprintf(w, "Messages:          %s\n", FormatCount(snap.Total))
	fmt.Fprintf(w, "Messages/sec:      %.2f\n", snap.MessagesPerSec)
	fmt.Fprintf(w, "  Requests:        %s\n", FormatCount(snap.Requests))
	fmt.Fprintf(w, "  Responses:       %s\n", FormatCount(snap.Responses))
	fmt.Fprintf(w, "  Unrelated:       %s\n", FormatCount(snap.Unrelated))

	fmt.Fprintln(w, "\nRequests:")
	fmt.Fprintf(w, "  Serviced:        %s\n", FormatCount(snap.Serviced))
	fmt.Fprintf(w, "  Timed out:       %s\n", FormatCount(snap.TimedOut))
	fmt.Fprintf(w, "  Pending:         %s", FormatCount(snap.Pending))
	if snap.Pending > 0 {
		fmt.Fprintf(w, " (avg wait %s)", FormatLatency(snap.AvgPendingWait))
	}
	fmt.Fprintln(w)
	if snap.Overwritten > 0 {
		fmt.Fprintf(w, "  Overwritten:     %s\n", FormatCount(snap.Overwritten))
	}
	fmt.Fprintf(w, "  Errors:          %s\n", FormatCount(snap.Errors))

	fmt.Fprintln(w, "\nLatency:")
	if snap.HasAvgLatency() {
		fmt.Fprintf(w, "  Min:             %s\n", FormatLatency(snap.MinLatency))
		fmt.Fprintf(w, "  Max:             %s\n", FormatLatency(snap.MaxLatency))
		fmt.Fprintf(w, "  Mean:            %s\n", FormatLatency(snap.AvgLatency))
		fmt.Fprintf(w, "  P50:             %s\n", FormatLatency(snap.P50Latency))
		fmt.Fprintf(w, "  P90:             %s\n", FormatLatency(snap.P90Latency))
		fmt.Fprintf(w, "  P99:             %s\n", FormatLatency(snap.P99Latency))
	} else {
		fmt.Fprintln(w, "  No serviced requests")
	}

	fmt.Fprintln(w, "\nPayload:")
	fmt.Fprintf(w, "  Max:             %s\n", FormatBytes(float64(snap.MaxPayload)))
	fmt.Fprintf(w, "  Avg:             %s\n", FormatBytes(snap.AvgPayload))
	fmt.Fprintf(w, "  Total:           %s\n", FormatBytes(float64(snap.PayloadSum)))

	if len(snap.Subjects) > 0 {
		fmt.Fprintln(w, "\nSubject Breakdown:")
		for _, s := range snap.Subjects {
			fmt.Fprintf(w, "  - %s: requests=%s, serviced=%s, timed_out=%s, errors=%s, avg=%s\n",
				s.Subject,
				FormatCount(s.Requests),
				FormatCount(s.Serviced),
				FormatCount(s.TimedOut),
				FormatCount(s.Errors),
				FormatLatency(s.AvgLatency()),
			)
		}
	}

	if c := r.Connection; c != nil {
		fmt.Fprintln(w, "\nConnection:")
		if c.ServerURL != "" {
			fmt.Fprintf(w, "  Server:          %s\n", c.ServerURL)
		}
		fmt.Fprintf(w, "  Connected:       %t\n", c.Connected)
		fmt.Fprintf(w, "  Reconnects:      %d\n", c.Reconnects)
		fmt.Fprintf(w, "  Disconnects:     %d\n", c.Disconnects)
		fmt.Fprintf(w, "  Received:        %d msgs, %s\n", c.MessagesReceived, FormatBytes(float64(c.BytesReceived)))
		if c.Dropped > 0 || c.SlowConsumers > 0 {
			fmt.Fprintf(w, "  Dropped:         %d (slow consumer events: %d)\n", c.Dropped, c.SlowConsumers)
		}
		if c.LastError != "" {
			fmt.Fprintf(w, "  Last error:      %s\n", c.LastError)
		}
	}
}

// PrintJSONReport outputs a JSON-formatted report.
func PrintJSONReport(w io.Writer, r Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// PrintYAMLReport outputs a YAML-formatted report.
func PrintYAMLReport(w io.Writer, r Report) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(r); err != nil {
		return err
	}
	return enc.Close()
}
