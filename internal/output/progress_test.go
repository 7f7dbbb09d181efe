package output

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/torosent/busprobe/internal/metrics"
)

func sampleSnapshot() metrics.Snapshot {
	return metrics.Snapshot{
		Total:      12345,
		Serviced:   10,
		Pending:    2,
		TimedOut:   1,
		Errors:     0,
		MaxPayload: 1024,
		AvgPayload: 12,
		AvgLatency: 3 * time.Millisecond,
	}
}

func TestFormatProgress(t *testing.T) {
	got := FormatProgress(sampleSnapshot())
	want := "MSGS: 12,345 ROK: 10 (avg 3.00ms) RPEND: 2 RTIMO: 1 ERR: 0 MAX: 1.00KB AVG: 12.00B"
	if got != want {
		t.Errorf("FormatProgress() = %q, want %q", got, want)
	}
}

func TestFormatProgressWithoutServiced(t *testing.T) {
	got := FormatProgress(metrics.Snapshot{Total: 3, Pending: 3})
	if strings.Contains(got, "avg") {
		t.Errorf("FormatProgress() = %q, want no average before any response", got)
	}
	if !strings.HasPrefix(got, "MSGS: 3 ROK: 0 RPEND: 3") {
		t.Errorf("FormatProgress() = %q", got)
	}
}

func TestProgressReporterRewritesLine(t *testing.T) {
	var buf bytes.Buffer
	reporter := NewProgressReporter(&buf, false)

	reporter.Publish(sampleSnapshot())
	first := buf.String()
	if !strings.HasPrefix(first, "\rMSGS: 12,345") {
		t.Fatalf("first line = %q", first)
	}

	buf.Reset()
	reporter.Publish(metrics.Snapshot{Total: 1})
	second := buf.String()
	if len(second) != len(first) {
		t.Errorf("shorter line should be padded to %d chars, got %d", len(first), len(second))
	}

	buf.Reset()
	reporter.Finish()
	if buf.String() != "\n" {
		t.Errorf("Finish() wrote %q, want newline", buf.String())
	}
	buf.Reset()
	reporter.Finish()
	if buf.Len() != 0 {
		t.Errorf("second Finish() wrote %q, want nothing", buf.String())
	}
}

func TestProgressReporterColor(t *testing.T) {
	var buf bytes.Buffer
	reporter := NewProgressReporter(&buf, true)
	reporter.Publish(sampleSnapshot())

	out := buf.String()
	if !strings.Contains(out, "RTIMO: "+ansiRed+"1"+ansiReset) {
		t.Errorf("expected timed out count in red, got %q", out)
	}
	if !strings.Contains(out, "ERR: "+ansiGreen+"0"+ansiReset) {
		t.Errorf("expected zero errors in green, got %q", out)
	}
	if !strings.Contains(out, "RPEND: "+ansiYellow+"2"+ansiReset) {
		t.Errorf("expected pending count in yellow, got %q", out)
	}
}

func TestProgressReporterNilWriter(t *testing.T) {
	reporter := NewProgressReporter(nil, false)
	reporter.Publish(sampleSnapshot())
	reporter.Finish()
}
