package output

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/torosent/busprobe/internal/metrics"
)

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
)

// ProgressReporter rewrites a single status line for every snapshot it
// receives. It is safe to use as a runner sink.
type ProgressReporter struct {
	mu      sync.Mutex
	writer  io.Writer
	color   bool
	lastLen int
}

// NewProgressReporter creates a progress reporter writing to writer. When color
// is set, nonzero failure counters are highlighted.
func NewProgressReporter(writer io.Writer, color bool) *ProgressReporter {
	if writer == nil {
		writer = io.Discard
	}
	return &ProgressReporter{writer: writer, color: color}
}

// Publish redraws the status line.
func (p *ProgressReporter) Publish(snap metrics.Snapshot) {
	line, visible := p.render(snap)

	p.mu.Lock()
	defer p.mu.Unlock()
	pad := ""
	if p.lastLen > visible {
		pad = strings.Repeat(" ", p.lastLen-visible)
	}
	fmt.Fprint(p.writer, "\r"+line+pad)
	p.lastLen = visible
}

// Finish ends the status line so later output starts on a fresh line.
func (p *ProgressReporter) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.lastLen > 0 {
		fmt.Fprintln(p.writer)
		p.lastLen = 0
	}
}

// FormatProgress returns the uncolored status line for snap.
func FormatProgress(snap metrics.Snapshot) string {
	line, _ := (&ProgressReporter{}).render(snap)
	return line
}

func (p *ProgressReporter) render(snap metrics.Snapshot) (string, int) {
	type field struct {
		name  string
		count int64
		extra string
		color string
	}
	ok := field{name: "ROK", count: snap.Serviced, color: ansiGreen}
	if snap.HasAvgLatency() {
		ok.extra = " (avg " + FormatLatency(snap.AvgLatency) + ")"
	}
	fields := []field{
		{name: "MSGS", count: snap.Total, color: ansiGreen},
		ok,
		{name: "RPEND", count: snap.Pending, color: warnColor(snap.Pending, ansiYellow)},
		{name: "RTIMO", count: snap.TimedOut, color: warnColor(snap.TimedOut, ansiRed)},
		{name: "ERR", count: snap.Errors, color: warnColor(snap.Errors, ansiRed)},
	}

	var plain, out strings.Builder
	for _, f := range fields {
		value := FormatCount(f.count)
		fmt.Fprintf(&plain, "%s: %s%s ", f.name, value, f.extra)
		if p.color {
			fmt.Fprintf(&out, "%s: %s%s%s%s ", f.name, f.color, value, ansiReset, f.extra)
		} else {
			fmt.Fprintf(&out, "%s: %s%s ", f.name, value, f.extra)
		}
	}
	tail := fmt.Sprintf("MAX: %s AVG: %s", FormatBytes(float64(snap.MaxPayload)), FormatBytes(snap.AvgPayload))
	plain.WriteString(tail)
	out.WriteString(tail)
	return out.String(), plain.Len()
}

func warnColor(count int64, color string) string {
	if count > 0 {
		return color
	}
	return ansiGreen
}
