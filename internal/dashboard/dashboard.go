package dashboard

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	ui "github.com/gizak/termui/v3"
	"github.com/gizak/termui/v3/widgets"

	"github.com/torosent/busprobe/internal/clientmetrics"
	"github.com/torosent/busprobe/internal/metrics"
	"github.com/torosent/busprobe/internal/output"
)

const historySize = 100

// ProbeConfig holds probe parameters for display.
type ProbeConfig struct {
	Servers       []string      // Servers in use, empty when replaying
	Subject       string        // Observed subject
	MaxWait       time.Duration // Expiry threshold for pending requests
	SweepInterval time.Duration // Sweep and refresh period
	Duration      time.Duration // Observation limit (0 = until interrupted)
	ReplayFile    string        // Replay source if used
	ConfigFile    string        // Path to config file if used

	// Connection reports live connection stats. Nil hides the panel.
	Connection func() clientmetrics.Snapshot
}

// Dashboard renders a live terminal UI for probe snapshots. It implements
// runner.Sink.
type Dashboard struct {
	ctx          context.Context
	cancel       context.CancelFunc
	shutdownFunc func()
	wg           sync.WaitGroup
	mu           sync.Mutex

	// Widgets
	grid           *ui.Grid
	latencySparkle *widgets.SparklineGroup
	latencyPara    *widgets.Paragraph
	rateGauge      *widgets.Gauge
	subjectList    *widgets.List
	summaryPara    *widgets.Paragraph
	countersPara   *widgets.Paragraph
	connPara       *widgets.Paragraph

	latencyHistory []float64
	peakRate       float64
	last           metrics.Snapshot
	cfg            ProbeConfig
}

// New creates a new Dashboard. shutdownFunc is called when the user asks to quit.
func New(cfg ProbeConfig, shutdownFunc func()) (*Dashboard, error) {
	if err := ui.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize termui: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	d := &Dashboard{
		ctx:          ctx,
		cancel:       cancel,
		shutdownFunc: shutdownFunc,
		cfg:          cfg,
	}

	d.initWidgets()
	d.setupGrid()

	return d, nil
}

// initWidgets initializes all dashboard widgets.
func (d *Dashboard) initWidgets() {
	sparkline := widgets.NewSparkline()
	sparkline.Title = "Latency (ms)"
	sparkline.LineColor = ui.ColorGreen
	sparkline.Data = []float64{0}

	d.latencyHistory = make([]float64, 0, historySize)
	d.latencySparkle = widgets.NewSparklineGroup(sparkline)
	d.latencySparkle.Title = "Response Latency"
	d.latencySparkle.BorderStyle.Fg = ui.ColorCyan

	d.latencyPara = widgets.NewParagraph()
	d.latencyPara.Title = "Latency Stats"
	d.latencyPara.Text = "No responses yet"
	d.latencyPara.BorderStyle.Fg = ui.ColorCyan

	d.rateGauge = widgets.NewGauge()
	d.rateGauge.Title = "Messages Per Second"
	d.rateGauge.BarColor = ui.ColorBlue
	d.rateGauge.BorderStyle.Fg = ui.ColorCyan
	d.rateGauge.LabelStyle = ui.NewStyle(ui.ColorWhite)

	d.subjectList = widgets.NewList()
	d.subjectList.Title = "Top Subjects"
	d.subjectList.Rows = []string{"Awaiting requests"}
	d.subjectList.TextStyle = ui.NewStyle(ui.ColorCyan)
	d.subjectList.BorderStyle.Fg = ui.ColorCyan

	d.summaryPara = widgets.NewParagraph()
	d.summaryPara.Title = "Probe"
	d.summaryPara.Text = d.formatParams()
	d.summaryPara.BorderStyle.Fg = ui.ColorCyan

	d.countersPara = widgets.NewParagraph()
	d.countersPara.Title = "Counters"
	d.countersPara.Text = "Waiting for data..."
	d.countersPara.BorderStyle.Fg = ui.ColorCyan

	d.connPara = widgets.NewParagraph()
	d.connPara.Title = "Connection"
	d.connPara.Text = "Replaying from file"
	d.connPara.BorderStyle.Fg = ui.ColorCyan
}

// setupGrid configures the layout grid.
func (d *Dashboard) setupGrid() {
	termWidth, termHeight := ui.TerminalDimensions()

	d.grid = ui.NewGrid()
	d.grid.SetRect(0, 0, termWidth, termHeight)

	d.grid.Set(
		ui.NewRow(0.14,
			ui.NewCol(1.0, d.summaryPara),
		),
		ui.NewRow(0.30,
			ui.NewCol(0.5, d.countersPara),
			ui.NewCol(0.5, d.connPara),
		),
		ui.NewRow(0.12,
			ui.NewCol(1.0, d.rateGauge),
		),
		ui.NewRow(0.22,
			ui.NewCol(0.65, d.latencySparkle),
			ui.NewCol(0.35, d.latencyPara),
		),
		ui.NewRow(0.22,
			ui.NewCol(1.0, d.subjectList),
		),
	)
}

// Start begins handling keyboard and resize events.
func (d *Dashboard) Start() {
	d.wg.Add(1)
	go d.run()
}

// Stop stops the dashboard and restores the terminal.
func (d *Dashboard) Stop() {
	d.cancel()
	d.wg.Wait()
	ui.Close()
	// Give terminal time to restore
	time.Sleep(100 * time.Millisecond)
}

// Publish refreshes the widgets from snap and redraws.
func (d *Dashboard) Publish(snap metrics.Snapshot) {
	if d.ctx.Err() != nil {
		return
	}
	d.update(snap)
	d.render()
}

func (d *Dashboard) run() {
	defer d.wg.Done()

	uiEvents := ui.PollEvents()
	d.render()

	for {
		select {
		case <-d.ctx.Done():
			return
		case e := <-uiEvents:
			switch e.ID {
			case "q", "<C-c>":
				if d.shutdownFunc != nil {
					d.shutdownFunc()
				}
				// Stop() ends the loop.
			case "<Resize>":
				payload := e.Payload.(ui.Resize)
				d.mu.Lock()
				d.grid.SetRect(0, 0, payload.Width, payload.Height)
				d.mu.Unlock()
				ui.Clear()
				d.render()
			}
		}
	}
}

// update refreshes all widget data from a snapshot.
func (d *Dashboard) update(snap metrics.Snapshot) {
	d.mu.Lock()
	defer d.mu.Unlock()

	prev := d.last
	d.last = snap

	if snap.Serviced > prev.Serviced {
		// Mean latency of the responses seen since the previous snapshot.
		window := float64(snap.LatencySumMillis-prev.LatencySumMillis) / float64(snap.Serviced-prev.Serviced)
		d.latencyHistory = append(d.latencyHistory, window)
		if len(d.latencyHistory) > historySize {
			d.latencyHistory = d.latencyHistory[1:]
		}
		d.latencySparkle.Sparklines[0].Data = d.latencyHistory
		d.latencySparkle.Title = fmt.Sprintf(
			"Response Latency | Current: %.2fms | Min: %.2fms | Max: %.2fms",
			window,
			snap.MinLatencyMs,
			snap.MaxLatencyMs,
		)
	}

	rate := currentRate(prev, snap)
	if rate > d.peakRate {
		d.peakRate = rate
	}
	d.rateGauge.Percent = gaugePercent(rate, d.peakRate)
	d.rateGauge.Label = fmt.Sprintf("%.1f msg/s (peak %.1f, avg %.1f)", rate, d.peakRate, snap.MessagesPerSec)

	d.summaryPara.Text = fmt.Sprintf("%s\nElapsed: %s | Messages: %s",
		d.formatParams(),
		snap.Elapsed.Round(time.Second),
		output.FormatCount(snap.Total),
	)

	d.countersPara.Text = formatCounters(snap)
	d.latencyPara.Text = formatLatency(snap)
	d.subjectList.Rows = formatSubjectRows(snap.Subjects)

	if d.cfg.Connection != nil {
		d.connPara.Text = formatConnection(d.cfg.Connection())
	}
}

// render draws all widgets to the screen.
func (d *Dashboard) render() {
	d.mu.Lock()
	defer d.mu.Unlock()

	ui.Render(d.grid)
}

func currentRate(prev, snap metrics.Snapshot) float64 {
	if prev.Taken.IsZero() {
		return snap.MessagesPerSec
	}
	dt := snap.Taken.Sub(prev.Taken).Seconds()
	if dt <= 0 || snap.Total < prev.Total {
		return 0
	}
	return float64(snap.Total-prev.Total) / dt
}

func gaugePercent(rate, peak float64) int {
	if peak <= 0 {
		return 0
	}
	pct := int(rate / peak * 100)
	if pct > 100 {
		pct = 100
	}
	return pct
}

func formatCounters(snap metrics.Snapshot) string {
	pending := output.FormatCount(snap.Pending)
	if snap.Pending > 0 {
		pending += fmt.Sprintf(" (avg wait %s)", output.FormatLatency(snap.AvgPendingWait))
	}
	lines := []string{
		fmt.Sprintf("Messages:     %s", output.FormatCount(snap.Total)),
		fmt.Sprintf("Requests:     %s", output.FormatCount(snap.Requests)),
		fmt.Sprintf("Serviced:     [%s](fg:green)", output.FormatCount(snap.Serviced)),
		fmt.Sprintf("Pending:      [%s](fg:%s)", pending, countColor(snap.Pending, "yellow")),
		fmt.Sprintf("Timed out:    [%s](fg:%s)", output.FormatCount(snap.TimedOut), countColor(snap.TimedOut, "red")),
		fmt.Sprintf("Errors:       [%s](fg:%s)", output.FormatCount(snap.Errors), countColor(snap.Errors, "red")),
		fmt.Sprintf("Unrelated:    %s", output.FormatCount(snap.Unrelated)),
		fmt.Sprintf("Payload:      max %s, avg %s",
			output.FormatBytes(float64(snap.MaxPayload)),
			output.FormatBytes(snap.AvgPayload)),
	}
	if snap.Overwritten > 0 {
		lines = append(lines, fmt.Sprintf("Overwritten:  [%s](fg:yellow)", output.FormatCount(snap.Overwritten)))
	}
	return strings.Join(lines, "\n")
}

func countColor(count int64, warn string) string {
	if count > 0 {
		return warn
	}
	return "green"
}

func formatLatency(snap metrics.Snapshot) string {
	if !snap.HasAvgLatency() {
		return "No responses yet"
	}
	return fmt.Sprintf(
		"Min:  %.2fms\nMean: %.2fms\nP50:  %.2fms\nP90:  %.2fms\nP99:  %.2fms\nMax:  %.2fms",
		snap.MinLatencyMs,
		snap.AvgLatencyMs,
		snap.P50LatencyMs,
		snap.P90LatencyMs,
		snap.P99LatencyMs,
		snap.MaxLatencyMs,
	)
}

func formatSubjectRows(subjects []metrics.SubjectStats) []string {
	if len(subjects) == 0 {
		return []string{"[No requests yet](fg:green)"}
	}
	rows := make([]string, 0, len(subjects))
	for _, s := range subjects {
		rows = append(rows, fmt.Sprintf("[%s](fg:cyan) | Req %s | OK %s | Timeout %s | Err %s | Avg %.2fms",
			s.Subject,
			output.FormatCount(s.Requests),
			output.FormatCount(s.Serviced),
			output.FormatCount(s.TimedOut),
			output.FormatCount(s.Errors),
			s.AvgLatencyMs,
		))
	}
	return rows
}

func formatConnection(c clientmetrics.Snapshot) string {
	state := "[connected](fg:green)"
	if !c.Connected {
		state = "[disconnected](fg:red)"
	}
	lines := []string{
		fmt.Sprintf("State:        %s", state),
		fmt.Sprintf("Server:       %s", c.ServerURL),
		fmt.Sprintf("Uptime:       %s", c.ConnectionDuration.Round(time.Second)),
		fmt.Sprintf("Reconnects:   %d", c.Reconnects),
		fmt.Sprintf("Slow/Dropped: %d / %d", c.SlowConsumers, c.Dropped),
	}
	if c.LastError != "" {
		lines = append(lines, fmt.Sprintf("Last error:   [%s](fg:red)", c.LastError))
	}
	return strings.Join(lines, "\n")
}

// formatParams formats the probe configuration for display.
func (d *Dashboard) formatParams() string {
	var parts []string

	if d.cfg.ReplayFile != "" {
		parts = append(parts, fmt.Sprintf("Replay: %s", d.cfg.ReplayFile))
	} else if len(d.cfg.Servers) > 0 {
		parts = append(parts, fmt.Sprintf("Servers: %s", strings.Join(d.cfg.Servers, ",")))
	}

	if d.cfg.Subject != "" {
		parts = append(parts, fmt.Sprintf("Subject: %s", d.cfg.Subject))
	}

	if d.cfg.MaxWait > 0 {
		parts = append(parts, fmt.Sprintf("Max wait: %s", d.cfg.MaxWait))
	}

	if d.cfg.SweepInterval > 0 {
		parts = append(parts, fmt.Sprintf("Sweep: %s", d.cfg.SweepInterval))
	}

	if d.cfg.Duration > 0 {
		parts = append(parts, fmt.Sprintf("Duration: %s", d.cfg.Duration))
	} else {
		parts = append(parts, "Duration: until stopped")
	}

	if d.cfg.ConfigFile != "" {
		parts = append(parts, fmt.Sprintf("Config: %s", d.cfg.ConfigFile))
	}

	return strings.Join(parts, " | ")
}
