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

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"

	"github.com/torosent/busprobe/internal/bus"
	"github.com/torosent/busprobe/internal/clientmetrics"
	"github.com/torosent/busprobe/internal/config"
	"github.com/torosent/busprobe/internal/dashboard"
	"github.com/torosent/busprobe/internal/logging"
	"github.com/torosent/busprobe/internal/output"
	"github.com/torosent/busprobe/internal/probe"
	"github.com/torosent/busprobe/internal/runner"
	"github.com/torosent/busprobe/internal/tracing"
)

const (
	connectTimeout       = 10 * time.Second
	tracingShutdown      = 5 * time.Second
	timeoutLogsPerSecond = 5
	timeoutLogBurst      = 20
	connectionNamePrefix = "busprobe-"
)

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

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat, stderr)
	if err != nil {
		return err
	}
	runID := ulid.Make().String()
	log := logger.WithField("run_id", runID)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	tp, err := tracing.Init(ctx, cfg.Tracing)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), tracingShutdown)
		defer shutdownCancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("tracing shutdown failed")
		}
	}()

	src, connStats, err := openSource(ctx, cfg, runID, log)
	if err != nil {
		return err
	}
	defer src.Close()

	var listeners probe.Listeners
	if tp.Enabled() {
		listeners = append(listeners, tracing.NewExchangeRecorder(tp.Tracer()))
	}
	if cfg.LogTimeouts {
		listeners = append(listeners, newTimeoutLogger(log, timeoutLogsPerSecond, timeoutLogBurst))
	}

	engine := probe.NewEngine(probe.Options{
		MaxLatency:   cfg.MaxWait,
		SubjectCache: cfg.SubjectCache,
		TopSubjects:  cfg.TopSubjects,
		Listener:     listeners,
		RunID:        runID,
	})

	var sinks []runner.Sink
	var dash *dashboard.Dashboard
	var progress *output.ProgressReporter
	if cfg.Dashboard {
		dash, err = dashboard.New(dashboard.ProbeConfig{
			Servers:       cfg.ResolvedServers(),
			Subject:       cfg.Subject,
			MaxWait:       cfg.MaxWait,
			SweepInterval: cfg.SweepInterval,
			Duration:      cfg.Duration,
			ReplayFile:    cfg.ReplayFile,
			ConfigFile:    cfg.ConfigFile,
			Connection:    connStats,
		}, cancel)
		if err != nil {
			return err
		}
		dash.Start()
		sinks = append(sinks, dash)
	} else if !cfg.Quiet {
		progress = output.NewProgressReporter(stdout, isTerminal(stdout))
		sinks = append(sinks, progress)
	}

	r := runner.New(runner.Options{
		Source:        src,
		Engine:        engine,
		MaxWait:       cfg.MaxWait,
		SweepInterval: cfg.SweepInterval,
		Duration:      cfg.Duration,
		Sinks:         sinks,
		Logger:        log,
	})

	log.WithFields(logrus.Fields{
		"subject":  cfg.Subject,
		"max_wait": cfg.MaxWait,
	}).Debug("probe started")

	result, runErr := r.Run(ctx)

	if dash != nil {
		dash.Stop()
	}
	if progress != nil {
		progress.Finish()
	}

	report := output.Report{Probe: result.Snapshot}
	if connStats != nil {
		conn := connStats()
		report.Connection = &conn
	}
	if err := printReport(stdout, cfg.Output, report); err != nil {
		return err
	}

	log.WithFields(logrus.Fields{
		"duration": result.Duration,
		"sweeps":   result.Sweeps,
	}).Debug("probe finished")

	return runErr
}

// openSource returns the configured message source and, for live connections,
// a function reporting connection stats.
func openSource(ctx context.Context, cfg *config.Config, runID string, log logrus.FieldLogger) (bus.Source, func() clientmetrics.Snapshot, error) {
	if cfg.Replaying() {
		src, err := bus.NewReplaySource(bus.ReplayOptions{
			Path:   cfg.ReplayFile,
			Format: cfg.ReplayFormat,
			Rate:   cfg.ReplayRate,
		})
		if err != nil {
			return nil, nil, err
		}
		log.WithFields(logrus.Fields{
			"file":     cfg.ReplayFile,
			"messages": src.Len(),
		}).Info("replaying recorded traffic")
		return src, nil, nil
	}

	connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	src, err := bus.NewNATSSource(connectCtx, bus.NATSOptions{
		Servers:       cfg.ResolvedServers(),
		Subject:       cfg.Subject,
		Name:          connectionNamePrefix + runID,
		CredsFile:     cfg.CredsFile,
		JWTFile:       cfg.JWTFile,
		NKey:          cfg.NKey,
		Token:         cfg.Token,
		User:          cfg.User,
		Password:      cfg.Password,
		TLSCAFile:     cfg.TLSCAFile,
		MaxReconnects: cfg.MaxReconnects,
		ReconnectWait: cfg.ReconnectWait,
		Logger:        log,
	})
	if err != nil {
		return nil, nil, err
	}
	return src, src.Stats, nil
}

func printReport(w io.Writer, format config.OutputFormat, report output.Report) error {
	switch format {
	case config.OutputJSON:
		return output.PrintJSONReport(w, report)
	case config.OutputYAML:
		return output.PrintYAMLReport(w, report)
	default:
		output.PrintReport(w, report)
		return nil
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}
