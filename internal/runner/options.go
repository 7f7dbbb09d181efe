package runner

import (
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"

	"github.com/torosent/busprobe/internal/bus"
	"github.com/torosent/busprobe/internal/logging"
	"github.com/torosent/busprobe/internal/metrics"
	"github.com/torosent/busprobe/internal/probe"
)

const (
	DefaultMaxWait       = 60 * time.Second
	DefaultSweepInterval = time.Second
)

// Sink receives a snapshot after every sweep tick.
type Sink interface {
	Publish(metrics.Snapshot)
}

// SinkFunc adapts a function to a Sink.
type SinkFunc func(metrics.Snapshot)

func (f SinkFunc) Publish(s metrics.Snapshot) { f(s) }

// Options configure the Runner.
type Options struct {
	Source        bus.Source         // message source (required, closed by the caller)
	Engine        *probe.Engine      // correlation engine (required)
	MaxWait       time.Duration      // age after which a pending request times out
	SweepInterval time.Duration      // period of the sweep timer
	Duration      time.Duration      // overall time limit (0 means until cancelled or the source ends)
	Clock         clock.Clock        // optional injection for tests
	Sinks         []Sink             // snapshot consumers
	Logger        logrus.FieldLogger // optional
}

func (o *Options) normalize() {
	if o.MaxWait <= 0 {
		o.MaxWait = DefaultMaxWait
	}
	if o.SweepInterval <= 0 {
		o.SweepInterval = DefaultSweepInterval
	}
	if o.Duration < 0 {
		o.Duration = 0
	}
	if o.Clock == nil {
		o.Clock = clock.New()
	}
	if o.Logger == nil {
		o.Logger = logging.Discard()
	}
}
