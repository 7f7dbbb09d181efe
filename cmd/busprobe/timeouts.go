package main

import (
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/torosent/busprobe/internal/probe"
)

// timeoutLogger logs timed out requests. Bursts beyond the limiter are
// counted and reported with the next entry that gets through.
type timeoutLogger struct {
	logger     logrus.FieldLogger
	limiter    *rate.Limiter
	suppressed atomic.Int64
}

func newTimeoutLogger(logger logrus.FieldLogger, perSecond float64, burst int) *timeoutLogger {
	return &timeoutLogger{
		logger:  logger,
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
	}
}

func (l *timeoutLogger) OnServiced(probe.Exchange) {}

func (l *timeoutLogger) OnTimedOut(ex probe.Exchange) {
	if !l.limiter.Allow() {
		l.suppressed.Add(1)
		return
	}
	entry := l.logger.WithFields(logrus.Fields{
		"subject":  ex.Subject,
		"reply_to": ex.Key,
		"waited":   ex.EndedAt.Sub(ex.StartedAt),
	})
	if n := l.suppressed.Swap(0); n > 0 {
		entry = entry.WithField("suppressed", n)
	}
	entry.Warn("request timed out")
}
