package bus

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"github.com/torosent/busprobe/internal/clientmetrics"
	"github.com/torosent/busprobe/internal/probe"
)

const (
	DefaultSubject          = ">"
	DefaultPendingMsgsLimit = 512 * 1024
	DefaultPendingBytes     = 256 * 1024 * 1024
)

// NATSOptions configure a NATSSource.
type NATSOptions struct {
	Servers []string
	Subject string
	Name    string

	CredsFile string // user credentials file
	JWTFile   string // user JWT file, paired with NKey
	NKey      string // nkey seed, or a path to a file holding one
	Token     string
	User      string
	Password  string
	TLSCAFile string

	MaxReconnects int           // -1 retries forever, 0 keeps the client default
	ReconnectWait time.Duration // 0 keeps the client default

	PendingMsgsLimit  int
	PendingBytesLimit int

	Stats  *clientmetrics.ConnStats
	Clock  clock.Clock
	Logger logrus.FieldLogger
}

// NATSSource subscribes to a NATS subject and yields every delivered message.
type NATSSource struct {
	nc     *nats.Conn
	sub    *nats.Subscription
	stats  *clientmetrics.ConnStats
	clock  clock.Clock
	logger logrus.FieldLogger
}

// NewNATSSource connects and subscribes. The context bounds the initial
// connection attempt.
func NewNATSSource(ctx context.Context, opt NATSOptions) (*NATSSource, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if opt.Subject == "" {
		opt.Subject = DefaultSubject
	}
	if len(opt.Servers) == 0 {
		opt.Servers = []string{nats.DefaultURL}
	}
	if opt.Clock == nil {
		opt.Clock = clock.New()
	}
	if opt.Stats == nil {
		opt.Stats = clientmetrics.New(opt.Clock)
	}
	if opt.Logger == nil {
		opt.Logger = logrus.StandardLogger()
	}
	if opt.PendingMsgsLimit == 0 {
		opt.PendingMsgsLimit = DefaultPendingMsgsLimit
	}
	if opt.PendingBytesLimit == 0 {
		opt.PendingBytesLimit = DefaultPendingBytes
	}

	natsOpts, err := connectOptions(opt)
	if err != nil {
		return nil, err
	}
	if deadline, ok := ctx.Deadline(); ok {
		if d := time.Until(deadline); d > 0 {
			natsOpts = append(natsOpts, nats.Timeout(d))
		}
	}

	url := strings.Join(opt.Servers, ",")
	nc, err := nats.Connect(url, natsOpts...)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", url, err)
	}

	sub, err := nc.SubscribeSync(opt.Subject)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("subscribe to %q: %w", opt.Subject, err)
	}
	if err := sub.SetPendingLimits(opt.PendingMsgsLimit, opt.PendingBytesLimit); err != nil {
		nc.Close()
		return nil, fmt.Errorf("set pending limits: %w", err)
	}
	// The first PING round trip confirms the subscription is registered.
	if err := nc.Flush(); err != nil {
		nc.Close()
		return nil, fmt.Errorf("flush subscription: %w", err)
	}

	opt.Stats.MarkConnected(nc.ConnectedUrlRedacted())
	opt.Logger.WithFields(logrus.Fields{
		"server":  nc.ConnectedUrlRedacted(),
		"subject": opt.Subject,
	}).Info("connected")

	return &NATSSource{
		nc:     nc,
		sub:    sub,
		stats:  opt.Stats,
		clock:  opt.Clock,
		logger: opt.Logger,
	}, nil
}

func connectOptions(opt NATSOptions) ([]nats.Option, error) {
	stats, logger := opt.Stats, opt.Logger
	natsOpts := []nats.Option{
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			stats.MarkDisconnected(err)
			entry := logger.WithField("event", "disconnect")
			if err != nil {
				entry = entry.WithError(err)
			}
			entry.Warn("disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			stats.MarkReconnected(nc.ConnectedUrlRedacted())
			logger.WithField("server", nc.ConnectedUrlRedacted()).Info("reconnected")
		}),
		nats.ClosedHandler(func(*nats.Conn) {
			logger.Debug("connection closed")
		}),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			slow := errors.Is(err, nats.ErrSlowConsumer)
			stats.RecordAsyncError(err, slow)
			logger.WithError(err).WithField("slow_consumer", slow).Warn("async error")
		}),
	}
	if opt.Name != "" {
		natsOpts = append(natsOpts, nats.Name(opt.Name))
	}
	if opt.MaxReconnects != 0 {
		natsOpts = append(natsOpts, nats.MaxReconnects(opt.MaxReconnects))
	}
	if opt.ReconnectWait > 0 {
		natsOpts = append(natsOpts, nats.ReconnectWait(opt.ReconnectWait))
	}

	switch {
	case opt.CredsFile != "":
		natsOpts = append(natsOpts, nats.UserCredentials(opt.CredsFile))
	case opt.JWTFile != "":
		jwt, err := os.ReadFile(opt.JWTFile)
		if err != nil {
			return nil, fmt.Errorf("read jwt: %w", err)
		}
		seed, err := resolveSeed(opt.NKey)
		if err != nil {
			return nil, err
		}
		natsOpts = append(natsOpts, nats.UserJWTAndSeed(strings.TrimSpace(string(jwt)), seed))
	case opt.Token != "":
		natsOpts = append(natsOpts, nats.Token(opt.Token))
	case opt.User != "":
		natsOpts = append(natsOpts, nats.UserInfo(opt.User, opt.Password))
	}

	if opt.TLSCAFile != "" {
		natsOpts = append(natsOpts, nats.RootCAs(opt.TLSCAFile))
	}
	return natsOpts, nil
}

// resolveSeed accepts a user seed inline ("SU...") or a file containing one.
func resolveSeed(nkey string) (string, error) {
	nkey = strings.TrimSpace(nkey)
	if nkey == "" || strings.HasPrefix(nkey, "SU") {
		return nkey, nil
	}
	data, err := os.ReadFile(nkey)
	if err != nil {
		return "", fmt.Errorf("read nkey seed: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

func (s *NATSSource) Next(ctx context.Context) (probe.Message, error) {
	m, err := s.sub.NextMsgWithContext(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return probe.Message{}, ctx.Err()
		}
		if errors.Is(err, nats.ErrConnectionClosed) || errors.Is(err, nats.ErrBadSubscription) {
			return probe.Message{}, ErrConnectionClosed
		}
		return probe.Message{}, fmt.Errorf("next message: %w", err)
	}
	return messageFromNATS(m, s.clock.Now()), nil
}

// ServerURL returns the URL of the connected server with credentials redacted.
func (s *NATSSource) ServerURL() string {
	return s.nc.ConnectedUrlRedacted()
}

// Stats returns connection stats merged with the client library's totals.
func (s *NATSSource) Stats() clientmetrics.Snapshot {
	snap := s.stats.Snapshot()
	st := s.nc.Stats()
	snap.MessagesReceived = st.InMsgs
	snap.BytesReceived = st.InBytes
	if dropped, err := s.sub.Dropped(); err == nil {
		snap.Dropped = dropped
	}
	return snap
}

// Close drains nothing; pending deliveries are discarded.
func (s *NATSSource) Close() error {
	if err := s.sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
		s.logger.WithError(err).Debug("unsubscribe failed")
	}
	s.nc.Close()
	return nil
}

func messageFromNATS(m *nats.Msg, now time.Time) probe.Message {
	return probe.Message{
		Subject:     m.Subject,
		ReplyTo:     m.Reply,
		PayloadSize: int64(len(m.Data)),
		HasError:    headerError(m.Header),
		ReceivedAt:  now,
	}
}

// headerError reports whether headers mark a message as a failed response:
// a service error header, or a status code of 300 or above. A status that does
// not parse is not an error.
func headerError(h nats.Header) bool {
	if len(h) == 0 {
		return false
	}
	if _, ok := h["Nats-Service-Error"]; ok {
		return true
	}
	if _, ok := h["Nats-Service-Error-Code"]; ok {
		return true
	}
	fields := strings.Fields(h.Get("Status"))
	if len(fields) == 0 {
		return false
	}
	code, err := strconv.Atoi(fields[0])
	if err != nil {
		return false
	}
	return code >= 300
}
