package clientmetrics

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// ConnStats tracks the lifecycle of a bus connection.
type ConnStats struct {
	mu            sync.Mutex
	clock         clock.Clock
	connectTime   time.Time
	serverURL     string
	reconnects    int64
	disconnects   int64
	asyncErrors   int64
	slowConsumers int64
	lastError     string
}

// New creates a new ConnStats instance. A nil clock uses the wall clock.
func New(clk clock.Clock) *ConnStats {
	if clk == nil {
		clk = clock.New()
	}
	return &ConnStats{clock: clk}
}

// MarkConnected records the connection time and the server in use.
func (m *ConnStats) MarkConnected(serverURL string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connectTime = m.clock.Now()
	m.serverURL = serverURL
}

// MarkReconnected records a successful reconnect.
func (m *ConnStats) MarkReconnected(serverURL string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reconnects++
	m.connectTime = m.clock.Now()
	m.serverURL = serverURL
}

// MarkDisconnected clears the connection time. err may be nil.
func (m *ConnStats) MarkDisconnected(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disconnects++
	m.connectTime = time.Time{}
	if err != nil {
		m.lastError = err.Error()
	}
}

// RecordAsyncError counts an asynchronous client error. Slow consumer errors
// are counted separately as well.
func (m *ConnStats) RecordAsyncError(err error, slowConsumer bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.asyncErrors++
	if slowConsumer {
		m.slowConsumers++
	}
	if err != nil {
		m.lastError = err.Error()
	}
}

// ConnectionDuration returns the duration since the connection was established.
// Returns 0 if not connected.
func (m *ConnStats) ConnectionDuration() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.connectTime.IsZero() {
		return 0
	}
	return m.clock.Since(m.connectTime)
}

// Snapshot is a point-in-time copy of ConnStats.
type Snapshot struct {
	Connected          bool          `json:"connected" yaml:"connected"`
	ServerURL          string        `json:"server_url,omitempty" yaml:"server_url,omitempty"`
	ConnectionDuration time.Duration `json:"-" yaml:"-"`
	ConnectionSeconds  float64       `json:"connection_seconds" yaml:"connection_seconds"`
	Reconnects         int64         `json:"reconnects" yaml:"reconnects"`
	Disconnects        int64         `json:"disconnects" yaml:"disconnects"`
	AsyncErrors        int64         `json:"async_errors" yaml:"async_errors"`
	SlowConsumers      int64         `json:"slow_consumers" yaml:"slow_consumers"`
	LastError          string        `json:"last_error,omitempty" yaml:"last_error,omitempty"`

	// Totals reported by the client library.
	MessagesReceived uint64 `json:"messages_received" yaml:"messages_received"`
	BytesReceived    uint64 `json:"bytes_received" yaml:"bytes_received"`
	Dropped          int    `json:"dropped" yaml:"dropped"`
}

// Snapshot returns a consistent snapshot of the connection stats.
func (m *ConnStats) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	var duration time.Duration
	if !m.connectTime.IsZero() {
		duration = m.clock.Since(m.connectTime)
	}

	return Snapshot{
		Connected:          !m.connectTime.IsZero(),
		ServerURL:          m.serverURL,
		ConnectionDuration: duration,
		ConnectionSeconds:  duration.Seconds(),
		Reconnects:         m.reconnects,
		Disconnects:        m.disconnects,
		AsyncErrors:        m.asyncErrors,
		SlowConsumers:      m.slowConsumers,
		LastError:          m.lastError,
	}
}
