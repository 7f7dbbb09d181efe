package config

import (
	"fmt"
	"strings"
	"time"
)

type OutputFormat string

const (
	OutputText OutputFormat = "text"
	OutputJSON OutputFormat = "json"
	OutputYAML OutputFormat = "yaml"
)

// Server presets selectable by flag.
const (
	DemoServer = "demo.nats.io"
	NGSServer  = "connect.ngs.global:4222"
	TestServer = "connect.ngs.synadia-test.com:4222"
)

const (
	DefaultSubject       = ">"
	DefaultMaxWait       = 60 * time.Second
	DefaultSweepInterval = time.Second
	DefaultSubjectCache  = 1000
	DefaultTopSubjects   = 10
	DefaultReconnectWait = 2 * time.Second
	// A probe keeps reconnecting until stopped.
	DefaultMaxReconnects = -1
)

type Config struct {
	Servers []string `mapstructure:"servers"`
	Demo    bool     `mapstructure:"demo"`
	NGS     bool     `mapstructure:"ngs"`
	Test    bool     `mapstructure:"test"`
	Subject string   `mapstructure:"subject"`

	CredsFile string `mapstructure:"creds"`
	JWTFile   string `mapstructure:"jwt"`
	NKey      string `mapstructure:"nkey"`
	Token     string `mapstructure:"token"`
	User      string `mapstructure:"user"`
	Password  string `mapstructure:"password"`
	TLSCAFile string `mapstructure:"tls_ca"`

	MaxReconnects int           `mapstructure:"max_reconnects"`
	ReconnectWait time.Duration `mapstructure:"reconnect_wait"`

	MaxWait       time.Duration `mapstructure:"max_wait"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	Duration      time.Duration `mapstructure:"duration"`

	Output      OutputFormat `mapstructure:"output"`
	Dashboard   bool         `mapstructure:"dashboard"`
	Quiet       bool         `mapstructure:"quiet"`
	LogTimeouts bool         `mapstructure:"log_timeouts"`
	LogLevel    string       `mapstructure:"log_level"`
	LogFormat   string       `mapstructure:"log_format"`

	ReplayFile   string  `mapstructure:"replay"`
	ReplayFormat string  `mapstructure:"replay_format"`
	ReplayRate   float64 `mapstructure:"replay_rate"`

	SubjectCache int `mapstructure:"subject_cache"`
	TopSubjects  int `mapstructure:"top_subjects"`

	Tracing    TracingConfig `mapstructure:"tracing"`
	ConfigFile string        `mapstructure:"-"`
}

// TracingConfig configures OpenTelemetry export of correlated exchanges.
type TracingConfig struct {
	Endpoint    string  `mapstructure:"endpoint"`
	Protocol    string  `mapstructure:"protocol"`
	Insecure    bool    `mapstructure:"insecure"`
	SampleRate  float64 `mapstructure:"sample_rate"`
	ServiceName string  `mapstructure:"service_name"`
}

// Enabled reports whether an export endpoint was configured.
func (t TracingConfig) Enabled() bool {
	return strings.TrimSpace(t.Endpoint) != ""
}

// ResolvedServers returns the servers to connect to, applying any preset.
// An empty result means the client default.
func (c Config) ResolvedServers() []string {
	if len(c.Servers) > 0 {
		return c.Servers
	}
	switch {
	case c.Demo:
		return []string{DemoServer}
	case c.NGS:
		return []string{NGSServer}
	case c.Test:
		return []string{TestServer}
	}
	return nil
}

// Replaying reports whether messages come from a file instead of a server.
func (c Config) Replaying() bool {
	return strings.TrimSpace(c.ReplayFile) != ""
}

type ValidationError struct {
	issues []string
}

func (e ValidationError) Error() string {
	if len(e.issues) == 0 {
		return "validation failed"
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(e.issues, "; "))
}

func (e ValidationError) Issues() []string {
	return append([]string(nil), e.issues...)
}

func (c Config) Validate() error {
	var issues []string

	presets := 0
	for _, set := range []bool{c.Demo, c.NGS, c.Test} {
		if set {
			presets++
		}
	}
	if presets > 1 {
		issues = append(issues, "only one of --demo, --ngs and --test may be set")
	}
	if presets > 0 && len(c.Servers) > 0 {
		issues = append(issues, "server presets cannot be combined with --server")
	}
	for i, s := range c.Servers {
		if strings.TrimSpace(s) == "" {
			issues = append(issues, fmt.Sprintf("servers[%d]: must not be empty", i))
		}
	}
	if strings.TrimSpace(c.Subject) == "" {
		issues = append(issues, "subject is required")
	}

	issues = append(issues, validateAuth(c)...)

	if c.MaxReconnects < -1 {
		issues = append(issues, "max-reconnects must be -1 (forever) or greater")
	}
	if c.ReconnectWait < 0 {
		issues = append(issues, "reconnect-wait must be zero or greater")
	}
	if c.MaxWait <= 0 {
		issues = append(issues, "max-wait must be greater than zero")
	}
	if c.SweepInterval <= 0 {
		issues = append(issues, "sweep-interval must be greater than zero")
	}
	if c.Duration < 0 {
		issues = append(issues, "duration must be zero or greater")
	}

	switch c.Output {
	case OutputText, OutputJSON, OutputYAML:
	default:
		issues = append(issues, fmt.Sprintf("output must be text, json or yaml, got %q", c.Output))
	}
	switch strings.ToLower(c.LogFormat) {
	case "", "text", "json":
	default:
		issues = append(issues, fmt.Sprintf("log-format must be text or json, got %q", c.LogFormat))
	}

	issues = append(issues, validateReplay(c)...)

	if c.SubjectCache < 0 {
		issues = append(issues, "subject-cache must be zero or greater")
	}
	if c.TopSubjects < 0 {
		issues = append(issues, "top-subjects must be zero or greater")
	}

	issues = append(issues, validateTracing(c.Tracing)...)

	if len(issues) > 0 {
		return ValidationError{issues: issues}
	}
	return nil
}

func validateAuth(c Config) []string {
	var issues []string
	if c.CredsFile != "" && c.JWTFile != "" {
		issues = append(issues, "creds and jwt are mutually exclusive")
	}
	if c.NKey != "" && c.JWTFile == "" {
		issues = append(issues, "nkey requires jwt")
	}
	if c.Password != "" && c.User == "" {
		issues = append(issues, "password requires user")
	}
	return issues
}

func validateReplay(c Config) []string {
	var issues []string
	if !c.Replaying() {
		if c.ReplayFormat != "" || c.ReplayRate != 0 {
			issues = append(issues, "replay-format and replay-rate require --replay")
		}
		return issues
	}
	if len(c.Servers) > 0 || c.Demo || c.NGS || c.Test {
		issues = append(issues, "replay cannot be combined with server options")
	}
	switch strings.ToLower(c.ReplayFormat) {
	case "", "jsonl", "csv":
	default:
		issues = append(issues, fmt.Sprintf("replay-format must be jsonl or csv, got %q", c.ReplayFormat))
	}
	if c.ReplayRate < 0 {
		issues = append(issues, "replay-rate must be zero or greater")
	}
	return issues
}

func validateTracing(t TracingConfig) []string {
	var issues []string
	switch strings.ToLower(t.Protocol) {
	case "", "grpc", "http":
	default:
		issues = append(issues, fmt.Sprintf("tracing protocol must be grpc or http, got %q", t.Protocol))
	}
	if t.SampleRate < 0 || t.SampleRate > 1 {
		issues = append(issues, fmt.Sprintf("tracing sample rate must be between 0 and 1, got %g", t.SampleRate))
	}
	return issues
}
