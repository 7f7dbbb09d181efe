package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Loader handles loading configuration from files and command-line arguments.
type Loader struct{}

// ErrHelpRequested is returned when the user requests help via --help flag.
var ErrHelpRequested = errors.New("help requested")

// Environment fallbacks for secrets left out of files and flags.
const (
	envToken    = "BUSPROBE_TOKEN"
	envPassword = "BUSPROBE_PASSWORD"
)

// NewLoader creates a new configuration Loader.
func NewLoader() *Loader {
	return &Loader{}
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Subject:       DefaultSubject,
		MaxReconnects: DefaultMaxReconnects,
		ReconnectWait: DefaultReconnectWait,
		MaxWait:       DefaultMaxWait,
		SweepInterval: DefaultSweepInterval,
		Output:        OutputText,
		LogLevel:      "info",
		LogFormat:     "text",
		SubjectCache:  DefaultSubjectCache,
		TopSubjects:   DefaultTopSubjects,
		Tracing: TracingConfig{
			Protocol:   "grpc",
			SampleRate: 1.0,
		},
	}
}

// Load parses command-line arguments and configuration files to produce a Config.
// Flags override the configuration file.
func (Loader) Load(args []string) (*Config, error) {
	cmd := newFlagCommand()
	if err := cmd.Flags().Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			displayHelp(cmd)
			return nil, ErrHelpRequested
		}
		return nil, err
	}

	flagSet := cmd.Flags()
	if helpFlag := flagSet.Lookup("help"); helpFlag != nil {
		if wantsHelp, err := strconv.ParseBool(helpFlag.Value.String()); err == nil && wantsHelp {
			displayHelp(cmd)
			return nil, ErrHelpRequested
		}
	}
	if rest := flagSet.Args(); len(rest) > 0 {
		return nil, fmt.Errorf("unexpected arguments: %s", strings.Join(rest, " "))
	}

	configPath := flagSet.Lookup("config").Value.String()
	cfgViper := viper.New()
	if configPath != "" {
		cfgViper.SetConfigFile(configPath)
		if err := cfgViper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", configPath, err)
		}
	}

	cfg := Default()
	cfg.ConfigFile = configPath

	if err := applyConfigSettings(cfg, cfgViper.AllSettings()); err != nil {
		return nil, err
	}
	if err := applyFlagOverrides(cfg, flagSet); err != nil {
		return nil, err
	}

	if cfg.Token == "" {
		cfg.Token = os.Getenv(envToken)
	}
	if cfg.Password == "" && cfg.User != "" {
		cfg.Password = os.Getenv(envPassword)
	}
	cfg.Output = OutputFormat(strings.ToLower(string(cfg.Output)))

	return cfg, nil
}

// applyConfigSettings applies settings from a config file to the Config struct.
func applyConfigSettings(cfg *Config, settings map[string]interface{}) error {
	if len(settings) == 0 {
		return nil
	}

	raw, ok := lookupSetting(settings, "servers")
	if !ok {
		raw, ok = lookupSetting(settings, "server")
	}
	if ok {
		val, err := asStringSlice(raw)
		if err != nil {
			return fmt.Errorf("servers: %w", err)
		}
		cfg.Servers = trimAll(val)
	}

	boolSettings := []struct {
		dst *bool
		key string
	}{
		{&cfg.Demo, "demo"},
		{&cfg.NGS, "ngs"},
		{&cfg.Test, "test"},
		{&cfg.Dashboard, "dashboard"},
		{&cfg.Quiet, "quiet"},
		{&cfg.LogTimeouts, "log_timeouts"},
	}
	for _, s := range boolSettings {
		if raw, ok := lookupSetting(settings, s.key); ok {
			val, err := asBool(raw)
			if err != nil {
				return fmt.Errorf("%s: %w", s.key, err)
			}
			*s.dst = val
		}
	}

	stringSettings := []struct {
		dst *string
		key string
	}{
		{&cfg.Subject, "subject"},
		{&cfg.CredsFile, "creds"},
		{&cfg.JWTFile, "jwt"},
		{&cfg.NKey, "nkey"},
		{&cfg.Token, "token"},
		{&cfg.User, "user"},
		{&cfg.Password, "password"},
		{&cfg.TLSCAFile, "tls_ca"},
		{&cfg.LogLevel, "log_level"},
		{&cfg.LogFormat, "log_format"},
		{&cfg.ReplayFile, "replay"},
		{&cfg.ReplayFormat, "replay_format"},
	}
	for _, s := range stringSettings {
		if raw, ok := lookupSetting(settings, s.key); ok {
			val, err := asString(raw)
			if err != nil {
				return fmt.Errorf("%s: %w", s.key, err)
			}
			*s.dst = strings.TrimSpace(val)
		}
	}

	if raw, ok := lookupSetting(settings, "output"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("output: %w", err)
		}
		cfg.Output = OutputFormat(strings.ToLower(strings.TrimSpace(val)))
	}

	durationSettings := []struct {
		dst *time.Duration
		key string
	}{
		{&cfg.MaxWait, "max_wait"},
		{&cfg.SweepInterval, "sweep_interval"},
		{&cfg.Duration, "duration"},
		{&cfg.ReconnectWait, "reconnect_wait"},
	}
	for _, s := range durationSettings {
		if raw, ok := lookupSetting(settings, s.key); ok {
			dur, err := asDuration(raw)
			if err != nil {
				return fmt.Errorf("%s: %w", s.key, err)
			}
			*s.dst = dur
		}
	}

	intSettings := []struct {
		dst *int
		key string
	}{
		{&cfg.MaxReconnects, "max_reconnects"},
		{&cfg.SubjectCache, "subject_cache"},
		{&cfg.TopSubjects, "top_subjects"},
	}
	for _, s := range intSettings {
		if raw, ok := lookupSetting(settings, s.key); ok {
			val, err := asInt(raw)
			if err != nil {
				return fmt.Errorf("%s: %w", s.key, err)
			}
			*s.dst = val
		}
	}

	if raw, ok := lookupSetting(settings, "replay_rate"); ok {
		val, err := asFloat64(raw)
		if err != nil {
			return fmt.Errorf("replay_rate: %w", err)
		}
		cfg.ReplayRate = val
	}

	if raw, ok := lookupSetting(settings, "tracing"); ok {
		tracing, err := parseTracingConfig(raw, cfg.Tracing)
		if err != nil {
			return fmt.Errorf("tracing: %w", err)
		}
		cfg.Tracing = tracing
	}

	return nil
}

func parseTracingConfig(value interface{}, base TracingConfig) (TracingConfig, error) {
	if value == nil {
		return base, nil
	}
	settings, err := toStringKeyMap(value)
	if err != nil {
		return TracingConfig{}, err
	}
	tc := base
	if raw, ok := lookupSetting(settings, "endpoint"); ok {
		val, err := asString(raw)
		if err != nil {
			return TracingConfig{}, fmt.Errorf("endpoint: %w", err)
		}
		tc.Endpoint = strings.TrimSpace(val)
	}
	if raw, ok := lookupSetting(settings, "protocol"); ok {
		val, err := asString(raw)
		if err != nil {
			return TracingConfig{}, fmt.Errorf("protocol: %w", err)
		}
		tc.Protocol = strings.ToLower(strings.TrimSpace(val))
	}
	if raw, ok := lookupSetting(settings, "insecure"); ok {
		val, err := asBool(raw)
		if err != nil {
			return TracingConfig{}, fmt.Errorf("insecure: %w", err)
		}
		tc.Insecure = val
	}
	if raw, ok := lookupSetting(settings, "sample_rate"); ok {
		val, err := asFloat64(raw)
		if err != nil {
			return TracingConfig{}, fmt.Errorf("sample_rate: %w", err)
		}
		tc.SampleRate = val
	}
	if raw, ok := lookupSetting(settings, "service_name"); ok {
		val, err := asString(raw)
		if err != nil {
			return TracingConfig{}, fmt.Errorf("service_name: %w", err)
		}
		tc.ServiceName = strings.TrimSpace(val)
	}
	return tc, nil
}
