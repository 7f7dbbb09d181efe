package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// RegisterFlags registers all CLI flags to a cobra command.
func RegisterFlags(cmd *cobra.Command) {
	configureFlags(cmd.Flags())
}

// newFlagCommand creates a cobra command with all flags configured.
func newFlagCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "busprobe [flags]",
		Short:         "Track request/response latency on a NATS bus",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	cmd.SetOut(os.Stdout)
	configureFlags(cmd.Flags())
	return cmd
}

// configureFlags sets up all CLI flags on the provided flag set.
func configureFlags(flags *pflag.FlagSet) {
	// Connection flags
	flags.StringSliceP("server", "s", nil, "NATS server URL (repeatable)")
	flags.Bool("demo", false, "Connect to "+DemoServer)
	flags.Bool("ngs", false, "Connect to "+NGSServer)
	flags.Bool("test", false, "Connect to "+TestServer)
	flags.String("subject", DefaultSubject, "Subject to observe")
	flags.String("creds", "", "Path to a user credentials file")
	flags.String("jwt", "", "Path to a user JWT file")
	flags.String("nkey", "", "User nkey seed, or a path to a file holding it")
	flags.String("token", "", "Authentication token")
	flags.String("user", "", "User name")
	flags.String("password", "", "User password")
	flags.String("tls-ca", "", "Path to a CA certificate for TLS")
	flags.Int("max-reconnects", DefaultMaxReconnects, "Reconnect attempts before giving up (-1 means forever)")
	flags.Duration("reconnect-wait", DefaultReconnectWait, "Delay between reconnect attempts")

	// Probe flags
	flags.Duration("max-wait", DefaultMaxWait, "Time a request may wait for a response before it counts as timed out")
	flags.Duration("sweep-interval", DefaultSweepInterval, "How often pending requests are checked for expiry")
	flags.DurationP("duration", "d", 0, "How long to observe (0 means until interrupted)")
	flags.Int("subject-cache", DefaultSubjectCache, "Subjects tracked for the per-subject breakdown (0 disables it)")
	flags.Int("top-subjects", DefaultTopSubjects, "Subjects shown in reports (0 shows all tracked)")

	// Replay flags
	flags.String("replay", "", "Replay recorded traffic from a JSON-lines or CSV file instead of connecting")
	flags.String("replay-format", "", "Replay file format: 'jsonl' or 'csv' (default from extension)")
	flags.Float64("replay-rate", 0, "Replay messages per second (0 means unpaced)")

	// Output flags
	flags.StringP("output", "o", string(OutputText), "Final report format: 'text', 'json' or 'yaml'")
	flags.Bool("dashboard", false, "Show live terminal dashboard with metrics")
	flags.BoolP("quiet", "q", false, "Do not print the progress line")
	flags.Bool("log-timeouts", false, "Log each timed out request")
	flags.String("log-level", "info", "Log level (debug, info, warn, error)")
	flags.String("log-format", "text", "Log format: 'text' or 'json'")
	flags.String("config", "", "Path to configuration file (JSON or YAML)")

	// Tracing flags
	flags.String("tracing-endpoint", "", "OTLP endpoint for exchange spans (host:port)")
	flags.String("tracing-protocol", "grpc", "OTLP protocol: 'grpc' or 'http'")
	flags.Bool("tracing-insecure", false, "Disable TLS for the OTLP exporter")
	flags.Float64("tracing-sample-rate", 1.0, "Fraction of exchanges exported as spans")
	flags.String("tracing-service-name", "", "Service name reported with spans")
}

// displayHelp prints the help message for a command.
func displayHelp(cmd *cobra.Command) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Usage: %s\n\n%s\n\nFlags:\n", cmd.UseLine(), cmd.Short)
	fs := cmd.Flags()
	fs.SetOutput(out)
	fs.PrintDefaults()
}

// applyFlagOverrides applies command-line flag values to the config, overriding
// values from the config file.
func applyFlagOverrides(cfg *Config, fs *pflag.FlagSet) error {
	if fs.Changed("server") {
		val, err := fs.GetStringSlice("server")
		if err != nil {
			return err
		}
		cfg.Servers = trimAll(val)
	}

	boolFlags := map[string]*bool{
		"demo":             &cfg.Demo,
		"ngs":              &cfg.NGS,
		"test":             &cfg.Test,
		"dashboard":        &cfg.Dashboard,
		"quiet":            &cfg.Quiet,
		"log-timeouts":     &cfg.LogTimeouts,
		"tracing-insecure": &cfg.Tracing.Insecure,
	}
	for name, dst := range boolFlags {
		if !fs.Changed(name) {
			continue
		}
		val, err := fs.GetBool(name)
		if err != nil {
			return err
		}
		*dst = val
	}

	stringFlags := map[string]*string{
		"subject":              &cfg.Subject,
		"creds":                &cfg.CredsFile,
		"jwt":                  &cfg.JWTFile,
		"nkey":                 &cfg.NKey,
		"token":                &cfg.Token,
		"user":                 &cfg.User,
		"password":             &cfg.Password,
		"tls-ca":               &cfg.TLSCAFile,
		"log-level":            &cfg.LogLevel,
		"log-format":           &cfg.LogFormat,
		"replay":               &cfg.ReplayFile,
		"replay-format":        &cfg.ReplayFormat,
		"tracing-endpoint":     &cfg.Tracing.Endpoint,
		"tracing-protocol":     &cfg.Tracing.Protocol,
		"tracing-service-name": &cfg.Tracing.ServiceName,
	}
	for name, dst := range stringFlags {
		if !fs.Changed(name) {
			continue
		}
		val, err := fs.GetString(name)
		if err != nil {
			return err
		}
		*dst = strings.TrimSpace(val)
	}

	if fs.Changed("output") {
		val, err := fs.GetString("output")
		if err != nil {
			return err
		}
		cfg.Output = OutputFormat(strings.ToLower(strings.TrimSpace(val)))
	}

	if fs.Changed("max-wait") {
		val, err := fs.GetDuration("max-wait")
		if err != nil {
			return err
		}
		cfg.MaxWait = val
	}
	if fs.Changed("sweep-interval") {
		val, err := fs.GetDuration("sweep-interval")
		if err != nil {
			return err
		}
		cfg.SweepInterval = val
	}
	if fs.Changed("duration") {
		val, err := fs.GetDuration("duration")
		if err != nil {
			return err
		}
		cfg.Duration = val
	}

	if fs.Changed("max-reconnects") {
		val, err := fs.GetInt("max-reconnects")
		if err != nil {
			return err
		}
		cfg.MaxReconnects = val
	}
	if fs.Changed("reconnect-wait") {
		val, err := fs.GetDuration("reconnect-wait")
		if err != nil {
			return err
		}
		cfg.ReconnectWait = val
	}

	if fs.Changed("subject-cache") {
		val, err := fs.GetInt("subject-cache")
		if err != nil {
			return err
		}
		cfg.SubjectCache = val
	}
	if fs.Changed("top-subjects") {
		val, err := fs.GetInt("top-subjects")
		if err != nil {
			return err
		}
		cfg.TopSubjects = val
	}

	if fs.Changed("replay-rate") {
		val, err := fs.GetFloat64("replay-rate")
		if err != nil {
			return err
		}
		cfg.ReplayRate = val
	}
	if fs.Changed("tracing-sample-rate") {
		val, err := fs.GetFloat64("tracing-sample-rate")
		if err != nil {
			return err
		}
		cfg.Tracing.SampleRate = val
	}

	return nil
}

func trimAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
