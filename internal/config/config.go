// Package config provides configuration loading, validation, and
// hot-reload for the mission execution core.
//
// Configuration file: /etc/missioncore/config.yaml (default)
// Schema version: 1
//
// Hot-reload:
//   - Agent watches config.yaml via fsnotify, and also re-reads on SIGHUP.
//   - On change: re-read and re-validate config.yaml, and log the result.
//   - Reloaded values are not applied to the running process; every
//     change (including log level and metrics address) requires restart.
//   - If the new config is invalid, the old config remains active and an
//     error is logged. The agent does NOT crash on invalid hot-reload.
//
// Validation:
//   - All required fields must be present.
//   - Numeric ranges enforced: retention >= 1. Per-component rates are
//     not range-checked.
//   - Invalid config on startup: agent refuses to start (fatal error).
//   - Invalid config on hot-reload: logged, old config retained.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/gemstack/missioncore/internal/graph"
)

// Version, GitCommit, BuildTime are injected at build time via -ldflags.
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// Config is the root configuration structure for the mission execution
// core. All fields have defaults; see Defaults() for values.
type Config struct {
	// SchemaVersion must be "1". Future versions will trigger migration.
	SchemaVersion string `yaml:"schema_version"`

	// NodeID identifies this vehicle's mission executor, used in log
	// and event records. Default: hostname.
	NodeID string `yaml:"node_id"`

	Run           RunConfig           `yaml:"run"`
	Logging       LoggingConfig       `yaml:"logging"`
	Observability ObservabilityConfig `yaml:"observability"`
	Operator      OperatorConfig      `yaml:"operator"`
}

// RunConfig configures the computation graph and the pipeline set it is
// partitioned into.
type RunConfig struct {
	// RequireEngaged controls whether the "disengaged" hardware fault is
	// treated as a real fault (true) or suppressed (false, default) —
	// letting the vehicle idle in a disengaged state without tripping
	// recovery.
	RequireEngaged bool `yaml:"require_engaged"`

	// InitialPipeline is the pipeline entered after sensor validation
	// succeeds. Default: "drive".
	InitialPipeline string `yaml:"initial_pipeline"`

	// RealtimePriority requests an elevated scheduling priority for the
	// mission loop goroutine's OS thread. Best-effort; failure is logged,
	// not fatal.
	RealtimePriority bool `yaml:"realtime_priority"`

	// ComputationGraph declares every pipeline's phases and the
	// always-run set. The "recovery" pipeline is mandatory.
	ComputationGraph ComputationGraphConfig `yaml:"computation_graph"`
}

// ComputationGraphConfig is the full computation-graph descriptor: one
// phase triple per named pipeline, plus the always-run set.
type ComputationGraphConfig struct {
	Pipelines map[string]PipelineConfig `yaml:"pipelines"`
	AlwaysRun []graph.RawEntry          `yaml:"always_run"`
}

// PipelineConfig declares one pipeline's three ordered phases.
type PipelineConfig struct {
	Perception []graph.RawEntry `yaml:"perception"`
	Planning   []graph.RawEntry `yaml:"planning"`
	Other      []graph.RawEntry `yaml:"other"`
}

// LoggingConfig configures the BoltDB-backed default LoggingManager.
type LoggingConfig struct {
	// DBPath is the absolute path to the BoltDB log file.
	// Default: /var/lib/missioncore/missioncore.db.
	DBPath string `yaml:"db_path"`

	// RetentionDays is validated to be >= 1; the logging manager does not
	// prune records, so it has no effect on what is kept. Default: 30.
	RetentionDays int `yaml:"retention_days"`
}

// ObservabilityConfig configures metrics and logging verbosity.
type ObservabilityConfig struct {
	// MetricsAddr is the Prometheus metrics HTTP bind address.
	// Default: 127.0.0.1:9091.
	MetricsAddr string `yaml:"metrics_addr"`

	// LogLevel controls the minimum log level (debug, info, warn, error).
	// Default: info.
	LogLevel string `yaml:"log_level"`

	// LogFormat controls the log output format (json, console).
	// Default: json.
	LogFormat string `yaml:"log_format"`
}

// OperatorConfig configures the operator override Unix socket.
type OperatorConfig struct {
	// SocketPath is the Unix domain socket path for the operator CLI.
	// Permissions: 0600. Default: /run/missioncore/operator.sock.
	SocketPath string `yaml:"socket_path"`

	// Enabled controls whether the operator socket is active. Default: true.
	Enabled bool `yaml:"enabled"`
}

// DefaultDBPath is the LoggingConfig default, exported for callers that
// need it before a Config has been loaded.
const DefaultDBPath = "/var/lib/missioncore/missioncore.db"

// Defaults returns a Config populated with all default values.
func Defaults() Config {
	hostname, _ := os.Hostname()
	return Config{
		SchemaVersion: "1",
		NodeID:        hostname,
		Run: RunConfig{
			RequireEngaged:  false,
			InitialPipeline: "drive",
		},
		Logging: LoggingConfig{
			DBPath:        DefaultDBPath,
			RetentionDays: 30,
		},
		Observability: ObservabilityConfig{
			MetricsAddr: "127.0.0.1:9091",
			LogLevel:    "info",
			LogFormat:   "json",
		},
		Operator: OperatorConfig{
			Enabled:    true,
			SocketPath: "/run/missioncore/operator.sock",
		},
	}
}

// Load reads and validates a config file from the given path.
// Returns the merged config (defaults overridden by file values).
// Returns an error if the file cannot be read, parsed, or validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config.Load: parse %q: %w", path, err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("config.Load: validation failed: %w", err)
	}

	return &cfg, nil
}

// Validate checks all config fields for correctness.
// Returns a descriptive error listing all violations found.
func Validate(cfg *Config) error {
	var errs []string

	if cfg.SchemaVersion != "1" {
		errs = append(errs, fmt.Sprintf("schema_version must be \"1\", got %q", cfg.SchemaVersion))
	}
	if cfg.NodeID == "" {
		errs = append(errs, "node_id must not be empty")
	}
	if cfg.Run.InitialPipeline == "" {
		errs = append(errs, "run.initial_pipeline must not be empty")
	}
	if len(cfg.Run.ComputationGraph.Pipelines) == 0 {
		errs = append(errs, "run.computation_graph.pipelines must declare at least the \"recovery\" pipeline")
	}
	if _, ok := cfg.Run.ComputationGraph.Pipelines["recovery"]; !ok && len(cfg.Run.ComputationGraph.Pipelines) > 0 {
		errs = append(errs, "run.computation_graph.pipelines must include a \"recovery\" entry")
	}
	if _, ok := cfg.Run.ComputationGraph.Pipelines[cfg.Run.InitialPipeline]; !ok && cfg.Run.InitialPipeline != "" && len(cfg.Run.ComputationGraph.Pipelines) > 0 {
		errs = append(errs, fmt.Sprintf("run.initial_pipeline %q is not declared in run.computation_graph.pipelines", cfg.Run.InitialPipeline))
	}
	if cfg.Logging.DBPath == "" {
		errs = append(errs, "logging.db_path must not be empty")
	}
	if cfg.Logging.RetentionDays < 1 {
		errs = append(errs, fmt.Sprintf("logging.retention_days must be >= 1, got %d", cfg.Logging.RetentionDays))
	}
	if cfg.Operator.Enabled && cfg.Operator.SocketPath == "" {
		errs = append(errs, "operator.socket_path must not be empty when operator.enabled is true")
	}
	switch cfg.Observability.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("observability.log_level must be one of debug|info|warn|error, got %q", cfg.Observability.LogLevel))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s",
			joinStrings(errs, "\n  - "))
	}
	return nil
}

// joinStrings joins a slice of strings with a separator.
func joinStrings(ss []string, sep string) string {
	if len(ss) == 0 {
		return ""
	}
	result := ss[0]
	for _, s := range ss[1:] {
		result += sep + s
	}
	return result
}

// Pipelines normalizes every declared pipeline's three phases into
// graph.ComponentSpec triples, in descriptor order.
func (c *Config) Pipelines() (map[string][3][]graph.ComponentSpec, error) {
	out := make(map[string][3][]graph.ComponentSpec, len(c.Run.ComputationGraph.Pipelines))
	for name, p := range c.Run.ComputationGraph.Pipelines {
		perception, err := graph.Normalize(p.Perception)
		if err != nil {
			return nil, fmt.Errorf("config: pipeline %q perception: %w", name, err)
		}
		planning, err := graph.Normalize(p.Planning)
		if err != nil {
			return nil, fmt.Errorf("config: pipeline %q planning: %w", name, err)
		}
		other, err := graph.Normalize(p.Other)
		if err != nil {
			return nil, fmt.Errorf("config: pipeline %q other: %w", name, err)
		}
		out[name] = [3][]graph.ComponentSpec{perception, planning, other}
	}
	return out, nil
}

// AlwaysRun normalizes the always-run set.
func (c *Config) AlwaysRun() ([]graph.ComponentSpec, error) {
	specs, err := graph.Normalize(c.Run.ComputationGraph.AlwaysRun)
	if err != nil {
		return nil, fmt.Errorf("config: always_run: %w", err)
	}
	return specs, nil
}
