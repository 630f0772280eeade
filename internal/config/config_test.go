package config

import (
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/gemstack/missioncore/internal/graph"
)

// mustEntries parses a computation-graph phase YAML sequence into
// the []graph.RawEntry shape PipelineConfig and AlwaysRun carry, the
// same way config.Load does by unmarshaling the whole file.
func mustEntries(t *testing.T, yamlSeq string) []graph.RawEntry {
	t.Helper()
	var entries []graph.RawEntry
	if err := yaml.Unmarshal([]byte(yamlSeq), &entries); err != nil {
		t.Fatalf("failed to parse test fixture YAML: %v", err)
	}
	return entries
}

func validConfig() Config {
	cfg := Defaults()
	cfg.NodeID = "rig-01"
	cfg.Run.ComputationGraph.Pipelines = map[string]PipelineConfig{
		"drive":    {},
		"recovery": {},
	}
	return cfg
}

func TestValidate_AcceptsDefaultsPlusRequiredPipelines(t *testing.T) {
	cfg := validConfig()
	if err := Validate(&cfg); err != nil {
		t.Fatalf("expected a valid config, got: %v", err)
	}
}

func TestValidate_RejectsMissingRecoveryPipeline(t *testing.T) {
	cfg := validConfig()
	delete(cfg.Run.ComputationGraph.Pipelines, "recovery")
	if err := Validate(&cfg); err == nil {
		t.Fatal("expected an error when the recovery pipeline is not declared")
	}
}

func TestValidate_RejectsInitialPipelineNotDeclared(t *testing.T) {
	cfg := validConfig()
	cfg.Run.InitialPipeline = "waypoint"
	if err := Validate(&cfg); err == nil {
		t.Fatal("expected an error when initial_pipeline is not among the declared pipelines")
	}
}

func TestValidate_RejectsBadSchemaVersion(t *testing.T) {
	cfg := validConfig()
	cfg.SchemaVersion = "2"
	if err := Validate(&cfg); err == nil {
		t.Fatal("expected an error for an unsupported schema_version")
	}
}

func TestValidate_RejectsOperatorEnabledWithoutSocketPath(t *testing.T) {
	cfg := validConfig()
	cfg.Operator.Enabled = true
	cfg.Operator.SocketPath = ""
	if err := Validate(&cfg); err == nil {
		t.Fatal("expected an error when the operator socket is enabled with no path")
	}
}

func TestValidate_RejectsUnknownLogLevel(t *testing.T) {
	cfg := validConfig()
	cfg.Observability.LogLevel = "verbose"
	if err := Validate(&cfg); err == nil {
		t.Fatal("expected an error for an unrecognized log level")
	}
}

func TestValidate_AggregatesAllViolations(t *testing.T) {
	cfg := validConfig()
	cfg.SchemaVersion = "9"
	cfg.NodeID = ""
	cfg.Logging.RetentionDays = 0
	err := Validate(&cfg)
	if err == nil {
		t.Fatal("expected an error")
	}
	msg := err.Error()
	for _, want := range []string{"schema_version", "node_id", "retention_days"} {
		if !containsSubstring(msg, want) {
			t.Errorf("expected aggregated error to mention %q, got: %s", want, msg)
		}
	}
}

func containsSubstring(s, sub string) bool {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return true
		}
	}
	return false
}

func TestConfig_Pipelines_NormalizesEachPhasePerPipeline(t *testing.T) {
	cfg := validConfig()
	cfg.Run.ComputationGraph.Pipelines["drive"] = PipelineConfig{
		Perception: mustEntries(t, "- lidar\n- camera\n"),
		Planning:   mustEntries(t, "- planner\n"),
	}

	pipelines, err := cfg.Pipelines()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	phases, ok := pipelines["drive"]
	if !ok {
		t.Fatal("expected a \"drive\" entry in the normalized pipeline map")
	}
	if len(phases[0]) != 2 {
		t.Errorf("expected 2 perception components, got %d", len(phases[0]))
	}
	if len(phases[1]) != 1 {
		t.Errorf("expected 1 planning component, got %d", len(phases[1]))
	}
	if len(phases[2]) != 0 {
		t.Errorf("expected an empty \"other\" phase, got %d", len(phases[2]))
	}
}

func TestConfig_AlwaysRun_Normalizes(t *testing.T) {
	cfg := validConfig()
	cfg.Run.ComputationGraph.AlwaysRun = mustEntries(t, "- watchdog\n")

	specs, err := cfg.AlwaysRun()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(specs) != 1 || specs[0].Name != "watchdog" {
		t.Errorf("expected a single \"watchdog\" component, got %+v", specs)
	}
}
