package executor

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"github.com/gemstack/missioncore/internal/component"
	"github.com/gemstack/missioncore/internal/debug"
	"github.com/gemstack/missioncore/internal/execstate"
	"github.com/gemstack/missioncore/internal/graph"
	"github.com/gemstack/missioncore/internal/registry"
	"github.com/gemstack/missioncore/internal/state"
	"github.com/gemstack/missioncore/internal/vehicle"
)

// fakeNode is a component.Component stand-in. With StateInputs ["all"]
// (and allSpec declaring inputs and outputs ["all"]) it receives and may
// mutate the whole blackboard directly, sidestepping declared per-field
// dataflow for test wiring.
type fakeNode struct {
	healthy      bool
	onUpdate     func(s *state.AllState)
	initCalls    int
	cleanupCalls int
	updateCalls  int
}

func (f *fakeNode) Initialize(ctx context.Context) error { f.initCalls++; return nil }
func (f *fakeNode) Cleanup(ctx context.Context) error    { f.cleanupCalls++; return nil }
func (f *fakeNode) Update(ctx context.Context, inputs []any) ([]any, error) {
	f.updateCalls++
	if f.onUpdate != nil {
		if len(inputs) > 0 {
			if s, ok := inputs[0].(*state.AllState); ok {
				f.onUpdate(s)
			}
		}
	}
	return nil, nil
}
func (f *fakeNode) Rate() (float64, bool)      { return 0, false }
func (f *fakeNode) Healthy() bool              { return f.healthy }
func (f *fakeNode) StateInputs() []string      { return []string{"all"} }
func (f *fakeNode) StateOutputs() []string     { return nil }
func (f *fakeNode) SetDebugger(d *debug.ChildDebugger) {}

func registerFake(t *testing.T, typeName string, n *fakeNode) {
	t.Helper()
	registry.Register(typeName, func(c registry.Ctx) (component.Component, error) {
		return n, nil
	})
}

func allSpec(name, typeName string, essential bool) graph.ComponentSpec {
	return graph.ComponentSpec{
		Name:      name,
		Type:      typeName,
		Essential: essential,
		Print:     false,
		Debug:     false,
		Inputs:    []string{"all"},
		Outputs:   []string{"all"},
	}
}

type fakeVehicle struct {
	t      float64
	faults map[string]bool
}

func (v *fakeVehicle) Time() float64                     { v.t += 0.02; return v.t }
func (v *fakeVehicle) HardwareFaults() map[string]bool   { return v.faults }
func (v *fakeVehicle) LastReading() vehicle.Reading       { return vehicle.Reading{} }

func TestRun_EssentialComponentUnhealthy_SwitchesToRecoveryAndStopsOnZeroSpeed(t *testing.T) {
	// S3 — an essential planner fault in the drive pipeline must switch
	// to recovery; invariant 5: mission.type is RECOVERY_STOP by the
	// time the recovery pipeline's first component runs; the mission
	// then ends once speed settles within tolerance.
	driveSensor := &fakeNode{healthy: true}
	driveFaultyPlanner := &fakeNode{healthy: false}
	var observedMissionType state.MissionType
	recoverySensor := &fakeNode{
		healthy: true,
		onUpdate: func(s *state.AllState) {
			observedMissionType = s.Mission.Type
			s.Vehicle.Speed = 0
		},
	}

	registerFake(t, "fake_s3_drive_sensor", driveSensor)
	registerFake(t, "fake_s3_drive_planner", driveFaultyPlanner)
	registerFake(t, "fake_s3_recovery_sensor", recoverySensor)

	reg := registry.New()
	bus := debug.New()
	veh := &fakeVehicle{}
	base := New(reg, bus, nil, veh, zap.NewNop(), nil, false, "drive")

	if err := base.AddPipeline("drive",
		[]graph.ComponentSpec{allSpec("drive_sensor", "fake_s3_drive_sensor", true)},
		[]graph.ComponentSpec{allSpec("drive_planner", "fake_s3_drive_planner", true)},
		nil,
	); err != nil {
		t.Fatalf("AddPipeline(drive) failed: %v", err)
	}
	if err := base.AddPipeline(RecoveryPipelineName,
		[]graph.ComponentSpec{allSpec("recovery_sensor", "fake_s3_recovery_sensor", true)},
		nil, nil,
	); err != nil {
		t.Fatalf("AddPipeline(recovery) failed: %v", err)
	}

	hooks := NewStandardExecutor(base, veh, zap.NewNop())
	var s state.AllState
	if err := base.Run(context.Background(), hooks, &s); err != nil {
		t.Fatalf("Run returned an error: %v", err)
	}

	if base.machine.Pipeline() != RecoveryPipelineName {
		t.Errorf("expected the mission to end in the recovery pipeline, got %q", base.machine.Pipeline())
	}
	if observedMissionType != state.MissionRecoveryStop {
		t.Errorf("expected mission.type to be RECOVERY_STOP by the time recovery's first component ran, got %s", observedMissionType)
	}
	if driveFaultyPlanner.cleanupCalls != 1 {
		t.Errorf("expected the faulty planner's Cleanup to run exactly once, ran %d times", driveFaultyPlanner.cleanupCalls)
	}
	if driveSensor.cleanupCalls != 1 || recoverySensor.cleanupCalls != 1 {
		t.Errorf("expected every started component's Cleanup to run exactly once")
	}
}

func TestRun_UnconfiguredSwitchWhileInRecovery_ExitsRecoveryNotWorking(t *testing.T) {
	// S4 — a switch request to an unconfigured pipeline while already
	// running recovery is the terminal "recovery pipeline not working"
	// condition, not another recovery entry.
	driveSensor := &fakeNode{healthy: true}
	recoverySensor := &fakeNode{healthy: true}
	registerFake(t, "fake_s4_drive_sensor", driveSensor)
	registerFake(t, "fake_s4_recovery_sensor", recoverySensor)

	reg := registry.New()
	bus := debug.New()
	veh := &fakeVehicle{}
	base := New(reg, bus, nil, veh, zap.NewNop(), nil, false, "drive")

	if err := base.AddPipeline("drive", []graph.ComponentSpec{allSpec("drive_sensor", "fake_s4_drive_sensor", true)}, nil, nil); err != nil {
		t.Fatalf("AddPipeline(drive) failed: %v", err)
	}
	if err := base.AddPipeline(RecoveryPipelineName, []graph.ComponentSpec{allSpec("recovery_sensor", "fake_s4_recovery_sensor", true)}, nil, nil); err != nil {
		t.Fatalf("AddPipeline(recovery) failed: %v", err)
	}

	hooks := &scriptedSwitchHooks{base: base}
	var s state.AllState
	if err := base.Run(context.Background(), hooks, &s); err != nil {
		t.Fatalf("Run returned an error: %v", err)
	}

	if base.ExitReason() != "recovery pipeline not working" {
		t.Errorf("expected exit reason %q, got %q", "recovery pipeline not working", base.ExitReason())
	}
	if base.State() != execstate.Terminated {
		t.Errorf("expected the lifecycle to end Terminated, got %v", base.State())
	}
	if driveSensor.cleanupCalls != 1 || recoverySensor.cleanupCalls != 1 {
		t.Errorf("expected every started component's Cleanup to run exactly once")
	}
}

// scriptedSwitchHooks requests a switch to recovery on the first tick,
// then a switch to an unconfigured pipeline once recovery is active.
type scriptedSwitchHooks struct{ base *ExecutorBase }

func (h *scriptedSwitchHooks) Begin(ctx context.Context, s *state.AllState) error { return nil }
func (h *scriptedSwitchHooks) Update(ctx context.Context, s *state.AllState) (string, bool) {
	if h.base.machine.Pipeline() == RecoveryPipelineName {
		return "ghost_pipeline", true
	}
	return RecoveryPipelineName, true
}
func (h *scriptedSwitchHooks) Done(ctx context.Context, s *state.AllState) bool { return false }
func (h *scriptedSwitchHooks) End(ctx context.Context, s *state.AllState) error { return nil }

func TestRun_InterruptDuringDriveThenDuringRecovery_ExitsCtrlC(t *testing.T) {
	// S5 — an interrupt during drive switches to recovery; a second
	// interrupt received while already in recovery is the terminal exit.
	driveSensor := &fakeNode{healthy: true}
	recoverySensor := &fakeNode{healthy: true}
	registerFake(t, "fake_s5_drive_sensor", driveSensor)
	registerFake(t, "fake_s5_recovery_sensor", recoverySensor)

	reg := registry.New()
	bus := debug.New()
	veh := &fakeVehicle{}
	base := New(reg, bus, nil, veh, zap.NewNop(), nil, false, "drive")

	if err := base.AddPipeline("drive", []graph.ComponentSpec{allSpec("drive_sensor", "fake_s5_drive_sensor", true)}, nil, nil); err != nil {
		t.Fatalf("AddPipeline(drive) failed: %v", err)
	}
	if err := base.AddPipeline(RecoveryPipelineName, []graph.ComponentSpec{allSpec("recovery_sensor", "fake_s5_recovery_sensor", true)}, nil, nil); err != nil {
		t.Fatalf("AddPipeline(recovery) failed: %v", err)
	}

	hooks := &interruptHooks{base: base}
	var s state.AllState
	if err := base.Run(context.Background(), hooks, &s); err != nil {
		t.Fatalf("Run returned an error: %v", err)
	}

	if base.ExitReason() != "Ctrl+C interrupt during recovery" {
		t.Errorf("expected exit reason %q, got %q", "Ctrl+C interrupt during recovery", base.ExitReason())
	}
}

type interruptHooks struct {
	base       *ExecutorBase
	firstSent  bool
	secondSent bool
}

func (h *interruptHooks) Begin(ctx context.Context, s *state.AllState) error { return nil }
func (h *interruptHooks) Update(ctx context.Context, s *state.AllState) (string, bool) {
	if h.base.machine.Pipeline() == RecoveryPipelineName {
		if !h.secondSent {
			h.secondSent = true
			h.base.Interrupt()
		}
	} else if !h.firstSent {
		h.firstSent = true
		h.base.Interrupt()
	}
	return "", false
}
func (h *interruptHooks) Done(ctx context.Context, s *state.AllState) bool { return false }
func (h *interruptHooks) End(ctx context.Context, s *state.AllState) error { return nil }
