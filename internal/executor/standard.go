package executor

import (
	"context"
	"math"

	"go.uber.org/zap"

	"github.com/gemstack/missioncore/internal/execstate"
	"github.com/gemstack/missioncore/internal/state"
	"github.com/gemstack/missioncore/internal/vehicle"
)

// StopSpeedTolerance is how close to zero the vehicle's last reported
// speed must be, in the recovery pipeline, before StandardExecutor
// considers the vehicle stopped and ends the mission.
const StopSpeedTolerance = 1e-3

// StandardExecutor supplies ExecutorBase's only subclass-overridable
// policy: it never forces a pipeline switch on its own (switches are
// driven entirely by component unhealth and interrupts) and it ends
// the mission once the recovery pipeline has brought the vehicle to a
// full stop.
type StandardExecutor struct {
	base    *ExecutorBase
	vehicle vehicle.Interface
	log     *zap.Logger
}

var _ Hooks = (*StandardExecutor)(nil)

// NewStandardExecutor wires the termination policy to the running
// ExecutorBase and the vehicle interface it polls for stop detection.
func NewStandardExecutor(base *ExecutorBase, veh vehicle.Interface, log *zap.Logger) *StandardExecutor {
	return &StandardExecutor{base: base, vehicle: veh, log: log}
}

// Begin logs mission start. Nothing else to initialize.
func (s *StandardExecutor) Begin(ctx context.Context, st *state.AllState) error {
	s.base.Event("mission begin")
	return nil
}

// Update never requests a pipeline switch of its own accord; every
// switch in StandardExecutor comes from component unhealth or an
// interrupt observed by the outer loop.
func (s *StandardExecutor) Update(ctx context.Context, st *state.AllState) (string, bool) {
	return "", false
}

// Done ends the mission once the vehicle has come to a full stop or
// disengaged while running the recovery pipeline — the only two
// conditions from which a StandardExecutor mission terminates normally.
func (s *StandardExecutor) Done(ctx context.Context, st *state.AllState) bool {
	if s.base.State() != execstate.Running {
		return false
	}
	if s.base.machine.Pipeline() != RecoveryPipelineName {
		return false
	}
	if math.Abs(s.vehicle.LastReading().Speed) < StopSpeedTolerance {
		return true
	}
	if s.vehicle.HardwareFaults()["disengaged"] {
		return true
	}
	return false
}

// End logs mission end. Cleanup itself is handled by ExecutorBase.Run.
func (s *StandardExecutor) End(ctx context.Context, st *state.AllState) error {
	s.base.Event("mission end")
	return nil
}
