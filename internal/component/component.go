// Package component defines the Component capability set: the
// external, user-supplied processing unit the executor schedules.
// Concrete sensors, planners, and controllers are out of scope here —
// only the interface they must satisfy.
package component

import (
	"context"

	"github.com/gemstack/missioncore/internal/debug"
)

// Component is the capability set every scheduled unit must implement.
// Update receives one positional argument per declared input (in
// computation-graph order), or the whole blackboard if the component
// declares inputs ["all"]. It returns one result per declared output
// (or a single value if there is exactly one), or nil for "nothing to
// write this tick".
type Component interface {
	Initialize(ctx context.Context) error
	Cleanup(ctx context.Context) error
	Update(ctx context.Context, inputs []any) ([]any, error)

	// Rate returns the component's self-declared target frequency in
	// Hz. ok==false means event-driven / no polling (dt==0, runs every
	// tick); the descriptor's rate key, when set, overrides this.
	Rate() (hz float64, ok bool)

	Healthy() bool

	StateInputs() []string
	StateOutputs() []string

	// SetDebugger installs this component's bound debug sink. Called
	// once, before Initialize, only when the descriptor's debug flag
	// is true.
	SetDebugger(d *debug.ChildDebugger)
}

// Replayer is the optional capability a replayed component substitute
// implements: it is a Component whose Update returns previously
// recorded outputs instead of computing them.
type Replayer interface {
	Component
	IsReplayer() bool
}
