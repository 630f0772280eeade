package logging

import (
	"context"

	"github.com/gemstack/missioncore/internal/component"
	"github.com/gemstack/missioncore/internal/debug"
)

// replayComponent substitutes for a live component whose outputs are
// being replayed from a recording folder. The on-disk recording format
// and the machinery that produced it are external collaborators (out
// of scope); this substitute only needs to honor the Component
// contract so the rest of the executor cannot tell the difference.
type replayComponent struct {
	name    string
	folder  string
	outputs []string
}

func newReplayComponent(name, folder string, original component.Component) *replayComponent {
	return &replayComponent{name: name, folder: folder, outputs: original.StateOutputs()}
}

func (r *replayComponent) Initialize(ctx context.Context) error { return nil }
func (r *replayComponent) Cleanup(ctx context.Context) error    { return nil }

// Update returns no outputs: without a concrete recording backend wired
// in, a replayed tick is a documented no-op rather than a fabricated
// value. A real backend plugs in here by reading folder for r.name.
func (r *replayComponent) Update(ctx context.Context, inputs []any) ([]any, error) {
	return nil, nil
}

func (r *replayComponent) Rate() (float64, bool)              { return 0, false }
func (r *replayComponent) Healthy() bool                      { return true }
func (r *replayComponent) StateInputs() []string               { return nil }
func (r *replayComponent) StateOutputs() []string              { return r.outputs }
func (r *replayComponent) SetDebugger(d *debug.ChildDebugger)  {}
func (r *replayComponent) IsReplayer() bool                    { return true }

var (
	_ component.Component = (*replayComponent)(nil)
	_ component.Replayer  = (*replayComponent)(nil)
)
