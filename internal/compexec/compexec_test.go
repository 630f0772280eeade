package compexec

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"github.com/gemstack/missioncore/internal/debug"
	"github.com/gemstack/missioncore/internal/state"
)

// fakeComponent is a minimal component.Component for scheduling and
// dataflow tests. Update appends to calls each time it runs.
type fakeComponent struct {
	rateHz    float64
	rateOK    bool
	healthy   bool
	results   []any
	err       error
	panicWith any
	calls     []float64
}

func (f *fakeComponent) Initialize(ctx context.Context) error { return nil }
func (f *fakeComponent) Cleanup(ctx context.Context) error     { return nil }
func (f *fakeComponent) Rate() (float64, bool)                { return f.rateHz, f.rateOK }
func (f *fakeComponent) Healthy() bool                         { return f.healthy }
func (f *fakeComponent) StateInputs() []string                 { return nil }
func (f *fakeComponent) StateOutputs() []string                { return nil }
func (f *fakeComponent) SetDebugger(d *debug.ChildDebugger)     {}

func (f *fakeComponent) Update(ctx context.Context, inputs []any) ([]any, error) {
	f.calls = append(f.calls, 0)
	if f.panicWith != nil {
		panic(f.panicWith)
	}
	return f.results, f.err
}

func newFake() *fakeComponent { return &fakeComponent{healthy: true} }

func TestExecutor_RateNone_RunsEveryTick(t *testing.T) {
	comp := newFake()
	comp.rateOK = false
	ex := New("c", comp, Config{}, nil, nil, zap.NewNop())

	for i, tt := range []float64{0, 0.01, 0.02, 0.03} {
		ran, err := ex.Update(context.Background(), tt, &state.AllState{})
		if err != nil {
			t.Fatalf("tick %d: unexpected error: %v", i, err)
		}
		if !ran {
			t.Fatalf("tick %d: expected component with no declared rate to run every tick", i)
		}
	}
}

func TestExecutor_RateLimiting_TenHzOverOneSecond(t *testing.T) {
	// Scenario: rate=10Hz, ticking every 0.05s for 1.0s — exactly 10 updates.
	comp := newFake()
	ex := New("c", comp, Config{DescribedHz: 10}, nil, nil, zap.NewNop())

	ranCount := 0
	s := &state.AllState{}
	for t := 0.0; t < 1.0; t += 0.05 {
		ran, err := ex.Update(context.Background(), t, s)
		if err != nil {
			t.Fatalf("unexpected error at t=%.2f: %v", t, err)
		}
		if ran {
			ranCount++
		}
	}
	if ranCount != 10 {
		t.Errorf("expected exactly 10 updates at 10Hz over 1.0s, got %d", ranCount)
	}
}

func TestExecutor_Overrun_CountsOnceNoCatchUp(t *testing.T) {
	// dt=0.1s. First tick at t=0 schedules the next slot at 0.1. The
	// caller then stalls and comes back at t=0.3 — two periods behind —
	// in a single jump. Exactly one overrun is recorded, and the next
	// slot resets to t+dt rather than replaying the missed periods.
	comp := newFake()
	ex := New("c", comp, Config{DescribedHz: 10}, nil, nil, zap.NewNop())

	s := &state.AllState{}
	if _, err := ex.Update(context.Background(), 0, s); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := ex.Update(context.Background(), 0.3, s); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ex.NumOverruns() != 1 {
		t.Fatalf("expected exactly one overrun recorded, got %d", ex.NumOverruns())
	}

	// Immediately after, nothing is due until t+dt=0.4.
	ran, err := ex.Update(context.Background(), 0.35, s)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ran {
		t.Fatalf("expected no catch-up update before the next scheduled slot")
	}
	if ex.NumOverruns() != 1 {
		t.Fatalf("expected overrun count to remain 1, got %d", ex.NumOverruns())
	}
}

func TestExecutor_Exception_NeverPropagatesAndLatches(t *testing.T) {
	comp := newFake()
	comp.err = context.DeadlineExceeded
	ex := New("c", comp, Config{}, nil, nil, zap.NewNop())

	s := &state.AllState{}
	if _, err := ex.Update(context.Background(), 0, s); err != nil {
		t.Fatalf("executor must absorb component errors, got: %v", err)
	}
	if !ex.HadException() {
		t.Fatal("expected HadException to latch after a component error")
	}
	if ex.Healthy() {
		t.Fatal("expected Healthy() to be false once an exception has latched")
	}

	// A subsequent successful tick must not clear the latch.
	comp.err = nil
	if _, err := ex.Update(context.Background(), 1.0, s); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ex.HadException() {
		t.Fatal("expected the exception latch to remain set across a later successful tick")
	}
}

func TestExecutor_Panic_IsContainedAndLatches(t *testing.T) {
	comp := newFake()
	comp.panicWith = "boom"
	ex := New("c", comp, Config{}, nil, nil, zap.NewNop())

	s := &state.AllState{}
	if _, err := ex.Update(context.Background(), 0, s); err != nil {
		t.Fatalf("expected panic to be contained, not surfaced as an error, got: %v", err)
	}
	if !ex.HadException() {
		t.Fatal("expected a panic to latch the exception flag")
	}
}

func TestExecutor_WritesFieldAndStampsUpdateTime(t *testing.T) {
	comp := newFake()
	comp.results = []any{state.Vehicle{Speed: 3.5}}
	ex := New("c", comp, Config{Outputs: []string{"vehicle"}}, nil, nil, zap.NewNop())

	s := &state.AllState{}
	if _, err := ex.Update(context.Background(), 7.0, s); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Vehicle.Speed != 3.5 {
		t.Errorf("expected vehicle.speed to be written, got %+v", s.Vehicle)
	}
	if s.VehicleUpdateTime != 7.0 {
		t.Errorf("expected vehicle update time to be stamped with the tick time, got %v", s.VehicleUpdateTime)
	}
}

func TestExecutor_OutputArityMismatch_LeavesStateUnchangedButContinues(t *testing.T) {
	// S6 — component declares one output but returns two values: logged,
	// blackboard left unchanged, loop continues (not auto-unhealthy).
	comp := newFake()
	comp.results = []any{state.Vehicle{Speed: 1}, state.Vehicle{Speed: 2}}
	ex := New("c", comp, Config{Outputs: []string{"vehicle"}}, nil, nil, zap.NewNop())

	s := &state.AllState{}
	if _, err := ex.Update(context.Background(), 0, s); err == nil {
		t.Fatal("expected an arity-mismatch error to be returned to the caller")
	} else if _, ok := err.(*OutputArityError); !ok {
		t.Fatalf("expected *OutputArityError, got %T: %v", err, err)
	}
	if s.Vehicle.Speed != 0 {
		t.Errorf("expected blackboard left unchanged on arity mismatch, got %+v", s.Vehicle)
	}
	if !ex.Healthy() {
		t.Error("an output arity mismatch alone must not mark the executor unhealthy")
	}
}

func TestExecutor_NilResults_SkipsWriteWithoutError(t *testing.T) {
	comp := newFake()
	comp.results = nil
	ex := New("c", comp, Config{Outputs: []string{"vehicle"}}, nil, nil, zap.NewNop())

	s := &state.AllState{}
	if _, err := ex.Update(context.Background(), 0, s); err != nil {
		t.Fatalf("a component choosing not to write this tick must not be an error: %v", err)
	}
}
