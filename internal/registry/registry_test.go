package registry

import (
	"context"
	"testing"

	"github.com/gemstack/missioncore/internal/component"
	"github.com/gemstack/missioncore/internal/debug"
	"github.com/gemstack/missioncore/internal/graph"
)

type stubComponent struct{ n int }

func (s *stubComponent) Initialize(ctx context.Context) error      { return nil }
func (s *stubComponent) Cleanup(ctx context.Context) error         { return nil }
func (s *stubComponent) Update(ctx context.Context, in []any) ([]any, error) { return nil, nil }
func (s *stubComponent) Rate() (float64, bool)                     { return 0, false }
func (s *stubComponent) Healthy() bool                             { return true }
func (s *stubComponent) StateInputs() []string                     { return nil }
func (s *stubComponent) StateOutputs() []string                    { return nil }
func (s *stubComponent) SetDebugger(d *debug.ChildDebugger)        {}

func TestRegistry_Make_ReturnsSameInstanceForIdenticalSpec(t *testing.T) {
	built := 0
	Register("registry_test_stub_a", func(c Ctx) (component.Component, error) {
		built++
		return &stubComponent{n: built}, nil
	})

	r := New()
	spec := graph.ComponentSpec{Name: "a", Type: "registry_test_stub_a"}

	c1, err := r.Make(spec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := 0; i < 5; i++ {
		c2, err := r.Make(spec)
		if err != nil {
			t.Fatalf("unexpected error on call %d: %v", i, err)
		}
		if c1 != c2 {
			t.Fatalf("call %d: expected the same cached instance, got a different one", i)
		}
	}
	if built != 1 {
		t.Fatalf("expected the constructor to run exactly once, ran %d times", built)
	}
}

func TestRegistry_Make_UnknownTypeFails(t *testing.T) {
	r := New()
	_, err := r.Make(graph.ComponentSpec{Name: "ghost", Type: "registry_test_stub_unregistered"})
	if err == nil {
		t.Fatal("expected an error for an unregistered type")
	}
	if _, ok := err.(*ComponentConstructError); !ok {
		t.Fatalf("expected *ComponentConstructError, got %T", err)
	}
}

func TestRegistry_Make_DifferentSpecsAreNotSharedAcrossInstances(t *testing.T) {
	Register("registry_test_stub_b", func(c Ctx) (component.Component, error) {
		return &stubComponent{}, nil
	})

	r := New()
	c1, err := r.Make(graph.ComponentSpec{Name: "a", Type: "registry_test_stub_b"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	c2, err := r.Make(graph.ComponentSpec{Name: "b", Type: "registry_test_stub_b"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c1 == c2 {
		t.Fatal("expected distinct component names to produce distinct instances")
	}
}

func TestRegister_DuplicateTypePanics(t *testing.T) {
	Register("registry_test_stub_c", func(c Ctx) (component.Component, error) {
		return &stubComponent{}, nil
	})
	defer func() {
		if recover() == nil {
			t.Fatal("expected a duplicate registration to panic")
		}
	}()
	Register("registry_test_stub_c", func(c Ctx) (component.Component, error) {
		return &stubComponent{}, nil
	})
}
