// Package registry replaces the dynamic, source-driven class loading
// (import-by-string) of the distilled design with a build-time
// constructor table: component packages register themselves from
// init(), and the executor resolves a descriptor's "type" string
// against that table instead of reflecting over a module path.
package registry

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/gemstack/missioncore/internal/component"
	"github.com/gemstack/missioncore/internal/graph"
)

// ComponentConstructError means the factory could not resolve or
// construct a component for a descriptor. Always fatal, raised before
// the mission loop starts.
type ComponentConstructError struct {
	Type   string
	Reason string
}

func (e *ComponentConstructError) Error() string {
	return fmt.Sprintf("registry: cannot construct component of type %q: %s", e.Type, e.Reason)
}

// Ctx is the single construction-argument bundle every component
// constructor accepts, replacing the distilled design's two-attempt
// (with-then-without extra args) instantiation.
type Ctx struct {
	Name string
	Args any
}

// Constructor builds a Component from a Ctx.
type Constructor func(Ctx) (component.Component, error)

var (
	mu           sync.RWMutex
	constructors = map[string]Constructor{}
)

// Register adds a constructor under typeName. Called from component
// packages' init() functions. Panics on duplicate registration — a
// build-time programming error, not a runtime condition.
func Register(typeName string, ctor Constructor) {
	mu.Lock()
	defer mu.Unlock()
	if _, exists := constructors[typeName]; exists {
		panic(fmt.Sprintf("registry: duplicate registration for type %q", typeName))
	}
	constructors[typeName] = ctor
}

// Registry owns the per-(name, descriptor) instance cache so repeated
// factory calls for the same descriptor return the same component.
type Registry struct {
	mu    sync.Mutex
	cache map[string]component.Component
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{cache: make(map[string]component.Component)}
}

func cacheKey(name string, spec graph.ComponentSpec) string {
	data, _ := json.Marshal(spec)
	return name + "\x00" + string(data)
}

// Make resolves spec.Type against the constructor table and returns a
// Component, reusing a cached instance for an identical (name, spec)
// pair.
func (r *Registry) Make(spec graph.ComponentSpec) (component.Component, error) {
	key := cacheKey(spec.Name, spec)

	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.cache[key]; ok {
		return c, nil
	}

	mu.RLock()
	ctor, ok := constructors[spec.Type]
	mu.RUnlock()
	if !ok {
		return nil, &ComponentConstructError{Type: spec.Type, Reason: "no constructor registered for this type"}
	}

	c, err := ctor(Ctx{Name: spec.Name, Args: spec.Args})
	if err != nil {
		return nil, &ComponentConstructError{Type: spec.Type, Reason: err.Error()}
	}
	if c == nil {
		return nil, &ComponentConstructError{Type: spec.Type, Reason: "constructor returned a nil component"}
	}
	r.cache[key] = c
	return c, nil
}
