// Package graph normalizes and validates the computation-graph
// descriptor: the ordered, named declaration of which blackboard
// fields each component reads and writes.
package graph

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// GraphError is a structural validation failure. It is always fatal and
// raised before the mission loop starts.
type GraphError struct {
	Component string
	Rule      string
}

func (e *GraphError) Error() string {
	return fmt.Sprintf("graph: component %q: %s", e.Component, e.Rule)
}

// ComponentSpec is one normalized computation-graph entry: the
// construction descriptor (type/module/args/...) merged with its
// declared dataflow (inputs/outputs).
type ComponentSpec struct {
	Name         string
	Type         string
	Module       string
	Args         any
	Multiprocess bool
	Essential    bool
	Rate         float64 // Hz; 0 means "use Component.Rate()"
	Print        bool
	Debug        bool
	Inputs       []string
	Outputs      []string
}

// stringOrSlice accepts either a bare scalar or a YAML sequence,
// normalizing a bare string to a single-element list (the "inputs:
// vehicle" sugar for "inputs: [vehicle]").
type stringOrSlice []string

func (s *stringOrSlice) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		*s = []string{node.Value}
		return nil
	}
	var list []string
	if err := node.Decode(&list); err != nil {
		return fmt.Errorf("graph: expected scalar or sequence: %w", err)
	}
	*s = list
	return nil
}

type rawDescriptor struct {
	Type         string        `yaml:"type"`
	Module       string        `yaml:"module"`
	Args         yaml.Node     `yaml:"args"`
	Multiprocess bool          `yaml:"multiprocess"`
	Essential    *bool         `yaml:"essential"`
	Rate         float64       `yaml:"rate"`
	Print        *bool         `yaml:"print"`
	Debug        *bool         `yaml:"debug"`
	Inputs       stringOrSlice `yaml:"inputs"`
	Outputs      stringOrSlice `yaml:"outputs"`
}

// RawEntry is one as-written item of a computation-graph phase list
// (a pipeline's perception/planning/other, or always_run) —
// either a bare component name, or a single-key mapping of name to its
// descriptor body.
type RawEntry struct {
	name string
	desc rawDescriptor
	bare bool
}

// UnmarshalYAML implements the bare-name / name-to-descriptor-map
// normalization described in the design notes.
func (e *RawEntry) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		e.name = node.Value
		e.bare = true
		return nil
	case yaml.MappingNode:
		if len(node.Content) != 2 {
			return fmt.Errorf("graph: component entry must have exactly one key, got %d", len(node.Content)/2)
		}
		e.name = node.Content[0].Value
		return node.Content[1].Decode(&e.desc)
	default:
		return fmt.Errorf("graph: component entry must be a string or a single-key mapping")
	}
}

// Normalize converts raw YAML entries into fully defaulted
// ComponentSpecs, in declared order. Duplicate names are rejected.
func Normalize(entries []RawEntry) ([]ComponentSpec, error) {
	seen := make(map[string]bool, len(entries))
	out := make([]ComponentSpec, 0, len(entries))
	for _, e := range entries {
		if seen[e.name] {
			return nil, &GraphError{Component: e.name, Rule: "duplicate component name in computation graph"}
		}
		seen[e.name] = true

		spec := ComponentSpec{
			Name:         e.name,
			Essential:    true,
			Print:        true,
			Debug:        true,
			Multiprocess: false,
		}
		if e.bare {
			spec.Type = e.name
			out = append(out, spec)
			continue
		}

		spec.Type = e.desc.Type
		if spec.Type == "" {
			spec.Type = e.name
		}
		spec.Module = e.desc.Module
		if !e.desc.Args.IsZero() {
			var v any
			if err := e.desc.Args.Decode(&v); err != nil {
				return nil, &GraphError{Component: e.name, Rule: fmt.Sprintf("invalid args: %v", err)}
			}
			spec.Args = v
		}
		spec.Multiprocess = e.desc.Multiprocess
		if e.desc.Essential != nil {
			spec.Essential = *e.desc.Essential
		}
		spec.Rate = e.desc.Rate
		if e.desc.Print != nil {
			spec.Print = *e.desc.Print
		}
		if e.desc.Debug != nil {
			spec.Debug = *e.desc.Debug
		}
		spec.Inputs = []string(e.desc.Inputs)
		spec.Outputs = []string(e.desc.Outputs)
		out = append(out, spec)
	}
	return out, nil
}

// Node is what Validate needs about one scheduled component: its
// declared dataflow plus the runtime component's actual output
// capability (Component.StateOutputs()).
type Node struct {
	Name            string
	DeclaredInputs  []string
	DeclaredOutputs []string
	ActualOutputs   []string
}

// KnownField reports whether a field name is part of the blackboard
// schema. Injected by callers to avoid an import cycle on internal/state.
type KnownField func(name string) bool

// Validate walks nodes in declared order, checking that every input is
// satisfied by an earlier producer (in this phase or an earlier phase)
// and that every declared output is backed by the component's actual
// capability. It returns the cumulative produced-field set.
func Validate(nodes []Node, alreadyProvided map[string]bool, known KnownField) (map[string]bool, []string, error) {
	produced := make(map[string]bool, len(alreadyProvided))
	for k := range alreadyProvided {
		produced[k] = true
	}
	var warnings []string
	sawAll := false

	declaresAllInput := func(n Node) bool {
		return len(n.DeclaredInputs) == 1 && n.DeclaredInputs[0] == "all"
	}
	declaresAllOutput := func(n Node) bool {
		return len(n.DeclaredOutputs) == 1 && n.DeclaredOutputs[0] == "all"
	}
	hasActual := func(n Node, field string) bool {
		for _, o := range n.ActualOutputs {
			if o == field || o == "all" {
				return true
			}
		}
		return false
	}

	for _, n := range nodes {
		for _, in := range n.DeclaredInputs {
			ok := false
			if in == "all" {
				if declaresAllInput(n) {
					ok = true
				}
			}
			if !ok && produced[in] {
				ok = true
			}
			if !ok && sawAll {
				ok = true
			}
			if !ok {
				return nil, nil, &GraphError{
					Component: n.Name,
					Rule:      fmt.Sprintf("input %q is not produced by any upstream component or earlier phase", in),
				}
			}
		}

		if declaresAllOutput(n) {
			sawAll = true
			continue
		}
		for _, out := range n.DeclaredOutputs {
			if !hasActual(n, out) {
				return nil, nil, &GraphError{
					Component: n.Name,
					Rule:      fmt.Sprintf("declared output %q is not in the component's state_outputs()", out),
				}
			}
			if known != nil && !known(out) {
				warnings = append(warnings, fmt.Sprintf("component %q writes unschema'd field %q", n.Name, out))
			}
			produced[out] = true
		}
	}
	return produced, warnings, nil
}

// CheckKnownNames fails validation if a runtime component's name is not
// present in the computation-graph descriptor.
func CheckKnownNames(descriptorNames []string, runtimeNames []string) error {
	known := make(map[string]bool, len(descriptorNames))
	for _, n := range descriptorNames {
		known[n] = true
	}
	for _, n := range runtimeNames {
		if !known[n] {
			return &GraphError{Component: n, Rule: "present at runtime but not declared in the computation graph"}
		}
	}
	return nil
}
