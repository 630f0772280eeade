package executor

import "github.com/gemstack/missioncore/internal/compexec"

// OrderedExecutors is an insertion-ordered map from component name to
// its ComponentExecutor — the representation of one phase
// (perception/planning/other) or the always-run set.
type OrderedExecutors struct {
	order  []string
	byName map[string]*compexec.Executor
}

// NewOrderedExecutors creates an empty OrderedExecutors.
func NewOrderedExecutors() *OrderedExecutors {
	return &OrderedExecutors{byName: make(map[string]*compexec.Executor)}
}

// Add appends ex under name, preserving declared order. Re-adding the
// same name replaces its executor but keeps its original position,
// without duplicating the order slice entry.
func (o *OrderedExecutors) Add(name string, ex *compexec.Executor) {
	if _, exists := o.byName[name]; !exists {
		o.order = append(o.order, name)
	}
	o.byName[name] = ex
}

// Get returns the executor for name, if present.
func (o *OrderedExecutors) Get(name string) (*compexec.Executor, bool) {
	ex, ok := o.byName[name]
	return ex, ok
}

// Names returns the component names in declared order.
func (o *OrderedExecutors) Names() []string {
	return append([]string(nil), o.order...)
}

// InOrder returns the executors in declared order.
func (o *OrderedExecutors) InOrder() []*compexec.Executor {
	out := make([]*compexec.Executor, 0, len(o.order))
	for _, n := range o.order {
		out = append(out, o.byName[n])
	}
	return out
}

// Len returns the number of executors.
func (o *OrderedExecutors) Len() int { return len(o.order) }
