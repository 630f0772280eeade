package executor

// Pipeline is the ordered triple (perception, planning, other) executed
// each tick while it is the active pipeline, plus the executor-wide
// always-run set runs alongside every pipeline.
type Pipeline struct {
	Name       string
	Perception *OrderedExecutors
	Planning   *OrderedExecutors
	Other      *OrderedExecutors
}

// NewPipeline creates an empty, named Pipeline.
func NewPipeline(name string) *Pipeline {
	return &Pipeline{
		Name:       name,
		Perception: NewOrderedExecutors(),
		Planning:   NewOrderedExecutors(),
		Other:      NewOrderedExecutors(),
	}
}

// RecoveryPipelineName is the mandatory fallback pipeline entered on
// essential-component failure or interrupt.
const RecoveryPipelineName = "recovery"
