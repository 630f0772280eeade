package executor

import (
	"errors"
	"fmt"
)

// ErrInterrupted is returned by RunUntilSwitch when Interrupt() was
// called since the last tick.
var ErrInterrupted = errors.New("executor: interrupted")

// SensorValidationFailure means perception components never became
// healthy within the allotted probe budget. At startup it is fatal and
// aborts before the main loop runs; after a pipeline switch it sends the
// executor to the recovery pipeline (or ends the run if that was the
// recovery pipeline).
type SensorValidationFailure struct {
	Pipeline string
	Pending  []string
}

func (e *SensorValidationFailure) Error() string {
	return fmt.Sprintf("executor: sensor validation failed for pipeline %q, still unhealthy: %v", e.Pipeline, e.Pending)
}

// HardwareFault records one newly observed fault from the vehicle
// interface. Logged as an event; never fatal on its own.
type HardwareFault struct {
	Name string
}

func (e *HardwareFault) Error() string {
	return fmt.Sprintf("executor: hardware fault %q", e.Name)
}
