package logging

import (
	"context"
	"fmt"

	"github.com/gemstack/missioncore/internal/component"
	"github.com/gemstack/missioncore/internal/debug"
	"github.com/gemstack/missioncore/internal/vehicle"
)

// vehicleLoggerRate is the default sampling frequency for the vehicle
// telemetry bridge component.
const vehicleLoggerRate = 2.0

// vehicleLogger is a Component bridging vehicle.Interface readings into
// the debug/event stream, so telemetry rides the normal scheduling and
// fault-isolation path instead of needing a side channel.
type vehicleLogger struct {
	iface vehicle.Interface
	sink  *BoltManager
	dbg   *debug.ChildDebugger
}

func newVehicleLogger(iface vehicle.Interface, sink *BoltManager) *vehicleLogger {
	return &vehicleLogger{iface: iface, sink: sink}
}

func (v *vehicleLogger) Initialize(ctx context.Context) error { return nil }
func (v *vehicleLogger) Cleanup(ctx context.Context) error    { return nil }

func (v *vehicleLogger) Update(ctx context.Context, inputs []any) ([]any, error) {
	r := v.iface.LastReading()
	v.sink.OnValue("vehicle_logger", "speed", r.Speed)
	for fault := range v.iface.HardwareFaults() {
		v.sink.OnValue("vehicle_logger", "fault", fmt.Sprint(fault))
	}
	return nil, nil
}

func (v *vehicleLogger) Rate() (float64, bool)      { return vehicleLoggerRate, true }
func (v *vehicleLogger) Healthy() bool              { return true }
func (v *vehicleLogger) StateInputs() []string      { return nil }
func (v *vehicleLogger) StateOutputs() []string     { return nil }
func (v *vehicleLogger) SetDebugger(d *debug.ChildDebugger) { v.dbg = d }

var _ component.Component = (*vehicleLogger)(nil)
