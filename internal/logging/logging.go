// Package logging defines the LoggingManager boundary — the executor's
// only persistence dependency — and ships one concrete, BoltDB-backed
// default implementation. The on-disk record format is a deployment
// detail, not a mandated wire format: callers needing a different
// backend implement Manager directly.
package logging

import (
	"github.com/gemstack/missioncore/internal/component"
	"github.com/gemstack/missioncore/internal/vehicle"
)

// Command is the opaque result of requesting a ROS topic recording;
// the replay/record backend is external, so this only carries what the
// executor needs to hand off.
type Command struct {
	Topics  []string
	Options map[string]any
}

// RosbagPlayer drives replay of recorded topics during the mission
// loop. A default no-op player is used when no replay is configured.
type RosbagPlayer interface {
	UpdateTopics(t float64) error
}

// Manager is the full LoggingManager capability set. It is also a
// debug.Sink: the executor registers it on the Debugger bus so every
// component's debug(...) calls are persisted alongside stdout/stderr.
type Manager interface {
	OnValue(source, key string, value any)
	OnEvent(source, label string)

	SetLogFolder(path string) error
	LogComponents(names []string)
	LogState(fields []string, rate float64)
	LogVehicleBehavior(iface vehicle.Interface) component.Component
	LogROSTopics(topics []string, opts map[string]any) Command
	LogComponentStdout(name string, lines []string)
	LogComponentStderr(name string, lines []string)
	LogComponentUpdate(name string, state any, outputs []any)
	SetVehicleTime(t float64)
	PipelineStartEvent(name string)
	Event(desc string)
	ExitEvent(reason string)

	// ComponentReplayer returns a substitute Component for name if a
	// replayer was registered for it, or nil otherwise.
	ComponentReplayer(iface vehicle.Interface, name string, comp component.Component) component.Component
	ReplayComponents(names []string, folder string)
	ReplayTopics(topics []string, folder string)
	RosbagPlayer() RosbagPlayer

	Close() error
}
