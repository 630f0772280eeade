// Package state defines AllState, the mission blackboard, and the
// field-accessor table that the graph validator and ComponentExecutor
// use instead of reflection.
package state

import "fmt"

// MissionType is the closed enumeration of mission.type values.
type MissionType uint8

const (
	MissionIdle MissionType = iota
	MissionDrive
	MissionWaypoint
	MissionRecoveryStop
)

// String returns the human-readable mission type name.
func (m MissionType) String() string {
	switch m {
	case MissionIdle:
		return "IDLE"
	case MissionDrive:
		return "DRIVE"
	case MissionWaypoint:
		return "WAYPOINT"
	case MissionRecoveryStop:
		return "RECOVERY_STOP"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(m))
	}
}

// Mission describes the current mission goal.
type Mission struct {
	Type MissionType
	Goal string
}

// Vehicle is the vehicle's own kinematic state.
type Vehicle struct {
	Speed    float64
	Position [2]float64
	Heading  float64
}

// Agent is one tracked external agent (pedestrian, vehicle, cyclist).
type Agent struct {
	ID       string
	Position [2]float64
	Velocity [2]float64
}

// Route is the coarse sequence of waypoints the planner must follow.
type Route struct {
	Waypoints [][2]float64
}

// Trajectory is the fine-grained, timestamped path the controller tracks.
type Trajectory struct {
	Points [][2]float64
	Times  []float64
}

// AllState is the shared blackboard. Every writable field X has a
// companion XUpdateTime recording the vehicle time at which it was
// last written.
type AllState struct {
	T float64

	Mission           Mission
	MissionUpdateTime float64

	Vehicle           Vehicle
	VehicleUpdateTime float64

	Agents           []Agent
	AgentsUpdateTime float64

	Route           Route
	RouteUpdateTime float64

	Trajectory           Trajectory
	TrajectoryUpdateTime float64
}

// Zero returns a fully initialized default AllState.
func Zero() AllState {
	return AllState{
		T:       0.0,
		Mission: Mission{Type: MissionIdle},
		Agents:  nil,
	}
}

// Accessor binds together the read, write, and timestamp-write
// operations for one blackboard field.
type Accessor struct {
	Read    func(*AllState) any
	Write   func(*AllState, any) error
	TSWrite func(*AllState, float64)
}

// Fields is the schema: the set of field names components may declare
// as inputs or outputs (besides the reserved name "all").
var Fields = map[string]Accessor{
	"mission": {
		Read: func(s *AllState) any { return s.Mission },
		Write: func(s *AllState, v any) error {
			m, ok := v.(Mission)
			if !ok {
				return fmt.Errorf("state: field %q: expected state.Mission, got %T", "mission", v)
			}
			s.Mission = m
			return nil
		},
		TSWrite: func(s *AllState, t float64) { s.MissionUpdateTime = t },
	},
	"vehicle": {
		Read: func(s *AllState) any { return s.Vehicle },
		Write: func(s *AllState, v any) error {
			vv, ok := v.(Vehicle)
			if !ok {
				return fmt.Errorf("state: field %q: expected state.Vehicle, got %T", "vehicle", v)
			}
			s.Vehicle = vv
			return nil
		},
		TSWrite: func(s *AllState, t float64) { s.VehicleUpdateTime = t },
	},
	"agents": {
		Read: func(s *AllState) any { return s.Agents },
		Write: func(s *AllState, v any) error {
			a, ok := v.([]Agent)
			if !ok {
				return fmt.Errorf("state: field %q: expected []state.Agent, got %T", "agents", v)
			}
			s.Agents = a
			return nil
		},
		TSWrite: func(s *AllState, t float64) { s.AgentsUpdateTime = t },
	},
	"route": {
		Read: func(s *AllState) any { return s.Route },
		Write: func(s *AllState, v any) error {
			r, ok := v.(Route)
			if !ok {
				return fmt.Errorf("state: field %q: expected state.Route, got %T", "route", v)
			}
			s.Route = r
			return nil
		},
		TSWrite: func(s *AllState, t float64) { s.RouteUpdateTime = t },
	},
	"trajectory": {
		Read: func(s *AllState) any { return s.Trajectory },
		Write: func(s *AllState, v any) error {
			tr, ok := v.(Trajectory)
			if !ok {
				return fmt.Errorf("state: field %q: expected state.Trajectory, got %T", "trajectory", v)
			}
			s.Trajectory = tr
			return nil
		},
		TSWrite: func(s *AllState, t float64) { s.TrajectoryUpdateTime = t },
	},
	"t": {
		Read:    func(s *AllState) any { return s.T },
		Write:   func(s *AllState, v any) error { return fmt.Errorf("state: field %q is executor-owned, not component-writable", "t") },
		TSWrite: func(s *AllState, t float64) {},
	},
}

// Known reports whether name is a schema field (the literal "all" is
// handled separately by the graph validator and is never a schema field).
func Known(name string) bool {
	_, ok := Fields[name]
	return ok
}

// Names returns the schema field names, excluding "t".
func Names() []string {
	out := make([]string, 0, len(Fields))
	for k := range Fields {
		if k == "t" {
			continue
		}
		out = append(out, k)
	}
	return out
}
