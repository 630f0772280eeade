// Package vehicle defines the boundary the executor reads vehicle time,
// hardware fault state, and the latest kinematic reading across. The
// concrete vehicle hardware interface is an external collaborator;
// this package only specifies the contract.
package vehicle

// Reading is the vehicle's latest kinematic sample.
type Reading struct {
	Speed float64
}

// Interface is the vehicle hardware boundary the executor polls each
// tick. Concrete implementations (CAN bus, sim, playback) live outside
// this module.
type Interface interface {
	// Time returns monotonic vehicle time in seconds.
	Time() float64

	// HardwareFaults returns the current fault set. "disengaged" is a
	// recognized member, suppressed by the fault monitor unless
	// run.require_engaged is set.
	HardwareFaults() map[string]bool

	// LastReading returns the most recent kinematic sample.
	LastReading() Reading
}
