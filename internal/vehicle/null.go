package vehicle

import "github.com/gemstack/missioncore/internal/clock"

// Null is a stand-in Interface for deployments that have not yet wired
// a real CAN bus or simulator backend: it reports monotonic clock time,
// an empty fault set, and a stationary reading. It satisfies Interface
// so the executor can be started and exercised before hardware
// integration lands.
type Null struct{}

func (Null) Time() float64 { return clock.Now() }

func (Null) HardwareFaults() map[string]bool { return nil }

func (Null) LastReading() Reading { return Reading{Speed: 0} }
