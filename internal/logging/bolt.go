// BoltDB-backed default LoggingManager implementation.
//
// Schema (bucket layout):
//
//	/meta
//	    key:   "schema_version"          value: "1"
//	    key:   "components"              value: JSON []string (configured names)
//
//	/events
//	    key:   fixed-width RFC3339 UTC timestamp (nanoseconds) + "_" + seq   (sortable)
//	    value: JSON-encoded Event
//
//	/state
//	    key:   fixed-width RFC3339 UTC timestamp (nanoseconds) (sortable)
//	    value: JSON object with the configured field names and the whole
//	           blackboard
//
//	/io
//	    key:   component name + "_" + RFC3339Nano timestamp + "_" + stream
//	    value: JSON []string (captured lines)
//
// Consistency model mirrors a single-writer embedded store: every write
// is one ACID bbolt transaction; reads are unused on the hot path.
package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"

	"github.com/gemstack/missioncore/internal/component"
	"github.com/gemstack/missioncore/internal/vehicle"
)

const (
	schemaVersion = "1"

	bucketMeta   = "meta"
	bucketEvents = "events"
	bucketState  = "state"
	bucketIO     = "io"
)

// Event is a timestamped, free-form record: pipeline starts, operator
// commands, faults, and the final exit reason all flow through here.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
	Label     string    `json:"label"`
}

// BoltManager is the default Manager backed by an embedded BoltDB file.
type BoltManager struct {
	db  *bolt.DB
	log *zap.Logger

	mu          sync.Mutex
	folder      string
	seq         uint64
	vehicleTime float64

	stateFields  []string
	stateRate    float64
	lastStateLog float64

	replayFolders map[string]string
	rosbag        RosbagPlayer
}

// Open opens (or creates) the BoltDB file at path and initializes the
// bucket schema.
func Open(path string, log *zap.Logger) (*BoltManager, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("logging: mkdir for %q: %w", path, err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("logging: bolt.Open(%q): %w", path, err)
	}

	m := &BoltManager{
		db:            db,
		log:           log,
		replayFolders: make(map[string]string),
		rosbag:        noopRosbagPlayer{},
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{bucketMeta, bucketEvents, bucketState, bucketIO} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("CreateBucketIfNotExists(%q): %w", name, err)
			}
		}
		meta := tx.Bucket([]byte(bucketMeta))
		if meta.Get([]byte("schema_version")) == nil {
			return meta.Put([]byte("schema_version"), []byte(schemaVersion))
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("logging: schema init failed: %w", err)
	}

	return m, nil
}

func (m *BoltManager) putEvent(source, label string) {
	m.mu.Lock()
	m.seq++
	seq := m.seq
	m.mu.Unlock()

	ev := Event{Timestamp: time.Now().UTC(), Source: source, Label: label}
	data, err := json.Marshal(ev)
	if err != nil {
		m.log.Warn("logging: marshal event failed", zap.Error(err))
		return
	}
	key := []byte(fmt.Sprintf("%s_%020d", ev.Timestamp.Format("2006-01-02T15:04:05.000000000Z07:00"), seq))
	if err := m.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketEvents)).Put(key, data)
	}); err != nil {
		m.log.Warn("logging: event write failed", zap.Error(err))
	}
}

// OnValue implements debug.Sink: every component debug(key, value) call
// is persisted as an event.
func (m *BoltManager) OnValue(source, key string, value any) {
	m.putEvent(source, fmt.Sprintf("%s=%v", key, value))
}

// OnEvent implements debug.Sink.
func (m *BoltManager) OnEvent(source, label string) {
	m.putEvent(source, label)
}

// SetLogFolder records the directory used for flat-file artifacts
// (replay recordings, rosbag output) alongside the BoltDB store.
func (m *BoltManager) SetLogFolder(path string) error {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("logging: SetLogFolder(%q): %w", path, err)
	}
	m.mu.Lock()
	m.folder = path
	m.mu.Unlock()
	return nil
}

// LogComponents records the set of components configured for this run.
func (m *BoltManager) LogComponents(names []string) {
	data, err := json.Marshal(names)
	if err != nil {
		m.log.Warn("logging: marshal component list failed", zap.Error(err))
		return
	}
	if err := m.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketMeta)).Put([]byte("components"), data)
	}); err != nil {
		m.log.Warn("logging: write component list failed", zap.Error(err))
	}
}

// LogState configures which blackboard fields are sampled into the
// /state bucket and at what rate. Actual sampling happens opportunistically
// from LogComponentUpdate, using the vehicle time set by SetVehicleTime.
func (m *BoltManager) LogState(fields []string, rate float64) {
	m.mu.Lock()
	m.stateFields = fields
	m.stateRate = rate
	m.mu.Unlock()
}

// LogVehicleBehavior returns a Component whose sole job is to forward
// the vehicle interface's own readings into the log on each tick it is
// scheduled — a thin bridge so vehicle telemetry rides the same
// component/executor scheduling and fault-handling machinery as
// everything else, instead of needing its own code path.
func (m *BoltManager) LogVehicleBehavior(iface vehicle.Interface) component.Component {
	return newVehicleLogger(iface, m)
}

// LogROSTopics is a pass-through: the actual recorder is an external
// collaborator (on-disk log format, replay backend — out of scope).
func (m *BoltManager) LogROSTopics(topics []string, opts map[string]any) Command {
	return Command{Topics: topics, Options: opts}
}

func (m *BoltManager) putIO(name, stream string, lines []string) {
	if len(lines) == 0 {
		return
	}
	data, err := json.Marshal(lines)
	if err != nil {
		m.log.Warn("logging: marshal io lines failed", zap.Error(err))
		return
	}
	key := []byte(fmt.Sprintf("%s_%s_%s", name, time.Now().UTC().Format(time.RFC3339Nano), stream))
	if err := m.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketIO)).Put(key, data)
	}); err != nil {
		m.log.Warn("logging: io write failed", zap.Error(err), zap.String("component", name))
	}
}

// LogComponentStdout persists captured stdout lines for one component.
func (m *BoltManager) LogComponentStdout(name string, lines []string) {
	m.putIO(name, "stdout", lines)
}

// LogComponentStderr persists captured stderr lines for one component.
func (m *BoltManager) LogComponentStderr(name string, lines []string) {
	m.putIO(name, "stderr", lines)
}

// LogComponentUpdate, if a state-sampling rate is configured and due,
// writes a /state record holding the configured field names and the
// whole state value. The component name and outputs are not persisted.
func (m *BoltManager) LogComponentUpdate(name string, state any, outputs []any) {
	m.mu.Lock()
	fields := m.stateFields
	rate := m.stateRate
	due := rate > 0 && m.vehicleTime-m.lastStateLog >= 1.0/rate
	if due {
		m.lastStateLog = m.vehicleTime
	}
	m.mu.Unlock()

	if due && len(fields) > 0 {
		data, err := json.Marshal(struct {
			Fields []string `json:"fields"`
			State  any      `json:"state"`
		}{Fields: fields, State: state})
		if err == nil {
			key := []byte(time.Now().UTC().Format("2006-01-02T15:04:05.000000000Z07:00"))
			if err := m.db.Update(func(tx *bolt.Tx) error {
				return tx.Bucket([]byte(bucketState)).Put(key, data)
			}); err != nil {
				m.log.Warn("logging: state snapshot write failed", zap.Error(err))
			}
		}
	}
}

// SetVehicleTime records the latest vehicle clock reading.
func (m *BoltManager) SetVehicleTime(t float64) {
	m.mu.Lock()
	m.vehicleTime = t
	m.mu.Unlock()
}

// PipelineStartEvent records a pipeline entry.
func (m *BoltManager) PipelineStartEvent(name string) {
	m.putEvent("executor", fmt.Sprintf("pipeline_start:%s", name))
}

// Event records a free-form operator/executor event.
func (m *BoltManager) Event(desc string) {
	m.putEvent("executor", desc)
}

// ExitEvent records the terminal exit reason.
func (m *BoltManager) ExitEvent(reason string) {
	m.putEvent("executor", fmt.Sprintf("exit:%s", reason))
}

// ComponentReplayer returns a replay substitute for name if
// ReplayComponents previously registered a folder for it.
func (m *BoltManager) ComponentReplayer(iface vehicle.Interface, name string, comp component.Component) component.Component {
	m.mu.Lock()
	folder, ok := m.replayFolders[name]
	m.mu.Unlock()
	if !ok {
		return nil
	}
	return newReplayComponent(name, folder, comp)
}

// ReplayComponents registers a set of component names to be replayed
// from recordings under folder instead of executed live.
func (m *BoltManager) ReplayComponents(names []string, folder string) {
	m.mu.Lock()
	for _, n := range names {
		m.replayFolders[n] = folder
	}
	m.mu.Unlock()
}

// ReplayTopics registers ROS topics to be replayed from folder via the
// rosbag player.
func (m *BoltManager) ReplayTopics(topics []string, folder string) {
	m.mu.Lock()
	m.rosbag = newFileRosbagPlayer(topics, folder)
	m.mu.Unlock()
}

// RosbagPlayer returns the currently configured replay driver (a no-op
// player if ReplayTopics was never called).
func (m *BoltManager) RosbagPlayer() RosbagPlayer {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rosbag
}

// Close flushes and closes the underlying BoltDB file. Per the
// shutdown invariant, the executor calls this last, after every
// component's cleanup.
func (m *BoltManager) Close() error {
	return m.db.Close()
}

type noopRosbagPlayer struct{}

func (noopRosbagPlayer) UpdateTopics(t float64) error { return nil }

type fileRosbagPlayer struct {
	topics []string
	folder string
}

func newFileRosbagPlayer(topics []string, folder string) *fileRosbagPlayer {
	return &fileRosbagPlayer{topics: topics, folder: folder}
}

// UpdateTopics is a stub: the recorded-topic wire format and playback
// engine are external collaborators (out of scope per the purpose and
// scope statement).
func (p *fileRosbagPlayer) UpdateTopics(t float64) error { return nil }
