// Package executor assembles pipelines from validated computation
// graphs and runs the mission loop: sensor validation, rate-limited
// phase scheduling, fault-driven pipeline switching, and graceful,
// cleanup-guaranteed shutdown.
package executor

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/gemstack/missioncore/internal/clock"
	"github.com/gemstack/missioncore/internal/compexec"
	"github.com/gemstack/missioncore/internal/debug"
	"github.com/gemstack/missioncore/internal/execlog"
	"github.com/gemstack/missioncore/internal/execstate"
	"github.com/gemstack/missioncore/internal/graph"
	"github.com/gemstack/missioncore/internal/logging"
	"github.com/gemstack/missioncore/internal/metrics"
	"github.com/gemstack/missioncore/internal/registry"
	"github.com/gemstack/missioncore/internal/state"
	"github.com/gemstack/missioncore/internal/vehicle"
)

// Hooks are the subclass-overridable points in the mission loop: a
// StandardExecutor supplies a concrete Done() termination policy, never
// requests a switch from Update, and only records an event in Begin/End.
type Hooks interface {
	Begin(ctx context.Context, s *state.AllState) error
	Update(ctx context.Context, s *state.AllState) (switchTo string, ok bool)
	Done(ctx context.Context, s *state.AllState) bool
	End(ctx context.Context, s *state.AllState) error
}

// ExecutorBase owns every ComponentExecutor via a name-keyed interned
// map, assembles them into pipelines, and runs the outer mission loop.
type ExecutorBase struct {
	registry *registry.Registry
	bus      *debug.Debugger
	logMgr   logging.Manager
	vehicle  vehicle.Interface
	log      *zap.Logger
	m        *metrics.Metrics

	requireEngaged bool
	initialPipeline string

	executors map[string]*compexec.Executor
	started   []*compexec.Executor

	pipelines map[string]*Pipeline
	alwaysRun *OrderedExecutors

	machine     *execstate.Machine
	prevFaults  map[string]bool
	exitReason  string

	interrupted     atomic.Bool
	lastProgressUnixNano atomic.Int64
	pendingSwitch   atomic.Value // string
}

// New creates an empty ExecutorBase.
func New(reg *registry.Registry, bus *debug.Debugger, logMgr logging.Manager, veh vehicle.Interface, log *zap.Logger, m *metrics.Metrics, requireEngaged bool, initialPipeline string) *ExecutorBase {
	b := &ExecutorBase{
		registry:        reg,
		bus:             bus,
		logMgr:          logMgr,
		vehicle:         veh,
		log:             log,
		m:               m,
		requireEngaged:  requireEngaged,
		initialPipeline: initialPipeline,
		executors:       make(map[string]*compexec.Executor),
		pipelines:       make(map[string]*Pipeline),
		alwaysRun:       NewOrderedExecutors(),
		machine:         execstate.New(),
		prevFaults:      make(map[string]bool),
	}
	b.pendingSwitch.Store("")
	return b
}

// StatusSnapshot is a point-in-time read of the executor's lifecycle,
// exposed to external operator tooling.
type StatusSnapshot struct {
	State           string
	Pipeline        string
	TimeInState     time.Duration
	ExitReason      string
	ComponentHealth map[string]bool
}

// Snapshot reports the executor's current lifecycle state and the
// health of every assembled component.
func (b *ExecutorBase) Snapshot() StatusSnapshot {
	health := make(map[string]bool, len(b.executors))
	for name, ex := range b.executors {
		health[name] = ex.Healthy()
	}
	return StatusSnapshot{
		State:           b.machine.Current().String(),
		Pipeline:        b.machine.Pipeline(),
		TimeInState:     b.machine.TimeInState(),
		ExitReason:      b.exitReason,
		ComponentHealth: health,
	}
}

// RequestSwitch queues an operator-initiated pipeline switch, honored
// during the next tick, after its perception phase and the hooks'
// Update call. Returns an error if the pipeline is not configured.
func (b *ExecutorBase) RequestSwitch(pipeline string) error {
	if _, ok := b.pipelines[pipeline]; !ok {
		return fmt.Errorf("executor: cannot switch to unconfigured pipeline %q", pipeline)
	}
	b.pendingSwitch.Store(pipeline)
	return nil
}

func (b *ExecutorBase) consumePendingSwitch() string {
	v, _ := b.pendingSwitch.Swap("").(string)
	return v
}

// Interrupt records a cooperative interrupt request (e.g. SIGINT).
// Consumed (edge-triggered) by the next tick's RunUntilSwitch call.
func (b *ExecutorBase) Interrupt() {
	b.interrupted.Store(true)
}

// State returns the current executor lifecycle phase.
func (b *ExecutorBase) State() execstate.State { return b.machine.Current() }

// ExitReason returns the terminal exit reason once Run has returned.
func (b *ExecutorBase) ExitReason() string { return b.exitReason }

// SetExitReason records the terminal exit reason.
func (b *ExecutorBase) SetExitReason(reason string) { b.exitReason = reason }

// Event forwards a free-form event to the logging manager.
func (b *ExecutorBase) Event(desc string) {
	if b.logMgr != nil {
		b.logMgr.Event(desc)
	}
}

// SetLogFolder passes through to the logging manager.
func (b *ExecutorBase) SetLogFolder(path string) error {
	if b.logMgr == nil {
		return nil
	}
	return b.logMgr.SetLogFolder(path)
}

// LogVehicleInterface registers the vehicle telemetry bridge component
// as part of the always-run set.
func (b *ExecutorBase) LogVehicleInterface() error {
	if b.logMgr == nil {
		return nil
	}
	comp := b.logMgr.LogVehicleBehavior(b.vehicle)
	cfg := compexec.Config{Essential: false, Print: false, Debug: false, Metrics: b.metricsSink()}
	ex := compexec.New("vehicle_logger", comp, cfg, b.logMgr, b.bus, b.log)
	b.executors["vehicle_logger"] = ex
	b.alwaysRun.Add("vehicle_logger", ex)
	return nil
}

// LogComponents passes the full set of configured component names
// through to the logging manager.
func (b *ExecutorBase) LogComponents() {
	if b.logMgr == nil {
		return
	}
	names := make([]string, 0, len(b.executors))
	for n := range b.executors {
		names = append(names, n)
	}
	b.logMgr.LogComponents(names)
}

func (b *ExecutorBase) makeExecutor(spec graph.ComponentSpec) (*compexec.Executor, error) {
	if ex, ok := b.executors[spec.Name]; ok {
		return ex, nil
	}
	comp, err := b.registry.Make(spec)
	if err != nil {
		return nil, err
	}
	if b.logMgr != nil {
		if sub := b.logMgr.ComponentReplayer(b.vehicle, spec.Name, comp); sub != nil {
			comp = sub
		}
	}
	cfg := compexec.Config{
		Essential:   spec.Essential,
		Print:       spec.Print,
		Debug:       spec.Debug,
		Inputs:      spec.Inputs,
		Outputs:     spec.Outputs,
		DescribedHz: spec.Rate,
		Metrics:     b.metricsSink(),
	}
	ex := compexec.New(spec.Name, comp, cfg, b.logMgr, b.bus, b.log)
	b.executors[spec.Name] = ex
	return ex, nil
}

func (b *ExecutorBase) buildPhase(specs []graph.ComponentSpec) (*OrderedExecutors, []graph.Node, error) {
	oe := NewOrderedExecutors()
	nodes := make([]graph.Node, 0, len(specs))
	for _, spec := range specs {
		ex, err := b.makeExecutor(spec)
		if err != nil {
			return nil, nil, err
		}
		oe.Add(spec.Name, ex)
		nodes = append(nodes, graph.Node{
			Name:            spec.Name,
			DeclaredInputs:  ex.Inputs(),
			DeclaredOutputs: ex.Outputs(),
			ActualOutputs:   ex.Component().StateOutputs(),
		})
	}
	return oe, nodes, nil
}

// AddPipeline validates and assembles one pipeline's three phases, in
// sequence (perception's outputs feed planning's already-provided set,
// planning's feed other's).
func (b *ExecutorBase) AddPipeline(name string, perception, planning, other []graph.ComponentSpec) error {
	p := NewPipeline(name)

	perceptionOE, perceptionNodes, err := b.buildPhase(perception)
	if err != nil {
		return err
	}
	p.Perception = perceptionOE

	provided, warnings, err := graph.Validate(perceptionNodes, seedProvided(), state.Known)
	if err != nil {
		return err
	}
	logWarnings(b.log, warnings)

	planningOE, planningNodes, err := b.buildPhase(planning)
	if err != nil {
		return err
	}
	p.Planning = planningOE
	provided, warnings, err = graph.Validate(planningNodes, provided, state.Known)
	if err != nil {
		return err
	}
	logWarnings(b.log, warnings)

	otherOE, otherNodes, err := b.buildPhase(other)
	if err != nil {
		return err
	}
	p.Other = otherOE
	_, warnings, err = graph.Validate(otherNodes, provided, state.Known)
	if err != nil {
		return err
	}
	logWarnings(b.log, warnings)

	b.pipelines[name] = p
	return nil
}

// SetAlwaysRun assembles the unconditional always-run set. Since it
// runs alongside every pipeline rather than inside one, its inputs are
// validated only against the seed fields (t, mission) and earlier
// always-run outputs, not against any pipeline's upstream set.
func (b *ExecutorBase) SetAlwaysRun(specs []graph.ComponentSpec) error {
	oe, nodes, err := b.buildPhase(specs)
	if err != nil {
		return err
	}
	for _, ex := range oe.InOrder() {
		b.alwaysRun.Add(ex.Name, ex)
	}
	_, warnings, err := graph.Validate(nodes, seedProvided(), state.Known)
	if err != nil {
		return err
	}
	logWarnings(b.log, warnings)
	return nil
}

// metricsAdapter satisfies compexec.MetricsSink over the Prometheus
// registry, translating the scheduler's plain observations into
// labeled counters/gauges.
type metricsAdapter struct{ m *metrics.Metrics }

func (a metricsAdapter) RecordUpdate(component string) {
	a.m.ComponentUpdatesTotal.WithLabelValues(component).Inc()
}
func (a metricsAdapter) RecordOverrun(component string, amountSeconds float64) {
	a.m.ComponentOverrunsTotal.WithLabelValues(component).Inc()
	a.m.ComponentOverrunSeconds.WithLabelValues(component).Observe(amountSeconds)
}
func (a metricsAdapter) RecordException(component string) {
	a.m.ComponentExceptionsTotal.WithLabelValues(component).Inc()
}
func (a metricsAdapter) SetHealthy(component string, healthy bool) {
	v := 0.0
	if healthy {
		v = 1.0
	}
	a.m.ComponentHealthy.WithLabelValues(component).Set(v)
}

func (b *ExecutorBase) metricsSink() compexec.MetricsSink {
	if b.m == nil {
		return nil
	}
	return metricsAdapter{b.m}
}

// enterPipeline records the transition (for Prometheus and the logging
// manager) and moves the lifecycle machine to Running(name).
func (b *ExecutorBase) enterPipeline(name string) {
	from := b.machine.Pipeline()
	b.machine.EnterRunning(name)
	if b.logMgr != nil {
		b.logMgr.PipelineStartEvent(name)
	}
	if b.m != nil {
		b.m.PipelineSwitchesTotal.WithLabelValues(from, name).Inc()
		for _, p := range b.pipelines {
			v := 0.0
			if p.Name == name {
				v = 1.0
			}
			b.m.CurrentPipeline.WithLabelValues(p.Name).Set(v)
		}
	}
}

// setLifecycleState updates the lifecycle gauge to reflect s.
func (b *ExecutorBase) setLifecycleState(s execstate.State) {
	if b.m == nil {
		return
	}
	for _, name := range []string{"PRE_START", "SENSOR_VALIDATION", "RUNNING", "TERMINATED"} {
		v := 0.0
		if name == s.String() {
			v = 1.0
		}
		b.m.LifecycleState.WithLabelValues(name).Set(v)
	}
}

func seedProvided() map[string]bool {
	return map[string]bool{"t": true, "mission": true}
}

func logWarnings(log *zap.Logger, warnings []string) {
	for _, w := range warnings {
		log.Warn(w)
	}
}

// CheckForHardwareFaults reads the vehicle's current fault set, emits
// an event for each fault not present last tick, and logs a concise
// per-tick summary. "disengaged" is suppressed unless requireEngaged.
func (b *ExecutorBase) CheckForHardwareFaults() {
	current := b.vehicle.HardwareFaults()
	var newFaults []string
	for name, present := range current {
		if !present {
			continue
		}
		if name == "disengaged" && !b.requireEngaged {
			continue
		}
		if !b.prevFaults[name] {
			newFaults = append(newFaults, name)
			b.Event(fmt.Sprintf("hardware fault: %s", name))
			if b.m != nil {
				b.m.HardwareFaultsTotal.WithLabelValues(name).Inc()
			}
		}
	}
	if len(current) > 0 {
		b.log.Info("hardware faults", zap.Any("faults", current), zap.Strings("new", newFaults))
	}
	b.prevFaults = current
}

// phaseResult is what runPhase and runForcedPhase report after executing
// a phase.
type phaseResult struct {
	switchTo string
	switched bool
}

func (b *ExecutorBase) runPhase(ctx context.Context, oe *OrderedExecutors, t float64, s *state.AllState, currentPipeline string) phaseResult {
	for _, ex := range oe.InOrder() {
		if _, err := ex.Update(ctx, t, s); err != nil {
			b.log.Warn("component update error", zap.String("component", ex.Name), zap.Error(err))
		}
	}
	for _, ex := range oe.InOrder() {
		if ex.Healthy() {
			continue
		}
		if ex.Essential && currentPipeline != RecoveryPipelineName {
			b.log.Warn("essential component unhealthy, switching to recovery", zap.String("component", ex.Name))
			return phaseResult{switchTo: RecoveryPipelineName, switched: true}
		}
		b.log.Warn("non-essential component unhealthy, ignoring", zap.String("component", ex.Name))
	}
	return phaseResult{}
}

func (b *ExecutorBase) runForcedPhase(ctx context.Context, oe *OrderedExecutors, t float64, s *state.AllState, currentPipeline string) phaseResult {
	for _, ex := range oe.InOrder() {
		if err := ex.UpdateNow(ctx, t, s); err != nil {
			b.log.Warn("always-run component update error", zap.String("component", ex.Name), zap.Error(err))
		}
	}
	for _, ex := range oe.InOrder() {
		if ex.Healthy() {
			continue
		}
		if ex.Essential && currentPipeline != RecoveryPipelineName {
			b.log.Warn("essential always-run component unhealthy, switching to recovery", zap.String("component", ex.Name))
			return phaseResult{switchTo: RecoveryPipelineName, switched: true}
		}
		b.log.Warn("non-essential always-run component unhealthy, ignoring", zap.String("component", ex.Name))
	}
	return phaseResult{}
}

// RunUntilSwitch ticks the current pipeline until it requests a switch
// (different pipeline name), the hooks report termination (Done), or
// an interrupt is observed. It returns ("", nil) on normal termination,
// (name, nil) on a requested switch, or ("", ErrInterrupted).
func (b *ExecutorBase) RunUntilSwitch(ctx context.Context, hooks Hooks, s *state.AllState) (string, error) {
	p := b.pipelines[b.machine.Pipeline()]
	looper := clock.New(minDt(p.Perception, p.Planning, p.Other, b.alwaysRun), "mission-tick")

	for {
		if b.interrupted.Load() {
			b.interrupted.Store(false)
			return "", ErrInterrupted
		}
		select {
		case <-ctx.Done():
			return "", ErrInterrupted
		default:
		}

		b.lastProgressUnixNano.Store(time.Now().UnixNano())

		t := b.vehicle.Time()
		s.T = t
		if b.logMgr != nil {
			b.logMgr.SetVehicleTime(t)
		}

		if p.Name == RecoveryPipelineName {
			s.Mission.Type = state.MissionRecoveryStop
		}

		if b.logMgr != nil {
			if err := b.logMgr.RosbagPlayer().UpdateTopics(t); err != nil {
				b.log.Warn("rosbag player update failed", zap.Error(err))
			}
		}

		b.CheckForHardwareFaults()

		if r := b.runPhase(ctx, p.Perception, t, s, p.Name); r.switched {
			return r.switchTo, nil
		}

		if switchTo, ok := hooks.Update(ctx, s); ok && switchTo != p.Name {
			return switchTo, nil
		}

		if pending := b.consumePendingSwitch(); pending != "" && pending != p.Name {
			b.Event(fmt.Sprintf("operator requested switch to %s", pending))
			return pending, nil
		}

		if r := b.runPhase(ctx, p.Planning, t, s, p.Name); r.switched {
			return r.switchTo, nil
		}
		if r := b.runPhase(ctx, p.Other, t, s, p.Name); r.switched {
			return r.switchTo, nil
		}
		if r := b.runForcedPhase(ctx, b.alwaysRun, t, s, p.Name); r.switched {
			return r.switchTo, nil
		}

		if hooks.Done(ctx, s) {
			return "", nil
		}

		looper.Sleep()
	}
}

// ValidateSensors runs the current pipeline's perception phase (plus
// always-run) in a tight loop until every perception executor is
// healthy, bounded by numSteps when non-nil. Prints a "waiting for
// sensors" notice once per second while blocked.
func (b *ExecutorBase) ValidateSensors(ctx context.Context, s *state.AllState, pipelineName string, numSteps *int) error {
	p, ok := b.pipelines[pipelineName]
	if !ok {
		return &SensorValidationFailure{Pipeline: pipelineName, Pending: []string{"pipeline not configured"}}
	}
	looper := clock.New(minDt(p.Perception, b.alwaysRun), "sensor-validation")
	lastNotice := 0.0
	steps := 0

	for {
		select {
		case <-ctx.Done():
			return &SensorValidationFailure{Pipeline: p.Name, Pending: unhealthyNames(p.Perception)}
		default:
		}

		t := b.vehicle.Time()
		s.T = t
		for _, ex := range p.Perception.InOrder() {
			_ = ex.UpdateNow(ctx, t, s)
		}
		for _, ex := range b.alwaysRun.InOrder() {
			_ = ex.UpdateNow(ctx, t, s)
		}

		if allHealthy(p.Perception) {
			return nil
		}

		steps++
		if numSteps != nil && steps >= *numSteps {
			return &SensorValidationFailure{Pipeline: p.Name, Pending: unhealthyNames(p.Perception)}
		}
		if t-lastNotice >= 1.0 {
			execlog.Print("waiting for sensors", zap.Strings("pending", unhealthyNames(p.Perception)))
			lastNotice = t
		}
		looper.Sleep()
	}
}

// fallbackTickDt is the looper period used when no participating
// executor declares a rate at all (every Dt()==0), so the mission loop
// still has a bound instead of spinning unthrottled.
const fallbackTickDt = 0.02

// minDt returns the smallest nonzero scheduling period across every
// executor in the given groups, mirroring the original's
// `min(c.dt for c in components if c.dt != 0.0)`. Falls back to
// fallbackTickDt when nothing in the set declares a rate.
func minDt(groups ...*OrderedExecutors) float64 {
	min := 0.0
	for _, oe := range groups {
		if oe == nil {
			continue
		}
		for _, ex := range oe.InOrder() {
			dt := ex.Dt()
			if dt <= 0 {
				continue
			}
			if min == 0 || dt < min {
				min = dt
			}
		}
	}
	if min == 0 {
		return fallbackTickDt
	}
	return min
}

func allHealthy(oe *OrderedExecutors) bool {
	for _, ex := range oe.InOrder() {
		if !ex.Healthy() {
			return false
		}
	}
	return true
}

func unhealthyNames(oe *OrderedExecutors) []string {
	var out []string
	for _, ex := range oe.InOrder() {
		if !ex.Healthy() {
			out = append(out, ex.Name)
		}
	}
	return out
}

// Run is the full outer loop: pre-start assembly checks, sensor
// validation, the switch/recovery loop, and guaranteed cleanup.
func (b *ExecutorBase) Run(ctx context.Context, hooks Hooks, s *state.AllState) error {
	if _, ok := b.pipelines[RecoveryPipelineName]; !ok {
		return fmt.Errorf("executor: no %q pipeline configured", RecoveryPipelineName)
	}
	if b.initialPipeline == "" {
		b.initialPipeline = "drive"
	}
	if _, ok := b.pipelines[b.initialPipeline]; !ok {
		return fmt.Errorf("executor: initial pipeline %q not configured", b.initialPipeline)
	}

	if b.logMgr != nil {
		execlog.SetManager(b.logMgr)
		defer execlog.ClearManager()
		b.bus.Register(b.logMgr)
	}

	for _, ex := range b.executors {
		if err := ex.Start(ctx); err != nil {
			b.exitReason = fmt.Sprintf("component %q failed to start: %v", ex.Name, err)
			b.stopAll(ctx)
			return fmt.Errorf("executor: %s", b.exitReason)
		}
		b.started = append(b.started, ex)
	}

	*s = state.Zero()
	s.Mission.Type = state.MissionIdle

	b.machine.EnterSensorValidation()
	b.setLifecycleState(execstate.SensorValidation)
	sensorStart := clock.Now()
	err := b.ValidateSensors(ctx, s, b.initialPipeline, nil)
	if b.m != nil {
		b.m.SensorValidationSeconds.Observe(clock.Now() - sensorStart)
	}
	if err != nil {
		b.exitReason = "Sensor validation failed"
		b.Event(b.exitReason)
		b.stopAll(ctx)
		if b.logMgr != nil {
			b.logMgr.ExitEvent(b.exitReason)
			_ = b.logMgr.Close()
		}
		return err
	}

	b.enterPipeline(b.initialPipeline)
	b.setLifecycleState(execstate.Running)
	if err := hooks.Begin(ctx, s); err != nil {
		b.exitReason = fmt.Sprintf("begin failed: %v", err)
		b.stopAll(ctx)
		return err
	}

loop:
	for {
		next, err := b.RunUntilSwitch(ctx, hooks, s)
		switch {
		case err == ErrInterrupted:
			if b.machine.Pipeline() != RecoveryPipelineName {
				elapsed := time.Since(time.Unix(0, b.lastProgressUnixNano.Load()))
				if elapsed > 500*time.Millisecond {
					execlog.Print("component may have hung", zap.Duration("since_last_progress", elapsed))
				}
				b.Event("interrupt received, switching to recovery")
				b.enterPipeline(RecoveryPipelineName)
				continue loop
			}
			b.exitReason = "Ctrl+C interrupt during recovery"
			break loop
		case err != nil:
			b.log.Error("run_until_switch error", zap.Error(err))
			continue loop
		case next == "":
			b.exitReason = "normal exit"
			break loop
		}

		if _, ok := b.pipelines[next]; !ok {
			b.log.Warn("unknown pipeline requested, switching to recovery", zap.String("requested", next))
			next = RecoveryPipelineName
		}
		if next == RecoveryPipelineName && b.machine.Pipeline() == RecoveryPipelineName {
			b.exitReason = "recovery pipeline not working"
			break loop
		}

		b.enterPipeline(next)
		if next == RecoveryPipelineName {
			s.Mission.Type = state.MissionRecoveryStop
		}

		one := 1
		if err := b.ValidateSensors(ctx, s, next, &one); err != nil {
			b.Event(fmt.Sprintf("sensor re-validation failed after switch to %s", next))
			if next == RecoveryPipelineName {
				b.exitReason = "recovery pipeline not working"
				break loop
			}
			b.enterPipeline(RecoveryPipelineName)
			s.Mission.Type = state.MissionRecoveryStop
		}
	}

	b.machine.Terminate()
	b.setLifecycleState(execstate.Terminated)
	if err := hooks.End(ctx, s); err != nil {
		b.log.Warn("end hook failed", zap.Error(err))
	}

	b.stopAll(ctx)

	if b.logMgr != nil {
		b.logMgr.ExitEvent(b.exitReason)
		if err := b.logMgr.Close(); err != nil {
			b.log.Warn("logging manager close failed", zap.Error(err))
		}
	}
	return nil
}

// stopAll calls Cleanup for every component that was successfully
// started, regardless of how the loop exited.
func (b *ExecutorBase) stopAll(ctx context.Context) {
	for _, ex := range b.started {
		if err := ex.Stop(ctx); err != nil {
			b.log.Warn("component cleanup failed", zap.String("component", ex.Name), zap.Error(err))
		}
	}
}
