// Package compexec implements ComponentExecutor: the rate-limited
// scheduling, I/O capture, exception trapping, and blackboard
// read/write wrapper around one user-supplied Component.
package compexec

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/gemstack/missioncore/internal/component"
	"github.com/gemstack/missioncore/internal/debug"
	"github.com/gemstack/missioncore/internal/logging"
	"github.com/gemstack/missioncore/internal/state"
)

// MetricsSink receives scheduling and health observations. Satisfied by
// a thin adapter over the Prometheus metrics registry; nil-safe so
// Executor works without one wired in (e.g. in tests).
type MetricsSink interface {
	RecordUpdate(component string)
	RecordOverrun(component string, amountSeconds float64)
	RecordException(component string)
	SetHealthy(component string, healthy bool)
}

// OutputArityError records a mismatch between a component's returned
// result length and its declared output count. Logged, not fatal: the
// blackboard is left unchanged and the loop continues.
type OutputArityError struct {
	Component string
	Declared  int
	Got       int
}

func (e *OutputArityError) Error() string {
	return fmt.Sprintf("compexec: component %q returned %d outputs, declared %d", e.Component, e.Got, e.Declared)
}

// Executor owns one Component and its scheduling/health bookkeeping.
type Executor struct {
	Name      string
	Essential bool

	comp component.Component

	doDebug      bool
	printStdout  bool
	printStderr  bool
	inputs       []string
	outputs      []string
	dt           float64
	nextSet      bool
	nextUpdateAt float64

	lastUpdateTime float64
	hadException   bool
	numOverruns    uint64
	overrunAmount  float64

	logMgr  logging.Manager
	log     *zap.Logger
	dbg     *debug.ChildDebugger
	metrics MetricsSink

	started bool
}

// Config bundles the construction-time parameters an Executor needs
// beyond the Component itself, mirroring the per-component descriptor
// keys from the configuration schema.
type Config struct {
	Essential   bool
	Print       bool
	Debug       bool
	Inputs      []string
	Outputs     []string
	DescribedHz float64 // descriptor "rate" key; 0 means unset
	Metrics     MetricsSink
}

// New constructs an Executor. The descriptor's rate, when set, takes
// precedence over the Component's own Rate(); this resolves the open
// question left by the source material in favor of operator control.
func New(name string, comp component.Component, cfg Config, logMgr logging.Manager, bus *debug.Debugger, log *zap.Logger) *Executor {
	inputs := cfg.Inputs
	if inputs == nil {
		inputs = comp.StateInputs()
	}
	outputs := cfg.Outputs
	if outputs == nil {
		outputs = comp.StateOutputs()
	}

	dt := 0.0
	if cfg.DescribedHz > 0 {
		dt = 1.0 / cfg.DescribedHz
	} else if hz, ok := comp.Rate(); ok && hz > 0 {
		dt = 1.0 / hz
	}

	e := &Executor{
		Name:        name,
		Essential:   cfg.Essential,
		comp:        comp,
		doDebug:     cfg.Debug,
		printStdout: cfg.Print,
		printStderr: cfg.Print,
		inputs:      inputs,
		outputs:     outputs,
		dt:          dt,
		logMgr:      logMgr,
		log:         log,
		metrics:     cfg.Metrics,
	}
	if cfg.Debug && bus != nil {
		e.dbg = bus.Child(name)
		comp.SetDebugger(e.dbg)
	}
	return e
}

// Inputs returns the declared input field names (possibly ["all"]).
func (e *Executor) Inputs() []string { return e.inputs }

// Outputs returns the declared output field names (possibly ["all"]).
func (e *Executor) Outputs() []string { return e.outputs }

// Component returns the wrapped Component, e.g. for StateOutputs()
// during graph validation.
func (e *Executor) Component() component.Component { return e.comp }

// Dt returns the executor's scheduling period in seconds. 0 means
// unrated: the component runs on every tick.
func (e *Executor) Dt() float64 { return e.dt }

// Start calls Initialize exactly once.
func (e *Executor) Start(ctx context.Context) error {
	if e.started {
		return nil
	}
	e.started = true
	return e.comp.Initialize(ctx)
}

// Stop calls Cleanup. Safe to call even if Start was never successfully
// completed elsewhere — the invariant that cleanup runs for every
// started component is enforced by the caller (ExecutorBase), which
// only calls Stop for executors it actually Started.
func (e *Executor) Stop(ctx context.Context) error {
	return e.comp.Cleanup(ctx)
}

// Healthy reports whether the component considers itself healthy AND
// no exception has latched this executor.
func (e *Executor) Healthy() bool {
	return e.comp.Healthy() && !e.hadException
}

// HadException reports the sticky exception flag.
func (e *Executor) HadException() bool { return e.hadException }

// NumOverruns returns the lifetime overrun count.
func (e *Executor) NumOverruns() uint64 { return e.numOverruns }

// OverrunAmount returns the cumulative overrun time in seconds.
func (e *Executor) OverrunAmount() float64 { return e.overrunAmount }

// Update runs the component if it is due at time t. Returns false
// without side effects if not due yet.
func (e *Executor) Update(ctx context.Context, t float64, s *state.AllState) (bool, error) {
	if e.nextSet && t < e.nextUpdateAt {
		return false, nil
	}

	callStart := time.Now()
	err := e.updateNow(ctx, t, s)
	callElapsed := time.Since(callStart).Seconds()

	e.lastUpdateTime = t
	if !e.nextSet {
		e.nextUpdateAt = t + e.dt
		e.nextSet = true
	} else {
		e.nextUpdateAt += e.dt
	}
	if e.dt > 0 && e.nextUpdateAt < t {
		behind := t - e.nextUpdateAt
		e.numOverruns++
		e.overrunAmount += behind
		reason := "scheduler pushed back"
		if callElapsed > e.dt {
			reason = "component running slow"
		}
		e.log.Warn("component overran its schedule",
			zap.String("component", e.Name),
			zap.String("reason", reason),
			zap.Float64("call_seconds", callElapsed),
			zap.Float64("behind_seconds", behind),
			zap.Uint64("total_overruns", e.numOverruns))
		e.nextUpdateAt = t + e.dt
		if e.metrics != nil {
			e.metrics.RecordOverrun(e.Name, behind)
		}
	}
	if e.metrics != nil {
		e.metrics.SetHealthy(e.Name, e.Healthy())
	}
	return true, err
}

// UpdateNow runs the component immediately, ignoring scheduling.
// Exposed for always-run components and forced sensor-validation
// probes.
func (e *Executor) UpdateNow(ctx context.Context, t float64, s *state.AllState) error {
	return e.updateNow(ctx, t, s)
}

func (e *Executor) updateNow(ctx context.Context, t float64, s *state.AllState) error {
	if e.metrics != nil {
		e.metrics.RecordUpdate(e.Name)
	}

	args, err := e.buildArgs(s)
	if err != nil {
		return err
	}

	results, callErr, outLines, errLines, panicked, panicVal := captureIO(func() ([]any, error) {
		return e.comp.Update(ctx, args)
	})

	if len(outLines) > 0 {
		if e.printStdout {
			for _, l := range outLines {
				fmt.Fprintf(os.Stdout, "[%s] %s\n", e.Name, l)
			}
		}
		if e.logMgr != nil {
			e.logMgr.LogComponentStdout(e.Name, outLines)
		}
	}
	if len(errLines) > 0 {
		if e.printStderr {
			for _, l := range errLines {
				fmt.Fprintf(os.Stderr, "[%s] %s\n", e.Name, l)
			}
		}
		if e.logMgr != nil {
			e.logMgr.LogComponentStderr(e.Name, errLines)
		}
	}

	if panicked {
		e.hadException = true
		e.log.Error("component panicked during update",
			zap.String("component", e.Name), zap.Any("panic", panicVal))
		if e.logMgr != nil {
			e.logMgr.LogComponentStderr(e.Name, []string{fmt.Sprintf("panic: %v", panicVal)})
		}
		if e.metrics != nil {
			e.metrics.RecordException(e.Name)
		}
		return nil
	}
	if callErr != nil {
		e.hadException = true
		e.log.Error("component update returned an error",
			zap.String("component", e.Name), zap.Error(callErr))
		if e.logMgr != nil {
			e.logMgr.LogComponentStderr(e.Name, []string{callErr.Error()})
		}
		if e.metrics != nil {
			e.metrics.RecordException(e.Name)
		}
		return nil
	}

	if results == nil {
		if e.logMgr != nil {
			e.logMgr.LogComponentUpdate(e.Name, s, nil)
		}
		return nil
	}

	if err := e.writeOutputs(s, t, results); err != nil {
		e.log.Warn("component output arity mismatch",
			zap.String("component", e.Name), zap.Error(err))
		return err
	}

	if e.logMgr != nil {
		e.logMgr.LogComponentUpdate(e.Name, s, results)
	}
	return nil
}

func (e *Executor) buildArgs(s *state.AllState) ([]any, error) {
	if len(e.inputs) == 1 && e.inputs[0] == "all" {
		return []any{s}, nil
	}
	args := make([]any, len(e.inputs))
	for i, f := range e.inputs {
		acc, ok := state.Fields[f]
		if !ok {
			return nil, fmt.Errorf("compexec: component %q: unknown input field %q", e.Name, f)
		}
		args[i] = acc.Read(s)
	}
	return args, nil
}

func (e *Executor) writeOutputs(s *state.AllState, t float64, results []any) error {
	if len(e.outputs) == 1 && e.outputs[0] == "all" {
		return nil
	}
	if len(e.outputs) == 0 {
		return nil
	}
	if len(results) != len(e.outputs) {
		return &OutputArityError{Component: e.Name, Declared: len(e.outputs), Got: len(results)}
	}
	for i, f := range e.outputs {
		acc, ok := state.Fields[f]
		if !ok {
			e.log.Warn("component wrote a field outside the blackboard schema",
				zap.String("component", e.Name), zap.String("field", f))
			continue
		}
		if err := acc.Write(s, results[i]); err != nil {
			e.log.Warn("component output write failed",
				zap.String("component", e.Name), zap.String("field", f), zap.Error(err))
			continue
		}
		acc.TSWrite(s, t)
	}
	return nil
}

// captureIO redirects process-wide stdout/stderr for the duration of
// fn, returning the captured lines split on newline (a trailing empty
// line from a final "\n" is discarded). Safe only under the
// single-threaded cooperative scheduling model: no other goroutine may
// write to os.Stdout/os.Stderr while a component is updating.
func captureIO(fn func() ([]any, error)) (results []any, callErr error, outLines, errLines []string, panicked bool, panicVal any) {
	origOut, origErr := os.Stdout, os.Stderr
	outR, outW, errOut := os.Pipe()
	errR, errW, errErr := os.Pipe()
	if errOut != nil || errErr != nil {
		res, err := fn()
		return res, err, nil, nil, false, nil
	}
	os.Stdout, os.Stderr = outW, errW

	outCh := make(chan []byte, 1)
	errCh := make(chan []byte, 1)
	go func() {
		var buf bytes.Buffer
		_, _ = io.Copy(&buf, outR)
		outCh <- buf.Bytes()
	}()
	go func() {
		var buf bytes.Buffer
		_, _ = io.Copy(&buf, errR)
		errCh <- buf.Bytes()
	}()

	func() {
		defer func() {
			if r := recover(); r != nil {
				panicked = true
				panicVal = r
			}
		}()
		results, callErr = fn()
	}()

	os.Stdout, os.Stderr = origOut, origErr
	_ = outW.Close()
	_ = errW.Close()
	outData := <-outCh
	errData := <-errCh
	_ = outR.Close()
	_ = errR.Close()

	outLines = splitLines(outData)
	errLines = splitLines(errData)
	return
}

func splitLines(data []byte) []string {
	if len(data) == 0 {
		return nil
	}
	s := strings.TrimSuffix(string(data), "\n")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}
