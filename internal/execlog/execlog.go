// Package execlog provides the top-level diagnostic print/log helpers
// used by code that does not carry an ExecutorBase reference. It routes
// through a process-wide, set-once logging manager handle — required
// because low-level diagnostics must reach the log even from contexts
// that never see the executor. The handle is installed by
// ExecutorBase.Run at startup and cleared at shutdown.
package execlog

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/gemstack/missioncore/internal/logging"
)

var (
	mu  sync.RWMutex
	mgr logging.Manager
	log *zap.Logger = zap.NewNop()
)

// SetLogger installs the structured logger used for local output.
func SetLogger(l *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()
	log = l
}

// SetManager installs the process-wide logging manager handle. Call
// once at the top of ExecutorBase.Run.
func SetManager(m logging.Manager) {
	mu.Lock()
	defer mu.Unlock()
	mgr = m
}

// ClearManager releases the handle. Call at shutdown, after the
// manager itself has been closed, so nothing can use it post-close.
func ClearManager() {
	mu.Lock()
	defer mu.Unlock()
	mgr = nil
}

func current() (*zap.Logger, logging.Manager) {
	mu.RLock()
	defer mu.RUnlock()
	return log, mgr
}

// Print records an informational diagnostic both locally and, if a
// manager is installed, as a logged event.
func Print(msg string, fields ...zap.Field) {
	l, m := current()
	l.Info(msg, fields...)
	if m != nil {
		m.Event(msg)
	}
}

// Stderr records a warning-level diagnostic — the equivalent of the
// original executor's stderr print helper.
func Stderr(msg string, fields ...zap.Field) {
	l, m := current()
	l.Warn(msg, fields...)
	if m != nil {
		m.Event("stderr: " + msg)
	}
}

// Exception records an error caught outside normal component execution
// (e.g. during pipeline assembly), tagged with the calling context.
func Exception(context string, err error) {
	l, m := current()
	l.Error("exception", zap.String("context", context), zap.Error(err))
	if m != nil {
		m.Event(fmt.Sprintf("exception in %s: %v", context, err))
	}
}
