package clock

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// schedFIFOPriority is a conservative fixed priority for the mission
// loop goroutine; it does not need to contend with kernel threads.
const schedFIFOPriority = 10

// schedParam mirrors struct sched_param from sched.h: a single int32
// priority field. x/sys/unix has no portable high-level wrapper for
// sched_setscheduler, so the syscall is issued directly.
type schedParam struct {
	Priority int32
}

// RequestRealtimePriority attempts to switch the calling OS thread to
// SCHED_FIFO. This only affects the current thread, so callers running
// the mission loop must have locked it with runtime.LockOSThread first.
// Best-effort: failure (usually missing CAP_SYS_NICE) is returned to the
// caller to log, never treated as fatal.
func RequestRealtimePriority() error {
	param := schedParam{Priority: schedFIFOPriority}
	_, _, errno := unix.Syscall(unix.SYS_SCHED_SETSCHEDULER, 0, uintptr(unix.SCHED_FIFO), uintptr(unsafe.Pointer(&param)))
	if errno != 0 {
		return errno
	}
	return nil
}
