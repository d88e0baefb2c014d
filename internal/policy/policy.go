// Package policy is the embedding shim: the boundary between the native
// core and whatever decides what to synchronize and when. Where lsyncd.c
// exposes this boundary through a Lua VM, this rewrite expresses it as two
// Go interfaces: Policy (what the core calls into) and CoreServices (what
// the core exposes back).
package policy

import (
	"github.com/davideuler/lsyncd/internal/corelog"
	"github.com/davideuler/lsyncd/internal/event"
	"github.com/davideuler/lsyncd/internal/osutil"
	"github.com/davideuler/lsyncd/internal/reaper"
)

// AlarmState is the result of a GetAlarm query: negative means immediately
// due, zero means idle (block indefinitely), positive means wait until the
// given time.
type AlarmState int

const (
	ImmediatelyDue AlarmState = -1
	Idle           AlarmState = 0
	Waiting        AlarmState = 1
)

// Policy is implemented by whatever decides what to synchronize and when.
// Its methods correspond one-to-one with lsyncd.c's runner entry points:
// initialize(), get_alarm(now), event(...), overflow(), and the published
// version string.
type Policy interface {
	// Initialize is called once at startup, after the version check has
	// passed, with the CoreServices the policy will use for the lifetime
	// of the process.
	Initialize(svc CoreServices) error

	// GetAlarm is queried once per master-loop iteration. The returned
	// AlarmState/Ticks pair determines whether the loop dispatches
	// immediately, waits with a timeout, or blocks indefinitely.
	GetAlarm(now osutil.Ticks) (AlarmState, osutil.Ticks)

	// Event is called synchronously for every normalized event the core
	// dispatches; its return value, if any, is ignored by the core.
	Event(e event.Event) error

	// Overflow is called when the kernel's event queue overflowed; the
	// core takes no recovery action of its own.
	Overflow() error

	// Version must equal-string the core's compiled-in version; a
	// mismatch is fatal at startup.
	Version() string
}

// CoreServices is the set of core operations callable from the policy
// layer.
type CoreServices interface {
	AddWatch(path string) (int32, error)
	Log(level corelog.Level, msg string)
	Logf(level corelog.Level, format string, args ...interface{})
	Now() osutil.Ticks
	Addup(a, b osutil.Ticks) osutil.Ticks
	Exec(binary string, args ...string) int
	RealDir(path string) (string, bool)
	SubDirs(absPath string) ([]string, error)
	Terminate(exitCode int)
	WaitPids(pids []int, collect reaper.Collector)
}
