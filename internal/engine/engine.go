// Package engine wires the five leaf components (logger, OS helpers,
// reaper, normalizer, loop) together behind the policy.CoreServices
// interface. It is the only place process-wide state is assembled; the
// reset flag itself stays a bare *atomic.Bool for signal-handler safety.
package engine

import (
	"fmt"
	"os"

	"github.com/davideuler/lsyncd/internal/corelog"
	"github.com/davideuler/lsyncd/internal/event"
	"github.com/davideuler/lsyncd/internal/inotify"
	"github.com/davideuler/lsyncd/internal/loop"
	"github.com/davideuler/lsyncd/internal/metrics"
	"github.com/davideuler/lsyncd/internal/osutil"
	"github.com/davideuler/lsyncd/internal/policy"
	"github.com/davideuler/lsyncd/internal/reaper"
	"sync/atomic"
)

// Engine implements policy.CoreServices and owns the inotify source, the
// logger, and the process-wide reset flag.
type Engine struct {
	source  *inotify.Source
	log     *corelog.Logger
	reset   *atomic.Bool
	metrics *metrics.Registry // nil unless SetMetrics was called
}

// New opens the inotify instance and builds an Engine around it. Failure to
// initialize inotify is fatal at the call site, matching lsyncd.c's
// treatment of inotify_init1 failure.
func New(log *corelog.Logger) (*Engine, error) {
	src, err := inotify.NewSource()
	if err != nil {
		return nil, fmt.Errorf("engine: cannot initialize inotify: %w", err)
	}
	return &Engine{source: src, log: log, reset: &atomic.Bool{}}, nil
}

// SetMetrics attaches a metrics registry; every subsequently dispatched
// event increments its per-kind counter. Optional: an Engine with no
// registry attached simply skips the observation.
func (e *Engine) SetMetrics(r *metrics.Registry) { e.metrics = r }

// ResetFlag returns the engine's reset flag, for a signal handler to store
// into directly.
func (e *Engine) ResetFlag() *atomic.Bool { return e.reset }

// AddWatch implements policy.CoreServices.
func (e *Engine) AddWatch(path string) (int32, error) {
	return osutil.AddWatch(e.source.Fd(), path)
}

// Log implements policy.CoreServices.
func (e *Engine) Log(level corelog.Level, msg string) { e.log.Log(level, msg) }

// Logf implements policy.CoreServices.
func (e *Engine) Logf(level corelog.Level, format string, args ...interface{}) {
	e.log.Logf(level, format, args...)
}

// Now implements policy.CoreServices.
func (e *Engine) Now() osutil.Ticks { return osutil.Now() }

// Addup implements policy.CoreServices.
func (e *Engine) Addup(a, b osutil.Ticks) osutil.Ticks { return osutil.Addup(a, b) }

// Exec implements policy.CoreServices.
func (e *Engine) Exec(binary string, args ...string) int {
	pid := osutil.Exec(e.log, binary, args...)
	if pid != 0 && e.metrics != nil {
		e.metrics.SyncBatchSpawned()
	}
	return pid
}

// RealDir implements policy.CoreServices.
func (e *Engine) RealDir(path string) (string, bool) { return osutil.RealDir(e.log, path) }

// SubDirs implements policy.CoreServices.
func (e *Engine) SubDirs(absPath string) ([]string, error) {
	return osutil.SubDirs(e.reset, absPath)
}

// Terminate implements policy.CoreServices: sets the reset flag and exits
// the process with the given code once the master loop observes it. A
// nonzero code exits immediately, matching lsyncd.c's terminate() which
// never returns to the caller.
func (e *Engine) Terminate(exitCode int) {
	e.reset.Store(true)
	if exitCode != 0 {
		os.Exit(exitCode)
	}
}

// WaitPids implements policy.CoreServices. Every reap is counted against
// the metrics registry, if one is attached, before the caller's own
// collector runs.
func (e *Engine) WaitPids(pids []int, collect reaper.Collector) {
	reaper.WaitPids(pids, func(pid, exitCode int) int {
		if e.metrics != nil {
			e.metrics.ChildReaped()
		}
		if collect != nil {
			return collect(pid, exitCode)
		}
		return 0
	})
}

// Run checks the policy's version, initializes it, and runs the master
// loop until the reset flag is set. A version mismatch is fatal at
// startup, matching lsyncd.c's own runner/core version check.
func (e *Engine) Run(p policy.Policy, coreVersion string) error {
	if p.Version() != coreVersion {
		return fmt.Errorf("engine: policy version %q does not match core version %q", p.Version(), coreVersion)
	}
	if err := p.Initialize(e); err != nil {
		return fmt.Errorf("engine: policy initialization failed: %w", err)
	}

	l := &loop.Loop{
		Source:   e.source,
		Policy:   p,
		Reset:    e.reset,
		Log:      e.log,
		Dispatch: e.dispatch(p),
		Overflow: e.overflow(p),
	}
	return l.Run()
}

// dispatch wraps Policy.Event with panic recovery: a policy bug must not
// take the whole daemon down, unlike the C original where a Lua runtime
// error is already caught by lua_pcall.
func (e *Engine) dispatch(p policy.Policy) func(event.Event) {
	return func(ev event.Event) {
		if e.metrics != nil {
			e.metrics.ObserveEvent(ev)
			e.metrics.SetPendingMoveBuffered(e.source.Pending())
		}
		defer func() {
			if r := recover(); r != nil {
				e.log.Logf(corelog.Error|corelog.CoreFlag, "policy panicked handling event %v: %v", ev, r)
			}
		}()
		if err := p.Event(ev); err != nil {
			e.log.Logf(corelog.Error|corelog.CoreFlag, "policy error handling event %v: %v", ev, err)
		}
	}
}

func (e *Engine) overflow(p policy.Policy) func() {
	return func() {
		defer func() {
			if r := recover(); r != nil {
				e.log.Logf(corelog.Error|corelog.CoreFlag, "policy panicked handling overflow: %v", r)
			}
		}()
		if err := p.Overflow(); err != nil {
			e.log.Logf(corelog.Error|corelog.CoreFlag, "policy error handling overflow: %v", err)
		}
	}
}

// Close releases the underlying inotify instance.
func (e *Engine) Close() error { return e.source.Close() }
