// Package loop implements the master loop: a single-threaded cooperative
// multiplexer of the inotify event source, a policy-driven timer, and
// (indirectly, through policy handlers) child-process reaping. Grounded on
// lsyncd.c:815-912's masterloop, with unix.Poll standing in for select():
// a single watched fd plus a computed timeout is exactly what Poll with
// one PollFd models.
package loop

import (
	"fmt"
	"sync/atomic"

	"github.com/davideuler/lsyncd/internal/corelog"
	"github.com/davideuler/lsyncd/internal/event"
	"github.com/davideuler/lsyncd/internal/osutil"
	"github.com/davideuler/lsyncd/internal/policy"
)

// Source is the subset of *inotify.Source the loop drives. Expressed as an
// interface so the loop can be tested without a real inotify fd.
type Source interface {
	Poll(timeoutMillis int) (bool, error)
	Drain(dispatch func(event.Event), overflow func(), debugf func(string, ...interface{})) (int, error)
	FlushPending(dispatch func(event.Event))
}

// Loop is the master loop. Reset is the process-wide reset flag; it lives
// outside this struct's own state because a signal handler must be able to
// set it without synchronizing through anything else.
type Loop struct {
	Source Source
	Policy policy.Policy
	Reset  *atomic.Bool
	Log    *corelog.Logger

	// Dispatch is called for every normalized event; callers typically
	// wrap Policy.Event with their own panic recovery (see DESIGN.md).
	Dispatch func(event.Event)
	Overflow func()
}

// Run executes the master loop until Reset is set. It returns nil on a
// clean reset and a non-nil error only for fatal conditions: a past-due
// alarm, or a Poll failure that is not EINTR.
func (l *Loop) Run() error {
	for !l.Reset.Load() {
		now := osutil.Now()
		state, alarmTime := l.Policy.GetAlarm(now)

		var shouldDrain bool
		switch state {
		case policy.ImmediatelyDue:
			// The due work was already handled as a side effect of GetAlarm;
			// nothing here requires reading the event source, so only drain
			// if it happens to be ready, mirroring do_read staying 0 in
			// lsyncd.c's masterloop when nothing is due to be read.
			ready, err := l.Source.Poll(0)
			if err != nil {
				return err
			}
			shouldDrain = ready
		case policy.Waiting:
			if !osutil.After(alarmTime, now) {
				l.Log.Log(corelog.Error|corelog.CoreFlag, "critical failure, alarm_time is in past!")
				return fmt.Errorf("loop: alarm time %d is not after now %d", alarmTime, now)
			}
			timeoutMillis := int((alarmTime - now) * 1000 / osutil.ClockTicksPerSecond)
			ready, err := l.Source.Poll(timeoutMillis)
			if err != nil {
				return err
			}
			shouldDrain = ready
		case policy.Idle:
			ready, err := l.Source.Poll(-1)
			if err != nil {
				return err
			}
			shouldDrain = ready
		}

		if shouldDrain {
			l.drainUntilDry()
		}
		// A spurious wakeup (Poll returned false with no error, i.e. a
		// signal interrupted the wait) falls through to here and simply
		// re-enters the loop, re-querying the alarm. This is what
		// guarantees signal delivery never starves a timer.
	}
	return nil
}

// drainUntilDry reads and dispatches everything currently available,
// bounded only by the reset flag, then flushes any still-occupied
// pending-move buffer.
func (l *Loop) drainUntilDry() {
	for !l.Reset.Load() {
		n, err := l.Source.Drain(l.Dispatch, l.Overflow, l.debugf)
		if err != nil {
			l.Log.Logf(corelog.Error|corelog.CoreFlag, "error reading inotify events: %v", err)
			break
		}
		if n == 0 {
			break
		}
		more, err := l.Source.Poll(0)
		if err != nil || !more {
			break
		}
	}
	l.Source.FlushPending(l.Dispatch)
}

func (l *Loop) debugf(format string, args ...interface{}) {
	if l.Log != nil {
		l.Log.Logf(corelog.Debug|corelog.CoreFlag, format, args...)
	}
}
