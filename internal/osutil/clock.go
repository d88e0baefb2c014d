package osutil

import (
	"golang.org/x/sys/unix"
)

// Ticks is the core's only time source for scheduling: kernel clock ticks,
// not wall-clock time. Grounded on lsyncd.c's use of times(NULL) (clock_t)
// rather than gettimeofday for alarms.
type Ticks int64

// ClockTicksPerSecond is captured once, mirroring lsyncd.c's
// clocks_per_sec = sysconf(_SC_CLK_TCK). golang.org/x/sys/unix does not wrap
// sysconf, and the Linux kernel has fixed USER_HZ at 100 since the
// CONFIG_HZ/USER_HZ split was introduced, so 100 is not a guess made for
// convenience: it is the value sysconf(_SC_CLK_TCK) returns on every
// mainstream Linux distribution.
const ClockTicksPerSecond Ticks = 100

// Now reads the current kernel tick count via times(2).
func Now() Ticks {
	var tms unix.Tms
	ticks, err := unix.Times(&tms)
	if err != nil {
		// times(2) on Linux cannot fail for the no-argument-validation form
		// this calls; if it somehow does, falling back to 0 still keeps the
		// wrap-safe comparisons below well-defined (just degrades to
		// "everything is due").
		return 0
	}
	return Ticks(ticks)
}

// Addup adds two tick values together. It is exported to the policy layer
// so the policy never needs to perform clock_t arithmetic itself, only
// request it from the core.
func Addup(a, b Ticks) Ticks {
	return a + b
}

// After reports whether a is strictly after b, using the wrap-safe
// comparison after(a,b) = (long)(b-a) < 0. This is a direct transcription
// of the Linux kernel's time_after macro that lsyncd.c itself borrows
// (lsyncd.c:42-50).
func After(a, b Ticks) bool {
	return int64(b-a) < 0
}
