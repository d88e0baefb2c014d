// Package reaper blocks until every non-zero pid in a caller-supplied set
// has either been reaped or been replaced by 0 via a collector callback.
// Grounded line-for-line on lsyncd.c's l_wait_pids (lsyncd.c:540-628).
package reaper

import "golang.org/x/sys/unix"

// Collector is invoked once per reaped pid in the caller's set, with the
// exit code. It returns 0 if the child's slot is done, or a new pid if the
// slot should be replaced (a retry/follow-up spawn); the slot then keeps
// counting toward the pids still outstanding.
type Collector func(pid, exitCode int) (replacement int)

// WaitPids blocks until every non-zero entry of pids has been zeroed,
// mutating pids in place exactly as the collector directs.
//
// unix.Wait4(-1, ...) reaps any child of this process, the Go equivalent
// of waitpid(0, &status, 0) for a process with no job-control groups of its
// own. Reaps that did not exit normally (signal-killed, stopped) are
// dropped without decrementing the remaining count, exactly as lsyncd.c
// does; the original author flags this as arguably a bug, and it is
// preserved here unchanged: a signal-killed child in the caller's set will
// make WaitPids block forever unless the caller handles that pid
// out-of-band.
func WaitPids(pids []int, collect Collector) {
	remaining := 0
	for _, p := range pids {
		if p != 0 {
			remaining++
		}
	}

	for remaining > 0 {
		var ws unix.WaitStatus
		wp, err := unix.Wait4(-1, &ws, 0, nil)
		if err != nil || wp <= 0 || !ws.Exited() {
			continue
		}

		found := false
		for _, p := range pids {
			if p == wp {
				found = true
				break
			}
		}
		if !found {
			// A stranger pid, reaped but not one we were waiting for.
			continue
		}

		newp := 0
		if collect != nil {
			newp = collect(wp, ws.ExitStatus())
		}

		// Replace every matching slot, not just the first: duplicate pids
		// are allowed by contract (lsyncd.c:622 "does not break, in case
		// there are duplicate pids").
		for i, p := range pids {
			if p == wp {
				pids[i] = newp
				if newp == 0 {
					remaining--
				}
			}
		}
	}
}
