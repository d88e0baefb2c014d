package osutil

import (
	"os"
	"os/exec"
	"syscall"

	"github.com/davideuler/lsyncd/internal/corelog"
)

// Exec forks and execs binary with argv[0] == binary followed by args,
// returning the child pid, or 0 on failure. Grounded on lsyncd.c's l_exec
// (lsyncd.c:358-393).
//
// syscall.ForkExec is used instead of os/exec.Cmd deliberately: the
// returned pid must be reapable by reaper.WaitPids's own unix.Wait4(-1,
// ...) call, and os/exec internally calls wait4 on pids it starts, which
// would race with that reap.
//
// syscall.ForkExec calls execve directly, which never consults $PATH the
// way a shell or os/exec.Command does. binary is resolved through
// exec.LookPath first so a bare command name (e.g. "rsync") still works;
// a binary that is already an absolute path, or contains a slash, passes
// through LookPath unchanged.
func Exec(log *corelog.Logger, binary string, args ...string) int {
	resolved, err := exec.LookPath(binary)
	if err != nil {
		log.Logf(corelog.Error|corelog.CoreFlag, "Failed executing [%s]: %v", binary, err)
		return 0
	}

	argv := make([]string, 0, len(args)+1)
	argv = append(argv, binary)
	argv = append(argv, args...)

	var attr syscall.ProcAttr
	attr.Files = []uintptr{uintptr(os.Stdin.Fd()), uintptr(os.Stdout.Fd()), uintptr(os.Stderr.Fd())}

	pid, err := syscall.ForkExec(resolved, argv, &attr)
	if err != nil {
		log.Logf(corelog.Error|corelog.CoreFlag, "Failed executing [%s]: %v", binary, err)
		return 0
	}
	return pid
}
