package osutil

import (
	"os"

	"golang.org/x/sys/unix"
)

// StandardEventMask is the fixed inotify mask every watch is registered
// with. lsyncd.c:86-89 hard-codes this as a "TODO allow configure"; this
// rewrite keeps it fixed too: the mask is not configurable.
const StandardEventMask = unix.IN_ATTRIB | unix.IN_CLOSE_WRITE | unix.IN_CREATE |
	unix.IN_DELETE | unix.IN_DELETE_SELF | unix.IN_MOVED_FROM |
	unix.IN_MOVED_TO | unix.IN_DONT_FOLLOW | unix.IN_ONLYDIR

// AddWatch registers path for change notification on the given inotify
// instance, using the fixed standard mask. Grounded on lsyncd.c's
// l_add_watch (lsyncd.c:295-302).
func AddWatch(fd int, path string) (int32, error) {
	wd, err := unix.InotifyAddWatch(fd, path, uint32(StandardEventMask))
	if err != nil {
		return 0, os.NewSyscallError("InotifyAddWatch", err)
	}
	return int32(wd), nil
}
