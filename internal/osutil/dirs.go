package osutil

import (
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/davideuler/lsyncd/internal/corelog"
)

// SubDirs enumerates absPath, returning the basenames of entries that are
// directories, excluding "." and "..". Grounded on lsyncd.c's l_sub_dirs
// (lsyncd.c:470-516): a DT_UNKNOWN fallback to Lstat, and honoring the
// reset flag mid-scan by returning the partial sequence accumulated so far
// rather than erroring or panicking.
func SubDirs(reset *atomic.Bool, absPath string) ([]string, error) {
	entries, err := os.ReadDir(absPath)
	if err != nil {
		return nil, err
	}

	subdirs := make([]string, 0, len(entries))
	for _, e := range entries {
		if reset != nil && reset.Load() {
			return subdirs, nil
		}
		name := e.Name()
		if name == "." || name == ".." {
			continue
		}
		// DirEntry.Type() is populated from the raw d_type the kernel
		// returned; Go's os.ReadDir already performs the DT_UNKNOWN->Lstat
		// fallback lsyncd.c:491-500 has to do by hand, and, like that
		// fallback, Lstat never follows a symlink into treating it as the
		// directory it points at (matching the watch mask's
		// don't-follow-symlinks).
		if !e.IsDir() {
			continue
		}
		subdirs = append(subdirs, name)
	}
	return subdirs, nil
}

// RealDir canonicalizes path, verifies it is a directory, and appends a
// trailing path separator. Any failure is logged and yields an explicit
// absent result rather than an error the caller must remember to check.
// Grounded on lsyncd.c's l_real_dir (lsyncd.c:402-433), which returns zero
// Lua values on failure instead of raising.
func RealDir(log *corelog.Logger, path string) (string, bool) {
	abs, err := filepath.Abs(path)
	if err != nil {
		log.Logf(corelog.Error|corelog.CoreFlag, "failure getting absolute path of [%s]", path)
		return "", false
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		log.Logf(corelog.Error|corelog.CoreFlag, "failure getting absolute path of [%s]", path)
		return "", false
	}
	fi, err := os.Stat(resolved)
	if err != nil || !fi.IsDir() {
		log.Logf(corelog.Error|corelog.CoreFlag, "failure in real_dir [%s] is not a directory", path)
		return "", false
	}
	return resolved + string(os.PathSeparator), true
}
