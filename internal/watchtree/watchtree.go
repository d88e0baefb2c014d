// Package watchtree keeps the live watch-descriptor to path bookkeeping a
// recursive mirror needs: one inotify watch per directory under a root,
// added as subdirectories are created and dropped as they are deleted; a
// directory renamed out of the tree keeps its entry. Grounded on the wd -> watched{path} map idiom in
// _examples/rjeczalik-notify/watcher_inotify.go's handlersType, and on the
// path-tree bookkeeping shape of watchpointtree.go, adapted from a
// generic pub/sub registry into the single-root recursive walk lsyncd.lua
// drives through core.add_watch/core.sub_dirs.
package watchtree

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/davideuler/lsyncd/internal/policy"
)

// Tree maps watch descriptors to the absolute directory path they cover,
// for one synchronized root.
type Tree struct {
	mu   sync.RWMutex
	byWd map[int32]string
	root string
}

// New creates an empty Tree for the given root path. The root is not
// itself watched until Sync is called.
func New(root string) *Tree {
	return &Tree{byWd: make(map[int32]string), root: root}
}

// Root returns the synchronized root path.
func (t *Tree) Root() string { return t.root }

// Path returns the directory a watch descriptor covers, if known.
func (t *Tree) Path(wd int32) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.byWd[wd]
	return p, ok
}

// Len reports how many directories are currently watched.
func (t *Tree) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.byWd)
}

// Sync walks root and every subdirectory beneath it, registering a watch
// for each via svc.AddWatch, recursing with svc.SubDirs exactly the way
// lsyncd.lua's startup walk does. It is meant to be called once at
// startup; calling it again re-registers watches rather than deduplicating
// against what is already in the tree.
func (t *Tree) Sync(svc policy.CoreServices) error {
	real, ok := svc.RealDir(t.root)
	if !ok {
		return fmt.Errorf("watchtree: %s is not a directory", t.root)
	}
	t.root = real
	return t.addRecursive(svc, real)
}

func (t *Tree) addRecursive(svc policy.CoreServices, dir string) error {
	if err := t.addOne(svc, dir); err != nil {
		return err
	}
	subdirs, err := svc.SubDirs(dir)
	if err != nil {
		return fmt.Errorf("watchtree: listing %s: %w", dir, err)
	}
	for _, name := range subdirs {
		if err := t.addRecursive(svc, filepath.Join(dir, name)); err != nil {
			return err
		}
	}
	return nil
}

func (t *Tree) addOne(svc policy.CoreServices, dir string) error {
	wd, err := svc.AddWatch(dir)
	if err != nil {
		return fmt.Errorf("watchtree: watching %s: %w", dir, err)
	}
	t.mu.Lock()
	t.byWd[wd] = dir
	t.mu.Unlock()
	return nil
}

// AddCreatedDir registers a watch for a newly created subdirectory of
// parentWd and recurses into it, for the case a directory (rather than a
// file) was moved or created into the watched tree after startup.
func (t *Tree) AddCreatedDir(svc policy.CoreServices, parentWd int32, name string) error {
	parent, ok := t.Path(parentWd)
	if !ok {
		return fmt.Errorf("watchtree: unknown parent watch %d", parentWd)
	}
	return t.addRecursive(svc, filepath.Join(parent, name))
}

// RemoveWatch drops the bookkeeping for a watch descriptor whose directory
// was deleted; the kernel removes the underlying watch itself (IN_IGNORED
// follows), so this only forgets our own mapping.
func (t *Tree) RemoveWatch(wd int32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.byWd, wd)
}
