package fuse

import (
	"os"
	"strings"
	"sync"

	"bazil.org/fuse/fs"
)

// nodeEntry is the mount path a node currently answers for. The kernel
// keeps talking to the same node after a rename, so the path lives here
// and moves with it.
type nodeEntry struct {
	path string // guarded by nodeTable.mu
	node fs.Node
}

// nodeTable keeps one node per mount path. bazil reuses the node ID
// when Lookup hands back a node it already knows.
type nodeTable struct {
	ops   Operations
	mu    sync.RWMutex
	paths map[string]*nodeEntry
}

func newNodeTable(ops Operations) *nodeTable {
	t := &nodeTable{ops: ops, paths: make(map[string]*nodeEntry)}
	t.node("/", os.ModeDir)
	return t
}

// root returns the node for "/"
func (t *nodeTable) root() *Dir {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.paths["/"].node.(*Dir)
}

// node returns the node for p, creating it when p is unknown or the
// cached node has the wrong kind
func (t *nodeTable) node(p string, mode os.FileMode) fs.Node {
	t.mu.Lock()
	defer t.mu.Unlock()

	if e, ok := t.paths[p]; ok {
		if _, isDir := e.node.(*Dir); isDir == mode.IsDir() {
			return e.node
		}
	}

	e := &nodeEntry{path: p}
	if mode.IsDir() {
		e.node = &Dir{nodes: t, entry: e}
	} else {
		e.node = &File{nodes: t, entry: e}
	}
	t.paths[p] = e
	return e.node
}

func (t *nodeTable) pathOf(e *nodeEntry) string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return e.path
}

// rename moves the node at oldPath and everything below it to newPath.
// Whatever newPath named before has been replaced on the host and is
// dropped.
func (t *nodeTable) rename(oldPath, newPath string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.dropLocked(newPath)
	prefix := oldPath + "/"
	var moved []*nodeEntry
	for p, e := range t.paths {
		if p == oldPath || strings.HasPrefix(p, prefix) {
			delete(t.paths, p)
			moved = append(moved, e)
		}
	}
	for _, e := range moved {
		e.path = newPath + e.path[len(oldPath):]
		t.paths[e.path] = e
	}
}

// remove drops p and anything cached below it
func (t *nodeTable) remove(p string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dropLocked(p)
}

func (t *nodeTable) dropLocked(p string) {
	prefix := p + "/"
	for k := range t.paths {
		if k == p || strings.HasPrefix(k, prefix) {
			delete(t.paths, k)
		}
	}
}

// forget drops e once the kernel no longer references its node
func (t *nodeTable) forget(e *nodeEntry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.paths[e.path] == e && e.path != "/" {
		delete(t.paths, e.path)
	}
}
