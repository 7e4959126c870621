package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sync/errgroup"
)

// resolver maps a FID to the absolute path of its data entry (spec §4.3).
// The cache is advisory only: every hit is re-validated before being
// trusted, and a miss falls back to a breadth-first scan of the server-FS
// tree rooted at D/1.
type resolver struct {
	l *layout

	mu    sync.RWMutex
	cache map[Fid]string
}

func newResolver(l *layout) *resolver {
	return &resolver{l: l, cache: make(map[Fid]string)}
}

// resolve returns the absolute path of fid's data entry, or a CodeStale
// error ("stale" in the general NFS sense of "this FID no longer
// resolves") if fid is unknown or its on-disk entry has vanished.
//
// fid == RootFid resolves directly without consulting the cache or BFS:
// the root data entry's path is fixed by construction.
func (r *resolver) resolve(fid Fid) (string, error) {
	if fid == RootFid {
		return r.l.rootDataPath(), nil
	}

	if path, ok := r.lookupCache(fid); ok {
		if r.validate(path, fid) {
			return path, nil
		}
		r.evict(fid)
	}

	// Read-only operations retry the BFS once on a validation failure
	// before giving up (spec §7).
	path, err := r.bfs(fid)
	if err != nil {
		return "", wrapErr("resolve", CodeStale, fmt.Sprintf("fid %d does not resolve", fid), err)
	}
	r.set(fid, path)
	return path, nil
}

func (r *resolver) lookupCache(fid Fid) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.cache[fid]
	return p, ok
}

// set records path as the current location of fid. Called both by resolve
// (on a BFS hit) and by every mutating dirops/fileio call that knows a
// FID's new location, per spec §4.3's cache-invalidation contract.
func (r *resolver) set(fid Fid, path string) {
	r.mu.Lock()
	r.cache[fid] = path
	r.mu.Unlock()
}

// evict drops fid from the cache, forcing the next resolve to re-scan.
func (r *resolver) evict(fid Fid) {
	r.mu.Lock()
	delete(r.cache, fid)
	r.mu.Unlock()
}

// validate confirms that path is still fid's data entry: its basename must
// still encode fid and a sibling metadata entry with the same prefix must
// exist in the same parent directory (I1).
func (r *resolver) validate(path string, fid Fid) bool {
	info, err := os.Lstat(path)
	if err != nil {
		return false
	}
	if filepath.Base(path) != encodeData(fid) {
		return false
	}
	parent := filepath.Dir(path)
	if fid == RootFid {
		return info.IsDir()
	}
	return hasMetaSibling(parent, fid)
}

// hasMetaSibling reports whether dir contains a metadata entry ("{fid}.*")
// for fid.
func hasMetaSibling(dir string, fid Fid) bool {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false
	}
	prefix := encodeData(fid) + "."
	for _, e := range entries {
		if len(e.Name()) > len(prefix) && e.Name()[:len(prefix)] == prefix {
			return true
		}
	}
	return false
}

// bfsWorkers bounds the concurrency of the resolver's breadth-first scan.
const bfsWorkers = 8

// bfs performs a breadth-first scan of the server-FS tree rooted at D/1,
// descending only into entries that are themselves directories
// (metadata entries are regular files and are never descended into), looking for the
// data entry whose basename is encodeData(fid) with a matching metadata
// sibling. The scan fans out with a bounded worker pool so a large,
// wide namespace doesn't serialize directory reads on one goroutine.
func (r *resolver) bfs(fid Fid) (string, error) {
	target := encodeData(fid)

	type found struct {
		path string
	}

	g, ctx := errgroup.WithContext(context.Background())
	g.SetLimit(bfsWorkers)

	var (
		resultMu sync.Mutex
		result   *found
	)

	var visit func(dir string) error
	visit = func(dir string) error {
		if ctx.Err() != nil {
			return nil
		}
		entries, err := os.ReadDir(dir)
		if err != nil {
			return nil // a directory that vanished mid-scan is not an error
		}

		var subdirs []string
		for _, e := range entries {
			name := e.Name()
			if name == tmpDirName && dir == r.l.root {
				continue
			}
			if name == target && hasMetaSibling(dir, fid) {
				resultMu.Lock()
				if result == nil {
					result = &found{path: filepath.Join(dir, name)}
				}
				resultMu.Unlock()
				return nil
			}
			if !e.IsDir() {
				continue
			}
			subdirs = append(subdirs, filepath.Join(dir, name))
		}

		for _, sub := range subdirs {
			sub := sub
			g.Go(func() error { return visit(sub) })
		}
		return nil
	}

	root := r.l.rootDataPath()
	if fid == RootFid {
		return root, nil
	}
	g.Go(func() error { return visit(root) })
	if err := g.Wait(); err != nil {
		return "", err
	}

	if result == nil {
		return "", os.ErrNotExist
	}
	return result.path, nil
}
