package store

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// pendingStore is the async pending-buffer store from spec §5: a mapping
// FID → ordered sequence of regions, guarded per-FID rather than by one
// global lock so unrelated files never contend with each other.
type pendingStore struct {
	mu      sync.Mutex
	entries map[Fid]*pendingFile
}

type pendingFile struct {
	mu sync.Mutex
	pw pendingWrites
}

// writeState is the small clean/dirty enum spec §4.8 calls for on the
// pending-buffer entry: clean means every accepted write for the FID has
// been committed, dirty(n) means n regions are still buffered in memory
// and would be lost across a restart (spec's stated Non-goal: durability
// of uncommitted async writes).
type writeState int

const (
	stateClean writeState = iota
	stateDirty
)

// state reports whether file has any uncommitted pending regions.
func (s *pendingStore) state(fid Fid) (writeState, int) {
	pf := s.get(fid)
	pf.mu.Lock()
	defer pf.mu.Unlock()
	if len(pf.pw.regions) == 0 {
		return stateClean, 0
	}
	return stateDirty, len(pf.pw.regions)
}

func newPendingStore() *pendingStore {
	return &pendingStore{entries: make(map[Fid]*pendingFile)}
}

func (s *pendingStore) get(fid Fid) *pendingFile {
	s.mu.Lock()
	defer s.mu.Unlock()
	pf, ok := s.entries[fid]
	if !ok {
		pf = &pendingFile{}
		s.entries[fid] = pf
	}
	return pf
}

func (s *pendingStore) clear(fid Fid) {
	s.mu.Lock()
	delete(s.entries, fid)
	s.mu.Unlock()
}

// Read implements spec §6/§4.5 read(file, offset, count): reads committed
// bytes overlaid with this file's pending-buffer writes, so a client
// observes its own unstable writes (spec §4.5 "Read/write interleaving").
func (e *Engine) Read(file Fid, offset int64, count int) ([]byte, Attr, error) {
	release := e.locks.acquire(file)
	defer release()

	path, err := e.resolver.resolve(file)
	if err != nil {
		return nil, Attr{}, err
	}
	attr, aerr := e.getAttrLocked(file)
	if aerr != nil {
		return nil, Attr{}, aerr
	}
	if attr.Type != TypeRegular {
		return nil, Attr{}, newErr("read", CodeIsDir, "read of a non-regular file")
	}

	f, oerr := os.Open(path)
	if oerr != nil {
		return nil, Attr{}, wrapErr("read", CodeIO, "open data entry", oerr)
	}
	defer f.Close()

	buf := make([]byte, count)
	n, rerr := f.ReadAt(buf, offset)
	if rerr != nil && rerr != io.EOF {
		return nil, Attr{}, wrapErr("read", CodeIO, "read data entry", rerr)
	}
	buf = buf[:n] // short read at EOF; reads past EOF return empty

	pf := e.pending.get(file)
	pf.mu.Lock()
	// Pending writes that reach past the committed end of file widen the
	// window (up to count bytes, zero-filling any gap) so they are visible.
	if _, hi, ok := pf.pw.span(); ok {
		if end := min64(hi, offset+int64(count)); end > offset+int64(n) {
			buf = append(buf, make([]byte, end-offset-int64(n))...)
		}
	}
	out := pf.pw.overlay(buf, offset)
	pf.mu.Unlock()

	return out, attr, nil
}

// Write implements spec §6/§4.5 write. FILE_SYNC and DATA_SYNC both take
// the synchronous copy-on-write path (spec only distinguishes UNSTABLE from
// "synchronous"); UNSTABLE buffers the write in memory.
func (e *Engine) Write(file Fid, offset int64, data []byte, stability Stability) (n int, committed Stability, verifier uint64, err error) {
	release := e.locks.acquire(file)
	defer release()

	if stability == Unstable {
		return e.writeUnstable(file, offset, data)
	}
	n, err = e.writeSync(file, offset, data)
	return n, FileSync, e.epoch.current(), err
}

func (e *Engine) writeUnstable(file Fid, offset int64, data []byte) (int, Stability, uint64, error) {
	if _, err := e.resolver.resolve(file); err != nil {
		return 0, Unstable, e.epoch.current(), err
	}
	if e.maxPendingPerFid > 0 {
		pf := e.pending.get(file)
		pf.mu.Lock()
		lo, hi, ok := pf.pw.span()
		pf.mu.Unlock()
		newLo, newHi := offset, offset+int64(len(data))
		if ok {
			if hi > newHi {
				newHi = hi
			}
			if lo < newLo {
				newLo = lo
			}
		}
		if newHi-newLo > e.maxPendingPerFid {
			return 0, Unstable, e.epoch.current(), newErr("write", CodeIO, "pending buffer full")
		}
	}

	cp := append([]byte(nil), data...)
	pf := e.pending.get(file)
	pf.mu.Lock()
	pf.pw.add(region{Pos: offset, Size: int64(len(cp)), Data: cp})
	pf.mu.Unlock()

	return len(data), Unstable, e.epoch.current(), nil
}

// writeSync implements the copy-on-write synchronous write path from spec
// §4.5: copy the data entry into tmp, patch the copy, fsync, then
// atomically rename the copy over the original. The rename is the
// linearization point; I1 holds throughout because the metadata entry
// already exists.
func (e *Engine) writeSync(file Fid, offset int64, data []byte) (int, error) {
	path, err := e.resolver.resolve(file)
	if err != nil {
		return 0, err
	}

	n, err := cowApply(path, e.layout.stagePath(), []region{{Pos: offset, Size: int64(len(data)), Data: data}})
	if err != nil {
		return 0, wrapErr("write", CodeIO, "copy-on-write apply", err)
	}

	if err := e.bumpSize(file, offset+int64(len(data))); err != nil {
		return n, err
	}
	return n, nil
}

// cowApply performs one copy-and-rename cycle: copy dataPath to stagePath,
// apply every region (already in application order) to the copy, fsync,
// then atomically rename the copy over dataPath.
func cowApply(dataPath, stagePath string, regions []region) (int, error) {
	src, err := os.Open(dataPath)
	if err != nil {
		return 0, fmt.Errorf("open data entry: %w", err)
	}
	info, err := src.Stat()
	if err != nil {
		src.Close()
		return 0, fmt.Errorf("stat data entry: %w", err)
	}

	dst, err := os.OpenFile(stagePath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, info.Mode().Perm())
	if err != nil {
		src.Close()
		return 0, fmt.Errorf("create staging copy: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		src.Close()
		dst.Close()
		_ = os.Remove(stagePath)
		return 0, fmt.Errorf("copy data entry: %w", err)
	}
	src.Close()

	var written int
	for _, r := range regions {
		wn, werr := dst.WriteAt(r.Data, r.Pos)
		if werr != nil {
			dst.Close()
			_ = os.Remove(stagePath)
			return 0, fmt.Errorf("patch staging copy: %w", werr)
		}
		written += wn
	}

	if err := dst.Sync(); err != nil {
		dst.Close()
		_ = os.Remove(stagePath)
		return 0, fmt.Errorf("fsync staging copy: %w", err)
	}
	if err := dst.Close(); err != nil {
		_ = os.Remove(stagePath)
		return 0, fmt.Errorf("close staging copy: %w", err)
	}

	if err := os.Rename(stagePath, dataPath); err != nil {
		_ = os.Remove(stagePath)
		return 0, fmt.Errorf("rename staging copy into place: %w", err)
	}
	return written, nil
}

// bumpSize updates the file's metadata Size field if newEnd extends past
// the current size, and always refreshes Mtime/Ctime to reflect the write.
func (e *Engine) bumpSize(file Fid, newEnd int64) error {
	path, err := e.resolver.resolve(file)
	if err != nil {
		return err
	}
	metaPath, found, merr := findMetaPathByFid(filepath.Dir(path), file)
	if merr != nil {
		return wrapErr("write", CodeIO, "scan parent", merr)
	}
	if !found {
		return newErr("write", CodeStale, fmt.Sprintf("fid %d has no metadata entry", file))
	}
	attr, rerr := readMetadataFile(metaPath)
	if rerr != nil {
		return wrapErr("write", CodeIO, "read metadata", rerr)
	}
	if newEnd > int64(attr.Size) {
		attr.Size = uint64(newEnd)
	}
	now := time.Now().UTC()
	attr.Mtime, attr.Ctime = now, now
	if err := writeMetadataFile(metaPath, attr); err != nil {
		return wrapErr("write", CodeIO, "write metadata", err)
	}
	return nil
}

// PendingRegions reports how many unstable-write regions are currently
// buffered for file and have not yet been committed: 0 means clean.
func (e *Engine) PendingRegions(file Fid) int {
	_, n := e.pending.state(file)
	return n
}

// Commit implements spec §6/§4.5 commit(file, offset, count): coalesces
// every pending region of file that intersects [offset, offset+count) (this
// implementation commits the whole pending buffer for the FID, as spec
// explicitly allows), applies them in one copy-and-rename cycle in receipt
// order, and returns the current epoch as the verifier.
func (e *Engine) Commit(file Fid, offset int64, count int) (uint64, error) {
	release := e.locks.acquire(file)
	defer release()

	pf := e.pending.get(file)
	pf.mu.Lock()
	regions := append([]region(nil), pf.pw.regions...)
	pf.mu.Unlock()

	if len(regions) == 0 {
		return e.epoch.current(), nil
	}

	path, err := e.resolver.resolve(file)
	if err != nil {
		return 0, err
	}

	_, maxEnd, _ := (&pendingWrites{regions: regions}).span()
	if _, err := cowApply(path, e.layout.stagePath(), regions); err != nil {
		return 0, wrapErr("commit", CodeIO, "copy-on-write apply", err)
	}
	if err := e.bumpSize(file, maxEnd); err != nil {
		return 0, err
	}

	e.pending.clear(file)
	return e.epoch.current(), nil
}
