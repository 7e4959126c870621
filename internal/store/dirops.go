package store

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// validateName enforces the component-name rules from spec §4.4: non-empty
// UTF-8, no '/' or NUL, not "." or "..".
func validateName(op, name string) error {
	if name == "" {
		return newErr(op, CodeIO, "empty name")
	}
	if name == "." || name == ".." {
		return newErr(op, CodeIO, fmt.Sprintf("invalid name %q", name))
	}
	if strings.ContainsAny(name, "/\x00") {
		return newErr(op, CodeIO, fmt.Sprintf("name %q contains '/' or NUL", name))
	}
	return nil
}

// findChild scans dirPath (a directory's data entry) for the metadata entry
// matching name, returning its FID and the metadata path. Junk entries
// (unpaired, I1) are skipped entirely.
func findChild(dirPath, name string) (fid Fid, metaPath string, attr Attr, found bool, err error) {
	entries, rerr := os.ReadDir(dirPath)
	if rerr != nil {
		return 0, "", Attr{}, false, rerr
	}
	for _, e := range entries {
		if e.IsDir() && e.Name() == tmpDirName {
			continue
		}
		pe, perr := parseEntry(e.Name())
		if perr != nil || pe.Name == "" || pe.Name != name {
			continue
		}
		// Found a metadata entry for this name; confirm its data
		// sibling exists (I1) before trusting it.
		dataPath := filepath.Join(dirPath, encodeData(pe.Fid))
		if _, serr := os.Lstat(dataPath); serr != nil {
			continue // unpaired metadata entry is junk
		}
		metaPath = filepath.Join(dirPath, e.Name())
		a, derr := readMetadataFile(metaPath)
		if derr != nil {
			continue
		}
		return pe.Fid, metaPath, a, true, nil
	}
	return 0, "", Attr{}, false, nil
}

// Lookup implements spec §4.4 lookup(dir, name).
func (e *Engine) Lookup(dir Fid, name string) (Fid, Attr, error) {
	if err := validateName("lookup", name); err != nil {
		return 0, Attr{}, err
	}
	release := e.locks.acquire(dir)
	defer release()

	dirPath, err := e.resolver.resolve(dir)
	if err != nil {
		return 0, Attr{}, err
	}
	fid, _, attr, found, ferr := findChild(dirPath, name)
	if ferr != nil {
		return 0, Attr{}, wrapErr("lookup", CodeIO, "scan directory", ferr)
	}
	if !found {
		return 0, Attr{}, newErr("lookup", CodeNoEnt, fmt.Sprintf("no entry %q", name))
	}
	return fid, attr, nil
}

// createEntry implements spec §4.4 create(dir, name, attrs). dirFile is true
// when creating a directory (mkdir); false for a regular file (create).
func (e *Engine) createEntry(op string, dir Fid, name string, attrs SetAttr, dirFile bool) (Fid, Attr, error) {
	if err := validateName(op, name); err != nil {
		return 0, Attr{}, err
	}
	release := e.locks.acquire(dir)
	defer release()

	dirPath, err := e.resolver.resolve(dir)
	if err != nil {
		return 0, Attr{}, err
	}

	if _, _, _, found, ferr := findChild(dirPath, name); ferr != nil {
		return 0, Attr{}, wrapErr(op, CodeIO, "scan directory", ferr)
	} else if found {
		return 0, Attr{}, newErr(op, CodeExist, fmt.Sprintf("entry %q already exists", name))
	}

	fid, err := e.allocator.next()
	if err != nil {
		return 0, Attr{}, wrapErr(op, CodeIO, "allocate fid", err)
	}

	now := time.Now().UTC()
	attr := Attr{
		Fid:   fid,
		Type:  TypeRegular,
		Mode:  0o644,
		Nlink: 1,
		Atime: now,
		Mtime: now,
		Ctime: now,
		Fsid:  1,
	}
	if dirFile {
		attr.Type = TypeDirectory
		attr.Mode = 0o755
		attr.Nlink = 2
	}
	applySetAttr(&attr, attrs)

	stageData := e.layout.stagePath()
	stageMeta := e.layout.stagePath()

	if dirFile {
		if err := os.Mkdir(stageData, os.FileMode(attr.Mode)); err != nil {
			return 0, Attr{}, wrapErr(op, CodeIO, "stage data entry", err)
		}
	} else {
		f, ferr := os.OpenFile(stageData, os.O_WRONLY|os.O_CREATE|os.O_EXCL, os.FileMode(attr.Mode))
		if ferr != nil {
			return 0, Attr{}, wrapErr(op, CodeIO, "stage data entry", ferr)
		}
		if cerr := f.Close(); cerr != nil {
			return 0, Attr{}, wrapErr(op, CodeIO, "close staged data entry", cerr)
		}
	}
	if err := writeMetadataFile(stageMeta, attr); err != nil {
		_ = removeAny(stageData)
		return 0, Attr{}, wrapErr(op, CodeIO, "stage metadata entry", err)
	}

	finalData := filepath.Join(dirPath, encodeData(fid))
	finalMeta := filepath.Join(dirPath, encodeMeta(fid, name))

	// Crash order matters (spec §4.4): the data entry must be renamed
	// into place first. Until the metadata entry also lands, I1 means
	// the file does not exist yet, so any crash here just leaves junk.
	if err := os.Rename(stageData, finalData); err != nil {
		_ = removeAny(stageData)
		_ = removeAny(stageMeta)
		return 0, Attr{}, wrapErr(op, CodeIO, "rename data entry into place", err)
	}
	// The metadata rename is the visibility point.
	if err := os.Rename(stageMeta, finalMeta); err != nil {
		return 0, Attr{}, wrapErr(op, CodeIO, "rename metadata entry into place", err)
	}

	e.resolver.set(fid, finalData)
	return fid, attr, nil
}

// Create implements spec §4.4 create.
func (e *Engine) Create(dir Fid, name string, attrs SetAttr) (Fid, Attr, error) {
	return e.createEntry("create", dir, name, attrs, false)
}

// Mkdir implements spec §4.4 mkdir.
func (e *Engine) Mkdir(dir Fid, name string, attrs SetAttr) (Fid, Attr, error) {
	return e.createEntry("mkdir", dir, name, attrs, true)
}

// Remove implements spec §4.4 remove(dir, name).
func (e *Engine) Remove(dir Fid, name string) error {
	if err := validateName("remove", name); err != nil {
		return err
	}
	release := e.locks.acquire(dir)
	defer release()

	dirPath, err := e.resolver.resolve(dir)
	if err != nil {
		return err
	}
	fid, metaPath, attr, found, ferr := findChild(dirPath, name)
	if ferr != nil {
		return wrapErr("remove", CodeIO, "scan directory", ferr)
	}
	if !found {
		return newErr("remove", CodeNoEnt, fmt.Sprintf("no entry %q", name))
	}
	if attr.Type == TypeDirectory {
		return newErr("remove", CodeIsDir, fmt.Sprintf("%q is a directory", name))
	}

	// Unlinking the metadata entry is the point at which the file
	// ceases to exist per I1; the data entry becoming junk afterward is
	// a benign, best-effort cleanup.
	if err := os.Remove(metaPath); err != nil {
		return wrapErr("remove", CodeIO, "unlink metadata entry", err)
	}
	dataPath := filepath.Join(dirPath, encodeData(fid))
	_ = os.Remove(dataPath)

	e.resolver.evict(fid)
	return nil
}

// Rmdir implements spec §4.4 rmdir(dir, name).
func (e *Engine) Rmdir(dir Fid, name string) error {
	if err := validateName("rmdir", name); err != nil {
		return err
	}
	release := e.locks.acquire(dir)
	defer release()

	dirPath, err := e.resolver.resolve(dir)
	if err != nil {
		return err
	}
	fid, metaPath, attr, found, ferr := findChild(dirPath, name)
	if ferr != nil {
		return wrapErr("rmdir", CodeIO, "scan directory", ferr)
	}
	if !found {
		return newErr("rmdir", CodeNoEnt, fmt.Sprintf("no entry %q", name))
	}
	if attr.Type != TypeDirectory {
		return newErr("rmdir", CodeNotDir, fmt.Sprintf("%q is not a directory", name))
	}

	dataPath := filepath.Join(dirPath, encodeData(fid))
	if empty, eerr := dirHasNoExistingChildren(dataPath); eerr != nil {
		return wrapErr("rmdir", CodeIO, "scan children", eerr)
	} else if !empty {
		return newErr("rmdir", CodeNotEmpty, fmt.Sprintf("%q is not empty", name))
	}

	if err := os.Remove(metaPath); err != nil {
		return wrapErr("rmdir", CodeIO, "unlink metadata entry", err)
	}
	if err := os.Remove(dataPath); err != nil {
		// Junk (data entries with no metadata sibling) may remain from
		// a prior interrupted operation; strip it and retry once.
		if stripErr := stripJunk(dataPath); stripErr == nil {
			err = os.Remove(dataPath)
		}
		if err != nil {
			return wrapErr("rmdir", CodeIO, "unlink data entry", err)
		}
	}

	e.resolver.evict(fid)
	return nil
}

// dirHasNoExistingChildren reports whether a directory data entry has zero
// *existing* NFS children: junk data entries without a metadata sibling
// don't count (spec §4.4 rmdir).
func dirHasNoExistingChildren(dataPath string) (bool, error) {
	entries, err := os.ReadDir(dataPath)
	if err != nil {
		return false, err
	}
	for _, e := range entries {
		pe, perr := parseEntry(e.Name())
		if perr != nil || pe.Name == "" {
			continue // not a metadata entry: junk or unparsable
		}
		return false, nil
	}
	return true, nil
}

// stripJunk removes every data entry inside dataPath that has no metadata
// sibling, so a subsequent os.Remove of dataPath (now truly empty) can
// succeed.
func stripJunk(dataPath string) error {
	entries, err := os.ReadDir(dataPath)
	if err != nil {
		return err
	}
	for _, e := range entries {
		pe, perr := parseEntry(e.Name())
		if perr != nil || pe.Name != "" {
			continue
		}
		_ = removeAny(filepath.Join(dataPath, e.Name()))
	}
	return nil
}

func removeAny(path string) error {
	if err := os.RemoveAll(path); err != nil {
		return err
	}
	return nil
}

// Readdir implements spec §4.4 readdir(dir).
func (e *Engine) Readdir(dir Fid) ([]DirEntry, error) {
	release := e.locks.acquire(dir)
	defer release()

	dirPath, err := e.resolver.resolve(dir)
	if err != nil {
		return nil, err
	}
	entries, rerr := os.ReadDir(dirPath)
	if rerr != nil {
		return nil, wrapErr("readdir", CodeIO, "read directory", rerr)
	}

	var out []DirEntry
	for _, e := range entries {
		pe, perr := parseEntry(e.Name())
		if perr != nil || pe.Name == "" {
			continue // junk or a data entry, not a metadata entry
		}
		dataPath := filepath.Join(dirPath, encodeData(pe.Fid))
		if _, serr := os.Lstat(dataPath); serr != nil {
			continue // unpaired metadata entry is junk
		}
		out = append(out, DirEntry{Fid: pe.Fid, Name: pe.Name})
	}
	return out, nil
}

// renameMaxAttempts bounds the discover/lock/re-validate loop in Rename: a
// concurrent rename of the same source or destination name can shift which
// FIDs need locking between the discovery pass and the lock acquisition,
// forcing a retry.
const renameMaxAttempts = 8

// Rename implements spec §4.4 rename. It is atomic at the metadata-rename
// step: no observer ever sees both the old and new names absent, or both
// present, at once.
func (e *Engine) Rename(dirOld Fid, nameOld string, dirNew Fid, nameNew string) error {
	if err := validateName("rename", nameOld); err != nil {
		return err
	}
	if err := validateName("rename", nameNew); err != nil {
		return err
	}

	// The full lock set (spec §4.7: "rename acquires four in sorted
	// order: two directory FIDs and the two involved file FIDs if the
	// destination exists") can't be known until the source (and
	// possibly destination) FID is discovered, which itself requires
	// reading the directories. So: discover under directory-only locks,
	// release, then acquire the complete set and re-discover underneath
	// it. If the complete set differs from what was just locked (a
	// concurrent rename renamed the source or destination out from
	// under us in the gap), release and retry.
	lockFids := []Fid{dirOld, dirNew}
	for attempt := 0; ; attempt++ {
		release := e.locks.acquireAll(lockFids...)

		oldDirPath, err := e.resolver.resolve(dirOld)
		if err != nil {
			release()
			return err
		}
		newDirPath, err := e.resolver.resolve(dirNew)
		if err != nil {
			release()
			return err
		}

		srcFid, srcMetaPath, srcAttr, found, ferr := findChild(oldDirPath, nameOld)
		if ferr != nil {
			release()
			return wrapErr("rename", CodeIO, "scan source directory", ferr)
		}
		if !found {
			release()
			return newErr("rename", CodeNoEnt, fmt.Sprintf("no entry %q", nameOld))
		}

		dstFid, dstMetaPath, dstAttr, dstFound, dferr := findChild(newDirPath, nameNew)
		if dferr != nil {
			release()
			return wrapErr("rename", CodeIO, "scan destination directory", dferr)
		}

		want := []Fid{dirOld, dirNew, srcFid}
		if dstFound {
			want = append(want, dstFid)
		}
		if !sameFidSet(lockFids, want) {
			release()
			lockFids = want
			if attempt+1 >= renameMaxAttempts {
				return newErr("rename", CodeIO, "could not stabilize lock set under concurrent renames")
			}
			continue
		}

		return e.renameLocked(release, oldDirPath, newDirPath, srcFid, srcMetaPath, srcAttr, nameNew, dstFid, dstMetaPath, dstAttr, dstFound)
	}
}

// sameFidSet reports whether a and b name the same set of FIDs, ignoring
// order and duplicates.
func sameFidSet(a, b []Fid) bool {
	toSet := func(fids []Fid) map[Fid]struct{} {
		s := make(map[Fid]struct{}, len(fids))
		for _, f := range fids {
			s[f] = struct{}{}
		}
		return s
	}
	sa, sb := toSet(a), toSet(b)
	if len(sa) != len(sb) {
		return false
	}
	for f := range sa {
		if _, ok := sb[f]; !ok {
			return false
		}
	}
	return true
}

// renameLocked performs the actual renames once the full FID set (two
// directories, source, and destination if present) is locked and the
// lookups have been re-validated under that lock.
func (e *Engine) renameLocked(release func(), oldDirPath, newDirPath string, srcFid Fid, srcMetaPath string, srcAttr Attr, nameNew string, dstFid Fid, dstMetaPath string, dstAttr Attr, dstFound bool) error {
	defer release()

	if dstFound {
		if srcAttr.Type == TypeDirectory && dstAttr.Type != TypeDirectory {
			return newErr("rename", CodeNotDir, "destination is not a directory")
		}
		if srcAttr.Type != TypeDirectory && dstAttr.Type == TypeDirectory {
			return newErr("rename", CodeIsDir, "destination is a directory")
		}
		if dstAttr.Type == TypeDirectory {
			dstDataPath := filepath.Join(newDirPath, encodeData(dstFid))
			if empty, eerr := dirHasNoExistingChildren(dstDataPath); eerr != nil {
				return wrapErr("rename", CodeIO, "scan destination children", eerr)
			} else if !empty {
				return newErr("rename", CodeNotEmpty, "destination directory is not empty")
			}
		}
	}

	srcDataPath := filepath.Join(oldDirPath, encodeData(srcFid))
	newMetaPath := filepath.Join(newDirPath, encodeMeta(srcFid, nameNew))

	// The metadata rename is the single atomic linearization point
	// (spec §4.4): before it, nameOld resolves and nameNew does not (or
	// resolves to the replaced entry); after it, nameNew resolves to
	// srcFid and nameOld does not. os.Rename replacing an existing
	// destination is atomic on the same host filesystem.
	if err := os.Rename(srcMetaPath, newMetaPath); err != nil {
		return wrapErr("rename", CodeIO, "rename metadata entry", err)
	}

	// If the destination name was taken, its data and metadata entries are
	// unlinked here, best-effort. Its metadata entry carries dstFid's
	// prefix, so the rename above did not overwrite it.
	if dstFound {
		_ = os.Remove(filepath.Join(newDirPath, encodeData(dstFid)))
		_ = removeAny(dstMetaPath)
	}

	// Relocate the data entry to its new basename. Any crash here still
	// leaves the file resolvable: FIDs are location-independent, and the
	// next BFS finds srcFid wherever its data entry basename (still
	// encodeData(srcFid), unaffected by this step) physically lives.
	newDataPath := filepath.Join(newDirPath, encodeData(srcFid))
	if srcDataPath != newDataPath {
		if err := os.Rename(srcDataPath, newDataPath); err != nil {
			return wrapErr("rename", CodeIO, "relocate data entry", err)
		}
	}

	e.resolver.set(srcFid, newDataPath)
	if dstFound {
		e.resolver.evict(dstFid)
	}
	return nil
}

// applySetAttr overlays the non-nil fields of sa onto attr, bumping Ctime
// whenever anything changes (spec §9 Open Question resolution, see
// SPEC_FULL.md §9).
func applySetAttr(attr *Attr, sa SetAttr) {
	changed := false
	if sa.Mode != nil {
		attr.Mode = *sa.Mode
		changed = true
	}
	if sa.Uid != nil {
		attr.Uid = *sa.Uid
		changed = true
	}
	if sa.Gid != nil {
		attr.Gid = *sa.Gid
		changed = true
	}
	if sa.Atime != nil {
		attr.Atime = *sa.Atime
		changed = true
	}
	if sa.Mtime != nil {
		attr.Mtime = *sa.Mtime
		changed = true
	}
	if changed {
		attr.Ctime = time.Now().UTC()
	}
}

// GetAttr implements spec §6 getattr.
func (e *Engine) GetAttr(fid Fid) (Attr, error) {
	release := e.locks.acquire(fid)
	defer release()
	return e.getAttrLocked(fid)
}

func (e *Engine) getAttrLocked(fid Fid) (Attr, error) {
	path, err := e.resolver.resolve(fid)
	if err != nil {
		return Attr{}, err
	}
	metaPath, found, err := findMetaPathByFid(filepath.Dir(path), fid)
	if err != nil {
		return Attr{}, wrapErr("getattr", CodeIO, "scan parent", err)
	}
	if !found {
		if fid == RootFid {
			return e.rootAttr()
		}
		return Attr{}, newErr("getattr", CodeStale, fmt.Sprintf("fid %d has no metadata entry", fid))
	}
	attr, rerr := readMetadataFile(metaPath)
	if rerr != nil {
		return Attr{}, wrapErr("getattr", CodeIO, "read metadata", rerr)
	}
	if attr.Type == TypeDirectory {
		nlink, nerr := dirNlink(path)
		if nerr != nil {
			return Attr{}, wrapErr("getattr", CodeIO, "count subdirectories", nerr)
		}
		attr.Nlink = nlink
	}
	return attr, nil
}

// dirNlink computes a directory's link count as 2 + its number of existing
// subdirectories (spec §9 Open Question resolution, see SPEC_FULL.md §9),
// read fresh from dataPath's own children rather than tracked incrementally.
func dirNlink(dataPath string) (uint32, error) {
	entries, err := os.ReadDir(dataPath)
	if err != nil {
		return 0, err
	}
	var count uint32
	for _, e := range entries {
		pe, perr := parseEntry(e.Name())
		if perr != nil || pe.Name == "" {
			continue
		}
		metaPath := filepath.Join(dataPath, e.Name())
		childDataPath := filepath.Join(dataPath, encodeData(pe.Fid))
		if _, serr := os.Lstat(childDataPath); serr != nil {
			continue
		}
		attr, aerr := readMetadataFile(metaPath)
		if aerr != nil {
			continue
		}
		if attr.Type == TypeDirectory {
			count++
		}
	}
	return 2 + count, nil
}

// rootAttr synthesizes attributes for the root when no parent directory
// holds its metadata entry (the root has no parent in the namespace).
func (e *Engine) rootAttr() (Attr, error) {
	root := e.layout.rootDataPath()
	info, err := os.Stat(root)
	if err != nil {
		return Attr{}, wrapErr("getattr", CodeIO, "stat root", err)
	}
	nlink, nerr := dirNlink(root)
	if nerr != nil {
		return Attr{}, wrapErr("getattr", CodeIO, "count subdirectories", nerr)
	}
	return Attr{
		Fid:   RootFid,
		Type:  TypeDirectory,
		Mode:  uint32(info.Mode().Perm()) | 0o755,
		Nlink: nlink,
		Atime: info.ModTime(),
		Mtime: info.ModTime(),
		Ctime: info.ModTime(),
		Fsid:  1,
	}, nil
}

// findMetaPathByFid scans dir for the metadata entry whose prefix is fid.
func findMetaPathByFid(dir string, fid Fid) (string, bool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", false, err
	}
	prefix := encodeData(fid) + "."
	for _, e := range entries {
		if len(e.Name()) > len(prefix) && e.Name()[:len(prefix)] == prefix {
			return filepath.Join(dir, e.Name()), true, nil
		}
	}
	return "", false, nil
}

// SetAttr implements spec §6 setattr.
func (e *Engine) SetAttr(fid Fid, sa SetAttr) (Attr, error) {
	release := e.locks.acquire(fid)
	defer release()

	if fid == RootFid {
		attr, err := e.rootAttr()
		if err != nil {
			return Attr{}, err
		}
		applySetAttr(&attr, sa)
		return attr, nil // the root's synthesized attrs aren't persisted
	}

	path, err := e.resolver.resolve(fid)
	if err != nil {
		return Attr{}, err
	}
	metaPath, found, merr := findMetaPathByFid(filepath.Dir(path), fid)
	if merr != nil {
		return Attr{}, wrapErr("setattr", CodeIO, "scan parent", merr)
	}
	if !found {
		return Attr{}, newErr("setattr", CodeStale, fmt.Sprintf("fid %d has no metadata entry", fid))
	}

	attr, rerr := readMetadataFile(metaPath)
	if rerr != nil {
		return Attr{}, wrapErr("setattr", CodeIO, "read metadata", rerr)
	}
	applySetAttr(&attr, sa)
	if err := writeMetadataFile(metaPath, attr); err != nil {
		return Attr{}, wrapErr("setattr", CodeIO, "write metadata", err)
	}
	return attr, nil
}
