package store

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Names of the two fixed siblings of the root data entry (spec §3).
const (
	counterName = "counter"
	tmpDirName  = "tmp"
)

// layout owns the naming scheme for server-FS entries and the tmp staging
// area. It holds no state of its own beyond the data directory root; it is
// cheap to construct and is not shared by reference across goroutines in a
// way that needs locking.
type layout struct {
	root string // absolute path to the data directory D
}

func newLayout(root string) *layout {
	return &layout{root: root}
}

// rootDataPath is D/1, the root data entry.
func (l *layout) rootDataPath() string {
	return filepath.Join(l.root, encodeData(RootFid))
}

// tmpDir is D/tmp, the staging area (spec §3, I4).
func (l *layout) tmpDir() string {
	return filepath.Join(l.root, tmpDirName)
}

// counterPath is D/counter.
func (l *layout) counterPath() string {
	return filepath.Join(l.root, counterName)
}

// encodeData returns the data-entry basename for fid: its decimal form.
func encodeData(fid Fid) string {
	return strconv.FormatUint(uint64(fid), 10)
}

// encodeMeta returns the metadata-entry basename for (fid, name): "{fid}.{name}".
func encodeMeta(fid Fid, name string) string {
	return fmt.Sprintf("%d.%s", uint64(fid), name)
}

// parsedEntry is the result of parsing a server-FS basename: a data entry
// (Name == "") or a metadata entry (Name != "").
type parsedEntry struct {
	Fid  Fid
	Name string
}

// parseEntry parses either a data-entry or metadata-entry basename. It
// fails if the leading integer prefix is not a valid positive FID.
func parseEntry(basename string) (parsedEntry, error) {
	if dot := strings.IndexByte(basename, '.'); dot >= 0 {
		n, err := strconv.ParseUint(basename[:dot], 10, 64)
		if err != nil || n == 0 {
			return parsedEntry{}, fmt.Errorf("invalid entry name %q", basename)
		}
		return parsedEntry{Fid: Fid(n), Name: basename[dot+1:]}, nil
	}
	n, err := strconv.ParseUint(basename, 10, 64)
	if err != nil || n == 0 {
		return parsedEntry{}, fmt.Errorf("invalid entry name %q", basename)
	}
	return parsedEntry{Fid: Fid(n)}, nil
}

// stagePath allocates a fresh, unique path inside tmp. It is safe to call
// concurrently: the uniqueness comes from a random 128-bit token, not from
// any shared counter, so no tmp-area lock is required (spec §4.7).
func (l *layout) stagePath() string {
	return filepath.Join(l.tmpDir(), uuid.New().String())
}
