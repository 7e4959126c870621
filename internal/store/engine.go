package store

import (
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// Engine is the ZippyNFS server-side storage engine (spec §4): it owns the
// on-disk layout rooted at a single data directory D and exposes the
// directory and file-I/O operations the RPC service facade dispatches to.
// All exported methods are safe for concurrent use.
type Engine struct {
	layout    *layout
	allocator *allocator
	resolver  *resolver
	locks     *lockTable
	epoch     *epochManager
	pending   *pendingStore

	// maxPendingPerFid bounds the byte span an UNSTABLE write buffer may
	// grow to before write() starts rejecting further unstable writes for
	// that FID (spec §4.9 backpressure); zero means unbounded.
	maxPendingPerFid int64
}

// Option configures an Engine at construction time.
type Option func(*Engine)

// WithMaxPendingBytes bounds the per-FID unstable-write buffer span.
func WithMaxPendingBytes(n int64) Option {
	return func(e *Engine) { e.maxPendingPerFid = n }
}

// New opens the data directory at dataDir, initializing it on first use:
// creating the tmp staging area (I4), the root data entry D/1 if absent,
// and the FID counter. A pre-existing data directory is reopened as-is.
func New(dataDir string, opts ...Option) (*Engine, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("store: create data directory: %w", err)
	}

	l := newLayout(dataDir)
	if err := os.MkdirAll(l.tmpDir(), 0o755); err != nil {
		return nil, fmt.Errorf("store: create tmp staging area: %w", err)
	}

	root := l.rootDataPath()
	if _, err := os.Stat(root); os.IsNotExist(err) {
		if err := os.Mkdir(root, 0o755); err != nil {
			return nil, fmt.Errorf("store: create root data entry: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("store: stat root data entry: %w", err)
	}

	alloc, err := openAllocator(l.counterPath())
	if err != nil {
		return nil, fmt.Errorf("store: open fid counter: %w", err)
	}

	e := &Engine{
		layout:    l,
		allocator: alloc,
		resolver:  newResolver(l),
		locks:     newLockTable(),
		epoch:     newEpochManager(uint64(time.Now().UnixNano())),
		pending:   newPendingStore(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Null implements spec §6 null: a no-op reachability check.
func (e *Engine) Null() error { return nil }

// StatFS implements spec §6.5 statfs, reporting the host filesystem's
// capacity underneath the data directory via statfs(2).
func (e *Engine) StatFS() (StatFS, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(e.layout.root, &st); err != nil {
		return StatFS{}, wrapErr("statfs", CodeIO, "statfs", err)
	}
	return StatFS{
		TSize:  uint32(st.Bsize),
		BSize:  uint32(st.Bsize),
		Blocks: st.Blocks,
		BFree:  st.Bfree,
		BAvail: st.Bavail,
	}, nil
}
