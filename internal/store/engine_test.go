package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := New(t.TempDir())
	require.NoError(t, err)
	return e
}

func TestNewInitializesLayout(t *testing.T) {
	dir := t.TempDir()
	e, err := New(dir)
	require.NoError(t, err)

	assert.DirExists(t, filepath.Join(dir, "tmp"))
	assert.DirExists(t, filepath.Join(dir, "1"))
	assert.FileExists(t, filepath.Join(dir, "counter"))

	attr, err := e.GetAttr(RootFid)
	require.NoError(t, err)
	assert.Equal(t, TypeDirectory, attr.Type)
	assert.EqualValues(t, 2, attr.Nlink)
}

func TestNewReopensExistingDataDir(t *testing.T) {
	dir := t.TempDir()
	e1, err := New(dir)
	require.NoError(t, err)
	fid, _, err := e1.Create(RootFid, "a", SetAttr{})
	require.NoError(t, err)

	e2, err := New(dir)
	require.NoError(t, err)
	gotFid, _, err := e2.Lookup(RootFid, "a")
	require.NoError(t, err)
	assert.Equal(t, fid, gotFid)
}

func TestNewRejectsMalformedCounter(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "counter"), []byte("not-a-number"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "1"), 0o755))

	_, err := New(dir)
	require.Error(t, err)
	assert.Equal(t, CodeCorrupt, CodeOf(err))
}

func TestNewMissingDataDirIsNotCorrupt(t *testing.T) {
	// A data directory nested under a path component that is a regular
	// file fails at MkdirAll, which is a generic IO failure, not a corrupt
	// counter: CodeOf must not report CodeCorrupt here.
	dir := filepath.Join(t.TempDir(), "missing-parent-blocked-by-a-file")
	require.NoError(t, os.WriteFile(dir, []byte("not a directory"), 0o644))

	_, err := New(filepath.Join(dir, "data"))
	require.Error(t, err)
	assert.NotEqual(t, CodeCorrupt, CodeOf(err))
}

func TestNullIsAlwaysOK(t *testing.T) {
	e := newTestEngine(t)
	assert.NoError(t, e.Null())
}

func TestStatFSReportsHostFS(t *testing.T) {
	e := newTestEngine(t)
	st, err := e.StatFS()
	require.NoError(t, err)
	assert.Greater(t, st.BSize, uint32(0))
}
