package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteSyncThenRead(t *testing.T) {
	e := newTestEngine(t)
	fid, _, err := e.Create(RootFid, "f", SetAttr{})
	require.NoError(t, err)

	n, stability, _, err := e.Write(fid, 0, []byte("hello world"), FileSync)
	require.NoError(t, err)
	assert.Equal(t, 11, n)
	assert.Equal(t, FileSync, stability)

	data, attr, err := e.Read(fid, 0, 11)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data))
	assert.EqualValues(t, 11, attr.Size)
}

func TestWriteSyncExtendsFile(t *testing.T) {
	e := newTestEngine(t)
	fid, _, err := e.Create(RootFid, "f", SetAttr{})
	require.NoError(t, err)

	_, _, _, err = e.Write(fid, 0, []byte("abc"), FileSync)
	require.NoError(t, err)
	_, _, _, err = e.Write(fid, 10, []byte("xyz"), FileSync)
	require.NoError(t, err)

	attr, err := e.GetAttr(fid)
	require.NoError(t, err)
	assert.EqualValues(t, 13, attr.Size)

	data, _, err := e.Read(fid, 0, 13)
	require.NoError(t, err)
	assert.Equal(t, []byte("abc\x00\x00\x00\x00\x00\x00\x00xyz"), data)
}

func TestUnstableWriteIsVisibleBeforeCommit(t *testing.T) {
	e := newTestEngine(t)
	fid, _, err := e.Create(RootFid, "f", SetAttr{})
	require.NoError(t, err)

	n, stability, verifier1, err := e.Write(fid, 0, []byte("draft"), Unstable)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, Unstable, stability)

	data, _, err := e.Read(fid, 0, 5)
	require.NoError(t, err)
	assert.Equal(t, "draft", string(data))

	verifier2, err := e.Commit(fid, 0, 5)
	require.NoError(t, err)
	assert.Equal(t, verifier1, verifier2)

	data, attr, err := e.Read(fid, 0, 5)
	require.NoError(t, err)
	assert.Equal(t, "draft", string(data))
	assert.EqualValues(t, 5, attr.Size)
}

func TestPendingRegionsReflectsCleanDirtyState(t *testing.T) {
	e := newTestEngine(t)
	fid, _, err := e.Create(RootFid, "f", SetAttr{})
	require.NoError(t, err)

	assert.Equal(t, 0, e.PendingRegions(fid))
	_, _, _, err = e.Write(fid, 0, []byte("x"), Unstable)
	require.NoError(t, err)
	assert.Equal(t, 1, e.PendingRegions(fid))

	_, err = e.Commit(fid, 0, 1)
	require.NoError(t, err)
	assert.Equal(t, 0, e.PendingRegions(fid))
}

func TestCommitWithNoPendingWritesIsANoop(t *testing.T) {
	e := newTestEngine(t)
	fid, _, err := e.Create(RootFid, "f", SetAttr{})
	require.NoError(t, err)

	verifier, err := e.Commit(fid, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, e.epoch.current(), verifier)
}

func TestLaterUnstableWriteWinsOnOverlap(t *testing.T) {
	e := newTestEngine(t)
	fid, _, err := e.Create(RootFid, "f", SetAttr{})
	require.NoError(t, err)

	_, _, _, err = e.Write(fid, 0, []byte("aaaaa"), Unstable)
	require.NoError(t, err)
	_, _, _, err = e.Write(fid, 2, []byte("bbb"), Unstable)
	require.NoError(t, err)

	data, _, err := e.Read(fid, 0, 5)
	require.NoError(t, err)
	assert.Equal(t, "aabbb", string(data))

	_, err = e.Commit(fid, 0, 5)
	require.NoError(t, err)
	data, _, err = e.Read(fid, 0, 5)
	require.NoError(t, err)
	assert.Equal(t, "aabbb", string(data))
}

func TestReadOfDirectoryFails(t *testing.T) {
	e := newTestEngine(t)
	dirFid, _, err := e.Mkdir(RootFid, "d", SetAttr{})
	require.NoError(t, err)

	_, _, err = e.Read(dirFid, 0, 1)
	require.Error(t, err)
	assert.Equal(t, CodeIsDir, CodeOf(err))
}

func TestMaxPendingBytesRejectsOversizedBuffer(t *testing.T) {
	e, err := New(t.TempDir(), WithMaxPendingBytes(4))
	require.NoError(t, err)
	fid, _, err := e.Create(RootFid, "f", SetAttr{})
	require.NoError(t, err)

	_, _, _, err = e.Write(fid, 0, []byte("ab"), Unstable)
	require.NoError(t, err)
	_, _, _, err = e.Write(fid, 100, []byte("cd"), Unstable)
	require.Error(t, err)
}
