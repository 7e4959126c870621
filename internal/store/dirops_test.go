package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateLookupRemove(t *testing.T) {
	e := newTestEngine(t)

	fid, attr, err := e.Create(RootFid, "file.txt", SetAttr{})
	require.NoError(t, err)
	assert.Equal(t, TypeRegular, attr.Type)
	assert.EqualValues(t, 1, attr.Nlink)

	gotFid, gotAttr, err := e.Lookup(RootFid, "file.txt")
	require.NoError(t, err)
	assert.Equal(t, fid, gotFid)
	assert.Equal(t, attr.Mode, gotAttr.Mode)

	require.NoError(t, e.Remove(RootFid, "file.txt"))
	_, _, err = e.Lookup(RootFid, "file.txt")
	require.Error(t, err)
	assert.Equal(t, CodeNoEnt, CodeOf(err))
}

func TestCreateDuplicateNameFails(t *testing.T) {
	e := newTestEngine(t)
	_, _, err := e.Create(RootFid, "dup", SetAttr{})
	require.NoError(t, err)
	_, _, err = e.Create(RootFid, "dup", SetAttr{})
	require.Error(t, err)
	assert.Equal(t, CodeExist, CodeOf(err))
}

func TestRemoveOfDirectoryFails(t *testing.T) {
	e := newTestEngine(t)
	_, _, err := e.Mkdir(RootFid, "d", SetAttr{})
	require.NoError(t, err)
	err = e.Remove(RootFid, "d")
	require.Error(t, err)
	assert.Equal(t, CodeIsDir, CodeOf(err))
}

func TestMkdirRmdirAndNlinkTracksSubdirs(t *testing.T) {
	e := newTestEngine(t)

	rootAttr, err := e.GetAttr(RootFid)
	require.NoError(t, err)
	assert.EqualValues(t, 2, rootAttr.Nlink)

	dirFid, _, err := e.Mkdir(RootFid, "sub", SetAttr{})
	require.NoError(t, err)

	rootAttr, err = e.GetAttr(RootFid)
	require.NoError(t, err)
	assert.EqualValues(t, 3, rootAttr.Nlink)

	_, _, err = e.Mkdir(dirFid, "nested", SetAttr{})
	require.NoError(t, err)
	subAttr, err := e.GetAttr(dirFid)
	require.NoError(t, err)
	assert.EqualValues(t, 3, subAttr.Nlink)

	require.NoError(t, e.Rmdir(dirFid, "nested"))
	require.NoError(t, e.Rmdir(RootFid, "sub"))

	rootAttr, err = e.GetAttr(RootFid)
	require.NoError(t, err)
	assert.EqualValues(t, 2, rootAttr.Nlink)
}

func TestRmdirFailsWhenNotEmpty(t *testing.T) {
	e := newTestEngine(t)
	dirFid, _, err := e.Mkdir(RootFid, "d", SetAttr{})
	require.NoError(t, err)
	_, _, err = e.Create(dirFid, "child", SetAttr{})
	require.NoError(t, err)

	err = e.Rmdir(RootFid, "d")
	require.Error(t, err)
	assert.Equal(t, CodeNotEmpty, CodeOf(err))
}

func TestRmdirFailsOnNonDirectory(t *testing.T) {
	e := newTestEngine(t)
	_, _, err := e.Create(RootFid, "f", SetAttr{})
	require.NoError(t, err)
	err = e.Rmdir(RootFid, "f")
	require.Error(t, err)
	assert.Equal(t, CodeNotDir, CodeOf(err))
}

func TestReaddirSkipsNothingButEntries(t *testing.T) {
	e := newTestEngine(t)
	_, _, err := e.Create(RootFid, "a", SetAttr{})
	require.NoError(t, err)
	_, _, err = e.Mkdir(RootFid, "b", SetAttr{})
	require.NoError(t, err)

	entries, err := e.Readdir(RootFid)
	require.NoError(t, err)
	names := map[string]bool{}
	for _, ent := range entries {
		names[ent.Name] = true
	}
	assert.True(t, names["a"])
	assert.True(t, names["b"])
	assert.Len(t, entries, 2)
}

func TestRenameWithinSameDirectory(t *testing.T) {
	e := newTestEngine(t)
	fid, _, err := e.Create(RootFid, "old", SetAttr{})
	require.NoError(t, err)

	require.NoError(t, e.Rename(RootFid, "old", RootFid, "new"))

	_, _, err = e.Lookup(RootFid, "old")
	require.Error(t, err)
	gotFid, _, err := e.Lookup(RootFid, "new")
	require.NoError(t, err)
	assert.Equal(t, fid, gotFid)
}

func TestRenameAcrossDirectories(t *testing.T) {
	e := newTestEngine(t)
	dirFid, _, err := e.Mkdir(RootFid, "dst", SetAttr{})
	require.NoError(t, err)
	fid, _, err := e.Create(RootFid, "f", SetAttr{})
	require.NoError(t, err)

	require.NoError(t, e.Rename(RootFid, "f", dirFid, "f"))

	_, _, err = e.Lookup(RootFid, "f")
	require.Error(t, err)
	gotFid, _, err := e.Lookup(dirFid, "f")
	require.NoError(t, err)
	assert.Equal(t, fid, gotFid)
}

func TestRenameReplacesExistingDestination(t *testing.T) {
	e := newTestEngine(t)
	srcFid, _, err := e.Create(RootFid, "src", SetAttr{})
	require.NoError(t, err)
	_, _, err = e.Create(RootFid, "dst", SetAttr{})
	require.NoError(t, err)

	require.NoError(t, e.Rename(RootFid, "src", RootFid, "dst"))

	gotFid, _, err := e.Lookup(RootFid, "dst")
	require.NoError(t, err)
	assert.Equal(t, srcFid, gotFid)
}

func TestRenameDirectoryOntoNonEmptyDirectoryFails(t *testing.T) {
	e := newTestEngine(t)
	_, _, err := e.Mkdir(RootFid, "src", SetAttr{})
	require.NoError(t, err)
	dstFid, _, err := e.Mkdir(RootFid, "dst", SetAttr{})
	require.NoError(t, err)
	_, _, err = e.Create(dstFid, "occupied", SetAttr{})
	require.NoError(t, err)

	err = e.Rename(RootFid, "src", RootFid, "dst")
	require.Error(t, err)
	assert.Equal(t, CodeNotEmpty, CodeOf(err))

	_, _, lookupErr := e.Lookup(RootFid, "src")
	assert.NoError(t, lookupErr)
}

func TestRenameTypeMismatchFails(t *testing.T) {
	e := newTestEngine(t)
	_, _, err := e.Mkdir(RootFid, "dir", SetAttr{})
	require.NoError(t, err)
	_, _, err = e.Create(RootFid, "file", SetAttr{})
	require.NoError(t, err)

	err = e.Rename(RootFid, "file", RootFid, "dir")
	require.Error(t, err)
	assert.Equal(t, CodeIsDir, CodeOf(err))

	err = e.Rename(RootFid, "dir", RootFid, "file")
	require.Error(t, err)
	assert.Equal(t, CodeNotDir, CodeOf(err))
}

func TestSetAttrBumpsCtimeAndPersists(t *testing.T) {
	e := newTestEngine(t)
	fid, before, err := e.Create(RootFid, "f", SetAttr{})
	require.NoError(t, err)

	mode := uint32(0o600)
	after, err := e.SetAttr(fid, SetAttr{Mode: &mode})
	require.NoError(t, err)
	assert.Equal(t, mode, after.Mode)
	assert.True(t, !after.Ctime.Before(before.Ctime))

	reread, err := e.GetAttr(fid)
	require.NoError(t, err)
	assert.Equal(t, mode, reread.Mode)
}

func TestInvalidNamesRejected(t *testing.T) {
	e := newTestEngine(t)
	for _, name := range []string{"", ".", "..", "a/b", "a\x00b"} {
		_, _, err := e.Create(RootFid, name, SetAttr{})
		require.Error(t, err, "name %q should be rejected", name)
	}
}
