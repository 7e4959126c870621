package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// These tests model a crash at a specific syscall boundary by hand-running
// the first part of an operation (create, mkdir, rename, or a synchronous
// copy-on-write write) and stopping there, then either inspecting D directly or opening a fresh
// Engine over the same data directory to model a restart (spec §8: "after
// any crash at any syscall boundary... the server restarts with a
// well-formed namespace").

// TestCreateCrashBeforeMetadataRename_LeavesJunkInvisible models a crash
// between create's two renames: the data entry has been moved into place
// but the metadata entry is still in tmp. I1 says the file does not exist
// yet, so it must stay invisible, and the name must remain available for a
// fresh create.
func TestCreateCrashBeforeMetadataRename_LeavesJunkInvisible(t *testing.T) {
	dir := t.TempDir()
	e, err := New(dir)
	require.NoError(t, err)

	fid, err := e.allocator.next()
	require.NoError(t, err)

	stageData := e.layout.stagePath()
	f, err := os.OpenFile(stageData, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	finalData := filepath.Join(e.layout.rootDataPath(), encodeData(fid))
	require.NoError(t, os.Rename(stageData, finalData))
	// Crash here: the metadata rename never happens.

	// Direct inspection: the junk data entry is on disk...
	assert.FileExists(t, finalData)

	// ...but invisible through the namespace, on this Engine and on a
	// fresh one modeling a restart.
	_, _, err = e.Lookup(RootFid, "stuck")
	require.Error(t, err)
	assert.Equal(t, CodeNoEnt, CodeOf(err))

	entries, err := e.Readdir(RootFid)
	require.NoError(t, err)
	assert.Empty(t, entries)

	e2, err := New(dir)
	require.NoError(t, err)
	entries2, err := e2.Readdir(RootFid)
	require.NoError(t, err)
	assert.Empty(t, entries2)

	// The name never became visible, so create can still use it: the
	// junk from the aborted attempt is simply orphaned, not a conflict.
	newFid, _, err := e2.Create(RootFid, "stuck", SetAttr{})
	require.NoError(t, err)
	assert.NotEqual(t, fid, newFid)
}

// TestMkdirCrashBeforeMetadataRename_LeavesJunkInvisible is the mkdir
// analogue of the create case: the staged directory is moved into place,
// but the metadata rename that would make it visible never runs.
func TestMkdirCrashBeforeMetadataRename_LeavesJunkInvisible(t *testing.T) {
	dir := t.TempDir()
	e, err := New(dir)
	require.NoError(t, err)

	fid, err := e.allocator.next()
	require.NoError(t, err)

	stageData := e.layout.stagePath()
	require.NoError(t, os.Mkdir(stageData, 0o755))

	finalData := filepath.Join(e.layout.rootDataPath(), encodeData(fid))
	require.NoError(t, os.Rename(stageData, finalData))
	// Crash here: the metadata rename never happens.

	assert.DirExists(t, finalData)

	e2, err := New(dir)
	require.NoError(t, err)
	_, _, err = e2.Lookup(RootFid, "stuckdir")
	require.Error(t, err)
	assert.Equal(t, CodeNoEnt, CodeOf(err))

	entries, err := e2.Readdir(RootFid)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

// TestRenameCrashBetweenRenames_LeavesWellFormedNamespace models a crash
// right after rename's metadata rename (the linearization point) but
// before the data entry is relocated to join it. Per the engine's
// propagation policy (spec §7), this is a benign orphan: the old name is
// gone, the new name's metadata exists without its data sibling (so it
// stays invisible rather than being reported half-formed), and nothing
// appears as junk in either directory's readdir. Completing the remaining
// rename step (modeling an operator retry after the restart) brings the
// file fully back.
func TestRenameCrashBetweenRenames_LeavesWellFormedNamespace(t *testing.T) {
	dir := t.TempDir()
	e, err := New(dir)
	require.NoError(t, err)

	srcFid, _, err := e.Create(RootFid, "src", SetAttr{})
	require.NoError(t, err)
	dstDirFid, _, err := e.Mkdir(RootFid, "dstdir", SetAttr{})
	require.NoError(t, err)

	rootPath := e.layout.rootDataPath()
	dstDirPath := filepath.Join(rootPath, encodeData(dstDirFid))

	srcMetaPath := filepath.Join(rootPath, encodeMeta(srcFid, "src"))
	newMetaPath := filepath.Join(dstDirPath, encodeMeta(srcFid, "moved"))

	require.NoError(t, os.Rename(srcMetaPath, newMetaPath))
	// Crash here: the data entry is still under rootPath, never relocated
	// to dstDirPath.

	srcDataPath := filepath.Join(rootPath, encodeData(srcFid))
	assert.FileExists(t, srcDataPath, "the data entry is still physically present")

	e2, err := New(dir)
	require.NoError(t, err)

	_, _, err = e2.Lookup(RootFid, "src")
	require.Error(t, err)
	assert.Equal(t, CodeNoEnt, CodeOf(err), "the old name no longer resolves")

	_, _, err = e2.Lookup(dstDirFid, "moved")
	require.Error(t, err)
	assert.Equal(t, CodeNoEnt, CodeOf(err), "the new name's data sibling hasn't arrived yet")

	rootEntries, err := e2.Readdir(RootFid)
	require.NoError(t, err)
	for _, ent := range rootEntries {
		assert.NotEqual(t, "src", ent.Name)
	}

	dstEntries, err := e2.Readdir(dstDirFid)
	require.NoError(t, err)
	assert.Empty(t, dstEntries, "the orphaned metadata entry must not appear as a visible child")

	// Complete the remaining rename step, modeling a repair pass after
	// the restart: relocate the data entry to join its metadata.
	newDataPath := filepath.Join(dstDirPath, encodeData(srcFid))
	require.NoError(t, os.Rename(srcDataPath, newDataPath))

	gotFid, _, err := e2.Lookup(dstDirFid, "moved")
	require.NoError(t, err)
	assert.Equal(t, srcFid, gotFid)
}

// TestSyncWriteCrashBeforeSwapRename_OriginalUntouched models a crash
// during the synchronous-write COW path (spec §4.5) after the staged copy
// has been built and fsynced but before the final rename swaps it over the
// original. The original data entry (and its content) must be untouched.
func TestSyncWriteCrashBeforeSwapRename_OriginalUntouched(t *testing.T) {
	dir := t.TempDir()
	e, err := New(dir)
	require.NoError(t, err)

	fid, _, err := e.Create(RootFid, "f", SetAttr{})
	require.NoError(t, err)
	_, _, _, err = e.Write(fid, 0, []byte("original"), FileSync)
	require.NoError(t, err)

	origPath := filepath.Join(e.layout.rootDataPath(), encodeData(fid))
	origBytes, err := os.ReadFile(origPath)
	require.NoError(t, err)
	assert.Equal(t, "original", string(origBytes))

	stage := e.layout.stagePath()
	f, err := os.OpenFile(stage, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("clobbered")
	require.NoError(t, err)
	require.NoError(t, f.Sync())
	require.NoError(t, f.Close())
	// Crash here: the swap rename never happens, so orig is untouched.

	e2, err := New(dir)
	require.NoError(t, err)
	data, _, err := e2.Read(fid, 0, 64)
	require.NoError(t, err)
	assert.Equal(t, "original", string(data))

	// The abandoned staged copy is tmp-local junk: invisible, and safe
	// to leave for the next process to ignore.
	assert.FileExists(t, stage)
}
