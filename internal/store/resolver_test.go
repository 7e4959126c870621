package store

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveFindsFidViaBFSAfterCacheEviction(t *testing.T) {
	e := newTestEngine(t)
	dirFid, _, err := e.Mkdir(RootFid, "a", SetAttr{})
	require.NoError(t, err)
	fid, _, err := e.Create(dirFid, "b", SetAttr{})
	require.NoError(t, err)

	e.resolver.evict(fid)
	path, err := e.resolver.resolve(fid)
	require.NoError(t, err)
	assert.FileExists(t, path)
}

func TestResolveStaleCacheEntryIsRevalidated(t *testing.T) {
	e := newTestEngine(t)
	fid, _, err := e.Create(RootFid, "f", SetAttr{})
	require.NoError(t, err)

	path, err := e.resolver.resolve(fid)
	require.NoError(t, err)

	require.NoError(t, os.RemoveAll(path))
	e.resolver.set(fid, path) // pretend the cache still points at the vanished entry

	_, err = e.resolver.resolve(fid)
	require.Error(t, err)
	assert.Equal(t, CodeStale, CodeOf(err))
}

func TestResolveUnknownFidIsStale(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.resolver.resolve(Fid(999999))
	require.Error(t, err)
	assert.Equal(t, CodeStale, CodeOf(err))
}
