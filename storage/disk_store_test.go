package storage

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/cyverse/recipecache/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiskStore(t *testing.T) {
	t.Run("test NewDiskStore", testNewDiskStore)
	t.Run("test NewDiskStoreFailure", testNewDiskStoreFailure)
	t.Run("test DirectoryFor", testDirectoryFor)
	t.Run("test InvalidPartition", testInvalidPartition)
	t.Run("test WriteReadRemove", testWriteReadRemove)
	t.Run("test ListEntries", testListEntries)
	t.Run("test ConcurrentWrites", testConcurrentWrites)
	t.Run("test ResetPartition", testResetPartition)
	t.Run("test ResetAll", testResetAll)
	t.Run("test CleanupTempFiles", testCleanupTempFiles)
}

func newTestDiskStore(t *testing.T) *DiskStore {
	store, err := NewDiskStore(filepath.Join(t.TempDir(), "cache"))
	require.NoError(t, err)
	return store
}

func testNewDiskStore(t *testing.T) {
	store := newTestDiskStore(t)

	assert.True(t, filepath.IsAbs(store.GetRootPath()))
	info, err := os.Stat(store.GetRootPath())
	assert.NoError(t, err)
	assert.True(t, info.IsDir())
	assert.Equal(t, filepath.Join(store.GetRootPath(), LockFileName), store.GetLockFilePath())
}

func testNewDiskStoreFailure(t *testing.T) {
	// a regular file where the root should be
	blocker := filepath.Join(t.TempDir(), "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0644))

	_, err := NewDiskStore(filepath.Join(blocker, "cache"))
	assert.Error(t, err)
	assert.True(t, IsStorageError(err))

	_, err = NewDiskStore("")
	assert.True(t, IsStorageError(err))
}

func testDirectoryFor(t *testing.T) {
	store := newTestDiskStore(t)

	dirPath, err := store.DirectoryFor("list")
	assert.NoError(t, err)
	assert.Equal(t, filepath.Join(store.GetRootPath(), "list"), dirPath)

	info, err := os.Stat(dirPath)
	assert.NoError(t, err)
	assert.True(t, info.IsDir())

	filePath, err := store.FilePathFor("list", "abc")
	assert.NoError(t, err)
	assert.Equal(t, filepath.Join(dirPath, "abc"+EntryFileSuffix), filePath)
}

func testInvalidPartition(t *testing.T) {
	store := newTestDiskStore(t)

	for _, partition := range []string{"", ".", "..", "../escape", "a/b", ".hidden"} {
		_, err := store.DirectoryFor(partition)
		assert.True(t, IsStorageError(err), partition)
		assert.True(t, errors.Is(err, ErrInvalidPartition), partition)

		_, err = store.ListEntries(partition)
		assert.True(t, IsStorageError(err), partition)

		_, err = store.WriteAtomically(partition, "id", []byte("data"))
		assert.True(t, IsStorageError(err), partition)
	}
}

func testWriteReadRemove(t *testing.T) {
	store := newTestDiskStore(t)

	identifier := utils.MakeHash("key")
	filePath, err := store.WriteAtomically("image", identifier, []byte("first"))
	assert.NoError(t, err)

	data, err := store.ReadEntry(filePath)
	assert.NoError(t, err)
	assert.Equal(t, []byte("first"), data)

	// overwrite replaces the whole file
	_, err = store.WriteAtomically("image", identifier, []byte("2nd"))
	assert.NoError(t, err)

	data, err = store.ReadEntry(filePath)
	assert.NoError(t, err)
	assert.Equal(t, []byte("2nd"), data)

	assert.NoError(t, store.RemoveEntry(filePath))
	assert.NoError(t, store.RemoveEntry(filePath))

	_, err = store.ReadEntry(filePath)
	assert.True(t, IsStorageError(err))
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func testListEntries(t *testing.T) {
	store := newTestDiskStore(t)

	entries, err := store.ListEntries("missing")
	assert.NoError(t, err)
	assert.Empty(t, entries)

	_, err = os.Stat(filepath.Join(store.GetRootPath(), "missing"))
	assert.True(t, errors.Is(err, os.ErrNotExist))

	for _, identifier := range []string{"c", "a", "b"} {
		_, err := store.WriteAtomically("list", identifier, []byte(identifier))
		assert.NoError(t, err)
	}

	// files that are not entries are ignored
	dirPath, err := store.DirectoryFor("list")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dirPath, ".tmp-stale"), []byte("partial"), 0644))
	require.NoError(t, os.Mkdir(filepath.Join(dirPath, "subdir"), 0755))

	entries, err = store.ListEntries("list")
	assert.NoError(t, err)
	assert.Len(t, entries, 3)

	identifiers := []string{}
	for _, entry := range entries {
		identifiers = append(identifiers, entry.Identifier)
		assert.Equal(t, int64(1), entry.Size)
		assert.False(t, entry.ModTime.IsZero())
	}
	assert.Equal(t, []string{"a", "b", "c"}, identifiers)
}

func testConcurrentWrites(t *testing.T) {
	store := newTestDiskStore(t)

	wg := sync.WaitGroup{}
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.WriteAtomically("list", "same", []byte("0123456789"))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	entries, err := store.ListEntries("list")
	assert.NoError(t, err)
	assert.Len(t, entries, 1)
	assert.Equal(t, int64(10), entries[0].Size)
}

func testResetPartition(t *testing.T) {
	store := newTestDiskStore(t)

	_, err := store.WriteAtomically("list", "a", []byte("a"))
	assert.NoError(t, err)
	_, err = store.WriteAtomically("image", "a", []byte("a"))
	assert.NoError(t, err)

	assert.NoError(t, store.ResetPartition("list"))

	entries, err := store.ListEntries("list")
	assert.NoError(t, err)
	assert.Empty(t, entries)

	entries, err = store.ListEntries("image")
	assert.NoError(t, err)
	assert.Len(t, entries, 1)

	// idempotent, also for partitions never written
	assert.NoError(t, store.ResetPartition("list"))
	assert.NoError(t, store.ResetPartition("never"))
}

func testResetAll(t *testing.T) {
	store := newTestDiskStore(t)

	require.NoError(t, os.WriteFile(store.GetLockFilePath(), []byte{}, 0644))

	_, err := store.WriteAtomically("list", "a", []byte("a"))
	assert.NoError(t, err)
	_, err = store.WriteAtomically("image", "a", []byte("a"))
	assert.NoError(t, err)

	assert.NoError(t, store.ResetAll())

	partitions, err := store.ListPartitions()
	assert.NoError(t, err)
	assert.Empty(t, partitions)

	_, err = os.Stat(store.GetLockFilePath())
	assert.NoError(t, err)

	assert.NoError(t, store.ResetAll())
}

func testCleanupTempFiles(t *testing.T) {
	store := newTestDiskStore(t)

	dirPath, err := store.DirectoryFor("list")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dirPath, tempFilePrefix+"one"), []byte("x"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dirPath, tempFilePrefix+"two"), []byte("x"), 0644))

	_, err = store.WriteAtomically("list", "kept", []byte("kept"))
	require.NoError(t, err)

	removed, err := store.CleanupTempFiles()
	assert.NoError(t, err)
	assert.Equal(t, 2, removed)

	dirEntries, err := os.ReadDir(dirPath)
	assert.NoError(t, err)
	assert.Len(t, dirEntries, 1)
	assert.Equal(t, "kept"+EntryFileSuffix, dirEntries[0].Name())
}
