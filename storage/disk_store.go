package storage

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/cyverse/recipecache/utils"
	"github.com/rs/xid"
	"golang.org/x/xerrors"
)

const (
	// EntryFileSuffix is the extension of every entry file
	EntryFileSuffix string = ".entry"
	// LockFileName is the name of the cross-process lock file in the root
	LockFileName string = ".lock"

	tempFilePrefix string      = ".tmp-"
	dirPerm        os.FileMode = 0755
	filePerm       os.FileMode = 0644
)

// ErrInvalidPartition is wrapped by StorageError when a partition name cannot be a directory name
var ErrInvalidPartition = xerrors.New("invalid partition name")

// EntryFile describes an entry file found in a partition
type EntryFile struct {
	Identifier string
	Path       string
	Size       int64
	ModTime    time.Time
}

// DiskStore lays out partitions as sub directories of a root directory,
// holding one file per entry
type DiskStore struct {
	rootPath string
}

// NewDiskStore creates a new DiskStore, creating the root directory if absent.
// Failure to create the root is fatal for the cache.
func NewDiskStore(rootPath string) (*DiskStore, error) {
	if len(rootPath) == 0 {
		return nil, NewStorageError("create root directory", rootPath, xerrors.New("empty root path"))
	}

	absRootPath, err := filepath.Abs(rootPath)
	if err != nil {
		return nil, NewStorageError("resolve root directory", rootPath, err)
	}

	err = os.MkdirAll(absRootPath, dirPerm)
	if err != nil {
		return nil, NewStorageError("create root directory", absRootPath, err)
	}

	return &DiskStore{
		rootPath: absRootPath,
	}, nil
}

// GetRootPath returns root path of disk store
func (store *DiskStore) GetRootPath() string {
	return store.rootPath
}

// GetLockFilePath returns path of the lock file
func (store *DiskStore) GetLockFilePath() string {
	return utils.JoinPath(store.rootPath, LockFileName)
}

// PartitionPath returns the directory path of a partition without creating it
func (store *DiskStore) PartitionPath(partition string) (string, error) {
	if !utils.IsSafePathElement(partition) {
		return "", NewStorageError("resolve partition", partition, ErrInvalidPartition)
	}

	return utils.JoinPath(store.rootPath, partition), nil
}

// DirectoryFor returns the directory path of a partition, creating it if absent
func (store *DiskStore) DirectoryFor(partition string) (string, error) {
	dirPath, err := store.PartitionPath(partition)
	if err != nil {
		return "", err
	}

	err = os.MkdirAll(dirPath, dirPerm)
	if err != nil {
		return "", NewStorageError("create partition directory", dirPath, err)
	}

	return dirPath, nil
}

// FilePathFor returns the entry file path for the identifier in a partition
func (store *DiskStore) FilePathFor(partition string, identifier string) (string, error) {
	dirPath, err := store.PartitionPath(partition)
	if err != nil {
		return "", err
	}

	return utils.JoinPath(dirPath, identifier+EntryFileSuffix), nil
}

// ListEntries returns entry files in a partition, ordered by file name.
// A partition that does not exist yet has no entries.
func (store *DiskStore) ListEntries(partition string) ([]EntryFile, error) {
	dirPath, err := store.PartitionPath(partition)
	if err != nil {
		return nil, err
	}

	dirEntries, err := os.ReadDir(dirPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []EntryFile{}, nil
		}
		return nil, NewStorageError("list partition directory", dirPath, err)
	}

	entries := []EntryFile{}
	for _, dirEntry := range dirEntries {
		if dirEntry.IsDir() || !strings.HasSuffix(dirEntry.Name(), EntryFileSuffix) {
			continue
		}

		info, err := dirEntry.Info()
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				// removed while listing
				continue
			}
			return nil, NewStorageError("stat entry file", utils.JoinPath(dirPath, dirEntry.Name()), err)
		}

		entries = append(entries, EntryFile{
			Identifier: strings.TrimSuffix(dirEntry.Name(), EntryFileSuffix),
			Path:       utils.JoinPath(dirPath, dirEntry.Name()),
			Size:       info.Size(),
			ModTime:    info.ModTime(),
		})
	}

	// ReadDir already sorts by name, keep the guarantee explicit
	sort.SliceStable(entries, func(i int, j int) bool {
		return entries[i].Identifier < entries[j].Identifier
	})

	return entries, nil
}

// ListPartitions returns names of partitions present in the root directory
func (store *DiskStore) ListPartitions() ([]string, error) {
	dirEntries, err := os.ReadDir(store.rootPath)
	if err != nil {
		return nil, NewStorageError("list root directory", store.rootPath, err)
	}

	partitions := []string{}
	for _, dirEntry := range dirEntries {
		if dirEntry.IsDir() && utils.IsSafePathElement(dirEntry.Name()) {
			partitions = append(partitions, dirEntry.Name())
		}
	}
	return partitions, nil
}

// WriteAtomically writes data for the identifier in a partition.
// Data is written to a temp file in the partition directory and renamed into place,
// so readers observe either the previous file or the complete new one.
func (store *DiskStore) WriteAtomically(partition string, identifier string, data []byte) (string, error) {
	dirPath, err := store.DirectoryFor(partition)
	if err != nil {
		return "", err
	}

	filePath := utils.JoinPath(dirPath, identifier+EntryFileSuffix)
	tempPath := utils.JoinPath(dirPath, tempFilePrefix+xid.New().String())

	err = writeAndSync(tempPath, data)
	if err != nil {
		os.Remove(tempPath)
		return "", NewStorageError("write temp file", tempPath, err)
	}

	err = os.Rename(tempPath, filePath)
	if err != nil {
		os.Remove(tempPath)
		return "", NewStorageError("rename temp file", filePath, err)
	}

	return filePath, nil
}

func writeAndSync(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, filePerm)
	if err != nil {
		return err
	}

	_, err = f.Write(data)
	if err != nil {
		f.Close()
		return err
	}

	err = f.Sync()
	if err != nil {
		f.Close()
		return err
	}

	return f.Close()
}

// ReadEntry reads an entry file. A missing file yields an error matching os.ErrNotExist.
func (store *DiskStore) ReadEntry(filePath string) ([]byte, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, NewStorageError("read entry file", filePath, err)
	}
	return data, nil
}

// StatEntry returns size and modification time of an entry file
func (store *DiskStore) StatEntry(filePath string) (os.FileInfo, error) {
	info, err := os.Stat(filePath)
	if err != nil {
		return nil, NewStorageError("stat entry file", filePath, err)
	}
	return info, nil
}

// RemoveEntry removes an entry file. Removing a missing file succeeds.
func (store *DiskStore) RemoveEntry(filePath string) error {
	err := os.Remove(filePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return NewStorageError("remove entry file", filePath, err)
	}
	return nil
}

// ResetPartition deletes a partition directory and recreates it empty
func (store *DiskStore) ResetPartition(partition string) error {
	dirPath, err := store.PartitionPath(partition)
	if err != nil {
		return err
	}

	err = os.RemoveAll(dirPath)
	if err != nil {
		return NewStorageError("remove partition directory", dirPath, err)
	}

	_, err = store.DirectoryFor(partition)
	return err
}

// ResetAll empties the root directory. The lock file is kept since
// other processes may hold it.
func (store *DiskStore) ResetAll() error {
	dirEntries, err := os.ReadDir(store.rootPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return NewStorageError("list root directory", store.rootPath, err)
		}
		dirEntries = nil
	}

	for _, dirEntry := range dirEntries {
		if dirEntry.Name() == LockFileName {
			continue
		}

		childPath := utils.JoinPath(store.rootPath, dirEntry.Name())
		err = os.RemoveAll(childPath)
		if err != nil {
			return NewStorageError("remove", childPath, err)
		}
	}

	err = os.MkdirAll(store.rootPath, dirPerm)
	if err != nil {
		return NewStorageError("create root directory", store.rootPath, err)
	}
	return nil
}

// CleanupTempFiles removes temp files left behind by interrupted writes.
// Returns the number of files removed.
func (store *DiskStore) CleanupTempFiles() (int, error) {
	partitions, err := store.ListPartitions()
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, partition := range partitions {
		dirPath := utils.JoinPath(store.rootPath, partition)

		dirEntries, err := os.ReadDir(dirPath)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return removed, NewStorageError("list partition directory", dirPath, err)
		}

		for _, dirEntry := range dirEntries {
			if dirEntry.IsDir() || !strings.HasPrefix(dirEntry.Name(), tempFilePrefix) {
				continue
			}

			tempPath := utils.JoinPath(dirPath, dirEntry.Name())
			err = os.Remove(tempPath)
			if err != nil && !errors.Is(err, os.ErrNotExist) {
				return removed, NewStorageError("remove temp file", tempPath, err)
			}
			removed++
		}
	}

	return removed, nil
}
