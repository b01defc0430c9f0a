package locking

import (
	"sync"

	"github.com/gofrs/flock"
	"golang.org/x/xerrors"
)

// Gate is a reader/writer gate for one cache instance.
// Readers run in parallel with each other; a writer excludes every other
// reader and writer. When created with a lock file, writers also hold an
// exclusive flock so that processes sharing a cache root serialize their writes.
type Gate struct {
	mutex    sync.RWMutex
	fileLock *flock.Flock // can be nil
}

// NewGate creates a Gate local to this process
func NewGate() *Gate {
	return &Gate{}
}

// NewGateWithFileLock creates a Gate that also takes an exclusive lock on lockFilePath for writes
func NewGateWithFileLock(lockFilePath string) *Gate {
	return &Gate{
		fileLock: flock.New(lockFilePath),
	}
}

// RLock acquires shared access
func (gate *Gate) RLock() {
	gate.mutex.RLock()
}

// RUnlock releases shared access
func (gate *Gate) RUnlock() {
	gate.mutex.RUnlock()
}

// Lock acquires exclusive access. On error, nothing is held.
func (gate *Gate) Lock() error {
	gate.mutex.Lock()

	if gate.fileLock != nil {
		err := gate.fileLock.Lock()
		if err != nil {
			gate.mutex.Unlock()
			return xerrors.Errorf("failed to lock file %s: %w", gate.fileLock.Path(), err)
		}
	}
	return nil
}

// Unlock releases exclusive access
func (gate *Gate) Unlock() error {
	defer gate.mutex.Unlock()

	if gate.fileLock != nil {
		err := gate.fileLock.Unlock()
		if err != nil {
			return xerrors.Errorf("failed to unlock file %s: %w", gate.fileLock.Path(), err)
		}
	}
	return nil
}

// DoWithReadLock runs fn with shared access
func (gate *Gate) DoWithReadLock(fn func()) {
	gate.RLock()
	defer gate.RUnlock()

	fn()
}

// DoWithLock runs fn with exclusive access. fn is not run if the lock cannot be acquired.
func (gate *Gate) DoWithLock(fn func() error) error {
	err := gate.Lock()
	if err != nil {
		return err
	}

	fnErr := fn()
	unlockErr := gate.Unlock()
	if fnErr != nil {
		return fnErr
	}
	return unlockErr
}

// HasFileLock returns true if writes are also serialized across processes
func (gate *Gate) HasFileLock() bool {
	return gate.fileLock != nil
}

// Release closes the lock file
func (gate *Gate) Release() error {
	gate.mutex.Lock()
	defer gate.mutex.Unlock()

	if gate.fileLock != nil {
		err := gate.fileLock.Close()
		if err != nil {
			return xerrors.Errorf("failed to close lock file %s: %w", gate.fileLock.Path(), err)
		}
	}
	return nil
}
