package cache

import (
	"bytes"
	"errors"
	"os"
	"time"

	"github.com/cyverse/recipecache/codec"
	"github.com/cyverse/recipecache/metrics"
	"github.com/cyverse/recipecache/utils"
	log "github.com/sirupsen/logrus"
	"golang.org/x/xerrors"
)

// Get returns the entry stored for key in the partition.
// Absent, expired, corrupted and unreadable entries are all reported as a miss;
// expired and corrupted files are removed in the background.
func Get[T any](engine *Engine, partition Partition, key string) (*Entry[T], bool) {
	logger := log.WithFields(log.Fields{
		"package":   "cache",
		"function":  "Get",
		"partition": partition,
	})

	defer utils.StackTraceFromPanic(logger)
	defer engine.latency.Since(opGet, time.Now())

	engine.gate.RLock()
	defer engine.gate.RUnlock()

	identifier := utils.MakeHash(key)
	filePath, err := engine.store.FilePathFor(string(partition), identifier)
	if err != nil {
		logger.WithError(err).Errorf("failed to locate entry for key %q", key)
		engine.recorder.Miss(string(partition), metrics.MissFailed)
		return nil, false
	}

	data, err := engine.store.ReadEntry(filePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logger.Debugf("cache miss for key %q", key)
			engine.recorder.Miss(string(partition), metrics.MissAbsent)
			return nil, false
		}

		logger.WithError(err).Errorf("failed to read entry for key %q", key)
		engine.recorder.Miss(string(partition), metrics.MissFailed)
		return nil, false
	}

	decoded, err := codec.DecodeFull[T](data)
	if err != nil {
		logger.WithError(err).Warnf("discarding corrupted entry for key %q", key)
		engine.scheduleRemoval(partition, filePath, data)
		engine.recorder.Miss(string(partition), metrics.MissCorrupted)
		return nil, false
	}

	if !engine.isFresh(decoded.Timestamp, engine.timeToLive) {
		logger.Debugf("entry for key %q expired (timestamp %s)", key, utils.MakeTimeToString(decoded.Timestamp))
		engine.scheduleRemoval(partition, filePath, data)
		engine.recorder.Miss(string(partition), metrics.MissExpired)
		return nil, false
	}

	engine.recorder.Hit(string(partition))
	return &Entry[T]{
		Payload:   decoded.Payload,
		Timestamp: decoded.Timestamp,
	}, true
}

// Put stores payload for key in the partition, replacing any previous entry,
// then prunes the partition down to the count limit.
// timestamp is when the payload became valid, not when it is written.
// Failures are logged and never returned; caching is best effort.
func Put[T any](engine *Engine, partition Partition, key string, payload T, timestamp time.Time) {
	logger := log.WithFields(log.Fields{
		"package":   "cache",
		"function":  "Put",
		"partition": partition,
	})

	defer utils.StackTraceFromPanic(logger)
	defer engine.latency.Since(opPut, time.Now())

	data, err := codec.Encode(&codec.Entry[T]{
		Payload:   payload,
		Timestamp: timestamp,
	})
	if err != nil {
		logger.WithError(err).Errorf("failed to encode entry for key %q", key)
		engine.recorder.PutFailure(string(partition))
		return
	}

	err = engine.gate.DoWithLock(func() error {
		return engine.putLocked(partition, key, data, timestamp)
	})
	if err != nil {
		logger.WithError(err).Errorf("failed to put entry for key %q", key)
		engine.recorder.PutFailure(string(partition))
		return
	}

	engine.recorder.Put(string(partition))
}

// PutTimestamped is Put for payloads that carry their own timestamp
func PutTimestamped[T Timestamped](engine *Engine, partition Partition, key string, payload T) {
	Put(engine, partition, key, payload, payload.GetTimestamp())
}

func (engine *Engine) putLocked(partition Partition, key string, data []byte, timestamp time.Time) error {
	logger := log.WithFields(log.Fields{
		"package":   "cache",
		"struct":    "Engine",
		"function":  "putLocked",
		"partition": partition,
	})

	filePath, err := engine.store.WriteAtomically(string(partition), utils.MakeHash(key), data)
	if err != nil {
		return xerrors.Errorf("failed to write entry: %w", err)
	}

	engine.indexWrittenEntry(filePath, timestamp)

	// the entry is stored, an eviction failure does not fail the put
	evicted, err := engine.evictLocked(partition, engine.countLimit)
	if err != nil {
		logger.WithError(err).Error("failed to evict entries")
	}
	if evicted > 0 {
		engine.recorder.Eviction(string(partition), evicted)
	}

	return nil
}

// scheduleRemoval deletes a stale or corrupted entry file in the background.
// The caller holds the read lock; the removal runs later under the write lock
// and only if the file still holds the bytes observed by the caller, so a put
// that replaced the entry meanwhile is never clobbered.
func (engine *Engine) scheduleRemoval(partition Partition, filePath string, observed []byte) {
	engine.pendingRemovalsMutex.Lock()
	engine.pendingRemovals++
	engine.pendingRemovalsMutex.Unlock()

	go func() {
		defer engine.removalDone()
		engine.removeIfUnchanged(partition, filePath, observed)
	}()
}

func (engine *Engine) removalDone() {
	engine.pendingRemovalsMutex.Lock()
	defer engine.pendingRemovalsMutex.Unlock()

	engine.pendingRemovals--
	if engine.pendingRemovals == 0 {
		engine.pendingRemovalsCond.Broadcast()
	}
}

// WaitForRemovals blocks until all scheduled removals are done.
// It must not be called while holding the engine's locks.
func (engine *Engine) WaitForRemovals() {
	engine.pendingRemovalsMutex.Lock()
	defer engine.pendingRemovalsMutex.Unlock()

	for engine.pendingRemovals > 0 {
		engine.pendingRemovalsCond.Wait()
	}
}

func (engine *Engine) removeIfUnchanged(partition Partition, filePath string, observed []byte) {
	logger := log.WithFields(log.Fields{
		"package":   "cache",
		"struct":    "Engine",
		"function":  "removeIfUnchanged",
		"partition": partition,
	})

	defer utils.StackTraceFromPanic(logger)

	err := engine.gate.DoWithLock(func() error {
		current, err := engine.store.ReadEntry(filePath)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				// invalidated or evicted meanwhile
				return nil
			}
			return err
		}

		if !bytes.Equal(current, observed) {
			logger.Debugf("entry %s was replaced, keeping it", filePath)
			return nil
		}

		err = engine.store.RemoveEntry(filePath)
		if err != nil {
			return err
		}

		engine.forgetEntry(filePath)
		logger.Debugf("removed entry %s", filePath)
		return nil
	})
	if err != nil {
		logger.WithError(err).Errorf("failed to remove entry %s", filePath)
	}
}
