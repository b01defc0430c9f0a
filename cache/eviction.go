package cache

import (
	"errors"
	"os"
	"sort"
	"time"

	"github.com/cyverse/recipecache/codec"
	"github.com/cyverse/recipecache/storage"
	log "github.com/sirupsen/logrus"
	"golang.org/x/xerrors"
)

// indexedTimestamp memoizes the decoded timestamp of an entry file.
// It is valid only while the file keeps the same size and modification time.
type indexedTimestamp struct {
	size      int64
	modTime   time.Time
	timestamp time.Time
}

type evictionCandidate struct {
	file      storage.EntryFile
	timestamp time.Time
}

// evictLocked prunes the oldest entries of a partition so that at most countLimit remain.
// A zero countLimit disables pruning. The caller holds the write lock.
func (engine *Engine) evictLocked(partition Partition, countLimit int) (int, error) {
	logger := log.WithFields(log.Fields{
		"package":   "cache",
		"struct":    "Engine",
		"function":  "evictLocked",
		"partition": partition,
	})

	if countLimit == 0 {
		return 0, nil
	}

	defer engine.latency.Since(opEvict, time.Now())

	files, err := engine.store.ListEntries(string(partition))
	if err != nil {
		return 0, xerrors.Errorf("failed to list entries: %w", err)
	}

	if len(files) <= countLimit {
		return 0, nil
	}

	candidates := make([]evictionCandidate, 0, len(files))
	for _, file := range files {
		timestamp, ok := engine.lookupTimestamp(file)
		if !ok {
			logger.Warnf("no timestamp for entry %s, skipping it", file.Path)
			continue
		}

		candidates = append(candidates, evictionCandidate{
			file:      file,
			timestamp: timestamp,
		})
	}

	// stable, ties keep listing (file name) order
	sort.SliceStable(candidates, func(i int, j int) bool {
		return candidates[i].timestamp.Before(candidates[j].timestamp)
	})

	excess := len(files) - countLimit
	if excess > len(candidates) {
		excess = len(candidates)
	}

	evicted := 0
	for _, candidate := range candidates[:excess] {
		err := engine.store.RemoveEntry(candidate.file.Path)
		if err != nil {
			logger.WithError(err).Errorf("failed to evict entry %s", candidate.file.Path)
			continue
		}

		engine.forgetEntry(candidate.file.Path)
		evicted++
	}

	logger.Debugf("evicted %d of %d entries (count limit %d)", evicted, len(files), countLimit)
	return evicted, nil
}

// lookupTimestamp returns the timestamp used to order an entry for eviction.
// It prefers the encoded timestamp and falls back to the file modification time,
// which is the file's creation time since entry files are only ever renamed into place.
func (engine *Engine) lookupTimestamp(file storage.EntryFile) (time.Time, bool) {
	logger := log.WithFields(log.Fields{
		"package":  "cache",
		"struct":   "Engine",
		"function": "lookupTimestamp",
	})

	if engine.index != nil {
		if value, ok := engine.index.Get(file.Path); ok {
			if indexed, ok := value.(*indexedTimestamp); ok {
				if indexed.size == file.Size && indexed.modTime.Equal(file.ModTime) {
					return indexed.timestamp, true
				}
			}
		}
	}

	data, err := engine.store.ReadEntry(file.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return time.Time{}, false
		}

		logger.WithError(err).Debugf("falling back to modification time for %s", file.Path)
		return file.ModTime, !file.ModTime.IsZero()
	}

	timestamp, err := codec.DecodeTimestampOnly(data)
	if err != nil {
		logger.WithError(err).Debugf("falling back to modification time for %s", file.Path)
		return file.ModTime, !file.ModTime.IsZero()
	}

	if engine.index != nil {
		engine.index.Add(file.Path, &indexedTimestamp{
			size:      file.Size,
			modTime:   file.ModTime,
			timestamp: timestamp,
		})
	}

	return timestamp, true
}

// indexWrittenEntry records the timestamp of a file just written
func (engine *Engine) indexWrittenEntry(filePath string, timestamp time.Time) {
	if engine.index == nil {
		return
	}

	info, err := engine.store.StatEntry(filePath)
	if err != nil {
		engine.index.Remove(filePath)
		return
	}

	engine.index.Add(filePath, &indexedTimestamp{
		size:      info.Size(),
		modTime:   info.ModTime(),
		timestamp: timestamp,
	})
}

// forgetEntry drops the index record of a removed file
func (engine *Engine) forgetEntry(filePath string) {
	if engine.index != nil {
		engine.index.Remove(filePath)
	}
}
