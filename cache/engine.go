package cache

import (
	"sync"
	"time"

	"github.com/cyverse/recipecache/config"
	"github.com/cyverse/recipecache/locking"
	"github.com/cyverse/recipecache/metrics"
	"github.com/cyverse/recipecache/storage"
	"github.com/cyverse/recipecache/utils"
	lrucache "github.com/hashicorp/golang-lru"
	log "github.com/sirupsen/logrus"
	"golang.org/x/xerrors"
)

const (
	latencyAccuracy float64 = 0.01

	opGet        string = "get"
	opPut        string = "put"
	opEvict      string = "evict"
	opInvalidate string = "invalidate"
)

// Engine is a disk-backed cache partitioned by payload category,
// bounded by a time-to-live and a per-partition entry count.
// Reads run concurrently; puts, removals, invalidations and config changes are exclusive.
type Engine struct {
	store    *storage.DiskStore
	gate     *locking.Gate
	index    *lrucache.Cache // timestamp index, can be nil
	recorder metrics.Recorder
	latency  *metrics.LatencyTracker

	// guarded by gate
	timeToLive time.Duration
	countLimit int

	pendingRemovals      int
	pendingRemovalsMutex sync.Mutex
	pendingRemovalsCond  *sync.Cond

	now func() time.Time
}

// NewEngine creates a new Engine. Failing to create the root directory is fatal.
// recorder can be nil.
func NewEngine(cacheConfig *config.Config, recorder metrics.Recorder) (*Engine, error) {
	logger := log.WithFields(log.Fields{
		"package":  "cache",
		"function": "NewEngine",
	})

	err := cacheConfig.Validate()
	if err != nil {
		return nil, xerrors.Errorf("invalid cache config: %w", err)
	}

	store, err := storage.NewDiskStore(cacheConfig.RootPath)
	if err != nil {
		return nil, xerrors.Errorf("failed to create cache root: %w", err)
	}

	if recorder == nil {
		recorder = metrics.NoopRecorder{}
	}

	engine := &Engine{
		store:      store,
		recorder:   recorder,
		latency:    metrics.NewLatencyTracker(latencyAccuracy),
		timeToLive: cacheConfig.TimeToLive,
		countLimit: cacheConfig.CountLimit,
		now:        time.Now,
	}
	engine.pendingRemovalsCond = sync.NewCond(&engine.pendingRemovalsMutex)

	if cacheConfig.CrossProcessLock {
		engine.gate = locking.NewGateWithFileLock(store.GetLockFilePath())
	} else {
		engine.gate = locking.NewGate()
	}

	if cacheConfig.TimestampIndexSize > 0 {
		index, err := lrucache.New(cacheConfig.TimestampIndexSize)
		if err != nil {
			return nil, xerrors.Errorf("failed to create timestamp index: %w", err)
		}
		engine.index = index
	}

	err = engine.gate.DoWithLock(func() error {
		removed, cleanupErr := store.CleanupTempFiles()
		if removed > 0 {
			logger.Infof("removed %d stale temp files in %s", removed, store.GetRootPath())
		}
		return cleanupErr
	})
	if err != nil {
		// leftovers are never read as entries, so this only wastes space
		logger.WithError(err).Warnf("failed to clean up temp files in %s", store.GetRootPath())
	}

	logger.Infof("cache ready at %s (ttl %v, count limit %d, file lock %t)", store.GetRootPath(), cacheConfig.TimeToLive, cacheConfig.CountLimit, engine.gate.HasFileLock())
	return engine, nil
}

// Release waits for pending removals and releases resources
func (engine *Engine) Release() {
	logger := log.WithFields(log.Fields{
		"package":  "cache",
		"struct":   "Engine",
		"function": "Release",
	})

	engine.WaitForRemovals()

	if engine.index != nil {
		engine.index.Purge()
	}

	err := engine.gate.Release()
	if err != nil {
		logger.WithError(err).Warn("failed to release cache lock")
	}
}

// GetRootPath returns the root directory of the cache
func (engine *Engine) GetRootPath() string {
	return engine.store.GetRootPath()
}

// GetTimeToLive returns current time-to-live
func (engine *Engine) GetTimeToLive() time.Duration {
	engine.gate.RLock()
	defer engine.gate.RUnlock()

	return engine.timeToLive
}

// GetCountLimit returns current count limit
func (engine *Engine) GetCountLimit() int {
	engine.gate.RLock()
	defer engine.gate.RUnlock()

	return engine.countLimit
}

// SetTimeToLive replaces the time-to-live seen by subsequent operations.
// Negative values are rejected and logged. Stored entries are not touched.
func (engine *Engine) SetTimeToLive(ttl time.Duration) {
	logger := log.WithFields(log.Fields{
		"package":  "cache",
		"struct":   "Engine",
		"function": "SetTimeToLive",
	})

	err := config.ValidateTimeToLive(ttl)
	if err != nil {
		logger.WithError(err).Warnf("keeping time to live %v", engine.GetTimeToLive())
		return
	}

	err = engine.gate.DoWithLock(func() error {
		engine.timeToLive = ttl
		return nil
	})
	if err != nil {
		logger.WithError(err).Error("failed to set time to live")
		return
	}

	logger.Debugf("time to live set to %v", ttl)
}

// SetTimeToLiveSeconds is SetTimeToLive taking fractional seconds
func (engine *Engine) SetTimeToLiveSeconds(seconds float64) {
	logger := log.WithFields(log.Fields{
		"package":  "cache",
		"struct":   "Engine",
		"function": "SetTimeToLiveSeconds",
	})

	err := config.ValidateTimeToLiveSeconds(seconds)
	if err != nil {
		logger.WithError(err).Warnf("keeping time to live %v", engine.GetTimeToLive())
		return
	}

	engine.SetTimeToLive(config.SecondsToDuration(seconds))
}

// SetCountLimit replaces the per-partition count limit seen by subsequent operations.
// Zero disables pruning. Negative values are rejected and logged.
func (engine *Engine) SetCountLimit(limit int) {
	logger := log.WithFields(log.Fields{
		"package":  "cache",
		"struct":   "Engine",
		"function": "SetCountLimit",
	})

	err := config.ValidateCountLimit(limit)
	if err != nil {
		logger.WithError(err).Warnf("keeping count limit %d", engine.GetCountLimit())
		return
	}

	err = engine.gate.DoWithLock(func() error {
		engine.countLimit = limit
		return nil
	})
	if err != nil {
		logger.WithError(err).Error("failed to set count limit")
		return
	}

	logger.Debugf("count limit set to %d", limit)
}

// CountEntries returns the number of entry files in a partition
func (engine *Engine) CountEntries(partition Partition) int {
	logger := log.WithFields(log.Fields{
		"package":  "cache",
		"struct":   "Engine",
		"function": "CountEntries",
	})

	count := 0
	engine.gate.DoWithReadLock(func() {
		files, err := engine.store.ListEntries(string(partition))
		if err != nil {
			logger.WithError(err).Errorf("failed to list partition %q", partition)
			return
		}
		count = len(files)
	})
	return count
}

// GetLatencyStats returns latency statistics of cache operations
func (engine *Engine) GetLatencyStats() []metrics.Stats {
	return engine.latency.GetAllStats()
}

// isFresh decides expiry. An entry is fresh while its age is below ttl,
// so a zero ttl makes every entry stale.
func (engine *Engine) isFresh(timestamp time.Time, ttl time.Duration) bool {
	return utils.GetAge(engine.now(), timestamp) < ttl
}
