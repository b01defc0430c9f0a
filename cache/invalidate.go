package cache

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/cyverse/recipecache/utils"
	log "github.com/sirupsen/logrus"
)

// Invalidate removes every entry of a partition. Invalidating an empty or
// nonexistent partition succeeds silently. Other partitions are untouched.
func (engine *Engine) Invalidate(partition Partition) {
	logger := log.WithFields(log.Fields{
		"package":   "cache",
		"struct":    "Engine",
		"function":  "Invalidate",
		"partition": partition,
	})

	defer utils.StackTraceFromPanic(logger)
	defer engine.latency.Since(opInvalidate, time.Now())

	err := engine.gate.DoWithLock(func() error {
		err := engine.store.ResetPartition(string(partition))
		engine.forgetPartition(partition)
		return err
	})
	if err != nil {
		logger.WithError(err).Error("failed to invalidate partition")
		return
	}

	engine.recorder.Invalidation(string(partition))
	logger.Debug("invalidated partition")
}

// InvalidateAll removes every entry of every partition
func (engine *Engine) InvalidateAll() {
	logger := log.WithFields(log.Fields{
		"package":  "cache",
		"struct":   "Engine",
		"function": "InvalidateAll",
	})

	defer utils.StackTraceFromPanic(logger)
	defer engine.latency.Since(opInvalidate, time.Now())

	err := engine.gate.DoWithLock(func() error {
		err := engine.store.ResetAll()
		if engine.index != nil {
			engine.index.Purge()
		}
		return err
	})
	if err != nil {
		logger.WithError(err).Error("failed to invalidate all partitions")
		return
	}

	engine.recorder.Invalidation("")
	logger.Debug("invalidated all partitions")
}

// forgetPartition drops index records of files in a partition
func (engine *Engine) forgetPartition(partition Partition) {
	if engine.index == nil {
		return
	}

	dirPath, err := engine.store.PartitionPath(string(partition))
	if err != nil {
		return
	}

	prefix := dirPath + string(filepath.Separator)
	for _, key := range engine.index.Keys() {
		if filePath, ok := key.(string); ok && strings.HasPrefix(filePath, prefix) {
			engine.index.Remove(filePath)
		}
	}
}
