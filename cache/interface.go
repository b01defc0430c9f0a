package cache

import (
	"time"

	"github.com/cyverse/recipecache/metrics"
)

// Partition names a category of homogeneous entries, stored as one sub directory
type Partition string

// String returns the partition name
func (partition Partition) String() string {
	return string(partition)
}

// Entry is a cached payload with the time it became valid
type Entry[T any] struct {
	Payload   T
	Timestamp time.Time
}

// Timestamped is a payload that carries its own validity time
type Timestamped interface {
	GetTimestamp() time.Time
}

// Controller is the non-generic surface of a cache, for consumers that
// manage the cache rather than read or write entries
type Controller interface {
	Release()

	GetRootPath() string
	GetTimeToLive() time.Duration
	GetCountLimit() int
	SetTimeToLive(ttl time.Duration)
	SetTimeToLiveSeconds(seconds float64)
	SetCountLimit(limit int)

	CountEntries(partition Partition) int
	GetLatencyStats() []metrics.Stats

	Invalidate(partition Partition)
	InvalidateAll()
}
