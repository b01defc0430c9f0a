package metrics

// MissReason tells why a get did not return an entry
type MissReason string

const (
	MissAbsent    MissReason = "absent"
	MissExpired   MissReason = "expired"
	MissCorrupted MissReason = "corrupted"
	MissFailed    MissReason = "failed"
)

// Recorder receives cache events. Implementations must be safe for concurrent use.
type Recorder interface {
	// Hit is called when a get returns a fresh entry
	Hit(partition string)
	// Miss is called when a get returns nothing
	Miss(partition string, reason MissReason)
	// Put is called after an entry is stored
	Put(partition string)
	// PutFailure is called when storing an entry failed
	PutFailure(partition string)
	// Eviction is called with the number of entries pruned by the count limit
	Eviction(partition string, count int)
	// Invalidation is called when a partition, or all partitions ("" partition), is cleared
	Invalidation(partition string)
}

// NoopRecorder ignores all events
type NoopRecorder struct{}

func (NoopRecorder) Hit(partition string)                     {}
func (NoopRecorder) Miss(partition string, reason MissReason) {}
func (NoopRecorder) Put(partition string)                     {}
func (NoopRecorder) PutFailure(partition string)              {}
func (NoopRecorder) Eviction(partition string, count int)     {}
func (NoopRecorder) Invalidation(partition string)            {}
