package metrics

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/DataDog/sketches-go/ddsketch"
	log "github.com/sirupsen/logrus"
	"golang.org/x/xerrors"
)

// Stats holds latency statistics of an operation, in milliseconds
type Stats struct {
	Operation string  `json:"operation"`
	Count     int64   `json:"count"`
	Min       float64 `json:"min_ms"`
	P50       float64 `json:"p50_ms"`
	P90       float64 `json:"p90_ms"`
	P99       float64 `json:"p99_ms"`
	Max       float64 `json:"max_ms"`
}

// LatencyTracker keeps a quantile sketch per cache operation
type LatencyTracker struct {
	relativeAccuracy float64

	mutex    sync.Mutex
	sketches map[string]*ddsketch.DDSketch // key = operation
}

// NewLatencyTracker creates a new LatencyTracker.
// relativeAccuracy bounds the relative error of quantiles, 0.01 is 1%.
func NewLatencyTracker(relativeAccuracy float64) *LatencyTracker {
	return &LatencyTracker{
		relativeAccuracy: relativeAccuracy,
		sketches:         map[string]*ddsketch.DDSketch{},
	}
}

func (tracker *LatencyTracker) getSketch(operation string) (*ddsketch.DDSketch, error) {
	if sketch, ok := tracker.sketches[operation]; ok {
		return sketch, nil
	}

	sketch, err := ddsketch.LogUnboundedDenseDDSketch(tracker.relativeAccuracy)
	if err != nil {
		return nil, xerrors.Errorf("failed to create latency sketch for %q: %w", operation, err)
	}

	tracker.sketches[operation] = sketch
	return sketch, nil
}

// Record adds a duration to the operation's sketch. Negative durations count as zero.
func (tracker *LatencyTracker) Record(operation string, duration time.Duration) {
	logger := log.WithFields(log.Fields{
		"package":  "metrics",
		"struct":   "LatencyTracker",
		"function": "Record",
	})

	tracker.mutex.Lock()
	defer tracker.mutex.Unlock()

	sketch, err := tracker.getSketch(operation)
	if err != nil {
		logger.WithError(err).Warnf("dropping latency of %q", operation)
		return
	}

	if duration < 0 {
		duration = 0
	}

	err = sketch.Add(float64(duration) / float64(time.Millisecond))
	if err != nil {
		logger.WithError(err).Warnf("dropping latency of %q", operation)
	}
}

// Since records the time elapsed since start, for use with defer
func (tracker *LatencyTracker) Since(operation string, start time.Time) {
	tracker.Record(operation, time.Since(start))
}

// GetStats returns statistics of an operation
func (tracker *LatencyTracker) GetStats(operation string) (Stats, error) {
	tracker.mutex.Lock()
	defer tracker.mutex.Unlock()

	sketch, ok := tracker.sketches[operation]
	if !ok {
		return Stats{}, xerrors.Errorf("no latency recorded for %q", operation)
	}

	return makeStats(operation, sketch), nil
}

// GetAllStats returns statistics of all operations, sorted by operation
func (tracker *LatencyTracker) GetAllStats() []Stats {
	tracker.mutex.Lock()
	defer tracker.mutex.Unlock()

	stats := make([]Stats, 0, len(tracker.sketches))
	for operation, sketch := range tracker.sketches {
		stats = append(stats, makeStats(operation, sketch))
	}

	sort.Slice(stats, func(i int, j int) bool {
		return stats[i].Operation < stats[j].Operation
	})
	return stats
}

func makeStats(operation string, sketch *ddsketch.DDSketch) Stats {
	stats := Stats{
		Operation: operation,
		Count:     int64(sketch.GetCount()),
	}

	if sketch.IsEmpty() {
		return stats
	}

	// errors only occur on empty sketches
	stats.Min, _ = sketch.GetMinValue()
	stats.Max, _ = sketch.GetMaxValue()

	quantiles, err := sketch.GetValuesAtQuantiles([]float64{0.5, 0.9, 0.99})
	if err == nil {
		stats.P50 = quantiles[0]
		stats.P90 = quantiles[1]
		stats.P99 = quantiles[2]
	}
	return stats
}

// String returns a one line summary
func (stats Stats) String() string {
	if stats.Count == 0 {
		return fmt.Sprintf("%s: no data", stats.Operation)
	}
	return fmt.Sprintf("%s (n=%d): min=%.2fms p50=%.2fms p90=%.2fms p99=%.2fms max=%.2fms",
		stats.Operation, stats.Count, stats.Min, stats.P50, stats.P90, stats.P99, stats.Max)
}
