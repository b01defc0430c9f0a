package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestPrometheusRecorder(t *testing.T) {
	registry := prometheus.NewRegistry()

	recorder, err := NewPrometheusRecorder(registry)
	assert.NoError(t, err)

	recorder.Hit("list")
	recorder.Hit("list")
	recorder.Miss("list", MissExpired)
	recorder.Miss("image", MissAbsent)
	recorder.Put("list")
	recorder.PutFailure("image")
	recorder.Eviction("list", 5)
	recorder.Invalidation("list")
	recorder.Invalidation("")

	assert.Equal(t, 2.0, testutil.ToFloat64(recorder.hits.WithLabelValues("list")))
	assert.Equal(t, 1.0, testutil.ToFloat64(recorder.misses.WithLabelValues("list", "expired")))
	assert.Equal(t, 1.0, testutil.ToFloat64(recorder.misses.WithLabelValues("image", "absent")))
	assert.Equal(t, 1.0, testutil.ToFloat64(recorder.puts.WithLabelValues("list")))
	assert.Equal(t, 1.0, testutil.ToFloat64(recorder.putFailures.WithLabelValues("image")))
	assert.Equal(t, 5.0, testutil.ToFloat64(recorder.evictions.WithLabelValues("list")))
	assert.Equal(t, 1.0, testutil.ToFloat64(recorder.invalidations.WithLabelValues("list")))
	assert.Equal(t, 1.0, testutil.ToFloat64(recorder.invalidations.WithLabelValues("*")))

	// a second recorder on the same registry collides
	_, err = NewPrometheusRecorder(registry)
	assert.Error(t, err)

	var _ Recorder = recorder
	var _ Recorder = NoopRecorder{}
}
