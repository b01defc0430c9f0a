package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/xerrors"
)

const (
	metricsNamespace string = "recipecache"
	allPartitions    string = "*"
)

// PrometheusRecorder counts cache events by partition
type PrometheusRecorder struct {
	hits          *prometheus.CounterVec
	misses        *prometheus.CounterVec
	puts          *prometheus.CounterVec
	putFailures   *prometheus.CounterVec
	evictions     *prometheus.CounterVec
	invalidations *prometheus.CounterVec
}

// NewPrometheusRecorder creates counters and registers them to the registerer
func NewPrometheusRecorder(registerer prometheus.Registerer) (*PrometheusRecorder, error) {
	recorder := &PrometheusRecorder{
		hits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "hits_total",
			Help:      "Number of gets that returned a fresh entry.",
		}, []string{"partition"}),
		misses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "misses_total",
			Help:      "Number of gets that returned nothing, by reason.",
		}, []string{"partition", "reason"}),
		puts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "puts_total",
			Help:      "Number of entries stored.",
		}, []string{"partition"}),
		putFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "put_failures_total",
			Help:      "Number of puts that could not store the entry.",
		}, []string{"partition"}),
		evictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "evictions_total",
			Help:      "Number of entries pruned to respect the count limit.",
		}, []string{"partition"}),
		invalidations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "invalidations_total",
			Help:      "Number of partition invalidations.",
		}, []string{"partition"}),
	}

	for _, collector := range recorder.collectors() {
		err := registerer.Register(collector)
		if err != nil {
			return nil, xerrors.Errorf("failed to register cache metrics: %w", err)
		}
	}

	return recorder, nil
}

func (recorder *PrometheusRecorder) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		recorder.hits,
		recorder.misses,
		recorder.puts,
		recorder.putFailures,
		recorder.evictions,
		recorder.invalidations,
	}
}

// Hit implements Recorder
func (recorder *PrometheusRecorder) Hit(partition string) {
	recorder.hits.WithLabelValues(partition).Inc()
}

// Miss implements Recorder
func (recorder *PrometheusRecorder) Miss(partition string, reason MissReason) {
	recorder.misses.WithLabelValues(partition, string(reason)).Inc()
}

// Put implements Recorder
func (recorder *PrometheusRecorder) Put(partition string) {
	recorder.puts.WithLabelValues(partition).Inc()
}

// PutFailure implements Recorder
func (recorder *PrometheusRecorder) PutFailure(partition string) {
	recorder.putFailures.WithLabelValues(partition).Inc()
}

// Eviction implements Recorder
func (recorder *PrometheusRecorder) Eviction(partition string, count int) {
	recorder.evictions.WithLabelValues(partition).Add(float64(count))
}

// Invalidation implements Recorder
func (recorder *PrometheusRecorder) Invalidation(partition string) {
	if len(partition) == 0 {
		partition = allPartitions
	}
	recorder.invalidations.WithLabelValues(partition).Inc()
}
