package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "sampurr"

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "Total HTTP requests by method, path and status code.",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.3, 1, 3, 10, 30, 60, 180, 600},
	}, []string{"method", "path"})

	RateLimitedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rate_limited_total",
		Help:      "Total requests rejected by the rate limiter.",
	})

	ActiveStreams = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_waveform_streams",
		Help:      "Number of waveform responses currently streaming.",
	})

	StreamOutcomesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "waveform_stream_outcomes_total",
		Help:      "Waveform requests by terminal outcome.",
	}, []string{"outcome"})

	StageDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "stage_duration_seconds",
		Help:      "Duration of pipeline stages by stage and outcome.",
		Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
	}, []string{"stage", "outcome"})

	CacheLookupsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cache_lookups_total",
		Help:      "Audio cache lookups by result (hit, miss).",
	}, []string{"result"})

	MetadataCacheTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "metadata_cache_total",
		Help:      "Metadata cache lookups by result (hit, miss, error).",
	}, []string{"result"})

	ActiveExtractions = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_extractions",
		Help:      "Number of audio extractions currently running.",
	})

	ExtractionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "extractions_total",
		Help:      "Audio extractions by outcome (published, failed, cancelled).",
	}, []string{"outcome"})

	ExtractionJoinsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "extraction_joins_total",
		Help:      "Requests that joined an extraction already in flight.",
	})

	CacheSizeBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "cache_size_bytes",
		Help:      "Total size of the audio cache directory in bytes.",
	})

	SweepRemovedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sweep_removed_files_total",
		Help:      "Files removed by the cache sweep by kind (cache, staging).",
	}, []string{"kind"})

	SweepErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sweep_errors_total",
		Help:      "Total number of cache sweep failures.",
	})

	WSClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "ws_clients",
		Help:      "Number of connected activity feed clients.",
	})
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		RateLimitedTotal,
		ActiveStreams,
		StreamOutcomesTotal,
		StageDuration,
		CacheLookupsTotal,
		MetadataCacheTotal,
		ActiveExtractions,
		ExtractionsTotal,
		ExtractionJoinsTotal,
		CacheSizeBytes,
		SweepRemovedTotal,
		SweepErrorsTotal,
		WSClients,
	)
}
