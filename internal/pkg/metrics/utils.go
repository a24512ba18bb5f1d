package metrics

import "github.com/prometheus/client_golang/prometheus"

// Register tries to register or reregister metric to prometheus default registry
func Register(m prometheus.Collector) error {
	err := prometheus.Register(m)
	if err != nil {
		prometheus.Unregister(m)
		err = prometheus.Register(m)
	}
	return err
}

const namespace = "transponster"

// NewFilesCounter counts processed files by outcome
func NewFilesCounter() *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "files_total",
		Help:      "Processed files by outcome",
	}, []string{"outcome"})
}

// NewTranscriptionDuration observes end to end per file processing seconds
func NewTranscriptionDuration() prometheus.Histogram {
	return prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "transcription_duration_seconds",
		Help:      "Per file processing duration",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
	})
}

// NewBatchSize observes finalized batch sizes
func NewBatchSize() prometheus.Histogram {
	return prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "batch_size_files",
		Help:      "Files per finalized upload batch",
		Buckets:   []float64{1, 2, 3, 5, 8, 13, 21},
	})
}

// NewFallbackCounter counts translation chunks that needed the per line fallback
func NewFallbackCounter() prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "translation_chunk_fallbacks_total",
		Help:      "Translation chunks transformed line by line after batch failures",
	})
}
