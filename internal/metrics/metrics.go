package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// API Metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cutcore_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cutcore_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// Asset Metrics
	AssetsRegisteredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cutcore_assets_registered_total",
			Help: "Total number of media assets registered",
		},
		[]string{"kind", "status"},
	)

	AssetSizeBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cutcore_asset_size_bytes",
			Help:    "Size of registered media assets in bytes",
			Buckets: prometheus.ExponentialBuckets(1024*1024, 2, 15), // 1MB to 16GB
		},
	)

	ProbeDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cutcore_asset_probe_duration_seconds",
			Help:    "Media probe duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Timeline Metrics
	TimelineMutationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cutcore_timeline_mutations_total",
			Help: "Total number of applied timeline commands",
		},
		[]string{"op", "status"},
	)

	TimelineMutationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cutcore_timeline_mutation_duration_seconds",
			Help:    "Timeline command apply duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8),
		},
		[]string{"op"},
	)

	HistoryDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cutcore_history_depth",
			Help: "Entries on either side of the history cursor",
		},
		[]string{"side"},
	)

	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cutcore_editing_sessions_active",
			Help: "Number of open editing sessions",
		},
	)

	InvariantViolationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cutcore_invariant_violations_total",
			Help: "Total number of detected and repaired model invariant violations",
		},
		[]string{"component", "invariant"},
	)

	// Export Job Metrics
	ExportsCreatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cutcore_exports_created_total",
			Help: "Total number of export jobs created",
		},
		[]string{"priority"},
	)

	ExportsCompletedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cutcore_exports_completed_total",
			Help: "Total number of export jobs reaching a terminal state",
		},
		[]string{"state"},
	)

	ExportsInProgress = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cutcore_exports_in_progress",
			Help: "Number of exports currently rendering",
		},
	)

	ExportQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cutcore_export_queue_depth",
			Help: "Number of exports waiting in queue",
		},
	)

	ExportDLQDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cutcore_export_dlq_depth",
			Help: "Number of exports parked in the dead letter queue",
		},
	)

	ExportDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cutcore_export_duration_seconds",
			Help:    "Export render duration in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~1 hour
		},
		[]string{"container", "codec"},
	)

	ExportQueueTime = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cutcore_export_queue_time_seconds",
			Help:    "Time exports spend waiting in queue",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		},
	)

	// Render Metrics
	FramesRenderedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cutcore_frames_rendered_total",
			Help: "Total number of frames rendered across all exports",
		},
	)

	FrameRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cutcore_frame_retries_total",
			Help: "Total number of frame render retries",
		},
	)

	FrameFallbacksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cutcore_frame_fallbacks_total",
			Help: "Total number of frames substituted with black/silence after retry",
		},
	)

	RenderSpeed = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cutcore_render_speed_ratio",
			Help:    "Render speed ratio (output duration / processing time)",
			Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 4.0, 8.0, 16.0},
		},
		[]string{"codec", "resolution"},
	)

	// Worker Metrics
	WorkerActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cutcore_worker_active",
			Help: "Number of active workers",
		},
		[]string{"worker_type"},
	)

	WorkerJobsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cutcore_worker_jobs_processed_total",
			Help: "Total number of jobs processed by workers",
		},
		[]string{"worker_id", "worker_type"},
	)

	// Transcription Metrics
	TranscriptionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cutcore_transcriptions_total",
			Help: "Total number of transcription jobs reaching a terminal state",
		},
		[]string{"status"},
	)

	TranscriptionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cutcore_transcription_duration_seconds",
			Help:    "Transcription job duration in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		},
	)

	CaptionCuesProduced = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cutcore_caption_cues_produced_total",
			Help: "Total number of caption cues produced by transcriptions",
		},
	)

	// Storage Metrics
	StorageOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cutcore_storage_operations_total",
			Help: "Total number of storage operations",
		},
		[]string{"operation", "status"},
	)

	StorageOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cutcore_storage_operation_duration_seconds",
			Help:    "Storage operation duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		},
		[]string{"operation"},
	)

	StorageBytesTransferred = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cutcore_storage_bytes_transferred_total",
			Help: "Total bytes transferred to/from storage",
		},
		[]string{"operation"},
	)

	// Database Metrics
	DatabaseOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cutcore_database_operations_total",
			Help: "Total number of database operations",
		},
		[]string{"operation", "status"},
	)

	DatabaseOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cutcore_database_operation_duration_seconds",
			Help:    "Database operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	DatabaseConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cutcore_database_connections_active",
			Help: "Number of active database connections",
		},
	)

	// Cache Metrics
	CacheHitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cutcore_cache_hits_total",
			Help: "Total number of cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMissesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cutcore_cache_misses_total",
			Help: "Total number of cache misses",
		},
		[]string{"cache_type"},
	)

	// Error Metrics
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cutcore_errors_total",
			Help: "Total number of errors",
		},
		[]string{"component", "error_type"},
	)

	// Business Metrics
	OutputDurationRendered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cutcore_output_duration_rendered_seconds_total",
			Help: "Total duration of rendered output in seconds",
		},
	)
)

// RecordHTTPRequest records an HTTP request
func RecordHTTPRequest(method, endpoint, status string, duration float64) {
	HTTPRequestsTotal.WithLabelValues(method, endpoint, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration)
}

// RecordAssetRegistered records an asset registration outcome
func RecordAssetRegistered(kind, status string, sizeBytes int64) {
	AssetsRegisteredTotal.WithLabelValues(kind, status).Inc()
	if sizeBytes > 0 {
		AssetSizeBytes.Observe(float64(sizeBytes))
	}
}

// RecordTimelineMutation records an applied or rejected timeline command
func RecordTimelineMutation(op, status string, duration float64) {
	TimelineMutationsTotal.WithLabelValues(op, status).Inc()
	TimelineMutationDuration.WithLabelValues(op).Observe(duration)
}

// UpdateHistoryDepth updates the undo/redo depth gauges
func UpdateHistoryDepth(undo, redo int) {
	HistoryDepth.WithLabelValues("undo").Set(float64(undo))
	HistoryDepth.WithLabelValues("redo").Set(float64(redo))
}

// UpdateActiveSessions updates the open editing session gauge
func UpdateActiveSessions(count int) {
	ActiveSessions.Set(float64(count))
}

// RecordInvariantViolation records a repaired model invariant violation
func RecordInvariantViolation(component, invariant string) {
	InvariantViolationsTotal.WithLabelValues(component, invariant).Inc()
}

// RecordExportCreated records an export job creation
func RecordExportCreated(priority string) {
	ExportsCreatedTotal.WithLabelValues(priority).Inc()
}

// RecordExportCompleted records an export reaching a terminal state
func RecordExportCompleted(state string, duration float64, container, codec string) {
	ExportsCompletedTotal.WithLabelValues(state).Inc()
	ExportDuration.WithLabelValues(container, codec).Observe(duration)
}

// UpdateExportMetrics updates current export job metrics
func UpdateExportMetrics(inProgress, queueDepth int) {
	ExportsInProgress.Set(float64(inProgress))
	ExportQueueDepth.Set(float64(queueDepth))
}

// RecordRenderSpeed records render speed ratio
func RecordRenderSpeed(codec, resolution string, speed float64) {
	RenderSpeed.WithLabelValues(codec, resolution).Observe(speed)
}

// RecordTranscriptionCompleted records a transcription terminal state
func RecordTranscriptionCompleted(status string, duration float64, cues int) {
	TranscriptionsTotal.WithLabelValues(status).Inc()
	TranscriptionDuration.Observe(duration)
	if cues > 0 {
		CaptionCuesProduced.Add(float64(cues))
	}
}

// RecordStorageOperation records a storage operation
func RecordStorageOperation(operation, status string, duration float64, bytesTransferred int64) {
	StorageOperationsTotal.WithLabelValues(operation, status).Inc()
	StorageOperationDuration.WithLabelValues(operation).Observe(duration)
	StorageBytesTransferred.WithLabelValues(operation).Add(float64(bytesTransferred))
}

// RecordDatabaseOperation records a database operation
func RecordDatabaseOperation(operation, status string, duration float64) {
	DatabaseOperationsTotal.WithLabelValues(operation, status).Inc()
	DatabaseOperationDuration.WithLabelValues(operation).Observe(duration)
}

// RecordCacheAccess records cache hit or miss
func RecordCacheAccess(cacheType string, hit bool) {
	if hit {
		CacheHitsTotal.WithLabelValues(cacheType).Inc()
	} else {
		CacheMissesTotal.WithLabelValues(cacheType).Inc()
	}
}

// RecordError records an error
func RecordError(component, errorType string) {
	ErrorsTotal.WithLabelValues(component, errorType).Inc()
}
