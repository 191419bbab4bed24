package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce         sync.Once
	httpRequestsTotal    *prometheus.CounterVec
	httpLatencySeconds   *prometheus.HistogramVec
	httpErrorsTotal      *prometheus.CounterVec
	queueJobsTotal       *prometheus.CounterVec
	queueJobDuration     *prometheus.HistogramVec
	queueEnqueueFailures *prometheus.CounterVec
	dataServiceCalls     *prometheus.CounterVec
	dataServiceLatency   *prometheus.HistogramVec
	uploadRejectedTotal  *prometheus.CounterVec
	uploadLatency        prometheus.Histogram
	statusStreamsActive  prometheus.Gauge
)

// RegisterMetrics initialises the Prometheus collectors used across the service.
func RegisterMetrics() {
	registerOnce.Do(func() {
		httpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "souffle",
			Name:      "http_requests_total",
			Help:      "Total number of API requests served.",
		}, []string{"method", "route", "status"})

		httpLatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "souffle",
			Name:      "http_latency_seconds",
			Help:      "Latency distribution for API requests.",
			Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0},
		}, []string{"method", "route"})

		httpErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "souffle",
			Name:      "http_errors_total",
			Help:      "Total number of error responses returned by the API.",
		}, []string{"method", "route", "status"})

		queueJobsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "souffle",
			Subsystem: "queue",
			Name:      "jobs_total",
			Help:      "Job attempts by outcome (completed, retried, failed).",
		}, []string{"queue", "job", "outcome"})

		queueJobDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "souffle",
			Subsystem: "queue",
			Name:      "job_duration_seconds",
			Help:      "Duration of individual job attempts.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"queue", "job"})

		queueEnqueueFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "souffle",
			Subsystem: "queue",
			Name:      "enqueue_failures_total",
			Help:      "Jobs that could not be handed to the broker.",
		}, []string{"queue", "job"})

		dataServiceCalls = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "souffle",
			Subsystem: "dataservice",
			Name:      "calls_total",
			Help:      "Calls to the external data service by endpoint and result.",
		}, []string{"endpoint", "result"})

		dataServiceLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "souffle",
			Subsystem: "dataservice",
			Name:      "latency_seconds",
			Help:      "Latency of calls to the external data service.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"endpoint"})

		uploadRejectedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "souffle",
			Subsystem: "upload",
			Name:      "rejected_total",
			Help:      "Uploads rejected by reason.",
		}, []string{"reason"})

		uploadLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "souffle",
			Subsystem: "upload",
			Name:      "latency_seconds",
			Help:      "Time spent storing uploads.",
			Buckets:   prometheus.DefBuckets,
		})

		statusStreamsActive = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "souffle",
			Name:      "submission_status_streams_active",
			Help:      "Open websocket streams waiting on submission analysis.",
		})

		prometheus.MustRegister(
			httpRequestsTotal, httpLatencySeconds, httpErrorsTotal,
			queueJobsTotal, queueJobDuration, queueEnqueueFailures,
			dataServiceCalls, dataServiceLatency,
			uploadRejectedTotal, uploadLatency,
			statusStreamsActive,
		)
	})
}

// HTTPRequests exposes the counter for API requests.
func HTTPRequests() *prometheus.CounterVec {
	RegisterMetrics()
	return httpRequestsTotal
}

// HTTPLatency exposes the latency histogram for API requests.
func HTTPLatency() *prometheus.HistogramVec {
	RegisterMetrics()
	return httpLatencySeconds
}

// HTTPErrors exposes the counter for API error responses.
func HTTPErrors() *prometheus.CounterVec {
	RegisterMetrics()
	return httpErrorsTotal
}

// QueueJobs exposes the job outcome counter.
func QueueJobs() *prometheus.CounterVec {
	RegisterMetrics()
	return queueJobsTotal
}

// QueueJobDuration exposes the job attempt duration histogram.
func QueueJobDuration() *prometheus.HistogramVec {
	RegisterMetrics()
	return queueJobDuration
}

// QueueEnqueueFailures exposes the enqueue failure counter.
func QueueEnqueueFailures() *prometheus.CounterVec {
	RegisterMetrics()
	return queueEnqueueFailures
}

// DataServiceCalls exposes the data service call counter.
func DataServiceCalls() *prometheus.CounterVec {
	RegisterMetrics()
	return dataServiceCalls
}

// DataServiceLatency exposes the data service latency histogram.
func DataServiceLatency() *prometheus.HistogramVec {
	RegisterMetrics()
	return dataServiceLatency
}

// UploadRejected exposes the rejected upload counter.
func UploadRejected() *prometheus.CounterVec {
	RegisterMetrics()
	return uploadRejectedTotal
}

// UploadLatency exposes the upload latency histogram.
func UploadLatency() prometheus.Histogram {
	RegisterMetrics()
	return uploadLatency
}

// StatusStreamsActive exposes the gauge of open status streams.
func StatusStreamsActive() prometheus.Gauge {
	RegisterMetrics()
	return statusStreamsActive
}
