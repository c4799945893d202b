package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Event names a pipeline counter.
type Event string

const (
	ArticlesIngested    Event = "ingested"
	DuplicatesFiltered  Event = "duplicate"
	NoiseFiltered       Event = "noise"
	ArticlesFetched     Event = "fetched"
	FetchFailures       Event = "fetch_failed"
	ScreenedOut         Event = "screened_out"
	ArticlesEnriched    Event = "enriched"
	EnrichmentFallbacks Event = "fallback"
	MessagesPosted      Event = "posted"
	DeliveryFailures    Event = "delivery_failed"
)

type Metrics struct {
	mu sync.RWMutex

	// Counters
	counts map[Event]int64

	// Timings
	LastProcessingTime    time.Duration
	AverageProcessingTime time.Duration
	TotalProcessingTime   time.Duration
	ProcessingCount       int64

	// Status
	LastRunTime   time.Time
	LastErrorTime time.Time
	LastError     string
	IsHealthy     bool

	registry *prometheus.Registry
	events   *prometheus.CounterVec
	stages   *prometheus.HistogramVec
	failures *prometheus.CounterVec
}

var Global = New()

// New builds a Metrics with its own Prometheus registry.
func New() *Metrics {
	m := &Metrics{
		counts:    make(map[Event]int64),
		IsHealthy: true,
		registry:  prometheus.NewRegistry(),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "noonfeed",
			Name:      "articles_total",
			Help:      "Articles seen by the pipeline, by outcome.",
		}, []string{"event"}),
		stages: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "noonfeed",
			Name:      "stage_duration_seconds",
			Help:      "Duration of pipeline stage runs.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"stage"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "noonfeed",
			Name:      "stage_failures_total",
			Help:      "Pipeline stage runs that ended in an error.",
		}, []string{"stage"}),
	}
	m.registry.MustRegister(m.events, m.stages, m.failures,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Add increments an event counter. A nil Metrics ignores the call.
func (m *Metrics) Add(e Event, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.mu.Lock()
	m.counts[e] += int64(n)
	m.mu.Unlock()
	m.events.WithLabelValues(string(e)).Add(float64(n))
}

func (m *Metrics) Count(e Event) int64 {
	if m == nil {
		return 0
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.counts[e]
}

// ObserveStage records one stage run. A non-nil err marks the service unhealthy
// until the next successful run.
func (m *Metrics) ObserveStage(stage string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.stages.WithLabelValues(stage).Observe(duration.Seconds())
	if err != nil {
		m.failures.WithLabelValues(stage).Inc()
		m.SetError(stage + ": " + err.Error())
		return
	}
	m.RecordProcessingTime(duration)
	m.SetLastRun()
}

func (m *Metrics) RecordProcessingTime(duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.LastProcessingTime = duration
	m.TotalProcessingTime += duration
	m.ProcessingCount++

	if m.ProcessingCount > 0 {
		m.AverageProcessingTime = m.TotalProcessingTime / time.Duration(m.ProcessingCount)
	}
}

func (m *Metrics) SetLastRun() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LastRunTime = time.Now()
	m.IsHealthy = true
}

func (m *Metrics) SetError(err string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LastError = err
	m.LastErrorTime = time.Now()
	m.IsHealthy = false
}

func (m *Metrics) Healthy() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.IsHealthy
}

// Handler serves the Prometheus exposition of this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) GetStats() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := map[string]interface{}{
		"last_processing_time_ms":    m.LastProcessingTime.Milliseconds(),
		"average_processing_time_ms": m.AverageProcessingTime.Milliseconds(),
		"last_run_time":              formatTime(m.LastRunTime),
		"last_error_time":            formatTime(m.LastErrorTime),
		"last_error":                 m.LastError,
		"is_healthy":                 m.IsHealthy,
	}
	for e, n := range m.counts {
		stats[string(e)] = n
	}
	return stats
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}
