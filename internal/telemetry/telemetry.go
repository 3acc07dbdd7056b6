// Package telemetry accumulates the MetricsSnapshot the embedding
// application polls (spec.md section 6.6) and exposes the same counters
// to Prometheus.
//
// Grounded on internal/app/runtime.go's ServiceMetricsState/OpMetric pair:
// the same error-counter map, per-operation count/errors/total-ns/max-ns/
// last-ns accumulator, and nanosecond-to-millisecond Snapshot conversion,
// generalized here to also implement prometheus.Collector so the same
// state drives both the polled snapshot and a /metrics scrape.
package telemetry

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/meshid-core/core/pkg/models"
)

type opMetric struct {
	count   int
	errors  int
	totalNs int64
	maxNs   int64
	lastNs  int64
}

// State accumulates operation latencies and error counters for one daemon
// instance. All methods are safe for concurrent use.
type State struct {
	mu            sync.RWMutex
	errorCounters map[string]int
	opMetrics     map[string]*opMetric
	retryAttempts int
	lastUpdatedAt time.Time

	peerCount           int
	pendingQueueSize    int
	notificationBacklog int
}

// NewState constructs an empty accumulator with the categories
// spec.md section 6.6 names pre-seeded at zero.
func NewState() *State {
	return &State{
		errorCounters: map[string]int{
			"identity":     0,
			"contactlist":  0,
			"conversation": 0,
			"transport":    0,
		},
		opMetrics: map[string]*opMetric{},
	}
}

func (s *State) touch() { s.lastUpdatedAt = time.Now().UTC() }

// RecordError increments the named error category's counter.
func (s *State) RecordError(category string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errorCounters[category]++
	s.touch()
}

// RecordRetryAttempt increments the daemon-wide retry counter.
func (s *State) RecordRetryAttempt() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.retryAttempts++
	s.touch()
}

// RecordOp records one completed operation's latency, measured from
// started to now.
func (s *State) RecordOp(operation string, started time.Time) {
	latency := time.Since(started).Nanoseconds()
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.opMetrics[operation]
	if !ok {
		m = &opMetric{}
		s.opMetrics[operation] = m
	}
	m.count++
	m.totalNs += latency
	m.lastNs = latency
	if latency > m.maxNs {
		m.maxNs = latency
	}
	s.touch()
}

// RecordOpError marks one failed attempt of operation, independent of
// whether RecordOp is also called for it.
func (s *State) RecordOpError(operation string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.opMetrics[operation]
	if !ok {
		m = &opMetric{}
		s.opMetrics[operation] = m
	}
	m.errors++
	s.touch()
}

// SetPeerCount, SetPendingQueueSize and SetNotificationBacklog update the
// gauges reported in the next Snapshot/Collect.
func (s *State) SetPeerCount(n int) {
	s.mu.Lock()
	s.peerCount = n
	s.mu.Unlock()
}

func (s *State) SetPendingQueueSize(n int) {
	s.mu.Lock()
	s.pendingQueueSize = n
	s.mu.Unlock()
}

func (s *State) SetNotificationBacklog(n int) {
	s.mu.Lock()
	s.notificationBacklog = n
	s.mu.Unlock()
}

// Snapshot returns the polled view spec.md section 6.6 describes.
func (s *State) Snapshot() models.MetricsSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counters := make(map[string]int, len(s.errorCounters))
	for k, v := range s.errorCounters {
		counters[k] = v
	}
	opStats := make(map[string]models.OperationMetric, len(s.opMetrics))
	for name, m := range s.opMetrics {
		var avg int64
		if m.count > 0 {
			avg = m.totalNs / int64(m.count) / int64(time.Millisecond)
		}
		opStats[name] = models.OperationMetric{
			Count:         m.count,
			Errors:        m.errors,
			AvgLatencyMs:  avg,
			MaxLatencyMs:  m.maxNs / int64(time.Millisecond),
			LastLatencyMs: m.lastNs / int64(time.Millisecond),
		}
	}
	return models.MetricsSnapshot{
		PeerCount:           s.peerCount,
		PendingQueueSize:    s.pendingQueueSize,
		ErrorCounters:       counters,
		OperationStats:      opStats,
		RetryAttemptsTotal:  s.retryAttempts,
		LastUpdatedAt:       s.lastUpdatedAt,
		NotificationBacklog: s.notificationBacklog,
	}
}

var (
	opDurationDesc = prometheus.NewDesc(
		"meshid_operation_duration_ms", "Average operation latency in milliseconds.",
		[]string{"operation"}, nil)
	opErrorsDesc = prometheus.NewDesc(
		"meshid_operation_errors_total", "Failed attempts per operation.",
		[]string{"operation"}, nil)
	errorCounterDesc = prometheus.NewDesc(
		"meshid_errors_total", "Errors per category.",
		[]string{"category"}, nil)
	peerCountDesc = prometheus.NewDesc("meshid_peer_count", "Connected transport peers.", nil, nil)
	pendingDesc   = prometheus.NewDesc("meshid_pending_queue_size", "Pending fetch/clone operations.", nil, nil)
	backlogDesc   = prometheus.NewDesc("meshid_notification_backlog", "Buffered notification events.", nil, nil)
	retryDesc     = prometheus.NewDesc("meshid_retry_attempts_total", "Total retry attempts across operations.", nil, nil)
)

// Describe implements prometheus.Collector.
func (s *State) Describe(ch chan<- *prometheus.Desc) {
	ch <- opDurationDesc
	ch <- opErrorsDesc
	ch <- errorCounterDesc
	ch <- peerCountDesc
	ch <- pendingDesc
	ch <- backlogDesc
	ch <- retryDesc
}

// Collect implements prometheus.Collector, rendering the same state
// Snapshot polls as Prometheus metric families.
func (s *State) Collect(ch chan<- prometheus.Metric) {
	snap := s.Snapshot()
	for name, m := range snap.OperationStats {
		ch <- prometheus.MustNewConstMetric(opDurationDesc, prometheus.GaugeValue, float64(m.AvgLatencyMs), name)
		ch <- prometheus.MustNewConstMetric(opErrorsDesc, prometheus.CounterValue, float64(m.Errors), name)
	}
	for category, count := range snap.ErrorCounters {
		ch <- prometheus.MustNewConstMetric(errorCounterDesc, prometheus.CounterValue, float64(count), category)
	}
	ch <- prometheus.MustNewConstMetric(peerCountDesc, prometheus.GaugeValue, float64(snap.PeerCount))
	ch <- prometheus.MustNewConstMetric(pendingDesc, prometheus.GaugeValue, float64(snap.PendingQueueSize))
	ch <- prometheus.MustNewConstMetric(backlogDesc, prometheus.GaugeValue, float64(snap.NotificationBacklog))
	ch <- prometheus.MustNewConstMetric(retryDesc, prometheus.CounterValue, float64(snap.RetryAttemptsTotal))
}

var _ prometheus.Collector = (*State)(nil)
