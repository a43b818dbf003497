package runtime

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Request outcomes used as metric labels and in RequestContext.
const (
	OutcomeResolved       = "resolved"
	OutcomeTimedOut       = "timed_out"
	OutcomeFailed         = "failed"
	OutcomeExhausted      = "exhausted"
	OutcomeHeaderOverflow = "header_overflow"
	OutcomeBodyTooLarge   = "body_too_large"
)

// BridgeMetrics tracks bridged request statistics.
type BridgeMetrics struct {
	mu sync.RWMutex

	outcomes         map[string]uint64
	droppedReplies   uint64
	malformedReplies uint64
	inFlight         int64
	lastRequestAt    time.Time

	// Prometheus collectors
	requestsTotal      *prometheus.CounterVec
	requestDuration    *prometheus.HistogramVec
	inFlightGauge      prometheus.Gauge
	droppedTotal       prometheus.Counter
	malformedTotal     prometheus.Counter
	registryOccupation prometheus.GaugeFunc

	registerer prometheus.Registerer
	registered bool
}

// BridgeMetricsSnapshot provides a point-in-time view of bridge metrics.
type BridgeMetricsSnapshot struct {
	Outcomes         map[string]uint64 `json:"outcomes"`
	InFlight         int64             `json:"in_flight"`
	DroppedReplies   uint64            `json:"dropped_replies"`
	MalformedReplies uint64            `json:"malformed_replies"`
	LastRequestAt    time.Time         `json:"last_request_at,omitempty"`
	CollectedAt      time.Time         `json:"collected_at"`
}

func newBridgeCounterVec(name, help string, labels []string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mochevent",
			Subsystem: "bridge",
			Name:      name,
			Help:      help,
		},
		labels,
	)
}

func newBridgeCounter(name, help string) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "mochevent",
		Subsystem: "bridge",
		Name:      name,
		Help:      help,
	})
}

// NewBridgeMetrics creates a metrics collector. occupancy, when non-nil, is
// sampled on scrape for the registry occupancy gauge.
func NewBridgeMetrics(registerer prometheus.Registerer, occupancy func() int) *BridgeMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	m := &BridgeMetrics{
		outcomes:       make(map[string]uint64),
		registerer:     registerer,
		requestsTotal:  newBridgeCounterVec("requests_total", "Total number of bridged requests by outcome", []string{"outcome"}),
		droppedTotal:   newBridgeCounter("dropped_replies_total", "Replies discarded for an unknown or stale correlation id"),
		malformedTotal: newBridgeCounter("malformed_replies_total", "Reply frames that could not be decoded"),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "mochevent",
			Subsystem: "bridge",
			Name:      "request_duration_seconds",
			Help:      "Time from accepting a request to writing its response",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 3, 5, 10},
		}, []string{"outcome"}),
		inFlightGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "mochevent",
			Subsystem: "bridge",
			Name:      "in_flight",
			Help:      "Requests waiting for a backend reply",
		}),
	}
	if occupancy != nil {
		m.registryOccupation = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "mochevent",
			Subsystem: "registry",
			Name:      "pending",
			Help:      "Correlation ids currently pending",
		}, func() float64 { return float64(occupancy()) })
	}
	return m
}

// Register registers the Prometheus collectors. Safe to call multiple times.
func (m *BridgeMetrics) Register() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.registered {
		return nil
	}

	collectors := []prometheus.Collector{
		m.requestsTotal,
		m.requestDuration,
		m.inFlightGauge,
		m.droppedTotal,
		m.malformedTotal,
	}
	if m.registryOccupation != nil {
		collectors = append(collectors, m.registryOccupation)
	}

	for _, c := range collectors {
		if err := m.registerer.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}

	m.registered = true
	return nil
}

// RecordStart records a request entering the wait.
func (m *BridgeMetrics) RecordStart() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.inFlight++
	m.lastRequestAt = time.Now()
	m.inFlightGauge.Set(float64(m.inFlight))
}

// RecordOutcome records a finished request. started reports whether
// RecordStart was called for it.
func (m *BridgeMetrics) RecordOutcome(outcome string, started bool, took time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.outcomes[outcome]++
	if started && m.inFlight > 0 {
		m.inFlight--
		m.inFlightGauge.Set(float64(m.inFlight))
	}

	m.requestsTotal.WithLabelValues(outcome).Inc()
	m.requestDuration.WithLabelValues(outcome).Observe(took.Seconds())
}

// RecordDroppedReply records a reply for an unknown or stale id.
func (m *BridgeMetrics) RecordDroppedReply() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.droppedReplies++
	m.droppedTotal.Inc()
}

// RecordMalformedReply records an undecodable reply frame.
func (m *BridgeMetrics) RecordMalformedReply() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.malformedReplies++
	m.malformedTotal.Inc()
}

// GetSnapshot returns a point-in-time snapshot.
func (m *BridgeMetrics) GetSnapshot() BridgeMetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snapshot := BridgeMetricsSnapshot{
		Outcomes:         make(map[string]uint64, len(m.outcomes)),
		InFlight:         m.inFlight,
		DroppedReplies:   m.droppedReplies,
		MalformedReplies: m.malformedReplies,
		LastRequestAt:    m.lastRequestAt,
		CollectedAt:      time.Now(),
	}
	for outcome, n := range m.outcomes {
		snapshot.Outcomes[outcome] = n
	}
	return snapshot
}

// Reset resets all metrics (useful for testing).
func (m *BridgeMetrics) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.outcomes = make(map[string]uint64)
	m.droppedReplies = 0
	m.malformedReplies = 0
	m.inFlight = 0
	m.lastRequestAt = time.Time{}
	m.requestsTotal.Reset()
	m.requestDuration.Reset()
	m.inFlightGauge.Set(0)
}
