package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type OperationSnapshot struct {
	Count         int64   `json:"count"`
	Errors        int64   `json:"errors"`
	InFlight      int64   `json:"in_flight"`
	AvgLatencyMs  float64 `json:"avg_latency_ms"`
	MaxLatencyMs  float64 `json:"max_latency_ms"`
	LastLatencyMs float64 `json:"last_latency_ms"`
}

type Snapshot struct {
	UptimeSec       int64                        `json:"uptime_sec"`
	TotalCalls      int64                        `json:"total_calls"`
	TotalErrors     int64                        `json:"total_errors"`
	InFlight        int64                        `json:"in_flight"`
	RateLimitWaits  int64                        `json:"rate_limit_waits"`
	RateLimitWaitMs int64                        `json:"rate_limit_wait_ms"`
	Escalations     map[string]int64             `json:"escalations"`
	BreakerState    string                       `json:"breaker_state,omitempty"`
	BreakerMoves    map[string]int64             `json:"breaker_transitions"`
	Lifecycle       *LifecycleSnapshot           `json:"lifecycle,omitempty"`
	Operations      map[string]OperationSnapshot `json:"operations"`
}

type operationStats struct {
	count        int64
	errors       int64
	inFlight     int64
	totalLatency time.Duration
	maxLatency   time.Duration
	lastLatency  time.Duration
}

// Metrics tracks delivery attempts, HTTP calls and escalations. Operations are named
// like "refund.credit_card", "notification.deliver" or "POST /bookings/:id/cancel".
type Metrics struct {
	mu             sync.Mutex
	start          time.Time
	operations     map[string]*operationStats
	escalations    map[string]int64
	rateLimitWaits int64
	rateLimitWait  time.Duration
	breakerState   string
	breakerMoves   map[string]int64
	lifecycle      lifecycleStats
	prom           *promCollectors
}

type CallSpan struct {
	metrics   *Metrics
	operation string
	start     time.Time
}

type lifecycleStats struct {
	shutdownAt time.Time
	inflight   int64
}

type LifecycleSnapshot struct {
	ShutdownAt         time.Time `json:"shutdown_at"`
	InFlightAtShutdown int64     `json:"inflight_at_shutdown"`
}

type promCollectors struct {
	calls       *prometheus.CounterVec
	latency     *prometheus.HistogramVec
	escalations *prometheus.CounterVec
	waits       prometheus.Counter
	breaker     *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	return &Metrics{
		start:        time.Now(),
		operations:   make(map[string]*operationStats),
		escalations:  make(map[string]int64),
		breakerMoves: make(map[string]int64),
	}
}

// NewMetricsWithRegistry also exports every observation to Prometheus through reg.
func NewMetricsWithRegistry(reg prometheus.Registerer) (*Metrics, error) {
	m := NewMetrics()
	p := &promCollectors{
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "innkeep_operation_calls_total",
			Help: "Delivery attempts and HTTP calls by operation and outcome",
		}, []string{"operation", "outcome"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "innkeep_operation_latency_seconds",
			Help:    "Latency of delivery attempts and HTTP calls",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		escalations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "innkeep_escalations_total",
			Help: "Cases handed to staff after retries were exhausted",
		}, []string{"kind"}),
		waits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "innkeep_gateway_rate_limit_waits_total",
			Help: "Times the payment gateway limiter made a caller wait",
		}),
		breaker: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "innkeep_gateway_breaker_transitions_total",
			Help: "Payment gateway circuit breaker transitions by the state entered",
		}, []string{"state"}),
	}
	for _, c := range []prometheus.Collector{p.calls, p.latency, p.escalations, p.waits, p.breaker} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	m.prom = p
	return m, nil
}

func (m *Metrics) Start(operation string) *CallSpan {
	if m == nil {
		return &CallSpan{}
	}
	m.mu.Lock()
	stats := m.ensureOperation(operation)
	stats.inFlight++
	m.mu.Unlock()
	return &CallSpan{
		metrics:   m,
		operation: operation,
		start:     time.Now(),
	}
}

func (s *CallSpan) End(err error) {
	if s == nil || s.metrics == nil {
		return
	}
	dur := time.Since(s.start)
	s.metrics.finish(s.operation, dur, err != nil)
}

// TrackAttempt opens a span for one attempt and returns its completion callback.
func (m *Metrics) TrackAttempt(operation string) func(error) {
	span := m.Start(operation)
	return span.End
}

// AddEscalation counts a case of kind handed to staff.
func (m *Metrics) AddEscalation(kind string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.escalations[kind]++
	m.mu.Unlock()
	if m.prom != nil {
		m.prom.escalations.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) AddRateLimitWait(d time.Duration) {
	if m == nil || d <= 0 {
		return
	}
	m.mu.Lock()
	m.rateLimitWaits++
	m.rateLimitWait += d
	m.mu.Unlock()
	if m.prom != nil {
		m.prom.waits.Inc()
	}
}

// AddBreakerTransition records the payment gateway breaker entering state.
func (m *Metrics) AddBreakerTransition(state string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.breakerState = state
	m.breakerMoves[state]++
	m.mu.Unlock()
	if m.prom != nil {
		m.prom.breaker.WithLabelValues(state).Inc()
	}
}

func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	snap := Snapshot{
		UptimeSec:       int64(now.Sub(m.start).Seconds()),
		Operations:      make(map[string]OperationSnapshot),
		Escalations:     make(map[string]int64, len(m.escalations)),
		BreakerState:    m.breakerState,
		BreakerMoves:    make(map[string]int64, len(m.breakerMoves)),
		RateLimitWaits:  m.rateLimitWaits,
		RateLimitWaitMs: int64(m.rateLimitWait / time.Millisecond),
	}

	for operation, stats := range m.operations {
		avg := 0.0
		if stats.count > 0 {
			avg = float64(stats.totalLatency.Milliseconds()) / float64(stats.count)
		}
		snap.Operations[operation] = OperationSnapshot{
			Count:         stats.count,
			Errors:        stats.errors,
			InFlight:      stats.inFlight,
			AvgLatencyMs:  avg,
			MaxLatencyMs:  float64(stats.maxLatency.Milliseconds()),
			LastLatencyMs: float64(stats.lastLatency.Milliseconds()),
		}
		snap.TotalCalls += stats.count
		snap.TotalErrors += stats.errors
		snap.InFlight += stats.inFlight
	}
	for kind, n := range m.escalations {
		snap.Escalations[kind] = n
	}
	for state, n := range m.breakerMoves {
		snap.BreakerMoves[state] = n
	}

	if !m.lifecycle.shutdownAt.IsZero() {
		snap.Lifecycle = &LifecycleSnapshot{
			ShutdownAt:         m.lifecycle.shutdownAt,
			InFlightAtShutdown: m.lifecycle.inflight,
		}
	}

	return snap
}

// InFlight reports calls started but not yet ended.
func (m *Metrics) InFlight() int64 {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, stats := range m.operations {
		n += stats.inFlight
	}
	return n
}

func (m *Metrics) ensureOperation(operation string) *operationStats {
	stats, ok := m.operations[operation]
	if !ok {
		stats = &operationStats{}
		m.operations[operation] = stats
	}
	return stats
}

func (m *Metrics) finish(operation string, dur time.Duration, failed bool) {
	if m == nil {
		return
	}
	m.mu.Lock()
	stats := m.ensureOperation(operation)
	stats.inFlight--
	stats.count++
	if failed {
		stats.errors++
	}
	stats.totalLatency += dur
	if dur > stats.maxLatency {
		stats.maxLatency = dur
	}
	stats.lastLatency = dur
	m.mu.Unlock()

	if m.prom != nil {
		outcome := "ok"
		if failed {
			outcome = "error"
		}
		m.prom.calls.WithLabelValues(operation, outcome).Inc()
		m.prom.latency.WithLabelValues(operation).Observe(dur.Seconds())
	}
}

func (m *Metrics) MarkShutdown(inflight int64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.lifecycle.shutdownAt = time.Now()
	m.lifecycle.inflight = inflight
	m.mu.Unlock()
}
