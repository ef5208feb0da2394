// Package metrics defines the unified telemetry API for the recognition
// engine. Every pipeline stage records its operational telemetry through the
// EngineMetrics interface so that the underlying implementation (Prometheus,
// in-memory, noop) can be swapped without touching engine code.
package metrics

import (
	"context"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// ---------------------------------------------------------------------------
// Interface
// ---------------------------------------------------------------------------

// EngineMetrics is the metrics collection contract for the scan pipeline.
type EngineMetrics interface {
	// RecordScan records a completed document scan.
	RecordScan(ctx context.Context, params *ScanMetricParams)

	// RecordTier records the input/output cardinality of one funnel tier.
	RecordTier(ctx context.Context, tier string, in, out int)

	// RecordRejectionCacheAccess records a rejection-cache hit or miss.
	RecordRejectionCacheAccess(ctx context.Context, hit bool)

	// RecordMatcherSearch records a bulk mention-finding run.
	RecordMatcherSearch(ctx context.Context, params *MatcherMetricParams)

	// RecordAutomatonRebuild records an Aho-Corasick automaton rebuild.
	RecordAutomatonRebuild(ctx context.Context, patterns int, durationMs float64)

	// RecordPromotion records an EntityPromoter state transition.
	RecordPromotion(ctx context.Context, state string)

	// GetCurrentStats returns a point-in-time snapshot, primarily for the
	// in-memory implementation used by tests and the CLI summary output.
	GetCurrentStats() *EngineStats
}

// ScanMetricParams carries the data for one document scan.
type ScanMetricParams struct {
	DocumentID      string  `json:"document_id"`
	DurationMs      float64 `json:"duration_ms"`
	TokensFiltered  int     `json:"tokens_filtered"`
	Candidates      int     `json:"candidates"`
	MatchedEntities int     `json:"matched_entities"`
	Success         bool    `json:"success"`
}

// MatcherMetricParams carries the data for one ParallelMatcher run.
type MatcherMetricParams struct {
	DurationMs    float64 `json:"duration_ms"`
	Sentences     int     `json:"sentences"`
	MentionsFound int     `json:"mentions_found"`
	Fallback      bool    `json:"fallback"`
	TimedOut      bool    `json:"timed_out"`
}

// EngineStats is a point-in-time snapshot of engine metrics.
type EngineStats struct {
	TotalScans          int64   `json:"total_scans"`
	FailedScans         int64   `json:"failed_scans"`
	AvgScanDurationMs   float64 `json:"avg_scan_duration_ms"`
	RejectionHits       int64   `json:"rejection_hits"`
	RejectionMisses     int64   `json:"rejection_misses"`
	RejectionHitRate    float64 `json:"rejection_hit_rate"`
	MatcherRuns         int64   `json:"matcher_runs"`
	MatcherFallbacks    int64   `json:"matcher_fallbacks"`
	AutomatonRebuilds   int64   `json:"automaton_rebuilds"`
	PromotionsByState   map[string]int64 `json:"promotions_by_state"`
}

// ---------------------------------------------------------------------------
// Prometheus implementation
// ---------------------------------------------------------------------------

const metricsPrefix = "lorekeeper_engine_"

var defaultLatencyBuckets = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000}

type prometheusEngineMetrics struct {
	scanDuration      *prometheus.HistogramVec
	scanTotal         *prometheus.CounterVec
	tierSurvivors     *prometheus.HistogramVec
	rejectionAccess   *prometheus.CounterVec
	matcherDuration   *prometheus.HistogramVec
	matcherFallbacks  prometheus.Counter
	automatonRebuilds prometheus.Counter
	rebuildDuration   prometheus.Histogram
	promotions        *prometheus.CounterVec
}

// NewPrometheusEngineMetrics registers all engine metrics with the given
// registerer and returns the implementation. Registering twice with the same
// registerer returns an error from prometheus itself.
func NewPrometheusEngineMetrics(reg prometheus.Registerer) (EngineMetrics, error) {
	m := &prometheusEngineMetrics{
		scanDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    metricsPrefix + "scan_duration_ms",
			Help:    "Document scan duration in milliseconds",
			Buckets: defaultLatencyBuckets,
		}, []string{"success"}),
		scanTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metricsPrefix + "scans_total",
			Help: "Total document scans",
		}, []string{"success"}),
		tierSurvivors: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    metricsPrefix + "tier_survivors",
			Help:    "Number of items surviving each funnel tier",
			Buckets: []float64{0, 1, 5, 10, 25, 50, 100, 250, 500, 1000},
		}, []string{"tier"}),
		rejectionAccess: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metricsPrefix + "rejection_cache_total",
			Help: "Rejection cache accesses by outcome",
		}, []string{"outcome"}),
		matcherDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    metricsPrefix + "matcher_duration_ms",
			Help:    "ParallelMatcher search duration in milliseconds",
			Buckets: defaultLatencyBuckets,
		}, []string{"path"}),
		matcherFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: metricsPrefix + "matcher_fallbacks_total",
			Help: "Sequential fallback activations",
		}),
		automatonRebuilds: prometheus.NewCounter(prometheus.CounterOpts{
			Name: metricsPrefix + "automaton_rebuilds_total",
			Help: "Aho-Corasick automaton rebuilds",
		}),
		rebuildDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    metricsPrefix + "automaton_rebuild_duration_ms",
			Help:    "Automaton rebuild duration in milliseconds",
			Buckets: defaultLatencyBuckets,
		}),
		promotions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metricsPrefix + "promotions_total",
			Help: "EntityPromoter state transitions",
		}, []string{"state"}),
	}

	collectors := []prometheus.Collector{
		m.scanDuration, m.scanTotal, m.tierSurvivors, m.rejectionAccess,
		m.matcherDuration, m.matcherFallbacks, m.automatonRebuilds,
		m.rebuildDuration, m.promotions,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func (m *prometheusEngineMetrics) RecordScan(_ context.Context, p *ScanMetricParams) {
	if p == nil {
		return
	}
	m.scanDuration.WithLabelValues(boolLabel(p.Success)).Observe(p.DurationMs)
	m.scanTotal.WithLabelValues(boolLabel(p.Success)).Inc()
}

func (m *prometheusEngineMetrics) RecordTier(_ context.Context, tier string, _ int, out int) {
	m.tierSurvivors.WithLabelValues(tier).Observe(float64(out))
}

func (m *prometheusEngineMetrics) RecordRejectionCacheAccess(_ context.Context, hit bool) {
	if hit {
		m.rejectionAccess.WithLabelValues("hit").Inc()
	} else {
		m.rejectionAccess.WithLabelValues("miss").Inc()
	}
}

func (m *prometheusEngineMetrics) RecordMatcherSearch(_ context.Context, p *MatcherMetricParams) {
	if p == nil {
		return
	}
	path := "worker"
	if p.Fallback {
		path = "fallback"
		m.matcherFallbacks.Inc()
	}
	m.matcherDuration.WithLabelValues(path).Observe(p.DurationMs)
}

func (m *prometheusEngineMetrics) RecordAutomatonRebuild(_ context.Context, _ int, durationMs float64) {
	m.automatonRebuilds.Inc()
	m.rebuildDuration.Observe(durationMs)
}

func (m *prometheusEngineMetrics) RecordPromotion(_ context.Context, state string) {
	m.promotions.WithLabelValues(state).Inc()
}

func (m *prometheusEngineMetrics) GetCurrentStats() *EngineStats {
	// Prometheus owns the time series; snapshots come from the scrape
	// endpoint, not from this accessor.
	return &EngineStats{PromotionsByState: map[string]int64{}}
}

// ---------------------------------------------------------------------------
// Noop implementation
// ---------------------------------------------------------------------------

type noopEngineMetrics struct{}

// NewNoopEngineMetrics returns a no-op metrics implementation.
func NewNoopEngineMetrics() EngineMetrics {
	return &noopEngineMetrics{}
}

func (n *noopEngineMetrics) RecordScan(context.Context, *ScanMetricParams)            {}
func (n *noopEngineMetrics) RecordTier(context.Context, string, int, int)             {}
func (n *noopEngineMetrics) RecordRejectionCacheAccess(context.Context, bool)         {}
func (n *noopEngineMetrics) RecordMatcherSearch(context.Context, *MatcherMetricParams) {}
func (n *noopEngineMetrics) RecordAutomatonRebuild(context.Context, int, float64)     {}
func (n *noopEngineMetrics) RecordPromotion(context.Context, string)                  {}

func (n *noopEngineMetrics) GetCurrentStats() *EngineStats {
	return &EngineStats{PromotionsByState: map[string]int64{}}
}

// ---------------------------------------------------------------------------
// In-memory implementation (tests, CLI summaries)
// ---------------------------------------------------------------------------

type inMemoryEngineMetrics struct {
	mu sync.Mutex

	scans           []*ScanMetricParams
	failedScans     int64
	rejectionHits   int64
	rejectionMisses int64
	matcherRuns     int64
	fallbacks       int64
	rebuilds        int64
	promotions      map[string]int64
}

// NewInMemoryEngineMetrics returns an in-memory metrics implementation
// suitable for unit tests and one-shot CLI runs.
func NewInMemoryEngineMetrics() EngineMetrics {
	return &inMemoryEngineMetrics{promotions: make(map[string]int64)}
}

func (m *inMemoryEngineMetrics) RecordScan(_ context.Context, p *ScanMetricParams) {
	if p == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.scans = append(m.scans, &cp)
	if !p.Success {
		m.failedScans++
	}
}

func (m *inMemoryEngineMetrics) RecordTier(context.Context, string, int, int) {}

func (m *inMemoryEngineMetrics) RecordRejectionCacheAccess(_ context.Context, hit bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if hit {
		m.rejectionHits++
	} else {
		m.rejectionMisses++
	}
}

func (m *inMemoryEngineMetrics) RecordMatcherSearch(_ context.Context, p *MatcherMetricParams) {
	if p == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.matcherRuns++
	if p.Fallback {
		m.fallbacks++
	}
}

func (m *inMemoryEngineMetrics) RecordAutomatonRebuild(_ context.Context, _ int, _ float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rebuilds++
}

func (m *inMemoryEngineMetrics) RecordPromotion(_ context.Context, state string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.promotions[state]++
}

func (m *inMemoryEngineMetrics) GetCurrentStats() *EngineStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := &EngineStats{
		TotalScans:        int64(len(m.scans)),
		FailedScans:       m.failedScans,
		RejectionHits:     m.rejectionHits,
		RejectionMisses:   m.rejectionMisses,
		MatcherRuns:       m.matcherRuns,
		MatcherFallbacks:  m.fallbacks,
		AutomatonRebuilds: m.rebuilds,
		PromotionsByState: make(map[string]int64, len(m.promotions)),
	}
	for k, v := range m.promotions {
		stats.PromotionsByState[k] = v
	}

	var sum float64
	for _, s := range m.scans {
		sum += s.DurationMs
	}
	if len(m.scans) > 0 {
		stats.AvgScanDurationMs = sum / float64(len(m.scans))
	}
	if total := m.rejectionHits + m.rejectionMisses; total > 0 {
		stats.RejectionHitRate = float64(m.rejectionHits) / float64(total)
	}
	return stats
}
