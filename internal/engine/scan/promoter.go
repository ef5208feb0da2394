package scan

import (
	"context"

	"github.com/storyweave/lorekeeper/internal/engine/registry"
	"github.com/storyweave/lorekeeper/internal/infrastructure/logging"
	"github.com/storyweave/lorekeeper/internal/infrastructure/metrics"
)

// PromotionState is the lifecycle state of a tracked span.
type PromotionState string

const (
	StateCandidate PromotionState = "candidate"
	StatePending   PromotionState = "pending"
	StatePromoted  PromotionState = "promoted"
)

const (
	pendingMentionThreshold  = 5
	promotedMentionThreshold = 10
	promotedConfidenceFloor  = 0.7
)

// PromotionRecord tracks one unregistered-but-recurring span.
type PromotionRecord struct {
	Span       string
	State      PromotionState
	Mentions   int
	Documents  map[string]struct{}
	Confidence float64
}

// Promoter watches spans that keep appearing without resolving to any
// registered entity, and auto-registers them once the evidence is strong
// enough. Promotion invalidates the vocabulary index and the matcher
// automaton, so the orchestrator rebuilds both after a scan that promoted
// anything.
type Promoter struct {
	reg     *registry.Registry
	records map[string]*PromotionRecord
	logger  logging.Logger
	metrics metrics.EngineMetrics
}

// NewPromoter creates a promoter bound to the registry. Nil logger/metrics
// fall back to nop implementations.
func NewPromoter(reg *registry.Registry, logger logging.Logger, em metrics.EngineMetrics) *Promoter {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if em == nil {
		em = metrics.NewNoopEngineMetrics()
	}
	return &Promoter{
		reg:     reg,
		records: make(map[string]*PromotionRecord),
		logger:  logger.Named("promoter"),
		metrics: em,
	}
}

// Observe records one sighting of an unresolved span in the given document.
// It returns true when the sighting caused a promotion, meaning the entity
// set changed and derived indices are stale. Confidence is re-derived on
// every mention from frequency and document diversity.
func (p *Promoter) Observe(ctx context.Context, span, documentID string) bool {
	key := registry.Normalize(span)
	if key == "" {
		return false
	}

	rec, ok := p.records[key]
	if !ok {
		rec = &PromotionRecord{
			Span:      span,
			State:     StateCandidate,
			Documents: make(map[string]struct{}),
		}
		p.records[key] = rec
	}
	if rec.State == StatePromoted {
		return false
	}

	rec.Mentions++
	rec.Documents[documentID] = struct{}{}
	rec.Confidence = promotionConfidence(rec.Mentions, len(rec.Documents))

	if rec.State == StateCandidate && rec.Mentions >= pendingMentionThreshold {
		rec.State = StatePending
		p.metrics.RecordPromotion(ctx, string(StatePending))
		p.logger.Debug("span pending promotion",
			logging.String("span", rec.Span),
			logging.Int("mentions", rec.Mentions))
	}

	if rec.State == StatePending &&
		rec.Mentions >= promotedMentionThreshold &&
		rec.Confidence >= promotedConfidenceFloor {
		if _, err := p.reg.Register(rec.Span, registry.KindUnknown, documentID, nil); err != nil {
			p.logger.Warn("promotion registration failed",
				logging.String("span", rec.Span), logging.Err(err))
			return false
		}
		rec.State = StatePromoted
		p.metrics.RecordPromotion(ctx, string(StatePromoted))
		p.logger.Info("span promoted to entity",
			logging.String("span", rec.Span),
			logging.Int("mentions", rec.Mentions),
			logging.Int("documents", len(rec.Documents)),
			logging.Float64("confidence", rec.Confidence))
		return true
	}
	return false
}

// Record returns the tracked state of a span, or nil.
func (p *Promoter) Record(span string) *PromotionRecord {
	return p.records[registry.Normalize(span)]
}

// Pending returns every record currently in the pending state.
func (p *Promoter) Pending() []*PromotionRecord {
	var out []*PromotionRecord
	for _, rec := range p.records {
		if rec.State == StatePending {
			out = append(out, rec)
		}
	}
	return out
}

// promotionConfidence combines a frequency boost saturating at 20 mentions
// with a document-diversity boost saturating at 4 distinct documents.
func promotionConfidence(mentions, documents int) float64 {
	freq := float64(mentions) / 20.0
	if freq > 0.5 {
		freq = 0.5
	}
	diversity := float64(documents) / 8.0
	if diversity > 0.5 {
		diversity = 0.5
	}
	return freq + diversity
}
