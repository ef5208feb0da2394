// Package confidence implements tier-4 of the scan pipeline: fusing the raw
// relevance score with popularity and graph-proximity signals into one
// bounded confidence value, thresholding, and grouping survivors by
// resolved entity.
package confidence

import (
	"context"
	"sort"
	"strings"

	"github.com/storyweave/lorekeeper/internal/engine/candidate"
	"github.com/storyweave/lorekeeper/internal/engine/registry"
	"github.com/storyweave/lorekeeper/internal/infrastructure/logging"
)

const (
	// DefaultThreshold discards fused confidences below it.
	DefaultThreshold = 0.6

	relevanceWeight = 0.7
	maxPopularity   = 0.15
	proximityBoost  = 0.15

	// popularityHalfCount is the confirmation count at which the
	// popularity boost reaches half its maximum.
	popularityHalfCount = 5.0

	// proximityNeighbors is how many top co-occurring entities are checked
	// against the candidate context.
	proximityNeighbors = 5
)

// PopularityStore tracks how often each entity has been a confirmed match.
// The in-memory and Redis-backed implementations live in
// infrastructure/popularity.
type PopularityStore interface {
	Confirmations(ctx context.Context, id registry.EntityID) (int64, error)
	RecordConfirmation(ctx context.Context, id registry.EntityID) error
}

// ScoredCandidate is a candidate resolved to one entity with its raw and
// fused scores.
type ScoredCandidate struct {
	Candidate  candidate.Candidate
	Entity     *registry.Entity
	Relevance  float64
	Confidence float64
}

// Span is one matched position in the document.
type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// EntityMatch groups every surviving candidate that resolved to the same
// entity.
type EntityMatch struct {
	Entity     *registry.Entity
	Confidence float64 // maximum observed across the group
	Positions  []Span  // merged, deduplicated, position-ordered
}

// Fusion combines signals into confidences.
type Fusion struct {
	reg        *registry.Registry
	popularity PopularityStore
	threshold  float64
	logger     logging.Logger
}

// Option customizes Fusion construction.
type Option func(*Fusion)

// WithThreshold overrides the acceptance threshold.
func WithThreshold(threshold float64) Option {
	return func(f *Fusion) { f.threshold = threshold }
}

// NewFusion creates a fusion stage. popularity may be nil, in which case
// the popularity boost is always zero. A nil logger falls back to the nop
// logger.
func NewFusion(reg *registry.Registry, popularity PopularityStore, logger logging.Logger, opts ...Option) *Fusion {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	f := &Fusion{
		reg:        reg,
		popularity: popularity,
		threshold:  DefaultThreshold,
		logger:     logger.Named("confidence"),
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// Threshold returns the acceptance threshold.
func (f *Fusion) Threshold() float64 {
	return f.threshold
}

// Fuse computes the bounded confidence for one (candidate, entity) pair:
// 0.7 x normalized relevance, plus the popularity boost, plus a flat
// proximity boost when the candidate's context mentions one of the entity's
// strongest co-occurring neighbors. The result is clamped to [0,1].
func (f *Fusion) Fuse(ctx context.Context, cand candidate.Candidate, entity *registry.Entity, relevance float64) float64 {
	conf := relevanceWeight * normalizeRelevance(relevance)
	conf += f.popularityBoost(ctx, entity.ID)
	if f.contextNearNeighbor(cand.Context, entity.ID) {
		conf += proximityBoost
	}

	if conf < 0 {
		conf = 0
	}
	if conf > 1 {
		conf = 1
	}
	return conf
}

// Accept reports whether the fused confidence clears the threshold.
func (f *Fusion) Accept(confidence float64) bool {
	return confidence >= f.threshold
}

// Group buckets surviving candidates by resolved entity, merges and
// deduplicates their positions, and orders groups by each entity's maximum
// observed confidence, descending.
func (f *Fusion) Group(scored []ScoredCandidate) []EntityMatch {
	byEntity := make(map[registry.EntityID]*EntityMatch)
	for _, sc := range scored {
		m, ok := byEntity[sc.Entity.ID]
		if !ok {
			m = &EntityMatch{Entity: sc.Entity}
			byEntity[sc.Entity.ID] = m
		}
		if sc.Confidence > m.Confidence {
			m.Confidence = sc.Confidence
		}
		m.Positions = append(m.Positions, Span{Start: sc.Candidate.Start, End: sc.Candidate.End})
	}

	out := make([]EntityMatch, 0, len(byEntity))
	for _, m := range byEntity {
		m.Positions = dedupeSpans(m.Positions)
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		return out[i].Entity.ID < out[j].Entity.ID
	})
	return out
}

// normalizeRelevance clamps the relevance signal to [0,1]. Callers pass
// relevance.ScoreNormalized output, which is already on that scale; the
// clamp guards against raw scores slipping through.
func normalizeRelevance(score float64) float64 {
	if score <= 0 {
		return 0
	}
	if score >= 1 {
		return 1
	}
	return score
}

func (f *Fusion) popularityBoost(ctx context.Context, id registry.EntityID) float64 {
	if f.popularity == nil {
		return 0
	}
	count, err := f.popularity.Confirmations(ctx, id)
	if err != nil {
		f.logger.Warn("popularity lookup failed", logging.String("entity", string(id)), logging.Err(err))
		return 0
	}
	if count <= 0 {
		return 0
	}
	c := float64(count)
	return maxPopularity * c / (c + popularityHalfCount)
}

func (f *Fusion) contextNearNeighbor(context string, id registry.EntityID) bool {
	if context == "" {
		return false
	}
	lowered := strings.ToLower(context)
	for _, neighbor := range f.reg.TopCoOccurring(id, proximityNeighbors) {
		if strings.Contains(lowered, neighbor.NormalizedLabel) {
			return true
		}
	}
	return false
}

func dedupeSpans(spans []Span) []Span {
	sort.Slice(spans, func(i, j int) bool {
		if spans[i].Start != spans[j].Start {
			return spans[i].Start < spans[j].Start
		}
		return spans[i].End < spans[j].End
	})
	out := spans[:0]
	for i, s := range spans {
		if i > 0 && s == spans[i-1] {
			continue
		}
		out = append(out, s)
	}
	return out
}
