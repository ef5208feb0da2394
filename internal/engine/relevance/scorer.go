// Package relevance implements the tier-3 field-weighted lexical scorer.
// Every entity is indexed as a tiny three-field document (canonical label,
// aliases, derived context keywords); a candidate is scored against one
// entity at a time using a BM25F-style combination of per-field term
// frequency, field weight, length normalization, and corpus-wide rarity.
package relevance

import (
	"math"
	"strings"

	"github.com/storyweave/lorekeeper/internal/engine/registry"
	"github.com/storyweave/lorekeeper/internal/infrastructure/logging"
)

type field int

const (
	fieldCanonical field = iota
	fieldAlias
	fieldContext
	fieldCount
)

// Field weights: canonical-label matches dominate alias matches, which
// dominate context-keyword matches.
var fieldWeights = [fieldCount]float64{
	fieldCanonical: 3.0,
	fieldAlias:     1.5,
	fieldContext:   0.5,
}

const (
	// k1 controls term-frequency saturation.
	k1 = 1.2
	// b controls field-length normalization strength.
	b = 0.75
)

type entityDoc struct {
	tf      [fieldCount]map[string]int
	lengths [fieldCount]int
}

// Scorer holds the indexed corpus. BuildCorpus indexes every entity once;
// IDF values are cached at build time and reused across all scoring calls.
type Scorer struct {
	docs    map[registry.EntityID]*entityDoc
	idf     map[string]float64
	avgLens [fieldCount]float64
	// selfFloor is, per entity, the lowest score any of its own terms
	// (label or alias) achieves against it. Dividing a raw score by it
	// yields a [0,1] relevance where 1 means "as good as an exact match
	// on one of the entity's own terms".
	selfFloor map[registry.EntityID]float64
	logger    logging.Logger
}

// NewScorer creates an empty scorer. A nil logger falls back to the nop
// logger.
func NewScorer(logger logging.Logger) *Scorer {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Scorer{
		docs:      make(map[registry.EntityID]*entityDoc),
		idf:       make(map[string]float64),
		selfFloor: make(map[registry.EntityID]float64),
		logger:    logger.Named("relevance"),
	}
}

// BuildCorpus indexes the entities and precomputes the IDF cache. Calling
// it again replaces the previous corpus.
func (s *Scorer) BuildCorpus(entities []*registry.Entity) {
	s.docs = make(map[registry.EntityID]*entityDoc, len(entities))
	s.idf = make(map[string]float64)

	df := make(map[string]int)
	var totalLens [fieldCount]int

	for _, e := range entities {
		doc := &entityDoc{}
		for f := field(0); f < fieldCount; f++ {
			doc.tf[f] = make(map[string]int)
		}

		indexField(doc, fieldCanonical, e.Label)
		for _, alias := range e.Aliases {
			indexField(doc, fieldAlias, alias)
		}
		indexField(doc, fieldContext, string(e.Kind))
		indexField(doc, fieldContext, e.Subtype)

		seen := make(map[string]struct{})
		for f := field(0); f < fieldCount; f++ {
			totalLens[f] += doc.lengths[f]
			for tok := range doc.tf[f] {
				if _, dup := seen[tok]; !dup {
					seen[tok] = struct{}{}
					df[tok]++
				}
			}
		}
		s.docs[e.ID] = doc
	}

	n := float64(len(entities))
	for f := field(0); f < fieldCount; f++ {
		s.avgLens[f] = 1
		if len(entities) > 0 && totalLens[f] > 0 {
			s.avgLens[f] = float64(totalLens[f]) / n
		}
	}
	for tok, count := range df {
		s.idf[tok] = math.Log(1 + (n-float64(count)+0.5)/(float64(count)+0.5))
	}

	s.selfFloor = make(map[registry.EntityID]float64, len(entities))
	for _, e := range entities {
		floor := 0.0
		for _, term := range append([]string{e.Label}, e.Aliases...) {
			sc := s.Score(registry.Normalize(term), e.ID)
			if sc > 0 && (floor == 0 || sc < floor) {
				floor = sc
			}
		}
		s.selfFloor[e.ID] = floor
	}

	s.logger.Debug("relevance corpus built",
		logging.Int("entities", len(entities)),
		logging.Int("terms", len(s.idf)))
}

func indexField(doc *entityDoc, f field, text string) {
	for _, tok := range strings.Fields(registry.Normalize(text)) {
		doc.tf[f][tok]++
		doc.lengths[f]++
	}
}

// Score returns the raw non-negative relevance of the normalized candidate
// text against one indexed entity. Zero for unknown entities or zero
// overlap.
func (s *Scorer) Score(normalizedText string, id registry.EntityID) float64 {
	doc, ok := s.docs[id]
	if !ok {
		return 0
	}

	score := 0.0
	for _, tok := range strings.Fields(normalizedText) {
		idf, known := s.idf[tok]
		if !known {
			continue
		}

		// Weighted term frequency across fields, each normalized by its
		// field length relative to the corpus average.
		wtf := 0.0
		for f := field(0); f < fieldCount; f++ {
			tf := doc.tf[f][tok]
			if tf == 0 {
				continue
			}
			norm := 1 - b + b*float64(doc.lengths[f])/s.avgLens[f]
			wtf += fieldWeights[f] * float64(tf) / norm
		}
		if wtf == 0 {
			continue
		}
		score += idf * wtf / (k1 + wtf)
	}
	return score
}

// ScoreNormalized maps the raw score into [0,1] by dividing by the
// entity's self-score floor: an exact match on any of the entity's own
// terms scores 1, weaker overlap proportionally less.
func (s *Scorer) ScoreNormalized(normalizedText string, id registry.EntityID) float64 {
	floor := s.selfFloor[id]
	if floor <= 0 {
		return 0
	}
	norm := s.Score(normalizedText, id) / floor
	if norm > 1 {
		return 1
	}
	return norm
}

// CorpusSize returns the number of indexed entities.
func (s *Scorer) CorpusSize() int {
	return len(s.docs)
}
