package registry

import (
	"math"
	"sort"

	"github.com/storyweave/lorekeeper/internal/infrastructure/logging"
)

// ---------------------------------------------------------------------------
// Relationships
// ---------------------------------------------------------------------------

// AddRelationship records a typed edge between the entities resolved from
// sourceText and targetText. Unresolvable labels produce a nil result with a
// warning, never an error. Re-discovering an existing (source, type, target)
// key merges evidence and increases confidence monotonically, clamped at 1.
func (r *Registry) AddRelationship(sourceText, relType, targetText string, confidence float64, sourceID, context string) *Relationship {
	src := r.Find(sourceText)
	dst := r.Find(targetText)
	if src == nil || dst == nil {
		r.logger.Warn("relationship skipped: unresolvable label",
			logging.String("source", sourceText),
			logging.String("target", targetText),
			logging.String("type", relType))
		return nil
	}
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}

	key := RelKey{Source: src.ID, Type: relType, Target: dst.ID}
	if existing, ok := r.relationships[key]; ok {
		existing.Confidence = math.Min(1.0, existing.Confidence+(1.0-existing.Confidence)*confidence*0.5)
		appendUnique(&existing.Sources, sourceID)
		appendBounded(&existing.Contexts, context, maxContextsPerPattern)
		existing.UpdatedAt = r.now()
		return existing
	}

	rel := &Relationship{
		Source:     src.ID,
		Target:     dst.ID,
		Type:       relType,
		Confidence: confidence,
		Sources:    []string{},
		Contexts:   []string{},
		UpdatedAt:  r.now(),
	}
	appendUnique(&rel.Sources, sourceID)
	appendBounded(&rel.Contexts, context, maxContextsPerPattern)

	r.relationships[key] = rel
	r.indexRelationship(key)
	return rel
}

// GetRelationships returns every relationship referencing the entity, as
// source or target.
func (r *Registry) GetRelationships(id EntityID) []*Relationship {
	keys := r.relsByEntity[id]
	out := make([]*Relationship, 0, len(keys))
	for key := range keys {
		if rel, ok := r.relationships[key]; ok {
			out = append(out, rel)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Confidence > out[j].Confidence
	})
	return out
}

// RelationshipCount returns the number of stored relationships.
func (r *Registry) RelationshipCount() int {
	return len(r.relationships)
}

func (r *Registry) indexRelationship(key RelKey) {
	for _, id := range []EntityID{key.Source, key.Target} {
		if r.relsByEntity[id] == nil {
			r.relsByEntity[id] = make(map[RelKey]struct{})
		}
		r.relsByEntity[id][key] = struct{}{}
	}
}

func (r *Registry) removeRelationship(key RelKey) {
	delete(r.relationships, key)
	for _, id := range []EntityID{key.Source, key.Target} {
		if keys := r.relsByEntity[id]; keys != nil {
			delete(keys, key)
			if len(keys) == 0 {
				delete(r.relsByEntity, id)
			}
		}
	}
}

// ---------------------------------------------------------------------------
// Co-occurrence
// ---------------------------------------------------------------------------

// RecordCoOccurrence records that the entities resolved from labels were
// mentioned together in the given context. Fewer than two resolvable labels
// produce a nil result with a warning. The pattern's strength is re-derived
// on every update from frequency and context diversity.
func (r *Registry) RecordCoOccurrence(labels []string, context string) *CoOccurrencePattern {
	ids := make([]EntityID, 0, len(labels))
	seen := make(map[EntityID]struct{}, len(labels))
	for _, label := range labels {
		if e := r.Find(label); e != nil {
			if _, dup := seen[e.ID]; !dup {
				seen[e.ID] = struct{}{}
				ids = append(ids, e.ID)
			}
		}
	}
	if len(ids) < 2 {
		r.logger.Warn("co-occurrence skipped: fewer than two resolvable labels",
			logging.Int("labels", len(labels)), logging.Int("resolved", len(ids)))
		return nil
	}

	key := coOccurrenceKey(ids)
	pattern, ok := r.coOccurrences[key]
	if !ok {
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		pattern = &CoOccurrencePattern{EntityIDs: ids, Contexts: []string{}}
		r.coOccurrences[key] = pattern
	}
	pattern.Frequency++
	appendBounded(&pattern.Contexts, context, maxContextsPerPattern)
	pattern.Strength = coOccurrenceStrength(pattern)
	return pattern
}

// coOccurrenceStrength derives the pattern strength from raw frequency
// damped logarithmically, scaled by context diversity (distinct snippets
// over retained snippets). A pattern seen often in varied contexts beats
// one repeated in a single context.
func coOccurrenceStrength(p *CoOccurrencePattern) float64 {
	freq := math.Log1p(float64(p.Frequency)) / math.Log1p(20)
	if freq > 1 {
		freq = 1
	}
	diversity := 1.0
	if len(p.Contexts) > 0 {
		distinct := make(map[string]struct{}, len(p.Contexts))
		for _, c := range p.Contexts {
			distinct[c] = struct{}{}
		}
		diversity = float64(len(distinct)) / float64(len(p.Contexts))
	}
	return freq * (0.5 + 0.5*diversity)
}

// CoOccurrenceCount returns the number of stored patterns.
func (r *Registry) CoOccurrenceCount() int {
	return len(r.coOccurrences)
}

// TopCoOccurring returns up to n entities most strongly co-occurring with
// the given id, ordered by descending pattern strength.
func (r *Registry) TopCoOccurring(id EntityID, n int) []*Entity {
	type scored struct {
		id       EntityID
		strength float64
	}
	best := make(map[EntityID]float64)
	for _, pattern := range r.coOccurrences {
		if !pattern.contains(id) {
			continue
		}
		for _, other := range pattern.EntityIDs {
			if other == id {
				continue
			}
			if pattern.Strength > best[other] {
				best[other] = pattern.Strength
			}
		}
	}

	ranked := make([]scored, 0, len(best))
	for otherID, strength := range best {
		ranked = append(ranked, scored{id: otherID, strength: strength})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].strength != ranked[j].strength {
			return ranked[i].strength > ranked[j].strength
		}
		return ranked[i].id < ranked[j].id
	})

	out := make([]*Entity, 0, n)
	for _, s := range ranked {
		if len(out) == n {
			break
		}
		if e := r.entities[s.id]; e != nil {
			out = append(out, e)
		}
	}
	return out
}

// ---------------------------------------------------------------------------
// Small slice helpers
// ---------------------------------------------------------------------------

func appendUnique(slice *[]string, value string) {
	if value == "" {
		return
	}
	for _, v := range *slice {
		if v == value {
			return
		}
	}
	*slice = append(*slice, value)
}

func appendBounded(slice *[]string, value string, max int) {
	if value == "" || len(*slice) >= max {
		return
	}
	*slice = append(*slice, value)
}
