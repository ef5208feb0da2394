package registry

import (
	"fmt"

	"github.com/storyweave/lorekeeper/internal/infrastructure/logging"
)

// Severity classifies integrity findings. Errors describe state that breaks
// lookups or graph traversal; warnings describe recoverable drift such as a
// stale counter.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// IntegrityIssue describes one inconsistency found in registry state.
type IntegrityIssue struct {
	Severity    Severity `json:"severity"`
	Code        string   `json:"code"`
	Description string   `json:"description"`
	EntityID    EntityID `json:"entity_id,omitempty"`
}

const (
	issueDanglingRelationship = "dangling_relationship"
	issueDanglingCoOccurrence = "dangling_co_occurrence"
	issueLabelIndexMissing    = "label_index_missing"
	issueLabelIndexStale      = "label_index_stale"
	issueAliasIndexStale      = "alias_index_stale"
	issueAliasIndexMissing    = "alias_index_missing"
	issueMentionTotalDrift    = "mention_total_drift"
	issueRelationshipIndex    = "relationship_index_drift"
)

// CheckIntegrity scans the full registry state and reports every
// inconsistency without modifying anything.
func (r *Registry) CheckIntegrity() []IntegrityIssue {
	var issues []IntegrityIssue

	for key, rel := range r.relationships {
		if _, ok := r.entities[rel.Source]; !ok {
			issues = append(issues, IntegrityIssue{
				Severity:    SeverityError,
				Code:        issueDanglingRelationship,
				Description: fmt.Sprintf("relationship %s-[%s]->%s references missing source", key.Source, key.Type, key.Target),
				EntityID:    rel.Source,
			})
		}
		if _, ok := r.entities[rel.Target]; !ok {
			issues = append(issues, IntegrityIssue{
				Severity:    SeverityError,
				Code:        issueDanglingRelationship,
				Description: fmt.Sprintf("relationship %s-[%s]->%s references missing target", key.Source, key.Type, key.Target),
				EntityID:    rel.Target,
			})
		}
	}

	for _, pattern := range r.coOccurrences {
		for _, id := range pattern.EntityIDs {
			if _, ok := r.entities[id]; !ok {
				issues = append(issues, IntegrityIssue{
					Severity:    SeverityError,
					Code:        issueDanglingCoOccurrence,
					Description: fmt.Sprintf("co-occurrence pattern references missing entity %s", id),
					EntityID:    id,
				})
			}
		}
	}

	for id, e := range r.entities {
		if owner, ok := r.labelIndex[e.NormalizedLabel]; !ok || owner != id {
			issues = append(issues, IntegrityIssue{
				Severity:    SeverityError,
				Code:        issueLabelIndexMissing,
				Description: fmt.Sprintf("label %q of %s is not indexed", e.Label, id),
				EntityID:    id,
			})
		}
		for _, alias := range e.Aliases {
			norm := Normalize(alias)
			if norm == "" || norm == e.NormalizedLabel {
				continue
			}
			if owner, ok := r.aliasIndex[norm]; !ok || owner != id {
				issues = append(issues, IntegrityIssue{
					Severity:    SeverityError,
					Code:        issueAliasIndexMissing,
					Description: fmt.Sprintf("alias %q of %s is not indexed", alias, id),
					EntityID:    id,
				})
			}
		}

		total := 0
		for _, n := range e.MentionsBySource {
			total += n
		}
		if total != e.TotalMentions {
			issues = append(issues, IntegrityIssue{
				Severity:    SeverityWarning,
				Code:        issueMentionTotalDrift,
				Description: fmt.Sprintf("entity %s total mentions is %d, per-source sum is %d", id, e.TotalMentions, total),
				EntityID:    id,
			})
		}
	}

	for normalized, id := range r.labelIndex {
		e, ok := r.entities[id]
		if !ok || e.NormalizedLabel != normalized {
			issues = append(issues, IntegrityIssue{
				Severity:    SeverityError,
				Code:        issueLabelIndexStale,
				Description: fmt.Sprintf("label index entry %q points at %s which no longer holds it", normalized, id),
				EntityID:    id,
			})
		}
	}

	for normalized, id := range r.aliasIndex {
		e, ok := r.entities[id]
		if !ok || !e.hasAlias(normalized) {
			issues = append(issues, IntegrityIssue{
				Severity:    SeverityError,
				Code:        issueAliasIndexStale,
				Description: fmt.Sprintf("alias index entry %q points at %s which no longer holds it", normalized, id),
				EntityID:    id,
			})
		}
	}

	for key := range r.relationships {
		if _, ok := r.relsByEntity[key.Source][key]; !ok {
			issues = append(issues, IntegrityIssue{
				Severity:    SeverityWarning,
				Code:        issueRelationshipIndex,
				Description: fmt.Sprintf("relationship %s-[%s]->%s missing from the per-entity index", key.Source, key.Type, key.Target),
				EntityID:    key.Source,
			})
		}
		if _, ok := r.relsByEntity[key.Target][key]; !ok {
			issues = append(issues, IntegrityIssue{
				Severity:    SeverityWarning,
				Code:        issueRelationshipIndex,
				Description: fmt.Sprintf("relationship %s-[%s]->%s missing from the per-entity index", key.Source, key.Type, key.Target),
				EntityID:    key.Target,
			})
		}
	}

	return issues
}

// RepairIntegrity fixes every repairable inconsistency and returns the
// issues that were present beforehand. Repair is idempotent: running it on
// a consistent registry changes nothing and returns no issues.
func (r *Registry) RepairIntegrity() []IntegrityIssue {
	issues := r.CheckIntegrity()
	if len(issues) == 0 {
		return nil
	}

	// Drop relationships with a missing endpoint.
	for key, rel := range r.relationships {
		_, srcOK := r.entities[rel.Source]
		_, tgtOK := r.entities[rel.Target]
		if !srcOK || !tgtOK {
			delete(r.relationships, key)
		}
	}

	// Prune missing entities out of co-occurrence patterns; a pattern
	// needs at least two surviving members to mean anything.
	for key, pattern := range r.coOccurrences {
		kept := pattern.EntityIDs[:0]
		for _, id := range pattern.EntityIDs {
			if _, ok := r.entities[id]; ok {
				kept = append(kept, id)
			}
		}
		if len(kept) < 2 {
			delete(r.coOccurrences, key)
			continue
		}
		if len(kept) != len(pattern.EntityIDs) {
			pattern.EntityIDs = kept
			delete(r.coOccurrences, key)
			r.coOccurrences[coOccurrenceKey(kept)] = pattern
		}
	}

	// Rebuild the derived indices and counters from scratch.
	r.labelIndex = make(map[string]EntityID, len(r.entities))
	r.aliasIndex = make(map[string]EntityID)
	for id, e := range r.entities {
		r.labelIndex[e.NormalizedLabel] = id
		for _, alias := range e.Aliases {
			norm := Normalize(alias)
			if norm == "" || norm == e.NormalizedLabel {
				continue
			}
			r.aliasIndex[norm] = id
		}
		e.recomputeTotal()
	}

	r.relsByEntity = make(map[EntityID]map[RelKey]struct{})
	for key := range r.relationships {
		r.indexRelationship(key)
	}

	r.logger.Info("registry integrity repaired",
		logging.Int("issues", len(issues)))
	return issues
}
