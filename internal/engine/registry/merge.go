package registry

import (
	"sort"

	"github.com/storyweave/lorekeeper/internal/infrastructure/logging"
	"github.com/storyweave/lorekeeper/pkg/errors"
)

// MergeEntities folds source into target: aliases migrate (the source's own
// label becomes an alias of target), per-source mention counts are summed,
// relationships are re-pointed with duplicate keys coalesced, co-occurrence
// patterns are re-pointed likewise, and source metadata fills gaps in
// target. Source is deleted afterwards. Merging a non-existent id or an
// entity into itself fails with no side effects.
func (r *Registry) MergeEntities(targetID, sourceID EntityID) error {
	target := r.entities[targetID]
	source := r.entities[sourceID]
	if target == nil || source == nil {
		return errors.Newf(errors.CodeMergeInvalid, "merge requires two existing entities (target=%s source=%s)", targetID, sourceID)
	}
	if targetID == sourceID {
		return errors.New(errors.CodeMergeInvalid, "cannot merge an entity into itself")
	}

	// Aliases: source's aliases plus its own label all point at target now.
	migrating := append([]string{}, source.Aliases...)
	migrating = append(migrating, source.Label)
	for _, alias := range source.Aliases {
		delete(r.aliasIndex, Normalize(alias))
	}
	delete(r.labelIndex, source.NormalizedLabel)
	for _, alias := range migrating {
		if err := r.AddAlias(targetID, alias); err != nil {
			r.logger.Warn("alias lost during merge",
				logging.String("alias", alias), logging.Err(err))
		}
	}

	// Mention counts: summed per source id.
	for src, count := range source.MentionsBySource {
		target.MentionsBySource[src] += count
	}
	target.recomputeTotal()
	if source.FirstSeenAt.Before(target.FirstSeenAt) {
		target.FirstSeenAt = source.FirstSeenAt
		target.FirstSeenSource = source.FirstSeenSource
	}
	if source.LastSeenAt.After(target.LastSeenAt) {
		target.LastSeenAt = source.LastSeenAt
	}

	// Relationships: re-point, coalescing keys that collide after rewrite.
	for key := range r.relsByEntity[sourceID] {
		rel, ok := r.relationships[key]
		if !ok {
			continue
		}
		r.removeRelationship(key)

		newKey := key
		if newKey.Source == sourceID {
			newKey.Source = targetID
		}
		if newKey.Target == sourceID {
			newKey.Target = targetID
		}
		if newKey.Source == newKey.Target {
			// A relationship between the merged pair collapses to a self
			// edge; drop it.
			continue
		}

		if existing, ok := r.relationships[newKey]; ok {
			if rel.Confidence > existing.Confidence {
				existing.Confidence = rel.Confidence
			}
			for _, s := range rel.Sources {
				appendUnique(&existing.Sources, s)
			}
			for _, c := range rel.Contexts {
				appendBounded(&existing.Contexts, c, maxContextsPerPattern)
			}
			continue
		}

		rel.Source = newKey.Source
		rel.Target = newKey.Target
		r.relationships[newKey] = rel
		r.indexRelationship(newKey)
	}

	// Co-occurrence patterns: rewrite source's id to target's, coalescing.
	for key, pattern := range r.coOccurrences {
		if !pattern.contains(sourceID) {
			continue
		}
		delete(r.coOccurrences, key)

		rewritten := make([]EntityID, 0, len(pattern.EntityIDs))
		seen := make(map[EntityID]struct{}, len(pattern.EntityIDs))
		for _, id := range pattern.EntityIDs {
			if id == sourceID {
				id = targetID
			}
			if _, dup := seen[id]; !dup {
				seen[id] = struct{}{}
				rewritten = append(rewritten, id)
			}
		}
		if len(rewritten) < 2 {
			continue
		}
		sort.Slice(rewritten, func(i, j int) bool { return rewritten[i] < rewritten[j] })

		newKey := coOccurrenceKey(rewritten)
		if existing, ok := r.coOccurrences[newKey]; ok {
			existing.Frequency += pattern.Frequency
			for _, c := range pattern.Contexts {
				appendBounded(&existing.Contexts, c, maxContextsPerPattern)
			}
			existing.Strength = coOccurrenceStrength(existing)
			continue
		}
		pattern.EntityIDs = rewritten
		pattern.Strength = coOccurrenceStrength(pattern)
		r.coOccurrences[newKey] = pattern
	}

	// Metadata: source fields fill gaps in target.
	if len(source.Metadata) > 0 {
		if target.Metadata == nil {
			target.Metadata = map[string]interface{}{}
		}
		for k, v := range source.Metadata {
			if _, exists := target.Metadata[k]; !exists {
				target.Metadata[k] = v
			}
		}
	}
	if target.Subtype == "" {
		target.Subtype = source.Subtype
	}

	// Everything of value has migrated; the remaining local state and the
	// external cascade are handled by the normal delete path.
	if err := r.DeleteEntity(sourceID); err != nil {
		return errors.Wrap(err, errors.CodeInternal, "merge completed but source deletion failed")
	}

	r.logger.Info("entities merged",
		logging.String("target", string(targetID)),
		logging.String("source", string(sourceID)))
	return nil
}
