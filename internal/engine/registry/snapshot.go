package registry

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/storyweave/lorekeeper/pkg/errors"
)

// SnapshotVersion is the current snapshot format version. Import accepts
// only this version.
const SnapshotVersion = 1

// SourceMention is the flattened form of one (source id, count) pair.
type SourceMention struct {
	SourceID string `json:"source_id"`
	Count    int    `json:"count"`
}

// SerializedEntity is the wire form of an Entity: maps and sets flattened to
// arrays, timestamps as ISO-8601 strings (RFC 3339 via time.Time JSON).
type SerializedEntity struct {
	ID              string                 `json:"id"`
	Label           string                 `json:"label"`
	Kind            string                 `json:"kind"`
	Subtype         string                 `json:"subtype,omitempty"`
	Aliases         []string               `json:"aliases"`
	Mentions        []SourceMention        `json:"mentions"`
	FirstSeenSource string                 `json:"first_seen_source"`
	FirstSeenAt     time.Time              `json:"first_seen_at"`
	LastSeenAt      time.Time              `json:"last_seen_at"`
	Metadata        map[string]interface{} `json:"metadata,omitempty"`
}

// SerializedRelationship is the wire form of a Relationship.
type SerializedRelationship struct {
	Source     string   `json:"source"`
	Target     string   `json:"target"`
	Type       string   `json:"type"`
	Confidence float64  `json:"confidence"`
	Sources    []string `json:"sources"`
	Contexts   []string `json:"contexts"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// SerializedCoOccurrence is the wire form of a CoOccurrencePattern.
type SerializedCoOccurrence struct {
	EntityIDs []string `json:"entity_ids"`
	Frequency int      `json:"frequency"`
	Contexts  []string `json:"contexts"`
	Strength  float64  `json:"strength"`
}

// Snapshot is the versioned full-state export format.
type Snapshot struct {
	Version       int                      `json:"version"`
	ExportedAt    time.Time                `json:"exported_at"`
	Entities      []SerializedEntity       `json:"entities"`
	Relationships []SerializedRelationship `json:"relationships"`
	CoOccurrences []SerializedCoOccurrence `json:"co_occurrences"`
}

// Export serializes the full registry state to the versioned snapshot
// format. Output ordering is deterministic (entities by id) so exports of
// identical state are byte-identical apart from the export timestamp.
func (r *Registry) Export() ([]byte, error) {
	snap := Snapshot{
		Version:       SnapshotVersion,
		ExportedAt:    r.now().UTC(),
		Entities:      make([]SerializedEntity, 0, len(r.entities)),
		Relationships: make([]SerializedRelationship, 0, len(r.relationships)),
		CoOccurrences: make([]SerializedCoOccurrence, 0, len(r.coOccurrences)),
	}

	for _, e := range r.entities {
		mentions := make([]SourceMention, 0, len(e.MentionsBySource))
		for src, count := range e.MentionsBySource {
			mentions = append(mentions, SourceMention{SourceID: src, Count: count})
		}
		sort.Slice(mentions, func(i, j int) bool { return mentions[i].SourceID < mentions[j].SourceID })

		snap.Entities = append(snap.Entities, SerializedEntity{
			ID:              string(e.ID),
			Label:           e.Label,
			Kind:            string(e.Kind),
			Subtype:         e.Subtype,
			Aliases:         append([]string{}, e.Aliases...),
			Mentions:        mentions,
			FirstSeenSource: e.FirstSeenSource,
			FirstSeenAt:     e.FirstSeenAt.UTC(),
			LastSeenAt:      e.LastSeenAt.UTC(),
			Metadata:        e.Metadata,
		})
	}
	sort.Slice(snap.Entities, func(i, j int) bool { return snap.Entities[i].ID < snap.Entities[j].ID })

	for _, rel := range r.relationships {
		snap.Relationships = append(snap.Relationships, SerializedRelationship{
			Source:     string(rel.Source),
			Target:     string(rel.Target),
			Type:       rel.Type,
			Confidence: rel.Confidence,
			Sources:    append([]string{}, rel.Sources...),
			Contexts:   append([]string{}, rel.Contexts...),
			UpdatedAt:  rel.UpdatedAt.UTC(),
		})
	}
	sort.Slice(snap.Relationships, func(i, j int) bool {
		a, b := snap.Relationships[i], snap.Relationships[j]
		if a.Source != b.Source {
			return a.Source < b.Source
		}
		if a.Type != b.Type {
			return a.Type < b.Type
		}
		return a.Target < b.Target
	})

	for _, pattern := range r.coOccurrences {
		ids := make([]string, len(pattern.EntityIDs))
		for i, id := range pattern.EntityIDs {
			ids[i] = string(id)
		}
		snap.CoOccurrences = append(snap.CoOccurrences, SerializedCoOccurrence{
			EntityIDs: ids,
			Frequency: pattern.Frequency,
			Contexts:  append([]string{}, pattern.Contexts...),
			Strength:  pattern.Strength,
		})
	}
	sort.Slice(snap.CoOccurrences, func(i, j int) bool {
		return coOccurrenceKeyStrings(snap.CoOccurrences[i].EntityIDs) <
			coOccurrenceKeyStrings(snap.CoOccurrences[j].EntityIDs)
	})

	return json.MarshalIndent(snap, "", "  ")
}

// Import replaces the registry's state with the snapshot's, restoring the
// flattened arrays into index-backed in-memory structures and rebuilding
// the label and alias indices. The incoming snapshot is validated before
// any local state is touched.
func (r *Registry) Import(data []byte) error {
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return errors.Wrap(err, errors.CodeSnapshotInvalid, "snapshot is not valid JSON")
	}
	if snap.Version != SnapshotVersion {
		return errors.Newf(errors.CodeSnapshotInvalid, "unsupported snapshot version %d", snap.Version)
	}

	entities := make(map[EntityID]*Entity, len(snap.Entities))
	labelIndex := make(map[string]EntityID, len(snap.Entities))
	aliasIndex := make(map[string]EntityID)

	for _, se := range snap.Entities {
		if se.ID == "" || se.Label == "" {
			return errors.New(errors.CodeSnapshotInvalid, "entity with empty id or label")
		}
		id := EntityID(se.ID)
		if _, dup := entities[id]; dup {
			return errors.Newf(errors.CodeSnapshotInvalid, "duplicate entity id %s", se.ID)
		}
		normalized := Normalize(se.Label)
		if owner, taken := labelIndex[normalized]; taken {
			return errors.Newf(errors.CodeSnapshotInvalid,
				"label %q owned by both %s and %s", se.Label, owner, se.ID)
		}

		mentions := make(map[string]int, len(se.Mentions))
		for _, m := range se.Mentions {
			mentions[m.SourceID] = m.Count
		}

		e := &Entity{
			ID:               id,
			Label:            se.Label,
			NormalizedLabel:  normalized,
			Kind:             ParseKind(se.Kind),
			Subtype:          se.Subtype,
			Aliases:          append([]string{}, se.Aliases...),
			MentionsBySource: mentions,
			FirstSeenSource:  se.FirstSeenSource,
			FirstSeenAt:      se.FirstSeenAt,
			LastSeenAt:       se.LastSeenAt,
			Metadata:         se.Metadata,
		}
		e.recomputeTotal()
		entities[id] = e
		labelIndex[normalized] = id
	}

	for _, se := range snap.Entities {
		id := EntityID(se.ID)
		for _, alias := range se.Aliases {
			norm := Normalize(alias)
			if norm == "" || norm == entities[id].NormalizedLabel {
				continue
			}
			if owner, taken := aliasIndex[norm]; taken && owner != id {
				return errors.Newf(errors.CodeSnapshotInvalid,
					"alias %q owned by both %s and %s", alias, owner, id)
			}
			if owner, taken := labelIndex[norm]; taken && owner != id {
				return errors.Newf(errors.CodeSnapshotInvalid,
					"alias %q collides with the label of %s", alias, owner)
			}
			aliasIndex[norm] = id
		}
	}

	relationships := make(map[RelKey]*Relationship, len(snap.Relationships))
	for _, sr := range snap.Relationships {
		if _, ok := entities[EntityID(sr.Source)]; !ok {
			return errors.Newf(errors.CodeSnapshotInvalid, "relationship references unknown entity %s", sr.Source)
		}
		if _, ok := entities[EntityID(sr.Target)]; !ok {
			return errors.Newf(errors.CodeSnapshotInvalid, "relationship references unknown entity %s", sr.Target)
		}
		rel := &Relationship{
			Source:     EntityID(sr.Source),
			Target:     EntityID(sr.Target),
			Type:       sr.Type,
			Confidence: sr.Confidence,
			Sources:    append([]string{}, sr.Sources...),
			Contexts:   append([]string{}, sr.Contexts...),
			UpdatedAt:  sr.UpdatedAt,
		}
		relationships[rel.Key()] = rel
	}

	coOccurrences := make(map[string]*CoOccurrencePattern, len(snap.CoOccurrences))
	for _, sc := range snap.CoOccurrences {
		ids := make([]EntityID, len(sc.EntityIDs))
		for i, s := range sc.EntityIDs {
			if _, ok := entities[EntityID(s)]; !ok {
				return errors.Newf(errors.CodeSnapshotInvalid, "co-occurrence references unknown entity %s", s)
			}
			ids[i] = EntityID(s)
		}
		pattern := &CoOccurrencePattern{
			EntityIDs: ids,
			Frequency: sc.Frequency,
			Contexts:  append([]string{}, sc.Contexts...),
			Strength:  sc.Strength,
		}
		coOccurrences[coOccurrenceKey(ids)] = pattern
	}

	// Validation passed; swap everything in atomically.
	r.entities = entities
	r.labelIndex = labelIndex
	r.aliasIndex = aliasIndex
	r.relationships = relationships
	r.relsByEntity = make(map[EntityID]map[RelKey]struct{})
	for key := range relationships {
		r.indexRelationship(key)
	}
	r.coOccurrences = coOccurrences
	return nil
}

func coOccurrenceKeyStrings(ids []string) string {
	sorted := append([]string{}, ids...)
	sort.Strings(sorted)
	key := ""
	for i, s := range sorted {
		if i > 0 {
			key += "|"
		}
		key += s
	}
	return key
}
