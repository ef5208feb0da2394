package registry

import (
	"sort"
	"strings"
	"time"
)

// ---------------------------------------------------------------------------
// Identifiers and enums
// ---------------------------------------------------------------------------

// EntityID is the opaque unique identifier of a registered entity.
type EntityID string

// EntityKind is the closed set of entity categories tracked by the registry.
type EntityKind string

const (
	KindCharacter    EntityKind = "character"
	KindLocation     EntityKind = "location"
	KindFaction      EntityKind = "faction"
	KindOrganization EntityKind = "organization"
	KindItem         EntityKind = "item"
	KindCreature     EntityKind = "creature"
	KindEvent        EntityKind = "event"
	KindConcept      EntityKind = "concept"
	KindUnknown      EntityKind = "unknown"
)

// AllKinds lists every valid EntityKind.
var AllKinds = []EntityKind{
	KindCharacter, KindLocation, KindFaction, KindOrganization,
	KindItem, KindCreature, KindEvent, KindConcept, KindUnknown,
}

// ParseKind maps a free-form kind string to an EntityKind, falling back to
// KindUnknown for unrecognised values.
func ParseKind(s string) EntityKind {
	k := EntityKind(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range AllKinds {
		if k == known {
			return known
		}
	}
	return KindUnknown
}

// ---------------------------------------------------------------------------
// Entity
// ---------------------------------------------------------------------------

// Entity is a canonical story object (character, location, faction, ...)
// tracked by the registry. The normalized label and every normalized alias
// each map to exactly one entity at all times; the registry's indices
// enforce that invariant.
type Entity struct {
	ID              EntityID               `json:"id"`
	Label           string                 `json:"label"`
	NormalizedLabel string                 `json:"normalized_label"`
	Kind            EntityKind             `json:"kind"`
	Subtype         string                 `json:"subtype,omitempty"`
	Aliases         []string               `json:"aliases"`
	MentionsBySource map[string]int        `json:"-"`
	TotalMentions   int                    `json:"total_mentions"`
	FirstSeenSource string                 `json:"first_seen_source"`
	FirstSeenAt     time.Time              `json:"first_seen_at"`
	LastSeenAt      time.Time              `json:"last_seen_at"`
	Metadata        map[string]interface{} `json:"metadata,omitempty"`
}

// recomputeTotal re-derives TotalMentions from the per-source counts.
// Called after every mutation of MentionsBySource.
func (e *Entity) recomputeTotal() {
	total := 0
	for _, c := range e.MentionsBySource {
		total += c
	}
	e.TotalMentions = total
}

// hasAlias reports whether the entity carries the given normalized alias.
func (e *Entity) hasAlias(normalized string) bool {
	for _, a := range e.Aliases {
		if Normalize(a) == normalized {
			return true
		}
	}
	return false
}

// Normalize lowercases, trims, and collapses internal whitespace. It is the
// single normalization rule used by the label index, the alias index, and
// every lookup.
func Normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(strings.TrimSpace(s))), " ")
}

// ---------------------------------------------------------------------------
// Relationship
// ---------------------------------------------------------------------------

// RelKey is the identity of a relationship: (source, type, target).
// Re-discovering the same key merges evidence instead of duplicating.
type RelKey struct {
	Source EntityID
	Type   string
	Target EntityID
}

// Relationship is a typed, confidence-weighted edge between two entities,
// stored in a side table keyed by RelKey so that entity deletion is a
// localized sweep rather than a graph traversal.
type Relationship struct {
	Source     EntityID  `json:"source"`
	Target     EntityID  `json:"target"`
	Type       string    `json:"type"`
	Confidence float64   `json:"confidence"`
	Sources    []string  `json:"sources"`
	Contexts   []string  `json:"contexts"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Key returns the relationship's identity key.
func (r *Relationship) Key() RelKey {
	return RelKey{Source: r.Source, Type: r.Type, Target: r.Target}
}

// ---------------------------------------------------------------------------
// Co-occurrence
// ---------------------------------------------------------------------------

// CoOccurrencePattern records statistical evidence that a set of two or more
// entities appear together in local context. The set is canonicalized by
// sorting ids, so {A,B} and {B,A} hit the same pattern.
type CoOccurrencePattern struct {
	EntityIDs []EntityID `json:"entity_ids"`
	Frequency int        `json:"frequency"`
	Contexts  []string   `json:"contexts"`
	Strength  float64    `json:"strength"`
}

// coOccurrenceKey canonicalizes an unordered entity set into a stable string
// key (sorted ids joined by '|').
func coOccurrenceKey(ids []EntityID) string {
	sorted := make([]string, len(ids))
	for i, id := range ids {
		sorted[i] = string(id)
	}
	sort.Strings(sorted)
	return strings.Join(sorted, "|")
}

// contains reports whether the pattern references the given id.
func (p *CoOccurrencePattern) contains(id EntityID) bool {
	for _, e := range p.EntityIDs {
		if e == id {
			return true
		}
	}
	return false
}

// maxContextsPerPattern caps the evidence snippets retained per pattern and
// per relationship.
const maxContextsPerPattern = 10
