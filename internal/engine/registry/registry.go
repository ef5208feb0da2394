// Package registry implements the canonical entity store: entities, aliases,
// relationships, and co-occurrence patterns, with hash indices for O(1)
// label/alias resolution and side tables for graph data.
//
// The registry is not internally synchronized. All mutation must be funneled
// through a single owner; concurrent hosts wrap it behind a mutex or actor
// (see interfaces/httpapi.Guard).
package registry

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/storyweave/lorekeeper/internal/infrastructure/logging"
	"github.com/storyweave/lorekeeper/pkg/errors"
)

// CascadeFunc is invoked with the id of an entity about to be deleted,
// before any local state is removed. External relationship stores register
// one to mirror the cascade. Errors are logged and do not abort deletion.
type CascadeFunc func(id EntityID) error

// Registry is the canonical store of entities and their graph data.
type Registry struct {
	entities   map[EntityID]*Entity
	labelIndex map[string]EntityID // normalized label -> id
	aliasIndex map[string]EntityID // normalized alias -> id

	relationships map[RelKey]*Relationship
	relsByEntity  map[EntityID]map[RelKey]struct{}
	coOccurrences map[string]*CoOccurrencePattern

	cascades []CascadeFunc
	logger   logging.Logger
	now      func() time.Time
}

// Option customizes Registry construction.
type Option func(*Registry)

// WithClock overrides the time source, primarily for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithCascade registers an external cascade callback at construction time.
func WithCascade(fn CascadeFunc) Option {
	return func(r *Registry) { r.cascades = append(r.cascades, fn) }
}

// NewRegistry creates an empty registry. A nil logger is replaced with the
// nop logger.
func NewRegistry(logger logging.Logger, opts ...Option) *Registry {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	r := &Registry{
		entities:      make(map[EntityID]*Entity),
		labelIndex:    make(map[string]EntityID),
		aliasIndex:    make(map[string]EntityID),
		relationships: make(map[RelKey]*Relationship),
		relsByEntity:  make(map[EntityID]map[RelKey]struct{}),
		coOccurrences: make(map[string]*CoOccurrencePattern),
		logger:        logger.Named("registry"),
		now:           time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// RegisterCascade adds an external cascade callback invoked before every
// entity deletion.
func (r *Registry) RegisterCascade(fn CascadeFunc) {
	if fn != nil {
		r.cascades = append(r.cascades, fn)
	}
}

// ---------------------------------------------------------------------------
// Registration and lookup
// ---------------------------------------------------------------------------

// RegisterOptions carries the optional fields of a registration.
type RegisterOptions struct {
	Subtype string
	Aliases []string

	// Metadata is a parsed attribute map merged into the entity.
	Metadata map[string]interface{}

	// RawMetadata is an unparsed attribute payload. A malformed payload is
	// logged and ignored; the registration itself still succeeds.
	RawMetadata string
}

// Register is idempotent on normalized label: if the label (or an alias
// resolving to it) already exists, the source's mention count is incremented
// and supplied metadata/aliases are merged; otherwise a new entity is
// created. The returned entity is the live registry object.
func (r *Registry) Register(label string, kind EntityKind, sourceID string, opts *RegisterOptions) (*Entity, error) {
	normalized := Normalize(label)
	if normalized == "" {
		return nil, errors.InvalidParam("entity label must not be empty")
	}
	if opts == nil {
		opts = &RegisterOptions{}
	}

	meta := opts.Metadata
	if opts.RawMetadata != "" {
		parsed := map[string]interface{}{}
		if err := json.Unmarshal([]byte(opts.RawMetadata), &parsed); err != nil {
			r.logger.Warn("malformed metadata payload ignored",
				logging.String("label", label), logging.Err(err))
		} else {
			if meta == nil {
				meta = parsed
			} else {
				for k, v := range parsed {
					if _, exists := meta[k]; !exists {
						meta[k] = v
					}
				}
			}
		}
	}

	now := r.now()

	if existing := r.Find(label); existing != nil {
		existing.MentionsBySource[sourceID]++
		existing.recomputeTotal()
		existing.LastSeenAt = now
		r.mergeRegistration(existing, kind, opts.Subtype, opts.Aliases, meta)
		return existing, nil
	}

	entity := &Entity{
		ID:               EntityID(uuid.NewString()),
		Label:            label,
		NormalizedLabel:  normalized,
		Kind:             kind,
		Subtype:          opts.Subtype,
		Aliases:          []string{},
		MentionsBySource: map[string]int{sourceID: 1},
		FirstSeenSource:  sourceID,
		FirstSeenAt:      now,
		LastSeenAt:       now,
		Metadata:         meta,
	}
	entity.recomputeTotal()

	r.entities[entity.ID] = entity
	r.labelIndex[normalized] = entity.ID

	for _, alias := range opts.Aliases {
		if err := r.AddAlias(entity.ID, alias); err != nil {
			r.logger.Warn("alias skipped during registration",
				logging.String("alias", alias), logging.Err(err))
		}
	}

	r.logger.Debug("entity registered",
		logging.String("id", string(entity.ID)),
		logging.String("label", label),
		logging.String("kind", string(kind)))
	return entity, nil
}

// mergeRegistration folds a repeat registration's optional fields into an
// existing entity. Existing values win; metadata fills gaps only.
func (r *Registry) mergeRegistration(e *Entity, kind EntityKind, subtype string, aliases []string, meta map[string]interface{}) {
	if e.Kind == KindUnknown && kind != KindUnknown {
		e.Kind = kind
	}
	if e.Subtype == "" && subtype != "" {
		e.Subtype = subtype
	}
	for _, alias := range aliases {
		if err := r.AddAlias(e.ID, alias); err != nil {
			r.logger.Debug("alias merge skipped", logging.String("alias", alias), logging.Err(err))
		}
	}
	if len(meta) > 0 {
		if e.Metadata == nil {
			e.Metadata = map[string]interface{}{}
		}
		for k, v := range meta {
			if _, exists := e.Metadata[k]; !exists {
				e.Metadata[k] = v
			}
		}
	}
}

// Find resolves text to an entity by exact normalized label or alias,
// case-insensitively, in O(1). Returns nil when nothing matches.
func (r *Registry) Find(text string) *Entity {
	normalized := Normalize(text)
	if id, ok := r.labelIndex[normalized]; ok {
		return r.entities[id]
	}
	if id, ok := r.aliasIndex[normalized]; ok {
		return r.entities[id]
	}
	return nil
}

// Get returns the entity with the given id, or nil.
func (r *Registry) Get(id EntityID) *Entity {
	return r.entities[id]
}

// All returns every registered entity. The slice is fresh; the entities are
// the live objects.
func (r *Registry) All() []*Entity {
	out := make([]*Entity, 0, len(r.entities))
	for _, e := range r.entities {
		out = append(out, e)
	}
	return out
}

// Count returns the number of registered entities.
func (r *Registry) Count() int {
	return len(r.entities)
}

// RecordMention increments the entity's mention count for the given source.
func (r *Registry) RecordMention(id EntityID, sourceID string) error {
	e := r.entities[id]
	if e == nil {
		return errors.Newf(errors.CodeEntityNotFound, "entity %s not found", id)
	}
	e.MentionsBySource[sourceID]++
	e.recomputeTotal()
	e.LastSeenAt = r.now()
	return nil
}

// ---------------------------------------------------------------------------
// Aliases
// ---------------------------------------------------------------------------

// AddAlias attaches an alias to the entity and indexes it globally. Adding
// an alias whose normalized form is already owned by a different entity
// fails without mutation.
func (r *Registry) AddAlias(id EntityID, alias string) error {
	e := r.entities[id]
	if e == nil {
		return errors.Newf(errors.CodeEntityNotFound, "entity %s not found", id)
	}
	normalized := Normalize(alias)
	if normalized == "" {
		return errors.InvalidParam("alias must not be empty")
	}
	if normalized == e.NormalizedLabel {
		// An entity's own label needs no alias entry.
		return nil
	}
	if owner, ok := r.aliasIndex[normalized]; ok {
		if owner == id {
			return nil
		}
		return errors.Newf(errors.CodeAliasConflict,
			"alias %q already owned by entity %s", alias, owner)
	}
	if owner, ok := r.labelIndex[normalized]; ok && owner != id {
		return errors.Newf(errors.CodeAliasConflict,
			"alias %q collides with the label of entity %s", alias, owner)
	}

	if !e.hasAlias(normalized) {
		e.Aliases = append(e.Aliases, alias)
	}
	r.aliasIndex[normalized] = id
	return nil
}

// RemoveAlias detaches an alias from the entity and drops its index entry.
func (r *Registry) RemoveAlias(id EntityID, alias string) error {
	e := r.entities[id]
	if e == nil {
		return errors.Newf(errors.CodeEntityNotFound, "entity %s not found", id)
	}
	normalized := Normalize(alias)
	if owner, ok := r.aliasIndex[normalized]; !ok || owner != id {
		return errors.Newf(errors.CodeNotFound, "alias %q not owned by entity %s", alias, id)
	}
	delete(r.aliasIndex, normalized)
	kept := e.Aliases[:0]
	for _, a := range e.Aliases {
		if Normalize(a) != normalized {
			kept = append(kept, a)
		}
	}
	e.Aliases = kept
	return nil
}

// ---------------------------------------------------------------------------
// Update
// ---------------------------------------------------------------------------

// UpdatePatch carries the mutable fields of UpdateEntity. Nil pointers leave
// the field untouched; a non-nil Aliases replaces the whole alias list.
type UpdatePatch struct {
	Label    *string
	Kind     *EntityKind
	Subtype  *string
	Aliases  *[]string
	Metadata map[string]interface{}
}

// UpdateEntity applies the patch. A rename whose target normalized label is
// already taken by a different entity fails without partial mutation.
func (r *Registry) UpdateEntity(id EntityID, patch UpdatePatch) error {
	e := r.entities[id]
	if e == nil {
		return errors.Newf(errors.CodeEntityNotFound, "entity %s not found", id)
	}

	// Validate the rename before touching anything.
	if patch.Label != nil {
		newNorm := Normalize(*patch.Label)
		if newNorm == "" {
			return errors.InvalidParam("label must not be empty")
		}
		if owner, ok := r.labelIndex[newNorm]; ok && owner != id {
			return errors.Newf(errors.CodeLabelConflict,
				"label %q already taken by entity %s", *patch.Label, owner)
		}
		if owner, ok := r.aliasIndex[newNorm]; ok && owner != id {
			return errors.Newf(errors.CodeLabelConflict,
				"label %q collides with an alias of entity %s", *patch.Label, owner)
		}
	}
	if patch.Aliases != nil {
		for _, alias := range *patch.Aliases {
			norm := Normalize(alias)
			if owner, ok := r.aliasIndex[norm]; ok && owner != id {
				return errors.Newf(errors.CodeAliasConflict,
					"alias %q already owned by entity %s", alias, owner)
			}
			if owner, ok := r.labelIndex[norm]; ok && owner != id {
				return errors.Newf(errors.CodeAliasConflict,
					"alias %q collides with the label of entity %s", alias, owner)
			}
		}
	}

	if patch.Label != nil {
		delete(r.labelIndex, e.NormalizedLabel)
		e.Label = *patch.Label
		e.NormalizedLabel = Normalize(*patch.Label)
		r.labelIndex[e.NormalizedLabel] = id
		// The new label may shadow one of the entity's own aliases.
		if owner, ok := r.aliasIndex[e.NormalizedLabel]; ok && owner == id {
			delete(r.aliasIndex, e.NormalizedLabel)
		}
	}
	if patch.Kind != nil {
		e.Kind = *patch.Kind
	}
	if patch.Subtype != nil {
		e.Subtype = *patch.Subtype
	}
	if patch.Aliases != nil {
		for _, old := range e.Aliases {
			delete(r.aliasIndex, Normalize(old))
		}
		e.Aliases = []string{}
		for _, alias := range *patch.Aliases {
			if err := r.AddAlias(id, alias); err != nil {
				r.logger.Warn("alias replacement skipped",
					logging.String("alias", alias), logging.Err(err))
			}
		}
	}
	if len(patch.Metadata) > 0 {
		if e.Metadata == nil {
			e.Metadata = map[string]interface{}{}
		}
		for k, v := range patch.Metadata {
			e.Metadata[k] = v
		}
	}
	e.LastSeenAt = r.now()
	return nil
}

// ---------------------------------------------------------------------------
// Deletion
// ---------------------------------------------------------------------------

// DeleteEntity removes the entity and cascades: label/alias index entries,
// every relationship referencing the id, every co-occurrence pattern
// containing the id. External cascade callbacks run before local deletion.
func (r *Registry) DeleteEntity(id EntityID) error {
	e := r.entities[id]
	if e == nil {
		return errors.Newf(errors.CodeEntityNotFound, "entity %s not found", id)
	}

	for _, cascade := range r.cascades {
		if err := cascade(id); err != nil {
			r.logger.Warn("external cascade failed",
				logging.String("id", string(id)), logging.Err(err))
		}
	}

	delete(r.labelIndex, e.NormalizedLabel)
	for _, alias := range e.Aliases {
		norm := Normalize(alias)
		if owner, ok := r.aliasIndex[norm]; ok && owner == id {
			delete(r.aliasIndex, norm)
		}
	}

	for key := range r.relsByEntity[id] {
		r.removeRelationship(key)
	}
	delete(r.relsByEntity, id)

	for key, pattern := range r.coOccurrences {
		if pattern.contains(id) {
			delete(r.coOccurrences, key)
		}
	}

	delete(r.entities, id)
	r.logger.Debug("entity deleted", logging.String("id", string(id)))
	return nil
}

// OnSourceDeleted strips the source from every entity's per-source mentions,
// recomputes totals, and removes relationships whose sole evidence was that
// source. Entities left with zero mentions are retained; mention counts are
// usage signals, not liveness.
func (r *Registry) OnSourceDeleted(sourceID string) {
	for _, e := range r.entities {
		if _, ok := e.MentionsBySource[sourceID]; ok {
			delete(e.MentionsBySource, sourceID)
			e.recomputeTotal()
		}
	}

	for key, rel := range r.relationships {
		kept := rel.Sources[:0]
		for _, s := range rel.Sources {
			if s != sourceID {
				kept = append(kept, s)
			}
		}
		rel.Sources = kept
		if len(rel.Sources) == 0 {
			r.removeRelationship(key)
		}
	}
}

// ---------------------------------------------------------------------------
// Flush
// ---------------------------------------------------------------------------

// BackupFunc receives the serialized snapshot of the registry immediately
// before a flush wipes it.
type BackupFunc func(snapshot []byte) error

// Flush destructively clears the whole registry. It refuses to run without
// confirm. When backup is non-nil the current snapshot is handed to it
// first; a backup failure aborts the flush.
func (r *Registry) Flush(confirm bool, backup BackupFunc) error {
	if !confirm {
		return errors.New(errors.CodeFlushUnconfirmed, "flush requires explicit confirmation")
	}
	if backup != nil {
		data, err := r.Export()
		if err != nil {
			return errors.Wrap(err, errors.CodeBackupError, "pre-flush export failed")
		}
		if err := backup(data); err != nil {
			return errors.Wrap(err, errors.CodeBackupError, "pre-flush backup failed")
		}
	}

	r.entities = make(map[EntityID]*Entity)
	r.labelIndex = make(map[string]EntityID)
	r.aliasIndex = make(map[string]EntityID)
	r.relationships = make(map[RelKey]*Relationship)
	r.relsByEntity = make(map[EntityID]map[RelKey]struct{})
	r.coOccurrences = make(map[string]*CoOccurrencePattern)

	r.logger.Info("registry flushed")
	return nil
}
