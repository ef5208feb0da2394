package app

import (
	"context"
	"time"

	"github.com/storyweave/lorekeeper/internal/engine/matcher"
	"github.com/storyweave/lorekeeper/internal/engine/registry"
	"github.com/storyweave/lorekeeper/internal/engine/scan"
	"github.com/storyweave/lorekeeper/internal/infrastructure/backup"
	"github.com/storyweave/lorekeeper/internal/infrastructure/logging"
	"github.com/storyweave/lorekeeper/internal/infrastructure/popularity"
)

// ScanDocument runs the recognition pipeline over the document, persists
// the updated registry, and mirrors changed entities into the graph.
func (s *Service) ScanDocument(ctx context.Context, doc scan.Document) (*scan.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.orch.ScanDocument(ctx, doc)
	if err != nil {
		return nil, err
	}
	s.mirrorMatches(ctx, result)
	if err := s.saveSnapshotLocked(); err != nil {
		s.logger.Warn("snapshot save after scan failed", logging.Err(err))
	}
	return result, nil
}

// ScanText is ScanDocument over plain text split into paragraph blocks.
func (s *Service) ScanText(ctx context.Context, documentID, text string) (*scan.Result, error) {
	return s.ScanDocument(ctx, scan.NewTextDocument(documentID, text))
}

// mirrorMatches pushes the entities touched by a scan into the graph
// mirror. Mirror failures are logged, never surfaced.
func (s *Service) mirrorMatches(ctx context.Context, result *scan.Result) {
	if s.mirror == nil {
		return
	}
	seen := map[registry.EntityID]struct{}{}
	sync := func(e *registry.Entity) {
		if e == nil {
			return
		}
		if _, ok := seen[e.ID]; ok {
			return
		}
		seen[e.ID] = struct{}{}
		if err := s.mirror.SyncEntity(ctx, e); err != nil {
			s.logger.Warn("graph mirror sync failed",
				logging.String("entity", string(e.ID)), logging.Err(err))
		}
	}
	for _, e := range result.Explicit {
		sync(e)
	}
	for _, m := range result.Matches {
		sync(m.Entity)
	}
	for _, span := range result.Promoted {
		sync(s.reg.Find(span))
	}
}

// BulkMentions runs the parallel matcher without the tiered pipeline.
func (s *Service) BulkMentions(ctx context.Context, doc scan.Document) ([]matcher.Mention, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.orch.BulkMentions(ctx, doc)
}

// DeleteDocument removes the document's evidence and per-document caches.
func (s *Service) DeleteDocument(documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orch.OnDocumentDeleted(documentID)
	return s.saveSnapshotLocked()
}

// Entities returns the registry's entities sorted by label.
func (s *Service) Entities() []*registry.Entity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reg.All()
}

// Entity resolves an id first, then a label or alias.
func (s *Service) Entity(idOrLabel string) *registry.Entity {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e := s.reg.Get(registry.EntityID(idOrLabel)); e != nil {
		return e
	}
	return s.reg.Find(idOrLabel)
}

// CreateEntity registers an entity outside of any scan.
func (s *Service) CreateEntity(ctx context.Context, label string, kind registry.EntityKind, sourceID string, opts *registry.RegisterOptions) (*registry.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, err := s.reg.Register(label, kind, sourceID, opts)
	if err != nil {
		return nil, err
	}
	s.orch.RebuildIndices()
	if s.mirror != nil {
		if err := s.mirror.SyncEntity(ctx, e); err != nil {
			s.logger.Warn("graph mirror sync failed", logging.Err(err))
		}
	}
	return e, s.saveSnapshotLocked()
}

// UpdateEntity applies the patch and refreshes derived indices.
func (s *Service) UpdateEntity(ctx context.Context, id registry.EntityID, patch registry.UpdatePatch) (*registry.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.reg.UpdateEntity(id, patch); err != nil {
		return nil, err
	}
	s.orch.RebuildIndices()
	e := s.reg.Get(id)
	if s.mirror != nil {
		if err := s.mirror.SyncEntity(ctx, e); err != nil {
			s.logger.Warn("graph mirror sync failed", logging.Err(err))
		}
	}
	return e, s.saveSnapshotLocked()
}

// DeleteEntity removes the entity; cascades handle graph and cache state.
func (s *Service) DeleteEntity(id registry.EntityID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.reg.DeleteEntity(id); err != nil {
		return err
	}
	switch store := s.popularity.(type) {
	case *popularity.MemoryStore:
		store.Forget(id)
	case *popularity.RedisStore:
		if err := store.Forget(context.Background(), id); err != nil {
			s.logger.Warn("popularity cleanup failed", logging.Err(err))
		}
	}
	s.orch.RebuildIndices()
	return s.saveSnapshotLocked()
}

// MergeEntities folds source into target.
func (s *Service) MergeEntities(ctx context.Context, targetID, sourceID registry.EntityID) (*registry.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.reg.MergeEntities(targetID, sourceID); err != nil {
		return nil, err
	}
	s.orch.RebuildIndices()
	e := s.reg.Get(targetID)
	if s.mirror != nil {
		if err := s.mirror.SyncEntity(ctx, e); err != nil {
			s.logger.Warn("graph mirror sync failed", logging.Err(err))
		}
	}
	if sink := s.eventSink(); sink != nil {
		event := scan.Event{
			Type:     scan.EventEntityMerged,
			EntityID: string(targetID),
			Payload:  map[string]interface{}{"merged_from": string(sourceID)},
			At:       time.Now().UTC(),
		}
		if err := sink.Publish(ctx, event); err != nil {
			s.logger.Warn("event publish failed", logging.Err(err))
		}
	}
	return e, s.saveSnapshotLocked()
}

// AddAlias attaches an alias to the entity.
func (s *Service) AddAlias(id registry.EntityID, alias string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.reg.AddAlias(id, alias); err != nil {
		return err
	}
	s.orch.RebuildIndices()
	return s.saveSnapshotLocked()
}

// RemoveAlias detaches an alias from the entity.
func (s *Service) RemoveAlias(id registry.EntityID, alias string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.reg.RemoveAlias(id, alias); err != nil {
		return err
	}
	s.orch.RebuildIndices()
	return s.saveSnapshotLocked()
}

// AddRelationship records a typed edge between two resolvable labels.
func (s *Service) AddRelationship(ctx context.Context, sourceText, relType, targetText string, confidence float64, sourceID, evidence string) *registry.Relationship {
	s.mu.Lock()
	defer s.mu.Unlock()

	rel := s.reg.AddRelationship(sourceText, relType, targetText, confidence, sourceID, evidence)
	if rel != nil && s.mirror != nil {
		if err := s.mirror.SyncRelationship(ctx, rel); err != nil {
			s.logger.Warn("graph mirror sync failed", logging.Err(err))
		}
	}
	return rel
}

// Relationships returns every edge touching the entity.
func (s *Service) Relationships(id registry.EntityID) []*registry.Relationship {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reg.GetRelationships(id)
}

// TopCoOccurring returns the entities most often seen alongside this one.
func (s *Service) TopCoOccurring(id registry.EntityID, n int) []*registry.Entity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reg.TopCoOccurring(id, n)
}

// PendingPromotions lists spans awaiting promotion evidence.
func (s *Service) PendingPromotions() []*scan.PromotionRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.orch.Promoter().Pending()
}

// CheckIntegrity reports invariant violations without mutating state.
func (s *Service) CheckIntegrity() []registry.IntegrityIssue {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reg.CheckIntegrity()
}

// RepairIntegrity fixes violations and returns what it found.
func (s *Service) RepairIntegrity() ([]registry.IntegrityIssue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	issues := s.reg.RepairIntegrity()
	s.orch.RebuildIndices()
	return issues, s.saveSnapshotLocked()
}

// Export serializes the registry snapshot.
func (s *Service) Export() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reg.Export()
}

// Import replaces registry state with the snapshot, backing up the current
// state first when a backup target is configured.
func (s *Service) Import(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.backups != nil {
		current, err := s.reg.Export()
		if err == nil {
			if err := backup.Func(s.backups)(current); err != nil {
				s.logger.Warn("pre-import backup failed", logging.Err(err))
			}
		}
	}
	if err := s.reg.Import(data); err != nil {
		return err
	}
	s.orch.RebuildIndices()
	return s.saveSnapshotLocked()
}

// Flush clears the entire registry. It refuses without confirm, and when a
// backup target is configured the snapshot must be stored before anything
// is dropped.
func (s *Service) Flush(confirm bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var fn registry.BackupFunc
	if s.backups != nil {
		fn = backup.Func(s.backups)
	}
	if err := s.reg.Flush(confirm, fn); err != nil {
		return err
	}
	s.orch.RebuildIndices()
	return s.saveSnapshotLocked()
}

// Stats summarizes registry size for status surfaces.
type Stats struct {
	Entities      int `json:"entities"`
	Relationships int `json:"relationships"`
	CoOccurrences int `json:"co_occurrences"`
}

// Stats reports registry counts.
func (s *Service) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		Entities:      s.reg.Count(),
		Relationships: s.reg.RelationshipCount(),
		CoOccurrences: s.reg.CoOccurrenceCount(),
	}
}
