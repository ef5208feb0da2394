// Package graphstore mirrors the registry's entities and relationships into
// Neo4j so that graph tooling can query the knowledge base directly. The
// in-process registry stays authoritative; the mirror is write-behind and a
// mirror failure never fails the originating operation.
package graphstore

import (
	"context"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/storyweave/lorekeeper/internal/engine/registry"
	"github.com/storyweave/lorekeeper/internal/infrastructure/logging"
	"github.com/storyweave/lorekeeper/pkg/errors"
)

// Config holds the Neo4j connection parameters.
type Config struct {
	URI               string
	User              string
	Password          string
	Database          string
	MaxPoolSize       int
	ConnectionTimeout time.Duration
}

// cypherRunner abstracts the write path of the Neo4j driver so tests can
// substitute a recorder.
type cypherRunner interface {
	run(ctx context.Context, cypher string, params map[string]any) error
	close(ctx context.Context) error
}

type driverRunner struct {
	driver   neo4j.DriverWithContext
	database string
}

func (d *driverRunner) run(ctx context.Context, cypher string, params map[string]any) error {
	session := d.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: d.database})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return tx.Run(ctx, cypher, params)
	})
	return err
}

func (d *driverRunner) close(ctx context.Context) error {
	return d.driver.Close(ctx)
}

// Mirror projects registry state into the graph database.
type Mirror struct {
	runner cypherRunner
	logger logging.Logger
}

// NewMirror connects to Neo4j and verifies connectivity.
func NewMirror(ctx context.Context, cfg Config, logger logging.Logger) (*Mirror, error) {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if cfg.URI == "" {
		return nil, errors.InvalidParam("graphstore: uri is required")
	}

	driver, err := neo4j.NewDriverWithContext(cfg.URI,
		neo4j.BasicAuth(cfg.User, cfg.Password, ""),
		func(c *neo4j.Config) {
			if cfg.MaxPoolSize > 0 {
				c.MaxConnectionPoolSize = cfg.MaxPoolSize
			}
			if cfg.ConnectionTimeout > 0 {
				c.SocketConnectTimeout = cfg.ConnectionTimeout
			}
		})
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeGraphStoreError, "graphstore: driver init failed")
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, errors.Wrap(err, errors.CodeGraphStoreError, "graphstore: connectivity check failed")
	}

	return &Mirror{
		runner: &driverRunner{driver: driver, database: cfg.Database},
		logger: logger.Named("graphstore"),
	}, nil
}

// SyncEntity upserts the entity node keyed by registry id.
func (m *Mirror) SyncEntity(ctx context.Context, e *registry.Entity) error {
	if e == nil {
		return nil
	}
	err := m.runner.run(ctx, `
		MERGE (n:Entity {id: $id})
		SET n.label = $label,
		    n.kind = $kind,
		    n.subtype = $subtype,
		    n.aliases = $aliases,
		    n.mentions = $mentions,
		    n.updated_at = $updated_at`,
		map[string]any{
			"id":         string(e.ID),
			"label":      e.Label,
			"kind":       string(e.Kind),
			"subtype":    e.Subtype,
			"aliases":    e.Aliases,
			"mentions":   e.TotalMentions,
			"updated_at": e.LastSeenAt.UTC().Format(time.RFC3339),
		})
	if err != nil {
		return errors.Wrap(err, errors.CodeGraphStoreError, "graphstore: entity sync failed")
	}
	return nil
}

// SyncRelationship upserts the typed edge between two already-synced nodes.
func (m *Mirror) SyncRelationship(ctx context.Context, rel *registry.Relationship) error {
	if rel == nil {
		return nil
	}
	err := m.runner.run(ctx, `
		MATCH (a:Entity {id: $source})
		MATCH (b:Entity {id: $target})
		MERGE (a)-[r:RELATES {type: $type}]->(b)
		SET r.confidence = $confidence,
		    r.updated_at = $updated_at`,
		map[string]any{
			"source":     string(rel.Source),
			"target":     string(rel.Target),
			"type":       rel.Type,
			"confidence": rel.Confidence,
			"updated_at": rel.UpdatedAt.UTC().Format(time.RFC3339),
		})
	if err != nil {
		return errors.Wrap(err, errors.CodeGraphStoreError, "graphstore: relationship sync failed")
	}
	return nil
}

// RemoveEntity deletes the node and every edge touching it. Registered as a
// registry cascade so graph state follows entity deletion.
func (m *Mirror) RemoveEntity(id registry.EntityID) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := m.runner.run(ctx, `
		MATCH (n:Entity {id: $id})
		DETACH DELETE n`,
		map[string]any{"id": string(id)})
	if err != nil {
		return errors.Wrap(err, errors.CodeGraphStoreError, "graphstore: entity removal failed")
	}
	return nil
}

// SyncAll replays the full registry state into the graph, entities first so
// relationship MATCH clauses find both endpoints.
func (m *Mirror) SyncAll(ctx context.Context, reg *registry.Registry) error {
	entities := reg.All()
	for _, e := range entities {
		if err := m.SyncEntity(ctx, e); err != nil {
			return err
		}
	}
	for _, e := range entities {
		for _, rel := range reg.GetRelationships(e.ID) {
			if rel.Source != e.ID {
				continue // each edge once, from its source side
			}
			if err := m.SyncRelationship(ctx, rel); err != nil {
				return err
			}
		}
	}
	m.logger.Info("graph mirror synced", logging.Int("entities", len(entities)))
	return nil
}

// Close releases the underlying driver.
func (m *Mirror) Close(ctx context.Context) error {
	return m.runner.close(ctx)
}
