package graphstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storyweave/lorekeeper/internal/engine/registry"
	"github.com/storyweave/lorekeeper/internal/infrastructure/logging"
	"github.com/storyweave/lorekeeper/pkg/errors"
)

type recordedCall struct {
	cypher string
	params map[string]any
}

type fakeRunner struct {
	calls  []recordedCall
	failOn int // 1-based call index that fails; 0 never fails
	closed bool
}

func (f *fakeRunner) run(_ context.Context, cypher string, params map[string]any) error {
	f.calls = append(f.calls, recordedCall{cypher: cypher, params: params})
	if f.failOn > 0 && len(f.calls) == f.failOn {
		return errors.Internal("boom")
	}
	return nil
}

func (f *fakeRunner) close(_ context.Context) error {
	f.closed = true
	return nil
}

func testMirror() (*Mirror, *fakeRunner) {
	runner := &fakeRunner{}
	return &Mirror{runner: runner, logger: logging.NewNopLogger()}, runner
}

func seededRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg := registry.NewRegistry(nil)
	for _, l := range []string{"Frodo", "Sam"} {
		_, err := reg.Register(l, registry.KindCharacter, "doc-1", nil)
		require.NoError(t, err)
	}
	require.NotNil(t, reg.AddRelationship("Frodo", "travels_with", "Sam", 0.9, "doc-1", "they walked"))
	return reg
}

func TestSyncEntityUpserts(t *testing.T) {
	m, runner := testMirror()
	reg := seededRegistry(t)
	frodo := reg.Find("frodo")

	require.NoError(t, m.SyncEntity(context.Background(), frodo))
	require.Len(t, runner.calls, 1)
	assert.Contains(t, runner.calls[0].cypher, "MERGE (n:Entity {id: $id})")
	assert.Equal(t, string(frodo.ID), runner.calls[0].params["id"])
	assert.Equal(t, "Frodo", runner.calls[0].params["label"])
}

func TestSyncEntityNilIsNoop(t *testing.T) {
	m, runner := testMirror()
	require.NoError(t, m.SyncEntity(context.Background(), nil))
	assert.Empty(t, runner.calls)
}

func TestSyncRelationshipMatchesBothEndpoints(t *testing.T) {
	m, runner := testMirror()
	reg := seededRegistry(t)
	rels := reg.GetRelationships(reg.Find("frodo").ID)
	require.Len(t, rels, 1)

	require.NoError(t, m.SyncRelationship(context.Background(), rels[0]))
	require.Len(t, runner.calls, 1)
	assert.Contains(t, runner.calls[0].cypher, "MERGE (a)-[r:RELATES")
	assert.Equal(t, "travels_with", runner.calls[0].params["type"])
}

func TestRemoveEntityDetachDeletes(t *testing.T) {
	m, runner := testMirror()

	require.NoError(t, m.RemoveEntity(registry.EntityID("id-1")))
	require.Len(t, runner.calls, 1)
	assert.Contains(t, runner.calls[0].cypher, "DETACH DELETE")
	assert.Equal(t, "id-1", runner.calls[0].params["id"])
}

func TestSyncAllEntitiesBeforeRelationships(t *testing.T) {
	m, runner := testMirror()
	reg := seededRegistry(t)

	require.NoError(t, m.SyncAll(context.Background(), reg))
	// Two entity upserts, then one edge.
	require.Len(t, runner.calls, 3)
	assert.Contains(t, runner.calls[0].cypher, "MERGE (n:Entity")
	assert.Contains(t, runner.calls[1].cypher, "MERGE (n:Entity")
	assert.Contains(t, runner.calls[2].cypher, "MERGE (a)-[r:RELATES")
}

func TestSyncAllPropagatesFailure(t *testing.T) {
	m, runner := testMirror()
	runner.failOn = 1
	err := m.SyncAll(context.Background(), seededRegistry(t))
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeGraphStoreError))
}

func TestCloseReleasesDriver(t *testing.T) {
	m, runner := testMirror()
	require.NoError(t, m.Close(context.Background()))
	assert.True(t, runner.closed)
}
