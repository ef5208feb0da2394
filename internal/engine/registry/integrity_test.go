package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckIntegrityCleanRegistry(t *testing.T) {
	r := newTestRegistry(t)
	seedForSnapshot(t, r)
	assert.Empty(t, r.CheckIntegrity())
}

func TestCheckIntegrityFindsDanglingReferences(t *testing.T) {
	r := newTestRegistry(t)
	seedForSnapshot(t, r)

	// Rip an entity out from under its graph data, bypassing the cascade.
	gollum := r.Find("gollum")
	require.NotNil(t, gollum)
	delete(r.entities, gollum.ID)

	issues := r.CheckIntegrity()
	require.NotEmpty(t, issues)

	codes := map[string]bool{}
	for _, issue := range issues {
		codes[issue.Code] = true
	}
	assert.True(t, codes[issueDanglingRelationship])
	assert.True(t, codes[issueDanglingCoOccurrence])
	assert.True(t, codes[issueLabelIndexStale])
}

func TestCheckIntegrityFindsIndexAndCounterDrift(t *testing.T) {
	r := newTestRegistry(t)
	bilbo, err := r.Register("Bilbo", KindCharacter, "doc-1", nil)
	require.NoError(t, err)

	delete(r.labelIndex, bilbo.NormalizedLabel)
	bilbo.TotalMentions = 42

	issues := r.CheckIntegrity()
	codes := map[string]bool{}
	for _, issue := range issues {
		codes[issue.Code] = true
	}
	assert.True(t, codes[issueLabelIndexMissing])
	assert.True(t, codes[issueMentionTotalDrift])
}

func TestRepairIntegrity(t *testing.T) {
	r := newTestRegistry(t)
	seedForSnapshot(t, r)

	gollum := r.Find("gollum")
	require.NotNil(t, gollum)
	delete(r.entities, gollum.ID)
	bilbo := r.Find("bilbo")
	bilbo.TotalMentions = 99

	issues := r.RepairIntegrity()
	require.NotEmpty(t, issues)

	// Dangling graph data is gone, counters re-derived, indices rebuilt.
	assert.Equal(t, 1, r.RelationshipCount())
	assert.Equal(t, 0, r.CoOccurrenceCount())
	assert.Equal(t, 1, bilbo.TotalMentions)
	assert.Nil(t, r.Find("gollum"))
	assert.Empty(t, r.CheckIntegrity())

	// Repair is idempotent: a second run reports nothing.
	assert.Empty(t, r.RepairIntegrity())
}
