package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storyweave/lorekeeper/pkg/errors"
)

func testClock() func() time.Time {
	t := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time {
		t = t.Add(time.Second)
		return t
	}
}

func newTestRegistry(t *testing.T, opts ...Option) *Registry {
	t.Helper()
	opts = append([]Option{WithClock(testClock())}, opts...)
	return NewRegistry(nil, opts...)
}

func TestRegisterAndFind(t *testing.T) {
	r := newTestRegistry(t)

	e, err := r.Register("Aragorn", KindCharacter, "doc-1", nil)
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.NotEmpty(t, e.ID)
	assert.Equal(t, "Aragorn", e.Label)
	assert.Equal(t, "aragorn", e.NormalizedLabel)
	assert.Equal(t, 1, e.TotalMentions)
	assert.Equal(t, "doc-1", e.FirstSeenSource)

	assert.Same(t, e, r.Find("aragorn"))
	assert.Same(t, e, r.Find("  ARAGORN  "))
	assert.Nil(t, r.Find("legolas"))
	assert.Equal(t, 1, r.Count())
}

func TestRegisterEmptyLabel(t *testing.T) {
	r := newTestRegistry(t)
	_, err := r.Register("   ", KindCharacter, "doc-1", nil)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeInvalidParam))
}

func TestRegisterIdempotentOnNormalizedLabel(t *testing.T) {
	r := newTestRegistry(t)

	first, err := r.Register("Minas Tirith", KindLocation, "doc-1", nil)
	require.NoError(t, err)

	second, err := r.Register("minas  tirith", KindLocation, "doc-2", nil)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, r.Count())
	assert.Equal(t, 2, first.TotalMentions)
	assert.Equal(t, 1, first.MentionsBySource["doc-1"])
	assert.Equal(t, 1, first.MentionsBySource["doc-2"])
}

func TestRegisterViaAliasIncrementsExisting(t *testing.T) {
	r := newTestRegistry(t)

	e, err := r.Register("Gandalf", KindCharacter, "doc-1", &RegisterOptions{
		Aliases: []string{"Mithrandir"},
	})
	require.NoError(t, err)

	again, err := r.Register("Mithrandir", KindCharacter, "doc-2", nil)
	require.NoError(t, err)
	assert.Same(t, e, again)
	assert.Equal(t, 2, e.TotalMentions)
}

func TestRegisterMergesGapsOnly(t *testing.T) {
	r := newTestRegistry(t)

	e, err := r.Register("Narsil", KindUnknown, "doc-1", nil)
	require.NoError(t, err)
	assert.Equal(t, KindUnknown, e.Kind)

	_, err = r.Register("Narsil", KindItem, "doc-2", &RegisterOptions{
		Subtype:  "sword",
		Metadata: map[string]interface{}{"forged_in": "first age"},
	})
	require.NoError(t, err)
	assert.Equal(t, KindItem, e.Kind)
	assert.Equal(t, "sword", e.Subtype)
	assert.Equal(t, "first age", e.Metadata["forged_in"])

	// A later registration must not overwrite what is already set.
	_, err = r.Register("Narsil", KindConcept, "doc-3", &RegisterOptions{
		Subtype:  "blade",
		Metadata: map[string]interface{}{"forged_in": "second age"},
	})
	require.NoError(t, err)
	assert.Equal(t, KindItem, e.Kind)
	assert.Equal(t, "sword", e.Subtype)
	assert.Equal(t, "first age", e.Metadata["forged_in"])
}

func TestRegisterMalformedRawMetadataIgnored(t *testing.T) {
	r := newTestRegistry(t)

	e, err := r.Register("Shire", KindLocation, "doc-1", &RegisterOptions{
		RawMetadata: "{not json",
	})
	require.NoError(t, err)
	assert.Nil(t, e.Metadata)

	e2, err := r.Register("Bree", KindLocation, "doc-1", &RegisterOptions{
		RawMetadata: `{"region":"eriador"}`,
	})
	require.NoError(t, err)
	assert.Equal(t, "eriador", e2.Metadata["region"])
}

func TestRecordMention(t *testing.T) {
	r := newTestRegistry(t)
	e, err := r.Register("Rohan", KindLocation, "doc-1", nil)
	require.NoError(t, err)

	require.NoError(t, r.RecordMention(e.ID, "doc-2"))
	require.NoError(t, r.RecordMention(e.ID, "doc-2"))
	assert.Equal(t, 3, e.TotalMentions)
	assert.Equal(t, 2, e.MentionsBySource["doc-2"])

	err = r.RecordMention("missing", "doc-1")
	assert.True(t, errors.IsCode(err, errors.CodeEntityNotFound))
}

func TestAddAliasConflicts(t *testing.T) {
	r := newTestRegistry(t)
	a, err := r.Register("Frodo", KindCharacter, "doc-1", nil)
	require.NoError(t, err)
	b, err := r.Register("Sam", KindCharacter, "doc-1", nil)
	require.NoError(t, err)

	require.NoError(t, r.AddAlias(a.ID, "Ring-bearer"))
	assert.Same(t, a, r.Find("ring-bearer"))

	// Same alias for a different entity fails without mutation.
	err = r.AddAlias(b.ID, "ring-bearer")
	assert.True(t, errors.IsCode(err, errors.CodeAliasConflict))
	assert.NotContains(t, b.Aliases, "ring-bearer")

	// An alias colliding with another entity's label fails too.
	err = r.AddAlias(a.ID, "Sam")
	assert.True(t, errors.IsCode(err, errors.CodeAliasConflict))

	// Re-adding one's own alias and one's own label are both no-ops.
	require.NoError(t, r.AddAlias(a.ID, "Ring-bearer"))
	require.NoError(t, r.AddAlias(a.ID, "frodo"))
	assert.Len(t, a.Aliases, 1)
}

func TestRemoveAlias(t *testing.T) {
	r := newTestRegistry(t)
	e, err := r.Register("Gollum", KindCharacter, "doc-1", &RegisterOptions{
		Aliases: []string{"Smeagol"},
	})
	require.NoError(t, err)

	require.NoError(t, r.RemoveAlias(e.ID, "smeagol"))
	assert.Nil(t, r.Find("smeagol"))
	assert.Empty(t, e.Aliases)

	err = r.RemoveAlias(e.ID, "smeagol")
	assert.True(t, errors.IsCode(err, errors.CodeNotFound))
}

func TestUpdateEntityRename(t *testing.T) {
	r := newTestRegistry(t)
	e, err := r.Register("Strider", KindCharacter, "doc-1", nil)
	require.NoError(t, err)

	newLabel := "Aragorn"
	require.NoError(t, r.UpdateEntity(e.ID, UpdatePatch{Label: &newLabel}))
	assert.Equal(t, "Aragorn", e.Label)
	assert.Same(t, e, r.Find("aragorn"))
	assert.Nil(t, r.Find("strider"))
}

func TestUpdateEntityRenameConflictLeavesStateIntact(t *testing.T) {
	r := newTestRegistry(t)
	a, err := r.Register("Boromir", KindCharacter, "doc-1", nil)
	require.NoError(t, err)
	_, err = r.Register("Faramir", KindCharacter, "doc-1", nil)
	require.NoError(t, err)

	taken := "Faramir"
	kind := KindLocation
	err = r.UpdateEntity(a.ID, UpdatePatch{Label: &taken, Kind: &kind})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeLabelConflict))

	// Nothing may have changed, including fields that were individually valid.
	assert.Equal(t, "Boromir", a.Label)
	assert.Equal(t, KindCharacter, a.Kind)
	assert.Same(t, a, r.Find("boromir"))
}

func TestUpdateEntityReplacesAliases(t *testing.T) {
	r := newTestRegistry(t)
	e, err := r.Register("Sauron", KindCharacter, "doc-1", &RegisterOptions{
		Aliases: []string{"The Dark Lord"},
	})
	require.NoError(t, err)

	aliases := []string{"The Enemy", "Lord of Mordor"}
	require.NoError(t, r.UpdateEntity(e.ID, UpdatePatch{Aliases: &aliases}))
	assert.Nil(t, r.Find("the dark lord"))
	assert.Same(t, e, r.Find("the enemy"))
	assert.Same(t, e, r.Find("lord of mordor"))
}

func TestDeleteEntityCascades(t *testing.T) {
	r := newTestRegistry(t)
	a, err := r.Register("Merry", KindCharacter, "doc-1", nil)
	require.NoError(t, err)
	_, err = r.Register("Pippin", KindCharacter, "doc-1", nil)
	require.NoError(t, err)
	_, err = r.Register("Treebeard", KindCreature, "doc-1", nil)
	require.NoError(t, err)

	require.NotNil(t, r.AddRelationship("Merry", "friend_of", "Pippin", 0.8, "doc-1", "they rode together"))
	require.NotNil(t, r.AddRelationship("Merry", "carried_by", "Treebeard", 0.6, "doc-1", ""))
	require.NotNil(t, r.RecordCoOccurrence([]string{"Merry", "Pippin", "Treebeard"}, "fangorn"))

	var cascaded []EntityID
	r.RegisterCascade(func(id EntityID) error {
		cascaded = append(cascaded, id)
		return nil
	})

	require.NoError(t, r.DeleteEntity(a.ID))
	assert.Equal(t, []EntityID{a.ID}, cascaded)
	assert.Nil(t, r.Find("merry"))
	assert.Equal(t, 0, r.RelationshipCount())
	assert.Equal(t, 0, r.CoOccurrenceCount())
	assert.Empty(t, r.CheckIntegrity())

	err = r.DeleteEntity(a.ID)
	assert.True(t, errors.IsCode(err, errors.CodeEntityNotFound))
}

func TestOnSourceDeleted(t *testing.T) {
	r := newTestRegistry(t)
	a, err := r.Register("Elrond", KindCharacter, "doc-1", nil)
	require.NoError(t, err)
	_, err = r.Register("Rivendell", KindLocation, "doc-1", nil)
	require.NoError(t, err)
	require.NoError(t, r.RecordMention(a.ID, "doc-2"))

	require.NotNil(t, r.AddRelationship("Elrond", "rules", "Rivendell", 0.9, "doc-1", ""))
	require.NotNil(t, r.AddRelationship("Rivendell", "shelters", "Elrond", 0.5, "doc-2", ""))

	r.OnSourceDeleted("doc-1")

	assert.Equal(t, 1, a.TotalMentions)
	assert.NotContains(t, a.MentionsBySource, "doc-1")
	// The relationship evidenced only by doc-1 is gone; the other survives.
	assert.Equal(t, 1, r.RelationshipCount())
	rels := r.GetRelationships(a.ID)
	require.Len(t, rels, 1)
	assert.Equal(t, "shelters", rels[0].Type)
}

func TestFlush(t *testing.T) {
	r := newTestRegistry(t)
	_, err := r.Register("Gimli", KindCharacter, "doc-1", nil)
	require.NoError(t, err)

	err = r.Flush(false, nil)
	assert.True(t, errors.IsCode(err, errors.CodeFlushUnconfirmed))
	assert.Equal(t, 1, r.Count())

	var backedUp []byte
	require.NoError(t, r.Flush(true, func(snapshot []byte) error {
		backedUp = snapshot
		return nil
	}))
	assert.Equal(t, 0, r.Count())
	assert.NotEmpty(t, backedUp)
}

func TestFlushBackupFailureAborts(t *testing.T) {
	r := newTestRegistry(t)
	_, err := r.Register("Legolas", KindCharacter, "doc-1", nil)
	require.NoError(t, err)

	err = r.Flush(true, func([]byte) error {
		return errors.New(errors.CodeBackupError, "object store unreachable")
	})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeBackupError))
	assert.Equal(t, 1, r.Count())
}
