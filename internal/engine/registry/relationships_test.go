package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedFellowship(t *testing.T, r *Registry) {
	t.Helper()
	for _, label := range []string{"Frodo", "Sam", "Gandalf"} {
		_, err := r.Register(label, KindCharacter, "doc-1", nil)
		require.NoError(t, err)
	}
}

func TestAddRelationship(t *testing.T) {
	r := newTestRegistry(t)
	seedFellowship(t, r)

	rel := r.AddRelationship("Frodo", "travels_with", "Sam", 0.8, "doc-1", "they left the Shire")
	require.NotNil(t, rel)
	assert.Equal(t, 0.8, rel.Confidence)
	assert.Equal(t, []string{"doc-1"}, rel.Sources)
	assert.Equal(t, []string{"they left the Shire"}, rel.Contexts)
	assert.Equal(t, 1, r.RelationshipCount())
}

func TestAddRelationshipUnresolvableLabel(t *testing.T) {
	r := newTestRegistry(t)
	seedFellowship(t, r)

	assert.Nil(t, r.AddRelationship("Frodo", "knows", "Nobody", 0.5, "doc-1", ""))
	assert.Nil(t, r.AddRelationship("Nobody", "knows", "Frodo", 0.5, "doc-1", ""))
	assert.Equal(t, 0, r.RelationshipCount())
}

func TestAddRelationshipMergesEvidence(t *testing.T) {
	r := newTestRegistry(t)
	seedFellowship(t, r)

	first := r.AddRelationship("Frodo", "travels_with", "Sam", 0.6, "doc-1", "ctx-1")
	require.NotNil(t, first)

	second := r.AddRelationship("Frodo", "travels_with", "Sam", 0.8, "doc-2", "ctx-2")
	require.Same(t, first, second)
	assert.Equal(t, 1, r.RelationshipCount())

	// Confidence grows monotonically and never exceeds 1.
	assert.Greater(t, second.Confidence, 0.6)
	assert.LessOrEqual(t, second.Confidence, 1.0)
	assert.ElementsMatch(t, []string{"doc-1", "doc-2"}, second.Sources)
	assert.ElementsMatch(t, []string{"ctx-1", "ctx-2"}, second.Contexts)

	for i := 0; i < 50; i++ {
		r.AddRelationship("Frodo", "travels_with", "Sam", 1.0, "doc-2", "")
	}
	assert.LessOrEqual(t, second.Confidence, 1.0)
}

func TestGetRelationshipsSortedByConfidence(t *testing.T) {
	r := newTestRegistry(t)
	seedFellowship(t, r)

	r.AddRelationship("Frodo", "travels_with", "Sam", 0.5, "doc-1", "")
	r.AddRelationship("Gandalf", "guides", "Frodo", 0.9, "doc-1", "")

	frodo := r.Find("Frodo")
	rels := r.GetRelationships(frodo.ID)
	require.Len(t, rels, 2)
	assert.Equal(t, "guides", rels[0].Type)
	assert.Equal(t, "travels_with", rels[1].Type)
}

func TestRecordCoOccurrence(t *testing.T) {
	r := newTestRegistry(t)
	seedFellowship(t, r)

	p := r.RecordCoOccurrence([]string{"Frodo", "Sam"}, "the Shire")
	require.NotNil(t, p)
	assert.Equal(t, 1, p.Frequency)
	assert.Positive(t, p.Strength)
	assert.Equal(t, 1, r.CoOccurrenceCount())

	// Same unordered entity set maps to the same pattern.
	again := r.RecordCoOccurrence([]string{"Sam", "frodo"}, "Mordor")
	require.Same(t, p, again)
	assert.Equal(t, 2, p.Frequency)
	assert.Equal(t, 1, r.CoOccurrenceCount())
}

func TestRecordCoOccurrenceNeedsTwoResolvable(t *testing.T) {
	r := newTestRegistry(t)
	seedFellowship(t, r)

	assert.Nil(t, r.RecordCoOccurrence([]string{"Frodo"}, ""))
	assert.Nil(t, r.RecordCoOccurrence([]string{"Frodo", "Nobody"}, ""))
	assert.Nil(t, r.RecordCoOccurrence([]string{"Frodo", "frodo"}, ""))
	assert.Equal(t, 0, r.CoOccurrenceCount())
}

func TestCoOccurrenceStrengthGrowsWithFrequencyAndDiversity(t *testing.T) {
	r := newTestRegistry(t)
	seedFellowship(t, r)

	varied := r.RecordCoOccurrence([]string{"Frodo", "Sam"}, "ctx-1")
	prev := varied.Strength
	for i := 2; i <= 5; i++ {
		r.RecordCoOccurrence([]string{"Frodo", "Sam"}, "ctx-"+string(rune('0'+i)))
		assert.Greater(t, varied.Strength, prev)
		prev = varied.Strength
	}

	repeated := r.RecordCoOccurrence([]string{"Frodo", "Gandalf"}, "same")
	for i := 0; i < 4; i++ {
		r.RecordCoOccurrence([]string{"Frodo", "Gandalf"}, "same")
	}
	// Equal frequency, but a single repeated context scores lower.
	assert.Greater(t, varied.Strength, repeated.Strength)
}

func TestTopCoOccurring(t *testing.T) {
	r := newTestRegistry(t)
	seedFellowship(t, r)

	for i := 0; i < 5; i++ {
		r.RecordCoOccurrence([]string{"Frodo", "Sam"}, "ctx-"+string(rune('a'+i)))
	}
	r.RecordCoOccurrence([]string{"Frodo", "Gandalf"}, "ctx")

	frodo := r.Find("Frodo")
	top := r.TopCoOccurring(frodo.ID, 10)
	require.Len(t, top, 2)
	assert.Equal(t, "Sam", top[0].Label)
	assert.Equal(t, "Gandalf", top[1].Label)

	assert.Len(t, r.TopCoOccurring(frodo.ID, 1), 1)
	assert.Empty(t, r.TopCoOccurring("missing", 5))
}
