package relevance

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storyweave/lorekeeper/internal/engine/registry"
)

func buildScorer(t *testing.T) (*Scorer, *registry.Registry) {
	t.Helper()
	reg := registry.NewRegistry(nil)
	seed := []struct {
		label   string
		kind    registry.EntityKind
		subtype string
		aliases []string
	}{
		{"Aragorn", registry.KindCharacter, "ranger", []string{"Strider", "Elessar"}},
		{"Gondor", registry.KindLocation, "kingdom", nil},
		{"Rohan", registry.KindLocation, "kingdom", nil},
	}
	for _, e := range seed {
		_, err := reg.Register(e.label, e.kind, "doc-1", &registry.RegisterOptions{
			Subtype: e.subtype,
			Aliases: e.aliases,
		})
		require.NoError(t, err)
	}
	s := NewScorer(nil)
	s.BuildCorpus(reg.All())
	return s, reg
}

func TestScoreZeroCases(t *testing.T) {
	s, reg := buildScorer(t)
	aragorn := reg.Find("aragorn")

	assert.Zero(t, s.Score("mordor", aragorn.ID))
	assert.Zero(t, s.Score("aragorn", "unknown-id"))
	assert.Zero(t, s.Score("", aragorn.ID))
}

func TestScoreNonNegative(t *testing.T) {
	s, reg := buildScorer(t)
	for _, e := range reg.All() {
		for _, q := range []string{"aragorn", "strider", "kingdom", "gondor rohan"} {
			assert.GreaterOrEqual(t, s.Score(q, e.ID), 0.0)
		}
	}
}

func TestCanonicalOutweighsAliasOutweighsContext(t *testing.T) {
	s, reg := buildScorer(t)
	aragorn := reg.Find("aragorn")

	canonical := s.Score("aragorn", aragorn.ID)
	alias := s.Score("strider", aragorn.ID)
	context := s.Score("ranger", aragorn.ID)

	assert.Greater(t, canonical, alias)
	assert.Greater(t, alias, context)
	assert.Positive(t, context)
}

func TestRareTermsScoreHigherThanCommonOnes(t *testing.T) {
	s, reg := buildScorer(t)
	gondor := reg.Find("gondor")

	// "gondor" appears in one entity; "kingdom" in two. The rarer term
	// carries more evidence even before field weighting (both are compared
	// within the context-vs-canonical split, so compare like for like:
	// "kingdom" is a context term for both kingdoms).
	rohan := reg.Find("rohan")
	assert.Greater(t, s.Score("gondor", gondor.ID), s.Score("kingdom", rohan.ID))
}

func TestScoreAccumulatesAcrossTerms(t *testing.T) {
	s, reg := buildScorer(t)
	aragorn := reg.Find("aragorn")

	single := s.Score("aragorn", aragorn.ID)
	combined := s.Score("aragorn strider", aragorn.ID)
	assert.Greater(t, combined, single)
}

func TestScoreNormalizedOwnTermsHitCeiling(t *testing.T) {
	s, reg := buildScorer(t)
	aragorn := reg.Find("aragorn")

	// An entity's own label and aliases normalize to the full 1.0; partial
	// or foreign terms land strictly below it.
	assert.InDelta(t, 1.0, s.ScoreNormalized("aragorn", aragorn.ID), 1e-9)
	assert.InDelta(t, 1.0, s.ScoreNormalized("strider", aragorn.ID), 1e-9)
	assert.Zero(t, s.ScoreNormalized("mordor", aragorn.ID))
	assert.Zero(t, s.ScoreNormalized("aragorn", "unknown-id"))

	for _, q := range []string{"aragorn", "strider", "kingdom", "ranger strider"} {
		norm := s.ScoreNormalized(q, aragorn.ID)
		assert.GreaterOrEqual(t, norm, 0.0)
		assert.LessOrEqual(t, norm, 1.0)
	}
}

func TestBuildCorpusReplacesPreviousState(t *testing.T) {
	s, reg := buildScorer(t)
	aragorn := reg.Find("aragorn")
	require.Positive(t, s.Score("aragorn", aragorn.ID))

	s.BuildCorpus(nil)
	assert.Equal(t, 0, s.CorpusSize())
	assert.Zero(t, s.Score("aragorn", aragorn.ID))
}
