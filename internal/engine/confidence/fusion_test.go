package confidence

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storyweave/lorekeeper/internal/engine/candidate"
	"github.com/storyweave/lorekeeper/internal/engine/registry"
	"github.com/storyweave/lorekeeper/pkg/errors"
)

type stubPopularity struct {
	counts map[registry.EntityID]int64
	fail   bool
}

func (s *stubPopularity) Confirmations(_ context.Context, id registry.EntityID) (int64, error) {
	if s.fail {
		return 0, errors.New(errors.CodePopularityError, "store down")
	}
	return s.counts[id], nil
}

func (s *stubPopularity) RecordConfirmation(_ context.Context, id registry.EntityID) error {
	if s.counts == nil {
		s.counts = map[registry.EntityID]int64{}
	}
	s.counts[id]++
	return nil
}

func fusionFixture(t *testing.T, pop PopularityStore, opts ...Option) (*Fusion, *registry.Registry) {
	t.Helper()
	reg := registry.NewRegistry(nil)
	for _, l := range []string{"Frodo", "Sam", "Mordor"} {
		_, err := reg.Register(l, registry.KindCharacter, "doc-1", nil)
		require.NoError(t, err)
	}
	return NewFusion(reg, pop, nil, opts...), reg
}

func TestFuseBounds(t *testing.T) {
	f, reg := fusionFixture(t, nil)
	frodo := reg.Find("frodo")
	cand := candidate.Candidate{Context: "some context"}

	for _, rel := range []float64{-5, 0, 0.1, 1, 10, 1e9} {
		conf := f.Fuse(context.Background(), cand, frodo, rel)
		assert.GreaterOrEqual(t, conf, 0.0)
		assert.LessOrEqual(t, conf, 1.0)
	}
}

func TestFuseMonotoneInRelevance(t *testing.T) {
	f, reg := fusionFixture(t, nil)
	frodo := reg.Find("frodo")
	cand := candidate.Candidate{}

	prev := -1.0
	for _, rel := range []float64{0, 0.5, 1, 2, 4, 8, 100} {
		conf := f.Fuse(context.Background(), cand, frodo, rel)
		assert.GreaterOrEqual(t, conf, prev)
		prev = conf
	}
}

func TestPopularityBoost(t *testing.T) {
	pop := &stubPopularity{counts: map[registry.EntityID]int64{}}
	f, reg := fusionFixture(t, pop)
	frodo := reg.Find("frodo")
	cand := candidate.Candidate{}

	base := f.Fuse(context.Background(), cand, frodo, 1.0)

	pop.counts[frodo.ID] = 1000
	boosted := f.Fuse(context.Background(), cand, frodo, 1.0)
	assert.Greater(t, boosted, base)
	// The boost saturates below its cap.
	assert.LessOrEqual(t, boosted-base, 0.15)

	// A never-confirmed entity gets exactly zero boost.
	sam := reg.Find("sam")
	assert.Equal(t, f.Fuse(context.Background(), cand, sam, 1.0), base)
}

func TestPopularityFailureIsNonFatal(t *testing.T) {
	f, reg := fusionFixture(t, &stubPopularity{fail: true})
	frodo := reg.Find("frodo")

	conf := f.Fuse(context.Background(), candidate.Candidate{}, frodo, 1.0)
	assert.InDelta(t, 0.7, conf, 1e-9)
}

func TestProximityBoost(t *testing.T) {
	f, reg := fusionFixture(t, nil)
	frodo := reg.Find("frodo")
	require.NotNil(t, reg.RecordCoOccurrence([]string{"Frodo", "Sam"}, "they climbed"))

	far := f.Fuse(context.Background(), candidate.Candidate{Context: "a quiet morning"}, frodo, 1.0)
	near := f.Fuse(context.Background(), candidate.Candidate{Context: "walking beside Sam all day"}, frodo, 1.0)
	assert.InDelta(t, 0.15, near-far, 1e-9)
}

func TestAcceptThreshold(t *testing.T) {
	f, _ := fusionFixture(t, nil)
	assert.True(t, f.Accept(0.6))
	assert.False(t, f.Accept(0.59))

	custom, _ := fusionFixture(t, nil, WithThreshold(0.4))
	assert.Equal(t, 0.4, custom.Threshold())
	assert.True(t, custom.Accept(0.45))
}

func TestGroupMergesPositionsAndOrders(t *testing.T) {
	f, reg := fusionFixture(t, nil)
	frodo := reg.Find("frodo")
	sam := reg.Find("sam")

	scored := []ScoredCandidate{
		{Candidate: candidate.Candidate{Start: 10, End: 15}, Entity: frodo, Confidence: 0.7},
		{Candidate: candidate.Candidate{Start: 40, End: 45}, Entity: frodo, Confidence: 0.9},
		{Candidate: candidate.Candidate{Start: 10, End: 15}, Entity: frodo, Confidence: 0.65},
		{Candidate: candidate.Candidate{Start: 0, End: 3}, Entity: sam, Confidence: 0.8},
	}

	groups := f.Group(scored)
	require.Len(t, groups, 2)

	// Ordered by max confidence, descending.
	assert.Equal(t, frodo.ID, groups[0].Entity.ID)
	assert.Equal(t, 0.9, groups[0].Confidence)
	assert.Equal(t, []Span{{10, 15}, {40, 45}}, groups[0].Positions)

	assert.Equal(t, sam.ID, groups[1].Entity.ID)
	assert.Equal(t, 0.8, groups[1].Confidence)
}
