package scan

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storyweave/lorekeeper/internal/engine/registry"
)

func TestPromoterStateProgression(t *testing.T) {
	reg := registry.NewRegistry(nil)
	p := NewPromoter(reg, nil, nil)
	ctx := context.Background()

	// Spread mentions across documents so diversity pushes confidence over
	// the promotion floor.
	observe := func(n int) {
		for i := 0; i < n; i++ {
			promoted := p.Observe(ctx, "Tom Bombadil", fmt.Sprintf("doc-%d", i%3))
			if rec := p.Record("Tom Bombadil"); rec.State != StatePromoted {
				assert.False(t, promoted)
			}
		}
	}

	observe(4)
	assert.Equal(t, StateCandidate, p.Record("Tom Bombadil").State)

	observe(1)
	rec := p.Record("Tom Bombadil")
	assert.Equal(t, StatePending, rec.State)
	assert.Len(t, p.Pending(), 1)

	// The tenth mention crosses both thresholds.
	for i := 0; i < 4; i++ {
		assert.False(t, p.Observe(ctx, "tom bombadil", "doc-1"))
	}
	assert.True(t, p.Observe(ctx, "Tom Bombadil", "doc-2"))

	rec = p.Record("Tom Bombadil")
	assert.Equal(t, StatePromoted, rec.State)
	assert.GreaterOrEqual(t, rec.Confidence, 0.7)

	// The span is now a real registry entity.
	e := reg.Find("tom bombadil")
	require.NotNil(t, e)
	assert.Equal(t, registry.KindUnknown, e.Kind)

	// Further observations of a promoted span are no-ops.
	assert.False(t, p.Observe(ctx, "Tom Bombadil", "doc-9"))
	assert.Empty(t, p.Pending())
}

func TestPromoterSingleDocumentStaysBelowFloor(t *testing.T) {
	reg := registry.NewRegistry(nil)
	p := NewPromoter(reg, nil, nil)
	ctx := context.Background()

	// Many mentions, one document: frequency saturates but diversity keeps
	// confidence under the floor, so nothing is registered.
	for i := 0; i < 30; i++ {
		assert.False(t, p.Observe(ctx, "Old Man Willow", "doc-1"))
	}
	assert.Equal(t, StatePending, p.Record("Old Man Willow").State)
	assert.Nil(t, reg.Find("old man willow"))
}

func TestPromoterEmptySpanIgnored(t *testing.T) {
	p := NewPromoter(registry.NewRegistry(nil), nil, nil)
	assert.False(t, p.Observe(context.Background(), "   ", "doc-1"))
	assert.Nil(t, p.Record(""))
}
