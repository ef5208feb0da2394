package matcher

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func matchRequest(doc string) Request {
	text := "I have an Apple, a MacBook, and a Pineapple. But no Orange."
	return Request{
		DocumentID: doc,
		Sentences:  []Sentence{{Text: text, Start: 0, End: len(text), Index: 0}},
		Entities:   fruitEntities(),
	}
}

func TestMatcherRoundTrip(t *testing.T) {
	m := NewMatcher(nil, nil)
	defer m.Close()

	resp := m.Match(context.Background(), matchRequest("doc-1"))
	assert.Equal(t, "doc-1", resp.DocumentID)
	assert.Len(t, resp.Mentions, 4)
	assert.Equal(t, 3, resp.Stats.EntitiesChecked)
	assert.Equal(t, 4, resp.Stats.MentionsFound)
	assert.True(t, resp.Stats.TrieRebuilt)
	assert.False(t, resp.Stats.Fallback)
}

func TestMatcherReusesAutomaton(t *testing.T) {
	m := NewMatcher(nil, nil)
	defer m.Close()

	first := m.Match(context.Background(), matchRequest("doc-1"))
	require.True(t, first.Stats.TrieRebuilt)

	// Same entity count, no explicit rebuild: the automaton is reused.
	second := m.Match(context.Background(), matchRequest("doc-2"))
	assert.False(t, second.Stats.TrieRebuilt)

	// An explicit rebuild request forces it.
	req := matchRequest("doc-3")
	req.RebuildTrie = true
	third := m.Match(context.Background(), req)
	assert.True(t, third.Stats.TrieRebuilt)
}

func TestMatcherRebuildsOnEntityCountChange(t *testing.T) {
	m := NewMatcher(nil, nil)
	defer m.Close()

	require.True(t, m.Match(context.Background(), matchRequest("doc-1")).Stats.TrieRebuilt)

	req := matchRequest("doc-2")
	req.Entities = append(req.Entities, EntityDescriptor{ID: "banana", Label: "Banana"})
	assert.True(t, m.Match(context.Background(), req).Stats.TrieRebuilt)
}

func TestMatcherClosedFallsBack(t *testing.T) {
	m := NewMatcher(nil, nil)
	m.Close()

	resp := m.Match(context.Background(), matchRequest("doc-1"))
	// The fallback still finds every mention; the degradation is only
	// visible in the stats.
	assert.Len(t, resp.Mentions, 4)
	assert.True(t, resp.Stats.Fallback)
}

func TestMatcherCancelledContextFallsBack(t *testing.T) {
	m := NewMatcher(nil, nil)
	defer m.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// With a cancelled context the worker dispatch may be skipped entirely;
	// either way the result is complete.
	resp := m.Match(ctx, matchRequest("doc-1"))
	assert.Len(t, resp.Mentions, 4)
}

func TestMatcherCloseIsIdempotent(t *testing.T) {
	m := NewMatcher(nil, nil)
	m.Close()
	m.Close()
}

func TestMatcherCustomTimeout(t *testing.T) {
	m := NewMatcher(nil, nil, WithTimeout(50*time.Millisecond))
	defer m.Close()

	resp := m.Match(context.Background(), matchRequest("doc-1"))
	assert.Equal(t, "doc-1", resp.DocumentID)
	assert.Len(t, resp.Mentions, 4)
}
