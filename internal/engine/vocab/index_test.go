package vocab

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storyweave/lorekeeper/internal/engine/registry"
)

func buildTestIndex(t *testing.T) (*Index, *registry.Registry) {
	t.Helper()
	reg := registry.NewRegistry(nil)
	_, err := reg.Register("Aragorn", registry.KindCharacter, "doc-1", &registry.RegisterOptions{
		Aliases: []string{"Strider"},
	})
	require.NoError(t, err)
	_, err = reg.Register("Minas Tirith", registry.KindLocation, "doc-1", nil)
	require.NoError(t, err)

	ix := NewIndex(nil)
	ix.Rebuild(reg.All())
	return ix, reg
}

func TestHasTokenAfterRebuild(t *testing.T) {
	ix, _ := buildTestIndex(t)

	// Every inserted token is findable, case-insensitively.
	for _, tok := range []string{"aragorn", "Strider", "minas", "TIRITH"} {
		assert.True(t, ix.HasToken(tok), tok)
	}
	assert.False(t, ix.HasToken("gandalf"))
	// A prefix that is not itself a full token is not a terminal entry.
	assert.False(t, ix.HasToken("ara"))
	assert.True(t, ix.HasPrefix("ara"))
}

func TestMultiWordPhraseIsPrefixSearchable(t *testing.T) {
	ix, _ := buildTestIndex(t)

	// The full phrase is inserted alongside its tokens so a growing n-gram
	// can be prefix-checked against it.
	assert.True(t, ix.HasPrefix("minas t"))
	assert.True(t, ix.HasToken("minas tirith"))
	assert.False(t, ix.HasPrefix("minas x"))
}

func TestEntitiesForToken(t *testing.T) {
	ix, reg := buildTestIndex(t)

	aragorn := reg.Find("aragorn")
	ids := ix.EntitiesForToken("strider")
	require.Len(t, ids, 1)
	assert.Equal(t, aragorn.ID, ids[0])

	assert.Nil(t, ix.EntitiesForToken("mordor"))
}

func TestSearchPrefixEnumeratesTerminals(t *testing.T) {
	ix, _ := buildTestIndex(t)

	hits := ix.SearchPrefix("")
	tokens := make([]string, 0, len(hits))
	for _, h := range hits {
		tokens = append(tokens, h.Token)
	}
	// The empty prefix enumerates a superset of every inserted token.
	for _, want := range []string{"aragorn", "strider", "minas", "tirith", "minas tirith"} {
		assert.Contains(t, tokens, want)
	}

	narrow := ix.SearchPrefix("min")
	require.Len(t, narrow, 2)
	assert.Equal(t, "minas", narrow[0].Token)
	assert.Equal(t, "minas tirith", narrow[1].Token)
	assert.Nil(t, ix.SearchPrefix("zzz"))
}

func TestFilterTokens(t *testing.T) {
	ix, _ := buildTestIndex(t)

	text := "Then Aragorn, called Strider, rode for Minas Tirith."
	kept := ix.FilterTokens(text)
	got := make([]string, 0, len(kept))
	for _, tok := range kept {
		got = append(got, tok.Normalized)
	}
	assert.Equal(t, []string{"aragorn", "strider", "minas", "tirith"}, got)

	// Offsets point at the punctuation-stripped core of each token.
	for _, tok := range kept {
		assert.Equal(t, tok.Text, text[tok.Start:tok.End])
	}
	// Index is positional within the filtered list.
	for i, tok := range kept {
		assert.Equal(t, i, tok.Index)
	}
}

func TestRebuildReplacesContents(t *testing.T) {
	ix, reg := buildTestIndex(t)
	require.True(t, ix.HasToken("aragorn"))

	_, err := reg.Register("Gandalf", registry.KindCharacter, "doc-2", nil)
	require.NoError(t, err)
	require.NoError(t, reg.DeleteEntity(reg.Find("aragorn").ID))

	ix.Rebuild(reg.All())
	assert.True(t, ix.HasToken("gandalf"))
	assert.False(t, ix.HasToken("aragorn"))
	assert.False(t, ix.HasToken("strider"))
}

func TestTokenize(t *testing.T) {
	tokens := Tokenize("  Hello,   world! ")
	require.Len(t, tokens, 2)
	assert.Equal(t, "Hello", tokens[0].Text)
	assert.Equal(t, "hello", tokens[0].Normalized)
	assert.Equal(t, 2, tokens[0].Start)
	assert.Equal(t, 7, tokens[0].End)
	assert.Equal(t, "world", tokens[1].Text)

	assert.Empty(t, Tokenize("   "))
}
