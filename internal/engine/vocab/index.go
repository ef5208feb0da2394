// Package vocab implements the vocabulary index: a character-level prefix
// trie over every registered label and alias. It is the tier-1 gate of the
// scan pipeline, filtering raw document tokens down to the tiny subset that
// can possibly start or continue an entity mention.
package vocab

import (
	"sort"
	"strings"
	"unicode"

	"github.com/storyweave/lorekeeper/internal/engine/registry"
	"github.com/storyweave/lorekeeper/internal/infrastructure/logging"
)

// Token is one whitespace-delimited token of raw text, with byte offsets
// into the original string. Normalized carries the lowercased core with
// surrounding punctuation stripped.
type Token struct {
	Text       string
	Normalized string
	Start      int
	End        int
	Index      int
}

// PrefixHit is one terminal trie entry found under a prefix.
type PrefixHit struct {
	Token    string
	Entities []registry.EntityID
}

type node struct {
	children map[rune]*node
	terminal bool
	// entities accumulates the ids of every entity whose vocabulary passes
	// through this node, so prefix lookups report owners directly.
	entities map[registry.EntityID]struct{}
}

func newNode() *node {
	return &node{children: make(map[rune]*node), entities: make(map[registry.EntityID]struct{})}
}

// Index is the trie. It is immutable between Rebuild calls and safe for
// concurrent reads; Rebuild must not race with readers.
type Index struct {
	root       *node
	tokenCount int
	logger     logging.Logger
}

// NewIndex creates an empty index. A nil logger falls back to the nop
// logger.
func NewIndex(logger logging.Logger) *Index {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Index{root: newNode(), logger: logger.Named("vocab")}
}

// Rebuild recreates the trie from the given entities. Each label and alias
// contributes its individual whitespace tokens, and multi-word labels also
// contribute the full normalized phrase so that growing n-grams can be
// prefix-checked against it.
func (ix *Index) Rebuild(entities []*registry.Entity) {
	ix.root = newNode()
	ix.tokenCount = 0

	for _, e := range entities {
		for _, term := range append([]string{e.Label}, e.Aliases...) {
			normalized := registry.Normalize(term)
			if normalized == "" {
				continue
			}
			for _, tok := range strings.Fields(normalized) {
				ix.insert(tok, e.ID)
			}
			if strings.ContainsRune(normalized, ' ') {
				ix.insert(normalized, e.ID)
			}
		}
	}

	ix.logger.Debug("vocabulary index rebuilt",
		logging.Int("entities", len(entities)),
		logging.Int("tokens", ix.tokenCount))
}

func (ix *Index) insert(token string, id registry.EntityID) {
	cur := ix.root
	for _, r := range token {
		next, ok := cur.children[r]
		if !ok {
			next = newNode()
			cur.children[r] = next
		}
		cur = next
		cur.entities[id] = struct{}{}
	}
	if !cur.terminal {
		cur.terminal = true
		ix.tokenCount++
	}
}

// walk descends the trie along the token, returning nil when the path does
// not exist.
func (ix *Index) walk(token string) *node {
	cur := ix.root
	for _, r := range token {
		next, ok := cur.children[r]
		if !ok {
			return nil
		}
		cur = next
	}
	return cur
}

// HasToken reports whether the exact normalized token is a terminal entry.
func (ix *Index) HasToken(token string) bool {
	n := ix.walk(registry.Normalize(token))
	return n != nil && n.terminal
}

// HasPrefix reports whether any entry starts with the given normalized
// prefix. The empty prefix is a prefix of everything.
func (ix *Index) HasPrefix(prefix string) bool {
	return ix.walk(registry.Normalize(prefix)) != nil
}

// EntitiesForToken returns the ids of every entity whose vocabulary
// contains the exact token, sorted for determinism. Nil for unknown tokens.
func (ix *Index) EntitiesForToken(token string) []registry.EntityID {
	n := ix.walk(registry.Normalize(token))
	if n == nil || !n.terminal {
		return nil
	}
	return sortedIDs(n.entities)
}

// SearchPrefix collects every terminal entry under the prefix via a
// depth-first walk, with the owning entity ids. Results are sorted by
// token.
func (ix *Index) SearchPrefix(prefix string) []PrefixHit {
	normalized := registry.Normalize(prefix)
	start := ix.walk(normalized)
	if start == nil {
		return nil
	}

	var hits []PrefixHit
	var dfs func(n *node, path string)
	dfs = func(n *node, path string) {
		if n.terminal {
			hits = append(hits, PrefixHit{Token: path, Entities: sortedIDs(n.entities)})
		}
		for r, child := range n.children {
			dfs(child, path+string(r))
		}
	}
	dfs(start, normalized)

	sort.Slice(hits, func(i, j int) bool { return hits[i].Token < hits[j].Token })
	return hits
}

// FilterTokens tokenizes raw text on whitespace and keeps only tokens whose
// normalized core is a terminal trie entry. This is the deterministic tier-1
// gate: everything it drops never reaches scoring.
func (ix *Index) FilterTokens(text string) []Token {
	var kept []Token
	for _, tok := range Tokenize(text) {
		if tok.Normalized == "" {
			continue
		}
		if n := ix.walk(tok.Normalized); n != nil && n.terminal {
			tok.Index = len(kept)
			kept = append(kept, tok)
		}
	}
	return kept
}

// TokenCount returns the number of distinct terminal entries.
func (ix *Index) TokenCount() int {
	return ix.tokenCount
}

func sortedIDs(set map[registry.EntityID]struct{}) []registry.EntityID {
	out := make([]registry.EntityID, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Tokenize splits text on whitespace, recording byte offsets. The
// normalized form lowercases the token and strips leading and trailing
// punctuation so "Apple," matches the entry for "apple".
func Tokenize(text string) []Token {
	var tokens []Token
	start := -1
	for i, r := range text {
		if unicode.IsSpace(r) {
			if start >= 0 {
				tokens = append(tokens, makeToken(text, start, i, len(tokens)))
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		tokens = append(tokens, makeToken(text, start, len(text), len(tokens)))
	}
	return tokens
}

func makeToken(text string, start, end, index int) Token {
	raw := text[start:end]
	trimmed := strings.TrimFunc(raw, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	// Offsets track the trimmed core so span math ignores punctuation.
	lead := strings.Index(raw, trimmed)
	if trimmed == "" {
		lead = 0
	}
	return Token{
		Text:       trimmed,
		Normalized: strings.ToLower(trimmed),
		Start:      start + lead,
		End:        start + lead + len(trimmed),
		Index:      index,
	}
}
