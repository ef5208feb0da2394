// Package candidate implements tier-2 of the scan pipeline: adaptive n-gram
// expansion over the vocabulary-filtered token stream. Instead of
// enumerating every n-gram window, expansion past two tokens happens only
// while the growing span is still a prefix of something actually in the
// vocabulary, which keeps the candidate count near-linear in filtered
// tokens.
package candidate

import (
	"sort"
	"strings"

	"github.com/storyweave/lorekeeper/internal/engine/registry"
	"github.com/storyweave/lorekeeper/internal/engine/vocab"
	"github.com/storyweave/lorekeeper/internal/infrastructure/logging"
)

const (
	// maxGramSize bounds greedy expansion.
	maxGramSize = 5
	// maxTokenGap is the largest character gap between consecutive tokens
	// still considered adjacent.
	maxTokenGap = 20
)

// Candidate is one text span under consideration, scan-scoped and never
// persisted.
type Candidate struct {
	Text       string
	Normalized string
	Start      int
	End        int
	TokenCount int
	Context    string
	EntityIDs  []registry.EntityID
}

// ContextFunc returns the sentence-scoped context snippet covering the span
// [start,end). The scan pipeline supplies one backed by the linguistic
// analyzer's sentence boundaries.
type ContextFunc func(start, end int) string

// Generator produces candidates from filtered tokens.
type Generator struct {
	index  *vocab.Index
	logger logging.Logger
}

// NewGenerator creates a generator over the given vocabulary index. A nil
// logger falls back to the nop logger.
func NewGenerator(index *vocab.Index, logger logging.Logger) *Generator {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Generator{index: index, logger: logger.Named("candidate")}
}

// Generate emits candidates for the filtered token stream of one document.
// For each token: the 1-gram always; the 2-gram when the next token is
// adjacent; 3- to 5-grams only while adjacency holds and the growing span
// stays a prefix of a vocabulary entry. Spans are deduplicated by
// (start, end).
func (g *Generator) Generate(text string, tokens []vocab.Token, contextFor ContextFunc) []Candidate {
	if contextFor == nil {
		contextFor = func(int, int) string { return "" }
	}

	type span struct{ start, end int }
	seen := make(map[span]struct{})
	var out []Candidate

	emit := func(first, last int) {
		key := span{tokens[first].Start, tokens[last].End}
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		out = append(out, g.build(text, tokens, first, last, contextFor))
	}

	for i := range tokens {
		emit(i, i)

		if i+1 >= len(tokens) || !adjacent(tokens[i], tokens[i+1]) {
			continue
		}
		emit(i, i+1)

		last := i + 1
		for last-i+1 < maxGramSize && last+1 < len(tokens) && adjacent(tokens[last], tokens[last+1]) {
			grown := joinNormalized(tokens[i : last+2])
			if !g.index.HasPrefix(grown) {
				break
			}
			last++
			emit(i, last)
		}
	}

	g.logger.Debug("candidates generated",
		logging.Int("tokens", len(tokens)),
		logging.Int("candidates", len(out)))
	return out
}

func (g *Generator) build(text string, tokens []vocab.Token, first, last int, contextFor ContextFunc) Candidate {
	start := tokens[first].Start
	end := tokens[last].End

	ids := make(map[registry.EntityID]struct{})
	for t := first; t <= last; t++ {
		for _, id := range g.index.EntitiesForToken(tokens[t].Normalized) {
			ids[id] = struct{}{}
		}
	}
	union := make([]registry.EntityID, 0, len(ids))
	for id := range ids {
		union = append(union, id)
	}
	sortIDs(union)

	return Candidate{
		Text:       text[start:end],
		Normalized: joinNormalized(tokens[first : last+1]),
		Start:      start,
		End:        end,
		TokenCount: last - first + 1,
		Context:    contextFor(start, end),
		EntityIDs:  union,
	}
}

func adjacent(a, b vocab.Token) bool {
	return b.Start-a.End < maxTokenGap
}

func joinNormalized(tokens []vocab.Token) string {
	parts := make([]string, len(tokens))
	for i, t := range tokens {
		parts[i] = t.Normalized
	}
	return strings.Join(parts, " ")
}

func sortIDs(ids []registry.EntityID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}
