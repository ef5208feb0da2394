// Package matcher implements bulk mention-finding: an Aho-Corasick
// automaton over every registered label and alias, executed on a dedicated
// worker goroutine with strict message passing, plus a sequential fallback
// used when the worker times out or is unavailable.
package matcher

import (
	"sort"
	"strings"
	"unicode"

	"github.com/storyweave/lorekeeper/internal/engine/registry"
)

// EntityDescriptor is the plain-data projection of an entity shipped to the
// worker. The worker owns no registry pointers; everything it matches
// against arrives in the request.
type EntityDescriptor struct {
	ID      registry.EntityID `json:"id"`
	Label   string            `json:"label"`
	Aliases []string          `json:"aliases"`
	Kind    registry.EntityKind `json:"kind"`
}

// Mention is one located entity occurrence.
type Mention struct {
	EntityID      registry.EntityID `json:"entityId"`
	Text          string            `json:"text"`
	Position      int               `json:"position"`
	TokenIndex    int               `json:"tokenIndex"`
	SentenceIndex int               `json:"sentenceIndex"`
}

type output struct {
	entityID registry.EntityID
	original string
	length   int // pattern length in runes
}

type acNode struct {
	children map[rune]*acNode
	fail     *acNode
	outputs  []output
}

func newACNode() *acNode {
	return &acNode{children: make(map[rune]*acNode)}
}

// Automaton is a multi-pattern matcher. Build once, search many times; it
// is read-only after construction.
type Automaton struct {
	root         *acNode
	patternCount int
}

// BuildAutomaton inserts every entity's label and aliases as lowercased
// patterns, then wires failure links breadth-first. Each node inherits the
// output set of its failure link so overlapping and suffix patterns are all
// reported.
func BuildAutomaton(entities []EntityDescriptor) *Automaton {
	a := &Automaton{root: newACNode()}
	for _, e := range entities {
		a.insert(e.Label, e.ID)
		for _, alias := range e.Aliases {
			a.insert(alias, e.ID)
		}
	}
	a.wireFailureLinks()
	return a
}

// PatternCount returns the number of inserted patterns.
func (a *Automaton) PatternCount() int {
	return a.patternCount
}

func (a *Automaton) insert(pattern string, id registry.EntityID) {
	trimmed := strings.TrimSpace(pattern)
	if trimmed == "" {
		return
	}
	lowered := []rune(strings.ToLower(trimmed))

	cur := a.root
	for _, r := range lowered {
		next, ok := cur.children[r]
		if !ok {
			next = newACNode()
			cur.children[r] = next
		}
		cur = next
	}
	cur.outputs = append(cur.outputs, output{entityID: id, original: trimmed, length: len(lowered)})
	a.patternCount++
}

func (a *Automaton) wireFailureLinks() {
	a.root.fail = a.root
	queue := make([]*acNode, 0, len(a.root.children))
	for _, child := range a.root.children {
		child.fail = a.root
		queue = append(queue, child)
	}

	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		for r, child := range node.children {
			// The failure link points at the longest proper suffix of the
			// child's path that is also a path from the root.
			f := node.fail
			for f != a.root && f.children[r] == nil {
				f = f.fail
			}
			if next, ok := f.children[r]; ok && next != child {
				child.fail = next
			} else {
				child.fail = a.root
			}
			child.outputs = append(child.outputs, child.fail.outputs...)
			queue = append(queue, child)
		}
	}
}

// Search walks the text once and reports every word-boundary-respecting
// pattern occurrence, deduplicated so that at most one match survives per
// overlapping region (longest wins). Positions are byte offsets into text.
func (a *Automaton) Search(text string) []Mention {
	runes := []rune(text)
	// byteAt[i] is the byte offset of rune i; byteAt[len] is len(text).
	byteAt := make([]int, len(runes)+1)
	{
		b := 0
		for i, r := range runes {
			byteAt[i] = b
			b += len(string(r))
		}
		byteAt[len(runes)] = len(text)
	}

	type rawMatch struct {
		startRune int
		endRune   int
		out       output
	}
	var raw []rawMatch

	cur := a.root
	for i, r := range runes {
		lr := unicode.ToLower(r)
		for cur != a.root && cur.children[lr] == nil {
			cur = cur.fail
		}
		if next, ok := cur.children[lr]; ok {
			cur = next
		}
		for _, out := range cur.outputs {
			start := i - out.length + 1
			if wordBounded(runes, start, i+1) {
				raw = append(raw, rawMatch{startRune: start, endRune: i + 1, out: out})
			}
		}
	}

	// Longest-match-wins, non-overlapping: sort by position ascending then
	// length descending, keep greedily.
	sort.Slice(raw, func(i, j int) bool {
		if raw[i].startRune != raw[j].startRune {
			return raw[i].startRune < raw[j].startRune
		}
		return raw[i].endRune > raw[j].endRune
	})

	var mentions []Mention
	lastEnd := 0
	for _, m := range raw {
		if len(mentions) > 0 && m.startRune < lastEnd {
			continue
		}
		start := byteAt[m.startRune]
		end := byteAt[m.endRune]
		mentions = append(mentions, Mention{
			EntityID:   m.out.entityID,
			Text:       text[start:end],
			Position:   start,
			TokenIndex: tokenIndexAt(text, start),
		})
		lastEnd = m.endRune
	}
	return mentions
}

// wordBounded reports whether the rune immediately before start and the one
// immediately after end are non-word characters (or the text edge), so that
// patterns never match inside larger tokens.
func wordBounded(runes []rune, start, end int) bool {
	if start > 0 && isWordRune(runes[start-1]) {
		return false
	}
	if end < len(runes) && isWordRune(runes[end]) {
		return false
	}
	return true
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

// tokenIndexAt returns the index of the whitespace-delimited token that
// contains the byte offset.
func tokenIndexAt(text string, offset int) int {
	idx := 0
	inToken := false
	for i, r := range text {
		if i > offset {
			break
		}
		if unicode.IsSpace(r) {
			inToken = false
			continue
		}
		if !inToken {
			inToken = true
			idx++
		}
	}
	if idx > 0 {
		return idx - 1
	}
	return 0
}
