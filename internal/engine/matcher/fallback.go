package matcher

import (
	"sort"
	"strings"
)

// SequentialSearch is the synchronous fallback: a per-sentence, per-entity
// substring scan producing the same mention list as the automaton path,
// just slower. It applies the same word-boundary and longest-non-overlap
// rules.
func SequentialSearch(sentences []Sentence, entities []EntityDescriptor) []Mention {
	type located struct {
		mention   Mention
		startRune int
		endRune   int
	}
	var all []located

	for _, sentence := range sentences {
		runes := []rune(strings.ToLower(sentence.Text))
		original := []rune(sentence.Text)

		var found []located
		for _, e := range entities {
			for _, term := range append([]string{e.Label}, e.Aliases...) {
				pattern := []rune(strings.ToLower(strings.TrimSpace(term)))
				if len(pattern) == 0 {
					continue
				}
				for from := 0; from+len(pattern) <= len(runes); {
					idx := indexRunes(runes[from:], pattern)
					if idx < 0 {
						break
					}
					start := from + idx
					end := start + len(pattern)
					if wordBounded(original, start, end) {
						byteStart := len(string(original[:start]))
						byteEnd := len(string(original[:end]))
						found = append(found, located{
							mention: Mention{
								EntityID:      e.ID,
								Text:          sentence.Text[byteStart:byteEnd],
								Position:      sentence.Start + byteStart,
								TokenIndex:    tokenIndexAt(sentence.Text, byteStart),
								SentenceIndex: sentence.Index,
							},
							startRune: start,
							endRune:   end,
						})
					}
					from = start + 1
				}
			}
		}

		sort.Slice(found, func(i, j int) bool {
			if found[i].startRune != found[j].startRune {
				return found[i].startRune < found[j].startRune
			}
			return found[i].endRune > found[j].endRune
		})
		lastEnd := -1
		for _, f := range found {
			if f.startRune < lastEnd {
				continue
			}
			all = append(all, f)
			lastEnd = f.endRune
		}
	}

	mentions := make([]Mention, 0, len(all))
	for _, f := range all {
		mentions = append(mentions, f.mention)
	}
	return mentions
}

// indexRunes is strings.Index over rune slices.
func indexRunes(haystack, needle []rune) int {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		match := true
		for j, r := range needle {
			if haystack[i+j] != r {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}
