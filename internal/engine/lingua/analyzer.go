// Package lingua defines the linguistic-analysis contract the scan engine
// consumes, together with a heuristic implementation good enough for
// prose. The engine depends only on the Analyzer interface; hosts with a
// real NLP stack can plug their own in.
package lingua

import (
	"strings"
	"unicode"
)

// Sentence is one sentence with byte offsets into the analyzed text.
type Sentence struct {
	Text  string `json:"text"`
	Start int    `json:"start"`
	End   int    `json:"end"`
	Index int    `json:"index"`
}

// PosTag is a coarse part-of-speech tag.
type PosTag string

const (
	TagProperNoun  PosTag = "PROPN"
	TagNoun        PosTag = "NOUN"
	TagNumber      PosTag = "NUM"
	TagPunctuation PosTag = "PUNCT"
	TagStopword    PosTag = "STOP"
	TagUnknown     PosTag = "X"
)

// TaggedToken is one token with its tag and byte offsets.
type TaggedToken struct {
	Text  string `json:"text"`
	Start int    `json:"start"`
	End   int    `json:"end"`
	Tag   PosTag `json:"tag"`
}

// Analyzer is the linguistic collaborator contract.
type Analyzer interface {
	// Sentences returns sentence boundaries for the text, in order.
	Sentences(text string) []Sentence

	// Tokens returns POS-tagged tokens for the text, in order.
	Tokens(text string) []TaggedToken

	// TagAt returns the tag of the token covering the byte offset, or
	// TagUnknown when the offset falls between tokens.
	TagAt(text string, offset int) PosTag
}

// BasicAnalyzer is a dependency-free heuristic Analyzer: sentences split on
// terminal punctuation, tokens tagged by surface shape and a small stopword
// list.
type BasicAnalyzer struct{}

// NewBasicAnalyzer returns the heuristic analyzer.
func NewBasicAnalyzer() *BasicAnalyzer {
	return &BasicAnalyzer{}
}

var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "and": {}, "or": {}, "but": {},
	"of": {}, "in": {}, "on": {}, "at": {}, "to": {}, "for": {},
	"with": {}, "by": {}, "from": {}, "as": {}, "is": {}, "was": {},
	"are": {}, "were": {}, "be": {}, "been": {}, "it": {}, "its": {},
	"he": {}, "she": {}, "they": {}, "his": {}, "her": {}, "their": {},
	"this": {}, "that": {}, "these": {}, "those": {}, "not": {}, "no": {},
}

// Sentences splits on '.', '!', '?' followed by whitespace or end of text.
// Runs of terminal punctuation stay with the sentence they close.
func (a *BasicAnalyzer) Sentences(text string) []Sentence {
	var out []Sentence
	start := 0
	flush := func(end int) {
		segment := text[start:end]
		trimmedLeft := strings.TrimLeftFunc(segment, unicode.IsSpace)
		lead := len(segment) - len(trimmedLeft)
		trimmed := strings.TrimRightFunc(trimmedLeft, unicode.IsSpace)
		if trimmed == "" {
			start = end
			return
		}
		out = append(out, Sentence{
			Text:  trimmed,
			Start: start + lead,
			End:   start + lead + len(trimmed),
			Index: len(out),
		})
		start = end
	}

	runes := []rune(text)
	byteOffset := 0
	for i, r := range runes {
		size := len(string(r))
		if r == '.' || r == '!' || r == '?' {
			atEnd := i+1 == len(runes)
			if atEnd || unicode.IsSpace(runes[i+1]) {
				flush(byteOffset + size)
			}
		}
		byteOffset += size
	}
	if start < len(text) {
		flush(len(text))
	}
	return out
}

// Tokens tags each whitespace-delimited token by shape.
func (a *BasicAnalyzer) Tokens(text string) []TaggedToken {
	var out []TaggedToken
	start := -1
	for i, r := range text {
		if unicode.IsSpace(r) {
			if start >= 0 {
				out = append(out, tagToken(text[start:i], start))
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		out = append(out, tagToken(text[start:], start))
	}
	return out
}

// TagAt locates the token covering the offset.
func (a *BasicAnalyzer) TagAt(text string, offset int) PosTag {
	for _, tok := range a.Tokens(text) {
		if offset >= tok.Start && offset < tok.End {
			return tok.Tag
		}
	}
	return TagUnknown
}

func tagToken(raw string, start int) TaggedToken {
	tok := TaggedToken{Text: raw, Start: start, End: start + len(raw)}

	core := strings.TrimFunc(raw, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	switch {
	case core == "":
		tok.Tag = TagPunctuation
	case isNumeric(core):
		tok.Tag = TagNumber
	case isStopword(core):
		tok.Tag = TagStopword
	case startsUpper(core):
		tok.Tag = TagProperNoun
	default:
		tok.Tag = TagNoun
	}
	return tok
}

func isNumeric(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) && r != '.' && r != ',' {
			return false
		}
	}
	return true
}

func isStopword(s string) bool {
	_, ok := stopwords[strings.ToLower(s)]
	return ok
}

func startsUpper(s string) bool {
	for _, r := range s {
		return unicode.IsUpper(r)
	}
	return false
}
