package scan

import (
	"regexp"
	"strings"

	"github.com/storyweave/lorekeeper/internal/engine/registry"
)

// BlockType classifies one block of a rich document.
type BlockType string

const (
	BlockParagraph BlockType = "paragraph"
	BlockHeading   BlockType = "heading"
	BlockQuote     BlockType = "quote"
	BlockCode      BlockType = "code"
)

// Block is one segment of document content. Block transitions drive the
// rejection cache's segment counter.
type Block struct {
	Type BlockType `json:"type"`
	Text string    `json:"text"`
}

// Document is the rich-document input to a scan.
type Document struct {
	ID     string  `json:"id"`
	Title  string  `json:"title,omitempty"`
	Blocks []Block `json:"blocks"`
}

// NewTextDocument builds a document from plain text, one block per
// blank-line-separated paragraph.
func NewTextDocument(id, text string) Document {
	doc := Document{ID: id}
	for _, para := range strings.Split(text, "\n\n") {
		if strings.TrimSpace(para) == "" {
			continue
		}
		doc.Blocks = append(doc.Blocks, Block{Type: BlockParagraph, Text: para})
	}
	return doc
}

// Declaration is one explicit entity declaration found in document text,
// written wiki-link style: [[Label]], [[kind:Label]] or
// [[kind:Label|Alias one|Alias two]].
type Declaration struct {
	Label   string
	Kind    registry.EntityKind
	Aliases []string
}

var declarationPattern = regexp.MustCompile(`\[\[([^\[\]]+)\]\]`)

// ParseDeclarations extracts every declaration from the text.
func ParseDeclarations(text string) []Declaration {
	var out []Declaration
	for _, m := range declarationPattern.FindAllStringSubmatch(text, -1) {
		if d, ok := parseDeclarationBody(m[1]); ok {
			out = append(out, d)
		}
	}
	return out
}

func parseDeclarationBody(body string) (Declaration, bool) {
	parts := strings.Split(body, "|")
	head := strings.TrimSpace(parts[0])

	d := Declaration{Kind: registry.KindUnknown}
	if colon := strings.Index(head, ":"); colon >= 0 {
		d.Kind = registry.ParseKind(head[:colon])
		d.Label = strings.TrimSpace(head[colon+1:])
	} else {
		d.Label = head
	}
	if d.Label == "" {
		return Declaration{}, false
	}
	for _, alias := range parts[1:] {
		if alias = strings.TrimSpace(alias); alias != "" {
			d.Aliases = append(d.Aliases, alias)
		}
	}
	return d, true
}

// stripDeclaration rewrites one declaration body to its plain label, so the
// flattened text reads naturally and positions refer to visible prose.
func stripDeclaration(body string) string {
	if d, ok := parseDeclarationBody(body); ok {
		return d.Label
	}
	return body
}

// Flatten renders the document to plain text with declarations rewritten to
// their labels. It returns the text and the byte offsets at which each
// block after the first begins; those offsets are the document's segment
// boundaries.
func (d Document) Flatten() (string, []int) {
	var sb strings.Builder
	var boundaries []int
	for i, block := range d.Blocks {
		if i > 0 {
			sb.WriteString("\n\n")
			boundaries = append(boundaries, sb.Len())
		}
		sb.WriteString(declarationPattern.ReplaceAllStringFunc(block.Text, func(m string) string {
			return stripDeclaration(m[2 : len(m)-2])
		}))
	}
	return sb.String(), boundaries
}
