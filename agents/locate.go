package agents

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// BlockSelector matches one wrapper per agent inside the agent list table.
// Only class tokens are relied on; the generated ids around them change
// between requests.
const BlockSelector = "table.agent-list .agent-listwrap"

// RawBlock is the markup of a single candidate agent. Lookups made through it
// never escape the block.
type RawBlock struct {
	sel *goquery.Selection
}

// NewBlock wraps an existing selection as a block. Handy for tests and tools
// that already hold a parsed document.
func NewBlock(s *goquery.Selection) RawBlock {
	return RawBlock{sel: s}
}

// Selection exposes the underlying selection.
func (b RawBlock) Selection() *goquery.Selection {
	return b.sel
}

// Blocks locates every agent block in markup, in document order.
// Any string is accepted: the HTML5 tree builder recovers from broken markup
// the same way browsers do, and a document it gives up on simply has no blocks.
func Blocks(markup string) []RawBlock {
	doc, err := parseDocument(markup)
	if err != nil {
		return nil
	}

	var blocks []RawBlock
	doc.Find(BlockSelector).Each(func(_ int, s *goquery.Selection) {
		blocks = append(blocks, RawBlock{sel: s})
	})
	return blocks
}

func parseDocument(markup string) (*goquery.Document, error) {
	root, err := html.Parse(strings.NewReader(markup))
	if err != nil {
		return nil, err
	}
	return goquery.NewDocumentFromNode(root), nil
}
