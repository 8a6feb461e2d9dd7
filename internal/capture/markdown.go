package capture

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

type blockKind int

const (
	blockHeading blockKind = iota
	blockParagraph
	blockListItem
	blockQuote
	blockCode
	blockRule
)

// block is one printable unit of a Markdown document.
type block struct {
	kind  blockKind
	level int
	text  string
}

// markdownBlocks flattens a Markdown document into printable blocks in
// document order. Raw HTML is dropped.
func markdownBlocks(src []byte) []block {
	doc := goldmark.New().Parser().Parse(text.NewReader(src))
	var blocks []block
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch node := n.(type) {
		case *ast.Heading:
			if t := inlineText(node, src); t != "" {
				blocks = append(blocks, block{kind: blockHeading, level: node.Level, text: t})
			}
			return ast.WalkSkipChildren, nil
		case *ast.Paragraph, *ast.TextBlock:
			t := inlineText(n, src)
			if t == "" {
				return ast.WalkSkipChildren, nil
			}
			switch {
			case n.Parent() != nil && n.Parent().Kind() == ast.KindListItem:
				blocks = append(blocks, block{kind: blockListItem, level: listDepth(n), text: t})
			case hasAncestor(n, ast.KindBlockquote):
				blocks = append(blocks, block{kind: blockQuote, text: t})
			default:
				blocks = append(blocks, block{kind: blockParagraph, text: t})
			}
			return ast.WalkSkipChildren, nil
		case *ast.FencedCodeBlock, *ast.CodeBlock:
			if t := blockLines(n, src); t != "" {
				blocks = append(blocks, block{kind: blockCode, text: t})
			}
			return ast.WalkSkipChildren, nil
		case *ast.ThematicBreak:
			blocks = append(blocks, block{kind: blockRule})
		case *ast.HTMLBlock:
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})
	return blocks
}

func inlineText(n ast.Node, src []byte) string {
	var b strings.Builder
	var walk func(ast.Node)
	walk = func(parent ast.Node) {
		for c := parent.FirstChild(); c != nil; c = c.NextSibling() {
			switch node := c.(type) {
			case *ast.Text:
				b.Write(node.Segment.Value(src))
				if node.SoftLineBreak() || node.HardLineBreak() {
					b.WriteByte(' ')
				}
			case *ast.String:
				b.Write(node.Value)
			case *ast.AutoLink:
				b.Write(node.Label(src))
			case *ast.RawHTML:
			default:
				walk(c)
			}
		}
	}
	walk(n)
	return collapseSpace(b.String())
}

func blockLines(n ast.Node, src []byte) string {
	var b strings.Builder
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		b.Write(seg.Value(src))
	}
	return strings.TrimRight(b.String(), "\n")
}

func listDepth(n ast.Node) int {
	depth := -1
	for p := n.Parent(); p != nil; p = p.Parent() {
		if p.Kind() == ast.KindList {
			depth++
		}
	}
	if depth < 0 {
		return 0
	}
	return depth
}

func hasAncestor(n ast.Node, kind ast.NodeKind) bool {
	for p := n.Parent(); p != nil; p = p.Parent() {
		if p.Kind() == kind {
			return true
		}
	}
	return false
}

func (d *pdfDoc) blocks(blocks []block) {
	for _, b := range blocks {
		switch b.kind {
		case blockHeading:
			d.heading(b.level, b.text)
		case blockListItem:
			d.listItem(b.level, b.text)
		case blockQuote:
			d.quote(b.text)
		case blockCode:
			d.code(b.text)
		case blockRule:
			d.rule()
		default:
			d.paragraph(b.text)
		}
	}
}
