package telegraph

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	extast "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"
)

// Node is a Telegraph content node: either a string or an *Element.
type Node any

// Element is a Telegraph DOM element.
type Element struct {
	Tag      string            `json:"tag"`
	Attrs    map[string]string `json:"attrs,omitempty"`
	Children []Node            `json:"children,omitempty"`
}

var markdown = goldmark.New(goldmark.WithExtensions(extension.Strikethrough))

// FromMarkdown converts model output to Telegraph nodes. Unknown constructs
// degrade to their plain text.
func FromMarkdown(input string) []Node {
	if strings.TrimSpace(input) == "" {
		return []Node{&Element{Tag: "p", Children: []Node{input}}}
	}
	source := []byte(input)
	doc := markdown.Parser().Parse(text.NewReader(source))

	c := converter{source: source}
	nodes := c.blocks(doc)
	if len(nodes) == 0 {
		return []Node{&Element{Tag: "p", Children: []Node{input}}}
	}
	return nodes
}

type converter struct {
	source []byte
}

func (c converter) blocks(parent ast.Node) []Node {
	var out []Node
	for n := parent.FirstChild(); n != nil; n = n.NextSibling() {
		if node := c.block(n); node != nil {
			out = append(out, node)
		}
	}
	return out
}

func (c converter) block(n ast.Node) Node {
	switch v := n.(type) {
	case *ast.Paragraph, *ast.TextBlock:
		return &Element{Tag: "p", Children: c.inlines(n)}
	case *ast.Heading:
		tag := "h4"
		if v.Level <= 2 {
			tag = "h3"
		}
		return &Element{Tag: tag, Children: c.inlines(n)}
	case *ast.FencedCodeBlock, *ast.CodeBlock:
		return &Element{Tag: "pre", Children: []Node{c.lines(n)}}
	case *ast.HTMLBlock:
		return &Element{Tag: "p", Children: []Node{c.lines(n)}}
	case *ast.Blockquote:
		return &Element{Tag: "blockquote", Children: c.flatten(c.blocks(n))}
	case *ast.List:
		tag := "ul"
		if v.IsOrdered() {
			tag = "ol"
		}
		var items []Node
		for item := n.FirstChild(); item != nil; item = item.NextSibling() {
			items = append(items, &Element{Tag: "li", Children: c.flatten(c.blocks(item))})
		}
		return &Element{Tag: tag, Children: items}
	case *ast.ThematicBreak:
		return &Element{Tag: "hr"}
	default:
		if n.Type() == ast.TypeInline {
			return &Element{Tag: "p", Children: c.inline(n)}
		}
		return &Element{Tag: "p", Children: c.blocks(n)}
	}
}

// flatten unwraps paragraphs nested in list items and quotes, which Telegraph
// renders with extra spacing.
func (c converter) flatten(nodes []Node) []Node {
	var out []Node
	for i, n := range nodes {
		if el, ok := n.(*Element); ok && el.Tag == "p" {
			if i > 0 {
				out = append(out, "\n")
			}
			out = append(out, el.Children...)
			continue
		}
		out = append(out, n)
	}
	return out
}

func (c converter) lines(n ast.Node) string {
	var b strings.Builder
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		b.Write(seg.Value(c.source))
	}
	return strings.TrimRight(b.String(), "\n")
}

func (c converter) inlines(parent ast.Node) []Node {
	var out []Node
	for n := parent.FirstChild(); n != nil; n = n.NextSibling() {
		out = append(out, c.inline(n)...)
	}
	return out
}

func (c converter) inline(n ast.Node) []Node {
	switch v := n.(type) {
	case *ast.Text:
		s := string(v.Segment.Value(c.source))
		switch {
		case v.HardLineBreak():
			return []Node{s, &Element{Tag: "br"}}
		case v.SoftLineBreak():
			return []Node{s + "\n"}
		}
		return []Node{s}
	case *ast.String:
		return []Node{string(v.Value)}
	case *ast.CodeSpan:
		return []Node{&Element{Tag: "code", Children: []Node{c.plain(n)}}}
	case *ast.Emphasis:
		tag := "em"
		if v.Level >= 2 {
			tag = "strong"
		}
		return []Node{&Element{Tag: tag, Children: c.inlines(n)}}
	case *extast.Strikethrough:
		return []Node{&Element{Tag: "s", Children: c.inlines(n)}}
	case *ast.Link:
		return []Node{&Element{Tag: "a", Attrs: map[string]string{"href": string(v.Destination)}, Children: c.inlines(n)}}
	case *ast.AutoLink:
		return []Node{&Element{Tag: "a", Attrs: map[string]string{"href": string(v.URL(c.source))}, Children: []Node{string(v.Label(c.source))}}}
	case *ast.Image:
		return []Node{&Element{Tag: "img", Attrs: map[string]string{"src": string(v.Destination)}}}
	case *ast.RawHTML:
		var b strings.Builder
		for i := 0; i < v.Segments.Len(); i++ {
			seg := v.Segments.At(i)
			b.Write(seg.Value(c.source))
		}
		return []Node{b.String()}
	default:
		return c.inlines(n)
	}
}

// plain returns the concatenated text of n's descendants.
func (c converter) plain(n ast.Node) string {
	var b strings.Builder
	_ = ast.Walk(n, func(node ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch t := node.(type) {
		case *ast.Text:
			b.Write(t.Segment.Value(c.source))
		case *ast.String:
			b.Write(t.Value)
		}
		return ast.WalkContinue, nil
	})
	return b.String()
}
