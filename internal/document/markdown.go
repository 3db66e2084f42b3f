package document

import (
	"bytes"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

var markdownParser = goldmark.New().Parser()

// FromMarkdown converts Markdown source into a document. Constructs without a
// node type in the editor schema (raw HTML, images) are dropped.
func FromMarkdown(source []byte) Node {
	root := markdownParser.Parse(text.NewReader(source))
	doc := Node{Type: TypeDoc, Content: blocksFromMarkdown(root, source)}
	if len(doc.Content) == 0 {
		return Empty()
	}
	return doc
}

func blocksFromMarkdown(parent ast.Node, source []byte) []Node {
	var out []Node
	for child := parent.FirstChild(); child != nil; child = child.NextSibling() {
		switch n := child.(type) {
		case *ast.Paragraph, *ast.TextBlock:
			out = append(out, Node{Type: TypeParagraph, Content: inlineFromMarkdown(n, source, nil)})
		case *ast.Heading:
			out = append(out, Node{
				Type:    TypeHeading,
				Attrs:   map[string]any{"level": float64(n.Level)},
				Content: inlineFromMarkdown(n, source, nil),
			})
		case *ast.Blockquote:
			out = append(out, Node{Type: TypeBlockquote, Content: blocksFromMarkdown(n, source)})
		case *ast.List:
			listType := TypeBulletList
			if n.IsOrdered() {
				listType = TypeOrderedList
			}
			out = append(out, Node{Type: listType, Content: blocksFromMarkdown(n, source)})
		case *ast.ListItem:
			out = append(out, Node{Type: TypeListItem, Content: blocksFromMarkdown(n, source)})
		case *ast.FencedCodeBlock, *ast.CodeBlock:
			code := strings.TrimSuffix(string(linesOf(child, source)), "\n")
			block := Node{Type: TypeCodeBlock}
			if code != "" {
				block.Content = []Node{{Type: TypeText, Text: code}}
			}
			out = append(out, block)
		case *ast.ThematicBreak:
			out = append(out, Node{Type: TypeHorizontalRule})
		}
	}
	return out
}

func inlineFromMarkdown(parent ast.Node, source []byte, marks []Mark) []Node {
	var out []Node
	for child := parent.FirstChild(); child != nil; child = child.NextSibling() {
		switch n := child.(type) {
		case *ast.Text:
			out = appendText(out, string(n.Segment.Value(source)), marks)
			if n.HardLineBreak() {
				out = append(out, Node{Type: TypeHardBreak})
			} else if n.SoftLineBreak() {
				out = appendText(out, " ", marks)
			}
		case *ast.String:
			out = appendText(out, string(n.Value), marks)
		case *ast.Emphasis:
			markType := "italic"
			if n.Level >= 2 {
				markType = "bold"
			}
			out = append(out, inlineFromMarkdown(n, source, withMark(marks, Mark{Type: markType}))...)
		case *ast.CodeSpan:
			out = append(out, inlineFromMarkdown(n, source, withMark(marks, Mark{Type: "code"}))...)
		case *ast.Link:
			link := Mark{Type: "link", Attrs: map[string]any{"href": string(n.Destination)}}
			out = append(out, inlineFromMarkdown(n, source, withMark(marks, link))...)
		case *ast.AutoLink:
			url := string(n.URL(source))
			out = appendText(out, url, withMark(marks, Mark{Type: "link", Attrs: map[string]any{"href": url}}))
		default:
			out = append(out, inlineFromMarkdown(child, source, marks)...)
		}
	}
	return out
}

// appendText merges text into the previous node when the marks match.
func appendText(out []Node, value string, marks []Mark) []Node {
	if value == "" {
		return out
	}
	if last := len(out) - 1; last >= 0 && out[last].IsText() && sameMarks(out[last].Marks, marks) {
		out[last].Text += value
		return out
	}
	node := Node{Type: TypeText, Text: value}
	if len(marks) > 0 {
		node.Marks = append([]Mark(nil), marks...)
	}
	return append(out, node)
}

func withMark(marks []Mark, mark Mark) []Mark {
	out := make([]Mark, 0, len(marks)+1)
	out = append(out, marks...)
	return append(out, mark)
}

func sameMarks(a, b []Mark) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Type != b[i].Type {
			return false
		}
		if a[i].Attrs["href"] != b[i].Attrs["href"] {
			return false
		}
	}
	return true
}

func linesOf(n ast.Node, source []byte) []byte {
	var buf bytes.Buffer
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		segment := lines.At(i)
		buf.Write(segment.Value(source))
	}
	return buf.Bytes()
}
