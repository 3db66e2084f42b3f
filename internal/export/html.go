package export

import (
	"fmt"
	"html"
	"strings"

	"scribe/api/internal/document"
)

// ToHTML renders the document body as HTML fragments, one line per block.
func ToHTML(doc document.Node) string {
	var b strings.Builder
	renderNode(&b, doc)
	return b.String()
}

func renderNode(b *strings.Builder, node document.Node) {
	switch node.Type {
	case document.TypeDoc:
		renderChildren(b, node)
	case document.TypeParagraph:
		fmt.Fprintf(b, "<p%s>", alignStyle(node))
		renderChildren(b, node)
		b.WriteString("</p>\n")
	case document.TypeHeading:
		level := headingLevel(node)
		fmt.Fprintf(b, "<h%d%s>", level, alignStyle(node))
		renderChildren(b, node)
		fmt.Fprintf(b, "</h%d>\n", level)
	case document.TypeBulletList:
		b.WriteString("<ul>\n")
		renderChildren(b, node)
		b.WriteString("</ul>\n")
	case document.TypeOrderedList:
		b.WriteString("<ol>\n")
		renderChildren(b, node)
		b.WriteString("</ol>\n")
	case document.TypeListItem:
		b.WriteString("<li>")
		renderChildren(b, node)
		b.WriteString("</li>\n")
	case document.TypeBlockquote:
		b.WriteString("<blockquote>\n")
		renderChildren(b, node)
		b.WriteString("</blockquote>\n")
	case document.TypeCodeBlock:
		b.WriteString("<pre><code>")
		b.WriteString(html.EscapeString(node.PlainText()))
		b.WriteString("</code></pre>\n")
	case document.TypeText:
		b.WriteString(renderTextWithMarks(node.Text, node.Marks))
	case document.TypeHardBreak:
		b.WriteString("<br>")
	case document.TypeHorizontalRule:
		b.WriteString("<hr>\n")
	case document.TypeImage:
		src, _ := node.Attrs["src"].(string)
		alt, _ := node.Attrs["alt"].(string)
		fmt.Fprintf(b, `<img src="%s" alt="%s">`, html.EscapeString(src), html.EscapeString(alt))
	default:
		renderChildren(b, node)
	}
}

func renderChildren(b *strings.Builder, node document.Node) {
	for _, child := range node.Content {
		renderNode(b, child)
	}
}

func headingLevel(node document.Node) int {
	level := 1
	if lvl, ok := node.Attrs["level"].(float64); ok && lvl >= 1 && lvl <= 6 {
		level = int(lvl)
	}
	return level
}

// alignStyle honours the textAlign attribute the editor's alignment
// extension stores on paragraphs and headings.
func alignStyle(node document.Node) string {
	align, _ := node.Attrs["textAlign"].(string)
	switch align {
	case "center", "right", "justify":
		return fmt.Sprintf(` style="text-align: %s"`, align)
	}
	return ""
}

// renderTextWithMarks wraps text in its marks, first mark outermost.
func renderTextWithMarks(text string, marks []document.Mark) string {
	if text == "" {
		return ""
	}
	out := html.EscapeString(text)
	for i := len(marks) - 1; i >= 0; i-- {
		switch marks[i].Type {
		case "bold":
			out = "<strong>" + out + "</strong>"
		case "italic":
			out = "<em>" + out + "</em>"
		case "code":
			out = "<code>" + out + "</code>"
		case "strike":
			out = "<s>" + out + "</s>"
		case "underline":
			out = "<u>" + out + "</u>"
		case "highlight":
			out = "<mark>" + out + "</mark>"
		case "link":
			href, _ := marks[i].Attrs["href"].(string)
			out = fmt.Sprintf(`<a href="%s">%s</a>`, html.EscapeString(href), out)
		}
	}
	return out
}
