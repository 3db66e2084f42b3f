package export

import (
	"fmt"
	"strings"

	"scribe/api/internal/document"
)

// ToMarkdown renders the document as CommonMark.
func ToMarkdown(doc document.Node) string {
	blocks := markdownBlocks(doc.Content, "")
	return strings.TrimRight(strings.Join(blocks, "\n\n"), "\n") + "\n"
}

func markdownBlocks(nodes []document.Node, indent string) []string {
	var out []string
	for _, node := range nodes {
		if block := markdownBlock(node, indent); block != "" {
			out = append(out, block)
		}
	}
	return out
}

func markdownBlock(node document.Node, indent string) string {
	switch node.Type {
	case document.TypeParagraph:
		return indent + markdownInline(node.Content)
	case document.TypeHeading:
		return indent + strings.Repeat("#", headingLevel(node)) + " " + markdownInline(node.Content)
	case document.TypeCodeBlock:
		lines := strings.Split(node.PlainText(), "\n")
		for i := range lines {
			lines[i] = indent + lines[i]
		}
		return indent + "```\n" + strings.Join(lines, "\n") + "\n" + indent + "```"
	case document.TypeBlockquote:
		inner := strings.Join(markdownBlocks(node.Content, ""), "\n\n")
		lines := strings.Split(inner, "\n")
		for i, line := range lines {
			lines[i] = indent + strings.TrimRight("> "+line, " ")
		}
		return strings.Join(lines, "\n")
	case document.TypeBulletList, document.TypeOrderedList:
		items := make([]string, 0, len(node.Content))
		for i, item := range node.Content {
			marker := "- "
			if node.Type == document.TypeOrderedList {
				marker = fmt.Sprintf("%d. ", i+1)
			}
			items = append(items, listItem(item, indent, marker))
		}
		return strings.Join(items, "\n")
	case document.TypeHorizontalRule:
		return indent + "---"
	case document.TypeImage:
		return indent + markdownInline([]document.Node{node})
	}
	return ""
}

func listItem(item document.Node, indent, marker string) string {
	childIndent := indent + strings.Repeat(" ", len(marker))
	blocks := markdownBlocks(item.Content, childIndent)
	if len(blocks) == 0 {
		return indent + strings.TrimRight(marker, " ")
	}
	blocks[0] = indent + marker + strings.TrimPrefix(blocks[0], childIndent)
	return strings.Join(blocks, "\n")
}

func markdownInline(nodes []document.Node) string {
	var b strings.Builder
	for _, node := range nodes {
		switch node.Type {
		case document.TypeText:
			text := node.Text
			if !hasMark(node.Marks, "code") {
				text = escapeMarkdown(text)
			}
			b.WriteString(wrapMarks(text, node.Marks))
		case document.TypeHardBreak:
			b.WriteString("  \n")
		case document.TypeImage:
			src, _ := node.Attrs["src"].(string)
			alt, _ := node.Attrs["alt"].(string)
			fmt.Fprintf(&b, "![%s](%s)", escapeMarkdown(alt), src)
		}
	}
	return b.String()
}

func wrapMarks(text string, marks []document.Mark) string {
	if text == "" {
		return ""
	}
	for i := len(marks) - 1; i >= 0; i-- {
		switch marks[i].Type {
		case "bold":
			text = "**" + text + "**"
		case "italic":
			text = "_" + text + "_"
		case "strike":
			text = "~~" + text + "~~"
		case "code":
			text = "`" + text + "`"
		case "link":
			href, _ := marks[i].Attrs["href"].(string)
			text = "[" + text + "](" + href + ")"
		}
	}
	return text
}

func hasMark(marks []document.Mark, markType string) bool {
	for _, mark := range marks {
		if mark.Type == markType {
			return true
		}
	}
	return false
}

var markdownEscaper = strings.NewReplacer(
	`\`, `\\`,
	"*", `\*`,
	"_", `\_`,
	"`", "\\`",
	"[", `\[`,
	"]", `\]`,
)

func escapeMarkdown(s string) string {
	return markdownEscaper.Replace(s)
}
