package document

import (
	"errors"
	"strings"
	"testing"
)

func twoParagraphs() Node {
	return Node{Type: TypeDoc, Content: []Node{
		Paragraph("Hello world"),
		Paragraph("Second one"),
	}}
}

func TestNodeSize(t *testing.T) {
	doc := twoParagraphs()
	// "Hello world" = 11 + 2, "Second one" = 10 + 2
	if got := doc.ContentSize(); got != 25 {
		t.Fatalf("ContentSize() = %d, want 25", got)
	}
	if got := doc.End(); got != 24 {
		t.Fatalf("End() = %d, want 24", got)
	}
	if got := (Node{Type: TypeText, Text: "a😀"}).NodeSize(); got != 3 {
		t.Fatalf("emoji text NodeSize() = %d, want 3", got)
	}
}

func TestTextBetween(t *testing.T) {
	doc := twoParagraphs()
	tests := []struct {
		name     string
		from, to int
		expected string
	}{
		{name: "whole document", from: 0, to: 25, expected: "Hello world\n\nSecond one"},
		{name: "inside first paragraph", from: 1, to: 6, expected: "Hello"},
		{name: "across blocks", from: 7, to: 20, expected: "world\n\nSecond"},
		{name: "start of second paragraph", from: 0, to: 14, expected: "Hello world\n\n"},
		{name: "clamped range", from: -5, to: 500, expected: "Hello world\n\nSecond one"},
		{name: "empty range", from: 5, to: 5, expected: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := doc.TextBetween(tt.from, tt.to, BlockSeparator); got != tt.expected {
				t.Fatalf("TextBetween(%d, %d) = %q, want %q", tt.from, tt.to, got, tt.expected)
			}
		})
	}
}

func TestTextBetweenHardBreakAndLists(t *testing.T) {
	doc := Node{Type: TypeDoc, Content: []Node{
		{Type: TypeParagraph, Content: []Node{
			{Type: TypeText, Text: "one"},
			{Type: TypeHardBreak},
			{Type: TypeText, Text: "two"},
		}},
		{Type: TypeBulletList, Content: []Node{
			{Type: TypeListItem, Content: []Node{Paragraph("item")}},
		}},
	}}
	if got := doc.PlainText(); got != "one\ntwo\n\nitem" {
		t.Fatalf("PlainText() = %q", got)
	}
}

func TestParse(t *testing.T) {
	doc, err := Parse([]byte(`{"type":"doc","content":[{"type":"paragraph","content":[{"type":"text","text":"Hi","marks":[{"type":"bold"}]}]}]}`))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if doc.PlainText() != "Hi" || doc.Content[0].Content[0].Marks[0].Type != "bold" {
		t.Fatalf("unexpected document: %+v", doc)
	}

	empty, err := Parse([]byte("null"))
	if err != nil || !empty.IsEmpty() {
		t.Fatalf("Parse(null) = %+v, %v", empty, err)
	}

	if _, err := Parse([]byte(`{"type":"paragraph"}`)); !errors.Is(err, ErrInvalidDocument) {
		t.Fatalf("expected ErrInvalidDocument, got %v", err)
	}
}

func TestInsertTextMidParagraph(t *testing.T) {
	doc := twoParagraphs()
	next, err := doc.InsertText(6, " there")
	if err != nil {
		t.Fatalf("InsertText() error = %v", err)
	}
	if next != 12 {
		t.Fatalf("next = %d, want 12", next)
	}
	if got := doc.Content[0].Content[0].Text; got != "Hello there world" {
		t.Fatalf("paragraph text = %q", got)
	}
}

func TestInsertTextKeepsMarksAndHandlesEmptyParagraph(t *testing.T) {
	doc := Node{Type: TypeDoc, Content: []Node{
		{Type: TypeParagraph, Content: []Node{{Type: TypeText, Text: "bold", Marks: []Mark{{Type: "bold"}}}}},
		{Type: TypeParagraph},
	}}
	if _, err := doc.InsertText(5, "er"); err != nil {
		t.Fatalf("InsertText() error = %v", err)
	}
	if got := doc.Content[0].Content[0]; got.Text != "bolder" || len(got.Marks) != 1 {
		t.Fatalf("unexpected text node: %+v", got)
	}
	if _, err := doc.InsertText(9, "fresh"); err != nil {
		t.Fatalf("InsertText() into empty paragraph error = %v", err)
	}
	if got := doc.Content[1].Content[0].Text; got != "fresh" {
		t.Fatalf("empty paragraph text = %q", got)
	}
}

func TestInsertTextRejectsBlockBoundary(t *testing.T) {
	doc := twoParagraphs()
	if _, err := doc.InsertText(13, "x"); !errors.Is(err, ErrInvalidPosition) {
		t.Fatalf("expected ErrInvalidPosition, got %v", err)
	}
	if _, err := doc.InsertText(99, "x"); !errors.Is(err, ErrInvalidPosition) {
		t.Fatalf("expected ErrInvalidPosition, got %v", err)
	}
}

func TestInsertBlocksSplitsParagraph(t *testing.T) {
	doc := twoParagraphs()
	next, err := doc.InsertBlocks(6, []Node{Paragraph("New")})
	if err != nil {
		t.Fatalf("InsertBlocks() error = %v", err)
	}
	if got := doc.PlainText(); got != "Hello\n\nNew\n\n world\n\nSecond one" {
		t.Fatalf("PlainText() = %q", got)
	}
	// "Hello" block is 7 wide, "New" block ends at 7 + 5 - 1.
	if next != 11 {
		t.Fatalf("next = %d, want 11", next)
	}
}

func TestInsertBlocksAtParagraphEndAndEmptyParagraph(t *testing.T) {
	doc := twoParagraphs()
	next, err := doc.InsertBlocks(12, []Node{Paragraph("A"), Paragraph("B")})
	if err != nil {
		t.Fatalf("InsertBlocks() error = %v", err)
	}
	if len(doc.Content) != 4 {
		t.Fatalf("expected 4 blocks, got %d", len(doc.Content))
	}
	if next != 13+3+3-1 {
		t.Fatalf("next = %d", next)
	}

	empty := Empty()
	if _, err := empty.InsertBlocks(1, []Node{Paragraph("Only")}); err != nil {
		t.Fatalf("InsertBlocks() error = %v", err)
	}
	if len(empty.Content) != 1 || empty.PlainText() != "Only" {
		t.Fatalf("empty paragraph should be replaced, got %+v", empty)
	}
}

func TestInsertBlocksInsideListItem(t *testing.T) {
	doc := Node{Type: TypeDoc, Content: []Node{
		{Type: TypeBulletList, Content: []Node{
			{Type: TypeListItem, Content: []Node{Paragraph("item")}},
		}},
	}}
	// bulletList(0) > listItem(1) > paragraph(2) > text starts at 3
	if _, err := doc.InsertBlocks(7, []Node{Paragraph("more")}); err != nil {
		t.Fatalf("InsertBlocks() error = %v", err)
	}
	item := doc.Content[0].Content[0]
	if len(item.Content) != 2 || item.Content[1].Content[0].Text != "more" {
		t.Fatalf("unexpected list item: %+v", item)
	}
}

func TestInsertBlocksBetweenListItems(t *testing.T) {
	doc := Node{Type: TypeDoc, Content: []Node{
		{Type: TypeBulletList, Content: []Node{
			{Type: TypeListItem, Content: []Node{Paragraph("one")}},
			{Type: TypeListItem, Content: []Node{Paragraph("two")}},
		}},
	}}
	// The first list item spans 1..8, so 8 sits between the two items.
	next, err := doc.InsertBlocks(8, []Node{Paragraph("new")})
	if err != nil {
		t.Fatalf("InsertBlocks() error = %v", err)
	}
	list := doc.Content[0]
	if len(list.Content) != 3 {
		t.Fatalf("expected 3 list items, got %+v", list.Content)
	}
	for i, item := range list.Content {
		if item.Type != TypeListItem {
			t.Fatalf("list child %d is %q, want %q", i, item.Type, TypeListItem)
		}
	}
	if got := list.Content[1].Content[0].Content[0].Text; got != "new" {
		t.Fatalf("inserted item text = %q", got)
	}
	// listItem opens at 8, its paragraph at 9, "new" runs 10..13.
	if next != 13 {
		t.Fatalf("next = %d, want 13", next)
	}
	if got := doc.TextBetween(10, next, BlockSeparator); got != "new" {
		t.Fatalf("TextBetween() = %q", got)
	}
}

func TestEditorInsertAtPosition(t *testing.T) {
	editor := NewEditor(twoParagraphs())

	next, err := editor.InsertTextAt(6, ",")
	if err != nil {
		t.Fatalf("InsertTextAt() error = %v", err)
	}
	if next != 7 || editor.Anchor() != 7 {
		t.Fatalf("next = %d, anchor = %d, want 7", next, editor.Anchor())
	}
	next, err = editor.InsertParagraphsAt(next, []string{"Middle"})
	if err != nil {
		t.Fatalf("InsertParagraphsAt() error = %v", err)
	}
	if got := editor.Doc().PlainText(); got != "Hello,\n\nMiddle\n\n world\n\nSecond one" {
		t.Fatalf("PlainText() = %q", got)
	}
	if editor.Anchor() != next {
		t.Fatalf("anchor = %d, want %d", editor.Anchor(), next)
	}

	if _, err := editor.InsertTextAt(500, "x"); !errors.Is(err, ErrInvalidPosition) {
		t.Fatalf("InsertTextAt() out of range error = %v", err)
	}
	if _, err := editor.InsertParagraphsAt(500, nil); !errors.Is(err, ErrInvalidPosition) {
		t.Fatalf("InsertParagraphsAt() out of range error = %v", err)
	}
	if editor.Anchor() != next {
		t.Fatal("failed inserts must not move the anchor")
	}
}

func TestEditor(t *testing.T) {
	editor := NewEditor(twoParagraphs())
	if editor.Anchor() != 24 {
		t.Fatalf("Anchor() = %d, want 24", editor.Anchor())
	}
	if err := editor.InsertText(" here"); err != nil {
		t.Fatalf("InsertText() error = %v", err)
	}
	if err := editor.InsertParagraphs([]string{"Third"}); err != nil {
		t.Fatalf("InsertParagraphs() error = %v", err)
	}
	if got := editor.Doc().PlainText(); got != "Hello world\n\nSecond one here\n\nThird" {
		t.Fatalf("PlainText() = %q", got)
	}
	if editor.Anchor() != editor.Doc().End() {
		t.Fatalf("anchor %d should be at document end %d", editor.Anchor(), editor.Doc().End())
	}

	editor.SetEditable(false)
	if err := editor.Replace(Empty(), nil); !errors.Is(err, ErrNotEditable) {
		t.Fatalf("expected ErrNotEditable, got %v", err)
	}
	editor.SetEditable(true)
	bad := 100
	if err := editor.Replace(Empty(), &bad); !errors.Is(err, ErrInvalidPosition) {
		t.Fatalf("expected ErrInvalidPosition, got %v", err)
	}
	if err := editor.SetAnchor(-1); err == nil {
		t.Fatal("expected SetAnchor(-1) to fail")
	}
}

func TestEditorDocIsACopy(t *testing.T) {
	editor := NewEditor(twoParagraphs())
	doc := editor.Doc()
	doc.Content[0].Content[0].Text = "changed"
	if strings.Contains(editor.Doc().PlainText(), "changed") {
		t.Fatal("Doc() must return a copy")
	}
}

func TestFromMarkdown(t *testing.T) {
	source := []byte("# Title\n\nSome **bold** and *soft*\ntext with `code` and [a link](https://example.com).\n\n- one\n- two\n\n> quoted\n\n```\nfunc main() {}\n```\n\n---\n")
	doc := FromMarkdown(source)

	if doc.Content[0].Type != TypeHeading || doc.Content[0].Attrs["level"] != float64(1) {
		t.Fatalf("expected level 1 heading, got %+v", doc.Content[0])
	}
	paragraph := doc.Content[1]
	var bold, link bool
	for _, node := range paragraph.Content {
		for _, mark := range node.Marks {
			if mark.Type == "bold" && node.Text == "bold" {
				bold = true
			}
			if mark.Type == "link" && mark.Attrs["href"] == "https://example.com" {
				link = true
			}
		}
	}
	if !bold || !link {
		t.Fatalf("missing marks in %+v", paragraph)
	}
	if !strings.Contains(doc.PlainText(), "soft text") {
		t.Fatalf("soft line break should become a space: %q", doc.PlainText())
	}

	types := make([]string, 0, len(doc.Content))
	for _, node := range doc.Content {
		types = append(types, node.Type)
	}
	want := []string{TypeHeading, TypeParagraph, TypeBulletList, TypeBlockquote, TypeCodeBlock, TypeHorizontalRule}
	if strings.Join(types, ",") != strings.Join(want, ",") {
		t.Fatalf("block types = %v, want %v", types, want)
	}
	if got := doc.Content[4].Content[0].Text; got != "func main() {}" {
		t.Fatalf("code block = %q", got)
	}
}

func TestFromMarkdownEmpty(t *testing.T) {
	if doc := FromMarkdown(nil); !doc.IsEmpty() || len(doc.Content) != 1 {
		t.Fatalf("expected empty document, got %+v", doc)
	}
}
