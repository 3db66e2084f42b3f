// Package document models the TipTap/ProseMirror JSON tree that the editor
// works on, along with the position arithmetic needed to read text around the
// cursor and splice completions back in.
package document

import (
	"encoding/json"
	"errors"
	"fmt"
	"unicode/utf16"
)

// Node is a node in the ProseMirror document tree.
type Node struct {
	Type    string         `json:"type"`
	Attrs   map[string]any `json:"attrs,omitempty"`
	Content []Node         `json:"content,omitempty"`
	Text    string         `json:"text,omitempty"`
	Marks   []Mark         `json:"marks,omitempty"`
}

// Mark is a formatting mark applied to a text node.
type Mark struct {
	Type  string         `json:"type"`
	Attrs map[string]any `json:"attrs,omitempty"`
}

var (
	ErrInvalidDocument = errors.New("invalid document")
	ErrInvalidPosition = errors.New("invalid position")
	ErrNotEditable     = errors.New("document is not editable")
)

const (
	TypeDoc            = "doc"
	TypeParagraph      = "paragraph"
	TypeHeading        = "heading"
	TypeCodeBlock      = "codeBlock"
	TypeText           = "text"
	TypeHardBreak      = "hardBreak"
	TypeHorizontalRule = "horizontalRule"
	TypeImage          = "image"
	TypeBlockquote     = "blockquote"
	TypeBulletList     = "bulletList"
	TypeOrderedList    = "orderedList"
	TypeListItem       = "listItem"
)

// BlockSeparator is inserted between blocks when extracting plain text.
const BlockSeparator = "\n\n"

// Parse decodes a ProseMirror JSON document. A null or empty payload yields
// an empty document.
func Parse(data []byte) (Node, error) {
	if len(data) == 0 || string(data) == "null" {
		return Empty(), nil
	}
	var doc Node
	if err := json.Unmarshal(data, &doc); err != nil {
		return Node{}, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	if doc.Type != TypeDoc {
		return Node{}, fmt.Errorf("%w: root node is %q", ErrInvalidDocument, doc.Type)
	}
	return doc, nil
}

// Empty returns a document holding a single empty paragraph, which is what
// the editor shows for a fresh document.
func Empty() Node {
	return Node{Type: TypeDoc, Content: []Node{{Type: TypeParagraph}}}
}

// Paragraph builds a paragraph holding plain text.
func Paragraph(text string) Node {
	p := Node{Type: TypeParagraph}
	if text != "" {
		p.Content = []Node{{Type: TypeText, Text: text}}
	}
	return p
}

// Marshal encodes the node as JSON.
func (n Node) Marshal() (json.RawMessage, error) {
	data, err := json.Marshal(n)
	if err != nil {
		return nil, fmt.Errorf("marshal document: %w", err)
	}
	return data, nil
}

// Clone returns a deep copy of the node.
func (n Node) Clone() Node {
	out := n
	if n.Attrs != nil {
		out.Attrs = make(map[string]any, len(n.Attrs))
		for k, v := range n.Attrs {
			out.Attrs[k] = v
		}
	}
	if n.Marks != nil {
		out.Marks = make([]Mark, len(n.Marks))
		copy(out.Marks, n.Marks)
	}
	if n.Content != nil {
		out.Content = make([]Node, len(n.Content))
		for i, child := range n.Content {
			out.Content[i] = child.Clone()
		}
	}
	return out
}

func (n Node) IsText() bool {
	return n.Type == TypeText
}

// IsInline reports whether the node lives inside a textblock.
func (n Node) IsInline() bool {
	switch n.Type {
	case TypeText, TypeHardBreak, TypeImage:
		return true
	}
	return false
}

func (n Node) IsBlock() bool {
	return !n.IsInline()
}

// IsTextblock reports whether the node holds inline content directly.
func (n Node) IsTextblock() bool {
	switch n.Type {
	case TypeParagraph, TypeHeading, TypeCodeBlock:
		return true
	}
	return false
}

// IsLeaf reports whether the node can never have content.
func (n Node) IsLeaf() bool {
	switch n.Type {
	case TypeText, TypeHardBreak, TypeImage, TypeHorizontalRule:
		return true
	}
	return false
}

// NodeSize is the number of positions the node occupies. Text counts UTF-16
// code units so positions line up with the browser editor.
func (n Node) NodeSize() int {
	if n.IsText() {
		return textLen(n.Text)
	}
	if n.IsLeaf() {
		return 1
	}
	return n.ContentSize() + 2
}

// ContentSize is the combined size of the node's children.
func (n Node) ContentSize() int {
	size := 0
	for _, child := range n.Content {
		size += child.NodeSize()
	}
	return size
}

// IsEmpty reports whether the document carries no text and no leaf content.
func (n Node) IsEmpty() bool {
	if n.IsText() {
		return n.Text == ""
	}
	if n.IsLeaf() {
		return false
	}
	for _, child := range n.Content {
		if !child.IsEmpty() {
			return false
		}
	}
	return true
}

// End returns the position at the end of the last textblock, where the
// editor puts the cursor when focusing the end of the document.
func (n Node) End() int {
	if len(n.Content) == 0 {
		return 0
	}
	last := n.Content[len(n.Content)-1]
	before := n.ContentSize() - last.NodeSize()
	if last.IsTextblock() {
		return before + 1 + last.ContentSize()
	}
	if last.IsLeaf() {
		return n.ContentSize()
	}
	return before + 1 + last.End()
}

func textLen(s string) int {
	n := 0
	for _, r := range s {
		if r >= 0x10000 {
			n += 2
			continue
		}
		n++
	}
	return n
}

// sliceText slices s by UTF-16 offsets.
func sliceText(s string, from, to int) string {
	units := utf16.Encode([]rune(s))
	if from < 0 {
		from = 0
	}
	if to > len(units) {
		to = len(units)
	}
	if from >= to {
		return ""
	}
	return string(utf16.Decode(units[from:to]))
}
