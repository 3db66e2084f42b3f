package document

import (
	"fmt"
	"sync"
)

// Editor is a document session: the tree, the cursor anchor and whether the
// user may currently edit. Programmatic inserts always go through; the
// editable flag only gates Replace, which is how clients write.
type Editor struct {
	mu       sync.RWMutex
	doc      Node
	anchor   int
	editable bool
}

// NewEditor opens doc with the cursor at the end of its text.
func NewEditor(doc Node) *Editor {
	return &Editor{doc: doc, anchor: doc.End(), editable: true}
}

func (e *Editor) Doc() Node {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.doc.Clone()
}

func (e *Editor) Anchor() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.anchor
}

func (e *Editor) SetAnchor(pos int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if pos < 0 || pos > e.doc.ContentSize() {
		return fmt.Errorf("%w: anchor %d outside document of size %d", ErrInvalidPosition, pos, e.doc.ContentSize())
	}
	e.anchor = pos
	return nil
}

func (e *Editor) Editable() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.editable
}

func (e *Editor) SetEditable(editable bool) {
	e.mu.Lock()
	e.editable = editable
	e.mu.Unlock()
}

// Replace swaps in a document written by the user. A nil anchor puts the
// cursor at the end of the new document.
func (e *Editor) Replace(doc Node, anchor *int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.editable {
		return ErrNotEditable
	}
	pos := doc.End()
	if anchor != nil {
		if *anchor < 0 || *anchor > doc.ContentSize() {
			return fmt.Errorf("%w: anchor %d outside document of size %d", ErrInvalidPosition, *anchor, doc.ContentSize())
		}
		pos = *anchor
	}
	e.doc = doc
	e.anchor = pos
	return nil
}

func (e *Editor) ContentSize() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.doc.ContentSize()
}

func (e *Editor) TextBetween(from, to int) string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.doc.TextBetween(from, to, BlockSeparator)
}

// InsertText types text at the cursor and moves the cursor after it.
func (e *Editor) InsertText(text string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.insertTextAt(e.anchor, text)
}

// InsertTextAt types text at pos and moves the cursor after it, returning
// the new cursor position.
func (e *Editor) InsertTextAt(pos int, text string) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.insertTextAt(pos, text); err != nil {
		return 0, err
	}
	return e.anchor, nil
}

// InsertParagraphs inserts one paragraph per text at the cursor and leaves
// the cursor at the end of the last one.
func (e *Editor) InsertParagraphs(texts []string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.insertParagraphsAt(e.anchor, texts)
}

// InsertParagraphsAt is InsertParagraphs at pos. It returns the new cursor
// position.
func (e *Editor) InsertParagraphsAt(pos int, texts []string) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.insertParagraphsAt(pos, texts); err != nil {
		return 0, err
	}
	return e.anchor, nil
}

func (e *Editor) insertTextAt(pos int, text string) error {
	next, err := e.doc.InsertText(pos, text)
	if err != nil {
		return err
	}
	e.anchor = next
	return nil
}

func (e *Editor) insertParagraphsAt(pos int, texts []string) error {
	if len(texts) == 0 {
		if pos < 0 || pos > e.doc.ContentSize() {
			return fmt.Errorf("%w: %d outside document of size %d", ErrInvalidPosition, pos, e.doc.ContentSize())
		}
		e.anchor = pos
		return nil
	}
	blocks := make([]Node, 0, len(texts))
	for _, text := range texts {
		blocks = append(blocks, Paragraph(text))
	}
	next, err := e.doc.InsertBlocks(pos, blocks)
	if err != nil {
		return err
	}
	e.anchor = next
	return nil
}
