package document

import "fmt"

// InsertText inserts plain text at pos, which must sit inside a textblock.
// Text appended to an existing text node keeps that node's marks. It returns
// the position just after the inserted text.
func (n *Node) InsertText(pos int, text string) (int, error) {
	if text == "" {
		return pos, nil
	}
	if pos < 0 || pos > n.ContentSize() {
		return 0, fmt.Errorf("%w: %d outside document of size %d", ErrInvalidPosition, pos, n.ContentSize())
	}
	if err := insertText(n, pos, text); err != nil {
		return 0, err
	}
	return pos + textLen(text), nil
}

// InsertBlocks inserts block nodes at pos. When pos is inside a textblock the
// textblock is split around pos and the blocks land between the two halves;
// empty halves are dropped. It returns the position at the end of the last
// inserted block's content.
func (n *Node) InsertBlocks(pos int, blocks []Node) (int, error) {
	if len(blocks) == 0 {
		return pos, nil
	}
	if pos < 0 || pos > n.ContentSize() {
		return 0, fmt.Errorf("%w: %d outside document of size %d", ErrInvalidPosition, pos, n.ContentSize())
	}
	return insertBlocks(n, pos, blocks)
}

func insertText(n *Node, pos int, text string) error {
	if n.IsTextblock() {
		n.Content = insertInline(n.Content, pos, text)
		return nil
	}
	offset := 0
	for i := range n.Content {
		child := &n.Content[i]
		size := child.NodeSize()
		if pos > offset && pos < offset+size && !child.IsLeaf() {
			return insertText(child, pos-offset-1, text)
		}
		offset += size
	}
	return fmt.Errorf("%w: %d is not inside a textblock", ErrInvalidPosition, pos)
}

func insertInline(content []Node, offset int, text string) []Node {
	pos := 0
	for i, child := range content {
		size := child.NodeSize()
		if child.IsText() && offset > pos && offset <= pos+size {
			k := offset - pos
			child.Text = sliceText(child.Text, 0, k) + text + sliceText(child.Text, k, size)
			content[i] = child
			return content
		}
		if offset == pos {
			return splice(content, i, 0, Node{Type: TypeText, Text: text})
		}
		pos += size
	}
	return append(content, Node{Type: TypeText, Text: text})
}

func insertBlocks(n *Node, pos int, blocks []Node) (int, error) {
	offset := 0
	for i := 0; i <= len(n.Content); i++ {
		if pos == offset {
			if isList(*n) {
				// Lists only hold list items.
				n.Content = splice(n.Content, i, 0, Node{Type: TypeListItem, Content: blocks})
				return offset + sizeOf(blocks), nil
			}
			n.Content = splice(n.Content, i, 0, blocks...)
			return offset + sizeOf(blocks) - 1, nil
		}
		if i == len(n.Content) {
			break
		}
		child := &n.Content[i]
		size := child.NodeSize()
		if pos > offset && pos < offset+size {
			if child.IsTextblock() {
				head, tail := splitInline(child.Content, pos-offset-1)
				replacement := make([]Node, 0, len(blocks)+2)
				headSize := 0
				if len(head) > 0 {
					h := shell(*child)
					h.Content = head
					headSize = h.NodeSize()
					replacement = append(replacement, h)
				}
				replacement = append(replacement, blocks...)
				if len(tail) > 0 {
					t := shell(*child)
					t.Content = tail
					replacement = append(replacement, t)
				}
				n.Content = splice(n.Content, i, 1, replacement...)
				return offset + headSize + sizeOf(blocks) - 1, nil
			}
			if child.IsLeaf() {
				break
			}
			rel, err := insertBlocks(child, pos-offset-1, blocks)
			if err != nil {
				return 0, err
			}
			return offset + 1 + rel, nil
		}
		offset += size
	}
	return 0, fmt.Errorf("%w: cannot insert blocks at %d", ErrInvalidPosition, pos)
}

func isList(n Node) bool {
	return n.Type == TypeBulletList || n.Type == TypeOrderedList
}

// splitInline splits inline content at offset.
func splitInline(content []Node, offset int) (head, tail []Node) {
	pos := 0
	for _, child := range content {
		size := child.NodeSize()
		switch {
		case pos+size <= offset:
			head = append(head, child)
		case pos >= offset:
			tail = append(tail, child)
		default:
			k := offset - pos
			left, right := child, child
			left.Text = sliceText(child.Text, 0, k)
			right.Text = sliceText(child.Text, k, size)
			head = append(head, left)
			tail = append(tail, right)
		}
		pos += size
	}
	return head, tail
}

// shell copies a node without its content.
func shell(n Node) Node {
	out := n.Clone()
	out.Content = nil
	return out
}

func sizeOf(nodes []Node) int {
	size := 0
	for _, node := range nodes {
		size += node.NodeSize()
	}
	return size
}

func splice(nodes []Node, at, deleteCount int, insert ...Node) []Node {
	out := make([]Node, 0, len(nodes)-deleteCount+len(insert))
	out = append(out, nodes[:at]...)
	out = append(out, insert...)
	out = append(out, nodes[at+deleteCount:]...)
	return out
}
