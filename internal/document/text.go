package document

import "strings"

// nodesBetween calls fn for each descendant overlapping [from, to), in
// document order. Returning false from fn skips the node's children.
func (n Node) nodesBetween(from, to int, fn func(node Node, pos int) bool, nodeStart int) {
	pos := 0
	for _, child := range n.Content {
		if pos >= to {
			break
		}
		end := pos + child.NodeSize()
		if end > from && fn(child, nodeStart+pos) && len(child.Content) > 0 {
			start := pos + 1
			child.nodesBetween(max(0, from-start), min(child.ContentSize(), to-start), fn, nodeStart+start)
		}
		pos = end
	}
}

// TextBetween returns the plain text of the slice [from, to), joining
// blocks with blockSeparator. Hard breaks render as a single newline and other
// leaves render as nothing.
func (n Node) TextBetween(from, to int, blockSeparator string) string {
	size := n.ContentSize()
	from = clamp(from, 0, size)
	to = clamp(to, 0, size)
	if from >= to {
		return ""
	}

	var b strings.Builder
	separated := true
	n.nodesBetween(from, to, func(node Node, pos int) bool {
		switch {
		case node.IsText():
			b.WriteString(sliceText(node.Text, max(from, pos)-pos, to-pos))
			separated = false
		case node.Type == TypeHardBreak:
			b.WriteString("\n")
			return false
		case node.IsBlock() && !separated:
			b.WriteString(blockSeparator)
			separated = true
		}
		return true
	}, 0)
	return b.String()
}

// PlainText returns the text of the whole document.
func (n Node) PlainText() string {
	return n.TextBetween(0, n.ContentSize(), BlockSeparator)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
