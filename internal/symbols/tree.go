// Package symbols holds a document's symbol outline as an arena of nodes
// addressed by index, so walks never chase loosely typed provider data.
package symbols

import "github.com/alucardeht/dynmethod/internal/lsp"

type NodeID int

const NoNode NodeID = -1

type Node struct {
	Name     string
	Kind     lsp.SymbolKind
	Range    lsp.Range
	Parent   NodeID
	Children []NodeID
}

type Tree struct {
	URI   string
	nodes []Node
	roots []NodeID
}

// Build flattens the provider's forest into an arena, preserving sibling order.
func Build(uri string, forest []lsp.DocumentSymbol) *Tree {
	t := &Tree{URI: uri}
	for i := range forest {
		t.roots = append(t.roots, t.add(&forest[i], NoNode))
	}
	return t
}

func (t *Tree) add(s *lsp.DocumentSymbol, parent NodeID) NodeID {
	id := NodeID(len(t.nodes))
	t.nodes = append(t.nodes, Node{
		Name:   s.Name,
		Kind:   s.Kind,
		Range:  s.Range,
		Parent: parent,
	})

	children := make([]NodeID, 0, len(s.Children))
	for i := range s.Children {
		children = append(children, t.add(&s.Children[i], id))
	}
	t.nodes[id].Children = children
	return id
}

func (t *Tree) Len() int {
	if t == nil {
		return 0
	}
	return len(t.nodes)
}

func (t *Tree) Roots() []NodeID {
	if t == nil {
		return nil
	}
	return t.roots
}

func (t *Tree) Node(id NodeID) Node {
	return t.nodes[id]
}

// RootsOfKind returns the top-level nodes with the given kind.
func (t *Tree) RootsOfKind(kind lsp.SymbolKind) []NodeID {
	var ids []NodeID
	for _, id := range t.Roots() {
		if t.nodes[id].Kind == kind {
			ids = append(ids, id)
		}
	}
	return ids
}

// Descendants calls fn for every node strictly below root, pre-order, each
// exactly once, passing the node and its immediate parent.
func (t *Tree) Descendants(root NodeID, fn func(id, parent NodeID)) {
	stack := make([]NodeID, 0, 16)
	children := t.nodes[root].Children
	for i := len(children) - 1; i >= 0; i-- {
		stack = append(stack, children[i])
	}

	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		fn(id, t.nodes[id].Parent)

		children := t.nodes[id].Children
		for i := len(children) - 1; i >= 0; i-- {
			stack = append(stack, children[i])
		}
	}
}

// ScopeAt descends from the top level into whichever child range contains
// pos and returns the innermost such node.
func (t *Tree) ScopeAt(pos lsp.Position) (NodeID, bool) {
	current := NoNode
	candidates := t.Roots()
	for {
		next := NoNode
		for _, id := range candidates {
			if t.nodes[id].Range.Contains(pos) {
				next = id
				break
			}
		}
		if next == NoNode {
			break
		}
		current = next
		candidates = t.nodes[current].Children
	}
	return current, current != NoNode
}
