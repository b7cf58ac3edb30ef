// Package tree keeps the directory tree of the container as an arena of nodes indexed by entry id.
package tree

import (
	"path"
	"strings"

	"github.com/pkg/errors"

	"github.com/outofforest/packfs/types"
)

// Separator separates names in the path.
const Separator = "/"

// Entry is the part of the file table entry required to build the tree.
type Entry struct {
	Parent types.EntryID
	Name   string
	Size   uint64
}

// Node is the node of the tree.
type Node struct {
	ID     types.EntryID
	Parent types.EntryID
	Name   string

	// Size is the size recorded in the file table when container was opened.
	Size uint64

	children []types.EntryID
}

// IsDir returns true if node is a directory. Node is a directory if it is the root or if it has children.
func (n *Node) IsDir() bool {
	return n.ID == types.RootID || len(n.children) > 0
}

// Tree is the directory tree of the container.
type Tree struct {
	nodes []*Node
	index map[string]types.EntryID
}

// New builds the tree from the flat file table. Entry with index i gets id i+1.
func New(entries []Entry, rootSize uint64) (*Tree, error) {
	t := &Tree{
		nodes: make([]*Node, 0, len(entries)+1),
		index: make(map[string]types.EntryID, len(entries)+1),
	}
	t.nodes = append(t.nodes, &Node{ID: types.RootID, Size: rootSize})
	t.index[""] = types.RootID

	for i, e := range entries {
		id := types.EntryID(i + 1)
		if e.Parent >= id {
			return nil, errors.Wrapf(types.ErrCorruptContainer, "entry %d references parent %d which is not stored before it",
				id, e.Parent)
		}
		if !validName(e.Name) {
			return nil, errors.Wrapf(types.ErrCorruptContainer, "entry %d has invalid name %q", id, e.Name)
		}

		parent := t.nodes[e.Parent]
		p := join(t.pathOf(parent), e.Name)
		if _, exists := t.index[p]; exists {
			return nil, errors.Wrapf(types.ErrCorruptContainer, "entry %d duplicates path %q", id, p)
		}

		t.nodes = append(t.nodes, &Node{
			ID:     id,
			Parent: e.Parent,
			Name:   e.Name,
			Size:   e.Size,
		})
		parent.children = append(parent.children, id)
		t.index[p] = id
	}

	return t, nil
}

// Len returns the number of nodes excluding the root.
func (t *Tree) Len() int {
	return len(t.nodes) - 1
}

// Root returns the root node.
func (t *Tree) Root() *Node {
	return t.nodes[types.RootID]
}

// Node returns node by id.
func (t *Tree) Node(id types.EntryID) (*Node, error) {
	if int(id) >= len(t.nodes) {
		return nil, errors.Wrapf(types.ErrNotFound, "entry %d", id)
	}
	return t.nodes[id], nil
}

// Lookup returns node by path. Root is addressed by "", "." or "/".
func (t *Tree) Lookup(p string) (*Node, error) {
	id, exists := t.index[Clean(p)]
	if !exists {
		return nil, errors.Wrapf(types.ErrNotFound, "path %q", p)
	}
	return t.nodes[id], nil
}

// Child returns the child of the directory by name.
func (t *Tree) Child(dir *Node, name string) (*Node, error) {
	if !dir.IsDir() {
		return nil, errors.Wrapf(types.ErrNotADirectory, "path %q", t.Path(dir))
	}
	for _, id := range dir.children {
		if t.nodes[id].Name == name {
			return t.nodes[id], nil
		}
	}
	return nil, errors.Wrapf(types.ErrNotFound, "path %q", join(t.Path(dir), name))
}

// Path returns the path of the node.
func (t *Tree) Path(n *Node) string {
	return t.pathOf(n)
}

// Children returns descendants of the directory down to depth levels, in pre-order.
// Depth 1 returns direct children only. Depth lower than 1 returns nothing.
func (t *Tree) Children(dir *Node, depth int) ([]*Node, error) {
	if !dir.IsDir() {
		return nil, errors.Wrapf(types.ErrNotADirectory, "path %q", t.Path(dir))
	}
	if depth < 1 {
		return nil, nil
	}

	var result []*Node
	t.collect(dir, depth, &result)
	return result, nil
}

// Walk calls fn for every node except the root, in table order.
func (t *Tree) Walk(fn func(n *Node) error) error {
	for _, n := range t.nodes[1:] {
		if err := fn(n); err != nil {
			return err
		}
	}
	return nil
}

func (t *Tree) collect(dir *Node, depth int, result *[]*Node) {
	for _, id := range dir.children {
		child := t.nodes[id]
		*result = append(*result, child)
		if depth > 1 && child.IsDir() {
			t.collect(child, depth-1, result)
		}
	}
}

func (t *Tree) pathOf(n *Node) string {
	if n.ID == types.RootID {
		return ""
	}

	names := []string{}
	for ; n.ID != types.RootID; n = t.nodes[n.Parent] {
		names = append(names, n.Name)
	}
	for i, j := 0, len(names)-1; i < j; i, j = i+1, j-1 {
		names[i], names[j] = names[j], names[i]
	}
	return strings.Join(names, Separator)
}

// Clean converts path to the form used by the index: no leading, trailing or duplicated separators.
func Clean(p string) string {
	p = strings.Trim(path.Clean(Separator+p), Separator)
	return p
}

func join(dir, name string) string {
	if dir == "" {
		return name
	}
	return dir + Separator + name
}

func validName(name string) bool {
	return name != "" && name != "." && name != ".." && !strings.Contains(name, Separator)
}
