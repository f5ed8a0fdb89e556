// Package tree holds the in-memory tree snapshot model and a consumer that
// realizes edits into it. Repositories, drivers and tests all move trees
// through this representation.
package tree

import (
	"sort"
	"strings"

	"drift/internal/editor"
	"drift/internal/errors"
)

type NodeKind byte

const (
	KindDir NodeKind = iota
	KindFile
)

func (k NodeKind) String() string {
	if k == KindDir {
		return "dir"
	}
	return "file"
}

// Node is one directory or file. Absent marks a node known to exist but
// omitted from the snapshot (access restricted); it is not a deletion and
// must never be reported as one.
type Node struct {
	Kind     NodeKind
	Props    map[string][]byte
	Content  []byte           // files only
	Children map[string]*Node // directories only
	Absent   bool

	// Rev is the revision that last changed this node, when the tree came
	// out of a repository. Zero-value None for scratch trees.
	Rev editor.Revision
}

func NewDir() *Node {
	return &Node{Kind: KindDir, Children: map[string]*Node{}, Rev: editor.None}
}

func NewFile(content []byte) *Node {
	return &Node{Kind: KindFile, Content: content, Rev: editor.None}
}

// Tree is a rooted snapshot. The zero value is not usable; call New.
type Tree struct {
	Root *Node
}

func New() *Tree {
	return &Tree{Root: NewDir()}
}

// Lookup resolves a /-separated path relative to the root. The empty path
// resolves to the root itself.
func (t *Tree) Lookup(path string) (*Node, error) {
	node := t.Root
	if path == "" {
		return node, nil
	}
	for _, seg := range strings.Split(path, "/") {
		if node.Kind != KindDir {
			return nil, errors.NotFound("path %q crosses a file", path)
		}
		next, ok := node.Children[seg]
		if !ok {
			return nil, errors.NotFound("path %q does not exist", path)
		}
		node = next
	}
	return node, nil
}

// SortedChildren returns a directory's child names in lexicographic order.
func SortedChildren(n *Node) []string {
	names := make([]string, 0, len(n.Children))
	for name := range n.Children {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Clone deep-copies a tree so edits to one side never leak into the other.
func (t *Tree) Clone() *Tree {
	return &Tree{Root: cloneNode(t.Root)}
}

func cloneNode(n *Node) *Node {
	if n == nil {
		return nil
	}
	out := &Node{Kind: n.Kind, Absent: n.Absent, Rev: n.Rev}
	if n.Props != nil {
		out.Props = make(map[string][]byte, len(n.Props))
		for k, v := range n.Props {
			out.Props[k] = append([]byte(nil), v...)
		}
	}
	if n.Content != nil {
		out.Content = append([]byte(nil), n.Content...)
	}
	if n.Children != nil {
		out.Children = make(map[string]*Node, len(n.Children))
		for name, child := range n.Children {
			out.Children[name] = cloneNode(child)
		}
	}
	return out
}

// Walk visits every node depth-first in sorted order, handing each visit the
// /-separated path from the root ("" for the root itself).
func (t *Tree) Walk(visit func(path string, n *Node) error) error {
	return walkNode("", t.Root, visit)
}

func walkNode(path string, n *Node, visit func(string, *Node) error) error {
	if err := visit(path, n); err != nil {
		return err
	}
	if n.Kind != KindDir {
		return nil
	}
	for _, name := range SortedChildren(n) {
		childPath := name
		if path != "" {
			childPath = path + "/" + name
		}
		if err := walkNode(childPath, n.Children[name], visit); err != nil {
			return err
		}
	}
	return nil
}

// Equal compares two trees structurally, including props and content but
// ignoring revision stamps.
func Equal(a, b *Tree) bool {
	return NodesEqual(a.Root, b.Root)
}

// NodesEqual compares two subtrees the way Equal compares whole trees.
func NodesEqual(a, b *Node) bool {
	if a.Kind != b.Kind || a.Absent != b.Absent {
		return false
	}
	if a.Kind == KindFile {
		if string(a.Content) != string(b.Content) {
			return false
		}
	} else {
		if len(a.Children) != len(b.Children) {
			return false
		}
		for name, an := range a.Children {
			bn, ok := b.Children[name]
			if !ok || !NodesEqual(an, bn) {
				return false
			}
		}
	}
	if len(a.Props) != len(b.Props) {
		return false
	}
	for k, v := range a.Props {
		bv, ok := b.Props[k]
		if !ok || string(v) != string(bv) {
			return false
		}
	}
	return true
}
