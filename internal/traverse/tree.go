package traverse

import (
	"path/filepath"
	"sort"
)

// NodeID indexes a node in a Tree.
type NodeID int

// NoParent marks the root node.
const NoParent NodeID = -1

// Node is one in-scope directory.
type Node struct {
	ID       NodeID
	Path     string // absolute
	Rel      string // relative to the tree root, "." for the root
	Name     string
	Depth    int
	Parent   NodeID
	Children []NodeID // sorted by path
}

// IsLeaf reports whether the node has no in-scope subdirectories.
func (n *Node) IsLeaf() bool {
	return len(n.Children) == 0
}

// Tree is an arena of directory nodes with a path index. Parents always
// have smaller IDs than their children.
type Tree struct {
	nodes  []Node
	byPath map[string]NodeID
}

// Root returns the root node.
func (tr *Tree) Root() *Node {
	return &tr.nodes[0]
}

// Node returns the node for id.
func (tr *Tree) Node(id NodeID) *Node {
	return &tr.nodes[id]
}

// Len returns the number of directories in the tree.
func (tr *Tree) Len() int {
	return len(tr.nodes)
}

// Lookup finds a node by absolute path.
func (tr *Tree) Lookup(path string) (NodeID, bool) {
	id, ok := tr.byPath[filepath.Clean(path)]
	return id, ok
}

// Leaves returns the IDs of all leaf directories, sorted by path.
func (tr *Tree) Leaves() []NodeID {
	var leaves []NodeID
	for i := range tr.nodes {
		if tr.nodes[i].IsLeaf() {
			leaves = append(leaves, tr.nodes[i].ID)
		}
	}
	tr.sortByPath(leaves)
	return leaves
}

// Levels groups directories for bottom-up processing. Level 0 holds the
// leaves; every later level holds the directories whose children all sit in
// earlier levels. The root is always alone in the last level.
func (tr *Tree) Levels() [][]NodeID {
	height := make([]int, len(tr.nodes))
	maxHeight := 0
	// Children have larger IDs than parents, so a reverse sweep sees every
	// child before its parent.
	for i := len(tr.nodes) - 1; i >= 0; i-- {
		h := 0
		for _, c := range tr.nodes[i].Children {
			if height[c]+1 > h {
				h = height[c] + 1
			}
		}
		height[i] = h
		if h > maxHeight {
			maxHeight = h
		}
	}

	levels := make([][]NodeID, maxHeight+1)
	for i := range tr.nodes {
		h := height[i]
		levels[h] = append(levels[h], NodeID(i))
	}
	for _, level := range levels {
		tr.sortByPath(level)
	}
	return levels
}

func (tr *Tree) sortByPath(ids []NodeID) {
	sort.Slice(ids, func(i, j int) bool {
		return tr.nodes[ids[i]].Path < tr.nodes[ids[j]].Path
	})
}

// BuildTree lists every in-scope directory under root, down to the
// configured maximum depth. The root itself is always included, even if its
// name would match an ignore rule.
func (t *Traverser) BuildTree(root string) *Tree {
	root = filepath.Clean(root)
	tr := &Tree{byPath: make(map[string]NodeID)}
	tr.add(root, ".", 0, NoParent)

	// Breadth-first keeps parents ahead of children in the arena.
	for i := 0; i < len(tr.nodes); i++ {
		n := tr.nodes[i]
		if n.Depth >= t.settings.MaxDepth {
			continue
		}
		listing := t.ListDirectory(n.Path)
		for _, sub := range listing.Subdirs {
			rel := filepath.Join(n.Rel, sub.Name)
			id := tr.add(sub.Path, rel, n.Depth+1, n.ID)
			tr.nodes[i].Children = append(tr.nodes[i].Children, id)
		}
	}
	return tr
}

func (tr *Tree) add(path, rel string, depth int, parent NodeID) NodeID {
	id := NodeID(len(tr.nodes))
	tr.nodes = append(tr.nodes, Node{
		ID:     id,
		Path:   path,
		Rel:    rel,
		Name:   filepath.Base(path),
		Depth:  depth,
		Parent: parent,
	})
	tr.byPath[path] = id
	return id
}
