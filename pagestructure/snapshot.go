package pagestructure

import (
	"cmp"
	"slices"

	"github.com/vormadev/pagestree/kit/tasks"
)

// Node is a fully resolved directory of a Snapshot.
type Node struct {
	ProjectPath string  `json:"projectPath"`
	RouterPath  string  `json:"routerPath"`
	Items       []Item  `json:"items"`
	Children    []*Node `json:"children"`
}

// Snapshot is a plain, serializable copy of a pages tree at one point in time.
// Root is nil when the project has no pages directory.
type Snapshot struct {
	Root *Node `json:"root"`
}

// Resolve reads the whole tree behind o into a Snapshot. Sibling directories
// are resolved in parallel.
func Resolve(c *tasks.Ctx, o OptionalStructure) (*Snapshot, error) {
	root, ok := o.Root()
	if !ok {
		return &Snapshot{}, nil
	}
	node, err := resolveNode(c, root)
	if err != nil {
		return nil, err
	}
	return &Snapshot{Root: node}, nil
}

func resolveNode(c *tasks.Ctx, h StructureHandle) (*Node, error) {
	s, err := h.Get(c)
	if err != nil {
		return nil, err
	}
	n := &Node{
		ProjectPath: s.ProjectPath(),
		RouterPath:  s.RouterPath(),
		Items:       make([]Item, 0, len(s.Items)),
		Children:    make([]*Node, 0, len(s.Children)),
	}
	for _, ih := range s.Items {
		it, err := ih.Get(c)
		if err != nil {
			return nil, err
		}
		n.Items = append(n.Items, it)
	}

	structs := make([]*PagesStructure, len(s.Children))
	bound := make([]tasks.BoundTask, len(s.Children))
	for i, ch := range s.Children {
		bound[i] = ch.bind(&structs[i])
	}
	if err := c.RunParallel(bound...); err != nil {
		return nil, err
	}
	for _, ch := range s.Children {
		child, err := resolveNode(c, ch)
		if err != nil {
			return nil, err
		}
		n.Children = append(n.Children, child)
	}
	return n, nil
}

// Routes returns every item in the snapshot, most specific first. Routes of
// equal specificity are ordered by router path, then project path.
func (s *Snapshot) Routes() []Item {
	if s == nil || s.Root == nil {
		return nil
	}
	var out []Item
	var walk func(*Node)
	walk = func(n *Node) {
		out = append(out, n.Items...)
		for _, ch := range n.Children {
			walk(ch)
		}
	}
	walk(s.Root)

	slices.SortStableFunc(out, func(a, b Item) int {
		if c := Compare(b.Specificity, a.Specificity); c != 0 {
			return c
		}
		if c := cmp.Compare(a.RouterPath, b.RouterPath); c != 0 {
			return c
		}
		return cmp.Compare(a.ProjectPath, b.ProjectPath)
	})
	return out
}

// Count returns the number of directories and routes in the snapshot.
func (s *Snapshot) Count() (dirs, routes int) {
	if s == nil || s.Root == nil {
		return 0, 0
	}
	var walk func(*Node)
	walk = func(n *Node) {
		dirs++
		routes += len(n.Items)
		for _, ch := range n.Children {
			walk(ch)
		}
	}
	walk(s.Root)
	return dirs, routes
}
