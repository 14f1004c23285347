// Package pagestructure turns a pages directory into a tree of routes.
//
// Every directory node and every route item is produced by a memoized task on
// a tasks.Engine, so re-walking after a file-system change only recomputes the
// directories whose listings were invalidated. Nodes refer to their children
// and items through comparable handles; a node's value therefore changes only
// when the set of routes directly inside it changes.
package pagestructure

import (
	"cmp"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/vormadev/pagestree/internal/projectfs"
	"github.com/vormadev/pagestree/kit/colorlog"
	"github.com/vormadev/pagestree/kit/fsutil"
	"github.com/vormadev/pagestree/kit/tasks"
)

var ErrZeroValue = errors.New("pagestructure: value was not produced by a Builder")

// FileSystem is the tracked file-system view the walk reads from. Paths are
// slash separated and relative to the file-system root.
type FileSystem interface {
	ReadDir(c *tasks.Ctx, dir string) (projectfs.DirectoryContent, error)
	GetType(c *tasks.Ctx, p string) (projectfs.EntryType, error)
}

// ExtensionSource supplies the file extensions (without the leading dot) that
// make a file a route.
type ExtensionSource interface {
	PageExtensions(c *tasks.Ctx) ([]string, error)
}

type Options struct {
	Logger *slog.Logger // Optional. Defaults to a colorlog logger labelled "pages".
}

// Builder owns the memoized tasks that build and observe page structures. A
// Builder may be shared by any number of engines and goroutines.
type Builder struct {
	fs   FileSystem
	exts ExtensionSource
	log  *slog.Logger

	item            *tasks.Task[itemInput, Item]
	itemChanged     *tasks.Task[itemInput, tasks.Completion]
	directory       *tasks.Task[dirInput, *PagesStructure]
	nodeChanged     *tasks.Task[dirInput, tasks.Completion]
	find            *tasks.Task[findInput, OptionalStructure]
	optionalChanged *tasks.Task[findInput, tasks.Completion]
}

func NewBuilder(fs FileSystem, exts ExtensionSource, opts ...Options) *Builder {
	var o Options
	if len(opts) > 0 {
		o = opts[0]
	}
	if o.Logger == nil {
		o.Logger = colorlog.New("pages")
	}
	b := &Builder{fs: fs, exts: exts, log: o.Logger}
	b.item = tasks.NewTask(b.itemTask)
	b.itemChanged = tasks.NewTask(b.itemChangedTask)
	b.directory = tasks.NewTask(b.directoryTask)
	b.nodeChanged = tasks.NewTask(b.nodeChangedTask)
	b.find = tasks.NewTask(b.findTask)
	b.optionalChanged = tasks.NewTask(b.optionalChangedTask)
	return b
}

type dirInput struct {
	ProjectPath string
	RouterPath  string
	Specificity Specificity
	Position    uint32
	APIRoot     string
}

// PagesStructure is one directory of the pages tree. Items and Children are
// sorted by their file and directory names. A PagesStructure is shared by
// every caller that asks for the same directory and must not be modified.
type PagesStructure struct {
	Items    []ItemHandle
	Children []StructureHandle

	b  *Builder
	in dirInput
}

func (s *PagesStructure) ProjectPath() string { return s.in.ProjectPath }
func (s *PagesStructure) RouterPath() string  { return s.in.RouterPath }

// Specificity is the specificity inherited by everything in this directory.
func (s *PagesStructure) Specificity() Specificity { return s.in.Specificity }

// RoutesChanged returns a token that changes when any route anywhere under
// this directory changes. Calling it again without an intervening change
// returns the same token.
func (s *PagesStructure) RoutesChanged(c *tasks.Ctx) (tasks.Completion, error) {
	if s == nil || s.b == nil {
		return tasks.Completion{}, ErrZeroValue
	}
	return s.b.nodeChanged.Run(c, s.in)
}

// StructureHandle is a lazy, comparable reference to a child directory.
type StructureHandle struct {
	b  *Builder
	in dirInput
}

func (h StructureHandle) Get(c *tasks.Ctx) (*PagesStructure, error) {
	if h.b == nil {
		return nil, ErrZeroValue
	}
	return h.b.directory.Run(c, h.in)
}

func (h StructureHandle) ProjectPath() string { return h.in.ProjectPath }
func (h StructureHandle) RouterPath() string  { return h.in.RouterPath }

func (h StructureHandle) RoutesChanged(c *tasks.Ctx) (tasks.Completion, error) {
	if h.b == nil {
		return tasks.Completion{}, ErrZeroValue
	}
	return h.b.nodeChanged.Run(c, h.in)
}

func (h StructureHandle) bind(dest **PagesStructure) tasks.BoundTask {
	return h.b.directory.Bind(h.in, dest)
}

type named[T any] struct {
	name string
	v    T
}

func byName[T any](a, b named[T]) int {
	return cmp.Compare(a.name, b.name)
}

func segmentSpecificity(name string, parent Specificity, position uint32) Specificity {
	switch {
	case strings.HasPrefix(name, "[[") || strings.HasPrefix(name, "[..."):
		return parent.WithCatchAll(position)
	case strings.HasPrefix(name, "["):
		return parent.WithDynamicSegment(position)
	default:
		return parent
	}
}

func (b *Builder) directoryTask(c *tasks.Ctx, in dirInput) (*PagesStructure, error) {
	exts, err := b.exts.PageExtensions(c)
	if err != nil {
		return nil, fmt.Errorf("pagestructure: page extensions: %w", err)
	}
	content, err := b.fs.ReadDir(c, in.ProjectPath)
	if err != nil {
		return nil, fmt.Errorf("pagestructure: read %s: %w", in.ProjectPath, err)
	}

	var items []named[ItemHandle]
	var children []named[StructureHandle]

	for _, e := range content.Entries {
		spec := segmentSpecificity(e.Name, in.Specificity, in.Position)

		switch e.Type {
		case projectfs.File:
			base, ext, ok := fsutil.CutExt(e.Name)
			if !ok || !slices.Contains(exts, ext) {
				continue
			}
			routerPath := in.RouterPath
			if base != "index" {
				routerPath = fsutil.Join(in.RouterPath, base)
			}
			// Equality is intended: api/index serves the API root itself.
			isAPI := fsutil.IsInsideOrEqual(routerPath, in.APIRoot)
			items = append(items, named[ItemHandle]{e.Name, ItemHandle{b: b, in: itemInput{
				ProjectPath: e.Path,
				RouterPath:  routerPath,
				Specificity: spec,
				IsAPI:       isAPI,
			}}})

		case projectfs.Directory:
			children = append(children, named[StructureHandle]{e.Name, StructureHandle{b: b, in: dirInput{
				ProjectPath: e.Path,
				RouterPath:  fsutil.Join(in.RouterPath, e.Name),
				Specificity: spec,
				Position:    in.Position + 1,
				APIRoot:     in.APIRoot,
			}}})
		}
	}

	// Listings come back in no particular order.
	slices.SortFunc(items, byName)
	slices.SortFunc(children, byName)

	node := &PagesStructure{
		Items:    make([]ItemHandle, 0, len(items)),
		Children: make([]StructureHandle, 0, len(children)),
		b:        b,
		in:       in,
	}
	for _, it := range items {
		node.Items = append(node.Items, it.v)
	}
	for _, ch := range children {
		node.Children = append(node.Children, ch.v)
	}

	b.log.Debug("walked directory",
		"path", in.ProjectPath,
		"router_path", in.RouterPath,
		"items", len(node.Items),
		"children", len(node.Children),
	)
	return node, nil
}

func (b *Builder) nodeChangedTask(c *tasks.Ctx, in dirInput) (tasks.Completion, error) {
	node, err := b.directory.Run(c, in)
	if err != nil {
		return tasks.Completion{}, err
	}

	tokens := make([]tasks.Completion, len(node.Items)+len(node.Children))
	bound := make([]tasks.BoundTask, 0, len(tokens))
	for i, it := range node.Items {
		bound = append(bound, b.itemChanged.Bind(it.in, &tokens[i]))
	}
	for i, ch := range node.Children {
		bound = append(bound, b.nodeChanged.Bind(ch.in, &tokens[len(node.Items)+i]))
	}
	if err := c.RunParallel(bound...); err != nil {
		return tasks.Completion{}, err
	}
	return tasks.NewCompletion(), nil
}
