package pagestructure

import (
	"fmt"
	"path"

	"github.com/vormadev/pagestree/internal/projectfs"
	"github.com/vormadev/pagestree/kit/fsutil"
	"github.com/vormadev/pagestree/kit/tasks"
)

// Candidate pages roots, relative to the project root, in order of preference.
var pagesRoots = []string{"pages", "src/pages"}

type findInput struct {
	ProjectRoot string
	RouterRoot  string
}

// OptionalStructure is the result of FindPagesStructure: either a root
// PagesStructure or nothing, when the project has no pages directory.
type OptionalStructure struct {
	b     *Builder
	in    findInput
	root  StructureHandle
	found bool
}

// Root returns the handle of the pages root and whether one exists.
func (o OptionalStructure) Root() (StructureHandle, bool) {
	return o.root, o.found
}

func (o OptionalStructure) IsAbsent() bool {
	return !o.found
}

// Get resolves the root structure. It returns nil without error when the
// project has no pages directory.
func (o OptionalStructure) Get(c *tasks.Ctx) (*PagesStructure, error) {
	if !o.found {
		return nil, nil
	}
	return o.root.Get(c)
}

// RoutesChanged returns a token that changes when any route in the tree
// changes. Without a pages root the token only changes when a pages directory
// appears.
func (o OptionalStructure) RoutesChanged(c *tasks.Ctx) (tasks.Completion, error) {
	if o.b == nil {
		return tasks.Completion{}, ErrZeroValue
	}
	return o.b.optionalChanged.Run(c, o.in)
}

// FindPagesStructure locates the pages root of the project at projectRoot,
// preferring pages/ over src/pages/, and returns its structure with routes
// mounted at routerRoot. Routes under routerRoot/api are classified as API
// routes. A project without either directory yields an absent structure, not
// an error.
func (b *Builder) FindPagesStructure(c *tasks.Ctx, projectRoot, routerRoot string) (OptionalStructure, error) {
	return b.find.Run(c, findInput{
		ProjectRoot: cleanProjectPath(projectRoot),
		RouterRoot:  cleanRouterPath(routerRoot),
	})
}

func (b *Builder) findTask(c *tasks.Ctx, in findInput) (OptionalStructure, error) {
	for _, rel := range pagesRoots {
		p := fsutil.Join(in.ProjectRoot, rel)
		typ, err := b.fs.GetType(c, p)
		if err != nil {
			return OptionalStructure{}, fmt.Errorf("pagestructure: stat %s: %w", p, err)
		}
		if typ != projectfs.Directory {
			continue
		}
		b.log.Debug("found pages root", "path", p)
		return OptionalStructure{
			b:     b,
			in:    in,
			found: true,
			root: StructureHandle{b: b, in: dirInput{
				ProjectPath: p,
				RouterPath:  in.RouterRoot,
				Specificity: Exact(),
				Position:    0,
				APIRoot:     fsutil.Join(in.RouterRoot, "api"),
			}},
		}, nil
	}
	b.log.Debug("no pages root", "project_root", in.ProjectRoot)
	return OptionalStructure{b: b, in: in}, nil
}

func (b *Builder) optionalChangedTask(c *tasks.Ctx, in findInput) (tasks.Completion, error) {
	o, err := b.find.Run(c, in)
	if err != nil {
		return tasks.Completion{}, err
	}
	if o.found {
		if _, err := o.root.RoutesChanged(c); err != nil {
			return tasks.Completion{}, err
		}
	}
	return tasks.NewCompletion(), nil
}

func cleanProjectPath(p string) string {
	if p == "" {
		return "."
	}
	return path.Clean(p)
}

func cleanRouterPath(p string) string {
	return path.Clean("/" + p)
}
