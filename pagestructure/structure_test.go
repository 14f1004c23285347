package pagestructure

import (
	"context"
	"errors"
	"io/fs"
	"math/rand/v2"
	"reflect"
	"slices"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/vormadev/pagestree/internal/projectfs"
	"github.com/vormadev/pagestree/kit/colorlog"
	"github.com/vormadev/pagestree/kit/tasks"
)

type staticExts []string

func (s staticExts) PageExtensions(*tasks.Ctx) ([]string, error) {
	return s, nil
}

// shuffledFS returns directory listings in a seed-dependent order.
type shuffledFS struct {
	*projectfs.FS
	seed uint64
}

func (s shuffledFS) ReadDir(c *tasks.Ctx, dir string) (projectfs.DirectoryContent, error) {
	dc, err := s.FS.ReadDir(c, dir)
	if err != nil {
		return dc, err
	}
	entries := slices.Clone(dc.Entries)
	r := rand.New(rand.NewPCG(s.seed, uint64(len(dir))))
	r.Shuffle(len(entries), func(i, j int) { entries[i], entries[j] = entries[j], entries[i] })
	return projectfs.DirectoryContent{NotFound: dc.NotFound, Entries: entries}, nil
}

// failingFS fails reads of one directory.
type failingFS struct {
	*projectfs.FS
	dir string
	err error
}

func (f failingFS) ReadDir(c *tasks.Ctx, dir string) (projectfs.DirectoryContent, error) {
	if dir == f.dir {
		return projectfs.DirectoryContent{}, f.err
	}
	return f.FS.ReadDir(c, dir)
}

type harness struct {
	m  fstest.MapFS
	fs *projectfs.FS
	b  *Builder
	c  *tasks.Ctx
}

func newHarness(m fstest.MapFS, exts ...string) *harness {
	e := tasks.NewEngine(tasks.EngineOptions{Logger: colorlog.Discard()})
	pfs := projectfs.New(e, m, projectfs.Options{Logger: colorlog.Discard()})
	return &harness{
		m:  m,
		fs: pfs,
		b:  NewBuilder(pfs, staticExts(exts), Options{Logger: colorlog.Discard()}),
		c:  e.NewCtx(context.Background()),
	}
}

func (h *harness) root(t *testing.T) *PagesStructure {
	t.Helper()
	o, err := h.b.FindPagesStructure(h.c, ".", "/")
	if err != nil {
		t.Fatal(err)
	}
	root, err := o.Get(h.c)
	if err != nil {
		t.Fatal(err)
	}
	if root == nil {
		t.Fatal("expected a pages root")
	}
	return root
}

func (h *harness) items(t *testing.T, s *PagesStructure) []Item {
	t.Helper()
	var out []Item
	for _, ih := range s.Items {
		it, err := ih.Get(h.c)
		if err != nil {
			t.Fatal(err)
		}
		out = append(out, it)
	}
	return out
}

func (h *harness) children(t *testing.T, s *PagesStructure) []*PagesStructure {
	t.Helper()
	var out []*PagesStructure
	for _, ch := range s.Children {
		node, err := ch.Get(h.c)
		if err != nil {
			t.Fatal(err)
		}
		out = append(out, node)
	}
	return out
}

func file() *fstest.MapFile { return &fstest.MapFile{Data: []byte("x")} }

func TestExampleProject(t *testing.T) {
	h := newHarness(fstest.MapFS{
		"pages/index.tsx":       file(),
		"pages/blog/[slug].tsx": file(),
		"pages/api/users.ts":    file(),
		"pages/README":          file(),
		"pages/styles.css":      file(),
	}, "tsx", "ts")

	root := h.root(t)
	if root.ProjectPath() != "pages" || root.RouterPath() != "/" {
		t.Errorf("root = %s -> %s", root.ProjectPath(), root.RouterPath())
	}

	items := h.items(t, root)
	wantRoot := []Item{{Kind: Page, ProjectPath: "pages/index.tsx", RouterPath: "/", Specificity: Exact()}}
	if !slices.Equal(items, wantRoot) {
		t.Errorf("root items = %+v, want %+v", items, wantRoot)
	}

	children := h.children(t, root)
	if len(children) != 2 {
		t.Fatalf("root has %d children, want 2", len(children))
	}
	api, blog := children[0], children[1]
	if api.ProjectPath() != "pages/api" || blog.ProjectPath() != "pages/blog" {
		t.Fatalf("children = %s, %s", api.ProjectPath(), blog.ProjectPath())
	}

	wantBlog := []Item{{
		Kind:        Page,
		ProjectPath: "pages/blog/[slug].tsx",
		RouterPath:  "/blog/[slug]",
		Specificity: Exact().WithDynamicSegment(1),
	}}
	if got := h.items(t, blog); !slices.Equal(got, wantBlog) {
		t.Errorf("blog items = %+v, want %+v", got, wantBlog)
	}

	wantAPI := []Item{{Kind: API, ProjectPath: "pages/api/users.ts", RouterPath: "/api/users", Specificity: Exact()}}
	if got := h.items(t, api); !slices.Equal(got, wantAPI) {
		t.Errorf("api items = %+v, want %+v", got, wantAPI)
	}
	if api.Items[0].Kind() != API || root.Items[0].Kind() != Page {
		t.Error("handle kinds disagree with items")
	}
}

func TestRouterPaths(t *testing.T) {
	h := newHarness(fstest.MapFS{
		"pages/about.tsx":                 file(),
		"pages/page.test.ts":              file(),
		"pages/.tsx":                      file(),
		"pages/docs/index.tsx":            file(),
		"pages/docs/[id]/edit.tsx":        file(),
		"pages/[...slug].tsx":             file(),
		"pages/shop/[[...opt]]/index.tsx": file(),
		"pages/api/index.ts":              file(),
		"pages/api/v1/[id].ts":            file(),
		"pages/apiary.tsx":                file(),
		"pages/link.tsx":                  {Mode: fs.ModeSymlink, Data: []byte("about.tsx")},
		"pages/notes.md":                  file(),
	}, "tsx", "ts")

	o, err := h.b.FindPagesStructure(h.c, ".", "/")
	if err != nil {
		t.Fatal(err)
	}
	snap, err := Resolve(h.c, o)
	if err != nil {
		t.Fatal(err)
	}

	got := map[string]Item{}
	for _, it := range snap.Routes() {
		got[it.ProjectPath] = it
	}

	tests := []struct {
		project string
		router  string
		kind    ItemKind
		spec    Specificity
	}{
		{"pages/about.tsx", "/about", Page, Exact()},
		{"pages/page.test.ts", "/page.test", Page, Exact()},
		{"pages/.tsx", "/", Page, Exact()},
		{"pages/docs/index.tsx", "/docs", Page, Exact()},
		{"pages/docs/[id]/edit.tsx", "/docs/[id]/edit", Page, Exact().WithDynamicSegment(1)},
		{"pages/[...slug].tsx", "/[...slug]", Page, Exact().WithCatchAll(0)},
		{"pages/shop/[[...opt]]/index.tsx", "/shop/[[...opt]]", Page, Exact().WithCatchAll(1)},
		{"pages/api/index.ts", "/api", API, Exact()},
		{"pages/api/v1/[id].ts", "/api/v1/[id]", API, Exact().WithDynamicSegment(2)},
		{"pages/apiary.tsx", "/apiary", Page, Exact()},
	}
	for _, tt := range tests {
		it, ok := got[tt.project]
		if !ok {
			t.Errorf("missing route for %s", tt.project)
			continue
		}
		want := Item{Kind: tt.kind, ProjectPath: tt.project, RouterPath: tt.router, Specificity: tt.spec}
		if it != want {
			t.Errorf("%s = %+v, want %+v", tt.project, it, want)
		}
	}
	if len(got) != len(tests) {
		t.Errorf("got %d routes, want %d (symlinks and foreign extensions excluded)", len(got), len(tests))
	}
}

func TestRouterRoot(t *testing.T) {
	h := newHarness(fstest.MapFS{
		"pages/index.tsx":     file(),
		"pages/api/hello.ts":  file(),
		"pages/about/api.tsx": file(),
	}, "tsx", "ts")

	o, err := h.b.FindPagesStructure(h.c, "", "app")
	if err != nil {
		t.Fatal(err)
	}
	snap, err := Resolve(h.c, o)
	if err != nil {
		t.Fatal(err)
	}
	routes := map[string]ItemKind{}
	for _, it := range snap.Routes() {
		routes[it.RouterPath] = it.Kind
	}
	want := map[string]ItemKind{"/app": Page, "/app/api/hello": API, "/app/about/api": Page}
	if !reflect.DeepEqual(routes, want) {
		t.Errorf("routes = %v, want %v", routes, want)
	}
}

func TestDeterministicOrder(t *testing.T) {
	m := fstest.MapFS{}
	for _, name := range []string{"z", "a", "m", "[id]", "[...all]", "_app", "Zeta", "b-c", "b.c"} {
		m["pages/"+name+".tsx"] = file()
		m["pages/"+name+"/index.tsx"] = file()
		m["pages/"+name+"/inner/x.tsx"] = file()
	}

	resolve := func(seed uint64) *Snapshot {
		e := tasks.NewEngine(tasks.EngineOptions{Logger: colorlog.Discard()})
		pfs := projectfs.New(e, m, projectfs.Options{Logger: colorlog.Discard()})
		b := NewBuilder(shuffledFS{FS: pfs, seed: seed}, staticExts{"tsx"}, Options{Logger: colorlog.Discard()})
		c := e.NewCtx(context.Background())
		o, err := b.FindPagesStructure(c, ".", "/")
		if err != nil {
			t.Fatal(err)
		}
		snap, err := Resolve(c, o)
		if err != nil {
			t.Fatal(err)
		}
		return snap
	}

	first := resolve(1)
	for seed := uint64(2); seed < 8; seed++ {
		if got := resolve(seed); !reflect.DeepEqual(got, first) {
			t.Fatalf("seed %d produced a different tree", seed)
		}
	}

	var check func(n *Node)
	check = func(n *Node) {
		for i := 1; i < len(n.Items); i++ {
			if n.Items[i-1].ProjectPath >= n.Items[i].ProjectPath {
				t.Errorf("items of %s not strictly ascending: %s, %s", n.ProjectPath, n.Items[i-1].ProjectPath, n.Items[i].ProjectPath)
			}
		}
		for i := 1; i < len(n.Children); i++ {
			if n.Children[i-1].ProjectPath >= n.Children[i].ProjectPath {
				t.Errorf("children of %s not strictly ascending", n.ProjectPath)
			}
		}
		for _, ch := range n.Children {
			check(ch)
		}
	}
	check(first.Root)

	if dirs, routes := first.Count(); dirs != 19 || routes != 27 {
		t.Errorf("Count() = %d dirs, %d routes; want 19, 27", dirs, routes)
	}
}

func TestFindPagesStructure(t *testing.T) {
	tests := []struct {
		name     string
		fs       fstest.MapFS
		wantRoot string
	}{
		{"pages preferred", fstest.MapFS{"pages/a.tsx": file(), "src/pages/b.tsx": file()}, "pages"},
		{"src fallback", fstest.MapFS{"src/pages/b.tsx": file()}, "src/pages"},
		{"pages file is not a root", fstest.MapFS{"pages": file(), "src/pages/b.tsx": file()}, "src/pages"},
		{"absent", fstest.MapFS{"src/app/page.tsx": file()}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(tt.fs, "tsx")
			o, err := h.b.FindPagesStructure(h.c, ".", "/")
			if err != nil {
				t.Fatalf("FindPagesStructure() error = %v", err)
			}
			root, ok := o.Root()
			if tt.wantRoot == "" {
				if ok || !o.IsAbsent() {
					t.Errorf("expected no pages root, got %s", root.ProjectPath())
				}
				if s, err := o.Get(h.c); s != nil || err != nil {
					t.Errorf("Get() = %v, %v; want nil, nil", s, err)
				}
				snap, err := Resolve(h.c, o)
				if err != nil || snap.Root != nil || snap.Routes() != nil {
					t.Errorf("Resolve() = %+v, %v", snap, err)
				}
				return
			}
			if !ok || root.ProjectPath() != tt.wantRoot {
				t.Errorf("root = %q (found %v), want %q", root.ProjectPath(), ok, tt.wantRoot)
			}
		})
	}

	t.Run("nested project root", func(t *testing.T) {
		h := newHarness(fstest.MapFS{"apps/web/pages/index.tsx": file()}, "tsx")
		o, err := h.b.FindPagesStructure(h.c, "apps/web", "/")
		if err != nil {
			t.Fatal(err)
		}
		root, ok := o.Root()
		if !ok || root.ProjectPath() != "apps/web/pages" {
			t.Errorf("root = %q, %v", root.ProjectPath(), ok)
		}
	})
}

func TestRoutesChanged(t *testing.T) {
	h := newHarness(fstest.MapFS{
		"pages/index.tsx":       file(),
		"pages/blog/[slug].tsx": file(),
		"pages/blog/deep/a.tsx": file(),
	}, "tsx")
	o, err := h.b.FindPagesStructure(h.c, ".", "/")
	if err != nil {
		t.Fatal(err)
	}

	changed := func() tasks.Completion {
		t.Helper()
		tok, err := o.RoutesChanged(h.c)
		if err != nil {
			t.Fatal(err)
		}
		if tok.IsZero() {
			t.Fatal("token should not be zero")
		}
		return tok
	}

	first := changed()
	if again := changed(); !again.Same(first) {
		t.Error("no change should yield the same token")
	}

	t.Run("content edit is not a route change", func(t *testing.T) {
		h.m["pages/blog/deep/a.tsx"] = &fstest.MapFile{Data: []byte("edited")}
		h.fs.Invalidate("pages/blog/deep/a.tsx")
		if tok := changed(); !tok.Same(first) {
			t.Error("editing a page's content should not change routes")
		}
	})

	t.Run("new file deep in the tree", func(t *testing.T) {
		h.m["pages/blog/deep/b.tsx"] = file()
		h.fs.Invalidate("pages/blog/deep/b.tsx")
		tok := changed()
		if tok.Same(first) {
			t.Fatal("adding a route should change the root token")
		}
		if again := changed(); !again.Same(tok) {
			t.Error("token should be stable after the change was observed")
		}
		first = tok
	})

	t.Run("ignored file", func(t *testing.T) {
		h.m["pages/blog/notes.md"] = file()
		h.fs.Invalidate("pages/blog/notes.md")
		if tok := changed(); !tok.Same(first) {
			t.Error("a file with a foreign extension should not change routes")
		}
	})

	t.Run("removed directory", func(t *testing.T) {
		for k := range h.m {
			if strings.HasPrefix(k, "pages/blog/deep/") {
				delete(h.m, k)
			}
		}
		h.fs.Invalidate("pages/blog/deep")
		if tok := changed(); tok.Same(first) {
			t.Error("removing a directory should change the root token")
		}
	})

	t.Run("node and handle agree", func(t *testing.T) {
		root, _ := o.Get(h.c)
		rootHandle, _ := o.Root()
		a, err := root.RoutesChanged(h.c)
		if err != nil {
			t.Fatal(err)
		}
		b, err := rootHandle.RoutesChanged(h.c)
		if err != nil {
			t.Fatal(err)
		}
		if !a.Same(b) {
			t.Error("node and handle should share one token")
		}
		ia, _ := root.Items[0].RoutesChanged(h.c)
		ib, _ := root.Items[0].RoutesChanged(h.c)
		if !ia.Same(ib) {
			t.Error("item token should be stable")
		}
	})
}

func TestRoutesChangedWithoutPagesRoot(t *testing.T) {
	h := newHarness(fstest.MapFS{"README.md": file()}, "tsx")
	o, err := h.b.FindPagesStructure(h.c, ".", "/")
	if err != nil {
		t.Fatal(err)
	}
	first, err := o.RoutesChanged(h.c)
	if err != nil {
		t.Fatal(err)
	}
	h.fs.Invalidate("README.md")
	if again, _ := o.RoutesChanged(h.c); !again.Same(first) {
		t.Error("absent structure token should be stable")
	}

	h.m["pages/index.tsx"] = file()
	h.fs.Invalidate("pages")
	tok, err := o.RoutesChanged(h.c)
	if err != nil {
		t.Fatal(err)
	}
	if tok.Same(first) {
		t.Error("creating a pages directory should change the token")
	}

	o2, err := h.b.FindPagesStructure(h.c, ".", "/")
	if err != nil {
		t.Fatal(err)
	}
	if o2.IsAbsent() {
		t.Error("pages root should be found after it was created")
	}
}

func TestErrorsPropagate(t *testing.T) {
	errBoom := errors.New("boom")
	m := fstest.MapFS{
		"pages/index.tsx":  file(),
		"pages/blog/a.tsx": file(),
		"pages/docs/b.tsx": file(),
	}
	e := tasks.NewEngine(tasks.EngineOptions{Logger: colorlog.Discard()})
	pfs := projectfs.New(e, m, projectfs.Options{Logger: colorlog.Discard()})
	b := NewBuilder(failingFS{FS: pfs, dir: "pages/blog", err: errBoom}, staticExts{"tsx"}, Options{Logger: colorlog.Discard()})
	c := e.NewCtx(context.Background())

	o, err := b.FindPagesStructure(c, ".", "/")
	if err != nil {
		t.Fatalf("discovery should not read pages/blog: %v", err)
	}
	if _, err := Resolve(c, o); !errors.Is(err, errBoom) {
		t.Errorf("Resolve() err = %v, want boom", err)
	}
	if _, err := o.RoutesChanged(c); !errors.Is(err, errBoom) {
		t.Errorf("RoutesChanged() err = %v, want boom", err)
	}

	t.Run("extension source", func(t *testing.T) {
		errCfg := errors.New("bad config")
		b := NewBuilder(pfs, failingExts{errCfg}, Options{Logger: colorlog.Discard()})
		o, err := b.FindPagesStructure(c, ".", "/")
		if err != nil {
			t.Fatal(err)
		}
		if _, err := o.Get(c); !errors.Is(err, errCfg) {
			t.Errorf("err = %v, want bad config", err)
		}
	})
}

type failingExts struct{ err error }

func (f failingExts) PageExtensions(*tasks.Ctx) ([]string, error) { return nil, f.err }

func TestZeroValues(t *testing.T) {
	c := tasks.NewEngine(tasks.EngineOptions{Logger: colorlog.Discard()}).NewCtx(context.Background())
	if _, err := (OptionalStructure{}).RoutesChanged(c); !errors.Is(err, ErrZeroValue) {
		t.Errorf("OptionalStructure err = %v", err)
	}
	if _, err := (StructureHandle{}).Get(c); !errors.Is(err, ErrZeroValue) {
		t.Errorf("StructureHandle err = %v", err)
	}
	if _, err := (ItemHandle{}).RoutesChanged(c); !errors.Is(err, ErrZeroValue) {
		t.Errorf("ItemHandle err = %v", err)
	}
	var s *PagesStructure
	if _, err := s.RoutesChanged(c); !errors.Is(err, ErrZeroValue) {
		t.Errorf("PagesStructure err = %v", err)
	}
}
