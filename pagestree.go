// Package pagestree discovers the routes of a file-system routed web project
// and keeps them up to date as files change.
//
//	p, err := pagestree.New(pagestree.Options{ProjectDir: "."})
//	snap, err := p.Snapshot(ctx)
//	for _, r := range snap.Routes() { ... }
package pagestree

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/vormadev/pagestree/internal/config"
	"github.com/vormadev/pagestree/internal/projectfs"
	"github.com/vormadev/pagestree/kit/colorlog"
	"github.com/vormadev/pagestree/kit/genericsutil"
	"github.com/vormadev/pagestree/kit/tasks"
	"github.com/vormadev/pagestree/pagestructure"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/vormadev/pagestree"

type Options struct {
	ProjectDir string       // Optional. Defaults to the working directory.
	RouterRoot string       // Optional. Defaults to "/".
	ConfigFile string       // Optional. Relative to ProjectDir, defaults to pages.config.json.
	Logger     *slog.Logger // Optional. Defaults to a colorlog logger labelled "pagestree".

	// Watch settings
	Ignore   []string      // Extra doublestar patterns relative to ProjectDir.
	Debounce time.Duration // Optional. Defaults to 100ms.

	MaxConcurrentReads int64 // Optional. Defaults to 16.

	// LookupEnv overrides the process environment lookup used by the config
	// layer. Optional.
	LookupEnv func(key string) (string, bool)
}

// Project ties the file system, configuration and route walker of one
// project directory to a single incremental engine.
type Project struct {
	opts    Options
	log     *slog.Logger
	tracer  trace.Tracer
	engine  *tasks.Engine
	fs      *projectfs.FS
	config  *config.Source
	builder *pagestructure.Builder
}

func New(opts Options) (*Project, error) {
	if opts.Logger == nil {
		opts.Logger = colorlog.New("pagestree")
	}
	opts.ProjectDir = genericsutil.OrDefault(opts.ProjectDir, ".")
	opts.RouterRoot = genericsutil.OrDefault(opts.RouterRoot, "/")

	engine := tasks.NewEngine(tasks.EngineOptions{Logger: opts.Logger.With("component", "tasks")})
	fs, err := projectfs.NewOS(engine, opts.ProjectDir, projectfs.Options{
		Logger:             opts.Logger.With("component", "projectfs"),
		MaxConcurrentReads: opts.MaxConcurrentReads,
	})
	if err != nil {
		return nil, err
	}
	src := config.NewSource(fs, config.Options{File: opts.ConfigFile, LookupEnv: opts.LookupEnv})

	return &Project{
		opts:    opts,
		log:     opts.Logger,
		tracer:  otel.Tracer(tracerName),
		engine:  engine,
		fs:      fs,
		config:  src,
		builder: pagestructure.NewBuilder(fs, src, pagestructure.Options{Logger: opts.Logger.With("component", "pages")}),
	}, nil
}

// Dir returns the absolute project directory.
func (p *Project) Dir() string {
	return p.fs.Root()
}

func (p *Project) Engine() *tasks.Engine {
	return p.engine
}

func (p *Project) Ctx(ctx context.Context) *tasks.Ctx {
	return p.engine.NewCtx(ctx)
}

// Structure returns the pages tree of the project, or an absent structure
// when it has neither pages/ nor src/pages/.
func (p *Project) Structure(ctx context.Context) (pagestructure.OptionalStructure, error) {
	return p.builder.FindPagesStructure(p.Ctx(ctx), ".", p.opts.RouterRoot)
}

// RoutesChanged returns a token that stays the same until a route is added,
// removed or renamed.
func (p *Project) RoutesChanged(ctx context.Context) (tasks.Completion, error) {
	c := p.Ctx(ctx)
	o, err := p.builder.FindPagesStructure(c, ".", p.opts.RouterRoot)
	if err != nil {
		return tasks.Completion{}, err
	}
	return o.RoutesChanged(c)
}

func (p *Project) PageExtensions(ctx context.Context) ([]string, error) {
	return p.config.PageExtensions(p.Ctx(ctx))
}

// Snapshot resolves the whole pages tree.
func (p *Project) Snapshot(ctx context.Context) (*pagestructure.Snapshot, error) {
	ctx, span := p.tracer.Start(ctx, "pagestree.Snapshot",
		trace.WithAttributes(
			attribute.String("pagestree.project_dir", p.fs.Root()),
			attribute.String("pagestree.router_root", p.opts.RouterRoot),
		),
	)
	defer span.End()

	c := p.Ctx(ctx)
	o, err := p.builder.FindPagesStructure(c, ".", p.opts.RouterRoot)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	snap, err := pagestructure.Resolve(c, o)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	dirs, routes := snap.Count()
	stats := p.engine.Stats()
	span.SetAttributes(
		attribute.Bool("pagestree.found", snap.Root != nil),
		attribute.Int("pagestree.directories", dirs),
		attribute.Int("pagestree.routes", routes),
		attribute.Int64("pagestree.revision", int64(stats.Revision)),
	)
	p.log.Debug("snapshot resolved",
		"routes", routes,
		"directories", dirs,
		"entries", stats.Entries,
		"computes", stats.Computes,
		"hits", stats.Hits,
	)
	return snap, nil
}

// Invalidate drops cached reads of the given project-relative slash paths.
// Only needed when files change while no watcher is running.
func (p *Project) Invalidate(paths ...string) {
	for _, path := range paths {
		p.fs.Invalidate(path)
	}
}

// Update is delivered by Watch. Exactly one of Snapshot and Err is set.
type Update struct {
	Revision uint64
	Changed  []string // project-relative paths that triggered the update; nil for the initial one
	Snapshot *pagestructure.Snapshot
	Err      error
}

// Watch delivers the current routes, then blocks until ctx is done, delivering
// a new Update whenever a batch of file changes altered the routes. Batches
// that leave the routes untouched are not reported. Updates are delivered one
// at a time.
func (p *Project) Watch(ctx context.Context, onUpdate func(Update)) error {
	w, err := p.fs.NewWatcher(projectfs.WatchOptions{
		Ignore:   p.opts.Ignore,
		Debounce: p.opts.Debounce,
		Logger:   p.log.With("component", "watcher"),
	})
	if err != nil {
		return err
	}

	var last tasks.Completion
	var lastErr string
	emit := func(changed []string) {
		// Entries for paths that left the tree are dropped once per batch.
		defer p.engine.Sweep()
		tok, err := p.RoutesChanged(ctx)
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			if !last.IsZero() && tok.Same(last) && lastErr == "" {
				p.log.Debug("routes unchanged", "paths", len(changed))
				return
			}
			last = tok
		}

		u := Update{Revision: p.engine.Revision(), Changed: changed}
		if err == nil {
			u.Snapshot, err = p.Snapshot(ctx)
		}
		if err != nil {
			if err.Error() == lastErr {
				return
			}
			lastErr = err.Error()
			last = tasks.Completion{}
			u.Err = fmt.Errorf("pagestree: %w", err)
			p.log.Error("routes unavailable", "error", err)
		} else {
			lastErr = ""
		}
		onUpdate(u)
	}

	emit(nil)
	return w.Run(ctx, emit)
}
