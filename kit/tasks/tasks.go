// A "Task", as used in this package, is simply a function that takes in input
// and returns data (or an error). Results are memoized per Engine and input
// value. While a task runs, every other task it runs through the same Ctx is
// recorded as a dependency, so that invalidating an input (for example a
// directory listing) only recomputes the tasks that actually observed it.
//
// Entries live until Engine.Sweep drops the ones that no top-level run has
// reached since the previous sweep.
//
// Tasks are automatically protected from circular deps by Go's compile-time
// "initialization cycle" errors (assuming they are defined as package-level
// variables). Tasks created at runtime must not depend on themselves.
package tasks

import (
	"context"
	"errors"
	"log/slog"
	"reflect"
	"sync"
	"sync/atomic"

	"github.com/vormadev/pagestree/kit/colorlog"
	"github.com/vormadev/pagestree/kit/genericsutil"
	"golang.org/x/sync/errgroup"
)

var (
	ErrNilCtx      = errors.New("tasks: nil Ctx")
	ErrInvalidTask = errors.New("tasks: invalid task")
)

type AnyTask interface {
	RunWithAnyInput(ctx *Ctx, input any) (any, error)
}

type Task[I comparable, O any] struct {
	fn func(ctx *Ctx, input I) (O, error)
}

func NewTask[I comparable, O any](fn func(ctx *Ctx, input I) (O, error)) *Task[I, O] {
	if fn == nil {
		return nil
	}
	return &Task[I, O]{fn: fn}
}

func (t *Task[I, O]) RunWithAnyInput(ctx *Ctx, input any) (any, error) {
	return runTask(ctx, t, genericsutil.AssertOrZero[I](input))
}

func (t *Task[I, O]) Run(ctx *Ctx, input I) (O, error) {
	return runTask(ctx, t, input)
}

func (t *Task[I, O]) Bind(input I, dest *O) BoundTask {
	return bindTask(t, input, dest)
}

// Handle returns a lazy reference to the result of running t with input.
func (t *Task[I, O]) Handle(input I) Handle[I, O] {
	return Handle[I, O]{task: t, input: input}
}

// Invalidate marks the cached result for input as stale. It reports whether a
// cached result existed.
func (t *Task[I, O]) Invalidate(e *Engine, input I) bool {
	if e == nil || t == nil {
		return false
	}
	return e.invalidate(keyFor(t, input))
}

// taskKey is used for map lookups to avoid allocating anonymous structs
type taskKey struct {
	taskPtr uintptr
	input   any
}

func keyFor(taskPtr any, input any) taskKey {
	return taskKey{
		taskPtr: reflect.ValueOf(taskPtr).Pointer(),
		input:   input,
	}
}

type EngineOptions struct {
	Logger *slog.Logger // Optional. Defaults to a colorlog logger labelled "tasks".
}

// Engine owns memoized task results and the dependency edges between them.
// It is safe for concurrent use.
type Engine struct {
	mu       sync.RWMutex
	entries  map[taskKey]*entry
	roots    map[taskKey]struct{} // run at top level since the last Sweep
	revision atomic.Uint64
	log      *slog.Logger

	// runMu is held for reading by every top-level run and for writing by
	// Sweep.
	runMu sync.RWMutex

	computes atomic.Uint64
	hits     atomic.Uint64
}

func NewEngine(opts ...EngineOptions) *Engine {
	var o EngineOptions
	if len(opts) > 0 {
		o = opts[0]
	}
	if o.Logger == nil {
		o.Logger = colorlog.New("tasks")
	}
	e := &Engine{
		entries: make(map[taskKey]*entry, 64),
		roots:   make(map[taskKey]struct{}),
		log:     o.Logger,
	}
	e.revision.Store(1)
	return e
}

// NewCtx creates a top-level execution context. Tasks run through it are not
// recorded as anyone's dependency.
func (e *Engine) NewCtx(parent context.Context) *Ctx {
	if parent == nil {
		parent = context.Background()
	}
	return &Ctx{engine: e, ctx: parent}
}

// Revision returns the current revision. It increases on every invalidation.
func (e *Engine) Revision() uint64 {
	return e.revision.Load()
}

type Stats struct {
	Entries  int
	Computes uint64
	Hits     uint64
	Revision uint64
}

func (e *Engine) Stats() Stats {
	e.mu.RLock()
	n := len(e.entries)
	e.mu.RUnlock()
	return Stats{
		Entries:  n,
		Computes: e.computes.Load(),
		Hits:     e.hits.Load(),
		Revision: e.revision.Load(),
	}
}

func (e *Engine) invalidate(key taskKey) bool {
	e.mu.RLock()
	ent, ok := e.entries[key]
	e.mu.RUnlock()
	if !ok {
		return false
	}
	ent.stale.Store(true)
	rev := e.revision.Add(1)
	e.log.Debug("task invalidated", "revision", rev)
	return true
}

// Sweep drops every entry that is not reachable, through recorded
// dependencies, from a task run at the top level since the previous Sweep. It
// waits for in-flight top-level runs and returns the number of entries
// dropped. Sweep must not be called from inside a task.
func (e *Engine) Sweep() int {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	e.mu.Lock()
	defer e.mu.Unlock()

	live := make(map[*entry]struct{}, len(e.entries))
	var stack []*entry
	for k := range e.roots {
		if ent, ok := e.entries[k]; ok {
			stack = append(stack, ent)
		}
	}
	for len(stack) > 0 {
		ent := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, ok := live[ent]; ok {
			continue
		}
		live[ent] = struct{}{}
		stack = append(stack, ent.snapshotDeps()...)
	}

	dropped := 0
	for k, ent := range e.entries {
		if _, ok := live[ent]; !ok {
			delete(e.entries, k)
			dropped++
		}
	}
	clear(e.roots)
	if dropped > 0 {
		e.log.Debug("swept task entries", "dropped", dropped, "kept", len(e.entries))
	}
	return dropped
}

func (e *Engine) getOrCreateEntry(key taskKey, run func(*Ctx) (any, error)) *entry {
	e.mu.RLock()
	ent, ok := e.entries[key]
	e.mu.RUnlock()
	if ok {
		return ent
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	// Double-check after acquiring write lock
	if ent, ok := e.entries[key]; ok {
		return ent
	}
	ent = &entry{run: run}
	e.entries[key] = ent
	return ent
}

type entry struct {
	run func(*Ctx) (any, error)

	// mu serializes verification and computation of this entry.
	mu         sync.Mutex
	computed   bool
	value      any
	err        error
	verifiedAt uint64
	changedAt  uint64

	stale atomic.Bool

	depsMu sync.Mutex
	deps   []*entry
}

func (ent *entry) addDep(dep *entry) {
	ent.depsMu.Lock()
	defer ent.depsMu.Unlock()
	for _, d := range ent.deps {
		if d == dep {
			return
		}
	}
	ent.deps = append(ent.deps, dep)
}

func (ent *entry) snapshotDeps() []*entry {
	ent.depsMu.Lock()
	defer ent.depsMu.Unlock()
	out := make([]*entry, len(ent.deps))
	copy(out, ent.deps)
	return out
}

// ensure brings ent up to date with the engine's current revision and returns
// its result together with the revision at which that result last changed.
func (c *Ctx) ensure(ent *entry) (any, error, uint64) {
	ent.mu.Lock()
	defer ent.mu.Unlock()

	rev := c.engine.revision.Load()

	if ent.computed && !ent.stale.Load() {
		if ent.verifiedAt == rev {
			c.engine.hits.Add(1)
			return ent.value, ent.err, ent.changedAt
		}
		if !c.depsChangedSince(ent, ent.verifiedAt) {
			ent.verifiedAt = rev
			c.engine.hits.Add(1)
			return ent.value, ent.err, ent.changedAt
		}
	}

	c.compute(ent, rev)
	if cerr := c.ctx.Err(); cerr != nil {
		return nil, cerr, ent.changedAt
	}
	return ent.value, ent.err, ent.changedAt
}

func (c *Ctx) depsChangedSince(ent *entry, since uint64) bool {
	for _, dep := range ent.snapshotDeps() {
		if c.ctx.Err() != nil {
			return true
		}
		_, _, changedAt := c.ensure(dep)
		if changedAt > since {
			return true
		}
	}
	return false
}

// compute must be called with ent.mu held.
func (c *Ctx) compute(ent *entry, rev uint64) {
	ent.stale.Store(false)
	ent.depsMu.Lock()
	ent.deps = nil
	ent.depsMu.Unlock()

	c.engine.computes.Add(1)
	child := &Ctx{engine: c.engine, ctx: c.ctx, parent: ent}
	val, err := ent.run(child)

	if cerr := c.ctx.Err(); cerr != nil {
		// Do not cache results of an aborted computation.
		ent.stale.Store(true)
		return
	}

	changed := !ent.computed || err != nil || ent.err != nil || !reflect.DeepEqual(ent.value, val)
	ent.value, ent.err = val, err
	ent.computed = true
	ent.verifiedAt = rev
	if changed {
		ent.changedAt = rev
	}
}

type Ctx struct {
	engine *Engine
	ctx    context.Context
	parent *entry // entry currently being computed, nil at top level
}

func (c *Ctx) NativeContext() context.Context {
	return c.ctx
}

func (c *Ctx) Engine() *Engine {
	return c.engine
}

func (c *Ctx) RunParallel(tasks ...BoundTask) error {
	return runTasks(c, tasks...)
}

func runTask[I comparable, O any](c *Ctx, task *Task[I, O], input I) (result O, err error) {
	if c == nil || c.engine == nil {
		return result, ErrNilCtx
	}
	if task == nil || task.fn == nil {
		return result, ErrInvalidTask
	}

	// Check context only once at the beginning
	if err := c.ctx.Err(); err != nil {
		return result, err
	}

	key := keyFor(task, input)
	if c.parent == nil {
		c.engine.runMu.RLock()
		defer c.engine.runMu.RUnlock()
		c.engine.mu.Lock()
		c.engine.roots[key] = struct{}{}
		c.engine.mu.Unlock()
	}
	ent := c.engine.getOrCreateEntry(key, func(child *Ctx) (any, error) {
		return task.fn(child, input)
	})
	if c.parent != nil {
		c.parent.addDep(ent)
	}

	val, err, _ := c.ensure(ent)
	if err != nil {
		return result, err
	}
	if val == nil {
		return result, nil
	}
	return genericsutil.AssertOrZero[O](val), nil
}

// Handle is a comparable, lazily evaluated reference to a task result.
// Two handles are equal when they refer to the same task and input.
type Handle[I comparable, O any] struct {
	task  *Task[I, O]
	input I
}

func (h Handle[I, O]) Get(ctx *Ctx) (O, error) {
	return runTask(ctx, h.task, h.input)
}

func (h Handle[I, O]) Input() I {
	return h.input
}

func (h Handle[I, O]) IsZero() bool {
	return h.task == nil
}

func (h Handle[I, O]) Bind(dest *O) BoundTask {
	return bindTask(h.task, h.input, dest)
}

type BoundTask interface {
	Run(ctx *Ctx) error
}

type boundTask[O any] struct {
	runner func(ctx *Ctx) (O, error)
	dest   *O
}

func bindTask[I comparable, O any](task *Task[I, O], input I, dest *O) BoundTask {
	if task == nil || task.fn == nil {
		return &boundTask[O]{
			runner: func(ctx *Ctx) (O, error) {
				var zero O
				return zero, errors.New("tasks: bindTask called with a nil or invalid task")
			},
			dest: dest,
		}
	}
	return &boundTask[O]{
		runner: func(ctx *Ctx) (O, error) {
			return runTask(ctx, task, input)
		},
		dest: dest,
	}
}

func (bc *boundTask[O]) Run(ctx *Ctx) error {
	if ctx == nil {
		return ErrNilCtx
	}
	if bc.runner == nil {
		return errors.New("tasks: boundTask runner is nil (task may have been invalid at Bind)")
	}
	res, err := bc.runner(ctx)
	if err != nil {
		return err
	}
	if bc.dest != nil {
		*bc.dest = res
	}
	return nil
}

func runTasks(ctx *Ctx, calls ...BoundTask) error {
	if ctx == nil {
		return ErrNilCtx
	}
	if err := ctx.ctx.Err(); err != nil {
		return err
	}
	valid := calls[:0]
	for _, c := range calls {
		if c != nil {
			valid = append(valid, c)
		}
	}
	switch len(valid) {
	case 0:
		return nil
	case 1:
		return valid[0].Run(ctx)
	}
	g, gCtx := errgroup.WithContext(ctx.ctx)
	shared := &Ctx{
		engine: ctx.engine,
		ctx:    gCtx,
		parent: ctx.parent,
	}
	for _, call := range valid {
		c := call
		g.Go(func() error {
			if err := c.Run(shared); err != nil {
				return err
			}
			return shared.ctx.Err()
		})
	}
	return g.Wait()
}
