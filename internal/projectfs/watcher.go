package projectfs

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"
	"github.com/vormadev/pagestree/kit/colorlog"
	"github.com/vormadev/pagestree/kit/fsutil"
	"github.com/vormadev/pagestree/kit/typed"
)

const defaultDebounce = 100 * time.Millisecond

// Ignore patterns - these are glob patterns relative to the watch root
var defaultIgnores = []string{
	"**/.git",
	"**/.git/**",
	"**/node_modules",
	"**/node_modules/**",
	"**/.DS_Store",
	"**/*.swp",
	"**/*~",
}

var ErrNotWatchable = errors.New("projectfs: file system is not backed by an OS directory")

type WatchOptions struct {
	Ignore   []string      // doublestar patterns relative to the root
	Debounce time.Duration // Optional. Defaults to 100ms.
	Logger   *slog.Logger  // Optional. Defaults to a colorlog logger labelled "watcher".
}

// Watcher turns fsnotify events under an OS-backed FS into invalidations of
// that FS's cached reads.
type Watcher struct {
	fs      *FS
	log     *slog.Logger
	fsWatch *fsnotify.Watcher

	watchedDirs typed.SyncMap[string, struct{}]

	// Patterns stored as absolute paths with forward slashes
	ignored  []string
	absRoot  string
	debounce time.Duration
}

func (f *FS) NewWatcher(opts WatchOptions) (*Watcher, error) {
	if f.root == "" {
		return nil, ErrNotWatchable
	}
	if opts.Logger == nil {
		opts.Logger = colorlog.New("watcher")
	}
	if opts.Debounce <= 0 {
		opts.Debounce = defaultDebounce
	}

	fsWatch, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		fs:       f,
		log:      opts.Logger,
		fsWatch:  fsWatch,
		absRoot:  filepath.ToSlash(f.root),
		debounce: opts.Debounce,
	}
	base := escapeGlob(w.absRoot)
	for _, p := range append(append([]string(nil), defaultIgnores...), opts.Ignore...) {
		w.ignored = append(w.ignored, base+"/"+filepath.ToSlash(p))
	}

	// Register watches up front so events between NewWatcher and Run are
	// buffered rather than lost.
	if err := w.AddDir(f.root); err != nil {
		fsWatch.Close()
		return nil, err
	}
	return w, nil
}

func escapeGlob(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '{', '}', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// norm converts a path to absolute with forward slashes for consistent matching
func (w *Watcher) norm(p string) string {
	abs, err := filepath.Abs(p)
	if err != nil {
		return filepath.ToSlash(p)
	}
	return filepath.ToSlash(abs)
}

// IsIgnored checks if an OS path matches any ignore pattern.
func (w *Watcher) IsIgnored(p string) bool {
	np := w.norm(p)
	for _, pattern := range w.ignored {
		matches, err := doublestar.Match(pattern, np)
		if err != nil {
			w.log.Error("Pattern match error", "pattern", pattern, "path", np, "error", err)
			continue
		}
		if matches {
			return true
		}
	}
	return false
}

// AddDir adds a directory and its subdirectories to the watcher
func (w *Watcher) AddDir(root string) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if w.IsIgnored(p) {
			return filepath.SkipDir
		}

		// Use absolute path as key to avoid duplicates
		absPath := w.norm(p)
		if _, exists := w.watchedDirs.Load(absPath); exists {
			return nil
		}
		if err := w.fsWatch.Add(p); err != nil {
			return err
		}
		w.watchedDirs.Store(absPath, struct{}{})
		return nil
	})
}

// RemoveStale removes watches for directories that no longer exist
func (w *Watcher) RemoveStale() {
	w.watchedDirs.Range(func(p string, _ struct{}) bool {
		if _, err := os.Stat(p); os.IsNotExist(err) {
			_ = w.fsWatch.Remove(p)
			w.watchedDirs.Delete(p)
		}
		return true
	})
}

func (w *Watcher) Close() error {
	return w.fsWatch.Close()
}

// Run watches the FS root until ctx is done. Events are merged per path until
// the tree has been quiet for the debounce window; then the touched paths are
// invalidated and onChange is called with their root-relative slash paths.
// Batches are applied on Run's goroutine, so callbacks never overlap. Run
// closes the watcher before returning.
func (w *Watcher) Run(ctx context.Context, onChange func(changed []string)) error {
	defer w.Close()

	w.log.Info("watching", "root", w.fs.root)

	var (
		pending batch
		timer   *time.Timer
		fire    <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case evt, ok := <-w.fsWatch.Events:
			if !ok {
				return nil
			}
			if w.skip(evt) {
				continue
			}
			rel, err := fsutil.ToSlashRel(w.fs.root, evt.Name)
			if err != nil {
				continue
			}
			pending.add(rel, evt.Op)
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(w.debounce)
			fire = timer.C
		case <-fire:
			fire = nil
			b := pending
			pending = batch{}
			if changed := w.apply(b); len(changed) > 0 && onChange != nil {
				onChange(changed)
			}
		case err, ok := <-w.fsWatch.Errors:
			if !ok {
				return nil
			}
			w.log.Error("watch error", "error", err)
		}
	}
}

// skip drops ignored paths and chmod-only events on non-empty files. Editors
// that create an empty file and chmod it before writing still get through.
func (w *Watcher) skip(evt fsnotify.Event) bool {
	if w.IsIgnored(evt.Name) {
		return true
	}
	if evt.Op != fsnotify.Chmod {
		return false
	}
	info, err := os.Stat(evt.Name)
	return err == nil && info.Size() > 0
}

// batch is the set of paths touched during one debounce window, with the
// union of the operations seen on each. Paths keep first-seen order.
type batch struct {
	ops   map[string]fsnotify.Op
	order []string
}

func (b *batch) add(rel string, op fsnotify.Op) {
	if b.ops == nil {
		b.ops = make(map[string]fsnotify.Op)
	}
	if _, ok := b.ops[rel]; !ok {
		b.order = append(b.order, rel)
	}
	b.ops[rel] |= op
}

func (b *batch) len() int { return len(b.order) }

// apply invalidates the paths in b and keeps the set of watched directories
// in sync with the tree. It returns the invalidated paths.
func (w *Watcher) apply(b batch) []string {
	sawRemoval := false
	for _, rel := range b.order {
		op := b.ops[rel]
		if op.Has(fsnotify.Create) {
			p := filepath.Join(w.fs.root, filepath.FromSlash(rel))
			if info, err := os.Stat(p); err == nil && info.IsDir() {
				if err := w.AddDir(p); err != nil {
					w.log.Error("failed to watch new directory", "path", rel, "error", err)
				}
			}
		}
		if op.Has(fsnotify.Remove) || op.Has(fsnotify.Rename) {
			sawRemoval = true
		}
		w.fs.Invalidate(rel)
	}
	if sawRemoval {
		w.RemoveStale()
	}
	if b.len() > 0 {
		w.log.Debug("applied changes", "paths", b.len())
	}
	return b.order
}
