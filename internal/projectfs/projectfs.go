// Package projectfs is the file-system collaborator of the pages walker. Every
// read goes through a memoized task on the shared engine, so a later
// Invalidate of the same path (usually triggered by the Watcher) recomputes
// exactly the walker tasks that observed it.
package projectfs

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"

	"github.com/vormadev/pagestree/kit/colorlog"
	"github.com/vormadev/pagestree/kit/fsutil"
	"github.com/vormadev/pagestree/kit/tasks"
	"golang.org/x/sync/semaphore"
)

const defaultMaxConcurrentReads = 16

type EntryType uint8

const (
	NotFound EntryType = iota
	File
	Directory
	Other
)

func (t EntryType) String() string {
	switch t {
	case File:
		return "file"
	case Directory:
		return "directory"
	case Other:
		return "other"
	default:
		return "not_found"
	}
}

type DirEntry struct {
	Name string
	Path string // slash path relative to the FS root
	Type EntryType
}

// DirectoryContent is the result of ReadDir. Entries are in whatever order the
// underlying file system returned them; callers needing a stable order must
// sort.
type DirectoryContent struct {
	NotFound bool
	Entries  []DirEntry
}

type FileContent struct {
	NotFound bool
	Data     []byte
}

type Options struct {
	Logger             *slog.Logger // Optional. Defaults to a colorlog logger labelled "projectfs".
	MaxConcurrentReads int64        // Optional. Defaults to 16.
}

type FS struct {
	fsys   fs.FS
	root   string // absolute OS directory, empty when not OS-backed
	engine *tasks.Engine
	sem    *semaphore.Weighted
	log    *slog.Logger

	readDir  *tasks.Task[string, DirectoryContent]
	getType  *tasks.Task[string, EntryType]
	readFile *tasks.Task[string, FileContent]
}

// New wraps an arbitrary fs.FS. Such a FS cannot be watched; callers must
// Invalidate paths themselves.
func New(engine *tasks.Engine, fsys fs.FS, opts ...Options) *FS {
	var o Options
	if len(opts) > 0 {
		o = opts[0]
	}
	if o.Logger == nil {
		o.Logger = colorlog.New("projectfs")
	}
	if o.MaxConcurrentReads <= 0 {
		o.MaxConcurrentReads = defaultMaxConcurrentReads
	}

	f := &FS{
		fsys:   fsys,
		engine: engine,
		sem:    semaphore.NewWeighted(o.MaxConcurrentReads),
		log:    o.Logger,
	}
	f.readDir = tasks.NewTask(f.readDirTask)
	f.getType = tasks.NewTask(f.getTypeTask)
	f.readFile = tasks.NewTask(f.readFileTask)
	return f
}

// NewOS creates a FS rooted at an OS directory.
func NewOS(engine *tasks.Engine, root string, opts ...Options) (*FS, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("projectfs: resolve root %s: %w", root, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("projectfs: stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("projectfs: root %s is not a directory", abs)
	}
	f := New(engine, os.DirFS(abs), opts...)
	f.root = abs
	return f, nil
}

// Root returns the absolute OS directory backing f, or "" for non-OS file systems.
func (f *FS) Root() string {
	return f.root
}

func (f *FS) Engine() *tasks.Engine {
	return f.engine
}

func (f *FS) ReadDir(c *tasks.Ctx, dir string) (DirectoryContent, error) {
	p, err := normalize(dir)
	if err != nil {
		return DirectoryContent{}, err
	}
	return f.readDir.Run(c, p)
}

func (f *FS) GetType(c *tasks.Ctx, p string) (EntryType, error) {
	np, err := normalize(p)
	if err != nil {
		return NotFound, err
	}
	return f.getType.Run(c, np)
}

func (f *FS) ReadFile(c *tasks.Ctx, p string) (FileContent, error) {
	np, err := normalize(p)
	if err != nil {
		return FileContent{}, err
	}
	return f.readFile.Run(c, np)
}

// Invalidate drops every cached read of p along with the listing of its
// parent directory, and returns how many cached reads were dropped.
func (f *FS) Invalidate(p string) int {
	np, err := normalize(p)
	if err != nil {
		f.log.Warn("ignoring invalid path", "path", p, "error", err)
		return 0
	}
	n := 0
	for _, ok := range []bool{
		f.readDir.Invalidate(f.engine, np),
		f.getType.Invalidate(f.engine, np),
		f.readFile.Invalidate(f.engine, np),
	} {
		if ok {
			n++
		}
	}
	if np != "." && f.readDir.Invalidate(f.engine, fsutil.Parent(np)) {
		n++
	}
	if n > 0 {
		f.log.Debug("invalidated", "path", np, "reads", n)
	}
	return n
}

func (f *FS) acquire(c *tasks.Ctx) (func(), error) {
	if err := f.sem.Acquire(c.NativeContext(), 1); err != nil {
		return nil, err
	}
	return func() { f.sem.Release(1) }, nil
}

func (f *FS) readDirTask(c *tasks.Ctx, dir string) (DirectoryContent, error) {
	release, err := f.acquire(c)
	if err != nil {
		return DirectoryContent{}, err
	}
	defer release()

	entries, err := fs.ReadDir(f.fsys, dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return DirectoryContent{NotFound: true}, nil
		}
		return DirectoryContent{}, fmt.Errorf("projectfs: read dir %s: %w", dir, err)
	}

	out := DirectoryContent{Entries: make([]DirEntry, 0, len(entries))}
	for _, e := range entries {
		out.Entries = append(out.Entries, DirEntry{
			Name: e.Name(),
			Path: fsutil.Join(dir, e.Name()),
			Type: typeOf(e.Type()),
		})
	}
	return out, nil
}

func (f *FS) getTypeTask(c *tasks.Ctx, p string) (EntryType, error) {
	release, err := f.acquire(c)
	if err != nil {
		return NotFound, err
	}
	defer release()

	info, err := fs.Stat(f.fsys, p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return NotFound, nil
		}
		return NotFound, fmt.Errorf("projectfs: stat %s: %w", p, err)
	}
	return typeOf(info.Mode().Type()), nil
}

func (f *FS) readFileTask(c *tasks.Ctx, p string) (FileContent, error) {
	release, err := f.acquire(c)
	if err != nil {
		return FileContent{}, err
	}
	defer release()

	data, err := fs.ReadFile(f.fsys, p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return FileContent{NotFound: true}, nil
		}
		return FileContent{}, fmt.Errorf("projectfs: read file %s: %w", p, err)
	}
	return FileContent{Data: data}, nil
}

// Symlinks and special files are reported as Other.
func typeOf(mode fs.FileMode) EntryType {
	switch {
	case mode.IsDir():
		return Directory
	case mode.IsRegular():
		return File
	default:
		return Other
	}
}

func normalize(p string) (string, error) {
	if p == "" {
		return ".", nil
	}
	np := path.Clean(p)
	if !fs.ValidPath(np) {
		return "", &fs.PathError{Op: "open", Path: p, Err: fs.ErrInvalid}
	}
	return np, nil
}
