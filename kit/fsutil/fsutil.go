// Package fsutil provides utility functions for working with the filesystem
// and with slash-separated logical paths (project paths and router paths).
package fsutil

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// EnsureDir creates a directory if it does not exist.
func EnsureDir(p string) error {
	err := os.MkdirAll(p, os.ModePerm)
	if err != nil {
		return fmt.Errorf("fsutil.EnsureDir: failed to create directory %s: %w", p, err)
	}
	return nil
}

// WriteFile writes data to p, creating parent directories as needed.
func WriteFile(p string, data []byte) error {
	if err := EnsureDir(filepath.Dir(p)); err != nil {
		return err
	}
	if err := os.WriteFile(p, data, 0o644); err != nil {
		return fmt.Errorf("fsutil.WriteFile: failed to write %s: %w", p, err)
	}
	return nil
}

// Join appends rel to base and cleans the result. Both are slash paths.
//
//	Join("/", "about")     -> "/about"
//	Join(".", "pages")     -> "pages"
//	Join("/blog", "[id]")  -> "/blog/[id]"
func Join(base, rel string) string {
	return path.Join(base, rel)
}

// Parent returns the directory containing p ("." for top-level relative paths).
func Parent(p string) string {
	return path.Dir(path.Clean(p))
}

// IsInside reports whether p is strictly nested under root.
func IsInside(p, root string) bool {
	p, root = path.Clean(p), path.Clean(root)
	switch root {
	case ".":
		return p != "." && !path.IsAbs(p) && p != ".." && !strings.HasPrefix(p, "../")
	case "/":
		return p != "/" && path.IsAbs(p)
	}
	return strings.HasPrefix(p, root+"/")
}

// IsInsideOrEqual reports whether p is root or nested under it.
func IsInsideOrEqual(p, root string) bool {
	return path.Clean(p) == path.Clean(root) || IsInside(p, root)
}

// CutExt splits name at its last dot. ok is false when name has no dot.
//
//	CutExt("about.tsx")        -> "about", "tsx", true
//	CutExt("page.test.ts")     -> "page.test", "ts", true
//	CutExt("README")           -> "", "", false
func CutExt(name string) (base, ext string, ok bool) {
	i := strings.LastIndexByte(name, '.')
	if i < 0 {
		return "", "", false
	}
	return name[:i], name[i+1:], true
}

// ToSlashRel converts an OS path under root into a slash path relative to
// root. The root itself maps to ".".
func ToSlashRel(root, p string) (string, error) {
	rel, err := filepath.Rel(root, p)
	if err != nil {
		return "", fmt.Errorf("fsutil.ToSlashRel: %w", err)
	}
	rel = filepath.ToSlash(rel)
	if rel == ".." || strings.HasPrefix(rel, "../") {
		return "", fmt.Errorf("fsutil.ToSlashRel: %s is outside %s", p, root)
	}
	return rel, nil
}
