package fsutil

import (
	"os"
	"path/filepath"
	"testing"
)

func TestJoin(t *testing.T) {
	tests := []struct{ base, rel, want string }{
		{"/", "about", "/about"},
		{"/", "api", "/api"},
		{"/blog", "[slug]", "/blog/[slug]"},
		{".", "pages", "pages"},
		{".", "src/pages", "src/pages"},
		{"pages", "[...all]", "pages/[...all]"},
	}
	for _, tt := range tests {
		if got := Join(tt.base, tt.rel); got != tt.want {
			t.Errorf("Join(%q, %q) = %q, want %q", tt.base, tt.rel, got, tt.want)
		}
	}
}

func TestParent(t *testing.T) {
	tests := []struct{ p, want string }{
		{"pages/blog", "pages"},
		{"pages", "."},
		{"/api/users", "/api"},
		{"/", "/"},
	}
	for _, tt := range tests {
		if got := Parent(tt.p); got != tt.want {
			t.Errorf("Parent(%q) = %q, want %q", tt.p, got, tt.want)
		}
	}
}

func TestIsInside(t *testing.T) {
	tests := []struct {
		p, root      string
		inside, orEq bool
	}{
		{"/api/users", "/api", true, true},
		{"/api", "/api", false, true},
		{"/apiary", "/api", false, false},
		{"/about", "/", true, true},
		{"/", "/", false, true},
		{"/app/api/x", "/app/api", true, true},
		{"pages/index.tsx", ".", true, true},
		{".", ".", false, true},
		{"../x", ".", false, false},
		{"pages/blog", "pages", true, true},
		{"pagesx", "pages", false, false},
	}
	for _, tt := range tests {
		if got := IsInside(tt.p, tt.root); got != tt.inside {
			t.Errorf("IsInside(%q, %q) = %v, want %v", tt.p, tt.root, got, tt.inside)
		}
		if got := IsInsideOrEqual(tt.p, tt.root); got != tt.orEq {
			t.Errorf("IsInsideOrEqual(%q, %q) = %v, want %v", tt.p, tt.root, got, tt.orEq)
		}
	}
}

func TestCutExt(t *testing.T) {
	tests := []struct {
		name, base, ext string
		ok              bool
	}{
		{"about.tsx", "about", "tsx", true},
		{"page.test.ts", "page.test", "ts", true},
		{"README", "", "", false},
		{".env", "", "env", true},
		{"[...slug].tsx", "[...slug]", "tsx", true},
		{"trailing.", "trailing", "", true},
	}
	for _, tt := range tests {
		base, ext, ok := CutExt(tt.name)
		if base != tt.base || ext != tt.ext || ok != tt.ok {
			t.Errorf("CutExt(%q) = %q, %q, %v; want %q, %q, %v", tt.name, base, ext, ok, tt.base, tt.ext, tt.ok)
		}
	}
}

func TestWriteFileAndToSlashRel(t *testing.T) {
	root := t.TempDir()
	target := filepath.Join(root, "src", "pages", "index.tsx")
	if err := WriteFile(target, []byte("x")); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("file not written: %v", err)
	}

	rel, err := ToSlashRel(root, target)
	if err != nil || rel != "src/pages/index.tsx" {
		t.Errorf("ToSlashRel = %q, %v", rel, err)
	}
	if rel, _ := ToSlashRel(root, root); rel != "." {
		t.Errorf("ToSlashRel(root, root) = %q, want .", rel)
	}
	if _, err := ToSlashRel(root, filepath.Dir(root)); err == nil {
		t.Error("expected error for path outside root")
	}
}
