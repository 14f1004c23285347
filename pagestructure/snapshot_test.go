package pagestructure

import (
	"encoding/json"
	"reflect"
	"strings"
	"testing"
	"testing/fstest"
)

func TestSnapshotRoutesOrder(t *testing.T) {
	h := newHarness(fstest.MapFS{
		"pages/index.tsx":           file(),
		"pages/about.tsx":           file(),
		"pages/[...all].tsx":        file(),
		"pages/blog/[slug].tsx":     file(),
		"pages/blog/[...rest].tsx":  file(),
		"pages/blog/latest.tsx":     file(),
		"pages/[team]/settings.tsx": file(),
	}, "tsx")

	o, err := h.b.FindPagesStructure(h.c, ".", "/")
	if err != nil {
		t.Fatal(err)
	}
	snap, err := Resolve(h.c, o)
	if err != nil {
		t.Fatal(err)
	}

	var got []string
	for _, r := range snap.Routes() {
		got = append(got, r.RouterPath)
	}
	want := []string{
		"/",
		"/about",
		"/blog/latest",
		"/blog/[slug]",
		"/blog/[...rest]",
		"/[team]/settings",
		"/[...all]",
	}
	if strings.Join(got, " ") != strings.Join(want, " ") {
		t.Errorf("Routes() =\n  %v\nwant\n  %v", got, want)
	}
}

func TestSnapshotJSON(t *testing.T) {
	h := newHarness(fstest.MapFS{
		"pages/index.tsx":    file(),
		"pages/api/users.ts": file(),
	}, "tsx", "ts")

	o, err := h.b.FindPagesStructure(h.c, ".", "/")
	if err != nil {
		t.Fatal(err)
	}
	snap, err := Resolve(h.c, o)
	if err != nil {
		t.Fatal(err)
	}
	data, err := json.Marshal(snap)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{
		`"projectPath":"pages"`,
		`"kind":"api"`,
		`"routerPath":"/api/users"`,
		`"specificity":"exact"`,
		`"children":[]`,
	} {
		if !strings.Contains(string(data), want) {
			t.Errorf("json missing %s: %s", want, data)
		}
	}

	empty, err := json.Marshal(&Snapshot{})
	if err != nil {
		t.Fatal(err)
	}
	if string(empty) != `{"root":null}` {
		t.Errorf("empty snapshot json = %s", empty)
	}
}

func TestSnapshotJSONRoundTrip(t *testing.T) {
	h := newHarness(fstest.MapFS{
		"pages/index.tsx":                 file(),
		"pages/api/users.ts":              file(),
		"pages/blog/[slug].tsx":           file(),
		"pages/docs/[[...path]].tsx":      file(),
		"pages/[team]/[...rest]/edit.tsx": file(),
	}, "tsx", "ts")

	o, err := h.b.FindPagesStructure(h.c, ".", "/")
	if err != nil {
		t.Fatal(err)
	}
	snap, err := Resolve(h.c, o)
	if err != nil {
		t.Fatal(err)
	}
	data, err := json.Marshal(snap)
	if err != nil {
		t.Fatal(err)
	}

	var decoded Snapshot
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if !reflect.DeepEqual(&decoded, snap) {
		t.Errorf("decoded snapshot differs\n got: %+v\nwant: %+v", decoded.Root, snap.Root)
	}
	if got, want := len(decoded.Routes()), len(snap.Routes()); got != want {
		t.Errorf("decoded routes = %d, want %d", got, want)
	}
}

func TestItemKindUnmarshalText(t *testing.T) {
	for _, k := range []ItemKind{Page, API} {
		text, _ := k.MarshalText()
		var got ItemKind
		if err := got.UnmarshalText(text); err != nil || got != k {
			t.Errorf("UnmarshalText(%q) = %v, %v; want %v", text, got, err, k)
		}
	}
	var k ItemKind
	if err := k.UnmarshalText([]byte("layout")); err == nil {
		t.Error("unknown kind should fail")
	}
}
