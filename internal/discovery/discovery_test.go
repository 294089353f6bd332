// SPDX-License-Identifier: MPL-2.0

package discovery

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func writeTree(t *testing.T, root string, files ...string) {
	t.Helper()
	for _, f := range files {
		path := filepath.Join(root, filepath.FromSlash(f))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte("x\n"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func relPaths(files []File) []string {
	out := make([]string, 0, len(files))
	for _, f := range files {
		out = append(out, f.RelativePath)
	}
	return out
}

func TestDiscoverIncludeExclude(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeTree(t, root,
		"main.go",
		"pkg/z.go",
		"pkg/a.go",
		"pkg/a_test.go",
		"vendor/v.go",
		"README.md",
		".git/config.go",
		"augment-prep.json",
	)

	res, err := Discover(context.Background(), []Source{{
		Dir:     root,
		Include: []string{"**/*.go"},
		Exclude: []string{"vendor/**", "**/*_test.go"},
	}})
	if err != nil {
		t.Fatalf("Discover failed: %v", err)
	}
	if len(res.Diagnostics) != 0 {
		t.Errorf("unexpected diagnostics: %+v", res.Diagnostics)
	}
	want := []string{"main.go", "pkg/a.go", "pkg/z.go"}
	if diff := cmp.Diff(want, relPaths(res.Files)); diff != "" {
		t.Errorf("files mismatch (-want +got):\n%s", diff)
	}
	if res.Files[0].Path() != filepath.Join(root, "main.go") {
		t.Errorf("Path() = %q", res.Files[0].Path())
	}
}

func TestDiscoverSourcesInOrder(t *testing.T) {
	t.Parallel()

	a := t.TempDir()
	b := t.TempDir()
	writeTree(t, a, "z.txt")
	writeTree(t, b, "a.txt")

	res, err := Discover(context.Background(), []Source{{Dir: a}, {Dir: b}, {Dir: a}})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"z.txt", "a.txt"}, relPaths(res.Files)); diff != "" {
		t.Errorf("sources must keep configuration order (-want +got):\n%s", diff)
	}
	if len(res.Diagnostics) != 1 || res.Diagnostics[0].Code != "duplicate_file" {
		t.Errorf("expected one duplicate_file diagnostic, got %+v", res.Diagnostics)
	}
	if res.HasErrors() {
		t.Error("duplicates are warnings")
	}
}

func TestDiscoverMissingSource(t *testing.T) {
	t.Parallel()

	res, err := Discover(context.Background(), []Source{{Dir: filepath.Join(t.TempDir(), "absent")}})
	if err != nil {
		t.Fatal(err)
	}
	if !res.HasErrors() || res.Diagnostics[0].Code != "source_missing" {
		t.Errorf("expected a source_missing error diagnostic, got %+v", res.Diagnostics)
	}
}

func TestDiscoverInvalidPattern(t *testing.T) {
	t.Parallel()

	_, err := Discover(context.Background(), []Source{{Dir: t.TempDir(), Include: []string{"[unclosed"}}})
	if !errors.Is(err, ErrInvalidPattern) {
		t.Errorf("expected ErrInvalidPattern, got %v", err)
	}
}
