// SPDX-License-Identifier: MPL-2.0

package scope

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestLookupWalksParents(t *testing.T) {
	t.Parallel()

	a := NewArena(DefaultIndentVariable)
	outer := a.Open(Root, "", 1)
	if err := a.Declare(outer, "indent", "  ", 2); err != nil {
		t.Fatalf("Declare failed: %v", err)
	}
	inner := a.Open(outer, "    ", 3)

	got, ok := a.Lookup(inner, "indent")
	if !ok {
		t.Fatal("variable declared in the parent frame should be visible")
	}
	if got != "  " {
		t.Errorf("Lookup = %v, want two spaces", got)
	}

	if _, ok := a.Lookup(inner, "missing"); ok {
		t.Error("unknown names must report not found")
	}
}

func TestSiblingAndDescendantNotVisible(t *testing.T) {
	t.Parallel()

	a := NewArena(DefaultIndentVariable)
	left := a.Open(Root, "", 1)
	right := a.Open(Root, "", 5)
	child := a.Open(left, "  ", 2)

	if err := a.Declare(child, "deep", true, 3); err != nil {
		t.Fatal(err)
	}
	if err := a.Declare(left, "leftOnly", 1.0, 1); err != nil {
		t.Fatal(err)
	}

	if _, ok := a.Lookup(left, "deep"); ok {
		t.Error("a descendant's variable must not be visible to its ancestor")
	}
	if _, ok := a.Lookup(right, "leftOnly"); ok {
		t.Error("a sibling's variable must not be visible")
	}
	if _, ok := a.Lookup(Root, "leftOnly"); ok {
		t.Error("a child's variable must not be visible to the root")
	}
}

func TestShadowingAndDuplicates(t *testing.T) {
	t.Parallel()

	a := NewArena(DefaultIndentVariable)
	if err := a.Declare(Root, "name", "root", 1); err != nil {
		t.Fatal(err)
	}
	f := a.Open(Root, "\t", 2)
	if err := a.Declare(f, "name", "inner", 3); err != nil {
		t.Fatalf("shadowing an outer name should be allowed: %v", err)
	}
	if v, _ := a.Lookup(f, "name"); v != "inner" {
		t.Errorf("nearest binding should win, got %v", v)
	}

	err := a.Declare(f, "name", "again", 4)
	if !errors.Is(err, ErrDuplicateVariable) {
		t.Fatalf("expected ErrDuplicateVariable, got %v", err)
	}
	var dup *DuplicateVariableError
	if !errors.As(err, &dup) || dup.FirstLine != 3 {
		t.Errorf("expected duplicate error pointing at line 3, got %v", err)
	}
}

func TestSynthesizedIndentVariable(t *testing.T) {
	t.Parallel()

	a := NewArena(DefaultIndentVariable)
	f1 := a.Open(Root, "  ", 1)
	f2 := a.Open(f1, "    ", 2)

	if v, _ := a.Lookup(f2, DefaultIndentVariable); v != "    " {
		t.Errorf("innermost frame indent expected, got %q", v)
	}
	if v, _ := a.Lookup(Root, DefaultIndentVariable); v != "" {
		t.Errorf("root indent should be empty, got %q", v)
	}

	if err := a.Declare(f2, DefaultIndentVariable, "override", 3); err != nil {
		t.Fatal(err)
	}
	if v, _ := a.Lookup(f2, DefaultIndentVariable); v != "override" {
		t.Errorf("explicit declaration should override the synthesized one, got %v", v)
	}

	disabled := NewArena("")
	if _, ok := disabled.Lookup(Root, DefaultIndentVariable); ok {
		t.Error("no synthesized variable expected when disabled")
	}
}

func TestVisibleFlattensChain(t *testing.T) {
	t.Parallel()

	a := NewArena(DefaultIndentVariable)
	_ = a.Declare(Root, "a", "root-a", 1)
	_ = a.Declare(Root, "b", "root-b", 1)
	f := a.Open(Root, "  ", 2)
	_ = a.Declare(f, "b", "inner-b", 3)

	want := map[string]any{
		"a":                   "root-a",
		"b":                   "inner-b",
		DefaultIndentVariable: "  ",
	}
	if diff := cmp.Diff(want, a.Visible(f)); diff != "" {
		t.Errorf("Visible mismatch (-want +got):\n%s", diff)
	}
}

func TestFrameAccessors(t *testing.T) {
	t.Parallel()

	a := NewArena(DefaultIndentVariable)
	f := a.Open(Root, "  ", 7)
	got, err := a.Frame(f)
	if err != nil {
		t.Fatal(err)
	}
	if got.Depth != 1 || got.Parent != Root || got.Line != 7 {
		t.Errorf("unexpected frame %+v", got)
	}
	if _, err := a.Frame(42); !errors.Is(err, ErrUnknownFrame) {
		t.Errorf("expected ErrUnknownFrame, got %v", err)
	}
	if a.Len() != 2 {
		t.Errorf("Len = %d, want 2", a.Len())
	}
	if a.Indent(f) != "  " || a.Indent(-1) != "" {
		t.Error("Indent returned unexpected values")
	}
}
