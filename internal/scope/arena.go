// SPDX-License-Identifier: MPL-2.0

// Package scope models the lexical scopes opened by nested-level markers.
//
// Frames live in an Arena and refer to their parent by index, so the tree
// needs no pointers back up. Frame 0 is the implicit file-level frame.
package scope

import (
	"errors"
	"fmt"
	"maps"
)

const (
	// Root is the index of the implicit file-level frame.
	Root = 0
	// NoParent is the parent index of the root frame.
	NoParent = -1
	// DefaultIndentVariable is the conventional name of the synthesized
	// indentation variable.
	DefaultIndentVariable = "_indent"
)

var (
	// ErrDuplicateVariable is returned when a frame declares a name twice.
	ErrDuplicateVariable = errors.New("duplicate variable")
	// ErrUnknownFrame is returned for an out-of-range frame index.
	ErrUnknownFrame = errors.New("unknown frame")
)

type (
	// Frame is one lexical scope.
	Frame struct {
		Depth  int
		Parent int
		// Indent is the leading whitespace of the line that opened the frame.
		Indent string
		// Line is the 1-based line that opened the frame; 0 for the root.
		Line int
		// Vars holds the variables declared directly in this frame.
		Vars map[string]any
		// declaredAt records the line of each explicit declaration.
		declaredAt map[string]int
	}

	// Arena owns every frame of one file.
	Arena struct {
		frames        []Frame
		indentVarName string
	}

	// DuplicateVariableError reports a second declaration of a name within
	// one frame. It wraps ErrDuplicateVariable.
	DuplicateVariableError struct {
		Name      string
		FirstLine int
	}
)

// NewArena creates an arena holding only the root frame. indentVar names the
// synthesized indentation variable; an empty name disables it.
func NewArena(indentVar string) *Arena {
	return &Arena{
		frames:        []Frame{{Depth: 0, Parent: NoParent, Vars: map[string]any{}, declaredAt: map[string]int{}}},
		indentVarName: indentVar,
	}
}

// Open creates a child frame of parent and returns its index.
func (a *Arena) Open(parent int, indent string, line int) int {
	depth := 0
	if parent >= 0 && parent < len(a.frames) {
		depth = a.frames[parent].Depth + 1
	}
	a.frames = append(a.frames, Frame{
		Depth:      depth,
		Parent:     parent,
		Indent:     indent,
		Line:       line,
		Vars:       map[string]any{},
		declaredAt: map[string]int{},
	})
	return len(a.frames) - 1
}

// Len returns the number of frames, root included.
func (a *Arena) Len() int {
	return len(a.frames)
}

// Frame returns a copy of the frame at index.
func (a *Arena) Frame(index int) (Frame, error) {
	if index < 0 || index >= len(a.frames) {
		return Frame{}, fmt.Errorf("%w: %d", ErrUnknownFrame, index)
	}
	f := a.frames[index]
	f.Vars = maps.Clone(f.Vars)
	f.declaredAt = nil
	return f, nil
}

// Declare binds name to value in frame. Declaring the same name twice in one
// frame fails; shadowing a name of an enclosing frame is allowed.
func (a *Arena) Declare(frame int, name string, value any, line int) error {
	if frame < 0 || frame >= len(a.frames) {
		return fmt.Errorf("%w: %d", ErrUnknownFrame, frame)
	}
	f := &a.frames[frame]
	if first, exists := f.declaredAt[name]; exists {
		return &DuplicateVariableError{Name: name, FirstLine: first}
	}
	f.Vars[name] = value
	f.declaredAt[name] = line
	return nil
}

// Lookup walks from frame up to the root and returns the first binding of
// name. A frame's explicit declarations take precedence over its synthesized
// indentation variable.
func (a *Arena) Lookup(frame int, name string) (any, bool) {
	for i := frame; i >= 0 && i < len(a.frames); i = a.frames[i].Parent {
		f := a.frames[i]
		if v, ok := f.Vars[name]; ok {
			return v, true
		}
		if a.indentVarName != "" && name == a.indentVarName {
			return f.Indent, true
		}
	}
	return nil, false
}

// Visible flattens every binding visible from frame; nearer frames win.
func (a *Arena) Visible(frame int) map[string]any {
	var chain []int
	for i := frame; i >= 0 && i < len(a.frames); i = a.frames[i].Parent {
		chain = append(chain, i)
	}

	out := make(map[string]any)
	for j := len(chain) - 1; j >= 0; j-- {
		f := a.frames[chain[j]]
		if a.indentVarName != "" {
			out[a.indentVarName] = f.Indent
		}
		maps.Copy(out, f.Vars)
	}
	return out
}

// Indent returns the indentation captured by frame.
func (a *Arena) Indent(frame int) string {
	if frame < 0 || frame >= len(a.frames) {
		return ""
	}
	return a.frames[frame].Indent
}

// Error implements the error interface for DuplicateVariableError.
func (e *DuplicateVariableError) Error() string {
	return fmt.Sprintf("variable %q is already declared in this scope (line %d)", e.Name, e.FirstLine)
}

// Unwrap returns ErrDuplicateVariable for errors.Is() compatibility.
func (e *DuplicateVariableError) Unwrap() error { return ErrDuplicateVariable }
