// SPDX-License-Identifier: MPL-2.0

// Package problem accumulates per-file problems found while preparing and
// merging augmented sources.
//
// Stages never stop at the first problem. They append to a List and the
// run-level caller decides, once every file has been processed, whether the
// run failed. Configuration errors are not Problems: they abort before any
// file is read and travel as plain errors.
package problem

import (
	"errors"
	"fmt"
	"strings"
)

const (
	// CategoryConfiguration covers invalid marker sets and settings.
	CategoryConfiguration Category = "configuration"
	// CategoryStructural covers unbalanced or misplaced markers.
	CategoryStructural Category = "structural"
	// CategoryContent covers malformed directive content, evaluator failures
	// and bad response documents.
	CategoryContent Category = "content"
	// CategoryIO covers unreadable or unwritable files.
	CategoryIO Category = "io"
)

// ErrProblems is the sentinel wrapped by Report.
var ErrProblems = errors.New("augment problems")

type (
	// Category classifies a Problem.
	Category string

	// Problem is a single accumulated failure. Line is 1-based; zero means the
	// problem is not tied to a line.
	Problem struct {
		Category Category
		// Code is a machine-readable identifier (e.g., "skip_unterminated").
		Code    string
		Path    string
		Line    int
		Message string
		Cause   error
	}

	// List is an ordered collection of problems. The zero value is ready to use.
	List []Problem

	// Report is the error returned by List.Err. It keeps the problems in the
	// order they were recorded.
	Report struct {
		Problems List
	}
)

// New creates a Problem.
func New(category Category, code, path string, line int, format string, args ...any) Problem {
	return Problem{
		Category: category,
		Code:     code,
		Path:     path,
		Line:     line,
		Message:  fmt.Sprintf(format, args...),
	}
}

// Wrap creates a Problem carrying cause. The message is the cause's text.
func Wrap(category Category, code, path string, line int, cause error) Problem {
	return Problem{
		Category: category,
		Code:     code,
		Path:     path,
		Line:     line,
		Message:  cause.Error(),
		Cause:    cause,
	}
}

// String renders the problem as "path:line: [category] message".
func (p Problem) String() string {
	var sb strings.Builder
	if p.Path != "" {
		sb.WriteString(p.Path)
		if p.Line > 0 {
			fmt.Fprintf(&sb, ":%d", p.Line)
		}
		sb.WriteString(": ")
	}
	fmt.Fprintf(&sb, "[%s] %s", p.Category, p.Message)
	return sb.String()
}

// Add appends problems to the list.
func (l *List) Add(p ...Problem) {
	*l = append(*l, p...)
}

// Extend appends every problem of other.
func (l *List) Extend(other List) {
	*l = append(*l, other...)
}

// WithPath returns a copy of the list with Path set on problems that lack one.
func (l List) WithPath(path string) List {
	if len(l) == 0 {
		return nil
	}
	out := make(List, len(l))
	for i, p := range l {
		if p.Path == "" {
			p.Path = path
		}
		out[i] = p
	}
	return out
}

// Count returns the number of problems in category.
func (l List) Count(category Category) int {
	n := 0
	for _, p := range l {
		if p.Category == category {
			n++
		}
	}
	return n
}

// ForPath returns the problems recorded for path.
func (l List) ForPath(path string) List {
	var out List
	for _, p := range l {
		if p.Path == path {
			out = append(out, p)
		}
	}
	return out
}

// Err returns nil for an empty list and a *Report otherwise.
func (l List) Err() error {
	if len(l) == 0 {
		return nil
	}
	return &Report{Problems: l}
}

// Error implements the error interface for Report.
func (r *Report) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d problem(s):", len(r.Problems))
	for _, p := range r.Problems {
		sb.WriteString("\n  ")
		sb.WriteString(p.String())
	}
	return sb.String()
}

// Unwrap returns ErrProblems for errors.Is() compatibility.
func (r *Report) Unwrap() error { return ErrProblems }
