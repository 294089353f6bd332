// SPDX-License-Identifier: MPL-2.0

package codegen

import (
	"fmt"
	"path/filepath"
	"strings"
)

const (
	// KindPlain is a standalone group of plain directive lines. It has no
	// content part of its own.
	KindPlain Kind = "plain"
	// KindBlock is a generation block whose region is replaced by output.
	KindBlock Kind = "block"
	// KindString declares a string variable.
	KindString Kind = "string"
	// KindJSON declares variables from a JSON object.
	KindJSON Kind = "json"
	// KindInline replaces a span of a single line.
	KindInline Kind = "inline"
)

type (
	// Kind identifies the directive an AugmentingCode came from.
	Kind string

	// AugmentingCode is one directive occurrence handed to an evaluator.
	AugmentingCode struct {
		// ID is unique within the destination request, 1-based, assigned in
		// first-seen order (file, then line, then position in line).
		ID   int  `json:"id"`
		Kind Kind `json:"kind"`
		// Content is the raw directive code. Multi-line plain and block code
		// is joined with "\n".
		Content string `json:"content,omitempty"`
		// Name is the declared variable of a string directive.
		Name string `json:"name,omitempty"`
		// Value is the parsed JSON object of a json directive or the string
		// value of a string directive.
		Value any `json:"value,omitempty"`
		// File is the originating file's path relative to its base directory.
		File        string `json:"destFile"`
		Line        int    `json:"lineNumber"`
		Destination string `json:"destination"`
		// Frame is the index of the owning scope frame within the file.
		Frame int `json:"frame"`
		// Indent is the owning frame's captured indentation.
		Indent string `json:"indent,omitempty"`
		// Variables is the scope visible from the owning frame, resolved
		// after the whole file was processed.
		Variables map[string]any `json:"variables,omitempty"`
		// HasPart reports whether a content part awaits this code's output.
		HasPart bool `json:"hasPart,omitempty"`
	}

	// ContentPart is a contiguous slice of a file. A file's parts
	// concatenated in order reproduce it exactly.
	ContentPart struct {
		Content          string `json:"content"`
		IsAugmentingCode bool   `json:"isAugmentingCode"`
		Destination      string `json:"destination,omitempty"`
		ID               int    `json:"id,omitempty"`
		Kind             Kind   `json:"kind,omitempty"`
		Indent           string `json:"indent,omitempty"`
		Line             int    `json:"line,omitempty"`
	}

	// SourceFile describes one scanned input file.
	SourceFile struct {
		BaseDir      string `json:"baseDir"`
		RelativePath string `json:"relativePath"`
		// Digest is the xxhash64 of the file's encoded bytes at preparation.
		Digest string        `json:"digest,omitempty"`
		Parts  []ContentPart `json:"contentParts"`
	}

	// Segment is one piece of generated text.
	Segment struct {
		Content string `json:"content"`
	}

	// GeneratedCode is an evaluator's answer for one AugmentingCode.
	GeneratedCode struct {
		// Skip means "leave the original text unchanged".
		Skip     bool
		Segments []Segment
	}

	// Scope is the resolved scope handed to an evaluator alongside a code.
	Scope struct {
		Indent    string
		Variables map[string]any
	}

	// Key identifies an AugmentingCode across destinations.
	Key struct {
		Destination string
		ID          int
	}
)

// Skipped returns a GeneratedCode that keeps the original text.
func Skipped() GeneratedCode {
	return GeneratedCode{Skip: true}
}

// Text returns the generated code as one string.
func Text(segments ...string) GeneratedCode {
	out := GeneratedCode{Segments: make([]Segment, len(segments))}
	for i, s := range segments {
		out.Segments[i] = Segment{Content: s}
	}
	return out
}

// Key returns the code's cross-destination key.
func (c AugmentingCode) Key() Key {
	return Key{Destination: c.Destination, ID: c.ID}
}

// Scope returns the resolved scope carried by the code.
func (c AugmentingCode) Scope() Scope {
	return Scope{Indent: c.Indent, Variables: c.Variables}
}

// Key returns the part's cross-destination key; ok is false for literals.
func (p ContentPart) Key() (Key, bool) {
	if !p.IsAugmentingCode {
		return Key{}, false
	}
	return Key{Destination: p.Destination, ID: p.ID}, true
}

// Lookup returns the value bound to name.
func (s Scope) Lookup(name string) (any, bool) {
	v, ok := s.Variables[name]
	return v, ok
}

// String renders the key as "destination#id".
func (k Key) String() string {
	return fmt.Sprintf("%s#%d", k.Destination, k.ID)
}

// Join concatenates the content of parts.
func Join(parts []ContentPart) string {
	var sb strings.Builder
	for _, p := range parts {
		sb.WriteString(p.Content)
	}
	return sb.String()
}

// Path returns the file's location on disk.
func (f SourceFile) Path() string {
	return filepath.Join(f.BaseDir, filepath.FromSlash(f.RelativePath))
}
