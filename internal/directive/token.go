// SPDX-License-Identifier: MPL-2.0

package directive

import "github.com/invowk/augment/internal/problem"

const (
	// KindLiteral is plain text, including line terminators.
	KindLiteral Kind = iota
	// KindBlockStart opens a generation block.
	KindBlockStart
	// KindBlockEnd closes a generation block.
	KindBlockEnd
	// KindSkipStart opens a skip region.
	KindSkipStart
	// KindSkipEnd closes a skip region.
	KindSkipEnd
	// KindNestStart opens a nested level.
	KindNestStart
	// KindNestEnd closes a nested level.
	KindNestEnd
	// KindDirective is a plain directive routed to a destination.
	KindDirective
	// KindString declares a string variable.
	KindString
	// KindJSON declares variables from a JSON object.
	KindJSON
	// KindInline marks inline generated text.
	KindInline
)

type (
	// Kind identifies the category of a Token.
	Kind int

	// Token is one recognized unit of a scanned file. Tokens of a Result
	// partition the scanned text: concatenating every Token.Text reproduces
	// it exactly.
	Token struct {
		Kind Kind
		// Marker is the alias that matched; empty for literals.
		Marker string
		// Destination is set for KindDirective tokens.
		Destination string
		// Text is the raw text covered by the token.
		Text string
		// Content is the text following the marker for rest-of-line kinds.
		Content string
		// Offset is the byte offset of Text within the scanned text.
		Offset int
		// Line is the 1-based line of the token's first byte.
		Line int
	}

	// Result is the output of Matcher.Scan.
	Result struct {
		Tokens []Token
		// LineStarts holds the byte offset of every line start; LineStarts[0]
		// is always 0.
		LineStarts []int
		// Problems holds structural problems local to scanning.
		Problems problem.List
	}
)

var kindNames = map[Kind]string{
	KindLiteral:    "literal",
	KindBlockStart: "block_start",
	KindBlockEnd:   "block_end",
	KindSkipStart:  "skip_start",
	KindSkipEnd:    "skip_end",
	KindNestStart:  "nest_start",
	KindNestEnd:    "nest_end",
	KindDirective:  "directive",
	KindString:     "string",
	KindJSON:       "json",
	KindInline:     "inline",
}

// String returns the kind's name.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// RestOfLine reports whether tokens of this kind consume the rest of the line.
func (k Kind) RestOfLine() bool {
	switch k {
	case KindDirective, KindString, KindJSON, KindInline:
		return true
	default:
		return false
	}
}

// End returns the offset just past the token.
func (t Token) End() int {
	return t.Offset + len(t.Text)
}

// IsBlank reports whether the token is a literal made only of whitespace.
func (t Token) IsBlank() bool {
	if t.Kind != KindLiteral {
		return false
	}
	for i := 0; i < len(t.Text); i++ {
		switch t.Text[i] {
		case ' ', '\t', '\r', '\n', '\f', '\v':
		default:
			return false
		}
	}
	return true
}

// LineStart returns the offset of the first byte of line, or -1 when the line
// does not exist.
func (r Result) LineStart(line int) int {
	if line < 1 || line > len(r.LineStarts) {
		return -1
	}
	return r.LineStarts[line-1]
}

// Indent returns the leading spaces and tabs of line within text.
func (r Result) Indent(text string, line int) string {
	start := r.LineStart(line)
	if start < 0 {
		return ""
	}
	end := start
	for end < len(text) && (text[end] == ' ' || text[end] == '\t') {
		end++
	}
	return text[start:end]
}
