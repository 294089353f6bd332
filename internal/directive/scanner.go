// SPDX-License-Identifier: MPL-2.0

// Package directive scans source text for comment-embedded markers.
//
// Scanning is marker-driven, not grammar-driven: markers are plain
// substrings recognized anywhere in a line, regardless of the host
// language's comment syntax. The output is purely lexical; the resolve
// package gives the tokens their meaning.
package directive

import (
	"cmp"
	"slices"
	"strings"

	"github.com/invowk/augment/internal/problem"
)

type (
	// Matcher recognizes the markers of a validated MarkerSet. It is
	// immutable and safe for concurrent use.
	Matcher struct {
		set     MarkerSet
		byFirst map[byte][]entry
	}

	entry struct {
		marker      string
		kind        Kind
		destination string
	}

	scanState struct {
		text   string
		tokens []Token
		probs  problem.List
	}
)

// NewMatcher validates set and builds a Matcher for it.
func NewMatcher(set MarkerSet) (*Matcher, error) {
	if err := set.Validate(); err != nil {
		return nil, err
	}

	m := &Matcher{set: set, byFirst: make(map[byte][]entry)}
	add := func(kind Kind, dest string, markers []string) {
		for _, marker := range markers {
			m.byFirst[marker[0]] = append(m.byFirst[marker[0]], entry{marker: marker, kind: kind, destination: dest})
		}
	}
	add(KindBlockStart, "", set.BlockStart)
	add(KindBlockEnd, "", set.BlockEnd)
	add(KindSkipStart, "", set.SkipStart)
	add(KindSkipEnd, "", set.SkipEnd)
	add(KindString, "", set.String)
	add(KindJSON, "", set.JSON)
	add(KindInline, "", set.Inline)
	add(KindNestStart, "", set.NestStart)
	add(KindNestEnd, "", set.NestEnd)
	for _, d := range set.Destinations {
		add(KindDirective, d.Name, d.Directives)
	}

	// Longest marker first so that "//-]]" wins over a "//-" prefix.
	for b := range m.byFirst {
		slices.SortStableFunc(m.byFirst[b], func(a, c entry) int {
			return cmp.Compare(len(c.marker), len(a.marker))
		})
	}
	return m, nil
}

// Markers returns the marker set the matcher was built from.
func (m *Matcher) Markers() MarkerSet {
	return m.set
}

// Scan tokenizes text. It never fails outright: an unterminated or nested
// skip region, or a skip end with no region open, is reported in
// Result.Problems (without a path; callers attach one) and the affected text
// is kept as literal.
func (m *Matcher) Scan(text string) Result {
	st := &scanState{text: text}
	lineStarts := []int{0}

	line := 1
	litStart := 0
	inSkip := false
	skipLine := 0

	pos := 0
	for pos < len(text) {
		if text[pos] == '\n' {
			pos++
			st.literal(litStart, pos, line)
			litStart = pos
			line++
			if pos < len(text) {
				lineStarts = append(lineStarts, pos)
			}
			continue
		}

		e, ok := m.match(text, pos, inSkip)
		if !ok {
			pos++
			continue
		}

		if inSkip {
			if e.kind == KindSkipStart {
				st.probs.Add(problem.New(problem.CategoryStructural, "skip_nested", "", line,
					"skip region opened with %q while another skip region is open (opened at line %d)", e.marker, skipLine))
				pos += len(e.marker)
				continue
			}
			inSkip = false
		} else if e.kind == KindSkipEnd {
			st.probs.Add(problem.New(problem.CategoryStructural, "skip_unmatched", "", line,
				"skip region closed with %q but none is open", e.marker))
			pos += len(e.marker)
			continue
		}

		st.literal(litStart, pos, line)
		tok := Token{
			Kind:        e.kind,
			Marker:      e.marker,
			Destination: e.destination,
			Offset:      pos,
			Line:        line,
		}
		end := pos + len(e.marker)
		if e.kind.RestOfLine() {
			end = lineContentEnd(text, end)
			tok.Content = text[pos+len(e.marker) : end]
		}
		tok.Text = text[pos:end]
		st.tokens = append(st.tokens, tok)

		if e.kind == KindSkipStart {
			inSkip = true
			skipLine = line
		}
		pos = end
		litStart = end
	}
	st.literal(litStart, len(text), line)

	if inSkip {
		st.probs.Add(problem.New(problem.CategoryStructural, "skip_unterminated", "", skipLine,
			"skip region is not terminated before end of file"))
	}

	return Result{Tokens: st.tokens, LineStarts: lineStarts, Problems: st.probs}
}

// match returns the longest marker at pos. Inside a skip region only skip
// markers are considered.
func (m *Matcher) match(text string, pos int, inSkip bool) (entry, bool) {
	for _, e := range m.byFirst[text[pos]] {
		if inSkip && e.kind != KindSkipEnd && e.kind != KindSkipStart {
			continue
		}
		if strings.HasPrefix(text[pos:], e.marker) {
			return e, true
		}
	}
	return entry{}, false
}

// literal appends a literal token for text[start:end] when non-empty.
func (s *scanState) literal(start, end, line int) {
	if end <= start {
		return
	}
	s.tokens = append(s.tokens, Token{
		Kind:   KindLiteral,
		Text:   s.text[start:end],
		Offset: start,
		Line:   line,
	})
}

// lineContentEnd returns the offset of the line terminator following pos
// ("\n" or "\r\n"), or len(text).
func lineContentEnd(text string, pos int) int {
	nl := strings.IndexByte(text[pos:], '\n')
	if nl < 0 {
		return len(text)
	}
	end := pos + nl
	if end > pos && text[end-1] == '\r' {
		end--
	}
	return end
}
