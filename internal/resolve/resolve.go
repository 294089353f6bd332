// SPDX-License-Identifier: MPL-2.0

// Package resolve turns a file's token stream into content parts and
// augmenting codes with their lexical scope.
package resolve

import (
	"bytes"
	"cmp"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/invowk/augment/internal/directive"
	"github.com/invowk/augment/internal/problem"
	"github.com/invowk/augment/internal/scope"
	"github.com/invowk/augment/pkg/codegen"
)

type (
	// FileInput is one decoded source file.
	FileInput struct {
		BaseDir      string
		RelativePath string
		Text         string
	}

	// Options controls resolution.
	Options struct {
		// DefaultDestination receives string, json and inline codes.
		DefaultDestination string
		// IndentVariable names the synthesized indentation variable; empty
		// disables it.
		IndentVariable string
	}

	// Result is the resolution of one file. Code IDs are local to the file
	// (1-based per destination); the pipeline renumbers them across files.
	Result struct {
		Parts    []codegen.ContentPart
		Codes    []codegen.AugmentingCode
		Arena    *scope.Arena
		Problems problem.List
	}

	openBlock struct {
		line        int
		offset      int
		frame       int
		destination string
		header      []string
		inRegion    bool
		regionStart int
		invalid     bool
	}

	plainGroup struct {
		line        int
		offset      int
		frame       int
		destination string
		lines       []string
	}

	resolver struct {
		file  FileInput
		scan  directive.Result
		opts  Options
		arena *scope.Arena

		stack  []int
		parts  []codegen.ContentPart
		codes  []codegen.AugmentingCode
		cursor int
		probs  problem.List

		// offsets[i] is where codes[i] starts in the text; partCode maps a
		// part index to its code index until ids are assigned.
		offsets  []int
		partCode map[int]int

		block *openBlock
		group *plainGroup
	}
)

// Resolve processes the tokens of one file. It never stops at the first
// problem: every structural and content problem is recorded in
// Result.Problems and resolution carries on with the rest of the file.
func Resolve(file FileInput, scan directive.Result, opts Options) Result {
	r := &resolver{
		file:   file,
		scan:   scan,
		opts:   opts,
		arena:    scope.NewArena(opts.IndentVariable),
		partCode: make(map[int]int),
	}
	r.probs.Extend(scan.Problems.WithPath(file.RelativePath))

	toks := scan.Tokens
	for i := 0; i < len(toks); {
		j := i
		for j < len(toks) && toks[j].Line == toks[i].Line {
			j++
		}
		r.line(toks[i].Line, toks[i:j])
		i = j
	}
	r.finish()

	return Result{Parts: r.parts, Codes: r.codes, Arena: r.arena, Problems: r.probs}
}

func (r *resolver) current() int {
	if len(r.stack) == 0 {
		return scope.Root
	}
	return r.stack[len(r.stack)-1]
}

func (r *resolver) problem(category problem.Category, code string, line int, format string, args ...any) {
	r.probs.Add(problem.New(category, code, r.file.RelativePath, line, format, args...))
}

// line handles all tokens of one source line.
func (r *resolver) line(line int, toks []directive.Token) {
	first := slices.IndexFunc(toks, func(t directive.Token) bool { return !t.IsBlank() })
	directiveFirst := first >= 0 && toks[first].Kind == directive.KindDirective

	if b := r.block; b != nil {
		if !b.inRegion {
			if directiveFirst {
				r.header(toks[first])
				return
			}
			b.inRegion = true
			b.regionStart = r.scan.LineStart(line)
			if len(b.header) == 0 {
				b.invalid = true
				r.problem(problem.CategoryStructural, "block_without_code", b.line,
					"generation block has no code lines")
			}
		}
		for i, tok := range toks {
			switch tok.Kind {
			case directive.KindBlockEnd:
				r.closeBlock(line)
				r.tokens(line, toks[i+1:], tok.End())
				return
			case directive.KindBlockStart:
				r.problem(problem.CategoryStructural, "block_nested", line,
					"generation block opened inside the block started at line %d", b.line)
			}
		}
		return
	}

	if directiveFirst {
		tok := toks[first]
		if g := r.group; g != nil && g.destination == tok.Destination && g.frame == r.current() {
			g.lines = append(g.lines, tok.Content)
			return
		}
		r.flushGroup()
		r.group = &plainGroup{line: line, offset: tok.Offset, frame: r.current(), destination: tok.Destination, lines: []string{tok.Content}}
		return
	}

	r.flushGroup()
	r.tokens(line, toks, r.scan.LineStart(line))
}

// tokens handles the tokens of a line outside any generation block region.
// spanStart is where an inline part on this line may begin.
func (r *resolver) tokens(line int, toks []directive.Token, spanStart int) {
	for _, tok := range toks {
		if b := r.block; b != nil && !b.inRegion {
			switch tok.Kind {
			case directive.KindDirective:
				r.header(tok)
				continue
			case directive.KindBlockEnd:
				r.block = nil
				r.problem(problem.CategoryStructural, "block_end_on_header", line,
					"generation block is closed on its own start line")
				continue
			}
		}

		switch tok.Kind {
		case directive.KindLiteral:
			continue
		case directive.KindNestStart:
			r.stack = append(r.stack, r.arena.Open(r.current(), r.scan.Indent(r.file.Text, line), line))
		case directive.KindNestEnd:
			if len(r.stack) == 0 {
				r.problem(problem.CategoryStructural, "nest_unmatched", line,
					"nesting end %q has no matching start", tok.Marker)
			} else {
				r.stack = r.stack[:len(r.stack)-1]
			}
		case directive.KindString:
			r.declareString(tok)
		case directive.KindJSON:
			r.declareJSON(tok)
		case directive.KindInline:
			r.inline(tok, spanStart)
		case directive.KindDirective:
			r.addCode(codegen.AugmentingCode{
				Kind:        codegen.KindPlain,
				Content:     tok.Content,
				Line:        line,
				Destination: tok.Destination,
				Frame:       r.current(),
			}, tok.Offset)
		case directive.KindBlockStart:
			if r.block != nil {
				r.problem(problem.CategoryStructural, "block_nested", line,
					"generation block opened inside the block started at line %d", r.block.line)
			} else {
				r.block = &openBlock{line: line, offset: tok.Offset, frame: r.current()}
			}
		case directive.KindBlockEnd:
			r.problem(problem.CategoryStructural, "block_unmatched", line,
				"block end %q has no matching start", tok.Marker)
		}
		// Skip markers are kept as literal text but still bound inline spans.
		spanStart = tok.End()
	}
}

// header records one code line of the open block.
func (r *resolver) header(tok directive.Token) {
	b := r.block
	switch {
	case b.destination == "":
		b.destination = tok.Destination
	case b.destination != tok.Destination:
		if !b.invalid {
			r.problem(problem.CategoryStructural, "block_mixed_destinations", tok.Line,
				"generation block started at line %d mixes destinations %q and %q", b.line, b.destination, tok.Destination)
		}
		b.invalid = true
	}
	b.header = append(b.header, tok.Content)
}

// closeBlock emits the region of the open block, which ends where line
// begins.
func (r *resolver) closeBlock(line int) {
	b := r.block
	r.block = nil
	if b.invalid {
		return
	}
	r.addPart(b.regionStart, r.scan.LineStart(line), codegen.AugmentingCode{
		Kind:        codegen.KindBlock,
		Content:     strings.Join(b.header, "\n"),
		Line:        b.line,
		Destination: b.destination,
		Frame:       b.frame,
	}, b.offset)
}

func (r *resolver) flushGroup() {
	g := r.group
	if g == nil {
		return
	}
	r.group = nil
	r.addCode(codegen.AugmentingCode{
		Kind:        codegen.KindPlain,
		Content:     strings.Join(g.lines, "\n"),
		Line:        g.line,
		Destination: g.destination,
		Frame:       g.frame,
	}, g.offset)
}

func (r *resolver) declareString(tok directive.Token) {
	name, value, ok := strings.Cut(tok.Content, "=")
	name = strings.TrimSpace(name)
	if !ok || name == "" {
		r.problem(problem.CategoryContent, "string_malformed", tok.Line,
			"string directive must have the form name=value, got %q", strings.TrimSpace(tok.Content))
		return
	}
	value = strings.TrimSpace(value)
	if !r.declare(name, value, tok.Line) {
		return
	}
	r.addCode(codegen.AugmentingCode{
		Kind:        codegen.KindString,
		Content:     tok.Content,
		Name:        name,
		Value:       value,
		Line:        tok.Line,
		Destination: r.opts.DefaultDestination,
		Frame:       r.current(),
	}, tok.Offset)
}

func (r *resolver) declareJSON(tok directive.Token) {
	dec := json.NewDecoder(bytes.NewReader([]byte(tok.Content)))
	dec.UseNumber()
	var value any
	if err := dec.Decode(&value); err != nil {
		r.probs.Add(problem.Wrap(problem.CategoryContent, "json_malformed", r.file.RelativePath, tok.Line,
			fmt.Errorf("embedded JSON does not parse: %w", err)))
		return
	}
	if dec.More() {
		r.problem(problem.CategoryContent, "json_malformed", tok.Line, "embedded JSON has trailing data")
		return
	}
	obj, ok := value.(map[string]any)
	if !ok {
		r.problem(problem.CategoryContent, "json_not_object", tok.Line, "embedded JSON must be an object")
		return
	}

	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	declared := true
	for _, k := range keys {
		declared = r.declare(k, obj[k], tok.Line) && declared
	}
	if !declared {
		return
	}
	r.addCode(codegen.AugmentingCode{
		Kind:        codegen.KindJSON,
		Content:     tok.Content,
		Value:       obj,
		Line:        tok.Line,
		Destination: r.opts.DefaultDestination,
		Frame:       r.current(),
	}, tok.Offset)
}

func (r *resolver) declare(name string, value any, line int) bool {
	if err := r.arena.Declare(r.current(), name, value, line); err != nil {
		r.probs.Add(problem.Wrap(problem.CategoryContent, "duplicate_variable", r.file.RelativePath, line, err))
		return false
	}
	return true
}

// inline emits the text between spanStart and the marker, without the
// surrounding whitespace, as an augmenting part.
func (r *resolver) inline(tok directive.Token, spanStart int) {
	text := r.file.Text
	start, end := spanStart, tok.Offset
	for start < end && isSpace(text[start]) {
		start++
	}
	for end > start && isSpace(text[end-1]) {
		end--
	}
	r.addPart(start, end, codegen.AugmentingCode{
		Kind:        codegen.KindInline,
		Content:     tok.Content,
		Line:        tok.Line,
		Destination: r.opts.DefaultDestination,
		Frame:       r.current(),
	}, tok.Offset)
}

// addPart emits the literal gap before start and an augmenting part for
// text[start:end] bound to code, which starts at offset.
func (r *resolver) addPart(start, end int, code codegen.AugmentingCode, offset int) {
	if start > r.cursor {
		r.parts = append(r.parts, codegen.ContentPart{Content: r.file.Text[r.cursor:start]})
	}
	code.HasPart = true
	r.partCode[len(r.parts)] = r.addCode(code, offset)
	r.parts = append(r.parts, codegen.ContentPart{
		Content:          r.file.Text[start:end],
		IsAugmentingCode: true,
		Destination:      code.Destination,
		Kind:             code.Kind,
		Line:             code.Line,
	})
	r.cursor = end
}

// addCode records code, which starts at offset, and returns its index.
func (r *resolver) addCode(code codegen.AugmentingCode, offset int) int {
	code.File = r.file.RelativePath
	r.codes = append(r.codes, code)
	r.offsets = append(r.offsets, offset)
	return len(r.codes) - 1
}

// number orders the codes by where they start and assigns ids per
// destination in that order. Blocks are recorded at their end marker.
func (r *resolver) number() {
	order := make([]int, len(r.codes))
	for i := range order {
		order[i] = i
	}
	slices.SortStableFunc(order, func(a, b int) int { return cmp.Compare(r.offsets[a], r.offsets[b]) })

	next := make(map[string]int)
	sorted := make([]codegen.AugmentingCode, len(r.codes))
	position := make([]int, len(r.codes))
	for n, i := range order {
		c := r.codes[i]
		next[c.Destination]++
		c.ID = next[c.Destination]
		sorted[n] = c
		position[i] = n
	}
	for part, i := range r.partCode {
		r.parts[part].ID = sorted[position[i]].ID
	}
	r.codes = sorted
}

// finish reports what is still open, emits the trailing literal and binds
// every code to its now final scope.
func (r *resolver) finish() {
	r.flushGroup()
	if b := r.block; b != nil {
		r.problem(problem.CategoryStructural, "block_unterminated", b.line,
			"generation block is not terminated before end of file")
		r.block = nil
	}
	for _, frame := range r.stack {
		f, err := r.arena.Frame(frame)
		if err != nil {
			continue
		}
		r.problem(problem.CategoryStructural, "nest_unterminated", f.Line,
			"nesting level opened here is not closed before end of file")
	}

	if r.cursor < len(r.file.Text) {
		r.parts = append(r.parts, codegen.ContentPart{Content: r.file.Text[r.cursor:]})
	}
	r.number()

	indents := make(map[codegen.Key]string, len(r.codes))
	for i := range r.codes {
		c := &r.codes[i]
		c.Indent = r.arena.Indent(c.Frame)
		c.Variables = r.arena.Visible(c.Frame)
		indents[c.Key()] = c.Indent
	}
	for i := range r.parts {
		if k, ok := r.parts[i].Key(); ok {
			r.parts[i].Indent = indents[k]
		}
	}
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t'
}
