// SPDX-License-Identifier: MPL-2.0

// Package merge reassembles source files from their content parts and the
// evaluator's responses, and writes only the files whose bytes changed.
package merge

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
	"golang.org/x/sync/errgroup"

	"github.com/invowk/augment/internal/problem"
	"github.com/invowk/augment/pkg/codegen"
)

// ErrChangesDetected is returned by Outcome.Check when files changed and the
// run was asked to fail on changes.
var ErrChangesDetected = errors.New("files changed")

type (
	// Encoder converts merged text to file bytes.
	Encoder interface {
		Encode(text string) ([]byte, error)
	}

	// Engine merges prepared files with evaluator responses.
	Engine struct {
		Codec Encoder
		// ChangeDetection compares merged bytes with the destination and
		// writes only when they differ. When false every file is written.
		ChangeDetection bool
		// OutputDir, when set, receives the merged files under their
		// relative paths instead of overwriting the sources.
		OutputDir string
		// Workers bounds concurrent file merges; zero means GOMAXPROCS.
		Workers int
		Logger  codegen.Logger
	}

	// Outcome is the result of Engine.Merge.
	Outcome struct {
		// Summary lists changed files in prep order. It is only filled when
		// change detection is enabled.
		Summary codegen.ChangeSummary
		// Completion is filled when change detection is disabled.
		Completion codegen.CompletionMarker
		// Written counts the files written to disk.
		Written int
	}

	fileResult struct {
		changed *codegen.ChangedFile
		written bool
		probs   problem.List
	}
)

// Merge reassembles every file of prep. Problems are accumulated per file;
// a file with problems is not written, the others still are.
func (e *Engine) Merge(ctx context.Context, prep *codegen.PrepDocument, responses []codegen.Response) (Outcome, problem.List) {
	logger := e.Logger
	if logger == nil {
		logger = codegen.NopLogger()
	}

	idx, probs := buildIndex(prep, responses)

	results := make([]fileResult, len(prep.Files))
	g, gctx := errgroup.WithContext(ctx)
	workers := e.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	g.SetLimit(workers)
	for i := range prep.Files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = e.mergeFile(prep.Files[i], idx)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		probs.Add(problem.Wrap(problem.CategoryIO, "merge_cancelled", "", 0, err))
	}

	var out Outcome
	out.Summary.ChangedFiles = []codegen.ChangedFile{}
	for i, r := range results {
		probs.Extend(r.probs)
		if r.written {
			out.Written++
		}
		if r.changed != nil {
			out.Summary.ChangedFiles = append(out.Summary.ChangedFiles, *r.changed)
			logger.Info("changed", "file", prep.Files[i].RelativePath,
				"added", r.changed.LinesAdded, "removed", r.changed.LinesRemoved)
		} else if len(r.probs) == 0 {
			logger.Debug("unchanged", "file", prep.Files[i].RelativePath)
		}
	}
	if !e.ChangeDetection {
		out.Summary = codegen.ChangeSummary{}
		out.Completion = codegen.CompletionMarker{Completed: len(probs) == 0, Files: out.Written}
	}
	return out, probs
}

// Check returns ErrChangesDetected when failOnChanges is set and files
// changed.
func (o Outcome) Check(failOnChanges bool) error {
	if failOnChanges && len(o.Summary.ChangedFiles) > 0 {
		return fmt.Errorf("%w: %d file(s)", ErrChangesDetected, len(o.Summary.ChangedFiles))
	}
	return nil
}

// Assemble builds the merged text of one file. Every augmenting part without
// a response is reported; the returned text is only meaningful when no
// problems were reported.
func Assemble(f codegen.SourceFile, lookup func(codegen.Key) (codegen.GeneratedCode, bool)) (string, problem.List) {
	var (
		sb    strings.Builder
		probs problem.List
	)
	for _, p := range f.Parts {
		k, ok := p.Key()
		if !ok {
			sb.WriteString(p.Content)
			continue
		}
		gen, found := lookup(k)
		if !found {
			probs.Add(problem.New(problem.CategoryContent, "response_missing", f.RelativePath, p.Line,
				"no response for %s code %s", p.Kind, k))
			continue
		}
		sb.WriteString(replacement(p, gen))
	}
	return sb.String(), probs
}

func (e *Engine) mergeFile(f codegen.SourceFile, idx *index) fileResult {
	text, probs := Assemble(f, idx.lookup)
	if len(probs) > 0 {
		return fileResult{probs: probs}
	}

	data, err := e.Codec.Encode(text)
	if err != nil {
		return fileResult{probs: problem.List{problem.Wrap(problem.CategoryContent, "encode_failed", f.RelativePath, 0, err)}}
	}

	destDir := f.BaseDir
	if e.OutputDir != "" {
		destDir = e.OutputDir
	}
	dest := filepath.Join(destDir, filepath.FromSlash(f.RelativePath))

	current, mode, exists, err := readCurrent(dest)
	if err != nil {
		return fileResult{probs: problem.List{problem.Wrap(problem.CategoryIO, "read_failed", f.RelativePath, 0, err)}}
	}
	if e.OutputDir == "" && f.Digest != "" && exists && codegen.Digest(current) != f.Digest {
		return fileResult{probs: problem.List{problem.New(problem.CategoryIO, "source_modified", f.RelativePath, 0,
			"%s was modified since it was prepared; prepare again before merging", dest)}}
	}

	if e.ChangeDetection && exists && bytes.Equal(current, data) {
		return fileResult{}
	}
	if err := codegen.WriteFileAtomic(dest, data, mode); err != nil {
		return fileResult{probs: problem.List{problem.Wrap(problem.CategoryIO, "write_failed", f.RelativePath, 0, err)}}
	}

	res := fileResult{written: true}
	if e.ChangeDetection {
		added, removed := LineChanges(string(current), string(data))
		res.changed = &codegen.ChangedFile{
			DestDir:      destDir,
			RelativePath: f.RelativePath,
			LinesAdded:   added,
			LinesRemoved: removed,
		}
	}
	return res
}

// readCurrent returns the destination's bytes and mode. A missing file
// yields exists == false and the default mode.
func readCurrent(path string) (data []byte, mode os.FileMode, exists bool, err error) {
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, 0o644, false, nil
	}
	if err != nil {
		return nil, 0, false, err
	}
	data, err = os.ReadFile(path)
	if err != nil {
		return nil, 0, false, err
	}
	return data, info.Mode().Perm(), true, nil
}

// LineChanges counts the lines added and removed between two texts.
func LineChanges(before, after string) (added, removed int) {
	dmp := diffmatchpatch.New()
	a, b, lines := dmp.DiffLinesToChars(before, after)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lines)
	for _, d := range diffs {
		n := strings.Count(d.Text, "\n")
		if d.Text != "" && !strings.HasSuffix(d.Text, "\n") {
			n++
		}
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			added += n
		case diffmatchpatch.DiffDelete:
			removed += n
		}
	}
	return added, removed
}
