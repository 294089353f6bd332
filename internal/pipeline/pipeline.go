// SPDX-License-Identifier: MPL-2.0

// Package pipeline orchestrates a run: prepare (read, decode, scan, resolve),
// generate (evaluate every request) and merge.
//
// Per-file stages run on a bounded worker pool. Every worker writes only its
// own slot of a pre-sized result slice and the slice is consumed in input
// order, so concurrency never shows in ids, documents or summaries.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/invowk/augment/internal/charset"
	"github.com/invowk/augment/internal/directive"
	"github.com/invowk/augment/internal/discovery"
	"github.com/invowk/augment/internal/merge"
	"github.com/invowk/augment/internal/problem"
	"github.com/invowk/augment/internal/resolve"
	"github.com/invowk/augment/pkg/codegen"
)

type (
	// Runner holds the validated, read-only state shared by every stage.
	Runner struct {
		Matcher *directive.Matcher
		Codec   *charset.Codec
		// IndentVariable names the synthesized indentation variable.
		IndentVariable string
		// Workers bounds per-file concurrency; zero means GOMAXPROCS.
		Workers int
		// WorkDir receives the prep, request, response and summary documents.
		WorkDir string
		// ChangeDetection and OutputDir configure the merge engine.
		ChangeDetection bool
		OutputDir       string
		Logger          codegen.Logger
	}

	// Prepared is the outcome of Prepare.
	Prepared struct {
		Doc      *codegen.PrepDocument
		Requests []codegen.Request
	}

	prepSlot struct {
		file  codegen.SourceFile
		codes []codegen.AugmentingCode
		probs problem.List
	}
)

func (r *Runner) logger() codegen.Logger {
	if r.Logger == nil {
		return codegen.NopLogger()
	}
	return r.Logger
}

func (r *Runner) workers() int {
	if r.Workers > 0 {
		return r.Workers
	}
	return runtime.GOMAXPROCS(0)
}

// Prepare reads, scans and resolves files, then numbers codes per
// destination in input order. Problems of one file never stop the others.
func (r *Runner) Prepare(ctx context.Context, files []discovery.File) (*Prepared, problem.List) {
	markers := r.Matcher.Markers()
	opts := resolve.Options{
		DefaultDestination: markers.DefaultDestination(),
		IndentVariable:     r.IndentVariable,
	}

	slots := make([]prepSlot, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers())
	for i, f := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			slots[i] = r.prepareFile(f, opts)
			return nil
		})
	}

	var probs problem.List
	if err := g.Wait(); err != nil {
		probs.Add(problem.Wrap(problem.CategoryIO, "prepare_cancelled", "", 0, err))
	}

	doc := &codegen.PrepDocument{
		Encoding:   r.Codec.Name(),
		Files:      make([]codegen.SourceFile, 0, len(files)),
		CodeCounts: make(map[string]int),
	}
	for _, d := range markers.DestinationNames() {
		doc.CodeCounts[d] = 0
	}
	var codes []codegen.AugmentingCode
	for _, s := range slots {
		probs.Extend(s.probs)
		if s.file.RelativePath == "" {
			continue
		}
		fileCodes := renumber(&s.file, s.codes, doc.CodeCounts)
		codes = append(codes, fileCodes...)
		doc.Files = append(doc.Files, s.file)
		r.logger().Debug("prepared", "file", s.file.RelativePath, "codes", len(fileCodes), "parts", len(s.file.Parts))
	}

	return &Prepared{Doc: doc, Requests: codegen.Requests(markers.DestinationNames(), codes)}, probs
}

// prepareFile handles one file. A file that cannot be read or decoded is
// left out of the prep document; a file with structural or content problems
// is kept so that its other parts can still be inspected.
func (r *Runner) prepareFile(f discovery.File, opts resolve.Options) prepSlot {
	data, err := os.ReadFile(f.Path())
	if err != nil {
		return prepSlot{probs: problem.List{problem.Wrap(problem.CategoryIO, "read_failed", f.RelativePath, 0, err)}}
	}
	text, err := r.Codec.Decode(data)
	if err != nil {
		return prepSlot{probs: problem.List{problem.Wrap(problem.CategoryIO, "decode_failed", f.RelativePath, 0, err)}}
	}

	res := resolve.Resolve(
		resolve.FileInput{BaseDir: f.BaseDir, RelativePath: f.RelativePath, Text: text},
		r.Matcher.Scan(text),
		opts,
	)
	return prepSlot{
		file: codegen.SourceFile{
			BaseDir:      f.BaseDir,
			RelativePath: f.RelativePath,
			Digest:       codegen.Digest(data),
			Parts:        res.Parts,
		},
		codes: res.Codes,
		probs: res.Problems,
	}
}

// renumber turns the file-local ids of file and codes into run-wide ids,
// advancing counts per destination.
func renumber(file *codegen.SourceFile, codes []codegen.AugmentingCode, counts map[string]int) []codegen.AugmentingCode {
	offsets := make(map[string]int, len(counts))
	for d, n := range counts {
		offsets[d] = n
	}
	out := make([]codegen.AugmentingCode, len(codes))
	for i, c := range codes {
		c.ID += offsets[c.Destination]
		counts[c.Destination] = max(counts[c.Destination], c.ID)
		out[i] = c
	}
	for i := range file.Parts {
		if file.Parts[i].IsAugmentingCode {
			file.Parts[i].ID += offsets[file.Parts[i].Destination]
		}
	}
	return out
}

// Generate evaluates every request. Destinations are evaluated concurrently,
// the codes of one destination sequentially in request order. A failing
// code is reported and answered with skip so that its file keeps the
// original text. A FileEvaluator is told when each file is done.
func (r *Runner) Generate(ctx context.Context, ev codegen.Evaluator, requests []codegen.Request) ([]codegen.Response, problem.List) {
	responses := make([]codegen.Response, len(requests))
	slotProbs := make([]problem.List, len(requests))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers())
	fe, stateful := ev.(codegen.FileEvaluator)
	for i, req := range requests {
		g.Go(func() error {
			resp := codegen.Response{Destination: req.Destination, Results: make([]codegen.Result, 0, len(req.Codes))}
			for j, code := range req.Codes {
				if err := gctx.Err(); err != nil {
					return err
				}
				if stateful && j > 0 && req.Codes[j-1].File != code.File {
					fe.Forget(req.Destination, req.Codes[j-1].File)
				}
				gen, err := ev.Evaluate(gctx, code, code.Scope())
				if err != nil {
					slotProbs[i].Add(problem.Wrap(problem.CategoryContent, "evaluation_failed", code.File, code.Line, err))
					gen = codegen.Skipped()
				}
				resp.Results = append(resp.Results, codegen.NewResult(code.ID, gen))
			}
			if stateful && len(req.Codes) > 0 {
				fe.Forget(req.Destination, req.Codes[len(req.Codes)-1].File)
			}
			responses[i] = resp
			r.logger().Debug("generated", "destination", req.Destination, "codes", len(req.Codes))
			return nil
		})
	}

	var probs problem.List
	if err := g.Wait(); err != nil {
		probs.Add(problem.Wrap(problem.CategoryContent, "generate_cancelled", "", 0, err))
	}
	for _, p := range slotProbs {
		probs.Extend(p)
	}
	return responses, probs
}

// Merge runs the merge engine over prep and responses and writes the
// outcome document. Files are encoded with the charset recorded in prep,
// which is the one they were decoded with.
func (r *Runner) Merge(ctx context.Context, prep *codegen.PrepDocument, responses []codegen.Response) (merge.Outcome, problem.List) {
	codec, err := r.prepCodec(prep)
	if err != nil {
		return merge.Outcome{}, problem.List{problem.Wrap(problem.CategoryConfiguration, "prep_encoding", codegen.PrepFileName, 0, err)}
	}
	engine := &merge.Engine{
		Codec:           codec,
		ChangeDetection: r.ChangeDetection,
		OutputDir:       r.OutputDir,
		Workers:         r.workers(),
		Logger:          r.logger(),
	}
	out, probs := engine.Merge(ctx, prep, responses)
	if err := r.writeOutcome(out); err != nil {
		probs.Add(problem.Wrap(problem.CategoryIO, "write_failed", r.WorkDir, 0, err))
	}
	return out, probs
}

func (r *Runner) prepCodec(prep *codegen.PrepDocument) (*charset.Codec, error) {
	if prep.Encoding == "" {
		return r.Codec, nil
	}
	codec, err := charset.Lookup(prep.Encoding)
	if err != nil {
		return nil, fmt.Errorf("prep document encoding: %w", err)
	}
	if codec.Name() != r.Codec.Name() {
		r.logger().Warn("prep document encoding differs from the configured one; using the prep encoding",
			"prep", codec.Name(), "configured", r.Codec.Name())
	}
	return codec, nil
}

// Run prepares, generates and merges in one pass, writing every document to
// WorkDir along the way. Merge is skipped when preparation reported
// problems, since a partially resolved file must not be rewritten; the
// outcome document of the previous run is then left in place. Codes that
// failed to evaluate are merged as skips.
func (r *Runner) Run(ctx context.Context, files []discovery.File, ev codegen.Evaluator) (merge.Outcome, problem.List) {
	prepared, probs := r.Prepare(ctx, files)
	if err := r.WritePrepared(prepared); err != nil {
		probs.Add(problem.Wrap(problem.CategoryIO, "write_failed", r.WorkDir, 0, err))
		return merge.Outcome{}, probs
	}
	if len(probs) > 0 {
		return merge.Outcome{}, probs
	}

	responses, genProbs := r.Generate(ctx, ev, prepared.Requests)
	probs.Extend(genProbs)
	if err := r.WriteResponses(responses); err != nil {
		probs.Add(problem.Wrap(problem.CategoryIO, "write_failed", r.WorkDir, 0, err))
		return merge.Outcome{}, probs
	}

	out, mergeProbs := r.Merge(ctx, prepared.Doc, responses)
	probs.Extend(mergeProbs)
	return out, probs
}

// WritePrepared writes the prep document and one request per destination.
func (r *Runner) WritePrepared(p *Prepared) error {
	if err := codegen.WriteJSON(filepath.Join(r.WorkDir, codegen.PrepFileName), p.Doc); err != nil {
		return err
	}
	for _, req := range p.Requests {
		if err := codegen.WriteJSON(filepath.Join(r.WorkDir, codegen.RequestFileName(req.Destination)), req); err != nil {
			return err
		}
	}
	return nil
}

// WriteResponses writes one response document per destination.
func (r *Runner) WriteResponses(responses []codegen.Response) error {
	for _, resp := range responses {
		if err := codegen.WriteJSON(filepath.Join(r.WorkDir, codegen.ResponseFileName(resp.Destination)), resp); err != nil {
			return err
		}
	}
	return nil
}

// writeOutcome writes the change summary, or the completion marker when
// change detection is disabled.
func (r *Runner) writeOutcome(out merge.Outcome) error {
	if r.ChangeDetection {
		return codegen.WriteJSON(filepath.Join(r.WorkDir, codegen.ChangesFileName), out.Summary)
	}
	return codegen.WriteJSON(filepath.Join(r.WorkDir, codegen.CompletedFileName), out.Completion)
}

// LoadRequests reads the request documents of every configured destination.
func (r *Runner) LoadRequests() ([]codegen.Request, error) {
	var reqs []codegen.Request
	for _, d := range r.Matcher.Markers().DestinationNames() {
		req, err := codegen.ReadRequest(r.WorkDir, d)
		if err != nil {
			return nil, fmt.Errorf("read request for %q: %w", d, err)
		}
		reqs = append(reqs, *req)
	}
	return reqs, nil
}

// LoadMergeInput reads the prep document and the response of every
// destination that has codes. A missing response is reported as a problem
// for that destination; merge then reports the files that needed it.
func (r *Runner) LoadMergeInput() (*codegen.PrepDocument, []codegen.Response, problem.List, error) {
	prep, err := codegen.ReadPrep(r.WorkDir)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("read prep document: %w", err)
	}

	var (
		responses []codegen.Response
		probs     problem.List
	)
	for _, d := range r.Matcher.Markers().DestinationNames() {
		if prep.CodeCounts[d] == 0 {
			continue
		}
		resp, err := codegen.ReadResponse(r.WorkDir, d)
		if errors.Is(err, os.ErrNotExist) {
			probs.Add(problem.New(problem.CategoryIO, "response_absent", codegen.ResponseFileName(d), 0,
				"no response document for destination %q", d))
			continue
		}
		if err != nil {
			probs.Add(problem.Wrap(problem.CategoryContent, "response_unreadable", codegen.ResponseFileName(d), 0, err))
			continue
		}
		responses = append(responses, *resp)
	}
	return prep, responses, probs, nil
}
