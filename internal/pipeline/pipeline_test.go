// SPDX-License-Identifier: MPL-2.0

package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"

	"github.com/invowk/augment/internal/charset"
	"github.com/invowk/augment/internal/directive"
	"github.com/invowk/augment/internal/discovery"
	"github.com/invowk/augment/internal/evaluator"
	"github.com/invowk/augment/internal/problem"
	"github.com/invowk/augment/internal/scope"
	"github.com/invowk/augment/pkg/codegen"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newRunner(t *testing.T, set directive.MarkerSet) *Runner {
	t.Helper()
	m, err := directive.NewMatcher(set)
	if err != nil {
		t.Fatal(err)
	}
	c, err := charset.Lookup("UTF-8")
	if err != nil {
		t.Fatal(err)
	}
	return &Runner{
		Matcher:         m,
		Codec:           c,
		IndentVariable:  scope.DefaultIndentVariable,
		Workers:         3,
		WorkDir:         t.TempDir(),
		ChangeDetection: true,
	}
}

// sourceTree writes files under a fresh root and discovers them.
func sourceTree(t *testing.T, files map[string]string) (string, []discovery.File) {
	t.Helper()
	root := t.TempDir()
	for rel, text := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	res, err := discovery.Discover(context.Background(), []discovery.Source{{Dir: root}})
	if err != nil {
		t.Fatal(err)
	}
	return root, res.Files
}

func docsMarkers() directive.MarkerSet {
	set := directive.DefaultMarkerSet()
	set.Destinations = append(set.Destinations, directive.Destination{Name: "docs", Directives: []string{"//#"}})
	return set
}

func TestPrepareNumbersAcrossFiles(t *testing.T) {
	t.Parallel()

	_, files := sourceTree(t, map[string]string{
		"a.txt": "x //= one\n//# doc a\n",
		"b.txt": "//[[\n//# gen\n//]]\ny //= two\n",
		"c.txt": "nothing here\n",
	})
	r := newRunner(t, docsMarkers())
	prepared, probs := r.Prepare(context.Background(), files)
	if len(probs) != 0 {
		t.Fatalf("unexpected problems: %v", probs)
	}

	if diff := cmp.Diff(map[string]int{"default": 2, "docs": 2}, prepared.Doc.CodeCounts); diff != "" {
		t.Errorf("code counts mismatch (-want +got):\n%s", diff)
	}

	type ref struct {
		File string
		ID   int
	}
	got := map[string][]ref{}
	for _, req := range prepared.Requests {
		for _, c := range req.Codes {
			got[req.Destination] = append(got[req.Destination], ref{c.File, c.ID})
		}
	}
	want := map[string][]ref{
		"default": {{"a.txt", 1}, {"b.txt", 2}},
		"docs":    {{"a.txt", 1}, {"b.txt", 2}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("request ids mismatch (-want +got):\n%s", diff)
	}

	var partIDs []string
	for _, f := range prepared.Doc.Files {
		for _, p := range f.Parts {
			if k, ok := p.Key(); ok {
				partIDs = append(partIDs, k.String())
			}
		}
	}
	if diff := cmp.Diff([]string{"default#1", "docs#2", "default#2"}, partIDs); diff != "" {
		t.Errorf("part references mismatch (-want +got):\n%s", diff)
	}

	for _, f := range prepared.Doc.Files {
		data, err := os.ReadFile(filepath.Join(f.BaseDir, f.RelativePath))
		if err != nil {
			t.Fatal(err)
		}
		if f.Digest != codegen.Digest(data) {
			t.Errorf("%s: digest mismatch", f.RelativePath)
		}
		if codegen.Join(f.Parts) != string(data) {
			t.Errorf("%s: parts do not reproduce the file", f.RelativePath)
		}
	}
}

func TestPrepareIsStable(t *testing.T) {
	t.Parallel()

	_, files := sourceTree(t, map[string]string{
		"a.txt": "x //= one\n{\n  //$ k=v\n  y //= two\n}\n",
		"b.txt": "//: setup\n//[[\n//: gen\nold\n//]]\n",
	})
	r := newRunner(t, directive.DefaultMarkerSet())
	first, _ := r.Prepare(context.Background(), files)
	second, _ := r.Prepare(context.Background(), files)
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("prepare is not reproducible (-first +second):\n%s", diff)
	}
}

func TestPrepareAccumulatesProblems(t *testing.T) {
	t.Parallel()

	_, files := sourceTree(t, map[string]string{
		"bad1.txt": "}\nok\n//]]\n",
		"bad2.txt": "line\n//-[[\n",
		"good.txt": "fine //= echo fine\n",
	})
	r := newRunner(t, directive.DefaultMarkerSet())
	prepared, probs := r.Prepare(context.Background(), files)

	type at struct {
		Path string
		Line int
		Code string
	}
	var got []at
	for _, p := range probs {
		if p.Category != problem.CategoryStructural {
			t.Errorf("unexpected category %v", p.Category)
		}
		got = append(got, at{p.Path, p.Line, p.Code})
	}
	want := []at{
		{"bad1.txt", 1, "nest_unmatched"},
		{"bad1.txt", 3, "block_unmatched"},
		{"bad2.txt", 2, "skip_unterminated"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("problems mismatch (-want +got):\n%s", diff)
	}
	if len(prepared.Doc.Files) != 3 {
		t.Errorf("every readable file should be prepared, got %d", len(prepared.Doc.Files))
	}
	if len(prepared.Requests[0].Codes) != 1 {
		t.Errorf("good.txt should still contribute its code")
	}
}

func TestRunEndToEnd(t *testing.T) {
	t.Parallel()

	original := "package demo\n" +
		"\n" +
		"//[[\n" +
		"//: for n in one two; do echo \"const $n = \\\"$n\\\"\"; done\n" +
		"const stale = 1\n" +
		"//]]\n" +
		"\n" +
		"var version = \"0.0.0\" //= echo \"var version = \\\"$version\\\"\"\n" +
		"//$ version=1.2.3\n"
	root, files := sourceTree(t, map[string]string{
		"demo.go":   original,
		"static.go": "package demo\n",
	})
	r := newRunner(t, directive.DefaultMarkerSet())
	ev := evaluator.NewShell(root, false, 0)

	out, probs := r.Run(context.Background(), files, ev)
	if len(probs) != 0 {
		t.Fatalf("unexpected problems: %v", probs)
	}

	want := "package demo\n" +
		"\n" +
		"//[[\n" +
		"//: for n in one two; do echo \"const $n = \\\"$n\\\"\"; done\n" +
		"const one = \"one\"\n" +
		"const two = \"two\"\n" +
		"//]]\n" +
		"\n" +
		"var version = \"1.2.3\" //= echo \"var version = \\\"$version\\\"\"\n" +
		"//$ version=1.2.3\n"
	data, err := os.ReadFile(filepath.Join(root, "demo.go"))
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(want, string(data)); diff != "" {
		t.Errorf("merged file mismatch (-want +got):\n%s", diff)
	}
	if len(out.Summary.ChangedFiles) != 1 || out.Summary.ChangedFiles[0].RelativePath != "demo.go" {
		t.Errorf("unexpected summary %+v", out.Summary)
	}

	for _, name := range []string{
		codegen.PrepFileName,
		codegen.RequestFileName("default"),
		codegen.ResponseFileName("default"),
		codegen.ChangesFileName,
	} {
		if _, err := os.Stat(filepath.Join(r.WorkDir, name)); err != nil {
			t.Errorf("document %s not written: %v", name, err)
		}
	}
	summary, err := codegen.ReadSummary(r.WorkDir)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(out.Summary, *summary); diff != "" {
		t.Errorf("written summary mismatch (-want +got):\n%s", diff)
	}

	// Second run over the merged tree changes nothing.
	out, probs = r.Run(context.Background(), files, evaluator.NewShell(root, false, 0))
	if len(probs) != 0 {
		t.Fatalf("unexpected problems on second run: %v", probs)
	}
	if len(out.Summary.ChangedFiles) != 0 {
		t.Errorf("second run should be a no-op, got %+v", out.Summary.ChangedFiles)
	}
}

func TestRunWithoutChangeDetection(t *testing.T) {
	t.Parallel()

	root, files := sourceTree(t, map[string]string{"a.txt": "x //= echo x\n"})
	r := newRunner(t, directive.DefaultMarkerSet())
	r.ChangeDetection = false

	_, probs := r.Run(context.Background(), files, evaluator.NewShell(root, false, 0))
	if len(probs) != 0 {
		t.Fatalf("unexpected problems: %v", probs)
	}
	var marker codegen.CompletionMarker
	if err := codegen.ReadJSON(filepath.Join(r.WorkDir, codegen.CompletedFileName), &marker); err != nil {
		t.Fatal(err)
	}
	if !marker.Completed || marker.Files != 1 {
		t.Errorf("unexpected completion marker %+v", marker)
	}
	if _, err := os.Stat(filepath.Join(r.WorkDir, codegen.ChangesFileName)); !errors.Is(err, os.ErrNotExist) {
		t.Error("no change summary is written without change detection")
	}
}

func TestRunStopsBeforeMergeOnPrepareProblems(t *testing.T) {
	t.Parallel()

	root, files := sourceTree(t, map[string]string{
		"a.txt": "x //= echo changed\n",
		"b.txt": "{\n",
	})
	r := newRunner(t, directive.DefaultMarkerSet())
	_, probs := r.Run(context.Background(), files, evaluator.NewShell(root, false, 0))
	if len(probs) != 1 || probs[0].Code != "nest_unterminated" {
		t.Fatalf("expected one nest_unterminated problem, got %v", probs)
	}
	data, _ := os.ReadFile(filepath.Join(root, "a.txt"))
	if string(data) != "x //= echo changed\n" {
		t.Error("no file may be written when preparation failed")
	}
	if _, err := os.Stat(filepath.Join(r.WorkDir, codegen.ChangesFileName)); !errors.Is(err, os.ErrNotExist) {
		t.Error("no change summary is written for a run that did not merge")
	}
}

func TestRunMergesAfterEvaluationFailures(t *testing.T) {
	t.Parallel()

	root, files := sourceTree(t, map[string]string{"a.txt": "a //= ok\nb //= fail\n"})
	r := newRunner(t, directive.DefaultMarkerSet())
	ev := codegen.EvaluatorFunc(func(_ context.Context, c codegen.AugmentingCode, _ codegen.Scope) (codegen.GeneratedCode, error) {
		if strings.TrimSpace(c.Content) == "fail" {
			return codegen.GeneratedCode{}, errors.New("boom")
		}
		return codegen.Text("A"), nil
	})

	out, probs := r.Run(context.Background(), files, ev)
	if len(probs) != 1 || probs[0].Code != "evaluation_failed" {
		t.Fatalf("expected one evaluation_failed problem, got %v", probs)
	}
	data, err := os.ReadFile(filepath.Join(root, "a.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "A //= ok\nb //= fail\n" {
		t.Errorf("the failing code must keep its text, a.txt = %q", data)
	}
	if len(out.Summary.ChangedFiles) != 1 {
		t.Errorf("unexpected summary %+v", out.Summary)
	}
	if _, err := codegen.ReadSummary(r.WorkDir); err != nil {
		t.Errorf("change summary not written: %v", err)
	}
}

func TestMergeUsesPrepEncoding(t *testing.T) {
	t.Parallel()

	root, files := sourceTree(t, map[string]string{"a.txt": "caf\xe9 //= x\n"})
	latin := newRunner(t, directive.DefaultMarkerSet())
	codec, err := charset.Lookup("ISO-8859-1")
	if err != nil {
		t.Fatal(err)
	}
	latin.Codec = codec

	prepared, probs := latin.Prepare(context.Background(), files)
	if len(probs) != 0 {
		t.Fatal(probs)
	}
	if prepared.Doc.Encoding != "ISO-8859-1" {
		t.Fatalf("prep encoding = %q", prepared.Doc.Encoding)
	}
	if err := latin.WritePrepared(prepared); err != nil {
		t.Fatal(err)
	}
	responses, probs := latin.Generate(context.Background(), codegen.EvaluatorFunc(
		func(context.Context, codegen.AugmentingCode, codegen.Scope) (codegen.GeneratedCode, error) {
			return codegen.Text("résumé"), nil
		}), prepared.Requests)
	if len(probs) != 0 {
		t.Fatal(probs)
	}
	if err := latin.WriteResponses(responses); err != nil {
		t.Fatal(err)
	}

	// Merging with a UTF-8 configuration still writes ISO-8859-1.
	r := newRunner(t, directive.DefaultMarkerSet())
	r.WorkDir = latin.WorkDir
	prep, loaded, probs, err := r.LoadMergeInput()
	if err != nil || len(probs) != 0 {
		t.Fatalf("LoadMergeInput: %v %v", err, probs)
	}
	if _, probs := r.Merge(context.Background(), prep, loaded); len(probs) != 0 {
		t.Fatal(probs)
	}
	data, err := os.ReadFile(filepath.Join(root, "a.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if want := "r\xe9sum\xe9 //= x\n"; string(data) != want {
		t.Errorf("a.txt = %q, want %q", data, want)
	}
}

func TestMergeRejectsUnknownPrepEncoding(t *testing.T) {
	t.Parallel()

	r := newRunner(t, directive.DefaultMarkerSet())
	_, probs := r.Merge(context.Background(), &codegen.PrepDocument{Encoding: "no-such-charset"}, nil)
	if len(probs) != 1 || probs[0].Code != "prep_encoding" || probs[0].Category != problem.CategoryConfiguration {
		t.Fatalf("expected one prep_encoding problem, got %v", probs)
	}
}

// forgetting records the files a FileEvaluator is told are done.
type forgetting struct {
	codegen.Evaluator

	mu     sync.Mutex
	forgot []string
}

func (f *forgetting) Forget(destination, file string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.forgot = append(f.forgot, destination+":"+file)
}

func TestGenerateForgetsFinishedFiles(t *testing.T) {
	t.Parallel()

	_, files := sourceTree(t, map[string]string{
		"a.txt": "a //= 1\nb //= 2\n",
		"b.txt": "c //= 3\n",
	})
	r := newRunner(t, directive.DefaultMarkerSet())
	prepared, probs := r.Prepare(context.Background(), files)
	if len(probs) != 0 {
		t.Fatal(probs)
	}

	ev := &forgetting{Evaluator: codegen.EvaluatorFunc(
		func(context.Context, codegen.AugmentingCode, codegen.Scope) (codegen.GeneratedCode, error) {
			return codegen.Skipped(), nil
		})}
	if _, probs := r.Generate(context.Background(), ev, prepared.Requests); len(probs) != 0 {
		t.Fatal(probs)
	}
	if diff := cmp.Diff([]string{"default:a.txt", "default:b.txt"}, ev.forgot); diff != "" {
		t.Errorf("forgotten files mismatch (-want +got):\n%s", diff)
	}
}

func TestGenerateReportsEvaluatorFailures(t *testing.T) {
	t.Parallel()

	_, files := sourceTree(t, map[string]string{"a.txt": "a //= ok\nb //= fail\n"})
	r := newRunner(t, directive.DefaultMarkerSet())
	prepared, probs := r.Prepare(context.Background(), files)
	if len(probs) != 0 {
		t.Fatal(probs)
	}

	ev := codegen.EvaluatorFunc(func(_ context.Context, c codegen.AugmentingCode, _ codegen.Scope) (codegen.GeneratedCode, error) {
		if strings.TrimSpace(c.Content) == "fail" {
			return codegen.GeneratedCode{}, errors.New("boom")
		}
		return codegen.Text("A"), nil
	})
	responses, probs := r.Generate(context.Background(), ev, prepared.Requests)
	if len(probs) != 1 || probs[0].Code != "evaluation_failed" || probs[0].Line != 2 || probs[0].Path != "a.txt" {
		t.Fatalf("unexpected problems %v", probs)
	}
	want := []codegen.Result{
		{ID: 1, ContentParts: []codegen.Segment{{Content: "A"}}},
		{ID: 2, Skip: true},
	}
	if diff := cmp.Diff(want, responses[0].Results); diff != "" {
		t.Errorf("results mismatch (-want +got):\n%s", diff)
	}
}

func TestSeparateStagesThroughDocuments(t *testing.T) {
	t.Parallel()

	root, files := sourceTree(t, map[string]string{"a.txt": "a //= echo A\n"})
	r := newRunner(t, docsMarkers())

	prepared, probs := r.Prepare(context.Background(), files)
	if len(probs) != 0 {
		t.Fatal(probs)
	}
	if err := r.WritePrepared(prepared); err != nil {
		t.Fatal(err)
	}

	reqs, err := r.LoadRequests()
	if err != nil {
		t.Fatal(err)
	}
	if len(reqs) != 2 || reqs[1].Destination != "docs" || len(reqs[1].Codes) != 0 {
		t.Fatalf("unexpected requests %+v", reqs)
	}
	responses, probs := r.Generate(context.Background(), evaluator.NewShell(root, false, 0), reqs)
	if len(probs) != 0 {
		t.Fatal(probs)
	}
	if err := r.WriteResponses(responses[:1]); err != nil {
		t.Fatal(err)
	}

	prep, loaded, probs, err := r.LoadMergeInput()
	if err != nil {
		t.Fatal(err)
	}
	if len(probs) != 0 {
		t.Errorf("docs has no codes, its response is optional: %v", probs)
	}
	out, probs := r.Merge(context.Background(), prep, loaded)
	if len(probs) != 0 {
		t.Fatal(probs)
	}
	if len(out.Summary.ChangedFiles) != 1 {
		t.Errorf("unexpected summary %+v", out.Summary)
	}
	data, _ := os.ReadFile(filepath.Join(root, "a.txt"))
	if string(data) != "A //= echo A\n" {
		t.Errorf("merged a.txt = %q", data)
	}
}

func TestLoadMergeInputMissingResponse(t *testing.T) {
	t.Parallel()

	_, files := sourceTree(t, map[string]string{"a.txt": "a //= echo A\n"})
	r := newRunner(t, directive.DefaultMarkerSet())
	prepared, _ := r.Prepare(context.Background(), files)
	if err := r.WritePrepared(prepared); err != nil {
		t.Fatal(err)
	}
	_, _, probs, err := r.LoadMergeInput()
	if err != nil {
		t.Fatal(err)
	}
	if len(probs) != 1 || probs[0].Code != "response_absent" {
		t.Errorf("expected response_absent, got %v", probs)
	}
}
