// SPDX-License-Identifier: MPL-2.0

package watch

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"

	"github.com/invowk/augment/internal/discovery"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// startWatcher runs w until the test ends and fails the test if Run errors.
func startWatcher(t *testing.T, w *Watcher) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		if err := <-errCh; err != nil {
			t.Errorf("Run() error: %v", err)
		}
	})
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func relPaths(files []discovery.File) []string {
	out := make([]string, len(files))
	for i, f := range files {
		out[i] = f.RelativePath
	}
	return out
}

func waitFor(t *testing.T, ch <-chan []discovery.File) []discovery.File {
	t.Helper()
	select {
	case files := <-ch:
		return files
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for callback")
		return nil
	}
}

func expectQuiet(t *testing.T, ch <-chan []discovery.File, d time.Duration) {
	t.Helper()
	select {
	case files := <-ch:
		t.Errorf("unexpected callback with %v", relPaths(files))
	case <-time.After(d):
	}
}

func TestWatcherCoalescesEvents(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	fired := make(chan []discovery.File, 10)
	w, err := New(Config{
		Sources:  []discovery.Source{{Dir: dir}},
		Debounce: 100 * time.Millisecond,
		OnChange: func(_ context.Context, changed []discovery.File) error {
			fired <- changed
			return nil
		},
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	startWatcher(t, w)

	for _, name := range []string{"c.txt", "a.txt", "b.txt"} {
		writeFile(t, filepath.Join(dir, name), "data")
		time.Sleep(10 * time.Millisecond)
	}

	got := waitFor(t, fired)
	if diff := cmp.Diff([]string{"a.txt", "b.txt", "c.txt"}, relPaths(got)); diff != "" {
		t.Errorf("changed files mismatch (-want +got):\n%s", diff)
	}
	abs, _ := filepath.Abs(dir)
	if got[0].BaseDir != abs {
		t.Errorf("BaseDir = %q, want %q", got[0].BaseDir, abs)
	}
	expectQuiet(t, fired, 300*time.Millisecond)
}

func TestWatcherIgnoresUnchangedContent(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "same.txt"), "same")
	writeFile(t, filepath.Join(dir, "other.txt"), "before")

	fired := make(chan []discovery.File, 10)
	w, err := New(Config{
		Sources:  []discovery.Source{{Dir: dir}},
		Debounce: 50 * time.Millisecond,
		OnChange: func(_ context.Context, changed []discovery.File) error {
			fired <- changed
			return nil
		},
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	startWatcher(t, w)

	writeFile(t, filepath.Join(dir, "same.txt"), "same")
	expectQuiet(t, fired, 300*time.Millisecond)

	writeFile(t, filepath.Join(dir, "same.txt"), "same")
	writeFile(t, filepath.Join(dir, "other.txt"), "after")
	if diff := cmp.Diff([]string{"other.txt"}, relPaths(waitFor(t, fired))); diff != "" {
		t.Errorf("changed files mismatch (-want +got):\n%s", diff)
	}
}

func TestWatcherSettledWritesDoNotRetrigger(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "gen.go")
	writeFile(t, path, "package gen\n")

	fired := make(chan []discovery.File, 10)
	var w *Watcher
	w, err := New(Config{
		Sources:  []discovery.Source{{Dir: dir}},
		Debounce: 50 * time.Millisecond,
		OnChange: func(_ context.Context, changed []discovery.File) error {
			// Rewrite the file the way a merge does and settle it.
			for _, f := range changed {
				if err := os.WriteFile(f.Path(), []byte("package gen\n\nconst merged = true\n"), 0o644); err != nil {
					return err
				}
			}
			w.Settle(changed...)
			fired <- changed
			return nil
		},
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	startWatcher(t, w)

	writeFile(t, path, "package gen\n\n// edited\n")
	if diff := cmp.Diff([]string{"gen.go"}, relPaths(waitFor(t, fired))); diff != "" {
		t.Errorf("changed files mismatch (-want +got):\n%s", diff)
	}
	expectQuiet(t, fired, 400*time.Millisecond)
}

func TestWatcherFiltering(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	fired := make(chan []discovery.File, 10)
	w, err := New(Config{
		Sources: []discovery.Source{{
			Dir:     dir,
			Include: []string{"**/*.go"},
			Exclude: []string{"vendor/**"},
		}},
		Ignore:   []string{"**/*_gen.go"},
		Debounce: 50 * time.Millisecond,
		OnChange: func(_ context.Context, changed []discovery.File) error {
			fired <- changed
			return nil
		},
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	startWatcher(t, w)

	writeFile(t, filepath.Join(dir, "notes.txt"), "text")
	writeFile(t, filepath.Join(dir, "augment-prep.json"), "{}")
	writeFile(t, filepath.Join(dir, "zz_gen.go"), "package x")
	writeFile(t, filepath.Join(dir, ".augment-tmp-123"), "tmp")
	expectQuiet(t, fired, 300*time.Millisecond)

	writeFile(t, filepath.Join(dir, "main.go"), "package main")
	if diff := cmp.Diff([]string{"main.go"}, relPaths(waitFor(t, fired))); diff != "" {
		t.Errorf("changed files mismatch (-want +got):\n%s", diff)
	}
}

func TestWatcherNewDirectories(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	fired := make(chan []discovery.File, 10)
	w, err := New(Config{
		Sources:  []discovery.Source{{Dir: dir}},
		Debounce: 50 * time.Millisecond,
		OnChange: func(_ context.Context, changed []discovery.File) error {
			fired <- changed
			return nil
		},
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	startWatcher(t, w)

	if err := os.Mkdir(filepath.Join(dir, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}
	time.Sleep(100 * time.Millisecond)
	writeFile(t, filepath.Join(dir, "sub", "x.txt"), "x")

	if diff := cmp.Diff([]string{"sub/x.txt"}, relPaths(waitFor(t, fired))); diff != "" {
		t.Errorf("changed files mismatch (-want +got):\n%s", diff)
	}
}

func TestWatcherMultipleSources(t *testing.T) {
	t.Parallel()

	first, second := t.TempDir(), t.TempDir()
	fired := make(chan []discovery.File, 10)
	w, err := New(Config{
		Sources:  []discovery.Source{{Dir: first}, {Dir: second}},
		Debounce: 50 * time.Millisecond,
		OnChange: func(_ context.Context, changed []discovery.File) error {
			fired <- changed
			return nil
		},
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	startWatcher(t, w)

	writeFile(t, filepath.Join(second, "b.txt"), "b")
	got := waitFor(t, fired)
	abs, _ := filepath.Abs(second)
	want := []discovery.File{{BaseDir: abs, RelativePath: "b.txt"}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("changed files mismatch (-want +got):\n%s", diff)
	}
}

func TestWatcherBusyCallbackDefersBatch(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	var (
		mu      sync.Mutex
		batches [][]string
		active  int
		overlap bool
	)
	release := make(chan struct{})
	fired := make(chan []discovery.File, 10)

	w, err := New(Config{
		Sources:  []discovery.Source{{Dir: dir}},
		Debounce: 50 * time.Millisecond,
		OnChange: func(_ context.Context, changed []discovery.File) error {
			mu.Lock()
			active++
			if active > 1 {
				overlap = true
			}
			first := len(batches) == 0
			batches = append(batches, relPaths(changed))
			mu.Unlock()
			if first {
				<-release
			}
			mu.Lock()
			active--
			mu.Unlock()
			fired <- changed
			return nil
		},
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	startWatcher(t, w)

	writeFile(t, filepath.Join(dir, "first.txt"), "1")
	time.Sleep(150 * time.Millisecond)
	writeFile(t, filepath.Join(dir, "second.txt"), "2")
	time.Sleep(150 * time.Millisecond)
	close(release)

	waitFor(t, fired)
	waitFor(t, fired)

	mu.Lock()
	defer mu.Unlock()
	if overlap {
		t.Error("callbacks ran concurrently")
	}
	if diff := cmp.Diff([][]string{{"first.txt"}, {"second.txt"}}, batches); diff != "" {
		t.Errorf("batches mismatch (-want +got):\n%s", diff)
	}
}

func TestWatcherClearScreen(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	var (
		mu  sync.Mutex
		out bytes.Buffer
	)
	fired := make(chan []discovery.File, 1)
	w, err := New(Config{
		Sources:     []discovery.Source{{Dir: dir}},
		Debounce:    50 * time.Millisecond,
		ClearScreen: true,
		Stdout:      writerFunc(func(p []byte) (int, error) { mu.Lock(); defer mu.Unlock(); return out.Write(p) }),
		OnChange: func(_ context.Context, changed []discovery.File) error {
			fired <- changed
			return nil
		},
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	startWatcher(t, w)

	writeFile(t, filepath.Join(dir, "file.go"), "x")
	waitFor(t, fired)

	mu.Lock()
	defer mu.Unlock()
	if !strings.Contains(out.String(), "\033[2J\033[H") {
		t.Errorf("expected ANSI clear sequence, got %q", out.String())
	}
}

func TestWatcherDoubleRun(t *testing.T) {
	t.Parallel()

	w, err := New(Config{Sources: []discovery.Source{{Dir: t.TempDir()}}})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	startWatcher(t, w)
	time.Sleep(50 * time.Millisecond)

	err = w.Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "Run called more than once") {
		t.Errorf("second Run() = %v, want double-run error", err)
	}
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		cfg        Config
		wantFields int
	}{
		{name: "minimal", cfg: Config{Sources: []discovery.Source{{Dir: "."}}}},
		{
			name: "patterns",
			cfg: Config{
				Sources: []discovery.Source{{Dir: "src", Include: []string{"**/*.go"}, Exclude: []string{"vendor/**"}}},
				Ignore:  []string{"**/*.tmp"},
			},
		},
		{name: "no sources", cfg: Config{}, wantFields: 1},
		{name: "blank dir", cfg: Config{Sources: []discovery.Source{{Dir: "  "}}}, wantFields: 1},
		{name: "bad include", cfg: Config{Sources: []discovery.Source{{Dir: ".", Include: []string{"[x"}}}}, wantFields: 1},
		{
			name: "everything wrong",
			cfg: Config{
				Sources:  []discovery.Source{{Dir: "", Exclude: []string{"[x"}}},
				Ignore:   []string{"{a"},
				Debounce: -time.Second,
			},
			wantFields: 4,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := tt.cfg.Validate()
			if tt.wantFields == 0 {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, ErrInvalidConfig) {
				t.Fatalf("Validate() = %v, want ErrInvalidConfig", err)
			}
			var cfgErr *InvalidConfigError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("error should be *InvalidConfigError, got %T", err)
			}
			if len(cfgErr.FieldErrors) != tt.wantFields {
				t.Errorf("got %d field errors, want %d: %v", len(cfgErr.FieldErrors), tt.wantFields, cfgErr.FieldErrors)
			}
		})
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	t.Parallel()

	_, err := New(Config{Sources: []discovery.Source{{Dir: t.TempDir(), Include: []string{"[invalid"}}}})
	if !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("New() = %v, want ErrInvalidConfig", err)
	}
}

func TestDefaultIgnores(t *testing.T) {
	t.Parallel()

	r := root{ignores: DefaultIgnores()}
	tests := []struct {
		path    string
		matches bool
	}{
		{"main.go", true},
		{"pkg/a/b.go", true},
		{".git/HEAD", false},
		{"web/node_modules/x/index.js", false},
		{"augment-prep.json", false},
		{"sub/.augment-tmp-42", false},
		{"main.go.swp", false},
		{"main.go~", false},
		{"a/.DS_Store", false},
	}
	for _, tt := range tests {
		if got := r.matches(tt.path); got != tt.matches {
			t.Errorf("matches(%q) = %v, want %v", tt.path, got, tt.matches)
		}
	}

	ignores := DefaultIgnores()
	ignores[0] = "mutated"
	if DefaultIgnores()[0] == "mutated" {
		t.Error("DefaultIgnores() must return a copy")
	}
}

type writerFunc func(p []byte) (int, error)

func (f writerFunc) Write(p []byte) (int, error) { return f(p) }
