// SPDX-License-Identifier: MPL-2.0

// Package watch re-runs augmentation when source files change.
//
// It monitors every source root, coalesces events within a debounce window
// and invokes a callback with the files whose bytes actually changed.
// Content digests filter out events that leave a file as it was, including
// the writes of a merge once the caller has settled them.
package watch

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"

	"github.com/invowk/augment/internal/discovery"
	"github.com/invowk/augment/pkg/codegen"
)

// defaultDebounce lets an editor's write-then-rename settle into one run.
const defaultDebounce = 300 * time.Millisecond

// editorNoise is ignored on top of discovery's default excludes.
var editorNoise = []string{
	"**/__pycache__/**",
	"**/*.swp",
	"**/*.swo",
	"**/*~",
	"**/.DS_Store",
}

type (
	// Watcher monitors the source roots and fires a debounced callback when
	// matching files change. Run must be called exactly once.
	Watcher struct {
		cfg      Config
		fsw      *fsnotify.Watcher
		roots    []root
		debounce time.Duration
		stdout   io.Writer
		logger   codegen.Logger
		started  atomic.Bool

		digestMu sync.Mutex
		digests  map[string]string
	}

	root struct {
		dir     string
		include []string
		ignores []string
	}
)

// New validates cfg, registers every non-ignored directory below the source
// roots and records the digest of every matching file.
func New(cfg Config) (*Watcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	roots := make([]root, 0, len(cfg.Sources))
	for _, src := range cfg.Sources {
		abs, err := filepath.Abs(src.Dir)
		if err != nil {
			return nil, fmt.Errorf("watch: resolve source directory %q: %w", src.Dir, err)
		}
		ignores := slices.Concat(DefaultIgnores(), src.Exclude, cfg.Ignore)
		roots = append(roots, root{dir: abs, include: src.Include, ignores: ignores})
	}
	// Deepest root first so nested sources own their files.
	slices.SortStableFunc(roots, func(a, b root) int { return cmp.Compare(len(b.dir), len(a.dir)) })

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch: create fsnotify watcher: %w", err)
	}

	w := &Watcher{
		cfg:      cfg,
		fsw:      fsw,
		roots:    roots,
		debounce: cmp.Or(cfg.Debounce, defaultDebounce),
		stdout:   cfg.Stdout,
		logger:   cfg.Logger,
		digests:  make(map[string]string),
	}
	if w.stdout == nil {
		w.stdout = os.Stdout
	}
	if w.logger == nil {
		w.logger = codegen.NopLogger()
	}

	for _, r := range roots {
		if err := w.addRoot(r); err != nil {
			if closeErr := fsw.Close(); closeErr != nil {
				w.logger.Warn("close after init failure", "err", closeErr)
			}
			return nil, err
		}
	}
	return w, nil
}

// Run blocks until ctx is cancelled, dispatching debounced callbacks. It
// returns nil on cancellation and an error when fsnotify fails for good.
func (w *Watcher) Run(ctx context.Context) error {
	if !w.started.CompareAndSwap(false, true) {
		return errors.New("watch: Run called more than once")
	}

	var (
		mu      sync.Mutex
		pending = make(map[string]discovery.File)
		timer   *time.Timer
		running atomic.Bool
	)

	// fire may run after ctx is cancelled, so it checks first. A callback
	// still running when the timer fires again defers the new batch instead
	// of running concurrently.
	fire := func() {
		if ctx.Err() != nil {
			return
		}
		if !running.CompareAndSwap(false, true) {
			w.logger.Debug("previous run still in progress, deferring")
			mu.Lock()
			if timer != nil {
				timer.Reset(w.debounce)
			}
			mu.Unlock()
			return
		}
		defer running.Store(false)

		mu.Lock()
		batch := make([]discovery.File, 0, len(pending))
		for _, f := range pending {
			batch = append(batch, f)
		}
		clear(pending)
		mu.Unlock()

		changed := w.changed(batch)
		if len(changed) == 0 {
			return
		}
		if w.cfg.ClearScreen {
			fmt.Fprint(w.stdout, "\033[2J\033[H")
		}
		w.logger.Info("sources changed", "files", len(changed))
		if w.cfg.OnChange != nil {
			if err := w.cfg.OnChange(ctx, changed); err != nil {
				w.logger.Warn("run after change failed", "err", err)
			}
		}
	}

	defer func() {
		mu.Lock()
		if timer != nil {
			timer.Stop()
		}
		mu.Unlock()
		if closeErr := w.fsw.Close(); closeErr != nil {
			w.logger.Warn("close fsnotify", "err", closeErr)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case evt, ok := <-w.fsw.Events:
			if !ok {
				return errors.New("watch: fsnotify event channel closed unexpectedly")
			}
			if evt.Has(fsnotify.Create) && w.maybeAddDir(evt.Name) {
				continue
			}
			f, ok := w.locate(evt.Name)
			if !ok {
				continue
			}

			mu.Lock()
			pending[evt.Name] = f
			if timer == nil {
				timer = time.AfterFunc(w.debounce, fire)
			} else {
				timer.Reset(w.debounce)
			}
			mu.Unlock()

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return errors.New("watch: fsnotify error channel closed unexpectedly")
			}
			if isFatalFsnotifyError(err) {
				return fmt.Errorf("watch: fatal fsnotify error: %w", err)
			}
			w.logger.Warn("fsnotify error", "err", err)
		}
	}
}

// Settle records the current content of files as seen, so that events
// caused by writing them are not reported as changes.
func (w *Watcher) Settle(files ...discovery.File) {
	w.digestMu.Lock()
	defer w.digestMu.Unlock()
	for _, f := range files {
		w.digests[f.Path()] = digestOf(f.Path())
	}
}

// changed keeps the files of batch whose digest differs from the one last
// recorded, records the new digests and sorts the result.
func (w *Watcher) changed(batch []discovery.File) []discovery.File {
	w.digestMu.Lock()
	defer w.digestMu.Unlock()

	out := batch[:0]
	for _, f := range batch {
		d := digestOf(f.Path())
		if w.digests[f.Path()] == d {
			continue
		}
		w.digests[f.Path()] = d
		out = append(out, f)
	}
	slices.SortFunc(out, func(a, b discovery.File) int {
		return cmp.Or(strings.Compare(a.BaseDir, b.BaseDir), strings.Compare(a.RelativePath, b.RelativePath))
	})
	return out
}

// addRoot registers every non-ignored directory of r and records the
// digest of every matching file. Inaccessible paths are skipped.
func (w *Watcher) addRoot(r root) error {
	walkErr := filepath.WalkDir(r.dir, func(path string, d os.DirEntry, walkDirErr error) error {
		if walkDirErr != nil {
			w.logger.Warn("skipping inaccessible path", "path", path, "err", walkDirErr)
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		rel, relErr := filepath.Rel(r.dir, path)
		if relErr != nil {
			return nil //nolint:nilerr // skip paths that cannot be made relative
		}
		rel = filepath.ToSlash(rel)

		if !d.IsDir() {
			if r.matches(rel) {
				w.digests[path] = digestOf(path)
			}
			return nil
		}
		if rel != "." && r.ignoresDir(rel) {
			return filepath.SkipDir
		}
		if addErr := w.fsw.Add(path); addErr != nil {
			return fmt.Errorf("watch: add directory %q: %w", path, addErr)
		}
		return nil
	})
	if walkErr != nil {
		return fmt.Errorf("watch: walk %s: %w", r.dir, walkErr)
	}
	return nil
}

// maybeAddDir watches a directory created after startup. It reports whether
// path was a directory.
func (w *Watcher) maybeAddDir(path string) bool {
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return false
	}
	for _, r := range w.roots {
		rel, ok := r.relative(path)
		if !ok {
			continue
		}
		if r.ignoresDir(rel) {
			return true
		}
		if addErr := w.fsw.Add(path); addErr != nil {
			w.logger.Warn("add new directory", "path", path, "err", addErr)
		}
		return true
	}
	return true
}

// locate maps an event path to the source file it belongs to.
func (w *Watcher) locate(path string) (discovery.File, bool) {
	for _, r := range w.roots {
		rel, ok := r.relative(path)
		if !ok {
			continue
		}
		if !r.matches(rel) {
			return discovery.File{}, false
		}
		return discovery.File{BaseDir: r.dir, RelativePath: rel}, true
	}
	return discovery.File{}, false
}

// relative returns path relative to the root, slash-separated, when the root
// contains it.
func (r root) relative(path string) (string, bool) {
	rel, err := filepath.Rel(r.dir, path)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

func (r root) matches(rel string) bool {
	if matchAny(r.ignores, rel) {
		return false
	}
	return len(r.include) == 0 || matchAny(r.include, rel)
}

func (r root) ignoresDir(rel string) bool {
	return matchAny(r.ignores, rel) || matchAny(r.ignores, rel+"/")
}

func matchAny(patterns []string, rel string) bool {
	for _, pat := range patterns {
		if matched, err := doublestar.Match(pat, rel); err == nil && matched {
			return true
		}
	}
	return false
}

// digestOf returns the content digest of path, or "" when it cannot be read.
func digestOf(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return codegen.Digest(data)
}

// DefaultIgnores returns the built-in ignore patterns: discovery's default
// excludes plus editor and OS noise.
func DefaultIgnores() []string {
	return slices.Concat(discovery.DefaultExcludes(), editorNoise)
}
