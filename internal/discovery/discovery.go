// SPDX-License-Identifier: MPL-2.0

package discovery

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// ErrInvalidPattern is returned when an include or exclude glob is malformed.
var ErrInvalidPattern = errors.New("invalid glob pattern")

// defaultExcludes are never scanned: VCS metadata, dependency caches and the
// documents and temporary files augment writes itself.
var defaultExcludes = []string{
	"**/.git/**",
	"**/node_modules/**",
	"**/augment-*.json",
	"**/.augment-tmp-*",
}

type (
	// Source is one root directory to scan.
	Source struct {
		Dir     string
		Include []string
		Exclude []string
	}

	// File is one discovered source file.
	File struct {
		// BaseDir is the absolute source root.
		BaseDir string
		// RelativePath is slash-separated and relative to BaseDir.
		RelativePath string
	}
)

// Path returns the file's absolute location.
func (f File) Path() string {
	return filepath.Join(f.BaseDir, filepath.FromSlash(f.RelativePath))
}

// DefaultExcludes returns a copy of the built-in exclude patterns.
func DefaultExcludes() []string {
	return slices.Clone(defaultExcludes)
}

// ValidatePatterns checks every pattern is a valid doublestar glob.
func ValidatePatterns(patterns []string) error {
	for _, pat := range patterns {
		if !doublestar.ValidatePattern(pat) {
			return fmt.Errorf("%w: %q", ErrInvalidPattern, pat)
		}
	}
	return nil
}

// Discover walks every source. Invalid patterns fail immediately; missing
// roots, unreadable directories and files reachable from more than one
// source are reported as diagnostics.
func Discover(ctx context.Context, sources []Source) (Result, error) {
	for _, src := range sources {
		if err := ValidatePatterns(src.Include); err != nil {
			return Result{}, err
		}
		if err := ValidatePatterns(src.Exclude); err != nil {
			return Result{}, err
		}
	}

	var res Result
	seen := make(map[string]string)
	for _, src := range sources {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		files, diags := walk(src)
		res.Diagnostics = append(res.Diagnostics, diags...)
		for _, f := range files {
			abs := f.Path()
			if first, dup := seen[abs]; dup {
				res.Diagnostics = append(res.Diagnostics, Diagnostic{
					Severity: SeverityWarning,
					Code:     "duplicate_file",
					Message:  fmt.Sprintf("file is matched by more than one source; keeping the one under %s", first),
					Path:     abs,
				})
				continue
			}
			seen[abs] = f.BaseDir
			res.Files = append(res.Files, f)
		}
	}
	return res, nil
}

func walk(src Source) ([]File, []Diagnostic) {
	root, err := filepath.Abs(src.Dir)
	if err != nil {
		return nil, []Diagnostic{{Severity: SeverityError, Code: "source_invalid", Message: "cannot resolve source directory", Path: src.Dir, Cause: err}}
	}
	info, err := os.Stat(root)
	if err != nil || !info.IsDir() {
		if err == nil {
			err = fmt.Errorf("%s is not a directory", root)
		}
		return nil, []Diagnostic{{Severity: SeverityError, Code: "source_missing", Message: "source directory does not exist", Path: root, Cause: err}}
	}

	excludes := append(DefaultExcludes(), src.Exclude...)
	var (
		files []File
		diags []Diagnostic
	)
	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkDirErr error) error {
		if walkDirErr != nil {
			// Best-effort: an unreadable directory is reported, not fatal.
			diags = append(diags, Diagnostic{Severity: SeverityWarning, Code: "path_unreadable", Message: "skipping inaccessible path", Path: path, Cause: walkDirErr})
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil || rel == "." {
			return nil //nolint:nilerr // root itself or paths that cannot be made relative
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if matchAny(excludes, rel) || matchAny(excludes, rel+"/") {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || matchAny(excludes, rel) {
			return nil
		}
		if len(src.Include) > 0 && !matchAny(src.Include, rel) {
			return nil
		}
		files = append(files, File{BaseDir: root, RelativePath: rel})
		return nil
	})
	if walkErr != nil {
		diags = append(diags, Diagnostic{Severity: SeverityError, Code: "walk_failed", Message: "walking the source directory failed", Path: root, Cause: walkErr})
	}

	slices.SortFunc(files, func(a, b File) int { return strings.Compare(a.RelativePath, b.RelativePath) })
	return files, diags
}

func matchAny(patterns []string, rel string) bool {
	for _, pat := range patterns {
		if matched, err := doublestar.Match(pat, rel); err == nil && matched {
			return true
		}
	}
	return false
}
