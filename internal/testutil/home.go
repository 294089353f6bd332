// SPDX-License-Identifier: MPL-2.0

package testutil

import (
	"path/filepath"
	"runtime"
	"testing"
)

// SetConfigHome points the platform's user configuration root at dir for
// the rest of the test and returns the directory augment will read
// config.cue from.
//
// Platform handling:
//   - Windows: sets APPDATA
//   - macOS: sets HOME (config lives under ~/Library/Application Support)
//   - Linux/others: sets XDG_CONFIG_HOME
//
// It uses t.Setenv, so the calling test must not be parallel.
func SetConfigHome(t testing.TB, dir string) string {
	t.Helper()

	switch runtime.GOOS {
	case "windows":
		t.Setenv("APPDATA", dir)
		return filepath.Join(dir, "augment")
	case "darwin":
		t.Setenv("HOME", dir)
		return filepath.Join(dir, "Library", "Application Support", "augment")
	default:
		t.Setenv("XDG_CONFIG_HOME", dir)
		return filepath.Join(dir, "augment")
	}
}
