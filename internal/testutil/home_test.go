// SPDX-License-Identifier: MPL-2.0

package testutil

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func TestSetConfigHome(t *testing.T) {
	dir := t.TempDir()
	got := SetConfigHome(t, dir)

	if filepath.Base(got) != "augment" {
		t.Errorf("SetConfigHome() = %q, want it to end in augment", got)
	}
	env := map[string]string{"windows": "APPDATA", "darwin": "HOME"}[runtime.GOOS]
	if env == "" {
		env = "XDG_CONFIG_HOME"
	}
	if os.Getenv(env) != dir {
		t.Errorf("%s = %q, want %q", env, os.Getenv(env), dir)
	}
}

func TestWriteTree(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	WriteTree(t, root, map[string]string{"a.txt": "A", "nested/dir/b.txt": "B"})

	for name, want := range map[string]string{"a.txt": "A", "nested/dir/b.txt": "B"} {
		data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(name)))
		if err != nil {
			t.Fatal(err)
		}
		if string(data) != want {
			t.Errorf("%s = %q, want %q", name, data, want)
		}
	}
}
