// SPDX-License-Identifier: MPL-2.0

package config

// configDirOverride replaces ConfigDir's platform lookup in tests, since
// os.UserHomeDir() ignores HOME on some platforms.
var configDirOverride string

// Reset clears test overrides. Call from test cleanup to restore defaults.
func Reset() {
	configDirOverride = ""
}

// SetConfigDirOverride sets a custom config directory path. It is intended
// for tests.
func SetConfigDirOverride(dir string) {
	configDirOverride = dir
}
