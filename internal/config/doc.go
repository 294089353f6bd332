// SPDX-License-Identifier: MPL-2.0

// Package config handles augment configuration using Viper with CUE as the
// file format.
//
// A run reads at most one file: the --config path when given, otherwise
// augment.cue in the project directory, otherwise config.cue in the user
// config directory (~/.config/augment on Linux, ~/Library/Application
// Support/augment on macOS, %APPDATA%\augment on Windows). Files are
// validated against the embedded CUE schema (config_schema.cue) and merged
// over the defaults; checks the schema cannot express, such as marker
// distinctness, run in Go through the IsValid methods.
package config
