// SPDX-License-Identifier: MPL-2.0

// Package testutil provides helpers shared by tests: source trees on disk
// and an isolated per-user configuration directory.
package testutil
