// SPDX-License-Identifier: MPL-2.0

// Package discovery finds the source files an augment run processes.
//
// Each configured source is a root directory plus doublestar include and
// exclude patterns evaluated against slash-separated paths relative to the
// root. Files are returned grouped by source, in configuration order, and
// sorted by relative path within a source, so repeated runs over an
// unchanged tree see the same order.
package discovery
