// SPDX-License-Identifier: MPL-2.0

// Package cmd contains the augment CLI: the prepare, generate, merge, run
// and watch stages plus configuration management.
package cmd
