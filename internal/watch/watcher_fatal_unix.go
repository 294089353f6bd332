// SPDX-License-Identifier: MPL-2.0

//go:build !windows

package watch

import (
	"errors"
	"syscall"
)

// exhausted are the inotify and descriptor limits after which a watcher
// cannot recover: the watch limit (ENOSPC) and the per-process and
// system-wide descriptor limits.
var exhausted = []syscall.Errno{syscall.ENOSPC, syscall.EMFILE, syscall.ENFILE}

// isFatalFsnotifyError reports whether err means the watcher is broken.
func isFatalFsnotifyError(err error) bool {
	for _, errno := range exhausted {
		if errors.Is(err, errno) {
			return true
		}
	}
	return false
}
