// SPDX-License-Identifier: MPL-2.0

//go:build windows

package watch

import (
	"errors"
	"syscall"
)

// exhausted are the Win32 errors after which ReadDirectoryChangesW cannot
// recover: ERROR_TOO_MANY_OPEN_FILES (4), ERROR_INVALID_HANDLE (6), raised
// when a watched directory disappears, and ERROR_NOT_ENOUGH_MEMORY (8).
var exhausted = []syscall.Errno{4, 6, 8}

// isFatalFsnotifyError reports whether err means the watcher is broken.
func isFatalFsnotifyError(err error) bool {
	for _, errno := range exhausted {
		if errors.Is(err, errno) {
			return true
		}
	}
	return false
}
