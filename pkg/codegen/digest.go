// SPDX-License-Identifier: MPL-2.0

package codegen

import (
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// Digest returns the hex xxhash64 of data, as stored in SourceFile.Digest.
func Digest(data []byte) string {
	return fmt.Sprintf("%016x", xxhash.Sum64(data))
}
