// SPDX-License-Identifier: MPL-2.0

package merge

import (
	"strings"

	"github.com/invowk/augment/pkg/codegen"
)

// Reindent joins segments, prefixing every line after the first line of each
// segment with indent. Empty lines stay empty.
func Reindent(segments []codegen.Segment, indent string) string {
	var sb strings.Builder
	for _, seg := range segments {
		if indent == "" || !strings.Contains(seg.Content, "\n") {
			sb.WriteString(seg.Content)
			continue
		}
		lines := strings.SplitAfter(seg.Content, "\n")
		sb.WriteString(lines[0])
		for _, line := range lines[1:] {
			if line != "" && line != "\n" && line != "\r\n" {
				sb.WriteString(indent)
			}
			sb.WriteString(line)
		}
	}
	return sb.String()
}

// replacement returns the text that takes the place of part.
func replacement(part codegen.ContentPart, gen codegen.GeneratedCode) string {
	if gen.Skip {
		return part.Content
	}
	out := Reindent(gen.Segments, part.Indent)
	if part.Kind == codegen.KindBlock && out != "" && !strings.HasSuffix(out, "\n") {
		out += "\n"
	}
	return out
}
