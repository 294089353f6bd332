// SPDX-License-Identifier: MPL-2.0

package discovery

const (
	// SeverityWarning indicates a recoverable discovery warning.
	SeverityWarning Severity = "warning"
	// SeverityError indicates a non-fatal discovery error diagnostic.
	SeverityError Severity = "error"
)

type (
	// Severity represents discovery diagnostic severity.
	Severity string

	// Diagnostic is a structured, non-fatal discovery finding returned to
	// callers (rather than written to stderr) so the CLI decides how to render
	// it.
	Diagnostic struct {
		// Severity is the diagnostic level (warning or error).
		Severity Severity
		// Code is a machine-readable identifier (e.g., "source_missing").
		Code string
		// Message is the human-readable description.
		Message string
		// Path is the file or directory the diagnostic is about (optional).
		Path string
		// Cause is the underlying error (optional, for programmatic inspection).
		Cause error
	}

	// Result bundles the discovered files with diagnostics produced while
	// walking the source roots.
	Result struct {
		Files       []File
		Diagnostics []Diagnostic
	}
)

// HasErrors reports whether any diagnostic has error severity.
func (r Result) HasErrors() bool {
	for _, d := range r.Diagnostics {
		if d.Severity == SeverityError {
			return true
		}
	}
	return false
}
