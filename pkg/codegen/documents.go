// SPDX-License-Identifier: MPL-2.0

package codegen

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

const (
	// PrepFileName is the preparation document written by "prepare".
	PrepFileName = "augment-prep.json"
	// ChangesFileName is the change summary written when change detection
	// is enabled.
	ChangesFileName = "augment-changes.json"
	// CompletedFileName is the marker written when change detection is
	// disabled.
	CompletedFileName = "augment-completed.json"

	requestFilePattern  = "augment-request-%s.json"
	responseFilePattern = "augment-response-%s.json"
)

type (
	// PrepDocument is the preparation result: every scanned file with its
	// content parts.
	PrepDocument struct {
		Encoding string       `json:"encoding"`
		Files    []SourceFile `json:"files"`
		// CodeCounts holds the number of codes requested per destination;
		// valid response ids of a destination are 1..CodeCounts[dest].
		CodeCounts map[string]int `json:"codeCounts"`
	}

	// Request holds the ordered codes of one destination.
	Request struct {
		Destination string           `json:"destination"`
		Codes       []AugmentingCode `json:"codes"`
	}

	// Result is a response entry for one code id.
	Result struct {
		ID           int       `json:"id"`
		Skip         bool      `json:"skip"`
		ContentParts []Segment `json:"contentParts,omitempty"`
	}

	// Response holds the generated results of one destination.
	Response struct {
		Destination string   `json:"destination"`
		Results     []Result `json:"results"`
	}

	// ChangedFile is one destination file whose content changed.
	ChangedFile struct {
		DestDir      string `json:"destDir"`
		RelativePath string `json:"relativePath"`
		LinesAdded   int    `json:"linesAdded,omitempty"`
		LinesRemoved int    `json:"linesRemoved,omitempty"`
	}

	// ChangeSummary lists changed files in input order.
	ChangeSummary struct {
		ChangedFiles []ChangedFile `json:"changedFiles"`
	}

	// CompletionMarker is written instead of a ChangeSummary when change
	// detection is disabled.
	CompletionMarker struct {
		Completed bool `json:"completed"`
		Files     int  `json:"files"`
	}
)

// RequestFileName returns the request document name of destination.
func RequestFileName(destination string) string {
	return fmt.Sprintf(requestFilePattern, destination)
}

// ResponseFileName returns the response document name of destination.
func ResponseFileName(destination string) string {
	return fmt.Sprintf(responseFilePattern, destination)
}

// NewResult converts an evaluator answer into a response entry.
func NewResult(id int, gen GeneratedCode) Result {
	if gen.Skip {
		return Result{ID: id, Skip: true}
	}
	return Result{ID: id, ContentParts: gen.Segments}
}

// Generated converts a response entry back into an evaluator answer.
func (r Result) Generated() GeneratedCode {
	if r.Skip {
		return Skipped()
	}
	return GeneratedCode{Segments: r.ContentParts}
}

// Requests splits codes into one Request per destination, keeping the order
// of destinations and of codes within each.
func Requests(destinations []string, codes []AugmentingCode) []Request {
	byDest := make(map[string]int, len(destinations))
	out := make([]Request, len(destinations))
	for i, d := range destinations {
		byDest[d] = i
		out[i] = Request{Destination: d, Codes: []AugmentingCode{}}
	}
	for _, c := range codes {
		if i, ok := byDest[c.Destination]; ok {
			out[i].Codes = append(out[i].Codes, c)
		}
	}
	return out
}

// WriteJSON encodes v as indented JSON and replaces path atomically: the
// document is written to a temporary file in the same directory and renamed
// over the target.
func WriteJSON(path string, v any) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	return WriteFileAtomic(path, buf.Bytes(), 0o644)
}

// WriteFileAtomic writes data to a temporary sibling of path and renames it
// into place, creating parent directories as needed.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) (err error) {
	dir := filepath.Dir(path)
	if err = os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".augment-tmp-*")
	if err != nil {
		return fmt.Errorf("create temporary file in %s: %w", dir, err)
	}
	tmpPath := tmp.Name()
	defer func() {
		if err != nil {
			_ = os.Remove(tmpPath) // best-effort cleanup
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err = tmp.Chmod(perm); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("chmod %s: %w", path, err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err = os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}

// ReadJSON decodes the JSON document at path into v. Unknown fields are
// rejected so that a misspelled response key fails loudly.
func ReadJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return nil
}

// ReadPrep reads the preparation document from dir.
func ReadPrep(dir string) (*PrepDocument, error) {
	var doc PrepDocument
	if err := ReadJSON(filepath.Join(dir, PrepFileName), &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// ReadRequest reads the request document of destination from dir.
func ReadRequest(dir, destination string) (*Request, error) {
	var req Request
	if err := ReadJSON(filepath.Join(dir, RequestFileName(destination)), &req); err != nil {
		return nil, err
	}
	return &req, nil
}

// ReadResponse reads the response document of destination from dir.
func ReadResponse(dir, destination string) (*Response, error) {
	var resp Response
	if err := ReadJSON(filepath.Join(dir, ResponseFileName(destination)), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ReadSummary reads the change summary from dir.
func ReadSummary(dir string) (*ChangeSummary, error) {
	var sum ChangeSummary
	if err := ReadJSON(filepath.Join(dir, ChangesFileName), &sum); err != nil {
		return nil, err
	}
	return &sum, nil
}
