// SPDX-License-Identifier: MPL-2.0

package directive

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidMarkerSet is the sentinel error wrapped by InvalidMarkerSetError.
	ErrInvalidMarkerSet = errors.New("invalid marker set")
	// ErrDuplicateMarker is returned when the same literal is configured twice.
	ErrDuplicateMarker = errors.New("duplicate marker")
	// ErrBlankMarker is returned when a marker is empty or whitespace-only.
	ErrBlankMarker = errors.New("blank marker")
	// ErrEmptyCategory is returned when a required marker list is empty.
	ErrEmptyCategory = errors.New("empty marker category")
	// ErrInvalidDestination is returned for blank or duplicate destination names.
	ErrInvalidDestination = errors.New("invalid destination")
)

type (
	// MarkerSet lists the accepted literals of every marker category.
	// Each category accepts one or more aliases; every literal across all
	// categories and destinations must be distinct.
	MarkerSet struct {
		BlockStart []string
		BlockEnd   []string
		SkipStart  []string
		SkipEnd    []string
		String     []string
		JSON       []string
		Inline     []string
		NestStart  []string
		NestEnd    []string
		// Destinations route plain directives to requests. The first one is
		// the default destination.
		Destinations []Destination
	}

	// Destination names one output request and the plain directive aliases
	// that route code to it.
	Destination struct {
		Name       string
		Directives []string
	}

	// InvalidMarkerSetError collects every validation failure of a MarkerSet.
	// It wraps ErrInvalidMarkerSet for errors.Is() compatibility.
	InvalidMarkerSetError struct {
		FieldErrors []error
	}

	// DuplicateMarkerError reports a literal configured in two places.
	DuplicateMarkerError struct {
		Marker string
		First  string
		Second string
	}

	// BlankMarkerError reports an empty, whitespace-only or multi-line marker.
	BlankMarkerError struct {
		Category string
		Index    int
	}

	// EmptyCategoryError reports a category configured without any marker.
	EmptyCategoryError struct {
		Category string
	}

	// InvalidDestinationError reports a blank or repeated destination name.
	InvalidDestinationError struct {
		Name   string
		Reason string
	}
)

// DefaultMarkerSet returns the built-in markers.
func DefaultMarkerSet() MarkerSet {
	return MarkerSet{
		BlockStart: []string{"//[["},
		BlockEnd:   []string{"//]]"},
		SkipStart:  []string{"//-[["},
		SkipEnd:    []string{"//-]]"},
		String:     []string{"//$"},
		JSON:       []string{"//@"},
		Inline:     []string{"//="},
		NestStart:  []string{"{"},
		NestEnd:    []string{"}"},
		Destinations: []Destination{
			{Name: "default", Directives: []string{"//:"}},
		},
	}
}

// DefaultDestination returns the name of the first destination, or "" when
// none is configured.
func (m MarkerSet) DefaultDestination() string {
	if len(m.Destinations) == 0 {
		return ""
	}
	return m.Destinations[0].Name
}

// DestinationNames returns the configured destination names in order.
func (m MarkerSet) DestinationNames() []string {
	names := make([]string, len(m.Destinations))
	for i, d := range m.Destinations {
		names[i] = d.Name
	}
	return names
}

// Validate checks that every category is non-empty, every marker is
// non-blank and single-line, all markers are mutually distinct and
// destination names are unique.
func (m MarkerSet) Validate() error {
	var errs []error
	seen := make(map[string]string)

	check := func(category string, markers []string) {
		if len(markers) == 0 {
			errs = append(errs, &EmptyCategoryError{Category: category})
			return
		}
		for i, marker := range markers {
			if strings.TrimSpace(marker) == "" || strings.ContainsAny(marker, "\r\n") {
				errs = append(errs, &BlankMarkerError{Category: category, Index: i})
				continue
			}
			if first, exists := seen[marker]; exists {
				errs = append(errs, &DuplicateMarkerError{Marker: marker, First: first, Second: category})
				continue
			}
			seen[marker] = category
		}
	}

	check("block_start", m.BlockStart)
	check("block_end", m.BlockEnd)
	check("skip_start", m.SkipStart)
	check("skip_end", m.SkipEnd)
	check("string", m.String)
	check("json", m.JSON)
	check("inline", m.Inline)
	check("nest_start", m.NestStart)
	check("nest_end", m.NestEnd)

	if len(m.Destinations) == 0 {
		errs = append(errs, &EmptyCategoryError{Category: "destinations"})
	}
	names := make(map[string]bool, len(m.Destinations))
	for _, d := range m.Destinations {
		switch {
		case strings.TrimSpace(d.Name) == "":
			errs = append(errs, &InvalidDestinationError{Name: d.Name, Reason: "name must be non-empty"})
		case names[d.Name]:
			errs = append(errs, &InvalidDestinationError{Name: d.Name, Reason: "name is used twice"})
		default:
			names[d.Name] = true
		}
		check("destinations."+d.Name, d.Directives)
	}

	if len(errs) > 0 {
		return &InvalidMarkerSetError{FieldErrors: errs}
	}
	return nil
}

// Error implements the error interface for InvalidMarkerSetError.
func (e *InvalidMarkerSetError) Error() string {
	msgs := make([]string, len(e.FieldErrors))
	for i, err := range e.FieldErrors {
		msgs[i] = err.Error()
	}
	return fmt.Sprintf("invalid marker set: %s", strings.Join(msgs, "; "))
}

// Unwrap returns ErrInvalidMarkerSet for errors.Is() compatibility.
func (e *InvalidMarkerSetError) Unwrap() error { return ErrInvalidMarkerSet }

// Error implements the error interface for DuplicateMarkerError.
func (e *DuplicateMarkerError) Error() string {
	if e.First == e.Second {
		return fmt.Sprintf("marker %q is listed twice in %s", e.Marker, e.First)
	}
	return fmt.Sprintf("marker %q is used by both %s and %s", e.Marker, e.First, e.Second)
}

// Unwrap returns ErrDuplicateMarker for errors.Is() compatibility.
func (e *DuplicateMarkerError) Unwrap() error { return ErrDuplicateMarker }

// Error implements the error interface for BlankMarkerError.
func (e *BlankMarkerError) Error() string {
	return fmt.Sprintf("%s[%d]: marker must be non-blank and fit on one line", e.Category, e.Index)
}

// Unwrap returns ErrBlankMarker for errors.Is() compatibility.
func (e *BlankMarkerError) Unwrap() error { return ErrBlankMarker }

// Error implements the error interface for EmptyCategoryError.
func (e *EmptyCategoryError) Error() string {
	return fmt.Sprintf("%s: at least one marker is required", e.Category)
}

// Unwrap returns ErrEmptyCategory for errors.Is() compatibility.
func (e *EmptyCategoryError) Unwrap() error { return ErrEmptyCategory }

// Error implements the error interface for InvalidDestinationError.
func (e *InvalidDestinationError) Error() string {
	return fmt.Sprintf("destination %q: %s", e.Name, e.Reason)
}

// Unwrap returns ErrInvalidDestination for errors.Is() compatibility.
func (e *InvalidDestinationError) Unwrap() error { return ErrInvalidDestination }
