// SPDX-License-Identifier: MPL-2.0

package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/invowk/augment/internal/charset"
	"github.com/invowk/augment/internal/directive"
	"github.com/invowk/augment/internal/discovery"
)

var (
	// ErrInvalidEncoding is the sentinel error wrapped by InvalidEncodingError.
	ErrInvalidEncoding = errors.New("invalid encoding")
	// ErrInvalidWorkers is returned for a negative worker count.
	ErrInvalidWorkers = errors.New("invalid worker count")
	// ErrInvalidSource is the sentinel error wrapped by InvalidSourceError.
	ErrInvalidSource = errors.New("invalid source")
	// ErrInvalidDestinationName is returned for destination names that
	// cannot appear in a document file name.
	ErrInvalidDestinationName = errors.New("invalid destination name")
	// ErrInvalidDuration is returned for negative timeouts and debounce periods.
	ErrInvalidDuration = errors.New("invalid duration")
	// ErrInvalidDirectory is returned for a blank work directory.
	ErrInvalidDirectory = errors.New("invalid directory")
	// ErrInvalidConfig is the sentinel error wrapped by InvalidConfigError.
	ErrInvalidConfig = errors.New("invalid config")

	destinationName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)
)

type (
	// Encoding is an IANA charset name.
	Encoding string

	// InvalidEncodingError is returned for an unknown or unsupported
	// encoding. It wraps ErrInvalidEncoding and keeps the charset cause.
	InvalidEncodingError struct {
		Value Encoding
		Cause error
	}

	// InvalidSourceError collects the field errors of one source entry.
	InvalidSourceError struct {
		Index       int
		FieldErrors []error
	}

	// InvalidConfigError is returned when a Config has invalid fields.
	// It wraps ErrInvalidConfig for errors.Is() compatibility and collects
	// field-level validation errors from all sub-components.
	InvalidConfigError struct {
		FieldErrors []error
	}

	// Config holds the augment configuration.
	Config struct {
		// Encoding is the charset of every source file.
		Encoding Encoding `json:"encoding" mapstructure:"encoding"`
		// WorkDir receives the prep, request, response and summary documents.
		WorkDir string `json:"work_dir" mapstructure:"work_dir"`
		// OutputDir, when set, receives merged files instead of the sources.
		OutputDir string `json:"output_dir" mapstructure:"output_dir"`
		// Workers bounds per-file concurrency; 0 means one per CPU.
		Workers         int  `json:"workers" mapstructure:"workers"`
		ChangeDetection bool `json:"change_detection" mapstructure:"change_detection"`
		FailOnChanges   bool `json:"fail_on_changes" mapstructure:"fail_on_changes"`
		// IndentVariable names the synthesized indentation variable; empty
		// disables it.
		IndentVariable string         `json:"indent_variable" mapstructure:"indent_variable"`
		Sources        []SourceConfig `json:"sources" mapstructure:"sources"`
		Markers        MarkersConfig  `json:"markers" mapstructure:"markers"`
		Shell          ShellConfig    `json:"shell" mapstructure:"shell"`
		Watch          WatchConfig    `json:"watch" mapstructure:"watch"`

		// BaseDir resolves relative paths: the directory of a project
		// config file, or the working directory.
		BaseDir string `json:"-" mapstructure:"-"`
		// Path is the file the configuration was loaded from; empty when
		// only defaults apply.
		Path string `json:"-" mapstructure:"-"`
	}

	// SourceConfig is one source root with its glob filters.
	SourceConfig struct {
		Dir     string   `json:"dir" mapstructure:"dir"`
		Include []string `json:"include" mapstructure:"include"`
		Exclude []string `json:"exclude" mapstructure:"exclude"`
	}

	// MarkersConfig lists the accepted literals of every marker category.
	MarkersConfig struct {
		BlockStart   []string            `json:"block_start" mapstructure:"block_start"`
		BlockEnd     []string            `json:"block_end" mapstructure:"block_end"`
		SkipStart    []string            `json:"skip_start" mapstructure:"skip_start"`
		SkipEnd      []string            `json:"skip_end" mapstructure:"skip_end"`
		String       []string            `json:"string" mapstructure:"string"`
		JSON         []string            `json:"json" mapstructure:"json"`
		Inline       []string            `json:"inline" mapstructure:"inline"`
		NestStart    []string            `json:"nest_start" mapstructure:"nest_start"`
		NestEnd      []string            `json:"nest_end" mapstructure:"nest_end"`
		Destinations []DestinationConfig `json:"destinations" mapstructure:"destinations"`
	}

	// DestinationConfig routes plain directives to one request document.
	DestinationConfig struct {
		Name       string   `json:"name" mapstructure:"name"`
		Directives []string `json:"directives" mapstructure:"directives"`
	}

	// ShellConfig configures the embedded shell evaluator.
	ShellConfig struct {
		// External allows codes to run programs outside the shell builtins.
		External bool `json:"external" mapstructure:"external"`
		// Timeout bounds one code's run; 0 disables it.
		Timeout time.Duration `json:"timeout" mapstructure:"timeout"`
	}

	// WatchConfig configures "augment watch".
	WatchConfig struct {
		Debounce    time.Duration `json:"debounce" mapstructure:"debounce"`
		ClearScreen bool          `json:"clear_screen" mapstructure:"clear_screen"`
		Ignore      []string      `json:"ignore" mapstructure:"ignore"`
	}
)

// String returns the string representation of the Encoding.
func (e Encoding) String() string { return string(e) }

// IsValid reports whether the encoding has a codec.
func (e Encoding) IsValid() (bool, []error) {
	if _, err := charset.Lookup(string(e)); err != nil {
		return false, []error{&InvalidEncodingError{Value: e, Cause: err}}
	}
	return true, nil
}

// Error implements the error interface for InvalidEncodingError.
func (e *InvalidEncodingError) Error() string {
	return fmt.Sprintf("invalid encoding %q: %v", e.Value, e.Cause)
}

// Unwrap returns ErrInvalidEncoding for errors.Is() compatibility.
func (e *InvalidEncodingError) Unwrap() error { return ErrInvalidEncoding }

// IsValid checks the directory and glob patterns of the source.
func (s SourceConfig) IsValid() (bool, []error) {
	var errs []error
	if strings.TrimSpace(s.Dir) == "" {
		errs = append(errs, errors.New("dir must not be blank"))
	}
	if err := discovery.ValidatePatterns(s.Include); err != nil {
		errs = append(errs, fmt.Errorf("include: %w", err))
	}
	if err := discovery.ValidatePatterns(s.Exclude); err != nil {
		errs = append(errs, fmt.Errorf("exclude: %w", err))
	}
	if len(errs) > 0 {
		return false, errs
	}
	return true, nil
}

// Error implements the error interface for InvalidSourceError.
func (e *InvalidSourceError) Error() string {
	return fmt.Sprintf("invalid sources[%d]: %v", e.Index, errors.Join(e.FieldErrors...))
}

// Unwrap returns ErrInvalidSource for errors.Is() compatibility.
func (e *InvalidSourceError) Unwrap() error { return ErrInvalidSource }

// MarkerSet converts the configuration into a directive.MarkerSet.
func (m MarkersConfig) MarkerSet() directive.MarkerSet {
	set := directive.MarkerSet{
		BlockStart: m.BlockStart,
		BlockEnd:   m.BlockEnd,
		SkipStart:  m.SkipStart,
		SkipEnd:    m.SkipEnd,
		String:     m.String,
		JSON:       m.JSON,
		Inline:     m.Inline,
		NestStart:  m.NestStart,
		NestEnd:    m.NestEnd,
	}
	for _, d := range m.Destinations {
		set.Destinations = append(set.Destinations, directive.Destination{Name: d.Name, Directives: d.Directives})
	}
	return set
}

// IsValid checks marker distinctness and destination names, which the CUE
// schema cannot express.
func (m MarkersConfig) IsValid() (bool, []error) {
	var errs []error
	if err := m.MarkerSet().Validate(); err != nil {
		errs = append(errs, err)
	}
	for _, d := range m.Destinations {
		if d.Name != "" && !destinationName.MatchString(d.Name) {
			errs = append(errs, fmt.Errorf("%w %q: use letters, digits, '.', '_' or '-'", ErrInvalidDestinationName, d.Name))
		}
	}
	if len(errs) > 0 {
		return false, errs
	}
	return true, nil
}

// IsValid checks the timeout.
func (s ShellConfig) IsValid() (bool, []error) {
	if s.Timeout < 0 {
		return false, []error{fmt.Errorf("%w: shell.timeout %s is negative", ErrInvalidDuration, s.Timeout)}
	}
	return true, nil
}

// IsValid checks the debounce period and ignore patterns.
func (w WatchConfig) IsValid() (bool, []error) {
	var errs []error
	if w.Debounce < 0 {
		errs = append(errs, fmt.Errorf("%w: watch.debounce %s is negative", ErrInvalidDuration, w.Debounce))
	}
	if err := discovery.ValidatePatterns(w.Ignore); err != nil {
		errs = append(errs, fmt.Errorf("watch.ignore: %w", err))
	}
	if len(errs) > 0 {
		return false, errs
	}
	return true, nil
}

// IsValid returns whether the Config has valid fields. It delegates to the
// IsValid method of every component.
func (c Config) IsValid() (bool, []error) {
	var errs []error
	if valid, fieldErrs := c.Encoding.IsValid(); !valid {
		errs = append(errs, fieldErrs...)
	}
	if strings.TrimSpace(c.WorkDir) == "" {
		errs = append(errs, fmt.Errorf("%w: work_dir must not be blank", ErrInvalidDirectory))
	}
	if c.Workers < 0 {
		errs = append(errs, fmt.Errorf("%w: %d", ErrInvalidWorkers, c.Workers))
	}
	if len(c.Sources) == 0 {
		errs = append(errs, fmt.Errorf("%w: at least one source is required", ErrInvalidSource))
	}
	for i, s := range c.Sources {
		if valid, fieldErrs := s.IsValid(); !valid {
			errs = append(errs, &InvalidSourceError{Index: i, FieldErrors: fieldErrs})
		}
	}
	if valid, fieldErrs := c.Markers.IsValid(); !valid {
		errs = append(errs, fieldErrs...)
	}
	if valid, fieldErrs := c.Shell.IsValid(); !valid {
		errs = append(errs, fieldErrs...)
	}
	if valid, fieldErrs := c.Watch.IsValid(); !valid {
		errs = append(errs, fieldErrs...)
	}
	if len(errs) > 0 {
		return false, []error{&InvalidConfigError{FieldErrors: errs}}
	}
	return true, nil
}

// Error implements the error interface for InvalidConfigError.
func (e *InvalidConfigError) Error() string {
	return fmt.Sprintf("invalid config: %d field error(s): %v", len(e.FieldErrors), errors.Join(e.FieldErrors...))
}

// Unwrap returns ErrInvalidConfig for errors.Is() compatibility.
func (e *InvalidConfigError) Unwrap() error { return ErrInvalidConfig }

// Resolve returns path made absolute against BaseDir.
func (c *Config) Resolve(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(c.BaseDir, path)
}

// DiscoverySources converts the configured sources, resolving their
// directories.
func (c *Config) DiscoverySources() []discovery.Source {
	out := make([]discovery.Source, len(c.Sources))
	for i, s := range c.Sources {
		out[i] = discovery.Source{Dir: c.Resolve(s.Dir), Include: s.Include, Exclude: s.Exclude}
	}
	return out
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	set := directive.DefaultMarkerSet()
	markers := MarkersConfig{
		BlockStart: set.BlockStart,
		BlockEnd:   set.BlockEnd,
		SkipStart:  set.SkipStart,
		SkipEnd:    set.SkipEnd,
		String:     set.String,
		JSON:       set.JSON,
		Inline:     set.Inline,
		NestStart:  set.NestStart,
		NestEnd:    set.NestEnd,
	}
	for _, d := range set.Destinations {
		markers.Destinations = append(markers.Destinations, DestinationConfig{Name: d.Name, Directives: d.Directives})
	}

	return &Config{
		Encoding:        charset.DefaultEncoding,
		WorkDir:         ".augment",
		ChangeDetection: true,
		IndentVariable:  "_indent",
		Sources:         []SourceConfig{{Dir: "."}},
		Markers:         markers,
		Shell:           ShellConfig{Timeout: 30 * time.Second},
		Watch:           WatchConfig{Debounce: 300 * time.Millisecond},
	}
}
