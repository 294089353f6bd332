// SPDX-License-Identifier: MPL-2.0

package watch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/invowk/augment/internal/discovery"
	"github.com/invowk/augment/pkg/codegen"
)

// ErrInvalidConfig is the sentinel error wrapped by InvalidConfigError.
var ErrInvalidConfig = errors.New("invalid watch config")

type (
	// Config holds the parameters for a Watcher.
	Config struct {
		// Sources are the roots to watch, with the same include and exclude
		// semantics discovery uses.
		Sources []discovery.Source

		// Ignore are extra doublestar patterns, relative to each source root,
		// that never trigger callbacks. They are merged with DefaultIgnores.
		Ignore []string

		// Debounce is the quiet period after the last event before the
		// callback fires. Zero falls back to defaultDebounce.
		Debounce time.Duration

		// ClearScreen writes an ANSI clear sequence to Stdout before each
		// callback.
		ClearScreen bool

		// OnChange receives the files whose content changed since they were
		// last seen, sorted by root and relative path. A nil callback is a
		// no-op.
		OnChange func(ctx context.Context, changed []discovery.File) error

		// Stdout receives the clear sequence; nil means os.Stdout.
		Stdout io.Writer
		Logger codegen.Logger
	}

	// InvalidConfigError collects every validation failure of a Config.
	// It wraps ErrInvalidConfig for errors.Is() compatibility.
	InvalidConfigError struct {
		FieldErrors []error
	}
)

// Validate checks sources, patterns and the debounce period.
func (c Config) Validate() error {
	var errs []error
	if len(c.Sources) == 0 {
		errs = append(errs, errors.New("no source to watch"))
	}
	for i, src := range c.Sources {
		if strings.TrimSpace(src.Dir) == "" {
			errs = append(errs, fmt.Errorf("source %d: directory must not be blank", i))
		}
		if err := discovery.ValidatePatterns(src.Include); err != nil {
			errs = append(errs, fmt.Errorf("source %d: include: %w", i, err))
		}
		if err := discovery.ValidatePatterns(src.Exclude); err != nil {
			errs = append(errs, fmt.Errorf("source %d: exclude: %w", i, err))
		}
	}
	if err := discovery.ValidatePatterns(c.Ignore); err != nil {
		errs = append(errs, fmt.Errorf("ignore: %w", err))
	}
	if c.Debounce < 0 {
		errs = append(errs, fmt.Errorf("debounce must not be negative, got %s", c.Debounce))
	}
	if len(errs) > 0 {
		return &InvalidConfigError{FieldErrors: errs}
	}
	return nil
}

// Error implements the error interface for InvalidConfigError.
func (e *InvalidConfigError) Error() string {
	return fmt.Sprintf("invalid watch config: %d field error(s): %v", len(e.FieldErrors), errors.Join(e.FieldErrors...))
}

// Unwrap returns ErrInvalidConfig for errors.Is() compatibility.
func (e *InvalidConfigError) Unwrap() error { return ErrInvalidConfig }
