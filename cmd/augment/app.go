// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/invowk/augment/internal/charset"
	"github.com/invowk/augment/internal/config"
	"github.com/invowk/augment/internal/directive"
	"github.com/invowk/augment/internal/discovery"
	"github.com/invowk/augment/internal/evaluator"
	"github.com/invowk/augment/internal/issue"
	"github.com/invowk/augment/internal/merge"
	"github.com/invowk/augment/internal/pipeline"
	"github.com/invowk/augment/pkg/codegen"
)

type (
	// App wires CLI services and shared dependencies. It is the composition
	// root for the CLI layer: every Cobra handler receives an App and builds
	// a session from it.
	App struct {
		Config       ConfigProvider
		NewEvaluator EvaluatorFactory
		stdout       io.Writer
		stderr       io.Writer
	}

	// Dependencies defines the injection points for building an App. Nil
	// fields are replaced with production defaults by NewApp.
	Dependencies struct {
		Config    ConfigProvider
		Evaluator EvaluatorFactory
		Stdout    io.Writer
		Stderr    io.Writer
	}

	// ConfigProvider loads configuration using explicit options.
	ConfigProvider interface {
		Load(ctx context.Context, opts config.LoadOptions) (*config.Config, error)
	}

	// EvaluatorFactory builds the evaluator for one run.
	EvaluatorFactory func(cfg *config.Config) codegen.Evaluator

	// rootFlagValues holds the global flags.
	rootFlagValues struct {
		configPath        string
		verbose           bool
		workers           int
		failOnChanges     bool
		noChangeDetection bool
	}

	// session is the validated state of one command invocation.
	session struct {
		cfg    *config.Config
		runner *pipeline.Runner
		logger *log.Logger
	}
)

// NewApp creates an App with defaults for omitted dependencies.
func NewApp(deps Dependencies) *App {
	if deps.Stdout == nil {
		deps.Stdout = os.Stdout
	}
	if deps.Stderr == nil {
		deps.Stderr = os.Stderr
	}
	if deps.Config == nil {
		deps.Config = config.NewProvider()
	}
	if deps.Evaluator == nil {
		deps.Evaluator = shellEvaluator
	}
	return &App{
		Config:       deps.Config,
		NewEvaluator: deps.Evaluator,
		stdout:       deps.Stdout,
		stderr:       deps.Stderr,
	}
}

func shellEvaluator(cfg *config.Config) codegen.Evaluator {
	return evaluator.NewShell(cfg.BaseDir, cfg.Shell.External, cfg.Shell.Timeout)
}

// session loads the configuration, applies flag overrides and builds the
// runner. Every failure here is a configuration error and aborts the command.
func (a *App) session(cmd *cobra.Command, flags *rootFlagValues) (*session, error) {
	cfg, err := a.Config.Load(cmd.Context(), config.LoadOptions{ConfigFilePath: flags.configPath})
	if err != nil {
		return nil, err
	}
	if cmd.Flags().Changed("workers") {
		cfg.Workers = flags.workers
	}
	if flags.failOnChanges {
		cfg.FailOnChanges = true
	}
	if flags.noChangeDetection {
		cfg.ChangeDetection = false
	}

	matcher, err := directive.NewMatcher(cfg.Markers.MarkerSet())
	if err != nil {
		return nil, issue.NewErrorContext().
			WithOperation("build marker matcher").
			WithResource(cfg.Path).
			WithSuggestion("Give every marker category at least one distinct, single-line literal").
			WithIssue(issue.InvalidMarkersId).
			Wrap(err).
			BuildError()
	}
	codec, err := charset.Lookup(cfg.Encoding.String())
	if err != nil {
		return nil, issue.NewErrorContext().
			WithOperation("select source encoding").
			WithResource(cfg.Encoding.String()).
			WithSuggestion("Set 'encoding' to an IANA charset name such as UTF-8 or ISO-8859-1").
			WithIssue(issue.UnsupportedEncodingId).
			Wrap(err).
			BuildError()
	}

	level := log.InfoLevel
	if flags.verbose {
		level = log.DebugLevel
	}
	logger := log.NewWithOptions(a.stderr, log.Options{Prefix: config.AppName, Level: level})

	return &session{
		cfg:    cfg,
		logger: logger,
		runner: &pipeline.Runner{
			Matcher:         matcher,
			Codec:           codec,
			IndentVariable:  cfg.IndentVariable,
			Workers:         cfg.Workers,
			WorkDir:         cfg.Resolve(cfg.WorkDir),
			ChangeDetection: cfg.ChangeDetection,
			OutputDir:       cfg.Resolve(cfg.OutputDir),
			Logger:          logger,
		},
	}, nil
}

// discover lists the configured source files. Warnings are logged; any
// error diagnostic fails the command after all diagnostics are shown.
func (a *App) discover(ctx context.Context, s *session) ([]discovery.File, error) {
	res, err := discovery.Discover(ctx, s.cfg.DiscoverySources())
	if err != nil {
		return nil, issue.NewErrorContext().
			WithOperation("discover source files").
			WithSuggestion("Check the include and exclude globs of every source").
			WithIssue(issue.ConfigLoadFailedId).
			Wrap(err).
			BuildError()
	}

	for _, d := range res.Diagnostics {
		prefix := WarningStyle.Render("warning")
		if d.Severity == discovery.SeverityError {
			prefix = ErrorStyle.Render("error")
		}
		if d.Path != "" {
			_, _ = fmt.Fprintf(a.stderr, "%s: %s (%s)\n", prefix, d.Message, d.Path)
			continue
		}
		_, _ = fmt.Fprintf(a.stderr, "%s: %s\n", prefix, d.Message)
	}
	if res.HasErrors() {
		return nil, issue.NewErrorContext().
			WithOperation("discover source files").
			WithSuggestion("Fix or remove the sources reported above").
			WithIssue(issue.SourceNotFoundId).
			Wrap(errors.New("source discovery reported errors")).
			BuildError()
	}
	s.logger.Debug("discovered", "files", len(res.Files))
	return res.Files, nil
}

// fail renders err and converts it into an ExitError so that fang does not
// print it a second time.
func (a *App) fail(cmd *cobra.Command, err error, verbose bool) error {
	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	var exitErr *ExitError
	if errors.As(err, &exitErr) && exitErr.Err == nil {
		return exitErr
	}

	_, _ = fmt.Fprintf(a.stderr, "%s %s\n", ErrorStyle.Render("Error:"), formatErrorForDisplay(err, verbose))
	if id := classifyError(err); id != 0 {
		renderIssue(a.stderr, id)
	}

	code := ExitProblems
	if errors.As(err, &exitErr) {
		code = exitErr.Code
	}
	return &ExitError{Code: code}
}

// classifyError maps a failure to its catalog entry.
func classifyError(err error) issue.Id {
	var ae *issue.ActionableError
	switch {
	case errors.As(err, &ae) && ae.Issue != 0:
		return ae.Issue
	case errors.Is(err, merge.ErrChangesDetected):
		return issue.ChangesDetectedId
	case errors.Is(err, charset.ErrUnknownEncoding), errors.Is(err, charset.ErrUnsupportedEncoding):
		return issue.UnsupportedEncodingId
	case errors.Is(err, os.ErrPermission):
		return issue.PermissionDeniedId
	}
	return 0
}

// formatErrorForDisplay formats an error for user display. Actionable
// errors include their suggestions, and the cause chain in verbose mode.
func formatErrorForDisplay(err error, verboseMode bool) string {
	var ae *issue.ActionableError
	if errors.As(err, &ae) {
		return ae.Format(verboseMode)
	}
	return err.Error()
}
