// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/invowk/augment/internal/issue"
	"github.com/invowk/augment/internal/merge"
	"github.com/invowk/augment/internal/problem"
)

func newPrepareCommand(app *App, flags *rootFlagValues) *cobra.Command {
	return &cobra.Command{
		Use:   "prepare",
		Short: "Scan sources and write the prep and request documents",
		Long: `Scan every configured source, resolve directives and scopes, and write
augment-prep.json plus one augment-request-<destination>.json per
destination to the work directory. An external evaluator can answer the
requests with augment-response-<destination>.json files.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return app.runStage(cmd, flags, app.prepare)
		},
	}
}

func newGenerateCommand(app *App, flags *rootFlagValues) *cobra.Command {
	return &cobra.Command{
		Use:   "generate",
		Short: "Evaluate the request documents with the embedded shell",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return app.runStage(cmd, flags, app.generate)
		},
	}
}

func newMergeCommand(app *App, flags *rootFlagValues) *cobra.Command {
	return &cobra.Command{
		Use:   "merge",
		Short: "Merge the response documents back into the sources",
		Long: `Reassemble every prepared file from its content parts and the response
documents. Only files whose bytes changed are written; the changed files
are listed in augment-changes.json.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return app.runStage(cmd, flags, app.merge)
		},
	}
}

func newRunCommand(app *App, flags *rootFlagValues) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Prepare, generate and merge in one pass",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return app.runStage(cmd, flags, app.run)
		},
	}
}

// runStage builds a session, runs stage and renders its failure.
func (a *App) runStage(cmd *cobra.Command, flags *rootFlagValues, stage func(context.Context, *session) error) error {
	s, err := a.session(cmd, flags)
	if err != nil {
		return a.fail(cmd, err, flags.verbose)
	}
	if err := stage(cmd.Context(), s); err != nil {
		return a.fail(cmd, err, flags.verbose)
	}
	return nil
}

func (a *App) prepare(ctx context.Context, s *session) error {
	files, err := a.discover(ctx, s)
	if err != nil {
		return err
	}
	prepared, probs := s.runner.Prepare(ctx, files)
	if err := s.runner.WritePrepared(prepared); err != nil {
		return writeError(err, s.runner.WorkDir)
	}
	if err := a.report(probs); err != nil {
		return err
	}

	counts := make([]string, 0, len(prepared.Requests))
	for _, req := range prepared.Requests {
		counts = append(counts, fmt.Sprintf("%s %d", req.Destination, len(req.Codes)))
	}
	_, _ = fmt.Fprintf(a.stdout, "%s Prepared %d file(s) (%s)\n",
		SuccessStyle.Render("✓"), len(prepared.Doc.Files), strings.Join(counts, ", "))
	_, _ = fmt.Fprintln(a.stdout, summaryHintStyle.Render("Next: answer the requests in "+s.runner.WorkDir+" or run 'augment generate'"))
	return nil
}

func (a *App) generate(ctx context.Context, s *session) error {
	requests, err := s.runner.LoadRequests()
	if err != nil {
		return issue.NewErrorContext().
			WithOperation("read request documents").
			WithResource(s.runner.WorkDir).
			WithSuggestion("Run 'augment prepare' first").
			WithIssue(issue.ResponseInvalidId).
			Wrap(err).
			BuildError()
	}
	responses, probs := s.runner.Generate(ctx, a.NewEvaluator(s.cfg), requests)
	if err := s.runner.WriteResponses(responses); err != nil {
		return writeError(err, s.runner.WorkDir)
	}
	if err := a.report(probs); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(a.stdout, "%s Generated %d response(s)\n", SuccessStyle.Render("✓"), len(responses))
	return nil
}

func (a *App) merge(ctx context.Context, s *session) error {
	prep, responses, probs, err := s.runner.LoadMergeInput()
	if err != nil {
		return issue.NewErrorContext().
			WithOperation("read merge input").
			WithResource(s.runner.WorkDir).
			WithSuggestion("Run 'augment prepare' before merging").
			WithIssue(issue.ResponseInvalidId).
			Wrap(err).
			BuildError()
	}
	out, mergeProbs := s.runner.Merge(ctx, prep, responses)
	probs.Extend(mergeProbs)
	return a.finish(s, out, probs)
}

func (a *App) run(ctx context.Context, s *session) error {
	files, err := a.discover(ctx, s)
	if err != nil {
		return err
	}
	out, probs := s.runner.Run(ctx, files, a.NewEvaluator(s.cfg))
	return a.finish(s, out, probs)
}

// finish renders the merge outcome and applies --fail-on-changes.
func (a *App) finish(s *session, out merge.Outcome, probs problem.List) error {
	if err := a.report(probs); err != nil {
		return err
	}
	renderOutcome(a.stdout, out, s.cfg.ChangeDetection)
	if err := out.Check(s.cfg.FailOnChanges); err != nil {
		return &ExitError{Code: ExitChanges, Err: err}
	}
	return nil
}

// report renders probs and returns an ExitError when there are any.
func (a *App) report(probs problem.List) error {
	if len(probs) == 0 {
		return nil
	}
	renderProblems(a.stderr, probs)
	return &ExitError{Code: ExitProblems}
}

func writeError(err error, workDir string) error {
	return issue.NewErrorContext().
		WithOperation("write documents").
		WithResource(workDir).
		WithSuggestion("Check that the work directory is writable").
		WithIssue(issue.PermissionDeniedId).
		Wrap(err).
		BuildError()
}
