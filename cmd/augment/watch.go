// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/invowk/augment/internal/discovery"
	"github.com/invowk/augment/internal/issue"
	"github.com/invowk/augment/internal/watch"
)

func newWatchCommand(app *App, flags *rootFlagValues) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Run once, then again whenever a source changes",
		Long: `Run prepare, generate and merge once, then watch every source directory
and run again after each burst of edits. Files rewritten by the merge do
not trigger another run. Stop with Ctrl+C.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := app.session(cmd, flags)
			if err != nil {
				return app.fail(cmd, err, flags.verbose)
			}
			if err := app.watch(cmd.Context(), s); err != nil {
				return app.fail(cmd, err, flags.verbose)
			}
			return nil
		},
	}
}

// watch blocks until ctx is cancelled. Failed runs are reported and the
// watch goes on; only watcher failures end it.
func (a *App) watch(ctx context.Context, s *session) error {
	_, _ = fmt.Fprintf(a.stdout, "%s Initial run\n", CmdStyle.Render("→"))
	_, _ = a.runWatched(ctx, s)

	var w *watch.Watcher
	w, err := watch.New(watch.Config{
		Sources:     s.cfg.DiscoverySources(),
		Ignore:      s.cfg.Watch.Ignore,
		Debounce:    s.cfg.Watch.Debounce,
		ClearScreen: s.cfg.Watch.ClearScreen,
		Stdout:      a.stdout,
		Logger:      s.logger,
		OnChange: func(ctx context.Context, changed []discovery.File) error {
			_, _ = fmt.Fprintf(a.stdout, "%s %d file(s) changed\n", CmdStyle.Render("→"), len(changed))
			files, _ := a.runWatched(ctx, s)
			w.Settle(files...)
			_, _ = fmt.Fprintf(a.stdout, "\n%s Watching for changes...\n\n", CmdStyle.Render("→"))
			return nil
		},
	})
	if err != nil {
		return issue.NewErrorContext().
			WithOperation("start watching sources").
			WithIssue(issue.WatchFailedId).
			Wrap(err).
			BuildError()
	}

	_, _ = fmt.Fprintf(a.stdout, "\n%s Watching for changes (Ctrl+C to stop)...\n\n", CmdStyle.Render("→"))
	if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return issue.NewErrorContext().
			WithOperation("watch sources").
			WithSuggestion("Raise the inotify watch limit or narrow the sources").
			WithIssue(issue.WatchFailedId).
			Wrap(err).
			BuildError()
	}
	return nil
}

// runWatched runs every stage once and returns the files it discovered so
// that their post-merge content can be settled.
func (a *App) runWatched(ctx context.Context, s *session) ([]discovery.File, error) {
	files, err := a.discover(ctx, s)
	if err != nil {
		_, _ = fmt.Fprintf(a.stderr, "%s %s\n", WarningStyle.Render("!"), formatErrorForDisplay(err, false))
		return nil, err
	}
	out, probs := s.runner.Run(ctx, files, a.NewEvaluator(s.cfg))
	if err := a.finish(s, out, probs); err != nil {
		var exitErr *ExitError
		if !errors.As(err, &exitErr) || exitErr.Err != nil {
			_, _ = fmt.Fprintf(a.stderr, "%s %s\n", WarningStyle.Render("!"), formatErrorForDisplay(err, false))
		}
		return files, err
	}
	return files, nil
}
