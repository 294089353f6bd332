// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"
)

var (
	// Version is the semantic version (set via -ldflags).
	Version = "dev"
	// Commit is the git commit hash (set via -ldflags).
	Commit = "unknown"
	// BuildDate is the build timestamp (set via -ldflags).
	BuildDate = "unknown"
)

// NewRootCommand builds the command tree around app.
func NewRootCommand(app *App) *cobra.Command {
	flags := &rootFlagValues{}

	rootCmd := &cobra.Command{
		Use:   "augment",
		Short: "Generate source text from directives embedded in comments",
		Long: TitleStyle.Render("augment") + SubtitleStyle.Render(" - generate source text from directives embedded in comments") + `

augment scans source files for directive markers, hands the code they
carry to an evaluator and writes the generated text back between the
markers. Only files whose content changes are rewritten.

` + SubtitleStyle.Render("Stages:") + `
  augment prepare     Scan sources, write prep and request documents
  augment generate    Answer the requests with the embedded shell
  augment merge       Write generated text back into the sources
  augment run         All three in one pass
  augment watch       Run again whenever a source changes

` + SubtitleStyle.Render("Examples:") + `
  augment run --fail-on-changes    Fail CI when generated code is stale
  augment config init              Create ./augment.cue with the defaults`,
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flags.configPath, "config", "", "config file (default is ./augment.cue, then the user config directory)")
	pf.BoolVarP(&flags.verbose, "verbose", "v", false, "enable verbose output")
	pf.IntVar(&flags.workers, "workers", 0, "files processed concurrently (0 = one per CPU)")
	pf.BoolVar(&flags.failOnChanges, "fail-on-changes", false, "exit with status 2 when any file changed")
	pf.BoolVar(&flags.noChangeDetection, "no-change-detection", false, "write every merged file and a completion marker instead of a change summary")

	rootCmd.AddCommand(
		newPrepareCommand(app, flags),
		newGenerateCommand(app, flags),
		newMergeCommand(app, flags),
		newRunCommand(app, flags),
		newWatchCommand(app, flags),
		newConfigCommand(app, flags),
	)
	return rootCmd
}

// getVersionString returns a formatted version string for display.
func getVersionString() string {
	if Version == "dev" {
		return "dev (built from source)"
	}
	return fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, BuildDate)
}

// Execute runs the CLI and exits with the status of the failed command.
// This is called by main.main().
func Execute() {
	if err := fang.Execute(
		context.Background(),
		NewRootCommand(NewApp(Dependencies{})),
		fang.WithVersion(getVersionString()),
		fang.WithNotifySignal(os.Interrupt),
	); err != nil {
		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.Code)
		}
		os.Exit(1)
	}
}
