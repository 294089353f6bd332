// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"

	"github.com/spf13/cobra"

	"github.com/invowk/augment/internal/config"
)

// newConfigCommand creates the `augment config` command tree.
func newConfigCommand(app *App, flags *rootFlagValues) *cobra.Command {
	cfgCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage augment configuration",
		Long: `Manage augment configuration.

A run reads the first of:
  - the file given with --config
  - augment.cue in the current directory
  - config.cue in the user config directory
    (Linux: ~/.config/augment, macOS: ~/Library/Application Support/augment,
    Windows: %APPDATA%\augment)`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := app.loadConfig(cmd, flags)
			if err != nil {
				return app.fail(cmd, err, flags.verbose)
			}
			app.showConfig(cfg)
			return nil
		},
	})

	var format string
	dumpCmd := &cobra.Command{
		Use:   "dump",
		Short: "Print the effective configuration as CUE or TOML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := app.loadConfig(cmd, flags)
			if err != nil {
				return app.fail(cmd, err, flags.verbose)
			}
			switch format {
			case "cue":
				_, _ = fmt.Fprint(app.stdout, config.GenerateCUE(cfg))
			case "toml":
				out, err := config.GenerateTOML(cfg)
				if err != nil {
					return app.fail(cmd, err, flags.verbose)
				}
				_, _ = fmt.Fprint(app.stdout, out)
			default:
				return fmt.Errorf("unknown format %q (use cue or toml)", format)
			}
			return nil
		},
	}
	dumpCmd.Flags().StringVar(&format, "format", "cue", "output format: cue or toml")
	cfgCmd.AddCommand(dumpCmd)

	var user bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Create a configuration file with the defaults",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := initPath(user)
			if err != nil {
				return app.fail(cmd, err, flags.verbose)
			}
			written, err := config.CreateDefaultConfig(path)
			if err != nil {
				return app.fail(cmd, err, flags.verbose)
			}
			if !written {
				_, _ = fmt.Fprintf(app.stdout, "%s %s already exists\n", WarningStyle.Render("!"), path)
				return nil
			}
			_, _ = fmt.Fprintf(app.stdout, "%s Created default configuration at %s\n", SuccessStyle.Render("✓"), path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&user, "user", false, "write to the user config directory instead of ./augment.cue")
	cfgCmd.AddCommand(initCmd)

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show where configuration is read from",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfgDir, err := config.ConfigDir()
			if err != nil {
				return app.fail(cmd, err, flags.verbose)
			}
			_, _ = fmt.Fprintf(app.stdout, "Project file: %s\n", config.ProjectFileName)
			_, _ = fmt.Fprintf(app.stdout, "User file: %s\n", filepath.Join(cfgDir, config.ConfigFileName+"."+config.ConfigFileExt))

			cfg, err := app.loadConfig(cmd, flags)
			if err != nil {
				return app.fail(cmd, err, flags.verbose)
			}
			active := cfg.Path
			if active == "" {
				active = "(using defaults)"
			}
			_, _ = fmt.Fprintf(app.stdout, "Active: %s\n", active)
			return nil
		},
	})

	return cfgCmd
}

func (a *App) loadConfig(cmd *cobra.Command, flags *rootFlagValues) (*config.Config, error) {
	return a.Config.Load(cmd.Context(), config.LoadOptions{ConfigFilePath: flags.configPath})
}

func initPath(user bool) (string, error) {
	if !user {
		wd, err := os.Getwd()
		if err != nil {
			return "", err
		}
		return filepath.Join(wd, config.ProjectFileName), nil
	}
	if err := config.EnsureConfigDir(); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}
	cfgDir, err := config.ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(cfgDir, config.ConfigFileName+"."+config.ConfigFileExt), nil
}

func (a *App) showConfig(cfg *config.Config) {
	_, _ = fmt.Fprintln(a.stdout, TitleStyle.Render("Current Configuration"))
	_, _ = fmt.Fprintln(a.stdout)

	source := SubtitleStyle.Render("(using defaults)")
	if cfg.Path != "" {
		source = cfg.Path
	}
	_, _ = fmt.Fprintf(a.stdout, "%s: %s\n", CmdStyle.Render("Config file"), source)
	_, _ = fmt.Fprintf(a.stdout, "%s: %s\n\n", CmdStyle.Render("Base directory"), cfg.BaseDir)

	writeSettings(a, cfg.Settings(), "")
}

// writeSettings prints a nested settings map as indented key/value lines
// with sorted keys.
func writeSettings(a *App, settings map[string]any, indent string) {
	for _, key := range slices.Sorted(maps.Keys(settings)) {
		switch v := settings[key].(type) {
		case map[string]any:
			_, _ = fmt.Fprintf(a.stdout, "%s%s:\n", indent, CmdStyle.Render(key))
			writeSettings(a, v, indent+"  ")
		case []map[string]any:
			_, _ = fmt.Fprintf(a.stdout, "%s%s:\n", indent, CmdStyle.Render(key))
			for _, item := range v {
				_, _ = fmt.Fprintf(a.stdout, "%s  -\n", indent)
				writeSettings(a, item, indent+"    ")
			}
		default:
			_, _ = fmt.Fprintf(a.stdout, "%s%s: %s\n", indent, CmdStyle.Render(key), SuccessStyle.Render(fmt.Sprint(v)))
		}
	}
}
