// SPDX-License-Identifier: MPL-2.0

package config

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"

	"github.com/invowk/augment/internal/directive"
	"github.com/invowk/augment/internal/issue"
	"github.com/invowk/augment/pkg/cueutil"
)

const (
	// AppName is the application name.
	AppName = "augment"
	// ConfigFileName is the name of the user config file (without extension).
	ConfigFileName = "config"
	// ConfigFileExt is the config file extension.
	ConfigFileExt = "cue"
	// ProjectFileName is the per-project config file looked up in the
	// project directory.
	ProjectFileName = "augment.cue"
)

//go:embed config_schema.cue
var configSchema []byte

// ConfigDir returns the augment configuration directory using platform-specific
// conventions: Windows uses %APPDATA%, macOS uses ~/Library/Application Support,
// and Linux/others use $XDG_CONFIG_HOME (defaulting to ~/.config).
//
//nolint:revive // ConfigDir is more descriptive than Dir for external callers
func ConfigDir() (string, error) {
	if configDirOverride != "" {
		return configDirOverride, nil
	}

	var configDir string

	switch runtime.GOOS {
	case "windows":
		configDir = os.Getenv("APPDATA")
		if configDir == "" {
			configDir = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		configDir = filepath.Join(home, "Library", "Application Support")
	default:
		configDir = os.Getenv("XDG_CONFIG_HOME")
		if configDir == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", fmt.Errorf("failed to get home directory: %w", err)
			}
			configDir = filepath.Join(home, ".config")
		}
	}

	return filepath.Join(configDir, AppName), nil
}

// loadWithOptions performs option-driven config loading without mutating
// package-level state.
func loadWithOptions(ctx context.Context, opts LoadOptions) (*Config, error) {
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("load config canceled: %w", ctx.Err())
	default:
	}

	projectDir := opts.ProjectDir
	if projectDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
		projectDir = wd
	}
	projectDir, err := filepath.Abs(projectDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve project directory: %w", err)
	}

	v := viper.New()
	for key, value := range DefaultConfig().Settings() {
		v.SetDefault(key, value)
	}

	path, err := locate(opts, projectDir)
	if err != nil {
		return nil, err
	}
	if path != "" {
		if err := loadCUEIntoViper(v, path); err != nil {
			return nil, issue.NewErrorContext().
				WithOperation("load configuration").
				WithResource(path).
				WithSuggestion("Check that the file contains valid CUE syntax").
				WithSuggestion("Verify the configuration values match the expected schema").
				WithSuggestion("Run 'augment config dump' to see every setting with its current value").
				WithIssue(issue.ConfigLoadFailedId).
				Wrap(err).
				BuildError()
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.Path = path
	cfg.BaseDir = projectDir
	if path != "" && filepath.Base(path) == ProjectFileName {
		cfg.BaseDir = filepath.Dir(path)
	}

	if valid, errs := cfg.IsValid(); !valid {
		b := issue.NewErrorContext().
			WithOperation("validate configuration").
			WithResource(path).
			WithIssue(issue.ConfigLoadFailedId)
		if hasMarkerError(errs[0]) {
			b = b.WithIssue(issue.InvalidMarkersId).
				WithSuggestion("Give every marker category at least one distinct, single-line literal")
		}
		return nil, b.
			WithSuggestion("Fix the fields listed above or remove them to use the defaults").
			Wrap(errs[0]).
			BuildError()
	}

	return &cfg, nil
}

// locate picks the config file: --config exclusively, then the project
// file, then the user config directory. An empty path means defaults only.
func locate(opts LoadOptions, projectDir string) (string, error) {
	if opts.ConfigFilePath != "" {
		if !fileExists(opts.ConfigFilePath) {
			return "", issue.NewErrorContext().
				WithOperation("load configuration").
				WithResource(opts.ConfigFilePath).
				WithSuggestion("Verify the file path is correct").
				WithSuggestion("Check that the file exists and is readable").
				WithSuggestion("Use 'augment config show' to see the default configuration").
				WithIssue(issue.ConfigLoadFailedId).
				Wrap(fmt.Errorf("config file not found: %s", opts.ConfigFilePath)).
				BuildError()
		}
		return opts.ConfigFilePath, nil
	}

	if p := filepath.Join(projectDir, ProjectFileName); fileExists(p) {
		return p, nil
	}

	cfgDir, err := configDirWithOverride(opts.ConfigDirPath)
	if err != nil {
		return "", err
	}
	if p := filepath.Join(cfgDir, ConfigFileName+"."+ConfigFileExt); fileExists(p) {
		return p, nil
	}
	return "", nil
}

func hasMarkerError(err error) bool {
	var ice *InvalidConfigError
	if !errors.As(err, &ice) {
		return false
	}
	for _, fe := range ice.FieldErrors {
		if errors.Is(fe, directive.ErrInvalidMarkerSet) || errors.Is(fe, ErrInvalidDestinationName) {
			return true
		}
	}
	return false
}

// configDirWithOverride resolves the configuration directory, honoring
// explicit provider options before platform defaults.
func configDirWithOverride(configDirPath string) (string, error) {
	if configDirPath != "" {
		return configDirPath, nil
	}
	return ConfigDir()
}

// loadCUEIntoViper validates a CUE file against #Config and merges its
// contents into Viper. Fields are optional, so the value is decoded into a
// map with concreteness relaxed and merged over the defaults.
func loadCUEIntoViper(v *viper.Viper, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	result, err := cueutil.ParseAndDecode[map[string]any](configSchema, data, "#Config",
		cueutil.WithFilename(path),
		cueutil.WithConcrete(false),
	)
	if err != nil {
		return err
	}

	if err := v.MergeConfigMap(*result.Value); err != nil {
		return fmt.Errorf("failed to merge config: %w", err)
	}
	return nil
}

// fileExists checks if a file exists and is not a directory
func fileExists(path string) bool {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return false
	}
	return err == nil && !info.IsDir()
}

// EnsureConfigDir creates the config directory if it doesn't exist
func EnsureConfigDir() error {
	cfgDir, err := ConfigDir()
	if err != nil {
		return err
	}
	return os.MkdirAll(cfgDir, 0o755)
}

// CreateDefaultConfig writes the default configuration to path unless a
// file already exists there. It reports whether a file was written.
func CreateDefaultConfig(path string) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(GenerateCUE(DefaultConfig())), 0o644); err != nil {
		return false, fmt.Errorf("failed to write config file: %w", err)
	}
	return true, nil
}

// Settings returns the configuration as a nested map keyed like the
// config file. Durations are rendered as strings.
func (c *Config) Settings() map[string]any {
	sources := make([]map[string]any, len(c.Sources))
	for i, s := range c.Sources {
		src := map[string]any{"dir": s.Dir}
		if len(s.Include) > 0 {
			src["include"] = s.Include
		}
		if len(s.Exclude) > 0 {
			src["exclude"] = s.Exclude
		}
		sources[i] = src
	}
	destinations := make([]map[string]any, len(c.Markers.Destinations))
	for i, d := range c.Markers.Destinations {
		destinations[i] = map[string]any{"name": d.Name, "directives": d.Directives}
	}

	return map[string]any{
		"encoding":         c.Encoding.String(),
		"work_dir":         c.WorkDir,
		"output_dir":       c.OutputDir,
		"workers":          c.Workers,
		"change_detection": c.ChangeDetection,
		"fail_on_changes":  c.FailOnChanges,
		"indent_variable":  c.IndentVariable,
		"sources":          sources,
		"markers": map[string]any{
			"block_start":  c.Markers.BlockStart,
			"block_end":    c.Markers.BlockEnd,
			"skip_start":   c.Markers.SkipStart,
			"skip_end":     c.Markers.SkipEnd,
			"string":       c.Markers.String,
			"json":         c.Markers.JSON,
			"inline":       c.Markers.Inline,
			"nest_start":   c.Markers.NestStart,
			"nest_end":     c.Markers.NestEnd,
			"destinations": destinations,
		},
		"shell": map[string]any{
			"external": c.Shell.External,
			"timeout":  c.Shell.Timeout.String(),
		},
		"watch": map[string]any{
			"debounce":     c.Watch.Debounce.String(),
			"clear_screen": c.Watch.ClearScreen,
			"ignore":       nonNil(c.Watch.Ignore),
		},
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// GenerateTOML renders the configuration as TOML.
func GenerateTOML(cfg *Config) (string, error) {
	out, err := toml.Marshal(cfg.Settings())
	if err != nil {
		return "", fmt.Errorf("failed to encode config as TOML: %w", err)
	}
	return string(out), nil
}

// GenerateCUE generates a CUE representation of the configuration
func GenerateCUE(cfg *Config) string {
	var sb strings.Builder

	sb.WriteString("// augment configuration file\n")
	sb.WriteString("// Remove any field to fall back to its default.\n\n")

	fmt.Fprintf(&sb, "encoding: %q\n", cfg.Encoding)
	fmt.Fprintf(&sb, "work_dir: %q\n", cfg.WorkDir)
	if cfg.OutputDir != "" {
		fmt.Fprintf(&sb, "output_dir: %q\n", cfg.OutputDir)
	}
	fmt.Fprintf(&sb, "workers: %d\n", cfg.Workers)
	fmt.Fprintf(&sb, "change_detection: %v\n", cfg.ChangeDetection)
	fmt.Fprintf(&sb, "fail_on_changes: %v\n", cfg.FailOnChanges)
	fmt.Fprintf(&sb, "indent_variable: %q\n", cfg.IndentVariable)

	sb.WriteString("\nsources: [\n")
	for _, s := range cfg.Sources {
		fmt.Fprintf(&sb, "\t{dir: %q", s.Dir)
		if len(s.Include) > 0 {
			fmt.Fprintf(&sb, ", include: %s", cueList(s.Include))
		}
		if len(s.Exclude) > 0 {
			fmt.Fprintf(&sb, ", exclude: %s", cueList(s.Exclude))
		}
		sb.WriteString("},\n")
	}
	sb.WriteString("]\n")

	m := cfg.Markers
	sb.WriteString("\nmarkers: {\n")
	for _, field := range []struct {
		key    string
		values []string
	}{
		{"block_start", m.BlockStart},
		{"block_end", m.BlockEnd},
		{"skip_start", m.SkipStart},
		{"skip_end", m.SkipEnd},
		{"string", m.String},
		{"json", m.JSON},
		{"inline", m.Inline},
		{"nest_start", m.NestStart},
		{"nest_end", m.NestEnd},
	} {
		if len(field.values) > 0 {
			fmt.Fprintf(&sb, "\t%s: %s\n", field.key, cueList(field.values))
		}
	}
	if len(m.Destinations) > 0 {
		sb.WriteString("\tdestinations: [\n")
		for _, d := range m.Destinations {
			fmt.Fprintf(&sb, "\t\t{name: %q, directives: %s},\n", d.Name, cueList(d.Directives))
		}
		sb.WriteString("\t]\n")
	}
	sb.WriteString("}\n")

	sb.WriteString("\nshell: {\n")
	fmt.Fprintf(&sb, "\texternal: %v\n", cfg.Shell.External)
	fmt.Fprintf(&sb, "\ttimeout: %q\n", cfg.Shell.Timeout.String())
	sb.WriteString("}\n")

	sb.WriteString("\nwatch: {\n")
	fmt.Fprintf(&sb, "\tdebounce: %q\n", cfg.Watch.Debounce.String())
	fmt.Fprintf(&sb, "\tclear_screen: %v\n", cfg.Watch.ClearScreen)
	if len(cfg.Watch.Ignore) > 0 {
		fmt.Fprintf(&sb, "\tignore: %s\n", cueList(cfg.Watch.Ignore))
	}
	sb.WriteString("}\n")

	return sb.String()
}

func cueList(values []string) string {
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = fmt.Sprintf("%q", v)
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}
