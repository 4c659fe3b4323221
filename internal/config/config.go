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

	"github.com/spf13/viper"
	"github.com/tzsync/tzsync/internal/cueutil"
	"github.com/tzsync/tzsync/internal/issue"
)

const (
	// AppName is the application name.
	AppName = "tzsync"
	// ConfigFileName is the name of the config file (without extension).
	ConfigFileName = "config"
	// ConfigFileExt is the config file extension.
	ConfigFileExt = "cue"
	// EnvPrefix prefixes environment overrides (TZSYNC_DATA_DIR).
	EnvPrefix = "TZSYNC"
)

//go:embed config_schema.cue
var configSchema string

// ConfigDir returns the tzsync configuration directory using platform-specific
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
	default: // Linux and others
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

// DataDir returns the default snapshot directory: $XDG_DATA_HOME/tzsync
// (defaulting to ~/.local/share/tzsync) on Linux and others, and a "data"
// directory below ConfigDir on Windows and macOS.
func DataDir() (string, error) {
	if dataDirOverride != "" {
		return dataDirOverride, nil
	}

	switch runtime.GOOS {
	case "windows", "darwin":
		cfgDir, err := ConfigDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(cfgDir, "data"), nil
	default:
		dataHome := os.Getenv("XDG_DATA_HOME")
		if dataHome == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", fmt.Errorf("failed to get home directory: %w", err)
			}
			dataHome = filepath.Join(home, ".local", "share")
		}
		return filepath.Join(dataHome, AppName), nil
	}
}

// loadWithOptions performs option-driven config loading without mutating
// package-level state. It returns the resolved config file path ("" when
// running on defaults).
func loadWithOptions(ctx context.Context, opts LoadOptions) (*Config, string, error) {
	select {
	case <-ctx.Done():
		return nil, "", fmt.Errorf("load config canceled: %w", ctx.Err())
	default:
	}

	v := viper.New()

	defaults := DefaultConfig()
	v.SetDefault("online", defaults.Online)
	v.SetDefault("archive_dir", defaults.ArchiveDir)
	v.SetDefault("data_dir", defaults.DataDir)
	v.SetDefault("remote.base_url", defaults.Remote.BaseURL)
	v.SetDefault("remote.timeout", defaults.Remote.Timeout)
	v.SetDefault("remote.user_agent", defaults.Remote.UserAgent)
	v.SetDefault("rebuild.command", defaults.Rebuild.Command)
	v.SetDefault("rebuild.dir", defaults.Rebuild.Dir)
	v.SetDefault("schedule.interval", defaults.Schedule.Interval)
	v.SetDefault("schedule.retry_initial", defaults.Schedule.RetryInitial)
	v.SetDefault("schedule.watch_archives", defaults.Schedule.WatchArchives)
	v.SetDefault("log.level", string(defaults.Log.Level))
	v.SetDefault("log.format", string(defaults.Log.Format))

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	resolvedPath, err := resolvePath(opts)
	if err != nil {
		return nil, "", err
	}
	if resolvedPath != "" {
		if err := loadCUEIntoViper(v, resolvedPath); err != nil {
			return nil, "", issue.NewErrorContext().
				WithOperation("load configuration").
				WithResource(resolvedPath).
				WithSuggestions(
					"Check that the file contains valid CUE syntax",
					"Verify the configuration values match the expected schema",
					"Run 'tzsync config dump' to see a valid configuration",
				).
				Wrap(err).
				BuildError()
		}
	}

	// Command-line flags win over file and environment.
	for key, value := range opts.Overrides {
		v.Set(key, value)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, "", issue.WrapWithContext(err, "decode configuration", resolvedPath)
	}

	cfg.ArchiveDir = expandHome(cfg.ArchiveDir)
	cfg.DataDir = expandHome(cfg.DataDir)
	cfg.Rebuild.Dir = expandHome(cfg.Rebuild.Dir)

	if err := cfg.Validate(); err != nil {
		return nil, "", err
	}

	return &cfg, resolvedPath, nil
}

// resolvePath picks the config file to load: the explicit file, then
// config.cue in the config directory, then config.cue in the working
// directory. It returns "" when none exists.
func resolvePath(opts LoadOptions) (string, error) {
	if opts.ConfigFilePath != "" {
		if !fileExists(opts.ConfigFilePath) {
			return "", issue.NewErrorContext().
				WithOperation("load configuration").
				WithResource(opts.ConfigFilePath).
				WithSuggestions("Verify the file path is correct", "Check that the file exists and is readable").
				Wrap(fmt.Errorf("config file not found: %s", opts.ConfigFilePath)).
				BuildError()
		}
		return opts.ConfigFilePath, nil
	}

	cfgDir := opts.ConfigDirPath
	if cfgDir == "" {
		dir, err := ConfigDir()
		if err != nil {
			return "", err
		}
		cfgDir = dir
	}

	for _, candidate := range []string{
		filepath.Join(cfgDir, ConfigFileName+"."+ConfigFileExt),
		ConfigFileName + "." + ConfigFileExt,
	} {
		if fileExists(candidate) {
			return candidate, nil
		}
	}
	return "", nil
}

// loadCUEIntoViper parses a CUE file, validates it against the #Config schema,
// and merges its contents into Viper.
func loadCUEIntoViper(v *viper.Viper, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	unified, err := cueutil.Unify(configSchema, "#Config", data, path)
	if err != nil {
		return err
	}

	var configMap map[string]any
	if err := unified.Decode(&configMap); err != nil {
		return cueutil.FormatError(err, path)
	}

	// Merge into Viper (preserves defaults, allows env overrides)
	if err := v.MergeConfigMap(configMap); err != nil {
		return fmt.Errorf("failed to merge config: %w", err)
	}

	return nil
}

// Validate checks constraints the schema cannot express (offline mode needs
// an archive directory, durations must be positive) and returns an
// ActionableError describing every violated field.
func (c Config) Validate() error {
	valid, errs := c.IsValid()
	if valid {
		return nil
	}

	ctx := issue.NewErrorContext().
		WithOperation("validate configuration").
		Wrap(errors.Join(errs...))

	var invalid *InvalidConfigError
	if errors.As(errs[0], &invalid) {
		for _, fe := range invalid.FieldErrors {
			switch {
			case errors.Is(fe, ErrMissingArchiveDir):
				ctx.WithSuggestion("Set archive_dir, TZSYNC_ARCHIVE_DIR or pass --archive-dir")
			case errors.Is(fe, ErrArchiveDirIsDataDir):
				ctx.WithSuggestion("Keep offline archives outside data_dir; tzsync prunes its data directory")
			case errors.Is(fe, ErrMissingDataDir):
				ctx.WithSuggestion("Set data_dir or TZSYNC_DATA_DIR")
			case errors.Is(fe, ErrInvalidDuration):
				ctx.WithSuggestion("Use positive Go durations such as \"30s\" or \"24h\"")
			case errors.Is(fe, ErrInvalidLogLevel), errors.Is(fe, ErrInvalidLogFormat):
				ctx.WithSuggestion("Valid log levels: debug, info, warn, error; formats: text, json, logfmt")
			}
		}
	}
	return ctx.BuildError()
}

// expandHome replaces a leading "~/" with the user's home directory.
func expandHome(path string) string {
	rest, ok := strings.CutPrefix(path, "~/")
	if !ok {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, rest)
}

// fileExists checks if a file exists and is not a directory
func fileExists(path string) bool {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return false
	}
	return err == nil && !info.IsDir()
}

// CreateDefaultConfig writes a default config.cue into cfgDir (ConfigDir()
// when empty) unless one already exists. It returns the file path and
// whether the file was created.
func CreateDefaultConfig(cfgDir string) (string, bool, error) {
	if cfgDir == "" {
		dir, err := ConfigDir()
		if err != nil {
			return "", false, err
		}
		cfgDir = dir
	}

	if err := os.MkdirAll(cfgDir, 0o755); err != nil {
		return "", false, fmt.Errorf("failed to create config directory: %w", err)
	}

	cfgPath := filepath.Join(cfgDir, ConfigFileName+"."+ConfigFileExt)

	if _, err := os.Stat(cfgPath); err == nil {
		return cfgPath, false, nil
	}

	if err := os.WriteFile(cfgPath, []byte(GenerateCUE(DefaultConfig())), 0o644); err != nil {
		return "", false, fmt.Errorf("failed to write config file: %w", err)
	}

	return cfgPath, true, nil
}

// GenerateCUE generates a CUE representation of the configuration
func GenerateCUE(cfg *Config) string {
	var sb strings.Builder

	sb.WriteString("// tzsync configuration file\n")
	sb.WriteString("// Every key can be overridden with a TZSYNC_ environment variable.\n\n")

	fmt.Fprintf(&sb, "online: %v\n", cfg.Online)
	if cfg.ArchiveDir != "" {
		fmt.Fprintf(&sb, "archive_dir: %q\n", cfg.ArchiveDir)
	}
	if cfg.DataDir != "" {
		fmt.Fprintf(&sb, "data_dir: %q\n", cfg.DataDir)
	}

	sb.WriteString("\nremote: {\n")
	fmt.Fprintf(&sb, "\tbase_url: %q\n", cfg.Remote.BaseURL)
	fmt.Fprintf(&sb, "\ttimeout: %q\n", cfg.Remote.Timeout.String())
	if cfg.Remote.UserAgent != "" {
		fmt.Fprintf(&sb, "\tuser_agent: %q\n", cfg.Remote.UserAgent)
	}
	sb.WriteString("}\n")

	sb.WriteString("\nrebuild: {\n")
	fmt.Fprintf(&sb, "\tcommand: %q\n", cfg.Rebuild.Command)
	if cfg.Rebuild.Dir != "" {
		fmt.Fprintf(&sb, "\tdir: %q\n", cfg.Rebuild.Dir)
	}
	sb.WriteString("}\n")

	sb.WriteString("\nschedule: {\n")
	fmt.Fprintf(&sb, "\tinterval: %q\n", cfg.Schedule.Interval.String())
	fmt.Fprintf(&sb, "\tretry_initial: %q\n", cfg.Schedule.RetryInitial.String())
	fmt.Fprintf(&sb, "\twatch_archives: %v\n", cfg.Schedule.WatchArchives)
	sb.WriteString("}\n")

	sb.WriteString("\nlog: {\n")
	fmt.Fprintf(&sb, "\tlevel: %q\n", cfg.Log.Level)
	fmt.Fprintf(&sb, "\tformat: %q\n", cfg.Log.Format)
	sb.WriteString("}\n")

	return sb.String()
}
