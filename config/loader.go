package config

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

const (
	// ProjectConfigFile is the name of the project-level config file.
	ProjectConfigFile = "specauthority.yaml"
	// UserConfigDir is the directory for user-level config.
	UserConfigDir = ".config/specauthority"
	// UserConfigFile is the name of the user-level config file.
	UserConfigFile = "config.yaml"
)

// Loader handles configuration loading with layered precedence.
type Loader struct {
	logger *slog.Logger
}

// NewLoader creates a configuration loader.
func NewLoader(logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{logger: logger}
}

// Load builds the effective configuration:
//  1. defaults
//  2. user config (~/.config/specauthority/config.yaml)
//  3. project config (specauthority.yaml in the current or a parent directory)
//  4. SPECAUTHORITY_* environment variables
func (l *Loader) Load() (*Config, error) {
	config := DefaultConfig()

	userConfigPath := l.userConfigPath()
	if userConfig, err := LoadFromFile(userConfigPath); err == nil {
		l.logger.Debug("Loaded user config", slog.String("path", userConfigPath))
		config.Merge(userConfig)
	} else if !errors.Is(err, os.ErrNotExist) {
		l.logger.Warn("Failed to load user config",
			slog.String("path", userConfigPath),
			slog.String("error", err.Error()))
	}

	if projectConfigPath := l.findProjectConfig(); projectConfigPath != "" {
		if projectConfig, err := LoadFromFile(projectConfigPath); err == nil {
			l.logger.Debug("Loaded project config", slog.String("path", projectConfigPath))
			config.Merge(projectConfig)
		} else {
			l.logger.Warn("Failed to load project config",
				slog.String("path", projectConfigPath),
				slog.String("error", err.Error()))
		}
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// EnsureUserConfig creates the user config file with defaults when absent.
func (l *Loader) EnsureUserConfig() error {
	userConfigPath := l.userConfigPath()
	if _, err := os.Stat(userConfigPath); err == nil {
		return nil
	}
	if err := DefaultConfig().SaveToFile(userConfigPath); err != nil {
		return err
	}
	l.logger.Info("Created default user config", slog.String("path", userConfigPath))
	return nil
}

func (l *Loader) userConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, UserConfigDir, UserConfigFile)
}

// findProjectConfig searches the current and parent directories.
func (l *Loader) findProjectConfig() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		configPath := filepath.Join(dir, ProjectConfigFile)
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// applyEnvOverrides overlays SPECAUTHORITY_* environment variables onto the
// configuration. Environment always wins over files.
func applyEnvOverrides(c *Config) {
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	setString("SPECAUTHORITY_NATS_URL", &c.Store.NATSURL)
	setString("SPECAUTHORITY_MODEL_PROVIDER", &c.Model.Provider)
	setString("SPECAUTHORITY_MODEL_ENDPOINT", &c.Model.Endpoint)
	setString("SPECAUTHORITY_MODEL", &c.Model.Model)
	setString("SPECAUTHORITY_INSTRUCTION_PATH", &c.Compiler.InstructionPath)
	setString("SPECAUTHORITY_COMPILER_VERSION", &c.Compiler.Version)
	setString("SPECAUTHORITY_REQUIRED_PERSONA", &c.Enforcer.RequiredPersona)
	setString("SPECAUTHORITY_SOURCES_ROOT", &c.Sources.Root)

	if v := os.Getenv("SPECAUTHORITY_MODEL_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Model.Timeout = d
		}
	}
	if v := os.Getenv("SPECAUTHORITY_CONCURRENCY"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			c.Pipeline.Concurrency = n
		}
	}
	if v := os.Getenv("SPECAUTHORITY_POINTS_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Enforcer.PointsEnabled = &b
		}
	}
}
