// Package config provides configuration loading and management for the
// specification authority.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete specauthority configuration.
type Config struct {
	Store    StoreConfig    `yaml:"store"`
	Model    ModelConfig    `yaml:"model"`
	Compiler CompilerConfig `yaml:"compiler"`
	Enforcer EnforcerConfig `yaml:"enforcer"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Sources  SourcesConfig  `yaml:"sources"`
}

// StoreConfig configures the backing entity store.
type StoreConfig struct {
	// NATSURL is the NATS server URL. Empty selects the in-memory store,
	// which does not survive restarts.
	NATSURL string `yaml:"nats_url"`
}

// ModelConfig configures the external LLM endpoint.
type ModelConfig struct {
	// Provider selects the wire protocol (anthropic, openai, ollama).
	Provider string `yaml:"provider"`
	// Endpoint is the API base URL.
	Endpoint string `yaml:"endpoint"`
	// Model is the model identifier sent to the provider.
	Model string `yaml:"model"`
	// Timeout bounds a single completion call.
	Timeout time.Duration `yaml:"timeout"`
}

// CompilerConfig configures the spec compiler.
type CompilerConfig struct {
	// InstructionPath points at the pinned compile instruction text. The
	// file's hash becomes the prompt hash stamped on every authority.
	InstructionPath string `yaml:"instruction_path"`
	// Version identifies this compiler build.
	Version string `yaml:"version"`
}

// EnforcerConfig configures the deterministic contract enforcer.
type EnforcerConfig struct {
	// PointsEnabled permits point estimates. Unset means enabled.
	PointsEnabled *bool `yaml:"points_enabled"`
	PointsMin     int   `yaml:"points_min"`
	PointsMax     int   `yaml:"points_max"`

	RequiredPersona  string            `yaml:"required_persona"`
	AllowedTimeFrame string            `yaml:"allowed_time_frame"`
	PersonaSynonyms  map[string]string `yaml:"persona_synonyms"`
}

// PointsAllowed reports whether point estimates are permitted.
func (e EnforcerConfig) PointsAllowed() bool {
	return e.PointsEnabled == nil || *e.PointsEnabled
}

// PipelineConfig configures the story pipeline orchestrator.
type PipelineConfig struct {
	// Concurrency bounds parallel units. 1 keeps output deterministic.
	Concurrency int64 `yaml:"concurrency"`
	// MaxRefines bounds refinement attempts per unit.
	MaxRefines int `yaml:"max_refines"`
}

// SourcesConfig configures spec source resolution and watching.
type SourcesConfig struct {
	// Root is the directory file refs are resolved under and the watch root.
	Root string `yaml:"root"`
	// Globs select watched files, doublestar patterns relative to Root.
	Globs []string `yaml:"globs"`
	// Debounce is the watcher's settle window.
	Debounce time.Duration `yaml:"debounce"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Store: StoreConfig{
			NATSURL: "",
		},
		Model: ModelConfig{
			Provider: "ollama",
			Endpoint: "http://localhost:11434/v1",
			Model:    "qwen2.5-coder:32b",
			Timeout:  5 * time.Minute,
		},
		Compiler: CompilerConfig{
			InstructionPath: "",
			Version:         "dev",
		},
		Enforcer: EnforcerConfig{
			PointsMin: 1,
			PointsMax: 8,
		},
		Pipeline: PipelineConfig{
			Concurrency: 1,
			MaxRefines:  1,
		},
		Sources: SourcesConfig{
			Root:     "specs",
			Globs:    []string{"**/*.md"},
			Debounce: 500 * time.Millisecond,
		},
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Model.Provider == "" {
		return fmt.Errorf("model.provider is required")
	}
	if c.Model.Endpoint == "" {
		return fmt.Errorf("model.endpoint is required")
	}
	if c.Model.Model == "" {
		return fmt.Errorf("model.model is required")
	}
	if c.Enforcer.PointsMin < 0 || c.Enforcer.PointsMax < c.Enforcer.PointsMin {
		return fmt.Errorf("enforcer points range [%d, %d] is invalid",
			c.Enforcer.PointsMin, c.Enforcer.PointsMax)
	}
	if c.Pipeline.Concurrency < 1 {
		return fmt.Errorf("pipeline.concurrency must be at least 1")
	}
	if c.Pipeline.MaxRefines < 0 {
		return fmt.Errorf("pipeline.max_refines must not be negative")
	}
	return nil
}

// LoadFromFile loads configuration from a YAML file on top of the defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	return config, nil
}

// SaveToFile writes the configuration as YAML, creating parent directories.
func (c *Config) SaveToFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// Merge overlays another config onto this one; the other's non-zero values
// take precedence.
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	if other.Store.NATSURL != "" {
		c.Store.NATSURL = other.Store.NATSURL
	}

	if other.Model.Provider != "" {
		c.Model.Provider = other.Model.Provider
	}
	if other.Model.Endpoint != "" {
		c.Model.Endpoint = other.Model.Endpoint
	}
	if other.Model.Model != "" {
		c.Model.Model = other.Model.Model
	}
	if other.Model.Timeout != 0 {
		c.Model.Timeout = other.Model.Timeout
	}

	if other.Compiler.InstructionPath != "" {
		c.Compiler.InstructionPath = other.Compiler.InstructionPath
	}
	if other.Compiler.Version != "" {
		c.Compiler.Version = other.Compiler.Version
	}

	if other.Enforcer.PointsEnabled != nil {
		c.Enforcer.PointsEnabled = other.Enforcer.PointsEnabled
	}
	if other.Enforcer.PointsMin != 0 {
		c.Enforcer.PointsMin = other.Enforcer.PointsMin
	}
	if other.Enforcer.PointsMax != 0 {
		c.Enforcer.PointsMax = other.Enforcer.PointsMax
	}
	if other.Enforcer.RequiredPersona != "" {
		c.Enforcer.RequiredPersona = other.Enforcer.RequiredPersona
	}
	if other.Enforcer.AllowedTimeFrame != "" {
		c.Enforcer.AllowedTimeFrame = other.Enforcer.AllowedTimeFrame
	}
	if len(other.Enforcer.PersonaSynonyms) > 0 {
		c.Enforcer.PersonaSynonyms = other.Enforcer.PersonaSynonyms
	}

	if other.Pipeline.Concurrency != 0 {
		c.Pipeline.Concurrency = other.Pipeline.Concurrency
	}
	if other.Pipeline.MaxRefines != 0 {
		c.Pipeline.MaxRefines = other.Pipeline.MaxRefines
	}

	if other.Sources.Root != "" {
		c.Sources.Root = other.Sources.Root
	}
	if len(other.Sources.Globs) > 0 {
		c.Sources.Globs = other.Sources.Globs
	}
	if other.Sources.Debounce != 0 {
		c.Sources.Debounce = other.Sources.Debounce
	}
}
