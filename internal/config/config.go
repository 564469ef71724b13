// Package config loads stepwise configuration from YAML with environment
// overrides and struct-tag validation.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"stepwise/internal/mangle"
	"stepwise/internal/solver/clingo"
)

// Config holds all stepwise configuration.
type Config struct {
	// Reasoning engine
	Engine EngineConfig `yaml:"engine" json:"engine"`

	// Predicates that carry steps and states
	Schema SchemaConfig `yaml:"schema" json:"schema"`

	// Path of the template library
	Templates string `yaml:"templates" json:"templates" validate:"required"`

	Explain  ExplainConfig  `yaml:"explain" json:"explain"`
	Pipeline PipelineConfig `yaml:"pipeline" json:"pipeline"`
	Store    StoreConfig    `yaml:"store" json:"store"`
	Logging  LoggingConfig  `yaml:"logging" json:"logging"`
}

// EngineConfig selects and configures the reasoning engine.
type EngineConfig struct {
	Name      string            `yaml:"name" json:"name" validate:"oneof=clingo mangle"`
	Timeout   string            `yaml:"timeout" json:"timeout" validate:"required,duration"`
	MaxModels int               `yaml:"max_models" json:"max_models" validate:"gte=0"`
	Constants map[string]string `yaml:"constants" json:"constants,omitempty"`
	Clingo    clingo.Config     `yaml:"clingo" json:"clingo"`
	Mangle    mangle.Config     `yaml:"mangle" json:"mangle"`
}

// ExplainConfig configures reconstruction and rendering.
type ExplainConfig struct {
	// CandidateLimit caps the rule instantiations examined per step.
	CandidateLimit int `yaml:"candidate_limit" json:"candidate_limit" validate:"gte=0"`
	// Distance enables the {distance} placeholder.
	Distance bool `yaml:"distance" json:"distance"`
	// Format is the default CLI output format.
	Format string `yaml:"format" json:"format" validate:"oneof=text json markdown"`
}

// PipelineConfig configures batch processing.
type PipelineConfig struct {
	Concurrency   int    `yaml:"concurrency" json:"concurrency" validate:"gte=1,lte=256"`
	Retries       int    `yaml:"retries" json:"retries" validate:"gte=0,lte=10"`
	RetryBackoff  string `yaml:"retry_backoff" json:"retry_backoff" validate:"omitempty,duration"`
	WatchDebounce string `yaml:"watch_debounce" json:"watch_debounce" validate:"omitempty,duration"`
}

// StoreConfig configures the run archive.
type StoreConfig struct {
	Path string `yaml:"path" json:"path"`
	// Archive saves every explain run when true.
	Archive bool `yaml:"archive" json:"archive"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Engine: EngineConfig{
			Name:    "clingo",
			Timeout: "30s",
			Mangle:  mangle.DefaultConfig(),
			Clingo:  clingo.Config{MaxOutputBytes: clingo.DefaultMaxOutputBytes},
		},
		Schema:    DefaultSchemaConfig(),
		Templates: "templates.yaml",
		Explain: ExplainConfig{
			CandidateLimit: 10000,
			Distance:       true,
			Format:         "text",
		},
		Pipeline: PipelineConfig{
			Concurrency:   4,
			RetryBackoff:  "500ms",
			WatchDebounce: "200ms",
		},
		Store: StoreConfig{
			Path: filepath.Join(".stepwise", "runs.db"),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load loads configuration from a YAML file. A missing file yields the
// defaults; environment overrides apply either way. Relative paths in the
// file are resolved against its directory.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		cfg.applyEnvOverrides()
		return cfg, nil
	case err != nil:
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.resolvePaths(filepath.Dir(path))
	cfg.applyEnvOverrides()
	return cfg, nil
}

func (c *Config) resolvePaths(dir string) {
	if c.Templates != "" && !filepath.IsAbs(c.Templates) {
		c.Templates = filepath.Join(dir, c.Templates)
	}
	if c.Store.Path != "" && c.Store.Path != ":memory:" && !filepath.IsAbs(c.Store.Path) {
		c.Store.Path = filepath.Join(dir, c.Store.Path)
	}
	if c.Logging.Dir != "" && !filepath.IsAbs(c.Logging.Dir) {
		c.Logging.Dir = filepath.Join(dir, c.Logging.Dir)
	}
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("STEPWISE_ENGINE"); v != "" {
		c.Engine.Name = strings.ToLower(v)
	}
	if v := os.Getenv("STEPWISE_CLINGO_PATH"); v != "" {
		c.Engine.Clingo.Path = v
	}
	if v := os.Getenv("STEPWISE_TIMEOUT"); v != "" {
		c.Engine.Timeout = v
	}
	if v := os.Getenv("STEPWISE_LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
		c.Logging.DebugMode = true
	}
	if v := os.Getenv("STEPWISE_ARCHIVE"); v != "" {
		c.Store.Path = v
		c.Store.Archive = true
	}
	if v := os.Getenv("STEPWISE_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Pipeline.Concurrency = n
		}
	}
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("duration", validateDuration)
	_ = v.RegisterValidation("predicate", validatePredicate)
	return v
}

func validateDuration(fl validator.FieldLevel) bool {
	d, err := time.ParseDuration(fl.Field().String())
	return err == nil && d >= 0
}

func validatePredicate(fl validator.FieldLevel) bool {
	_, err := parsePredicate(fl.Field().String())
	return err == nil
}

// Validate checks field constraints and the schema.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, len(verrs))
			for i, fe := range verrs {
				msgs[i] = fmt.Sprintf("%s: failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value())
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	if _, err := c.Schema.Build(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// EngineTimeout returns the engine timeout as a duration.
func (c *Config) EngineTimeout() time.Duration {
	return duration(c.Engine.Timeout, 30*time.Second)
}

// RetryBackoff returns the delay between engine retries.
func (c *Config) RetryBackoff() time.Duration {
	return duration(c.Pipeline.RetryBackoff, 500*time.Millisecond)
}

// WatchDebounce returns the quiet period before a watched change reruns.
func (c *Config) WatchDebounce() time.Duration {
	return duration(c.Pipeline.WatchDebounce, 200*time.Millisecond)
}

func duration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
