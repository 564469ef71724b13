package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stepwise/internal/program"
	"stepwise/internal/reconstruct"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"STEPWISE_ENGINE", "STEPWISE_CLINGO_PATH", "STEPWISE_TIMEOUT", "STEPWISE_LOG_LEVEL", "STEPWISE_ARCHIVE", "STEPWISE_CONCURRENCY"} {
		t.Setenv(k, "")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "clingo", cfg.Engine.Name)
	assert.Equal(t, 30*time.Second, cfg.EngineTimeout())
	assert.Equal(t, 4, cfg.Pipeline.Concurrency)

	schema, err := cfg.Schema.Build()
	require.NoError(t, err)
	assert.Equal(t, reconstruct.DefaultSchema(), schema)
}

func TestConfig_SaveLoad(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "stepwise.yaml")

	cfg := DefaultConfig()
	cfg.Engine.Name = "mangle"
	cfg.Engine.Constants = map[string]string{"max_steps": "4"}
	cfg.Templates = filepath.Join(filepath.Dir(path), "templates.yaml")
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "mangle", loaded.Engine.Name)
	assert.Equal(t, "4", loaded.Engine.Constants["max_steps"])
	assert.Equal(t, cfg.Schema, loaded.Schema)
	assert.Equal(t, cfg.Templates, loaded.Templates)
}

func TestLoadResolvesRelativePaths(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "stepwise.yaml")
	require.NoError(t, os.WriteFile(path, []byte("templates: rules/templates.yaml\nstore:\n  path: runs.db\n"), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "rules", "templates.yaml"), cfg.Templates)
	assert.Equal(t, filepath.Join(dir, "runs.db"), cfg.Store.Path)
}

func TestLoadMissingFile(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadRejectsBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("engine: [\n"), 0644))
	_, err := Load(path)
	assert.ErrorContains(t, err, "failed to parse config")
}

func TestEnvOverrides(t *testing.T) {
	t.Run("engine and clingo path", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("STEPWISE_ENGINE", "MANGLE")
		t.Setenv("STEPWISE_CLINGO_PATH", "/opt/clingo/bin/clingo")

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		assert.Equal(t, "mangle", cfg.Engine.Name)
		assert.Equal(t, "/opt/clingo/bin/clingo", cfg.Engine.Clingo.Path)
	})

	t.Run("timeout", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("STEPWISE_TIMEOUT", "2m")

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		assert.Equal(t, 2*time.Minute, cfg.EngineTimeout())
	})

	t.Run("log level enables debug mode", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("STEPWISE_LOG_LEVEL", "DEBUG")

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		assert.Equal(t, "debug", cfg.Logging.Level)
		assert.True(t, cfg.Logging.DebugMode)
		assert.True(t, cfg.Logging.Settings().DebugMode)
	})

	t.Run("archive path", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("STEPWISE_ARCHIVE", "/var/lib/stepwise/runs.db")

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		assert.True(t, cfg.Store.Archive)
		assert.Equal(t, "/var/lib/stepwise/runs.db", cfg.Store.Path)
	})

	t.Run("bad concurrency is ignored", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("STEPWISE_CONCURRENCY", "many")

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		assert.Equal(t, 4, cfg.Pipeline.Concurrency)
	})

	t.Run("applied by Load", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("STEPWISE_ENGINE", "mangle")
		path := filepath.Join(t.TempDir(), "stepwise.yaml")
		require.NoError(t, os.WriteFile(path, []byte("engine:\n  name: clingo\n"), 0644))

		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, "mangle", cfg.Engine.Name)
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"unknown engine", func(c *Config) { c.Engine.Name = "prolog" }, "Engine.Name"},
		{"bad timeout", func(c *Config) { c.Engine.Timeout = "soon" }, "Engine.Timeout"},
		{"negative timeout", func(c *Config) { c.Engine.Timeout = "-1s" }, "Engine.Timeout"},
		{"no templates", func(c *Config) { c.Templates = "" }, "Templates"},
		{"zero concurrency", func(c *Config) { c.Pipeline.Concurrency = 0 }, "Pipeline.Concurrency"},
		{"bad format", func(c *Config) { c.Explain.Format = "html" }, "Explain.Format"},
		{"bad predicate", func(c *Config) { c.Schema.Step = "step" }, "Schema.Step"},
		{"bad holder", func(c *Config) { c.Schema.Holders = []string{"fact/x"} }, "Schema.Holders[0]"},
		{"position outside arity", func(c *Config) { c.Schema.Operation = 4 }, "operation position 4 outside step/4"},
		{"binary holder", func(c *Config) { c.Schema.Holders = []string{"fact/2"} }, "must be unary"},
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }, "Logging.Level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestSchemaWithoutTerminal(t *testing.T) {
	sc := DefaultSchemaConfig()
	sc.Terminal = ""
	s, err := sc.Build()
	require.NoError(t, err)
	assert.Equal(t, program.PredicateKey{}, s.Terminal)
}

func TestLoggingCategories(t *testing.T) {
	c := LoggingConfig{DebugMode: true, Categories: map[string]bool{"engine": false}}
	assert.False(t, c.IsCategoryEnabled("engine"))
	assert.True(t, c.IsCategoryEnabled("parse"))
	c.DebugMode = false
	assert.False(t, c.IsCategoryEnabled("parse"))
}
