package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
connections:
  openai:
    provider: openai
    api_key: ${OPENAI_KEY}
    models: [gpt-4o, gpt-4o-mini]
  local:
    provider: ollama
    base_url: http://localhost:11434/v1
    models: [llama3]
default_models:
  - openai/gpt-4o-mini
  - ghost/model
agent:
  subagent_retention: 30m
scheduler:
  jobs:
    - id: hb
      schedule: "@every 30m"
      target: last
      prompt: check in
`

func envMap(values map[string]string) EnvLookup {
	return func(key string) (string, bool) {
		v, ok := values[key]
		return v, ok
	}
}

func TestLoadExpandsEnvAndAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0o600))

	cfg, resolved, err := Load(WithConfigPath(path), WithEnv(envMap(map[string]string{"OPENAI_KEY": "sk-test"})))
	require.NoError(t, err)
	assert.Equal(t, path, resolved)

	conn, ok := cfg.Connection("openai")
	require.True(t, ok)
	assert.Equal(t, "sk-test", conn.APIKey)
	assert.Equal(t, "openai", conn.Provider)

	assert.Equal(t, 30*time.Minute, cfg.Agent.SubagentRetention)
	assert.Equal(t, DefaultMaxToolIterations, cfg.Agent.MaxToolIterations)
	assert.Equal(t, DefaultPort, cfg.Server.Port)
	require.Len(t, cfg.Scheduler.Jobs, 1)
	assert.Equal(t, "@every 30m", cfg.Scheduler.Jobs[0].Schedule)
}

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	cfg, _, err := Load(WithConfigPath(filepath.Join(t.TempDir(), "absent.yaml")))
	require.NoError(t, err)
	assert.Empty(t, cfg.ConfiguredModels())
	assert.Equal(t, DefaultHistoryLimit, cfg.Agent.HistoryLimit)
}

func TestConfiguredModelsOrder(t *testing.T) {
	cfg := &Config{}
	require.NoError(t, Parse([]byte(sampleYAML), cfg, envMap(nil)))
	assert.Equal(t, []string{"local/llama3", "openai/gpt-4o", "openai/gpt-4o-mini"}, cfg.ConfiguredModels())
	assert.Equal(t, []string{"openai/gpt-4o-mini", "ghost/model"}, cfg.DefaultModelPriority())
}

func TestValidateWarnsOnUnknownDefaultConnection(t *testing.T) {
	cfg := &Config{}
	require.NoError(t, Parse([]byte(sampleYAML), cfg, envMap(nil)))
	warnings, err := Validate(cfg)
	require.NoError(t, err)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "ghost")
}

func TestValidateRejectsMissingProvider(t *testing.T) {
	cfg := &Config{Connections: map[string]ConnectionConfig{"x": {Models: []string{"m"}}}}
	_, err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "provider is required")
}

func TestSplitModelRef(t *testing.T) {
	conn, model, ok := SplitModelRef("openrouter/meta-llama/llama-3")
	require.True(t, ok)
	assert.Equal(t, "openrouter", conn)
	assert.Equal(t, "meta-llama/llama-3", model)

	for _, bad := range []string{"", "noslash", "/model", "conn/"} {
		_, _, ok := SplitModelRef(bad)
		assert.False(t, ok, bad)
	}
}

func TestExpandEnvLeavesBareDollar(t *testing.T) {
	out := expandEnv("a=${A} b=$B c=${MISSING}", envMap(map[string]string{"A": "1"}))
	assert.Equal(t, "a=1 b=$B c=", out)
}

func TestResolveConfigPath(t *testing.T) {
	home := func() (string, error) { return "/home/u", nil }
	assert.Equal(t, "/custom.yaml", ResolveConfigPath(envMap(map[string]string{"TAMIAS_CONFIG": " /custom.yaml "}), home))
	assert.Equal(t, "/home/u/.tamias/config.yaml", ResolveConfigPath(envMap(nil), home))
}

func TestRuntimeCacheReloadSignals(t *testing.T) {
	next := &Config{DefaultModels: []string{"a/b"}}
	cache := NewRuntimeCache(nil, func(context.Context) (*Config, error) { return next, nil })
	assert.Empty(t, cache.DefaultModelPriority())

	require.NoError(t, cache.Reload(context.Background()))
	assert.Equal(t, []string{"a/b"}, cache.DefaultModelPriority())
	select {
	case <-cache.Updates():
	default:
		t.Fatal("expected update signal")
	}
}

func TestWatcherReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("default_models: [a/one]\n"), 0o600))

	loader := func(context.Context) (*Config, error) {
		cfg, _, err := Load(WithConfigPath(path))
		return cfg, err
	}
	initial, err := loader(context.Background())
	require.NoError(t, err)
	cache := NewRuntimeCache(initial, loader)

	w, err := NewWatcher(path, cache, WithWatchDebounce(20*time.Millisecond))
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer w.Stop()

	require.NoError(t, os.WriteFile(path, []byte("default_models: [a/two]\n"), 0o600))

	require.Eventually(t, func() bool {
		models := cache.DefaultModelPriority()
		return len(models) == 1 && models[0] == "a/two"
	}, 3*time.Second, 20*time.Millisecond)
}
