package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{EnvWorkspace, EnvCacheDir, EnvEmbeddingProvider, EnvLogLevel} {
		t.Setenv(key, "")
	}
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Normalize())
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 0.7, cfg.SemanticWeight)
	assert.Equal(t, 1.5, cfg.ExactMatchBoost)
	assert.Equal(t, 5, cfg.MaxResults)
	assert.Equal(t, "smart", cfg.ChunkingMode)
	assert.Equal(t, Threads(0), cfg.Threads)
	assert.Equal(t, 5*time.Minute, cfg.Embedding.BatchTimeout)
	assert.True(t, filepath.IsAbs(cfg.Workspace))
}

func TestLoad_DefaultsWhenNoConfig(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().ChunkLines, cfg.ChunkLines)

	cfg, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoad_YAML(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	t.Setenv("TEST_SEMSEARCH_KEY", "secret-key")

	content := `
workspace: ` + dir + `
cache_dir: ` + filepath.Join(dir, "cache") + `
extensions: [go, .PY]
chunking_mode: AST
semantic_weight: 0.5
exact_match_boost: 2
threads: 3
batch_delay: 250ms
watch_files: true
embedding:
  provider: jina
  api_key: ${TEST_SEMSEARCH_KEY}
  batch_timeout: 90s
  requests_per_second: 2.5
`
	path := filepath.Join(dir, "semsearch.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, dir, cfg.Workspace)
	assert.Equal(t, []string{".go", ".py"}, cfg.Extensions)
	assert.Equal(t, "ast", cfg.ChunkingMode)
	assert.Equal(t, 0.5, cfg.SemanticWeight)
	assert.Equal(t, 2.0, cfg.ExactMatchBoost)
	assert.Equal(t, Threads(3), cfg.Threads)
	assert.Equal(t, 250*time.Millisecond, cfg.BatchDelay)
	assert.True(t, cfg.WatchFiles)
	assert.Equal(t, "jina", cfg.Embedding.Provider)
	assert.Equal(t, "secret-key", cfg.Embedding.APIKey)
	assert.Equal(t, 90*time.Second, cfg.Embedding.BatchTimeout)
	assert.Equal(t, 2.5, cfg.Embedding.RequestsPerSecond)

	// Unset fields keep their defaults
	assert.Equal(t, 50, cfg.ChunkLines)
	assert.Equal(t, 5, cfg.SaveInterval)
}

func TestLoad_TOML(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()

	content := `
workspace = "` + dir + `"
max_results = 10
threads = "auto"
batch_delay = "1s"
exclude_patterns = ["node_modules", "gen"]

[embedding]
model = "text-embedding-3-small"
dimension = 512
`
	path := filepath.Join(dir, "semsearch.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 10, cfg.MaxResults)
	assert.Equal(t, Threads(0), cfg.Threads)
	assert.Equal(t, time.Second, cfg.BatchDelay)
	assert.Equal(t, []string{"node_modules", "gen"}, cfg.ExcludePatterns)
	assert.Equal(t, "text-embedding-3-small", cfg.Embedding.Model)
	assert.Equal(t, 512, cfg.Embedding.Dimension)
}

func TestLoad_TOMLIntegerThreads(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "c.toml")
	require.NoError(t, os.WriteFile(path, []byte("threads = 2\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, Threads(2), cfg.Threads)
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	t.Setenv(EnvWorkspace, dir)
	t.Setenv(EnvCacheDir, filepath.Join(dir, "c"))
	t.Setenv(EnvEmbeddingProvider, "openai")
	t.Setenv(EnvLogLevel, "DEBUG")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, dir, cfg.Workspace)
	assert.Equal(t, filepath.Join(dir, "c"), cfg.CacheDir)
	assert.Equal(t, "openai", cfg.Embedding.Provider)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoad_TildeExpansion(t *testing.T) {
	clearEnv(t)
	home := t.TempDir()
	t.Setenv("HOME", home)

	path := filepath.Join(t.TempDir(), "c.yaml")
	require.NoError(t, os.WriteFile(path, []byte("cache_dir: ~/semsearch-cache\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "semsearch-cache"), cfg.CacheDir)
}

func TestLoad_ParseError(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "c.yaml")
	require.NoError(t, os.WriteFile(path, []byte("threads: many\n"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"semantic weight above one", func(c *Config) { c.SemanticWeight = 1.2 }},
		{"negative boost", func(c *Config) { c.ExactMatchBoost = -1 }},
		{"unknown mode", func(c *Config) { c.ChunkingMode = "words" }},
		{"zero chunk lines", func(c *Config) { c.ChunkLines = 0 }},
		{"overlap not below chunk lines", func(c *Config) { c.ChunkOverlapLines = c.ChunkLines }},
		{"cpu above 100", func(c *Config) { c.MaxCPUPercent = 150 }},
		{"cpu zero", func(c *Config) { c.MaxCPUPercent = 0 }},
		{"too many results", func(c *Config) { c.MaxResults = 101 }},
		{"zero save interval", func(c *Config) { c.SaveInterval = 0 }},
		{"negative delay", func(c *Config) { c.BatchDelay = -time.Second }},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }},
		{"negative dimension", func(c *Config) { c.Embedding.Dimension = -1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestThreads(t *testing.T) {
	var th Threads
	require.NoError(t, th.UnmarshalText([]byte("AUTO")))
	assert.Equal(t, Threads(0), th)
	assert.Equal(t, "auto", th.String())

	require.NoError(t, th.UnmarshalText([]byte("8")))
	assert.Equal(t, Threads(8), th)
	assert.Equal(t, "8", th.String())

	assert.Error(t, th.UnmarshalText([]byte("-2")))
	assert.Error(t, th.UnmarshalTOML(1.5))
}

func TestParseLevel(t *testing.T) {
	level, err := ParseLevel("warn")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelWarn, level)

	_, err = ParseLevel("verbose")
	assert.Error(t, err)
}

func TestProjectHashAndStoreDir(t *testing.T) {
	dir := t.TempDir()

	h1 := ProjectHash(dir)
	h2 := ProjectHash(dir + string(filepath.Separator))
	assert.Len(t, h1, 16)
	assert.Equal(t, h1, h2, "trailing separators do not change the hash")
	assert.NotEqual(t, h1, ProjectHash(filepath.Join(dir, "other")))

	cfg := Default()
	cfg.Workspace = dir
	cfg.CacheDir = "/var/cache/semsearch"
	assert.Equal(t, filepath.Join("/var/cache/semsearch", h1), cfg.StoreDir())
}
