// Package config loads the engine configuration from YAML or TOML files,
// applies environment overrides and validates the result.
package config

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Environment overrides
const (
	EnvWorkspace         = "SEMSEARCH_WORKSPACE"
	EnvCacheDir          = "SEMSEARCH_CACHE_DIR"
	EnvEmbeddingProvider = "SEMSEARCH_EMBEDDING_PROVIDER"
	EnvLogLevel          = "SEMSEARCH_LOG_LEVEL"
)

// ErrInvalidConfig wraps every validation failure
var ErrInvalidConfig = errors.New("invalid configuration")

// Threads is a worker count; 0 means "auto"
type Threads int

// String renders 0 as "auto"
func (t Threads) String() string {
	if t <= 0 {
		return "auto"
	}
	return strconv.Itoa(int(t))
}

// UnmarshalText accepts "auto" or a non-negative integer
func (t *Threads) UnmarshalText(text []byte) error {
	s := strings.TrimSpace(strings.ToLower(string(text)))
	if s == "" || s == "auto" {
		*t = 0
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return fmt.Errorf("threads must be \"auto\" or a non-negative integer, got %q", string(text))
	}
	*t = Threads(n)
	return nil
}

// MarshalText renders the value the way UnmarshalText reads it
func (t Threads) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalYAML accepts both `threads: auto` and `threads: 4`
func (t *Threads) UnmarshalYAML(value *yaml.Node) error {
	return t.UnmarshalText([]byte(value.Value))
}

// UnmarshalTOML accepts both `threads = "auto"` and `threads = 4`
func (t *Threads) UnmarshalTOML(v any) error {
	switch val := v.(type) {
	case int64:
		return t.UnmarshalText([]byte(strconv.FormatInt(val, 10)))
	case string:
		return t.UnmarshalText([]byte(val))
	default:
		return fmt.Errorf("threads must be \"auto\" or an integer, got %T", v)
	}
}

// EmbeddingConfig selects and tunes the embedding provider
type EmbeddingConfig struct {
	Provider             string        `yaml:"provider" toml:"provider"`
	Model                string        `yaml:"model" toml:"model"`
	Dimension            int           `yaml:"dimension" toml:"dimension"`
	Device               string        `yaml:"device" toml:"device"`
	APIKey               string        `yaml:"api_key" toml:"api_key"`
	BaseURL              string        `yaml:"base_url" toml:"base_url"`
	Timeout              time.Duration `yaml:"timeout" toml:"timeout"`
	CacheSize            int           `yaml:"cache_size" toml:"cache_size"`
	SingleThreadedModels []string      `yaml:"single_threaded_models" toml:"single_threaded_models"`
	BatchTimeout         time.Duration `yaml:"batch_timeout" toml:"batch_timeout"`
	RequestsPerSecond    float64       `yaml:"requests_per_second" toml:"requests_per_second"`
}

// Config represents the engine configuration
type Config struct {
	Workspace          string          `yaml:"workspace" toml:"workspace"`
	CacheDir           string          `yaml:"cache_dir" toml:"cache_dir"`
	Extensions         []string        `yaml:"extensions" toml:"extensions"`
	ExcludePatterns    []string        `yaml:"exclude_patterns" toml:"exclude_patterns"`
	ChunkLines         int             `yaml:"chunk_lines" toml:"chunk_lines"`
	ChunkOverlapLines  int             `yaml:"chunk_overlap_lines" toml:"chunk_overlap_lines"`
	ChunkTokens        int             `yaml:"chunk_tokens" toml:"chunk_tokens"`
	ChunkOverlapTokens int             `yaml:"chunk_overlap_tokens" toml:"chunk_overlap_tokens"`
	MaxFileSize        int64           `yaml:"max_file_size" toml:"max_file_size"`
	MaxResults         int             `yaml:"max_results" toml:"max_results"`
	Embedding          EmbeddingConfig `yaml:"embedding" toml:"embedding"`
	ChunkingMode       string          `yaml:"chunking_mode" toml:"chunking_mode"`
	SemanticWeight     float64         `yaml:"semantic_weight" toml:"semantic_weight"`
	ExactMatchBoost    float64         `yaml:"exact_match_boost" toml:"exact_match_boost"`
	Threads            Threads         `yaml:"threads" toml:"threads"`
	WatchFiles         bool            `yaml:"watch_files" toml:"watch_files"`
	WatchDebounce      time.Duration   `yaml:"watch_debounce" toml:"watch_debounce"`
	MaxCPUPercent      int             `yaml:"max_cpu_percent" toml:"max_cpu_percent"`
	BatchDelay         time.Duration   `yaml:"batch_delay" toml:"batch_delay"`
	SaveInterval       int             `yaml:"save_interval" toml:"save_interval"`
	BatchSize          int             `yaml:"batch_size" toml:"batch_size"`
	LogLevel           string          `yaml:"log_level" toml:"log_level"`
	HTTPAddr           string          `yaml:"http_addr" toml:"http_addr"`
}

// DefaultExtensions are the source file types indexed out of the box
var DefaultExtensions = []string{
	".go", ".js", ".jsx", ".mjs", ".ts", ".tsx", ".py", ".java", ".kt",
	".c", ".h", ".cc", ".cpp", ".hpp", ".cs", ".rs", ".rb", ".php", ".swift",
}

// DefaultExcludePatterns are directory names never descended into
var DefaultExcludePatterns = []string{
	".git", ".hg", ".svn", "node_modules", "vendor", "dist", "build", "target",
	"__pycache__", ".venv", "venv", ".idea", ".vscode", ".next", "coverage", ".semsearch",
}

// Default returns the default configuration
func Default() *Config {
	return &Config{
		Workspace:         ".",
		CacheDir:          DefaultDataDir(),
		Extensions:        append([]string(nil), DefaultExtensions...),
		ExcludePatterns:   append([]string(nil), DefaultExcludePatterns...),
		ChunkLines:        50,
		ChunkOverlapLines: 10,
		MaxFileSize:       1 << 20,
		MaxResults:        5,
		Embedding: EmbeddingConfig{
			Device:               "cpu",
			Timeout:              30 * time.Second,
			CacheSize:            1000,
			SingleThreadedModels: []string{"nomic-embed-text", "jina-embeddings-v2-base-code"},
			BatchTimeout:         5 * time.Minute,
		},
		ChunkingMode:    "smart",
		SemanticWeight:  0.7,
		ExactMatchBoost: 1.5,
		WatchDebounce:   300 * time.Millisecond,
		MaxCPUPercent:   50,
		BatchDelay:      100 * time.Millisecond,
		SaveInterval:    5,
		LogLevel:        "info",
	}
}

// DefaultDataDir returns the default cache directory based on OS
func DefaultDataDir() string {
	switch runtime.GOOS {
	case "windows":
		if local := os.Getenv("LOCALAPPDATA"); local != "" {
			return filepath.Join(local, "semsearch")
		}
		home, _ := os.UserHomeDir()
		return filepath.Join(home, "AppData", "Local", "semsearch")
	case "darwin":
		home, _ := os.UserHomeDir()
		return filepath.Join(home, "Library", "Caches", "semsearch")
	default: // linux and others
		if xdg := os.Getenv("XDG_CACHE_HOME"); xdg != "" {
			return filepath.Join(xdg, "semsearch")
		}
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".cache", "semsearch")
	}
}

// Load loads configuration from a file. An empty path or a missing file
// yields the defaults. Files ending in .toml are TOML, anything else YAML.
// ${VAR} references are expanded before parsing; environment overrides are
// applied afterwards.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config file: %w", err)
		default:
			if err := cfg.decode(path, os.ExpandEnv(string(data))); err != nil {
				return nil, fmt.Errorf("parse config file: %w", err)
			}
		}
	}

	cfg.ApplyEnv()
	if err := cfg.Normalize(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) decode(path, data string) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		_, err := toml.Decode(data, c)
		return err
	default:
		return yaml.Unmarshal([]byte(data), c)
	}
}

// ApplyEnv applies the SEMSEARCH_* environment overrides
func (c *Config) ApplyEnv() {
	if v := os.Getenv(EnvWorkspace); v != "" {
		c.Workspace = v
	}
	if v := os.Getenv(EnvCacheDir); v != "" {
		c.CacheDir = v
	}
	if v := os.Getenv(EnvEmbeddingProvider); v != "" {
		c.Embedding.Provider = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.LogLevel = v
	}
}

// Normalize expands ~/ and makes the workspace and cache paths absolute
func (c *Config) Normalize() error {
	var err error
	if c.Workspace, err = absPath(c.Workspace); err != nil {
		return fmt.Errorf("resolve workspace: %w", err)
	}
	if c.CacheDir, err = absPath(c.CacheDir); err != nil {
		return fmt.Errorf("resolve cache_dir: %w", err)
	}
	for i, ext := range c.Extensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext != "" && !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		c.Extensions[i] = ext
	}
	c.ChunkingMode = strings.ToLower(c.ChunkingMode)
	c.LogLevel = strings.ToLower(c.LogLevel)
	return nil
}

func absPath(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(home, strings.TrimPrefix(path[1:], "/"))
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	return filepath.Clean(abs), nil
}

// Validate range-checks every field
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.Workspace != "", "workspace is required")
	check(c.CacheDir != "", "cache_dir is required")
	check(c.ChunkLines > 0, "chunk_lines must be positive, got %d", c.ChunkLines)
	check(c.ChunkOverlapLines >= 0 && c.ChunkOverlapLines < c.ChunkLines,
		"chunk_overlap_lines must be in [0, chunk_lines), got %d", c.ChunkOverlapLines)
	check(c.ChunkTokens >= 0, "chunk_tokens must be >= 0, got %d", c.ChunkTokens)
	check(c.ChunkOverlapTokens >= 0, "chunk_overlap_tokens must be >= 0, got %d", c.ChunkOverlapTokens)
	check(c.MaxFileSize >= 0, "max_file_size must be >= 0, got %d", c.MaxFileSize)
	check(c.MaxResults >= 1 && c.MaxResults <= 100, "max_results must be in [1, 100], got %d", c.MaxResults)
	check(c.Embedding.Dimension >= 0, "embedding.dimension must be >= 0, got %d", c.Embedding.Dimension)
	check(c.Embedding.CacheSize >= 0, "embedding.cache_size must be >= 0, got %d", c.Embedding.CacheSize)
	check(c.Embedding.BatchTimeout >= 0, "embedding.batch_timeout must be >= 0")
	check(c.Embedding.RequestsPerSecond >= 0, "embedding.requests_per_second must be >= 0")
	check(c.ChunkingMode == "smart" || c.ChunkingMode == "ast" || c.ChunkingMode == "line",
		"chunking_mode must be smart, ast or line, got %q", c.ChunkingMode)
	check(c.SemanticWeight >= 0 && c.SemanticWeight <= 1, "semantic_weight must be in [0, 1], got %g", c.SemanticWeight)
	check(c.ExactMatchBoost >= 0, "exact_match_boost must be >= 0, got %g", c.ExactMatchBoost)
	check(c.Threads >= 0, "threads must be auto or >= 0")
	check(c.MaxCPUPercent >= 1 && c.MaxCPUPercent <= 100, "max_cpu_percent must be in [1, 100], got %d", c.MaxCPUPercent)
	check(c.BatchDelay >= 0, "batch_delay must be >= 0")
	check(c.WatchDebounce >= 0, "watch_debounce must be >= 0")
	check(c.SaveInterval >= 1, "save_interval must be >= 1, got %d", c.SaveInterval)
	check(c.BatchSize >= 0, "batch_size must be >= 0, got %d", c.BatchSize)
	_, levelErr := ParseLevel(c.LogLevel)
	check(levelErr == nil, "log_level must be debug, info, warn or error, got %q", c.LogLevel)

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// ParseLevel maps a log level name to a slog level
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", level)
	}
}

// ProjectHash generates a unique hash for a project path.
// Returns the first 16 characters of the SHA256 hash.
func ProjectHash(path string) string {
	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}
	absPath = filepath.Clean(absPath)

	h := sha256.Sum256([]byte(absPath))
	return hex.EncodeToString(h[:])[:16]
}

// StoreDir returns the cache directory of the configured workspace
func (c *Config) StoreDir() string {
	return filepath.Join(c.CacheDir, ProjectHash(c.Workspace))
}
