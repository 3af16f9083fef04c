package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"policy-rag/internal/retry"
)

const (
	defaultChunkSize       = 1000
	defaultChunkOverlap    = 200
	defaultTopK            = 5
	defaultMaxConcurrency  = 3
	defaultCallTimeout     = 30 * time.Second
	defaultCacheTTL        = time.Hour
	defaultCacheSize       = 256
	defaultDocCacheSize    = 16
	defaultEmbedBatchSize  = 32
	defaultMaxTokens       = 1024
	defaultFetchTimeout    = 30 * time.Second
	defaultFetchMaxBytes   = 50 << 20
	defaultServerAddr      = ":8000"
	defaultOpenAIBaseURL   = "https://api.openai.com/v1"
	defaultOllamaServerURL = "http://localhost:11434"
)

// Env variables that override secrets from the config file
const (
	EnvLLMKey      = "LLM_API_KEY"
	EnvEmbedKey    = "EMBED_API_KEY"
	EnvDatabaseURL = "DATABASE_URL"
)

type Config struct {
	LLM      LLMConfig      `yaml:"llm" toml:"llm"`
	EmbedLLM LLMConfig      `yaml:"embed_llm" toml:"embed_llm"`
	RAG      RAGConfig      `yaml:"rag" toml:"rag"`
	Fetch    FetchConfig    `yaml:"fetch" toml:"fetch"`
	Database DatabaseConfig `yaml:"database" toml:"database"`
	Server   ServerConfig   `yaml:"server" toml:"server"`
	Log      LogConfig      `yaml:"log" toml:"log"`
}

// LLMConfig configures one langchaingo provider, used for both completions and embeddings
type LLMConfig struct {
	Provider          string  `yaml:"provider" toml:"provider"` // openai or ollama
	BaseURL           string  `yaml:"base_url" toml:"base_url"`
	Key               string  `yaml:"key" toml:"key"`
	Model             string  `yaml:"model" toml:"model"`
	MaxTokens         int     `yaml:"max_tokens" toml:"max_tokens"`
	Temperature       float64 `yaml:"temperature" toml:"temperature"`
	RequestsPerSecond float64 `yaml:"requests_per_second" toml:"requests_per_second"`
	Burst             int     `yaml:"burst" toml:"burst"`
}

// RAGConfig is the configuration surface of the retrieval and synthesis pipeline
type RAGConfig struct {
	ChunkSize         int         `yaml:"chunk_size" toml:"chunk_size"`
	ChunkOverlap      int         `yaml:"chunk_overlap" toml:"chunk_overlap"`
	TopK              int         `yaml:"top_k" toml:"top_k"`
	SimilarityFloor   float64     `yaml:"similarity_floor" toml:"similarity_floor"`
	MaxConcurrency    int         `yaml:"max_concurrency" toml:"max_concurrency"`
	CallTimeout       Duration    `yaml:"call_timeout" toml:"call_timeout"`
	BatchTimeout      Duration    `yaml:"batch_timeout" toml:"batch_timeout"`
	Retry             RetryConfig `yaml:"retry" toml:"retry"`
	CacheTTL          Duration    `yaml:"cache_ttl" toml:"cache_ttl"`
	CacheSize         int         `yaml:"cache_size" toml:"cache_size"`
	DocumentCacheSize int         `yaml:"document_cache_size" toml:"document_cache_size"`
	EmbedBatchSize    int         `yaml:"embed_batch_size" toml:"embed_batch_size"`
	Contextualize     bool        `yaml:"contextualize" toml:"contextualize"`
}

type RetryConfig struct {
	MaxAttempts int      `yaml:"max_attempts" toml:"max_attempts"`
	BaseDelay   Duration `yaml:"base_delay" toml:"base_delay"`
	MaxDelay    Duration `yaml:"max_delay" toml:"max_delay"`
	Multiplier  float64  `yaml:"multiplier" toml:"multiplier"`
	Jitter      float64  `yaml:"jitter" toml:"jitter"`
}

type FetchConfig struct {
	Timeout  Duration `yaml:"timeout" toml:"timeout"`
	MaxBytes int64    `yaml:"max_bytes" toml:"max_bytes"`
}

// DatabaseConfig enables the answer log when DSN is set
type DatabaseConfig struct {
	Driver   string `yaml:"driver" toml:"driver"` // pgdriver (default) or pq
	DSN      string `yaml:"dsn" toml:"dsn"`
	Password string `yaml:"password" toml:"password"`
	Debug    bool   `yaml:"debug" toml:"debug"`
}

type ServerConfig struct {
	Addr string `yaml:"addr" toml:"addr"`
}

type LogConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Pretty bool   `yaml:"pretty" toml:"pretty"`
}

// Duration accepts "30s" style strings in both yaml and toml files
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	return d.UnmarshalText([]byte(value.Value))
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// LoadConfig reads a yaml or toml file (by extension), then .env and env overrides.
// A missing file yields the defaults.
func LoadConfig(path string) (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := unmarshal(path, data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case os.IsNotExist(err):
	default:
		return nil, err
	}

	applyEnv(&cfg)
	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func unmarshal(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		return toml.Unmarshal(data, cfg)
	default:
		return yaml.Unmarshal(data, cfg)
	}
}

func applyEnv(cfg *Config) {
	if v := os.Getenv(EnvLLMKey); v != "" {
		cfg.LLM.Key = v
	}
	if v := os.Getenv(EnvEmbedKey); v != "" {
		cfg.EmbedLLM.Key = v
	}
	if v := os.Getenv(EnvDatabaseURL); v != "" {
		cfg.Database.DSN = v
	}
}

func applyDefaults(cfg *Config) {
	applyLLMDefaults(&cfg.LLM)
	applyLLMDefaults(&cfg.EmbedLLM)
	if cfg.LLM.MaxTokens == 0 {
		cfg.LLM.MaxTokens = defaultMaxTokens
	}

	rag := &cfg.RAG
	if rag.ChunkSize == 0 {
		rag.ChunkSize = defaultChunkSize
	}
	if rag.ChunkOverlap == 0 && rag.ChunkSize > defaultChunkOverlap {
		rag.ChunkOverlap = defaultChunkOverlap
	}
	if rag.TopK == 0 {
		rag.TopK = defaultTopK
	}
	if rag.MaxConcurrency == 0 {
		rag.MaxConcurrency = defaultMaxConcurrency
	}
	if rag.CallTimeout == 0 {
		rag.CallTimeout = Duration(defaultCallTimeout)
	}
	if rag.CacheTTL == 0 {
		rag.CacheTTL = Duration(defaultCacheTTL)
	}
	if rag.CacheSize == 0 {
		rag.CacheSize = defaultCacheSize
	}
	if rag.DocumentCacheSize == 0 {
		rag.DocumentCacheSize = defaultDocCacheSize
	}
	if rag.EmbedBatchSize == 0 {
		rag.EmbedBatchSize = defaultEmbedBatchSize
	}
	if rag.Retry.MaxAttempts == 0 {
		rag.Retry.MaxAttempts = retry.DefaultMaxAttempts
	}
	if rag.Retry.BaseDelay == 0 {
		rag.Retry.BaseDelay = Duration(retry.DefaultBaseDelay)
	}
	if rag.Retry.MaxDelay == 0 {
		rag.Retry.MaxDelay = Duration(retry.DefaultMaxDelay)
	}
	if rag.Retry.Multiplier == 0 {
		rag.Retry.Multiplier = retry.DefaultMultiplier
	}

	if cfg.Fetch.Timeout == 0 {
		cfg.Fetch.Timeout = Duration(defaultFetchTimeout)
	}
	if cfg.Fetch.MaxBytes == 0 {
		cfg.Fetch.MaxBytes = defaultFetchMaxBytes
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = defaultServerAddr
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}

func applyLLMDefaults(c *LLMConfig) {
	if c.Provider == "" {
		c.Provider = "openai"
	}
	if c.BaseURL == "" {
		switch c.Provider {
		case "ollama":
			c.BaseURL = defaultOllamaServerURL
		default:
			c.BaseURL = defaultOpenAIBaseURL
		}
	}
}

// Validate checks the values the pipeline cannot work without
func (c *Config) Validate() error {
	rag := c.RAG
	if rag.ChunkSize <= 0 {
		return fmt.Errorf("rag.chunk_size must be positive, got %d", rag.ChunkSize)
	}
	if rag.ChunkOverlap < 0 || rag.ChunkOverlap >= rag.ChunkSize {
		return fmt.Errorf("rag.chunk_overlap must be in [0, %d), got %d", rag.ChunkSize, rag.ChunkOverlap)
	}
	if rag.TopK <= 0 {
		return fmt.Errorf("rag.top_k must be positive, got %d", rag.TopK)
	}
	if rag.SimilarityFloor < -1 || rag.SimilarityFloor > 1 {
		return fmt.Errorf("rag.similarity_floor must be in [-1, 1], got %g", rag.SimilarityFloor)
	}
	if rag.MaxConcurrency <= 0 {
		return fmt.Errorf("rag.max_concurrency must be positive, got %d", rag.MaxConcurrency)
	}
	for name, p := range map[string]string{"llm": c.LLM.Provider, "embed_llm": c.EmbedLLM.Provider} {
		if p != "openai" && p != "ollama" {
			return fmt.Errorf("%s.provider must be openai or ollama, got %q", name, p)
		}
	}
	return nil
}

// RetryPolicy builds the shared retry policy for outbound calls
func (r RAGConfig) RetryPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts: r.Retry.MaxAttempts,
		BaseDelay:   r.Retry.BaseDelay.Std(),
		MaxDelay:    r.Retry.MaxDelay.Std(),
		Multiplier:  r.Retry.Multiplier,
		Jitter:      r.Retry.Jitter,
		CallTimeout: r.CallTimeout.Std(),
	}
}
