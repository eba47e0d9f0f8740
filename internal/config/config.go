package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// LLMConfig describes one model endpoint. Provider is "ollama", "openai" or "googleai".
type LLMConfig struct {
	Provider string `yaml:"provider"`
	BaseURL  string `yaml:"base_url"`
	Model    string `yaml:"model"`
	Key      string `yaml:"key"`
	KeyEnv   string `yaml:"key_env"`
}

// APIKey returns the inline key, falling back to the environment variable named by KeyEnv.
func (c LLMConfig) APIKey() string {
	if c.Key != "" {
		return c.Key
	}
	if c.KeyEnv != "" {
		return os.Getenv(c.KeyEnv)
	}
	return ""
}

type RerankConfig struct {
	BaseURL string        `yaml:"base_url"`
	Model   string        `yaml:"model"`
	Key     string        `yaml:"key"`
	KeyEnv  string        `yaml:"key_env"`
	Timeout time.Duration `yaml:"timeout"`
}

func (c RerankConfig) APIKey() string {
	if c.Key != "" {
		return c.Key
	}
	if c.KeyEnv != "" {
		return os.Getenv(c.KeyEnv)
	}
	return ""
}

// RAGConfig holds the chunking, retrieval and generation knobs.
type RAGConfig struct {
	MaxTokens         int           `yaml:"max_tokens"`
	OverlapRatio      float64       `yaml:"overlap_ratio"`
	TokenizerEncoding string        `yaml:"tokenizer_encoding"`
	EmbedBatchSize    int           `yaml:"embed_batch_size"`
	TopK              int           `yaml:"top_k"`
	StreamTopK        int           `yaml:"stream_top_k"`
	WindowSize        int           `yaml:"window_size"`
	RefineTimeout     time.Duration `yaml:"refine_timeout"`
	GenerationTimeout time.Duration `yaml:"generation_timeout"`
	ProgressInterval  time.Duration `yaml:"progress_interval"`
}

// IndexConfig selects the vector index backend. Backend is "chromem" or "pgvector".
type IndexConfig struct {
	Backend       string `yaml:"backend"`
	Compress      bool   `yaml:"compress"`
	EncryptionKey string `yaml:"encryption_key"`
}

type DatabaseConfig struct {
	DSN      string `yaml:"dsn"`
	Password string `yaml:"password"`
	Table    string `yaml:"table"`
	Debug    bool   `yaml:"debug"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

type Config struct {
	WorkDir      string         `yaml:"work_dir"`
	EmbedLLM     LLMConfig      `yaml:"embed_llm"`
	InferenceLLM LLMConfig      `yaml:"inference_llm"`
	Rerank       RerankConfig   `yaml:"rerank"`
	RAG          RAGConfig      `yaml:"rag"`
	Index        IndexConfig    `yaml:"index"`
	Database     DatabaseConfig `yaml:"database"`
	Log          LogConfig      `yaml:"log"`
}

const (
	defaultWorkDir           = "./data"
	defaultMaxTokens         = 200
	defaultOverlapRatio      = 0.2
	defaultTokenizerEncoding = "cl100k_base"
	defaultEmbedBatchSize    = 32
	defaultTopK              = 10
	defaultStreamTopK        = 20
	defaultWindowSize        = 5
	defaultRefineTimeout     = 30 * time.Second
	defaultGenerationTimeout = 40 * time.Second
	defaultProgressInterval  = 500 * time.Millisecond
	defaultRerankTimeout     = 2 * time.Minute
	defaultTable             = "chunk_vectors"
)

// LoadConfig reads the yaml file at path. A missing file yields the defaults.
// A .env file in the working directory is loaded first so key_env lookups see it.
func LoadConfig(path string) (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, err
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}
	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a config with every default applied.
func Default() *Config {
	var cfg Config
	applyDefaults(&cfg)
	return &cfg
}

func (c *Config) Validate() error {
	if c.RAG.MaxTokens <= 0 {
		return fmt.Errorf("rag.max_tokens must be positive, got %d", c.RAG.MaxTokens)
	}
	if c.RAG.OverlapRatio < 0 || c.RAG.OverlapRatio >= 1 {
		return fmt.Errorf("rag.overlap_ratio must be in [0,1), got %v", c.RAG.OverlapRatio)
	}
	if c.RAG.TopK <= 0 {
		return fmt.Errorf("rag.top_k must be positive, got %d", c.RAG.TopK)
	}
	if c.RAG.StreamTopK <= 0 {
		return fmt.Errorf("rag.stream_top_k must be positive, got %d", c.RAG.StreamTopK)
	}
	if c.RAG.WindowSize < 0 {
		return fmt.Errorf("rag.window_size must not be negative, got %d", c.RAG.WindowSize)
	}
	if k := c.Index.EncryptionKey; k != "" && len(k) != 32 {
		return fmt.Errorf("index.encryption_key must be 32 bytes, got %d", len(k))
	}
	switch c.Index.Backend {
	case "chromem":
	case "pgvector":
		if c.Database.DSN == "" {
			return errors.New("database.dsn is required for the pgvector backend")
		}
	default:
		return fmt.Errorf("unsupported index backend: %s", c.Index.Backend)
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.WorkDir == "" {
		cfg.WorkDir = defaultWorkDir
	}
	applyLLMDefaults(&cfg.EmbedLLM, "nomic-embed-text")
	applyLLMDefaults(&cfg.InferenceLLM, "llama3.1")
	if cfg.Rerank.Timeout == 0 {
		cfg.Rerank.Timeout = defaultRerankTimeout
	}
	if cfg.Rerank.KeyEnv == "" {
		cfg.Rerank.KeyEnv = "RERANK_API_KEY"
	}

	r := &cfg.RAG
	if r.MaxTokens == 0 {
		r.MaxTokens = defaultMaxTokens
	}
	if r.OverlapRatio == 0 {
		r.OverlapRatio = defaultOverlapRatio
	}
	if r.TokenizerEncoding == "" {
		r.TokenizerEncoding = defaultTokenizerEncoding
	}
	if r.EmbedBatchSize == 0 {
		r.EmbedBatchSize = defaultEmbedBatchSize
	}
	if r.TopK == 0 {
		r.TopK = defaultTopK
	}
	if r.StreamTopK == 0 {
		r.StreamTopK = defaultStreamTopK
	}
	if r.WindowSize == 0 {
		r.WindowSize = defaultWindowSize
	}
	if r.RefineTimeout == 0 {
		r.RefineTimeout = defaultRefineTimeout
	}
	if r.GenerationTimeout == 0 {
		r.GenerationTimeout = defaultGenerationTimeout
	}
	if r.ProgressInterval == 0 {
		r.ProgressInterval = defaultProgressInterval
	}

	if cfg.Index.Backend == "" {
		cfg.Index.Backend = "chromem"
	}
	if cfg.Database.Table == "" {
		cfg.Database.Table = defaultTable
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}

func applyLLMDefaults(c *LLMConfig, model string) {
	if c.Provider == "" {
		c.Provider = "ollama"
	}
	switch c.Provider {
	case "ollama":
		if c.BaseURL == "" {
			c.BaseURL = "http://localhost:11434"
		}
	case "openai":
		if c.BaseURL == "" {
			c.BaseURL = "https://api.openai.com/v1"
		}
		if c.KeyEnv == "" {
			c.KeyEnv = "OPENAI_API_KEY"
		}
	case "googleai":
		if c.KeyEnv == "" {
			c.KeyEnv = "GOOGLE_API_KEY"
		}
		if c.Model == "" {
			c.Model = "gemini-2.0-flash"
		}
	}
	if c.Model == "" {
		c.Model = model
	}
}
