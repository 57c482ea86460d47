package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	LLM      LLMConfig      `yaml:"llm"`
	RAG      RAGConfig      `yaml:"rag"`
	Index    IndexConfig    `yaml:"index"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type DatabaseConfig struct {
	URL            string `yaml:"url"`
	MaxConns       int    `yaml:"max_conns"`
	MinConns       int    `yaml:"min_conns"`
	MigrationsPath string `yaml:"migrations_path"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type LLMConfig struct {
	OpenAIKey          string `yaml:"openai_key"`
	AnthropicKey       string `yaml:"anthropic_key"`
	OllamaURL          string `yaml:"ollama_url"`
	DefaultProvider    string `yaml:"default_provider"`
	DefaultModel       string `yaml:"default_model"`
	FallbackProvider   string `yaml:"fallback_provider"`
	RetryMaxElapsedSec int    `yaml:"retry_max_elapsed_sec"`
}

// RAGConfig holds the knobs of the answer-synthesis core.
type RAGConfig struct {
	KBPath             string  `yaml:"kb_path"`
	ChunkSize          int     `yaml:"chunk_size"`
	ChunkOverlap       int     `yaml:"chunk_overlap"`
	DefaultK           int     `yaml:"default_k"`
	RelevanceThreshold float64 `yaml:"relevance_threshold"`
	EmbeddingModel     string  `yaml:"embedding_model"`
	MaxToolCalls       int     `yaml:"max_tool_calls"`
}

// IndexConfig selects the vector index backend and its location.
type IndexConfig struct {
	Backend    string `yaml:"backend"` // disk, pgvector, qdrant
	Dir        string `yaml:"dir"`
	Dim        int    `yaml:"dim"`
	QdrantHost string `yaml:"qdrant_host"`
	QdrantPort int    `yaml:"qdrant_port"`
	Collection string `yaml:"collection"`
}

// Load builds the config from environment variables. If CONFIG_FILE points
// at a YAML file it is read first and env vars override its values.
func Load() (*Config, error) {
	cfg := &Config{}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	var err error
	cfg.Server.Host = getEnv("SERVER_HOST", fallback(cfg.Server.Host, "0.0.0.0"))
	cfg.Server.Port, err = getEnvInt("SERVER_PORT", fallbackInt(cfg.Server.Port, 8080))
	if err != nil {
		return nil, fmt.Errorf("invalid SERVER_PORT: %w", err)
	}

	cfg.Database.URL = getEnv("DATABASE_URL", cfg.Database.URL)
	cfg.Database.MaxConns, err = getEnvInt("DB_MAX_CONNS", fallbackInt(cfg.Database.MaxConns, 20))
	if err != nil {
		return nil, fmt.Errorf("invalid DB_MAX_CONNS: %w", err)
	}
	cfg.Database.MinConns, err = getEnvInt("DB_MIN_CONNS", fallbackInt(cfg.Database.MinConns, 5))
	if err != nil {
		return nil, fmt.Errorf("invalid DB_MIN_CONNS: %w", err)
	}
	cfg.Database.MigrationsPath = getEnv("MIGRATIONS_PATH", fallback(cfg.Database.MigrationsPath, "migrations"))

	cfg.Redis.Addr = getEnv("REDIS_ADDR", fallback(cfg.Redis.Addr, "localhost:6379"))
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB, err = getEnvInt("REDIS_DB", cfg.Redis.DB)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	cfg.LLM.OpenAIKey = getEnv("OPENAI_API_KEY", cfg.LLM.OpenAIKey)
	cfg.LLM.AnthropicKey = getEnv("ANTHROPIC_API_KEY", cfg.LLM.AnthropicKey)
	cfg.LLM.OllamaURL = getEnv("OLLAMA_URL", cfg.LLM.OllamaURL)
	cfg.LLM.DefaultProvider = getEnv("LLM_DEFAULT_PROVIDER", fallback(cfg.LLM.DefaultProvider, "openai"))
	cfg.LLM.DefaultModel = getEnv("LLM_DEFAULT_MODEL", fallback(cfg.LLM.DefaultModel, "gpt-4o-mini"))
	cfg.LLM.FallbackProvider = getEnv("LLM_FALLBACK_PROVIDER", cfg.LLM.FallbackProvider)
	cfg.LLM.RetryMaxElapsedSec, err = getEnvInt("LLM_RETRY_MAX_ELAPSED_SEC", fallbackInt(cfg.LLM.RetryMaxElapsedSec, 30))
	if err != nil {
		return nil, fmt.Errorf("invalid LLM_RETRY_MAX_ELAPSED_SEC: %w", err)
	}

	cfg.RAG.KBPath = getEnv("KB_PATH", fallback(cfg.RAG.KBPath, "data"))
	cfg.RAG.ChunkSize, err = getEnvInt("RAG_CHUNK_SIZE", fallbackInt(cfg.RAG.ChunkSize, 512))
	if err != nil {
		return nil, fmt.Errorf("invalid RAG_CHUNK_SIZE: %w", err)
	}
	cfg.RAG.ChunkOverlap, err = getEnvInt("RAG_CHUNK_OVERLAP", fallbackInt(cfg.RAG.ChunkOverlap, 64))
	if err != nil {
		return nil, fmt.Errorf("invalid RAG_CHUNK_OVERLAP: %w", err)
	}
	cfg.RAG.DefaultK, err = getEnvInt("RAG_DEFAULT_K", fallbackInt(cfg.RAG.DefaultK, 5))
	if err != nil {
		return nil, fmt.Errorf("invalid RAG_DEFAULT_K: %w", err)
	}
	cfg.RAG.RelevanceThreshold, err = getEnvFloat("RAG_RELEVANCE_THRESHOLD", fallbackFloat(cfg.RAG.RelevanceThreshold, 0.3))
	if err != nil {
		return nil, fmt.Errorf("invalid RAG_RELEVANCE_THRESHOLD: %w", err)
	}
	cfg.RAG.EmbeddingModel = getEnv("RAG_EMBEDDING_MODEL", fallback(cfg.RAG.EmbeddingModel, "text-embedding-3-small"))
	cfg.RAG.MaxToolCalls, err = getEnvInt("RAG_MAX_TOOL_CALLS", fallbackInt(cfg.RAG.MaxToolCalls, 6))
	if err != nil {
		return nil, fmt.Errorf("invalid RAG_MAX_TOOL_CALLS: %w", err)
	}

	cfg.Index.Backend = getEnv("INDEX_BACKEND", fallback(cfg.Index.Backend, "disk"))
	cfg.Index.Dir = getEnv("INDEX_DIR", fallback(cfg.Index.Dir, "data/index"))
	cfg.Index.Dim, err = getEnvInt("INDEX_DIM", fallbackInt(cfg.Index.Dim, 1536))
	if err != nil {
		return nil, fmt.Errorf("invalid INDEX_DIM: %w", err)
	}
	cfg.Index.QdrantHost = getEnv("QDRANT_HOST", fallback(cfg.Index.QdrantHost, "localhost"))
	cfg.Index.QdrantPort, err = getEnvInt("QDRANT_PORT", fallbackInt(cfg.Index.QdrantPort, 6334))
	if err != nil {
		return nil, fmt.Errorf("invalid QDRANT_PORT: %w", err)
	}
	cfg.Index.Collection = getEnv("QDRANT_COLLECTION", fallback(cfg.Index.Collection, "kb_chunks_v1"))

	return cfg, nil
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func (c *Config) Validate() error {
	var missing []string
	if c.LLM.OpenAIKey == "" && c.LLM.AnthropicKey == "" && c.LLM.OllamaURL == "" {
		missing = append(missing, "OPENAI_API_KEY (or ANTHROPIC_API_KEY / OLLAMA_URL)")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required env vars: %s", strings.Join(missing, ", "))
	}
	return nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}

func getEnvFloat(key string, def float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	return strconv.ParseFloat(v, 64)
}

func fallback(v, def string) string {
	if v != "" {
		return v
	}
	return def
}

func fallbackInt(v, def int) int {
	if v != 0 {
		return v
	}
	return def
}

func fallbackFloat(v, def float64) float64 {
	if v != 0 {
		return v
	}
	return def
}
