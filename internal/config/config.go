package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	ProviderGoogleAI = "googleai"
	ProviderOpenAI   = "openai"
	ProviderOllama   = "ollama"

	FailureRollback = "rollback"
	FailureRetain   = "retain"

	RetrieverScan    = "scan"
	RetrieverChromem = "chromem"

	DriverPG = "pgdriver"
	DriverPQ = "pq"
)

type Config struct {
	EmbedLLM LLMConfig      `yaml:"embed_llm"`
	ChatLLM  LLMConfig      `yaml:"chat_llm"`
	RAG      RAGConfig      `yaml:"rag"`
	Database DatabaseConfig `yaml:"database"`
	Server   ServerConfig   `yaml:"server"`
	Log      LogConfig      `yaml:"log"`
}

// LLMConfig selects a provider and model. Key falls back to the KeyEnv
// environment variable when empty.
type LLMConfig struct {
	Provider string `yaml:"provider"`
	BaseURL  string `yaml:"base_url"`
	Key      string `yaml:"key"`
	KeyEnv   string `yaml:"key_env"`
	Model    string `yaml:"model"`
}

type RAGConfig struct {
	ChunkWords      int     `yaml:"chunk_words"`
	TopN            int     `yaml:"top_n"`
	Workers         int     `yaml:"workers"`
	RateLimit       float64 `yaml:"rate_limit"` // embedding calls per second, 0 = unlimited
	Burst           int     `yaml:"burst"`
	OnFailure       string  `yaml:"on_failure"`
	ReplaceOnIngest *bool   `yaml:"replace_on_ingest"`
	Retriever       string  `yaml:"retriever"`
	ExportPath      string  `yaml:"export_path"`
	EncryptionKey   string  `yaml:"encryption_key"`
}

// Replace reports whether a new document replaces the store contents.
func (r RAGConfig) Replace() bool {
	return r.ReplaceOnIngest == nil || *r.ReplaceOnIngest
}

// DatabaseConfig enables the run ledger when DSN is set.
type DatabaseConfig struct {
	Driver   string `yaml:"driver"`
	DSN      string `yaml:"dsn"`
	Password string `yaml:"password"`
	Debug    bool   `yaml:"debug"`
}

type ServerConfig struct {
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	MaxUploadMB int    `yaml:"max_upload_mb"`
}

func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// LoadConfig reads a YAML config. A missing file yields the defaults. Environment
// overrides are applied after the file and defaults fill whatever is still
// unset, so provider-specific models and keys follow the final provider.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{}
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, err
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	applyEnv(cfg)
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	defaultLLM(&cfg.EmbedLLM, "embedding-001", "text-embedding-3-small", "nomic-embed-text")
	defaultLLM(&cfg.ChatLLM, "gemini-2.5-flash", "gpt-4o-mini", "llama3.2")

	if cfg.RAG.ChunkWords == 0 {
		cfg.RAG.ChunkWords = 300
	}
	if cfg.RAG.TopN == 0 {
		cfg.RAG.TopN = 3
	}
	if cfg.RAG.Workers == 0 {
		cfg.RAG.Workers = 4
	}
	if cfg.RAG.Burst == 0 {
		cfg.RAG.Burst = 1
	}
	if cfg.RAG.OnFailure == "" {
		cfg.RAG.OnFailure = FailureRollback
	}
	if cfg.RAG.Retriever == "" {
		cfg.RAG.Retriever = RetrieverScan
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = DriverPG
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 3000
	}
	if cfg.Server.MaxUploadMB == 0 {
		cfg.Server.MaxUploadMB = 50
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}

func defaultLLM(c *LLMConfig, googleModel, openaiModel, ollamaModel string) {
	if c.Provider == "" {
		c.Provider = ProviderGoogleAI
	}
	switch c.Provider {
	case ProviderGoogleAI:
		if c.Model == "" {
			c.Model = googleModel
		}
		if c.KeyEnv == "" {
			c.KeyEnv = "GEMINI_API_KEY"
		}
	case ProviderOpenAI:
		if c.Model == "" {
			c.Model = openaiModel
		}
		if c.KeyEnv == "" {
			c.KeyEnv = "OPENAI_API_KEY"
		}
	case ProviderOllama:
		if c.Model == "" {
			c.Model = ollamaModel
		}
		if c.BaseURL == "" {
			c.BaseURL = "http://localhost:11434"
		}
	}
	if c.Key == "" && c.KeyEnv != "" {
		c.Key = os.Getenv(c.KeyEnv)
	}
}

// applyEnv lets deployment secrets and a few knobs bypass the YAML file.
func applyEnv(cfg *Config) {
	setString(&cfg.Database.DSN, "RAG_DATABASE_DSN")
	setString(&cfg.Database.Password, "RAG_DATABASE_PASSWORD")
	setString(&cfg.RAG.EncryptionKey, "RAG_ENCRYPTION_KEY")
	setString(&cfg.Log.Level, "RAG_LOG_LEVEL")
	setString(&cfg.EmbedLLM.Provider, "RAG_EMBED_PROVIDER")
	setString(&cfg.ChatLLM.Provider, "RAG_CHAT_PROVIDER")
	setInt(&cfg.Server.Port, "PORT")
	setInt(&cfg.RAG.Workers, "RAG_WORKERS")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			*dst = i
		}
	}
}

func (c *Config) Validate() error {
	var errs []error
	for name, llm := range map[string]LLMConfig{"embed_llm": c.EmbedLLM, "chat_llm": c.ChatLLM} {
		switch llm.Provider {
		case ProviderGoogleAI, ProviderOpenAI, ProviderOllama:
		default:
			errs = append(errs, fmt.Errorf("%s.provider: unknown provider %q", name, llm.Provider))
		}
	}
	if c.RAG.ChunkWords < 1 {
		errs = append(errs, fmt.Errorf("rag.chunk_words must be positive, got %d", c.RAG.ChunkWords))
	}
	if c.RAG.TopN < 1 {
		errs = append(errs, fmt.Errorf("rag.top_n must be positive, got %d", c.RAG.TopN))
	}
	if c.RAG.Workers < 1 || c.RAG.Workers > 64 {
		errs = append(errs, fmt.Errorf("rag.workers must be 1-64, got %d", c.RAG.Workers))
	}
	if c.RAG.RateLimit < 0 {
		errs = append(errs, fmt.Errorf("rag.rate_limit must not be negative, got %v", c.RAG.RateLimit))
	}
	switch c.RAG.OnFailure {
	case FailureRollback, FailureRetain:
	default:
		errs = append(errs, fmt.Errorf("rag.on_failure must be %s or %s, got %q", FailureRollback, FailureRetain, c.RAG.OnFailure))
	}
	switch c.RAG.Retriever {
	case RetrieverScan, RetrieverChromem:
	default:
		errs = append(errs, fmt.Errorf("rag.retriever must be %s or %s, got %q", RetrieverScan, RetrieverChromem, c.RAG.Retriever))
	}
	if c.RAG.ExportPath != "" && len(c.RAG.EncryptionKey) != 32 {
		errs = append(errs, errors.New("rag.encryption_key must be 32 bytes when rag.export_path is set"))
	}
	switch strings.ToLower(c.Database.Driver) {
	case DriverPG, DriverPQ:
	default:
		errs = append(errs, fmt.Errorf("database.driver must be %s or %s, got %q", DriverPG, DriverPQ, c.Database.Driver))
	}
	return errors.Join(errs...)
}
