package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"GEMINI_API_KEY", "OPENAI_API_KEY", "RAG_DATABASE_DSN", "RAG_DATABASE_PASSWORD",
		"RAG_ENCRYPTION_KEY", "RAG_LOG_LEVEL", "RAG_EMBED_PROVIDER", "RAG_CHAT_PROVIDER",
		"PORT", "RAG_WORKERS",
	} {
		t.Setenv(key, "")
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("GEMINI_API_KEY", "gem-key")

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, ProviderGoogleAI, cfg.EmbedLLM.Provider)
	assert.Equal(t, "embedding-001", cfg.EmbedLLM.Model)
	assert.Equal(t, "gemini-2.5-flash", cfg.ChatLLM.Model)
	assert.Equal(t, "gem-key", cfg.EmbedLLM.Key)
	assert.Equal(t, 300, cfg.RAG.ChunkWords)
	assert.Equal(t, 3, cfg.RAG.TopN)
	assert.Equal(t, FailureRollback, cfg.RAG.OnFailure)
	assert.Equal(t, RetrieverScan, cfg.RAG.Retriever)
	assert.True(t, cfg.RAG.Replace())
	assert.Equal(t, "0.0.0.0:3000", cfg.Server.Addr())
	assert.Empty(t, cfg.Database.DSN)
}

func TestLoadConfig_FileValues(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
embed_llm:
  provider: ollama
  model: mxbai-embed-large
chat_llm:
  provider: openai
  key: sk-test
rag:
  chunk_words: 120
  top_n: 5
  workers: 2
  on_failure: retain
  replace_on_ingest: false
  retriever: chromem
database:
  driver: pq
  dsn: postgres://localhost/rag
server:
  port: 8080
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "mxbai-embed-large", cfg.EmbedLLM.Model)
	assert.Equal(t, "http://localhost:11434", cfg.EmbedLLM.BaseURL)
	assert.Equal(t, "gpt-4o-mini", cfg.ChatLLM.Model)
	assert.Equal(t, "sk-test", cfg.ChatLLM.Key)
	assert.Equal(t, 120, cfg.RAG.ChunkWords)
	assert.Equal(t, 5, cfg.RAG.TopN)
	assert.Equal(t, FailureRetain, cfg.RAG.OnFailure)
	assert.False(t, cfg.RAG.Replace())
	assert.Equal(t, RetrieverChromem, cfg.RAG.Retriever)
	assert.Equal(t, DriverPQ, cfg.Database.Driver)
	assert.Equal(t, 8080, cfg.Server.Port)
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("RAG_DATABASE_DSN", "postgres://env/rag")
	t.Setenv("PORT", "9999")
	t.Setenv("RAG_WORKERS", "8")
	t.Setenv("RAG_EMBED_PROVIDER", "openai")
	t.Setenv("OPENAI_API_KEY", "sk-env")

	cfg, err := LoadConfig(writeConfig(t, "server:\n  port: 8080\n"))
	require.NoError(t, err)
	assert.Equal(t, "postgres://env/rag", cfg.Database.DSN)
	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, 8, cfg.RAG.Workers)
	assert.Equal(t, "text-embedding-3-small", cfg.EmbedLLM.Model)
	assert.Equal(t, "sk-env", cfg.EmbedLLM.Key)
}

func TestLoadConfig_ProviderSwitchDropsGoogleDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("GEMINI_API_KEY", "gemini-secret")

	cfg, err := LoadConfig(writeConfig(t, "embed_llm:\n  provider: openai\nchat_llm:\n  provider: ollama\n"))
	require.NoError(t, err)

	assert.Equal(t, "text-embedding-3-small", cfg.EmbedLLM.Model)
	assert.Equal(t, "OPENAI_API_KEY", cfg.EmbedLLM.KeyEnv)
	assert.Empty(t, cfg.EmbedLLM.Key)
	assert.Equal(t, "llama3.2", cfg.ChatLLM.Model)
	assert.Empty(t, cfg.ChatLLM.KeyEnv)
	assert.Empty(t, cfg.ChatLLM.Key)

	t.Setenv("RAG_EMBED_PROVIDER", "ollama")
	cfg, err = LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "nomic-embed-text", cfg.EmbedLLM.Model)
	assert.Empty(t, cfg.EmbedLLM.Key)
	assert.Equal(t, "gemini-secret", cfg.ChatLLM.Key)
}

func TestLoadConfig_InvalidYAML(t *testing.T) {
	clearEnv(t)
	_, err := LoadConfig(writeConfig(t, "rag: [not, a, map"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"unknown provider", func(c *Config) { c.EmbedLLM.Provider = "acme" }, "embed_llm.provider"},
		{"negative chunk words", func(c *Config) { c.RAG.ChunkWords = -1 }, "chunk_words"},
		{"zero top n", func(c *Config) { c.RAG.TopN = 0 }, "top_n"},
		{"too many workers", func(c *Config) { c.RAG.Workers = 500 }, "workers"},
		{"bad failure policy", func(c *Config) { c.RAG.OnFailure = "ignore" }, "on_failure"},
		{"bad retriever", func(c *Config) { c.RAG.Retriever = "hnsw" }, "retriever"},
		{"short encryption key", func(c *Config) { c.RAG.ExportPath = "/tmp/x"; c.RAG.EncryptionKey = "short" }, "encryption_key"},
		{"bad driver", func(c *Config) { c.Database.Driver = "mysql" }, "database.driver"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}

	assert.NoError(t, Default().Validate())
}
