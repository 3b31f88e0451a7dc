package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("GEMINI_API_KEYS", "")
	t.Setenv("FAST_API_KEYS", "")
	t.Setenv("ROUTER", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":8000", cfg.HTTPAddr)
	assert.Equal(t, 2*time.Second, cfg.MemoryBoltTimeout)
	assert.Equal(t, "bolt", cfg.MemoryBackend)
	assert.Equal(t, 5, cfg.RetrievalTopK)
	assert.Equal(t, 0.0, cfg.RerankThreshold)
	assert.Equal(t, time.Second, cfg.UnavailableBackoff)
	assert.Equal(t, 2, cfg.UnavailableRetries)
	assert.Empty(t, cfg.GeminiAPIKeys)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("GEMINI_API_KEYS", "k1, k2,,k3 ")
	t.Setenv("FAST_API_KEYS", "")
	t.Setenv("ROUTER", "groq-key")
	t.Setenv("RERANK_THRESHOLD", "1.5")
	t.Setenv("WORKER_CONCURRENCY", "500")
	t.Setenv("MEMORY_BACKEND", "SQL")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"k1", "k2", "k3"}, cfg.GeminiAPIKeys)
	assert.Equal(t, []string{"groq-key"}, cfg.FastAPIKeys)
	assert.Equal(t, 1.5, cfg.RerankThreshold)
	assert.Equal(t, 50, cfg.WorkerConcurrency)
	assert.Equal(t, "sql", cfg.MemoryBackend)
}

func TestLoad_UnreadableFileKeepsEnv(t *testing.T) {
	t.Setenv("SENSEI_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("HTTP_ADDR", ":9100")

	cfg, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing.yaml")
	assert.Equal(t, ":9100", cfg.HTTPAddr)
	assert.Equal(t, "bolt", cfg.MemoryBackend)
}
