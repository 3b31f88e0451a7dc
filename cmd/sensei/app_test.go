package main

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/suPer8Hu/sensei/internal/config"
	"github.com/suPer8Hu/sensei/internal/memory"
)

func TestOpenMemory_SecondProcessFallsBackInProcess(t *testing.T) {
	cfg := config.Config{
		MemoryBackend:     "bolt",
		MemoryBoltPath:    filepath.Join(t.TempDir(), "chat_sessions.bolt"),
		MemoryBoltTimeout: 50 * time.Millisecond,
	}

	first, closeFirst, err := openMemory(cfg, nil, zap.NewNop())
	require.NoError(t, err)
	require.NotNil(t, closeFirst)
	defer closeFirst()
	assert.IsType(t, &memory.BoltPersister{}, first)

	start := time.Now()
	second, closeSecond, err := openMemory(cfg, nil, zap.NewNop())
	require.NoError(t, err)
	assert.Nil(t, closeSecond)
	assert.Equal(t, memory.NopPersister{}, second)
	assert.Less(t, time.Since(start), time.Second)

	s := memory.Open(context.Background(), second, nil)
	s.Append(context.Background(), "u1", memory.Turn{Role: memory.RoleUser, Text: "Q1"})
	assert.Len(t, s.History("u1"), 1)
}

func TestOpenMemory_UnknownBackend(t *testing.T) {
	_, _, err := openMemory(config.Config{MemoryBackend: "mongo"}, nil, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MEMORY_BACKEND")
}
