package main

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/potrero/rcsim/internal/config"
	"github.com/potrero/rcsim/pkg/core"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCreateStorageBackend_Memory(t *testing.T) {
	cfg := config.StorageConfig{Source: "memory", Points: core.DefaultObstacles()}

	backend, m, err := createStorageBackend(context.Background(), cfg, zerolog.Nop(), quietLogger())
	require.NoError(t, err)
	assert.Nil(t, m)
	require.NoError(t, backend.Init())

	points, err := backend.LoadObstacles(context.Background())
	require.NoError(t, err)
	assert.Equal(t, core.DefaultObstacles(), points)
}

func TestCreateStorageBackend_InMemorySqliteIsSeeded(t *testing.T) {
	cfg := config.StorageConfig{
		Source: "sqlite",
		Map:    t.Name(),
		Points: []core.Point{{X: 0, Y: 3}, {X: -2, Y: -2}},
	}

	backend, m, err := createStorageBackend(context.Background(), cfg, zerolog.Nop(), quietLogger())
	require.NoError(t, err)
	require.NotNil(t, m)
	t.Cleanup(func() { _ = m.Close() })
	require.NoError(t, backend.Init())

	points, err := backend.LoadObstacles(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, cfg.Points, points)
}

func TestSeedConfiguredMap_FileSqlite(t *testing.T) {
	cfg := config.StorageConfig{
		Source:     "sqlite",
		Map:        "yard",
		Points:     core.DefaultObstacles(),
		SqlitePath: filepath.Join(t.TempDir(), "rcsim.db"),
	}

	m, err := openDatabase(cfg, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, seedConfiguredMap(context.Background(), m, cfg))
	require.NoError(t, m.Close())

	backend, m, err := createStorageBackend(context.Background(), cfg, zerolog.Nop(), quietLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })

	points, err := backend.LoadObstacles(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, core.DefaultObstacles(), points)
}

func TestCreateStorageBackend_UnknownSource(t *testing.T) {
	_, _, err := createStorageBackend(context.Background(), config.StorageConfig{Source: "redis"}, zerolog.Nop(), quietLogger())
	assert.ErrorIs(t, err, ErrUnknownSource)
}

func TestOpenDatabase_MemoryHasNoDatabase(t *testing.T) {
	_, err := openDatabase(config.StorageConfig{Source: "memory"}, zerolog.Nop())
	assert.ErrorIs(t, err, ErrUnknownSource)
}
