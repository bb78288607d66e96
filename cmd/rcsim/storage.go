package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/rs/zerolog"

	"github.com/potrero/rcsim/internal/config"
	"github.com/potrero/rcsim/internal/database"
	"github.com/potrero/rcsim/internal/model/convert"
	"github.com/potrero/rcsim/internal/storage"
	gormstorage "github.com/potrero/rcsim/internal/storage/gorm"
	"github.com/potrero/rcsim/internal/storage/memory"
)

// ErrUnknownSource is returned for an unsupported obstacles.source value.
var ErrUnknownSource = errors.New("unknown obstacle source")

// openDatabase connects to the database selected by cfg.Source and migrates it.
func openDatabase(cfg config.StorageConfig, zlog zerolog.Logger) (*database.Manager, error) {
	m := database.NewManager(zlog)

	var err error
	switch cfg.Source {
	case "sqlite":
		err = m.OpenSqlite(cfg.SqlitePath, cfg.Map)
	case "postgres":
		err = m.OpenPostgres(cfg.Postgres)
	default:
		return nil, fmt.Errorf("%w: %q has no database", ErrUnknownSource, cfg.Source)
	}
	if err != nil {
		return nil, err
	}

	if err := m.Setup(); err != nil {
		_ = m.Close()
		return nil, err
	}
	return m, nil
}

// seedConfiguredMap writes cfg.Points as the map named cfg.Map.
func seedConfiguredMap(ctx context.Context, m *database.Manager, cfg config.StorageConfig) error {
	obstacleMap := convert.CoreToObstacleMap(cfg.Map, "seeded from "+config.FileName, cfg.Points, map[string]any{
		"source":  "config",
		"version": Version,
	})
	return m.SeedMap(ctx, &obstacleMap)
}

// createStorageBackend returns the obstacle backend for cfg and, for
// database sources, the manager that owns the connection.
func createStorageBackend(ctx context.Context, cfg config.StorageConfig, zlog zerolog.Logger, logger *slog.Logger) (storage.Backend, *database.Manager, error) {
	switch cfg.Source {
	case "", "memory":
		logger.Info("Memory obstacle backend initialized", "obstacles", len(cfg.Points))
		return memory.New(cfg.Points), nil, nil

	case "sqlite", "postgres":
		m, err := openDatabase(cfg, zlog)
		if err != nil {
			return nil, nil, fmt.Errorf("opening %s database: %w", cfg.Source, err)
		}

		// an in-memory database starts empty
		if cfg.Source == "sqlite" && cfg.SqlitePath == "" {
			if err := seedConfiguredMap(ctx, m, cfg); err != nil {
				_ = m.Close()
				return nil, nil, err
			}
		}

		backend := gormstorage.New(gormstorage.Dependencies{
			DB:      m.DB,
			MapName: cfg.Map,
			Logger:  logger,
		})
		logger.Info("Database obstacle backend initialized", "source", cfg.Source, "map", cfg.Map)
		return backend, m, nil

	default:
		return nil, nil, fmt.Errorf("%w: %q", ErrUnknownSource, cfg.Source)
	}
}

// runSeedMap implements the seedmap command.
func runSeedMap(ctx context.Context) error {
	a, err := newApp(ctx, nil)
	if err != nil {
		return err
	}
	defer a.close()

	cfg, err := config.GetStorageConfig()
	if err != nil {
		return err
	}

	m, err := openDatabase(cfg, a.ZLogger)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := seedConfiguredMap(ctx, m, cfg); err != nil {
		return err
	}
	fmt.Printf("seeded map %q with %d obstacles\n", cfg.Map, len(cfg.Points))
	return nil
}
