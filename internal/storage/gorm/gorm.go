// Package gormstorage loads obstacle maps from a SQL database through GORM.
package gormstorage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"gorm.io/gorm"

	"github.com/potrero/rcsim/internal/model"
	"github.com/potrero/rcsim/internal/model/convert"
	"github.com/potrero/rcsim/internal/storage"
	"github.com/potrero/rcsim/pkg/core"
)

// ErrNoDatabase is returned when the backend was created without a database.
var ErrNoDatabase = errors.New("no database")

// Dependencies holds the collaborators of the backend.
type Dependencies struct {
	DB      *gorm.DB
	MapName string
	Logger  *slog.Logger
}

// Backend reads one named obstacle map. The database is owned by the caller.
type Backend struct {
	db      *gorm.DB
	mapName string
	logger  *slog.Logger
}

// New creates a new GORM obstacle backend.
func New(deps Dependencies) *Backend {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Backend{
		db:      deps.DB,
		mapName: deps.MapName,
		logger:  logger.With("component", "storage", "map", deps.MapName),
	}
}

// Init checks that the schema is present.
func (b *Backend) Init() error {
	if b.db == nil {
		return ErrNoDatabase
	}
	if !b.db.Migrator().HasTable(&model.ObstacleMap{}) {
		return fmt.Errorf("table %s missing, run migrations", (&model.ObstacleMap{}).TableName())
	}
	return nil
}

// Close is a no-op; the database manager closes the connection.
func (b *Backend) Close() error {
	return nil
}

// LoadObstacles reads the configured map and its obstacles.
func (b *Backend) LoadObstacles(ctx context.Context) ([]core.Point, error) {
	if b.db == nil {
		return nil, ErrNoDatabase
	}

	var m model.ObstacleMap
	err := b.db.WithContext(ctx).
		Preload("Obstacles").
		Where("name = ?", b.mapName).
		Limit(1).
		Find(&m).Error
	if err != nil {
		return nil, fmt.Errorf("loading map %q: %w", b.mapName, err)
	}
	if m.ID == 0 {
		return nil, fmt.Errorf("%w: %q", storage.ErrMapNotFound, b.mapName)
	}

	points, err := convert.ObstacleMapToCore(m)
	if err != nil {
		return nil, err
	}
	b.logger.Debug("loaded obstacle map", "obstacles", len(points))
	return points, nil
}
