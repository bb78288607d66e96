package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/glebarez/sqlite"
	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/potrero/rcsim/internal/model"
)

// ErrNotConnected is returned when the manager has no open database.
var ErrNotConnected = errors.New("database not connected")

// PostgresConfig holds Postgres connection settings.
type PostgresConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	Database string
	SSLMode  string
}

// DSN returns the connection string.
func (c PostgresConfig) DSN() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf(`host=%s port=%s user=%s password=%s dbname=%s sslmode=%s`,
		c.Host, c.Port, c.Username, c.Password, c.Database, sslMode)
}

// Manager handles database connections and operations.
type Manager struct {
	DB     *gorm.DB
	SqlDB  *sql.DB
	Logger zerolog.Logger
}

// NewManager creates a new database manager.
func NewManager(log zerolog.Logger) *Manager {
	return &Manager{Logger: log}
}

// OpenPostgres connects to Postgres and validates the connection.
func (m *Manager) OpenPostgres(cfg PostgresConfig) error {
	m.Logger.Debug().Str("host", cfg.Host).Str("database", cfg.Database).Msg("Connecting to Postgres DB")

	db, err := gorm.Open(postgres.New(postgres.Config{
		DSN:                  cfg.DSN(),
		PreferSimpleProtocol: true,
	}), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return fmt.Errorf("failed to open postgres: %w", err)
	}
	if err := m.attach(db); err != nil {
		return err
	}
	m.SqlDB.SetMaxOpenConns(4)
	m.Logger.Info().Msg("Connected to Postgres DB")
	return nil
}

// OpenSqlite opens a SQLite database at path. An empty path opens a shared
// in-memory database named after name.
func (m *Manager) OpenSqlite(path, name string) error {
	dsn := path
	if dsn == "" {
		if name == "" {
			name = "rcsim"
		}
		dsn = fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return fmt.Errorf("failed to open sqlite: %w", err)
	}

	// set PRAGMAS
	pragmas := []string{
		"PRAGMA foreign_keys = ON;",
		"PRAGMA journal_mode = MEMORY;",
		"PRAGMA synchronous = OFF;",
	}
	for _, pragma := range pragmas {
		if err := db.Exec(pragma).Error; err != nil {
			return fmt.Errorf("error setting PRAGMA: %w", err)
		}
	}

	if err := m.attach(db); err != nil {
		return err
	}
	if path == "" {
		// Every pooled connection must see the same in-memory database.
		m.SqlDB.SetMaxOpenConns(1)
		m.Logger.Info().Msg("Using local SQLite DB in memory")
	} else {
		m.Logger.Info().Str("path", path).Msg("Using local SQLite DB")
	}
	return nil
}

func (m *Manager) attach(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to access sql interface: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return fmt.Errorf("failed to validate connection: %w", err)
	}
	m.DB = db
	m.SqlDB = sqlDB
	return nil
}

// Setup migrates the schema.
func (m *Manager) Setup() error {
	if m.DB == nil {
		return ErrNotConnected
	}
	m.Logger.Info().Msg("Migrating schema")
	if err := m.DB.AutoMigrate(model.DatabaseModels...); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	m.Logger.Info().Msg("Database setup complete")
	return nil
}

// SeedMap writes obstacleMap, replacing the obstacles of an existing map
// with the same name.
func (m *Manager) SeedMap(ctx context.Context, obstacleMap *model.ObstacleMap) error {
	if m.DB == nil {
		return ErrNotConnected
	}
	return m.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing model.ObstacleMap
		err := tx.Where("name = ?", obstacleMap.Name).Limit(1).Find(&existing).Error
		if err != nil {
			return fmt.Errorf("looking up map %q: %w", obstacleMap.Name, err)
		}

		if existing.ID != 0 {
			if err := tx.Unscoped().Where("map_id = ?", existing.ID).Delete(&model.Obstacle{}).Error; err != nil {
				return fmt.Errorf("clearing map %q: %w", obstacleMap.Name, err)
			}
			obstacleMap.ID = existing.ID
			obstacleMap.CreatedAt = existing.CreatedAt
		}

		if err := tx.Omit(clause.Associations).Save(obstacleMap).Error; err != nil {
			return fmt.Errorf("saving map %q: %w", obstacleMap.Name, err)
		}
		for i := range obstacleMap.Obstacles {
			obstacleMap.Obstacles[i].ID = 0
			obstacleMap.Obstacles[i].MapID = obstacleMap.ID
		}
		if len(obstacleMap.Obstacles) > 0 {
			if err := tx.Create(&obstacleMap.Obstacles).Error; err != nil {
				return fmt.Errorf("saving obstacles of %q: %w", obstacleMap.Name, err)
			}
		}

		m.Logger.Info().Str("map", obstacleMap.Name).Int("obstacles", len(obstacleMap.Obstacles)).Msg("Seeded obstacle map")
		return nil
	})
}

// Close closes the underlying connection pool.
func (m *Manager) Close() error {
	if m.SqlDB == nil {
		return nil
	}
	err := m.SqlDB.Close()
	m.DB = nil
	m.SqlDB = nil
	return err
}
