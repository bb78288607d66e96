package storage

import (
	"context"
	"errors"

	"github.com/potrero/rcsim/pkg/core"
)

// ErrMapNotFound is returned when the configured obstacle map does not exist.
var ErrMapNotFound = errors.New("obstacle map not found")

// Backend is the interface all obstacle sources must satisfy
type Backend interface {
	// Lifecycle
	Init() error
	Close() error

	// LoadObstacles returns the obstacle cells. It is called at simulator
	// start and on every reset.
	LoadObstacles(ctx context.Context) ([]core.Point, error)
}
