// Package memory serves a fixed obstacle list held in memory.
package memory

import (
	"context"
	"slices"
	"sync/atomic"

	"github.com/potrero/rcsim/pkg/core"
)

// Backend returns the same obstacle cells on every load.
type Backend struct {
	points []core.Point
	loads  atomic.Uint64
}

// New creates a backend serving a copy of points.
func New(points []core.Point) *Backend {
	return &Backend{points: slices.Clone(points)}
}

// Init is a no-op.
func (b *Backend) Init() error {
	return nil
}

// Close is a no-op.
func (b *Backend) Close() error {
	return nil
}

// LoadObstacles returns a copy of the configured cells.
func (b *Backend) LoadObstacles(ctx context.Context) ([]core.Point, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.loads.Add(1)
	return slices.Clone(b.points), nil
}

// Loads returns how many times the obstacles were loaded.
func (b *Backend) Loads() uint64 {
	return b.loads.Load()
}
