// Package world classifies candidate positions against the world bounds and
// the static obstacle set.
package world

import (
	"errors"
	"fmt"
	"math"

	"github.com/potrero/rcsim/pkg/core"
)

var (
	// ErrOutOfBounds is reported when a candidate leaves the world. It triggers a reset.
	ErrOutOfBounds = errors.New("position outside world bounds")

	// ErrObstacleCollision is reported when a candidate lands on an obstacle.
	ErrObstacleCollision = errors.New("position collides with obstacle")

	// ErrInvalidBounds is returned by Bounds.Validate.
	ErrInvalidBounds = errors.New("invalid world bounds")
)

// Bounds is a closed interval applied to both axes.
type Bounds struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// DefaultBounds returns [-10, 10].
func DefaultBounds() Bounds {
	return Bounds{Min: -10, Max: 10}
}

// Validate checks that the interval is finite and not inverted.
func (b Bounds) Validate() error {
	if math.IsNaN(b.Min) || math.IsNaN(b.Max) || math.IsInf(b.Min, 0) || math.IsInf(b.Max, 0) {
		return fmt.Errorf("%w: non-finite edge [%v, %v]", ErrInvalidBounds, b.Min, b.Max)
	}
	if b.Min > b.Max {
		return fmt.Errorf("%w: min %v > max %v", ErrInvalidBounds, b.Min, b.Max)
	}
	return nil
}

// Contains reports whether both coordinates lie inside the interval, edges included.
func (b Bounds) Contains(p core.Position) bool {
	return b.containsAxis(p.X) && b.containsAxis(p.Y)
}

func (b Bounds) containsAxis(v float64) bool {
	return v >= b.Min && v <= b.Max
}

// Outcome is the classification of a candidate position.
type Outcome int

const (
	Accepted Outcome = iota
	Blocked
	OutOfBounds
)

func (o Outcome) String() string {
	switch o {
	case Accepted:
		return "accepted"
	case Blocked:
		return "blocked"
	case OutOfBounds:
		return "out_of_bounds"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Err returns the sentinel error for rejected outcomes, nil for Accepted.
func (o Outcome) Err() error {
	switch o {
	case Blocked:
		return ErrObstacleCollision
	case OutOfBounds:
		return ErrOutOfBounds
	default:
		return nil
	}
}

// Validate classifies pos. Bounds are checked first, so a position that is
// both outside the world and on an obstacle is OutOfBounds.
func Validate(pos core.Position, bounds Bounds, obstacles core.ObstacleSet) Outcome {
	if !bounds.Contains(pos) {
		return OutOfBounds
	}
	if cell, ok := pos.Cell(); ok && obstacles.Contains(cell) {
		return Blocked
	}
	return Accepted
}
