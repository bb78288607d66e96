// pkg/core/pose.go
package core

import (
	"math"
	"slices"
	"time"
)

// Position is a point in world coordinates.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Cell returns the integer grid point equal to p. ok is false when either
// coordinate has a fractional part.
func (p Position) Cell() (cell Point, ok bool) {
	if p.X != math.Trunc(p.X) || p.Y != math.Trunc(p.Y) {
		return Point{}, false
	}
	return Point{X: int(p.X), Y: int(p.Y)}, true
}

// Floor returns the grid cell containing p.
func (p Position) Floor() Point {
	return Point{X: int(math.Floor(p.X)), Y: int(math.Floor(p.Y))}
}

// Point is an integer grid coordinate, used for obstacles.
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Position converts the grid point to world coordinates.
func (p Point) Position() Position {
	return Position{X: float64(p.X), Y: float64(p.Y)}
}

// Pose is the vehicle position and heading in degrees.
type Pose struct {
	Position Position `json:"position"`
	Heading  float64  `json:"heading"`
}

// ObstacleSet is an immutable set of grid points. The zero value is empty.
type ObstacleSet struct {
	points map[Point]struct{}
}

// NewObstacleSet builds a set from points. Duplicates collapse.
func NewObstacleSet(points ...Point) ObstacleSet {
	m := make(map[Point]struct{}, len(points))
	for _, p := range points {
		m[p] = struct{}{}
	}
	return ObstacleSet{points: m}
}

// Contains reports whether p is an obstacle.
func (s ObstacleSet) Contains(p Point) bool {
	_, ok := s.points[p]
	return ok
}

// Len returns the number of obstacles.
func (s ObstacleSet) Len() int {
	return len(s.points)
}

// Points returns a sorted copy of the obstacles.
func (s ObstacleSet) Points() []Point {
	out := make([]Point, 0, len(s.points))
	for p := range s.points {
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b Point) int {
		if a.X != b.X {
			return a.X - b.X
		}
		return a.Y - b.Y
	})
	return out
}

// Equal reports whether both sets hold the same points.
func (s ObstacleSet) Equal(other ObstacleSet) bool {
	if s.Len() != other.Len() {
		return false
	}
	for p := range s.points {
		if !other.Contains(p) {
			return false
		}
	}
	return true
}

// Snapshot is a point-in-time copy of simulator state published on the
// odometry topic. It never aliases live simulator state.
type Snapshot struct {
	Position  Position  `json:"position"`
	Heading   float64   `json:"heading"`
	Obstacles []Point   `json:"obstacles"`
	Timestamp time.Time `json:"timestamp"`
}

// Pose returns the pose part of the snapshot.
func (s Snapshot) Pose() Pose {
	return Pose{Position: s.Position, Heading: s.Heading}
}

// DefaultObstacles returns the obstacle cells used when no map is configured.
func DefaultObstacles() []Point {
	return []Point{{X: 1, Y: 2}, {X: 4, Y: 3}, {X: -6, Y: 7}}
}
