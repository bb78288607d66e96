// Package convert provides functions to convert between GORM models and core models
package convert

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"

	geom "github.com/peterstace/simplefeatures/geom"
	"gorm.io/datatypes"

	"github.com/potrero/rcsim/internal/model"
	"github.com/potrero/rcsim/pkg/core"
)

// ErrInvalidLocation is returned for obstacle locations that are not grid cells.
var ErrInvalidLocation = errors.New("obstacle location is not a grid cell")

// pointToGeom converts a grid cell to a 2D geom.Point
func pointToGeom(p core.Point) geom.Point {
	coords := geom.Coordinates{XY: geom.XY{X: float64(p.X), Y: float64(p.Y)}, Type: geom.DimXY}
	return geom.NewPoint(coords)
}

// CoreToObstacle converts a grid cell to a GORM model.Obstacle.
func CoreToObstacle(p core.Point) model.Obstacle {
	return model.Obstacle{Location: pointToGeom(p)}
}

// ObstacleToCore converts a GORM model.Obstacle back to a grid cell.
// Empty or fractional locations are rejected.
func ObstacleToCore(o model.Obstacle) (core.Point, error) {
	coord, ok := o.Location.Coordinates()
	if !ok {
		return core.Point{}, fmt.Errorf("%w: obstacle %d is empty", ErrInvalidLocation, o.ID)
	}
	x, y := coord.XY.X, coord.XY.Y
	if x != math.Trunc(x) || y != math.Trunc(y) || math.IsInf(x, 0) || math.IsInf(y, 0) {
		return core.Point{}, fmt.Errorf("%w: obstacle %d at (%v, %v)", ErrInvalidLocation, o.ID, x, y)
	}
	return core.Point{X: int(x), Y: int(y)}, nil
}

// CoreToObstacleMap builds a map model from grid cells. meta may be nil.
func CoreToObstacleMap(name, description string, points []core.Point, meta map[string]any) model.ObstacleMap {
	m := model.ObstacleMap{
		Name:        name,
		Description: description,
		Meta:        metaToJSON(meta),
		Obstacles:   make([]model.Obstacle, 0, len(points)),
	}
	for _, p := range points {
		m.Obstacles = append(m.Obstacles, CoreToObstacle(p))
	}
	return m
}

// ObstacleMapToCore returns the grid cells of a map model.
func ObstacleMapToCore(m model.ObstacleMap) ([]core.Point, error) {
	points := make([]core.Point, 0, len(m.Obstacles))
	for _, o := range m.Obstacles {
		p, err := ObstacleToCore(o)
		if err != nil {
			return nil, fmt.Errorf("map %q: %w", m.Name, err)
		}
		points = append(points, p)
	}
	return points, nil
}

// metaToJSON converts free-form map metadata to datatypes.JSON for DB storage.
func metaToJSON(meta map[string]any) datatypes.JSON {
	if len(meta) == 0 {
		return datatypes.JSON("{}")
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return datatypes.JSON("{}")
	}
	return datatypes.JSON(data)
}
