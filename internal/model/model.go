package model

import (
	geom "github.com/peterstace/simplefeatures/geom"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

////////////////////////
// DATABASE STRUCTURES //
////////////////////////

// DatabaseModels is a list of all the structs exported here which represent tables in the database schema
var DatabaseModels = []any{
	&ObstacleMap{},
	&Obstacle{},
}

// ObstacleMap is a named set of obstacles the simulator can load
type ObstacleMap struct {
	gorm.Model
	Name        string         `json:"name" gorm:"size:64;uniqueIndex"`
	Description string         `json:"description" gorm:"size:255"`
	Meta        datatypes.JSON `json:"meta"`
	Obstacles   []Obstacle     `json:"obstacles" gorm:"foreignKey:MapID;constraint:OnDelete:CASCADE"`
}

func (*ObstacleMap) TableName() string {
	return "obstacle_maps"
}

// Obstacle is a single blocked grid cell
type Obstacle struct {
	gorm.Model
	MapID    uint       `json:"mapId" gorm:"index:idx_obstacle_map_id"`
	Location geom.Point `json:"location"` // Grid cell as 2D point
}

func (*Obstacle) TableName() string {
	return "obstacles"
}
