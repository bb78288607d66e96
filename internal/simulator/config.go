package simulator

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/potrero/rcsim/internal/kinematics"
	"github.com/potrero/rcsim/internal/world"
	"github.com/potrero/rcsim/pkg/core"
)

// ErrInvalidConfig is returned by Config.Validate.
var ErrInvalidConfig = errors.New("invalid simulator config")

// Config holds the simulator constants.
type Config struct {
	Bounds           world.Bounds
	InitialPose      core.Pose
	HeadingIncrement float64
	PublishInterval  time.Duration
}

// DefaultConfig returns bounds [-10, 10], start (0, 0) facing 90 degrees,
// a 90 degree heading increment and a 20 Hz publish rate.
func DefaultConfig() Config {
	return Config{
		Bounds: world.DefaultBounds(),
		InitialPose: core.Pose{
			Position: core.Position{X: 0, Y: 0},
			Heading:  90,
		},
		HeadingIncrement: kinematics.HeadingIncrement,
		PublishInterval:  50 * time.Millisecond,
	}
}

// Validate checks that the initial pose is legal and every constant is usable.
func (c Config) Validate() error {
	if err := c.Bounds.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if !c.Bounds.Contains(c.InitialPose.Position) {
		return fmt.Errorf("%w: initial position %+v outside bounds", ErrInvalidConfig, c.InitialPose.Position)
	}
	h := c.InitialPose.Heading
	if math.IsNaN(h) || h < 0 || h >= 360 {
		return fmt.Errorf("%w: initial heading %v not in [0, 360)", ErrInvalidConfig, h)
	}
	if math.IsNaN(c.HeadingIncrement) || math.IsInf(c.HeadingIncrement, 0) {
		return fmt.Errorf("%w: heading increment %v", ErrInvalidConfig, c.HeadingIncrement)
	}
	if c.PublishInterval <= 0 {
		return fmt.Errorf("%w: publish interval %v", ErrInvalidConfig, c.PublishInterval)
	}
	return nil
}
