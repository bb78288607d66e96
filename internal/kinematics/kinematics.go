// Package kinematics maps drive commands onto candidate poses.
// Everything here is pure; validation against the world happens elsewhere.
package kinematics

import (
	"math"
	"strconv"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/potrero/rcsim/pkg/core"
)

// HeadingIncrement scales a unit turn deflection into degrees.
const HeadingIncrement = 90.0

const degToRad = math.Pi / 180.0

// NormalizeHeading folds h into [0, 360). The result is congruent to h mod 360.
func NormalizeHeading(h float64) float64 {
	h = math.Mod(h, 360)
	if h < 0 {
		h += 360
	}
	// -1e-14 + 360 rounds to exactly 360.
	if h >= 360 || h == 0 {
		return 0
	}
	return h
}

// RoundTenth rounds v to one decimal place. Ties are resolved on the exact
// binary value, half to even, which is what decimal formatting does.
func RoundTenth(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return v
	}
	r, err := strconv.ParseFloat(strconv.FormatFloat(v, 'f', 1, 64), 64)
	if err != nil {
		return v
	}
	return r
}

// Direction returns the unit step for a heading in degrees. Heading 0 points
// to -Y and 90 points to +X.
func Direction(heading float64) mgl64.Vec2 {
	rad := heading * degToRad
	return mgl64.Vec2{math.Sin(rad), -math.Cos(rad)}
}

// Integrate applies cmd to pose and returns the candidate pose. Turn channels
// change heading only, translate channels change position only. Unknown
// channels return pose unchanged.
func Integrate(pose core.Pose, cmd core.DriveCommand, headingIncrement float64) core.Pose {
	next := pose

	switch {
	case cmd.Channel.IsTurn():
		next.Heading = NormalizeHeading(pose.Heading + cmd.Deflection*headingIncrement)

	case cmd.Channel.IsTranslate():
		step := Direction(pose.Heading).Mul(cmd.Deflection)
		next.Position = core.Position{
			X: RoundTenth(pose.Position.X + step.X()),
			Y: RoundTenth(pose.Position.Y + step.Y()),
		}
	}

	return next
}
