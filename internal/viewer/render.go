package viewer

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/potrero/rcsim/internal/world"
	"github.com/potrero/rcsim/pkg/core"
)

const (
	cellEmpty    = '-'
	cellObstacle = 'X'
	rowPrefix    = "   |"
	rowSuffix    = "|   "
	footerLabel  = "[(position)  ,  Heading ]"
)

// Header is printed above the map.
var Header = []string{
	"# Welcome to the next-gen rcsim UI.",
	"# Here is a 2D map of your vehicle in the world.",
}

// HeadingChar returns the arrow drawn for a heading. Anything that is not
// exactly east, south or west draws as north.
func HeadingChar(heading float64) rune {
	switch heading {
	case 90:
		return '>'
	case 180:
		return 'v'
	case 270:
		return '<'
	default:
		return '^'
	}
}

// Render draws the grid for every integer cell inside bounds, one row per y,
// followed by the footer lines. The vehicle occupies the cell containing its
// position and hides an obstacle in the same cell.
func Render(snap core.Snapshot, bounds world.Bounds) []string {
	lo := int(math.Ceil(bounds.Min))
	hi := int(math.Floor(bounds.Max))
	vehicle := snap.Position.Floor()

	obstacles := make(map[core.Point]struct{}, len(snap.Obstacles))
	for _, p := range snap.Obstacles {
		obstacles[p] = struct{}{}
	}

	lines := make([]string, 0, hi-lo+3)
	var b strings.Builder
	for y := lo; y <= hi; y++ {
		b.Reset()
		b.WriteString(rowPrefix)
		for x := lo; x <= hi; x++ {
			p := core.Point{X: x, Y: y}
			switch {
			case p == vehicle:
				b.WriteRune(HeadingChar(snap.Heading))
			case contains(obstacles, p):
				b.WriteRune(cellObstacle)
			default:
				b.WriteRune(cellEmpty)
			}
		}
		b.WriteString(rowSuffix)
		lines = append(lines, b.String())
	}

	lines = append(lines, footerLabel, FormatPose(snap.Pose()))
	return lines
}

// FormatPose renders the footer value line, e.g. "[(1.0,0.0) , 90.0]    ".
func FormatPose(p core.Pose) string {
	return fmt.Sprintf("[(%s,%s) , %s]    ",
		formatFloat(p.Position.X), formatFloat(p.Position.Y), formatFloat(p.Heading))
}

// formatFloat prints the shortest representation with at least one decimal.
func formatFloat(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if math.IsInf(v, 0) || math.IsNaN(v) || strings.Contains(s, ".") {
		return s
	}
	return s + ".0"
}

// FormatNotice renders a notice for the log area below the map.
func FormatNotice(n core.Notice) string {
	return fmt.Sprintf("%s %-5s :: %s", n.Timestamp.Format("15:04:05"), strings.ToUpper(string(n.Level)), n.Message)
}

func contains(set map[core.Point]struct{}, p core.Point) bool {
	_, ok := set[p]
	return ok
}
