// Package viewer draws odometry snapshots as a text map on a terminal screen.
package viewer

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/gdamore/tcell/v2"

	"github.com/potrero/rcsim/internal/dispatcher"
	"github.com/potrero/rcsim/internal/queue"
	"github.com/potrero/rcsim/internal/world"
	"github.com/potrero/rcsim/pkg/core"
)

// MaxNotices is the number of recent notices shown under the map.
const MaxNotices = 3

var (
	styleDefault  = tcell.StyleDefault
	styleVehicle  = tcell.StyleDefault.Foreground(tcell.ColorGreen).Bold(true)
	styleObstacle = tcell.StyleDefault.Foreground(tcell.ColorRed)
	styleWarn     = tcell.StyleDefault.Foreground(tcell.ColorYellow)
	styleError    = tcell.StyleDefault.Foreground(tcell.ColorRed)
)

// Viewer renders the latest snapshot to a tcell screen.
type Viewer struct {
	screen  tcell.Screen
	bounds  world.Bounds
	notices *queue.Queue[core.Notice]
	logger  *slog.Logger

	mu     sync.Mutex
	status func() string
	frames uint64
}

// New creates a viewer drawing on screen.
func New(screen tcell.Screen, bounds world.Bounds, logger *slog.Logger) *Viewer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Viewer{
		screen:  screen,
		bounds:  bounds,
		notices: queue.New[core.Notice](MaxNotices),
		logger:  logger.With("component", "viewer"),
	}
}

// SetStatus installs a callback whose result is drawn on the last line.
func (v *Viewer) SetStatus(status func() string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.status = status
}

// Subscribe draws every odometry snapshot, skipping stale ones when drawing
// falls behind, and records simulator notices.
func (v *Viewer) Subscribe(d *dispatcher.Dispatcher) {
	d.Subscribe(core.TopicOdometry, func(e dispatcher.Event) error {
		snap, ok := e.Payload.(core.Snapshot)
		if !ok {
			return fmt.Errorf("viewer: unexpected odometry payload %T", e.Payload)
		}
		v.Draw(snap)
		return nil
	}, dispatcher.Latest())

	d.Subscribe(core.TopicNotice, func(e dispatcher.Event) error {
		n, ok := e.Payload.(core.Notice)
		if !ok {
			return fmt.Errorf("viewer: unexpected notice payload %T", e.Payload)
		}
		v.AddNotice(n)
		return nil
	}, dispatcher.Buffered(16))
}

// AddNotice records a notice, keeping only the most recent ones.
func (v *Viewer) AddNotice(n core.Notice) {
	v.logger.Debug("notice", "level", n.Level, "message", n.Message)
	v.notices.Push(n)
}

// Notices returns the retained notices, oldest first.
func (v *Viewer) Notices() []core.Notice {
	return v.notices.Items()
}

// Frames returns the number of frames drawn.
func (v *Viewer) Frames() uint64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.frames
}

// Draw replaces the screen contents with the map for snap.
func (v *Viewer) Draw(snap core.Snapshot) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.screen.Clear()
	row := 0
	for _, line := range Header {
		v.drawLine(row, line, func(rune) tcell.Style { return styleDefault })
		row++
	}
	for _, line := range Render(snap, v.bounds) {
		v.drawLine(row, line, cellStyle)
		row++
	}
	row++
	for _, n := range v.notices.Items() {
		style := noticeStyle(n.Level)
		v.drawLine(row, FormatNotice(n), func(rune) tcell.Style { return style })
		row++
	}
	if v.status != nil {
		v.drawLine(row+1, v.status(), func(rune) tcell.Style { return styleDefault })
	}

	v.screen.Show()
	v.frames++
}

func (v *Viewer) drawLine(y int, line string, style func(rune) tcell.Style) {
	x := 0
	for _, r := range line {
		v.screen.SetContent(x, y, r, nil, style(r))
		x++
	}
}

func cellStyle(r rune) tcell.Style {
	switch r {
	case cellObstacle:
		return styleObstacle
	case '^', '>', 'v', '<':
		return styleVehicle
	default:
		return styleDefault
	}
}

func noticeStyle(level core.NoticeLevel) tcell.Style {
	switch level {
	case core.NoticeWarn:
		return styleWarn
	case core.NoticeError:
		return styleError
	default:
		return styleDefault
	}
}
