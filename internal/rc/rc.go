// Package rc turns arrow keys into drive commands and publishes the most
// recent one on a fixed period.
package rc

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/gdamore/tcell/v2"

	"github.com/potrero/rcsim/internal/channel"
	"github.com/potrero/rcsim/pkg/core"
)

// DefaultInterval is the command publish period (10 Hz).
const DefaultInterval = 100 * time.Millisecond

// Direction is an arrow key meaning.
type Direction int

const (
	Left Direction = iota
	Right
	Forward
	Backward
)

var labels = [...]string{"L", "R", "F", "B"}

// Label returns the one-letter key label.
func (d Direction) Label() string {
	if d < Left || d > Backward {
		return "?"
	}
	return labels[d]
}

func (d Direction) String() string {
	switch d {
	case Left:
		return "left"
	case Right:
		return "right"
	case Forward:
		return "forward"
	case Backward:
		return "backward"
	default:
		return fmt.Sprintf("direction(%d)", int(d))
	}
}

// CommandFor maps a direction to its drive command. Turns use full
// deflection, translations half.
func CommandFor(d Direction) core.DriveCommand {
	switch d {
	case Left:
		return core.DriveCommand{Channel: core.TrackLeft, Deflection: -1.0}
	case Right:
		return core.DriveCommand{Channel: core.TrackRight, Deflection: 1.0}
	case Forward:
		return core.DriveCommand{Channel: core.TrackForward, Deflection: 0.5}
	case Backward:
		return core.DriveCommand{Channel: core.TrackBackward, Deflection: -0.5}
	default:
		return core.DriveCommand{}
	}
}

// DirectionForKey maps an arrow key to a direction.
func DirectionForKey(k tcell.Key) (Direction, bool) {
	switch k {
	case tcell.KeyLeft:
		return Left, true
	case tcell.KeyRight:
		return Right, true
	case tcell.KeyUp:
		return Forward, true
	case tcell.KeyDown:
		return Backward, true
	default:
		return 0, false
	}
}

// Publisher sends a payload on a topic.
type Publisher interface {
	Publish(topic string, payload any) error
}

// Controller collects key presses and publishes at most one command per tick.
// Presses between two ticks collapse into the last one.
type Controller struct {
	publisher Publisher
	interval  time.Duration
	logger    *slog.Logger

	pending channel.Mailbox[Direction]

	// -1 until the first command is sent.
	last atomic.Int32
	sent atomic.Uint64
}

// NewController creates a controller. A non-positive interval uses DefaultInterval.
func NewController(publisher Publisher, interval time.Duration, logger *slog.Logger) *Controller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := &Controller{
		publisher: publisher,
		interval:  interval,
		logger:    logger.With("component", "rc"),
		pending:   channel.NewLatest[Direction](),
	}
	c.last.Store(-1)
	return c
}

// Press records a direction for the next tick.
func (c *Controller) Press(d Direction) {
	c.pending.Send(d)
}

// HandleKey records arrow keys and reports whether the key asks to quit.
func (c *Controller) HandleKey(ev *tcell.EventKey) (quit bool) {
	switch ev.Key() {
	case tcell.KeyEscape, tcell.KeyCtrlC:
		return true
	case tcell.KeyRune:
		return ev.Rune() == 'q' || ev.Rune() == 'Q'
	}
	if d, ok := DirectionForKey(ev.Key()); ok {
		c.Press(d)
	}
	return false
}

// ListenKeys reads screen events until the screen is finalized or ctx is
// done, calling quit once when a quit key is pressed.
func (c *Controller) ListenKeys(ctx context.Context, screen tcell.Screen, quit func()) {
	for {
		ev := screen.PollEvent()
		if ev == nil {
			return
		}
		switch ev := ev.(type) {
		case *tcell.EventKey:
			if c.HandleKey(ev) {
				c.logger.Info("quit requested")
				quit()
				return
			}
		case *tcell.EventResize:
			screen.Sync()
		}
		if ctx.Err() != nil {
			return
		}
	}
}

// Run publishes the pending direction once per interval until ctx is done.
// Presses after Run returns are ignored.
func (c *Controller) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	defer c.pending.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := c.flush(); err != nil {
				return err
			}
		}
	}
}

func (c *Controller) flush() error {
	d, ok := c.pending.TryReceive()
	if !ok {
		return nil
	}
	cmd := CommandFor(d)
	if err := c.publisher.Publish(core.TopicDriveCommand, cmd); err != nil {
		return fmt.Errorf("publishing %s command: %w", d, err)
	}
	c.last.Store(int32(d))
	c.sent.Add(1)
	c.logger.Debug("command sent", "joystick", cmd.Channel, "deflection", cmd.Deflection)
	return nil
}

// LastDirection returns the most recently published direction.
func (c *Controller) LastDirection() (Direction, bool) {
	v := c.last.Load()
	if v < 0 {
		return 0, false
	}
	return Direction(v), true
}

// Sent returns the number of published commands.
func (c *Controller) Sent() uint64 {
	return c.sent.Load()
}
