// Package simulator owns the vehicle state. It applies drive commands through
// the kinematics engine and the world validator, and publishes settled
// snapshots on a fixed period.
package simulator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/potrero/rcsim/internal/dispatcher"
	"github.com/potrero/rcsim/internal/kinematics"
	"github.com/potrero/rcsim/internal/world"
	"github.com/potrero/rcsim/pkg/core"
)

// ErrUnexpectedPayload is returned when a drive command event carries the wrong type.
var ErrUnexpectedPayload = errors.New("unexpected payload")

// ObstacleLoader provides the static obstacle set.
type ObstacleLoader interface {
	LoadObstacles(ctx context.Context) ([]core.Point, error)
}

// Publisher sends a payload on a topic.
type Publisher interface {
	Publish(topic string, payload any) error
}

type listenerChecker interface {
	HasSubscribers(topic string) bool
}

// Stats are running totals since construction.
type Stats struct {
	Applied   uint64
	Blocked   uint64
	Rejected  uint64
	Resets    uint64
	Published uint64
}

// Simulator holds the pose and obstacle set. Commands are applied one at a
// time; readers always see a pose between two commands, never inside one.
type Simulator struct {
	cfg       Config
	loader    ObstacleLoader
	publisher Publisher
	logger    *slog.Logger
	metrics   *metrics
	now       func() time.Time

	// cmdMu serializes command handling and resets.
	cmdMu sync.Mutex

	mu        sync.RWMutex
	pose      core.Pose
	obstacles core.ObstacleSet

	applied   atomic.Uint64
	blocked   atomic.Uint64
	rejected  atomic.Uint64
	resets    atomic.Uint64
	published atomic.Uint64
}

// New validates cfg and loads the initial obstacle set.
func New(ctx context.Context, cfg Config, loader ObstacleLoader, publisher Publisher, logger *slog.Logger) (*Simulator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	m, err := newMetrics()
	if err != nil {
		return nil, err
	}

	points, err := loader.LoadObstacles(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading obstacles: %w", err)
	}

	s := &Simulator{
		cfg:       cfg,
		loader:    loader,
		publisher: publisher,
		logger:    logger.With("component", "simulator"),
		metrics:   m,
		now:       time.Now,
		pose:      cfg.InitialPose,
		obstacles: core.NewObstacleSet(points...),
	}

	s.logger.Info("simulator ready",
		"position", cfg.InitialPose.Position,
		"heading", cfg.InitialPose.Heading,
		"obstacles", s.obstacles.Len(),
		"bounds", cfg.Bounds)

	return s, nil
}

// Config returns the simulator constants.
func (s *Simulator) Config() Config {
	return s.cfg
}

// Pose returns the current pose.
func (s *Simulator) Pose() core.Pose {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pose
}

// Obstacles returns the current obstacle set.
func (s *Simulator) Obstacles() core.ObstacleSet {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.obstacles
}

// Snapshot returns a copy of the settled state.
func (s *Simulator) Snapshot() core.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return core.Snapshot{
		Position:  s.pose.Position,
		Heading:   s.pose.Heading,
		Obstacles: s.obstacles.Points(),
		Timestamp: s.now(),
	}
}

// Stats returns the running totals.
func (s *Simulator) Stats() Stats {
	return Stats{
		Applied:   s.applied.Load(),
		Blocked:   s.blocked.Load(),
		Rejected:  s.rejected.Load(),
		Resets:    s.resets.Load(),
		Published: s.published.Load(),
	}
}

// HandleCommand applies one drive command. A non-nil error means the command
// was invalid and nothing changed; the outcome is then meaningless. Blocked
// and out of bounds moves are not errors: they are reported through the
// outcome, and out of bounds has already reset the simulation on return.
func (s *Simulator) HandleCommand(ctx context.Context, cmd core.DriveCommand) (world.Outcome, error) {
	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()

	if err := cmd.Validate(); err != nil {
		s.rejected.Add(1)
		s.metrics.command("rejected")
		s.logger.Warn("rejected drive command",
			"joystick", cmd.Channel, "deflection", cmd.Deflection, "error", err)
		s.notify(core.NoticeWarn, "rejected command: %v", err)
		return world.Accepted, err
	}

	pose := s.Pose()
	candidate := kinematics.Integrate(pose, cmd, s.cfg.HeadingIncrement)

	// Heading has no bounds or obstacles.
	if cmd.Channel.IsTurn() {
		s.mu.Lock()
		s.pose.Heading = candidate.Heading
		s.mu.Unlock()
		s.applied.Add(1)
		s.metrics.outcome(world.Accepted)
		s.logger.Debug("heading updated", "heading", candidate.Heading)
		return world.Accepted, nil
	}

	outcome := world.Validate(candidate.Position, s.cfg.Bounds, s.Obstacles())
	s.metrics.outcome(outcome)

	switch outcome {
	case world.Accepted:
		s.mu.Lock()
		s.pose.Position = candidate.Position
		s.mu.Unlock()
		s.applied.Add(1)
		s.logger.Debug("position updated", "position", candidate.Position)

	case world.Blocked:
		s.blocked.Add(1)
		s.logger.Warn("vehicle collided with obstacle",
			"position", pose.Position, "candidate", candidate.Position)
		s.notify(core.NoticeWarn, "collided with obstacle at (%g, %g)",
			candidate.Position.X, candidate.Position.Y)

	case world.OutOfBounds:
		s.logger.Error("vehicle left world bounds",
			"candidate", candidate.Position, "bounds", s.cfg.Bounds, "error", outcome.Err())
		s.notify(core.NoticeError, "outside boundaries at (%g, %g)",
			candidate.Position.X, candidate.Position.Y)
		if err := s.reset(ctx); err != nil {
			s.logger.Error("obstacle reload failed, keeping previous set", "error", err)
		}
	}

	return outcome, nil
}

// Reset restores the initial pose and reloads the obstacle set. If loading
// fails the previous set is kept and the error is returned.
func (s *Simulator) Reset(ctx context.Context) error {
	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()
	return s.reset(ctx)
}

func (s *Simulator) reset(ctx context.Context) error {
	s.logger.Info("simulation is resetting")
	s.notify(core.NoticeInfo, "simulation is resetting")

	points, err := s.loader.LoadObstacles(ctx)

	s.mu.Lock()
	s.pose = s.cfg.InitialPose
	if err == nil {
		s.obstacles = core.NewObstacleSet(points...)
	}
	s.mu.Unlock()

	s.resets.Add(1)
	s.metrics.resets.Add(ctx, 1)

	if err != nil {
		return fmt.Errorf("reloading obstacles: %w", err)
	}
	return nil
}

// Run publishes a snapshot immediately and then once per publish interval
// until ctx is done. It returns an error only when the publisher is closed.
func (s *Simulator) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.PublishInterval)
	defer ticker.Stop()

	s.logger.Info("publish loop started", "interval", s.cfg.PublishInterval)

	if err := s.publish(ctx); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("publish loop stopped")
			return nil
		case <-ticker.C:
			if err := s.publish(ctx); err != nil {
				return err
			}
		}
	}
}

func (s *Simulator) publish(ctx context.Context) error {
	err := s.publisher.Publish(core.TopicOdometry, s.Snapshot())
	if errors.Is(err, dispatcher.ErrClosed) {
		return fmt.Errorf("publishing snapshot: %w", err)
	}
	if err != nil {
		s.logger.Warn("snapshot delivery failed", "error", err)
		return nil
	}
	s.published.Add(1)
	s.metrics.published.Add(ctx, 1)
	return nil
}

// notify publishes a notice. It is skipped when the publisher reports that
// nobody listens on the notice topic.
func (s *Simulator) notify(level core.NoticeLevel, format string, args ...any) {
	if l, ok := s.publisher.(listenerChecker); ok && !l.HasSubscribers(core.TopicNotice) {
		return
	}
	n := core.Notice{Level: level, Message: fmt.Sprintf(format, args...), Timestamp: s.now()}
	if err := s.publisher.Publish(core.TopicNotice, n); err != nil {
		s.logger.Debug("notice not delivered", "error", err)
	}
}

// Subscribe registers the command handler on the drive command topic. Commands
// are queued and handled in arrival order by a single worker.
func (s *Simulator) Subscribe(ctx context.Context, d *dispatcher.Dispatcher) {
	d.Subscribe(core.TopicDriveCommand, func(e dispatcher.Event) error {
		var cmd core.DriveCommand
		switch p := e.Payload.(type) {
		case core.DriveCommand:
			cmd = p
		case *core.DriveCommand:
			if p == nil {
				return fmt.Errorf("%w: nil command", ErrUnexpectedPayload)
			}
			cmd = *p
		default:
			return fmt.Errorf("%w: %T", ErrUnexpectedPayload, e.Payload)
		}

		// Invalid commands are already logged and counted.
		_, _ = s.HandleCommand(ctx, cmd)
		return nil
	}, dispatcher.Buffered(64), dispatcher.Blocking(), dispatcher.Logged())
}
