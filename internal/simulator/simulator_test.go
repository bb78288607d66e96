package simulator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/potrero/rcsim/internal/dispatcher"
	"github.com/potrero/rcsim/internal/world"
	"github.com/potrero/rcsim/pkg/core"
)

var defaultPoints = []core.Point{{X: 1, Y: 2}, {X: 4, Y: 3}, {X: -6, Y: 7}}

type stubLoader struct {
	mu     sync.Mutex
	points []core.Point
	err    error
	calls  int
}

func (l *stubLoader) LoadObstacles(ctx context.Context) ([]core.Point, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	if l.err != nil {
		return nil, l.err
	}
	return append([]core.Point(nil), l.points...), nil
}

func (l *stubLoader) fail(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.err = err
}

type recordingPublisher struct {
	mu     sync.Mutex
	events map[string][]any
	err    error
}

func newRecordingPublisher() *recordingPublisher {
	return &recordingPublisher{events: make(map[string][]any)}
}

func (p *recordingPublisher) Publish(topic string, payload any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events[topic] = append(p.events[topic], payload)
	return nil
}

func (p *recordingPublisher) count(topic string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events[topic])
}

func (p *recordingPublisher) notices() []core.Notice {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []core.Notice
	for _, e := range p.events[core.TopicNotice] {
		out = append(out, e.(core.Notice))
	}
	return out
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestSimulator(t *testing.T) (*Simulator, *stubLoader, *recordingPublisher) {
	t.Helper()
	loader := &stubLoader{points: defaultPoints}
	pub := newRecordingPublisher()
	s, err := New(context.Background(), DefaultConfig(), loader, pub, discardLogger())
	require.NoError(t, err)
	return s, loader, pub
}

func (s *Simulator) setPose(p core.Pose) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pose = p
}

func pose(x, y, heading float64) core.Pose {
	return core.Pose{Position: core.Position{X: x, Y: y}, Heading: heading}
}

func forward(d float64) core.DriveCommand {
	return core.DriveCommand{Channel: core.TrackForward, Deflection: d}
}

func TestNew(t *testing.T) {
	s, loader, _ := newTestSimulator(t)

	assert.Equal(t, pose(0, 0, 90), s.Pose())
	assert.True(t, s.Obstacles().Equal(core.NewObstacleSet(defaultPoints...)))
	assert.Equal(t, 1, loader.calls)
}

func TestNew_LoaderError(t *testing.T) {
	loader := &stubLoader{err: errors.New("no map")}
	_, err := New(context.Background(), DefaultConfig(), loader, newRecordingPublisher(), discardLogger())
	assert.ErrorContains(t, err, "no map")
}

func TestNew_InvalidConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"initial outside bounds", func(c *Config) { c.InitialPose.Position.X = 11 }},
		{"heading 360", func(c *Config) { c.InitialPose.Heading = 360 }},
		{"inverted bounds", func(c *Config) { c.Bounds = world.Bounds{Min: 1, Max: -1} }},
		{"zero interval", func(c *Config) { c.PublishInterval = 0 }},
		{"nan increment", func(c *Config) { c.HeadingIncrement = math.NaN() }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			_, err := New(context.Background(), cfg, &stubLoader{}, newRecordingPublisher(), discardLogger())
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestHandleCommand_ForwardFromStart(t *testing.T) {
	s, _, _ := newTestSimulator(t)

	outcome, err := s.HandleCommand(context.Background(), forward(1.0))

	require.NoError(t, err)
	assert.Equal(t, world.Accepted, outcome)
	assert.Equal(t, pose(1, 0, 90), s.Pose())
	assert.Equal(t, uint64(1), s.Stats().Applied)
}

func TestHandleCommand_TurnRight(t *testing.T) {
	s, _, _ := newTestSimulator(t)

	outcome, err := s.HandleCommand(context.Background(), core.DriveCommand{Channel: core.TrackRight, Deflection: 1.0})

	require.NoError(t, err)
	assert.Equal(t, world.Accepted, outcome)
	assert.Equal(t, pose(0, 0, 180), s.Pose())
}

func TestHandleCommand_OutOfBoundsResets(t *testing.T) {
	s, loader, pub := newTestSimulator(t)
	s.setPose(pose(9.9, 0, 90))

	outcome, err := s.HandleCommand(context.Background(), forward(1.0))

	require.NoError(t, err)
	assert.Equal(t, world.OutOfBounds, outcome)
	assert.Equal(t, pose(0, 0, 90), s.Pose())
	assert.True(t, s.Obstacles().Equal(core.NewObstacleSet(defaultPoints...)))
	assert.Equal(t, 2, loader.calls)
	assert.Equal(t, uint64(1), s.Stats().Resets)

	notices := pub.notices()
	require.Len(t, notices, 2)
	assert.Equal(t, core.NoticeError, notices[0].Level)
	assert.Contains(t, notices[0].Message, "outside boundaries")
	assert.Equal(t, core.NoticeInfo, notices[1].Level)
	assert.Equal(t, "simulation is resetting", notices[1].Message)
}

// quietPublisher reports that nobody listens on any topic.
type quietPublisher struct {
	*recordingPublisher
}

func (quietPublisher) HasSubscribers(string) bool { return false }

func TestHandleCommand_NoticesSkippedWithoutListeners(t *testing.T) {
	pub := quietPublisher{newRecordingPublisher()}
	s, err := New(context.Background(), DefaultConfig(), &stubLoader{points: defaultPoints}, pub, discardLogger())
	require.NoError(t, err)
	s.setPose(pose(9.9, 0, 90))

	outcome, err := s.HandleCommand(context.Background(), forward(1.0))

	require.NoError(t, err)
	assert.Equal(t, world.OutOfBounds, outcome)
	assert.Equal(t, pose(0, 0, 90), s.Pose())
	assert.Zero(t, pub.count(core.TopicNotice))
}

func TestHandleCommand_NoticesReachBusListener(t *testing.T) {
	d, err := dispatcher.New(nopLogger{})
	require.NoError(t, err)
	defer d.Close()

	var mu sync.Mutex
	var got []core.Notice
	d.Subscribe(core.TopicNotice, func(e dispatcher.Event) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, e.Payload.(core.Notice))
		return nil
	})

	s, err := New(context.Background(), DefaultConfig(), &stubLoader{points: defaultPoints}, d, discardLogger())
	require.NoError(t, err)
	s.setPose(pose(1, 1, 180))

	outcome, err := s.HandleCommand(context.Background(), forward(1.0))
	require.NoError(t, err)
	assert.Equal(t, world.Blocked, outcome)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 1)
	assert.Equal(t, "collided with obstacle at (1, 2)", got[0].Message)
}

func TestHandleCommand_ResetRestoresHeading(t *testing.T) {
	s, _, _ := newTestSimulator(t)
	s.setPose(pose(0, -10, 0))

	outcome, err := s.HandleCommand(context.Background(), forward(0.5))

	require.NoError(t, err)
	assert.Equal(t, world.OutOfBounds, outcome)
	assert.Equal(t, pose(0, 0, 90), s.Pose())
}

func TestHandleCommand_Blocked(t *testing.T) {
	s, _, pub := newTestSimulator(t)
	s.setPose(pose(1, 1, 180))

	outcome, err := s.HandleCommand(context.Background(), forward(1.0))

	require.NoError(t, err)
	assert.Equal(t, world.Blocked, outcome)
	assert.Equal(t, pose(1, 1, 180), s.Pose())
	assert.Equal(t, uint64(1), s.Stats().Blocked)

	notices := pub.notices()
	require.Len(t, notices, 1)
	assert.Equal(t, core.NoticeWarn, notices[0].Level)
	assert.Contains(t, notices[0].Message, "collided")
}

func TestHandleCommand_BlockedThenTurnAway(t *testing.T) {
	s, _, _ := newTestSimulator(t)
	s.setPose(pose(1, 1, 180))
	ctx := context.Background()

	_, _ = s.HandleCommand(ctx, forward(1.0))
	_, err := s.HandleCommand(ctx, core.DriveCommand{Channel: core.TrackLeft, Deflection: -1.0})
	require.NoError(t, err)
	outcome, err := s.HandleCommand(ctx, forward(1.0))
	require.NoError(t, err)

	assert.Equal(t, world.Accepted, outcome)
	assert.Equal(t, pose(2, 1, 90), s.Pose())
}

func TestHandleCommand_EdgeAccepted(t *testing.T) {
	s, _, _ := newTestSimulator(t)
	s.setPose(pose(9, 0, 90))

	outcome, err := s.HandleCommand(context.Background(), forward(1.0))

	require.NoError(t, err)
	assert.Equal(t, world.Accepted, outcome)
	assert.Equal(t, pose(10, 0, 90), s.Pose())
}

func TestHandleCommand_ZeroDeflectionIsNoop(t *testing.T) {
	s, _, _ := newTestSimulator(t)
	s.setPose(pose(3.2, -4.5, 270))
	ctx := context.Background()

	for _, ch := range core.Channels {
		outcome, err := s.HandleCommand(ctx, core.DriveCommand{Channel: ch, Deflection: 0})
		require.NoError(t, err)
		assert.Equal(t, world.Accepted, outcome, ch)
		assert.Equal(t, pose(3.2, -4.5, 270), s.Pose(), ch)
	}
}

func TestHandleCommand_Rejected(t *testing.T) {
	tests := []struct {
		name string
		cmd  core.DriveCommand
		want error
	}{
		{"too large", core.DriveCommand{Channel: core.TrackForward, Deflection: 1.5}, core.ErrDeflectionOutOfRange},
		{"too small", core.DriveCommand{Channel: core.TrackLeft, Deflection: -1.01}, core.ErrDeflectionOutOfRange},
		{"nan", core.DriveCommand{Channel: core.TrackRight, Deflection: math.NaN()}, core.ErrDeflectionOutOfRange},
		{"infinite", core.DriveCommand{Channel: core.TrackBackward, Deflection: math.Inf(1)}, core.ErrDeflectionOutOfRange},
		{"unknown channel", core.DriveCommand{Channel: "cab_swing", Deflection: 0.5}, core.ErrUnknownChannel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _, pub := newTestSimulator(t)

			_, err := s.HandleCommand(context.Background(), tt.cmd)

			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, pose(0, 0, 90), s.Pose())
			assert.Equal(t, uint64(1), s.Stats().Rejected)
			assert.Equal(t, uint64(0), s.Stats().Applied)
			require.Len(t, pub.notices(), 1)
			assert.Equal(t, core.NoticeWarn, pub.notices()[0].Level)
		})
	}
}

func TestHandleCommand_HeadingStaysNormalized(t *testing.T) {
	s, _, _ := newTestSimulator(t)
	ctx := context.Background()

	deflections := []float64{1, 1, 1, 1, -1, -0.5, 0.25, -1, -1, -1, 0.75}
	for _, d := range deflections {
		_, err := s.HandleCommand(ctx, core.DriveCommand{Channel: core.TrackRight, Deflection: d})
		require.NoError(t, err)
		h := s.Pose().Heading
		assert.GreaterOrEqual(t, h, 0.0)
		assert.Less(t, h, 360.0)
	}
}

func TestReset_LoaderFailureKeepsObstacles(t *testing.T) {
	s, loader, _ := newTestSimulator(t)
	s.setPose(pose(5, 5, 0))
	loader.fail(errors.New("db down"))

	err := s.Reset(context.Background())

	assert.ErrorContains(t, err, "db down")
	assert.Equal(t, pose(0, 0, 90), s.Pose())
	assert.True(t, s.Obstacles().Equal(core.NewObstacleSet(defaultPoints...)))
}

func TestSnapshot_IsCopy(t *testing.T) {
	s, _, _ := newTestSimulator(t)

	snap := s.Snapshot()
	require.Len(t, snap.Obstacles, 3)
	snap.Obstacles[0] = core.Point{X: 9, Y: 9}
	snap.Position.X = 7

	again := s.Snapshot()
	assert.Equal(t, []core.Point{{X: -6, Y: 7}, {X: 1, Y: 2}, {X: 4, Y: 3}}, again.Obstacles)
	assert.Equal(t, 0.0, again.Position.X)
	assert.Equal(t, pose(0, 0, 90), again.Pose())
	assert.False(t, again.Timestamp.IsZero())
}

func TestRun_PublishesUntilCancelled(t *testing.T) {
	loader := &stubLoader{points: defaultPoints}
	pub := newRecordingPublisher()
	cfg := DefaultConfig()
	cfg.PublishInterval = 5 * time.Millisecond
	s, err := New(context.Background(), cfg, loader, pub, discardLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool {
		return pub.count(core.TopicOdometry) >= 3
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}

	assert.GreaterOrEqual(t, s.Stats().Published, uint64(3))
	snap, ok := pub.events[core.TopicOdometry][0].(core.Snapshot)
	require.True(t, ok)
	assert.Equal(t, pose(0, 0, 90), snap.Pose())
}

func TestRun_StopsWhenPublisherClosed(t *testing.T) {
	s, _, pub := newTestSimulator(t)
	pub.err = dispatcher.ErrClosed

	err := s.Run(context.Background())

	assert.ErrorIs(t, err, dispatcher.ErrClosed)
}

func TestRun_DeliveryErrorIsNotFatal(t *testing.T) {
	loader := &stubLoader{points: defaultPoints}
	pub := newRecordingPublisher()
	pub.err = dispatcher.ErrQueueFull
	cfg := DefaultConfig()
	cfg.PublishInterval = time.Millisecond
	s, err := New(context.Background(), cfg, loader, pub, discardLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	assert.NoError(t, s.Run(ctx))
	assert.Equal(t, uint64(0), s.Stats().Published)
}

func TestSubscribe_AppliesInOrder(t *testing.T) {
	d, err := dispatcher.New(nopLogger{})
	require.NoError(t, err)
	defer d.Close()

	s, err := New(context.Background(), DefaultConfig(), &stubLoader{points: defaultPoints}, d, discardLogger())
	require.NoError(t, err)
	s.Subscribe(context.Background(), d)

	cmds := []any{
		forward(1.0),
		core.DriveCommand{Channel: core.TrackRight, Deflection: 1.0},
		&core.DriveCommand{Channel: core.TrackForward, Deflection: 0.5},
		"not a command",
	}
	for _, c := range cmds {
		require.NoError(t, d.Publish(core.TopicDriveCommand, c))
	}

	require.Eventually(t, func() bool {
		return s.Stats().Applied == 3
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, pose(1, 0.5, 180), s.Pose())
}

func TestSnapshotsAreSettled(t *testing.T) {
	s, _, _ := newTestSimulator(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			_, _ = s.HandleCommand(ctx, core.DriveCommand{Channel: core.TrackRight, Deflection: 1})
		}
	}()

	for i := 0; i < 500; i++ {
		h := s.Snapshot().Heading
		assert.Contains(t, []float64{0, 90, 180, 270}, h)
	}
	wg.Wait()

	// 500 quarter turns from 90 is 125 full turns.
	assert.Equal(t, 90.0, s.Pose().Heading)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
