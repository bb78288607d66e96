package rc

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/potrero/rcsim/pkg/core"
)

type recordingPublisher struct {
	mu   sync.Mutex
	cmds []core.DriveCommand
	err  error
}

func (p *recordingPublisher) Publish(topic string, payload any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	if topic == core.TopicDriveCommand {
		p.cmds = append(p.cmds, payload.(core.DriveCommand))
	}
	return nil
}

func (p *recordingPublisher) commands() []core.DriveCommand {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]core.DriveCommand(nil), p.cmds...)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCommandFor(t *testing.T) {
	tests := []struct {
		dir  Direction
		want core.DriveCommand
	}{
		{Left, core.DriveCommand{Channel: core.TrackLeft, Deflection: -1.0}},
		{Right, core.DriveCommand{Channel: core.TrackRight, Deflection: 1.0}},
		{Forward, core.DriveCommand{Channel: core.TrackForward, Deflection: 0.5}},
		{Backward, core.DriveCommand{Channel: core.TrackBackward, Deflection: -0.5}},
	}

	for _, tt := range tests {
		t.Run(tt.dir.String(), func(t *testing.T) {
			got := CommandFor(tt.dir)
			assert.Equal(t, tt.want, got)
			assert.NoError(t, got.Validate())
		})
	}
}

func TestDirectionForKey(t *testing.T) {
	cases := map[tcell.Key]Direction{
		tcell.KeyLeft:  Left,
		tcell.KeyRight: Right,
		tcell.KeyUp:    Forward,
		tcell.KeyDown:  Backward,
	}
	for k, want := range cases {
		got, ok := DirectionForKey(k)
		assert.True(t, ok)
		assert.Equal(t, want, got)
	}

	_, ok := DirectionForKey(tcell.KeyEnter)
	assert.False(t, ok)
}

func TestDirection_Label(t *testing.T) {
	assert.Equal(t, "L", Left.Label())
	assert.Equal(t, "R", Right.Label())
	assert.Equal(t, "F", Forward.Label())
	assert.Equal(t, "B", Backward.Label())
	assert.Equal(t, "?", Direction(7).Label())
}

func TestHandleKey(t *testing.T) {
	c := NewController(&recordingPublisher{}, time.Hour, quietLogger())

	assert.False(t, c.HandleKey(tcell.NewEventKey(tcell.KeyUp, 0, tcell.ModNone)))
	assert.False(t, c.HandleKey(tcell.NewEventKey(tcell.KeyRune, 'x', tcell.ModNone)))
	assert.True(t, c.HandleKey(tcell.NewEventKey(tcell.KeyRune, 'q', tcell.ModNone)))
	assert.True(t, c.HandleKey(tcell.NewEventKey(tcell.KeyEscape, 0, tcell.ModNone)))
	assert.True(t, c.HandleKey(tcell.NewEventKey(tcell.KeyCtrlC, 0, tcell.ModCtrl)))

	d, ok := c.pending.TryReceive()
	require.True(t, ok)
	assert.Equal(t, Forward, d)
}

func TestFlush_OnlyLatestPress(t *testing.T) {
	pub := &recordingPublisher{}
	c := NewController(pub, time.Hour, quietLogger())

	require.NoError(t, c.flush())
	assert.Empty(t, pub.commands())
	_, ok := c.LastDirection()
	assert.False(t, ok)

	c.Press(Left)
	c.Press(Forward)
	c.Press(Right)
	require.NoError(t, c.flush())
	require.NoError(t, c.flush())

	assert.Equal(t, []core.DriveCommand{CommandFor(Right)}, pub.commands())
	last, ok := c.LastDirection()
	assert.True(t, ok)
	assert.Equal(t, Right, last)
	assert.Equal(t, uint64(1), c.Sent())
}

func TestFlush_PublishError(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("closed")}
	c := NewController(pub, time.Hour, quietLogger())

	c.Press(Backward)

	assert.ErrorContains(t, c.flush(), "closed")
	_, ok := c.LastDirection()
	assert.False(t, ok)
}

func TestRun_PublishesOnTick(t *testing.T) {
	pub := &recordingPublisher{}
	c := NewController(pub, 5*time.Millisecond, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	c.Press(Backward)
	require.Eventually(t, func() bool {
		return len(pub.commands()) == 1
	}, time.Second, time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
	assert.Equal(t, CommandFor(Backward), pub.commands()[0])
}

func TestRun_PressAfterStopIsIgnored(t *testing.T) {
	pub := &recordingPublisher{}
	c := NewController(pub, time.Millisecond, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, c.Run(ctx))

	assert.NotPanics(t, func() { c.Press(Forward) })
	require.NoError(t, c.flush())
	assert.Empty(t, pub.commands())
}

func TestListenKeys_SimulationScreen(t *testing.T) {
	screen := tcell.NewSimulationScreen("UTF-8")
	require.NoError(t, screen.Init())
	defer screen.Fini()

	c := NewController(&recordingPublisher{}, time.Hour, quietLogger())

	quit := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.ListenKeys(context.Background(), screen, func() { close(quit) })
	}()

	screen.InjectKey(tcell.KeyLeft, 0, tcell.ModNone)
	screen.InjectKey(tcell.KeyRune, 'q', tcell.ModNone)

	select {
	case <-quit:
	case <-time.After(time.Second):
		t.Fatal("quit was not requested")
	}
	<-done

	d, ok := c.pending.TryReceive()
	require.True(t, ok)
	assert.Equal(t, Left, d)
}
