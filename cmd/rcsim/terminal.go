package main

import (
	"context"
	"fmt"

	"github.com/gdamore/tcell/v2"
	"golang.org/x/sync/errgroup"

	"github.com/potrero/rcsim/internal/config"
	"github.com/potrero/rcsim/internal/rc"
	"github.com/potrero/rcsim/internal/viewer"
)

// runTerminal implements the default command: simulator, keyboard
// controller and viewer sharing this terminal.
func runTerminal(ctx context.Context) error {
	a, err := newApp(ctx, nil)
	if err != nil {
		return err
	}
	defer a.close()

	n, err := newNodes(ctx, a)
	if err != nil {
		return err
	}
	defer n.close()

	screen, err := tcell.NewScreen()
	if err != nil {
		return fmt.Errorf("creating screen: %w", err)
	}
	if err := screen.Init(); err != nil {
		return fmt.Errorf("initializing screen: %w", err)
	}

	return runScreen(ctx, n, screen)
}

// runScreen wires the controller and viewer to screen and runs every task
// until ctx is done or a quit key is pressed. It finalizes screen.
func runScreen(ctx context.Context, n *nodes, screen tcell.Screen) error {
	defer func() {
		// restore the terminal before the crash report reaches stderr
		if r := recover(); r != nil {
			screen.Fini()
			panic(r)
		}
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	controller := rc.NewController(n.Bus, config.GetRCInterval(), n.app.Logger)

	view := viewer.New(screen, n.Simulator.Config().Bounds, n.app.Logger)
	view.SetStatus(func() string {
		st := n.Simulator.Stats()
		last := "-"
		if d, ok := controller.LastDirection(); ok {
			last = d.Label()
		}
		return fmt.Sprintf("%s  last:%s  applied:%d blocked:%d resets:%d  arrows drive, q quits",
			n.app.Node, last, st.Applied, st.Blocked, st.Resets)
	})
	view.Subscribe(n.Bus)
	view.Draw(n.Simulator.Snapshot())

	g, gctx := errgroup.WithContext(ctx)
	n.start(gctx, g)
	g.Go(guard("rc", func() error {
		return controller.Run(gctx)
	}))

	// PollEvent only returns nil after Fini, so the key loop lives outside g.
	keysDone := make(chan struct{})
	go func() {
		defer close(keysDone)
		controller.ListenKeys(gctx, screen, cancel)
	}()

	err := g.Wait()
	n.Bus.Close()
	screen.Fini()
	<-keysDone

	n.app.Logger.Info("Shutting down", "commands", controller.Sent(), "frames", view.Frames())
	return err
}
