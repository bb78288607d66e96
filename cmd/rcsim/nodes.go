package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/potrero/rcsim/internal/config"
	"github.com/potrero/rcsim/internal/database"
	"github.com/potrero/rcsim/internal/dispatcher"
	"github.com/potrero/rcsim/internal/influx"
	"github.com/potrero/rcsim/internal/logging"
	"github.com/potrero/rcsim/internal/monitor"
	"github.com/potrero/rcsim/internal/relay"
	"github.com/potrero/rcsim/internal/simulator"
	"github.com/potrero/rcsim/internal/storage"
)

// nodes is the set of components sharing one bus.
type nodes struct {
	app *app

	Bus       *dispatcher.Dispatcher
	Simulator *simulator.Simulator
	Relay     *relay.Relay
	Monitor   *monitor.Service

	backend storage.Backend
	db      *database.Manager
	influx  *influx.Manager
}

// newNodes builds the bus, the simulator and the optional relay and monitor
// sinks, and subscribes them. Callers add their own subscribers before
// starting tasks.
func newNodes(ctx context.Context, a *app) (*nodes, error) {
	n := &nodes{app: a}
	ready := false
	defer func() {
		if !ready {
			n.close()
		}
	}()

	var err error
	n.Bus, err = dispatcher.New(logging.NewDispatcherLogger(a.ZLogger))
	if err != nil {
		return nil, fmt.Errorf("creating bus: %w", err)
	}

	storageCfg, err := config.GetStorageConfig()
	if err != nil {
		return nil, err
	}
	n.backend, n.db, err = createStorageBackend(ctx, storageCfg, a.ZLogger, a.Logger)
	if err != nil {
		return nil, err
	}
	if err := n.backend.Init(); err != nil {
		return nil, fmt.Errorf("initializing obstacle backend: %w", err)
	}

	n.Simulator, err = simulator.New(ctx, config.GetSimulatorConfig(), n.backend, n.Bus, a.Logger)
	if err != nil {
		return nil, err
	}
	n.Simulator.Subscribe(ctx, n.Bus)

	relayCfg := config.GetRelayConfig()
	if relayCfg.Enabled {
		n.Relay = relay.New(relay.Config{
			URL:        relayCfg.URL,
			Secret:     relayCfg.Secret,
			Node:       a.Node,
			Version:    Version,
			AckTimeout: relayCfg.AckTimeout,
		}, n.Bus, a.Logger)
		n.Relay.Subscribe(n.Bus)
	}

	deps := monitor.Dependencies{
		Simulator:  n.Simulator,
		Bus:        n.Bus,
		Node:       a.Node,
		StatusFile: filepath.Join(a.LogsDir, "status.json"),
		Interval:   config.GetMonitorInterval(),
		Logger:     a.Logger,
	}
	if n.Relay != nil {
		deps.Relay = n.Relay
	}

	influxCfg := config.GetInfluxConfig()
	if influxCfg.Enabled {
		backupPath := logging.LogFilePath(a.LogsDir, AppName+".influx", a.SessionStart) + ".gz"
		im := influx.NewManager(a.ZLogger, influxCfg, backupPath)
		if err := im.Connect(ctx); err != nil {
			a.Logger.Warn("InfluxDB unavailable, status points disabled", "error", err)
		} else {
			n.influx = im
			deps.Points = im
			deps.Bucket = im.Bucket()
		}
	}
	n.Monitor = monitor.NewService(deps)

	ready = true
	return n, nil
}

// start runs the simulator, relay and monitor in g.
func (n *nodes) start(ctx context.Context, g *errgroup.Group) {
	logger := n.app.Logger

	g.Go(guard("simulator", func() error {
		return n.Simulator.Run(ctx)
	}))

	g.Go(guard("monitor", func() error {
		return n.Monitor.Run(ctx)
	}))

	if n.Relay != nil {
		g.Go(guard("relay", func() error {
			// the simulator keeps running without a relay
			if err := n.Relay.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Error("Relay stopped", "error", err)
			}
			return nil
		}))
	}
}

// close stops the bus and releases storage and sinks.
func (n *nodes) close() {
	var errs []error
	if n.Bus != nil {
		n.Bus.Close()
	}
	if n.backend != nil {
		errs = append(errs, n.backend.Close())
	}
	if n.db != nil {
		errs = append(errs, n.db.Close())
	}
	if n.influx != nil {
		errs = append(errs, n.influx.Close())
	}
	if err := errors.Join(errs...); err != nil {
		n.app.Logger.Warn("Error closing nodes", "error", err)
	}
}

// runHeadless implements the headless command.
func runHeadless(ctx context.Context) error {
	a, err := newApp(ctx, os.Stdout)
	if err != nil {
		return err
	}
	defer a.close()

	n, err := newNodes(ctx, a)
	if err != nil {
		return err
	}
	defer n.close()

	g, gctx := errgroup.WithContext(ctx)
	n.start(gctx, g)

	a.Logger.Info("Headless simulator running", "relay", n.Relay != nil)
	err = g.Wait()
	a.Logger.Info("Shutting down", "stats", fmt.Sprintf("%+v", n.Simulator.Stats()))
	return err
}
