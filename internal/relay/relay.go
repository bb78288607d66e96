// Package relay streams simulator snapshots to a remote WebSocket server and
// feeds drive commands received from it back onto the bus.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/potrero/rcsim/internal/dispatcher"
	"github.com/potrero/rcsim/pkg/core"
	"github.com/potrero/rcsim/pkg/streaming"
)

var (
	// ErrAckTimeout is returned when the server does not acknowledge in time.
	ErrAckTimeout = errors.New("timeout waiting for ack")

	// ErrClosed is returned when the relay shuts down while waiting.
	ErrClosed = errors.New("relay closed")
)

// Config holds relay configuration.
type Config struct {
	URL        string
	Secret     string
	Node       string
	Version    string
	AckTimeout time.Duration
	Backoff    time.Duration
}

// Publisher sends a payload on a topic.
type Publisher interface {
	Publish(topic string, payload any) error
}

// Stats counts relay traffic.
type Stats struct {
	Sent     uint64
	Dropped  uint64
	Received uint64
	Invalid  uint64
}

// Relay bridges the local bus and a remote server.
type Relay struct {
	cfg       Config
	conn      *connection
	publisher Publisher
	logger    *slog.Logger

	sent     atomic.Uint64
	dropped  atomic.Uint64
	received atomic.Uint64
	invalid  atomic.Uint64
}

// New creates a relay. Inbound drive commands are published on publisher.
func New(cfg Config, publisher Publisher, logger *slog.Logger) *Relay {
	if cfg.AckTimeout <= 0 {
		cfg.AckTimeout = 10 * time.Second
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	r := &Relay{
		cfg:       cfg,
		publisher: publisher,
		logger:    logger.With("component", "relay"),
	}
	r.conn = newConnection(r.logger, cfg.Backoff, r.handleMessage)
	return r
}

// Start connects, announces the node and waits for the server ack.
func (r *Relay) Start(ctx context.Context) error {
	if err := r.conn.dial(ctx, r.cfg.URL, r.cfg.Secret); err != nil {
		return err
	}

	data, err := streaming.Marshal(streaming.TypeHello, streaming.HelloPayload{Node: r.cfg.Node, Version: r.cfg.Version})
	if err != nil {
		return err
	}

	r.conn.setHello(data)

	if err := r.conn.sendAndWait(data, streaming.TypeHello, r.cfg.AckTimeout); err != nil {
		return fmt.Errorf("announcing node: %w", err)
	}
	r.logger.Info("relay connected", "url", r.cfg.URL, "node", r.cfg.Node)
	return nil
}

// Run starts the relay and keeps it open until ctx is done.
func (r *Relay) Run(ctx context.Context) error {
	if err := r.Start(ctx); err != nil {
		_ = r.Close()
		return err
	}
	<-ctx.Done()
	return r.Close()
}

// Close disconnects from the server.
func (r *Relay) Close() error {
	return r.conn.close()
}

// Subscribe forwards odometry and notices from d to the server. Odometry is
// conflated so a slow link always sends the newest snapshot.
func (r *Relay) Subscribe(d *dispatcher.Dispatcher) {
	d.Subscribe(core.TopicOdometry, func(e dispatcher.Event) error {
		snap, ok := e.Payload.(core.Snapshot)
		if !ok {
			return fmt.Errorf("relay: unexpected odometry payload %T", e.Payload)
		}
		return r.SendSnapshot(snap)
	}, dispatcher.Latest())

	d.Subscribe(core.TopicNotice, func(e dispatcher.Event) error {
		n, ok := e.Payload.(core.Notice)
		if !ok {
			return fmt.Errorf("relay: unexpected notice payload %T", e.Payload)
		}
		return r.sendEnvelope(streaming.TypeNotice, n)
	}, dispatcher.Buffered(16))
}

// SendSnapshot queues one snapshot for the server.
func (r *Relay) SendSnapshot(snap core.Snapshot) error {
	return r.sendEnvelope(streaming.TypeOdometry, snap)
}

// Stats returns traffic counters.
func (r *Relay) Stats() Stats {
	return Stats{
		Sent:     r.sent.Load(),
		Dropped:  r.dropped.Load(),
		Received: r.received.Load(),
		Invalid:  r.invalid.Load(),
	}
}

// sendEnvelope marshals the payload into an Envelope and pushes it
// to the write loop (fire-and-forget).
func (r *Relay) sendEnvelope(msgType string, payload any) error {
	data, err := streaming.Marshal(msgType, payload)
	if err != nil {
		return err
	}
	if r.conn.send(data) {
		r.sent.Add(1)
	} else {
		r.dropped.Add(1)
	}
	return nil
}

func (r *Relay) handleMessage(env streaming.Envelope) {
	switch env.Type {
	case streaming.TypeDriveCommand:
		var cmd streaming.DriveCommandPayload
		if err := json.Unmarshal(env.Payload, &cmd); err != nil {
			r.invalid.Add(1)
			r.logger.Warn("invalid drive command from server", "error", err)
			return
		}
		r.received.Add(1)
		if err := r.publisher.Publish(core.TopicDriveCommand, cmd); err != nil {
			r.logger.Warn("drive command not delivered", "error", err)
			return
		}
		r.conn.send(streaming.Ack(streaming.TypeDriveCommand))
	default:
		r.logger.Debug("ignoring message", "type", env.Type)
	}
}
