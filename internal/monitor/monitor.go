package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/potrero/rcsim/internal/relay"
	"github.com/potrero/rcsim/internal/simulator"
	"github.com/potrero/rcsim/pkg/core"
)

// Measurement is the InfluxDB measurement name for status points.
const Measurement = "rcsim_status"

// SimulatorSource exposes the simulator counters and pose.
type SimulatorSource interface {
	Stats() simulator.Stats
	Pose() core.Pose
}

// QueueSource reports the number of buffered bus events.
type QueueSource interface {
	QueueLen() int
}

// RelaySource exposes relay traffic counters.
type RelaySource interface {
	Stats() relay.Stats
}

// PointWriter stores time-series points.
type PointWriter interface {
	WritePoint(ctx context.Context, bucket string, point *influxdb2_write.Point) error
}

// Dependencies holds all dependencies for the monitor service.
// Relay, Points and StatusFile are optional.
type Dependencies struct {
	Simulator  SimulatorSource
	Bus        QueueSource
	Relay      RelaySource
	Points     PointWriter
	Bucket     string
	Node       string
	StatusFile string
	Interval   time.Duration
	Logger     *slog.Logger
}

// Status is one periodic report.
type Status struct {
	Time      time.Time       `json:"time"`
	Node      string          `json:"node"`
	Pose      core.Pose       `json:"pose"`
	Simulator simulator.Stats `json:"simulator"`
	QueueLen  int             `json:"queueLen"`
	Relay     *relay.Stats    `json:"relay,omitempty"`
}

// Service periodically reports program status.
type Service struct {
	deps      Dependencies
	isRunning bool
	mu        sync.RWMutex
	now       func() time.Time
}

// NewService creates a new monitor service
func NewService(deps Dependencies) *Service {
	if deps.Interval <= 0 {
		deps.Interval = 10 * time.Second
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Service{
		deps: deps,
		now:  time.Now,
	}
}

// IsRunning returns whether the status monitor is running
func (s *Service) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// GetStatus collects the current status.
func (s *Service) GetStatus() Status {
	st := Status{
		Time:      s.now(),
		Node:      s.deps.Node,
		Pose:      s.deps.Simulator.Pose(),
		Simulator: s.deps.Simulator.Stats(),
	}
	if s.deps.Bus != nil {
		st.QueueLen = s.deps.Bus.QueueLen()
	}
	if s.deps.Relay != nil {
		rs := s.deps.Relay.Stats()
		st.Relay = &rs
	}
	return st
}

// Point converts a status into an InfluxDB point.
func (st Status) Point() *influxdb2_write.Point {
	fields := map[string]any{
		"x":         st.Pose.Position.X,
		"y":         st.Pose.Position.Y,
		"heading":   st.Pose.Heading,
		"applied":   st.Simulator.Applied,
		"blocked":   st.Simulator.Blocked,
		"rejected":  st.Simulator.Rejected,
		"resets":    st.Simulator.Resets,
		"published": st.Simulator.Published,
		"queue_len": st.QueueLen,
	}
	if st.Relay != nil {
		fields["relay_sent"] = st.Relay.Sent
		fields["relay_dropped"] = st.Relay.Dropped
		fields["relay_received"] = st.Relay.Received
		fields["relay_invalid"] = st.Relay.Invalid
	}
	return influxdb2_write.NewPoint(Measurement, map[string]string{"node": st.Node}, fields, st.Time)
}

// Report collects a status and writes it to every configured sink.
func (s *Service) Report(ctx context.Context) (Status, error) {
	st := s.GetStatus()

	s.deps.Logger.Debug("status",
		"x", st.Pose.Position.X,
		"y", st.Pose.Position.Y,
		"heading", st.Pose.Heading,
		"applied", st.Simulator.Applied,
		"blocked", st.Simulator.Blocked,
		"resets", st.Simulator.Resets,
		"queueLen", st.QueueLen,
	)

	if s.deps.StatusFile != "" {
		if err := writeStatusFile(s.deps.StatusFile, st); err != nil {
			return st, err
		}
	}

	if s.deps.Points != nil {
		if err := s.deps.Points.WritePoint(ctx, s.deps.Bucket, st.Point()); err != nil {
			return st, fmt.Errorf("writing status point: %w", err)
		}
	}

	return st, nil
}

// Run reports every interval until ctx is cancelled. Sink errors are
// logged and do not stop the loop.
func (s *Service) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.isRunning = false
		s.mu.Unlock()
	}()

	s.deps.Logger.Debug("Starting status monitor", "interval", s.deps.Interval)

	ticker := time.NewTicker(s.deps.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := s.Report(ctx); err != nil && ctx.Err() == nil {
				s.deps.Logger.Error("Error reporting status", "error", err)
			}
		}
	}
}

func writeStatusFile(path string, st Status) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding status: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("writing status file: %w", err)
	}
	return nil
}
