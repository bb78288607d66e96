package simulator

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/potrero/rcsim/internal/world"
)

const instrumentationName = "github.com/potrero/rcsim/internal/simulator"

type metrics struct {
	commands  metric.Int64Counter
	resets    metric.Int64Counter
	published metric.Int64Counter
}

func newMetrics() (*metrics, error) {
	m := otel.Meter(instrumentationName)

	commands, err := m.Int64Counter(
		"simulator.commands",
		metric.WithDescription("Drive commands handled, by result"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating commands counter: %w", err)
	}

	resets, err := m.Int64Counter(
		"simulator.resets",
		metric.WithDescription("Out of bounds resets"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating resets counter: %w", err)
	}

	published, err := m.Int64Counter(
		"simulator.snapshots.published",
		metric.WithDescription("Snapshots published on the odometry topic"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating published counter: %w", err)
	}

	return &metrics{commands: commands, resets: resets, published: published}, nil
}

func (m *metrics) command(result string) {
	m.commands.Add(context.Background(), 1, metric.WithAttributes(attribute.String("result", result)))
}

func (m *metrics) outcome(o world.Outcome) {
	if o == world.Accepted {
		m.command("applied")
		return
	}
	m.command(o.String())
}
