package dispatcher

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/potrero/rcsim/internal/dispatcher"

// registerMetrics creates the dispatcher instruments on the global meter.
// The queue gauge sums every tracked queue per topic on each collection.
func (d *Dispatcher) registerMetrics() error {
	m := otel.Meter(instrumentationName)

	var err error
	d.queueSize, err = m.Int64ObservableGauge(
		"dispatcher.queue.size",
		metric.WithDescription("Current number of events waiting for subscribers"),
	)
	if err != nil {
		return fmt.Errorf("creating queue size gauge: %w", err)
	}

	if _, err = m.RegisterCallback(d.observeQueues, d.queueSize); err != nil {
		return fmt.Errorf("registering queue callback: %w", err)
	}

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&d.processed, "dispatcher.events.processed", "Total events processed by async subscribers"},
		{&d.dropped, "dispatcher.events.dropped", "Total events dropped due to full queue"},
		{&d.replaced, "dispatcher.events.replaced", "Total events superseded before delivery"},
	}
	for _, c := range counters {
		*c.dst, err = m.Int64Counter(c.name, metric.WithDescription(c.desc))
		if err != nil {
			return fmt.Errorf("creating %s counter: %w", c.name, err)
		}
	}
	return nil
}

func (d *Dispatcher) observeQueues(_ context.Context, o metric.Observer) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for topic, lens := range d.queues {
		total := 0
		for _, l := range lens {
			total += l()
		}
		o.ObserveInt64(d.queueSize, int64(total),
			metric.WithAttributes(attribute.String("topic", topic)))
	}
	return nil
}
