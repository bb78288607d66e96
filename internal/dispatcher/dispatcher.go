package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	// ErrClosed is returned by Publish after Close.
	ErrClosed = errors.New("dispatcher closed")

	// ErrQueueFull is returned when a non-blocking buffered subscriber drops an event.
	ErrQueueFull = errors.New("queue full")
)

// Event is a message published on a topic.
type Event struct {
	Topic     string
	Payload   any
	Timestamp time.Time
}

// HandlerFunc processes an event.
type HandlerFunc func(Event) error

// Logger interface for pluggable logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Option configures handler registration.
type Option func(*config)

type config struct {
	bufferSize int
	blocking   bool
	latest     bool
	logged     bool
}

// Buffered makes the handler async with a queue of the given size.
// Events are handled in publish order by a single worker.
func Buffered(size int) Option {
	return func(c *config) {
		c.bufferSize = size
	}
}

// Blocking makes a buffered handler block when the queue is full instead of dropping.
func Blocking() Option {
	return func(c *config) {
		c.blocking = true
	}
}

// Latest makes the handler async and keeps only the most recent undelivered
// event. Older pending events are replaced, never queued.
func Latest() Option {
	return func(c *config) {
		c.latest = true
	}
}

// Logged adds debug logging to the handler.
func Logged() Option {
	return func(c *config) {
		c.logged = true
	}
}

// Dispatcher routes published events to topic subscribers.
type Dispatcher struct {
	logger Logger

	mu       sync.RWMutex
	handlers map[string][]HandlerFunc
	queues   map[string][]func() int

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	// OTEL metrics
	queueSize metric.Int64ObservableGauge
	processed metric.Int64Counter
	dropped   metric.Int64Counter
	replaced  metric.Int64Counter
}

// New creates a new Dispatcher with the given logger.
// Uses the global OTel meter for metrics (no-op if not configured).
func New(logger Logger) (*Dispatcher, error) {
	d := &Dispatcher{
		logger:   logger,
		handlers: make(map[string][]HandlerFunc),
		queues:   make(map[string][]func() int),
		done:     make(chan struct{}),
	}

	if err := d.registerMetrics(); err != nil {
		return nil, err
	}
	return d, nil
}

// Subscribe adds a handler for the topic with optional configuration.
// A topic may have any number of subscribers.
func (d *Dispatcher) Subscribe(topic string, h HandlerFunc, opts ...Option) {
	cfg := &config{}
	for _, opt := range opts {
		opt(cfg)
	}

	handler := h

	if cfg.logged {
		handler = d.withLogging(topic, handler)
	}

	switch {
	case cfg.latest:
		handler = d.withMailbox(topic, cfg.logged, handler)
	case cfg.bufferSize > 0:
		handler = d.withBuffer(topic, cfg.bufferSize, cfg.blocking, cfg.logged, handler)
	}

	d.mu.Lock()
	d.handlers[topic] = append(slices.Clip(d.handlers[topic]), handler)
	d.mu.Unlock()
}

// Publish delivers payload to every subscriber of topic. Synchronous handlers
// run on the caller's goroutine. A topic without subscribers is not an error.
func (d *Dispatcher) Publish(topic string, payload any) error {
	select {
	case <-d.done:
		return ErrClosed
	default:
	}

	d.mu.RLock()
	handlers := d.handlers[topic]
	d.mu.RUnlock()

	e := Event{Topic: topic, Payload: payload, Timestamp: time.Now()}

	var errs []error
	for _, h := range handlers {
		if err := h(e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// HasSubscribers returns true if at least one handler is subscribed to topic.
func (d *Dispatcher) HasSubscribers(topic string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.handlers[topic]) > 0
}

// QueueLen returns the number of events waiting in all async subscribers.
func (d *Dispatcher) QueueLen() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	total := 0
	for _, lens := range d.queues {
		for _, l := range lens {
			total += l()
		}
	}
	return total
}

// Close stops all async workers and waits for in-flight handlers to return.
// Pending events are discarded.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() {
		close(d.done)
	})
	d.wg.Wait()
}

func (d *Dispatcher) trackQueue(topic string, length func() int) {
	d.mu.Lock()
	d.queues[topic] = append(d.queues[topic], length)
	d.mu.Unlock()
}

func (d *Dispatcher) handleAsync(topic string, logged bool, h HandlerFunc, e Event) {
	err := h(e)
	if err != nil && !logged {
		d.logger.Error("async handler failed", "topic", topic, "error", err)
	}
	d.processed.Add(context.Background(), 1, metric.WithAttributes(attribute.String("topic", topic)))
}

func (d *Dispatcher) withBuffer(topic string, size int, blocking, logged bool, h HandlerFunc) HandlerFunc {
	buffer := make(chan Event, size)
	d.trackQueue(topic, func() int { return len(buffer) })

	topicAttr := attribute.String("topic", topic)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for {
			select {
			case <-d.done:
				return
			case e := <-buffer:
				d.handleAsync(topic, logged, h, e)
			}
		}
	}()

	if blocking {
		return func(e Event) error {
			select {
			case buffer <- e:
				return nil
			case <-d.done:
				return ErrClosed
			}
		}
	}

	return func(e Event) error {
		select {
		case buffer <- e:
			return nil
		default:
			d.dropped.Add(context.Background(), 1, metric.WithAttributes(topicAttr))
			return fmt.Errorf("%w: %s", ErrQueueFull, topic)
		}
	}
}

// mailbox holds at most one pending event.
type mailbox struct {
	mu      sync.Mutex
	pending *Event
	signal  chan struct{}
}

func (m *mailbox) put(e Event) (replaced bool) {
	m.mu.Lock()
	replaced = m.pending != nil
	m.pending = &e
	m.mu.Unlock()

	select {
	case m.signal <- struct{}{}:
	default:
	}
	return replaced
}

func (m *mailbox) take() (Event, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pending == nil {
		return Event{}, false
	}
	e := *m.pending
	m.pending = nil
	return e, true
}

func (m *mailbox) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pending == nil {
		return 0
	}
	return 1
}

func (d *Dispatcher) withMailbox(topic string, logged bool, h HandlerFunc) HandlerFunc {
	box := &mailbox{signal: make(chan struct{}, 1)}
	d.trackQueue(topic, box.len)

	topicAttr := attribute.String("topic", topic)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for {
			select {
			case <-d.done:
				return
			case <-box.signal:
				if e, ok := box.take(); ok {
					d.handleAsync(topic, logged, h, e)
				}
			}
		}
	}()

	return func(e Event) error {
		if box.put(e) {
			d.replaced.Add(context.Background(), 1, metric.WithAttributes(topicAttr))
		}
		return nil
	}
}

func (d *Dispatcher) withLogging(topic string, h HandlerFunc) HandlerFunc {
	return func(e Event) error {
		start := time.Now()
		d.logger.Debug("handling event", "topic", topic, "payload", fmt.Sprintf("%T", e.Payload))

		err := h(e)

		if err != nil {
			d.logger.Error("event failed", "topic", topic, "duration", time.Since(start), "error", err)
		} else {
			d.logger.Debug("event complete", "topic", topic, "duration", time.Since(start))
		}

		return err
	}
}
