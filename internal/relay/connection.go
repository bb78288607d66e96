package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	ws "github.com/gorilla/websocket"

	"github.com/potrero/rcsim/internal/channel"
	"github.com/potrero/rcsim/pkg/streaming"
)

const (
	outboxSize   = 1_024
	ackBufSize   = 16
	maxReconnect = 10
	maxBackoff   = 30 * time.Second
	writeWait    = 10 * time.Second
)

var errReaderStopped = errors.New("websocket reader stopped")

// connection keeps one WebSocket session alive at a time. A supervisor
// goroutine dials, serves and redials in sequence; while a session is up it
// is the only goroutine that writes to the socket.
type connection struct {
	outbox channel.Outbox[[]byte]
	acks   chan streaming.AckMessage

	done      chan struct{}
	closeOnce sync.Once
	exited    chan struct{}

	mu      sync.Mutex
	running bool
	hello   []byte

	wsURL   string
	secret  string
	backoff time.Duration

	// onMessage receives every non-ack envelope.
	onMessage func(streaming.Envelope)

	logger *slog.Logger
}

func newConnection(logger *slog.Logger, backoff time.Duration, onMessage func(streaming.Envelope)) *connection {
	return &connection{
		outbox:    channel.NewBuffered[[]byte](outboxSize),
		acks:      make(chan streaming.AckMessage, ackBufSize),
		done:      make(chan struct{}),
		exited:    make(chan struct{}),
		backoff:   backoff,
		onMessage: onMessage,
		logger:    logger,
	}
}

// dial opens the first session and hands it to the supervisor.
func (c *connection) dial(ctx context.Context, rawURL, secret string) error {
	c.wsURL = rawURL
	c.secret = secret

	conn, err := c.dialOnce(ctx)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopping() || c.running {
		_ = conn.Close()
		return ErrClosed
	}
	c.running = true
	go c.supervise(conn)
	return nil
}

func (c *connection) dialOnce(ctx context.Context) (*ws.Conn, error) {
	u, err := url.Parse(c.wsURL)
	if err != nil {
		return nil, fmt.Errorf("invalid websocket URL: %w", err)
	}
	if c.secret != "" {
		q := u.Query()
		q.Set("secret", c.secret)
		u.RawQuery = q.Encode()
	}

	conn, _, err := ws.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}
	return conn, nil
}

func (c *connection) stopping() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// setHello stores the announcement replayed at the start of every later session.
func (c *connection) setHello(data []byte) {
	c.mu.Lock()
	c.hello = data
	c.mu.Unlock()
}

func (c *connection) cachedHello() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hello
}

func (c *connection) supervise(conn *ws.Conn) {
	defer close(c.exited)
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("WebSocket supervisor panicked", "panic", r)
		}
	}()

	replay := false
	for conn != nil {
		err := c.serve(conn, replay)
		if err == nil || c.stopping() {
			return
		}
		c.logger.Warn("WebSocket session ended", "error", err)
		conn = c.redial()
		replay = true
	}
}

// serve runs one session until it fails or the connection shuts down. It
// returns nil only on shutdown and does not return before its reader exits.
func (c *connection) serve(conn *ws.Conn, replay bool) error {
	readDone := make(chan struct{})
	var readErr error
	go func() {
		defer close(readDone)
		readErr = c.read(conn)
	}()

	err := c.pump(conn, replay, readDone)
	_ = conn.Close()
	<-readDone

	if errors.Is(err, errReaderStopped) {
		return readErr
	}
	return err
}

// pump is the session writer: hello replay, then queued frames, then the
// close frame on shutdown.
func (c *connection) pump(conn *ws.Conn, replay bool, readDone <-chan struct{}) error {
	if hello := c.cachedHello(); replay && hello != nil {
		if err := write(conn, ws.TextMessage, hello); err != nil {
			return fmt.Errorf("replaying hello: %w", err)
		}
		c.logger.Info("WebSocket reconnected")
	}

	for {
		select {
		case <-c.done:
			_ = write(conn, ws.CloseMessage, ws.FormatCloseMessage(ws.CloseNormalClosure, ""))
			return nil
		case <-readDone:
			return errReaderStopped
		case data := <-c.outbox.Receive():
			if err := write(conn, ws.TextMessage, data); err != nil {
				return err
			}
		}
	}
}

func write(conn *ws.Conn, kind int, data []byte) error {
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return conn.WriteMessage(kind, data)
}

// read routes acks to c.acks and everything else to onMessage until the
// socket fails. A panicking handler ends the session, not the process.
func (c *connection) read(conn *ws.Conn) (err error) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("inbound message handler panicked", "panic", r)
			err = fmt.Errorf("inbound handler panicked: %v", r)
		}
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var env streaming.Envelope
		if err := json.Unmarshal(message, &env); err != nil {
			c.logger.Debug("Malformed message received", "raw", string(message))
			continue
		}

		if env.Type != streaming.TypeAck {
			if c.onMessage != nil {
				c.onMessage(env)
			}
			continue
		}

		var ack streaming.AckMessage
		if err := json.Unmarshal(message, &ack); err != nil {
			continue
		}
		select {
		case c.acks <- ack:
		default:
			c.logger.Debug("Ack buffer full, dropping", "for", ack.For)
		}
	}
}

// redial retries with exponential backoff. It returns nil on shutdown or
// once maxReconnect attempts have failed.
func (c *connection) redial() *ws.Conn {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-c.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	backoff := c.backoff
	for attempt := 1; attempt <= maxReconnect; attempt++ {
		c.logger.Info("Reconnecting to WebSocket", "attempt", attempt, "backoff", backoff)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}

		conn, err := c.dialOnce(ctx)
		if err == nil {
			return conn
		}
		if ctx.Err() != nil {
			return nil
		}
		c.logger.Warn("Reconnect dial failed", "attempt", attempt, "error", err)
		backoff = min(backoff*2, maxBackoff)
	}

	c.logger.Error("WebSocket reconnect failed after max attempts", "maxAttempts", maxReconnect)
	return nil
}

// send queues data for the session writer. It never blocks and reports
// false when the outbox is full.
func (c *connection) send(data []byte) bool {
	if c.outbox.TrySend(data) {
		return true
	}
	c.logger.Warn("WebSocket outbox full, dropping message")
	return false
}

// sendAndWait sends data and blocks until the server acknowledges with a
// matching ack message or the timeout expires.
func (c *connection) sendAndWait(data []byte, ackFor string, timeout time.Duration) error {
	c.send(data)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case ack := <-c.acks:
			if ack.For == ackFor {
				return nil
			}
		case <-timer.C:
			return fmt.Errorf("%w: %q", ErrAckTimeout, ackFor)
		case <-c.done:
			return fmt.Errorf("%w while waiting for ack of %q", ErrClosed, ackFor)
		}
	}
}

// close stops the supervisor and waits for it. The close frame is written
// by the session writer. Safe to call more than once.
func (c *connection) close() error {
	c.mu.Lock()
	c.closeOnce.Do(func() { close(c.done) })
	running := c.running
	c.mu.Unlock()

	if running {
		<-c.exited
	}
	return nil
}
