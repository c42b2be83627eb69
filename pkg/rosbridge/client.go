package rosbridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/teslashibe/go-navtest/pkg/protocol"
)

// Sentinel errors.
var (
	// ErrNotConnected is returned when an operation needs a live session.
	ErrNotConnected = errors.New("rosbridge: not connected")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("rosbridge: client closed")
)

// Handler receives each message published on a subscribed topic.
// Handlers run on the read goroutine and must not block.
type Handler = func(msg *protocol.Message)

// Client is a rosbridge websocket client.
type Client struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.RWMutex
	ws      *websocket.Conn
	closed  bool
	done    chan struct{}
	doneOne sync.Once

	// Only one goroutine may write to the connection at a time
	writeMu sync.Mutex

	subsMu     sync.Mutex
	subs       map[string]map[uint64]Handler
	nextSubID  uint64
	advertised map[string]string

	// Stats
	messagesSent     atomic.Int64
	messagesReceived atomic.Int64
	reconnectCount   atomic.Int64
}

// New creates a new rosbridge client.
// Call Connect() to establish the session.
func New(cfg Config, logger *slog.Logger) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		cfg:        cfg,
		logger:     logger,
		done:       make(chan struct{}),
		subs:       make(map[string]map[uint64]Handler),
		advertised: make(map[string]string),
	}, nil
}

// Connect dials the bridge and starts the read loop.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if c.ws != nil {
		return nil // Already connected
	}
	select {
	case <-c.done:
		// A session that ended does not come back
		return ErrClosed
	default:
	}

	c.logger.Info("connecting to rosbridge", "url", c.cfg.URL)

	dialer := websocket.Dialer{
		HandshakeTimeout: c.cfg.HandshakeTimeout,
	}
	ws, _, err := dialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to rosbridge: %w", err)
	}
	c.ws = ws

	go c.readLoop(ws)

	c.logger.Info("connected to rosbridge", "url", c.cfg.URL)
	return nil
}

// ConnectWithRetry connects with automatic retry on failure.
func (c *Client) ConnectWithRetry(ctx context.Context) error {
	attempts := 0

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := c.Connect(ctx)
		if err == nil || errors.Is(err, ErrClosed) {
			return err
		}

		attempts++
		c.reconnectCount.Add(1)

		if c.cfg.MaxReconnectAttempts > 0 && attempts >= c.cfg.MaxReconnectAttempts {
			return fmt.Errorf("max connect attempts (%d) reached: %w", c.cfg.MaxReconnectAttempts, err)
		}

		c.logger.Warn("rosbridge connection failed, retrying",
			"error", err,
			"attempt", attempts,
			"retry_in", c.cfg.ReconnectInterval,
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.cfg.ReconnectInterval):
		}
	}
}

// Done is closed when the session ends, either by Close or a read error.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// WithSession returns a child of parent that is cancelled when the session
// ends. The cause of that cancellation wraps ErrNotConnected; read it with
// context.Cause.
func (c *Client) WithSession(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancelCause(parent)
	go func() {
		select {
		case <-c.done:
			cancel(fmt.Errorf("rosbridge session lost: %w", ErrNotConnected))
		case <-ctx.Done():
		}
	}()
	return ctx, func() { cancel(context.Canceled) }
}

// IsConnected returns true if the client has a live session.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ws != nil && !c.closed
}

// send writes one envelope to the bridge.
func (c *Client) send(msg *protocol.Message) error {
	c.mu.RLock()
	ws, closed := c.ws, c.closed
	c.mu.RUnlock()

	if closed {
		return ErrClosed
	}
	if ws == nil {
		return ErrNotConnected
	}

	data, err := msg.Bytes()
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", msg.Op, err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("failed to send %s %s: %w", msg.Op, msg.Topic, err)
	}

	c.messagesSent.Add(1)
	return nil
}

// Advertise announces that this client publishes rosType on topic.
// Repeated calls for the same topic are no-ops.
func (c *Client) Advertise(topic, rosType string) error {
	c.subsMu.Lock()
	if _, ok := c.advertised[topic]; ok {
		c.subsMu.Unlock()
		return nil
	}
	c.advertised[topic] = rosType
	c.subsMu.Unlock()

	if err := c.send(protocol.NewAdvertise(topic, rosType)); err != nil {
		c.subsMu.Lock()
		delete(c.advertised, topic)
		c.subsMu.Unlock()
		return err
	}
	return nil
}

// Publish publishes msg on topic.
func (c *Client) Publish(topic string, msg interface{}) error {
	env, err := protocol.NewPublish(topic, msg)
	if err != nil {
		return err
	}
	return c.send(env)
}

// Subscribe registers h for topic. The first handler for a topic sends the
// subscribe op; the returned function removes h and unsubscribes when the
// last handler is gone.
func (c *Client) Subscribe(topic, rosType string, queueLength int, h Handler) (func(), error) {
	c.subsMu.Lock()
	handlers, exists := c.subs[topic]
	if !exists {
		handlers = make(map[uint64]Handler)
		c.subs[topic] = handlers
	}
	c.nextSubID++
	id := c.nextSubID
	handlers[id] = h
	c.subsMu.Unlock()

	if !exists {
		if err := c.send(protocol.NewSubscribe(topic, rosType, queueLength)); err != nil {
			c.subsMu.Lock()
			delete(c.subs, topic)
			c.subsMu.Unlock()
			return nil, fmt.Errorf("failed to subscribe to %s: %w", topic, err)
		}
		c.logger.Debug("subscribed to topic", "topic", topic, "type", rosType)
	}

	var once sync.Once
	return func() {
		once.Do(func() { c.removeHandler(topic, id) })
	}, nil
}

func (c *Client) removeHandler(topic string, id uint64) {
	c.subsMu.Lock()
	handlers := c.subs[topic]
	delete(handlers, id)
	last := len(handlers) == 0
	if last {
		delete(c.subs, topic)
	}
	c.subsMu.Unlock()

	if last {
		if err := c.send(protocol.NewUnsubscribe(topic)); err != nil && !errors.Is(err, ErrClosed) {
			c.logger.Warn("unsubscribe failed", "topic", topic, "error", err)
		}
	}
}

// WaitForMessage blocks until one message arrives on topic or ctx ends.
func (c *Client) WaitForMessage(ctx context.Context, topic, rosType string) (*protocol.Message, error) {
	got := make(chan *protocol.Message, 1)
	unsubscribe, err := c.Subscribe(topic, rosType, 1, func(msg *protocol.Message) {
		select {
		case got <- msg:
		default:
		}
	})
	if err != nil {
		return nil, err
	}
	defer unsubscribe()

	select {
	case msg := <-got:
		return msg, nil
	case <-c.done:
		return nil, ErrNotConnected
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// readLoop dispatches incoming publish ops until the connection fails.
func (c *Client) readLoop(ws *websocket.Conn) {
	defer func() {
		c.mu.Lock()
		if c.ws == ws {
			c.ws = nil
		}
		c.mu.Unlock()
		ws.Close()
		c.markDone()
	}()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			c.mu.RLock()
			closed := c.closed
			c.mu.RUnlock()
			if !closed {
				c.logger.Warn("rosbridge read failed", "error", err)
			}
			return
		}
		c.messagesReceived.Add(1)

		msg, err := protocol.ParseMessage(data)
		if err != nil {
			c.logger.Debug("dropping malformed bridge message", "error", err)
			continue
		}

		switch msg.Op {
		case protocol.OpPublish:
			c.dispatch(msg)
		case protocol.OpStatus:
			c.logger.Warn("rosbridge status", "level", msg.Level, "text", msg.StatusText())
		}
	}
}

func (c *Client) dispatch(msg *protocol.Message) {
	c.subsMu.Lock()
	handlers := make([]Handler, 0, len(c.subs[msg.Topic]))
	for _, h := range c.subs[msg.Topic] {
		handlers = append(handlers, h)
	}
	c.subsMu.Unlock()

	for _, h := range handlers {
		h(msg)
	}
}

func (c *Client) markDone() {
	c.doneOne.Do(func() { close(c.done) })
}

// Close closes the session and releases resources.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	ws := c.ws
	c.mu.Unlock()

	if ws == nil {
		c.markDone()
		return nil
	}

	c.writeMu.Lock()
	ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()

	err := ws.Close()
	c.markDone()
	c.logger.Info("rosbridge client closed")
	if err != nil && !errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("failed to close connection: %w", err)
	}
	return nil
}

// Stats returns client statistics.
func (c *Client) Stats() ClientStats {
	return ClientStats{
		Connected:        c.IsConnected(),
		MessagesSent:     c.messagesSent.Load(),
		MessagesReceived: c.messagesReceived.Load(),
		ReconnectCount:   c.reconnectCount.Load(),
	}
}

// ClientStats contains client statistics.
type ClientStats struct {
	Connected        bool  `json:"connected"`
	MessagesSent     int64 `json:"messages_sent"`
	MessagesReceived int64 `json:"messages_received"`
	ReconnectCount   int64 `json:"reconnect_count"`
}
