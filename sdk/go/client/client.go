// Package client connects to an environment server and keeps a local entity
// registry in sync with it.
package client

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/umi3d/umisync/internal/core/dispatch"
	"github.com/umi3d/umisync/internal/core/events/bus"
	"github.com/umi3d/umisync/internal/core/observability/log"
	"github.com/umi3d/umisync/internal/core/operation"
	"github.com/umi3d/umisync/internal/core/registry"
	"github.com/umi3d/umisync/internal/transport"
)

// Config holds configuration for the client
type Config struct {
	// URL is the websocket endpoint, e.g. ws://host:8080/ws.
	URL string
	// QUICAddr selects the QUIC transport instead of websocket when set.
	QUICAddr string
	TLS      *tls.Config
	// InsecureTLS skips server certificate verification on QUIC.
	InsecureTLS bool

	Environment string
	Token       string

	ConnectTimeout      time.Duration
	QueueSize           int
	StrictMissingEntity bool
	WaitTimeout         time.Duration

	Transport transport.Options
}

// DefaultClientConfig returns default client configuration
func DefaultClientConfig() Config {
	return Config{
		URL:            "ws://127.0.0.1:8080/ws",
		Environment:    "default",
		ConnectTimeout: 10 * time.Second,
		QueueSize:      256,
		WaitTimeout:    30 * time.Second,
		Transport:      transport.DefaultOptions(),
	}
}

func (c Config) Validate() error {
	switch {
	case c.URL == "" && c.QUICAddr == "":
		return fmt.Errorf("%w: no server address", ErrInvalidConfig)
	case c.Environment == "":
		return fmt.Errorf("%w: empty environment", ErrInvalidConfig)
	case c.ConnectTimeout <= 0:
		return fmt.Errorf("%w: connect timeout must be positive", ErrInvalidConfig)
	}
	return nil
}

// EventHandler defines a function type for handling client events
type EventHandler func(event Event) error

// EventType represents different types of client events
type EventType string

const (
	EventTypeConnected    EventType = "connected"
	EventTypeDisconnected EventType = "disconnected"
	// EventTypeError reports a received transaction that aborted.
	EventTypeError EventType = "error"
)

// Event represents a client event
type Event struct {
	Type      EventType
	Timestamp time.Time
	Error     error
}

type Option func(*Client)

// WithLoader sets the resource loader used for received Load operations.
func WithLoader(l dispatch.ResourceLoader) Option {
	return func(c *Client) { c.loader = l }
}

// WithBus sets the bus carrying the client's events and the lifecycle events
// of its local registry. Each client gets its own bus otherwise.
func WithBus(b bus.EventBus) Option {
	return func(c *Client) { c.bus = b }
}

// Client mirrors one environment of a server.
type Client struct {
	id     string
	config Config
	logger log.Log
	loader dispatch.ResourceLoader
	bus    bus.EventBus

	reg  *registry.Registry
	disp *dispatch.Dispatcher

	mu     sync.Mutex
	conn   transport.Conn
	runner *dispatch.Runner
	cancel context.CancelFunc

	connected atomic.Bool
	closed    atomic.Bool
	workers   sync.WaitGroup
}

// NewClient creates a disconnected client with an empty local registry.
func NewClient(config Config, logger log.Log, opts ...Option) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.Provide()
	}
	c := &Client{
		id:     uuid.NewString(),
		config: config,
		logger: logger.With(log.Component("client"), log.Environment(config.Environment)),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.bus == nil {
		c.bus = bus.New()
	}

	c.reg = registry.New(config.Environment,
		registry.WithLogger(c.logger),
		registry.WithWaitTimeout(config.WaitTimeout),
		registry.WithBus(c.bus),
	)

	dispOpts := []dispatch.Option{
		dispatch.WithLogger(c.logger),
		dispatch.WithStrictMissingEntity(config.StrictMissingEntity),
	}
	if c.loader != nil {
		dispOpts = append(dispOpts, dispatch.WithLoader(c.loader))
	}
	disp, err := dispatch.New(c.reg, dispOpts...)
	if err != nil {
		return nil, err
	}
	c.disp = disp
	return c, nil
}

// Registry is the local mirror of the environment.
func (c *Client) Registry() *registry.Registry {
	return c.reg
}

func (c *Client) Dispatcher() *dispatch.Dispatcher {
	return c.disp
}

// Connect dials the server and starts applying the transactions it sends.
func (c *Client) Connect(ctx context.Context) error {
	if c.closed.Load() {
		return ErrClientClosed
	}
	if c.connected.Load() {
		return ErrAlreadyConnected
	}

	connectCtx, cancel := context.WithTimeout(ctx, c.config.ConnectTimeout)
	defer cancel()
	conn, err := c.dial(connectCtx)
	if err != nil {
		c.logger.Error("failed to connect", log.Error(err))
		return err
	}

	runCtx, stop := context.WithCancel(context.Background())
	runner := c.disp.NewRunner(c.config.QueueSize, func(err error) {
		c.emitEvent(Event{Type: EventTypeError, Timestamp: time.Now(), Error: err})
	})

	c.mu.Lock()
	c.conn, c.runner, c.cancel = conn, runner, stop
	c.mu.Unlock()
	c.connected.Store(true)

	c.workers.Add(2)
	go func() {
		defer c.workers.Done()
		_ = runner.Run(runCtx)
	}()
	go func() {
		defer c.workers.Done()
		c.receive(runCtx, conn, runner)
	}()

	c.logger.Info("connected", log.String("transport", conn.Transport()), log.String("remote_addr", conn.RemoteAddr().String()))
	c.emitEvent(Event{Type: EventTypeConnected, Timestamp: time.Now()})
	return nil
}

func (c *Client) dial(ctx context.Context) (transport.Conn, error) {
	if c.config.QUICAddr != "" {
		tlsConf := c.config.TLS
		if tlsConf == nil {
			if !c.config.InsecureTLS {
				return nil, fmt.Errorf("%w: quic needs TLS or InsecureTLS", ErrInvalidConfig)
			}
			tlsConf = transport.InsecureClientTLS()
		}
		return transport.DialQUIC(ctx, c.config.QUICAddr, tlsConf, c.config.Transport, c.logger)
	}

	u, err := url.Parse(c.config.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	q := u.Query()
	q.Set("env", c.config.Environment)
	if c.config.Token != "" {
		q.Set("token", c.config.Token)
	}
	u.RawQuery = q.Encode()
	return transport.DialWebsocket(ctx, u.String(), c.config.Transport, c.logger)
}

// receive feeds frames to the runner in arrival order. Once the connection
// fails, the queued frames are still applied.
func (c *Client) receive(ctx context.Context, conn transport.Conn, runner *dispatch.Runner) {
	defer runner.Close()
	for {
		f, err := conn.Receive(ctx)
		if err != nil {
			if c.connected.CompareAndSwap(true, false) {
				if !errors.Is(err, transport.ErrConnectionClosed) {
					c.logger.Warn("connection lost", log.Error(err))
				}
				c.emitEvent(Event{Type: EventTypeDisconnected, Timestamp: time.Now(), Error: err})
			}
			return
		}
		if err := runner.Enqueue(ctx, dispatch.Payload{Data: f.Payload, Object: f.Flags.Object()}); err != nil {
			return
		}
	}
}

// Send publishes a transaction to the environment in binary form. The local
// registry is only updated once the server echoes state back.
func (c *Client) Send(ctx context.Context, tx *operation.Transaction) error {
	if tx == nil {
		return fmt.Errorf("%w: nil transaction", dispatch.ErrInvalidOperation)
	}
	return c.send(ctx, transport.NewFrame(tx.ToBytes(), tx.Reliable, false))
}

// SendObject publishes a transaction in JSON object form.
func (c *Client) SendObject(ctx context.Context, tx *operation.Transaction) error {
	data, err := operation.MarshalTransactionJSON(tx)
	if err != nil {
		return err
	}
	return c.send(ctx, transport.NewFrame(data, tx.Reliable, true))
}

func (c *Client) send(ctx context.Context, f transport.Frame) error {
	if c.closed.Load() {
		return ErrClientClosed
	}
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil || !c.connected.Load() {
		return ErrNotConnected
	}
	return conn.Send(ctx, f)
}

// WaitForEntity blocks until the entity is loaded in the local registry.
func (c *Client) WaitForEntity(ctx context.Context, id uint64) (*registry.Entity, error) {
	return c.reg.WaitUntilLoaded(ctx, id)
}

// Disconnect closes the connection. Frames already received are applied
// before it returns.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	conn, stop := c.conn, c.cancel
	c.conn, c.cancel = nil, nil
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	wasConnected := c.connected.Swap(false)
	_ = conn.Close()
	c.workers.Wait()
	stop()
	if wasConnected {
		c.emitEvent(Event{Type: EventTypeDisconnected, Timestamp: time.Now()})
	}
	c.logger.Info("disconnected")
	return nil
}

// Close disconnects and closes the local registry.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	_ = c.Disconnect()
	return c.reg.Close()
}

// OnEvent registers an event handler. Handlers run on their own goroutine,
// in registration order. Cancel the subscription to stop receiving events.
func (c *Client) OnEvent(eventType EventType, handler EventHandler) (bus.Subscription, error) {
	if handler == nil {
		return nil, bus.ErrNilHandler
	}
	return c.bus.Subscribe(string(eventType), bus.Filtered(func(ev bus.Event) error {
		event, _ := ev.Data().(Event)
		return handler(event)
	}, c.ownEvents))
}

// ownEvents keeps the events of other clients sharing the bus out.
func (c *Client) ownEvents(ev bus.Event) bool {
	return ev.Source() == c.id
}

// OnEntity registers a handler for the lifecycle events of the local registry
// (registry.EventEntityRegistered and the others). With ids, only events of
// those entities are delivered.
func (c *Client) OnEntity(handler func(eventType string, ev registry.EntityEvent) error, ids ...uint64) (bus.Subscription, error) {
	if handler == nil {
		return nil, bus.ErrNilHandler
	}
	filters := []bus.EventFilter{func(ev bus.Event) bool {
		_, ok := ev.Data().(registry.EntityEvent)
		return ok
	}}
	if len(ids) > 0 {
		filters = append(filters, EntityFilter(ids...))
	}
	return c.bus.SubscribeTopic(c.config.Environment, bus.Wildcard, bus.Filtered(func(ev bus.Event) error {
		return handler(ev.Type(), ev.Data().(registry.EntityEvent))
	}, filters...))
}

// EntityFilter accepts the lifecycle events of the given entities.
func EntityFilter(ids ...uint64) bus.EventFilter {
	return func(ev bus.Event) bool {
		data, ok := ev.Data().(registry.EntityEvent)
		return ok && slices.Contains(ids, data.EntityID)
	}
}

func (c *Client) IsConnected() bool {
	return c.connected.Load()
}

// emitEvent publishes an event to the registered handlers without waiting
// for them.
func (c *Client) emitEvent(event Event) {
	done := c.bus.PublishAsync("", bus.NewEventAt(string(event.Type), c.id, event, event.Timestamp))
	go func() {
		if err := <-done; err != nil {
			c.logger.Error("event handler error", log.String("event", string(event.Type)), log.Error(err))
		}
	}()
}
