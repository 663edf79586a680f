// Package client drives a simulated robot over the bridge's WebSocket endpoint.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/zeusync/rigsim/internal/bridge"
	"github.com/zeusync/rigsim/internal/core/observability/log"
	"github.com/zeusync/rigsim/internal/core/robot"
)

// Client is one connection to the robot bridge.
type Client struct {
	conn    *websocket.Conn
	writeMu sync.Mutex

	telemetryHandlers []TelemetryHandler
	eventHandlers     map[EventType][]EventHandler
	handlerMutex      sync.RWMutex

	latest atomic.Pointer[robot.Telemetry]

	connected atomic.Bool
	closed    atomic.Bool
	done      chan struct{}

	config Config
	logger log.Log

	workerGroup sync.WaitGroup
}

// Config holds configuration for the client
type Config struct {
	// URL is the bridge endpoint, for example ws://127.0.0.1:8765/robot.
	URL            string
	ConnectTimeout time.Duration
	WriteTimeout   time.Duration
	LogLevel       log.Level
}

// DefaultClientConfig returns default client configuration
func DefaultClientConfig() Config {
	return Config{
		URL:            "ws://127.0.0.1:8765/robot",
		ConnectTimeout: 5 * time.Second,
		WriteTimeout:   2 * time.Second,
		LogLevel:       log.LevelInfo,
	}
}

// TelemetryHandler receives every telemetry frame in arrival order.
type TelemetryHandler func(t robot.Telemetry)

// EventHandler defines a function type for handling client events
type EventHandler func(event Event)

// EventType represents different types of client events
type EventType string

const (
	EventTypeConnected    EventType = "connected"
	EventTypeDisconnected EventType = "disconnected"
	EventTypeError        EventType = "error"
)

// Event represents a client event
type Event struct {
	Type      EventType
	Timestamp time.Time
	Error     error
}

// NewClient creates a client; Connect opens the connection.
func NewClient(config Config) *Client {
	return &Client{
		eventHandlers: make(map[EventType][]EventHandler),
		done:          make(chan struct{}),
		config:        config,
		logger:        log.New(config.LogLevel).With(log.Component("client")),
	}
}

// Connect dials the bridge and starts reading telemetry.
func (c *Client) Connect(ctx context.Context) error {
	if c.closed.Load() {
		return ErrClientClosed
	}
	if c.config.URL == "" {
		return ErrInvalidConfig
	}
	if c.connected.Load() {
		return ErrAlreadyConnected
	}

	dialCtx := ctx
	if c.config.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, c.config.ConnectTimeout)
		defer cancel()
	}
	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, c.config.URL, nil)
	if err != nil {
		c.logger.Error("Failed to connect to bridge", log.String("url", c.config.URL), log.Error(err))
		return err
	}
	if !c.connected.CompareAndSwap(false, true) {
		_ = conn.Close()
		return ErrAlreadyConnected
	}
	c.conn = conn
	c.logger.Info("Connected to bridge", log.String("url", c.config.URL))

	c.workerGroup.Add(1)
	go c.readLoop(conn)

	c.emitEvent(Event{Type: EventTypeConnected, Timestamp: time.Now()})
	return nil
}

// Disconnect closes the connection and waits for the reader to stop.
func (c *Client) Disconnect() error {
	if !c.connected.CompareAndSwap(true, false) {
		return ErrNotConnected
	}
	c.writeMu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	c.writeMu.Unlock()
	_ = c.conn.Close()
	c.workerGroup.Wait()
	c.logger.Info("Disconnected from bridge")
	return nil
}

// Close closes the client and releases all resources
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	if c.connected.Load() {
		_ = c.Disconnect()
	}
	close(c.done)
	return nil
}

// Done is closed once Close has run.
func (c *Client) Done() <-chan struct{} { return c.done }

// Send replaces the robot's pending command.
func (c *Client) Send(cmd robot.Command) error {
	return c.send(bridge.TypeCommand, cmd)
}

// ClearPosition zeroes the position counter of a motor port.
func (c *Client) ClearPosition(port int) error {
	if port < 0 || port >= robot.NumMotors {
		return fmt.Errorf("%w: port %d", ErrInvalidMessage, port)
	}
	return c.send(bridge.TypeClearPosition, struct {
		Port int `json:"port"`
	}{port})
}

// ResetRobot puts the robot back where it was last placed.
func (c *Client) ResetRobot() error {
	return c.send(bridge.TypeResetRobot, nil)
}

// Latest returns the most recent telemetry frame.
func (c *Client) Latest() (robot.Telemetry, bool) {
	t := c.latest.Load()
	if t == nil {
		return robot.Telemetry{}, false
	}
	return *t, true
}

// OnTelemetry registers a telemetry handler. Handlers run on the read goroutine.
func (c *Client) OnTelemetry(handler TelemetryHandler) {
	c.handlerMutex.Lock()
	c.telemetryHandlers = append(c.telemetryHandlers, handler)
	c.handlerMutex.Unlock()
}

// OnEvent registers an event handler
func (c *Client) OnEvent(eventType EventType, handler EventHandler) {
	c.handlerMutex.Lock()
	c.eventHandlers[eventType] = append(c.eventHandlers[eventType], handler)
	c.handlerMutex.Unlock()
}

func (c *Client) send(typ string, v any) error {
	if c.closed.Load() {
		return ErrClientClosed
	}
	if !c.connected.Load() {
		return ErrNotConnected
	}
	env := bridge.Envelope{Type: typ}
	if v != nil {
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		env.Data = data
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.config.WriteTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	}
	return c.conn.WriteJSON(env)
}

func (c *Client) readLoop(conn *websocket.Conn) {
	defer c.workerGroup.Done()
	for {
		var env bridge.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			if c.connected.CompareAndSwap(true, false) {
				c.logger.Warn("Bridge connection lost", log.Error(err))
				_ = conn.Close()
				c.emitEvent(Event{Type: EventTypeDisconnected, Timestamp: time.Now(), Error: err})
			}
			return
		}
		c.handle(env)
	}
}

func (c *Client) handle(env bridge.Envelope) {
	switch env.Type {
	case bridge.TypeTelemetry:
		var t robot.Telemetry
		if err := json.Unmarshal(env.Data, &t); err != nil {
			c.emitEvent(Event{Type: EventTypeError, Timestamp: time.Now(), Error: fmt.Errorf("%w: %v", ErrInvalidMessage, err)})
			return
		}
		c.latest.Store(&t)
		c.handlerMutex.RLock()
		handlers := c.telemetryHandlers
		c.handlerMutex.RUnlock()
		for _, h := range handlers {
			h(t)
		}
	case bridge.TypeError:
		remote := &RemoteError{}
		if err := json.Unmarshal(env.Data, remote); err != nil {
			remote.Message = string(env.Data)
		}
		c.emitEvent(Event{Type: EventTypeError, Timestamp: time.Now(), Error: remote})
	default:
		c.logger.Debug("Ignoring message", log.String("type", env.Type))
	}
}

func (c *Client) emitEvent(event Event) {
	c.handlerMutex.RLock()
	handlers := c.eventHandlers[event.Type]
	c.handlerMutex.RUnlock()
	for _, h := range handlers {
		h(event)
	}
}
