// Package bridge exposes the robot to an external program over a local websocket:
// commands in, telemetry out.
package bridge

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/zeusync/rigsim/internal/config"
	"github.com/zeusync/rigsim/internal/core/events/bus"
	"github.com/zeusync/rigsim/internal/core/observability/log"
)

const writeTimeout = 2 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// replyQueue bounds the error replies waiting for one client.
const replyQueue = 16

type client struct {
	conn *websocket.Conn

	mu     sync.Mutex
	closed bool
	done   chan struct{}
	// send holds at most the latest telemetry frame.
	send chan []byte
	// replies holds control frames; they are never replaced by telemetry.
	replies chan []byte
}

func newClient(conn *websocket.Conn) *client {
	return &client{
		conn:    conn,
		done:    make(chan struct{}),
		send:    make(chan []byte, 1),
		replies: make(chan []byte, replyQueue),
	}
}

func (c *client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.done)
	if c.conn != nil {
		_ = c.conn.Close()
	}
}

// offer queues msg, replacing an unsent older frame when the client is behind.
func (c *client) offer(msg []byte) (dropped bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	for {
		select {
		case c.send <- msg:
			return dropped
		default:
		}
		select {
		case <-c.send:
			dropped = true
		default:
		}
	}
}

// reply queues a control frame, waiting for room rather than dropping it.
func (c *client) reply(msg []byte) bool {
	select {
	case c.replies <- msg:
		return true
	case <-c.done:
		return false
	}
}

// next returns the frame to write, control frames first.
func (c *client) next() ([]byte, bool) {
	select {
	case msg := <-c.replies:
		return msg, true
	default:
	}
	select {
	case <-c.done:
		return nil, false
	case msg := <-c.replies:
		return msg, true
	case msg := <-c.send:
		return msg, true
	}
}

// Server is the websocket bridge.
type Server struct {
	cfg      config.BridgeConfig
	controls Controls
	bus      bus.EventBus
	logger   log.Log

	mu      sync.Mutex
	clients map[*client]struct{}
	server  *http.Server
	sub     bus.Subscription
	running atomic.Bool
	closed  atomic.Bool
	dropped atomic.Uint64
}

func NewServer(cfg config.BridgeConfig, controls Controls, b bus.EventBus, logger log.Log) *Server {
	return &Server{
		cfg:      cfg,
		controls: controls,
		bus:      b,
		logger:   logger.With(log.Component("bridge")),
		clients:  make(map[*client]struct{}),
	}
}

// Handler returns the websocket endpoint. Telemetry flows once Attach or Start has
// subscribed to the bus.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(s.path(), s.handleWebSocket)
	return mux
}

func (s *Server) path() string {
	if s.cfg.Path == "" {
		return "/robot"
	}
	return s.cfg.Path
}

// Attach subscribes to per-frame telemetry.
func (s *Server) Attach() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sub != nil {
		return nil
	}
	sub, err := s.bus.SubscribeTopic(bus.TopicRobot, bus.TypeTelemetry, s.onTelemetry)
	if err != nil {
		return err
	}
	s.sub = sub
	return nil
}

// Start listens on the configured address until Stop.
func (s *Server) Start(ctx context.Context) error {
	if s.closed.Load() {
		return ErrServerClosed
	}
	if !s.running.CompareAndSwap(false, true) {
		return ErrServerAlreadyRunning
	}
	if err := s.Attach(); err != nil {
		return err
	}
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		s.running.Store(false)
		return err
	}
	srv := &http.Server{
		Handler:     s.Handler(),
		BaseContext: func(net.Listener) context.Context { return ctx },
	}
	s.mu.Lock()
	s.server = srv
	s.mu.Unlock()
	s.logger.Info("bridge listening", log.String("addr", ln.Addr().String()), log.String("path", s.path()))
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("bridge stopped", log.Error(err))
		}
	}()
	return nil
}

// Stop closes every client and shuts the listener down.
func (s *Server) Stop(ctx context.Context) error {
	if s.closed.Swap(true) {
		return nil
	}
	s.mu.Lock()
	srv := s.server
	sub := s.sub
	clients := s.clients
	s.clients = make(map[*client]struct{})
	s.mu.Unlock()

	if sub != nil {
		_ = sub.Cancel()
	}
	for c := range clients {
		c.close()
	}
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// Dropped returns how many telemetry frames were replaced before a slow client read them.
func (s *Server) Dropped() uint64 { return s.dropped.Load() }

// Clients returns the number of connected clients.
func (s *Server) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

func (s *Server) onTelemetry(e bus.Event) error {
	s.mu.Lock()
	if len(s.clients) == 0 {
		s.mu.Unlock()
		return nil
	}
	clients := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	msg, err := encode(TypeTelemetry, e.Data())
	if err != nil {
		return err
	}
	for _, c := range clients {
		if c.offer(msg) {
			s.dropped.Add(1)
		}
	}
	return nil
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.closed.Load() {
		http.Error(w, ErrServerClosed.Error(), http.StatusServiceUnavailable)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", log.Error(err))
		return
	}
	c := newClient(conn)
	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.mu.Unlock()
	s.logger.Info("client connected", log.String("remote", conn.RemoteAddr().String()))

	go s.writeLoop(c)
	s.readLoop(c)

	s.mu.Lock()
	delete(s.clients, c)
	s.mu.Unlock()
	c.close()
	s.logger.Info("client disconnected", log.String("remote", conn.RemoteAddr().String()))
}

func (s *Server) readLoop(c *client) {
	for {
		var env Envelope
		if err := c.conn.ReadJSON(&env); err != nil {
			return
		}
		if err := dispatch(s.controls, env); err != nil {
			msg, encErr := encode(TypeError, errorMessage{Message: err.Error()})
			if encErr == nil && !c.reply(msg) {
				return
			}
		}
	}
}

func (s *Server) writeLoop(c *client) {
	for {
		msg, ok := c.next()
		if !ok {
			return
		}
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			c.close()
			return
		}
	}
}
