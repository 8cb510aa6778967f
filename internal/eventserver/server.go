package eventserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/grandcat/zeroconf"
	"go.uber.org/zap"

	"github.com/muurk/rkflash/internal/discovery"
	"github.com/muurk/rkflash/internal/engine"
	"github.com/muurk/rkflash/internal/logging"
)

const (
	// DefaultPath is where clients upgrade to WebSocket
	DefaultPath = discovery.DefaultEventsPath

	// clientBuffer is how many messages a client may fall behind before it
	// is dropped
	clientBuffer = 64
)

// Config holds the server configuration
type Config struct {
	Addr      string   // Listen address (e.g., ":8765", "127.0.0.1:0")
	Path      string   // WebSocket path (default "/events")
	Advertise bool     // Register an mDNS service for the stream
	Instance  string   // mDNS instance name (default "rkflash")
	TXT       []string // Extra TXT records (e.g., "chip=RK3188")
}

// Server broadcasts engine events to WebSocket clients. It implements
// engine.Sink and never blocks the workflow: a client whose buffer is full
// is disconnected.
type Server struct {
	config   Config
	listener net.Listener
	http     *http.Server
	upgrader websocket.Upgrader
	mdns     *zeroconf.Server
	logger   *zap.Logger

	wg      sync.WaitGroup
	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
}

var _ engine.Sink = (*Server)(nil)

// New creates a new Server instance
func New(config Config) *Server {
	if config.Path == "" {
		config.Path = DefaultPath
	}
	if config.Instance == "" {
		config.Instance = discovery.InstancePrefix
	}
	return &Server{
		config: config,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Front ends are served from anywhere; the stream is read only
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger:  logging.GetLogger(),
		clients: make(map[*client]struct{}),
	}
}

// Start binds the listener and serves in the background
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Addr, err)
	}
	s.listener = listener

	mux := http.NewServeMux()
	mux.HandleFunc(s.config.Path, s.handleWebSocket)
	s.http = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.http.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Event server stopped", zap.Error(err))
		}
	}()

	s.logger.Info("Event server listening",
		zap.String("addr", listener.Addr().String()),
		zap.String("path", s.config.Path),
	)

	if s.config.Advertise {
		if err := s.advertise(); err != nil {
			_ = s.Shutdown(context.Background())
			return err
		}
	}
	return nil
}

// advertise registers the stream over mDNS
func (s *Server) advertise() error {
	_, portStr, err := net.SplitHostPort(s.listener.Addr().String())
	if err != nil {
		return fmt.Errorf("failed to read listen port: %w", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return fmt.Errorf("failed to read listen port: %w", err)
	}

	txt := append([]string{"path=" + s.config.Path}, s.config.TXT...)
	server, err := zeroconf.Register(s.config.Instance, discovery.ServiceType, discovery.ServiceDomain, port, txt, nil)
	if err != nil {
		return fmt.Errorf("failed to register mDNS service: %w", err)
	}
	s.mdns = server

	s.logger.Info("Advertising event stream",
		zap.String("instance", s.config.Instance),
		zap.String("service", discovery.ServiceType),
		zap.Int("port", port),
	)
	return nil
}

// Addr returns the bound address, or nil before Start
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// URL returns the ws:// URL clients connect to
func (s *Server) URL() string {
	return "ws://" + s.Addr().String() + s.config.Path
}

// Emit implements engine.Sink
func (s *Server) Emit(ev engine.Event) {
	data, err := json.Marshal(NewMessage(ev))
	if err != nil {
		s.logger.Error("Failed to marshal event", zap.Error(err))
		return
	}
	s.Broadcast(data)
}

// Broadcast queues data for every client. Clients that cannot keep up
// are dropped.
func (s *Server) Broadcast(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for c := range s.clients {
		select {
		case c.send <- data:
		default:
			s.logger.Warn("Dropping slow event client", zap.String("remote_addr", c.remote))
			s.removeLocked(c)
		}
	}
}

// GetActiveConnections returns the number of connected clients
func (s *Server) GetActiveConnections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

func (s *Server) add(c *client) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.clients[c] = struct{}{}
	return true
}

func (s *Server) remove(c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(c)
}

// removeLocked closes the send queue once. The write pump then closes the
// connection. Callers hold s.mu.
func (s *Server) removeLocked(c *client) {
	if _, ok := s.clients[c]; !ok {
		return
	}
	delete(s.clients, c)
	close(c.send)
}

// Shutdown stops advertising, disconnects clients and waits for the
// handlers to finish
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Debug("Shutting down event server")

	if s.mdns != nil {
		s.mdns.Shutdown()
		s.mdns = nil
	}

	s.mu.Lock()
	s.closed = true
	for c := range s.clients {
		s.removeLocked(c)
	}
	s.mu.Unlock()

	var err error
	if s.http != nil {
		err = s.http.Shutdown(ctx)
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("Event server shutdown timeout, forcing close")
		if err == nil {
			err = ctx.Err()
		}
	}
	return err
}
