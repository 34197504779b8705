package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/qopyapp/p2pcore/internal/discovery"
	"github.com/qopyapp/p2pcore/internal/logging"
)

const (
	// Time allowed to write a message to the client
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the client
	pongWait = 60 * time.Second

	// Send pings to the client with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from the client
	maxMessageSize = 4096

	// shutdownTimeout bounds the graceful shutdown triggered by context
	// cancellation in ListenAndServe
	shutdownTimeout = 10 * time.Second
)

// PeerSource is the read side of a discovery service.
// *discovery.Service satisfies it.
type PeerSource interface {
	Peers() []*discovery.Peer
	PeerCount() int
	Peer(id string) (*discovery.Peer, bool)
	Subscribe() *discovery.Subscription
	SubscriberCount() int
}

// Config holds the feed server configuration
type Config struct {
	// Addr is the TCP listen address, e.g. ":8787"
	Addr string

	// MetricsHandler serves /metrics when set
	MetricsHandler http.Handler
}

// Server serves the discovery state over HTTP and WebSocket
type Server struct {
	config   *Config
	source   PeerSource
	upgrader websocket.Upgrader

	mu          sync.Mutex
	httpServer  *http.Server
	activeConns map[string]*websocket.Conn
	closing     bool
	wg          sync.WaitGroup
}

// New creates a new feed server
func New(config *Config, source PeerSource) *Server {
	if config == nil {
		config = &Config{}
	}
	return &Server{
		config: config,
		source: source,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The feed is read-only and meant for LAN tooling
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		activeConns: make(map[string]*websocket.Conn),
	}
}

// Handler returns the HTTP handler with every route mounted.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", logRequests(s.handleHealth))
	mux.HandleFunc("GET /stats", logRequests(s.handleStats))
	mux.HandleFunc("GET /peers", logRequests(s.handlePeers))
	mux.HandleFunc("GET /peers/{id}", logRequests(s.handlePeer))
	if s.config.MetricsHandler != nil {
		mux.Handle("GET /metrics", s.config.MetricsHandler)
	}
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	return mux
}

// ListenAndServe listens on Config.Addr and serves until ctx is done, then
// shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is done. It returns nil after a
// clean shutdown.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	httpServer := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: writeWait,
	}
	s.mu.Lock()
	s.httpServer = httpServer
	s.mu.Unlock()

	logging.Info("Feed server listening", zap.String("addr", ln.Addr().String()))

	errChan := make(chan error, 1)
	go func() {
		errChan <- httpServer.Serve(ln)
	}()

	select {
	case err := <-errChan:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("feed server error: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := s.Shutdown(shutdownCtx)
		<-errChan
		return err
	}
}

// Shutdown stops accepting requests, closes every WebSocket client and waits
// for their handlers to return or ctx to end.
func (s *Server) Shutdown(ctx context.Context) error {
	logging.Info("Shutting down feed server...")

	s.mu.Lock()
	httpServer := s.httpServer
	s.mu.Unlock()

	var err error
	if httpServer != nil {
		// Hijacked WebSocket connections are not tracked by http.Server
		if serr := httpServer.Shutdown(ctx); serr != nil {
			err = fmt.Errorf("failed to shut down http server: %w", serr)
		}
	}

	s.mu.Lock()
	s.closing = true
	for addr, conn := range s.activeConns {
		logging.Debug("Closing WebSocket client", zap.String("remote_addr", addr))
		_ = conn.Close()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logging.Info("All feed clients closed")
	case <-ctx.Done():
		logging.Warn("Feed shutdown timeout, abandoning clients")
		if err == nil {
			err = ctx.Err()
		}
	}
	return err
}

// ActiveConnections returns the number of connected WebSocket clients
func (s *Server) ActiveConnections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.activeConns)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, Stats{
		Peers:       s.source.PeerCount(),
		Subscribers: s.source.SubscriberCount(),
		Connections: s.ActiveConnections(),
	})
}

func (s *Server) handlePeers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, peerInfos(s.source.Peers()))
}

func (s *Server) handlePeer(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	peer, ok := s.source.Peer(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, errorBody{Error: fmt.Sprintf("peer %q not found", id)})
		return
	}
	writeJSON(w, http.StatusOK, NewPeerInfo(peer))
}

// handleWebSocket upgrades the request and streams events until either side
// goes away. The subscription is taken before the welcome snapshot so no
// event between the two is lost.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	remoteAddr := r.RemoteAddr

	// Counted before the upgrade: once hijacked, http.Server.Shutdown no
	// longer waits for this handler.
	s.wg.Add(1)
	defer s.wg.Done()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an error response
		logging.Warn("WebSocket upgrade failed",
			zap.String("remote_addr", remoteAddr),
			zap.Error(err),
		)
		return
	}

	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		logging.Debug("Rejecting WebSocket client during shutdown", zap.String("remote_addr", remoteAddr))
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(writeWait))
		_ = conn.Close()
		return
	}
	s.activeConns[remoteAddr] = conn
	s.mu.Unlock()
	logging.LogConnection(remoteAddr, "websocket_opened")

	defer func() {
		s.mu.Lock()
		delete(s.activeConns, remoteAddr)
		s.mu.Unlock()
		logging.LogConnection(remoteAddr, "websocket_closed")
	}()

	c := &client{
		conn:       conn,
		sub:        s.source.Subscribe(),
		remoteAddr: remoteAddr,
	}

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		c.writePump(s.source.Peers())
	}()

	c.readPump()
	c.sub.Close()
	<-writerDone
}

// client is one WebSocket connection. writePump is the only writer.
type client struct {
	conn       *websocket.Conn
	sub        *discovery.Subscription
	remoteAddr string
}

// readPump discards incoming messages and returns when the connection
// fails or the pong deadline passes.
func (c *client) readPump() {
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logging.Debug("WebSocket read error",
					zap.String("remote_addr", c.remoteAddr),
					zap.Error(err),
				)
			}
			return
		}
		logging.LogWebSocketMessage(c.remoteAddr, "received", msgType, data)
	}
}

// writePump sends the welcome snapshot, then one message per event and a
// ping every pingPeriod. It closes the connection on exit, which also ends
// readPump.
func (c *client) writePump(snapshot []*discovery.Peer) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	if err := c.writeJSON(WelcomeMessage(snapshot)); err != nil {
		return
	}

	for {
		select {
		case ev, ok := <-c.sub.C():
			if !ok {
				_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "feed closed"))
				return
			}
			if err := c.writeJSON(EventMessage(ev, c.sub.Missed())); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *client) writeJSON(msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode %s message: %w", msg.Type, err)
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		logging.Debug("WebSocket write failed",
			zap.String("remote_addr", c.remoteAddr),
			zap.Error(err),
		)
		return err
	}
	logging.LogWebSocketMessage(c.remoteAddr, "sent", websocket.TextMessage, data)
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Debug("Failed to write JSON response", zap.Error(err))
	}
}

// statusRecorder captures the response status for request logging.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func logRequests(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)
		logging.LogHTTPRequest(r.RemoteAddr, r.Method, r.URL.Path, rec.status)
	}
}
