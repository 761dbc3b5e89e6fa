package websocket

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/brianly1003/nrelay/internal/domain"
	"github.com/brianly1003/nrelay/internal/metrics"
	"github.com/brianly1003/nrelay/internal/security"
	"github.com/brianly1003/nrelay/internal/sync"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

const (
	// Time allowed to write a frame to the peer.
	writeWait = 10 * time.Second

	// Default maximum inbound frame size.
	defaultReadLimit = 128 * 1024

	// Send buffer size per client.
	sendBufferSize = 1024

	// Default interval between liveness pings.
	defaultHeartbeatInterval = 30 * time.Second

	// Consecutive unanswered pings before a client is terminated.
	maxMissedHeartbeats = 2

	// Upper bound for the admission check.
	admissionTimeout = 5 * time.Second
)

// RateGate decides whether a new connection from addr is admitted.
type RateGate interface {
	IsLimited(ctx context.Context, addr string) bool
}

// Option configures a Server.
type Option func(*Server)

// WithMaxPayloadSize sets the maximum inbound frame size for new clients.
func WithMaxPayloadSize(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxPayloadSize = n
		}
	}
}

// WithHeartbeatInterval sets the ping interval.
func WithHeartbeatInterval(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.heartbeatInterval = d
		}
	}
}

// WithTrustedProxies sets the proxies allowed to supply forwarded client addresses.
func WithTrustedProxies(nets security.Networks) Option {
	return func(s *Server) { s.trustedProxies = nets }
}

// WithMessageLimit throttles inbound frames on every new connection.
func WithMessageLimit(limit float64, burst int) Option {
	return func(s *Server) {
		s.messageLimit = rate.Limit(limit)
		s.messageBurst = burst
	}
}

// WithOriginChecker restricts which origins may upgrade.
func WithOriginChecker(oc *security.OriginChecker) Option {
	return func(s *Server) { s.upgrader.CheckOrigin = oc.CheckOrigin }
}

// WithInfoHandler serves non-upgrade requests on "/".
func WithInfoHandler(h http.Handler) Option {
	return func(s *Server) { s.infoHandler = h }
}

// WithMetrics records connection metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// Server admits WebSocket connections and tracks them until they close.
type Server struct {
	addr           string
	server         *http.Server
	router         *mux.Router
	upgrader       websocket.Upgrader
	gate           RateGate
	handler        FrameHandler
	infoHandler    http.Handler
	metrics        *metrics.Metrics
	trustedProxies security.Networks

	maxPayloadSize    int64
	heartbeatInterval time.Duration
	messageLimit      rate.Limit
	messageBurst      int

	listenerMu sync.Mutex
	listener   net.Listener

	mu      sync.RWMutex
	clients map[string]*Client
	closed  bool

	heartbeatDone chan struct{}
	heartbeatWG   sync.WaitGroup
}

// NewServer creates a new Server listening on addr.
func NewServer(addr string, gate RateGate, handler FrameHandler, opts ...Option) *Server {
	s := &Server{
		addr:    addr,
		gate:    gate,
		handler: handler,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		maxPayloadSize:    defaultReadLimit,
		heartbeatInterval: defaultHeartbeatInterval,
		clients:           make(map[string]*Client),
		heartbeatDone:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.router = mux.NewRouter()
	s.router.HandleFunc("/", s.handleRoot)

	s.server = &http.Server{
		Addr:    addr,
		Handler: s.router,
		// No ReadTimeout/WriteTimeout: they would cut long-lived WebSocket
		// connections. The pumps manage their own deadlines.
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

// Router returns the HTTP router so callers can mount extra routes.
func (s *Server) Router() *mux.Router {
	return s.router
}

// Start binds the listener and starts serving and heartbeats.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}

	s.listenerMu.Lock()
	s.listener = ln
	s.listenerMu.Unlock()

	log.Info().Str("addr", ln.Addr().String()).Msg("relay server listening")

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("relay server error")
		}
	}()

	s.heartbeatWG.Add(1)
	go s.heartbeatLoop()

	return nil
}

// Addr returns the bound address, or the configured one before Start.
func (s *Server) Addr() string {
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// Shutdown stops heartbeats, terminates every tracked client, then closes the
// listener and runs onComplete. Calls after the first return nil.
func (s *Server) Shutdown(ctx context.Context, onComplete func()) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	clients := make([]*Client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.clients = make(map[string]*Client)
	s.mu.Unlock()

	log.Info().Int("clients", len(clients)).Msg("relay server stopping")

	close(s.heartbeatDone)
	s.heartbeatWG.Wait()

	for _, c := range clients {
		c.Terminate()
	}

	err := s.server.Shutdown(ctx)
	if err != nil {
		log.Error().Err(err).Msg("relay server shutdown error")
	}

	if onComplete != nil {
		onComplete()
	}

	return err
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if websocket.IsWebSocketUpgrade(r) {
		s.HandleConnection(w, r)
		return
	}

	if s.infoHandler != nil {
		s.infoHandler.ServeHTTP(w, r)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("Please use a Nostr client to connect.\n"))
}

// HandleConnection admits one incoming connection: the rate gate is consulted
// first, and limited connections are dropped without a handshake response.
func (s *Server) HandleConnection(w http.ResponseWriter, r *http.Request) {
	remoteAddr := security.ClientAddr(r, s.trustedProxies)

	ctx, cancel := context.WithTimeout(r.Context(), admissionTimeout)
	limited := s.gate != nil && s.gate.IsLimited(ctx, remoteAddr)
	cancel()

	if limited {
		log.Info().Str("remote_addr", remoteAddr).Msg("client terminated: rate-limited")
		s.metrics.AdmissionRejected()
		dropConnection(w)
		return
	}

	if s.isClosed() {
		http.Error(w, domain.ErrRelayClosed.Error(), http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debug().Err(err).Str("remote_addr", remoteAddr).Msg("websocket upgrade failed")
		return
	}

	opts := []ClientOption{WithReadLimit(s.maxPayloadSize)}
	if s.messageLimit > 0 {
		opts = append(opts, WithClientMessageLimit(s.messageLimit, s.messageBurst))
	}

	client := NewClient(conn, remoteAddr, s.handler, opts...)
	client.OnClose(s.removeClient)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		client.Terminate()
		return
	}
	s.clients[client.ID()] = client
	count := len(s.clients)
	s.mu.Unlock()

	s.metrics.ConnectionAccepted()
	log.Info().
		Str("client_id", client.ID()).
		Str("remote_addr", remoteAddr).
		Int("total_clients", count).
		Msg("client connected")

	client.Start()
}

// dropConnection closes the underlying TCP connection without writing a response.
func dropConnection(w http.ResponseWriter) {
	if hj, ok := w.(http.Hijacker); ok {
		if conn, _, err := hj.Hijack(); err == nil {
			_ = conn.Close()
			return
		}
	}
	w.WriteHeader(http.StatusTooManyRequests)
}

func (s *Server) removeClient(c *Client) {
	s.mu.Lock()
	delete(s.clients, c.ID())
	count := len(s.clients)
	s.mu.Unlock()

	log.Info().Str("client_id", c.ID()).Int("total_clients", count).Msg("client disconnected")
}

func (s *Server) isClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

// snapshot copies the tracked clients so callers can iterate without the lock.
func (s *Server) snapshot() []*Client {
	s.mu.RLock()
	defer s.mu.RUnlock()
	clients := make([]*Client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	return clients
}

// Broadcast delivers ev to every open client whose subscriptions match it.
// Clients that are not open are skipped.
func (s *Server) Broadcast(ev *domain.Event) {
	delivered := 0
	for _, c := range s.snapshot() {
		if !c.IsOpen() {
			continue
		}
		delivered += c.DeliverEvent(ev)
	}
	s.metrics.Delivered(delivered)

	log.Debug().Str("event_id", ev.ID).Int("deliveries", delivered).Msg("event broadcast")
}

// ConnectedCount returns the number of tracked clients whose transport is open.
func (s *Server) ConnectedCount() int {
	n := 0
	for _, c := range s.snapshot() {
		if c.IsOpen() {
			n++
		}
	}
	return n
}

// GetClient returns a tracked client by ID.
func (s *Server) GetClient(id string) *Client {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.clients[id]
}

// heartbeatLoop pings every tracked client at the heartbeat interval.
func (s *Server) heartbeatLoop() {
	defer s.heartbeatWG.Done()

	ticker := time.NewTicker(s.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.heartbeatDone:
			return
		case <-ticker.C:
			for _, c := range s.snapshot() {
				c.Heartbeat()
			}
		}
	}
}
