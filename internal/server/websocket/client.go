// Package websocket provides the relay's connection layer: the Server tracks
// admitted connections and the Client adapts one WebSocket to the relay.
//
// Architecture:
//
//	┌─────────────────────────────────────────────────────────────┐
//	│                         Server                              │
//	│  (admission, client index, heartbeat, broadcast, shutdown)  │
//	└─────────────────────────────┬───────────────────────────────┘
//	                              │
//	          ┌───────────────────┼───────────────────┐
//	          │                   │                   │
//	          ▼                   ▼                   ▼
//	    ┌──────────┐        ┌──────────┐        ┌──────────┐
//	    │ Client 1 │        │ Client 2 │        │ Client N │
//	    └──────────┘        └──────────┘        └──────────┘
//
// Each Client manages:
//   - A goroutine for reading incoming frames (readPump)
//   - A goroutine for writing outgoing frames (writePump)
//   - Heartbeat pings with a missed-ping counter
//   - The subscriptions opened on the connection
//
// Message Flow:
//   - Incoming: WebSocket → readPump → FrameHandler → dispatcher
//   - Outgoing: handlers / Server.Broadcast → Client.Send() → writePump → WebSocket
//
// Thread Safety:
//   - Send() is safe to call from any goroutine
//   - Close() and Terminate() are safe to call multiple times
//   - Frames from one connection are handled in arrival order
package websocket

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/brianly1003/nrelay/internal/domain"
	"github.com/brianly1003/nrelay/internal/message"
	"github.com/brianly1003/nrelay/internal/sync"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/nbd-wtf/go-nostr"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// State is the transport state of a Client.
type State int32

const (
	StateOpen State = iota
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Conn is the subset of *websocket.Conn used by Client.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetReadLimit(limit int64)
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

// FrameHandler handles one inbound text frame.
type FrameHandler func(ctx context.Context, c *Client, data []byte)

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithReadLimit sets the maximum inbound frame size in bytes.
func WithReadLimit(n int64) ClientOption {
	return func(c *Client) { c.readLimit = n }
}

// WithClientMessageLimit throttles inbound frames. A zero limit disables throttling.
func WithClientMessageLimit(limit rate.Limit, burst int) ClientOption {
	return func(c *Client) {
		if limit > 0 {
			c.limiter = rate.NewLimiter(limit, burst)
		}
	}
}

// Client adapts one WebSocket connection to the relay.
//
// Lifecycle:
//  1. Create with NewClient()
//  2. Register close callbacks with OnClose()
//  3. Start read/write pumps with Start()
//  4. Close with Close(), Terminate(), or wait for the peer to go away
type Client struct {
	id         string
	conn       Conn
	remoteAddr string
	handler    FrameHandler
	readLimit  int64
	limiter    *rate.Limiter

	ctx    context.Context
	cancel context.CancelFunc

	send chan []byte
	ping chan struct{}
	done chan struct{}

	state   atomic.Int32
	missed  atomic.Int32
	lastAck atomic.Int64 // unix nanoseconds of the last pong

	mu            sync.Mutex
	closed        bool
	closeHandlers []func(*Client)

	subsMu        sync.RWMutex
	subscriptions map[string]nostr.Filters
}

// NewClient creates a new Client for conn.
func NewClient(conn Conn, remoteAddr string, handler FrameHandler, opts ...ClientOption) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		id:            uuid.New().String(),
		conn:          conn,
		remoteAddr:    remoteAddr,
		handler:       handler,
		readLimit:     defaultReadLimit,
		ctx:           ctx,
		cancel:        cancel,
		send:          make(chan []byte, sendBufferSize),
		ping:          make(chan struct{}, 1),
		done:          make(chan struct{}),
		subscriptions: make(map[string]nostr.Filters),
	}
	c.lastAck.Store(time.Now().UnixNano())
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ID returns the client's unique identifier.
func (c *Client) ID() string {
	return c.id
}

// RemoteAddr returns the resolved client IP.
func (c *Client) RemoteAddr() string {
	return c.remoteAddr
}

// State returns the current transport state.
func (c *Client) State() State {
	return State(c.state.Load())
}

// IsOpen reports whether the transport is open.
func (c *Client) IsOpen() bool {
	return c.State() == StateOpen
}

// LastHeartbeatAck returns when the peer last answered a ping, or when the
// client was created if it never has.
func (c *Client) LastHeartbeatAck() time.Time {
	return time.Unix(0, c.lastAck.Load())
}

// Done is closed once the client starts closing.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// OnClose registers fn to run once when the client closes.
// If the client is already closed fn is not called.
func (c *Client) OnClose(fn func(*Client)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closeHandlers = append(c.closeHandlers, fn)
}

// Start starts the client's read and write pumps.
func (c *Client) Start() {
	go c.writePump()
	go c.readPump()
}

// Send queues a frame for the client. Frames are dropped when the client is
// closed or its send buffer is full.
func (c *Client) Send(frame []byte) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	select {
	case c.send <- frame:
	default:
		// Channel full, client is too slow
		log.Warn().Str("client_id", c.id).Msg("client send channel full, dropping message")
	}
}

// SendContext queues a frame, waiting for room in the send buffer. It fails
// when ctx ends or the client closes first.
func (c *Client) SendContext(ctx context.Context, frame []byte) error {
	select {
	case <-c.done:
		return domain.ErrClientClosed
	default:
	}

	select {
	case c.send <- frame:
		return nil
	case <-c.done:
		return domain.ErrClientClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Notice sends a NOTICE frame.
func (c *Client) Notice(text string) {
	frame, err := message.EncodeNotice(text)
	if err != nil {
		log.Error().Err(err).Str("client_id", c.id).Msg("failed to encode notice")
		return
	}
	c.Send(frame)
}

// Subscribe opens or replaces the subscription id.
func (c *Client) Subscribe(id string, filters nostr.Filters) {
	c.subsMu.Lock()
	c.subscriptions[id] = filters
	c.subsMu.Unlock()
}

// Unsubscribe closes the subscription id and reports whether it existed.
func (c *Client) Unsubscribe(id string) bool {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	if _, ok := c.subscriptions[id]; !ok {
		return false
	}
	delete(c.subscriptions, id)
	return true
}

// HasSubscription reports whether the subscription id is open.
func (c *Client) HasSubscription(id string) bool {
	c.subsMu.RLock()
	defer c.subsMu.RUnlock()
	_, ok := c.subscriptions[id]
	return ok
}

// SubscriptionCount returns the number of open subscriptions.
func (c *Client) SubscriptionCount() int {
	c.subsMu.RLock()
	defer c.subsMu.RUnlock()
	return len(c.subscriptions)
}

// DeliverEvent sends ev once to every subscription whose filters match it
// and returns the number of frames queued.
func (c *Client) DeliverEvent(ev *domain.Event) int {
	c.subsMu.RLock()
	matched := make([]string, 0, len(c.subscriptions))
	for id, filters := range c.subscriptions {
		if filters.Match(&ev.Event) {
			matched = append(matched, id)
		}
	}
	c.subsMu.RUnlock()

	delivered := 0
	for _, id := range matched {
		frame, err := message.EncodeEvent(id, ev)
		if err != nil {
			log.Error().Err(err).Str("client_id", c.id).Str("event_id", ev.ID).Msg("failed to encode event")
			continue
		}
		c.Send(frame)
		delivered++
	}

	return delivered
}

// Heartbeat sends a liveness ping. A client that left maxMissedHeartbeats
// consecutive pings unanswered is terminated instead.
func (c *Client) Heartbeat() {
	if !c.IsOpen() {
		return
	}

	if missed := c.missed.Load(); missed >= maxMissedHeartbeats {
		log.Info().
			Str("client_id", c.id).
			Str("remote_addr", c.remoteAddr).
			Int32("missed", missed).
			Msg("client unresponsive, terminating")
		c.Terminate()
		return
	}

	c.missed.Add(1)
	select {
	case c.ping <- struct{}{}:
	default:
	}
}

// Close starts a graceful close: a close frame is written before the
// transport is released.
func (c *Client) Close() {
	c.shutdown(false)
}

// Terminate closes the transport immediately.
func (c *Client) Terminate() {
	c.shutdown(true)
}

func (c *Client) shutdown(force bool) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	handlers := c.closeHandlers
	c.closeHandlers = nil
	c.mu.Unlock()

	c.state.Store(int32(StateClosing))
	c.cancel()
	close(c.done)

	if force {
		_ = c.conn.Close()
	}

	c.subsMu.Lock()
	c.subscriptions = make(map[string]nostr.Filters)
	c.subsMu.Unlock()

	for _, fn := range handlers {
		fn(c)
	}

	c.state.Store(int32(StateClosed))
	log.Debug().Str("client_id", c.id).Bool("terminated", force).Msg("client closed")
}

// readPump pumps frames from the WebSocket connection to the frame handler.
func (c *Client) readPump() {
	defer c.Close()

	c.conn.SetReadLimit(c.readLimit)
	c.conn.SetPongHandler(func(string) error {
		c.missed.Store(0)
		c.lastAck.Store(time.Now().UnixNano())
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Str("client_id", c.id).Msg("websocket read error")
			}
			return
		}

		if c.limiter != nil && !c.limiter.Allow() {
			c.Notice("rate-limited: slow down")
			continue
		}

		if c.handler != nil {
			c.handler(c.ctx, c, data)
		}
	}
}

// writePump pumps frames from the send channel to the WebSocket connection.
func (c *Client) writePump() {
	defer func() {
		// Send close frame with deadline to prevent blocking on laggy connections
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
		_ = c.conn.Close()
		c.Close()
	}()

	for {
		select {
		case <-c.done:
			return

		case frame := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				log.Debug().Err(err).Str("client_id", c.id).Msg("write error")
				return
			}

		case <-c.ping:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Debug().Err(err).Str("client_id", c.id).Msg("ping error")
				return
			}
		}
	}
}
