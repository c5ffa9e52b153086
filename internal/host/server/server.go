// Package server exposes the daemon's volume operations over a
// localhost WebSocket and publishes volume-changed events to every
// connected client.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/voltray/voltray/internal/ratelimit"
	"github.com/voltray/voltray/pkg/protocol"
)

const (
	readBufferSize  = 1024
	writeBufferSize = 1024
	writeWait       = 10 * time.Second
	pongWait        = 60 * time.Second
	pingPeriod      = (pongWait * 9) / 10
	maxMessageSize  = 1024
	sendQueueSize   = 16

	// Mutations per client per window. Generous enough for a held-down
	// volume key, tight enough to stop a runaway client.
	mutationLimit  = 20
	mutationWindow = time.Second

	errRateLimited = "rate limit exceeded"
	errUnknownOp   = "unknown operation"
	errBadRequest  = "malformed request"
)

// The daemon only ever listens on localhost, so any origin is fine.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  readBufferSize,
	WriteBufferSize: writeBufferSize,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// VolumeController is the audio controller surface the server drives.
type VolumeController interface {
	Get(ctx context.Context) (float64, error)
	Set(ctx context.Context, volume float64) (float64, error)
	Up(ctx context.Context) (float64, error)
	Down(ctx context.Context) (float64, error)
}

type client struct {
	conn   *websocket.Conn
	id     string
	server *Server

	// sendMu guards send against the race between the hub dropping a
	// slow consumer and that client's readPump queueing a response; a
	// send after closeSend is dropped, never a panic.
	sendMu sync.Mutex
	send   chan []byte
	closed bool
}

// trySend queues payload for the write pump. It reports false when the
// client has been dropped or its queue is full.
func (c *client) trySend(payload []byte) bool {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

// closeSend shuts the send queue down exactly once.
func (c *client) closeSend() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// Server is the WebSocket hub. Clients register on upgrade; responses
// go to the requesting client only, events are broadcast to all.
type Server struct {
	logger  *zap.Logger
	volume  VolumeController
	limiter *ratelimit.Limiter

	clients    map[*client]struct{}
	clientsMu  sync.RWMutex
	broadcast  chan []byte
	register   chan *client
	unregister chan *client

	// done is closed when Run returns so pump goroutines and observe
	// callers never block on a hub that has stopped consuming.
	done chan struct{}

	// lastVolume tracks the most recently observed volume so a
	// volume-changed event is published exactly once per change,
	// whether it came from a client request or was noticed by the
	// watcher.
	lastMu     sync.Mutex
	lastVolume float64
	lastKnown  bool
}

func New(logger *zap.Logger, volume VolumeController) *Server {
	return &Server{
		logger:     logger,
		volume:     volume,
		limiter:    ratelimit.New(mutationLimit, mutationWindow),
		clients:    make(map[*client]struct{}),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
	}
}

// Run drives the hub until ctx is done, then drops every remaining
// client so their pumps wind down.
func (s *Server) Run(ctx context.Context) {
	defer func() {
		s.clientsMu.Lock()
		for c := range s.clients {
			delete(s.clients, c)
			c.closeSend()
		}
		s.clientsMu.Unlock()
		close(s.done)
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case c := <-s.register:
			s.clientsMu.Lock()
			s.clients[c] = struct{}{}
			count := len(s.clients)
			s.clientsMu.Unlock()
			s.logger.Info("client connected", zap.String("clientID", c.id), zap.Int("total", count))

		case c := <-s.unregister:
			s.clientsMu.Lock()
			if _, ok := s.clients[c]; ok {
				delete(s.clients, c)
				c.closeSend()
				s.logger.Info("client disconnected", zap.String("clientID", c.id), zap.Int("total", len(s.clients)))
			}
			s.clientsMu.Unlock()
			s.limiter.Forget(c.id)

		case message := <-s.broadcast:
			s.clientsMu.Lock()
			for c := range s.clients {
				if !c.trySend(message) {
					// Slow consumer; drop it. Its readPump may still
					// be handling a request, so the queue is closed
					// through closeSend and later responds become
					// no-ops instead of sends on a closed channel.
					c.closeSend()
					delete(s.clients, c)
				}
			}
			s.clientsMu.Unlock()
		}
	}
}

// Handler upgrades HTTP requests into hub clients.
func (s *Server) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			s.logger.Error("failed to upgrade connection", zap.Error(err))
			return
		}

		c := &client{
			conn:   conn,
			id:     uuid.NewString(),
			send:   make(chan []byte, sendQueueSize),
			server: s,
		}

		select {
		case s.register <- c:
		case <-s.done:
			conn.Close()
			return
		}

		go c.writePump()
		go c.readPump()
	}
}

// observe records a freshly seen volume and broadcasts volume-changed
// if it differs from the last one.
func (s *Server) observe(volume float64) {
	s.lastMu.Lock()
	changed := !s.lastKnown || volume != s.lastVolume
	s.lastVolume = volume
	s.lastKnown = true
	s.lastMu.Unlock()

	if !changed {
		return
	}

	ev := protocol.Event{Type: protocol.TypeEvent, Event: protocol.EventVolumeChanged}
	payload, err := json.Marshal(ev)
	if err != nil {
		s.logger.Error("failed to marshal event", zap.Error(err))
		return
	}
	select {
	case s.broadcast <- payload:
	case <-s.done:
	}
}

func (c *client) readPump() {
	defer func() {
		select {
		case c.server.unregister <- c:
		case <-c.server.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.server.logger.Warn("websocket error", zap.String("clientID", c.id), zap.Error(err))
			}
			return
		}

		var req protocol.Request
		if err := json.Unmarshal(message, &req); err != nil {
			c.respond(protocol.Response{Error: errBadRequest})
			continue
		}

		// The connection is hijacked, so the request context is gone;
		// operations run against the controller's own lifetime.
		c.respond(c.server.handleRequest(context.Background(), c.id, req))
	}
}

func (c *client) respond(resp protocol.Response) {
	resp.Type = protocol.TypeResponse
	payload, err := json.Marshal(resp)
	if err != nil {
		c.server.logger.Error("failed to marshal response", zap.Error(err))
		return
	}
	if !c.trySend(payload) {
		c.server.logger.Warn("send queue unavailable, dropping response", zap.String("clientID", c.id))
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleRequest executes one named operation. Failures are returned in
// the response's error field, never by dropping the connection.
func (s *Server) handleRequest(ctx context.Context, clientID string, req protocol.Request) protocol.Response {
	resp := protocol.Response{ID: req.ID}

	var mutating bool
	switch req.Op {
	case protocol.OpGetVolume:
	case protocol.OpVolumeUp, protocol.OpVolumeDown, protocol.OpSetVolume:
		mutating = true
	default:
		s.logger.Warn("unknown op", zap.String("clientID", clientID), zap.String("op", req.Op))
		resp.Error = errUnknownOp
		return resp
	}

	if mutating && !s.limiter.Allow(clientID) {
		s.logger.Warn("rate limited", zap.String("clientID", clientID), zap.String("op", req.Op))
		resp.Error = errRateLimited
		return resp
	}

	var (
		volume float64
		err    error
	)
	switch req.Op {
	case protocol.OpGetVolume:
		volume, err = s.volume.Get(ctx)
	case protocol.OpVolumeUp:
		volume, err = s.volume.Up(ctx)
	case protocol.OpVolumeDown:
		volume, err = s.volume.Down(ctx)
	case protocol.OpSetVolume:
		volume, err = s.volume.Set(ctx, req.Volume)
	}

	if err != nil {
		resp.Error = err.Error()
		return resp
	}

	resp.Volume = volume
	s.observe(volume)
	return resp
}
