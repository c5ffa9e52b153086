// Package ipc implements the client side of the voltrayd wire protocol:
// named request/response operations plus the volume-changed event
// subscription, over a single WebSocket connection.
package ipc

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/voltray/voltray/pkg/protocol"
)

const eventBufferSize = 16

// InvokeError is the single failure kind produced by IPC operations.
// Transport failures, host-reported failures and protocol errors are
// all collapsed into it; the message is the stringified cause.
type InvokeError struct {
	Message string
}

func (e *InvokeError) Error() string {
	return e.Message
}

func invokeErr(format string, args ...interface{}) *InvokeError {
	return &InvokeError{Message: fmt.Sprintf(format, args...)}
}

// Client issues volume operations against the host daemon. Operations
// may be called concurrently; responses are matched to callers by
// request ID.
type Client struct {
	logger *zap.Logger
	conn   *websocket.Conn

	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[string]chan protocol.Response

	events chan struct{}

	closeOnce sync.Once
	closed    chan struct{}
}

// Dial connects to the daemon at url (a ws:// address) and starts the
// read loop that dispatches responses and events.
func Dial(ctx context.Context, url string, logger *zap.Logger) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	c := &Client{
		logger:  logger,
		conn:    conn,
		pending: make(map[string]chan protocol.Response),
		events:  make(chan struct{}, eventBufferSize),
		closed:  make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// VolumeUp asks the host to raise the volume by one step and returns
// the resulting volume.
func (c *Client) VolumeUp(ctx context.Context) (float64, error) {
	return c.invoke(ctx, protocol.Request{Op: protocol.OpVolumeUp})
}

// VolumeDown asks the host to lower the volume by one step and returns
// the resulting volume.
func (c *Client) VolumeDown(ctx context.Context) (float64, error) {
	return c.invoke(ctx, protocol.Request{Op: protocol.OpVolumeDown})
}

// GetVolume returns the host's current volume without changing it.
func (c *Client) GetVolume(ctx context.Context) (float64, error) {
	return c.invoke(ctx, protocol.Request{Op: protocol.OpGetVolume})
}

// SetVolume asks the host to set the volume to the given level and
// returns the volume actually applied (the host clamps to its range).
func (c *Client) SetVolume(ctx context.Context, volume float64) (float64, error) {
	return c.invoke(ctx, protocol.Request{Op: protocol.OpSetVolume, Volume: volume})
}

// Events returns the volume-changed subscription. One signal is
// delivered per event; signals are dropped, not queued without bound,
// if the receiver falls behind. Receivers are expected to re-query the
// volume rather than read a payload. The channel is never closed.
func (c *Client) Events() <-chan struct{} {
	return c.events
}

// Close tears down the connection. In-flight operations fail with an
// InvokeError.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
	})
	return c.conn.Close()
}

// invoke performs a single request/response roundtrip. It never
// returns a raw transport error: every failure path yields an
// *InvokeError so callers branch on the error, not its shape.
func (c *Client) invoke(ctx context.Context, req protocol.Request) (float64, error) {
	req.Type = protocol.TypeRequest
	req.ID = uuid.NewString()

	respCh := make(chan protocol.Response, 1)
	c.pendingMu.Lock()
	c.pending[req.ID] = respCh
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, req.ID)
		c.pendingMu.Unlock()
	}()

	c.writeMu.Lock()
	err := c.conn.WriteJSON(req)
	c.writeMu.Unlock()
	if err != nil {
		return 0, invokeErr("write %s request: %v", req.Op, err)
	}

	select {
	case resp := <-respCh:
		if resp.Error != "" {
			return 0, &InvokeError{Message: resp.Error}
		}
		return resp.Volume, nil
	case <-ctx.Done():
		return 0, invokeErr("%s canceled: %v", req.Op, ctx.Err())
	case <-c.closed:
		return 0, invokeErr("%s failed: connection closed", req.Op)
	}
}

func (c *Client) readLoop() {
	defer c.Close()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("connection lost", zap.Error(err))
			}
			return
		}

		var env protocol.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.logger.Warn("malformed message from host", zap.Error(err))
			continue
		}

		switch env.Type {
		case protocol.TypeResponse:
			var resp protocol.Response
			if err := json.Unmarshal(data, &resp); err != nil {
				c.logger.Warn("malformed response from host", zap.Error(err))
				continue
			}
			c.pendingMu.Lock()
			ch, ok := c.pending[resp.ID]
			c.pendingMu.Unlock()
			if !ok {
				c.logger.Debug("response for unknown request", zap.String("id", resp.ID))
				continue
			}
			// A duplicate response for an ID whose waiter is gone must
			// not wedge the read loop.
			select {
			case ch <- resp:
			default:
				c.logger.Debug("duplicate response dropped", zap.String("id", resp.ID))
			}

		case protocol.TypeEvent:
			var ev protocol.Event
			if err := json.Unmarshal(data, &ev); err != nil {
				c.logger.Warn("malformed event from host", zap.Error(err))
				continue
			}
			if ev.Event != protocol.EventVolumeChanged {
				continue
			}
			select {
			case c.events <- struct{}{}:
			default:
			}

		default:
			c.logger.Debug("unknown message type", zap.String("type", env.Type))
		}
	}
}
