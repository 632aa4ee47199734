package ws

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/kcenon/network-system-sub003/pkg/errors"
	"github.com/kcenon/network-system-sub003/pkg/unified"
)

// Connection adapts a *websocket.Conn to unified.Connection, flattening
// the library's TextMessage/BinaryMessage distinction into plain bytes
// for the single-callback unified OnData data path.
type Connection struct {
	id   string
	raw  *websocket.Conn
	send sync.Mutex

	mu        sync.Mutex
	cb        unified.ConnCallbacks
	opts      unified.ConnOptions
	connected bool
	stopped   chan struct{}
}

func newConnection(raw *websocket.Conn, cb unified.ConnCallbacks) *Connection {
	return &Connection{id: uuid.NewString(), raw: raw, cb: cb, connected: true, stopped: make(chan struct{})}
}

func (c *Connection) callbacks() unified.ConnCallbacks {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cb
}

func (c *Connection) IsConnecting() bool { return false }

func (c *Connection) SetCallbacks(cb unified.ConnCallbacks) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cb = cb
}

func (c *Connection) SetOptions(opts unified.ConnOptions) {
	c.mu.Lock()
	c.opts = opts
	c.mu.Unlock()
	if opts.ReadTimeout > 0 {
		c.raw.SetReadDeadline(time.Now().Add(time.Duration(opts.ReadTimeout)))
	}
	if opts.WriteTimeout > 0 {
		c.raw.SetWriteDeadline(time.Now().Add(time.Duration(opts.WriteTimeout)))
	}
}

func (c *Connection) SetTimeout(d time.Duration) {
	if d <= 0 {
		c.raw.SetReadDeadline(time.Time{})
		c.raw.SetWriteDeadline(time.Time{})
		return
	}
	deadline := time.Now().Add(d)
	c.raw.SetReadDeadline(deadline)
	c.raw.SetWriteDeadline(deadline)
}

func (c *Connection) WaitForStop(ctx context.Context) error {
	select {
	case <-c.stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Connection) markStopped() {
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-c.stopped:
	default:
		close(c.stopped)
	}
}

func (c *Connection) ID() string { return c.id }

func (c *Connection) LocalEndpoint() unified.Endpoint {
	e, _ := unified.SplitHostPort(c.raw.LocalAddr().String())
	return e
}

func (c *Connection) RemoteEndpoint() unified.Endpoint {
	e, _ := unified.SplitHostPort(c.raw.RemoteAddr().String())
	return e
}

func (c *Connection) Send(ctx context.Context, data []byte) error {
	if !c.IsConnected() {
		return errors.NewLifecycleError("ws.connection.send", "connection is closed")
	}
	if deadline, ok := ctx.Deadline(); ok {
		c.raw.SetWriteDeadline(deadline)
	}
	c.send.Lock()
	defer c.send.Unlock()
	if err := c.raw.WriteMessage(websocket.BinaryMessage, data); err != nil {
		return errors.NewIOError("write", err)
	}
	return nil
}

func (c *Connection) Close() error {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return nil
	}
	c.connected = false
	c.mu.Unlock()

	c.send.Lock()
	c.raw.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	c.send.Unlock()
	err := c.raw.Close()
	c.markStopped()
	return err
}

func (c *Connection) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *Connection) readLoop() {
	for {
		msgType, data, err := c.raw.ReadMessage()
		if err != nil {
			c.mu.Lock()
			c.connected = false
			c.mu.Unlock()
			if cb := c.callbacks(); cb.OnDisconnected != nil {
				cb.OnDisconnected(c, err)
			}
			c.markStopped()
			return
		}
		if msgType != websocket.BinaryMessage && msgType != websocket.TextMessage {
			continue
		}
		if cb := c.callbacks(); cb.OnData != nil {
			cb.OnData(c, data)
		}
	}
}

var _ io.Closer = (*Connection)(nil)
