package udp

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kcenon/network-system-sub003/pkg/constants"
	"github.com/kcenon/network-system-sub003/pkg/errors"
	"github.com/kcenon/network-system-sub003/pkg/unified"
)

// Connection adapts a "connected" *net.UDPConn (Connect side) to
// unified.Connection.
type Connection struct {
	id     string
	raw    *net.UDPConn
	remote *net.UDPAddr

	mu        sync.Mutex
	cb        unified.ConnCallbacks
	opts      unified.ConnOptions
	connected bool
	stopped   chan struct{}
}

func newConnection(raw *net.UDPConn, remote *net.UDPAddr, cb unified.ConnCallbacks) *Connection {
	return &Connection{id: uuid.NewString(), raw: raw, remote: remote, cb: cb, connected: true, stopped: make(chan struct{})}
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
		c.raw.SetDeadline(time.Time{})
		return
	}
	c.raw.SetDeadline(time.Now().Add(d))
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
	e, _ := unified.SplitHostPort(c.remote.String())
	return e
}

func (c *Connection) Send(ctx context.Context, data []byte) error {
	if !c.IsConnected() {
		return errors.NewLifecycleError("udp.connection.send", "connection is closed")
	}
	if deadline, ok := ctx.Deadline(); ok {
		c.raw.SetWriteDeadline(deadline)
	}
	if _, err := c.raw.Write(data); err != nil {
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
	buf := make([]byte, constants.DefaultReadBufferSize)
	for {
		n, err := c.raw.Read(buf)
		cb := c.callbacks()
		if n > 0 && cb.OnData != nil {
			data := make([]byte, n)
			copy(data, buf[:n])
			cb.OnData(c, data)
		}
		if err != nil {
			c.mu.Lock()
			c.connected = false
			c.mu.Unlock()
			if cb.OnDisconnected != nil {
				cb.OnDisconnected(c, err)
			}
			c.markStopped()
			return
		}
	}
}
