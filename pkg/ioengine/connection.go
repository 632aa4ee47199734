package ioengine

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kcenon/network-system-sub003/pkg/constants"
	"github.com/kcenon/network-system-sub003/pkg/errors"
	"github.com/kcenon/network-system-sub003/pkg/timing"
	"github.com/kcenon/network-system-sub003/pkg/unified"
)

// Connection adapts a net.Conn (plain or TLS) to unified.Connection,
// delivering inbound bytes through ConnCallbacks.OnData from a private
// reactor goroutine, matching the contract's "reads never land on the
// caller's goroutine" rule.
type Connection struct {
	id  string
	raw net.Conn
	cb  unified.ConnCallbacks
	opts unified.ConnOptions

	timer      *timing.Timer
	ttfbMarked bool

	mu         sync.Mutex
	connected  bool
	connecting bool
	stopped    chan struct{}
}

func newConnection(raw net.Conn, cb unified.ConnCallbacks) *Connection {
	return &Connection{
		id:        uuid.NewString(),
		raw:       raw,
		cb:        cb,
		connected: true,
		timer:     timing.NewTimer(),
		stopped:   make(chan struct{}),
	}
}

// Metrics returns the TCP/TLS/TTFB timings recorded while this
// connection was established and warmed up.
func (c *Connection) Metrics() timing.Metrics { return c.timer.GetMetrics() }

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
		return errors.NewLifecycleError("connection.send", "connection is closed")
	}
	if deadline, ok := ctx.Deadline(); ok {
		c.raw.SetWriteDeadline(deadline)
	}
	_, err := c.raw.Write(data)
	if err != nil {
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

func (c *Connection) callbacks() unified.ConnCallbacks {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cb
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

func (c *Connection) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *Connection) IsConnecting() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connecting
}

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

func (c *Connection) readLoop() {
	buf := make([]byte, constants.DefaultReadBufferSize)
	for {
		n, err := c.raw.Read(buf)
		if n > 0 {
			c.mu.Lock()
			if !c.ttfbMarked {
				c.ttfbMarked = true
				c.timer.EndTTFB()
			}
			c.mu.Unlock()
			if cb := c.callbacks(); cb.OnData != nil {
				data := make([]byte, n)
				copy(data, buf[:n])
				cb.OnData(c, data)
			}
		}
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
	}
}
