// Package quic exposes a connect/listen factory surface without
// implementing the QUIC wire protocol: the actual stream transport is
// supplied by the caller as an opaque io.ReadWriteCloser factory, since
// HTTP/3/QUIC stream logic is out of scope here (the factory exists, the
// transport is opaque).
package quic

import (
	"context"
	"crypto/tls"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kcenon/network-system-sub003/pkg/errors"
	"github.com/kcenon/network-system-sub003/pkg/unified"
)

// Config carries the knobs a real QUIC implementation would need: ALPN
// list, server name, certificate material, flow-control parameters,
// idle timeout, and a test-only certificate bypass. None of these fields
// are interpreted here; they exist so a caller-supplied Dialer/Acceptor
// can read them, and so application code has one config shape to
// populate regardless of which QUIC implementation is actually plugged
// in.
type Config struct {
	ALPN               []string
	ServerName         string
	CertFile           string
	KeyFile            string
	InitialMaxData     uint64
	InitialStreamWindow uint64
	IdleTimeout        time.Duration
	DisablePMTU        bool
	InsecureSkipVerify bool
	TLSConfig          *tls.Config
}

// Dialer opens one opaque duplex stream to endpoint. A real QUIC
// implementation (e.g. quic-go) is plugged in by supplying a Dialer
// that drives it; pkg/quic itself never touches the wire.
type Dialer func(ctx context.Context, endpoint unified.Endpoint, cfg Config) (io.ReadWriteCloser, error)

// Acceptor accepts opaque duplex streams arriving at endpoint.
type Acceptor func(ctx context.Context, endpoint unified.Endpoint, cfg Config) (Listener, error)

// Listener is the minimal accept-loop contract an Acceptor must honor.
type Listener interface {
	Accept(ctx context.Context) (io.ReadWriteCloser, unified.Endpoint, error)
	Close() error
}

// Transport implements unified.Transport by delegating to a
// caller-supplied Dialer/Acceptor pair, per the opaque-transport
// seam this package documents instead of a wire implementation.
type Transport struct {
	cfg      Config
	dial     Dialer
	accept   Acceptor
}

// New builds a Transport. Both dial and accept may be nil if the caller
// only needs one direction.
func New(cfg Config, dial Dialer, accept Acceptor) *Transport {
	return &Transport{cfg: cfg, dial: dial, accept: accept}
}

func (t *Transport) Name() string { return "quic" }

func (t *Transport) Connect(ctx context.Context, endpoint unified.Endpoint, opts unified.ConnOptions, cb unified.ConnCallbacks) (unified.Connection, error) {
	if t.dial == nil {
		return nil, errors.NewLifecycleError("quic.connect", "no Dialer configured; quic wire transport is an external collaborator")
	}
	raw, err := t.dial(ctx, endpoint, t.cfg)
	if err != nil {
		return nil, errors.NewConnectionError(endpoint.Host, endpoint.Port, err)
	}
	conn := newConnection(raw, endpoint, cb)
	go conn.readLoop()
	if cb.OnConnected != nil {
		cb.OnConnected(conn)
	}
	return conn, nil
}

func (t *Transport) Listen(ctx context.Context, endpoint unified.Endpoint, opts unified.ConnOptions, cb unified.ListenerCallbacks) (unified.Listener, error) {
	if t.accept == nil {
		return nil, errors.NewLifecycleError("quic.listen", "no Acceptor configured; quic wire transport is an external collaborator")
	}
	inner, err := t.accept(ctx, endpoint, t.cfg)
	if err != nil {
		return nil, err
	}
	return newListener(inner, endpoint, cb), nil
}

// connection adapts an opaque io.ReadWriteCloser stream to
// unified.Connection.
type connection struct {
	id       string
	raw      io.ReadWriteCloser
	endpoint unified.Endpoint

	mu      sync.Mutex
	cb      unified.ConnCallbacks
	opts    unified.ConnOptions
	stopped chan struct{}
}

func newConnection(raw io.ReadWriteCloser, endpoint unified.Endpoint, cb unified.ConnCallbacks) *connection {
	return &connection{id: uuid.NewString(), raw: raw, endpoint: endpoint, cb: cb, stopped: make(chan struct{})}
}

func (c *connection) ID() string                      { return c.id }
func (c *connection) LocalEndpoint() unified.Endpoint  { return unified.Endpoint{} }
func (c *connection) RemoteEndpoint() unified.Endpoint { return c.endpoint }
func (c *connection) IsConnected() bool                { return true }
func (c *connection) IsConnecting() bool               { return false }

func (c *connection) callbacks() unified.ConnCallbacks {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cb
}

func (c *connection) SetCallbacks(cb unified.ConnCallbacks) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cb = cb
}

func (c *connection) SetOptions(opts unified.ConnOptions) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.opts = opts
}

// SetTimeout is a no-op: the opaque io.ReadWriteCloser stream this
// connection wraps exposes no deadline controls of its own.
func (c *connection) SetTimeout(d time.Duration) {}

func (c *connection) WaitForStop(ctx context.Context) error {
	select {
	case <-c.stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *connection) markStopped() {
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-c.stopped:
	default:
		close(c.stopped)
	}
}

func (c *connection) Send(ctx context.Context, data []byte) error {
	if _, err := c.raw.Write(data); err != nil {
		return errors.NewIOError("write", err)
	}
	return nil
}

func (c *connection) Close() error {
	err := c.raw.Close()
	c.markStopped()
	return err
}

func (c *connection) readLoop() {
	buf := make([]byte, 32*1024)
	for {
		n, err := c.raw.Read(buf)
		cb := c.callbacks()
		if n > 0 && cb.OnData != nil {
			data := make([]byte, n)
			copy(data, buf[:n])
			cb.OnData(c, data)
		}
		if err != nil {
			if cb.OnDisconnected != nil {
				cb.OnDisconnected(c, err)
			}
			c.markStopped()
			return
		}
	}
}

type listener struct {
	inner    Listener
	endpoint unified.Endpoint

	mu        sync.Mutex
	cb        unified.ListenerCallbacks
	listening bool
	stopped   chan struct{}
	cancel    context.CancelFunc
}

func newListener(inner Listener, endpoint unified.Endpoint, cb unified.ListenerCallbacks) *listener {
	return &listener{inner: inner, endpoint: endpoint, cb: cb, stopped: make(chan struct{})}
}

func (l *listener) Endpoint() unified.Endpoint { return l.endpoint }

func (l *listener) callbacks() unified.ListenerCallbacks {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cb
}

func (l *listener) SetCallbacks(cb unified.ListenerCallbacks) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cb = cb
}

func (l *listener) SetAcceptCallback(fn func(id string, c unified.Connection)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cb.OnAccept = fn
}

func (l *listener) IsListening() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.listening
}

func (l *listener) WaitForStop(ctx context.Context) error {
	select {
	case <-l.stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *listener) Start(ctx context.Context) error {
	acceptCtx, cancel := context.WithCancel(ctx)
	l.mu.Lock()
	l.cancel = cancel
	l.listening = true
	l.mu.Unlock()
	go func() {
		for {
			raw, remote, err := l.inner.Accept(acceptCtx)
			if err != nil {
				return
			}
			conn := newConnection(raw, remote, unified.ConnCallbacks{})
			conn.SetCallbacks(unified.ConnCallbacks{
				OnData: func(_ unified.Connection, data []byte) {
					if cb := l.callbacks(); cb.OnData != nil {
						cb.OnData(conn.id, data)
					}
				},
			})
			if cb := l.callbacks(); cb.OnAccept != nil {
				cb.OnAccept(conn.id, conn)
			}
			go conn.readLoop()
		}
	}()
	return nil
}

func (l *listener) Stop() error {
	l.mu.Lock()
	if !l.listening {
		l.mu.Unlock()
		return nil
	}
	l.listening = false
	cancel := l.cancel
	l.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	err := l.inner.Close()
	close(l.stopped)
	return err
}

func (l *listener) SendTo(ctx context.Context, id string, data []byte) error {
	return errors.NewLifecycleError("quic.listener.send_to", "per-connection send is not tracked by the opaque seam; keep the unified.Connection returned via OnAccept")
}

func (l *listener) Broadcast(ctx context.Context, data []byte) []error {
	return []error{errors.NewLifecycleError("quic.listener.broadcast", "not supported by the opaque seam")}
}

func (l *listener) CloseConnection(id string) error {
	return errors.NewLifecycleError("quic.listener.close_connection", "not supported by the opaque seam")
}

func (l *listener) ConnectionCount() int { return 0 }
