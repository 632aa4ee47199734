// Package http2 adapts the h2conn/h2stream/hpack engine to the unified
// Transport/Connection/Listener contracts: a bidirectional,
// callback-driven unified.Connection shape instead of a single
// request-response Do() call.
package http2

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kcenon/network-system-sub003/pkg/errors"
	"github.com/kcenon/network-system-sub003/pkg/h2conn"
	"github.com/kcenon/network-system-sub003/pkg/hpack"
	"github.com/kcenon/network-system-sub003/pkg/netlog"
	"github.com/kcenon/network-system-sub003/pkg/registry"
	"github.com/kcenon/network-system-sub003/pkg/tlsconfig"
	"github.com/kcenon/network-system-sub003/pkg/unified"
)

// Transport implements unified.Transport over HTTP/2, framed per RFC
// 7540, either in cleartext (h2c) or behind TLS with ALPN negotiated to
// "h2".
type Transport struct {
	logger      netlog.Logger
	connections *registry.Registry[*Connection]
}

// NewTransport creates an HTTP/2 unified.Transport.
func NewTransport(logger netlog.Logger) *Transport {
	if logger == nil {
		logger = netlog.Discard()
	}
	return &Transport{logger: logger, connections: registry.New[*Connection]()}
}

func (t *Transport) Name() string { return "h2" }

// Connect dials target over plain TCP (h2c) and performs the client-side
// HTTP/2 handshake. It never uses TLS; ConnectTLS is the TLS variant.
func (t *Transport) Connect(ctx context.Context, target unified.Endpoint, opts unified.ConnOptions, cb unified.ConnCallbacks) (unified.Connection, error) {
	return t.connectWithTLS(ctx, target, opts, cb, nil)
}

// ConnectTLS dials target over TLS, negotiating "h2" via ALPN.
func (t *Transport) ConnectTLS(ctx context.Context, target unified.Endpoint, tlsCfg *tls.Config, opts unified.ConnOptions, cb unified.ConnCallbacks) (unified.Connection, error) {
	if tlsCfg == nil {
		tlsCfg = tlsconfig.NewClientConfig(target.Host, tlsconfig.ALPNProtocols("h2"), false)
	}
	return t.connectWithTLS(ctx, target, opts, cb, tlsCfg)
}

func (t *Transport) connectWithTLS(ctx context.Context, target unified.Endpoint, opts unified.ConnOptions, cb unified.ConnCallbacks, tlsCfg *tls.Config) (unified.Connection, error) {
	addr := target.String()
	var raw net.Conn
	var err error

	if tlsCfg != nil {
		dialer := &tls.Dialer{Config: tlsCfg}
		raw, err = dialer.DialContext(ctx, "tcp", addr)
	} else {
		var d net.Dialer
		raw, err = d.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return nil, errors.NewConnectionError(target.Host, target.Port, err)
	}

	engineOpts := h2conn.DefaultOptions(true)
	engineOpts.Logger = t.logger

	conn := newConnection(uuid.NewString(), raw, engineOpts, target, cb)
	if err := conn.engine.ExchangePreface(); err != nil {
		raw.Close()
		return nil, err
	}
	if err := conn.engine.Start(ctx); err != nil {
		raw.Close()
		return nil, err
	}

	conn.mu.Lock()
	conn.connecting = false
	conn.mu.Unlock()

	t.connections.Insert(conn.ID(), addr, conn)
	if cb.OnConnected != nil {
		cb.OnConnected(conn)
	}
	return conn, nil
}

// Listen binds local and accepts inbound HTTP/2 connections. TLS is the
// caller's responsibility: wrap the net.Listener before passing it to
// ListenOn for h2-over-TLS, or use Listen directly for h2c.
func (t *Transport) Listen(ctx context.Context, local unified.Endpoint, opts unified.ConnOptions, cb unified.ListenerCallbacks) (unified.Listener, error) {
	ln, err := net.Listen("tcp", local.String())
	if err != nil {
		return nil, errors.NewConnectionError(local.Host, local.Port, err)
	}
	return t.ListenOn(ln, cb)
}

// ListenOn wraps a pre-bound net.Listener (already TLS-wrapped if
// needed) as a unified.Listener.
func (t *Transport) ListenOn(ln net.Listener, cb unified.ListenerCallbacks) (unified.Listener, error) {
	return newListener(ln, t.logger, cb), nil
}

// Connection adapts one h2conn.Conn to unified.Connection. Application
// data is modeled as the DATA frames of the first stream this side opens
// (stream 1 on a client, stream 2 on a server) for simplicity; callers
// needing full multi-stream control should use pkg/grpc or drive
// h2conn directly.
type Connection struct {
	id       string
	raw      net.Conn
	engine   *h2conn.Conn
	target   unified.Endpoint
	isClient bool
	method   string
	path     string

	mu         sync.Mutex
	cb         unified.ConnCallbacks
	opts       unified.ConnOptions
	connecting bool
	streamID   uint32
	stopped    chan struct{}
}

func newConnection(id string, raw net.Conn, opts h2conn.Options, target unified.Endpoint, cb unified.ConnCallbacks) *Connection {
	c := &Connection{
		id:         id,
		raw:        raw,
		target:     target,
		isClient:   opts.IsClient,
		method:     "POST",
		path:       "/",
		cb:         cb,
		connecting: true,
		stopped:    make(chan struct{}),
	}
	c.engine = h2conn.New(raw, opts, h2conn.Callbacks{
		OnData: func(streamID uint32, data []byte, endStream bool) {
			if cb := c.callbacks(); cb.OnData != nil {
				cb.OnData(c, data)
			}
		},
		OnClosed: func(err error) {
			c.mu.Lock()
			c.connecting = false
			c.mu.Unlock()
			if cb := c.callbacks(); cb.OnDisconnected != nil {
				cb.OnDisconnected(c, err)
			}
			c.markStopped()
		},
	})
	return c
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

func (c *Connection) ID() string { return c.id }

func (c *Connection) LocalEndpoint() unified.Endpoint {
	e, _ := unified.SplitHostPort(c.raw.LocalAddr().String())
	return e
}

func (c *Connection) RemoteEndpoint() unified.Endpoint {
	e, _ := unified.SplitHostPort(c.raw.RemoteAddr().String())
	return e
}

// Send writes data as a DATA frame on this connection's single working
// stream, opening it (with a real HEADERS frame carrying :method/
// :scheme/:authority/:path) on first use. Outbound DATA is split to
// respect the peer's SETTINGS_MAX_FRAME_SIZE and blocks, per stream and
// per connection, until enough send-window has been granted by
// WINDOW_UPDATE (RFC 7540 §6.9).
func (c *Connection) Send(ctx context.Context, data []byte) error {
	c.mu.Lock()
	streamID := c.streamID
	c.mu.Unlock()

	if streamID == 0 {
		s, err := c.engine.Streams().Open()
		if err != nil {
			return err
		}
		streamID = s.ID
		c.mu.Lock()
		c.streamID = streamID
		c.mu.Unlock()

		fields := c.requestPseudoHeaders()
		if err := c.engine.Framer().WriteHeaders(streamID, fields, false); err != nil {
			return err
		}
	}

	for len(data) > 0 {
		maxFrame := c.engine.PeerMaxFrameSize()
		want := int32(len(data))
		if want > int32(maxFrame) {
			want = int32(maxFrame)
		}

		granted, err := c.engine.Streams().AcquireSendWindow(ctx, streamID, want)
		if err != nil {
			return err
		}

		if err := c.engine.Framer().WriteData(streamID, data[:granted], false); err != nil {
			return err
		}
		data = data[granted:]
	}
	return nil
}

func (c *Connection) requestPseudoHeaders() []hpack.Field {
	scheme := "http"
	if _, ok := c.raw.(interface{ ConnectionState() tls.ConnectionState }); ok {
		scheme = "https"
	}
	authority := c.target.String()
	if authority == ":0" {
		authority = c.target.Host
	}
	return []hpack.Field{
		{Name: ":method", Value: c.method},
		{Name: ":scheme", Value: scheme},
		{Name: ":authority", Value: authority},
		{Name: ":path", Value: c.path},
	}
}

func (c *Connection) Close() error {
	return c.engine.Close()
}

func (c *Connection) IsConnected() bool {
	return c.raw != nil
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

// Listener adapts an accept loop over a net.Listener into
// unified.Listener, driving one h2conn.Conn per accepted socket.
type Listener struct {
	ln     net.Listener
	logger netlog.Logger
	conns  *registry.Registry[*Connection]

	mu        sync.Mutex
	cb        unified.ListenerCallbacks
	listening bool
	stopped   chan struct{}
	cancel    context.CancelFunc
}

func newListener(ln net.Listener, logger netlog.Logger, cb unified.ListenerCallbacks) *Listener {
	return &Listener{ln: ln, logger: logger, cb: cb, conns: registry.New[*Connection](), stopped: make(chan struct{})}
}

func (l *Listener) callbacks() unified.ListenerCallbacks {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cb
}

func (l *Listener) SetCallbacks(cb unified.ListenerCallbacks) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cb = cb
}

func (l *Listener) SetAcceptCallback(fn func(id string, c unified.Connection)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cb.OnAccept = fn
}

func (l *Listener) IsListening() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.listening
}

func (l *Listener) WaitForStop(ctx context.Context) error {
	select {
	case <-l.stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Listener) Endpoint() unified.Endpoint {
	e, _ := unified.SplitHostPort(l.ln.Addr().String())
	return e
}

func (l *Listener) Start(ctx context.Context) error {
	acceptCtx, cancel := context.WithCancel(ctx)
	l.mu.Lock()
	l.cancel = cancel
	l.listening = true
	l.mu.Unlock()

	go func() {
		for {
			raw, err := l.ln.Accept()
			if err != nil {
				select {
				case <-acceptCtx.Done():
					return
				default:
				}
				return
			}
			l.handleAccept(raw)
		}
	}()
	return nil
}

func (l *Listener) handleAccept(raw net.Conn) {
	id := uuid.NewString()
	opts := h2conn.DefaultOptions(false)
	opts.Logger = l.logger

	connCB := unified.ConnCallbacks{}
	conn := newConnection(id, raw, opts, unified.Endpoint{}, connCB)
	conn.engine = h2conn.New(raw, opts, h2conn.Callbacks{
		OnData: func(streamID uint32, data []byte, endStream bool) {
			if cb := l.callbacks(); cb.OnData != nil {
				cb.OnData(id, data)
			}
		},
		OnClosed: func(err error) {
			conn.mu.Lock()
			conn.connecting = false
			conn.mu.Unlock()
			conn.markStopped()
			l.conns.Remove(id)
			if cb := l.callbacks(); cb.OnDisconnect != nil {
				cb.OnDisconnect(id, err)
			}
		},
	})

	if err := conn.engine.ExchangePreface(); err != nil {
		if cb := l.callbacks(); cb.OnError != nil {
			cb.OnError(id, err)
		}
		raw.Close()
		return
	}
	if err := conn.engine.Start(context.Background()); err != nil {
		if cb := l.callbacks(); cb.OnError != nil {
			cb.OnError(id, err)
		}
		raw.Close()
		return
	}

	conn.mu.Lock()
	conn.connecting = false
	conn.mu.Unlock()

	l.conns.Insert(id, raw.RemoteAddr().String(), conn)
	if cb := l.callbacks(); cb.OnAccept != nil {
		cb.OnAccept(id, conn)
	}
}

func (l *Listener) Stop() error {
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
	err := l.ln.Close()
	for _, conn := range l.conns.Clear() {
		conn.Close()
	}
	close(l.stopped)
	return err
}

func (l *Listener) SendTo(ctx context.Context, id string, data []byte) error {
	conn, ok := l.conns.Lookup(id)
	if !ok {
		return errors.NewLifecycleError("listener.send_to", fmt.Sprintf("connection %s not found", id))
	}
	return conn.Send(ctx, data)
}

func (l *Listener) Broadcast(ctx context.Context, data []byte) []error {
	var errs []error
	for _, conn := range l.conns.Snapshot() {
		if err := conn.Send(ctx, data); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

func (l *Listener) CloseConnection(id string) error {
	conn, ok := l.conns.Lookup(id)
	if !ok {
		return errors.NewLifecycleError("listener.close_connection", fmt.Sprintf("connection %s not found", id))
	}
	l.conns.Remove(id)
	return conn.Close()
}

func (l *Listener) ConnectionCount() int {
	return l.conns.Count()
}
