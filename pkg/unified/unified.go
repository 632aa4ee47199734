// Package unified defines the transport-agnostic contracts every protocol
// engine in this runtime binds to: Connection, Listener, and Transport.
// TCP, TLS, UDP, WebSocket, HTTP/2, and gRPC all produce and consume these
// same interfaces so that callers can swap protocols without rewriting
// call sites, keeping dial/read/write mechanics behind one small
// Config/Callbacks surface regardless of the wire protocol underneath.
package unified

import (
	"context"
	"fmt"
	"net"
	"time"
)

// Endpoint names one side of a connection or a listener's bind address.
// URL carries the original dial/listen address for URL-style transports
// (ws://, wss://) where host/port alone can't reconstruct path or scheme;
// it is empty for plain host:port transports (TCP, UDP).
type Endpoint struct {
	Host string
	Port int
	URL  string
}

// String renders the endpoint's host:port form, the address dial/listen
// calls use regardless of URL. Callers that need the full URL-style
// address (ws://, wss://) read the URL field directly.
func (e Endpoint) String() string {
	return fmt.Sprintf("%s:%d", e.Host, e.Port)
}

// ConnCallbacks are invoked by a Connection as events occur. Any callback
// left nil is simply not invoked; callers wire only what they need.
type ConnCallbacks struct {
	OnConnected    func(c Connection)
	OnData         func(c Connection, data []byte)
	OnDisconnected func(c Connection, err error)
	OnError        func(c Connection, err error)
}

// ListenerCallbacks are invoked by a Listener as events occur on any
// connection it has accepted. Connections are identified by id rather
// than passed by value, since a listener may hold many of them.
type ListenerCallbacks struct {
	OnAccept    func(id string, c Connection)
	OnData      func(id string, data []byte)
	OnDisconnect func(id string, err error)
	OnError     func(id string, err error)
}

// ConnOptions configures a dial or accept-side connection.
type ConnOptions struct {
	ReadTimeout  int64 // nanoseconds, 0 means no deadline
	WriteTimeout int64
	BufferSize   int
}

// Connection is a single bidirectional, asynchronous data path. Writes are
// synchronous (Send blocks until the write syscall completes or fails);
// reads are delivered through the OnData callback fired from the
// connection's own reactor goroutine, never from the caller's goroutine.
type Connection interface {
	// ID uniquely identifies this connection within the process.
	ID() string

	// LocalEndpoint and RemoteEndpoint report the two endpoints of the
	// underlying socket.
	LocalEndpoint() Endpoint
	RemoteEndpoint() Endpoint

	// Send writes data to the peer. Safe for concurrent use.
	Send(ctx context.Context, data []byte) error

	// Close tears down the connection. Idempotent.
	Close() error

	// IsConnected reports whether the connection is still usable.
	IsConnected() bool

	// IsConnecting reports whether the connection is still completing
	// its handshake (dial/TLS/WebSocket upgrade/HTTP-2 preface) and has
	// not yet delivered OnConnected.
	IsConnecting() bool

	// SetCallbacks replaces the callbacks fired as events occur. Must be
	// called before the connection starts delivering events (its reactor
	// goroutine starts, or Start on the owning listener runs) for the
	// happens-before guarantee callers rely on; safe for concurrent use
	// with Send/Close afterward.
	SetCallbacks(cb ConnCallbacks)

	// SetOptions updates read/write timeouts and buffer sizing on an
	// already-open connection.
	SetOptions(opts ConnOptions)

	// SetTimeout sets the read and write deadlines applied to subsequent
	// I/O on the underlying socket. A zero duration clears the deadline.
	SetTimeout(d time.Duration)

	// WaitForStop blocks until the connection has fully closed (its
	// reactor goroutine has exited and OnDisconnected, if any, has been
	// delivered), or ctx is done first.
	WaitForStop(ctx context.Context) error
}

// Listener accepts inbound connections on a bound endpoint and dispatches
// their lifecycle through ListenerCallbacks.
type Listener interface {
	// Endpoint reports the bound local address.
	Endpoint() Endpoint

	// Start begins accepting connections. Non-blocking: accepting happens
	// on an internal goroutine.
	Start(ctx context.Context) error

	// Stop stops accepting new connections and closes all existing ones.
	// Idempotent.
	Stop() error

	// SendTo writes data to a specific accepted connection by id.
	SendTo(ctx context.Context, id string, data []byte) error

	// Broadcast writes data to every currently accepted connection.
	Broadcast(ctx context.Context, data []byte) []error

	// CloseConnection closes one accepted connection by id without
	// stopping the listener.
	CloseConnection(id string) error

	// ConnectionCount reports how many connections are currently accepted.
	ConnectionCount() int

	// IsListening reports whether the listener is currently accepting
	// connections (between a successful Start and Stop).
	IsListening() bool

	// SetCallbacks replaces the callbacks fired for accepted connections.
	// Must be called before Start for the happens-before guarantee
	// callers rely on.
	SetCallbacks(cb ListenerCallbacks)

	// SetAcceptCallback replaces only the OnAccept callback, without
	// disturbing OnData/OnDisconnect/OnError already registered via
	// SetCallbacks.
	SetAcceptCallback(fn func(id string, c Connection))

	// WaitForStop blocks until the listener has stopped accepting and
	// every accepted connection has closed, or ctx is done first.
	WaitForStop(ctx context.Context) error
}

// Transport is a connection/listener factory for one wire protocol (TCP,
// TLS, UDP, ...). Implementations live in pkg/tcp, pkg/udp, pkg/http2,
// pkg/ws and friends; callers depend only on this interface so that the
// concrete protocol is a configuration choice, not a code fork.
type Transport interface {
	// Name identifies the protocol ("tcp", "tls", "udp", "ws", "h2", "grpc").
	Name() string

	// Connect dials out to a remote endpoint.
	Connect(ctx context.Context, target Endpoint, opts ConnOptions, cb ConnCallbacks) (Connection, error)

	// Listen binds a local endpoint and returns a Listener.
	Listen(ctx context.Context, local Endpoint, opts ConnOptions, cb ListenerCallbacks) (Listener, error)
}

// SplitHostPort is a convenience wrapper producing an Endpoint from a
// "host:port" address. An address without a port (a bare host) is
// rejected with net.SplitHostPort's error, and a non-numeric port is
// also an error.
func SplitHostPort(addr string) (Endpoint, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return Endpoint{}, err
	}
	var port int
	if _, err := fmt.Sscanf(portStr, "%d", &port); err != nil {
		return Endpoint{}, err
	}
	return Endpoint{Host: host, Port: port}, nil
}
