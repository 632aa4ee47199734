// Package network is the top-level entry point for network-system-sub003:
// a unified runtime spanning TCP/TLS, UDP, WebSocket, HTTP/2, and gRPC,
// all built on the same unified.Connection/unified.Listener contracts so
// application code can swap transports without rewriting its callback
// wiring.
//
// Most programs only need the constructors in this file plus the
// unified.ConnCallbacks/ListenerCallbacks types; the pkg/* subpackages
// remain directly importable for callers that need a protocol-specific
// knob this facade doesn't expose.
package network

import (
	"context"
	"net"

	"github.com/kcenon/network-system-sub003/pkg/errors"
	"github.com/kcenon/network-system-sub003/pkg/grpc"
	"github.com/kcenon/network-system-sub003/pkg/h2conn"
	"github.com/kcenon/network-system-sub003/pkg/ioengine"
	"github.com/kcenon/network-system-sub003/pkg/scheduler"
	"github.com/kcenon/network-system-sub003/pkg/timing"
	"github.com/kcenon/network-system-sub003/pkg/udp"
	"github.com/kcenon/network-system-sub003/pkg/unified"
	"github.com/kcenon/network-system-sub003/pkg/ws"

	httptwo "github.com/kcenon/network-system-sub003/pkg/http2"
	tcptransport "github.com/kcenon/network-system-sub003/pkg/tcp"
)

// Version identifies this module's release.
const Version = "1.0.0"

// GetVersion returns Version.
func GetVersion() string {
	return Version
}

// Re-exported types let callers wire connections and listeners without
// importing the pkg/unified, pkg/errors, or pkg/timing subpackages
// directly.
type (
	// Endpoint names one host/port pair, transport-agnostic.
	Endpoint = unified.Endpoint

	// ConnCallbacks are the events a Connection delivers to its owner.
	ConnCallbacks = unified.ConnCallbacks

	// ListenerCallbacks are the events a Listener delivers to its owner.
	ListenerCallbacks = unified.ListenerCallbacks

	// ConnOptions tunes a single connect/listen call.
	ConnOptions = unified.ConnOptions

	// Connection is one established, bidirectional session, regardless
	// of which transport backs it.
	Connection = unified.Connection

	// Listener accepts inbound sessions on one bound endpoint.
	Listener = unified.Listener

	// Transport is the connect/listen factory every protocol adapter
	// implements.
	Transport = unified.Transport

	// Error is this runtime's structured error type, carrying an
	// ErrorType classification alongside the wrapped cause.
	Error = errors.Error

	// ErrorType classifies an Error by the stage that produced it (DNS,
	// connect, TLS, timeout, protocol, I/O, validation, ...).
	ErrorType = errors.ErrorType

	// Metrics captures per-connection phase timing: DNS lookup, TCP
	// connect, TLS handshake, and time-to-first-byte.
	Metrics = timing.Metrics
)

// SplitHostPort parses a "host:port" address into an Endpoint.
func SplitHostPort(address string) (Endpoint, error) {
	return unified.SplitHostPort(address)
}

// IsTimeoutError reports whether err is itself a timeout Error or a
// net.Error reporting a timeout, or wraps context.DeadlineExceeded. An
// Error wrapped inside another error is not unwrapped.
func IsTimeoutError(err error) bool {
	return errors.IsTimeoutError(err)
}

// IsTemporaryError reports whether err is itself a net.Error whose
// Temporary method returns true. Structured Errors are never temporary.
func IsTemporaryError(err error) bool {
	return errors.IsTemporaryError(err)
}

// GetErrorType returns err's ErrorType if err is itself a structured
// Error, or the empty string otherwise; wrapped errors are not unwrapped.
func GetErrorType(err error) ErrorType {
	return errors.GetErrorType(err)
}

// NewTCPTransport returns a TCP (or, with cfg.UseTLS set, TLS) Transport.
func NewTCPTransport(cfg ioengine.Config) Transport {
	return tcptransport.New(cfg)
}

// DialTCP dials endpoint over a plain TCP or TLS connection, per cfg.
func DialTCP(ctx context.Context, cfg ioengine.Config, endpoint Endpoint, opts ConnOptions, cb ConnCallbacks) (Connection, error) {
	return tcptransport.Connect(ctx, cfg, endpoint, opts, cb)
}

// ListenTCP binds a TCP (or TLS) listener at endpoint.
func ListenTCP(ctx context.Context, cfg ioengine.Config, endpoint Endpoint, opts ConnOptions, cb ListenerCallbacks) (Listener, error) {
	return tcptransport.Listen(ctx, cfg, endpoint, opts, cb)
}

// NewUDPTransport returns a UDP Transport.
func NewUDPTransport() Transport {
	return udp.New()
}

// NewWebSocketTransport returns a WebSocket Transport configured per cfg.
func NewWebSocketTransport(cfg ws.Config) Transport {
	return ws.New(cfg)
}

// NewHTTP2Transport returns an HTTP/2 Transport (cleartext h2c, or TLS
// with ALPN negotiated to "h2" via ConnectTLS).
func NewHTTP2Transport() *httptwo.Transport {
	return httptwo.NewTransport(nil)
}

// NewGRPCServer returns a gRPC server dispatching unary and streaming
// calls to the services registered in reg, over the HTTP/2 engine.
func NewGRPCServer(reg *grpc.ServiceRegistry) *grpc.Server {
	return grpc.NewServer(reg)
}

// NewServiceRegistry returns an empty gRPC ServiceRegistry for
// registering unary and streaming method handlers before serving.
func NewServiceRegistry() *grpc.ServiceRegistry {
	return grpc.NewServiceRegistry()
}

// DialGRPC performs the client-side HTTP/2 handshake on raw and returns
// a Client ready to issue unary and streaming gRPC calls.
func DialGRPC(ctx context.Context, raw net.Conn, authority string) (*grpc.Client, error) {
	return grpc.Dial(ctx, raw, authority)
}

// Runtime returns the process-wide scheduler instance backing every I/O,
// pipeline, and utility worker pool this runtime's transports use.
func Runtime() *scheduler.Runtime {
	return scheduler.Instance()
}

// NewH2Connection wraps an already-connected net.Conn in the HTTP/2
// frame-level engine directly, bypassing the unified.Transport facade
// for callers that need raw stream/frame access (e.g. a gRPC client or
// server built on pkg/grpc).
func NewH2Connection(raw net.Conn, opts h2conn.Options, cb h2conn.Callbacks) *h2conn.Conn {
	return h2conn.New(raw, opts, cb)
}
