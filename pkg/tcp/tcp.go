// Package tcp exposes the plain-TCP/TLS factory surface
// (connect/listen), backed by pkg/ioengine's unified.Transport
// implementation.
package tcp

import (
	"context"

	"github.com/kcenon/network-system-sub003/pkg/ioengine"
	"github.com/kcenon/network-system-sub003/pkg/unified"
)

// New returns a TCP (or, with cfg.UseTLS, TLS) transport.
func New(cfg ioengine.Config) unified.Transport {
	return ioengine.New(cfg)
}

// Connect dials endpoint over cfg's transport.
func Connect(ctx context.Context, cfg ioengine.Config, endpoint unified.Endpoint, opts unified.ConnOptions, cb unified.ConnCallbacks) (unified.Connection, error) {
	return New(cfg).Connect(ctx, endpoint, opts, cb)
}

// ConnectURL resolves a "host:port" address before dialing.
func ConnectURL(ctx context.Context, cfg ioengine.Config, address string, opts unified.ConnOptions, cb unified.ConnCallbacks) (unified.Connection, error) {
	endpoint, err := unified.SplitHostPort(address)
	if err != nil {
		return nil, err
	}
	return Connect(ctx, cfg, endpoint, opts, cb)
}

// Listen binds a listener at endpoint.
func Listen(ctx context.Context, cfg ioengine.Config, endpoint unified.Endpoint, opts unified.ConnOptions, cb unified.ListenerCallbacks) (unified.Listener, error) {
	return New(cfg).Listen(ctx, endpoint, opts, cb)
}
