// Package udp implements the unified.Transport connect/listen surface
// directly over net.UDPConn, the way pkg/ioengine wraps net.TCPConn/
// tls.Conn for the TCP/TLS transports.
package udp

import (
	"context"
	"net"

	"github.com/kcenon/network-system-sub003/pkg/errors"
	"github.com/kcenon/network-system-sub003/pkg/unified"
)

// Transport implements unified.Transport over UDP datagrams.
type Transport struct{}

// New returns a UDP Transport.
func New() *Transport { return &Transport{} }

func (t *Transport) Name() string { return "udp" }

// Connect dials a fixed remote endpoint; the resulting Connection wraps
// one "connected" UDP socket (Go dials UDP by fixing the peer address
// at the kernel level, so Read only ever returns datagrams from it).
func (t *Transport) Connect(ctx context.Context, endpoint unified.Endpoint, opts unified.ConnOptions, cb unified.ConnCallbacks) (unified.Connection, error) {
	var d net.Dialer
	raw, err := d.DialContext(ctx, "udp", endpoint.String())
	if err != nil {
		return nil, errors.NewConnectionError(endpoint.Host, endpoint.Port, err)
	}

	conn := newConnection(raw.(*net.UDPConn), raw.RemoteAddr().(*net.UDPAddr), cb)
	go conn.readLoop()
	if cb.OnConnected != nil {
		cb.OnConnected(conn)
	}
	return conn, nil
}

// Listen binds one UDP socket at endpoint; inbound datagrams from a new
// remote address synthesize a new Connection (via ListenerCallbacks.
// OnAccept), and every datagram, the first included, is delivered to
// ListenerCallbacks.OnData under that Connection's id.
func (t *Transport) Listen(ctx context.Context, endpoint unified.Endpoint, opts unified.ConnOptions, cb unified.ListenerCallbacks) (unified.Listener, error) {
	addr, err := net.ResolveUDPAddr("udp", endpoint.String())
	if err != nil {
		return nil, errors.NewValidationError("invalid udp endpoint: " + endpoint.String())
	}
	socket, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, errors.NewIOError("bind", err)
	}
	return newListener(socket, cb), nil
}
