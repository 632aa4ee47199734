package udp

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kcenon/network-system-sub003/pkg/constants"
	"github.com/kcenon/network-system-sub003/pkg/errors"
	"github.com/kcenon/network-system-sub003/pkg/registry"
	"github.com/kcenon/network-system-sub003/pkg/unified"
)

// peerConnection is the server-side unified.Connection for one remote
// UDP peer, sharing the listener's single socket for writes. UDP has no
// per-peer handshake or teardown, so it is always "connected" until the
// listener forgets it.
type peerConnection struct {
	id     string
	socket *net.UDPConn
	remote *net.UDPAddr

	mu      sync.Mutex
	closed  bool
	stopped chan struct{}
}

func (p *peerConnection) ID() string { return p.id }

func (p *peerConnection) LocalEndpoint() unified.Endpoint {
	e, _ := unified.SplitHostPort(p.socket.LocalAddr().String())
	return e
}

func (p *peerConnection) RemoteEndpoint() unified.Endpoint {
	e, _ := unified.SplitHostPort(p.remote.String())
	return e
}

func (p *peerConnection) Send(ctx context.Context, data []byte) error {
	if _, err := p.socket.WriteToUDP(data, p.remote); err != nil {
		return errors.NewIOError("write_to", err)
	}
	return nil
}

func (p *peerConnection) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	if p.stopped != nil {
		close(p.stopped)
	}
	return nil
}

func (p *peerConnection) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.closed
}

func (p *peerConnection) IsConnecting() bool { return false }

// SetCallbacks is a no-op: peerConnection has no per-peer callback set,
// events are dispatched centrally through the owning Listener's
// callbacks.
func (p *peerConnection) SetCallbacks(unified.ConnCallbacks) {}

// SetOptions is a no-op: the shared listener socket has one set of
// timeouts, not a per-peer one.
func (p *peerConnection) SetOptions(unified.ConnOptions) {}

// SetTimeout is a no-op for the same reason.
func (p *peerConnection) SetTimeout(time.Duration) {}

func (p *peerConnection) WaitForStop(ctx context.Context) error {
	p.mu.Lock()
	stopped := p.stopped
	p.mu.Unlock()
	select {
	case <-stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Listener implements unified.Listener over one shared UDP socket,
// demultiplexing inbound datagrams by remote address.
type Listener struct {
	socket *net.UDPConn
	peers  *registry.Registry[*peerConnection]

	mu        sync.Mutex
	cb        unified.ListenerCallbacks
	listening bool
	stopped   chan struct{}
	cancel    context.CancelFunc
}

func newListener(socket *net.UDPConn, cb unified.ListenerCallbacks) *Listener {
	return &Listener{socket: socket, cb: cb, peers: registry.New[*peerConnection](), stopped: make(chan struct{})}
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
	e, _ := unified.SplitHostPort(l.socket.LocalAddr().String())
	return e
}

func (l *Listener) Start(ctx context.Context) error {
	readCtx, cancel := context.WithCancel(ctx)
	l.mu.Lock()
	l.cancel = cancel
	l.listening = true
	l.mu.Unlock()

	go func() {
		buf := make([]byte, constants.DefaultReadBufferSize)
		for {
			n, remote, err := l.socket.ReadFromUDP(buf)
			if err != nil {
				select {
				case <-readCtx.Done():
					return
				default:
				}
				return
			}

			data := make([]byte, n)
			copy(data, buf[:n])

			_, peer, isNew := l.peerFor(remote)
			cb := l.callbacks()
			if isNew && cb.OnAccept != nil {
				cb.OnAccept(peer.id, peer)
			}
			if cb.OnData != nil {
				cb.OnData(peer.id, data)
			}
		}
	}()
	return nil
}

func (l *Listener) peerFor(remote *net.UDPAddr) (string, *peerConnection, bool) {
	key := remote.String()
	if id, peer, ok := l.peers.LookupByIdentity(key); ok {
		return id, peer, false
	}
	peer := &peerConnection{id: uuid.NewString(), socket: l.socket, remote: remote, stopped: make(chan struct{})}
	l.peers.Insert(peer.id, key, peer)
	return peer.id, peer, true
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
	for _, peer := range l.peers.Clear() {
		peer.Close()
	}
	err := l.socket.Close()
	close(l.stopped)
	return err
}

func (l *Listener) SendTo(ctx context.Context, id string, data []byte) error {
	peer, ok := l.peers.Lookup(id)
	if !ok {
		return errors.NewLifecycleError("udp.listener.send_to", fmt.Sprintf("peer %s not found", id))
	}
	return peer.Send(ctx, data)
}

func (l *Listener) Broadcast(ctx context.Context, data []byte) []error {
	var errs []error
	for _, peer := range l.peers.Snapshot() {
		if err := peer.Send(ctx, data); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

func (l *Listener) CloseConnection(id string) error {
	if peer, ok := l.peers.Lookup(id); ok {
		peer.Close()
	}
	l.peers.Remove(id)
	return nil
}

func (l *Listener) ConnectionCount() int {
	return l.peers.Count()
}
