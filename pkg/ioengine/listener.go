package ioengine

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/kcenon/network-system-sub003/pkg/errors"
	"github.com/kcenon/network-system-sub003/pkg/registry"
	"github.com/kcenon/network-system-sub003/pkg/unified"
)

// Listener implements unified.Listener over a net.Listener, accepting
// TCP or TLS sockets and tracking them in a registry.Registry keyed by
// connection id.
type Listener struct {
	ln    net.Listener
	conns *registry.Registry[*Connection]

	mu        sync.Mutex
	cb        unified.ListenerCallbacks
	listening bool
	stopped   chan struct{}
	cancel    context.CancelFunc
}

func newListener(ln net.Listener, cb unified.ListenerCallbacks) *Listener {
	return &Listener{ln: ln, cb: cb, conns: registry.New[*Connection](), stopped: make(chan struct{})}
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
	conn := newConnection(raw, unified.ConnCallbacks{})

	l.conns.Insert(conn.ID(), raw.RemoteAddr().String(), conn)

	conn.SetCallbacks(unified.ConnCallbacks{
		OnData: func(_ unified.Connection, data []byte) {
			if cb := l.callbacks(); cb.OnData != nil {
				cb.OnData(conn.ID(), data)
			}
		},
		OnDisconnected: func(_ unified.Connection, err error) {
			l.conns.Remove(conn.ID())
			if cb := l.callbacks(); cb.OnDisconnect != nil {
				cb.OnDisconnect(conn.ID(), err)
			}
		},
	})

	if cb := l.callbacks(); cb.OnAccept != nil {
		cb.OnAccept(conn.ID(), conn)
	}
	go conn.readLoop()
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
