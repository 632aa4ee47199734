package ws

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/kcenon/network-system-sub003/pkg/errors"
	"github.com/kcenon/network-system-sub003/pkg/registry"
	"github.com/kcenon/network-system-sub003/pkg/unified"
)

// Listener implements unified.Listener by running an http.Server that
// upgrades every request on cfg.Path to a WebSocket connection.
type Listener struct {
	endpoint unified.Endpoint
	cfg      Config

	upgrader websocket.Upgrader
	server   *http.Server
	ln       net.Listener
	conns    *registry.Registry[*Connection]

	mu        sync.Mutex
	cb        unified.ListenerCallbacks
	listening bool
	stopped   chan struct{}
}

func newListener(endpoint unified.Endpoint, cfg Config, cb unified.ListenerCallbacks) *Listener {
	return &Listener{
		endpoint: endpoint,
		cfg:      cfg,
		cb:       cb,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		conns:   registry.New[*Connection](),
		stopped: make(chan struct{}),
	}
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
	if l.ln == nil {
		return l.endpoint
	}
	e, _ := unified.SplitHostPort(l.ln.Addr().String())
	return e
}

func (l *Listener) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", l.endpoint.String())
	if err != nil {
		return errors.NewIOError("listen", err)
	}
	l.ln = ln

	mux := http.NewServeMux()
	path := l.cfg.Path
	if path == "" {
		path = "/"
	}
	mux.HandleFunc(path, l.handleUpgrade)
	l.server = &http.Server{Handler: mux}

	l.mu.Lock()
	l.listening = true
	l.mu.Unlock()

	go l.server.Serve(ln)
	return nil
}

func (l *Listener) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	raw, err := l.upgrader.Upgrade(w, r, nil)
	if err != nil {
		if cb := l.callbacks(); cb.OnError != nil {
			cb.OnError("", err)
		}
		return
	}

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
	l.mu.Unlock()

	var err error
	if l.server != nil {
		err = l.server.Close()
	}
	for _, conn := range l.conns.Clear() {
		conn.Close()
	}
	close(l.stopped)
	return err
}

func (l *Listener) SendTo(ctx context.Context, id string, data []byte) error {
	conn, ok := l.conns.Lookup(id)
	if !ok {
		return errors.NewLifecycleError("ws.listener.send_to", fmt.Sprintf("connection %s not found", id))
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
		return errors.NewLifecycleError("ws.listener.close_connection", fmt.Sprintf("connection %s not found", id))
	}
	l.conns.Remove(id)
	return conn.Close()
}

func (l *Listener) ConnectionCount() int {
	return l.conns.Count()
}
