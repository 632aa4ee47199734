package grpc

import (
	"context"
	"sync"
)

// UnaryHandler answers a single-request, single-response call.
type UnaryHandler func(ctx context.Context, request []byte) ([]byte, error)

// ServerStreamHandler answers a single request with zero or more
// responses written through stream.Send.
type ServerStreamHandler func(ctx context.Context, request []byte, stream *Stream) error

// ClientStreamHandler consumes zero or more requests read through
// stream.Recv and answers with a single response.
type ClientStreamHandler func(ctx context.Context, stream *Stream) ([]byte, error)

// BidiStreamHandler freely interleaves stream.Recv and stream.Send.
type BidiStreamHandler func(ctx context.Context, stream *Stream) error

type callKind int

const (
	kindUnary callKind = iota
	kindServerStream
	kindClientStream
	kindBidi
)

type method struct {
	kind         callKind
	unary        UnaryHandler
	serverStream ServerStreamHandler
	clientStream ClientStreamHandler
	bidi         BidiStreamHandler
}

// ServiceRegistry maps a "/pkg.Service/Method" path to its handler,
// supporting all four RPC call shapes (unary, server-streaming,
// client-streaming, bidi).
type ServiceRegistry struct {
	mu      sync.RWMutex
	methods map[string]method
}

// NewServiceRegistry creates an empty ServiceRegistry.
func NewServiceRegistry() *ServiceRegistry {
	return &ServiceRegistry{methods: make(map[string]method)}
}

// RegisterUnary registers a unary handler for path.
func (r *ServiceRegistry) RegisterUnary(path string, h UnaryHandler) {
	r.set(path, method{kind: kindUnary, unary: h})
}

// RegisterServerStream registers a server-streaming handler for path.
func (r *ServiceRegistry) RegisterServerStream(path string, h ServerStreamHandler) {
	r.set(path, method{kind: kindServerStream, serverStream: h})
}

// RegisterClientStream registers a client-streaming handler for path.
func (r *ServiceRegistry) RegisterClientStream(path string, h ClientStreamHandler) {
	r.set(path, method{kind: kindClientStream, clientStream: h})
}

// RegisterBidi registers a bidirectional-streaming handler for path.
func (r *ServiceRegistry) RegisterBidi(path string, h BidiStreamHandler) {
	r.set(path, method{kind: kindBidi, bidi: h})
}

func (r *ServiceRegistry) set(path string, m method) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.methods[path] = m
}

func (r *ServiceRegistry) lookup(path string) (method, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.methods[path]
	return m, ok
}
