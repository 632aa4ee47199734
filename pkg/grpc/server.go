package grpc

import (
	"context"
	"net"
	"sync"

	"github.com/kcenon/network-system-sub003/pkg/constants"
	"github.com/kcenon/network-system-sub003/pkg/grpcstatus"
	"github.com/kcenon/network-system-sub003/pkg/h2conn"
	"github.com/kcenon/network-system-sub003/pkg/hpack"
	"github.com/kcenon/network-system-sub003/pkg/netlog"
)

// Server dispatches incoming HTTP/2 streams to handlers registered in a
// ServiceRegistry, orchestrating unary, server-stream, client-stream, and
// bidi calls. It is built directly on pkg/h2conn and never depends on
// google.golang.org/grpc.
type Server struct {
	registry       *ServiceRegistry
	maxMessageSize int
	logger         netlog.Logger
}

// NewServer creates a Server dispatching into registry.
func NewServer(registry *ServiceRegistry) *Server {
	return &Server{
		registry:       registry,
		maxMessageSize: constants.DefaultMaxGRPCMessageSize,
		logger:         netlog.Discard(),
	}
}

// Serve accepts connections from ln until Accept fails, handling each on
// its own HTTP/2 connection. Cancelling ctx does not interrupt Accept; once
// Accept fails, Serve returns nil if ctx is already done and the Accept
// error otherwise.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	for {
		raw, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}
		go s.handleConn(ctx, raw)
	}
}

type activeCall struct {
	stream *Stream
	method method
	reader *MessageReader
	cancel context.CancelFunc
}

func (s *Server) handleConn(ctx context.Context, raw net.Conn) {
	var mu sync.Mutex
	calls := make(map[uint32]*activeCall)

	var conn *h2conn.Conn
	conn = h2conn.New(raw, h2conn.DefaultOptions(false), h2conn.Callbacks{
		OnHeaders: func(streamID uint32, fields []hpack.Field, endStream bool) {
			s.onHeaders(ctx, conn, streamID, fields, endStream, &mu, calls)
		},
		OnData: func(streamID uint32, data []byte, endStream bool) {
			s.onData(streamID, data, endStream, &mu, calls)
		},
		OnStreamEnd: func(streamID uint32) {
			mu.Lock()
			delete(calls, streamID)
			mu.Unlock()
		},
	})

	if err := conn.ExchangePreface(); err != nil {
		raw.Close()
		return
	}
	if err := conn.Start(ctx); err != nil {
		raw.Close()
		return
	}
}

func (s *Server) onHeaders(ctx context.Context, conn *h2conn.Conn, streamID uint32, fields []hpack.Field, endStream bool, mu *sync.Mutex, calls map[uint32]*activeCall) {
	mu.Lock()
	_, exists := calls[streamID]
	mu.Unlock()
	if exists {
		return
	}

	path, timeout := pathAndTimeout(fields)
	m, ok := s.registry.lookup(path)
	if !ok {
		writeUnimplemented(conn, streamID, "unknown method "+path)
		return
	}

	callCtx := ctx
	var cancel context.CancelFunc = func() {}
	if timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, timeout)
	}

	st := newStream(callCtx, conn, streamID)
	ac := &activeCall{stream: st, method: m, reader: NewMessageReader(s.maxMessageSize), cancel: cancel}

	mu.Lock()
	calls[streamID] = ac
	mu.Unlock()

	go s.drive(ac)

	if endStream {
		st.closeRecv()
	}
}

func (s *Server) onData(streamID uint32, data []byte, endStream bool, mu *sync.Mutex, calls map[uint32]*activeCall) {
	mu.Lock()
	ac, ok := calls[streamID]
	mu.Unlock()
	if !ok {
		return
	}

	ac.reader.Feed(data)
	for {
		payload, _, ok, err := ac.reader.Next()
		if err != nil {
			return
		}
		if !ok {
			break
		}
		select {
		case ac.stream.recvCh <- payload:
		case <-ac.stream.ctx.Done():
			return
		}
	}
	if endStream {
		ac.stream.closeRecv()
	}
}

func (s *Server) drive(ac *activeCall) {
	defer ac.cancel()
	st := ac.stream

	switch ac.method.kind {
	case kindUnary:
		req, _ := <-st.recvCh
		resp, err := ac.method.unary(st.ctx, req)
		st.finish(resp, err)

	case kindServerStream:
		req, _ := <-st.recvCh
		err := ac.method.serverStream(st.ctx, req, st)
		st.finish(nil, err)

	case kindClientStream:
		resp, err := ac.method.clientStream(st.ctx, st)
		st.finish(resp, err)

	case kindBidi:
		err := ac.method.bidi(st.ctx, st)
		st.finish(nil, err)
	}
}

func writeUnimplemented(conn *h2conn.Conn, streamID uint32, message string) {
	conn.Framer().WriteHeaders(streamID, responseHeaderFields(), false)
	status := grpcstatus.Status{Code: grpcstatus.Unimplemented, Message: message}
	conn.Framer().WriteHeaders(streamID, BuildTrailer(status), true)
}
