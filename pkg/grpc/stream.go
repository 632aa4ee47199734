package grpc

import (
	"context"
	"io"
	"sync"

	"github.com/kcenon/network-system-sub003/pkg/grpcstatus"
	"github.com/kcenon/network-system-sub003/pkg/h2conn"
)

// Stream is the server-side view of one gRPC call: inbound messages
// arrive through Recv (fed by the connection's OnData callback) and
// outbound messages go out through Send, both usable interleaved for
// bidirectional calls.
type Stream struct {
	ctx    context.Context
	conn   *h2conn.Conn
	id     uint32
	recvCh chan []byte

	mu          sync.Mutex
	headersSent bool
	closeOnce   sync.Once
}

// closeRecv closes the receive channel at most once; a call's END_STREAM
// flag can arrive on either the initial HEADERS frame (no request body)
// or a later DATA/HEADERS frame, never both.
func (s *Stream) closeRecv() {
	s.closeOnce.Do(func() { close(s.recvCh) })
}

func newStream(ctx context.Context, conn *h2conn.Conn, id uint32) *Stream {
	return &Stream{ctx: ctx, conn: conn, id: id, recvCh: make(chan []byte, 8)}
}

// Context returns the call's deadline-bound context.
func (s *Stream) Context() context.Context { return s.ctx }

// Send writes one response message as a DATA frame, sending the initial
// response HEADERS first if this is the first call.
func (s *Stream) Send(payload []byte) error {
	if err := s.ensureHeaders(); err != nil {
		return err
	}
	return s.conn.Framer().WriteData(s.id, EncodeMessage(false, payload), false)
}

// Recv blocks for the next reassembled request message, returning
// io.EOF once the client has sent END_STREAM.
func (s *Stream) Recv() ([]byte, error) {
	select {
	case msg, ok := <-s.recvCh:
		if !ok {
			return nil, io.EOF
		}
		return msg, nil
	case <-s.ctx.Done():
		return nil, s.ctx.Err()
	}
}

func (s *Stream) ensureHeaders() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.headersSent {
		return nil
	}
	s.headersSent = true
	return s.conn.Framer().WriteHeaders(s.id, responseHeaderFields(), false)
}

// finish sends an optional final response message (unary/client-stream
// call shapes) followed by the trailing HEADERS block carrying status.
func (s *Stream) finish(resp []byte, callErr error) error {
	if err := s.ensureHeaders(); err != nil {
		return err
	}
	if resp != nil {
		if err := s.conn.Framer().WriteData(s.id, EncodeMessage(false, resp), false); err != nil {
			return err
		}
	}
	status := grpcstatus.Status{Code: grpcstatus.OK}
	if callErr != nil {
		status = grpcstatus.FromError(callErr)
	}
	return s.conn.Framer().WriteHeaders(s.id, BuildTrailer(status), true)
}
