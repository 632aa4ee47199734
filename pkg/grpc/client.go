package grpc

import (
	"context"
	"io"
	"net"
	"sync"
	"time"

	"github.com/kcenon/network-system-sub003/pkg/constants"
	"github.com/kcenon/network-system-sub003/pkg/errors"
	"github.com/kcenon/network-system-sub003/pkg/grpcstatus"
	"github.com/kcenon/network-system-sub003/pkg/h2conn"
	"github.com/kcenon/network-system-sub003/pkg/hpack"
)

// Client drives gRPC calls over one already-connected HTTP/2 connection,
// built directly on pkg/h2conn rather than google.golang.org/grpc.
type Client struct {
	conn      *h2conn.Conn
	authority string
	maxSize   int

	mu    sync.Mutex
	calls map[uint32]*Call
}

// Dial exchanges the HTTP/2 preface and SETTINGS over raw (already
// dialed, plain or TLS) and returns a ready Client.
func Dial(ctx context.Context, raw net.Conn, authority string) (*Client, error) {
	c := &Client{authority: authority, maxSize: constants.DefaultMaxGRPCMessageSize, calls: make(map[uint32]*Call)}

	c.conn = h2conn.New(raw, h2conn.DefaultOptions(true), h2conn.Callbacks{
		OnHeaders:   c.onHeaders,
		OnData:      c.onData,
		OnStreamEnd: c.forget,
	})

	if err := c.conn.ExchangePreface(); err != nil {
		return nil, err
	}
	if err := c.conn.Start(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// Call is one client-initiated gRPC stream in progress.
type Call struct {
	conn   *h2conn.Conn
	id     uint32
	reader *MessageReader

	recvCh    chan []byte
	trailerCh chan grpcstatus.Status
	closeOnce sync.Once
}

func (c *Client) register(id uint32) *Call {
	call := &Call{
		conn:      c.conn,
		id:        id,
		reader:    NewMessageReader(c.maxSize),
		recvCh:    make(chan []byte, 8),
		trailerCh: make(chan grpcstatus.Status, 1),
	}
	c.mu.Lock()
	c.calls[id] = call
	c.mu.Unlock()
	return call
}

func (c *Client) lookup(id uint32) (*Call, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	call, ok := c.calls[id]
	return call, ok
}

func (c *Client) forget(id uint32) {
	c.mu.Lock()
	delete(c.calls, id)
	c.mu.Unlock()
}

func (c *Client) onHeaders(streamID uint32, fields []hpack.Field, endStream bool) {
	call, ok := c.lookup(streamID)
	if !ok {
		return
	}
	if isTrailer(fields) {
		call.trailerCh <- ParseTrailer(fields)
		call.closeOnce.Do(func() { close(call.recvCh) })
	}
}

func (c *Client) onData(streamID uint32, data []byte, endStream bool) {
	call, ok := c.lookup(streamID)
	if !ok {
		return
	}
	call.reader.Feed(data)
	for {
		payload, _, ok, err := call.reader.Next()
		if err != nil {
			call.trailerCh <- grpcstatus.Status{Code: grpcstatus.Internal, Message: err.Error()}
			call.closeOnce.Do(func() { close(call.recvCh) })
			return
		}
		if !ok {
			break
		}
		call.recvCh <- payload
	}
}

// NewCall opens a stream and writes the request HEADERS for path,
// applying timeout (zero means no deadline) as a grpc-timeout header.
func (c *Client) NewCall(path string, timeout time.Duration) (*Call, error) {
	if timeout < 0 {
		return nil, errors.NewTimeoutError(path, 0)
	}
	stream, err := c.conn.Streams().Open()
	if err != nil {
		return nil, err
	}
	call := c.register(stream.ID)
	if err := c.conn.Framer().WriteHeaders(stream.ID, requestHeaderFields(c.authority, path, timeout), false); err != nil {
		c.forget(stream.ID)
		return nil, err
	}
	return call, nil
}

// Send writes one request message. endStream closes the request side,
// after which the call carries no more outbound messages.
func (call *Call) Send(payload []byte, endStream bool) error {
	return call.conn.Framer().WriteData(call.id, EncodeMessage(false, payload), endStream)
}

// CloseSend closes the request side of the call without sending a
// final message (used by server-streaming calls after the one request).
func (call *Call) CloseSend() error {
	return call.conn.Framer().WriteData(call.id, nil, true)
}

// Recv blocks for the next response message, returning io.EOF with the
// final grpcstatus.Status (as a *grpcstatus.Error when non-OK) once the
// server has sent trailers.
func (call *Call) Recv() ([]byte, error) {
	msg, ok := <-call.recvCh
	if ok {
		return msg, nil
	}
	status := <-call.trailerCh
	if status.Code != grpcstatus.OK {
		return nil, &grpcstatus.Error{Status: status}
	}
	return nil, io.EOF
}

// Invoke performs a full unary call: send request, close the request
// side, and read exactly one response message or the call's error.
func (c *Client) Invoke(ctx context.Context, path string, request []byte) ([]byte, error) {
	var timeout time.Duration
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
		if timeout <= 0 {
			return nil, &grpcstatus.Error{Status: grpcstatus.Status{Code: grpcstatus.DeadlineExceeded}}
		}
	}

	call, err := c.NewCall(path, timeout)
	if err != nil {
		return nil, err
	}
	if err := call.Send(request, true); err != nil {
		return nil, err
	}

	resp, err := call.Recv()
	if err != nil {
		return nil, err
	}
	// Drain to the trailer so the call's status is observed even though
	// the unary shape only has one response message.
	if _, err := call.Recv(); err != nil && err != io.EOF {
		return resp, err
	}
	return resp, nil
}
