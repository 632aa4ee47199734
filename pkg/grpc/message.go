// Package grpc implements RPC call orchestration directly on top of
// pkg/h2conn/pkg/h2stream/pkg/hpack — never on google.golang.org/grpc,
// which stays an out-of-scope external collaborator, wired in only when
// a build carries the third-party gRPC client/server directly.
package grpc

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/kcenon/network-system-sub003/pkg/errors"
)

// EncodeMessage frames payload as compressed:1 | length:4 big-endian |
// payload, the wire form every gRPC message takes inside a DATA frame.
func EncodeMessage(compressed bool, payload []byte) []byte {
	out := make([]byte, 5+len(payload))
	if compressed {
		out[0] = 1
	}
	binary.BigEndian.PutUint32(out[1:5], uint32(len(payload)))
	copy(out[5:], payload)
	return out
}

// MessageReader reassembles gRPC messages out of a stream of DATA frame
// payloads, since a single message can span several frames and a single
// frame can carry several messages back to back.
type MessageReader struct {
	buf     bytes.Buffer
	maxSize int
}

// NewMessageReader creates a reader that rejects any message whose
// declared length exceeds maxSize.
func NewMessageReader(maxSize int) *MessageReader {
	return &MessageReader{maxSize: maxSize}
}

// Feed appends newly-received bytes to the reassembly buffer.
func (r *MessageReader) Feed(data []byte) {
	r.buf.Write(data)
}

// Next extracts one complete message from the buffer. ok is false when
// the buffer does not yet hold a full message.
func (r *MessageReader) Next() (payload []byte, compressed bool, ok bool, err error) {
	if r.buf.Len() < 5 {
		return nil, false, false, nil
	}
	header := r.buf.Bytes()[:5]
	length := binary.BigEndian.Uint32(header[1:5])
	if int(length) > r.maxSize {
		return nil, false, false, errors.NewGRPCFrameError(fmt.Sprintf("message length %d exceeds max %d", length, r.maxSize), nil)
	}
	if r.buf.Len() < 5+int(length) {
		return nil, false, false, nil
	}

	full := make([]byte, 5+length)
	r.buf.Read(full)
	return full[5:], full[0] == 1, true, nil
}
