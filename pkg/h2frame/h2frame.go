// Package h2frame wraps golang.org/x/net/http2's Framer with the
// connection-agnostic framing helpers this runtime's HTTP/2 and gRPC
// engines share: read/write of the standard frame set plus a byte-level
// ParseFrame/BuildFrame pair for situations (tests, proxies, diagnostic
// tooling) that need to inspect or construct a 9-byte frame header
// without driving a live Framer.
package h2frame

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"golang.org/x/net/http2"

	"github.com/kcenon/network-system-sub003/pkg/constants"
	"github.com/kcenon/network-system-sub003/pkg/errors"
	"github.com/kcenon/network-system-sub003/pkg/hpack"
)

// Frame is the decoded, protocol-level representation this package's
// callers exchange; it is simpler than golang.org/x/net/http2's frame
// types because header blocks have already been run through hpack.Codec.
type Frame struct {
	Type      http2.FrameType
	StreamID  uint32
	Flags     http2.Flags
	Headers   []hpack.Field // HEADERS frames only
	Data      []byte        // DATA frames only
	EndStream bool
	EndHeaders bool
	Settings  map[http2.SettingID]uint32 // SETTINGS frames only
	WindowIncrement uint32                // WINDOW_UPDATE frames only
	PingData  [8]byte                     // PING frames only
	PingAck   bool
	SettingsAck bool          // SETTINGS frames only
	ErrorCode http2.ErrCode // RST_STREAM / GOAWAY frames
	LastStreamID uint32     // GOAWAY frames only
}

// Codec drives a single connection's Framer, encoding and decoding
// HEADERS frames through a bound hpack.Codec so callers exchange Frame
// values instead of raw header blocks.
type Codec struct {
	framer *http2.Framer
	hp     *hpack.Codec
}

// NewCodec wraps rw with an http2.Framer configured per
// constants.DefaultMaxFrameSize/DefaultMaxHeaderListSize.
func NewCodec(rw io.ReadWriter, hp *hpack.Codec) *Codec {
	framer := http2.NewFramer(rw, rw)
	framer.SetMaxReadFrameSize(constants.DefaultMaxFrameSize)
	framer.MaxHeaderListSize = constants.DefaultMaxHeaderListSize
	return &Codec{framer: framer, hp: hp}
}

// ReadFrame reads and decodes the next frame off the wire.
func (c *Codec) ReadFrame() (*Frame, error) {
	raw, err := c.framer.ReadFrame()
	if err != nil {
		return nil, err
	}

	switch f := raw.(type) {
	case *http2.HeadersFrame:
		fields, err := c.hp.Decode(f.HeaderBlockFragment())
		if err != nil {
			return nil, err
		}
		return &Frame{
			Type: http2.FrameHeaders, StreamID: f.StreamID, Flags: f.Flags,
			Headers: fields, EndStream: f.StreamEnded(), EndHeaders: f.HeadersEnded(),
		}, nil

	case *http2.DataFrame:
		return &Frame{
			Type: http2.FrameData, StreamID: f.StreamID, Flags: f.Flags,
			Data: append([]byte(nil), f.Data()...), EndStream: f.StreamEnded(),
		}, nil

	case *http2.SettingsFrame:
		if f.IsAck() {
			return &Frame{Type: http2.FrameSettings, Flags: f.Flags, SettingsAck: true}, nil
		}
		settings := make(map[http2.SettingID]uint32)
		_ = f.ForeachSetting(func(s http2.Setting) error {
			settings[s.ID] = s.Val
			return nil
		})
		return &Frame{Type: http2.FrameSettings, Flags: f.Flags, Settings: settings}, nil

	case *http2.WindowUpdateFrame:
		return &Frame{Type: http2.FrameWindowUpdate, StreamID: f.StreamID, WindowIncrement: f.Increment}, nil

	case *http2.PingFrame:
		return &Frame{Type: http2.FramePing, Flags: f.Flags, PingData: f.Data, PingAck: f.IsAck()}, nil

	case *http2.RSTStreamFrame:
		return &Frame{Type: http2.FrameRSTStream, StreamID: f.StreamID, ErrorCode: f.ErrCode}, nil

	case *http2.GoAwayFrame:
		return &Frame{Type: http2.FrameGoAway, LastStreamID: f.LastStreamID, ErrorCode: f.ErrCode}, nil

	default:
		return &Frame{Type: raw.Header().Type, StreamID: raw.Header().StreamID, Flags: raw.Header().Flags}, nil
	}
}

// WriteHeaders encodes fields and writes a HEADERS frame.
func (c *Codec) WriteHeaders(streamID uint32, fields []hpack.Field, endStream bool) error {
	block, err := c.hp.Encode(fields)
	if err != nil {
		return err
	}
	return c.framer.WriteHeaders(http2.HeadersFrameParam{
		StreamID:      streamID,
		BlockFragment: block,
		EndStream:     endStream,
		EndHeaders:    true,
	})
}

// WriteData writes a DATA frame.
func (c *Codec) WriteData(streamID uint32, data []byte, endStream bool) error {
	return c.framer.WriteData(streamID, endStream, data)
}

// WriteSettings writes a SETTINGS frame.
func (c *Codec) WriteSettings(settings map[http2.SettingID]uint32) error {
	s := make([]http2.Setting, 0, len(settings))
	for id, val := range settings {
		s = append(s, http2.Setting{ID: id, Val: val})
	}
	return c.framer.WriteSettings(s...)
}

// WriteSettingsAck writes a SETTINGS frame with the ACK flag.
func (c *Codec) WriteSettingsAck() error {
	return c.framer.WriteSettingsAck()
}

// SetHeaderTableSize rescales both the encoder and decoder dynamic
// tables, per a peer SETTINGS_HEADER_TABLE_SIZE or a locally-decided
// budget change.
func (c *Codec) SetHeaderTableSize(size uint32) {
	c.hp.SetMaxSize(size)
}

// WriteWindowUpdate writes a WINDOW_UPDATE frame.
func (c *Codec) WriteWindowUpdate(streamID, increment uint32) error {
	return c.framer.WriteWindowUpdate(streamID, increment)
}

// WritePing writes a PING frame.
func (c *Codec) WritePing(data [8]byte, ack bool) error {
	return c.framer.WritePing(ack, data)
}

// WriteRSTStream writes an RST_STREAM frame.
func (c *Codec) WriteRSTStream(streamID uint32, code http2.ErrCode) error {
	return c.framer.WriteRSTStream(streamID, code)
}

// WriteGoAway writes a GOAWAY frame.
func (c *Codec) WriteGoAway(lastStreamID uint32, code http2.ErrCode, debugData []byte) error {
	return c.framer.WriteGoAway(lastStreamID, code, debugData)
}

// BuildFrame assembles a raw 9-byte-header frame for situations that
// need the byte-level wire form directly (loopback tests, proxy
// passthrough) rather than driving it through a Framer.
func BuildFrame(frameType http2.FrameType, flags http2.Flags, streamID uint32, payload []byte) []byte {
	var buf bytes.Buffer
	header := make([]byte, 9)
	length := uint32(len(payload))
	header[0] = byte(length >> 16)
	header[1] = byte(length >> 8)
	header[2] = byte(length)
	header[3] = byte(frameType)
	header[4] = byte(flags)
	binary.BigEndian.PutUint32(header[5:9], streamID&0x7fffffff)
	buf.Write(header)
	buf.Write(payload)
	return buf.Bytes()
}

// ParseFrame splits a raw byte slice into its 9-byte header and payload,
// without interpreting the payload. Used where a caller already has
// the full frame in memory (e.g. reassembled from a UDP datagram).
func ParseFrame(data []byte) (*http2.FrameHeader, []byte, error) {
	if len(data) < 9 {
		return nil, nil, errors.NewProtocolError(fmt.Sprintf("frame too short: %d bytes", len(data)), nil)
	}

	length := uint32(data[0])<<16 | uint32(data[1])<<8 | uint32(data[2])
	header := &http2.FrameHeader{
		Length:   length,
		Type:     http2.FrameType(data[3]),
		Flags:    http2.Flags(data[4]),
		StreamID: binary.BigEndian.Uint32(data[5:9]) & 0x7fffffff,
	}

	if len(data) < int(9+length) {
		return nil, nil, errors.NewProtocolError(fmt.Sprintf("incomplete frame: expected %d bytes, got %d", 9+length, len(data)), nil)
	}

	return header, data[9 : 9+length], nil
}
