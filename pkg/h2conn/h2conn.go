// Package h2conn drives one HTTP/2 connection's lifecycle: preface
// exchange, SETTINGS negotiation, the frame read loop, PING keepalive,
// and GOAWAY-triggered shutdown. It is a role-agnostic engine usable for
// both client- and server-side connections, built on h2frame.Codec and
// h2stream.Manager instead of driving golang.org/x/net/http2 and
// golang.org/x/net/http2/hpack directly.
package h2conn

import (
	"context"
	"io"
	"net"
	"sync"
	"time"

	"golang.org/x/net/http2"

	"github.com/kcenon/network-system-sub003/pkg/constants"
	"github.com/kcenon/network-system-sub003/pkg/errors"
	"github.com/kcenon/network-system-sub003/pkg/h2frame"
	"github.com/kcenon/network-system-sub003/pkg/hpack"
	"github.com/kcenon/network-system-sub003/pkg/h2stream"
	"github.com/kcenon/network-system-sub003/pkg/netlog"
)

// Callbacks are invoked as the connection engine observes protocol
// events. All are optional.
type Callbacks struct {
	OnHeaders   func(streamID uint32, fields []hpack.Field, endStream bool)
	OnData      func(streamID uint32, data []byte, endStream bool)
	OnStreamEnd func(streamID uint32)
	OnGoAway    func(lastStreamID uint32, code http2.ErrCode)
	OnClosed    func(err error)
}

// Options configures a Conn.
type Options struct {
	IsClient            bool
	MaxConcurrentStream uint32
	InitialWindowSize   uint32
	HeaderTableSize     uint32
	PingInterval        time.Duration
	IdleTimeout         time.Duration
	Logger              netlog.Logger
}

// DefaultOptions returns the constants-backed defaults.
func DefaultOptions(isClient bool) Options {
	return Options{
		IsClient:            isClient,
		MaxConcurrentStream: constants.DefaultMaxConcurrentStream,
		InitialWindowSize:   constants.DefaultInitialWindowSize,
		HeaderTableSize:     constants.DefaultHpackTableSize,
		PingInterval:        constants.DefaultPingInterval,
		IdleTimeout:         constants.DefaultIdleTimeout,
		Logger:              netlog.Discard(),
	}
}

// Conn drives the frame exchange for one HTTP/2 connection, client or
// server role, over an already-established net.Conn (plain or TLS).
type Conn struct {
	raw     net.Conn
	framer  *h2frame.Codec
	streams *h2stream.Manager
	opts    Options
	cb      Callbacks

	mu             sync.Mutex
	lastActivity   time.Time
	closed         bool
	goAwaySent     bool
	goAwayReceived bool
	peerMaxFrameSize uint32

	stop chan struct{}
	wg   sync.WaitGroup
}

// New wraps raw with an HTTP/2 engine. Callers are responsible for
// exchanging the connection preface (see ExchangePreface) before calling
// Start.
func New(raw net.Conn, opts Options, cb Callbacks) *Conn {
	codec := hpack.NewCodec(opts.HeaderTableSize)
	c := &Conn{
		raw:              raw,
		framer:           h2frame.NewCodec(raw, codec),
		streams:          h2stream.NewManager(opts.IsClient, opts.MaxConcurrentStream),
		opts:             opts,
		cb:               cb,
		lastActivity:     time.Now(),
		peerMaxFrameSize: constants.DefaultMaxFrameSize,
		stop:             make(chan struct{}),
	}
	return c
}

// PeerMaxFrameSize returns the largest DATA payload the peer has said
// (via SETTINGS_MAX_FRAME_SIZE) it will accept in one frame.
func (c *Conn) PeerMaxFrameSize() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peerMaxFrameSize
}

// ExchangePreface writes (client role) or reads and verifies (server
// role) the HTTP/2 connection preface defined in RFC 7540 §3.5.
func (c *Conn) ExchangePreface() error {
	if c.opts.IsClient {
		if _, err := c.raw.Write([]byte(constants.ConnectionPreface)); err != nil {
			return errors.NewHandshakeError("preface", "failed to write connection preface", err)
		}
		return nil
	}

	buf := make([]byte, len(constants.ConnectionPreface))
	if _, err := io.ReadFull(c.raw, buf); err != nil {
		return errors.NewHandshakeError("preface", "failed to read connection preface", err)
	}
	if string(buf) != constants.ConnectionPreface {
		return errors.NewHandshakeError("preface", "unexpected connection preface", nil)
	}
	return nil
}

// Streams exposes the stream manager for callers that need to open new
// streams or inspect stream state directly (gRPC call orchestration).
func (c *Conn) Streams() *h2stream.Manager { return c.streams }

// Framer exposes the underlying frame codec for writing HEADERS/DATA
// frames from a caller driving an RPC.
func (c *Conn) Framer() *h2frame.Codec { return c.framer }

// Start sends initial SETTINGS and launches the read loop and PING
// keepalive goroutines. Must be called after ExchangePreface.
func (c *Conn) Start(ctx context.Context) error {
	settings := map[http2.SettingID]uint32{
		http2.SettingMaxConcurrentStreams: c.opts.MaxConcurrentStream,
		http2.SettingInitialWindowSize:    c.opts.InitialWindowSize,
		http2.SettingHeaderTableSize:      c.opts.HeaderTableSize,
		http2.SettingMaxFrameSize:         constants.DefaultMaxFrameSize,
	}
	if err := c.framer.WriteSettings(settings); err != nil {
		return errors.NewHandshakeError("settings", "failed to send initial settings", err)
	}

	c.wg.Add(2)
	go c.readLoop()
	go c.pingLoop()
	return nil
}

func (c *Conn) readLoop() {
	defer c.wg.Done()
	var loopErr error
readLoop:
	for {
		select {
		case <-c.stop:
			break readLoop
		default:
		}

		frame, err := c.framer.ReadFrame()
		if err != nil {
			loopErr = err
			break
		}
		c.touch()
		c.dispatch(frame)
	}
	c.finish(loopErr)
}

func (c *Conn) dispatch(f *h2frame.Frame) {
	switch f.Type {
	case http2.FrameHeaders:
		c.streams.Accept(f.StreamID)
		if c.cb.OnHeaders != nil {
			c.cb.OnHeaders(f.StreamID, f.Headers, f.EndStream)
		}
		if f.EndStream {
			c.streams.OnEndStream(f.StreamID, true)
			if c.cb.OnStreamEnd != nil {
				c.cb.OnStreamEnd(f.StreamID)
			}
		}

	case http2.FrameData:
		c.streams.AccountInboundData(f.StreamID, len(f.Data))
		c.streams.AppendBody(f.StreamID, f.Data)
		if c.cb.OnData != nil {
			c.cb.OnData(f.StreamID, f.Data, f.EndStream)
		}
		if f.EndStream {
			c.streams.OnEndStream(f.StreamID, true)
			if c.cb.OnStreamEnd != nil {
				c.cb.OnStreamEnd(f.StreamID)
			}
		}
		c.maybeRestoreWindow(f.StreamID)
		c.maybeRestoreConnWindow()

	case http2.FrameSettings:
		if f.SettingsAck {
			return
		}
		c.applySettings(f.Settings)
		_ = c.framer.WriteSettingsAck()

	case http2.FramePing:
		if !f.PingAck {
			_ = c.framer.WritePing(f.PingData, true)
		}

	case http2.FrameWindowUpdate:
		if f.WindowIncrement == 0 {
			_ = c.framer.WriteGoAway(0, http2.ErrCodeProtocol, []byte("WINDOW_UPDATE increment must not be zero"))
			c.finish(errors.NewProtocolError("WINDOW_UPDATE increment must not be zero", nil))
			return
		}
		if f.StreamID == 0 {
			c.streams.AdjustConnPeerWindow(int32(f.WindowIncrement))
		} else {
			c.streams.AdjustPeerWindow(f.StreamID, int32(f.WindowIncrement))
		}

	case http2.FrameGoAway:
		terminated := c.streams.MarkGoAway(f.LastStreamID)
		c.mu.Lock()
		c.goAwayReceived = true
		c.mu.Unlock()
		if c.cb.OnStreamEnd != nil {
			for _, id := range terminated {
				c.cb.OnStreamEnd(id)
			}
		}
		if c.cb.OnGoAway != nil {
			c.cb.OnGoAway(f.LastStreamID, f.ErrorCode)
		}

	case http2.FrameRSTStream:
		c.streams.Reset(f.StreamID, f.ErrorCode)
	}
}

// applySettings applies a peer SETTINGS frame per RFC 7540 §6.5.3:
// header_table_size rescales the encoder's dynamic table, max_frame_size
// bounds future outbound DATA, and initial_window_size shifts every open
// stream's send window retroactively.
func (c *Conn) applySettings(settings map[http2.SettingID]uint32) {
	if v, ok := settings[http2.SettingHeaderTableSize]; ok {
		c.framer.SetHeaderTableSize(v)
	}
	if v, ok := settings[http2.SettingMaxFrameSize]; ok {
		c.mu.Lock()
		c.peerMaxFrameSize = v
		c.mu.Unlock()
	}
	if v, ok := settings[http2.SettingInitialWindowSize]; ok {
		if err := c.streams.ApplyInitialWindowDelta(int32(v)); err != nil {
			_ = c.framer.WriteGoAway(0, http2.ErrCodeFlowControl, nil)
			c.finish(err)
		}
	}
}

func (c *Conn) maybeRestoreWindow(streamID uint32) {
	s, ok := c.streams.Get(streamID)
	if !ok {
		return
	}
	if s.WindowSize < constants.DefaultWindowRestoreThreshold {
		increment := constants.DefaultInitialWindowSize - s.WindowSize
		if err := c.framer.WriteWindowUpdate(streamID, uint32(increment)); err == nil {
			c.streams.AdjustWindow(streamID, increment)
		}
	}
}

func (c *Conn) maybeRestoreConnWindow() {
	increment := c.streams.RestoreConnWindowIfNeeded()
	if increment <= 0 {
		return
	}
	if err := c.framer.WriteWindowUpdate(0, uint32(increment)); err == nil {
		c.streams.AdjustConnRecvWindow(increment)
	}
}

func (c *Conn) pingLoop() {
	defer c.wg.Done()
	if c.opts.PingInterval <= 0 {
		return
	}
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.mu.Lock()
			idle := time.Since(c.lastActivity)
			closed := c.closed
			c.mu.Unlock()
			if closed {
				return
			}
			if idle > c.opts.PingInterval {
				var data [8]byte
				if err := c.framer.WritePing(data, false); err != nil {
					c.finish(err)
					return
				}
			}
			if idle > c.opts.IdleTimeout {
				c.finish(errors.NewTimeoutError("connection idle", c.opts.IdleTimeout))
				return
			}
		case <-c.stop:
			return
		}
	}
}

func (c *Conn) touch() {
	c.mu.Lock()
	c.lastActivity = time.Now()
	c.mu.Unlock()
}

// GoAway sends a GOAWAY frame announcing graceful shutdown.
func (c *Conn) GoAway(lastStreamID uint32, code http2.ErrCode) error {
	c.mu.Lock()
	c.goAwaySent = true
	c.mu.Unlock()
	return c.framer.WriteGoAway(lastStreamID, code, nil)
}

// Close tears down the connection, stopping background goroutines and
// closing the underlying socket. Idempotent.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	close(c.stop)
	err := c.raw.Close()
	c.wg.Wait()
	return err
}

func (c *Conn) finish(err error) {
	c.mu.Lock()
	already := c.closed
	c.closed = true
	c.mu.Unlock()

	if already {
		return
	}
	c.raw.Close()
	if c.cb.OnClosed != nil {
		c.cb.OnClosed(err)
	}
}
