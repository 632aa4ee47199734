// Package h2stream manages the per-stream state machine and flow-control
// windows shared by the HTTP/2 and gRPC engines: the idle/open/
// half-closed/closed lifecycle and window bookkeeping, covering both
// client-initiated (odd IDs) and server-initiated (even IDs) streams,
// plus stream-id-exhaustion and total-stream-count guards.
package h2stream

import (
	"context"
	"sync"

	"golang.org/x/net/http2"

	"github.com/kcenon/network-system-sub003/pkg/buffer"
	"github.com/kcenon/network-system-sub003/pkg/constants"
	"github.com/kcenon/network-system-sub003/pkg/errors"
	"github.com/kcenon/network-system-sub003/pkg/hpack"
)

// State is a stream's position in the RFC 7540 §5.1 lifecycle.
type State int

const (
	StateIdle State = iota
	StateReservedLocal
	StateReservedRemote
	StateOpen
	StateHalfClosedLocal
	StateHalfClosedRemote
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateReservedLocal:
		return "reserved_local"
	case StateReservedRemote:
		return "reserved_remote"
	case StateOpen:
		return "open"
	case StateHalfClosedLocal:
		return "half_closed_local"
	case StateHalfClosedRemote:
		return "half_closed_remote"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Stream is one HTTP/2 stream's mutable state: its FSM position, flow
// control windows, and accumulated header/body data.
type Stream struct {
	ID uint32
	State State
	// WindowSize is the local receive window: how many more bytes of
	// inbound DATA this side will accept before it must send a
	// WINDOW_UPDATE. Decremented on inbound DATA, restored when we send
	// that WINDOW_UPDATE.
	WindowSize int32
	// PeerWindowSize is the local send window: how many more bytes this
	// side may send the peer without exceeding its advertised receive
	// window. Decremented on outbound DATA, incremented by inbound
	// WINDOW_UPDATE on this stream and by retroactive
	// SETTINGS_INITIAL_WINDOW_SIZE deltas.
	PeerWindowSize int32

	RequestHeaders  []hpack.Field
	ResponseHeaders []hpack.Field
	TrailerHeaders  []hpack.Field
	// Body accumulates every DATA frame payload received on the stream
	// (each payload is also handed to the OnData callback); it spills to
	// disk past constants.DefaultBodyMemLimit.
	Body *buffer.Buffer

	HeadersReceived bool
	DataReceived    bool
	Closed          bool
	// GoAwayTerminated marks a stream force-closed by an inbound GOAWAY
	// rather than a normal END_STREAM/RST_STREAM, so callers can
	// distinguish a synthetic closure (status 0) from a real one.
	GoAwayTerminated bool
}

// Manager owns every stream on one HTTP/2 connection and allocates new
// stream IDs for the local role (odd for client-initiated, even for
// server-initiated/pushed).
type Manager struct {
	mu            sync.RWMutex
	cond          *sync.Cond
	streams       map[uint32]*Stream
	nextStreamID  uint32
	maxConcurrent uint32
	isClient      bool

	// peerInitialWindow seeds PeerWindowSize for streams opened after
	// the peer's most recent SETTINGS_INITIAL_WINDOW_SIZE.
	peerInitialWindow int32
	// connRecvWindow/connSendWindow are the connection-level (stream 0)
	// flow-control windows, independent of any single stream's window.
	connRecvWindow int32
	connSendWindow int32

	peerGoAway             bool
	peerGoAwayLastStreamID uint32
}

// NewManager creates a Manager. isClient selects odd (client) or even
// (server) local stream IDs; maxConcurrent bounds simultaneously open
// streams per constants.DefaultMaxConcurrentStream.
func NewManager(isClient bool, maxConcurrent uint32) *Manager {
	start := uint32(2)
	if isClient {
		start = 1
	}
	m := &Manager{
		streams:           make(map[uint32]*Stream),
		nextStreamID:      start,
		maxConcurrent:     maxConcurrent,
		peerInitialWindow: constants.DefaultInitialWindowSize,
		connRecvWindow:    constants.DefaultInitialWindowSize,
		connSendWindow:    constants.DefaultInitialWindowSize,
	}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// Open allocates a new locally-initiated stream in StateOpen (StateIdle
// is instantaneous for streams we create ourselves: RFC 7540 doesn't
// require idle to be observable before the initiating HEADERS is sent).
func (m *Manager) Open() (*Stream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.peerGoAway {
		return nil, errors.NewLifecycleError("stream.open", "peer sent GOAWAY, no new streams may be opened")
	}

	if len(m.streams) >= constants.MaxTotalStreams {
		m.cleanupClosedLocked()
		if len(m.streams) >= constants.MaxTotalStreams {
			return nil, errors.NewFlowControlError("maximum total streams reached")
		}
	}

	active := 0
	for _, s := range m.streams {
		if s.State == StateOpen || s.State == StateHalfClosedLocal {
			active++
		}
	}
	if uint32(active) >= m.maxConcurrent {
		return nil, errors.NewFlowControlError("maximum concurrent streams reached")
	}

	if m.nextStreamID > (1<<31 - 1) {
		return nil, errors.NewLifecycleError("stream.open", "stream id space exhausted, connection must be recreated")
	}

	id := m.nextStreamID
	m.nextStreamID += 2

	s := &Stream{
		ID:             id,
		State:          StateOpen,
		WindowSize:     constants.DefaultInitialWindowSize,
		PeerWindowSize: m.peerInitialWindow,
	}
	m.streams[id] = s
	return s, nil
}

// Accept registers a peer-initiated stream (first HEADERS frame seen for
// an id this Manager has not allocated).
func (m *Manager) Accept(id uint32) *Stream {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.streams[id]; ok {
		return s
	}
	s := &Stream{
		ID:             id,
		State:          StateOpen,
		WindowSize:     constants.DefaultInitialWindowSize,
		PeerWindowSize: m.peerInitialWindow,
	}
	m.streams[id] = s
	return s
}

// Get retrieves a stream by id.
func (m *Manager) Get(id uint32) (*Stream, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.streams[id]
	return s, ok
}

// Transition moves a stream to newState, rejecting transitions RFC 7540
// §5.1 does not allow.
func (m *Manager) Transition(id uint32, newState State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transitionLocked(id, newState)
}

func (m *Manager) transitionLocked(id uint32, newState State) error {
	s, ok := m.streams[id]
	if !ok {
		return errors.NewLifecycleError("stream.transition", "stream not found")
	}
	if !isValidTransition(s.State, newState) {
		return errors.NewLifecycleError("stream.transition",
			"invalid transition from "+s.State.String()+" to "+newState.String())
	}
	s.State = newState
	if newState == StateClosed {
		s.Closed = true
		m.cond.Broadcast()
	}
	return nil
}

// OnEndStream applies the half-close transition implied by an END_STREAM
// flag, from whichever side observed it.
func (m *Manager) OnEndStream(id uint32, remoteSide bool) error {
	s, ok := m.Get(id)
	if !ok {
		return errors.NewLifecycleError("stream.end_stream", "stream not found")
	}
	switch s.State {
	case StateOpen:
		if remoteSide {
			return m.Transition(id, StateHalfClosedRemote)
		}
		return m.Transition(id, StateHalfClosedLocal)
	case StateHalfClosedLocal:
		if remoteSide {
			return m.Transition(id, StateClosed)
		}
	case StateHalfClosedRemote:
		if !remoteSide {
			return m.Transition(id, StateClosed)
		}
	}
	return nil
}

// AdjustWindow changes a stream's local receive window by delta, or
// every stream's window at once (id==0).
func (m *Manager) AdjustWindow(id uint32, delta int32) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id == 0 {
		for _, s := range m.streams {
			s.WindowSize += delta
		}
		return nil
	}

	s, ok := m.streams[id]
	if !ok {
		return errors.NewLifecycleError("stream.adjust_window", "stream not found")
	}
	newSize := int64(s.WindowSize) + int64(delta)
	if newSize > (1<<31 - 1) {
		return errors.NewFlowControlError("window size overflow")
	}
	s.WindowSize = int32(newSize)
	return nil
}

// AdjustPeerWindow changes how much this side may still send to the
// peer on stream id, per a received WINDOW_UPDATE increment. id==0
// adjusts every stream's peer window at once.
func (m *Manager) AdjustPeerWindow(id uint32, delta int32) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id == 0 {
		for _, s := range m.streams {
			s.PeerWindowSize += delta
		}
		m.cond.Broadcast()
		return nil
	}

	s, ok := m.streams[id]
	if !ok {
		return errors.NewLifecycleError("stream.adjust_peer_window", "stream not found")
	}
	newSize := int64(s.PeerWindowSize) + int64(delta)
	if newSize > (1<<31 - 1) {
		return errors.NewFlowControlError("peer window size overflow")
	}
	s.PeerWindowSize = int32(newSize)
	m.cond.Broadcast()
	return nil
}

// PeerWindow returns how many bytes may still be sent to the peer on
// stream id without exceeding its advertised receive window.
func (m *Manager) PeerWindow(id uint32) (int32, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.streams[id]
	if !ok {
		return 0, errors.NewLifecycleError("stream.peer_window", "stream not found")
	}
	return s.PeerWindowSize, nil
}

// ApplyInitialWindowDelta applies a peer SETTINGS_INITIAL_WINDOW_SIZE
// change of newValue: every currently open stream's PeerWindowSize
// shifts by (newValue - previous value), per RFC 7540 §6.9.2, and
// newValue becomes the baseline for streams opened from now on. Returns
// a FlowControlError, leaving all windows unchanged, if the shift would
// overflow any open stream.
func (m *Manager) ApplyInitialWindowDelta(newValue int32) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delta := int64(newValue) - int64(m.peerInitialWindow)
	for _, s := range m.streams {
		if s.Closed {
			continue
		}
		if int64(s.PeerWindowSize)+delta > (1<<31 - 1) {
			return errors.NewFlowControlError("initial window size update overflows an open stream's send window")
		}
	}
	for _, s := range m.streams {
		if s.Closed {
			continue
		}
		s.PeerWindowSize = int32(int64(s.PeerWindowSize) + delta)
	}
	m.peerInitialWindow = newValue
	m.cond.Broadcast()
	return nil
}

// ConnRecvWindow returns the connection-level local receive window.
func (m *Manager) ConnRecvWindow() int32 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connRecvWindow
}

// ConnPeerWindow returns the connection-level send window toward the
// peer.
func (m *Manager) ConnPeerWindow() int32 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connSendWindow
}

// AdjustConnPeerWindow changes the connection-level send window by
// delta, per a WINDOW_UPDATE received on stream 0.
func (m *Manager) AdjustConnPeerWindow(delta int32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	newSize := int64(m.connSendWindow) + int64(delta)
	if newSize > (1<<31 - 1) {
		return errors.NewFlowControlError("connection peer window overflow")
	}
	m.connSendWindow = int32(newSize)
	m.cond.Broadcast()
	return nil
}

// AccountInboundData records n bytes of inbound DATA against both
// stream id's receive window and the connection-level receive window.
func (m *Manager) AccountInboundData(id uint32, n int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connRecvWindow -= int32(n)
	s, ok := m.streams[id]
	if !ok {
		return errors.NewLifecycleError("stream.account_inbound_data", "stream not found")
	}
	s.WindowSize -= int32(n)
	return nil
}

// RestoreConnWindowIfNeeded reports the WINDOW_UPDATE increment needed
// to bring the connection-level receive window back up to the default
// once it has dropped below constants.DefaultWindowRestoreThreshold,
// and 0 otherwise. Callers apply the returned increment via
// AdjustConnRecvWindow only after the WINDOW_UPDATE frame is actually
// written.
func (m *Manager) RestoreConnWindowIfNeeded() int32 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.connRecvWindow < constants.DefaultWindowRestoreThreshold {
		return constants.DefaultInitialWindowSize - m.connRecvWindow
	}
	return 0
}

// AdjustConnRecvWindow applies a local WINDOW_UPDATE increment (one we
// just sent) to the connection-level receive window bookkeeping.
func (m *Manager) AdjustConnRecvWindow(delta int32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connRecvWindow += delta
}

// AcquireSendWindow blocks until at least one byte, and at most want
// bytes, may be sent on stream id without exceeding either the stream's
// or the connection's peer window, then reserves that many bytes from
// both and returns it. It unblocks early if ctx is cancelled or the
// stream closes while waiting.
func (m *Manager) AcquireSendWindow(ctx context.Context, id uint32, want int32) (int32, error) {
	stopWaiting := make(chan struct{})
	defer close(stopWaiting)
	go func() {
		select {
		case <-ctx.Done():
			m.mu.Lock()
			m.cond.Broadcast()
			m.mu.Unlock()
		case <-stopWaiting:
		}
	}()

	m.mu.Lock()
	defer m.mu.Unlock()
	for {
		s, ok := m.streams[id]
		if !ok {
			return 0, errors.NewLifecycleError("stream.acquire_send_window", "stream not found")
		}
		if s.Closed {
			return 0, errors.NewLifecycleError("stream.acquire_send_window", "stream closed while waiting for flow control window")
		}
		if err := ctx.Err(); err != nil {
			return 0, err
		}

		avail := s.PeerWindowSize
		if m.connSendWindow < avail {
			avail = m.connSendWindow
		}
		if avail > 0 {
			chunk := avail
			if chunk > want {
				chunk = want
			}
			s.PeerWindowSize -= chunk
			m.connSendWindow -= chunk
			return chunk, nil
		}
		m.cond.Wait()
	}
}

// MarkGoAway records an inbound GOAWAY with the given last accepted
// stream id: every open stream above it is force-closed with
// GoAwayTerminated set (a synthetic, statusless closure per RFC 7540
// §6.8), no further Open() calls are accepted, and any AcquireSendWindow
// waiter on a terminated stream is released. Returns the ids terminated.
func (m *Manager) MarkGoAway(lastStreamID uint32) []uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.peerGoAway = true
	m.peerGoAwayLastStreamID = lastStreamID

	var terminated []uint32
	for id, s := range m.streams {
		if id > lastStreamID && !s.Closed {
			s.State = StateClosed
			s.Closed = true
			s.GoAwayTerminated = true
			terminated = append(terminated, id)
		}
	}
	if len(terminated) > 0 {
		m.cond.Broadcast()
	}
	return terminated
}

// AppendBody writes data into the stream's body buffer, lazily creating
// it on first use.
func (m *Manager) AppendBody(id uint32, data []byte) error {
	m.mu.Lock()
	s, ok := m.streams[id]
	m.mu.Unlock()
	if !ok {
		return errors.NewLifecycleError("stream.append_body", "stream not found")
	}
	if s.Body == nil {
		s.Body = buffer.New(constants.DefaultBodyMemLimit)
	}
	_, err := s.Body.Write(data)
	return err
}

// Reset force-closes a stream, used on RST_STREAM.
func (m *Manager) Reset(id uint32, code http2.ErrCode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.streams[id]
	if !ok {
		return errors.NewLifecycleError("stream.reset", "stream not found")
	}
	s.State = StateClosed
	s.Closed = true
	m.cond.Broadcast()
	_ = code
	return nil
}

// Active returns every stream not yet closed.
func (m *Manager) Active() []*Stream {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Stream, 0, len(m.streams))
	for _, s := range m.streams {
		if !s.Closed {
			out = append(out, s)
		}
	}
	return out
}

// CleanupClosed drops streams already in StateClosed, bounding memory
// for long-lived connections.
func (m *Manager) CleanupClosed() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cleanupClosedLocked()
}

func (m *Manager) cleanupClosedLocked() {
	for id, s := range m.streams {
		if s.Closed && s.State == StateClosed {
			if s.Body != nil {
				s.Body.Close()
			}
			delete(m.streams, id)
		}
	}
}

func isValidTransition(from, to State) bool {
	switch from {
	case StateIdle:
		return to == StateReservedLocal || to == StateReservedRemote || to == StateOpen || to == StateClosed
	case StateReservedLocal:
		return to == StateHalfClosedRemote || to == StateClosed
	case StateReservedRemote:
		return to == StateHalfClosedLocal || to == StateClosed
	case StateOpen:
		return to == StateHalfClosedLocal || to == StateHalfClosedRemote || to == StateClosed
	case StateHalfClosedLocal:
		return to == StateClosed
	case StateHalfClosedRemote:
		return to == StateClosed
	default:
		return false
	}
}
