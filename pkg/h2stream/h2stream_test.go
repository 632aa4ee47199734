package h2stream

import (
	"context"
	"testing"
	"time"
)

func TestOpenAllocatesOddStreamIDsForClient(t *testing.T) {
	m := NewManager(true, 100)
	s1, err := m.Open()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s2, err := m.Open()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s1.ID%2 != 1 || s2.ID%2 != 1 {
		t.Fatalf("expected odd stream ids, got %d, %d", s1.ID, s2.ID)
	}
	if s2.ID != s1.ID+2 {
		t.Fatalf("expected ids to increment by 2, got %d -> %d", s1.ID, s2.ID)
	}
}

func TestOpenAllocatesEvenStreamIDsForServer(t *testing.T) {
	m := NewManager(false, 100)
	s, err := m.Open()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.ID%2 != 0 {
		t.Fatalf("expected even stream id, got %d", s.ID)
	}
}

func TestConcurrentStreamLimitEnforced(t *testing.T) {
	m := NewManager(true, 1)
	if _, err := m.Open(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := m.Open(); err == nil {
		t.Fatal("expected error exceeding concurrent stream limit")
	}
}

func TestStateTransitionsMonotonic(t *testing.T) {
	m := NewManager(true, 10)
	s, _ := m.Open()

	if err := m.Transition(s.ID, StateHalfClosedLocal); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := m.Transition(s.ID, StateClosed); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := m.Transition(s.ID, StateOpen); err == nil {
		t.Fatal("expected error transitioning out of closed state")
	}
}

func TestOnEndStreamBothSidesClose(t *testing.T) {
	m := NewManager(true, 10)
	s, _ := m.Open()

	if err := m.OnEndStream(s.ID, false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, _ := m.Get(s.ID)
	if got.State != StateHalfClosedLocal {
		t.Fatalf("expected half_closed_local, got %v", got.State)
	}

	if err := m.OnEndStream(s.ID, true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, _ = m.Get(s.ID)
	if got.State != StateClosed {
		t.Fatalf("expected closed, got %v", got.State)
	}
}

func TestAdjustWindowOverflowRejected(t *testing.T) {
	m := NewManager(true, 10)
	s, _ := m.Open()
	if err := m.AdjustWindow(s.ID, 1<<31-1); err == nil {
		t.Fatal("expected overflow error")
	}
}

func TestAdjustWindowNeverGoesNegativeUnexpectedly(t *testing.T) {
	m := NewManager(true, 10)
	s, _ := m.Open()
	if err := m.AdjustWindow(s.ID, -1000); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, _ := m.Get(s.ID)
	if got.WindowSize != 65535-1000 {
		t.Fatalf("unexpected window size %d", got.WindowSize)
	}
}

func TestAppendBodyAccumulatesAcrossCalls(t *testing.T) {
	m := NewManager(true, 10)
	s, _ := m.Open()

	if err := m.AppendBody(s.ID, []byte("hello ")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := m.AppendBody(s.ID, []byte("world")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, _ := m.Get(s.ID)
	if string(got.Body.Bytes()) != "hello world" {
		t.Fatalf("got %q", got.Body.Bytes())
	}
}

func TestAppendBodyUnknownStream(t *testing.T) {
	m := NewManager(true, 10)
	if err := m.AppendBody(999, []byte("x")); err == nil {
		t.Fatal("expected error for unknown stream")
	}
}

func TestCleanupClosedRemovesOnlyClosedStreams(t *testing.T) {
	m := NewManager(true, 10)
	s1, _ := m.Open()
	s2, _ := m.Open()
	m.Transition(s1.ID, StateHalfClosedLocal)
	m.Transition(s1.ID, StateClosed)

	m.CleanupClosed()

	if _, ok := m.Get(s1.ID); ok {
		t.Fatal("expected closed stream to be removed")
	}
	if _, ok := m.Get(s2.ID); !ok {
		t.Fatal("expected open stream to remain")
	}
}

func TestApplyInitialWindowDeltaShiftsOpenStreams(t *testing.T) {
	m := NewManager(true, 10)
	s, _ := m.Open()
	if s.PeerWindowSize != 65535 {
		t.Fatalf("unexpected initial peer window %d", s.PeerWindowSize)
	}

	if err := m.ApplyInitialWindowDelta(10000); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, _ := m.Get(s.ID)
	if got.PeerWindowSize != 10000 {
		t.Fatalf("expected peer window 10000, got %d", got.PeerWindowSize)
	}

	s2, _ := m.Open()
	if s2.PeerWindowSize != 10000 {
		t.Fatalf("expected new stream to seed from updated baseline, got %d", s2.PeerWindowSize)
	}
}

func TestApplyInitialWindowDeltaRejectsOverflow(t *testing.T) {
	m := NewManager(true, 10)
	s, _ := m.Open()
	m.AdjustPeerWindow(s.ID, 1<<30)

	if err := m.ApplyInitialWindowDelta(1 << 30); err == nil {
		t.Fatal("expected flow control overflow error")
	}
	got, _ := m.Get(s.ID)
	if got.PeerWindowSize != 65535+(1<<30) {
		t.Fatalf("window must be unchanged on rejected delta, got %d", got.PeerWindowSize)
	}
}

func TestMarkGoAwayTerminatesStreamsAboveLastStreamID(t *testing.T) {
	m := NewManager(true, 10)
	s1, _ := m.Open()
	s2, _ := m.Open()
	s3, _ := m.Open()

	terminated := m.MarkGoAway(s1.ID)

	if len(terminated) != 2 {
		t.Fatalf("expected 2 terminated streams, got %d", len(terminated))
	}
	got2, _ := m.Get(s2.ID)
	if !got2.Closed || !got2.GoAwayTerminated {
		t.Fatalf("expected stream %d terminated by GOAWAY", s2.ID)
	}
	got3, _ := m.Get(s3.ID)
	if !got3.Closed || !got3.GoAwayTerminated {
		t.Fatalf("expected stream %d terminated by GOAWAY", s3.ID)
	}
	got1, _ := m.Get(s1.ID)
	if got1.Closed {
		t.Fatalf("stream at last_stream_id must survive")
	}
}

func TestOpenRejectedAfterGoAway(t *testing.T) {
	m := NewManager(true, 10)
	m.MarkGoAway(0)
	if _, err := m.Open(); err == nil {
		t.Fatal("expected Open to fail after GOAWAY received")
	}
}

func TestAdjustConnPeerWindowAccumulates(t *testing.T) {
	m := NewManager(true, 10)
	if err := m.AdjustConnPeerWindow(1000); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := m.ConnPeerWindow(); got != 65535+1000 {
		t.Fatalf("unexpected connection peer window %d", got)
	}
}

func TestAccountInboundDataDecrementsStreamAndConnWindows(t *testing.T) {
	m := NewManager(true, 10)
	s, _ := m.Open()

	if err := m.AccountInboundData(s.ID, 1000); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, _ := m.Get(s.ID)
	if got.WindowSize != 65535-1000 {
		t.Fatalf("unexpected stream window %d", got.WindowSize)
	}
	if m.ConnRecvWindow() != 65535-1000 {
		t.Fatalf("unexpected connection window %d", m.ConnRecvWindow())
	}
}

func TestAcquireSendWindowGrantsUpToAvailable(t *testing.T) {
	m := NewManager(true, 10)
	s, _ := m.Open()

	got, err := m.AcquireSendWindow(context.Background(), s.ID, 100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 100 {
		t.Fatalf("expected to acquire 100, got %d", got)
	}
}

func TestAcquireSendWindowBlocksThenWakesOnWindowUpdate(t *testing.T) {
	m := NewManager(true, 10)
	s, _ := m.Open()
	// Drain the stream's send window entirely.
	m.AdjustPeerWindow(s.ID, -65535)

	done := make(chan int32, 1)
	go func() {
		got, err := m.AcquireSendWindow(context.Background(), s.ID, 10)
		if err != nil {
			done <- -1
			return
		}
		done <- got
	}()

	select {
	case <-done:
		t.Fatal("expected AcquireSendWindow to block with an empty window")
	case <-time.After(50 * time.Millisecond):
	}

	if err := m.AdjustPeerWindow(s.ID, 10); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	select {
	case got := <-done:
		if got != 10 {
			t.Fatalf("expected to acquire 10, got %d", got)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for AcquireSendWindow to wake up")
	}
}

func TestAcquireSendWindowUnblocksOnContextCancel(t *testing.T) {
	m := NewManager(true, 10)
	s, _ := m.Open()
	m.AdjustPeerWindow(s.ID, -65535)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := m.AcquireSendWindow(ctx, s.ID, 10)
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected context cancellation error")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for AcquireSendWindow to honor cancellation")
	}
}
