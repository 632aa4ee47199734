package h2conn

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"golang.org/x/net/http2"

	"github.com/kcenon/network-system-sub003/pkg/h2frame"
	"github.com/kcenon/network-system-sub003/pkg/hpack"
)

func TestPrefaceExchangeClientServer(t *testing.T) {
	clientRaw, serverRaw := net.Pipe()
	defer clientRaw.Close()
	defer serverRaw.Close()

	clientOpts := DefaultOptions(true)
	clientOpts.PingInterval = 0
	serverOpts := DefaultOptions(false)
	serverOpts.PingInterval = 0

	client := New(clientRaw, clientOpts, Callbacks{})
	server := New(serverRaw, serverOpts, Callbacks{})

	var wg sync.WaitGroup
	wg.Add(2)
	var clientErr, serverErr error
	go func() { defer wg.Done(); clientErr = client.ExchangePreface() }()
	go func() { defer wg.Done(); serverErr = server.ExchangePreface() }()
	wg.Wait()

	if clientErr != nil {
		t.Fatalf("client preface error: %v", clientErr)
	}
	if serverErr != nil {
		t.Fatalf("server preface error: %v", serverErr)
	}
}

func TestHeadersFrameDeliveredToServerCallback(t *testing.T) {
	clientRaw, serverRaw := net.Pipe()
	defer clientRaw.Close()
	defer serverRaw.Close()

	clientOpts := DefaultOptions(true)
	clientOpts.PingInterval = 0
	serverOpts := DefaultOptions(false)
	serverOpts.PingInterval = 0

	received := make(chan []hpack.Field, 1)
	server := New(serverRaw, serverOpts, Callbacks{
		OnHeaders: func(streamID uint32, fields []hpack.Field, endStream bool) {
			received <- fields
		},
	})
	client := New(clientRaw, clientOpts, Callbacks{})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); client.ExchangePreface() }()
	go func() { defer wg.Done(); server.ExchangePreface() }()
	wg.Wait()

	ctx := context.Background()
	if err := client.Start(ctx); err != nil {
		t.Fatalf("client start: %v", err)
	}
	if err := server.Start(ctx); err != nil {
		t.Fatalf("server start: %v", err)
	}
	defer client.Close()
	defer server.Close()

	stream, err := client.Streams().Open()
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}

	fields := []hpack.Field{{Name: ":method", Value: "GET"}, {Name: ":path", Value: "/"}}
	if err := client.Framer().WriteHeaders(stream.ID, fields, true); err != nil {
		t.Fatalf("write headers: %v", err)
	}

	select {
	case got := <-received:
		if len(got) != 2 {
			t.Fatalf("expected 2 fields, got %d", len(got))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for headers callback")
	}
}

func TestSettingsFrameUpdatesWindowAndFrameSize(t *testing.T) {
	clientRaw, serverRaw := net.Pipe()
	defer clientRaw.Close()
	defer serverRaw.Close()

	clientOpts := DefaultOptions(true)
	clientOpts.PingInterval = 0
	serverOpts := DefaultOptions(false)
	serverOpts.PingInterval = 0

	headersSeen := make(chan uint32, 1)
	server := New(serverRaw, serverOpts, Callbacks{
		OnHeaders: func(streamID uint32, fields []hpack.Field, endStream bool) {
			headersSeen <- streamID
		},
	})
	client := New(clientRaw, clientOpts, Callbacks{})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); client.ExchangePreface() }()
	go func() { defer wg.Done(); server.ExchangePreface() }()
	wg.Wait()

	ctx := context.Background()
	if err := client.Start(ctx); err != nil {
		t.Fatalf("client start: %v", err)
	}
	if err := server.Start(ctx); err != nil {
		t.Fatalf("server start: %v", err)
	}
	defer client.Close()
	defer server.Close()

	stream, err := client.Streams().Open()
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	fields := []hpack.Field{{Name: ":method", Value: "GET"}, {Name: ":path", Value: "/"}}
	if err := client.Framer().WriteHeaders(stream.ID, fields, false); err != nil {
		t.Fatalf("write headers: %v", err)
	}

	select {
	case <-headersSeen:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for server to accept stream")
	}

	if err := client.Framer().WriteSettings(map[http2.SettingID]uint32{
		http2.SettingInitialWindowSize: 10000,
		http2.SettingMaxFrameSize:      32768,
	}); err != nil {
		t.Fatalf("write settings: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if server.PeerMaxFrameSize() == 32768 {
			if s, ok := server.Streams().Get(stream.ID); ok && s.PeerWindowSize == 10000 {
				return
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("timed out waiting for server to apply peer settings")
}

func TestGoAwayTerminatesStreamsAboveLastStreamID(t *testing.T) {
	clientRaw, serverRaw := net.Pipe()
	defer clientRaw.Close()
	defer serverRaw.Close()

	clientOpts := DefaultOptions(true)
	clientOpts.PingInterval = 0
	serverOpts := DefaultOptions(false)
	serverOpts.PingInterval = 0

	terminated := make(chan uint32, 8)
	client := New(clientRaw, clientOpts, Callbacks{
		OnStreamEnd: func(streamID uint32) { terminated <- streamID },
	})
	server := New(serverRaw, serverOpts, Callbacks{})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); client.ExchangePreface() }()
	go func() { defer wg.Done(); server.ExchangePreface() }()
	wg.Wait()

	ctx := context.Background()
	if err := client.Start(ctx); err != nil {
		t.Fatalf("client start: %v", err)
	}
	if err := server.Start(ctx); err != nil {
		t.Fatalf("server start: %v", err)
	}
	defer client.Close()
	defer server.Close()

	s1, err := client.Streams().Open()
	if err != nil {
		t.Fatalf("open stream 1: %v", err)
	}
	s2, err := client.Streams().Open()
	if err != nil {
		t.Fatalf("open stream 2: %v", err)
	}
	s3, err := client.Streams().Open()
	if err != nil {
		t.Fatalf("open stream 3: %v", err)
	}

	if err := server.GoAway(s1.ID, http2.ErrCodeNoError); err != nil {
		t.Fatalf("send goaway: %v", err)
	}

	seen := make(map[uint32]bool)
	deadline := time.Now().Add(2 * time.Second)
	for len(seen) < 2 && time.Now().Before(deadline) {
		select {
		case id := <-terminated:
			seen[id] = true
		case <-time.After(2 * time.Second):
		}
	}
	if !seen[s2.ID] || !seen[s3.ID] {
		t.Fatalf("expected streams %d and %d terminated by GOAWAY, got %v", s2.ID, s3.ID, seen)
	}

	if _, err := client.Streams().Open(); err == nil {
		t.Fatal("expected Open to fail on client after receiving GOAWAY")
	}
}

func TestZeroWindowUpdateIncrementTerminatesConnection(t *testing.T) {
	clientRaw, serverRaw := net.Pipe()
	defer clientRaw.Close()
	defer serverRaw.Close()

	clientOpts := DefaultOptions(true)
	clientOpts.PingInterval = 0
	serverOpts := DefaultOptions(false)
	serverOpts.PingInterval = 0

	closedErr := make(chan error, 1)
	server := New(serverRaw, serverOpts, Callbacks{
		OnClosed: func(err error) { closedErr <- err },
	})
	client := New(clientRaw, clientOpts, Callbacks{})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); client.ExchangePreface() }()
	go func() { defer wg.Done(); server.ExchangePreface() }()
	wg.Wait()

	ctx := context.Background()
	if err := client.Start(ctx); err != nil {
		t.Fatalf("client start: %v", err)
	}
	if err := server.Start(ctx); err != nil {
		t.Fatalf("server start: %v", err)
	}
	defer client.Close()
	defer server.Close()

	// The Framer refuses to write a zero increment, so the illegal frame is
	// written to the pipe as raw bytes.
	if _, err := clientRaw.Write(h2frame.BuildFrame(http2.FrameWindowUpdate, 0, 0, []byte{0, 0, 0, 0})); err != nil {
		t.Fatalf("write window update: %v", err)
	}

	select {
	case err := <-closedErr:
		if err == nil {
			t.Fatal("expected a protocol error closing the connection")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for connection to close on zero-increment WINDOW_UPDATE")
	}
}
