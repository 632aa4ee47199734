package http2

import (
	"context"
	"testing"
	"time"

	"github.com/kcenon/network-system-sub003/pkg/unified"
)

func TestConnectAndEchoOverPlaintext(t *testing.T) {
	transport := NewTransport(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan []byte, 1)
	var listener unified.Listener
	ln, err := transport.Listen(ctx, unified.Endpoint{Host: "127.0.0.1", Port: 0}, unified.ConnOptions{}, unified.ListenerCallbacks{
		OnData: func(id string, data []byte) {
			received <- data
			listener.SendTo(ctx, id, data)
		},
	})
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	listener = ln
	defer listener.Stop()
	if err := listener.Start(ctx); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	clientReceived := make(chan []byte, 1)
	conn, err := transport.Connect(ctx, listener.Endpoint(), unified.ConnOptions{}, unified.ConnCallbacks{
		OnData: func(c unified.Connection, data []byte) {
			clientReceived <- data
		},
	})
	if err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	defer conn.Close()

	if err := conn.Send(ctx, []byte("ping")); err != nil {
		t.Fatalf("send failed: %v", err)
	}

	select {
	case got := <-received:
		if string(got) != "ping" {
			t.Fatalf("server got %q", got)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for server receive")
	}

	select {
	case got := <-clientReceived:
		if string(got) != "ping" {
			t.Fatalf("client got %q", got)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for client echo")
	}
}

func TestSendChunksPayloadLargerThanMaxFrameSize(t *testing.T) {
	transport := NewTransport(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan []byte, 1)
	ln, err := transport.Listen(ctx, unified.Endpoint{Host: "127.0.0.1", Port: 0}, unified.ConnOptions{}, unified.ListenerCallbacks{
		OnData: func(id string, data []byte) {
			received <- data
		},
	})
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	defer ln.Stop()
	if err := ln.Start(ctx); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	conn, err := transport.Connect(ctx, ln.Endpoint(), unified.ConnOptions{}, unified.ConnCallbacks{})
	if err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	defer conn.Close()

	payload := make([]byte, 40000)
	for i := range payload {
		payload[i] = byte(i % 251)
	}
	if err := conn.Send(ctx, payload); err != nil {
		t.Fatalf("send failed: %v", err)
	}

	var got []byte
	deadline := time.After(5 * time.Second)
	for len(got) < len(payload) {
		select {
		case chunk := <-received:
			got = append(got, chunk...)
		case <-deadline:
			t.Fatalf("timed out waiting for full payload, got %d/%d bytes", len(got), len(payload))
		}
	}
	for i := range payload {
		if got[i] != payload[i] {
			t.Fatalf("payload mismatch at byte %d", i)
		}
	}
}
