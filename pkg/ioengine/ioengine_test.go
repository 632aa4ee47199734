package ioengine

import (
	"context"
	"testing"
	"time"

	"github.com/kcenon/network-system-sub003/pkg/unified"
)

func TestTCPConnectAndEcho(t *testing.T) {
	serverTransport := New(Config{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var listener unified.Listener
	received := make(chan []byte, 1)
	ln, err := serverTransport.Listen(ctx, unified.Endpoint{Host: "127.0.0.1", Port: 0}, unified.ConnOptions{}, unified.ListenerCallbacks{
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

	clientTransport := New(Config{})
	clientReceived := make(chan []byte, 1)
	conn, err := clientTransport.Connect(ctx, listener.Endpoint(), unified.ConnOptions{}, unified.ConnCallbacks{
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
			t.Fatalf("expected ping, got %q", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for server to receive data")
	}

	select {
	case got := <-clientReceived:
		if string(got) != "ping" {
			t.Fatalf("expected echoed ping, got %q", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for client echo")
	}
}

func TestConnectionCloseIsIdempotent(t *testing.T) {
	transport := New(Config{})
	ctx := context.Background()
	ln, err := transport.Listen(ctx, unified.Endpoint{Host: "127.0.0.1", Port: 0}, unified.ConnOptions{}, unified.ListenerCallbacks{})
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
	if err := conn.Close(); err != nil {
		t.Fatalf("first close failed: %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Fatalf("second close should be idempotent, got: %v", err)
	}
}

func TestConnectRecordsTCPConnectTiming(t *testing.T) {
	transport := New(Config{})
	ctx := context.Background()
	ln, err := transport.Listen(ctx, unified.Endpoint{Host: "127.0.0.1", Port: 0}, unified.ConnOptions{}, unified.ListenerCallbacks{})
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

	metrics := conn.(*Connection).Metrics()
	if metrics.TCPConnect <= 0 {
		t.Fatalf("expected positive TCPConnect duration, got %v", metrics.TCPConnect)
	}
	if metrics.TLSHandshake != 0 {
		t.Fatalf("expected zero TLSHandshake for plaintext connection, got %v", metrics.TLSHandshake)
	}
}
