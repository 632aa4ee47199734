package grpc

import (
	"bytes"
	"context"
	"net"
	"testing"
	"time"
)

func TestUnaryEcho(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	registry := NewServiceRegistry()
	registry.RegisterUnary("/pkg.Svc/Echo", func(ctx context.Context, req []byte) ([]byte, error) {
		return req, nil
	})
	server := NewServer(registry)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go server.Serve(ctx, ln)

	raw, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer raw.Close()

	client, err := Dial(ctx, raw, ln.Addr().String())
	if err != nil {
		t.Fatalf("client dial: %v", err)
	}

	callCtx, callCancel := context.WithTimeout(ctx, time.Second)
	defer callCancel()

	resp, err := client.Invoke(callCtx, "/pkg.Svc/Echo", []byte{0x01, 0x02, 0x03})
	if err != nil {
		t.Fatalf("invoke failed: %v", err)
	}
	if !bytes.Equal(resp, []byte{0x01, 0x02, 0x03}) {
		t.Fatalf("got %v, want [1 2 3]", resp)
	}
}

func TestUnaryUnimplemented(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	server := NewServer(NewServiceRegistry())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go server.Serve(ctx, ln)

	raw, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer raw.Close()

	client, err := Dial(ctx, raw, ln.Addr().String())
	if err != nil {
		t.Fatalf("client dial: %v", err)
	}

	callCtx, callCancel := context.WithTimeout(ctx, time.Second)
	defer callCancel()

	_, err = client.Invoke(callCtx, "/pkg.Svc/Missing", nil)
	if err == nil {
		t.Fatal("expected an error for an unregistered method")
	}
}
