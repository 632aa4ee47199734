package grpc

import (
	"bytes"
	"testing"
)

func TestMessageRoundTrip(t *testing.T) {
	wire := EncodeMessage(false, []byte("hello"))
	r := NewMessageReader(1024)
	r.Feed(wire)

	payload, compressed, ok, err := r.Next()
	if err != nil || !ok {
		t.Fatalf("Next() = %v, %v, err=%v", ok, payload, err)
	}
	if compressed {
		t.Fatal("expected uncompressed")
	}
	if !bytes.Equal(payload, []byte("hello")) {
		t.Fatalf("got %q", payload)
	}
}

func TestMessageSpansMultipleFeeds(t *testing.T) {
	wire := EncodeMessage(false, []byte("split-message"))
	r := NewMessageReader(1024)
	r.Feed(wire[:3])

	if _, _, ok, err := r.Next(); ok || err != nil {
		t.Fatalf("expected incomplete, got ok=%v err=%v", ok, err)
	}

	r.Feed(wire[3:])
	payload, _, ok, err := r.Next()
	if err != nil || !ok {
		t.Fatalf("Next() after full feed failed: ok=%v err=%v", ok, err)
	}
	if string(payload) != "split-message" {
		t.Fatalf("got %q", payload)
	}
}

func TestMessageExceedsMaxSize(t *testing.T) {
	wire := EncodeMessage(false, make([]byte, 100))
	r := NewMessageReader(10)
	r.Feed(wire)

	if _, _, _, err := r.Next(); err == nil {
		t.Fatal("expected an error for oversized message")
	}
}

func TestMessageMultiplePerFeed(t *testing.T) {
	wire := append(EncodeMessage(false, []byte("a")), EncodeMessage(false, []byte("bb"))...)
	r := NewMessageReader(1024)
	r.Feed(wire)

	first, _, ok, err := r.Next()
	if err != nil || !ok || string(first) != "a" {
		t.Fatalf("first message: ok=%v err=%v got=%q", ok, err, first)
	}
	second, _, ok, err := r.Next()
	if err != nil || !ok || string(second) != "bb" {
		t.Fatalf("second message: ok=%v err=%v got=%q", ok, err, second)
	}
}
