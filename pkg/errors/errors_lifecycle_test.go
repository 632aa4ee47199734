package errors

import "testing"

func TestNewLifecycleError(t *testing.T) {
	err := NewLifecycleError("connect", "already connected")
	if err.Type != ErrorTypeLifecycle {
		t.Fatalf("expected lifecycle type, got %s", err.Type)
	}
	if GetErrorType(err) != ErrorTypeLifecycle {
		t.Fatalf("GetErrorType mismatch")
	}
}

func TestNewFlowControlAndHPACKErrors(t *testing.T) {
	fc := NewFlowControlError("window exceeded")
	if fc.Type != ErrorTypeFlowControl {
		t.Fatalf("expected flowcontrol type, got %s", fc.Type)
	}

	hp := NewHPACKError("decode", "invalid index 0", nil)
	if hp.Type != ErrorTypeHPACK {
		t.Fatalf("expected hpack type, got %s", hp.Type)
	}
	if hp.Unwrap() != nil {
		t.Fatalf("expected nil cause")
	}
}

func TestNewHandshakeAndGRPCErrors(t *testing.T) {
	hs := NewHandshakeError("upgrade", "invalid Sec-WebSocket-Accept", nil)
	if hs.Type != ErrorTypeHandshake {
		t.Fatalf("expected handshake type, got %s", hs.Type)
	}

	gf := NewGRPCFrameError("message exceeds max size", nil)
	if gf.Type != ErrorTypeGRPC {
		t.Fatalf("expected grpc type, got %s", gf.Type)
	}
}
