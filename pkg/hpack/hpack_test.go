package hpack

import "testing"

func TestEncodeDecodeRoundTrip(t *testing.T) {
	enc := NewDefaultCodec()
	dec := NewDefaultCodec()

	fields := []Field{
		{Name: "content-type", Value: "application/grpc"},
		{Name: ":method", Value: "POST"},
		{Name: ":path", Value: "/pkg.Service/Method"},
	}

	block, err := enc.Encode(fields)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}

	decoded, err := dec.Decode(block)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}

	if len(decoded) != len(fields) {
		t.Fatalf("expected %d fields, got %d", len(fields), len(decoded))
	}

	if !decoded[0].IsPseudo() {
		t.Fatalf("expected pseudo-header first, got %+v", decoded[0])
	}
	if decoded[0].Name != ":method" {
		t.Fatalf("expected :method first, got %s", decoded[0].Name)
	}
}

func TestDecodeMalformedBlockErrors(t *testing.T) {
	dec := NewDefaultCodec()
	if _, err := dec.Decode([]byte{0xFF, 0xFF, 0xFF}); err == nil {
		t.Fatal("expected error decoding malformed block")
	}
}

func TestToMapFromMap(t *testing.T) {
	fields := []Field{{Name: "a", Value: "1"}, {Name: "b", Value: "2"}}
	m := ToMap(fields)
	if m["a"] != "1" || m["b"] != "2" {
		t.Fatalf("unexpected map: %+v", m)
	}

	back := FromMap(m)
	if len(back) != 2 {
		t.Fatalf("expected 2 fields, got %d", len(back))
	}
}
