package grpc

import (
	"testing"
	"time"
)

func TestFormatParseTimeoutRoundTrip(t *testing.T) {
	cases := []time.Duration{
		100 * time.Millisecond,
		1500 * time.Millisecond,
		60 * time.Second,
	}
	for _, d := range cases {
		formatted := FormatTimeout(d)
		parsed, err := ParseTimeout(formatted)
		if err != nil {
			t.Fatalf("ParseTimeout(%q) failed: %v", formatted, err)
		}
		if parsed != d.Round(time.Millisecond) {
			t.Fatalf("round trip for %v: got %v via %q", d, parsed, formatted)
		}
	}
}

func TestParseTimeoutUnits(t *testing.T) {
	cases := map[string]time.Duration{
		"5S": 5 * time.Second,
		"2M": 2 * time.Minute,
		"1H": time.Hour,
		"7u": 7 * time.Microsecond,
		"9n": 9 * time.Nanosecond,
	}
	for s, want := range cases {
		got, err := ParseTimeout(s)
		if err != nil {
			t.Fatalf("ParseTimeout(%q) failed: %v", s, err)
		}
		if got != want {
			t.Fatalf("ParseTimeout(%q) = %v, want %v", s, got, want)
		}
	}
}

func TestParseTimeoutInvalid(t *testing.T) {
	if _, err := ParseTimeout("bad"); err == nil {
		t.Fatal("expected error for invalid value")
	}
	if _, err := ParseTimeout("5Z"); err == nil {
		t.Fatal("expected error for unknown unit")
	}
}
