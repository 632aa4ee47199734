package grpcstatus

import "testing"

func TestCodeStringKnown(t *testing.T) {
	if got := DeadlineExceeded.String(); got != "DEADLINE_EXCEEDED" {
		t.Fatalf("got %q", got)
	}
}

func TestCodeStringUnknown(t *testing.T) {
	if got := Code(99).String(); got != "CODE(99)" {
		t.Fatalf("got %q", got)
	}
}

func TestFromErrorNil(t *testing.T) {
	s := FromError(nil)
	if s.Code != OK {
		t.Fatalf("expected OK, got %v", s.Code)
	}
}

func TestFromErrorWraps(t *testing.T) {
	err := New(NotFound, "missing")
	s := FromError(err)
	if s.Code != NotFound || s.Message != "missing" {
		t.Fatalf("got %+v", s)
	}
}

func TestErrorString(t *testing.T) {
	err := New(Internal, "boom")
	if err.Error() != "INTERNAL: boom" {
		t.Fatalf("got %q", err.Error())
	}
}
