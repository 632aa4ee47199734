package timing

import (
	"testing"
	"time"
)

func TestTimerRecordsPhases(t *testing.T) {
	timer := NewTimer()

	timer.StartTCP()
	time.Sleep(time.Millisecond)
	timer.EndTCP()

	timer.StartTLS()
	time.Sleep(time.Millisecond)
	timer.EndTLS()

	timer.StartTTFB()
	time.Sleep(time.Millisecond)
	timer.EndTTFB()

	metrics := timer.GetMetrics()
	if metrics.TCPConnect <= 0 {
		t.Fatalf("expected positive TCPConnect, got %v", metrics.TCPConnect)
	}
	if metrics.TLSHandshake <= 0 {
		t.Fatalf("expected positive TLSHandshake, got %v", metrics.TLSHandshake)
	}
	if metrics.TTFB <= 0 {
		t.Fatalf("expected positive TTFB, got %v", metrics.TTFB)
	}
	if metrics.TotalTime <= 0 {
		t.Fatalf("expected positive TotalTime, got %v", metrics.TotalTime)
	}
}

func TestMetricsUnsetPhasesAreZero(t *testing.T) {
	timer := NewTimer()
	metrics := timer.GetMetrics()
	if metrics.DNSLookup != 0 || metrics.TCPConnect != 0 || metrics.TLSHandshake != 0 || metrics.TTFB != 0 {
		t.Fatalf("expected zero metrics for unmeasured phases, got %+v", metrics)
	}
}

func TestGetConnectionTimeSumsPhases(t *testing.T) {
	m := Metrics{DNSLookup: time.Millisecond, TCPConnect: 2 * time.Millisecond, TLSHandshake: 3 * time.Millisecond}
	if got := m.GetConnectionTime(); got != 6*time.Millisecond {
		t.Fatalf("expected 6ms, got %v", got)
	}
}

func TestGetNetworkTimeExcludesServerTime(t *testing.T) {
	m := Metrics{TotalTime: 10 * time.Millisecond, TTFB: 4 * time.Millisecond}
	if got := m.GetNetworkTime(); got != 6*time.Millisecond {
		t.Fatalf("expected 6ms, got %v", got)
	}
}
