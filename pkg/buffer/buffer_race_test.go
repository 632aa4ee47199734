package buffer

import (
	"sync"
	"testing"
)

func TestBufferConcurrentClose(t *testing.T) {
	buf := New(1024)

	data := []byte("test data for concurrent close")
	if _, err := buf.Write(data); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	var wg sync.WaitGroup
	errorCount := 0
	var mu sync.Mutex

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := buf.Close(); err != nil {
				mu.Lock()
				errorCount++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if errorCount > 0 {
		t.Errorf("expected no errors from concurrent Close(), got %d errors", errorCount)
	}
}

func TestBufferDoubleClose(t *testing.T) {
	buf := New(1024)

	data := []byte("test data")
	if _, err := buf.Write(data); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	if err := buf.Close(); err != nil {
		t.Errorf("first Close() failed: %v", err)
	}
	if err := buf.Close(); err != nil {
		t.Errorf("second Close() should not error, got: %v", err)
	}
	if err := buf.Close(); err != nil {
		t.Errorf("third Close() should not error, got: %v", err)
	}
}

func TestBufferResetAfterClose(t *testing.T) {
	buf := New(1024)

	data := []byte("initial data")
	if _, err := buf.Write(data); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if err := buf.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	if err := buf.Reset(); err != nil {
		t.Fatalf("reset failed: %v", err)
	}

	newData := []byte("new data after reset")
	if _, err := buf.Write(newData); err != nil {
		t.Errorf("write after reset failed: %v", err)
	}

	if buf.Size() != int64(len(newData)) {
		t.Errorf("expected size %d after reset, got %d", len(newData), buf.Size())
	}
}

func TestBufferConcurrentWriteAndClose(t *testing.T) {
	buf := New(10)

	var wg sync.WaitGroup

	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			buf.Write([]byte("data from writer"))
		}()
	}
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			buf.Close()
		}()
	}
	wg.Wait()
	buf.Close()
}
