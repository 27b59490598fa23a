package transport

import (
	"errors"
	"testing"
	"time"
)

func TestTimedMutexLockUnlock(t *testing.T) {
	m := NewTimedMutex()
	if err := m.Lock(DefaultLockTimeout); err != nil {
		t.Fatalf("Lock failed: %v", err)
	}
	m.Unlock()
	if err := m.Lock(DefaultLockTimeout); err != nil {
		t.Fatalf("relock failed: %v", err)
	}
	m.Unlock()
}

func TestTimedMutexTimesOut(t *testing.T) {
	m := NewTimedMutex()
	if err := m.Lock(DefaultLockTimeout); err != nil {
		t.Fatalf("Lock failed: %v", err)
	}
	defer m.Unlock()

	start := time.Now()
	err := m.Lock(20 * time.Millisecond)
	if !errors.Is(err, ErrLockTimeout) {
		t.Fatalf("Lock = %v, want ErrLockTimeout", err)
	}
	if elapsed := time.Since(start); elapsed < 15*time.Millisecond {
		t.Fatalf("timed out after %v, expected at least ~20ms", elapsed)
	}
}

func TestTimedMutexNonBlockingAttempt(t *testing.T) {
	m := NewTimedMutex()
	if err := m.Lock(0); err != nil {
		t.Fatalf("non-blocking Lock on free mutex failed: %v", err)
	}
	if err := m.Lock(0); !errors.Is(err, ErrLockTimeout) {
		t.Fatalf("non-blocking Lock on held mutex = %v, want ErrLockTimeout", err)
	}
	m.Unlock()
}

func TestTimedMutexContention(t *testing.T) {
	m := NewTimedMutex()
	done := make(chan struct{})
	if err := m.Lock(DefaultLockTimeout); err != nil {
		t.Fatalf("Lock failed: %v", err)
	}
	go func() {
		defer close(done)
		if err := m.Lock(time.Second); err != nil {
			t.Errorf("contended Lock failed: %v", err)
			return
		}
		m.Unlock()
	}()
	time.Sleep(10 * time.Millisecond)
	m.Unlock()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("contended locker never acquired the mutex")
	}
}
