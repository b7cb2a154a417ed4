package fetch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestHostSemaphore_AcquireRelease_Basic(t *testing.T) {
	pool := NewHostSemaphorePool(2, testLogger())

	if err := pool.Acquire(context.Background(), "host-a"); err != nil {
		t.Fatalf("first acquire failed: %v", err)
	}
	if err := pool.Acquire(context.Background(), "host-a"); err != nil {
		t.Fatalf("second acquire failed: %v", err)
	}

	// Third should time out (all 2 slots held)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := pool.Acquire(ctx, "host-a"); err == nil {
		t.Fatal("expected third acquire to fail, but it succeeded")
	}

	pool.Release("host-a")
	if err := pool.Acquire(context.Background(), "host-a"); err != nil {
		t.Fatalf("acquire after release failed: %v", err)
	}
	pool.Release("host-a")
	pool.Release("host-a")
}

func TestHostSemaphore_MultipleHosts(t *testing.T) {
	pool := NewHostSemaphorePool(1, testLogger())

	if err := pool.Acquire(context.Background(), "host-a"); err != nil {
		t.Fatalf("host-a acquire failed: %v", err)
	}
	if err := pool.Acquire(context.Background(), "host-b"); err != nil {
		t.Fatalf("host-b acquire failed: %v", err)
	}
	if pool.Len() != 2 {
		t.Errorf("expected 2 entries, got %d", pool.Len())
	}
	pool.Release("host-a")
	pool.Release("host-b")
}

func TestHostSemaphore_InvalidLimitDefaults(t *testing.T) {
	pool := NewHostSemaphorePool(0, testLogger())
	if pool.limit != 6 {
		t.Errorf("expected default limit 6, got %d", pool.limit)
	}
}

func TestHostSemaphore_DoCapsConcurrency(t *testing.T) {
	pool := NewHostSemaphorePool(3, testLogger())
	var active, peak atomic.Int32

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := pool.Do(context.Background(), "busy.com", func() error {
				n := active.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				time.Sleep(2 * time.Millisecond)
				active.Add(-1)
				return nil
			})
			if err != nil {
				t.Errorf("Do failed: %v", err)
			}
		}()
	}
	wg.Wait()

	if peak.Load() > 3 {
		t.Errorf("expected at most 3 concurrent holders, saw %d", peak.Load())
	}
}

func TestHostSemaphore_DoPropagatesErrors(t *testing.T) {
	pool := NewHostSemaphorePool(1, testLogger())
	sentinel := errors.New("boom")

	if err := pool.Do(context.Background(), "h", func() error { return sentinel }); !errors.Is(err, sentinel) {
		t.Fatalf("expected fn error, got %v", err)
	}
	// Permit was released despite the error
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := pool.Acquire(ctx, "h"); err != nil {
		t.Fatalf("permit leaked: %v", err)
	}
}
