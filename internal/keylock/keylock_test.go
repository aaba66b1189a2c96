package keylock_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/chaoschain/gateway/internal/keylock"
)

func TestLock_ExcludesSameKey(t *testing.T) {
	m := keylock.New()
	var inside, maxInside atomic.Int32
	var wg sync.WaitGroup

	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := m.Lock(context.Background(), "signer")
			if err != nil {
				t.Errorf("Lock: %v", err)
				return
			}
			defer unlock()
			n := inside.Add(1)
			for {
				cur := maxInside.Load()
				if n <= cur || maxInside.CompareAndSwap(cur, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			inside.Add(-1)
		}()
	}
	wg.Wait()

	if got := maxInside.Load(); got != 1 {
		t.Errorf("max concurrent holders = %d, want 1", got)
	}
	if m.Len() != 0 {
		t.Errorf("Len() = %d after all releases, want 0", m.Len())
	}
}

func TestLock_DifferentKeysIndependent(t *testing.T) {
	m := keylock.New()
	unlockA, err := m.Lock(context.Background(), "a")
	if err != nil {
		t.Fatal(err)
	}
	defer unlockA()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	unlockB, err := m.Lock(ctx, "b")
	if err != nil {
		t.Fatalf("Lock(b) blocked by a: %v", err)
	}
	unlockB()
}

func TestLock_ContextCancel(t *testing.T) {
	m := keylock.New()
	unlock, _ := m.Lock(context.Background(), "k")
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := m.Lock(ctx, "k"); err == nil {
		t.Fatal("expected context error")
	}
	if m.Len() != 1 {
		t.Errorf("Len() = %d, want 1 (only the holder)", m.Len())
	}
}

func TestReleaseIdempotent(t *testing.T) {
	m := keylock.New()
	unlock, _ := m.Lock(context.Background(), "k")
	unlock()
	unlock()

	if m.IsLocked("k") {
		t.Error("key still locked after release")
	}
	again, ok := m.TryLock("k")
	if !ok {
		t.Fatal("TryLock failed after release")
	}
	again()
}

func TestTryLock(t *testing.T) {
	m := keylock.New()
	unlock, ok := m.TryLock("k")
	if !ok {
		t.Fatal("TryLock on free key failed")
	}
	if !m.IsLocked("k") {
		t.Error("IsLocked = false while held")
	}
	if _, ok := m.TryLock("k"); ok {
		t.Error("TryLock succeeded on held key")
	}
	unlock()
	if m.IsLocked("k") {
		t.Error("IsLocked = true after release")
	}
}

func TestForceUnlock(t *testing.T) {
	m := keylock.New()
	staleUnlock, _ := m.Lock(context.Background(), "k")

	if !m.ForceUnlock("k") {
		t.Fatal("ForceUnlock returned false for held key")
	}
	if m.ForceUnlock("k") {
		t.Error("second ForceUnlock returned true")
	}

	fresh, ok := m.TryLock("k")
	if !ok {
		t.Fatal("TryLock after ForceUnlock failed")
	}

	// The original holder releasing late must not free the new holder.
	staleUnlock()
	if !m.IsLocked("k") {
		t.Error("stale release freed the new holder")
	}
	fresh()
	if m.IsLocked("k") {
		t.Error("key still locked after fresh release")
	}
}
