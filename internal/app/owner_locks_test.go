package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestOwnerLocksSerializeSameOwner(t *testing.T) {
	locks := NewOwnerLocks()
	ctx := context.Background()

	var mu sync.Mutex
	inside, peak := 0, 0
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := locks.Lock(ctx, "u1")
			if err != nil {
				t.Errorf("lock: %v", err)
				return
			}
			defer unlock()
			mu.Lock()
			inside++
			peak = max(peak, inside)
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			inside--
			mu.Unlock()
		}()
	}
	wg.Wait()

	if peak != 1 {
		t.Fatalf("expected exclusive access, peak was %d", peak)
	}
	if locks.Len() != 0 {
		t.Fatalf("expected lock entries to be released, got %d", locks.Len())
	}
}

func TestOwnerLocksIndependentOwnersAndCancellation(t *testing.T) {
	locks := NewOwnerLocks()
	unlock, err := locks.Lock(context.Background(), "u1")
	if err != nil {
		t.Fatalf("lock: %v", err)
	}

	other, err := locks.Lock(context.Background(), "u2")
	if err != nil {
		t.Fatalf("other owner must not block: %v", err)
	}
	other()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := locks.Lock(ctx, "u1"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}

	unlock()
	unlock()
	if locks.Len() != 0 {
		t.Fatalf("expected no entries, got %d", locks.Len())
	}
}
