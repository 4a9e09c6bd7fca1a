package usecase

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestLockSerializesSameConversation(t *testing.T) {
	locker := NewConversationLocker()
	ctx := context.Background()

	var order []int
	var mu sync.Mutex
	var wg sync.WaitGroup

	unlock, err := locker.Lock(ctx, "c1")
	if err != nil {
		t.Fatalf("Lock: %v", err)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		u, err := locker.Lock(ctx, "c1")
		if err != nil {
			t.Errorf("Lock: %v", err)
			return
		}
		mu.Lock()
		order = append(order, 2)
		mu.Unlock()
		u()
	}()

	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	order = append(order, 1)
	mu.Unlock()
	unlock()
	wg.Wait()

	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Errorf("order = %v, want [1 2]", order)
	}
}

func TestLockIndependentConversationsDoNotBlock(t *testing.T) {
	locker := NewConversationLocker()
	ctx := context.Background()

	u1, err := locker.Lock(ctx, "c1")
	if err != nil {
		t.Fatalf("Lock c1: %v", err)
	}
	defer u1()

	done := make(chan struct{})
	go func() {
		u2, err := locker.Lock(ctx, "c2")
		if err == nil {
			u2()
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on unrelated conversation blocked")
	}
}

func TestLockCancelledContext(t *testing.T) {
	locker := NewConversationLocker()

	unlock, err := locker.Lock(context.Background(), "c1")
	if err != nil {
		t.Fatalf("Lock: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := locker.Lock(ctx, "c1"); err == nil {
		t.Fatal("expected error when context expires before acquisition")
	}

	unlock()

	// The abandoned waiter must eventually release its claim so the
	// lock is not held forever.
	deadline := time.Now().Add(time.Second)
	for locker.ActiveCount() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := locker.ActiveCount(); got != 0 {
		t.Errorf("ActiveCount = %d, want 0", got)
	}
}
