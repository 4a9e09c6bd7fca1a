package usecase

import (
	"context"
	"fmt"
	"sync"
)

// ConversationLocker provides operation-level mutual exclusion per
// conversation. Messages for the same conversationId must be applied in
// arrival order and must never overlap in execution; unrelated
// conversations proceed fully in parallel.
type ConversationLocker struct {
	mu    sync.Mutex
	locks map[string]*conversationMutex
}

type conversationMutex struct {
	mu       sync.Mutex
	refCount int
}

// NewConversationLocker creates a new conversation locker.
func NewConversationLocker() *ConversationLocker {
	return &ConversationLocker{
		locks: make(map[string]*conversationMutex),
	}
}

// Lock blocks until the conversation's mutex is held or ctx is done. The
// returned unlock releases it and must always be called on success.
func (cl *ConversationLocker) Lock(ctx context.Context, conversationID string) (unlock func(), err error) {
	cl.mu.Lock()
	cm, ok := cl.locks[conversationID]
	if !ok {
		cm = &conversationMutex{}
		cl.locks[conversationID] = cm
	}
	cm.refCount++
	cl.mu.Unlock()

	// The acquisition runs in its own goroutine so the wait can be
	// abandoned when ctx is cancelled.
	acquired := make(chan struct{})
	go func() {
		cm.mu.Lock()
		close(acquired)
	}()

	select {
	case <-acquired:
		return func() {
			cm.mu.Unlock()
			cl.mu.Lock()
			cm.refCount--
			if cm.refCount == 0 {
				delete(cl.locks, conversationID)
			}
			cl.mu.Unlock()
		}, nil

	case <-ctx.Done():
		// The abandoned acquisition still completes once the current
		// holder unlocks; it has to be released right away or the
		// conversation stays locked forever.
		go func() {
			<-acquired
			cm.mu.Unlock()
			cl.mu.Lock()
			cm.refCount--
			if cm.refCount == 0 {
				delete(cl.locks, conversationID)
			}
			cl.mu.Unlock()
		}()
		return nil, fmt.Errorf("conversation lock: %w", ctx.Err())
	}
}

// Busy reports whether the conversation currently holds or awaits a lock.
// The idle sweep uses this to leave in-flight conversations alone.
func (cl *ConversationLocker) Busy(conversationID string) bool {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	_, ok := cl.locks[conversationID]
	return ok
}

// ActiveCount reports how many conversations hold or await a lock.
func (cl *ConversationLocker) ActiveCount() int {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	return len(cl.locks)
}
