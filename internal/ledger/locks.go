package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/verity/engine/internal/core"
)

// KeyedLocks serializes writers per product. Locks are created lazily on
// first acquire and garbage-collected when the last holder or waiter
// releases, so the map never grows with idle products. There is no global
// write lock: writers for different products never contend.
type KeyedLocks struct {
	mu      sync.Mutex
	locks   map[string]*keyedLock
	timeout time.Duration
}

type keyedLock struct {
	sem  chan struct{} // capacity 1; holding the token = holding the lock
	refs int
}

// NewKeyedLocks creates the registry. timeout bounds every Acquire; on
// expiry the caller gets a Busy error instead of deadlocking.
func NewKeyedLocks(timeout time.Duration) *KeyedLocks {
	return &KeyedLocks{
		locks:   make(map[string]*keyedLock),
		timeout: timeout,
	}
}

// Acquire takes the write lock for one product. The returned release
// function must be called exactly once. Expired timeout or cancelled
// context surfaces as core.ErrBusy.
func (kl *KeyedLocks) Acquire(ctx context.Context, productID string) (release func(), err error) {
	kl.mu.Lock()
	lk, ok := kl.locks[productID]
	if !ok {
		lk = &keyedLock{sem: make(chan struct{}, 1)}
		kl.locks[productID] = lk
	}
	lk.refs++
	kl.mu.Unlock()

	timer := time.NewTimer(kl.timeout)
	defer timer.Stop()

	select {
	case lk.sem <- struct{}{}:
		return func() {
			<-lk.sem
			kl.put(productID, lk)
		}, nil
	case <-timer.C:
		kl.put(productID, lk)
		return nil, fmt.Errorf("lock %s: %w", productID, core.ErrBusy)
	case <-ctx.Done():
		kl.put(productID, lk)
		return nil, fmt.Errorf("lock %s: %w", productID, core.ErrBusy)
	}
}

func (kl *KeyedLocks) put(productID string, lk *keyedLock) {
	kl.mu.Lock()
	lk.refs--
	if lk.refs == 0 {
		delete(kl.locks, productID)
	}
	kl.mu.Unlock()
}

// Active reports how many product locks currently exist, for tests and
// metrics.
func (kl *KeyedLocks) Active() int {
	kl.mu.Lock()
	defer kl.mu.Unlock()
	return len(kl.locks)
}
