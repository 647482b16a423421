package app

import (
	"context"
	"sync"
)

// OwnerLocks serializes work per owner. Entries are dropped once nobody holds or waits on them.
type OwnerLocks struct {
	mu    sync.Mutex
	locks map[string]*ownerLock
}

type ownerLock struct {
	sem  chan struct{}
	refs int
}

func NewOwnerLocks() *OwnerLocks {
	return &OwnerLocks{locks: make(map[string]*ownerLock)}
}

// Lock blocks until owner's lock is acquired or ctx is done.
func (l *OwnerLocks) Lock(ctx context.Context, owner string) (unlock func(), err error) {
	lock := l.getOrCreate(owner)
	select {
	case lock.sem <- struct{}{}:
	case <-ctx.Done():
		l.release(owner, lock)
		return nil, ctx.Err()
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			<-lock.sem
			l.release(owner, lock)
		})
	}, nil
}

func (l *OwnerLocks) getOrCreate(owner string) *ownerLock {
	l.mu.Lock()
	defer l.mu.Unlock()
	lock, ok := l.locks[owner]
	if !ok {
		lock = &ownerLock{sem: make(chan struct{}, 1)}
		l.locks[owner] = lock
	}
	lock.refs++
	return lock
}

func (l *OwnerLocks) release(owner string, lock *ownerLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	lock.refs--
	if lock.refs == 0 {
		delete(l.locks, owner)
	}
}

// Len reports how many owners currently have a lock entry.
func (l *OwnerLocks) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
