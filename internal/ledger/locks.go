package ledger

import (
	"context"
	"sync"
)

// Locks serializes work per user. Different users never share a lock, and
// entries are dropped once nobody holds or waits for them.
type Locks struct {
	mu    sync.Mutex
	users map[uint]*userLock
}

type userLock struct {
	sem  chan struct{}
	refs int
}

// NewLocks creates an empty lock table
func NewLocks() *Locks {
	return &Locks{
		users: make(map[uint]*userLock),
	}
}

// Lock blocks until userID's lock is held or ctx is done. The returned
// function releases it and must be called exactly once.
func (l *Locks) Lock(ctx context.Context, userID uint) (func(), error) {
	l.mu.Lock()
	ul := l.users[userID]
	if ul == nil {
		ul = &userLock{sem: make(chan struct{}, 1)}
		l.users[userID] = ul
	}
	ul.refs++
	l.mu.Unlock()

	select {
	case ul.sem <- struct{}{}:
		return func() {
			<-ul.sem
			l.release(userID, ul)
		}, nil
	case <-ctx.Done():
		l.release(userID, ul)
		return nil, ctx.Err()
	}
}

func (l *Locks) release(userID uint, ul *userLock) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ul.refs--
	if ul.refs == 0 {
		delete(l.users, userID)
	}
}

// Len returns the number of users currently holding or waiting for a lock
func (l *Locks) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.users)
}
