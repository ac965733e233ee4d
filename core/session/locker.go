package session

import (
	"context"
	"sync"
)

// keyedLocker hands out one channel-based mutex per key and frees it when the last holder leaves.
type keyedLocker struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	ch   chan struct{}
	refs int
}

func newKeyedLocker() *keyedLocker {
	return &keyedLocker{locks: make(map[string]*keyLock)}
}

// Lock blocks until key is free or ctx is done. The returned func releases the lock.
func (l *keyedLocker) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	kl, ok := l.locks[key]
	if !ok {
		kl = &keyLock{ch: make(chan struct{}, 1)}
		l.locks[key] = kl
	}
	kl.refs++
	l.mu.Unlock()

	select {
	case kl.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(key, kl)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-kl.ch
			l.release(key, kl)
		})
	}, nil
}

func (l *keyedLocker) release(key string, kl *keyLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	kl.refs--
	if kl.refs == 0 {
		delete(l.locks, key)
	}
}
