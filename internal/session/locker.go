package session

import "sync"

// Locker serializes work per key. Waiters on the same key are released in
// arrival order; different keys never block each other.
type Locker struct {
	mu    sync.Mutex
	queue map[string]*keyQueue
}

type keyQueue struct {
	waiters []chan struct{}
}

// NewLocker creates an empty Locker.
func NewLocker() *Locker {
	return &Locker{queue: make(map[string]*keyQueue)}
}

// Lock blocks until the caller holds key.
func (l *Locker) Lock(key string) {
	l.mu.Lock()
	q, held := l.queue[key]
	if !held {
		l.queue[key] = &keyQueue{}
		l.mu.Unlock()
		return
	}
	ch := make(chan struct{})
	q.waiters = append(q.waiters, ch)
	l.mu.Unlock()
	<-ch
}

// Unlock hands key to the next waiter, or frees it. Unlocking a key that is
// not held panics, as with sync.Mutex.
func (l *Locker) Unlock(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	q, held := l.queue[key]
	if !held {
		panic("session: unlock of unlocked key " + key)
	}
	if len(q.waiters) == 0 {
		delete(l.queue, key)
		return
	}
	next := q.waiters[0]
	q.waiters = q.waiters[1:]
	close(next)
}

// Held reports how many keys are currently locked.
func (l *Locker) Held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}
