package keylock

import (
	"context"
	"errors"
	"sync"
)

// ErrReentrant is returned when a call chain tries to lock a key it already holds.
var ErrReentrant = errors.New("key already held by this call")

// Locker serializes work per key. Unrelated keys never contend.
//
// The keys a call holds travel on its context, so a nested call that reaches
// back for one of them fails with ErrReentrant instead of deadlocking or
// running a second critical section inside the first.
type Locker struct {
	mu    sync.Mutex
	locks map[string]*entry
}

type entry struct {
	ch   chan struct{}
	refs int
}

type heldKey struct{}

type held struct {
	key    string
	parent *held
}

func New() *Locker {
	return &Locker{locks: make(map[string]*entry)}
}

// Lock blocks until key is free or ctx is done. The returned context carries
// the key and must be passed to everything running inside the critical
// section; unlock releases the key.
func (l *Locker) Lock(ctx context.Context, key string) (context.Context, func(), error) {
	if Held(ctx, key) {
		return ctx, nil, ErrReentrant
	}

	l.mu.Lock()
	e, ok := l.locks[key]
	if !ok {
		e = &entry{ch: make(chan struct{}, 1)}
		l.locks[key] = e
	}
	e.refs++
	l.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
	case <-ctx.Done():
		l.drop(key, e)
		return ctx, nil, ctx.Err()
	}

	var once sync.Once
	unlock := func() {
		once.Do(func() {
			<-e.ch
			l.drop(key, e)
		})
	}

	parent, _ := ctx.Value(heldKey{}).(*held)
	return context.WithValue(ctx, heldKey{}, &held{key: key, parent: parent}), unlock, nil
}

// LockAll takes keys in the given order. Callers pass keys in a canonical
// order so two calls never wait on each other crosswise.
func (l *Locker) LockAll(ctx context.Context, keys ...string) (context.Context, func(), error) {
	var unlocks []func()
	release := func() {
		for i := len(unlocks) - 1; i >= 0; i-- {
			unlocks[i]()
		}
	}
	taken := make(map[string]bool, len(keys))
	for _, key := range keys {
		if key == "" || taken[key] {
			continue
		}
		taken[key] = true
		next, unlock, err := l.Lock(ctx, key)
		if err != nil {
			release()
			return ctx, nil, err
		}
		ctx = next
		unlocks = append(unlocks, unlock)
	}
	return ctx, release, nil
}

func (l *Locker) drop(key string, e *entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(l.locks, key)
	}
}

// Held reports whether ctx descends from a Lock call on key.
func Held(ctx context.Context, key string) bool {
	h, _ := ctx.Value(heldKey{}).(*held)
	for ; h != nil; h = h.parent {
		if h.key == key {
			return true
		}
	}
	return false
}
