package notification

import (
	"context"
	"sync"
)

// Key identifies the counter a send competes for.
type Key struct {
	ClientID string
	TypeName string
}

func (k Key) String() string {
	return k.ClientID + "/" + k.TypeName
}

// Guard runs the rate check and the conditional append of one send. The
// LogStore handed to fn is the one both steps must use; transactional guards
// pass a store bound to their transaction.
type Guard interface {
	Run(ctx context.Context, key Key, fn func(ctx context.Context, log LogStore) error) error
}

var (
	_ Guard = (*NoGuard)(nil)
	_ Guard = (*KeyedGuard)(nil)
)

// NoGuard runs fn with no mutual exclusion. Two concurrent sends for the same
// key can both pass the check when one slot remains and both append.
type NoGuard struct {
	log LogStore
}

// NewNoGuard creates the unguarded baseline.
func NewNoGuard(log LogStore) *NoGuard {
	return &NoGuard{log: log}
}

// Run calls fn directly.
func (g *NoGuard) Run(ctx context.Context, _ Key, fn func(ctx context.Context, log LogStore) error) error {
	return fn(ctx, g.log)
}

// KeyedGuard serializes sends per key inside this process. Different keys
// never wait on each other.
type KeyedGuard struct {
	log   LogStore
	mu    sync.Mutex
	locks map[Key]*keyLock
}

type keyLock struct {
	sem  chan struct{}
	refs int
}

// NewKeyedGuard creates an in-process keyed guard.
func NewKeyedGuard(log LogStore) *KeyedGuard {
	return &KeyedGuard{
		log:   log,
		locks: make(map[Key]*keyLock),
	}
}

// Run waits for the key, or for ctx, then calls fn while holding it.
func (g *KeyedGuard) Run(ctx context.Context, key Key, fn func(ctx context.Context, log LogStore) error) error {
	l := g.acquire(key)
	defer g.release(key, l)

	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-l.sem }()

	return fn(ctx, g.log)
}

func (g *KeyedGuard) acquire(key Key) *keyLock {
	g.mu.Lock()
	defer g.mu.Unlock()

	l, ok := g.locks[key]
	if !ok {
		l = &keyLock{sem: make(chan struct{}, 1)}
		g.locks[key] = l
	}
	l.refs++
	return l
}

func (g *KeyedGuard) release(key Key, l *keyLock) {
	g.mu.Lock()
	defer g.mu.Unlock()

	l.refs--
	if l.refs == 0 {
		delete(g.locks, key)
	}
}

// size reports how many keys are currently tracked.
func (g *KeyedGuard) size() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.locks)
}
