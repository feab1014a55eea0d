// Package lock provides per-configuration mutual exclusion with a TTL, so a
// crashed holder cannot block a configuration forever.
package lock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrNotHeld is returned by Release when the lock expired or was taken over.
var ErrNotHeld = errors.New("lock not held")

// Locker hands out exclusive, expiring locks.
type Locker interface {
	// TryLock acquires key without blocking. ok is false when another holder
	// owns it.
	TryLock(ctx context.Context, key string, ttl time.Duration) (lease *Lease, ok bool, err error)
}

// Lease is an acquired lock.
type Lease struct {
	Key   string
	Token string

	release func(ctx context.Context) error
	once    sync.Once
	err     error
}

// Release gives up the lock. Calling it more than once returns the first result.
func (l *Lease) Release(ctx context.Context) error {
	if l == nil {
		return nil
	}
	l.once.Do(func() { l.err = l.release(ctx) })
	return l.err
}

// Memory is an in-process Locker.
type Memory struct {
	mu    sync.Mutex
	held  map[string]memoryEntry
	clock func() time.Time
}

type memoryEntry struct {
	token   string
	expires time.Time
}

// NewMemory returns an in-process Locker.
func NewMemory() *Memory {
	return &Memory{held: make(map[string]memoryEntry), clock: time.Now}
}

func (m *Memory) TryLock(ctx context.Context, key string, ttl time.Duration) (*Lease, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock()
	if e, ok := m.held[key]; ok && now.Before(e.expires) {
		return nil, false, nil
	}
	token := uuid.NewString()
	m.held[key] = memoryEntry{token: token, expires: now.Add(ttl)}

	lease := &Lease{Key: key, Token: token}
	lease.release = func(context.Context) error { return m.unlock(key, token) }
	return lease, true, nil
}

func (m *Memory) unlock(key, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.held[key]
	if !ok || e.token != token {
		return ErrNotHeld
	}
	delete(m.held, key)
	return nil
}
