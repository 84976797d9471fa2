// Package inflight keeps a second request from starting an action on a
// consult while a first one is still running. A double-clicked submit gets
// ErrBusy instead of racing the first write.
package inflight

import (
	"context"
	"errors"
	"sync"
	"time"
)

var ErrBusy = errors.New("action already in progress")

// Guard hands out exclusive, expiring claims on a key. The returned release
// func is safe to call more than once.
type Guard interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// MemoryGuard is a process-local Guard, used when no Redis is configured.
type MemoryGuard struct {
	mu   sync.Mutex
	ttl  time.Duration
	held map[string]heldClaim
	now  func() time.Time
	seq  uint64
}

type heldClaim struct {
	id      uint64
	expires time.Time
}

func NewMemoryGuard(ttl time.Duration) *MemoryGuard {
	return &MemoryGuard{ttl: ttl, held: make(map[string]heldClaim), now: time.Now}
}

func (g *MemoryGuard) Acquire(_ context.Context, key string) (func(), error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if c, ok := g.held[key]; ok && now.Before(c.expires) {
		return nil, ErrBusy
	}
	g.seq++
	id := g.seq
	g.held[key] = heldClaim{id: id, expires: now.Add(g.ttl)}

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			defer g.mu.Unlock()
			// an expired claim may already belong to someone else
			if c, ok := g.held[key]; ok && c.id == id {
				delete(g.held, key)
			}
		})
	}, nil
}

// Key builds the guard key for an action on a consult.
func Key(action, consultID string) string {
	return "econsult:inflight:" + action + ":" + consultID
}
