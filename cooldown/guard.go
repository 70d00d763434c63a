// Package cooldown implements the per-actor, per-action-class rate limiter.
//
// The guard hands out reservations rather than recording timestamps directly:
// a guarded operation checks the window up front, performs its work, and
// commits the reservation only if the whole operation succeeded. A failed
// operation discards the reservation and the actor's cooldown slot is not
// consumed.
package cooldown

import (
	"fmt"
	"sync"
	"time"

	"github.com/merova/confidential-batch-backend/interfaces"
)

type cooldownKey struct {
	actor  interfaces.AccountAddress
	action interfaces.ActionClass
}

// Guard tracks the timestamp of the last committed action per
// (actor, action class) key. The window is read live on every check so
// SetCooldownWindow takes effect immediately.
type Guard struct {
	mu     sync.Mutex
	window func() time.Duration
	now    func() time.Time
	last   map[cooldownKey]time.Time
}

// NewGuard creates a guard reading its window from the given function,
// typically the access control registry's CooldownWindow.
func NewGuard(window func() time.Duration) *Guard {
	return &Guard{
		window: window,
		now:    time.Now,
		last:   make(map[cooldownKey]time.Time),
	}
}

// WithClock returns a guard sharing this guard's state but reading time from
// the provided function. Useful for deterministic tests.
func (g *Guard) WithClock(now func() time.Time) *Guard {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.now = now
	return g
}

// Reservation is a successful cooldown check awaiting the outcome of the
// guarded operation. Exactly one of Commit or Discard must be called.
type Reservation struct {
	guard   *Guard
	key     cooldownKey
	at      time.Time
	settled bool
}

// CheckAndReserve fails with ErrCooldownActive if the actor's window for the
// action class has not elapsed, otherwise returns a reservation stamped with
// the current time.
func (g *Guard) CheckAndReserve(actor interfaces.AccountAddress, action interfaces.ActionClass) (*Reservation, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	key := cooldownKey{actor: actor, action: action}
	if last, ok := g.last[key]; ok {
		if remaining := last.Add(g.window()).Sub(now); remaining > 0 {
			return nil, fmt.Errorf("%w: %s for %s, %s remaining", interfaces.ErrCooldownActive, action, actor, remaining)
		}
	}

	return &Reservation{guard: g, key: key, at: now}, nil
}

// Commit records the reservation timestamp. Called only after the guarded
// operation succeeded end-to-end. Idempotent once settled.
func (r *Reservation) Commit() {
	r.guard.mu.Lock()
	defer r.guard.mu.Unlock()
	if r.settled {
		return
	}
	r.settled = true
	r.guard.last[r.key] = r.at
}

// Discard abandons the reservation without recording a timestamp. Idempotent
// once settled.
func (r *Reservation) Discard() {
	r.guard.mu.Lock()
	defer r.guard.mu.Unlock()
	r.settled = true
}

// LastAction returns the last committed timestamp for the key, if any.
func (g *Guard) LastAction(actor interfaces.AccountAddress, action interfaces.ActionClass) (time.Time, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	t, ok := g.last[cooldownKey{actor: actor, action: action}]
	return t, ok
}
