// Package accesscontrol implements the access control registry: owner
// identity, the provider set, the pause flag and the cooldown window
// configuration.
//
// Administrative operations are owner-only but deliberately not gated by the
// pause flag, so a paused system can always be recovered.
package accesscontrol

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/merova/confidential-batch-backend/events"
	"github.com/merova/confidential-batch-backend/interfaces"
)

// stateKey is the single record holding registry state in NamespaceRoles.
const stateKey = "registry"

// registryRecord is the persisted form of the registry state.
type registryRecord struct {
	Owner         string   `json:"owner"`
	Providers     []string `json:"providers"`
	Paused        bool     `json:"paused"`
	WindowSeconds int64    `json:"window_seconds"`
}

// Registry holds role data exclusively. All mutating methods take the calling
// actor explicitly and enforce the owner role through Authorize.
type Registry struct {
	mu        sync.RWMutex
	owner     interfaces.AccountAddress
	providers map[interfaces.AccountAddress]struct{}
	paused    bool
	window    time.Duration

	store interfaces.RecordStore
	sink  events.Sink
	log   *slog.Logger
}

// NewRegistry creates a registry with the given initial owner and cooldown
// window. If store is non-nil and holds a persisted registry record, the
// persisted state takes precedence over the constructor arguments.
func NewRegistry(owner interfaces.AccountAddress, window time.Duration, store interfaces.RecordStore, sink events.Sink, log *slog.Logger) (*Registry, error) {
	if owner.IsZero() {
		return nil, fmt.Errorf("initial owner must not be the zero address")
	}
	if sink == nil {
		sink = events.NopSink{}
	}

	r := &Registry{
		owner:     owner,
		providers: make(map[interfaces.AccountAddress]struct{}),
		window:    window,
		store:     store,
		sink:      sink,
		log:       log,
	}

	if store != nil {
		if err := r.restore(context.Background()); err != nil {
			return nil, fmt.Errorf("failed to restore registry state: %w", err)
		}
	}

	return r, nil
}

// restore loads persisted state if present. Absence is not an error: a fresh
// store starts from the constructor arguments.
func (r *Registry) restore(ctx context.Context) error {
	data, err := r.store.Get(ctx, interfaces.NamespaceRoles, stateKey)
	if err != nil {
		if errors.Is(err, interfaces.ErrRecordNotFound) {
			return nil
		}
		return err
	}

	var rec registryRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return fmt.Errorf("corrupt registry record: %w", err)
	}

	owner, err := interfaces.NewAccountAddressFromHex(rec.Owner)
	if err != nil {
		return fmt.Errorf("corrupt registry owner: %w", err)
	}

	providers := make(map[interfaces.AccountAddress]struct{}, len(rec.Providers))
	for _, p := range rec.Providers {
		addr, err := interfaces.NewAccountAddressFromHex(p)
		if err != nil {
			return fmt.Errorf("corrupt provider address %q: %w", p, err)
		}
		providers[addr] = struct{}{}
	}

	r.owner = owner
	r.providers = providers
	r.paused = rec.Paused
	r.window = time.Duration(rec.WindowSeconds) * time.Second

	r.log.Debug("Restored registry state",
		slog.String("owner", owner.String()),
		slog.Int("providers", len(providers)),
		slog.Bool("paused", rec.Paused))
	return nil
}

// persist writes the current state. Caller must hold r.mu.
func (r *Registry) persist(ctx context.Context) error {
	if r.store == nil {
		return nil
	}

	rec := registryRecord{
		Owner:         r.owner.String(),
		Paused:        r.paused,
		WindowSeconds: int64(r.window / time.Second),
	}
	for p := range r.providers {
		rec.Providers = append(rec.Providers, p.String())
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return r.store.Put(ctx, interfaces.NamespaceRoles, stateKey, data)
}

// Authorize returns nil if actor holds the required role.
func (r *Registry) Authorize(actor interfaces.AccountAddress, role interfaces.Role) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	switch role {
	case interfaces.RoleOwner:
		if !actor.Equal(r.owner) {
			return interfaces.ErrNotOwner
		}
	case interfaces.RoleProvider:
		if _, ok := r.providers[actor]; !ok {
			return interfaces.ErrNotProvider
		}
	default:
		return fmt.Errorf("unknown role %v", role)
	}
	return nil
}

// TransferOwnership moves the owner role to newOwner. Owner-only, available
// while paused.
func (r *Registry) TransferOwnership(ctx context.Context, caller, newOwner interfaces.AccountAddress) error {
	if err := r.Authorize(caller, interfaces.RoleOwner); err != nil {
		return err
	}
	if newOwner.IsZero() {
		return fmt.Errorf("new owner must not be the zero address")
	}

	r.mu.Lock()
	previous := r.owner
	r.owner = newOwner
	if err := r.persist(ctx); err != nil {
		r.owner = previous
		r.mu.Unlock()
		return fmt.Errorf("failed to persist ownership transfer: %w", err)
	}
	r.mu.Unlock()

	r.log.Info("Ownership transferred",
		slog.String("previous", previous.String()),
		slog.String("new", newOwner.String()))
	r.sink.Publish(events.OwnershipTransferred{Previous: previous, New: newOwner})
	return nil
}

// AddProvider grants the provider role. Owner-only, available while paused.
func (r *Registry) AddProvider(ctx context.Context, caller, addr interfaces.AccountAddress) error {
	if err := r.Authorize(caller, interfaces.RoleOwner); err != nil {
		return err
	}
	if addr.IsZero() {
		return fmt.Errorf("provider must not be the zero address")
	}

	r.mu.Lock()
	_, existed := r.providers[addr]
	r.providers[addr] = struct{}{}
	if err := r.persist(ctx); err != nil {
		if !existed {
			delete(r.providers, addr)
		}
		r.mu.Unlock()
		return fmt.Errorf("failed to persist provider set: %w", err)
	}
	r.mu.Unlock()

	if !existed {
		r.log.Info("Provider added", slog.String("provider", addr.String()))
		r.sink.Publish(events.ProviderAdded{Provider: addr})
	}
	return nil
}

// RemoveProvider revokes the provider role. Owner-only, available while paused.
func (r *Registry) RemoveProvider(ctx context.Context, caller, addr interfaces.AccountAddress) error {
	if err := r.Authorize(caller, interfaces.RoleOwner); err != nil {
		return err
	}

	r.mu.Lock()
	_, existed := r.providers[addr]
	delete(r.providers, addr)
	if err := r.persist(ctx); err != nil {
		if existed {
			r.providers[addr] = struct{}{}
		}
		r.mu.Unlock()
		return fmt.Errorf("failed to persist provider set: %w", err)
	}
	r.mu.Unlock()

	if existed {
		r.log.Info("Provider removed", slog.String("provider", addr.String()))
		r.sink.Publish(events.ProviderRemoved{Provider: addr})
	}
	return nil
}

// SetPaused toggles the pause flag. Owner-only, and itself never pause-gated
// so a paused system can be unpaused.
func (r *Registry) SetPaused(ctx context.Context, caller interfaces.AccountAddress, paused bool) error {
	if err := r.Authorize(caller, interfaces.RoleOwner); err != nil {
		return err
	}

	r.mu.Lock()
	previous := r.paused
	r.paused = paused
	if err := r.persist(ctx); err != nil {
		r.paused = previous
		r.mu.Unlock()
		return fmt.Errorf("failed to persist pause flag: %w", err)
	}
	r.mu.Unlock()

	if previous != paused {
		r.log.Info("Pause flag toggled", slog.Bool("paused", paused))
		r.sink.Publish(events.PauseToggled{Paused: paused})
	}
	return nil
}

// SetCooldownWindow updates the rate-limit window. Owner-only, available
// while paused.
func (r *Registry) SetCooldownWindow(ctx context.Context, caller interfaces.AccountAddress, window time.Duration) error {
	if err := r.Authorize(caller, interfaces.RoleOwner); err != nil {
		return err
	}
	if window < 0 {
		return fmt.Errorf("cooldown window must not be negative")
	}

	r.mu.Lock()
	previous := r.window
	r.window = window
	if err := r.persist(ctx); err != nil {
		r.window = previous
		r.mu.Unlock()
		return fmt.Errorf("failed to persist cooldown window: %w", err)
	}
	r.mu.Unlock()

	r.log.Info("Cooldown window changed", slog.Duration("window", window))
	r.sink.Publish(events.CooldownWindowChanged{Window: window})
	return nil
}

// Owner returns the current owner.
func (r *Registry) Owner() interfaces.AccountAddress {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.owner
}

// IsProvider reports whether addr holds the provider role.
func (r *Registry) IsProvider(addr interfaces.AccountAddress) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.providers[addr]
	return ok
}

// Providers returns the current provider set.
func (r *Registry) Providers() []interfaces.AccountAddress {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res := make([]interfaces.AccountAddress, 0, len(r.providers))
	for p := range r.providers {
		res = append(res, p)
	}
	return res
}

// Paused reports whether the system is paused.
func (r *Registry) Paused() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.paused
}

// CooldownWindow returns the current rate-limit window.
func (r *Registry) CooldownWindow() time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.window
}
