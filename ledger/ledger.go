// Package ledger implements the batch ledger: batch lifecycle, the ordered
// asset registry and per-(batch, asset, kind) encrypted-value storage.
//
// The ledger stores opaque ciphertext handles and never decrypts them.
// Exactly one batch is current at any time; a batch opens Open and closes
// exactly once, and closing is a one-way transition.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/merova/confidential-batch-backend/accesscontrol"
	"github.com/merova/confidential-batch-backend/cooldown"
	"github.com/merova/confidential-batch-backend/events"
	"github.com/merova/confidential-batch-backend/interfaces"
)

// batchStateKey is the single record holding ledger lifecycle state.
const batchStateKey = "state"

// assetOrderKey is the single record holding the ordered asset list.
const assetOrderKey = "order"

type submissionKey struct {
	batch interfaces.BatchID
	asset interfaces.AssetID
	kind  interfaces.SubmissionKind
}

func (k submissionKey) storageKey() string {
	return fmt.Sprintf("%d/%s/%s", k.batch, k.asset, k.kind)
}

func parseSubmissionKey(s string) (submissionKey, error) {
	parts := strings.SplitN(s, "/", 3)
	if len(parts) != 3 {
		return submissionKey{}, fmt.Errorf("malformed submission key %q", s)
	}

	batch, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		return submissionKey{}, fmt.Errorf("malformed batch id in key %q: %w", s, err)
	}
	asset, err := interfaces.NewAssetID(parts[1])
	if err != nil {
		return submissionKey{}, fmt.Errorf("malformed asset in key %q: %w", s, err)
	}
	kind, err := interfaces.ParseSubmissionKind(parts[2])
	if err != nil {
		return submissionKey{}, fmt.Errorf("malformed kind in key %q: %w", s, err)
	}

	return submissionKey{batch: interfaces.BatchID(batch), asset: asset, kind: kind}, nil
}

// batchStateRecord is the persisted lifecycle state.
type batchStateRecord struct {
	Current uint64 `json:"current"`
	Status  string `json:"status"`
}

// Ledger owns batch and submission data exclusively. All mutating operations
// serialize on a single mutex so the single-open-batch invariant is never
// observably violated.
type Ledger struct {
	mu         sync.Mutex
	acl        *accesscontrol.Registry
	guard      *cooldown.Guard
	capability interfaces.CiphertextCapability
	assets     *AssetRegistry
	store      interfaces.RecordStore
	sink       events.Sink
	log        *slog.Logger

	current     interfaces.BatchID
	status      interfaces.BatchStatus
	submissions map[submissionKey]interfaces.CiphertextHandle
}

// NewLedger creates a ledger. If store is non-nil, previously persisted batch
// state, asset order and submissions are restored.
func NewLedger(acl *accesscontrol.Registry, guard *cooldown.Guard, capability interfaces.CiphertextCapability, store interfaces.RecordStore, sink events.Sink, log *slog.Logger) (*Ledger, error) {
	if sink == nil {
		sink = events.NopSink{}
	}

	l := &Ledger{
		acl:         acl,
		guard:       guard,
		capability:  capability,
		assets:      NewAssetRegistry(),
		store:       store,
		sink:        sink,
		log:         log,
		submissions: make(map[submissionKey]interfaces.CiphertextHandle),
	}

	if store != nil {
		if err := l.restore(context.Background()); err != nil {
			return nil, fmt.Errorf("failed to restore ledger state: %w", err)
		}
	}

	return l, nil
}

func (l *Ledger) restore(ctx context.Context) error {
	// Batch lifecycle record.
	data, err := l.store.Get(ctx, interfaces.NamespaceLedger, batchStateKey)
	switch {
	case err == nil:
		var rec batchStateRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return fmt.Errorf("corrupt batch state record: %w", err)
		}
		l.current = interfaces.BatchID(rec.Current)
		if rec.Status == interfaces.BatchClosed.String() {
			l.status = interfaces.BatchClosed
		} else {
			l.status = interfaces.BatchOpen
		}
	case errors.Is(err, interfaces.ErrRecordNotFound):
	default:
		return err
	}

	// Asset order record.
	data, err = l.store.Get(ctx, interfaces.NamespaceAssets, assetOrderKey)
	switch {
	case err == nil:
		var assets []interfaces.AssetID
		if err := json.Unmarshal(data, &assets); err != nil {
			return fmt.Errorf("corrupt asset order record: %w", err)
		}
		for _, a := range assets {
			l.assets.register(a)
		}
	case errors.Is(err, interfaces.ErrRecordNotFound):
	default:
		return err
	}

	// Stored submissions.
	keys, err := l.store.List(ctx, interfaces.NamespaceSubmissions)
	if err != nil {
		return err
	}
	for _, k := range keys {
		sk, err := parseSubmissionKey(k)
		if err != nil {
			return err
		}
		raw, err := l.store.Get(ctx, interfaces.NamespaceSubmissions, k)
		if err != nil {
			return err
		}
		handle, err := interfaces.NewCiphertextHandleFromHex(strings.TrimSpace(string(raw)))
		if err != nil {
			return fmt.Errorf("corrupt submission record %q: %w", k, err)
		}
		l.submissions[sk] = handle
	}

	l.log.Debug("Restored ledger state",
		slog.Uint64("current", uint64(l.current)),
		slog.String("status", l.status.String()),
		slog.Int("assets", l.assets.Len()),
		slog.Int("submissions", len(l.submissions)))
	return nil
}

// persistBatchState writes the lifecycle record. Caller must hold l.mu.
func (l *Ledger) persistBatchState(ctx context.Context) error {
	if l.store == nil {
		return nil
	}
	data, err := json.Marshal(batchStateRecord{Current: uint64(l.current), Status: l.status.String()})
	if err != nil {
		return err
	}
	return l.store.Put(ctx, interfaces.NamespaceLedger, batchStateKey, data)
}

func (l *Ledger) persistAssetOrder(ctx context.Context) error {
	if l.store == nil {
		return nil
	}
	data, err := json.Marshal(l.assets.Assets())
	if err != nil {
		return err
	}
	return l.store.Put(ctx, interfaces.NamespaceAssets, assetOrderKey, data)
}

// RegisterAsset appends an asset to the ordered registry. Owner-only and, as
// an administrative operation, not gated by the pause flag. Duplicate
// registration is rejected.
func (l *Ledger) RegisterAsset(ctx context.Context, caller interfaces.AccountAddress, asset interfaces.AssetID) error {
	if err := l.acl.Authorize(caller, interfaces.RoleOwner); err != nil {
		return err
	}
	if err := asset.Validate(); err != nil {
		return err
	}

	pos, ok := l.assets.register(asset)
	if !ok {
		return fmt.Errorf("asset %s already registered", asset)
	}
	if err := l.persistAssetOrder(ctx); err != nil {
		l.assets.unregisterLast()
		return fmt.Errorf("failed to persist asset order: %w", err)
	}

	l.log.Info("Asset registered", slog.String("asset", asset.String()), slog.Int("position", pos))
	l.sink.Publish(events.AssetRegistered{Asset: asset, Position: pos})
	return nil
}

// OpenNewBatch opens the next batch. Owner-only, fails ErrPaused while
// paused. Opening while the current batch is still Open would leave two Open
// batches, so it fails ErrInvalidBatch; the current batch must be closed
// first.
func (l *Ledger) OpenNewBatch(ctx context.Context, caller interfaces.AccountAddress) (interfaces.BatchID, error) {
	if err := l.acl.Authorize(caller, interfaces.RoleOwner); err != nil {
		return 0, err
	}
	if l.acl.Paused() {
		return 0, interfaces.ErrPaused
	}

	l.mu.Lock()
	if l.current != 0 && l.status == interfaces.BatchOpen {
		l.mu.Unlock()
		return 0, fmt.Errorf("%w: batch %d is still open", interfaces.ErrInvalidBatch, l.current)
	}

	prevID, prevStatus := l.current, l.status
	l.current++
	l.status = interfaces.BatchOpen
	if err := l.persistBatchState(ctx); err != nil {
		l.current, l.status = prevID, prevStatus
		l.mu.Unlock()
		return 0, fmt.Errorf("failed to persist batch state: %w", err)
	}
	id := l.current
	l.mu.Unlock()

	l.log.Info("Batch opened", slog.Uint64("batch", uint64(id)))
	l.sink.Publish(events.BatchOpened{Batch: id})
	return id, nil
}

// CloseCurrentBatch closes the current batch. Owner-only, fails ErrPaused
// while paused. Closing an already-closed batch, or closing before any batch
// was opened, fails ErrInvalidBatch.
func (l *Ledger) CloseCurrentBatch(ctx context.Context, caller interfaces.AccountAddress) error {
	if err := l.acl.Authorize(caller, interfaces.RoleOwner); err != nil {
		return err
	}
	if l.acl.Paused() {
		return interfaces.ErrPaused
	}

	l.mu.Lock()
	if l.current == 0 {
		l.mu.Unlock()
		return fmt.Errorf("%w: no batch has been opened", interfaces.ErrInvalidBatch)
	}
	if l.status == interfaces.BatchClosed {
		l.mu.Unlock()
		return fmt.Errorf("%w: batch %d is already closed", interfaces.ErrInvalidBatch, l.current)
	}

	l.status = interfaces.BatchClosed
	if err := l.persistBatchState(ctx); err != nil {
		l.status = interfaces.BatchOpen
		l.mu.Unlock()
		return fmt.Errorf("failed to persist batch state: %w", err)
	}
	id := l.current
	l.mu.Unlock()

	l.log.Info("Batch closed", slog.Uint64("batch", uint64(id)))
	l.sink.Publish(events.BatchClosed{Batch: id})
	return nil
}

// Submit stores an encrypted value for (batchID, asset, kind). Last write per
// key wins while the batch is Open. The cooldown reservation is committed
// only when the whole submission succeeds; any rejection leaves the actor's
// cooldown slot untouched.
func (l *Ledger) Submit(ctx context.Context, caller interfaces.AccountAddress, batchID interfaces.BatchID, asset interfaces.AssetID, kind interfaces.SubmissionKind, handle interfaces.CiphertextHandle) error {
	if err := l.acl.Authorize(caller, interfaces.RoleProvider); err != nil {
		return err
	}
	if l.acl.Paused() {
		return interfaces.ErrPaused
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if batchID != l.current || l.current == 0 {
		return fmt.Errorf("%w: batch %d is not current", interfaces.ErrInvalidBatch, batchID)
	}
	if l.status != interfaces.BatchOpen {
		return fmt.Errorf("%w: batch %d", interfaces.ErrBatchClosed, batchID)
	}
	if !l.assets.Contains(asset) {
		return fmt.Errorf("%w: %s", interfaces.ErrUnknownAsset, asset)
	}

	reservation, err := l.guard.CheckAndReserve(caller, interfaces.ActionSubmit)
	if err != nil {
		return err
	}

	if !l.capability.IsInitialized(handle) {
		reservation.Discard()
		return fmt.Errorf("%w: handle %s", interfaces.ErrNotInitialized, handle)
	}

	key := submissionKey{batch: batchID, asset: asset, kind: kind}
	previous, existed := l.submissions[key]
	l.submissions[key] = handle
	if l.store != nil {
		if err := l.store.Put(ctx, interfaces.NamespaceSubmissions, key.storageKey(), []byte(handle.String())); err != nil {
			if existed {
				l.submissions[key] = previous
			} else {
				delete(l.submissions, key)
			}
			reservation.Discard()
			return fmt.Errorf("failed to persist submission: %w", err)
		}
	}

	reservation.Commit()

	l.log.Info("Submission stored",
		slog.Uint64("batch", uint64(batchID)),
		slog.String("actor", caller.String()),
		slog.String("asset", asset.String()),
		slog.String("kind", kind.String()))
	l.sink.Publish(events.Submitted{Batch: batchID, Actor: caller, Asset: asset, Kind: kind, Handle: handle})
	return nil
}

// CurrentBatch returns the current batch ID and status. A zero ID means no
// batch has been opened yet.
func (l *Ledger) CurrentBatch() (interfaces.BatchID, interfaces.BatchStatus) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current, l.status
}

// StatusOf returns the status of a batch. Every batch below the current one
// is necessarily Closed: a new batch can only open once its predecessor
// closed.
func (l *Ledger) StatusOf(id interfaces.BatchID) (interfaces.BatchStatus, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if id == 0 || id > l.current {
		return 0, fmt.Errorf("%w: batch %d was never issued", interfaces.ErrInvalidBatch, id)
	}
	if id == l.current {
		return l.status, nil
	}
	return interfaces.BatchClosed, nil
}

// Handle returns the stored handle for (batch, asset, kind), if any.
func (l *Ledger) Handle(batch interfaces.BatchID, asset interfaces.AssetID, kind interfaces.SubmissionKind) (interfaces.CiphertextHandle, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	h, ok := l.submissions[submissionKey{batch: batch, asset: asset, kind: kind}]
	return h, ok
}

// Assets returns the registered assets in registration order.
func (l *Ledger) Assets() []interfaces.AssetID {
	return l.assets.Assets()
}
