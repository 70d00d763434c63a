// Package coordinator implements the verified asynchronous decryption flow.
//
// A decryption request snapshots the closed batch's ordered ciphertext
// handles, binds them to a state hash, and hands them to the external oracle.
// The oracle answers later through Callback with cleartexts and a proof; the
// callback re-derives the state hash, verifies the proof, and finalizes the
// request exactly once.
package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/merova/confidential-batch-backend/accesscontrol"
	"github.com/merova/confidential-batch-backend/cooldown"
	"github.com/merova/confidential-batch-backend/events"
	"github.com/merova/confidential-batch-backend/interfaces"
)

// DecryptionContext is the state recorded per outstanding request. Processed
// flips to true exactly once; a processed context never accepts another
// callback.
type DecryptionContext struct {
	Batch     interfaces.BatchID   `json:"batch"`
	StateHash interfaces.StateHash `json:"state_hash"`
	Processed bool                 `json:"processed"`
}

// Coordinator issues decryption requests and validates oracle callbacks.
type Coordinator struct {
	acl        *accesscontrol.Registry
	guard      *cooldown.Guard
	reader     interfaces.BatchReader
	capability interfaces.CiphertextCapability
	identity   interfaces.AccountAddress
	store      interfaces.RecordStore
	archiver   interfaces.Archiver
	sink       events.Sink
	log        *slog.Logger

	mu       sync.Mutex
	contexts map[interfaces.RequestID]*DecryptionContext
	locks    map[interfaces.RequestID]*sync.Mutex
}

// NewCoordinator creates a coordinator. identity is the system's own account
// address, mixed into every state hash so two deployments sharing an oracle
// cannot replay each other's responses. store and archiver may be nil.
func NewCoordinator(acl *accesscontrol.Registry, guard *cooldown.Guard, reader interfaces.BatchReader, capability interfaces.CiphertextCapability, identity interfaces.AccountAddress, store interfaces.RecordStore, archiver interfaces.Archiver, sink events.Sink, log *slog.Logger) (*Coordinator, error) {
	if sink == nil {
		sink = events.NopSink{}
	}

	c := &Coordinator{
		acl:        acl,
		guard:      guard,
		reader:     reader,
		capability: capability,
		identity:   identity,
		store:      store,
		archiver:   archiver,
		sink:       sink,
		log:        log,
		contexts:   make(map[interfaces.RequestID]*DecryptionContext),
		locks:      make(map[interfaces.RequestID]*sync.Mutex),
	}

	if store != nil {
		if err := c.restore(context.Background()); err != nil {
			return nil, fmt.Errorf("failed to restore decryption contexts: %w", err)
		}
	}

	return c, nil
}

func (c *Coordinator) restore(ctx context.Context) error {
	keys, err := c.store.List(ctx, interfaces.NamespaceContexts)
	if err != nil {
		return err
	}
	for _, k := range keys {
		id, err := interfaces.NewRequestIDFromHex(k)
		if err != nil {
			return fmt.Errorf("corrupt context key %q: %w", k, err)
		}
		raw, err := c.store.Get(ctx, interfaces.NamespaceContexts, k)
		if err != nil {
			return err
		}
		var dc DecryptionContext
		if err := json.Unmarshal(raw, &dc); err != nil {
			return fmt.Errorf("corrupt context record %q: %w", k, err)
		}
		c.contexts[id] = &dc
	}
	c.log.Debug("Restored decryption contexts", slog.Int("count", len(c.contexts)))
	return nil
}

func (c *Coordinator) persistContext(ctx context.Context, id interfaces.RequestID, dc *DecryptionContext) error {
	if c.store == nil {
		return nil
	}
	data, err := json.Marshal(dc)
	if err != nil {
		return err
	}
	return c.store.Put(ctx, interfaces.NamespaceContexts, id.String(), data)
}

// snapshot assembles the ordered handle list for a batch: two slots per
// registered asset in registration order, the amount slot before the hedge
// slot. Slots with no submission carry the zero handle so positions stay
// stable regardless of which providers submitted.
func (c *Coordinator) snapshot(batch interfaces.BatchID) []interfaces.CiphertextHandle {
	assets := c.reader.Assets()
	handles := make([]interfaces.CiphertextHandle, 0, len(assets)*len(interfaces.SubmissionKinds))
	for _, asset := range assets {
		for _, kind := range interfaces.SubmissionKinds {
			h, ok := c.reader.Handle(batch, asset, kind)
			if !ok {
				h = interfaces.CiphertextHandle{}
			}
			handles = append(handles, h)
		}
	}
	return handles
}

// stateHash binds an ordered handle list to this system instance. The handles
// canonicalize through the ciphertext capability, concatenate in slot order
// and hash together with the instance address.
func (c *Coordinator) stateHash(handles []interfaces.CiphertextHandle) (interfaces.StateHash, error) {
	bytesTy, _ := abi.NewType("bytes", "", nil)
	addressTy, _ := abi.NewType("address", "", nil)
	arguments := abi.Arguments{
		{Type: bytesTy},
		{Type: addressTy},
	}

	var canonical []byte
	for _, h := range handles {
		cb, err := c.capability.CanonicalBytes(h)
		if err != nil {
			return interfaces.StateHash{}, fmt.Errorf("failed to canonicalize handle %s: %w", h, err)
		}
		canonical = append(canonical, cb...)
	}

	packed, err := arguments.Pack(canonical, c.identity)
	if err != nil {
		return interfaces.StateHash{}, err
	}
	return interfaces.StateHash(crypto.Keccak256Hash(packed)), nil
}

// RequestDecryption snapshots a closed batch and issues an asynchronous
// decryption request. Owner-only, rejected while paused, and the batch must
// be Closed. The cooldown slot for decryption requests is consumed only when
// the request is fully issued and recorded.
func (c *Coordinator) RequestDecryption(ctx context.Context, caller interfaces.AccountAddress, batch interfaces.BatchID) (interfaces.RequestID, error) {
	if err := c.acl.Authorize(caller, interfaces.RoleOwner); err != nil {
		return interfaces.RequestID{}, err
	}
	if c.acl.Paused() {
		return interfaces.RequestID{}, interfaces.ErrPaused
	}

	status, err := c.reader.StatusOf(batch)
	if err != nil {
		return interfaces.RequestID{}, err
	}
	if status != interfaces.BatchClosed {
		return interfaces.RequestID{}, fmt.Errorf("%w: batch %d is still open", interfaces.ErrInvalidBatch, batch)
	}

	reservation, err := c.guard.CheckAndReserve(caller, interfaces.ActionDecryptRequest)
	if err != nil {
		return interfaces.RequestID{}, err
	}

	handles := c.snapshot(batch)
	hash, err := c.stateHash(handles)
	if err != nil {
		reservation.Discard()
		return interfaces.RequestID{}, err
	}

	requestID, err := c.capability.RequestDecryption(ctx, handles)
	if err != nil {
		reservation.Discard()
		return interfaces.RequestID{}, fmt.Errorf("oracle rejected decryption request: %w", err)
	}

	dc := &DecryptionContext{Batch: batch, StateHash: hash}
	c.mu.Lock()
	c.contexts[requestID] = dc
	c.mu.Unlock()
	if err := c.persistContext(ctx, requestID, dc); err != nil {
		c.mu.Lock()
		delete(c.contexts, requestID)
		c.mu.Unlock()
		reservation.Discard()
		return interfaces.RequestID{}, fmt.Errorf("failed to persist decryption context: %w", err)
	}

	reservation.Commit()

	c.log.Info("Decryption requested",
		slog.String("request", requestID.String()),
		slog.Uint64("batch", uint64(batch)),
		slog.String("state_hash", hash.String()))
	c.sink.Publish(events.DecryptionRequested{Request: requestID, Batch: batch, StateHash: hash})
	return requestID, nil
}

// requestLock returns the per-request mutex, creating it on first use.
// Serializing callbacks per request id makes concurrent duplicate deliveries
// resolve deterministically: one finalizes, the rest see ErrReplayAttempt.
func (c *Coordinator) requestLock(id interfaces.RequestID) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	lock, ok := c.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		c.locks[id] = lock
	}
	return lock
}

// archiveRecord is the immutable document archived per finalized request.
type archiveRecord struct {
	Request      interfaces.RequestID `json:"request"`
	Batch        interfaces.BatchID   `json:"batch"`
	StateHash    interfaces.StateHash `json:"state_hash"`
	Assets       []interfaces.AssetID `json:"assets"`
	AssetAmounts []string             `json:"asset_amounts"`
	HedgeAmounts []string             `json:"hedge_amounts"`
}

// Callback validates and finalizes an oracle response. Validation order:
// unknown request, replay, state hash drift, then proof. Any failure leaves
// the context untouched so a later correct delivery for an unprocessed
// request can still succeed; only a finalized request is terminal.
//
// Cleartexts are positional: two values per registered asset in registration
// order, amount before hedge. A length mismatch is treated as a proof
// failure since the proof cannot cover the bound handle list.
func (c *Coordinator) Callback(ctx context.Context, requestID interfaces.RequestID, cleartexts []*big.Int, proof []byte) error {
	lock := c.requestLock(requestID)
	lock.Lock()
	defer lock.Unlock()

	c.mu.Lock()
	dc, ok := c.contexts[requestID]
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: unknown decryption request %s", interfaces.ErrInvalidBatch, requestID)
	}
	if dc.Processed {
		return fmt.Errorf("%w: request %s", interfaces.ErrReplayAttempt, requestID)
	}

	handles := c.snapshot(dc.Batch)
	currentHash, err := c.stateHash(handles)
	if err != nil {
		return err
	}
	if !currentHash.Equal(dc.StateHash) {
		return fmt.Errorf("%w: request %s bound %s, ledger now hashes to %s",
			interfaces.ErrStateMismatch, requestID, dc.StateHash, currentHash)
	}

	if len(cleartexts) != len(handles) {
		return fmt.Errorf("%w: got %d cleartexts for %d slots",
			interfaces.ErrInvalidDecryptionProof, len(cleartexts), len(handles))
	}
	valid, err := c.capability.VerifyProof(requestID, cleartexts, proof)
	if err != nil {
		return fmt.Errorf("%w: %s", interfaces.ErrInvalidDecryptionProof, err)
	}
	if !valid {
		return fmt.Errorf("%w: request %s", interfaces.ErrInvalidDecryptionProof, requestID)
	}

	dc.Processed = true
	if err := c.persistContext(ctx, requestID, dc); err != nil {
		dc.Processed = false
		return fmt.Errorf("failed to persist processed transition: %w", err)
	}

	assets := c.reader.Assets()
	amounts := make([]*big.Int, len(assets))
	hedges := make([]*big.Int, len(assets))
	for i := range assets {
		amounts[i] = cleartexts[i*len(interfaces.SubmissionKinds)]
		hedges[i] = cleartexts[i*len(interfaces.SubmissionKinds)+1]
	}

	c.log.Info("Decryption completed",
		slog.String("request", requestID.String()),
		slog.Uint64("batch", uint64(dc.Batch)),
		slog.Int("assets", len(assets)))
	c.sink.Publish(events.DecryptionCompleted{
		Request:      requestID,
		Batch:        dc.Batch,
		Assets:       assets,
		AssetAmounts: amounts,
		HedgeAmounts: hedges,
	})

	c.archive(ctx, requestID, dc, assets, amounts, hedges)
	return nil
}

// archive writes the finalized result to the configured archiver. The request
// is already finalized, so archive failures only log.
func (c *Coordinator) archive(ctx context.Context, requestID interfaces.RequestID, dc *DecryptionContext, assets []interfaces.AssetID, amounts, hedges []*big.Int) {
	if c.archiver == nil {
		return
	}

	rec := archiveRecord{
		Request:   requestID,
		Batch:     dc.Batch,
		StateHash: dc.StateHash,
		Assets:    assets,
	}
	for i := range assets {
		rec.AssetAmounts = append(rec.AssetAmounts, amounts[i].String())
		rec.HedgeAmounts = append(rec.HedgeAmounts, hedges[i].String())
	}

	data, err := json.Marshal(rec)
	if err != nil {
		c.log.Error("Failed to encode archive record", slog.String("request", requestID.String()), slog.String("err", err.Error()))
		return
	}
	ref, err := c.archiver.Archive(ctx, data)
	if err != nil {
		c.log.Error("Failed to archive decryption result",
			slog.String("request", requestID.String()),
			slog.String("archiver", c.archiver.Name()),
			slog.String("err", err.Error()))
		return
	}
	c.log.Info("Archived decryption result", slog.String("request", requestID.String()), slog.String("ref", ref))
}

// Context returns the recorded context for a request id.
func (c *Coordinator) Context(requestID interfaces.RequestID) (DecryptionContext, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	dc, ok := c.contexts[requestID]
	if !ok {
		return DecryptionContext{}, fmt.Errorf("%w: unknown decryption request %s", interfaces.ErrInvalidBatch, requestID)
	}
	return *dc, nil
}

// PendingRequests returns the ids of requests awaiting a verified callback,
// in stable hex order.
func (c *Coordinator) PendingRequests() []interfaces.RequestID {
	c.mu.Lock()
	defer c.mu.Unlock()

	pending := make([]interfaces.RequestID, 0)
	for id, dc := range c.contexts {
		if !dc.Processed {
			pending = append(pending, id)
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].String() < pending[j].String() })
	return pending
}
