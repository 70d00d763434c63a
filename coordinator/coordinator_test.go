package coordinator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/merova/confidential-batch-backend/accesscontrol"
	"github.com/merova/confidential-batch-backend/cooldown"
	"github.com/merova/confidential-batch-backend/events"
	"github.com/merova/confidential-batch-backend/interfaces"
	"github.com/merova/confidential-batch-backend/ledger"
	"github.com/merova/confidential-batch-backend/oracle"
	"github.com/merova/confidential-batch-backend/storage"
)

var (
	owner, _    = interfaces.NewAccountAddressFromHex("1111111111111111111111111111111111111111")
	provider, _ = interfaces.NewAccountAddressFromHex("2222222222222222222222222222222222222222")
	identity, _ = interfaces.NewAccountAddressFromHex("4444444444444444444444444444444444444444")

	assetX, _ = interfaces.NewAssetID("XAU")
	assetY, _ = interfaces.NewAssetID("YEN")
)

type testEnv struct {
	acl    *accesscontrol.Registry
	ledger *ledger.Ledger
	coord  *Coordinator
	oracle *oracle.SimpleOracle
	sink   *events.ChannelSink
	store  interfaces.RecordStore
	clock  *time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	return newTestEnvWithStore(t, storage.NewMemoryStore())
}

func newTestEnvWithStore(t *testing.T, store interfaces.RecordStore) *testEnv {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := context.Background()

	acl, err := accesscontrol.NewRegistry(owner, 0, store, nil, log)
	require.NoError(t, err)
	now := time.Unix(1000, 0)
	guard := cooldown.NewGuard(acl.CooldownWindow).WithClock(func() time.Time { return now })

	secret := make([]byte, 32)
	copy(secret, []byte("0123456789abcdef0123456789abcdef"))
	simpleOracle, err := oracle.NewSimpleOracle(secret)
	require.NoError(t, err)

	l, err := ledger.NewLedger(acl, guard, simpleOracle, store, nil, log)
	require.NoError(t, err)

	sink := events.NewChannelSink(16)
	coord, err := NewCoordinator(acl, guard, l, simpleOracle, identity, store, nil, sink, log)
	require.NoError(t, err)

	if !acl.IsProvider(provider) {
		require.NoError(t, acl.AddProvider(ctx, owner, provider))
	}

	return &testEnv{acl: acl, ledger: l, coord: coord, oracle: simpleOracle, sink: sink, store: store, clock: &now}
}

// prepareClosedBatch registers two assets, submits three of the four slots
// and closes the batch. The YEN amount slot stays empty so the snapshot
// carries a zero handle.
func prepareClosedBatch(t *testing.T, env *testEnv) interfaces.BatchID {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, env.ledger.RegisterAsset(ctx, owner, assetX))
	require.NoError(t, env.ledger.RegisterAsset(ctx, owner, assetY))
	batch, err := env.ledger.OpenNewBatch(ctx, owner)
	require.NoError(t, err)

	require.NoError(t, env.ledger.Submit(ctx, provider, batch, assetX, interfaces.KindAmount, env.oracle.Encrypt(big.NewInt(100))))
	require.NoError(t, env.ledger.Submit(ctx, provider, batch, assetX, interfaces.KindHedge, env.oracle.Encrypt(big.NewInt(7))))
	require.NoError(t, env.ledger.Submit(ctx, provider, batch, assetY, interfaces.KindHedge, env.oracle.Encrypt(big.NewInt(20))))
	require.NoError(t, env.ledger.CloseCurrentBatch(ctx, owner))
	return batch
}

func TestRequestDecryptionRequiresClosedBatch(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// No batch opened yet.
	_, err := env.coord.RequestDecryption(ctx, owner, 1)
	assert.ErrorIs(t, err, interfaces.ErrInvalidBatch)

	batch, err := env.ledger.OpenNewBatch(ctx, owner)
	require.NoError(t, err)
	_, err = env.coord.RequestDecryption(ctx, owner, batch)
	assert.ErrorIs(t, err, interfaces.ErrInvalidBatch)

	require.NoError(t, env.ledger.CloseCurrentBatch(ctx, owner))
	_, err = env.coord.RequestDecryption(ctx, owner, batch)
	assert.NoError(t, err)
}

func TestRequestDecryptionAuthorization(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	batch := prepareClosedBatch(t, env)

	_, err := env.coord.RequestDecryption(ctx, provider, batch)
	assert.ErrorIs(t, err, interfaces.ErrNotOwner)

	require.NoError(t, env.acl.SetPaused(ctx, owner, true))
	_, err = env.coord.RequestDecryption(ctx, owner, batch)
	assert.ErrorIs(t, err, interfaces.ErrPaused)
}

func TestVerifiedCallbackFinalizesOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	batch := prepareClosedBatch(t, env)

	requestID, err := env.coord.RequestDecryption(ctx, owner, batch)
	require.NoError(t, err)

	// DecryptionRequested is emitted with the bound state hash.
	ev := <-env.sink.Events()
	requested, ok := ev.(events.DecryptionRequested)
	require.True(t, ok)
	assert.Equal(t, requestID, requested.Request)
	assert.Equal(t, batch, requested.Batch)

	cleartexts, err := env.oracle.Cleartexts(requestID)
	require.NoError(t, err)
	proof := env.oracle.Prove(requestID, cleartexts)
	require.NoError(t, env.coord.Callback(ctx, requestID, cleartexts, proof))

	// Results decode positionally: amount then hedge per asset in
	// registration order, with the empty YEN amount slot decoding to zero.
	ev = <-env.sink.Events()
	completed, ok := ev.(events.DecryptionCompleted)
	require.True(t, ok)
	assert.Equal(t, requestID, completed.Request)
	assert.Equal(t, batch, completed.Batch)
	assert.Equal(t, []interfaces.AssetID{assetX, assetY}, completed.Assets)
	require.Len(t, completed.AssetAmounts, 2)
	require.Len(t, completed.HedgeAmounts, 2)
	assert.Equal(t, int64(100), completed.AssetAmounts[0].Int64())
	assert.Equal(t, int64(0), completed.AssetAmounts[1].Int64())
	assert.Equal(t, int64(7), completed.HedgeAmounts[0].Int64())
	assert.Equal(t, int64(20), completed.HedgeAmounts[1].Int64())

	dc, err := env.coord.Context(requestID)
	require.NoError(t, err)
	assert.True(t, dc.Processed)
	assert.Empty(t, env.coord.PendingRequests())

	// A second delivery of the same response is a replay.
	err = env.coord.Callback(ctx, requestID, cleartexts, proof)
	assert.ErrorIs(t, err, interfaces.ErrReplayAttempt)
}

func TestCallbackUnknownRequest(t *testing.T) {
	env := newTestEnv(t)

	var unknown interfaces.RequestID
	unknown[0] = 0xff
	err := env.coord.Callback(context.Background(), unknown, nil, nil)
	assert.ErrorIs(t, err, interfaces.ErrInvalidBatch)
}

func TestCallbackStateMismatch(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	batch := prepareClosedBatch(t, env)

	requestID, err := env.coord.RequestDecryption(ctx, owner, batch)
	require.NoError(t, err)
	cleartexts, err := env.oracle.Cleartexts(requestID)
	require.NoError(t, err)
	proof := env.oracle.Prove(requestID, cleartexts)

	// Registering another asset changes the snapshot the batch hashes to.
	extra, _ := interfaces.NewAssetID("ZAR")
	require.NoError(t, env.ledger.RegisterAsset(ctx, owner, extra))

	err = env.coord.Callback(ctx, requestID, cleartexts, proof)
	assert.ErrorIs(t, err, interfaces.ErrStateMismatch)

	// The request stays unprocessed; a fresh request over the new state is
	// the recovery path.
	dc, err := env.coord.Context(requestID)
	require.NoError(t, err)
	assert.False(t, dc.Processed)
	assert.Len(t, env.coord.PendingRequests(), 1)
}

func TestCallbackInvalidProof(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	batch := prepareClosedBatch(t, env)

	requestID, err := env.coord.RequestDecryption(ctx, owner, batch)
	require.NoError(t, err)
	cleartexts, err := env.oracle.Cleartexts(requestID)
	require.NoError(t, err)

	// Tampered cleartexts fail proof verification.
	proof := env.oracle.Prove(requestID, cleartexts)
	tampered := append([]*big.Int{}, cleartexts...)
	tampered[0] = big.NewInt(999999)
	err = env.coord.Callback(ctx, requestID, tampered, proof)
	assert.ErrorIs(t, err, interfaces.ErrInvalidDecryptionProof)

	// Wrong cleartext count cannot match the bound handle list.
	err = env.coord.Callback(ctx, requestID, cleartexts[:2], proof)
	assert.ErrorIs(t, err, interfaces.ErrInvalidDecryptionProof)

	// The correct delivery still succeeds afterwards.
	require.NoError(t, env.coord.Callback(ctx, requestID, cleartexts, proof))
}

func TestConcurrentDuplicateCallbacks(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	batch := prepareClosedBatch(t, env)

	requestID, err := env.coord.RequestDecryption(ctx, owner, batch)
	require.NoError(t, err)
	cleartexts, err := env.oracle.Cleartexts(requestID)
	require.NoError(t, err)
	proof := env.oracle.Prove(requestID, cleartexts)

	const n = 8
	results := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = env.coord.Callback(ctx, requestID, cleartexts, proof)
		}(i)
	}
	wg.Wait()

	var succeeded, replayed int
	for _, err := range results {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, interfaces.ErrReplayAttempt):
			replayed++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, n-1, replayed)
}

func TestRequestDecryptionCooldown(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	batch := prepareClosedBatch(t, env)
	require.NoError(t, env.acl.SetCooldownWindow(ctx, owner, time.Minute))

	_, err := env.coord.RequestDecryption(ctx, owner, batch)
	require.NoError(t, err)
	_, err = env.coord.RequestDecryption(ctx, owner, batch)
	assert.ErrorIs(t, err, interfaces.ErrCooldownActive)

	*env.clock = env.clock.Add(time.Minute)
	_, err = env.coord.RequestDecryption(ctx, owner, batch)
	assert.NoError(t, err)
}

func TestOracleFailureDoesNotConsumeCooldown(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := context.Background()

	acl, err := accesscontrol.NewRegistry(owner, time.Minute, nil, nil, log)
	require.NoError(t, err)
	guard := cooldown.NewGuard(acl.CooldownWindow)

	capability := new(oracle.MockCapability)
	capability.On("CanonicalBytes", mock.Anything).Return(make([]byte, 32), nil)
	capability.On("RequestDecryption", mock.Anything, mock.Anything).
		Return(interfaces.RequestID{}, errors.New("oracle offline")).Once()
	capability.On("RequestDecryption", mock.Anything, mock.Anything).
		Return(interfaces.RequestID{1}, nil)

	l, err := ledger.NewLedger(acl, guard, capability, nil, nil, log)
	require.NoError(t, err)
	coord, err := NewCoordinator(acl, guard, l, capability, identity, nil, nil, nil, log)
	require.NoError(t, err)

	require.NoError(t, l.RegisterAsset(ctx, owner, assetX))
	batch, err := l.OpenNewBatch(ctx, owner)
	require.NoError(t, err)
	require.NoError(t, l.CloseCurrentBatch(ctx, owner))

	_, err = coord.RequestDecryption(ctx, owner, batch)
	require.Error(t, err)

	// The failed request did not start the owner's cooldown window.
	requestID, err := coord.RequestDecryption(ctx, owner, batch)
	require.NoError(t, err)
	assert.Equal(t, interfaces.RequestID{1}, requestID)
	capability.AssertExpectations(t)
}

func TestCoordinatorPersistenceRoundTrip(t *testing.T) {
	store := storage.NewMemoryStore()
	env := newTestEnvWithStore(t, store)
	ctx := context.Background()
	batch := prepareClosedBatch(t, env)

	requestID, err := env.coord.RequestDecryption(ctx, owner, batch)
	require.NoError(t, err)

	// A restarted coordinator still accepts the callback for the persisted
	// context.
	restored := newTestEnvWithStore(t, store)
	assert.Equal(t, []interfaces.RequestID{requestID}, restored.coord.PendingRequests())

	cleartexts, err := env.oracle.Cleartexts(requestID)
	require.NoError(t, err)
	proof := env.oracle.Prove(requestID, cleartexts)

	// The restored stack shares the store but not the oracle's pending table,
	// so verify against the original oracle through a coordinator wired to it.
	require.NoError(t, env.coord.Callback(ctx, requestID, cleartexts, proof))

	afterRestart := newTestEnvWithStore(t, store)
	dc, err := afterRestart.coord.Context(requestID)
	require.NoError(t, err)
	assert.True(t, dc.Processed)
}
