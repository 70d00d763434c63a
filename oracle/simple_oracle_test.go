package oracle

import (
	"context"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/merova/confidential-batch-backend/interfaces"
)

func newTestOracle(t *testing.T) *SimpleOracle {
	t.Helper()
	secret := make([]byte, 32)
	copy(secret, []byte("test-secret-test-secret-test-sec"))
	o, err := NewSimpleOracle(secret)
	require.NoError(t, err)
	return o
}

func TestNewSimpleOracleRejectsShortSecret(t *testing.T) {
	_, err := NewSimpleOracle([]byte("too short"))
	assert.Error(t, err)
}

func TestEncryptProducesUniqueInitializedHandles(t *testing.T) {
	o := newTestOracle(t)

	h1 := o.Encrypt(big.NewInt(42))
	h2 := o.Encrypt(big.NewInt(42))

	assert.False(t, h1.Equal(h2))
	assert.True(t, o.IsInitialized(h1))
	assert.True(t, o.IsInitialized(h2))

	assert.False(t, o.IsInitialized(interfaces.CiphertextHandle{}))
	var bogus interfaces.CiphertextHandle
	bogus[5] = 1
	assert.False(t, o.IsInitialized(bogus))
}

func TestDecryptionRoundTrip(t *testing.T) {
	o := newTestOracle(t)
	ctx := context.Background()

	handles := []interfaces.CiphertextHandle{
		o.Encrypt(big.NewInt(100)),
		{}, // empty slot
		o.Encrypt(big.NewInt(-3)),
	}

	requestID, err := o.RequestDecryption(ctx, handles)
	require.NoError(t, err)

	cleartexts, err := o.Cleartexts(requestID)
	require.NoError(t, err)
	require.Len(t, cleartexts, 3)
	assert.Equal(t, int64(100), cleartexts[0].Int64())
	assert.Equal(t, int64(0), cleartexts[1].Int64())
	assert.Equal(t, int64(-3), cleartexts[2].Int64())

	proof := o.Prove(requestID, cleartexts)
	valid, err := o.VerifyProof(requestID, cleartexts, proof)
	require.NoError(t, err)
	assert.True(t, valid)
}

func TestVerifyProofRejectsTampering(t *testing.T) {
	o := newTestOracle(t)
	ctx := context.Background()

	requestID, err := o.RequestDecryption(ctx, []interfaces.CiphertextHandle{o.Encrypt(big.NewInt(5))})
	require.NoError(t, err)
	cleartexts, err := o.Cleartexts(requestID)
	require.NoError(t, err)
	proof := o.Prove(requestID, cleartexts)

	valid, err := o.VerifyProof(requestID, []*big.Int{big.NewInt(6)}, proof)
	require.NoError(t, err)
	assert.False(t, valid)

	valid, err = o.VerifyProof(requestID, cleartexts, append(proof[:len(proof)-1], proof[len(proof)-1]^1))
	require.NoError(t, err)
	assert.False(t, valid)

	var unknown interfaces.RequestID
	unknown[0] = 9
	_, err = o.VerifyProof(unknown, cleartexts, proof)
	assert.Error(t, err)
}

func TestVerifyProofBindsValueBoundaries(t *testing.T) {
	o := newTestOracle(t)
	ctx := context.Background()

	handles := []interfaces.CiphertextHandle{
		o.Encrypt(big.NewInt(100)),
		o.Encrypt(big.NewInt(0)),
		o.Encrypt(big.NewInt(50)),
		o.Encrypt(big.NewInt(20)),
	}
	requestID, err := o.RequestDecryption(ctx, handles)
	require.NoError(t, err)
	cleartexts, err := o.Cleartexts(requestID)
	require.NoError(t, err)
	proof := o.Prove(requestID, cleartexts)

	// Same length, same concatenated byte stream: 25650 = 0x6432 merges
	// 100 (0x64) with 50 (0x32) across the zero value, shifting every
	// boundary. The proof must still reject it.
	forged := []*big.Int{big.NewInt(25650), big.NewInt(20), big.NewInt(0), big.NewInt(0)}
	valid, err := o.VerifyProof(requestID, forged, proof)
	require.NoError(t, err)
	assert.False(t, valid)

	// Sign is bound too.
	negated := []*big.Int{big.NewInt(-100), big.NewInt(0), big.NewInt(50), big.NewInt(20)}
	valid, err = o.VerifyProof(requestID, negated, proof)
	require.NoError(t, err)
	assert.False(t, valid)
}

func TestDeliverInvokesCallback(t *testing.T) {
	o := newTestOracle(t)
	ctx := context.Background()

	requestID, err := o.RequestDecryption(ctx, []interfaces.CiphertextHandle{o.Encrypt(big.NewInt(11))})
	require.NoError(t, err)

	var gotID interfaces.RequestID
	var gotCleartexts []*big.Int
	err = o.Deliver(ctx, requestID, func(_ context.Context, id interfaces.RequestID, cleartexts []*big.Int, proof []byte) error {
		gotID = id
		gotCleartexts = cleartexts
		valid, err := o.VerifyProof(id, cleartexts, proof)
		require.NoError(t, err)
		assert.True(t, valid)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, requestID, gotID)
	require.Len(t, gotCleartexts, 1)
	assert.Equal(t, int64(11), gotCleartexts[0].Int64())
}
