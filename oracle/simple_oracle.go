// Package oracle provides implementations of the external ciphertext
// capability: a deterministic in-process oracle for development and testing,
// an HTTP client for a remote oracle service, and a mock for unit tests.
package oracle

import (
	"context"
	"crypto/hmac"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/crypto/sha3"

	"github.com/merova/confidential-batch-backend/interfaces"
)

// SimpleOracle is a deterministic in-process ciphertext capability. Values
// encrypt to handles derived from a secret, and proofs are HMACs over the
// request id and cleartexts. Suitable for development and testing; the
// plaintexts never leave the process, so confidentiality holds only against
// external observers.
type SimpleOracle struct {
	secret []byte

	mu      sync.RWMutex
	values  map[interfaces.CiphertextHandle]*big.Int
	pending map[interfaces.RequestID][]interfaces.CiphertextHandle
}

// NewSimpleOracle creates an oracle keyed by the provided secret.
// The secret must be at least 32 bytes long.
func NewSimpleOracle(secret []byte) (*SimpleOracle, error) {
	if len(secret) < 32 {
		return nil, errors.New("oracle secret must be at least 32 bytes")
	}

	return &SimpleOracle{
		secret:  secret,
		values:  make(map[interfaces.CiphertextHandle]*big.Int),
		pending: make(map[interfaces.RequestID][]interfaces.CiphertextHandle),
	}, nil
}

// Encrypt stores a value and returns its handle. Handles are unique per call
// even for equal values.
func (o *SimpleOracle) Encrypt(value *big.Int) interfaces.CiphertextHandle {
	nonce := uuid.New()
	digest := sha3.Sum256(append(append([]byte{}, o.secret...), nonce[:]...))

	var handle interfaces.CiphertextHandle
	copy(handle[:], digest[:])

	o.mu.Lock()
	o.values[handle] = new(big.Int).Set(value)
	o.mu.Unlock()
	return handle
}

// IsInitialized reports whether the handle refers to a stored value.
func (o *SimpleOracle) IsInitialized(handle interfaces.CiphertextHandle) bool {
	if handle.IsZero() {
		return false
	}
	o.mu.RLock()
	defer o.mu.RUnlock()
	_, ok := o.values[handle]
	return ok
}

// CanonicalBytes returns the handle's raw bytes. The zero handle
// canonicalizes to 32 zero bytes.
func (o *SimpleOracle) CanonicalBytes(handle interfaces.CiphertextHandle) ([]byte, error) {
	return handle.Bytes(), nil
}

// RequestDecryption records the handle list under a fresh request id. The
// response is not produced here; a driver calls Cleartexts and Prove (or
// Deliver) to complete the asynchronous round trip.
func (o *SimpleOracle) RequestDecryption(_ context.Context, handles []interfaces.CiphertextHandle) (interfaces.RequestID, error) {
	nonce := uuid.New()
	digest := sha3.Sum256(append(append([]byte("request"), o.secret...), nonce[:]...))

	var id interfaces.RequestID
	copy(id[:], digest[:])

	o.mu.Lock()
	o.pending[id] = append([]interfaces.CiphertextHandle{}, handles...)
	o.mu.Unlock()
	return id, nil
}

// Cleartexts returns the decrypted values for a pending request in slot
// order. Zero handles decrypt to zero.
func (o *SimpleOracle) Cleartexts(requestID interfaces.RequestID) ([]*big.Int, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	handles, ok := o.pending[requestID]
	if !ok {
		return nil, fmt.Errorf("unknown request id %s", requestID)
	}

	cleartexts := make([]*big.Int, len(handles))
	for i, h := range handles {
		if h.IsZero() {
			cleartexts[i] = new(big.Int)
			continue
		}
		v, ok := o.values[h]
		if !ok {
			return nil, fmt.Errorf("request %s references unknown handle %s", requestID, h)
		}
		cleartexts[i] = new(big.Int).Set(v)
	}
	return cleartexts, nil
}

// Prove produces the authentication proof for a cleartext list. Each value is
// framed with its sign and byte length so boundaries between neighboring
// cleartexts cannot shift; without framing two different lists of the same
// length could share a proof.
func (o *SimpleOracle) Prove(requestID interfaces.RequestID, cleartexts []*big.Int) []byte {
	mac := hmac.New(sha3.New256, o.secret)
	mac.Write(requestID.Bytes())
	for _, v := range cleartexts {
		sign := byte(0)
		if v.Sign() < 0 {
			sign = 1
		}
		raw := v.Bytes()
		var frame [5]byte
		frame[0] = sign
		binary.BigEndian.PutUint32(frame[1:], uint32(len(raw)))
		mac.Write(frame[:])
		mac.Write(raw)
	}
	return mac.Sum(nil)
}

// VerifyProof checks an HMAC proof for a request's cleartexts.
func (o *SimpleOracle) VerifyProof(requestID interfaces.RequestID, cleartexts []*big.Int, proof []byte) (bool, error) {
	o.mu.RLock()
	_, known := o.pending[requestID]
	o.mu.RUnlock()
	if !known {
		return false, fmt.Errorf("unknown request id %s", requestID)
	}

	expected := o.Prove(requestID, cleartexts)
	return hmac.Equal(expected, proof), nil
}

// Deliver resolves a pending request end to end: it decrypts the recorded
// handles, proves the result, and invokes the callback. It is the simulation
// counterpart of a remote oracle pushing its response.
func (o *SimpleOracle) Deliver(ctx context.Context, requestID interfaces.RequestID, callback func(context.Context, interfaces.RequestID, []*big.Int, []byte) error) error {
	cleartexts, err := o.Cleartexts(requestID)
	if err != nil {
		return err
	}
	return callback(ctx, requestID, cleartexts, o.Prove(requestID, cleartexts))
}
