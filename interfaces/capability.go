package interfaces

import (
	"context"
	"math/big"
)

// CiphertextCapability is the external encryption collaborator consumed by the
// core. The core never sees plaintext except through the verified callback
// path; it treats handles as opaque and delegates every cryptographic
// operation to this contract.
type CiphertextCapability interface {
	// IsInitialized reports whether the handle refers to a usable ciphertext.
	// The zero handle is never initialized.
	IsInitialized(handle CiphertextHandle) bool

	// CanonicalBytes returns the canonical byte representation of a handle for
	// hashing. The zero handle canonicalizes to 32 zero bytes so absent slots
	// hash deterministically.
	CanonicalBytes(handle CiphertextHandle) ([]byte, error)

	// RequestDecryption issues an asynchronous decryption request for the
	// ordered handle list and returns the oracle-assigned request ID. The
	// response arrives later through the coordinator callback with no bounded
	// delay.
	RequestDecryption(ctx context.Context, handles []CiphertextHandle) (RequestID, error)

	// VerifyProof checks that proof authenticates cleartexts as the correct
	// decryption of the handle list bound to requestID.
	VerifyProof(requestID RequestID, cleartexts []*big.Int, proof []byte) (bool, error)
}

// BatchReader is the read-only view of the batch ledger consumed by the
// decryption coordinator. The coordinator never mutates ledger state.
type BatchReader interface {
	// CurrentBatch returns the current batch ID and its status. A zero ID
	// means no batch has been opened.
	CurrentBatch() (BatchID, BatchStatus)

	// StatusOf returns the status of a batch, or ErrInvalidBatch for an ID
	// that was never issued.
	StatusOf(id BatchID) (BatchStatus, error)

	// Handle returns the stored handle for (batch, asset, kind). The second
	// return is false when no submission exists for the key.
	Handle(batch BatchID, asset AssetID, kind SubmissionKind) (CiphertextHandle, bool)

	// Assets returns the registered assets in registration order.
	Assets() []AssetID
}
