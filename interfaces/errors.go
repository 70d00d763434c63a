package interfaces

import "errors"

// Sentinel errors shared across components. Every failure aborts the attempted
// state change atomically: no partial mutation and no cooldown consumption.
var (
	// ErrNotOwner is returned when an owner-only operation is attempted by a
	// different account.
	ErrNotOwner = errors.New("caller is not the owner")

	// ErrNotProvider is returned when a submission is attempted by an account
	// without the provider role.
	ErrNotProvider = errors.New("caller is not a provider")

	// ErrPaused is returned when a mutating ledger or coordinator operation is
	// attempted while the system is paused. Administrative registry operations
	// are intentionally not gated by the pause flag.
	ErrPaused = errors.New("system is paused")

	// ErrBatchClosed is returned when submitting to the current batch after it
	// has been closed.
	ErrBatchClosed = errors.New("batch is closed")

	// ErrInvalidBatch is returned for operations referencing a batch that does
	// not exist, is not current, or is in the wrong lifecycle state.
	ErrInvalidBatch = errors.New("invalid batch")

	// ErrCooldownActive is returned when the actor's cooldown window for the
	// action class has not yet elapsed.
	ErrCooldownActive = errors.New("cooldown active")

	// ErrReplayAttempt is returned when a decryption callback references a
	// request that has already been finalized.
	ErrReplayAttempt = errors.New("decryption request already processed")

	// ErrStateMismatch is returned when the stored submissions no longer hash
	// to the state hash recorded at request time.
	ErrStateMismatch = errors.New("state hash mismatch")

	// ErrInvalidDecryptionProof is returned when the oracle proof does not
	// authenticate the cleartexts for the bound handle list.
	ErrInvalidDecryptionProof = errors.New("invalid decryption proof")

	// ErrNotInitialized is returned when a submitted handle does not report
	// itself initialized via the ciphertext capability.
	ErrNotInitialized = errors.New("ciphertext handle not initialized")

	// ErrUnknownAsset is returned when a submission names an asset that is not
	// in the ordered asset registry.
	ErrUnknownAsset = errors.New("unknown asset")
)

// IsAuthorizationError reports whether err is a role-enforcement failure.
func IsAuthorizationError(err error) bool {
	return errors.Is(err, ErrNotOwner) || errors.Is(err, ErrNotProvider)
}

// IsLifecycleError reports whether err is a batch or pause lifecycle failure.
func IsLifecycleError(err error) bool {
	return errors.Is(err, ErrPaused) || errors.Is(err, ErrBatchClosed) || errors.Is(err, ErrInvalidBatch)
}

// IsRateLimitError reports whether err is a cooldown rejection.
func IsRateLimitError(err error) bool {
	return errors.Is(err, ErrCooldownActive)
}

// IsIntegrityError reports whether err is a replay, tamper or proof failure.
// Integrity errors on a callback are terminal for that request id; recovery
// requires a fresh decryption request.
func IsIntegrityError(err error) bool {
	return errors.Is(err, ErrReplayAttempt) || errors.Is(err, ErrStateMismatch) || errors.Is(err, ErrInvalidDecryptionProof)
}

// IsInputError reports whether err is a rejected input.
func IsInputError(err error) bool {
	return errors.Is(err, ErrNotInitialized) || errors.Is(err, ErrUnknownAsset)
}
