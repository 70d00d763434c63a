package interfaces

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// AccountAddress identifies an actor (owner, provider) or the system instance
// itself. It uses the 20-byte Ethereum address layout so identities interoperate
// with on-chain tooling.
type AccountAddress [20]byte

// NewAccountAddressFromBytes creates an account address from a 20-byte slice.
func NewAccountAddressFromBytes(addr []byte) (AccountAddress, error) {
	if len(addr) != 20 {
		return AccountAddress{}, errors.New("invalid address length: must be 20 bytes")
	}

	var res AccountAddress
	copy(res[:], addr)
	return res, nil
}

// NewAccountAddressFromHex creates an account address from a 40-character hex
// string, with or without a 0x prefix.
func NewAccountAddressFromHex(addr string) (AccountAddress, error) {
	clean := strings.TrimPrefix(addr, "0x")
	if len(clean) != 40 {
		return AccountAddress{}, errors.New("invalid address length: hex string must be 40 characters")
	}

	addrBytes, err := hex.DecodeString(clean)
	if err != nil {
		return AccountAddress{}, fmt.Errorf("invalid hex format: %w", err)
	}

	return NewAccountAddressFromBytes(addrBytes)
}

// String returns the hex string representation of the address.
func (addr AccountAddress) String() string {
	return hex.EncodeToString(addr[:])
}

// Bytes returns the raw 20-byte address.
func (addr AccountAddress) Bytes() []byte {
	return addr[:]
}

// Equal compares two account addresses for equality.
func (addr AccountAddress) Equal(other AccountAddress) bool {
	return addr == other
}

// IsZero reports whether the address is the zero address.
func (addr AccountAddress) IsZero() bool {
	return addr == AccountAddress{}
}

// Role is the access level required for an operation.
type Role int

const (
	// RoleOwner is held by exactly one account at a time.
	RoleOwner Role = iota
	// RoleProvider is held by the mutable set of submitters.
	RoleProvider
)

// String returns the role name.
func (r Role) String() string {
	switch r {
	case RoleOwner:
		return "owner"
	case RoleProvider:
		return "provider"
	default:
		return "unknown"
	}
}

// Authorizer decides whether an actor holds a required role. Implementations
// replace ambient caller-identity checks so role enforcement is testable
// without a network identity layer.
type Authorizer interface {
	// Authorize returns nil if actor holds role, ErrNotOwner or ErrNotProvider
	// otherwise.
	Authorize(actor AccountAddress, role Role) error
}

// BatchID identifies a batch. IDs are assigned monotonically starting at 1;
// zero means no batch has been opened yet.
type BatchID uint64

// BatchStatus is the lifecycle state of a batch. The transition is one-way:
// a batch opens Open and is closed exactly once.
type BatchStatus int

const (
	// BatchOpen accepts submissions.
	BatchOpen BatchStatus = iota
	// BatchClosed is immutable and eligible for decryption.
	BatchClosed
)

// String returns the status name.
func (s BatchStatus) String() string {
	switch s {
	case BatchOpen:
		return "open"
	case BatchClosed:
		return "closed"
	default:
		return "unknown"
	}
}

var assetIDRegex = regexp.MustCompile(`^[A-Z0-9]{1,16}$`)

// AssetID names an asset in the ordered asset registry. Asset IDs are short
// uppercase alphanumeric symbols.
type AssetID string

// NewAssetID validates and returns an asset ID.
func NewAssetID(s string) (AssetID, error) {
	if !assetIDRegex.MatchString(s) {
		return "", fmt.Errorf("invalid asset id %q: must match %s", s, assetIDRegex.String())
	}
	return AssetID(s), nil
}

// String returns the asset symbol.
func (a AssetID) String() string {
	return string(a)
}

// Validate checks the asset ID format.
func (a AssetID) Validate() error {
	_, err := NewAssetID(string(a))
	return err
}

// SubmissionKind distinguishes the two encrypted values stored per
// (batch, asset) pair.
type SubmissionKind int

const (
	// KindAmount is the encrypted position amount.
	KindAmount SubmissionKind = iota
	// KindHedge is the encrypted hedge amount.
	KindHedge
)

// String returns the kind name.
func (k SubmissionKind) String() string {
	switch k {
	case KindAmount:
		return "amount"
	case KindHedge:
		return "hedge"
	default:
		return "unknown"
	}
}

// ParseSubmissionKind parses a kind name.
func ParseSubmissionKind(s string) (SubmissionKind, error) {
	switch s {
	case "amount":
		return KindAmount, nil
	case "hedge":
		return KindHedge, nil
	default:
		return 0, fmt.Errorf("invalid submission kind %q", s)
	}
}

// SubmissionKinds enumerates the kinds in snapshot slot order: the Amount slot
// precedes the Hedge slot for every asset.
var SubmissionKinds = [2]SubmissionKind{KindAmount, KindHedge}

// CiphertextHandle is an opaque 32-byte reference to an encrypted value held by
// the external ciphertext capability. The zero handle denotes an absent or
// uninitialized slot.
type CiphertextHandle [32]byte

// NewCiphertextHandleFromBytes creates a handle from a 32-byte slice.
func NewCiphertextHandleFromBytes(source []byte) (CiphertextHandle, error) {
	if len(source) != 32 {
		return CiphertextHandle{}, errors.New("invalid handle length: must be 32 bytes")
	}

	var h CiphertextHandle
	copy(h[:], source)
	return h, nil
}

// NewCiphertextHandleFromHex creates a handle from a 64-character hex string.
func NewCiphertextHandleFromHex(source string) (CiphertextHandle, error) {
	clean := strings.TrimPrefix(source, "0x")
	if len(clean) != 64 {
		return CiphertextHandle{}, errors.New("invalid handle length: hex string must be 64 characters")
	}

	raw, err := hex.DecodeString(clean)
	if err != nil {
		return CiphertextHandle{}, fmt.Errorf("invalid hex format: %w", err)
	}

	return NewCiphertextHandleFromBytes(raw)
}

// String returns the hex representation of the handle.
func (h CiphertextHandle) String() string {
	return hex.EncodeToString(h[:])
}

// Bytes returns the raw 32-byte handle.
func (h CiphertextHandle) Bytes() []byte {
	return h[:]
}

// IsZero reports whether the handle is the zero handle.
func (h CiphertextHandle) IsZero() bool {
	return h == CiphertextHandle{}
}

// Equal compares two handles.
func (h CiphertextHandle) Equal(other CiphertextHandle) bool {
	return bytes.Equal(h[:], other[:])
}

// RequestID identifies an outstanding decryption request issued to the
// external oracle.
type RequestID [32]byte

// NewRequestIDFromBytes creates a request ID from a 32-byte slice.
func NewRequestIDFromBytes(source []byte) (RequestID, error) {
	if len(source) != 32 {
		return RequestID{}, errors.New("invalid request id length: must be 32 bytes")
	}

	var id RequestID
	copy(id[:], source)
	return id, nil
}

// NewRequestIDFromHex creates a request ID from a 64-character hex string.
func NewRequestIDFromHex(source string) (RequestID, error) {
	clean := strings.TrimPrefix(source, "0x")
	if len(clean) != 64 {
		return RequestID{}, errors.New("invalid request id length: hex string must be 64 characters")
	}

	raw, err := hex.DecodeString(clean)
	if err != nil {
		return RequestID{}, fmt.Errorf("invalid hex format: %w", err)
	}

	return NewRequestIDFromBytes(raw)
}

// String returns the hex representation of the request ID.
func (id RequestID) String() string {
	return hex.EncodeToString(id[:])
}

// Bytes returns the raw 32-byte request ID.
func (id RequestID) Bytes() []byte {
	return id[:]
}

// StateHash is the hash binding a decryption request to the exact ordered
// ciphertext handles visible when the request was issued.
type StateHash [32]byte

// String returns the hex representation of the state hash.
func (h StateHash) String() string {
	return hex.EncodeToString(h[:])
}

// Bytes returns the raw 32-byte hash.
func (h StateHash) Bytes() []byte {
	return h[:]
}

// Equal compares two state hashes.
func (h StateHash) Equal(other StateHash) bool {
	return h == other
}

// ActionClass partitions rate-limited actions for cooldown tracking.
type ActionClass int

const (
	// ActionSubmit covers provider submissions into the current batch.
	ActionSubmit ActionClass = iota
	// ActionDecryptRequest covers owner-issued decryption requests.
	ActionDecryptRequest
)

// String returns the action class name.
func (a ActionClass) String() string {
	switch a {
	case ActionSubmit:
		return "submit"
	case ActionDecryptRequest:
		return "decrypt_request"
	default:
		return "unknown"
	}
}
