package interfaces

import (
	"context"
	"errors"
)

// Namespace partitions records in a RecordStore by owning component.
type Namespace int

const (
	// NamespaceLedger holds the batch lifecycle record.
	NamespaceLedger Namespace = iota
	// NamespaceSubmissions holds one record per (batch, asset, kind) handle.
	NamespaceSubmissions
	// NamespaceContexts holds one record per decryption request.
	NamespaceContexts
	// NamespaceAssets holds the ordered asset registry.
	NamespaceAssets
	// NamespaceRoles holds the access control registry state.
	NamespaceRoles
)

// String returns the namespace name used as a storage prefix.
func (n Namespace) String() string {
	switch n {
	case NamespaceLedger:
		return "ledger"
	case NamespaceSubmissions:
		return "submissions"
	case NamespaceContexts:
		return "contexts"
	case NamespaceAssets:
		return "assets"
	case NamespaceRoles:
		return "roles"
	default:
		return "unknown"
	}
}

var (
	// ErrRecordNotFound is returned when a requested record does not exist.
	ErrRecordNotFound = errors.New("record not found")

	// ErrStoreUnavailable is returned when a record store is not accessible.
	ErrStoreUnavailable = errors.New("record store unavailable")

	// ErrInvalidStoreURI is returned when a store location URI is malformed or
	// names an unsupported scheme.
	ErrInvalidStoreURI = errors.New("invalid record store URI")
)

// RecordStore provides durable keyed storage for ledger, registry and
// coordinator state so the system survives process restarts. Keys are opaque
// strings scoped by namespace; values are small JSON documents.
type RecordStore interface {
	// Put stores data under (namespace, key), overwriting any existing record.
	Put(ctx context.Context, ns Namespace, key string, data []byte) error

	// Get retrieves a record. Returns ErrRecordNotFound if the key is absent.
	Get(ctx context.Context, ns Namespace, key string) ([]byte, error)

	// List returns all keys in a namespace.
	List(ctx context.Context, ns Namespace) ([]string, error)

	// Delete removes a record. Deleting an absent key is not an error.
	Delete(ctx context.Context, ns Namespace, key string) error

	// Available checks if the store is accessible.
	Available(ctx context.Context) bool

	// Name returns an identifier for logging.
	Name() string

	// LocationURI returns the URI identifying this store.
	LocationURI() string
}

// Archiver writes immutable, content-addressed archive records. Used for
// finalized decryption results after the processed transition; archive
// failures are logged, never unwound.
type Archiver interface {
	// Archive stores data and returns a location reference (content hash,
	// CID or path depending on the backend).
	Archive(ctx context.Context, data []byte) (string, error)

	// Name returns an identifier for logging.
	Name() string
}
