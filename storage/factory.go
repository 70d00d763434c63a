package storage

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/merova/confidential-batch-backend/interfaces"
)

// Factory creates record stores and archivers from URI strings.
type Factory struct {
	log *slog.Logger
}

// NewFactory creates a factory instance.
func NewFactory(log *slog.Logger) *Factory {
	return &Factory{log: log}
}

// StoreFor creates a record store from a location URI.
// The URI format is [scheme]://[auth@]host[:port][/path][?params]
//
// Supported schemes:
//   - mem:// - In-memory storage, not durable
//   - file:// - Local filesystem storage
//   - sqlite:// - Single-file SQLite database
//   - s3:// - Amazon S3 or compatible object storage
//   - vault:// - HashiCorp Vault KV v2
//
// Returns an error if the URI is invalid or the scheme is unsupported.
func (f *Factory) StoreFor(locationURI string) (interfaces.RecordStore, error) {
	u, err := url.Parse(locationURI)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrInvalidStoreURI, err)
	}

	switch strings.ToLower(u.Scheme) {
	case "mem":
		return NewMemoryStore(), nil
	case "file":
		return f.createFileStore(u)
	case "sqlite":
		return f.createSQLiteStore(u)
	case "s3":
		return f.createS3Store(u)
	case "vault":
		return f.createVaultStore(u)
	default:
		return nil, fmt.Errorf("%w: unsupported scheme %q", interfaces.ErrInvalidStoreURI, u.Scheme)
	}
}

// ArchiverFor creates an archiver from a location URI.
//
// Supported schemes:
//   - ipfs:// - Content-addressed IPFS storage
//   - file:// - Content-addressed local files
func (f *Factory) ArchiverFor(locationURI string) (interfaces.Archiver, error) {
	u, err := url.Parse(locationURI)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrInvalidStoreURI, err)
	}

	switch strings.ToLower(u.Scheme) {
	case "ipfs":
		host := u.Hostname()
		port := u.Port()
		if port == "" {
			port = "5001" // Default IPFS API port
		}
		return NewIPFSArchiver(host, port, f.log), nil
	case "file":
		path := pathFromURI(u)
		if path == "" {
			return nil, fmt.Errorf("%w: empty path in %s", interfaces.ErrInvalidStoreURI, u.String())
		}
		return NewFileArchiver(path, f.log)
	default:
		return nil, fmt.Errorf("%w: unsupported archiver scheme %q", interfaces.ErrInvalidStoreURI, u.Scheme)
	}
}

// createFileStore creates a filesystem record store.
// URI format: file:///var/lib/ledger or file://./relative/path
func (f *Factory) createFileStore(u *url.URL) (interfaces.RecordStore, error) {
	f.log.Debug("Creating file store", slog.String("uri", u.String()))

	path := pathFromURI(u)
	if path == "" {
		return nil, fmt.Errorf("%w: empty path in %s", interfaces.ErrInvalidStoreURI, u.String())
	}
	return NewFileStore(path, f.log)
}

// createSQLiteStore creates a SQLite record store.
// URI format: sqlite:///var/lib/ledger.db
func (f *Factory) createSQLiteStore(u *url.URL) (interfaces.RecordStore, error) {
	f.log.Debug("Creating sqlite store", slog.String("uri", u.String()))

	path := pathFromURI(u)
	if path == "" {
		return nil, fmt.Errorf("%w: empty path in %s", interfaces.ErrInvalidStoreURI, u.String())
	}
	return NewSQLiteStore(path, f.log)
}

// createS3Store creates an S3 record store.
// URI format: s3://[ACCESS_KEY:SECRET_KEY@]bucket/prefix?region=us-west-2&endpoint=custom.s3.com
func (f *Factory) createS3Store(u *url.URL) (interfaces.RecordStore, error) {
	f.log.Debug("Creating S3 store", slog.String("uri", u.String()))

	bucketName := u.Host
	prefix := strings.TrimPrefix(u.Path, "/")

	query := u.Query()
	region := query.Get("region")
	if region == "" {
		region = "us-east-1" // Default region
	}
	endpoint := query.Get("endpoint")

	var accessKey, secretKey string
	if u.User != nil {
		accessKey = u.User.Username()
		secretKey, _ = u.User.Password()
	} else {
		f.log.Debug("No S3 credentials in URI, relying on environment")
	}

	return NewS3Store(bucketName, prefix, region, endpoint, accessKey, secretKey, f.log)
}

// createVaultStore creates a Vault record store.
// URI format: vault://host:8200/mount/prefix?token=...&tls=true
func (f *Factory) createVaultStore(u *url.URL) (interfaces.RecordStore, error) {
	f.log.Debug("Creating Vault store", slog.String("uri", u.String()))

	parts := strings.SplitN(strings.Trim(u.Path, "/"), "/", 2)
	if len(parts) < 1 || parts[0] == "" {
		return nil, fmt.Errorf("%w: vault URI must include a mount path", interfaces.ErrInvalidStoreURI)
	}
	mountPath := parts[0]
	dataPath := "ledger"
	if len(parts) == 2 && parts[1] != "" {
		dataPath = parts[1]
	}

	query := u.Query()
	scheme := "http"
	if query.Get("tls") == "true" {
		scheme = "https"
	}
	address := fmt.Sprintf("%s://%s", scheme, u.Host)

	return NewVaultStore(address, mountPath, dataPath, query.Get("token"), f.log)
}

// pathFromURI extracts a filesystem path from a file-style URI, handling the
// file://./relative form where the dot lands in the host part.
func pathFromURI(u *url.URL) string {
	path := u.Path
	if u.Host != "" {
		path = u.Host + "/" + strings.TrimPrefix(path, "/")
	}
	return path
}
