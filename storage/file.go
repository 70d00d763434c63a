package storage

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"

	"github.com/merova/confidential-batch-backend/interfaces"
)

// FileStore is a record store backed by the local filesystem. Each namespace
// is a subdirectory; each record is a file named after its escaped key.
type FileStore struct {
	baseDir     string
	log         *slog.Logger
	locationURI string
}

// NewFileStore creates a file store rooted at baseDir, creating the namespace
// subdirectories if they do not exist.
func NewFileStore(baseDir string, log *slog.Logger) (*FileStore, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	for _, ns := range []interfaces.Namespace{
		interfaces.NamespaceLedger,
		interfaces.NamespaceSubmissions,
		interfaces.NamespaceContexts,
		interfaces.NamespaceAssets,
		interfaces.NamespaceRoles,
	} {
		if err := os.MkdirAll(filepath.Join(baseDir, ns.String()), 0755); err != nil {
			return nil, fmt.Errorf("failed to create %s directory: %w", ns, err)
		}
	}

	return &FileStore{
		baseDir:     baseDir,
		log:         log,
		locationURI: fmt.Sprintf("file://%s", baseDir),
	}, nil
}

// filePath maps (ns, key) to a path. Keys are URL-escaped because submission
// keys contain slashes.
func (s *FileStore) filePath(ns interfaces.Namespace, key string) string {
	return filepath.Join(s.baseDir, ns.String(), url.PathEscape(key))
}

// Put writes a record file.
func (s *FileStore) Put(_ context.Context, ns interfaces.Namespace, key string, data []byte) error {
	path := s.filePath(ns, key)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write record: %w", err)
	}

	s.log.Debug("Stored record in file",
		slog.String("namespace", ns.String()),
		slog.String("key", key),
		slog.Int("size", len(data)))
	return nil
}

// Get reads a record file. Returns ErrRecordNotFound for absent keys.
func (s *FileStore) Get(_ context.Context, ns interfaces.Namespace, key string) ([]byte, error) {
	data, err := os.ReadFile(s.filePath(ns, key))
	if os.IsNotExist(err) {
		return nil, interfaces.ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read record: %w", err)
	}
	return data, nil
}

// List returns the keys in a namespace directory.
func (s *FileStore) List(_ context.Context, ns interfaces.Namespace) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.baseDir, ns.String()))
	if err != nil {
		return nil, fmt.Errorf("failed to list namespace %s: %w", ns, err)
	}

	keys := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		key, err := url.PathUnescape(e.Name())
		if err != nil {
			return nil, fmt.Errorf("malformed record file name %q: %w", e.Name(), err)
		}
		keys = append(keys, key)
	}
	return keys, nil
}

// Delete removes a record file. Absent keys are not an error.
func (s *FileStore) Delete(_ context.Context, ns interfaces.Namespace, key string) error {
	err := os.Remove(s.filePath(ns, key))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete record: %w", err)
	}
	return nil
}

// Available checks that the base directory still exists.
func (s *FileStore) Available(context.Context) bool {
	_, err := os.Stat(s.baseDir)
	if err != nil {
		s.log.Debug("File store unavailable", "err", err)
		return false
	}
	return true
}

// Name returns a unique identifier for this store.
func (s *FileStore) Name() string {
	return fmt.Sprintf("file-%s", filepath.Base(s.baseDir))
}

// LocationURI returns the URI that identifies this store.
func (s *FileStore) LocationURI() string {
	return s.locationURI
}
