package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	_ "github.com/mattn/go-sqlite3"

	"github.com/merova/confidential-batch-backend/interfaces"
)

// SQLiteStore is a record store backed by a single-file SQLite database.
// All namespaces share one table keyed by (namespace, key).
type SQLiteStore struct {
	db          *sql.DB
	log         *slog.Logger
	locationURI string
}

// NewSQLiteStore opens (and if necessary initializes) the database at path.
func NewSQLiteStore(path string, log *slog.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	const schema = `
		CREATE TABLE IF NOT EXISTS records (
			namespace TEXT NOT NULL,
			key       TEXT NOT NULL,
			data      BLOB NOT NULL,
			PRIMARY KEY (namespace, key)
		)`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteStore{
		db:          db,
		log:         log,
		locationURI: fmt.Sprintf("sqlite://%s", path),
	}, nil
}

// Put upserts a record.
func (s *SQLiteStore) Put(ctx context.Context, ns interfaces.Namespace, key string, data []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO records (namespace, key, data) VALUES (?, ?, ?)
		 ON CONFLICT (namespace, key) DO UPDATE SET data = excluded.data`,
		ns.String(), key, data)
	if err != nil {
		return fmt.Errorf("failed to store record: %w", err)
	}

	s.log.Debug("Stored record in sqlite",
		slog.String("namespace", ns.String()),
		slog.String("key", key),
		slog.Int("size", len(data)))
	return nil
}

// Get retrieves a record. Returns ErrRecordNotFound for absent keys.
func (s *SQLiteStore) Get(ctx context.Context, ns interfaces.Namespace, key string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM records WHERE namespace = ? AND key = ?`,
		ns.String(), key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, interfaces.ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read record: %w", err)
	}
	return data, nil
}

// List returns the keys in a namespace in sorted order.
func (s *SQLiteStore) List(ctx context.Context, ns interfaces.Namespace) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key FROM records WHERE namespace = ? ORDER BY key`, ns.String())
	if err != nil {
		return nil, fmt.Errorf("failed to list namespace %s: %w", ns, err)
	}
	defer rows.Close()

	keys := make([]string, 0)
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// Delete removes a record. Absent keys are not an error.
func (s *SQLiteStore) Delete(ctx context.Context, ns interfaces.Namespace, key string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM records WHERE namespace = ? AND key = ?`, ns.String(), key)
	if err != nil {
		return fmt.Errorf("failed to delete record: %w", err)
	}
	return nil
}

// Available pings the database.
func (s *SQLiteStore) Available(ctx context.Context) bool {
	if err := s.db.PingContext(ctx); err != nil {
		s.log.Debug("SQLite store unavailable", "err", err)
		return false
	}
	return true
}

// Name returns a unique identifier for this store.
func (s *SQLiteStore) Name() string { return "sqlite" }

// LocationURI returns the URI that identifies this store.
func (s *SQLiteStore) LocationURI() string { return s.locationURI }

// Close closes the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
