package storage

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	shell "github.com/ipfs/go-ipfs-api"

	"github.com/merova/confidential-batch-backend/interfaces"
)

// IPFSArchiver writes finalized result records to IPFS and returns their CID.
type IPFSArchiver struct {
	shell *shell.Shell
	host  string
	port  string
	log   *slog.Logger
}

// NewIPFSArchiver creates an archiver connected to the IPFS API at host:port.
func NewIPFSArchiver(host, port string, log *slog.Logger) *IPFSArchiver {
	return &IPFSArchiver{
		shell: shell.NewShell(fmt.Sprintf("%s:%s", host, port)),
		host:  host,
		port:  port,
		log:   log,
	}
}

// Archive adds the data to IPFS and returns the content identifier.
func (a *IPFSArchiver) Archive(_ context.Context, data []byte) (string, error) {
	start := time.Now()
	if !a.shell.IsUp() {
		return "", fmt.Errorf("%w: IPFS node %s:%s not reachable", interfaces.ErrStoreUnavailable, a.host, a.port)
	}

	cid, err := a.shell.Add(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("failed to add data to IPFS: %w", err)
	}

	a.log.Debug("Archived record to IPFS",
		slog.String("cid", cid),
		slog.Int("size", len(data)),
		slog.Duration("duration", time.Since(start)))
	return cid, nil
}

// Name returns a unique identifier for this archiver.
func (a *IPFSArchiver) Name() string {
	return fmt.Sprintf("ipfs-%s-%s", a.host, a.port)
}

// FileArchiver writes content-addressed records to a local directory. The
// reference is the SHA-256 hash of the data, which is also the file name.
type FileArchiver struct {
	baseDir string
	log     *slog.Logger
}

// NewFileArchiver creates an archiver rooted at baseDir.
func NewFileArchiver(baseDir string, log *slog.Logger) (*FileArchiver, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create archive directory: %w", err)
	}
	return &FileArchiver{baseDir: baseDir, log: log}, nil
}

// Archive writes the data to a file named by its hash and returns the hash.
func (a *FileArchiver) Archive(_ context.Context, data []byte) (string, error) {
	hash := sha256.Sum256(data)
	ref := fmt.Sprintf("%x", hash)

	if err := os.WriteFile(filepath.Join(a.baseDir, ref), data, 0644); err != nil {
		return "", fmt.Errorf("failed to write archive file: %w", err)
	}

	a.log.Debug("Archived record to file",
		slog.String("ref", ref),
		slog.Int("size", len(data)))
	return ref, nil
}

// Name returns a unique identifier for this archiver.
func (a *FileArchiver) Name() string {
	return fmt.Sprintf("file-archive-%s", filepath.Base(a.baseDir))
}
