package storage

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/vault/api"

	"github.com/merova/confidential-batch-backend/interfaces"
)

// VaultStore is a record store backed by HashiCorp Vault's KV v2 engine.
// Appropriate when ledger state must live alongside other operational secrets
// under Vault's access policies and audit log.
type VaultStore struct {
	client      *api.Client
	mountPath   string
	dataPath    string
	log         *slog.Logger
	locationURI string
}

// NewVaultStore creates a Vault-backed record store. The token may be empty
// when the environment provides one (VAULT_TOKEN).
func NewVaultStore(address, mountPath, dataPath, token string, log *slog.Logger) (*VaultStore, error) {
	config := api.DefaultConfig()
	config.Address = address

	client, err := api.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}
	if token != "" {
		client.SetToken(token)
	}

	mountPath = strings.TrimSuffix(mountPath, "/")
	dataPath = strings.Trim(dataPath, "/")

	return &VaultStore{
		client:      client,
		mountPath:   mountPath,
		dataPath:    dataPath,
		log:         log,
		locationURI: fmt.Sprintf("vault://%s/%s/%s", address, mountPath, dataPath),
	}, nil
}

// secretPath builds a KV v2 path. op is "data", "metadata" or "delete".
func (s *VaultStore) secretPath(op string, ns interfaces.Namespace, key string) string {
	if key == "" {
		return fmt.Sprintf("%s/%s/%s/%s", s.mountPath, op, s.dataPath, ns)
	}
	return fmt.Sprintf("%s/%s/%s/%s/%s", s.mountPath, op, s.dataPath, ns, url.PathEscape(key))
}

// Put writes a record as a KV v2 secret.
func (s *VaultStore) Put(ctx context.Context, ns interfaces.Namespace, key string, data []byte) error {
	start := time.Now()
	payload := map[string]interface{}{
		"data": map[string]interface{}{
			"content": string(data),
		},
	}

	_, err := s.client.Logical().WriteWithContext(ctx, s.secretPath("data", ns, key), payload)
	if err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrStoreUnavailable, err)
	}

	s.log.Debug("Stored record in Vault",
		slog.String("namespace", ns.String()),
		slog.String("key", key),
		slog.Duration("duration", time.Since(start)))
	return nil
}

// Get reads a record from a KV v2 secret. Returns ErrRecordNotFound for
// absent keys.
func (s *VaultStore) Get(ctx context.Context, ns interfaces.Namespace, key string) ([]byte, error) {
	secret, err := s.client.Logical().ReadWithContext(ctx, s.secretPath("data", ns, key))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrStoreUnavailable, err)
	}
	if secret == nil || secret.Data == nil {
		return nil, interfaces.ErrRecordNotFound
	}

	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("invalid data format in Vault response")
	}
	content, ok := data["content"].(string)
	if !ok {
		return nil, fmt.Errorf("content key not found in Vault data")
	}
	return []byte(content), nil
}

// List enumerates the keys in a namespace via the metadata path.
func (s *VaultStore) List(ctx context.Context, ns interfaces.Namespace) ([]string, error) {
	secret, err := s.client.Logical().ListWithContext(ctx, s.secretPath("metadata", ns, ""))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrStoreUnavailable, err)
	}
	if secret == nil || secret.Data == nil {
		return []string{}, nil
	}

	raw, ok := secret.Data["keys"].([]interface{})
	if !ok {
		return []string{}, nil
	}
	keys := make([]string, 0, len(raw))
	for _, r := range raw {
		name, ok := r.(string)
		if !ok {
			continue
		}
		key, err := url.PathUnescape(name)
		if err != nil {
			continue
		}
		keys = append(keys, key)
	}
	return keys, nil
}

// Delete removes a record's metadata and all versions.
func (s *VaultStore) Delete(ctx context.Context, ns interfaces.Namespace, key string) error {
	_, err := s.client.Logical().DeleteWithContext(ctx, s.secretPath("metadata", ns, key))
	if err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrStoreUnavailable, err)
	}
	return nil
}

// Available checks if Vault is initialized and unsealed.
func (s *VaultStore) Available(ctx context.Context) bool {
	healthCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	health, err := s.client.Sys().HealthWithContext(healthCtx)
	if err != nil {
		s.log.Debug("Vault health check failed", "err", err)
		return false
	}
	if !health.Initialized || health.Sealed {
		s.log.Debug("Vault is not available",
			slog.Bool("initialized", health.Initialized),
			slog.Bool("sealed", health.Sealed))
		return false
	}
	return true
}

// Name returns a unique identifier for this store.
func (s *VaultStore) Name() string {
	return fmt.Sprintf("vault-%s-%s", s.mountPath, s.dataPath)
}

// LocationURI returns the URI that identifies this store.
func (s *VaultStore) LocationURI() string {
	return s.locationURI
}
