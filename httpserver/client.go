package httpserver

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"time"

	"github.com/merova/confidential-batch-backend/interfaces"
)

// Client is a typed HTTP client for the ledger service. The account set on
// the client is sent as the acting identity on every authorized request.
type Client struct {
	baseURL string
	account interfaces.AccountAddress
	client  *http.Client
}

// NewClient creates a client acting as the given account.
func NewClient(baseURL string, account interfaces.AccountAddress) *Client {
	return &Client{
		baseURL: baseURL,
		account: account,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) do(method, path string, reqBody, respBody interface{}) error {
	var body io.Reader
	if reqBody != nil {
		payload, err := json.Marshal(reqBody)
		if err != nil {
			return err
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequest(method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("could not initialize request: %w", err)
	}
	req.Header.Set(AccountHeader, c.account.String())
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("could not perform request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("could not read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server returned status %d: %s", resp.StatusCode, bytes.TrimSpace(data))
	}

	if respBody != nil {
		if err := json.Unmarshal(data, respBody); err != nil {
			return fmt.Errorf("could not parse response: %w", err)
		}
	}
	return nil
}

// TransferOwnership hands the owner role to newOwner.
func (c *Client) TransferOwnership(newOwner interfaces.AccountAddress) error {
	return c.do(http.MethodPost, "/api/admin/ownership", transferOwnershipRequest{NewOwner: newOwner.String()}, nil)
}

// AddProvider grants the provider role.
func (c *Client) AddProvider(provider interfaces.AccountAddress) error {
	return c.do(http.MethodPut, "/api/admin/providers/"+provider.String(), nil, nil)
}

// RemoveProvider revokes the provider role.
func (c *Client) RemoveProvider(provider interfaces.AccountAddress) error {
	return c.do(http.MethodDelete, "/api/admin/providers/"+provider.String(), nil, nil)
}

// SetPaused toggles the pause flag.
func (c *Client) SetPaused(paused bool) error {
	return c.do(http.MethodPost, "/api/admin/pause", setPausedRequest{Paused: paused}, nil)
}

// SetCooldownWindow updates the rate-limit window.
func (c *Client) SetCooldownWindow(window time.Duration) error {
	return c.do(http.MethodPost, "/api/admin/cooldown", setCooldownRequest{Seconds: int64(window / time.Second)}, nil)
}

// RegisterAsset appends an asset to the ordered registry.
func (c *Client) RegisterAsset(asset interfaces.AssetID) error {
	return c.do(http.MethodPut, "/api/admin/assets/"+asset.String(), nil, nil)
}

// OpenBatch opens the next batch and returns its id.
func (c *Client) OpenBatch() (interfaces.BatchID, error) {
	var resp openBatchResponse
	if err := c.do(http.MethodPost, "/api/batches", nil, &resp); err != nil {
		return 0, err
	}
	return interfaces.BatchID(resp.Batch), nil
}

// CloseBatch closes the current batch.
func (c *Client) CloseBatch() error {
	return c.do(http.MethodPost, "/api/batches/current/close", nil, nil)
}

// Submit stores an encrypted value for (batch, asset, kind).
func (c *Client) Submit(batch interfaces.BatchID, asset interfaces.AssetID, kind interfaces.SubmissionKind, handle interfaces.CiphertextHandle) error {
	path := fmt.Sprintf("/api/batches/%d/submissions", batch)
	return c.do(http.MethodPost, path, submitRequest{
		AssetID: asset.String(),
		Kind:    kind.String(),
		Handle:  handle.String(),
	}, nil)
}

// RequestDecryption issues a decryption request for the batch.
func (c *Client) RequestDecryption(batch interfaces.BatchID) (interfaces.RequestID, error) {
	var resp decryptionResponse
	path := fmt.Sprintf("/api/batches/%d/decryption", batch)
	if err := c.do(http.MethodPost, path, nil, &resp); err != nil {
		return interfaces.RequestID{}, err
	}
	return interfaces.NewRequestIDFromHex(resp.RequestID)
}

// OracleCallback delivers an oracle response to the coordinator.
func (c *Client) OracleCallback(requestID interfaces.RequestID, cleartexts []*big.Int, proof []byte) error {
	req := callbackRequest{RequestID: requestID.String(), Proof: proof}
	for _, v := range cleartexts {
		req.Cleartexts = append(req.Cleartexts, v.String())
	}
	return c.do(http.MethodPost, "/api/oracle/callback", req, nil)
}

// State fetches the public system state.
func (c *Client) State() (*StateResponse, error) {
	var resp StateResponse
	if err := c.do(http.MethodGet, "/api/public/state", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
