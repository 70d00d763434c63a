package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"time"

	"github.com/merova/confidential-batch-backend/interfaces"
)

// RemoteOracle is a ciphertext capability backed by an HTTP oracle service.
// Decryption requests are posted to the service; the service later pushes its
// response to the coordinator's callback endpoint.
type RemoteOracle struct {
	baseURL string
	client  *http.Client
}

// NewRemoteOracle creates a client for the oracle service at baseURL.
func NewRemoteOracle(baseURL string) *RemoteOracle {
	return &RemoteOracle{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

type handleStatusResponse struct {
	Initialized bool `json:"initialized"`
}

type decryptRequestBody struct {
	Handles []string `json:"handles"`
}

type decryptRequestResponse struct {
	RequestID string `json:"request_id"`
}

type verifyProofBody struct {
	RequestID  string   `json:"request_id"`
	Cleartexts []string `json:"cleartexts"`
	Proof      []byte   `json:"proof"`
}

type verifyProofResponse struct {
	Valid bool `json:"valid"`
}

// IsInitialized queries the service for the handle's status. Network errors
// report the handle uninitialized; the caller rejects the submission and the
// provider retries.
func (o *RemoteOracle) IsInitialized(handle interfaces.CiphertextHandle) bool {
	if handle.IsZero() {
		return false
	}

	resp, err := o.client.Get(fmt.Sprintf("%s/api/handles/%s", o.baseURL, handle.String()))
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return false
	}
	var status handleStatusResponse
	if err := json.Unmarshal(body, &status); err != nil {
		return false
	}
	return status.Initialized
}

// CanonicalBytes returns the handle's raw bytes. The zero handle
// canonicalizes to 32 zero bytes.
func (o *RemoteOracle) CanonicalBytes(handle interfaces.CiphertextHandle) ([]byte, error) {
	return handle.Bytes(), nil
}

// RequestDecryption posts the ordered handle list to the oracle service and
// returns the service-assigned request id.
func (o *RemoteOracle) RequestDecryption(ctx context.Context, handles []interfaces.CiphertextHandle) (interfaces.RequestID, error) {
	reqBody := decryptRequestBody{Handles: make([]string, len(handles))}
	for i, h := range handles {
		reqBody.Handles[i] = h.String()
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return interfaces.RequestID{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf("%s/api/decrypt", o.baseURL), bytes.NewReader(payload))
	if err != nil {
		return interfaces.RequestID{}, fmt.Errorf("could not initialize request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return interfaces.RequestID{}, fmt.Errorf("could not request decryption: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return interfaces.RequestID{}, fmt.Errorf("could not read decryption response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return interfaces.RequestID{}, fmt.Errorf("oracle returned status %d: %s", resp.StatusCode, string(body))
	}

	var parsed decryptRequestResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return interfaces.RequestID{}, fmt.Errorf("could not parse decryption response: %w", err)
	}
	return interfaces.NewRequestIDFromHex(parsed.RequestID)
}

// VerifyProof asks the oracle service to check the proof over the cleartexts
// bound to requestID.
func (o *RemoteOracle) VerifyProof(requestID interfaces.RequestID, cleartexts []*big.Int, proof []byte) (bool, error) {
	reqBody := verifyProofBody{RequestID: requestID.String(), Proof: proof}
	for _, v := range cleartexts {
		reqBody.Cleartexts = append(reqBody.Cleartexts, v.String())
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return false, err
	}

	resp, err := o.client.Post(fmt.Sprintf("%s/api/verify", o.baseURL), "application/json", bytes.NewReader(payload))
	if err != nil {
		return false, fmt.Errorf("could not verify proof: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return false, fmt.Errorf("could not read verification response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("oracle returned status %d: %s", resp.StatusCode, string(body))
	}

	var parsed verifyProofResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return false, fmt.Errorf("could not parse verification response: %w", err)
	}
	return parsed.Valid, nil
}
