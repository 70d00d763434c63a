package httpserver

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/merova/confidential-batch-backend/accesscontrol"
	"github.com/merova/confidential-batch-backend/coordinator"
	"github.com/merova/confidential-batch-backend/interfaces"
	"github.com/merova/confidential-batch-backend/ledger"
)

// Header constants used in HTTP requests.
const (
	// AccountHeader carries the caller's account address as a 40-char hex
	// string. Every authorized endpoint resolves the acting identity from
	// this header; signature verification of the identity belongs to the
	// transport layer in front of this service.
	AccountHeader = "X-Ledger-Account"

	// maxBodySize is the maximum allowed request body size (1MB).
	maxBodySize = 1024 * 1024
)

// Handler processes HTTP requests for the batch ledger service.
type Handler struct {
	acl         *accesscontrol.Registry
	ledger      *ledger.Ledger
	coordinator *coordinator.Coordinator
	log         *slog.Logger
}

// NewHandler creates an HTTP request handler over the ledger components.
func NewHandler(acl *accesscontrol.Registry, l *ledger.Ledger, c *coordinator.Coordinator, log *slog.Logger) *Handler {
	return &Handler{
		acl:         acl,
		ledger:      l,
		coordinator: c,
		log:         log,
	}
}

// callerAddress resolves the acting account from the request header.
func callerAddress(r *http.Request) (interfaces.AccountAddress, error) {
	raw := r.Header.Get(AccountHeader)
	if raw == "" {
		return interfaces.AccountAddress{}, fmt.Errorf("missing %s header", AccountHeader)
	}
	return interfaces.NewAccountAddressFromHex(raw)
}

// writeError maps component errors onto HTTP status codes. Authorization
// failures map to 403, lifecycle and integrity failures to 409, cooldown to
// 429, and rejected input to 400.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case interfaces.IsAuthorizationError(err):
		status = http.StatusForbidden
	case interfaces.IsLifecycleError(err):
		status = http.StatusConflict
	case interfaces.IsRateLimitError(err):
		status = http.StatusTooManyRequests
	case interfaces.IsIntegrityError(err):
		status = http.StatusConflict
	case interfaces.IsInputError(err):
		status = http.StatusBadRequest
	}

	if status == http.StatusInternalServerError {
		h.log.Error("Request failed", "err", err)
	}
	http.Error(w, err.Error(), status)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(v)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		http.Error(w, "Failed to read request body", http.StatusBadRequest)
		return false
	}
	if err := json.Unmarshal(body, v); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

type transferOwnershipRequest struct {
	NewOwner string `json:"new_owner"`
}

// HandleTransferOwnership processes owner handover requests.
//
// URL format: POST /api/admin/ownership
func (h *Handler) HandleTransferOwnership(w http.ResponseWriter, r *http.Request) {
	caller, err := callerAddress(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var req transferOwnershipRequest
	if !decodeBody(w, r, &req) {
		return
	}
	newOwner, err := interfaces.NewAccountAddressFromHex(req.NewOwner)
	if err != nil {
		http.Error(w, "Invalid new owner address", http.StatusBadRequest)
		return
	}

	if err := h.acl.TransferOwnership(r.Context(), caller, newOwner); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, map[string]string{"owner": newOwner.String()})
}

// HandleAddProvider grants the provider role to the address in the URL.
//
// URL format: PUT /api/admin/providers/{address}
func (h *Handler) HandleAddProvider(w http.ResponseWriter, r *http.Request) {
	caller, err := callerAddress(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	provider, err := interfaces.NewAccountAddressFromHex(chi.URLParam(r, "address"))
	if err != nil {
		http.Error(w, "Invalid provider address", http.StatusBadRequest)
		return
	}

	if err := h.acl.AddProvider(r.Context(), caller, provider); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, map[string]string{"provider": provider.String()})
}

// HandleRemoveProvider revokes the provider role from the address in the URL.
//
// URL format: DELETE /api/admin/providers/{address}
func (h *Handler) HandleRemoveProvider(w http.ResponseWriter, r *http.Request) {
	caller, err := callerAddress(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	provider, err := interfaces.NewAccountAddressFromHex(chi.URLParam(r, "address"))
	if err != nil {
		http.Error(w, "Invalid provider address", http.StatusBadRequest)
		return
	}

	if err := h.acl.RemoveProvider(r.Context(), caller, provider); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, map[string]string{"removed": provider.String()})
}

type setPausedRequest struct {
	Paused bool `json:"paused"`
}

// HandleSetPaused toggles the system pause flag.
//
// URL format: POST /api/admin/pause
func (h *Handler) HandleSetPaused(w http.ResponseWriter, r *http.Request) {
	caller, err := callerAddress(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var req setPausedRequest
	if !decodeBody(w, r, &req) {
		return
	}

	if err := h.acl.SetPaused(r.Context(), caller, req.Paused); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, map[string]bool{"paused": req.Paused})
}

type setCooldownRequest struct {
	Seconds int64 `json:"seconds"`
}

// HandleSetCooldownWindow updates the rate-limit window.
//
// URL format: POST /api/admin/cooldown
func (h *Handler) HandleSetCooldownWindow(w http.ResponseWriter, r *http.Request) {
	caller, err := callerAddress(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var req setCooldownRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Seconds < 0 {
		http.Error(w, "Cooldown seconds must not be negative", http.StatusBadRequest)
		return
	}

	if err := h.acl.SetCooldownWindow(r.Context(), caller, time.Duration(req.Seconds)*time.Second); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, map[string]int64{"seconds": req.Seconds})
}

// HandleRegisterAsset appends an asset to the ordered registry.
//
// URL format: PUT /api/admin/assets/{asset_id}
func (h *Handler) HandleRegisterAsset(w http.ResponseWriter, r *http.Request) {
	caller, err := callerAddress(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	asset, err := interfaces.NewAssetID(chi.URLParam(r, "asset_id"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.ledger.RegisterAsset(r.Context(), caller, asset); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, map[string]string{"asset": asset.String()})
}

type openBatchResponse struct {
	Batch uint64 `json:"batch"`
}

// HandleOpenBatch opens the next batch.
//
// URL format: POST /api/batches
func (h *Handler) HandleOpenBatch(w http.ResponseWriter, r *http.Request) {
	caller, err := callerAddress(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	id, err := h.ledger.OpenNewBatch(r.Context(), caller)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, openBatchResponse{Batch: uint64(id)})
}

// HandleCloseBatch closes the current batch.
//
// URL format: POST /api/batches/current/close
func (h *Handler) HandleCloseBatch(w http.ResponseWriter, r *http.Request) {
	caller, err := callerAddress(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.ledger.CloseCurrentBatch(r.Context(), caller); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, map[string]string{"status": "closed"})
}

type submitRequest struct {
	AssetID string `json:"asset_id"`
	Kind    string `json:"kind"`
	Handle  string `json:"handle"`
}

// HandleSubmit stores a provider submission into a batch.
//
// URL format: POST /api/batches/{batch_id}/submissions
func (h *Handler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	caller, err := callerAddress(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	batchID, err := parseBatchID(chi.URLParam(r, "batch_id"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var req submitRequest
	if !decodeBody(w, r, &req) {
		return
	}
	asset, err := interfaces.NewAssetID(req.AssetID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	kind, err := interfaces.ParseSubmissionKind(req.Kind)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	handle, err := interfaces.NewCiphertextHandleFromHex(req.Handle)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.ledger.Submit(r.Context(), caller, batchID, asset, kind, handle); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, map[string]string{"status": "stored"})
}

type decryptionResponse struct {
	RequestID string `json:"request_id"`
}

// HandleRequestDecryption issues a decryption request for a closed batch.
//
// URL format: POST /api/batches/{batch_id}/decryption
func (h *Handler) HandleRequestDecryption(w http.ResponseWriter, r *http.Request) {
	caller, err := callerAddress(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	batchID, err := parseBatchID(chi.URLParam(r, "batch_id"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	requestID, err := h.coordinator.RequestDecryption(r.Context(), caller, batchID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, decryptionResponse{RequestID: requestID.String()})
}

type callbackRequest struct {
	RequestID  string   `json:"request_id"`
	Cleartexts []string `json:"cleartexts"`
	Proof      []byte   `json:"proof"`
}

// HandleOracleCallback ingests an oracle response. The endpoint is
// unauthenticated; the replay, state hash and proof checks inside the
// coordinator are the security boundary.
//
// URL format: POST /api/oracle/callback
func (h *Handler) HandleOracleCallback(w http.ResponseWriter, r *http.Request) {
	var req callbackRequest
	if !decodeBody(w, r, &req) {
		return
	}

	requestID, err := interfaces.NewRequestIDFromHex(req.RequestID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	cleartexts := make([]*big.Int, len(req.Cleartexts))
	for i, s := range req.Cleartexts {
		v, ok := new(big.Int).SetString(s, 10)
		if !ok {
			http.Error(w, fmt.Sprintf("Invalid cleartext at position %d", i), http.StatusBadRequest)
			return
		}
		cleartexts[i] = v
	}

	if err := h.coordinator.Callback(r.Context(), requestID, cleartexts, req.Proof); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, map[string]string{"status": "processed"})
}

// StateResponse is the public view of the system.
type StateResponse struct {
	Owner           string   `json:"owner"`
	Providers       []string `json:"providers"`
	Paused          bool     `json:"paused"`
	CooldownSeconds int64    `json:"cooldown_seconds"`
	CurrentBatch    uint64   `json:"current_batch"`
	BatchStatus     string   `json:"batch_status"`
	Assets          []string `json:"assets"`
	PendingRequests []string `json:"pending_requests"`
}

// HandleState reports the public system state.
//
// URL format: GET /api/public/state
func (h *Handler) HandleState(w http.ResponseWriter, r *http.Request) {
	batch, status := h.ledger.CurrentBatch()

	resp := StateResponse{
		Owner:           h.acl.Owner().String(),
		Paused:          h.acl.Paused(),
		CooldownSeconds: int64(h.acl.CooldownWindow() / time.Second),
		CurrentBatch:    uint64(batch),
		BatchStatus:     status.String(),
	}
	for _, p := range h.acl.Providers() {
		resp.Providers = append(resp.Providers, p.String())
	}
	for _, a := range h.ledger.Assets() {
		resp.Assets = append(resp.Assets, a.String())
	}
	for _, id := range h.coordinator.PendingRequests() {
		resp.PendingRequests = append(resp.PendingRequests, id.String())
	}

	writeJSON(w, resp)
}

func parseBatchID(raw string) (interfaces.BatchID, error) {
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid batch id %q", raw)
	}
	return interfaces.BatchID(id), nil
}
