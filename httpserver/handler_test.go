package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/merova/confidential-batch-backend/accesscontrol"
	"github.com/merova/confidential-batch-backend/cooldown"
	"github.com/merova/confidential-batch-backend/coordinator"
	"github.com/merova/confidential-batch-backend/interfaces"
	"github.com/merova/confidential-batch-backend/ledger"
	"github.com/merova/confidential-batch-backend/oracle"
	"github.com/merova/confidential-batch-backend/storage"
)

var (
	owner, _    = interfaces.NewAccountAddressFromHex("1111111111111111111111111111111111111111")
	provider, _ = interfaces.NewAccountAddressFromHex("2222222222222222222222222222222222222222")
	stranger, _ = interfaces.NewAccountAddressFromHex("3333333333333333333333333333333333333333")
)

type testServer struct {
	srv    *httptest.Server
	oracle *oracle.SimpleOracle
}

func newTestServer(t *testing.T) *testServer {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := context.Background()

	store := storage.NewMemoryStore()
	acl, err := accesscontrol.NewRegistry(owner, 0, store, nil, log)
	require.NoError(t, err)
	guard := cooldown.NewGuard(acl.CooldownWindow)

	secret := make([]byte, 32)
	copy(secret, []byte("handler-test-secret-handler-test"))
	simpleOracle, err := oracle.NewSimpleOracle(secret)
	require.NoError(t, err)

	l, err := ledger.NewLedger(acl, guard, simpleOracle, store, nil, log)
	require.NoError(t, err)
	coord, err := coordinator.NewCoordinator(acl, guard, l, simpleOracle, owner, store, nil, nil, log)
	require.NoError(t, err)
	require.NoError(t, acl.AddProvider(ctx, owner, provider))

	handler := NewHandler(acl, l, coord, log)
	server, err := New(&HTTPServerConfig{
		ListenAddr:               "127.0.0.1:0",
		Log:                      log,
		DrainDuration:            time.Second,
		GracefulShutdownDuration: time.Second,
		ReadTimeout:              time.Second,
		WriteTimeout:             time.Second,
	}, handler)
	require.NoError(t, err)

	ts := httptest.NewServer(server.getRouter())
	t.Cleanup(ts.Close)
	return &testServer{srv: ts, oracle: simpleOracle}
}

func (ts *testServer) request(t *testing.T, method, path string, account interfaces.AccountAddress, body interface{}) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequest(method, ts.srv.URL+path, reader)
	require.NoError(t, err)
	if !account.IsZero() {
		req.Header.Set(AccountHeader, account.String())
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func (ts *testServer) client(account interfaces.AccountAddress) *Client {
	return NewClient(ts.srv.URL, account)
}

func TestHealthEndpoints(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.request(t, http.MethodGet, "/livez", interfaces.AccountAddress{}, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = ts.request(t, http.MethodGet, "/readyz", interfaces.AccountAddress{}, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
}

func TestMissingAccountHeader(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.request(t, http.MethodPost, "/api/batches", interfaces.AccountAddress{}, nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStatusMapping(t *testing.T) {
	ts := newTestServer(t)

	// Authorization failure maps to 403.
	resp := ts.request(t, http.MethodPost, "/api/batches", stranger, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp.Body.Close()

	// Lifecycle failure maps to 409.
	resp = ts.request(t, http.MethodPost, "/api/batches/current/close", owner, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp.Body.Close()

	// Rejected input maps to 400.
	require.NoError(t, ts.client(owner).RegisterAsset("BTC"))
	_, err := ts.client(owner).OpenBatch()
	require.NoError(t, err)
	resp = ts.request(t, http.MethodPost, "/api/batches/1/submissions", provider, submitRequest{
		AssetID: "BTC",
		Kind:    "amount",
		Handle:  interfaces.CiphertextHandle{}.String(),
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestAdminEndpoints(t *testing.T) {
	ts := newTestServer(t)
	client := ts.client(owner)

	require.NoError(t, client.AddProvider(stranger))
	require.NoError(t, client.RemoveProvider(stranger))
	require.NoError(t, client.SetCooldownWindow(30*time.Second))
	require.NoError(t, client.SetPaused(true))
	require.NoError(t, client.SetPaused(false))
	require.NoError(t, client.RegisterAsset("BTC"))

	state, err := client.State()
	require.NoError(t, err)
	assert.Equal(t, owner.String(), state.Owner)
	assert.False(t, state.Paused)
	assert.Equal(t, int64(30), state.CooldownSeconds)
	assert.Equal(t, []string{"BTC"}, state.Assets)
	assert.Equal(t, []string{provider.String()}, state.Providers)

	// Non-owner admin calls are rejected.
	err = ts.client(provider).RegisterAsset("ETH")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
}

func TestSubmissionFlow(t *testing.T) {
	ts := newTestServer(t)
	ownerClient := ts.client(owner)
	providerClient := ts.client(provider)

	require.NoError(t, ownerClient.RegisterAsset("BTC"))
	batch, err := ownerClient.OpenBatch()
	require.NoError(t, err)

	handle := ts.oracle.Encrypt(big.NewInt(500))
	require.NoError(t, providerClient.Submit(batch, "BTC", interfaces.KindAmount, handle))

	// Submitting to a non-current batch conflicts.
	err = providerClient.Submit(batch+1, "BTC", interfaces.KindAmount, handle)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "409")

	state, err := ownerClient.State()
	require.NoError(t, err)
	assert.Equal(t, uint64(batch), state.CurrentBatch)
	assert.Equal(t, "open", state.BatchStatus)
}

func TestDecryptionFlowOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	ownerClient := ts.client(owner)
	providerClient := ts.client(provider)

	require.NoError(t, ownerClient.RegisterAsset("XAU"))
	require.NoError(t, ownerClient.RegisterAsset("YEN"))
	batch, err := ownerClient.OpenBatch()
	require.NoError(t, err)

	require.NoError(t, providerClient.Submit(batch, "XAU", interfaces.KindAmount, ts.oracle.Encrypt(big.NewInt(100))))
	require.NoError(t, providerClient.Submit(batch, "YEN", interfaces.KindAmount, ts.oracle.Encrypt(big.NewInt(50))))
	require.NoError(t, providerClient.Submit(batch, "YEN", interfaces.KindHedge, ts.oracle.Encrypt(big.NewInt(20))))

	// Decryption requires a closed batch.
	_, err = ownerClient.RequestDecryption(batch)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "409")

	require.NoError(t, ownerClient.CloseBatch())
	requestID, err := ownerClient.RequestDecryption(batch)
	require.NoError(t, err)

	state, err := ownerClient.State()
	require.NoError(t, err)
	assert.Equal(t, []string{requestID.String()}, state.PendingRequests)

	cleartexts, err := ts.oracle.Cleartexts(requestID)
	require.NoError(t, err)
	proof := ts.oracle.Prove(requestID, cleartexts)
	require.NoError(t, ownerClient.OracleCallback(requestID, cleartexts, proof))

	// Replays conflict.
	err = ownerClient.OracleCallback(requestID, cleartexts, proof)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "409")

	state, err = ownerClient.State()
	require.NoError(t, err)
	assert.Empty(t, state.PendingRequests)
}

func TestOracleCallbackRejectsMalformedBody(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Post(ts.srv.URL+"/api/oracle/callback", "application/json", bytes.NewReader([]byte("{not json")))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	payload, _ := json.Marshal(callbackRequest{RequestID: "zz", Cleartexts: nil})
	resp, err = http.Post(ts.srv.URL+"/api/oracle/callback", "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestMalformedBatchIDIsRejected(t *testing.T) {
	ts := newTestServer(t)

	// Trailing garbage must not parse as a batch id.
	resp := ts.request(t, http.MethodPost, "/api/batches/12abc/decryption", owner, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	resp = ts.request(t, http.MethodPost, "/api/batches/12abc/submissions", provider, submitRequest{
		AssetID: "BTC",
		Kind:    "amount",
		Handle:  interfaces.CiphertextHandle{}.String(),
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestDecryptionForUnknownBatch(t *testing.T) {
	ts := newTestServer(t)
	ownerClient := ts.client(owner)

	require.NoError(t, ownerClient.RegisterAsset("BTC"))
	batch, err := ownerClient.OpenBatch()
	require.NoError(t, err)
	require.NoError(t, ownerClient.CloseBatch())

	_, err = ownerClient.RequestDecryption(batch + 5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), fmt.Sprintf("%d", http.StatusConflict))
}
