package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ruteri/identity-verification-dapp/interfaces"
	"github.com/ruteri/identity-verification-dapp/orchestrator"
	"github.com/ruteri/identity-verification-dapp/registry"
	"github.com/ruteri/identity-verification-dapp/session"
	"github.com/ruteri/identity-verification-dapp/wallet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testChainID = uint64(11155111)
	testHash    = "QmYwAPJzv5CZsnA625s3Xf2nemtYgPpHdWEz79ojWnPbdG"
)

var testContract = common.HexToAddress("0xd9145CCE52D386f254917e481eB44e9943F39138")

type testServer struct {
	router   http.Handler
	backend  *registry.MockBackend
	provider *wallet.StaticProvider
	account  common.Address
}

func newTestServer(t *testing.T, withWallet bool) *testServer {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	backend := registry.NewMockBackend(testChainID, testContract)
	provider := wallet.NewStaticProvider(backend, testChainID, key)
	gateway := registry.NewGateway(testContract, logger)

	var wp interfaces.WalletProvider
	if withWallet {
		wp = provider
	}
	manager := session.NewManager(wp, gateway, session.Config{
		ConnectTimeout:    time.Second,
		SupportedNetworks: []uint64{1, 5, 11155111, 1337},
	}, logger)

	cfg := orchestrator.DefaultConfig()
	cfg.RefetchDelay = -1
	orch := orchestrator.New(manager, gateway, cfg, logger)

	handler := NewHandler(manager, orch, "https://ipfs.io/ipfs/", logger)
	srv := New(&HTTPServerConfig{ListenAddr: "127.0.0.1:0", Log: logger}, handler)
	t.Cleanup(handler.Close)

	return &testServer{
		router:   srv.getRouter(),
		backend:  backend,
		provider: provider,
		account:  crypto.PubkeyToAddress(key.PublicKey),
	}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader = http.NoBody
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader).WithContext(context.Background())
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(w.Body).Decode(&v))
	return v
}

func TestHealthEndpoints(t *testing.T) {
	s := newTestServer(t, true)

	w := s.do(t, http.MethodGet, "/livez", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"alive"}`, w.Body.String())

	w = s.do(t, http.MethodGet, "/readyz", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodGet, "/drain", nil)
	assert.JSONEq(t, `{"status":"draining"}`, w.Body.String())
	w = s.do(t, http.MethodGet, "/drain", nil)
	assert.JSONEq(t, `{"status":"already draining"}`, w.Body.String())

	w = s.do(t, http.MethodGet, "/readyz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = s.do(t, http.MethodGet, "/undrain", nil)
	assert.JSONEq(t, `{"status":"ready"}`, w.Body.String())
	w = s.do(t, http.MethodGet, "/readyz", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestConnectRegisterFetch(t *testing.T) {
	s := newTestServer(t, true)

	w := s.do(t, http.MethodGet, "/api/session", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "disconnected", decode[sessionResponse](t, w).State)

	// Registration needs a session
	w = s.do(t, http.MethodPost, "/api/identity", registerRequest{Name: "Alice", ContentHash: testHash})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, interfaces.CategoryNotReady, decode[errorResponse](t, w).Category)

	w = s.do(t, http.MethodPost, "/api/wallet/connect", nil)
	require.Equal(t, http.StatusOK, w.Code)
	sess := decode[sessionResponse](t, w)
	assert.Equal(t, "connected", sess.State)
	assert.Equal(t, s.account.Hex(), sess.Account)
	assert.Equal(t, "Sepolia Testnet", sess.Network.Name)
	assert.True(t, sess.Supported)
	assert.Equal(t, testContract.Hex(), sess.Contract)

	w = s.do(t, http.MethodGet, "/api/identity", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, decode[identityResponse](t, w).Found)

	w = s.do(t, http.MethodPost, "/api/identity", registerRequest{Name: "Alice Smith", ContentHash: testHash})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	res := decode[orchestrator.RegistrationResult](t, w)
	assert.NotEqual(t, common.Hash{}, res.TxHash)
	assert.Contains(t, res.ExplorerURL, "https://sepolia.etherscan.io/tx/")

	w = s.do(t, http.MethodGet, "/api/identity", nil)
	require.Equal(t, http.StatusOK, w.Code)
	ident := decode[identityResponse](t, w)
	require.True(t, ident.Found)
	assert.Equal(t, "Alice Smith", ident.Record.Name)
	assert.Equal(t, "https://ipfs.io/ipfs/"+testHash, ident.GatewayURL)

	// Second registration reverts on chain
	w = s.do(t, http.MethodPost, "/api/identity", registerRequest{Name: "Alice", ContentHash: testHash})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, interfaces.CategoryReverted, decode[errorResponse](t, w).Category)

	require.Eventually(t, func() bool {
		w := s.do(t, http.MethodGet, "/api/notifications", nil)
		return len(decode[[]orchestrator.Notification](t, w)) >= 3
	}, time.Second, 10*time.Millisecond)

	w = s.do(t, http.MethodPost, "/api/wallet/disconnect", nil)
	require.Equal(t, http.StatusOK, w.Code)
	sess = decode[sessionResponse](t, w)
	assert.Equal(t, "disconnected", sess.State)
	assert.Empty(t, sess.Account)
}

func TestRegisterValidation(t *testing.T) {
	s := newTestServer(t, true)
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/api/wallet/connect", nil).Code)

	w := s.do(t, http.MethodPost, "/api/identity", registerRequest{Name: "A", ContentHash: "not-a-hash"})
	require.Equal(t, http.StatusBadRequest, w.Code)
	resp := decode[errorResponse](t, w)
	assert.Equal(t, interfaces.CategoryValidation, resp.Category)
	assert.Contains(t, resp.FieldErrors, interfaces.FieldName)
	assert.Contains(t, resp.FieldErrors, interfaces.FieldContentHash)
	assert.Empty(t, s.backend.SentTransactions())

	req := httptest.NewRequest(http.MethodPost, "/api/identity", bytes.NewBufferString("{"))
	w = httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestConnectWithoutWallet(t *testing.T) {
	s := newTestServer(t, false)

	w := s.do(t, http.MethodPost, "/api/wallet/connect", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	resp := decode[errorResponse](t, w)
	assert.Equal(t, interfaces.CategoryNoWalletCapability, resp.Category)
	assert.Equal(t, interfaces.MsgNoWallet, resp.Message)
}

func TestConnectContractUnreachable(t *testing.T) {
	s := newTestServer(t, true)
	s.backend.SetDeployed(false)

	w := s.do(t, http.MethodPost, "/api/wallet/connect", nil)
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, interfaces.CategoryContractUnreachable, decode[errorResponse](t, w).Category)

	w = s.do(t, http.MethodGet, "/api/session", nil)
	sess := decode[sessionResponse](t, w)
	assert.Equal(t, "connected", sess.State)
	assert.Empty(t, sess.Contract)
}

func TestNetworkEndpoint(t *testing.T) {
	s := newTestServer(t, true)

	w := s.do(t, http.MethodGet, "/api/network/1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Ethereum Mainnet")

	w = s.do(t, http.MethodGet, "/api/network/42", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Unknown Network (42)")

	w = s.do(t, http.MethodGet, "/api/network/abc", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusForbidden, StatusFor(interfaces.CategoryUserRejected))
	assert.Equal(t, http.StatusPaymentRequired, StatusFor(interfaces.CategoryInsufficientFunds))
	assert.Equal(t, http.StatusBadGateway, StatusFor(interfaces.CategoryNetworkError))
	assert.Equal(t, http.StatusInternalServerError, StatusFor(interfaces.CategoryUnknown))
}
