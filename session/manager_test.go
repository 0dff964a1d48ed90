package session

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ruteri/identity-verification-dapp/interfaces"
	"github.com/ruteri/identity-verification-dapp/registry"
	"github.com/ruteri/identity-verification-dapp/wallet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testChainID = uint64(11155111)

var testContract = common.HexToAddress("0xd9145CCE52D386f254917e481eB44e9943F39138")

type testEnv struct {
	backend  *registry.MockBackend
	provider *wallet.StaticProvider
	manager  *Manager
	keys     []*ecdsa.PrivateKey
}

func newTestEnv(t *testing.T, nkeys int) *testEnv {
	t.Helper()

	keys := make([]*ecdsa.PrivateKey, 0, nkeys)
	for i := 0; i < nkeys; i++ {
		key, err := crypto.GenerateKey()
		require.NoError(t, err)
		keys = append(keys, key)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	backend := registry.NewMockBackend(testChainID, testContract)
	provider := wallet.NewStaticProvider(backend, testChainID, keys...)
	manager := NewManager(provider, registry.NewGateway(testContract, logger), Config{
		ConnectTimeout:    time.Second,
		SupportedNetworks: []uint64{1, 5, 11155111, 1337},
	}, logger)
	t.Cleanup(manager.Close)

	return &testEnv{backend: backend, provider: provider, manager: manager, keys: keys}
}

func (e *testEnv) address(i int) common.Address {
	return crypto.PubkeyToAddress(e.keys[i].PublicKey)
}

func TestConnect_Success(t *testing.T) {
	env := newTestEnv(t, 2)

	snap := env.manager.Snapshot()
	assert.Equal(t, interfaces.Disconnected, snap.Session.State)
	assert.False(t, snap.Ready())

	require.NoError(t, env.manager.Connect(context.Background()))

	snap = env.manager.Snapshot()
	assert.Equal(t, interfaces.Connected, snap.Session.State)
	assert.Equal(t, env.address(0), snap.Session.Account, "first account becomes active")
	assert.Equal(t, testChainID, snap.Session.ChainID)
	assert.Equal(t, "Sepolia Testnet", snap.Network.Name)
	assert.True(t, snap.Supported)
	require.NotNil(t, snap.Binding)
	assert.Equal(t, testChainID, snap.Binding.ChainID)
	assert.True(t, snap.Ready())

	opts, err := env.manager.Transactor()
	require.NoError(t, err)
	assert.Equal(t, env.address(0), opts.From)
}

func TestConnect_NoWalletCapability(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	manager := NewManager(nil, registry.NewGateway(testContract, logger), Config{}, logger)

	err := manager.Connect(context.Background())
	assert.ErrorIs(t, err, interfaces.ErrNoWalletCapability)
	assert.False(t, manager.HasProvider())

	snap := manager.Snapshot()
	assert.Equal(t, interfaces.Errored, snap.Session.State)
	assert.Equal(t, interfaces.MsgNoWallet, snap.Session.LastError)
}

func TestConnect_UserRejected(t *testing.T) {
	env := newTestEnv(t, 1)
	env.provider.SetRequestError(errors.New("User denied account authorization"))

	err := env.manager.Connect(context.Background())
	assert.ErrorIs(t, err, interfaces.ErrUserRejected)

	snap := env.manager.Snapshot()
	assert.Equal(t, interfaces.Errored, snap.Session.State)
	assert.Equal(t, interfaces.MsgUserRejected, snap.Session.LastError)
	assert.Nil(t, snap.Binding)

	// Error -> Connecting -> Connected once the user approves
	env.provider.SetRequestError(nil)
	require.NoError(t, env.manager.Connect(context.Background()))
	assert.Equal(t, interfaces.Connected, env.manager.Snapshot().Session.State)
}

func TestConnect_NoAccounts(t *testing.T) {
	env := newTestEnv(t, 0)

	err := env.manager.Connect(context.Background())
	require.Error(t, err)
	assert.Equal(t, interfaces.CategoryNotReady, interfaces.CategoryOf(err))
	assert.Equal(t, interfaces.MsgNoAccounts, err.Error())
	assert.Equal(t, interfaces.Errored, env.manager.Snapshot().Session.State)
}

func TestConnect_Timeout(t *testing.T) {
	env := newTestEnv(t, 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := env.manager.Connect(ctx)
	require.Error(t, err)
	assert.Equal(t, interfaces.Errored, env.manager.Snapshot().Session.State)
}

func TestConnect_ContractUnreachable(t *testing.T) {
	env := newTestEnv(t, 1)
	env.backend.SetDeployed(false)

	err := env.manager.Connect(context.Background())
	assert.ErrorIs(t, err, interfaces.ErrContractUnreachable)

	snap := env.manager.Snapshot()
	assert.Equal(t, interfaces.Connected, snap.Session.State, "wallet is connected even without a contract")
	assert.Nil(t, snap.Binding)
	assert.False(t, snap.Ready())
	assert.Equal(t, interfaces.MsgContractNotFound, snap.Session.LastError)

	_, err = env.manager.Transactor()
	assert.ErrorIs(t, err, interfaces.ErrNotReady)
}

func TestAccountsChanged_EmptyDisconnects(t *testing.T) {
	env := newTestEnv(t, 1)
	require.NoError(t, env.manager.Connect(context.Background()))
	epoch := env.manager.Epoch()

	env.provider.SetAccounts()

	require.Eventually(t, func() bool {
		return env.manager.Snapshot().Session.State == interfaces.Disconnected
	}, time.Second, 10*time.Millisecond)

	snap := env.manager.Snapshot()
	assert.Nil(t, snap.Binding, "binding is cleared")
	assert.False(t, snap.Session.HasAccount())
	assert.Greater(t, snap.Epoch, epoch)
}

func TestAccountsChanged_SwitchesInPlace(t *testing.T) {
	env := newTestEnv(t, 2)
	require.NoError(t, env.manager.Connect(context.Background()))
	before := env.manager.Snapshot()

	env.provider.SetAccounts(env.address(1), env.address(0))

	require.Eventually(t, func() bool {
		return env.manager.Snapshot().Session.Account == env.address(1)
	}, time.Second, 10*time.Millisecond)

	after := env.manager.Snapshot()
	assert.Equal(t, interfaces.Connected, after.Session.State)
	assert.Same(t, before.Binding, after.Binding, "no reconnect on account switch")
	assert.Equal(t, before.Epoch, after.Epoch)
}

func TestChainChanged_Reloads(t *testing.T) {
	env := newTestEnv(t, 1)
	require.NoError(t, env.manager.Connect(context.Background()))
	before := env.manager.Snapshot()

	env.provider.SetChainID(1337)

	require.Eventually(t, func() bool {
		snap := env.manager.Snapshot()
		return snap.Session.ChainID == 1337 && snap.Binding != nil && snap.Session.State == interfaces.Connected
	}, time.Second, 10*time.Millisecond)

	after := env.manager.Snapshot()
	assert.NotSame(t, before.Binding, after.Binding, "binding rebuilt for the new chain")
	assert.Equal(t, uint64(1337), after.Binding.ChainID)
	assert.Greater(t, after.Epoch, before.Epoch)
	assert.Equal(t, "Local Development", after.Network.Name)
}

func TestChainChanged_UnsupportedNetwork(t *testing.T) {
	env := newTestEnv(t, 1)
	require.NoError(t, env.manager.Connect(context.Background()))

	env.provider.SetChainID(42)

	require.Eventually(t, func() bool {
		return env.manager.Snapshot().Session.ChainID == 42 && env.manager.Snapshot().Session.State == interfaces.Connected
	}, time.Second, 10*time.Millisecond)

	snap := env.manager.Snapshot()
	assert.False(t, snap.Supported)
	assert.Equal(t, "Unknown Network (42)", snap.Network.Name)
}

func TestReconnect_DoesNotDuplicateListeners(t *testing.T) {
	env := newTestEnv(t, 1)
	require.NoError(t, env.manager.Connect(context.Background()))
	require.NoError(t, env.manager.Connect(context.Background()))
	require.NoError(t, env.manager.Connect(context.Background()))

	epoch := env.manager.Epoch()
	env.provider.SetChainID(1337)

	require.Eventually(t, func() bool {
		snap := env.manager.Snapshot()
		return snap.Session.ChainID == 1337 && snap.Session.State == interfaces.Connected
	}, time.Second, 10*time.Millisecond)

	// A single listener bumps the epoch exactly once for the chain switch.
	assert.Equal(t, epoch+1, env.manager.Epoch())
}

func TestDisconnect(t *testing.T) {
	env := newTestEnv(t, 1)
	require.NoError(t, env.manager.Connect(context.Background()))

	env.manager.Disconnect()

	snap := env.manager.Snapshot()
	assert.Equal(t, interfaces.Disconnected, snap.Session.State)
	assert.Nil(t, snap.Binding)

	// Events after disconnect are not observed
	epoch := env.manager.Epoch()
	env.provider.SetChainID(1337)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, epoch, env.manager.Epoch())
	assert.Equal(t, interfaces.Disconnected, env.manager.Snapshot().Session.State)
}

// gatedProvider holds RequestAccounts open until released, after the
// wrapped provider has already answered.
type gatedProvider struct {
	*wallet.StaticProvider
	entered chan struct{}
	release chan struct{}
}

func (p *gatedProvider) RequestAccounts(ctx context.Context) ([]common.Address, error) {
	accounts, err := p.StaticProvider.RequestAccounts(ctx)
	if p.entered != nil {
		p.entered <- struct{}{}
		<-p.release
	}
	return accounts, err
}

// gatedBinder holds Bind open until released.
type gatedBinder struct {
	*registry.Gateway
	entered chan struct{}
	release chan struct{}
}

func (b *gatedBinder) Bind(ctx context.Context, backend interfaces.ContractBackend, chainID uint64, account common.Address) (*registry.Binding, error) {
	binding, err := b.Gateway.Bind(ctx, backend, chainID, account)
	b.entered <- struct{}{}
	<-b.release
	return binding, err
}

func TestConnect_SupersededWhileRequestingAccounts(t *testing.T) {
	env := newTestEnv(t, 1)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	provider := &gatedProvider{StaticProvider: env.provider}
	manager := NewManager(provider, registry.NewGateway(testContract, logger), Config{ConnectTimeout: 5 * time.Second}, logger)
	t.Cleanup(manager.Close)

	require.NoError(t, manager.Connect(context.Background()))

	provider.entered = make(chan struct{}, 1)
	provider.release = make(chan struct{})
	done := make(chan error, 1)
	go func() { done <- manager.Connect(context.Background()) }()
	<-provider.entered

	// The wallet drops every account while the reconnect is pending.
	env.provider.SetAccounts()
	require.Eventually(t, func() bool {
		return manager.Snapshot().Session.State == interfaces.Disconnected
	}, time.Second, 10*time.Millisecond)

	close(provider.release)
	assert.Equal(t, ErrSuperseded, <-done)

	snap := manager.Snapshot()
	assert.Equal(t, interfaces.Disconnected, snap.Session.State)
	assert.Nil(t, snap.Binding)
	assert.False(t, snap.Session.HasAccount())
}

func TestConnect_SupersededWhileBinding(t *testing.T) {
	env := newTestEnv(t, 1)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	binder := &gatedBinder{
		Gateway: registry.NewGateway(testContract, logger),
		entered: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	manager := NewManager(env.provider, binder, Config{ConnectTimeout: 5 * time.Second}, logger)
	t.Cleanup(manager.Close)

	done := make(chan error, 1)
	go func() { done <- manager.Connect(context.Background()) }()
	<-binder.entered

	manager.Disconnect()
	close(binder.release)

	assert.Equal(t, ErrSuperseded, <-done)
	snap := manager.Snapshot()
	assert.Equal(t, interfaces.Disconnected, snap.Session.State)
	assert.Nil(t, snap.Binding, "stale binding is discarded")
}

func TestConnect_SupersededWhileBindingFails(t *testing.T) {
	env := newTestEnv(t, 1)
	env.backend.SetDeployed(false)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	binder := &gatedBinder{
		Gateway: registry.NewGateway(testContract, logger),
		entered: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	manager := NewManager(env.provider, binder, Config{ConnectTimeout: 5 * time.Second}, logger)
	t.Cleanup(manager.Close)

	done := make(chan error, 1)
	go func() { done <- manager.Connect(context.Background()) }()
	<-binder.entered

	manager.Disconnect()
	close(binder.release)

	assert.Equal(t, ErrSuperseded, <-done)
	snap := manager.Snapshot()
	assert.Equal(t, interfaces.Disconnected, snap.Session.State)
	assert.Empty(t, snap.Session.LastError, "stale probe failure is not reported")
}
