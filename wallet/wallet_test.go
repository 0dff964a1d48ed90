package wallet

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"

	"github.com/ruteri/identity-verification-dapp/interfaces"
	"github.com/ruteri/identity-verification-dapp/registry"
)

const testChainID = uint64(1337)

var testContract = common.HexToAddress("0xd9145CCE52D386f254917e481eB44e9943F39138")

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// switchableBackend reports a chain id that tests can change
type switchableBackend struct {
	*registry.MockBackend
	chainID atomic.Uint64
}

func (b *switchableBackend) ChainID(ctx context.Context) (*big.Int, error) {
	return new(big.Int).SetUint64(b.chainID.Load()), nil
}

func TestStaticProvider(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	addr := crypto.PubkeyToAddress(key.PublicKey)

	backend := registry.NewMockBackend(testChainID, testContract)
	p := NewStaticProvider(backend, testChainID, key)
	ctx := context.Background()

	accounts, err := p.RequestAccounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, []common.Address{addr}, accounts)

	chainID, err := p.ChainID(ctx)
	require.NoError(t, err)
	assert.Equal(t, testChainID, chainID)
	assert.Same(t, backend, p.Backend())

	opts, err := p.Transactor(addr, testChainID)
	require.NoError(t, err)
	assert.Equal(t, addr, opts.From)

	_, err = p.Transactor(common.HexToAddress("0x42"), testChainID)
	assert.ErrorIs(t, err, ErrUnknownAccount)

	rejected := errors.New("User rejected the request.")
	p.SetRequestError(rejected)
	_, err = p.RequestAccounts(ctx)
	assert.ErrorIs(t, err, rejected)
	p.SetRequestError(nil)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = p.RequestAccounts(cancelled)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStaticProvider_Events(t *testing.T) {
	p := NewStaticProvider(nil, testChainID)

	accCh := make(chan []common.Address, 1)
	chainCh := make(chan uint64, 1)
	accSub := p.SubscribeAccountsChanged(accCh)
	defer accSub.Unsubscribe()
	chainSub := p.SubscribeChainChanged(chainCh)
	defer chainSub.Unsubscribe()

	other := common.HexToAddress("0x42")
	p.SetAccounts(other)
	assert.Equal(t, []common.Address{other}, <-accCh)

	p.SetChainID(1)
	assert.Equal(t, uint64(1), <-chainCh)

	chainID, err := p.ChainID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), chainID)
}

func newKeystoreProvider(t *testing.T, passphrase string) (*KeystoreProvider, *switchableBackend) {
	t.Helper()
	backend := &switchableBackend{MockBackend: registry.NewMockBackend(testChainID, testContract)}
	backend.chainID.Store(testChainID)

	p := NewKeystoreProviderWithKDF(t.TempDir(), passphrase, keystore.LightScryptN, keystore.LightScryptP, backend, testLogger())
	return p, backend
}

func TestKeystoreProvider_Accounts(t *testing.T) {
	p, _ := newKeystoreProvider(t, "secret")
	acc, err := p.KeyStore().NewAccount("secret")
	require.NoError(t, err)

	accounts, err := p.RequestAccounts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []common.Address{acc.Address}, accounts)

	opts, err := p.Transactor(acc.Address, testChainID)
	require.NoError(t, err)
	assert.Equal(t, acc.Address, opts.From)

	_, err = p.Transactor(common.HexToAddress("0x42"), testChainID)
	assert.ErrorIs(t, err, ErrUnknownAccount)

	chainID, err := p.ChainID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, testChainID, chainID)
}

func TestKeystoreProvider_WrongPassphraseIsRejection(t *testing.T) {
	p, _ := newKeystoreProvider(t, "wrong")
	_, err := p.KeyStore().NewAccount("secret")
	require.NoError(t, err)

	_, err = p.RequestAccounts(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, interfaces.ErrUserRejected)
	assert.ErrorIs(t, err, keystore.ErrDecrypt)
}

func TestKeystoreProvider_Events(t *testing.T) {
	p, backend := newKeystoreProvider(t, "secret")
	p.SetPollInterval(10 * time.Millisecond)
	require.NoError(t, p.Start(context.Background()))
	defer p.Close()

	accCh := make(chan []common.Address, 4)
	chainCh := make(chan uint64, 4)
	accSub := p.SubscribeAccountsChanged(accCh)
	defer accSub.Unsubscribe()
	chainSub := p.SubscribeChainChanged(chainCh)
	defer chainSub.Unsubscribe()

	acc, err := p.KeyStore().NewAccount("secret")
	require.NoError(t, err)

	select {
	case accounts := <-accCh:
		assert.Contains(t, accounts, acc.Address)
	case <-time.After(5 * time.Second):
		t.Fatal("no account event")
	}

	backend.chainID.Store(11155111)
	select {
	case chainID := <-chainCh:
		assert.Equal(t, uint64(11155111), chainID)
	case <-time.After(5 * time.Second):
		t.Fatal("no chain event")
	}

	// Start is idempotent, Close can be repeated
	require.NoError(t, p.Start(context.Background()))
	p.Close()
	p.Close()
}
