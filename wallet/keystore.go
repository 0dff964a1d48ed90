package wallet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/event"

	"github.com/ruteri/identity-verification-dapp/interfaces"
)

// DefaultChainPollInterval is how often the RPC chain id is re-read to
// detect network switches.
const DefaultChainPollInterval = 5 * time.Second

// ChainBackend is an RPC connection that can also report its chain id.
// *ethclient.Client satisfies it.
type ChainBackend interface {
	interfaces.ContractBackend
	ChainID(ctx context.Context) (*big.Int, error)
}

// KeystoreProvider is a wallet over an encrypted go-ethereum keystore
// directory. Requesting accounts unlocks them with the configured
// passphrase; a wrong passphrase counts as the user declining access.
// Account changes come from keystore wallet events, chain changes from
// polling the RPC endpoint.
type KeystoreProvider struct {
	ks           *keystore.KeyStore
	backend      ChainBackend
	passphrase   string
	pollInterval time.Duration
	log          *slog.Logger

	accountsFeed event.Feed
	chainFeed    event.Feed

	mu        sync.Mutex
	lastChain uint64
	quit      chan struct{}
	done      chan struct{}
}

// NewKeystoreProvider opens (or creates) the keystore at dir.
func NewKeystoreProvider(dir, passphrase string, backend ChainBackend, log *slog.Logger) *KeystoreProvider {
	return NewKeystoreProviderWithKDF(dir, passphrase, keystore.StandardScryptN, keystore.StandardScryptP, backend, log)
}

// NewKeystoreProviderWithKDF is NewKeystoreProvider with explicit scrypt
// parameters for newly created keys, e.g. keystore.LightScryptN/P.
func NewKeystoreProviderWithKDF(dir, passphrase string, scryptN, scryptP int, backend ChainBackend, log *slog.Logger) *KeystoreProvider {
	return &KeystoreProvider{
		ks:           keystore.NewKeyStore(dir, scryptN, scryptP),
		backend:      backend,
		passphrase:   passphrase,
		pollInterval: DefaultChainPollInterval,
		log:          log,
	}
}

// SetPollInterval changes the chain polling interval. Call before Start.
func (p *KeystoreProvider) SetPollInterval(d time.Duration) {
	p.pollInterval = d
}

// KeyStore exposes the underlying keystore.
func (p *KeystoreProvider) KeyStore() *keystore.KeyStore {
	return p.ks
}

func (p *KeystoreProvider) RequestAccounts(ctx context.Context) ([]common.Address, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	accs := p.ks.Accounts()
	addrs := make([]common.Address, 0, len(accs))
	for _, acc := range accs {
		if err := p.ks.Unlock(acc, p.passphrase); err != nil {
			if errors.Is(err, keystore.ErrDecrypt) {
				return nil, interfaces.NewError(interfaces.CategoryUserRejected, interfaces.MsgUserRejected, err)
			}
			return nil, fmt.Errorf("failed to unlock %s: %w", acc.Address.Hex(), err)
		}
		addrs = append(addrs, acc.Address)
	}
	return addrs, nil
}

func (p *KeystoreProvider) ChainID(ctx context.Context) (uint64, error) {
	id, err := p.backend.ChainID(ctx)
	if err != nil {
		return 0, err
	}
	if !id.IsUint64() {
		return 0, fmt.Errorf("chain id %s out of range", id)
	}
	return id.Uint64(), nil
}

func (p *KeystoreProvider) SubscribeAccountsChanged(ch chan<- []common.Address) event.Subscription {
	return p.accountsFeed.Subscribe(ch)
}

func (p *KeystoreProvider) SubscribeChainChanged(ch chan<- uint64) event.Subscription {
	return p.chainFeed.Subscribe(ch)
}

func (p *KeystoreProvider) Transactor(account common.Address, chainID uint64) (*bind.TransactOpts, error) {
	acc := accounts.Account{Address: account}
	if !p.ks.HasAddress(account) {
		return nil, ErrUnknownAccount
	}
	return bind.NewKeyStoreTransactorWithChainID(p.ks, acc, new(big.Int).SetUint64(chainID))
}

func (p *KeystoreProvider) Backend() interfaces.ContractBackend {
	return p.backend
}

// Start begins forwarding keystore and chain changes to subscribers.
func (p *KeystoreProvider) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.quit != nil {
		return nil
	}

	initial, err := p.ChainID(ctx)
	if err != nil {
		return fmt.Errorf("failed to read chain id: %w", err)
	}
	p.lastChain = initial

	walletEvents := make(chan accounts.WalletEvent, 16)
	sub := p.ks.Subscribe(walletEvents)

	p.quit = make(chan struct{})
	p.done = make(chan struct{})
	go p.loop(walletEvents, sub, p.quit, p.done)
	return nil
}

// Close stops event forwarding.
func (p *KeystoreProvider) Close() {
	p.mu.Lock()
	quit, done := p.quit, p.done
	p.quit, p.done = nil, nil
	p.mu.Unlock()

	if quit == nil {
		return
	}
	close(quit)
	<-done
}

func (p *KeystoreProvider) loop(walletEvents <-chan accounts.WalletEvent, sub event.Subscription, quit, done chan struct{}) {
	defer close(done)
	defer sub.Unsubscribe()

	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-quit:
			return
		case ev := <-walletEvents:
			p.log.Debug("Keystore wallet event", "kind", ev.Kind, "url", ev.Wallet.URL().String())
			p.accountsFeed.Send(p.addresses())
		case <-ticker.C:
			p.pollChain()
		case err := <-sub.Err():
			if err != nil {
				p.log.Error("Keystore subscription failed", "err", err)
			}
			return
		}
	}
}

func (p *KeystoreProvider) addresses() []common.Address {
	accs := p.ks.Accounts()
	addrs := make([]common.Address, 0, len(accs))
	for _, acc := range accs {
		addrs = append(addrs, acc.Address)
	}
	return addrs
}

func (p *KeystoreProvider) pollChain() {
	ctx, cancel := context.WithTimeout(context.Background(), p.pollInterval)
	defer cancel()

	id, err := p.ChainID(ctx)
	if err != nil {
		p.log.Warn("Failed to poll chain id", "err", err)
		return
	}

	p.mu.Lock()
	changed := id != p.lastChain
	p.lastChain = id
	p.mu.Unlock()

	if changed {
		p.log.Info("Chain changed", "chainID", id)
		p.chainFeed.Send(id)
	}
}
