package wallet

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/event"

	"github.com/ruteri/identity-verification-dapp/interfaces"
)

// ErrUnknownAccount is returned when asked to sign for an account the
// provider holds no key for.
var ErrUnknownAccount = errors.New("no key for account")

// StaticProvider is a wallet over a fixed set of raw private keys. Account
// and chain changes are emitted explicitly with SetAccounts and SetChainID.
type StaticProvider struct {
	backend interfaces.ContractBackend

	mu         sync.RWMutex
	keys       map[common.Address]*ecdsa.PrivateKey
	accounts   []common.Address
	chainID    uint64
	requestErr error

	accountsFeed event.Feed
	chainFeed    event.Feed
}

// NewStaticProvider creates a provider exposing keys, in order, on chainID.
func NewStaticProvider(backend interfaces.ContractBackend, chainID uint64, keys ...*ecdsa.PrivateKey) *StaticProvider {
	p := &StaticProvider{
		backend: backend,
		keys:    make(map[common.Address]*ecdsa.PrivateKey, len(keys)),
		chainID: chainID,
	}
	for _, key := range keys {
		addr := crypto.PubkeyToAddress(key.PublicKey)
		p.keys[addr] = key
		p.accounts = append(p.accounts, addr)
	}
	return p
}

// RequestAccounts returns the exposed accounts, or the error set with
// SetRequestError.
func (p *StaticProvider) RequestAccounts(ctx context.Context) ([]common.Address, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.requestErr != nil {
		return nil, p.requestErr
	}
	return append([]common.Address(nil), p.accounts...), nil
}

func (p *StaticProvider) ChainID(ctx context.Context) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.chainID, nil
}

func (p *StaticProvider) SubscribeAccountsChanged(ch chan<- []common.Address) event.Subscription {
	return p.accountsFeed.Subscribe(ch)
}

func (p *StaticProvider) SubscribeChainChanged(ch chan<- uint64) event.Subscription {
	return p.chainFeed.Subscribe(ch)
}

func (p *StaticProvider) Transactor(account common.Address, chainID uint64) (*bind.TransactOpts, error) {
	p.mu.RLock()
	key, ok := p.keys[account]
	p.mu.RUnlock()
	if !ok {
		return nil, ErrUnknownAccount
	}
	return bind.NewKeyedTransactorWithChainID(key, new(big.Int).SetUint64(chainID))
}

func (p *StaticProvider) Backend() interfaces.ContractBackend {
	return p.backend
}

// SetRequestError makes subsequent RequestAccounts calls fail with err.
// A nil err restores normal behaviour.
func (p *StaticProvider) SetRequestError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requestErr = err
}

// SetAccounts replaces the exposed account set and notifies subscribers.
// Addresses without a known key can be listed but cannot sign.
func (p *StaticProvider) SetAccounts(accounts ...common.Address) {
	p.mu.Lock()
	p.accounts = append([]common.Address(nil), accounts...)
	p.mu.Unlock()

	p.accountsFeed.Send(append([]common.Address(nil), accounts...))
}

// SetChainID switches the chain and notifies subscribers.
func (p *StaticProvider) SetChainID(chainID uint64) {
	p.mu.Lock()
	p.chainID = chainID
	p.mu.Unlock()

	p.chainFeed.Send(chainID)
}
