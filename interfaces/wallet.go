package interfaces

import (
	"context"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/event"
)

// ContractBackend is everything needed to call, transact with and wait on
// a deployed contract. *ethclient.Client satisfies it.
type ContractBackend interface {
	bind.ContractBackend
	bind.DeployBackend
}

// WalletProvider is the wallet capability the session is built on: account
// access, chain detection, change notifications and signed-call submission.
type WalletProvider interface {
	// RequestAccounts asks the wallet for account access. Implementations
	// return an error categorized as CategoryUserRejected when the user
	// declines.
	RequestAccounts(ctx context.Context) ([]common.Address, error)

	// ChainID reports the chain the wallet is currently on.
	ChainID(ctx context.Context) (uint64, error)

	// SubscribeAccountsChanged delivers the full account set whenever it changes.
	SubscribeAccountsChanged(ch chan<- []common.Address) event.Subscription

	// SubscribeChainChanged delivers the new chain id whenever it changes.
	SubscribeChainChanged(ch chan<- uint64) event.Subscription

	// Transactor returns signing options for submitting calls from account.
	Transactor(account common.Address, chainID uint64) (*bind.TransactOpts, error)

	// Backend is the RPC connection the wallet talks to.
	Backend() ContractBackend
}
