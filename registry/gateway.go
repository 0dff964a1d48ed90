package registry

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/ruteri/identity-verification-dapp/interfaces"
)

// ErrNoTransactOpts is returned when a transaction is attempted without signing options.
var ErrNoTransactOpts = errors.New("no authorized transactor available")

const (
	MethodRegisterIdentity = "registerIdentity"
	MethodGetIdentity      = "getIdentity"
)

//go:embed abi/IdentityVerification.json
var identityVerificationABI string

// IdentityABI is the parsed IdentityVerification contract interface.
var IdentityABI = mustParseABI(identityVerificationABI)

func mustParseABI(definition string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(definition))
	if err != nil {
		panic(fmt.Sprintf("invalid IdentityVerification ABI: %v", err))
	}
	return parsed
}

// Binding is the contract bound to one chain. It is never mutated; a chain
// switch produces a new Binding.
type Binding struct {
	Address common.Address
	ChainID uint64

	backend  interfaces.ContractBackend
	contract *bind.BoundContract
}

// Gateway talks to the IdentityVerification contract at a configured address.
type Gateway struct {
	address common.Address
	log     *slog.Logger
}

// NewGateway creates a gateway for the contract deployed at address.
func NewGateway(address common.Address, log *slog.Logger) *Gateway {
	return &Gateway{
		address: address,
		log:     log,
	}
}

// Address returns the configured contract address.
func (g *Gateway) Address() common.Address {
	return g.address
}

// Bind binds the contract on chainID and probes it with a read for account.
// If the probe fails the binding is discarded and an error categorized as
// CategoryContractUnreachable is returned.
func (g *Gateway) Bind(ctx context.Context, backend interfaces.ContractBackend, chainID uint64, account common.Address) (*Binding, error) {
	if backend == nil {
		return nil, interfaces.NewError(interfaces.CategoryContractUnreachable, interfaces.MsgContractNotFound, errors.New("no backend"))
	}

	b := &Binding{
		Address:  g.address,
		ChainID:  chainID,
		backend:  backend,
		contract: bind.NewBoundContract(g.address, IdentityABI, backend, backend, backend),
	}

	if _, err := g.Fetch(ctx, b, account); err != nil {
		g.log.Warn("Contract probe failed",
			slog.String("contract", g.address.Hex()),
			slog.Uint64("chainID", chainID),
			"err", err)
		return nil, interfaces.NewError(interfaces.CategoryContractUnreachable, interfaces.MsgContractNotFound, err)
	}

	g.log.Debug("Contract bound",
		slog.String("contract", g.address.Hex()),
		slog.Uint64("chainID", chainID))
	return b, nil
}

// EstimateRegisterGas asks the node how much gas registerIdentity would use
// when sent from from.
func (g *Gateway) EstimateRegisterGas(ctx context.Context, b *Binding, from common.Address, name, contentHash string) (uint64, error) {
	input, err := IdentityABI.Pack(MethodRegisterIdentity, name, contentHash)
	if err != nil {
		return 0, fmt.Errorf("failed to pack %s: %w", MethodRegisterIdentity, err)
	}

	to := b.Address
	return b.backend.EstimateGas(ctx, ethereum.CallMsg{
		From: from,
		To:   &to,
		Data: input,
	})
}

// Register submits registerIdentity signed by opts and waits for it to be
// mined. The caller is responsible for validating name and contentHash.
// A mined but failed transaction is reported as CategoryReverted together
// with its receipt.
func (g *Gateway) Register(ctx context.Context, b *Binding, opts *bind.TransactOpts, name, contentHash string) (*types.Receipt, error) {
	if opts == nil {
		return nil, ErrNoTransactOpts
	}
	opts.Context = ctx

	tx, err := b.contract.Transact(opts, MethodRegisterIdentity, name, contentHash)
	if err != nil {
		return nil, err
	}

	g.log.Info("Registration submitted",
		slog.String("tx", tx.Hash().Hex()),
		slog.String("from", opts.From.Hex()),
		slog.Uint64("gasLimit", tx.Gas()))

	receipt, err := bind.WaitMined(ctx, b.backend, tx)
	if err != nil {
		return nil, fmt.Errorf("failed waiting for transaction %s: %w", tx.Hash().Hex(), err)
	}

	if receipt.Status != types.ReceiptStatusSuccessful {
		return receipt, interfaces.NewError(interfaces.CategoryReverted, interfaces.MsgReverted,
			fmt.Errorf("transaction %s failed in block %v", tx.Hash().Hex(), receipt.BlockNumber))
	}
	return receipt, nil
}

// Fetch reads the record registered by owner. A nil record with a nil
// error means nothing is registered.
func (g *Gateway) Fetch(ctx context.Context, b *Binding, owner common.Address) (*interfaces.IdentityRecord, error) {
	var out []interface{}
	if err := b.contract.Call(&bind.CallOpts{Context: ctx}, &out, MethodGetIdentity, owner); err != nil {
		return nil, err
	}
	if len(out) != 2 {
		return nil, fmt.Errorf("unexpected %s result length %d", MethodGetIdentity, len(out))
	}

	record := &interfaces.IdentityRecord{
		Owner:       owner,
		Name:        *abi.ConvertType(out[0], new(string)).(*string),
		ContentHash: *abi.ConvertType(out[1], new(string)).(*string),
	}
	if record.Empty() {
		return nil, nil
	}
	return record, nil
}

// LatestBlockGasLimit returns the gas limit of the latest block.
func (g *Gateway) LatestBlockGasLimit(ctx context.Context, b *Binding) (uint64, error) {
	head, err := b.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return 0, err
	}
	return head.GasLimit, nil
}
