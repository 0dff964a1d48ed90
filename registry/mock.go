package registry

import (
	"context"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/mock"

	"github.com/ruteri/identity-verification-dapp/interfaces"
)

// MockGateway mocks the contract gateway operations used by the orchestrator
type MockGateway struct {
	mock.Mock
}

// EstimateRegisterGas mocks the EstimateRegisterGas method
func (m *MockGateway) EstimateRegisterGas(ctx context.Context, b *Binding, from common.Address, name, contentHash string) (uint64, error) {
	args := m.Called(ctx, b, from, name, contentHash)
	return args.Get(0).(uint64), args.Error(1)
}

// Register mocks the Register method
func (m *MockGateway) Register(ctx context.Context, b *Binding, opts *bind.TransactOpts, name, contentHash string) (*types.Receipt, error) {
	args := m.Called(ctx, b, opts, name, contentHash)
	receipt, _ := args.Get(0).(*types.Receipt)
	return receipt, args.Error(1)
}

// Fetch mocks the Fetch method
func (m *MockGateway) Fetch(ctx context.Context, b *Binding, owner common.Address) (*interfaces.IdentityRecord, error) {
	args := m.Called(ctx, b, owner)
	record, _ := args.Get(0).(*interfaces.IdentityRecord)
	return record, args.Error(1)
}

// LatestBlockGasLimit mocks the LatestBlockGasLimit method
func (m *MockGateway) LatestBlockGasLimit(ctx context.Context, b *Binding) (uint64, error) {
	args := m.Called(ctx, b)
	return args.Get(0).(uint64), args.Error(1)
}
