package registry

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/event"

	"github.com/ruteri/identity-verification-dapp/interfaces"
)

const (
	// MockRegisterGas is what the mock charges for registerIdentity.
	MockRegisterGas = uint64(90000)

	mockBlockGasLimit = uint64(30000000)
)

var mockCode = []byte{0x60, 0x80, 0x60, 0x40}

// MockBackend is an in-memory chain with the IdentityVerification contract
// deployed at a single address. It implements interfaces.ContractBackend
// without a blockchain, mirroring the contract's rules: one record per
// address and a non-empty name.
type MockBackend struct {
	mu          sync.Mutex
	chainID     *big.Int
	contract    common.Address
	deployed    bool
	identities  map[common.Address]interfaces.IdentityRecord
	nonces      map[common.Address]uint64
	receipts    map[common.Hash]*types.Receipt
	sent        []*types.Transaction
	blockNumber uint64

	estimateErr error
	sendErr     error
	callErr     error
	estimates   int
	calls       int
}

// NewMockBackend creates a chain with chainID where the contract is deployed at contract.
func NewMockBackend(chainID uint64, contract common.Address) *MockBackend {
	return &MockBackend{
		chainID:     new(big.Int).SetUint64(chainID),
		contract:    contract,
		deployed:    true,
		identities:  make(map[common.Address]interfaces.IdentityRecord),
		nonces:      make(map[common.Address]uint64),
		receipts:    make(map[common.Hash]*types.Receipt),
		blockNumber: 1,
	}
}

// SetDeployed removes or restores the contract code.
func (m *MockBackend) SetDeployed(deployed bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deployed = deployed
}

// SetEstimateError makes gas estimation fail with err.
func (m *MockBackend) SetEstimateError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.estimateErr = err
}

// SetSendError makes transaction submission fail with err.
func (m *MockBackend) SetSendError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sendErr = err
}

// SetCallError makes read-only calls fail with err.
func (m *MockBackend) SetCallError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callErr = err
}

// SetIdentity writes a record directly, bypassing transactions.
func (m *MockBackend) SetIdentity(owner common.Address, name, contentHash string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.identities[owner] = interfaces.IdentityRecord{Owner: owner, Name: name, ContentHash: contentHash}
}

// SentTransactions returns every transaction accepted so far.
func (m *MockBackend) SentTransactions() []*types.Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*types.Transaction(nil), m.sent...)
}

// EstimateCalls returns how many gas estimations were requested.
func (m *MockBackend) EstimateCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.estimates
}

// ContractCalls returns how many read-only calls were made.
func (m *MockBackend) ContractCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *MockBackend) ChainID(ctx context.Context) (*big.Int, error) {
	return new(big.Int).Set(m.chainID), nil
}

func (m *MockBackend) CodeAt(ctx context.Context, contract common.Address, blockNumber *big.Int) ([]byte, error) {
	return m.code(contract), nil
}

func (m *MockBackend) PendingCodeAt(ctx context.Context, account common.Address) ([]byte, error) {
	return m.code(account), nil
}

func (m *MockBackend) code(addr common.Address) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	if addr == m.contract && m.deployed {
		return mockCode
	}
	return nil
}

func (m *MockBackend) CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	if m.callErr != nil {
		return nil, m.callErr
	}
	if call.To == nil || *call.To != m.contract || !m.deployed {
		return nil, nil
	}

	method, args, err := decodeCall(call.Data)
	if err != nil {
		return nil, err
	}

	switch method.Name {
	case MethodGetIdentity:
		rec := m.identities[args[0].(common.Address)]
		return method.Outputs.Pack(rec.Name, rec.ContentHash)
	case MethodRegisterIdentity:
		if err := m.checkRegister(call.From, args[0].(string)); err != nil {
			return nil, err
		}
		return nil, nil
	default:
		return nil, fmt.Errorf("execution reverted: unknown method %s", method.Name)
	}
}

func (m *MockBackend) EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.estimates++
	if m.estimateErr != nil {
		return 0, m.estimateErr
	}
	if call.To == nil || *call.To != m.contract {
		return 21000, nil
	}

	method, args, err := decodeCall(call.Data)
	if err != nil {
		return 0, err
	}
	if method.Name == MethodRegisterIdentity {
		if err := m.checkRegister(call.From, args[0].(string)); err != nil {
			return 0, err
		}
	}
	return MockRegisterGas, nil
}

func (m *MockBackend) checkRegister(from common.Address, name string) error {
	if _, exists := m.identities[from]; exists {
		return errors.New("execution reverted: Identity already registered")
	}
	if name == "" {
		return errors.New("execution reverted: Name cannot be empty")
	}
	return nil
}

func (m *MockBackend) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return &types.Header{
		Number:     new(big.Int).SetUint64(m.blockNumber),
		GasLimit:   mockBlockGasLimit,
		BaseFee:    big.NewInt(1000000000),
		Difficulty: big.NewInt(0),
	}, nil
}

func (m *MockBackend) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.nonces[account], nil
}

func (m *MockBackend) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1000000000), nil
}

func (m *MockBackend) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1000000000), nil
}

// SendTransaction executes tx immediately and mines it into its own block.
func (m *MockBackend) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sendErr != nil {
		return m.sendErr
	}

	from, err := types.Sender(types.LatestSignerForChainID(m.chainID), tx)
	if err != nil {
		return fmt.Errorf("invalid sender: %w", err)
	}
	if tx.Nonce() < m.nonces[from] {
		return fmt.Errorf("nonce too low: next nonce %d, tx nonce %d", m.nonces[from], tx.Nonce())
	}
	m.nonces[from] = tx.Nonce() + 1

	status := types.ReceiptStatusSuccessful
	gasUsed := uint64(21000)
	if tx.To() != nil && *tx.To() == m.contract && m.deployed {
		gasUsed = MockRegisterGas
		method, args, err := decodeCall(tx.Data())
		switch {
		case err != nil:
			status = types.ReceiptStatusFailed
		case tx.Gas() < MockRegisterGas:
			status = types.ReceiptStatusFailed
			gasUsed = tx.Gas()
		case method.Name == MethodRegisterIdentity:
			name, hash := args[0].(string), args[1].(string)
			if m.checkRegister(from, name) != nil {
				status = types.ReceiptStatusFailed
			} else {
				m.identities[from] = interfaces.IdentityRecord{Owner: from, Name: name, ContentHash: hash}
			}
		}
	}

	m.blockNumber++
	m.receipts[tx.Hash()] = &types.Receipt{
		Type:        tx.Type(),
		Status:      status,
		TxHash:      tx.Hash(),
		GasUsed:     gasUsed,
		BlockNumber: new(big.Int).SetUint64(m.blockNumber),
	}
	m.sent = append(m.sent, tx)
	return nil
}

func (m *MockBackend) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	receipt, ok := m.receipts[txHash]
	if !ok {
		return nil, ethereum.NotFound
	}
	return receipt, nil
}

func (m *MockBackend) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	return nil, nil
}

func (m *MockBackend) SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error) {
	return event.NewSubscription(func(quit <-chan struct{}) error {
		<-quit
		return nil
	}), nil
}

func decodeCall(data []byte) (*abi.Method, []interface{}, error) {
	if len(data) < 4 {
		return nil, nil, errors.New("execution reverted: missing selector")
	}
	method, err := IdentityABI.MethodById(data[:4])
	if err != nil {
		return nil, nil, fmt.Errorf("execution reverted: %w", err)
	}
	args, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return nil, nil, fmt.Errorf("execution reverted: %w", err)
	}
	return method, args, nil
}
