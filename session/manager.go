// Package session owns the wallet connection: account, chain and the
// contract binding that goes with them.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/event"
	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"

	"github.com/ruteri/identity-verification-dapp/interfaces"
	"github.com/ruteri/identity-verification-dapp/registry"
	"github.com/ruteri/identity-verification-dapp/translator"
)

// DefaultConnectTimeout bounds a connect attempt.
const DefaultConnectTimeout = 30 * time.Second

// ErrSuperseded is returned when the session changed while a request was
// in flight. Its results were discarded.
var ErrSuperseded = interfaces.NewError(interfaces.CategoryNotReady, "Session changed during the request. Please try again.", nil)

// Binder binds the contract on a chain. *registry.Gateway satisfies it.
type Binder interface {
	Bind(ctx context.Context, backend interfaces.ContractBackend, chainID uint64, account common.Address) (*registry.Binding, error)
}

// Config holds the session manager settings.
type Config struct {
	ConnectTimeout    time.Duration
	SupportedNetworks []uint64
}

// Snapshot is a consistent copy of the session state.
type Snapshot struct {
	Session   interfaces.Session
	Binding   *registry.Binding
	Epoch     uint64
	Network   translator.Network
	Supported bool
}

// Ready reports whether registration and lookups can be attempted.
func (s Snapshot) Ready() bool {
	return s.Session.State == interfaces.Connected && s.Session.HasAccount() && s.Binding != nil
}

// Manager is the wallet session state machine. It is the only writer of
// the session. Every reset (disconnect, chain switch, reconnect) bumps the
// epoch; results of calls started under an older epoch are dropped.
type Manager struct {
	provider interfaces.WalletProvider
	binder   Binder
	cfg      Config
	log      *slog.Logger

	mu      sync.RWMutex
	session interfaces.Session
	binding *registry.Binding
	epoch   atomic.Uint64

	subMu    sync.Mutex
	accSub   event.Subscription
	chainSub event.Subscription
	quit     chan struct{}
	wg       sync.WaitGroup
}

// NewManager creates a disconnected session. provider may be nil, in which
// case Connect fails with interfaces.ErrNoWalletCapability.
func NewManager(provider interfaces.WalletProvider, binder Binder, cfg Config, log *slog.Logger) *Manager {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	return &Manager{
		provider: provider,
		binder:   binder,
		cfg:      cfg,
		log:      log,
		session:  interfaces.Session{State: interfaces.Disconnected},
	}
}

// HasProvider reports whether a wallet capability was injected.
func (m *Manager) HasProvider() bool {
	return m.provider != nil
}

// Snapshot returns the current session state.
func (m *Manager) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return Snapshot{
		Session:   m.session,
		Binding:   m.binding,
		Epoch:     m.epoch.Load(),
		Network:   translator.DescribeNetwork(m.session.ChainID),
		Supported: translator.IsSupported(m.session.ChainID, m.cfg.SupportedNetworks),
	}
}

// Epoch returns the current reset generation.
func (m *Manager) Epoch() uint64 {
	return m.epoch.Load()
}

// Connect requests account access, detects the chain and binds the
// contract. On success the session is Connected; if only the contract
// probe fails the session stays Connected without a binding and the
// contract_unreachable error is returned.
func (m *Manager) Connect(ctx context.Context) error {
	if m.provider == nil {
		m.setError(interfaces.ErrNoWalletCapability)
		return interfaces.ErrNoWalletCapability
	}

	m.mu.Lock()
	if m.session.State == interfaces.Connecting {
		m.mu.Unlock()
		return interfaces.NewError(interfaces.CategoryNotReady, interfaces.MsgBusy, nil)
	}
	epoch := m.epoch.Inc()
	m.session.State = interfaces.Connecting
	m.session.LastError = ""
	m.binding = nil
	m.mu.Unlock()

	m.log.Info("Connecting wallet")
	connected, err := m.load(ctx, epoch)
	if connected {
		m.subscribe()
	}
	return err
}

// load runs the connect sequence under epoch. The session must already be
// in the Connecting state. connected reports whether the session reached
// Connected, which is still the case when only the contract probe failed.
func (m *Manager) load(ctx context.Context, epoch uint64) (connected bool, err error) {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.ConnectTimeout)
	defer cancel()

	var (
		accounts []common.Address
		chainID  uint64
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		accounts, err = m.provider.RequestAccounts(gctx)
		return err
	})
	g.Go(func() (err error) {
		chainID, err = m.provider.ChainID(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		translated := translator.Translate(err)
		m.log.Warn("Wallet connection failed", "err", err, "category", translated.Category)
		m.failIfCurrent(epoch, translated)
		return false, translated
	}

	if len(accounts) == 0 {
		err := interfaces.NewError(interfaces.CategoryNotReady, interfaces.MsgNoAccounts, nil)
		m.failIfCurrent(epoch, err)
		return false, err
	}
	account := accounts[0]

	m.mu.Lock()
	if m.epoch.Load() != epoch {
		m.mu.Unlock()
		m.log.Debug("Discarding stale connect result", "epoch", epoch)
		return false, ErrSuperseded
	}
	m.session = interfaces.Session{
		Account: account,
		ChainID: chainID,
		State:   interfaces.Connected,
	}
	m.mu.Unlock()

	network := translator.DescribeNetwork(chainID)
	m.log.Info("Wallet connected",
		slog.String("account", account.Hex()),
		slog.Uint64("chainID", chainID),
		slog.String("network", network.Name))
	if len(m.cfg.SupportedNetworks) > 0 && !translator.IsSupported(chainID, m.cfg.SupportedNetworks) {
		m.log.Warn(interfaces.MsgNetworkNotSupported, slog.Uint64("chainID", chainID))
	}

	binding, err := m.binder.Bind(ctx, m.provider.Backend(), chainID, account)
	if err != nil {
		translated := translator.Translate(err)
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.epoch.Load() != epoch {
			return false, ErrSuperseded
		}
		m.session.LastError = translated.Message
		return true, translated
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.epoch.Load() != epoch {
		m.log.Debug("Discarding stale contract binding", "epoch", epoch)
		return false, ErrSuperseded
	}
	m.binding = binding
	return true, nil
}

func (m *Manager) failIfCurrent(epoch uint64, err *interfaces.Error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.epoch.Load() != epoch {
		return
	}
	m.session.State = interfaces.Errored
	m.session.LastError = err.Message
	m.binding = nil
}

func (m *Manager) setError(err *interfaces.Error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.epoch.Inc()
	m.session = interfaces.Session{State: interfaces.Errored, LastError: err.Message}
	m.binding = nil
}

// Disconnect drops the session and its listeners.
func (m *Manager) Disconnect() {
	m.unsubscribe()
	m.reset("disconnect requested")
}

// Close releases listener handles.
func (m *Manager) Close() {
	m.unsubscribe()
}

func (m *Manager) reset(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.epoch.Inc()
	m.session = interfaces.Session{State: interfaces.Disconnected}
	m.binding = nil
	m.log.Info("Session reset", "reason", reason)
}

// Transactor returns signing options for the active account.
func (m *Manager) Transactor() (*bind.TransactOpts, error) {
	snap := m.Snapshot()
	if !snap.Ready() {
		return nil, interfaces.ErrNotReady
	}
	opts, err := m.provider.Transactor(snap.Session.Account, snap.Session.ChainID)
	if err != nil {
		return nil, fmt.Errorf("failed to obtain transactor: %w", err)
	}
	return opts, nil
}

// subscribe registers the provider listeners, replacing any previous ones.
func (m *Manager) subscribe() {
	m.unsubscribe()

	m.subMu.Lock()
	defer m.subMu.Unlock()

	accCh := make(chan []common.Address, 4)
	chainCh := make(chan uint64, 4)
	m.accSub = m.provider.SubscribeAccountsChanged(accCh)
	m.chainSub = m.provider.SubscribeChainChanged(chainCh)
	m.quit = make(chan struct{})

	m.wg.Add(1)
	go m.listen(accCh, chainCh, m.accSub, m.chainSub, m.quit)
}

func (m *Manager) unsubscribe() {
	m.subMu.Lock()
	defer m.subMu.Unlock()

	if m.quit == nil {
		return
	}
	close(m.quit)
	m.accSub.Unsubscribe()
	m.chainSub.Unsubscribe()
	m.wg.Wait()
	m.quit, m.accSub, m.chainSub = nil, nil, nil
}

func (m *Manager) listen(accCh <-chan []common.Address, chainCh <-chan uint64, accSub, chainSub event.Subscription, quit <-chan struct{}) {
	defer m.wg.Done()
	for {
		select {
		case <-quit:
			return
		case accounts := <-accCh:
			m.handleAccountsChanged(accounts)
		case chainID := <-chainCh:
			m.handleChainChanged(chainID)
		case err := <-accSub.Err():
			if err != nil {
				m.log.Error("Account subscription failed", "err", err)
			}
			return
		case err := <-chainSub.Err():
			if err != nil {
				m.log.Error("Chain subscription failed", "err", err)
			}
			return
		}
	}
}

func (m *Manager) handleAccountsChanged(accounts []common.Address) {
	if len(accounts) == 0 {
		m.reset("wallet reported no accounts")
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session.State != interfaces.Connected {
		return
	}
	if m.session.Account != accounts[0] {
		m.log.Info("Active account changed", slog.String("account", accounts[0].Hex()))
		m.session.Account = accounts[0]
	}
}

// handleChainChanged reloads the whole session on the new chain. Anything in
// flight on the old chain is superseded through the epoch.
func (m *Manager) handleChainChanged(chainID uint64) {
	m.mu.Lock()
	if m.session.State == interfaces.Disconnected {
		m.mu.Unlock()
		return
	}
	epoch := m.epoch.Inc()
	m.session.State = interfaces.Connecting
	m.session.ChainID = chainID
	m.session.LastError = ""
	m.binding = nil
	m.mu.Unlock()

	m.log.Info("Chain changed, reloading session", slog.Uint64("chainID", chainID))
	if _, err := m.load(context.Background(), epoch); err != nil && err != ErrSuperseded {
		m.log.Error("Session reload failed", "err", err)
	}
}
