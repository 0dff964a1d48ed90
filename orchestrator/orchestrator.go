// Package orchestrator runs the user-facing flows: validate, check the
// session, estimate gas, submit, confirm and refresh.
package orchestrator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/event"
	"go.uber.org/atomic"

	"github.com/ruteri/identity-verification-dapp/interfaces"
	"github.com/ruteri/identity-verification-dapp/registry"
	"github.com/ruteri/identity-verification-dapp/session"
	"github.com/ruteri/identity-verification-dapp/translator"
	"github.com/ruteri/identity-verification-dapp/validation"
)

const (
	DefaultGasBufferPercent     = 20
	DefaultGasLimit             = 200000
	DefaultRefetchDelay         = 2 * time.Second
	DefaultNotificationDuration = 5 * time.Second

	// blockGasFraction is the share of the latest block gas limit used when
	// estimation fails and the block fallback is enabled.
	blockGasFraction = 80

	refetchTimeout = 30 * time.Second
)

const (
	MsgRegistered   = "Identity registered successfully!"
	MsgRetrieved    = "Identity retrieved successfully!"
	MsgNoIdentity   = "No identity registered for this address."
	MsgFixFormInput = "Please fix the highlighted fields."
)

// Sessions is the view of the wallet session the orchestrator needs.
// *session.Manager satisfies it.
type Sessions interface {
	Snapshot() session.Snapshot
	Epoch() uint64
	Transactor() (*bind.TransactOpts, error)
}

// Gateway is the contract access the orchestrator needs.
// *registry.Gateway satisfies it.
type Gateway interface {
	EstimateRegisterGas(ctx context.Context, b *registry.Binding, from common.Address, name, contentHash string) (uint64, error)
	Register(ctx context.Context, b *registry.Binding, opts *bind.TransactOpts, name, contentHash string) (*types.Receipt, error)
	Fetch(ctx context.Context, b *registry.Binding, owner common.Address) (*interfaces.IdentityRecord, error)
	LatestBlockGasLimit(ctx context.Context, b *registry.Binding) (uint64, error)
}

// Config holds the orchestrator settings.
type Config struct {
	// GasBufferPercent is added on top of the node's gas estimate.
	GasBufferPercent uint64
	// DefaultGasLimit is used when estimation fails.
	DefaultGasLimit uint64
	// BlockGasFallback tries a fraction of the latest block gas limit
	// before DefaultGasLimit when estimation fails.
	BlockGasFallback bool
	// RefetchDelay is the wait between a confirmed registration and the
	// read-back. Writes are not always visible to reads right away. A
	// negative value disables the read-back.
	RefetchDelay time.Duration
	// NotificationDuration is attached to every notification.
	NotificationDuration time.Duration
}

// DefaultConfig returns the built-in settings.
func DefaultConfig() Config {
	return Config{
		GasBufferPercent:     DefaultGasBufferPercent,
		DefaultGasLimit:      DefaultGasLimit,
		RefetchDelay:         DefaultRefetchDelay,
		NotificationDuration: DefaultNotificationDuration,
	}
}

// RegistrationResult describes a confirmed registration.
type RegistrationResult struct {
	TxHash      common.Hash `json:"tx_hash"`
	ExplorerURL string      `json:"explorer_url,omitempty"`
	GasLimit    uint64      `json:"gas_limit"`
	GasUsed     uint64      `json:"gas_used"`
	BlockNumber uint64      `json:"block_number"`
	// Stale is set when the session was reset while the transaction was
	// in flight; nothing was applied to the current state.
	Stale bool `json:"stale,omitempty"`
}

// FetchResult is the outcome of a lookup. A missing record is not an error.
type FetchResult struct {
	Record  *interfaces.IdentityRecord `json:"record,omitempty"`
	Found   bool                       `json:"found"`
	Message string                     `json:"message"`
}

// Orchestrator sequences registrations and lookups for one session.
type Orchestrator struct {
	sessions Sessions
	gateway  Gateway
	cfg      Config
	log      *slog.Logger

	busy atomic.Bool

	mu      sync.Mutex
	form    interfaces.FormState
	cached  *interfaces.IdentityRecord
	refetch *time.Timer

	notifications event.Feed
}

// New creates an orchestrator.
func New(sessions Sessions, gateway Gateway, cfg Config, log *slog.Logger) *Orchestrator {
	if cfg.DefaultGasLimit == 0 {
		cfg.DefaultGasLimit = DefaultGasLimit
	}
	if cfg.NotificationDuration == 0 {
		cfg.NotificationDuration = DefaultNotificationDuration
	}
	return &Orchestrator{
		sessions: sessions,
		gateway:  gateway,
		cfg:      cfg,
		log:      log,
	}
}

// Busy reports whether a user action is in progress.
func (o *Orchestrator) Busy() bool {
	return o.busy.Load()
}

// Form returns the registration form as last submitted.
func (o *Orchestrator) Form() interfaces.FormState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return copyForm(o.form)
}

// LastRecord returns the cached result of the last lookup, if any.
func (o *Orchestrator) LastRecord() *interfaces.IdentityRecord {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cached == nil {
		return nil
	}
	rec := *o.cached
	return &rec
}

// Close cancels a pending read-back.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.refetch != nil {
		o.refetch.Stop()
		o.refetch = nil
	}
}

// Register validates and submits a registration from the active account
// and waits for it to be mined. Validation failures are returned as
// *interfaces.ValidationErrors without touching the network; every other
// failure is a single *interfaces.Error.
func (o *Orchestrator) Register(ctx context.Context, name, contentHash string) (*RegistrationResult, error) {
	fieldErrors := validateForm(name, contentHash)

	// The form belongs to the registration holding the busy flag.
	if !o.busy.CompareAndSwap(false, true) {
		if len(fieldErrors) > 0 {
			return nil, &interfaces.ValidationErrors{Fields: fieldErrors}
		}
		return nil, interfaces.NewError(interfaces.CategoryNotReady, interfaces.MsgBusy, nil)
	}
	defer o.busy.Store(false)

	o.mu.Lock()
	o.form = interfaces.FormState{Name: name, ContentHash: contentHash, FieldErrors: fieldErrors}
	o.mu.Unlock()

	if len(fieldErrors) > 0 {
		o.notify(NotificationError, MsgFixFormInput)
		return nil, &interfaces.ValidationErrors{Fields: copyFields(fieldErrors)}
	}

	res, err := o.register(ctx, validation.Sanitize(name), validation.Sanitize(contentHash))
	if err != nil {
		translated := translator.Translate(err)
		o.log.Warn("Registration failed", "err", err, "category", translated.Category)
		o.notify(NotificationError, translated.Message)
		return nil, translated
	}
	return res, nil
}

func (o *Orchestrator) register(ctx context.Context, name, contentHash string) (*RegistrationResult, error) {
	snap := o.sessions.Snapshot()
	if !snap.Ready() {
		return nil, interfaces.ErrNotReady
	}
	account := snap.Session.Account

	gasLimit := o.gasLimit(ctx, snap.Binding, account, name, contentHash)

	opts, err := o.sessions.Transactor()
	if err != nil {
		return nil, err
	}
	if opts.From != account {
		o.log.Info("Active account changed before signing",
			slog.String("estimated", account.Hex()),
			slog.String("signer", opts.From.Hex()))
		return nil, session.ErrSuperseded
	}
	opts.GasLimit = gasLimit

	receipt, err := o.gateway.Register(ctx, snap.Binding, opts, name, contentHash)
	if err != nil {
		return nil, err
	}

	res := &RegistrationResult{
		TxHash:      receipt.TxHash,
		ExplorerURL: translator.ExplorerTxURL(snap.Binding.ChainID, receipt.TxHash.Hex()),
		GasLimit:    gasLimit,
		GasUsed:     receipt.GasUsed,
	}
	if receipt.BlockNumber != nil {
		res.BlockNumber = receipt.BlockNumber.Uint64()
	}

	if o.sessions.Epoch() != snap.Epoch {
		o.log.Info("Session changed while registering, not applying result", slog.String("tx", res.TxHash.Hex()))
		res.Stale = true
		return res, nil
	}

	o.mu.Lock()
	o.form = interfaces.FormState{}
	o.cached = nil
	o.mu.Unlock()

	o.log.Info("Identity registered",
		slog.String("tx", res.TxHash.Hex()),
		slog.String("account", account.Hex()),
		slog.Uint64("gasUsed", res.GasUsed))
	o.notify(NotificationSuccess, MsgRegistered)
	o.scheduleRefetch(snap.Epoch)
	return res, nil
}

// gasLimit estimates the registration gas and pads it. Estimation is
// advisory: on failure a fallback limit is used and the error is only logged.
func (o *Orchestrator) gasLimit(ctx context.Context, b *registry.Binding, from common.Address, name, contentHash string) uint64 {
	estimate, err := o.gateway.EstimateRegisterGas(ctx, b, from, name, contentHash)
	if err == nil {
		return estimate * (100 + o.cfg.GasBufferPercent) / 100
	}
	o.log.Warn("Gas estimation failed, using fallback gas limit", "err", err)

	if o.cfg.BlockGasFallback {
		blockLimit, err := o.gateway.LatestBlockGasLimit(ctx, b)
		if err == nil && blockLimit > 0 {
			return blockLimit * blockGasFraction / 100
		}
		o.log.Debug("Block gas limit unavailable", "err", err)
	}
	return o.cfg.DefaultGasLimit
}

// Fetch reads the active account's record. Lookups are read-only and may
// run while a registration is in flight.
func (o *Orchestrator) Fetch(ctx context.Context) (*FetchResult, error) {
	res, err := o.fetch(ctx, o.sessions.Snapshot())
	if err != nil {
		translated := translator.Translate(err)
		o.log.Warn("Identity lookup failed", "err", err, "category", translated.Category)
		o.notify(NotificationError, translated.Message)
		return nil, translated
	}
	return res, nil
}

func (o *Orchestrator) fetch(ctx context.Context, snap session.Snapshot) (*FetchResult, error) {
	if !snap.Ready() {
		return nil, interfaces.ErrNotReady
	}

	record, err := o.gateway.Fetch(ctx, snap.Binding, snap.Session.Account)
	if err != nil {
		return nil, err
	}

	if o.sessions.Epoch() != snap.Epoch {
		return nil, session.ErrSuperseded
	}

	o.mu.Lock()
	o.cached = record
	o.mu.Unlock()

	if record == nil {
		o.notify(NotificationInfo, MsgNoIdentity)
		return &FetchResult{Message: MsgNoIdentity}, nil
	}

	o.notify(NotificationSuccess, MsgRetrieved)
	return &FetchResult{Record: record, Found: true, Message: MsgRetrieved}, nil
}

func (o *Orchestrator) scheduleRefetch(epoch uint64) {
	if o.cfg.RefetchDelay < 0 {
		return
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.refetch != nil {
		o.refetch.Stop()
	}
	o.refetch = time.AfterFunc(o.cfg.RefetchDelay, func() {
		if o.sessions.Epoch() != epoch {
			o.log.Debug("Skipping read-back for a superseded session")
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), refetchTimeout)
		defer cancel()
		if _, err := o.fetch(ctx, o.sessions.Snapshot()); err != nil {
			o.log.Warn("Read-back after registration failed", "err", err)
		}
	})
}

func validateForm(name, contentHash string) map[interfaces.Field]string {
	fieldErrors := make(map[interfaces.Field]string)
	if res := validation.ValidateName(name); !res.Valid {
		fieldErrors[interfaces.FieldName] = res.Error.Error()
	}
	if !validation.ValidateContentHash(contentHash) {
		fieldErrors[interfaces.FieldContentHash] = validation.ErrInvalidContentHash
	}
	if len(fieldErrors) == 0 {
		return nil
	}
	return fieldErrors
}

func copyForm(f interfaces.FormState) interfaces.FormState {
	f.FieldErrors = copyFields(f.FieldErrors)
	return f
}

func copyFields(in map[interfaces.Field]string) map[interfaces.Field]string {
	if in == nil {
		return nil
	}
	out := make(map[interfaces.Field]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
