package interfaces

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Category classifies every failure surfaced to the user.
type Category string

const (
	CategoryValidation          Category = "validation"
	CategoryNoWalletCapability  Category = "no_wallet_capability"
	CategoryNotReady            Category = "not_ready"
	CategoryUserRejected        Category = "user_rejected"
	CategoryInsufficientFunds   Category = "insufficient_funds"
	CategoryGasExceeded         Category = "gas_exceeded"
	CategoryNonceTooLow         Category = "nonce_too_low"
	CategoryUnderpriced         Category = "underpriced"
	CategoryReverted            Category = "reverted"
	CategoryNetworkError        Category = "network_error"
	CategoryContractUnreachable Category = "contract_unreachable"
	CategoryUnknown             Category = "unknown"
)

// User-facing messages for each category.
const (
	MsgNoWallet            = "Please install a wallet provider to use this application."
	MsgNoAccounts          = "No accounts found. Please connect your wallet."
	MsgNotReady            = "Wallet is not connected or the contract is not loaded."
	MsgBusy                = "Another request is already in progress."
	MsgNetworkNotSupported = "This network is not supported. Please switch to a supported network."
	MsgContractNotFound    = "Smart contract not found on this network."
	MsgUserRejected        = "Transaction was rejected by user"
	MsgInsufficientFunds   = "Insufficient funds for transaction"
	MsgGasExceeded         = "Transaction requires more gas than allowed"
	MsgNonceTooLow         = "Transaction nonce too low. Please try again"
	MsgUnderpriced         = "Transaction fee too low. Please increase gas price"
	MsgReverted            = "Transaction failed. You may have already registered or contract conditions not met"
	MsgNetworkError        = "Network connection error. Please check your connection"
	MsgUnknown             = "Unknown error occurred"
)

// Error is a categorized, user-presentable error. Cause keeps the raw
// provider or chain error for logging and errors.Is/As.
type Error struct {
	Category Category
	Message  string
	Cause    error
}

// NewError creates a categorized error wrapping cause.
func NewError(category Category, message string, cause error) *Error {
	return &Error{Category: category, Message: message, Cause: cause}
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches any *Error of the same category, so sentinel values below can
// be used with errors.Is.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Category == e.Category
}

var (
	ErrNoWalletCapability  = NewError(CategoryNoWalletCapability, MsgNoWallet, nil)
	ErrNotReady            = NewError(CategoryNotReady, MsgNotReady, nil)
	ErrContractUnreachable = NewError(CategoryContractUnreachable, MsgContractNotFound, nil)
	ErrUserRejected        = NewError(CategoryUserRejected, MsgUserRejected, nil)
)

// CategoryOf reports the category of err, or CategoryUnknown when err was
// never translated.
func CategoryOf(err error) Category {
	if err == nil {
		return ""
	}
	var verr *ValidationErrors
	if errors.As(err, &verr) {
		return CategoryValidation
	}
	var cerr *Error
	if errors.As(err, &cerr) {
		return cerr.Category
	}
	return CategoryUnknown
}

// Field names a form field.
type Field string

const (
	FieldName        Field = "name"
	FieldContentHash Field = "ipfs_hash"
)

// ValidationErrors carries field-scoped validation failures. It never
// originates from the network.
type ValidationErrors struct {
	Fields map[Field]string
}

func (e *ValidationErrors) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, string(k))
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, e.Fields[Field(k)]))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}
