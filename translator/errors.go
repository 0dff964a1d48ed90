// Package translator turns chain ids and raw wallet/chain errors into
// something a user can read.
package translator

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/ruteri/identity-verification-dapp/interfaces"
)

// UserRejectedCode is the EIP-1193 "user rejected request" error code.
const UserRejectedCode = 4001

const maxRawMessageLength = 100

// codedError matches go-ethereum's rpc.Error and wallet errors that carry a
// numeric code.
type codedError interface {
	error
	ErrorCode() int
}

type rule struct {
	category interfaces.Category
	message  string
	match    func(err error, msg string) bool
}

func contains(substrings ...string) func(error, string) bool {
	return func(_ error, msg string) bool {
		for _, s := range substrings {
			if strings.Contains(msg, s) {
				return true
			}
		}
		return false
	}
}

// Order matters: the first matching rule wins.
var rules = []rule{
	{interfaces.CategoryUserRejected, interfaces.MsgUserRejected, func(err error, msg string) bool {
		var coded codedError
		if errors.As(err, &coded) && coded.ErrorCode() == UserRejectedCode {
			return true
		}
		return contains("User denied", "user denied", "User rejected", "user rejected")(err, msg)
	}},
	{interfaces.CategoryInsufficientFunds, interfaces.MsgInsufficientFunds, contains("insufficient funds")},
	{interfaces.CategoryGasExceeded, interfaces.MsgGasExceeded, contains("gas required exceeds allowance")},
	{interfaces.CategoryNonceTooLow, interfaces.MsgNonceTooLow, contains("nonce too low")},
	{interfaces.CategoryUnderpriced, interfaces.MsgUnderpriced, contains("replacement transaction underpriced")},
	{interfaces.CategoryReverted, interfaces.MsgReverted, contains("revert")},
	{interfaces.CategoryNetworkError, interfaces.MsgNetworkError, func(err error, msg string) bool {
		var netErr net.Error
		if errors.As(err, &netErr) {
			return true
		}
		return errors.Is(err, context.DeadlineExceeded) || strings.Contains(msg, "network")
	}},
}

// Translate classifies err into exactly one category. Errors that are
// already categorized are returned as they are. Translate(nil) is nil.
func Translate(err error) *interfaces.Error {
	if err == nil {
		return nil
	}

	var categorized *interfaces.Error
	if errors.As(err, &categorized) {
		return categorized
	}

	msg := err.Error()
	for _, r := range rules {
		if r.match(err, msg) {
			return interfaces.NewError(r.category, r.message, err)
		}
	}

	if msg == "" {
		msg = interfaces.MsgUnknown
	}
	return interfaces.NewError(interfaces.CategoryUnknown, truncate(msg, maxRawMessageLength), err)
}

// Message is the user-facing text for err.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var verr *interfaces.ValidationErrors
	if errors.As(err, &verr) {
		return verr.Error()
	}
	return Translate(err).Message
}

func truncate(msg string, n int) string {
	runes := []rune(msg)
	if len(runes) <= n {
		return msg
	}
	return string(runes[:n]) + "..."
}
