package config

import (
	"fmt"

	"github.com/ruteri/identity-verification-dapp/validation"
)

// ValidationError is a single configuration problem.
type ValidationError struct {
	Path    string // e.g. "chain.contract_address"
	Message string
	Hint    string
}

func (e ValidationError) Error() string {
	if e.Hint != "" {
		return fmt.Sprintf("%s: %s; %s", e.Path, e.Message, e.Hint)
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// Validate returns every problem found, so they can be reported at once.
func (c *Config) Validate() []error {
	var errs []error

	if !validation.IsValidAddress(c.Chain.ContractAddress) {
		errs = append(errs, ValidationError{
			Path:    "chain.contract_address",
			Message: fmt.Sprintf("invalid address %q", c.Chain.ContractAddress),
			Hint:    "expected 0x followed by 40 hex characters",
		})
	}
	if c.Chain.DefaultChainID == 0 {
		errs = append(errs, ValidationError{Path: "chain.default_chain_id", Message: "must be positive"})
	}
	if len(c.Chain.SupportedNetworks) == 0 {
		errs = append(errs, ValidationError{Path: "chain.supported_networks", Message: "must not be empty"})
	}
	for i, id := range c.Chain.SupportedNetworks {
		if id == 0 {
			errs = append(errs, ValidationError{
				Path:    fmt.Sprintf("chain.supported_networks[%d]", i),
				Message: "must be positive",
			})
		}
	}

	if !gatewayPattern.MatchString(c.IPFS.Gateway) {
		errs = append(errs, ValidationError{
			Path:    "ipfs.gateway",
			Message: fmt.Sprintf("invalid gateway URL %q", c.IPFS.Gateway),
			Hint:    "expected http:// or https:// URL",
		})
	}

	if c.Transactions.GasBufferPercent > 100 {
		errs = append(errs, ValidationError{
			Path:    "transactions.gas_buffer_percent",
			Message: fmt.Sprintf("%d is out of range", c.Transactions.GasBufferPercent),
			Hint:    "expected 0-100",
		})
	}
	if c.Transactions.DefaultGasLimit == 0 {
		errs = append(errs, ValidationError{Path: "transactions.default_gas_limit", Message: "must be positive"})
	}

	if c.Session.ConnectTimeout <= 0 {
		errs = append(errs, ValidationError{Path: "session.connect_timeout", Message: "must be positive"})
	}
	if c.Session.NotificationDuration <= 0 {
		errs = append(errs, ValidationError{Path: "session.notification_duration", Message: "must be positive"})
	}

	return errs
}
