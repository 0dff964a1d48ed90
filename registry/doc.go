// Package registry is the client side of the IdentityVerification contract:
// a name and an IPFS content hash registered per sender address.
//
// The contract exposes two methods:
//
//	function registerIdentity(string _name, string _ipfsHash) external;
//	function getIdentity(address _user) external view returns (string, string);
//
// A Gateway holds the configured contract address. Bind produces a Binding
// for one chain and refuses to return it unless a read-only probe call
// succeeds, so callers never offer registration against a contract that is
// not deployed on the connected network. Bindings are immutable; switching
// chains means binding again.
//
// # Transaction Operations
//
// Register needs signing options from the wallet (bind.TransactOpts). It
// blocks until the transaction is mined and reports a failed receipt as a
// reverted error. Read-only operations need no signing options.
//
// # Usage Example
//
//	gateway := registry.NewGateway(contractAddress, logger)
//	binding, err := gateway.Bind(ctx, ethClient, chainID, account)
//	if err != nil {
//	    return err // categorized as contract_unreachable
//	}
//
//	record, err := gateway.Fetch(ctx, binding, account)
//	if record == nil && err == nil {
//	    // nothing registered yet
//	}
//
// MockBackend runs the same contract rules in memory and is used in tests
// and by the --dev mode of the binaries.
package registry
