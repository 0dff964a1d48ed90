// Command identity registers and looks up identities from the terminal.
//
// Each invocation connects the configured wallet, binds the contract and
// runs one command:
//
//	identity --private-key $KEY connect
//	identity --private-key $KEY register --name "Alice Smith" --ipfs-hash Qm...
//	identity --keystore ~/.ethereum/keystore --passphrase $PW fetch
//	identity --ipfs-api localhost:5001 upload passport.pdf
//	identity network 11155111
//
// With --dev the commands run against an in-memory chain that has the
// contract deployed. State does not survive between invocations.
//
// Settings come from built-in defaults, then the --config YAML file, then
// flags and IDENTITY_* environment variables.
package main
