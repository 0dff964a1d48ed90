package interfaces

import (
	"github.com/ethereum/go-ethereum/common"
)

// ConnectionState is the state of the wallet session.
type ConnectionState int

const (
	Disconnected ConnectionState = iota
	Connecting
	Connected
	Errored
)

func (s ConnectionState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Errored:
		return "error"
	default:
		return "invalid"
	}
}

// MarshalText lets the state appear by name in JSON payloads.
func (s ConnectionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Session is the wallet connection as seen by the rest of the client.
// A zero Account means no account, a zero ChainID means the chain is unknown.
type Session struct {
	Account   common.Address
	ChainID   uint64
	State     ConnectionState
	LastError string
}

// HasAccount reports whether an account is selected.
func (s Session) HasAccount() bool {
	return s.Account != (common.Address{})
}
