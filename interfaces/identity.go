package interfaces

import (
	"github.com/ethereum/go-ethereum/common"
)

// IdentityRecord is a name and content hash registered by Owner.
type IdentityRecord struct {
	Owner       common.Address `json:"owner"`
	Name        string         `json:"name"`
	ContentHash string         `json:"ipfs_hash"`
}

// Empty reports whether the contract returned nothing for the owner.
func (r IdentityRecord) Empty() bool {
	return r.Name == "" && r.ContentHash == ""
}

// FormState is the registration form as last submitted.
type FormState struct {
	Name        string           `json:"name"`
	ContentHash string           `json:"ipfs_hash"`
	FieldErrors map[Field]string `json:"field_errors,omitempty"`
}
