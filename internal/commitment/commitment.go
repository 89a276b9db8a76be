// Package commitment implements the shielded note model: precommitments,
// commitments, and the nullifier-hash relation that binds them.
package commitment

import (
	"errors"

	"github.com/ccoin/privacypool/internal/field"
	"github.com/ccoin/privacypool/internal/poseidon"
)

// ErrZeroSecret is returned when nullifier, secret or label is zero.
var ErrZeroSecret = errors.New("commitment: nullifier, secret and label must be non-zero")

// Precommitment is the pair (nullifier, secret) revealed on deposit as its
// hash, which doubles as the commitment's future nullifier hash.
type Precommitment struct {
	Nullifier field.Element
	Secret    field.Element
	Hash      field.Element
}

// NewPrecommitment validates nullifier/secret are non-zero and computes
// precommitmentHash = Poseidon2(nullifier, secret).
func NewPrecommitment(nullifier, secret field.Element) (*Precommitment, error) {
	if nullifier.IsZero() || secret.IsZero() {
		return nil, ErrZeroSecret
	}
	return &Precommitment{
		Nullifier: nullifier,
		Secret:    secret,
		Hash:      poseidon.HashPrecommitment(nullifier, secret),
	}, nil
}

// Commitment is a shielded note inserted into the state tree:
// hash = Poseidon3(value, label, precommitmentHash).
type Commitment struct {
	Hash          field.Element
	NullifierHash field.Element
	Value         field.Element
	Label         field.Element
	Precommitment field.Element
}

// GetCommitment validates inputs and computes the complete commitment.
// nullifierHash equals precommitmentHash by construction.
func GetCommitment(value, label, nullifier, secret field.Element) (*Commitment, error) {
	if nullifier.IsZero() || secret.IsZero() || label.IsZero() {
		return nil, ErrZeroSecret
	}
	precommitmentHash := poseidon.HashPrecommitment(nullifier, secret)
	hash := poseidon.Hash3(value, label, precommitmentHash)
	return &Commitment{
		Hash:          hash,
		NullifierHash: precommitmentHash,
		Value:         value,
		Label:         label,
		Precommitment: precommitmentHash,
	}, nil
}

// DeriveChild computes the withdrawal-remainder commitment that replaces
// this commitment after withdrawing withdrawnValue, reusing this
// commitment's label and the caller-supplied fresh (newNullifier,
// newSecret) pair.
func (c *Commitment) DeriveChild(withdrawnValue, newNullifier, newSecret field.Element) (*Commitment, error) {
	remaining := c.Value.Sub(withdrawnValue)
	return GetCommitment(remaining, c.Label, newNullifier, newSecret)
}
