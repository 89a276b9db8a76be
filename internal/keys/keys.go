// Package keys implements deterministic key derivation for the pool: a
// BIP-39 mnemonic yields two master secrets, from which every
// deposit/withdrawal-child nullifier and secret pair is derived
// deterministically by (scope-or-label, index).
package keys

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/tyler-smith/go-bip32"
	"github.com/tyler-smith/go-bip39"

	"github.com/ccoin/privacypool/internal/field"
	"github.com/ccoin/privacypool/internal/poseidon"
)

// ErrInvalidMnemonic is returned when the supplied mnemonic fails BIP-39
// checksum validation.
var ErrInvalidMnemonic = errors.New("keys: invalid mnemonic")

// ErrZeroMasterKey is returned in the astronomically unlikely event a
// derived master secret reduces to zero.
var ErrZeroMasterKey = errors.New("keys: derived master key is zero")

// MasterKeys holds the two master secrets derived once per mnemonic.
type MasterKeys struct {
	MasterNullifier field.Element
	MasterSecret    field.Element
}

// GenerateMasterKeys derives BIP-32 keys at accounts 0 and 1 from the
// mnemonic's seed, then reduces each account's private key through
// Poseidon1 into masterNullifier / masterSecret.
func GenerateMasterKeys(mnemonic string) (*MasterKeys, error) {
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, ErrInvalidMnemonic
	}
	seed := bip39.NewSeed(mnemonic, "")

	master, err := bip32.NewMasterKey(seed)
	if err != nil {
		return nil, fmt.Errorf("keys: derive master key: %w", err)
	}

	account0, err := master.NewChildKey(0)
	if err != nil {
		return nil, fmt.Errorf("keys: derive account 0: %w", err)
	}
	account1, err := master.NewChildKey(1)
	if err != nil {
		return nil, fmt.Errorf("keys: derive account 1: %w", err)
	}

	masterNullifier := poseidon.Hash1(scalarFromPrivateKey(account0))
	masterSecret := poseidon.Hash1(scalarFromPrivateKey(account1))

	if masterNullifier.IsZero() || masterSecret.IsZero() {
		return nil, ErrZeroMasterKey
	}

	return &MasterKeys{MasterNullifier: masterNullifier, MasterSecret: masterSecret}, nil
}

func scalarFromPrivateKey(k *bip32.Key) field.Element {
	return field.FromBigInt(new(big.Int).SetBytes(k.Key))
}

// DepositSecrets derives the (nullifier, secret) pair for a fresh deposit
// under the given pool scope and caller-maintained monotonic index.
func (mk *MasterKeys) DepositSecrets(scope field.Element, index uint64) (nullifier, secret field.Element) {
	idx := field.FromUint64(index)
	nullifier = poseidon.Hash3(mk.MasterNullifier, scope, idx)
	secret = poseidon.Hash3(mk.MasterSecret, scope, idx)
	return
}

// WithdrawalChildSecrets derives the (nullifier, secret) pair for a
// withdrawal-remainder commitment, keyed by the parent deposit's label
// instead of the pool scope.
func (mk *MasterKeys) WithdrawalChildSecrets(label field.Element, index uint64) (nullifier, secret field.Element) {
	idx := field.FromUint64(index)
	nullifier = poseidon.Hash3(mk.MasterNullifier, label, idx)
	secret = poseidon.Hash3(mk.MasterSecret, label, idx)
	return
}
