// Package poseidon provides the Poseidon hash family used throughout the
// pool: Poseidon1/2/3/4 over the BN254 scalar field. It is built on
// gnark-crypto's native Poseidon2 permutation in the Merkle-Damgard
// construction, bit-identical to the in-circuit hasher the withdrawal and
// ragequit circuits use (internal/circuits), so every hash a prover
// assembles as a witness value matches the constraint the verifier checks.
package poseidon

import (
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr/poseidon2"

	"github.com/ccoin/privacypool/internal/field"
)

func hashElems(ins ...field.Element) field.Element {
	h := poseidon2.NewMerkleDamgardHasher()
	for _, in := range ins {
		f := in.FrElement()
		b := f.Bytes()
		// Write over 32-byte blocks cannot fail.
		_, _ = h.Write(b[:])
	}
	var out fr.Element
	out.SetBytes(h.Sum(nil))
	return field.FromBigInt(out.BigInt(new(big.Int)))
}

// Hash1 computes Poseidon over a single input, used for scalar-to-field
// reductions (e.g. deriving masterNullifier/masterSecret from a BIP-32 key)
// and for the ASP removal sentinel Poseidon1(0).
func Hash1(a field.Element) field.Element {
	return hashElems(a)
}

// Hash2 computes Poseidon2(a, b), the precommitment hash and the internal
// Merkle tree node hash.
func Hash2(a, b field.Element) field.Element {
	return hashElems(a, b)
}

// Hash3 computes Poseidon3(a, b, c), the commitment hash
// Poseidon3(value, label, precommitmentHash) and the per-deposit key
// derivation formulas.
func Hash3(a, b, c field.Element) field.Element {
	return hashElems(a, b, c)
}

// Hash4 computes Poseidon4(a, b, c, d), reserved for layouts that need a
// 4-ary compression (not used by the fixed withdrawal/ragequit circuits
// today).
func Hash4(a, b, c, d field.Element) field.Element {
	return hashElems(a, b, c, d)
}

// HashPrecommitment computes Poseidon2(nullifier, secret), the value
// revealed on deposit that doubles as the future nullifier hash.
func HashPrecommitment(nullifier, secret field.Element) field.Element {
	return Hash2(nullifier, secret)
}
