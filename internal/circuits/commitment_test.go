package circuits

import (
	"testing"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/test"

	"github.com/ccoin/privacypool/internal/commitment"
	"github.com/ccoin/privacypool/internal/field"
)

func TestCommitmentCircuit(t *testing.T) {
	assert := test.NewAssert(t)

	nullifier := field.FromUint64(7)
	secret := field.FromUint64(11)
	value := field.FromUint64(1_000_000)
	label := field.FromUint64(555)

	c, err := commitment.GetCommitment(value, label, nullifier, secret)
	if err != nil {
		t.Fatalf("GetCommitment failed: %v", err)
	}

	witness := &CommitmentCircuit{
		CommitmentHash: c.Hash.BigInt(),
		NullifierHash:  c.NullifierHash.BigInt(),
		Value:          value.BigInt(),
		Label:          label.BigInt(),
		Nullifier:      nullifier.BigInt(),
		Secret:         secret.BigInt(),
	}

	assert.SolvingSucceeded(&CommitmentCircuit{}, witness, test.WithCurves(ecc.BN254))
}
