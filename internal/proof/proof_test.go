package proof

import (
	"context"
	"math/big"
	"testing"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/test"

	"github.com/ccoin/privacypool/internal/circuits"
	"github.com/ccoin/privacypool/internal/field"
	"github.com/ccoin/privacypool/internal/merkletree"
	"github.com/ccoin/privacypool/internal/poseidon"
)

// buildTrees inserts the parent commitment into a fresh state tree and its
// label into a fresh ASP tree, alongside a few unrelated leaves so the
// inclusion proofs carry real siblings.
func buildTrees(t *testing.T, commitmentHash, label field.Element) (state, asp *merkletree.LeanIMT, stateIdx, aspIdx int) {
	t.Helper()
	ctx := context.Background()

	state = merkletree.New(nil)
	for i := 0; i < 3; i++ {
		if _, err := state.Insert(ctx, field.FromUint64(uint64(9000+i))); err != nil {
			t.Fatalf("insert state filler: %v", err)
		}
	}
	var err error
	stateIdx, err = state.Insert(ctx, commitmentHash)
	if err != nil {
		t.Fatalf("insert commitment: %v", err)
	}

	asp = merkletree.New(nil)
	for i := 0; i < 2; i++ {
		if _, err := asp.Insert(ctx, field.FromUint64(uint64(7000+i))); err != nil {
			t.Fatalf("insert asp filler: %v", err)
		}
	}
	aspIdx, err = asp.Insert(ctx, label)
	if err != nil {
		t.Fatalf("insert label: %v", err)
	}
	return state, asp, stateIdx, aspIdx
}

func withdrawalInputs(t *testing.T, withdrawn uint64) *WithdrawalInputs {
	t.Helper()
	ctx := context.Background()

	label := field.FromUint64(555)
	existingValue := field.FromUint64(5_000_000)
	existingNullifier := field.FromUint64(7)
	existingSecret := field.FromUint64(11)

	precommitment := poseidon.HashPrecommitment(existingNullifier, existingSecret)
	commitmentHash := poseidon.Hash3(existingValue, label, precommitment)

	state, asp, stateIdx, aspIdx := buildTrees(t, commitmentHash, label)

	stateProof, err := state.GenerateProof(ctx, stateIdx)
	if err != nil {
		t.Fatalf("state proof: %v", err)
	}
	aspProof, err := asp.GenerateProof(ctx, aspIdx)
	if err != nil {
		t.Fatalf("asp proof: %v", err)
	}
	stateRoot, _ := state.Root(ctx)
	aspRoot, _ := asp.Root(ctx)

	return &WithdrawalInputs{
		Label:             label,
		ExistingValue:     existingValue,
		ExistingNullifier: existingNullifier,
		ExistingSecret:    existingSecret,
		NewNullifier:      field.FromUint64(13),
		NewSecret:         field.FromUint64(17),
		WithdrawnValue:    field.FromUint64(withdrawn),
		Context:           field.FromUint64(0xC0FFEE),
		StateProof:        stateProof,
		StateRoot:         stateRoot,
		ASPProof:          aspProof,
		ASPRoot:           aspRoot,
	}
}

func TestWithdrawalSignalLayout(t *testing.T) {
	if len(WithdrawalSignalNames) != 8 {
		t.Fatalf("signal name table must have 8 entries")
	}

	in := withdrawalInputs(t, 1_000_000)
	_, signals, err := BuildWithdrawalInputs(in)
	if err != nil {
		t.Fatalf("BuildWithdrawalInputs: %v", err)
	}
	if len(signals) != 8 {
		t.Fatalf("expected 8 public signals, got %d", len(signals))
	}

	remaining := in.ExistingValue.Sub(in.WithdrawnValue)
	newPre := poseidon.HashPrecommitment(in.NewNullifier, in.NewSecret)
	wantNew := poseidon.Hash3(remaining, in.Label, newPre)
	wantNullifierHash := poseidon.HashPrecommitment(in.ExistingNullifier, in.ExistingSecret)

	checks := []struct {
		name string
		got  *big.Int
		want *big.Int
	}{
		{"newCommitmentHash", signals[0], wantNew.BigInt()},
		{"existingNullifierHash", signals[1], wantNullifierHash.BigInt()},
		{"withdrawnValue", signals[2], in.WithdrawnValue.BigInt()},
		{"stateRoot", signals[3], in.StateRoot.BigInt()},
		{"stateTreeDepth", signals[4], big.NewInt(int64(in.StateProof.ActualDepth))},
		{"aspRoot", signals[5], in.ASPRoot.BigInt()},
		{"aspTreeDepth", signals[6], big.NewInt(int64(in.ASPProof.ActualDepth))},
		{"context", signals[7], in.Context.BigInt()},
	}
	for i, c := range checks {
		if c.got.Cmp(c.want) != 0 {
			t.Fatalf("signal %d (%s) = %s, want %s", i, c.name, c.got, c.want)
		}
		if WithdrawalSignalNames[i] != c.name {
			t.Fatalf("signal name %d = %q, want %q", i, WithdrawalSignalNames[i], c.name)
		}
	}
}

// A partial withdrawal with honest inclusion proofs must satisfy every
// circuit constraint.
func TestWithdrawalCircuitSolves(t *testing.T) {
	assert := test.NewAssert(t)

	in := withdrawalInputs(t, 1_000_000)
	assignment, _, err := BuildWithdrawalInputs(in)
	if err != nil {
		t.Fatalf("BuildWithdrawalInputs: %v", err)
	}

	assert.SolvingSucceeded(&circuits.WithdrawalCircuit{}, assignment, test.WithCurves(ecc.BN254))
}

// A full-value withdrawal leaves a zero-value child commitment and still
// solves.
func TestWithdrawalCircuitSolvesFullValue(t *testing.T) {
	assert := test.NewAssert(t)

	in := withdrawalInputs(t, 5_000_000)
	assignment, _, err := BuildWithdrawalInputs(in)
	if err != nil {
		t.Fatalf("BuildWithdrawalInputs: %v", err)
	}

	assert.SolvingSucceeded(&circuits.WithdrawalCircuit{}, assignment, test.WithCurves(ecc.BN254))
}

// Overwriting the label's ASP leaf with Poseidon1(0), the removal idiom,
// invalidates a proof generated against the old tree once it is checked
// against the new root.
func TestWithdrawalCircuitRejectsRemovedLabel(t *testing.T) {
	assert := test.NewAssert(t)
	ctx := context.Background()

	in := withdrawalInputs(t, 1_000_000)

	// Rebuild the ASP tree state the proof was generated from, then
	// remove the label and point the assignment at the new root.
	asp := merkletree.New(nil)
	for i := 0; i < 2; i++ {
		if _, err := asp.Insert(ctx, field.FromUint64(uint64(7000+i))); err != nil {
			t.Fatalf("insert asp filler: %v", err)
		}
	}
	labelIdx, err := asp.Insert(ctx, in.Label)
	if err != nil {
		t.Fatalf("insert label: %v", err)
	}
	if err := asp.Update(ctx, labelIdx, poseidon.Hash1(field.Zero())); err != nil {
		t.Fatalf("remove label: %v", err)
	}
	newRoot, _ := asp.Root(ctx)
	if newRoot.Equal(in.ASPRoot) {
		t.Fatal("removal did not change the ASP root")
	}
	in.ASPRoot = newRoot

	assignment, _, err := BuildWithdrawalInputs(in)
	if err != nil {
		t.Fatalf("BuildWithdrawalInputs: %v", err)
	}

	assert.SolvingFailed(&circuits.WithdrawalCircuit{}, assignment, test.WithCurves(ecc.BN254))
}

// Overdrawing must violate the withdrawnValue <= existingValue constraint.
func TestWithdrawalCircuitRejectsOverdraw(t *testing.T) {
	assert := test.NewAssert(t)

	in := withdrawalInputs(t, 6_000_000)
	assignment, _, err := BuildWithdrawalInputs(in)
	if err != nil {
		t.Fatalf("BuildWithdrawalInputs: %v", err)
	}

	assert.SolvingFailed(&circuits.WithdrawalCircuit{}, assignment, test.WithCurves(ecc.BN254))
}

// Full Groth16 round trip over the ragequit circuit: prove, verify, then
// flip a public signal and watch verification fail.
func TestRagequitProveVerifyRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("groth16 setup is slow")
	}

	m, err := NewManager()
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	in := &RagequitInputs{
		Value:     field.FromUint64(1_000_000),
		Label:     field.FromUint64(555),
		Nullifier: field.FromUint64(7),
		Secret:    field.FromUint64(11),
	}

	p, err := m.ProveRagequit(in)
	if err != nil {
		t.Fatalf("ProveRagequit: %v", err)
	}
	ok, err := m.VerifyRagequit(p)
	if err != nil {
		t.Fatalf("VerifyRagequit: %v", err)
	}
	if !ok {
		t.Fatal("honest ragequit proof did not verify")
	}

	p.PublicSignals[2] = new(big.Int).Add(p.PublicSignals[2], big.NewInt(1))
	ok, err = m.VerifyRagequit(p)
	if err != nil {
		t.Fatalf("VerifyRagequit (tampered): %v", err)
	}
	if ok {
		t.Fatal("tampered public signal still verified")
	}
}
