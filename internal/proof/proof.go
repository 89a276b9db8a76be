// Package proof orchestrates Groth16 setup/prove/verify for the pool's two
// circuits: compile once, cache the keys, prove and verify over a fixed
// circuit set. Keys come from an in-process compile and Groth16 setup;
// this package does not load precompiled artifacts from internal/artifacts.
package proof

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	bn254backend "github.com/consensys/gnark/backend/groth16/bn254"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"

	"github.com/ccoin/privacypool/internal/circuits"
	"github.com/ccoin/privacypool/internal/field"
	"github.com/ccoin/privacypool/internal/merkletree"
	"github.com/ccoin/privacypool/internal/poseidon"
)

// ErrGenerationFailed wraps a prover-side failure.
var ErrGenerationFailed = errors.New("proof: generation failed")

// ErrVerificationFailed wraps a verifier-side failure (distinct from a
// verify call that legitimately returns false).
var ErrVerificationFailed = errors.New("proof: verification failed")

// Groth16Proof is the wire representation of a proof: piA/piB/piC plus the
// public signals in their fixed circuit order.
type Groth16Proof struct {
	PiA           [2]*big.Int
	PiB           [2][2]*big.Int
	PiC           [2]*big.Int
	PublicSignals []*big.Int
}

// Manager holds compiled constraint systems and their setup keys, built
// once at process start by NewManager, which compiles both circuits
// in-process rather than loading prebuilt keys.
type Manager struct {
	mu sync.RWMutex

	withdrawCS constraint.ConstraintSystem
	withdrawPK groth16.ProvingKey
	withdrawVK groth16.VerifyingKey

	commitCS constraint.ConstraintSystem
	commitPK groth16.ProvingKey
	commitVK groth16.VerifyingKey
}

// NewManager compiles both circuits and runs a trusted Groth16 setup for
// each. In production the proving/verification keys would instead be
// loaded from the artifacts.Loader; compiling here keeps the SDK usable
// standalone (e.g. for the recovery/test tooling) without a network or
// filesystem artifact bundle.
func NewManager() (*Manager, error) {
	m := &Manager{}

	wcs, err := frontend.Compile(ecc.BN254.ScalarField(), r1cs.NewBuilder, &circuits.WithdrawalCircuit{})
	if err != nil {
		return nil, fmt.Errorf("%w: compile withdrawal circuit: %v", ErrGenerationFailed, err)
	}
	wpk, wvk, err := groth16.Setup(wcs)
	if err != nil {
		return nil, fmt.Errorf("%w: setup withdrawal circuit: %v", ErrGenerationFailed, err)
	}
	m.withdrawCS, m.withdrawPK, m.withdrawVK = wcs, wpk, wvk

	ccs, err := frontend.Compile(ecc.BN254.ScalarField(), r1cs.NewBuilder, &circuits.CommitmentCircuit{})
	if err != nil {
		return nil, fmt.Errorf("%w: compile commitment circuit: %v", ErrGenerationFailed, err)
	}
	cpk, cvk, err := groth16.Setup(ccs)
	if err != nil {
		return nil, fmt.Errorf("%w: setup commitment circuit: %v", ErrGenerationFailed, err)
	}
	m.commitCS, m.commitPK, m.commitVK = ccs, cpk, cvk

	return m, nil
}

// WithdrawalSignalNames fixes the public-signal layout shared by the
// prover, the verifier, and the on-chain calldata encoder. The order is a
// hidden contract of the circuit interface; BuildWithdrawalInputs and
// VerifyWithdrawal each spell out the same order by hand rather than
// reading this table, and the layout test checks BuildWithdrawalInputs'
// signals against it.
var WithdrawalSignalNames = [8]string{
	"newCommitmentHash",
	"existingNullifierHash",
	"withdrawnValue",
	"stateRoot",
	"stateTreeDepth",
	"aspRoot",
	"aspTreeDepth",
	"context",
}

// WithdrawalInputs is the full witness assembly for a withdrawal proof,
// built from a parent commitment, its two inclusion proofs, and a fresh
// child precommitment.
type WithdrawalInputs struct {
	Label             field.Element
	ExistingValue     field.Element
	ExistingNullifier field.Element
	ExistingSecret    field.Element
	NewNullifier      field.Element
	NewSecret         field.Element

	WithdrawnValue field.Element
	Context        field.Element

	StateProof *merkletree.InclusionProof
	StateRoot  field.Element

	ASPProof *merkletree.InclusionProof
	ASPRoot  field.Element
}

// BuildWithdrawalInputs assembles the gnark witness assignment for
// WithdrawalCircuit from the higher-level inputs above, computing the new
// commitment hash and existing nullifier hash it asserts.
func BuildWithdrawalInputs(in *WithdrawalInputs) (*circuits.WithdrawalCircuit, []*big.Int, error) {
	stateSiblings, _ := merkletree.PadSiblings(in.StateProof, maxTreeDepth)
	aspSiblings, _ := merkletree.PadSiblings(in.ASPProof, maxTreeDepth)

	remaining := in.ExistingValue.Sub(in.WithdrawnValue)

	newPrecommitment := poseidon.HashPrecommitment(in.NewNullifier, in.NewSecret)
	newCommitmentHash := poseidon.Hash3(remaining, in.Label, newPrecommitment)
	existingNullifierHash := poseidon.HashPrecommitment(in.ExistingNullifier, in.ExistingSecret)

	assignment := &circuits.WithdrawalCircuit{
		NewCommitmentHash:     newCommitmentHash.BigInt(),
		ExistingNullifierHash: existingNullifierHash.BigInt(),
		WithdrawnValue:        in.WithdrawnValue.BigInt(),
		StateRoot:             in.StateRoot.BigInt(),
		StateTreeDepth:        big.NewInt(int64(in.StateProof.ActualDepth)),
		ASPRoot:               in.ASPRoot.BigInt(),
		ASPTreeDepth:          big.NewInt(int64(in.ASPProof.ActualDepth)),
		Context:               in.Context.BigInt(),

		Label:             in.Label.BigInt(),
		ExistingValue:     in.ExistingValue.BigInt(),
		ExistingNullifier: in.ExistingNullifier.BigInt(),
		ExistingSecret:    in.ExistingSecret.BigInt(),
		NewNullifier:      in.NewNullifier.BigInt(),
		NewSecret:         in.NewSecret.BigInt(),
		StateIndex:        new(big.Int).SetUint64(in.StateProof.PathIndex()),
		ASPIndex:          new(big.Int).SetUint64(in.ASPProof.PathIndex()),
	}
	for i := 0; i < len(stateSiblings) && i < len(assignment.StateSiblings); i++ {
		assignment.StateSiblings[i] = stateSiblings[i].BigInt()
	}
	for i := 0; i < len(aspSiblings) && i < len(assignment.ASPSiblings); i++ {
		assignment.ASPSiblings[i] = aspSiblings[i].BigInt()
	}

	publicSignals := []*big.Int{
		newCommitmentHash.BigInt(),
		existingNullifierHash.BigInt(),
		in.WithdrawnValue.BigInt(),
		in.StateRoot.BigInt(),
		big.NewInt(int64(in.StateProof.ActualDepth)),
		in.ASPRoot.BigInt(),
		big.NewInt(int64(in.ASPProof.ActualDepth)),
		in.Context.BigInt(),
	}

	return assignment, publicSignals, nil
}

// maxTreeDepth is the fixed depth both circuits pad inclusion proofs to.
const maxTreeDepth = 32

// ProveWithdrawal runs the full witness assembly plus Groth16 Prove, and
// returns the wire-ready proof (piA/piB/piC row-swapped at the contract
// boundary in internal/contract, not here; this layer stays chain-agnostic).
func (m *Manager) ProveWithdrawal(in *WithdrawalInputs) (*Groth16Proof, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	assignment, publicSignals, err := BuildWithdrawalInputs(in)
	if err != nil {
		return nil, err
	}

	w, err := frontend.NewWitness(assignment, ecc.BN254.ScalarField())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}
	gproof, err := groth16.Prove(m.withdrawCS, m.withdrawPK, w)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}

	piA, piB, piC, err := extractProofPoints(gproof)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}

	return &Groth16Proof{PiA: piA, PiB: piB, PiC: piC, PublicSignals: publicSignals}, nil
}

// VerifyWithdrawal re-derives the public witness from the proof's
// PublicSignals (in the WithdrawalSignalNames order) and runs Groth16
// verify against the withdrawal verification key.
func (m *Manager) VerifyWithdrawal(p *Groth16Proof) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(p.PublicSignals) != 8 {
		return false, fmt.Errorf("%w: withdrawal proof expects 8 public signals, got %d", ErrVerificationFailed, len(p.PublicSignals))
	}
	assignment := &circuits.WithdrawalCircuit{
		NewCommitmentHash:     p.PublicSignals[0],
		ExistingNullifierHash: p.PublicSignals[1],
		WithdrawnValue:        p.PublicSignals[2],
		StateRoot:             p.PublicSignals[3],
		StateTreeDepth:        p.PublicSignals[4],
		ASPRoot:               p.PublicSignals[5],
		ASPTreeDepth:          p.PublicSignals[6],
		Context:               p.PublicSignals[7],
	}
	return verifyAgainst(m.withdrawVK, p, assignment)
}

// RagequitInputs is the witness assembly for a ragequit (commitment) proof.
type RagequitInputs struct {
	Value     field.Element
	Label     field.Element
	Nullifier field.Element
	Secret    field.Element
}

// BuildRagequitInputs computes the commitment/nullifier hashes and returns
// the gnark witness assignment plus the public signals in their fixed
// order: commitmentHash, nullifierHash, value, label.
func BuildRagequitInputs(in *RagequitInputs) (*circuits.CommitmentCircuit, []*big.Int, error) {
	c, err := commitmentFromInputs(in)
	if err != nil {
		return nil, nil, err
	}
	assignment := &circuits.CommitmentCircuit{
		CommitmentHash: c.hash.BigInt(),
		NullifierHash:  c.nullifierHash.BigInt(),
		Value:          in.Value.BigInt(),
		Label:          in.Label.BigInt(),
		Nullifier:      in.Nullifier.BigInt(),
		Secret:         in.Secret.BigInt(),
	}
	publicSignals := []*big.Int{
		c.hash.BigInt(),
		c.nullifierHash.BigInt(),
		in.Value.BigInt(),
		in.Label.BigInt(),
	}
	return assignment, publicSignals, nil
}

type commitmentHashes struct {
	hash          field.Element
	nullifierHash field.Element
}

func commitmentFromInputs(in *RagequitInputs) (*commitmentHashes, error) {
	precommitment := poseidon.HashPrecommitment(in.Nullifier, in.Secret)
	hash := poseidon.Hash3(in.Value, in.Label, precommitment)
	return &commitmentHashes{hash: hash, nullifierHash: precommitment}, nil
}

// ProveRagequit runs Groth16 Prove for the commitment circuit.
func (m *Manager) ProveRagequit(in *RagequitInputs) (*Groth16Proof, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	assignment, publicSignals, err := BuildRagequitInputs(in)
	if err != nil {
		return nil, err
	}

	w, err := frontend.NewWitness(assignment, ecc.BN254.ScalarField())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}
	gproof, err := groth16.Prove(m.commitCS, m.commitPK, w)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}

	piA, piB, piC, err := extractProofPoints(gproof)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}

	return &Groth16Proof{PiA: piA, PiB: piB, PiC: piC, PublicSignals: publicSignals}, nil
}

// VerifyRagequit verifies a ragequit proof against the commitment verification key.
func (m *Manager) VerifyRagequit(p *Groth16Proof) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(p.PublicSignals) != 4 {
		return false, fmt.Errorf("%w: ragequit proof expects 4 public signals, got %d", ErrVerificationFailed, len(p.PublicSignals))
	}
	assignment := &circuits.CommitmentCircuit{
		CommitmentHash: p.PublicSignals[0],
		NullifierHash:  p.PublicSignals[1],
		Value:          p.PublicSignals[2],
		Label:          p.PublicSignals[3],
	}
	return verifyAgainst(m.commitVK, p, assignment)
}

func verifyAgainst(vk groth16.VerifyingKey, p *Groth16Proof, publicAssignment frontend.Circuit) (bool, error) {
	gproof, err := reconstructProof(p)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrVerificationFailed, err)
	}

	w, err := frontend.NewWitness(publicAssignment, ecc.BN254.ScalarField(), frontend.PublicOnly())
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrVerificationFailed, err)
	}

	if err := groth16.Verify(gproof, vk, w); err != nil {
		return false, nil
	}
	return true, nil
}

// extractProofPoints pulls the raw affine coordinates out of a BN254
// Groth16 proof so they can be packaged for on-chain calldata (the piB
// row-swap itself happens at the contract boundary, internal/contract).
func extractProofPoints(p groth16.Proof) (piA [2]*big.Int, piB [2][2]*big.Int, piC [2]*big.Int, err error) {
	bp, ok := p.(*bn254backend.Proof)
	if !ok {
		return piA, piB, piC, fmt.Errorf("unexpected proof concrete type %T", p)
	}

	var ax, ay, cx, cy big.Int
	bp.Ar.X.BigInt(&ax)
	bp.Ar.Y.BigInt(&ay)
	bp.Krs.X.BigInt(&cx)
	bp.Krs.Y.BigInt(&cy)

	var bx0, bx1, by0, by1 big.Int
	bp.Bs.X.A0.BigInt(&bx0)
	bp.Bs.X.A1.BigInt(&bx1)
	bp.Bs.Y.A0.BigInt(&by0)
	bp.Bs.Y.A1.BigInt(&by1)

	return [2]*big.Int{&ax, &ay}, [2][2]*big.Int{{&bx0, &bx1}, {&by0, &by1}}, [2]*big.Int{&cx, &cy}, nil
}

// reconstructProof is the inverse of extractProofPoints, used on the
// verify path when a proof arrives over the wire as plain big integers.
func reconstructProof(p *Groth16Proof) (groth16.Proof, error) {
	bp := &bn254backend.Proof{}
	bp.Ar.X.SetBigInt(p.PiA[0])
	bp.Ar.Y.SetBigInt(p.PiA[1])
	bp.Krs.X.SetBigInt(p.PiC[0])
	bp.Krs.Y.SetBigInt(p.PiC[1])
	bp.Bs.X.A0.SetBigInt(p.PiB[0][0])
	bp.Bs.X.A1.SetBigInt(p.PiB[0][1])
	bp.Bs.Y.A0.SetBigInt(p.PiB[1][0])
	bp.Bs.Y.A1.SetBigInt(p.PiB[1][1])
	return bp, nil
}
