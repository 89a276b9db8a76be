package circuits

import "github.com/consensys/gnark/frontend"

// WithdrawalCircuit enforces the withdrawal relation: the parent
// commitment's preimage is known, it is included in both the state tree
// and (via its label) the ASP tree, the new child commitment is correctly
// derived from the remaining value and a fresh precommitment, and the
// revealed nullifier hash matches the parent's precommitment hash.
//
// Public signal order is a fixed contract and must never change:
// NewCommitmentHash, ExistingNullifierHash, WithdrawnValue, StateRoot,
// StateTreeDepth, ASPRoot, ASPTreeDepth, Context.
type WithdrawalCircuit struct {
	NewCommitmentHash     frontend.Variable `gnark:",public"`
	ExistingNullifierHash frontend.Variable `gnark:",public"`
	WithdrawnValue        frontend.Variable `gnark:",public"`
	StateRoot             frontend.Variable `gnark:",public"`
	StateTreeDepth        frontend.Variable `gnark:",public"`
	ASPRoot               frontend.Variable `gnark:",public"`
	ASPTreeDepth          frontend.Variable `gnark:",public"`
	Context               frontend.Variable `gnark:",public"`

	Label             frontend.Variable
	ExistingValue     frontend.Variable
	ExistingNullifier frontend.Variable
	ExistingSecret    frontend.Variable
	NewNullifier      frontend.Variable
	NewSecret         frontend.Variable

	StateSiblings [maxDepth]frontend.Variable
	StateIndex    frontend.Variable

	ASPSiblings [maxDepth]frontend.Variable
	ASPIndex    frontend.Variable
}

func (c *WithdrawalCircuit) Define(api frontend.API) error {
	h, err := newFieldHasher(api)
	if err != nil {
		return err
	}

	precommitment := hash2(h, c.ExistingNullifier, c.ExistingSecret)
	commitmentHash := hash3(h, c.ExistingValue, c.Label, precommitment)
	api.AssertIsEqual(c.ExistingNullifierHash, precommitment)

	verifyInclusion(api, h, commitmentHash, c.StateSiblings, c.StateIndex, c.StateRoot)
	verifyInclusion(api, h, c.Label, c.ASPSiblings, c.ASPIndex, c.ASPRoot)

	remaining := api.Sub(c.ExistingValue, c.WithdrawnValue)
	newPrecommitment := hash2(h, c.NewNullifier, c.NewSecret)
	newCommitmentHash := hash3(h, remaining, c.Label, newPrecommitment)
	api.AssertIsEqual(c.NewCommitmentHash, newCommitmentHash)

	api.AssertIsLessOrEqual(c.WithdrawnValue, c.ExistingValue)
	api.AssertIsLessOrEqual(c.StateTreeDepth, maxDepth)
	api.AssertIsLessOrEqual(c.ASPTreeDepth, maxDepth)

	return nil
}
