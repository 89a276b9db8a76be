package circuits

import "github.com/consensys/gnark/frontend"

// CommitmentCircuit backs the ragequit proof: a permissionless exit by the
// original depositor using only knowledge of the commitment preimage,
// bypassing the ASP tree entirely. Public signal order is fixed:
// CommitmentHash, NullifierHash, Value, Label.
type CommitmentCircuit struct {
	CommitmentHash frontend.Variable `gnark:",public"`
	NullifierHash  frontend.Variable `gnark:",public"`
	Value          frontend.Variable `gnark:",public"`
	Label          frontend.Variable `gnark:",public"`

	Nullifier frontend.Variable
	Secret    frontend.Variable
}

func (c *CommitmentCircuit) Define(api frontend.API) error {
	h, err := newFieldHasher(api)
	if err != nil {
		return err
	}

	precommitment := hash2(h, c.Nullifier, c.Secret)
	commitmentHash := hash3(h, c.Value, c.Label, precommitment)

	api.AssertIsEqual(c.CommitmentHash, commitmentHash)
	api.AssertIsEqual(c.NullifierHash, precommitment)

	return nil
}
