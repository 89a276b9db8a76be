// Package circuits defines the gnark R1CS circuits for withdrawal proofs
// and ragequit (commitment) proofs. The hash2/hash3 helpers here are the
// in-circuit counterpart of internal/poseidon's native hash: the same
// Poseidon2 permutation parameters and Merkle-Damgard construction, so a
// witness value hashed off-circuit satisfies the in-circuit constraint
// bit-for-bit.
package circuits

import (
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/std/hash"
	"github.com/consensys/gnark/std/permutation/poseidon2"
)

// maxDepth is the fixed circuit tree depth both the state and ASP trees
// are padded to.
const maxDepth = 32

func newFieldHasher(api frontend.API) (hash.FieldHasher, error) {
	p, err := poseidon2.NewPoseidon2FromParameters(api, 2, 6, 50)
	if err != nil {
		return nil, err
	}
	return hash.NewMerkleDamgardHasher(api, p, 0), nil
}

func hash2(h hash.FieldHasher, a, b frontend.Variable) frontend.Variable {
	h.Reset()
	h.Write(a, b)
	return h.Sum()
}

func hash3(h hash.FieldHasher, a, b, c frontend.Variable) frontend.Variable {
	h.Reset()
	h.Write(a, b, c)
	return h.Sum()
}

// verifyInclusion folds leaf upward through siblings/pathBits and asserts
// the result equals root. A zero sibling means the node was promoted
// without a partner at that level (the Lean-IMT no-padding-during-hashing
// rule) and the node passes through unchanged. This is what lets a single
// maxDepth-fixed circuit accept proofs of any actual tree depth ≤ maxDepth.
func verifyInclusion(api frontend.API, h hash.FieldHasher, leaf frontend.Variable, siblings [maxDepth]frontend.Variable, index frontend.Variable, root frontend.Variable) {
	bits := api.ToBinary(index, maxDepth)
	node := leaf
	for i := 0; i < maxDepth; i++ {
		sibling := siblings[i]
		isZero := api.IsZero(sibling)

		left := hash2(h, node, sibling)
		right := hash2(h, sibling, node)
		hashed := api.Select(bits[i], right, left)

		node = api.Select(isZero, node, hashed)
	}
	api.AssertIsEqual(node, root)
}
