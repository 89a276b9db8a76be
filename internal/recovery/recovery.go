// Package recovery implements brute-force commitment value recovery: given
// a known (label, precommitmentHash) pair and a candidate value range, it
// searches for the value whose commitment hash matches a known on-chain
// commitment. Ranges are integer-denominated in the asset's smallest
// unit, so {min, max, step} are *big.Int, never
// floats; a non-terminating decimal scaled from a human-readable amount
// would silently pick the wrong candidate set.
package recovery

import (
	"context"
	"errors"
	"math/big"

	"github.com/ccoin/privacypool/internal/field"
	"github.com/ccoin/privacypool/internal/poseidon"
)

// ErrNotFound is returned when the full range is scanned with no match.
var ErrNotFound = errors.New("recovery: no candidate value matched the target commitment")

// ErrTimeout is returned when ctx is cancelled before a match or an
// exhaustive scan completes.
var ErrTimeout = errors.New("recovery: search timed out")

// Range bounds an inclusive integer scan [Min, Max] advancing by Step.
// Step must be positive.
type Range struct {
	Min  *big.Int
	Max  *big.Int
	Step *big.Int
}

// Target is the known commitment the search tries to explain.
type Target struct {
	Label             field.Element
	PrecommitmentHash field.Element
	CommitmentHash    field.Element
}

// Result is a found value alongside the commitment it reconstructs to.
type Result struct {
	Value          field.Element
	CommitmentHash field.Element
}

// Search scans r linearly, recomputing
// hash = Poseidon3(value, label, precommitmentHash) for each candidate and
// comparing it to target.CommitmentHash. It returns as soon as a match is
// found, ErrNotFound once the range is exhausted, or ErrTimeout if ctx is
// cancelled first.
func Search(ctx context.Context, target Target, r Range) (*Result, error) {
	if r.Step == nil || r.Step.Sign() <= 0 {
		return nil, errors.New("recovery: step must be positive")
	}
	if r.Min == nil || r.Max == nil || r.Min.Cmp(r.Max) > 0 {
		return nil, errors.New("recovery: invalid range")
	}

	checkEvery := 4096
	iterations := 0

	value := new(big.Int).Set(r.Min)
	for value.Cmp(r.Max) <= 0 {
		iterations++
		if iterations%checkEvery == 0 {
			select {
			case <-ctx.Done():
				return nil, ErrTimeout
			default:
			}
		}

		candidate := field.FromBigInt(value)
		hash := poseidon.Hash3(candidate, target.Label, target.PrecommitmentHash)
		if hash.Equal(target.CommitmentHash) {
			return &Result{Value: candidate, CommitmentHash: hash}, nil
		}

		value = new(big.Int).Add(value, r.Step)
	}

	select {
	case <-ctx.Done():
		return nil, ErrTimeout
	default:
	}
	return nil, ErrNotFound
}
