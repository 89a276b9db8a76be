package recovery

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ccoin/privacypool/internal/field"
	"github.com/ccoin/privacypool/internal/poseidon"
)

func TestSearchFindsValueWithinRange(t *testing.T) {
	label := field.FromUint64(7)
	precommitment := field.FromUint64(1234)
	wantValue := field.FromUint64(42)
	target := Target{
		Label:             label,
		PrecommitmentHash: precommitment,
		CommitmentHash:    poseidon.Hash3(wantValue, label, precommitment),
	}

	res, err := Search(context.Background(), target, Range{
		Min:  big.NewInt(0),
		Max:  big.NewInt(1000),
		Step: big.NewInt(1),
	})
	if err != nil {
		t.Fatalf("Search returned error: %v", err)
	}
	if !res.Value.Equal(wantValue) {
		t.Fatalf("Search found wrong value: got %s want %s", res.Value.ToFixedHex(), wantValue.ToFixedHex())
	}
}

func TestSearchNotFound(t *testing.T) {
	label := field.FromUint64(7)
	precommitment := field.FromUint64(1234)
	target := Target{
		Label:             label,
		PrecommitmentHash: precommitment,
		CommitmentHash:    poseidon.Hash3(field.FromUint64(99999), label, precommitment),
	}

	_, err := Search(context.Background(), target, Range{
		Min:  big.NewInt(0),
		Max:  big.NewInt(10),
		Step: big.NewInt(1),
	})
	if err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSearchTimeout(t *testing.T) {
	label := field.FromUint64(7)
	precommitment := field.FromUint64(1234)
	target := Target{
		Label:             label,
		PrecommitmentHash: precommitment,
		CommitmentHash:    poseidon.Hash3(field.FromUint64(1<<40), label, precommitment),
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
	defer cancel()

	_, err := Search(ctx, target, Range{
		Min:  big.NewInt(0),
		Max:  new(big.Int).Lsh(big.NewInt(1), 50),
		Step: big.NewInt(1),
	})
	if err != ErrTimeout {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}
