package context

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/ccoin/privacypool/internal/field"
)

func TestCalculateDeterministic(t *testing.T) {
	w := Withdrawal{
		Processooor: common.HexToAddress("0x9F2db792a6F2dAdf25D894cEd791080950bDE56f"),
		Data:        []byte{0x01, 0x02, 0x03},
	}
	scope := field.FromUint64(12345)

	a := Calculate(w, scope)
	b := Calculate(w, scope)
	if !a.Equal(b) {
		t.Fatal("context not deterministic")
	}
	if a.BigInt().Cmp(field.Modulus) >= 0 {
		t.Fatal("context not reduced into the field")
	}
}

// Any tampering with the bound payload (processooor, data bytes, or
// scope) must move the context.
func TestCalculateSensitivity(t *testing.T) {
	base := Withdrawal{
		Processooor: common.HexToAddress("0x9F2db792a6F2dAdf25D894cEd791080950bDE56f"),
		Data:        []byte{0x01, 0x02, 0x03},
	}
	scope := field.FromUint64(12345)
	baseCtx := Calculate(base, scope)

	flippedData := Withdrawal{Processooor: base.Processooor, Data: []byte{0x01, 0x02, 0x04}}
	if Calculate(flippedData, scope).Equal(baseCtx) {
		t.Fatal("data flip did not change context")
	}

	otherProcessor := Withdrawal{
		Processooor: common.HexToAddress("0x0000000000000000000000000000000000000001"),
		Data:        base.Data,
	}
	if Calculate(otherProcessor, scope).Equal(baseCtx) {
		t.Fatal("processooor change did not change context")
	}

	if Calculate(base, field.FromUint64(12346)).Equal(baseCtx) {
		t.Fatal("scope change did not change context")
	}
}

func TestCalculateEmptyData(t *testing.T) {
	w := Withdrawal{Processooor: common.Address{}, Data: nil}
	c := Calculate(w, field.Zero())
	if c.IsZero() {
		t.Fatal("keccak of a well-formed encoding should not be zero")
	}
}

// The encoding must be the canonical abi.encode((address,bytes), uint256):
// head [tupleOffset=0x40][scope], tail [addr][bytesOffset=0x40][len][data].
// Packing the tuple and the scope separately and concatenating yields
// different bytes, so this pins the exact preimage layout.
func TestCalculateMatchesCanonicalEncoding(t *testing.T) {
	processooor := common.HexToAddress("0x9F2db792a6F2dAdf25D894cEd791080950bDE56f")
	data := []byte{0x01, 0x02, 0x03}
	scope := field.FromUint64(12345)

	slot := func(v *big.Int) []byte {
		b := make([]byte, 32)
		v.FillBytes(b)
		return b
	}

	var preimage []byte
	preimage = append(preimage, slot(big.NewInt(0x40))...) // offset of the withdrawal tuple
	preimage = append(preimage, slot(scope.BigInt())...)   // scope
	preimage = append(preimage, slot(new(big.Int).SetBytes(processooor.Bytes()))...)
	preimage = append(preimage, slot(big.NewInt(0x40))...) // offset of data within the tuple
	preimage = append(preimage, slot(big.NewInt(int64(len(data))))...)
	padded := make([]byte, 32)
	copy(padded, data)
	preimage = append(preimage, padded...)

	want := field.FromBigInt(new(big.Int).SetBytes(crypto.Keccak256(preimage)))

	got := Calculate(Withdrawal{Processooor: processooor, Data: data}, scope)
	if !got.Equal(want) {
		t.Fatalf("context = %s, want %s (canonical abi.encode layout)", got, want)
	}
}
