package contract

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ccoin/privacypool/internal/field"
	"github.com/ccoin/privacypool/internal/proof"
)

func TestEncodeWithdrawalProofSwapsPiBRows(t *testing.T) {
	p := &proof.Groth16Proof{
		PiA: [2]*big.Int{big.NewInt(1), big.NewInt(2)},
		PiB: [2][2]*big.Int{
			{big.NewInt(10), big.NewInt(11)},
			{big.NewInt(20), big.NewInt(21)},
		},
		PiC:           [2]*big.Int{big.NewInt(3), big.NewInt(4)},
		PublicSignals: make([]*big.Int, 8),
	}
	for i := range p.PublicSignals {
		p.PublicSignals[i] = big.NewInt(int64(i))
	}

	enc, err := EncodeWithdrawalProof(p)
	if err != nil {
		t.Fatalf("EncodeWithdrawalProof: %v", err)
	}

	if enc.PiB[0][0].Cmp(big.NewInt(11)) != 0 || enc.PiB[0][1].Cmp(big.NewInt(10)) != 0 {
		t.Fatalf("row 0 not swapped: got %v", enc.PiB[0])
	}
	if enc.PiB[1][0].Cmp(big.NewInt(21)) != 0 || enc.PiB[1][1].Cmp(big.NewInt(20)) != 0 {
		t.Fatalf("row 1 not swapped: got %v", enc.PiB[1])
	}
}

func TestEncodeWithdrawalProofRejectsWrongSignalCount(t *testing.T) {
	p := &proof.Groth16Proof{
		PiA:           [2]*big.Int{big.NewInt(1), big.NewInt(2)},
		PiB:           [2][2]*big.Int{{big.NewInt(1), big.NewInt(2)}, {big.NewInt(3), big.NewInt(4)}},
		PiC:           [2]*big.Int{big.NewInt(5), big.NewInt(6)},
		PublicSignals: []*big.Int{big.NewInt(1)},
	}
	if _, err := EncodeWithdrawalProof(p); err == nil {
		t.Fatal("expected error for wrong signal count")
	}
}

func TestPackDeposit(t *testing.T) {
	precommitHash := field.FromUint64(42)
	data, err := packDeposit(precommitHash)
	if err != nil {
		t.Fatalf("packDeposit: %v", err)
	}
	if len(data) != 4+32 {
		t.Fatalf("unexpected calldata length: %d", len(data))
	}
}

// relay((address,bytes),uint256[2],uint256[2][2],uint256[2],uint256[8])
// has seventeen head slots: the withdrawal tuple's offset plus sixteen
// static proof words. The tuple is dynamic, so its head slot must hold
// the offset past all seventeen (0x220) and its body must sit in the
// tail; the proof words occupy slots 1..16 directly.
func TestPackRelayCalldataLayout(t *testing.T) {
	w := Withdrawal{
		Processooor: common.HexToAddress("0x9F2db792a6F2dAdf25D894cEd791080950bDE56f"),
		Data:        []byte{0xAA, 0xBB},
	}
	p := &EncodedProof{
		PiA: [2]*big.Int{big.NewInt(101), big.NewInt(102)},
		PiB: [2][2]*big.Int{
			{big.NewInt(111), big.NewInt(112)},
			{big.NewInt(121), big.NewInt(122)},
		},
		PiC: [2]*big.Int{big.NewInt(131), big.NewInt(132)},
	}
	for i := range p.PubSignals {
		p.PubSignals[i] = big.NewInt(int64(200 + i))
	}

	data, err := packRelay(w, p)
	if err != nil {
		t.Fatalf("packRelay: %v", err)
	}

	args := data[4:] // strip the selector
	slotAt := func(i int) *big.Int {
		return new(big.Int).SetBytes(args[i*32 : (i+1)*32])
	}

	if got := slotAt(0); got.Cmp(big.NewInt(0x220)) != 0 {
		t.Fatalf("tuple offset = %#x, want 0x220", got)
	}
	// Proof words in the head, in declaration order.
	wantHead := []*big.Int{
		p.PiA[0], p.PiA[1],
		p.PiB[0][0], p.PiB[0][1], p.PiB[1][0], p.PiB[1][1],
		p.PiC[0], p.PiC[1],
	}
	wantHead = append(wantHead, p.PubSignals[:]...)
	for i, want := range wantHead {
		if got := slotAt(i + 1); got.Cmp(want) != 0 {
			t.Fatalf("head slot %d = %s, want %s", i+1, got, want)
		}
	}
	// Tuple body in the tail: address, inner bytes offset, length, data.
	if got := slotAt(17); got.Cmp(new(big.Int).SetBytes(w.Processooor.Bytes())) != 0 {
		t.Fatalf("tail processooor = %s", got)
	}
	if got := slotAt(18); got.Cmp(big.NewInt(0x40)) != 0 {
		t.Fatalf("inner bytes offset = %#x, want 0x40", got)
	}
	if got := slotAt(19); got.Cmp(big.NewInt(2)) != 0 {
		t.Fatalf("data length = %s, want 2", got)
	}
	if args[20*32] != 0xAA || args[20*32+1] != 0xBB {
		t.Fatal("data bytes not in the tail")
	}
}
