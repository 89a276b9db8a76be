// Package context computes the domain-separated context hash that binds a
// withdrawal proof to a specific processor and relay-data blob. Built on
// go-ethereum's ABI encoder and Keccak256, the idiomatic Go
// way to reproduce an on-chain abi.encode + keccak256 computation, following
// the go-ethereum-based repos elsewhere in this stack.
package context

import (
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/ccoin/privacypool/internal/field"
)

// Withdrawal mirrors the on-chain Withdrawal{processooor,data} struct.
type Withdrawal struct {
	Processooor common.Address
	Data        []byte
}

// contextArgs holds both arguments of abi.encode((address,bytes), uint256)
// as ONE argument list. The withdrawal tuple is dynamic (it contains
// bytes), so its head slot is an offset into the tail; packing the tuple
// and the scope separately and concatenating would place the scope after
// the tuple body instead of in the head, producing different bytes than
// the on-chain encoder.
var contextArgs abi.Arguments

func init() {
	uint256Ty, err := abi.NewType("uint256", "", nil)
	if err != nil {
		panic("context: build uint256 type: " + err.Error())
	}

	withdrawalTupleTy, err := abi.NewType("tuple", "", []abi.ArgumentMarshaling{
		{Name: "processooor", Type: "address"},
		{Name: "data", Type: "bytes"},
	})
	if err != nil {
		panic("context: build withdrawal tuple type: " + err.Error())
	}

	contextArgs = abi.Arguments{{Type: withdrawalTupleTy}, {Type: uint256Ty}}
}

type withdrawalTuple struct {
	Processooor common.Address
	Data        []byte
}

// Calculate computes
//
//	keccak256(abi.encode((processooor, data), scope)) mod p
//
// The mod-p reduction is mandatory so the result is a valid field element.
func Calculate(w Withdrawal, scope field.Element) field.Element {
	packed, err := contextArgs.Pack(withdrawalTuple{
		Processooor: w.Processooor,
		Data:        w.Data,
	}, scope.BigInt())
	if err != nil {
		panic("context: pack context preimage: " + err.Error())
	}

	digest := crypto.Keccak256(packed)

	return field.FromBigInt(new(big.Int).SetBytes(digest))
}
