package contract

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/ccoin/privacypool/internal/field"
)

// selector computes the 4-byte function selector go-ethereum's bind
// package would otherwise generate from a compiled ABI JSON. Hand-written
// here since no compiled artifact ships with this module.
func selector(signature string) []byte {
	return crypto.Keccak256([]byte(signature))[:4]
}

var (
	uint256Ty, _ = abi.NewType("uint256", "", nil)
	addressTy, _ = abi.NewType("address", "", nil)
	bytesTy, _   = abi.NewType("bytes", "", nil)
	uint256ArrTy = mustArrayType("uint256[2]")
	uint256Mat   = mustArrayType("uint256[2][2]")
	uint256Vec8  = mustArrayType("uint256[8]")

	withdrawalTy, _ = abi.NewType("tuple", "", []abi.ArgumentMarshaling{
		{Name: "processooor", Type: "address"},
		{Name: "data", Type: "bytes"},
	})
)

func mustArrayType(name string) abi.Type {
	t, err := abi.NewType(name, "", nil)
	if err != nil {
		panic("contract: build abi type " + name + ": " + err.Error())
	}
	return t
}

func packDeposit(precommitmentHash field.Element) ([]byte, error) {
	args := abi.Arguments{{Type: uint256Ty}}
	packed, err := args.Pack(precommitmentHash.BigInt())
	if err != nil {
		return nil, fmt.Errorf("contract: pack deposit: %w", err)
	}
	return append(selector("deposit(uint256)"), packed...), nil
}

func packDepositAsset(asset common.Address, amount *big.Int, precommitmentHash field.Element) ([]byte, error) {
	args := abi.Arguments{{Type: addressTy}, {Type: uint256Ty}, {Type: uint256Ty}}
	packed, err := args.Pack(asset, amount, precommitmentHash.BigInt())
	if err != nil {
		return nil, fmt.Errorf("contract: pack depositAsset: %w", err)
	}
	return append(selector("depositAsset(address,uint256,uint256)"), packed...), nil
}

func proofArgs() abi.Arguments {
	return abi.Arguments{
		{Type: uint256ArrTy},
		{Type: uint256Mat},
		{Type: uint256ArrTy},
		{Type: uint256Vec8},
	}
}

func packProof(p *EncodedProof) ([]byte, error) {
	a := proofArgs()
	return a.Pack(
		[2]*big.Int{p.PiA[0], p.PiA[1]},
		[2][2]*big.Int{p.PiB[0], p.PiB[1]},
		[2]*big.Int{p.PiC[0], p.PiC[1]},
		[8]*big.Int(p.PubSignals),
	)
}

// withdrawalCallArgs is the full argument list of relay/withdraw. The
// withdrawal tuple is dynamic (it contains bytes), so it must be packed
// together with the four proof arrays: its head slot is an offset past
// the sixteen static proof slots, and the tuple body lands in the tail.
// Packing the tuple and the proof separately and concatenating would put
// the proof slots where the decoder expects the tuple body.
func withdrawalCallArgs() abi.Arguments {
	return abi.Arguments{
		{Type: withdrawalTy},
		{Type: uint256ArrTy},
		{Type: uint256Mat},
		{Type: uint256ArrTy},
		{Type: uint256Vec8},
	}
}

func packWithdrawalCall(signature string, w Withdrawal, p *EncodedProof) ([]byte, error) {
	packed, err := withdrawalCallArgs().Pack(
		struct {
			Processooor common.Address
			Data        []byte
		}{w.Processooor, w.Data},
		[2]*big.Int{p.PiA[0], p.PiA[1]},
		[2][2]*big.Int{p.PiB[0], p.PiB[1]},
		[2]*big.Int{p.PiC[0], p.PiC[1]},
		p.PubSignals,
	)
	if err != nil {
		return nil, fmt.Errorf("contract: pack %s: %w", signature, err)
	}
	return append(selector(signature), packed...), nil
}

func packRelay(w Withdrawal, p *EncodedProof) ([]byte, error) {
	return packWithdrawalCall("relay((address,bytes),uint256[2],uint256[2][2],uint256[2],uint256[8])", w, p)
}

func packWithdraw(w Withdrawal, p *EncodedProof) ([]byte, error) {
	return packWithdrawalCall("withdraw((address,bytes),uint256[2],uint256[2][2],uint256[2],uint256[8])", w, p)
}

func packRagequit(p *EncodedProof) ([]byte, error) {
	pPacked, err := packProof(p)
	if err != nil {
		return nil, fmt.Errorf("contract: pack ragequit proof: %w", err)
	}
	return append(selector("ragequit(uint256[2],uint256[2][2],uint256[2],uint256[8])"), pPacked...), nil
}

func packGetScopeData(scope field.Element) ([]byte, error) {
	args := abi.Arguments{{Type: uint256Ty}}
	packed, err := args.Pack(scope.BigInt())
	if err != nil {
		return nil, fmt.Errorf("contract: pack getScopeData: %w", err)
	}
	return append(selector("scopeData(uint256)"), packed...), nil
}

func unpackScopeData(out []byte) (*ScopeData, error) {
	args := abi.Arguments{{Type: addressTy}, {Type: addressTy}}
	vals, err := args.Unpack(out)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrScopeData, err.Error())
	}
	return &ScopeData{
		PoolAddress:  vals[0].(common.Address),
		AssetAddress: vals[1].(common.Address),
	}, nil
}

func packGetAssetConfig(pool common.Address) []byte {
	args := abi.Arguments{{Type: addressTy}}
	packed, _ := args.Pack(pool)
	return append(selector("assetConfig(address)"), packed...)
}

func unpackAssetConfig(out []byte) (*AssetConfig, error) {
	args := abi.Arguments{
		{Type: addressTy}, {Type: uint256Ty}, {Type: uint256Ty}, {Type: uint256Ty},
	}
	vals, err := args.Unpack(out)
	if err != nil {
		return nil, fmt.Errorf("contract: unpack asset config: %w", err)
	}
	return &AssetConfig{
		PoolAddress:          vals[0].(common.Address),
		MinimumDepositAmount: vals[1].(*big.Int),
		VettingFeeBPS:        vals[2].(*big.Int),
		MaxRelayFeeBPS:       vals[3].(*big.Int),
	}, nil
}

func packGetScope(pool common.Address) []byte {
	_ = pool
	return selector("SCOPE()")
}

func packGetStateRoot() []byte {
	return selector("currentRoot()")
}

func packGetStateSize() []byte {
	return selector("currentTreeSize()")
}

var relayDataTy, _ = abi.NewType("tuple", "", []abi.ArgumentMarshaling{
	{Name: "recipient", Type: "address"},
	{Name: "feeRecipient", Type: "address"},
	{Name: "relayFeeBPS", Type: "uint256"},
})

// PackRelayData ABI-encodes the data payload embedded in a relayed
// withdrawal's Withdrawal.data field.
func PackRelayData(d RelayData) ([]byte, error) {
	args := abi.Arguments{{Type: relayDataTy}}
	return args.Pack(struct {
		Recipient    common.Address
		FeeRecipient common.Address
		RelayFeeBPS  *big.Int
	}{d.Recipient, d.FeeRecipient, d.RelayFeeBPS})
}

// UnpackRelayData decodes a withdrawalData blob back into its RelayData,
// the relayer validator's step 5. go-ethereum's ABI unpacker builds its own
// reflect.StructOf for a tuple type, so a plain type assertion to a
// locally declared struct would panic; ConvertType does the positional
// reflect copy the library expects for this case.
func UnpackRelayData(data []byte) (*RelayData, error) {
	args := abi.Arguments{{Type: relayDataTy}}
	vals, err := args.Unpack(data)
	if err != nil {
		return nil, fmt.Errorf("contract: unpack relay data: %w", err)
	}

	var out RelayData
	converted := abi.ConvertType(vals[0], &out)
	result, ok := converted.(*RelayData)
	if !ok {
		return nil, errors.New("contract: unpack relay data: unexpected shape")
	}
	return result, nil
}
