// Package contract encapsulates the on-chain ABI the pool/entrypoint
// contracts expose behind a PoolContract interface, so
// higher layers (relayer, SDK) never see raw ABI types. The only
// implementation talks to a live chain via go-ethereum's ethclient and
// accounts/abi, the idiomatic Go way to drive an EVM-like ledger.
package contract

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/ccoin/privacypool/internal/field"
	"github.com/ccoin/privacypool/internal/proof"
)

// NativeAsset is the canonical pseudo-address for the chain's native
// currency.
var NativeAsset = common.HexToAddress("0xEeEeEEEEeEeEEEEeeEeEeeEeEeEeEeeEeEEEEEEE")

// ErrScopeData is returned when a scope lookup fails (unknown scope or RPC
// failure).
var ErrScopeData = errors.New("contract: scope data lookup failed")

// ErrSimulation wraps a failed eth_call simulation, carrying the contract
// revert reason verbatim.
var ErrSimulation = errors.New("contract: simulation reverted")

// Withdrawal mirrors the on-chain Withdrawal{processooor,data} struct.
type Withdrawal struct {
	Processooor common.Address
	Data        []byte
}

// RelayData is ABI-encoded into Withdrawal.Data by a relayer before a
// relayed withdrawal is submitted.
type RelayData struct {
	Recipient    common.Address
	FeeRecipient common.Address
	RelayFeeBPS  *big.Int
}

// AssetConfig is the per-asset fee/limits configuration the entrypoint
// tracks.
type AssetConfig struct {
	PoolAddress          common.Address
	MinimumDepositAmount *big.Int
	VettingFeeBPS        *big.Int
	MaxRelayFeeBPS       *big.Int
}

// ScopeData is the reverse lookup of a pool scope.
type ScopeData struct {
	PoolAddress  common.Address
	AssetAddress common.Address
}

// EncodedProof is the wire-packaged Groth16 proof, piB rows swapped to
// match the Solidity verifier's G2 coordinate convention: piB[0] =
// [b01,b00], piB[1] = [b11,b10]. An unswapped matrix is still shaped like
// valid calldata but always fails Groth16 verification on-chain.
type EncodedProof struct {
	PiA        [2]*big.Int
	PiB        [2][2]*big.Int
	PiC        [2]*big.Int
	PubSignals [8]*big.Int
}

// EncodeWithdrawalProof applies the piB row swap and packs an 8-signal
// withdrawal proof for calldata.
func EncodeWithdrawalProof(p *proof.Groth16Proof) (*EncodedProof, error) {
	if len(p.PublicSignals) != 8 {
		return nil, errors.New("contract: withdrawal proof must carry exactly 8 public signals")
	}
	var pubSignals [8]*big.Int
	copy(pubSignals[:], p.PublicSignals)
	return encodeProof(p, pubSignals[:]), nil
}

// EncodeRagequitProof applies the piB row swap and packs a 4-signal
// ragequit proof for calldata.
func EncodeRagequitProof(p *proof.Groth16Proof) (*EncodedProof, error) {
	if len(p.PublicSignals) != 4 {
		return nil, errors.New("contract: ragequit proof must carry exactly 4 public signals")
	}
	var pubSignals [8]*big.Int
	copy(pubSignals[:], p.PublicSignals)
	return encodeProof(p, pubSignals[:len(p.PublicSignals)]), nil
}

func encodeProof(p *proof.Groth16Proof, pubSignals []*big.Int) *EncodedProof {
	var padded [8]*big.Int
	copy(padded[:], pubSignals)
	for i := range padded {
		if padded[i] == nil {
			padded[i] = new(big.Int)
		}
	}
	return &EncodedProof{
		PiA: p.PiA,
		PiB: [2][2]*big.Int{
			{p.PiB[0][1], p.PiB[0][0]},
			{p.PiB[1][1], p.PiB[1][0]},
		},
		PiC:        p.PiC,
		PubSignals: padded,
	}
}

// PoolContract is the seam between the SDK/relayer and the live chain.
type PoolContract interface {
	DepositNative(ctx context.Context, amount *big.Int, precommitmentHash field.Element) (common.Hash, error)
	DepositAsset(ctx context.Context, asset common.Address, amount *big.Int, precommitmentHash field.Element) (common.Hash, error)
	Relay(ctx context.Context, w Withdrawal, p *EncodedProof) (common.Hash, error)
	Withdraw(ctx context.Context, w Withdrawal, p *EncodedProof) (common.Hash, error)
	Ragequit(ctx context.Context, p *EncodedProof) (common.Hash, error)
	GetScopeData(ctx context.Context, scope field.Element) (*ScopeData, error)
	GetAssetConfig(ctx context.Context, pool common.Address) (*AssetConfig, error)
	GetScope(ctx context.Context, pool common.Address) (field.Element, error)
	GetStateRoot(ctx context.Context, pool common.Address) (field.Element, error)
	GetStateSize(ctx context.Context, pool common.Address) (uint64, error)
	WaitForReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// EthereumPoolContract implements PoolContract against a live JSON-RPC
// endpoint via ethclient, following the simulate→estimate→send pipeline
// every write goes through. Calldata packing lives in abi.go so this file
// stays orchestration-only.
type EthereumPoolContract struct {
	client     *ethclient.Client
	entrypoint common.Address
	from       common.Address
	signer     TxSigner
}

// TxSigner signs a populated *types.Transaction, returning the signed tx
// ready to broadcast. Kept as an interface so callers can plug in a local
// key, a hardware wallet, or a remote signer.
type TxSigner interface {
	SignTx(tx *types.Transaction) (*types.Transaction, error)
}

// NewEthereumPoolContract dials rpcURL and returns a PoolContract talking
// to the given entrypoint, sending transactions from `from` and signed by
// `signer`.
func NewEthereumPoolContract(rpcURL string, entrypoint, from common.Address, signer TxSigner) (*EthereumPoolContract, error) {
	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("contract: dial %s: %w", rpcURL, err)
	}
	return &EthereumPoolContract{client: client, entrypoint: entrypoint, from: from, signer: signer}, nil
}

// simulateEstimateSend runs the conventional three-stage write pipeline:
// eth_call to surface revert reasons before spending gas, gas estimation,
// then broadcast.
func (e *EthereumPoolContract) simulateEstimateSend(ctx context.Context, to common.Address, value *big.Int, data []byte) (common.Hash, error) {
	callMsg := ethereum.CallMsg{From: e.from, To: &to, Value: value, Data: data}

	if _, err := e.client.CallContract(ctx, callMsg, nil); err != nil {
		return common.Hash{}, fmt.Errorf("%w: %s", ErrSimulation, err.Error())
	}

	gasLimit, err := e.client.EstimateGas(ctx, callMsg)
	if err != nil {
		return common.Hash{}, fmt.Errorf("contract: estimate gas: %w", err)
	}

	gasPrice, err := e.client.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("contract: suggest gas price: %w", err)
	}

	nonce, err := e.client.PendingNonceAt(ctx, e.from)
	if err != nil {
		return common.Hash{}, fmt.Errorf("contract: pending nonce: %w", err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    value,
		Gas:      gasLimit + gasLimit/5, // 20% headroom over the simulated estimate
		GasPrice: gasPrice,
		Data:     data,
	})

	signed, err := e.signer.SignTx(tx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("contract: sign tx: %w", err)
	}

	if err := e.client.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, fmt.Errorf("contract: send tx: %w", err)
	}

	return signed.Hash(), nil
}

func (e *EthereumPoolContract) DepositNative(ctx context.Context, amount *big.Int, precommitmentHash field.Element) (common.Hash, error) {
	data, err := packDeposit(precommitmentHash)
	if err != nil {
		return common.Hash{}, err
	}
	return e.simulateEstimateSend(ctx, e.entrypoint, amount, data)
}

func (e *EthereumPoolContract) DepositAsset(ctx context.Context, asset common.Address, amount *big.Int, precommitmentHash field.Element) (common.Hash, error) {
	data, err := packDepositAsset(asset, amount, precommitmentHash)
	if err != nil {
		return common.Hash{}, err
	}
	return e.simulateEstimateSend(ctx, e.entrypoint, big.NewInt(0), data)
}

func (e *EthereumPoolContract) Relay(ctx context.Context, w Withdrawal, p *EncodedProof) (common.Hash, error) {
	data, err := packRelay(w, p)
	if err != nil {
		return common.Hash{}, err
	}
	return e.simulateEstimateSend(ctx, e.entrypoint, big.NewInt(0), data)
}

func (e *EthereumPoolContract) Withdraw(ctx context.Context, w Withdrawal, p *EncodedProof) (common.Hash, error) {
	data, err := packWithdraw(w, p)
	if err != nil {
		return common.Hash{}, err
	}
	return e.simulateEstimateSend(ctx, e.entrypoint, big.NewInt(0), data)
}

func (e *EthereumPoolContract) Ragequit(ctx context.Context, p *EncodedProof) (common.Hash, error) {
	data, err := packRagequit(p)
	if err != nil {
		return common.Hash{}, err
	}
	return e.simulateEstimateSend(ctx, e.entrypoint, big.NewInt(0), data)
}

func (e *EthereumPoolContract) GetScopeData(ctx context.Context, scope field.Element) (*ScopeData, error) {
	data, err := packGetScopeData(scope)
	if err != nil {
		return nil, err
	}
	out, err := e.client.CallContract(ctx, ethereum.CallMsg{To: &e.entrypoint, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrScopeData, err.Error())
	}
	return unpackScopeData(out)
}

func (e *EthereumPoolContract) GetAssetConfig(ctx context.Context, pool common.Address) (*AssetConfig, error) {
	data := packGetAssetConfig(pool)
	out, err := e.client.CallContract(ctx, ethereum.CallMsg{To: &e.entrypoint, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("contract: get asset config: %w", err)
	}
	return unpackAssetConfig(out)
}

func (e *EthereumPoolContract) GetScope(ctx context.Context, pool common.Address) (field.Element, error) {
	data := packGetScope(pool)
	out, err := e.client.CallContract(ctx, ethereum.CallMsg{To: &pool, Data: data}, nil)
	if err != nil {
		return field.Element{}, fmt.Errorf("contract: get scope: %w", err)
	}
	return field.FromBigInt(new(big.Int).SetBytes(out)), nil
}

func (e *EthereumPoolContract) GetStateRoot(ctx context.Context, pool common.Address) (field.Element, error) {
	data := packGetStateRoot()
	out, err := e.client.CallContract(ctx, ethereum.CallMsg{To: &pool, Data: data}, nil)
	if err != nil {
		return field.Element{}, fmt.Errorf("contract: get state root: %w", err)
	}
	return field.FromBigInt(new(big.Int).SetBytes(out)), nil
}

func (e *EthereumPoolContract) GetStateSize(ctx context.Context, pool common.Address) (uint64, error) {
	data := packGetStateSize()
	out, err := e.client.CallContract(ctx, ethereum.CallMsg{To: &pool, Data: data}, nil)
	if err != nil {
		return 0, fmt.Errorf("contract: get state size: %w", err)
	}
	return new(big.Int).SetBytes(out).Uint64(), nil
}

func (e *EthereumPoolContract) WaitForReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	return e.client.TransactionReceipt(ctx, txHash)
}
