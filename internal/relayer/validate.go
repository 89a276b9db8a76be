// Package relayer composes the withdrawal admission checklist, fee
// quoting and the request store into the single operation the HTTP
// surface calls. This file implements the admission checklist step for
// step; it introduces no new dependency, only composition of the
// contract surface, proof verifier, quoter and store.
package relayer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	privctx "github.com/ccoin/privacypool/internal/context"
	"github.com/ccoin/privacypool/internal/contract"
	"github.com/ccoin/privacypool/internal/field"
	"github.com/ccoin/privacypool/internal/proof"
	"github.com/ccoin/privacypool/internal/relayer/feequote"
	"github.com/ccoin/privacypool/internal/relayer/store"
	"github.com/ccoin/privacypool/internal/relayermesh"
)

// Rejection reasons. Each names one admission rule a request can break.
var (
	ErrRelayerCommitmentRejected  = errors.New("relayer: fee commitment rejected")
	ErrProcessooorMismatch        = errors.New("relayer: processooor mismatch")
	ErrFeeReceiverMismatch        = errors.New("relayer: fee receiver mismatch")
	ErrContextMismatch            = errors.New("relayer: context mismatch")
	ErrAssetNotSupported          = errors.New("relayer: asset not supported")
	ErrFeeTooLow                  = errors.New("relayer: relayFeeBPS below effective feeBPS")
	ErrInsufficientWithdrawnValue = errors.New("relayer: withdrawn value too low")
	ErrInvalidProof               = errors.New("relayer: invalid withdrawal proof")
	ErrMissingWrappedNative       = errors.New("relayer: extraGas requires a configured wrapped native token")
	ErrTransactionFailed          = errors.New("relayer: broadcast failed")
	ErrMaxGasPrice                = errors.New("relayer: current gas price exceeds configured ceiling")
)

// ChainConfig is the per-chain configuration a Validator resolves before
// admitting a request.
type ChainConfig struct {
	ChainID              *big.Int
	EntrypointAddress    common.Address
	FeeReceiverAddress   common.Address
	SignerAddress        common.Address
	WrappedNativeAddress *common.Address
	MaxGasPriceWei       *big.Int
}

// WithdrawalPayload is the decoded body of a relay request.
type WithdrawalPayload struct {
	Scope         field.Element
	Withdrawal    contract.Withdrawal
	Proof         *proof.Groth16Proof
	FeeCommitment *feequote.SignedCommitment
}

// RelayResult is the terminal outcome returned to the requester. TxSwap
// is set only when an extraGas secondary transaction was issued.
type RelayResult struct {
	Success   bool
	TxHash    string
	TxSwap    string
	Timestamp int64
	RequestID string
}

// MeshPublisher gossips a terminal record summary to the rest of a
// relayer cluster. Satisfied by
// *relayermesh.Mesh; nil (the default) means the mesh is off and every
// call is skipped.
type MeshPublisher interface {
	Publish(ctx context.Context, summary relayermesh.RecordSummary) error
}

// Validator composes the contract surface, fee quoter, proof verifier and
// request store.
type Validator struct {
	contract contract.PoolContract
	quoter   *feequote.Quoter
	proofs   *proof.Manager
	store    *store.Store
	chain    *ChainConfig
	nowMS    func() int64
	gasPrice func(ctx context.Context) (*big.Int, error)
	mesh     MeshPublisher
	swapper  Swapper
}

// NewValidator builds a Validator for a single chain.
func NewValidator(pc contract.PoolContract, q *feequote.Quoter, proofs *proof.Manager, st *store.Store, chain *ChainConfig, nowMS func() int64, gasPrice func(ctx context.Context) (*big.Int, error)) *Validator {
	return &Validator{contract: pc, quoter: q, proofs: proofs, store: st, chain: chain, nowMS: nowMS, gasPrice: gasPrice}
}

// SetMesh attaches an optional gossip publisher; called after
// NewValidator once a relayer replica's mesh node (if enabled) is up.
func (v *Validator) SetMesh(m MeshPublisher) { v.mesh = m }

// SetSwapper attaches the executor for the extraGas secondary
// transaction. Without one, extraGas requests still relay; only the
// swap-and-refund leg is skipped.
func (v *Validator) SetSwapper(s Swapper) { v.swapper = s }

func (v *Validator) publishTerminal(ctx context.Context, summary relayermesh.RecordSummary) {
	if v.mesh == nil {
		return
	}
	_ = v.mesh.Publish(ctx, summary)
}

func fail(ctx context.Context, v *Validator, requestID string, err error) (*RelayResult, error) {
	_ = v.store.UpdateFailedRequest(ctx, requestID, err.Error())
	v.publishTerminal(ctx, relayermesh.RecordSummary{ID: requestID, Status: string(store.StatusFailed), Error: err.Error(), Timestamp: v.nowMS()})
	return &RelayResult{Success: false, RequestID: requestID, Timestamp: v.nowMS()}, err
}

// ValidateAndRelay runs the full admission checklist and, if every rule
// passes, broadcasts the relay transaction.
func (v *Validator) ValidateAndRelay(ctx context.Context, payload WithdrawalPayload) (*RelayResult, error) {
	// Step 1: persisted RECEIVED record. On-chain integers are tagged so
	// round-tripping the payload JSON never loses precision.
	recPayload := map[string]interface{}{"scope": payload.Scope.ToFixedHex()}
	if len(payload.Proof.PublicSignals) == 8 {
		recPayload["withdrawnValue"] = store.BigIntJSON{Dec: payload.Proof.PublicSignals[2].String()}
	}
	raw, err := json.Marshal(recPayload)
	if err != nil {
		return nil, fmt.Errorf("relayer: marshal request payload: %w", err)
	}
	rec, err := v.store.CreateNewRequest(ctx, raw)
	if err != nil {
		return nil, fmt.Errorf("relayer: create request record: %w", err)
	}
	requestID := rec.ID

	// Chain-level admission gate: reject before accept if gas price
	// already exceeds the ceiling.
	gasPrice, err := v.gasPrice(ctx)
	if err != nil {
		return fail(ctx, v, requestID, fmt.Errorf("relayer: read gas price: %w", err))
	}
	if v.chain.MaxGasPriceWei != nil && gasPrice.Cmp(v.chain.MaxGasPriceWei) > 0 {
		return fail(ctx, v, requestID, ErrMaxGasPrice)
	}

	// Step 3.
	extraGas := false
	if payload.FeeCommitment != nil {
		extraGas = payload.FeeCommitment.ExtraGas
	}

	// Step 4: FeeCommitment consistency.
	withdrawalData := payload.Withdrawal.Data
	if payload.FeeCommitment != nil {
		if !bytesEqual(payload.FeeCommitment.WithdrawalData, payload.Withdrawal.Data) {
			return fail(ctx, v, requestID, ErrRelayerCommitmentRejected)
		}
		withdrawalData = payload.FeeCommitment.WithdrawalData
	}

	// Step 5: decode RelayData; parse public signals.
	relayData, err := contract.UnpackRelayData(withdrawalData)
	if err != nil {
		return fail(ctx, v, requestID, fmt.Errorf("relayer: decode relay data: %w", err))
	}
	if len(payload.Proof.PublicSignals) != 8 {
		return fail(ctx, v, requestID, fmt.Errorf("%w: expected 8 public signals", ErrInvalidProof))
	}
	withdrawnValue := payload.Proof.PublicSignals[2]
	contextSignal := payload.Proof.PublicSignals[7]

	// Step 6.
	if payload.FeeCommitment != nil && payload.FeeCommitment.Amount.Cmp(withdrawnValue) > 0 {
		return fail(ctx, v, requestID, ErrInsufficientWithdrawnValue)
	}

	// Step 7.
	if payload.Withdrawal.Processooor != v.chain.EntrypointAddress {
		return fail(ctx, v, requestID, ErrProcessooorMismatch)
	}

	// Step 8.
	expectedFeeRecipient := v.chain.FeeReceiverAddress
	if extraGas && v.chain.SignerAddress != v.chain.FeeReceiverAddress {
		expectedFeeRecipient = v.chain.SignerAddress
	}
	if relayData.FeeRecipient != expectedFeeRecipient {
		return fail(ctx, v, requestID, ErrFeeReceiverMismatch)
	}

	// Step 9.
	expectedContext := privctx.Calculate(privctx.Withdrawal{
		Processooor: payload.Withdrawal.Processooor,
		Data:        withdrawalData,
	}, payload.Scope)
	if expectedContext.BigInt().Cmp(contextSignal) != 0 {
		return fail(ctx, v, requestID, ErrContextMismatch)
	}

	// Step 10.
	scopeData, err := v.contract.GetScopeData(ctx, payload.Scope)
	if err != nil {
		return fail(ctx, v, requestID, fmt.Errorf("%w: %s", ErrAssetNotSupported, err.Error()))
	}
	assetConfig, err := v.contract.GetAssetConfig(ctx, scopeData.PoolAddress)
	if err != nil {
		return fail(ctx, v, requestID, fmt.Errorf("%w: %s", ErrAssetNotSupported, err.Error()))
	}

	// Steps 11/12. relayFeeBPS is read from withdrawalData, which step 4
	// already pinned to the commitment's own withdrawalData byte-for-byte,
	// so no separate relayFeeBPS comparison is needed here: asset and
	// signature/expiration are the remaining checks the commitment adds.
	if payload.FeeCommitment != nil {
		if payload.FeeCommitment.Asset != scopeData.AssetAddress {
			return fail(ctx, v, requestID, ErrRelayerCommitmentRejected)
		}
		ok, err := feequote.VerifyCommitment(payload.FeeCommitment, v.chain.SignerAddress, v.chain.ChainID, v.nowMS())
		if err != nil {
			return fail(ctx, v, requestID, fmt.Errorf("%w: %s", ErrRelayerCommitmentRejected, err.Error()))
		}
		if !ok {
			return fail(ctx, v, requestID, ErrRelayerCommitmentRejected)
		}
	} else {
		res, err := v.quoter.ComputeFeeBPS(ctx, feequote.FeeBPSInputs{
			AmountIn:    withdrawnValue,
			AssetIn:     scopeData.AssetAddress,
			ChainID:     v.chain.ChainID,
			GasPriceWei: gasPrice,
			ExtraGas:    extraGas,
		})
		if err != nil {
			return fail(ctx, v, requestID, fmt.Errorf("relayer: quote fee: %w", err))
		}
		if relayData.RelayFeeBPS.Cmp(new(big.Int).SetUint64(res.FeeBPS)) < 0 {
			return fail(ctx, v, requestID, ErrFeeTooLow)
		}
	}

	// Step 13.
	if withdrawnValue.Cmp(assetConfig.MinimumDepositAmount) < 0 {
		return fail(ctx, v, requestID, ErrInsufficientWithdrawnValue)
	}

	// Step 14.
	valid, err := v.proofs.VerifyWithdrawal(payload.Proof)
	if err != nil || !valid {
		return fail(ctx, v, requestID, ErrInvalidProof)
	}

	// Step 15.
	if extraGas && v.chain.WrappedNativeAddress == nil {
		return fail(ctx, v, requestID, ErrMissingWrappedNative)
	}

	// Step 16.
	encoded, err := contract.EncodeWithdrawalProof(payload.Proof)
	if err != nil {
		return fail(ctx, v, requestID, err)
	}
	txHash, err := v.contract.Relay(ctx, contract.Withdrawal{
		Processooor: payload.Withdrawal.Processooor,
		Data:        withdrawalData,
	}, encoded)
	if err != nil {
		return fail(ctx, v, requestID, fmt.Errorf("%w: %s", ErrTransactionFailed, err.Error()))
	}

	// Step 17: extraGas secondary transaction. The relay already
	// succeeded, so a failed swap leg never flips the record to FAILED;
	// the refund is best-effort and the missing TxSwap tells the caller.
	var txSwap string
	if extraGas && scopeData.AssetAddress != contract.NativeAsset && v.swapper != nil {
		if hash, err := v.runExtraGasSwap(ctx, txHash, relayData, withdrawnValue, gasPrice, scopeData.AssetAddress); err == nil {
			txSwap = hash.Hex()
		}
	}

	// Step 18.
	if err := v.store.UpdateBroadcastedRequest(ctx, requestID, txHash.Hex()); err != nil {
		return nil, fmt.Errorf("relayer: mark broadcasted: %w", err)
	}
	timestamp := v.nowMS()
	v.publishTerminal(ctx, relayermesh.RecordSummary{ID: requestID, Status: string(store.StatusBroadcasted), TxHash: txHash.Hex(), Timestamp: timestamp})

	return &RelayResult{Success: true, TxHash: txHash.Hex(), TxSwap: txSwap, RequestID: requestID, Timestamp: timestamp}, nil
}

// runExtraGasSwap waits for the relay receipt, splits the collected fee
// into its base margin and the swap surplus, and issues the secondary
// transaction that refunds the relayer's gas advance and sweeps the
// residue to the recipient in native units.
func (v *Validator) runExtraGasSwap(ctx context.Context, relayTx common.Hash, relayData *contract.RelayData, withdrawn, gasPrice *big.Int, asset common.Address) (common.Hash, error) {
	receipt, err := v.contract.WaitForReceipt(ctx, relayTx)
	if err != nil {
		return common.Hash{}, err
	}

	feeGross, feeBase := ComputeSecondaryTransferAmounts(withdrawn, relayData.RelayFeeBPS.Uint64(), v.quoter.BaseFeeBPS())
	swapAmount := new(big.Int).Sub(feeGross, feeBase)
	if swapAmount.Sign() < 0 {
		swapAmount.SetInt64(0)
	}

	gasRefund := new(big.Int).Mul(gasPrice, new(big.Int).SetUint64(v.quoter.ExtraGasTxCost()))
	if receipt.EffectiveGasPrice != nil {
		relayCost := new(big.Int).Mul(receipt.EffectiveGasPrice, new(big.Int).SetUint64(receipt.GasUsed))
		gasRefund.Add(gasRefund, relayCost)
	}

	return v.swapper.SwapAndFund(ctx, asset, swapAmount, feeBase, gasRefund,
		v.chain.FeeReceiverAddress, v.chain.SignerAddress, relayData.Recipient)
}

// ComputeSecondaryTransferAmounts implements step 17's feeGross/feeBase
// split once a relay receipt is known.
func ComputeSecondaryTransferAmounts(withdrawn *big.Int, relayFeeBPS, baseFeeBPS uint64) (feeGross, feeBase *big.Int) {
	feeGross = new(big.Int).Mul(withdrawn, new(big.Int).SetUint64(relayFeeBPS))
	feeGross.Div(feeGross, big.NewInt(10_000))

	feeBase = new(big.Int).Mul(withdrawn, new(big.Int).SetUint64(baseFeeBPS))
	feeBase.Div(feeBase, big.NewInt(10_000))

	return feeGross, feeBase
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
