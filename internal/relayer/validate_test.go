package relayer

import (
	"context"
	"errors"
	"math/big"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	privctx "github.com/ccoin/privacypool/internal/context"
	"github.com/ccoin/privacypool/internal/contract"
	"github.com/ccoin/privacypool/internal/field"
	"github.com/ccoin/privacypool/internal/merkletree"
	"github.com/ccoin/privacypool/internal/poseidon"
	"github.com/ccoin/privacypool/internal/proof"
	"github.com/ccoin/privacypool/internal/relayer/feequote"
	"github.com/ccoin/privacypool/internal/relayer/store"
)

var (
	testEntrypoint  = common.HexToAddress("0x00000000000000000000000000000000000000e1")
	testPoolAddr    = common.HexToAddress("0x00000000000000000000000000000000000000a0")
	testAsset       = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	testFeeReceiver = common.HexToAddress("0x00000000000000000000000000000000000000f1")
	testRecipient   = common.HexToAddress("0x00000000000000000000000000000000000000c1")
)

// fakePool satisfies contract.PoolContract without a chain: scope lookups
// and asset config are canned, Relay returns a fixed hash or a canned
// error.
type fakePool struct {
	scopeData   *contract.ScopeData
	assetConfig *contract.AssetConfig
	relayHash   common.Hash
	relayErr    error
	relayCalls  int
}

func (f *fakePool) DepositNative(context.Context, *big.Int, field.Element) (common.Hash, error) {
	return common.Hash{}, errors.New("not implemented")
}

func (f *fakePool) DepositAsset(context.Context, common.Address, *big.Int, field.Element) (common.Hash, error) {
	return common.Hash{}, errors.New("not implemented")
}

func (f *fakePool) Relay(context.Context, contract.Withdrawal, *contract.EncodedProof) (common.Hash, error) {
	f.relayCalls++
	if f.relayErr != nil {
		return common.Hash{}, f.relayErr
	}
	return f.relayHash, nil
}

func (f *fakePool) Withdraw(context.Context, contract.Withdrawal, *contract.EncodedProof) (common.Hash, error) {
	return common.Hash{}, errors.New("not implemented")
}

func (f *fakePool) Ragequit(context.Context, *contract.EncodedProof) (common.Hash, error) {
	return common.Hash{}, errors.New("not implemented")
}

func (f *fakePool) GetScopeData(context.Context, field.Element) (*contract.ScopeData, error) {
	if f.scopeData == nil {
		return nil, contract.ErrScopeData
	}
	return f.scopeData, nil
}

func (f *fakePool) GetAssetConfig(context.Context, common.Address) (*contract.AssetConfig, error) {
	if f.assetConfig == nil {
		return nil, errors.New("no asset config")
	}
	return f.assetConfig, nil
}

func (f *fakePool) GetScope(context.Context, common.Address) (field.Element, error) {
	return field.Element{}, errors.New("not implemented")
}

func (f *fakePool) GetStateRoot(context.Context, common.Address) (field.Element, error) {
	return field.Element{}, errors.New("not implemented")
}

func (f *fakePool) GetStateSize(context.Context, common.Address) (uint64, error) {
	return 0, errors.New("not implemented")
}

func (f *fakePool) WaitForReceipt(_ context.Context, txHash common.Hash) (*types.Receipt, error) {
	return &types.Receipt{TxHash: txHash}, nil
}

type unitOracle struct{}

func (unitOracle) Quote(context.Context, *big.Int, common.Address, *big.Int) (*feequote.Quote, error) {
	return &feequote.Quote{Num: big.NewInt(1), Den: big.NewInt(1), Path: nil}, nil
}

const testNowMS = int64(1_000_000)

type testEnv struct {
	v      *Validator
	st     *store.Store
	pool   *fakePool
	quoter *feequote.Quoter
	chain  *ChainConfig
}

func newTestEnv(t *testing.T, proofs *proof.Manager) *testEnv {
	t.Helper()

	st, err := store.Open(context.Background(), &store.Config{Path: filepath.Join(t.TempDir(), "relayer.db")})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	signerKey, err := crypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	chainID := big.NewInt(1)
	quoter := feequote.NewQuoter(
		&feequote.Config{BaseFeeBPS: 100, RelayTxCost: 650_000, ExtraGasTxCost: 320_000, ExtraGasFundAmt: 600_000},
		unitOracle{}, signerKey, testFeeReceiver, chainID,
	)

	pool := &fakePool{
		scopeData:   &contract.ScopeData{PoolAddress: testPoolAddr, AssetAddress: testAsset},
		assetConfig: &contract.AssetConfig{PoolAddress: testPoolAddr, MinimumDepositAmount: big.NewInt(1), VettingFeeBPS: big.NewInt(0), MaxRelayFeeBPS: big.NewInt(10_000)},
		relayHash:   common.HexToHash("0xbeef"),
	}

	chain := &ChainConfig{
		ChainID:            chainID,
		EntrypointAddress:  testEntrypoint,
		FeeReceiverAddress: testFeeReceiver,
		SignerAddress:      quoter.SignerAddress(),
	}

	v := NewValidator(pool, quoter, proofs, st, chain,
		func() int64 { return testNowMS },
		func(ctx context.Context) (*big.Int, error) { return big.NewInt(10), nil },
	)
	return &testEnv{v: v, st: st, pool: pool, quoter: quoter, chain: chain}
}

func packRelayData(t *testing.T, feeRecipient common.Address, feeBPS int64) []byte {
	t.Helper()
	data, err := contract.PackRelayData(contract.RelayData{
		Recipient:    testRecipient,
		FeeRecipient: feeRecipient,
		RelayFeeBPS:  big.NewInt(feeBPS),
	})
	if err != nil {
		t.Fatalf("PackRelayData: %v", err)
	}
	return data
}

// dummyPayload builds a payload whose public signals carry a consistent
// context and withdrawn value; the proof points are garbage, so it only
// exercises the checks before Groth16 verification.
func dummyPayload(t *testing.T, data []byte, withdrawn int64) WithdrawalPayload {
	t.Helper()
	scope := field.FromUint64(777)
	ctxHash := privctx.Calculate(privctx.Withdrawal{Processooor: testEntrypoint, Data: data}, scope)

	signals := make([]*big.Int, 8)
	for i := range signals {
		signals[i] = big.NewInt(int64(i + 1))
	}
	signals[2] = big.NewInt(withdrawn)
	signals[7] = ctxHash.BigInt()

	return WithdrawalPayload{
		Scope:      scope,
		Withdrawal: contract.Withdrawal{Processooor: testEntrypoint, Data: data},
		Proof: &proof.Groth16Proof{
			PiA:           [2]*big.Int{big.NewInt(1), big.NewInt(2)},
			PiB:           [2][2]*big.Int{{big.NewInt(3), big.NewInt(4)}, {big.NewInt(5), big.NewInt(6)}},
			PiC:           [2]*big.Int{big.NewInt(7), big.NewInt(8)},
			PublicSignals: signals,
		},
	}
}

func requireFailed(t *testing.T, env *testEnv, res *RelayResult) {
	t.Helper()
	if res == nil || res.Success {
		t.Fatal("expected a failed RelayResult")
	}
	rec, err := env.st.GetRequest(context.Background(), res.RequestID)
	if err != nil {
		t.Fatalf("GetRequest: %v", err)
	}
	if rec.Status != store.StatusFailed {
		t.Fatalf("record status = %s, want FAILED", rec.Status)
	}
	if rec.Error == "" {
		t.Fatal("failed record must carry an error message")
	}
}

func TestRejectsProcessooorMismatch(t *testing.T) {
	env := newTestEnv(t, nil)
	data := packRelayData(t, testFeeReceiver, 200)
	payload := dummyPayload(t, data, 1_000_000)
	payload.Withdrawal.Processooor = testRecipient // not the entrypoint

	res, err := env.v.ValidateAndRelay(context.Background(), payload)
	if !errors.Is(err, ErrProcessooorMismatch) {
		t.Fatalf("expected ErrProcessooorMismatch, got %v", err)
	}
	requireFailed(t, env, res)
}

func TestRejectsFeeReceiverMismatch(t *testing.T) {
	env := newTestEnv(t, nil)
	data := packRelayData(t, testRecipient, 200) // wrong fee recipient
	payload := dummyPayload(t, data, 1_000_000)

	res, err := env.v.ValidateAndRelay(context.Background(), payload)
	if !errors.Is(err, ErrFeeReceiverMismatch) {
		t.Fatalf("expected ErrFeeReceiverMismatch, got %v", err)
	}
	requireFailed(t, env, res)
}

func TestRejectsContextMismatch(t *testing.T) {
	env := newTestEnv(t, nil)
	data := packRelayData(t, testFeeReceiver, 200)
	payload := dummyPayload(t, data, 1_000_000)
	payload.Proof.PublicSignals[7] = big.NewInt(42) // not the bound context

	res, err := env.v.ValidateAndRelay(context.Background(), payload)
	if !errors.Is(err, ErrContextMismatch) {
		t.Fatalf("expected ErrContextMismatch, got %v", err)
	}
	requireFailed(t, env, res)
}

func TestRejectsFeeTooLow(t *testing.T) {
	env := newTestEnv(t, nil)
	// Quoted fee is baseFeeBPS(100) + margin; a zero relayFeeBPS is below.
	data := packRelayData(t, testFeeReceiver, 0)
	payload := dummyPayload(t, data, 1_000_000_000_000)

	res, err := env.v.ValidateAndRelay(context.Background(), payload)
	if !errors.Is(err, ErrFeeTooLow) {
		t.Fatalf("expected ErrFeeTooLow, got %v", err)
	}
	requireFailed(t, env, res)
}

func TestRejectsGasPriceAboveCeiling(t *testing.T) {
	env := newTestEnv(t, nil)
	env.chain.MaxGasPriceWei = big.NewInt(5) // gas price fixture is 10

	data := packRelayData(t, testFeeReceiver, 200)
	payload := dummyPayload(t, data, 1_000_000)

	res, err := env.v.ValidateAndRelay(context.Background(), payload)
	if !errors.Is(err, ErrMaxGasPrice) {
		t.Fatalf("expected ErrMaxGasPrice, got %v", err)
	}
	requireFailed(t, env, res)
}

func TestRejectsUnknownScope(t *testing.T) {
	env := newTestEnv(t, nil)
	env.pool.scopeData = nil

	data := packRelayData(t, testFeeReceiver, 200)
	payload := dummyPayload(t, data, 1_000_000)

	res, err := env.v.ValidateAndRelay(context.Background(), payload)
	if !errors.Is(err, ErrAssetNotSupported) {
		t.Fatalf("expected ErrAssetNotSupported, got %v", err)
	}
	requireFailed(t, env, res)
}

func TestRejectsTamperedFeeCommitment(t *testing.T) {
	env := newTestEnv(t, nil)
	data := packRelayData(t, testFeeReceiver, 200)

	commitment, err := env.quoter.IssueCommitment(data, testAsset, big.NewInt(1_000_000), false, testNowMS)
	if err != nil {
		t.Fatalf("IssueCommitment: %v", err)
	}
	// The commitment binds the exact withdrawalData bytes; a payload whose
	// data differs by one byte must be rejected before anything else.
	tampered := append([]byte{}, data...)
	tampered[len(tampered)-1] ^= 0x01

	payload := dummyPayload(t, tampered, 1_000_000)
	payload.FeeCommitment = commitment

	res, err := env.v.ValidateAndRelay(context.Background(), payload)
	if !errors.Is(err, ErrRelayerCommitmentRejected) {
		t.Fatalf("expected ErrRelayerCommitmentRejected, got %v", err)
	}
	requireFailed(t, env, res)
}

func TestRejectsExpiredFeeCommitment(t *testing.T) {
	env := newTestEnv(t, nil)
	data := packRelayData(t, testFeeReceiver, 200)

	commitment, err := env.quoter.IssueCommitment(data, testAsset, big.NewInt(1_000_000), false, testNowMS-60_000)
	if err != nil {
		t.Fatalf("IssueCommitment: %v", err)
	}

	payload := dummyPayload(t, data, 1_000_000)
	payload.FeeCommitment = commitment

	res, err := env.v.ValidateAndRelay(context.Background(), payload)
	if !errors.Is(err, ErrRelayerCommitmentRejected) {
		t.Fatalf("expected ErrRelayerCommitmentRejected, got %v", err)
	}
	requireFailed(t, env, res)
}

func TestRejectsCommitmentAmountAboveWithdrawn(t *testing.T) {
	env := newTestEnv(t, nil)
	data := packRelayData(t, testFeeReceiver, 200)

	commitment, err := env.quoter.IssueCommitment(data, testAsset, big.NewInt(2_000_000), false, testNowMS)
	if err != nil {
		t.Fatalf("IssueCommitment: %v", err)
	}

	payload := dummyPayload(t, data, 1_000_000)
	payload.FeeCommitment = commitment

	res, err := env.v.ValidateAndRelay(context.Background(), payload)
	if !errors.Is(err, ErrInsufficientWithdrawnValue) {
		t.Fatalf("expected ErrInsufficientWithdrawnValue, got %v", err)
	}
	requireFailed(t, env, res)
}

func TestComputeSecondaryTransferAmounts(t *testing.T) {
	withdrawn := big.NewInt(1_000_000)
	feeGross, feeBase := ComputeSecondaryTransferAmounts(withdrawn, 250, 100)
	if feeGross.Cmp(big.NewInt(25_000)) != 0 {
		t.Fatalf("feeGross = %s, want 25000", feeGross)
	}
	if feeBase.Cmp(big.NewInt(10_000)) != 0 {
		t.Fatalf("feeBase = %s, want 10000", feeBase)
	}
}

// provenPayload runs the full prover against real trees: the resulting
// payload passes every admission rule including Groth16 verification.
func provenPayload(t *testing.T, m *proof.Manager, data []byte) WithdrawalPayload {
	t.Helper()
	ctx := context.Background()
	scope := field.FromUint64(777)

	label := field.FromUint64(555)
	existingValue := field.FromUint64(5_000_000)
	existingNullifier := field.FromUint64(7)
	existingSecret := field.FromUint64(11)
	precommitment := poseidon.HashPrecommitment(existingNullifier, existingSecret)
	commitmentHash := poseidon.Hash3(existingValue, label, precommitment)

	state := merkletree.New(nil)
	state.Insert(ctx, field.FromUint64(9001))
	stateIdx, err := state.Insert(ctx, commitmentHash)
	if err != nil {
		t.Fatal(err)
	}
	asp := merkletree.New(nil)
	aspIdx, err := asp.Insert(ctx, label)
	if err != nil {
		t.Fatal(err)
	}

	stateProof, err := state.GenerateProof(ctx, stateIdx)
	if err != nil {
		t.Fatal(err)
	}
	aspProof, err := asp.GenerateProof(ctx, aspIdx)
	if err != nil {
		t.Fatal(err)
	}
	stateRoot, _ := state.Root(ctx)
	aspRoot, _ := asp.Root(ctx)

	ctxHash := privctx.Calculate(privctx.Withdrawal{Processooor: testEntrypoint, Data: data}, scope)

	gproof, err := m.ProveWithdrawal(&proof.WithdrawalInputs{
		Label:             label,
		ExistingValue:     existingValue,
		ExistingNullifier: existingNullifier,
		ExistingSecret:    existingSecret,
		NewNullifier:      field.FromUint64(13),
		NewSecret:         field.FromUint64(17),
		WithdrawnValue:    field.FromUint64(1_000_000),
		Context:           ctxHash,
		StateProof:        stateProof,
		StateRoot:         stateRoot,
		ASPProof:          aspProof,
		ASPRoot:           aspRoot,
	})
	if err != nil {
		t.Fatalf("ProveWithdrawal: %v", err)
	}

	return WithdrawalPayload{
		Scope:      scope,
		Withdrawal: contract.Withdrawal{Processooor: testEntrypoint, Data: data},
		Proof:      gproof,
	}
}

// End-to-end admission: a real proof against real trees clears all
// checks, the relay broadcasts, and the record lands BROADCASTED with the
// transaction hash. Tampering with the proof afterwards flips the same
// request to an InvalidProof failure, and a reverting broadcast surfaces
// the revert reason in the FAILED record.
func TestValidateAndRelayEndToEnd(t *testing.T) {
	if testing.Short() {
		t.Skip("groth16 setup is slow")
	}

	m, err := proof.NewManager()
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	env := newTestEnv(t, m)

	data := packRelayData(t, testFeeReceiver, 200)
	payload := provenPayload(t, m, data)

	commitment, err := env.quoter.IssueCommitment(data, testAsset, big.NewInt(1_000_000), false, testNowMS)
	if err != nil {
		t.Fatalf("IssueCommitment: %v", err)
	}
	payload.FeeCommitment = commitment

	res, err := env.v.ValidateAndRelay(context.Background(), payload)
	if err != nil {
		t.Fatalf("ValidateAndRelay: %v", err)
	}
	if !res.Success || res.TxHash != env.pool.relayHash.Hex() {
		t.Fatalf("unexpected result: %+v", res)
	}
	rec, err := env.st.GetRequest(context.Background(), res.RequestID)
	if err != nil {
		t.Fatalf("GetRequest: %v", err)
	}
	if rec.Status != store.StatusBroadcasted || rec.TxHash != env.pool.relayHash.Hex() {
		t.Fatalf("record not BROADCASTED with hash: %+v", rec)
	}

	// Same payload with one tampered public signal: the Groth16 check
	// rejects it.
	tampered := *payload.Proof
	tamperedSignals := make([]*big.Int, len(payload.Proof.PublicSignals))
	copy(tamperedSignals, payload.Proof.PublicSignals)
	tamperedSignals[0] = new(big.Int).Add(tamperedSignals[0], big.NewInt(1))
	tampered.PublicSignals = tamperedSignals

	badPayload := payload
	badPayload.Proof = &tampered
	res2, err := env.v.ValidateAndRelay(context.Background(), badPayload)
	if !errors.Is(err, ErrInvalidProof) {
		t.Fatalf("expected ErrInvalidProof, got %v", err)
	}
	requireFailed(t, env, res2)

	// A reverting broadcast surfaces the revert reason verbatim.
	env.pool.relayErr = errors.New("execution reverted: NullifierAlreadySpent")
	res3, err := env.v.ValidateAndRelay(context.Background(), payload)
	if !errors.Is(err, ErrTransactionFailed) {
		t.Fatalf("expected ErrTransactionFailed, got %v", err)
	}
	requireFailed(t, env, res3)
	rec3, err := env.st.GetRequest(context.Background(), res3.RequestID)
	if err != nil {
		t.Fatalf("GetRequest: %v", err)
	}
	if !strings.Contains(rec3.Error, "NullifierAlreadySpent") {
		t.Fatalf("revert reason not surfaced: %q", rec3.Error)
	}
}
