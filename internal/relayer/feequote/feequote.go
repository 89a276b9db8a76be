// Package feequote computes the relayer's effective fee in basis points
// and issues short-lived signed fee commitments: the quoted feeBPS is
// the base margin plus whatever it takes to recoup the relay gas cost in
// the withdrawn asset at the oracle's current price.
package feequote

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	ethmath "github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// ErrNoRoute is returned when neither a direct pair nor any multi-hop
// route could price the asset.
var ErrNoRoute = errors.New("feequote: no price route available")

// Quote is the oracle's answer: `num` native units buy `den` asset units.
type Quote struct {
	Num  *big.Int
	Den  *big.Int
	Path []common.Address
}

// PriceOracle resolves an asset's native-denominated price, trying a
// direct pair first and falling back to common-intermediary multi-hop
// routes, selecting the lowest-fee pool with non-zero liquidity among
// candidates.
type PriceOracle interface {
	Quote(ctx context.Context, chainID *big.Int, assetIn common.Address, amountIn *big.Int) (*Quote, error)
}

// Config holds the static fee parameters of the quoting formula.
type Config struct {
	BaseFeeBPS      uint64
	RelayTxCost     uint64 // gas units consumed by the primary relay tx
	ExtraGasTxCost  uint64 // gas units consumed by the secondary refund/sweep tx, if extraGas
	ExtraGasFundAmt uint64 // extra gas units the relayer fronts for the user, if extraGas
}

// DefaultConfig mirrors a conventional DefaultFeeConfig shape: sane
// defaults a caller overrides per deployment.
func DefaultConfig() *Config {
	return &Config{
		BaseFeeBPS:      0,
		RelayTxCost:     650_000,
		ExtraGasTxCost:  320_000,
		ExtraGasFundAmt: 600_000,
	}
}

// Quoter computes feeBPS and issues signed commitments: mutex-free since
// config is immutable after construction and the oracle owns its own
// concurrency.
type Quoter struct {
	cfg         *Config
	oracle      PriceOracle
	signer      *ecdsa.PrivateKey
	signerAddr  common.Address
	chainID     *big.Int
	feeReceiver common.Address
}

// NewQuoter builds a Quoter signing commitments with signer for chainID.
func NewQuoter(cfg *Config, oracle PriceOracle, signer *ecdsa.PrivateKey, feeReceiver common.Address, chainID *big.Int) *Quoter {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Quoter{
		cfg:         cfg,
		oracle:      oracle,
		signer:      signer,
		signerAddr:  crypto.PubkeyToAddress(signer.PublicKey),
		chainID:     chainID,
		feeReceiver: feeReceiver,
	}
}

// SignerAddress is the address fee-commitment signatures must recover to.
func (q *Quoter) SignerAddress() common.Address {
	return q.signerAddr
}

// BaseFeeBPS is the configured margin the extraGas fee split keeps for
// the relayer.
func (q *Quoter) BaseFeeBPS() uint64 { return q.cfg.BaseFeeBPS }

// ExtraGasTxCost is the gas-unit budget of the secondary refund/sweep
// transaction.
func (q *Quoter) ExtraGasTxCost() uint64 { return q.cfg.ExtraGasTxCost }

// FeeBPSInputs bundles the variables the feeBPS formula closes over.
type FeeBPSInputs struct {
	AmountIn    *big.Int
	AssetIn     common.Address
	ChainID     *big.Int
	GasPriceWei *big.Int
	ExtraGas    bool
}

// Result is the quoter's response to `/relayer/quote`.
type Result struct {
	FeeBPS      uint64
	Quote       *Quote
	GasPriceWei *big.Int
}

// ComputeFeeBPS implements
//
//	totalGasUnits = relayTxCost + (extraGas ? extraGasTxCost + extraGasFundAmount : 0)
//	nativeCost    = gasPrice · totalGasUnits
//	feeBPS        = baseFeeBPS + ceil(den · 10000 · nativeCost / (amountIn · num))
func (q *Quoter) ComputeFeeBPS(ctx context.Context, in FeeBPSInputs) (*Result, error) {
	if in.AmountIn == nil || in.AmountIn.Sign() <= 0 {
		return nil, errors.New("feequote: amountIn must be positive")
	}

	quote, err := q.oracle.Quote(ctx, in.ChainID, in.AssetIn, in.AmountIn)
	if err != nil {
		return nil, err
	}

	totalGasUnits := new(big.Int).SetUint64(q.cfg.RelayTxCost)
	if in.ExtraGas {
		totalGasUnits.Add(totalGasUnits, new(big.Int).SetUint64(q.cfg.ExtraGasTxCost))
		totalGasUnits.Add(totalGasUnits, new(big.Int).SetUint64(q.cfg.ExtraGasFundAmt))
	}

	nativeCost := new(big.Int).Mul(in.GasPriceWei, totalGasUnits)

	numerator := new(big.Int).Mul(quote.Den, big.NewInt(10_000))
	numerator.Mul(numerator, nativeCost)

	denominator := new(big.Int).Mul(in.AmountIn, quote.Num)
	if denominator.Sign() == 0 {
		return nil, errors.New("feequote: degenerate price quote")
	}

	marginBPS := ceilDiv(numerator, denominator)

	return &Result{
		FeeBPS:      q.cfg.BaseFeeBPS + marginBPS.Uint64(),
		Quote:       quote,
		GasPriceWei: in.GasPriceWei,
	}, nil
}

func ceilDiv(num, den *big.Int) *big.Int {
	q, r := new(big.Int).QuoRem(num, den, new(big.Int))
	if r.Sign() != 0 {
		q.Add(q, big.NewInt(1))
	}
	return q
}

// relayerCommitmentWindowMS is the signed-commitment validity window.
const relayerCommitmentWindowMS = int64(20_000)

// RelayerCommitmentDomainName and Version fix the EIP-712 domain.
const (
	RelayerCommitmentDomainName    = "Privacy Pools Relayer"
	RelayerCommitmentDomainVersion = "1"
)

// SignedCommitment is the fee commitment handed to a withdrawal
// requester: a signed promise to relay at the quoted fee until expiry.
type SignedCommitment struct {
	WithdrawalData []byte
	Asset          common.Address
	Amount         *big.Int
	ExtraGas       bool
	ExpirationMS   int64
	Signature      []byte
}

// IssueCommitment signs an EIP-712 RelayerCommitment over withdrawalData,
// valid until nowMS+20s.
func (q *Quoter) IssueCommitment(withdrawalData []byte, asset common.Address, amount *big.Int, extraGas bool, nowMS int64) (*SignedCommitment, error) {
	expiration := nowMS + relayerCommitmentWindowMS

	typedData := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": {
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
			},
			"RelayerCommitment": {
				{Name: "withdrawalData", Type: "bytes"},
				{Name: "asset", Type: "address"},
				{Name: "expiration", Type: "uint256"},
				{Name: "amount", Type: "uint256"},
				{Name: "extraGas", Type: "bool"},
			},
		},
		PrimaryType: "RelayerCommitment",
		Domain: apitypes.TypedDataDomain{
			Name:    RelayerCommitmentDomainName,
			Version: RelayerCommitmentDomainVersion,
			ChainId: (*ethmath.HexOrDecimal256)(q.chainID),
		},
		Message: apitypes.TypedDataMessage{
			"withdrawalData": withdrawalData,
			"asset":          asset.Hex(),
			"expiration":     fromInt64(expiration).String(),
			"amount":         amount.String(),
			"extraGas":       extraGas,
		},
	}

	digest, err := typedDataHash(typedData)
	if err != nil {
		return nil, err
	}

	sig, err := crypto.Sign(digest, q.signer)
	if err != nil {
		return nil, err
	}

	return &SignedCommitment{
		WithdrawalData: withdrawalData,
		Asset:          asset,
		Amount:         amount,
		ExtraGas:       extraGas,
		ExpirationMS:   expiration,
		Signature:      sig,
	}, nil
}

// VerifyCommitment checks the signature recovers to expectedSigner and
// that the commitment is not expired at nowMS. chainID must
// match the domain the commitment was signed under.
func VerifyCommitment(c *SignedCommitment, expectedSigner common.Address, chainID *big.Int, nowMS int64) (bool, error) {
	if c.ExpirationMS < nowMS {
		return false, nil
	}

	typedData := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": {
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
			},
			"RelayerCommitment": {
				{Name: "withdrawalData", Type: "bytes"},
				{Name: "asset", Type: "address"},
				{Name: "expiration", Type: "uint256"},
				{Name: "amount", Type: "uint256"},
				{Name: "extraGas", Type: "bool"},
			},
		},
		PrimaryType: "RelayerCommitment",
		Domain: apitypes.TypedDataDomain{
			Name:    RelayerCommitmentDomainName,
			Version: RelayerCommitmentDomainVersion,
			ChainId: (*ethmath.HexOrDecimal256)(chainID),
		},
		Message: apitypes.TypedDataMessage{
			"withdrawalData": c.WithdrawalData,
			"asset":          c.Asset.Hex(),
			"expiration":     fromInt64(c.ExpirationMS).String(),
			"amount":         c.Amount.String(),
			"extraGas":       c.ExtraGas,
		},
	}

	digest, err := typedDataHash(typedData)
	if err != nil {
		return false, err
	}

	sig := make([]byte, len(c.Signature))
	copy(sig, c.Signature)
	if len(sig) == 65 && sig[64] >= 27 {
		sig[64] -= 27
	}

	pub, err := crypto.SigToPub(digest, sig)
	if err != nil {
		return false, err
	}

	return crypto.PubkeyToAddress(*pub) == expectedSigner, nil
}

func typedDataHash(td apitypes.TypedData) ([]byte, error) {
	domainSeparator, err := td.HashStruct("EIP712Domain", td.Domain.Map())
	if err != nil {
		return nil, err
	}
	messageHash, err := td.HashStruct(td.PrimaryType, td.Message)
	if err != nil {
		return nil, err
	}
	rawData := append([]byte{0x19, 0x01}, domainSeparator...)
	rawData = append(rawData, messageHash...)
	return crypto.Keccak256(rawData), nil
}

func fromInt64(v int64) *big.Int {
	return big.NewInt(v)
}
