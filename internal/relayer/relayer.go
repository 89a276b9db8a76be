// Package relayer's Service is the HTTP-facing composition root: it owns
// one Validator+Quoter+PoolContract runtime per configured
// chain and exposes the four-route HTTP surface
// (/relayer/request, /relayer/quote, /relayer/details, /ping) on top of
// go-chi with a logrus request-logging middleware. The daemon this module
// ships from has no HTTP surface of its own, so the chi/logrus pairing is
// new code grounded on the rest of the retrieved dependency stack.
package relayer

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/ccoin/privacypool/internal/contract"
	"github.com/ccoin/privacypool/internal/field"
	"github.com/ccoin/privacypool/internal/proof"
	"github.com/ccoin/privacypool/internal/relayer/feequote"
	"github.com/ccoin/privacypool/internal/relayer/httpapi"
	"github.com/ccoin/privacypool/internal/relayer/store"
)

// Swapper performs the extraGas secondary transaction (step 17: swap part
// of the collected fee to native, refund the relayer's gas advance, sweep
// the residue to the recipient). Its internals (DEX routing, multi-hop
// swap execution) live behind this seam; a deployment wires a real swap
// executor here.
type Swapper interface {
	SwapAndFund(ctx context.Context, asset common.Address, swapAmount, baseFeeAmount, gasRefund *big.Int, feeReceiver, signer, recipient common.Address) (common.Hash, error)
}

// ChainRuntime bundles everything a single configured chain needs to
// admit and relay withdrawals.
type ChainRuntime struct {
	Config    *ChainEntry
	Pool      contract.PoolContract
	Proofs    *proof.Manager
	Quoter    *feequote.Quoter
	Swap      Swapper
	GasPrice  func(ctx context.Context) (*big.Int, error)
	validator *Validator
}

// Service is the relayer's HTTP-facing composition root.
type Service struct {
	log    *logrus.Logger
	store  *store.Store
	cfg    *Config
	mu     sync.RWMutex
	chains map[int64]*ChainRuntime
	nowMS  func() int64
	mesh   MeshPublisher
}

// SetMesh attaches the optional mesh gossip publisher shared by every
// chain this service registers from now on. Pass
// nil (the default) to leave gossip off.
func (s *Service) SetMesh(m MeshPublisher) { s.mesh = m }

// NewService builds a Service sharing one request store across every
// configured chain.
func NewService(cfg *Config, log *logrus.Logger, st *store.Store, nowMS func() int64) *Service {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if nowMS == nil {
		nowMS = defaultNowMS
	}
	return &Service{log: log, store: st, cfg: cfg, chains: make(map[int64]*ChainRuntime), nowMS: nowMS}
}

// RegisterChain wires a fully-constructed runtime for chainID and builds
// its Validator/Quoter from the chain's configuration entry.
func (s *Service) RegisterChain(chainID int64, rt *ChainRuntime) error {
	entry, err := s.cfg.ResolveChain(chainID)
	if err != nil {
		return err
	}
	rt.Config = entry

	signerAddr, err := privateKeyToAddress(entry.SignerPrivateKey)
	if err != nil {
		return fmt.Errorf("relayer: chain %d signer key: %w", chainID, err)
	}

	chainConfig := &ChainConfig{
		ChainID:            big.NewInt(chainID),
		EntrypointAddress:  *entry.EntrypointAddress,
		FeeReceiverAddress: *entry.FeeReceiverAddress,
		SignerAddress:      signerAddr,
		MaxGasPriceWei:     entry.MaxGasPriceWei,
	}
	if entry.WrappedNative != nil {
		chainConfig.WrappedNativeAddress = entry.WrappedNative
	}

	rt.validator = NewValidator(rt.Pool, rt.Quoter, rt.Proofs, s.store, chainConfig, s.nowMS, rt.GasPrice)
	if s.mesh != nil {
		rt.validator.SetMesh(s.mesh)
	}
	if rt.Swap != nil {
		rt.validator.SetSwapper(rt.Swap)
	}

	s.mu.Lock()
	s.chains[chainID] = rt
	s.mu.Unlock()
	return nil
}

func (s *Service) chain(chainID int64) (*ChainRuntime, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rt, ok := s.chains[chainID]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedChain, chainID)
	}
	return rt, nil
}

// Router builds the chi router for the four-route HTTP surface.
func (s *Service) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)
	if s.cfg.CORSAllowAll {
		r.Use(allowAllCORS)
	}

	r.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("pong"))
	})
	r.Post("/relayer/request", s.handleRequest)
	r.Post("/relayer/quote", s.handleQuote)
	r.Get("/relayer/details", s.handleDetails)
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		httpapi.WriteError(w, http.StatusNotFound, "NotFound", errors.New("no such route"))
	})

	return r
}

func allowAllCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Service) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.log.WithFields(logrus.Fields{"method": r.Method, "path": r.URL.Path}).Info("relayer request")
		next.ServeHTTP(w, r)
	})
}

// --- wire DTOs ---

type proofDTO struct {
	PiA           [2]string    `json:"piA"`
	PiB           [2][2]string `json:"piB"`
	PiC           [2]string    `json:"piC"`
	PublicSignals []string     `json:"publicSignals"`
}

func (p proofDTO) toProof() (*proof.Groth16Proof, error) {
	parse := func(s string) (*big.Int, error) {
		v, ok := new(big.Int).SetString(s, 0)
		if !ok {
			return nil, fmt.Errorf("relayer: malformed integer %q", s)
		}
		return v, nil
	}

	piA, err := parsePair(p.PiA, parse)
	if err != nil {
		return nil, err
	}
	piC, err := parsePair(p.PiC, parse)
	if err != nil {
		return nil, err
	}
	row0, err := parsePair(p.PiB[0], parse)
	if err != nil {
		return nil, err
	}
	row1, err := parsePair(p.PiB[1], parse)
	if err != nil {
		return nil, err
	}

	signals := make([]*big.Int, len(p.PublicSignals))
	for i, s := range p.PublicSignals {
		v, err := parse(s)
		if err != nil {
			return nil, err
		}
		signals[i] = v
	}

	return &proof.Groth16Proof{
		PiA:           piA,
		PiB:           [2][2]*big.Int{row0, row1},
		PiC:           piC,
		PublicSignals: signals,
	}, nil
}

func parsePair(in [2]string, parse func(string) (*big.Int, error)) ([2]*big.Int, error) {
	var out [2]*big.Int
	for i, s := range in {
		v, err := parse(s)
		if err != nil {
			return out, err
		}
		out[i] = v
	}
	return out, nil
}

type feeCommitmentDTO struct {
	WithdrawalData string `json:"withdrawalData"`
	Asset          string `json:"asset"`
	Amount         string `json:"amount"`
	ExtraGas       bool   `json:"extraGas"`
	ExpirationMS   int64  `json:"expiration"`
	Signature      string `json:"signedRelayerCommitment"`
}

func (d *feeCommitmentDTO) toCommitment() (*feequote.SignedCommitment, error) {
	data, err := hexDecode(d.WithdrawalData)
	if err != nil {
		return nil, fmt.Errorf("relayer: feeCommitment.withdrawalData: %w", err)
	}
	sig, err := hexDecode(d.Signature)
	if err != nil {
		return nil, fmt.Errorf("relayer: feeCommitment.signedRelayerCommitment: %w", err)
	}
	amount, ok := new(big.Int).SetString(d.Amount, 0)
	if !ok {
		return nil, fmt.Errorf("relayer: feeCommitment.amount: malformed integer %q", d.Amount)
	}
	return &feequote.SignedCommitment{
		WithdrawalData: data,
		Asset:          common.HexToAddress(d.Asset),
		Amount:         amount,
		ExtraGas:       d.ExtraGas,
		ExpirationMS:   d.ExpirationMS,
		Signature:      sig,
	}, nil
}

type requestBody struct {
	ChainID       int64             `json:"chainId"`
	Scope         string            `json:"scope"`
	Processooor   string            `json:"processooor"`
	Data          string            `json:"data"`
	Proof         proofDTO          `json:"proof"`
	FeeCommitment *feeCommitmentDTO `json:"feeCommitment,omitempty"`
}

func hexDecode(s string) ([]byte, error) {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		s = s[2:]
	}
	return hex.DecodeString(s)
}

type relayResponseBody struct {
	Success   bool   `json:"success"`
	TxHash    string `json:"txHash,omitempty"`
	TxSwap    string `json:"txSwap,omitempty"`
	Error     string `json:"error,omitempty"`
	Timestamp int64  `json:"timestamp"`
	RequestID string `json:"requestId"`
}

// handleRequest implements POST /relayer/request: validate + broadcast.
// Policy rejections are still HTTP 200 so
// the client can correlate the response with its persisted record;
// malformed bodies are a transport-level 400.
func (s *Service) handleRequest(w http.ResponseWriter, r *http.Request) {
	var body requestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httpapi.WriteError(w, http.StatusBadRequest, "BadRequest", err)
		return
	}

	rt, err := s.chain(body.ChainID)
	if err != nil {
		httpapi.WriteError(w, http.StatusBadRequest, "UnsupportedChain", err)
		return
	}

	scope, err := field.FromFixedHex(body.Scope)
	if err != nil {
		httpapi.WriteError(w, http.StatusBadRequest, "BadRequest", err)
		return
	}
	data, err := hexDecode(body.Data)
	if err != nil {
		httpapi.WriteError(w, http.StatusBadRequest, "BadRequest", err)
		return
	}
	gproof, err := body.Proof.toProof()
	if err != nil {
		httpapi.WriteError(w, http.StatusBadRequest, "BadRequest", err)
		return
	}

	var feeCommitment *feequote.SignedCommitment
	if body.FeeCommitment != nil {
		feeCommitment, err = body.FeeCommitment.toCommitment()
		if err != nil {
			httpapi.WriteError(w, http.StatusBadRequest, "BadRequest", err)
			return
		}
	}

	payload := WithdrawalPayload{
		Scope: scope,
		Withdrawal: contract.Withdrawal{
			Processooor: common.HexToAddress(body.Processooor),
			Data:        data,
		},
		Proof:         gproof,
		FeeCommitment: feeCommitment,
	}

	result, relayErr := rt.validator.ValidateAndRelay(r.Context(), payload)
	if result == nil {
		// Only programmer-level failures (record creation, marshal) reach
		// here without a RelayResult at all; everything else is a policy
		// rejection the validator already recorded as FAILED.
		httpapi.WriteError(w, http.StatusInternalServerError, "InternalError", relayErr)
		return
	}

	resp := relayResponseBody{Success: result.Success, TxHash: result.TxHash, TxSwap: result.TxSwap, Timestamp: result.Timestamp, RequestID: result.RequestID}
	if relayErr != nil {
		resp.Error = relayErr.Error()
	}
	httpapi.WriteJSON(w, http.StatusOK, resp)
}

type quoteRequestBody struct {
	ChainID      int64  `json:"chainId"`
	AssetAddress string `json:"assetAddress"`
	AmountIn     string `json:"amountIn"`
	ExtraGas     bool   `json:"extraGas"`
	Recipient    string `json:"recipient,omitempty"`
}

type quoteResponseBody struct {
	FeeBPS        uint64            `json:"feeBPS"`
	GasPriceWei   string            `json:"gasPriceWei"`
	SwapPath      []string          `json:"swapPath,omitempty"`
	FeeCommitment *feeCommitmentDTO `json:"feeCommitment,omitempty"`
}

// handleQuote implements POST /relayer/quote.
func (s *Service) handleQuote(w http.ResponseWriter, r *http.Request) {
	var body quoteRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httpapi.WriteError(w, http.StatusBadRequest, "BadRequest", err)
		return
	}

	rt, err := s.chain(body.ChainID)
	if err != nil {
		httpapi.WriteError(w, http.StatusBadRequest, "UnsupportedChain", err)
		return
	}

	amountIn, ok := new(big.Int).SetString(body.AmountIn, 0)
	if !ok {
		httpapi.WriteError(w, http.StatusBadRequest, "BadRequest", fmt.Errorf("relayer: malformed amountIn %q", body.AmountIn))
		return
	}
	asset := common.HexToAddress(body.AssetAddress)

	gasPrice, err := rt.GasPrice(r.Context())
	if err != nil {
		httpapi.WriteError(w, http.StatusInternalServerError, "InternalError", err)
		return
	}
	if rt.Config.MaxGasPriceWei != nil && gasPrice.Cmp(rt.Config.MaxGasPriceWei) > 0 {
		httpapi.WriteError(w, http.StatusBadRequest, "MaxGasPrice", ErrMaxGasPrice)
		return
	}

	res, err := rt.Quoter.ComputeFeeBPS(r.Context(), feequote.FeeBPSInputs{
		AmountIn:    amountIn,
		AssetIn:     asset,
		ChainID:     big.NewInt(body.ChainID),
		GasPriceWei: gasPrice,
		ExtraGas:    body.ExtraGas,
	})
	if err != nil {
		httpapi.WriteError(w, http.StatusBadRequest, "BadRequest", err)
		return
	}

	resp := quoteResponseBody{FeeBPS: res.FeeBPS, GasPriceWei: gasPrice.String()}
	for _, a := range res.Quote.Path {
		resp.SwapPath = append(resp.SwapPath, a.Hex())
	}

	if body.Recipient != "" {
		feeRecipient := *rt.Config.FeeReceiverAddress
		signerAddr, err := privateKeyToAddress(rt.Config.SignerPrivateKey)
		if err == nil && body.ExtraGas && signerAddr != feeRecipient {
			feeRecipient = signerAddr
		}
		relayData, err := contract.PackRelayData(contract.RelayData{
			Recipient:    common.HexToAddress(body.Recipient),
			FeeRecipient: feeRecipient,
			RelayFeeBPS:  new(big.Int).SetUint64(res.FeeBPS),
		})
		if err != nil {
			httpapi.WriteError(w, http.StatusInternalServerError, "InternalError", err)
			return
		}
		commitment, err := rt.Quoter.IssueCommitment(relayData, asset, amountIn, body.ExtraGas, s.nowMS())
		if err != nil {
			httpapi.WriteError(w, http.StatusInternalServerError, "InternalError", err)
			return
		}
		resp.FeeCommitment = &feeCommitmentDTO{
			WithdrawalData: "0x" + hex.EncodeToString(commitment.WithdrawalData),
			Asset:          commitment.Asset.Hex(),
			Amount:         commitment.Amount.String(),
			ExtraGas:       commitment.ExtraGas,
			ExpirationMS:   commitment.ExpirationMS,
			Signature:      "0x" + hex.EncodeToString(commitment.Signature),
		}
	}

	httpapi.WriteJSON(w, http.StatusOK, resp)
}

type detailsResponseBody struct {
	FeeBPS             uint64 `json:"feeBPS"`
	MinWithdrawAmount  string `json:"minWithdrawAmount"`
	FeeReceiverAddress string `json:"feeReceiverAddress"`
	AssetAddress       string `json:"assetAddress"`
	MaxGasPrice        string `json:"maxGasPrice,omitempty"`
	ChainID            int64  `json:"chainId"`
}

// handleDetails implements GET /relayer/details.
func (s *Service) handleDetails(w http.ResponseWriter, r *http.Request) {
	chainID, err := strconv.ParseInt(r.URL.Query().Get("chainId"), 10, 64)
	if err != nil {
		httpapi.WriteError(w, http.StatusBadRequest, "BadRequest", fmt.Errorf("relayer: malformed chainId: %w", err))
		return
	}
	rt, err := s.chain(chainID)
	if err != nil {
		httpapi.WriteError(w, http.StatusBadRequest, "UnsupportedChain", err)
		return
	}

	asset := common.HexToAddress(r.URL.Query().Get("assetAddress"))
	settings, ok := rt.Config.AssetConfigFor(asset)
	if !ok {
		httpapi.WriteError(w, http.StatusBadRequest, "AssetNotSupported", fmt.Errorf("relayer: asset %s not supported on chain %d", asset.Hex(), chainID))
		return
	}

	resp := detailsResponseBody{
		FeeBPS:             settings.FeeBPS,
		MinWithdrawAmount:  settings.MinWithdrawAmount.String(),
		FeeReceiverAddress: rt.Config.FeeReceiverAddress.Hex(),
		AssetAddress:       asset.Hex(),
		ChainID:            chainID,
	}
	if rt.Config.MaxGasPriceWei != nil {
		resp.MaxGasPrice = rt.Config.MaxGasPriceWei.String()
	}
	httpapi.WriteJSON(w, http.StatusOK, resp)
}

func defaultNowMS() int64 { return timeNowUnixMilli() }
