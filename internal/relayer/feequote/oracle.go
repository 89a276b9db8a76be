package feequote

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ccoin/privacypool/internal/contract"
)

// PoolCandidate is one liquidity pool a pair can be priced through. Num
// and Den are the pool's current exchange rate for the probed amount:
// Num units of tokenOut buy Den units of tokenIn.
type PoolCandidate struct {
	FeePPM    uint64
	Liquidity *big.Int
	Tick      int64
	Unlocked  bool
	Num       *big.Int
	Den       *big.Int
}

// PairQuoter inspects the DEX's pools for a single token pair. The DEX's
// internal quoting math stays behind this seam; the oracle only routes.
type PairQuoter interface {
	QuotePair(ctx context.Context, chainID *big.Int, tokenIn, tokenOut common.Address, amountIn *big.Int) ([]PoolCandidate, error)
}

// RoutingOracle implements PriceOracle: the native asset prices at 1:1,
// every other asset is priced against the wrapped native token through a
// direct pair first and common-intermediary two-hop routes after. Among a
// pair's candidate pools it selects the lowest-fee one that is live
// (non-zero liquidity, tick != 0, unlocked). When every route fails, the
// direct pair's error is surfaced.
type RoutingOracle struct {
	pairs          PairQuoter
	wrappedNative  common.Address
	intermediaries []common.Address
}

// NewRoutingOracle builds an oracle routing through wrappedNative, with
// optional intermediary tokens for two-hop fallback routes.
func NewRoutingOracle(pairs PairQuoter, wrappedNative common.Address, intermediaries []common.Address) *RoutingOracle {
	return &RoutingOracle{pairs: pairs, wrappedNative: wrappedNative, intermediaries: intermediaries}
}

func (o *RoutingOracle) Quote(ctx context.Context, chainID *big.Int, assetIn common.Address, amountIn *big.Int) (*Quote, error) {
	if assetIn == contract.NativeAsset || assetIn == o.wrappedNative {
		return &Quote{Num: big.NewInt(1), Den: big.NewInt(1), Path: []common.Address{assetIn}}, nil
	}

	direct, directErr := o.quoteHop(ctx, chainID, assetIn, o.wrappedNative, amountIn)
	if directErr == nil {
		return &Quote{Num: direct.Num, Den: direct.Den, Path: []common.Address{assetIn, o.wrappedNative}}, nil
	}

	for _, mid := range o.intermediaries {
		if mid == assetIn || mid == o.wrappedNative {
			continue
		}
		first, err := o.quoteHop(ctx, chainID, assetIn, mid, amountIn)
		if err != nil {
			continue
		}
		// Approximate the second hop's input with the first hop's output.
		midAmount := new(big.Int).Mul(amountIn, first.Num)
		if first.Den.Sign() == 0 {
			continue
		}
		midAmount.Div(midAmount, first.Den)
		second, err := o.quoteHop(ctx, chainID, mid, o.wrappedNative, midAmount)
		if err != nil {
			continue
		}
		return &Quote{
			Num:  new(big.Int).Mul(first.Num, second.Num),
			Den:  new(big.Int).Mul(first.Den, second.Den),
			Path: []common.Address{assetIn, mid, o.wrappedNative},
		}, nil
	}

	// Every route failed; the direct error is the one worth reporting.
	return nil, fmt.Errorf("%w: %v", ErrNoRoute, directErr)
}

// quoteHop selects the best live pool for one pair: lowest fee among
// candidates with non-zero liquidity, a non-zero tick, and an unlocked
// state.
func (o *RoutingOracle) quoteHop(ctx context.Context, chainID *big.Int, tokenIn, tokenOut common.Address, amountIn *big.Int) (*PoolCandidate, error) {
	candidates, err := o.pairs.QuotePair(ctx, chainID, tokenIn, tokenOut, amountIn)
	if err != nil {
		return nil, err
	}

	var best *PoolCandidate
	for i := range candidates {
		c := &candidates[i]
		if c.Liquidity == nil || c.Liquidity.Sign() == 0 || c.Tick == 0 || !c.Unlocked {
			continue
		}
		if best == nil || c.FeePPM < best.FeePPM {
			best = c
		}
	}
	if best == nil {
		return nil, fmt.Errorf("feequote: no live pool for %s -> %s", tokenIn.Hex(), tokenOut.Hex())
	}
	return best, nil
}
