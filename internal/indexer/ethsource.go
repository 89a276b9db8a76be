package indexer

import (
	"context"
	"fmt"
	"math/big"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/ccoin/privacypool/internal/field"
)

// Deposit-tree and ASP-tree event signatures: the minimal log shapes a
// pool and its ASP publisher must emit for a mirror to stay current,
// named the way
// the rest of this module names on-chain selectors (see
// internal/contract/abi.go's `selector` helper).
var (
	depositEventSig = crypto.Keccak256Hash([]byte("LeafInserted(address,uint256,uint256,uint256)"))
	aspEventSig     = crypto.Keccak256Hash([]byte("ASPLeafSet(uint256,uint256,uint256)"))
)

var (
	uint256Ty, _ = abi.NewType("uint256", "", nil)
)

// EthereumLogSource implements LogSource against a live JSON-RPC endpoint.
type EthereumLogSource struct {
	client *ethclient.Client
}

// NewEthereumLogSource dials rpcURL.
func NewEthereumLogSource(rpcURL string) (*EthereumLogSource, error) {
	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("indexer: dial %s: %w", rpcURL, err)
	}
	return &EthereumLogSource{client: client}, nil
}

func (s *EthereumLogSource) LatestBlock(ctx context.Context) (uint64, error) {
	header, err := s.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("indexer: latest header: %w", err)
	}
	return header.Number.Uint64(), nil
}

// FetchDepositEvents pulls LeafInserted(pool, commitment, label, index)
// logs emitted by pool between fromBlock and toBlock, inclusive.
func (s *EthereumLogSource) FetchDepositEvents(ctx context.Context, pool common.Address, fromBlock, toBlock uint64) ([]DepositEvent, error) {
	if fromBlock > toBlock {
		return nil, nil
	}
	logs, err := s.client.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
		Addresses: []common.Address{pool},
		Topics:    [][]common.Hash{{depositEventSig}},
	})
	if err != nil {
		return nil, fmt.Errorf("indexer: filter deposit logs: %w", err)
	}

	args := abi.Arguments{{Type: uint256Ty}, {Type: uint256Ty}, {Type: uint256Ty}}
	out := make([]DepositEvent, 0, len(logs))
	for _, l := range logs {
		vals, err := args.Unpack(l.Data)
		if err != nil {
			return nil, fmt.Errorf("indexer: unpack deposit log: %w", err)
		}
		out = append(out, DepositEvent{
			Pool:        pool,
			Commitment:  field.FromBigInt(vals[0].(*big.Int)),
			Label:       field.FromBigInt(vals[1].(*big.Int)),
			Index:       vals[2].(*big.Int).Uint64(),
			BlockNumber: l.BlockNumber,
		})
	}
	return out, nil
}

// FetchASPEvents pulls ASPLeafSet(label, leaf, index) logs from the
// association-set publisher between fromBlock and toBlock, inclusive.
// Removal is signaled by leaf == Poseidon1(0); the indexer applies it as
// an Update (see Mirror.applyASPEvent), not a row delete.
func (s *EthereumLogSource) FetchASPEvents(ctx context.Context, fromBlock, toBlock uint64) ([]ASPEvent, error) {
	if fromBlock > toBlock {
		return nil, nil
	}
	logs, err := s.client.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
		Topics:    [][]common.Hash{{aspEventSig}},
	})
	if err != nil {
		return nil, fmt.Errorf("indexer: filter asp logs: %w", err)
	}

	args := abi.Arguments{{Type: uint256Ty}, {Type: uint256Ty}, {Type: uint256Ty}}
	out := make([]ASPEvent, 0, len(logs))
	for _, l := range logs {
		vals, err := args.Unpack(l.Data)
		if err != nil {
			return nil, fmt.Errorf("indexer: unpack asp log: %w", err)
		}
		out = append(out, ASPEvent{
			Label:       field.FromBigInt(vals[0].(*big.Int)),
			Leaf:        field.FromBigInt(vals[1].(*big.Int)),
			Index:       vals[2].(*big.Int).Uint64(),
			BlockNumber: l.BlockNumber,
		})
	}
	return out, nil
}
