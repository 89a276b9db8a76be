// Package indexer mirrors a pool's on-chain state and ASP logs into local
// Lean-IMT instances: the trees are owned by the pool contract and
// mirrored locally so inclusion proofs can be generated offline. A
// long-lived SDK or relayer process uses this instead of
// re-scanning the chain and rebuilding a tree from scratch on every
// withdrawal.
//
// The persistence layer is a pgx pool holding a two-tree leaf log plus
// per-stream sync cursors ("state:<pool>" and "asp"). State leaves are
// idempotent ON CONFLICT DO NOTHING inserts; ASP leaves and cursors are
// ON CONFLICT DO UPDATE upserts, so a removal overwrites its leaf row.
package indexer

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ccoin/privacypool/internal/field"
	"github.com/ccoin/privacypool/internal/merkletree"
)

// DepositEvent is one commitment inserted into a pool's state tree.
type DepositEvent struct {
	Pool        common.Address
	Commitment  field.Element
	Label       field.Element
	Index       uint64
	BlockNumber uint64
}

// ASPEvent is one label admitted to or removed from the association set.
// Removed leaves carry the Poseidon1(0) sentinel; the mirror applies it
// as a tree Update, never a delete.
type ASPEvent struct {
	Label       field.Element
	Leaf        field.Element
	Index       uint64
	BlockNumber uint64
}

// LogSource fetches the two event streams a mirror needs to stay current.
// The concrete implementation talks to a live chain (ethsource.go); tests
// substitute an in-memory fake. This seam only names the event shapes the
// indexer consumes, never contract internals.
type LogSource interface {
	LatestBlock(ctx context.Context) (uint64, error)
	FetchDepositEvents(ctx context.Context, pool common.Address, fromBlock, toBlock uint64) ([]DepositEvent, error)
	FetchASPEvents(ctx context.Context, fromBlock, toBlock uint64) ([]ASPEvent, error)
}

// Persistence is the slice of the Store a Mirror needs: leaf logs and
// sync cursors. Satisfied by *Store; tests substitute an in-memory fake.
type Persistence interface {
	LoadStateLeaves(ctx context.Context, pool common.Address) ([]field.Element, error)
	SaveStateLeaf(ctx context.Context, pool common.Address, index uint64, leaf field.Element, blockNumber uint64) error
	LoadASPLeaves(ctx context.Context) ([]field.Element, error)
	SaveASPLeaf(ctx context.Context, index uint64, leaf field.Element, blockNumber uint64) error
	CursorOrZero(ctx context.Context, key string) (uint64, error)
	SetCursor(ctx context.Context, key string, block uint64) error
}

// Mirror holds one state tree per pool address plus the single shared ASP
// tree, replayed from a LogSource and persisted through a Store so a
// process restart resumes from its last synced block instead of
// rescanning from genesis.
type Mirror struct {
	mu     sync.Mutex
	store  Persistence
	source LogSource

	stateTrees map[common.Address]*merkletree.LeanIMT
	aspTree    *merkletree.LeanIMT
}

// NewMirror constructs a Mirror backed by store and fed by source.
func NewMirror(store Persistence, source LogSource) *Mirror {
	return &Mirror{
		store:      store,
		source:     source,
		stateTrees: make(map[common.Address]*merkletree.LeanIMT),
		aspTree:    merkletree.New(nil),
	}
}

// Bootstrap loads every previously persisted leaf for pool's state tree
// and the shared ASP tree into fresh in-memory Lean-IMTs by inserting the
// leaves in index order. Both trees are rebuilt by inserts alone: a
// persisted ASP leaf row already holds the latest value at its index
// (a removal overwrote it), so no updates are replayed.
func (m *Mirror) Bootstrap(ctx context.Context, pool common.Address) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stateLeaves, err := m.store.LoadStateLeaves(ctx, pool)
	if err != nil {
		return fmt.Errorf("indexer: bootstrap state tree: %w", err)
	}
	stateTree := merkletree.New(nil)
	for _, leaf := range stateLeaves {
		if _, err := stateTree.Insert(ctx, leaf); err != nil {
			return fmt.Errorf("indexer: replay state leaf: %w", err)
		}
	}
	m.stateTrees[pool] = stateTree

	aspLeaves, err := m.store.LoadASPLeaves(ctx)
	if err != nil {
		return fmt.Errorf("indexer: bootstrap asp tree: %w", err)
	}
	aspTree := merkletree.New(nil)
	for _, leaf := range aspLeaves {
		if _, err := aspTree.Insert(ctx, leaf); err != nil {
			return fmt.Errorf("indexer: replay asp leaf: %w", err)
		}
	}
	m.aspTree = aspTree

	return nil
}

// Sync advances pool's mirror by fetching every deposit/ASP event between
// the last persisted cursor (exclusive) and the chain tip minus
// confirmations (inclusive), applying them to the in-memory trees and
// persisting both the new leaves and the advanced cursor. confirmations
// guards against replaying events from a block that later gets
// reorganized out.
func (m *Mirror) Sync(ctx context.Context, pool common.Address, confirmations uint64) error {
	latest, err := m.source.LatestBlock(ctx)
	if err != nil {
		return fmt.Errorf("indexer: latest block: %w", err)
	}
	if latest < confirmations {
		return nil
	}
	safeTip := latest - confirmations

	m.mu.Lock()
	defer m.mu.Unlock()

	stateCursorKey := stateCursorKey(pool)
	fromBlock, err := m.store.CursorOrZero(ctx, stateCursorKey)
	if err != nil {
		return fmt.Errorf("indexer: load state cursor: %w", err)
	}
	if fromBlock > 0 {
		fromBlock++
	}
	if fromBlock <= safeTip {
		deposits, err := m.source.FetchDepositEvents(ctx, pool, fromBlock, safeTip)
		if err != nil {
			return fmt.Errorf("indexer: fetch deposit events: %w", err)
		}
		tree := m.stateTrees[pool]
		if tree == nil {
			tree = merkletree.New(nil)
			m.stateTrees[pool] = tree
		}
		for _, ev := range deposits {
			if _, err := tree.Insert(ctx, ev.Commitment); err != nil {
				return fmt.Errorf("indexer: insert deposit leaf: %w", err)
			}
			if err := m.store.SaveStateLeaf(ctx, pool, ev.Index, ev.Commitment, ev.BlockNumber); err != nil {
				return fmt.Errorf("indexer: persist deposit leaf: %w", err)
			}
		}
		if err := m.store.SetCursor(ctx, stateCursorKey, safeTip); err != nil {
			return fmt.Errorf("indexer: advance state cursor: %w", err)
		}
	}

	aspFrom, err := m.store.CursorOrZero(ctx, aspCursorKey)
	if err != nil {
		return fmt.Errorf("indexer: load asp cursor: %w", err)
	}
	if aspFrom > 0 {
		aspFrom++
	}
	if aspFrom <= safeTip {
		aspEvents, err := m.source.FetchASPEvents(ctx, aspFrom, safeTip)
		if err != nil {
			return fmt.Errorf("indexer: fetch asp events: %w", err)
		}
		for _, ev := range aspEvents {
			if err := m.applyASPEvent(ctx, ev); err != nil {
				return err
			}
		}
		if err := m.store.SetCursor(ctx, aspCursorKey, safeTip); err != nil {
			return fmt.Errorf("indexer: advance asp cursor: %w", err)
		}
	}

	return nil
}

// applyASPEvent inserts a new label at the next index, or updates the
// existing index in place when the event names one already seen; the
// "remove a label by overwriting with Poseidon(0)" idiom
// surfaces here as an Update rather than a second Insert.
func (m *Mirror) applyASPEvent(ctx context.Context, ev ASPEvent) error {
	size := m.aspTree.Size()
	switch {
	case int(ev.Index) == size:
		if _, err := m.aspTree.Insert(ctx, ev.Leaf); err != nil {
			return fmt.Errorf("indexer: insert asp leaf: %w", err)
		}
	case int(ev.Index) < size:
		if err := m.aspTree.Update(ctx, int(ev.Index), ev.Leaf); err != nil {
			return fmt.Errorf("indexer: update asp leaf: %w", err)
		}
	default:
		return fmt.Errorf("indexer: asp event index %d skips ahead of tree size %d", ev.Index, size)
	}
	return m.store.SaveASPLeaf(ctx, ev.Index, ev.Leaf, ev.BlockNumber)
}

// GenerateStateProof returns a fresh inclusion proof for leafIndex in
// pool's mirrored state tree.
func (m *Mirror) GenerateStateProof(ctx context.Context, pool common.Address, leafIndex int) (*merkletree.InclusionProof, error) {
	m.mu.Lock()
	tree := m.stateTrees[pool]
	m.mu.Unlock()
	if tree == nil {
		return nil, fmt.Errorf("indexer: no mirrored state tree for pool %s", pool)
	}
	return tree.GenerateProof(ctx, leafIndex)
}

// GenerateASPProof returns a fresh inclusion proof for leafIndex in the
// shared ASP tree.
func (m *Mirror) GenerateASPProof(ctx context.Context, leafIndex int) (*merkletree.InclusionProof, error) {
	m.mu.Lock()
	tree := m.aspTree
	m.mu.Unlock()
	return tree.GenerateProof(ctx, leafIndex)
}

// StateRoot returns pool's mirrored state tree root.
func (m *Mirror) StateRoot(ctx context.Context, pool common.Address) (field.Element, error) {
	m.mu.Lock()
	tree := m.stateTrees[pool]
	m.mu.Unlock()
	if tree == nil {
		return field.Zero(), fmt.Errorf("indexer: no mirrored state tree for pool %s", pool)
	}
	return tree.Root(ctx)
}

// ASPRoot returns the shared ASP tree's current root.
func (m *Mirror) ASPRoot(ctx context.Context) (field.Element, error) {
	m.mu.Lock()
	tree := m.aspTree
	m.mu.Unlock()
	return tree.Root(ctx)
}

func stateCursorKey(pool common.Address) string {
	return "state:" + pool.Hex()
}

const aspCursorKey = "asp"
