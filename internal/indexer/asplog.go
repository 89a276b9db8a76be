package indexer

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/ccoin/privacypool/internal/field"
)

// CID length bounds for an association set entry's content identifier.
const (
	MinCIDLength = 32
	MaxCIDLength = 64
)

// ErrBadCID is returned when an entry's IPFS CID is outside [32, 64] bytes.
var ErrBadCID = errors.New("indexer: ipfs cid length out of range")

// AssociationSetEntry is one row of the append-only log of ASP roots: the
// root published at Index, the CID of the document describing the set at
// that point, and the publication timestamp. Historical roots stay
// queryable: a proof generated against a pre-removal root remains valid
// against that root for as long as the contract accepts it.
type AssociationSetEntry struct {
	Root        field.Element
	IPFSCID     []byte
	TimestampMS int64
	Index       uint64
}

// NewAssociationSetEntry validates the CID length bound and returns the
// entry.
func NewAssociationSetEntry(root field.Element, cid []byte, timestampMS int64, index uint64) (*AssociationSetEntry, error) {
	if len(cid) < MinCIDLength || len(cid) > MaxCIDLength {
		return nil, fmt.Errorf("%w: %d bytes", ErrBadCID, len(cid))
	}
	return &AssociationSetEntry{Root: root, IPFSCID: cid, TimestampMS: timestampMS, Index: index}, nil
}

// SaveASPRoot appends an entry to the ASP root log. Re-saving the same
// index is idempotent.
func (s *Store) SaveASPRoot(ctx context.Context, e *AssociationSetEntry) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO indexer_asp_roots (root_index, root, ipfs_cid, timestamp_ms)
		 VALUES ($1, $2, $3, $4) ON CONFLICT (root_index) DO NOTHING`,
		e.Index, e.Root.ToFixedHex(), e.IPFSCID, e.TimestampMS,
	)
	if err != nil {
		return fmt.Errorf("indexer: save asp root: %w", err)
	}
	return nil
}

// ASPRootByIndex looks up the log entry published at index.
func (s *Store) ASPRootByIndex(ctx context.Context, index uint64) (*AssociationSetEntry, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT root_index, root, ipfs_cid, timestamp_ms FROM indexer_asp_roots WHERE root_index = $1`,
		index,
	)
	return scanASPRoot(row)
}

// LatestASPRoot returns the highest-index entry of the log.
func (s *Store) LatestASPRoot(ctx context.Context) (*AssociationSetEntry, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT root_index, root, ipfs_cid, timestamp_ms FROM indexer_asp_roots ORDER BY root_index DESC LIMIT 1`,
	)
	return scanASPRoot(row)
}

func scanASPRoot(row pgx.Row) (*AssociationSetEntry, error) {
	var e AssociationSetEntry
	var rootHex string
	if err := row.Scan(&e.Index, &rootHex, &e.IPFSCID, &e.TimestampMS); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("indexer: scan asp root: %w", err)
	}
	root, err := field.FromFixedHex(rootHex)
	if err != nil {
		return nil, fmt.Errorf("indexer: decode asp root: %w", err)
	}
	e.Root = root
	return &e, nil
}
