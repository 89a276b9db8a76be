package indexer

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ccoin/privacypool/internal/field"
)

// Common errors.
var (
	ErrNotFound     = errors.New("indexer: not found")
	ErrDBConnection = errors.New("indexer: database connection error")
)

// Config holds the Postgres connection parameters for the mirror's
// persistence layer.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int32
}

// DefaultConfig returns a sane local default.
func DefaultConfig() *Config {
	return &Config{
		Host:     "localhost",
		Port:     5432,
		User:     "privacypool",
		Password: "",
		Database: "privacypool_index",
		SSLMode:  "disable",
		MaxConns: 10,
	}
}

// Store persists mirrored tree leaves and per-stream sync cursors in
// Postgres, so a restarted indexer resumes instead of rescanning from
// genesis.
type Store struct {
	pool *pgxpool.Pool
}

const schema = `
CREATE TABLE IF NOT EXISTS indexer_state_leaves (
	pool_address  TEXT NOT NULL,
	leaf_index    BIGINT NOT NULL,
	leaf_value    TEXT NOT NULL,
	block_number  BIGINT NOT NULL,
	PRIMARY KEY (pool_address, leaf_index)
);
CREATE TABLE IF NOT EXISTS indexer_asp_leaves (
	leaf_index    BIGINT PRIMARY KEY,
	leaf_value    TEXT NOT NULL,
	block_number  BIGINT NOT NULL
);
CREATE TABLE IF NOT EXISTS indexer_cursors (
	cursor_key    TEXT PRIMARY KEY,
	last_block    BIGINT NOT NULL
);
CREATE TABLE IF NOT EXISTS indexer_asp_roots (
	root_index    BIGINT PRIMARY KEY,
	root          TEXT NOT NULL,
	ipfs_cid      BYTEA NOT NULL,
	timestamp_ms  BIGINT NOT NULL
);
`

// NewStore dials Postgres and ensures the mirror's schema exists.
// Database init failures propagate to the caller and abort startup;
// nothing here is allowed to mask a dead database as initialized.
func NewStore(ctx context.Context, cfg *Config) (*Store, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	connString := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s pool_max_conns=%d",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode, cfg.MaxConns,
	)

	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDBConnection, err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: %v", ErrDBConnection, err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("indexer: create schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// SaveStateLeaf idempotently persists one state-tree leaf.
func (s *Store) SaveStateLeaf(ctx context.Context, pool common.Address, index uint64, leaf field.Element, blockNumber uint64) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO indexer_state_leaves (pool_address, leaf_index, leaf_value, block_number)
		 VALUES ($1, $2, $3, $4) ON CONFLICT (pool_address, leaf_index) DO NOTHING`,
		pool.Hex(), index, leaf.ToFixedHex(), blockNumber,
	)
	if err != nil {
		return fmt.Errorf("indexer: save state leaf: %w", err)
	}
	return nil
}

// LoadStateLeaves returns pool's persisted state-tree leaves in index
// order.
func (s *Store) LoadStateLeaves(ctx context.Context, pool common.Address) ([]field.Element, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT leaf_value FROM indexer_state_leaves WHERE pool_address = $1 ORDER BY leaf_index ASC`,
		pool.Hex(),
	)
	if err != nil {
		return nil, fmt.Errorf("indexer: load state leaves: %w", err)
	}
	defer rows.Close()
	return scanLeaves(rows)
}

// SaveASPLeaf idempotently persists one ASP-tree leaf at its index; a
// removal's overwrite is applied by the caller (Mirror.applyASPEvent) as
// an explicit Update, but the row itself is keyed by index so a re-synced
// removal event still lands on the same primary key.
func (s *Store) SaveASPLeaf(ctx context.Context, index uint64, leaf field.Element, blockNumber uint64) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO indexer_asp_leaves (leaf_index, leaf_value, block_number)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (leaf_index) DO UPDATE SET leaf_value = EXCLUDED.leaf_value, block_number = EXCLUDED.block_number`,
		index, leaf.ToFixedHex(), blockNumber,
	)
	if err != nil {
		return fmt.Errorf("indexer: save asp leaf: %w", err)
	}
	return nil
}

// LoadASPLeaves returns every persisted ASP-tree leaf in index order,
// reflecting the latest value stored at each index (removals included).
func (s *Store) LoadASPLeaves(ctx context.Context) ([]field.Element, error) {
	rows, err := s.pool.Query(ctx, `SELECT leaf_value FROM indexer_asp_leaves ORDER BY leaf_index ASC`)
	if err != nil {
		return nil, fmt.Errorf("indexer: load asp leaves: %w", err)
	}
	defer rows.Close()
	return scanLeaves(rows)
}

func scanLeaves(rows pgx.Rows) ([]field.Element, error) {
	var out []field.Element
	for rows.Next() {
		var hexVal string
		if err := rows.Scan(&hexVal); err != nil {
			return nil, fmt.Errorf("indexer: scan leaf: %w", err)
		}
		leaf, err := field.FromFixedHex(hexVal)
		if err != nil {
			return nil, fmt.Errorf("indexer: decode leaf: %w", err)
		}
		out = append(out, leaf)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("indexer: scan leaves: %w", err)
	}
	return out, nil
}

// CursorOrZero returns the last synced block for key, or 0 if absent.
func (s *Store) CursorOrZero(ctx context.Context, key string) (uint64, error) {
	var last int64
	err := s.pool.QueryRow(ctx, `SELECT last_block FROM indexer_cursors WHERE cursor_key = $1`, key).Scan(&last)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("indexer: load cursor %s: %w", key, err)
	}
	return uint64(last), nil
}

// SetCursor advances key's last-synced block.
func (s *Store) SetCursor(ctx context.Context, key string, block uint64) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO indexer_cursors (cursor_key, last_block) VALUES ($1, $2)
		 ON CONFLICT (cursor_key) DO UPDATE SET last_block = EXCLUDED.last_block`,
		key, block,
	)
	if err != nil {
		return fmt.Errorf("indexer: set cursor %s: %w", key, err)
	}
	return nil
}
