// Package store persists the relayer's request lifecycle: one durable
// record per relay attempt, RECEIVED until a terminal BROADCASTED or
// FAILED. Backed by modernc.org/sqlite, a pure Go driver requiring no
// cgo; a relayer's per-request log is single-writer-per-record and
// needs no more database than a local file.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Common errors, mirroring a conventional storage package shape.
var (
	ErrNotFound     = errors.New("store: request not found")
	ErrDuplicate    = errors.New("store: duplicate request id")
	ErrDBConnection = errors.New("store: database connection error")
)

// Status is the request lifecycle state. RECEIVED transitions to exactly
// one of BROADCASTED or FAILED; both are terminal.
type Status string

const (
	StatusReceived    Status = "RECEIVED"
	StatusBroadcasted Status = "BROADCASTED"
	StatusFailed      Status = "FAILED"
)

// Record is one relay request's durable state.
type Record struct {
	ID          string
	Status      Status
	Payload     json.RawMessage
	TxHash      string
	Error       string
	CreatedAtMS int64
}

// Config holds the sqlite file location, in the familiar
// Config/DefaultConfig shape.
type Config struct {
	Path string
}

// DefaultConfig returns a sane local-file default.
func DefaultConfig() *Config {
	return &Config{Path: "relayer.db"}
}

// Store is the relayer's single-table request log.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS relay_requests (
	id            TEXT PRIMARY KEY,
	status        TEXT NOT NULL,
	payload       TEXT NOT NULL,
	tx_hash       TEXT,
	error         TEXT,
	created_at_ms INTEGER NOT NULL
);
`

// Open opens (creating if absent) the sqlite-backed store at cfg.Path.
func Open(ctx context.Context, cfg *Config) (*Store, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDBConnection, err)
	}

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDBConnection, err)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("store: create schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateNewRequest inserts a RECEIVED record with a fresh UUID v4 id.
func (s *Store) CreateNewRequest(ctx context.Context, payload json.RawMessage) (*Record, error) {
	rec := &Record{
		ID:          uuid.NewString(),
		Status:      StatusReceived,
		Payload:     payload,
		CreatedAtMS: time.Now().UnixMilli(),
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO relay_requests (id, status, payload, created_at_ms) VALUES (?, ?, ?, ?)`,
		rec.ID, string(rec.Status), string(rec.Payload), rec.CreatedAtMS,
	)
	if err != nil {
		return nil, fmt.Errorf("store: create request: %w", err)
	}
	return rec, nil
}

// UpdateBroadcastedRequest transitions id to BROADCASTED, recording the
// broadcast transaction hash.
func (s *Store) UpdateBroadcastedRequest(ctx context.Context, id, txHash string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE relay_requests SET status = ?, tx_hash = ? WHERE id = ?`,
		string(StatusBroadcasted), txHash, id,
	)
	return checkUpdated(res, err, id)
}

// UpdateFailedRequest transitions id to FAILED, recording the failure
// reason.
func (s *Store) UpdateFailedRequest(ctx context.Context, id, reason string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE relay_requests SET status = ?, error = ? WHERE id = ?`,
		string(StatusFailed), reason, id,
	)
	return checkUpdated(res, err, id)
}

func checkUpdated(res sql.Result, err error, id string) error {
	if err != nil {
		return fmt.Errorf("store: update request %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: update request %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// GetRequest fetches a record by id.
func (s *Store) GetRequest(ctx context.Context, id string) (*Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, status, payload, tx_hash, error, created_at_ms FROM relay_requests WHERE id = ?`, id,
	)

	var rec Record
	var status string
	var payload string
	var txHash, errMsg sql.NullString

	if err := row.Scan(&rec.ID, &status, &payload, &txHash, &errMsg, &rec.CreatedAtMS); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("store: get request %s: %w", id, err)
	}

	rec.Status = Status(status)
	rec.Payload = json.RawMessage(payload)
	rec.TxHash = txHash.String
	rec.Error = errMsg.String

	return &rec, nil
}

// BigIntJSON tags an arbitrary-precision on-chain integer for JSON
// transport: Go's json package
// would otherwise silently lose precision on values above 2^53 if encoded
// as a bare JSON number.
type BigIntJSON struct {
	Dec string `json:"$bigint"`
}
