// Package store persists game records in SQLite. Every record is the
// lossless codec encoding of a game, LZ4-compressed. Saves are
// read-modify-write against a version column, so two writers on the same game
// can never interleave.
package store

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"officewars/pkg/codec"
	"officewars/pkg/core"
	"officewars/pkg/types"
)

var (
	ErrNotFound    = errors.New("store: game not found")
	ErrExists      = errors.New("store: game already exists")
	ErrConflict    = errors.New("store: game changed concurrently")
	ErrBrokenChain = errors.New("store: snapshot chain broken")
)

const schema = `
CREATE TABLE IF NOT EXISTS system_meta (key TEXT PRIMARY KEY, value TEXT);

CREATE TABLE IF NOT EXISTS games (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	meta INTEGER NOT NULL,
	version INTEGER NOT NULL,
	record BLOB NOT NULL,
	record_hash TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS transaction_log (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	game_id TEXT NOT NULL,
	turn INTEGER NOT NULL,
	action_type TEXT NOT NULL,
	payload_blob BLOB,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_transaction_log_game ON transaction_log (game_id, id);

CREATE TABLE IF NOT EXISTS game_snapshots (
	game_id TEXT NOT NULL,
	turn INTEGER NOT NULL,
	state_blob BLOB NOT NULL,
	final_hash TEXT NOT NULL,
	PRIMARY KEY (game_id, turn)
);
`

// Store is a SQLite-backed game repository.
type Store struct {
	db *sql.DB
	// MaxTries bounds the attempts of one UpdateGame under contention.
	MaxTries uint
}

// Record is a loaded game plus its storage metadata.
type Record struct {
	Game      *types.GameState
	Version   int64
	Hash      string
	Size      int
	UpdatedAt time.Time
}

// DSN returns the connection string for a driver. mattn/go-sqlite3 is
// registered as "sqlite3" and modernc.org/sqlite as "sqlite".
func DSN(driver, path string) (string, error) {
	switch driver {
	case "sqlite3":
		return path + "?_journal_mode=WAL&_busy_timeout=5000", nil
	case "sqlite":
		return path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", nil
	}
	return "", fmt.Errorf("unsupported sqlite driver %q", driver)
}

// Open opens (creating when needed) the database at path and applies the
// schema. The driver must already be registered by the caller.
func Open(driver, path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	path = filepath.Clean(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	dsn, err := DSN(driver, path)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db, MaxTries: 8}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func encodeRecord(g *types.GameState) (plain, packed []byte, err error) {
	var buf bytes.Buffer
	if err := codec.Encode(&buf, g, codec.All); err != nil {
		return nil, nil, err
	}
	plain = buf.Bytes()
	packed, err = core.Compress(plain)
	return plain, packed, err
}

func decodeRecord(packed []byte) (*types.GameState, int, error) {
	plain, err := core.Decompress(packed)
	if err != nil {
		return nil, 0, err
	}
	g, err := codec.Unmarshal(plain)
	return g, len(plain), err
}

// CreateGame inserts a new game at version 1.
func (s *Store) CreateGame(ctx context.Context, g *types.GameState, act *Action) error {
	plain, packed, err := encodeRecord(g)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO games (id, name, meta, version, record, record_hash, updated_at)
		VALUES (?, ?, ?, 1, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		g.ID, g.Name, int(g.Meta), packed, core.Hash(plain), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("insert game: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrExists, g.ID)
	}
	if err := appendAction(ctx, tx, g, act); err != nil {
		return err
	}
	return tx.Commit()
}

// LoadGame reads the latest version of a game.
func (s *Store) LoadGame(ctx context.Context, id string) (*Record, error) {
	return load(ctx, s.db, id)
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func load(ctx context.Context, q querier, id string) (*Record, error) {
	var (
		packed  []byte
		rec     Record
		updated int64
	)
	err := q.QueryRowContext(ctx,
		`SELECT version, record, record_hash, updated_at FROM games WHERE id = ?`, id,
	).Scan(&rec.Version, &packed, &rec.Hash, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("load game %s: %w", id, err)
	}
	rec.Game, rec.Size, err = decodeRecord(packed)
	if err != nil {
		return nil, fmt.Errorf("decode game %s: %w", id, err)
	}
	rec.UpdatedAt = time.UnixMilli(updated).UTC()
	return &rec, nil
}

// UpdateGame loads id, lets fn mutate it and saves the result if nobody else
// saved in between. Conflicts are retried with exponential backoff; an error
// from fn aborts without writing. fn may run more than once.
func (s *Store) UpdateGame(ctx context.Context, id string, fn func(g *types.GameState) (*Action, error)) (*Record, error) {
	op := func() (*Record, error) {
		rec, err := s.tryUpdate(ctx, id, fn)
		if err != nil && !errors.Is(err, ErrConflict) {
			return nil, backoff.Permanent(err)
		}
		return rec, err
	}
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 5 * time.Millisecond
	policy.MaxInterval = 200 * time.Millisecond
	return backoff.Retry(ctx, op,
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(s.MaxTries),
	)
}

func (s *Store) tryUpdate(ctx context.Context, id string, fn func(g *types.GameState) (*Action, error)) (*Record, error) {
	rec, err := s.LoadGame(ctx, id)
	if err != nil {
		return nil, err
	}
	g := rec.Game
	turnsBefore := g.TurnCount()

	act, err := fn(g)
	if err != nil {
		return nil, err
	}
	plain, packed, err := encodeRecord(g)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	now := time.Now()
	hash := core.Hash(plain)
	res, err := tx.ExecContext(ctx, `
		UPDATE games SET name = ?, meta = ?, version = version + 1, record = ?, record_hash = ?, updated_at = ?
		WHERE id = ? AND version = ?`,
		g.Name, int(g.Meta), packed, hash, now.UnixMilli(), id, rec.Version)
	if err != nil {
		return nil, fmt.Errorf("save game %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrConflict
	}
	if err := appendAction(ctx, tx, g, act); err != nil {
		return nil, err
	}
	if g.TurnCount() > turnsBefore {
		if err := appendSnapshot(ctx, tx, g.ID, g.TurnCount()-1, packed); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &Record{Game: g, Version: rec.Version + 1, Hash: hash, Size: len(plain), UpdatedAt: now.UTC()}, nil
}

// ListGames decodes every stored game, oldest first.
func (s *Store) ListGames(ctx context.Context) ([]*types.GameState, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, record FROM games ORDER BY rowid`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var games []*types.GameState
	for rows.Next() {
		var (
			id     string
			packed []byte
		)
		if err := rows.Scan(&id, &packed); err != nil {
			return nil, err
		}
		g, _, err := decodeRecord(packed)
		if err != nil {
			return nil, fmt.Errorf("decode game %s: %w", id, err)
		}
		games = append(games, g)
	}
	return games, rows.Err()
}

// ListGameIDs returns the ids of games in any of the given states, or all
// games when none are given.
func (s *Store) ListGameIDs(ctx context.Context, states ...types.MetaGameState) ([]string, error) {
	query := `SELECT id FROM games`
	var args []any
	if len(states) > 0 {
		marks := make([]string, len(states))
		for i, st := range states {
			marks[i] = "?"
			args = append(args, int(st))
		}
		query += ` WHERE meta IN (` + strings.Join(marks, ",") + `)`
	}
	query += ` ORDER BY rowid`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// --- Server metadata ---

// Meta returns a system_meta value, or "" when unset.
func (s *Store) Meta(ctx context.Context, key string) (string, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM system_meta WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return v, err
}

func (s *Store) SetMeta(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO system_meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	return err
}
