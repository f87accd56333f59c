package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"google.golang.org/protobuf/encoding/protowire"

	"officewars/pkg/core"
	"officewars/pkg/types"
)

// Action kinds written to the journal.
const (
	ActionCreate = "create"
	ActionJoin   = "join"
	ActionStart  = "start"
	ActionOrder  = "order"
	ActionTick   = "tick"
	ActionEnd    = "end"
)

// Action is one journal entry. Turn is filled in by the store with the
// game's open turn at save time.
type Action struct {
	Kind   string
	Turn   int
	Player int // -1 when no player is involved
	Order  *types.Order
	Detail string
	At     time.Time
}

// Payload field numbers.
const (
	fieldPlayer protowire.Number = 1
	fieldFrom   protowire.Number = 2
	fieldTo     protowire.Number = 3
	fieldType   protowire.Number = 4
	fieldDetail protowire.Number = 5
)

func (a *Action) marshalPayload() []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldPlayer, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeZigZag(int64(a.Player)))
	if a.Order != nil {
		b = protowire.AppendTag(b, fieldFrom, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(a.Order.From))
		b = protowire.AppendTag(b, fieldTo, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(a.Order.To))
		b = protowire.AppendTag(b, fieldType, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(a.Order.Type))
	}
	if a.Detail != "" {
		b = protowire.AppendTag(b, fieldDetail, protowire.BytesType)
		b = protowire.AppendString(b, a.Detail)
	}
	return b
}

func (a *Action) unmarshalPayload(b []byte) error {
	var order types.Order
	hasOrder := false
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		switch {
		case typ == protowire.VarintType && num <= fieldType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			b = b[n:]
			switch num {
			case fieldPlayer:
				a.Player = int(protowire.DecodeZigZag(v))
			case fieldFrom:
				order.From, hasOrder = int(v), true
			case fieldTo:
				order.To, hasOrder = int(v), true
			case fieldType:
				order.Type, hasOrder = types.OrderType(v), true
			}
		case num == fieldDetail && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			b = b[n:]
			a.Detail = v
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	if hasOrder {
		order.Player = a.Player
		a.Order = &order
	}
	return nil
}

func appendAction(ctx context.Context, tx *sql.Tx, g *types.GameState, act *Action) error {
	if act == nil {
		return nil
	}
	act.Turn = max(g.TurnCount()-1, 0)
	if act.At.IsZero() {
		act.At = time.Now()
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO transaction_log (game_id, turn, action_type, payload_blob, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		g.ID, act.Turn, act.Kind, act.marshalPayload(), act.At.UnixMilli())
	if err != nil {
		return fmt.Errorf("journal %s: %w", act.Kind, err)
	}
	return nil
}

// Actions returns the journal of a game in write order.
func (s *Store) Actions(ctx context.Context, id string) ([]Action, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT turn, action_type, payload_blob, created_at
		FROM transaction_log WHERE game_id = ? ORDER BY id`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Action
	for rows.Next() {
		var (
			a       Action
			payload []byte
			at      int64
		)
		if err := rows.Scan(&a.Turn, &a.Kind, &payload, &at); err != nil {
			return nil, err
		}
		if err := a.unmarshalPayload(payload); err != nil {
			return nil, fmt.Errorf("journal entry of %s: %w", id, err)
		}
		a.At = time.UnixMilli(at).UTC()
		out = append(out, a)
	}
	return out, rows.Err()
}

// --- Snapshots ---

// appendSnapshot stores the record at the moment turn closed turns exist,
// chained to the previous snapshot's hash.
func appendSnapshot(ctx context.Context, tx *sql.Tx, id string, turn int, packed []byte) error {
	var prev string
	err := tx.QueryRowContext(ctx, `
		SELECT final_hash FROM game_snapshots WHERE game_id = ? AND turn < ?
		ORDER BY turn DESC LIMIT 1`, id, turn).Scan(&prev)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO game_snapshots (game_id, turn, state_blob, final_hash) VALUES (?, ?, ?, ?)
		ON CONFLICT(game_id, turn) DO UPDATE SET state_blob = excluded.state_blob, final_hash = excluded.final_hash`,
		id, turn, packed, core.ChainHash(packed, prev))
	if err != nil {
		return fmt.Errorf("snapshot %s turn %d: %w", id, turn, err)
	}
	return nil
}

// SnapshotInfo describes one verified snapshot.
type SnapshotInfo struct {
	Turn int
	Size int
	Hash string
}

// VerifySnapshots walks the snapshot chain of a game, recomputing every
// hash and decoding every record.
func (s *Store) VerifySnapshots(ctx context.Context, id string) ([]SnapshotInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT turn, state_blob, final_hash FROM game_snapshots
		WHERE game_id = ? ORDER BY turn`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var (
		out  []SnapshotInfo
		prev string
	)
	for rows.Next() {
		var (
			info   SnapshotInfo
			packed []byte
		)
		if err := rows.Scan(&info.Turn, &packed, &info.Hash); err != nil {
			return nil, err
		}
		if want := core.ChainHash(packed, prev); want != info.Hash {
			return out, fmt.Errorf("%w: %s turn %d", ErrBrokenChain, id, info.Turn)
		}
		g, size, err := decodeRecord(packed)
		if err != nil {
			return out, fmt.Errorf("%w: %s turn %d: %v", ErrBrokenChain, id, info.Turn, err)
		}
		if g.TurnCount()-1 != info.Turn {
			return out, fmt.Errorf("%w: %s turn %d holds %d closed turns", ErrBrokenChain, id, info.Turn, g.TurnCount()-1)
		}
		info.Size = size
		prev = info.Hash
		out = append(out, info)
	}
	return out, rows.Err()
}

// Snapshot returns the game as it was stored when turn closed.
func (s *Store) Snapshot(ctx context.Context, id string, turn int) (*types.GameState, error) {
	var packed []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT state_blob FROM game_snapshots WHERE game_id = ? AND turn = ?`, id, turn,
	).Scan(&packed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s snapshot %d", ErrNotFound, id, turn)
	}
	if err != nil {
		return nil, err
	}
	g, _, err := decodeRecord(packed)
	return g, err
}
