package main

import (
	"context"
	"errors"
	"time"

	"github.com/dustin/go-humanize"

	"officewars/pkg/game"
	"officewars/pkg/store"
	"officewars/pkg/types"
)

// errNotDue aborts a tick without writing when the policy says wait.
var errNotDue = errors.New("turn not due")

// tickGame closes the open turn of id when the tick policy allows it, or
// unconditionally when forced, then replays the new turn and ends the match
// if it is decided. It reports whether anything was saved.
func tickGame(ctx context.Context, id string, force bool) (bool, error) {
	rec, err := mutateGame(ctx, id, func(g *types.GameState) (*store.Action, error) {
		if g.Meta != types.InGame {
			return nil, game.ErrNotInGame
		}
		engine.StepGameHistoryLatest(g)
		if g.Meta == types.PostGame {
			return &store.Action{Kind: store.ActionEnd, Player: -1, Detail: "winner=" + g.Winner.String()}, nil
		}
		if !force && !tickPolicy.Ready(g) {
			return nil, errNotDue
		}
		if err := game.TickGame(g); err != nil {
			return nil, err
		}
		engine.StepGameHistoryLatest(g)
		if g.Meta == types.PostGame {
			return &store.Action{Kind: store.ActionEnd, Player: -1, Detail: "winner=" + g.Winner.String()}, nil
		}
		return &store.Action{Kind: store.ActionTick, Player: -1}, nil
	})
	if errors.Is(err, errNotDue) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	g := rec.Game
	if g.Meta == types.PostGame {
		Log.Infow("game over", "game", id, "turns", g.TurnCount()-1, "winner", g.Winner.String())
	} else {
		Log.Infow("turn closed", "game", id, "turn", g.TurnCount()-1,
			"survivors", len(game.Survivors(g)), "record", humanize.Bytes(uint64(rec.Size)))
	}
	return true, nil
}

// tickDueGames gives every running game a chance to advance and returns how
// many did. One failing game does not stop the pass.
func tickDueGames(ctx context.Context) (int, error) {
	ids, err := db.ListGameIDs(ctx, types.InGame)
	if err != nil {
		return 0, err
	}
	ticked := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			return ticked, ctx.Err()
		}
		ok, err := tickGame(ctx, id, false)
		if errors.Is(err, game.ErrNotInGame) {
			continue
		}
		if err != nil {
			Log.Errorw("tick failed", "game", id, "err", err)
			continue
		}
		if ok {
			ticked++
		}
	}
	return ticked, nil
}

func runGameLoop(ctx context.Context, every time.Duration) error {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			start := time.Now()
			n, err := tickDueGames(ctx)
			if err != nil && ctx.Err() == nil {
				Log.Errorw("scheduler pass failed", "err", err)
				continue
			}
			if n > 0 {
				Log.Debugw("scheduler pass", "ticked", n, "took", time.Since(start))
			}
		}
	}
}
