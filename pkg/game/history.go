package game

import (
	"officewars/pkg/types"
)

// replay rebuilds g.ControlledBy from the initial assignment by resolving
// turns [0, min(target, turnCount-1)). It reports how many turns were
// resolved and whether the last one changed anything.
func (e *Engine) replay(g *types.GameState, target int) (steps int, changed bool) {
	g.ControlledBy = initialOwners(g)
	steps = min(target, g.TurnCount()-1)
	for i := 0; i < steps; i++ {
		changed = e.ResolveTurn(g, i)
	}
	return max(steps, 0), changed
}

// StepGameHistory replays history from scratch up to target. When the
// replay reaches the latest closed turn of a running game it also checks for
// the end of the match.
func (e *Engine) StepGameHistory(g *types.GameState, target int) {
	steps, changed := e.replay(g, target)
	if g.Meta != types.InGame || steps == 0 || steps < g.TurnCount()-1 {
		return
	}
	e.detectEnd(g, changed)
}

// StepGameHistoryLatest replays every closed turn.
func (e *Engine) StepGameHistoryLatest(g *types.GameState) {
	e.StepGameHistory(g, g.TurnCount()-1)
}

// OwnershipAt returns the owner of every node at the start of turn, leaving
// g untouched.
func (e *Engine) OwnershipAt(g *types.GameState, turn int) []types.PlayerRef {
	view := *g
	e.replay(&view, turn)
	return view.ControlledBy
}

// detectEnd moves the game to POSTGAME once fewer than
// min(SurvivorThreshold, playerCount) players hold territory and the last
// turn was quiet. A single survivor wins; anything else is a draw.
func (e *Engine) detectEnd(g *types.GameState, changed bool) {
	if changed {
		return
	}
	survivors, last := 0, -1
	for p, n := range g.NodesOwned() {
		if n > 0 {
			survivors++
			last = p
		}
	}
	if survivors >= min(e.Rules.SurvivorThreshold, g.PlayerCount()) {
		return
	}
	g.Meta = types.PostGame
	g.Winner = types.NoPlayer
	if survivors == 1 {
		g.Winner = types.PlayerAt(last)
	}
}

// Survivors lists the players still holding at least one node.
func Survivors(g *types.GameState) []int {
	var out []int
	for p, n := range g.NodesOwned() {
		if n > 0 {
			out = append(out, p)
		}
	}
	return out
}
