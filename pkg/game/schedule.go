package game

import (
	"fmt"

	"officewars/pkg/types"
)

// TickPolicy decides whether a running game's open turn may be closed.
// Ownership must be current (see StepGameHistoryLatest) before calling Ready.
type TickPolicy interface {
	Name() string
	Ready(g *types.GameState) bool
}

// TickAlways advances every running game on each scheduler pass.
type TickAlways struct{}

func (TickAlways) Name() string { return "always" }

func (TickAlways) Ready(g *types.GameState) bool { return g.Meta == types.InGame }

// TickWhenAllOrdered waits until every player still holding territory has
// at least one order in the open turn.
type TickWhenAllOrdered struct{}

func (TickWhenAllOrdered) Name() string { return "all-ordered" }

func (TickWhenAllOrdered) Ready(g *types.GameState) bool {
	if g.Meta != types.InGame {
		return false
	}
	turn := g.OpenTurn()
	if turn == nil {
		return false
	}
	ordered := make([]bool, g.PlayerCount())
	for _, o := range turn.Orders {
		if o.Player >= 0 && o.Player < len(ordered) {
			ordered[o.Player] = true
		}
	}
	for _, p := range Survivors(g) {
		if !ordered[p] {
			return false
		}
	}
	return true
}

// ParseTickPolicy maps a config value to a policy.
func ParseTickPolicy(name string) (TickPolicy, error) {
	switch name {
	case "always":
		return TickAlways{}, nil
	case "", "all-ordered":
		return TickWhenAllOrdered{}, nil
	}
	return nil, fmt.Errorf("unknown tick policy %q", name)
}
