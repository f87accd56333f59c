package game

import (
	"fmt"
	"math/rand/v2"
	"slices"
	"unicode"
	"unicode/utf8"

	"officewars/pkg/core"
	"officewars/pkg/types"
)

const (
	MaxNameLength     = 63
	MinPlayerNameLen  = 2
	MinGameNameLength = 1

	// colorTries bounds the resampling of a colliding player color.
	colorTries = 10000
)

// CheckName validates a display name: minLen..63 runes, no control characters.
func CheckName(name string, minLen int) error {
	n := utf8.RuneCountInString(name)
	if !utf8.ValidString(name) || n < minLen || n > MaxNameLength {
		return ErrBadName
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return ErrBadName
		}
	}
	return nil
}

// AddPlayer registers a player on a pregame match and returns its index.
// A color too close to black, white or a taken color is replaced by a random
// acceptable one.
func (e *Engine) AddPlayer(g *types.GameState, name, color, secret string, rng *rand.Rand) (int, error) {
	if g.Meta != types.PreGame {
		return -1, ErrNotPregame
	}
	if len(g.Players) >= e.Rules.MaxPlayers {
		return -1, ErrGameFull
	}
	if err := CheckName(name, MinPlayerNameLen); err != nil {
		return -1, err
	}
	if !core.ValidKey(secret) {
		return -1, ErrBadSecret
	}
	for _, p := range g.Players {
		if p.Secret == secret {
			return -1, ErrBadSecret
		}
	}
	c, err := types.ParseColor(color)
	if err != nil {
		return -1, fmt.Errorf("%w: %v", ErrBadColor, err)
	}
	c, err = e.acceptableColor(g, c, rng)
	if err != nil {
		return -1, err
	}

	g.Players = append(g.Players, types.Player{Name: name, Color: c, Secret: secret})
	return len(g.Players) - 1, nil
}

func (e *Engine) acceptableColor(g *types.GameState, c types.Color, rng *rand.Rand) (types.Color, error) {
	for try := 0; try < colorTries; try++ {
		if e.colorFree(g, c) {
			return c, nil
		}
		c = types.Color{R: uint8(rng.IntN(256)), G: uint8(rng.IntN(256)), B: uint8(rng.IntN(256))}
	}
	return c, fmt.Errorf("%w: no distinct color left", ErrBadColor)
}

func (e *Engine) colorFree(g *types.GameState, c types.Color) bool {
	gap := e.Rules.ColorDistance
	if c.Distance(types.Black) < gap || c.Distance(types.White) < gap {
		return false
	}
	for _, p := range g.Players {
		if c.Distance(p.Color) < gap {
			return false
		}
	}
	return true
}

// SubmitOrder records an order into the open turn on behalf of the player
// holding secret. An earlier order from the same node is replaced. For
// Surrender, to is a player index and must exist.
//
// Ownership is replayed to the latest turn first; the game's meta state is
// never changed here.
func (e *Engine) SubmitOrder(g *types.GameState, typ types.OrderType, from, to int, secret string) error {
	if g.Meta != types.InGame || g.OpenTurn() == nil {
		return ErrNotInGame
	}
	if !typ.Valid() {
		return ErrUnknownOrderType
	}
	if from < 0 || from >= g.NodeCount() {
		return fmt.Errorf("%w: from %d", ErrUnknownNode, from)
	}

	e.replay(g, g.TurnCount()-1)

	player := g.PlayerBySecret(secret)
	if player < 0 || !g.Owner(from).Is(player) {
		return ErrNotOwner
	}

	switch typ {
	case types.Surrender:
		if to < 0 || to >= g.PlayerCount() {
			return fmt.Errorf("%w: %d", ErrUnknownPlayer, to)
		}
	default:
		if to < 0 || to >= g.NodeCount() {
			return fmt.Errorf("%w: to %d", ErrUnknownNode, to)
		}
		if to == from {
			return ErrUnreachable
		}
		if !g.Connected(from, to) && !g.Owner(to).Is(player) {
			return ErrUnreachable
		}
	}

	turn := g.OpenTurn()
	if i := turn.OrderFrom(from); i >= 0 {
		turn.Orders = slices.Delete(turn.Orders, i, i+1)
	}
	turn.Orders = append(turn.Orders, types.Order{Player: player, From: from, To: to, Type: typ})
	return nil
}

// TickGame closes the open turn and opens an empty one.
func TickGame(g *types.GameState) error {
	if g.Meta != types.InGame {
		return ErrNotInGame
	}
	g.Turns = append(g.Turns, types.Turn{})
	return nil
}
