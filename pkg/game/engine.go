// Package game is the rules engine: the order ledger, deterministic turn
// resolution and history replay.
package game

import (
	"errors"

	"officewars/pkg/types"
)

// Validation rejections. None of them leave a mark on the game.
var (
	ErrNotPregame       = errors.New("game already started")
	ErrNotInGame        = errors.New("game is not running")
	ErrBadName          = errors.New("name must be 2-63 printable characters")
	ErrBadColor         = errors.New("color must be #RRGGBB")
	ErrBadSecret        = errors.New("secret is not usable")
	ErrGameFull         = errors.New("game is full")
	ErrUnknownNode      = errors.New("no such node")
	ErrUnknownPlayer    = errors.New("no such player")
	ErrUnknownOrderType = errors.New("unknown order type")
	ErrNotOwner         = errors.New("secret does not control the source node")
	ErrUnreachable      = errors.New("target is neither adjacent nor controlled")
)

// Engine applies one rule set to any number of games. It holds no game state.
type Engine struct {
	Rules types.Rules
}

func NewEngine(rules types.Rules) *Engine {
	return &Engine{Rules: rules}
}
