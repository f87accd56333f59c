package types

import (
	"crypto/subtle"

	"officewars/pkg/geom"
	"officewars/pkg/graph"
)

// --- Lifecycle ---

type MetaGameState int

const (
	PreGame MetaGameState = iota
	InGame
	PostGame
)

func (m MetaGameState) String() string {
	switch m {
	case PreGame:
		return "PREGAME"
	case InGame:
		return "INGAME"
	case PostGame:
		return "POSTGAME"
	}
	return "UNKNOWN"
}

func (m MetaGameState) Valid() bool { return m >= PreGame && m <= PostGame }

// --- Orders ---

type OrderType int

const (
	Attack OrderType = iota
	Support
	Surrender
)

func (o OrderType) String() string {
	switch o {
	case Attack:
		return "ATTACK"
	case Support:
		return "SUPPORT"
	case Surrender:
		return "SURRENDER"
	}
	return "UNKNOWN"
}

func (o OrderType) Valid() bool { return o >= Attack && o <= Surrender }

// Order is one player instruction. For Surrender, To holds a player index.
type Order struct {
	Player int
	From   int
	To     int
	Type   OrderType
}

// Turn is an ordered batch of orders. Only the last turn of a game is open.
type Turn struct {
	Orders []Order
}

// OrderFrom returns the index of the order issued from node, or -1.
func (t *Turn) OrderFrom(node int) int {
	for i, o := range t.Orders {
		if o.From == node {
			return i
		}
	}
	return -1
}

// --- Players ---

type Player struct {
	Name   string
	Color  Color
	Secret string
}

// --- Game ---

// GameState is a full match: graph, players and the order log.
// ControlledBy is derived by replaying Turns over ControlledByInitial and is
// never persisted.
type GameState struct {
	ID     string
	Name   string
	Meta   MetaGameState
	Winner PlayerRef

	Players []Player

	Graph               graph.Graph
	Positions           []geom.Vec3
	ControlledByInitial []PlayerRef
	ControlledBy        []PlayerRef

	Turns []Turn
}

// NewPreGame returns an empty match waiting for players.
func NewPreGame(id, name string) *GameState {
	return &GameState{ID: id, Name: name, Meta: PreGame}
}

func (g *GameState) NodeCount() int { return g.Graph.NodeCount() }

func (g *GameState) PlayerCount() int { return len(g.Players) }

func (g *GameState) TurnCount() int { return len(g.Turns) }

func (g *GameState) Connected(a, b int) bool { return g.Graph.Connected(a, b) }

func (g *GameState) Neighbors(a int) []int { return g.Graph.Neighbors(a) }

func (g *GameState) Position(a int) geom.Vec3 {
	if a < 0 || a >= len(g.Positions) {
		return geom.Vec3{}
	}
	return g.Positions[a]
}

// Owner returns the derived owner of node a. Before any replay it falls back
// to the initial assignment.
func (g *GameState) Owner(a int) PlayerRef {
	if a >= 0 && a < len(g.ControlledBy) {
		return g.ControlledBy[a]
	}
	if a >= 0 && a < len(g.ControlledByInitial) {
		return g.ControlledByInitial[a]
	}
	return NoPlayer
}

// OpenTurn returns the turn currently accepting orders, or nil before the
// match has started.
func (g *GameState) OpenTurn() *Turn {
	if len(g.Turns) == 0 {
		return nil
	}
	return &g.Turns[len(g.Turns)-1]
}

// PlayerBySecret returns the index of the player holding secret, or -1.
func (g *GameState) PlayerBySecret(secret string) int {
	if secret == "" || secret == Redacted {
		return -1
	}
	for i, p := range g.Players {
		if subtle.ConstantTimeCompare([]byte(p.Secret), []byte(secret)) == 1 {
			return i
		}
	}
	return -1
}

// NodesOwned counts the nodes each player derives ownership of.
func (g *GameState) NodesOwned() []int {
	counts := make([]int, len(g.Players))
	for n := 0; n < g.NodeCount(); n++ {
		if p, ok := g.Owner(n).Index(); ok && p < len(counts) {
			counts[p]++
		}
	}
	return counts
}

// Redacted replaces secrets in outputs not meant for their owner.
// Generated secrets never take this value.
const Redacted = "REDACT"
