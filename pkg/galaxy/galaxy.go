// Package galaxy builds the node graph and start positions of a new match.
//
// Generation is the only randomized stage of the game. It runs once per
// match, before any orders exist, so it is allowed to depend on its random
// source and on float arithmetic; nothing downstream re-runs it.
package galaxy

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"officewars/pkg/geom"
	"officewars/pkg/graph"
	"officewars/pkg/types"
)

var (
	ErrGenerationExhausted = errors.New("galaxy: generation retry budget exhausted")
	ErrTooFewPlayers       = errors.New("galaxy: not enough players")
	ErrTooManyPlayers      = errors.New("galaxy: too many players")
	ErrNotPregame          = errors.New("galaxy: game already started")

	errPlacement = errors.New("player placement did not converge")
	errIslands   = errors.New("island repair did not converge")
)

// PositionDecimals is the precision positions are stored with.
const PositionDecimals = 5

// Galaxy is a freshly generated map.
type Galaxy struct {
	Graph     graph.Graph
	Positions []geom.Vec3
	Owners    []types.PlayerRef
	Attempts  int
}

// Stats describes how a generation went, for logging.
type Stats struct {
	Nodes    int
	Edges    int
	Attempts int
}

// Generate builds a connected galaxy for playerCount players. A failed
// placement throws the whole galaxy away and starts over, up to
// rules.GenerationAttempts times.
func Generate(playerCount int, rules types.Rules, rng *rand.Rand) (*Galaxy, error) {
	if playerCount < rules.MinPlayers {
		return nil, fmt.Errorf("%w: have %d, need %d", ErrTooFewPlayers, playerCount, rules.MinPlayers)
	}
	if playerCount > rules.MaxPlayers {
		return nil, fmt.Errorf("%w: have %d, max %d", ErrTooManyPlayers, playerCount, rules.MaxPlayers)
	}
	var lastErr error
	for attempt := 1; attempt <= rules.GenerationAttempts; attempt++ {
		b := newBuilder(playerCount, rules, rng)
		if err := b.build(); err != nil {
			lastErr = err
			continue
		}
		return &Galaxy{
			Graph:     b.g,
			Positions: b.pos,
			Owners:    b.owner,
			Attempts:  attempt,
		}, nil
	}
	return nil, fmt.Errorf("%w after %d attempts: %v", ErrGenerationExhausted, rules.GenerationAttempts, lastErr)
}

// Start generates the galaxy for a pregame match and moves it in game with
// turn 1 open. On error the game is left untouched.
func Start(g *types.GameState, rules types.Rules, rng *rand.Rand) (Stats, error) {
	if g.Meta != types.PreGame {
		return Stats{}, ErrNotPregame
	}
	gal, err := Generate(len(g.Players), rules, rng)
	if err != nil {
		return Stats{}, err
	}
	g.Graph = gal.Graph
	g.Positions = gal.Positions
	g.ControlledByInitial = gal.Owners
	g.ControlledBy = append([]types.PlayerRef(nil), gal.Owners...)
	g.Turns = []types.Turn{{}}
	g.Winner = types.NoPlayer
	g.Meta = types.InGame

	edges := 0
	for n := 0; n < gal.Graph.NodeCount(); n++ {
		edges += gal.Graph.Degree(n)
	}
	return Stats{Nodes: gal.Graph.NodeCount(), Edges: edges / 2, Attempts: gal.Attempts}, nil
}

type builder struct {
	rules   types.Rules
	rng     *rand.Rand
	players int
	n       int
	g       graph.Graph
	pos     []geom.Vec3
	owner   []types.PlayerRef
}

func newBuilder(players int, rules types.Rules, rng *rand.Rand) *builder {
	n := players * rules.NodesPerPlayer
	return &builder{
		rules:   rules,
		rng:     rng,
		players: players,
		n:       n,
		g:       graph.New(n),
		pos:     make([]geom.Vec3, n),
		owner:   make([]types.PlayerRef, n),
	}
}

func (b *builder) build() error {
	b.scatter()
	b.connectNearest()
	if err := b.connectIslands(); err != nil {
		return err
	}
	b.breakHighways()
	if err := b.placePlayers(); err != nil {
		return err
	}
	b.repelPlayers()
	b.relax()
	for i := range b.pos {
		b.pos[i] = geom.Quantize(b.pos[i], PositionDecimals)
	}
	return nil
}

// scatter drops every node in a flat box, [-1,1) on x and y and a tenth of
// that on z so the galaxy reads well when projected.
func (b *builder) scatter() {
	coord := func() float64 { return float64(b.rng.IntN(1000)-500) / 500.0 }
	for i := range b.pos {
		b.pos[i] = geom.Vec3{X: coord(), Y: coord(), Z: 0.1 * coord()}
	}
}

// connectNearest links each node to its nearest free neighbours until it
// reaches a random degree in [MinConnections, MaxConnections].
func (b *builder) connectNearest() {
	lo, hi := b.rules.MinConnections, b.rules.MaxConnections
	for node := 0; node < b.n; node++ {
		want := lo + b.rng.IntN(hi-lo+1)
		for b.g.Degree(node) < want {
			nearest := -1
			best := math.Inf(1)
			for c := 0; c < b.n; c++ {
				if c == node || b.g.Connected(node, c) || b.g.Degree(c) >= hi {
					continue
				}
				if d := geom.DistSq(b.pos[node], b.pos[c]); d < best {
					nearest, best = c, d
				}
			}
			if nearest < 0 {
				break
			}
			b.g.Connect(node, nearest)
		}
	}
}

type pair struct {
	a, b int
	d    float64
}

// connectIslands bridges the component of node 0 to the rest of the graph
// through the two closest straddling pairs until one component remains.
// Endpoints pushed over MaxConnections shed a random older edge.
func (b *builder) connectIslands() error {
	limit := 4*b.n + 8
	for i := 0; !b.g.IsConnected(); i++ {
		if i >= limit {
			return errIslands
		}
		island := b.g.Component(0)
		first, second := pair{-1, -1, math.Inf(1)}, pair{-1, -1, math.Inf(1)}
		for x := 0; x < b.n; x++ {
			if !island.Has(x) {
				continue
			}
			for y := 0; y < b.n; y++ {
				if island.Has(y) {
					continue
				}
				d := geom.DistSq(b.pos[x], b.pos[y])
				switch {
				case d < first.d:
					second, first = first, pair{x, y, d}
				case d < second.d:
					second = pair{x, y, d}
				}
			}
		}
		b.bridge(first)
		if second.a >= 0 {
			b.bridge(second)
		}
	}
	return nil
}

func (b *builder) bridge(p pair) {
	b.g.Connect(p.a, p.b)
	b.shed(p.a, p.b)
	b.shed(p.b, p.a)
}

// shed drops one random edge of node (never the one to keep) when node is
// over capacity. Neighbours left with a single edge are not picked.
func (b *builder) shed(node, keep int) {
	if b.g.Degree(node) <= b.rules.MaxConnections {
		return
	}
	var candidates []int
	for _, nb := range b.g.Neighbors(node) {
		if nb != keep && b.g.Degree(nb) > 1 {
			candidates = append(candidates, nb)
		}
	}
	if len(candidates) == 0 {
		return
	}
	b.g.Disconnect(node, candidates[b.rng.IntN(len(candidates))])
}

// breakHighways links the topologically farthest pair of unconnected,
// under-capacity nodes a few times so the galaxy does not degrade into a
// long chain. It returns how many links it added.
func (b *builder) breakHighways() int {
	passes := 2 + b.players/2
	for i := 0; i < passes; i++ {
		p, ok := b.farthestOpenPair()
		if !ok {
			return i
		}
		b.g.Connect(p.a, p.b)
	}
	return passes
}

// farthestOpenPair finds the unconnected pair of under-capacity nodes with
// the longest shortest path between them. p.d holds that hop count.
func (b *builder) farthestOpenPair() (pair, bool) {
	best, far := pair{-1, -1, 0}, 1
	for a := 0; a < b.n; a++ {
		if b.g.Degree(a) >= b.rules.MaxConnections {
			continue
		}
		dist := b.g.Distances(a)
		for c := a + 1; c < b.n; c++ {
			if b.g.Connected(a, c) || b.g.Degree(c) >= b.rules.MaxConnections {
				continue
			}
			if dist[c] > far {
				best, far = pair{a, c, float64(dist[c])}, dist[c]
			}
		}
	}
	return best, best.a >= 0
}

// placePlayers gives every player a random node with no other player on it
// or next to it.
func (b *builder) placePlayers() error {
	for p := 0; p < b.players; p++ {
		placed := false
		for try := 0; try < b.rules.PlacementTries; try++ {
			node := b.rng.IntN(b.n)
			if b.owner[node].Valid() || b.bordersPlayer(node, -1) {
				continue
			}
			b.owner[node] = types.PlayerAt(p)
			placed = true
			break
		}
		if !placed {
			return fmt.Errorf("%w: player %d", errPlacement, p)
		}
	}
	return nil
}

// bordersPlayer reports whether a neighbour of node is owned by a player
// other than except.
func (b *builder) bordersPlayer(node, except int) bool {
	for _, nb := range b.g.Neighbors(node) {
		if o, ok := b.owner[nb].Index(); ok && o != except {
			return true
		}
	}
	return false
}

// repelPlayers walks crowded start nodes away from each other. A player
// whose home sits within two hops of an enemy moves to an unowned neighbour
// that borders no enemy, when that increases its distance to the nearest
// enemy. The pass is best effort and stops after RepulsionRounds.
func (b *builder) repelPlayers() {
	for round := 0; round < b.rules.RepulsionRounds; round++ {
		moved := false
		for node := 0; node < b.n; node++ {
			p, ok := b.owner[node].Index()
			if !ok {
				continue
			}
			current := b.nearestEnemy(node, p)
			if current == graph.Unreachable || current > 2 {
				continue
			}
			best, bestDist := -1, current
			for _, nb := range b.g.Neighbors(node) {
				if b.owner[nb].Valid() || b.bordersPlayer(nb, p) {
					continue
				}
				b.owner[node], b.owner[nb] = types.NoPlayer, types.PlayerAt(p)
				d := b.nearestEnemy(nb, p)
				b.owner[node], b.owner[nb] = types.PlayerAt(p), types.NoPlayer
				if d > bestDist {
					best, bestDist = nb, d
				}
			}
			if best >= 0 {
				b.owner[node], b.owner[best] = types.NoPlayer, types.PlayerAt(p)
				moved = true
			}
		}
		if !moved {
			return
		}
	}
}

// nearestEnemy returns the hop distance from node to the closest node owned
// by a player other than p.
func (b *builder) nearestEnemy(node, p int) int {
	dist := b.g.Distances(node)
	best := graph.Unreachable
	for n, d := range dist {
		if d == graph.Unreachable {
			continue
		}
		if o, ok := b.owner[n].Index(); ok && o != p && (best == graph.Unreachable || d < best) {
			best = d
		}
	}
	return best
}

// relax runs a spring simulation over the positions. Connected nodes pull
// together beyond 0.5 and push apart inside 0.3; unconnected nodes push
// apart inside 0.6. Only positions change.
func (b *builder) relax() {
	for it := 0; it < b.rules.LayoutIterations; it++ {
		for node := 0; node < b.n; node++ {
			for other := 0; other < b.n; other++ {
				if other == node {
					continue
				}
				delta := geom.Sub(b.pos[other], b.pos[node])
				dist := geom.Length(delta)
				dir := geom.Normalize(delta)
				switch {
				case b.g.Connected(node, other) && dist > 0.5:
					b.pos[node] = geom.Add(b.pos[node], geom.Scale(dir, 0.2))
				case b.g.Connected(node, other) && dist < 0.3:
					b.pos[node] = geom.Add(b.pos[node], geom.Scale(dir, -0.3))
				case !b.g.Connected(node, other) && dist < 0.6:
					b.pos[node] = geom.Add(b.pos[node], geom.Scale(dir, -0.3))
				}
			}
		}
	}
}
