package game

import (
	"officewars/pkg/graph"
	"officewars/pkg/types"
)

// resolver holds the per-turn working set. Everything it reads is taken
// from the ownership snapshot at the start of the turn.
type resolver struct {
	g       *types.GameState
	neutral Strength
	owners  []types.PlayerRef

	orders  []types.Order
	pinned  graph.Bitset
	backers [][]int
	power   []Strength
}

// ResolveTurn applies the orders of turn i to g.ControlledBy and reports
// whether any node changed owner. Orders whose issuer does not own the
// source at the start of the turn are ignored.
func (e *Engine) ResolveTurn(g *types.GameState, i int) bool {
	if i < 0 || i >= len(g.Turns) {
		return false
	}
	if len(g.ControlledBy) != g.NodeCount() {
		g.ControlledBy = initialOwners(g)
	}

	r := e.newResolver(g, g.Turns[i].Orders)
	next := r.battle()
	r.surrender(next)

	changed := false
	for node, o := range next {
		if g.ControlledBy[node] != o {
			g.ControlledBy[node] = o
			changed = true
		}
	}
	return changed
}

// newResolver snapshots ownership and strengths for one batch of orders.
func (e *Engine) newResolver(g *types.GameState, orders []types.Order) *resolver {
	r := &resolver{
		g:       g,
		neutral: Strength(e.Rules.NeutralStrength),
		owners:  append([]types.PlayerRef(nil), g.ControlledBy...),
	}
	r.collect(orders)
	r.pin()
	r.support()
	r.measure()
	return r
}

// collect keeps the last order per source node whose issuer owns that node.
// An order to a non-adjacent node only counts when the issuer owns a path
// joining both ends.
func (r *resolver) collect(orders []types.Order) {
	n := r.g.NodeCount()
	last := make([]int, n)
	for i := range last {
		last[i] = -1
	}
	for i, o := range orders {
		if o.From < 0 || o.From >= n || !o.Type.Valid() {
			continue
		}
		if !r.owners[o.From].Is(o.Player) {
			continue
		}
		if o.Type == types.Surrender {
			if o.To < 0 || o.To >= r.g.PlayerCount() {
				continue
			}
		} else if o.To < 0 || o.To >= n || o.To == o.From {
			continue
		} else if !r.g.Connected(o.From, o.To) && !r.ownedPath(o.From, o.To, o.Player) {
			continue
		}
		last[o.From] = i
	}
	for _, i := range last {
		if i >= 0 {
			r.orders = append(r.orders, orders[i])
		}
	}
}

// ownedPath reports whether player owns a chain of nodes from a to b.
func (r *resolver) ownedPath(a, b, player int) bool {
	return r.g.Graph.PathWithin(a, b, func(node int) bool { return r.owners[node].Is(player) })
}

// pin marks every node an attack reaches along an edge.
func (r *resolver) pin() {
	r.pinned = graph.NewBitset(r.g.NodeCount())
	for _, o := range r.orders {
		if o.Type == types.Attack && r.g.Connected(o.From, o.To) {
			r.pinned.Set(o.To)
		}
	}
}

// support lists, per node, the unpinned neighbours lending it strength.
func (r *resolver) support() {
	r.backers = make([][]int, r.g.NodeCount())
	for _, o := range r.orders {
		if o.Type != types.Support || !r.g.Connected(o.From, o.To) || r.pinned.Has(o.From) {
			continue
		}
		r.backers[o.To] = append(r.backers[o.To], o.From)
	}
}

func (r *resolver) base(node int) Strength {
	if r.owners[node].Valid() {
		return Unit
	}
	return r.neutral
}

// measure computes the strength of every node before any capture.
func (r *resolver) measure() {
	n := r.g.NodeCount()
	r.power = make([]Strength, n)
	for node := 0; node < n; node++ {
		r.power[node] = r.strengthOf(node)
	}
}

type frame struct {
	node int
	next int
	sum  Strength
}

// strengthOf is the base strength of root plus half the strength of each
// backer, walked iteratively. A node is counted at most once per root, so
// support cycles end where they started.
func (r *resolver) strengthOf(root int) Strength {
	seen := graph.NewBitset(r.g.NodeCount())
	seen.Set(root)
	stack := []frame{{node: root, sum: r.base(root)}}
	for {
		top := &stack[len(stack)-1]
		if top.next < len(r.backers[top.node]) {
			b := r.backers[top.node][top.next]
			top.next++
			if seen.Has(b) {
				continue
			}
			seen.Set(b)
			stack = append(stack, frame{node: b, sum: r.base(b)})
			continue
		}
		done := top.sum
		stack = stack[:len(stack)-1]
		if len(stack) == 0 {
			return done
		}
		parent := &stack[len(stack)-1]
		parent.sum = parent.sum.Add(done.Half())
	}
}

// battle decides every contested node independently. The strongest attacker
// captures only when it beats every other attacker and the defence.
func (r *resolver) battle() []types.PlayerRef {
	next := append([]types.PlayerRef(nil), r.owners...)

	type contest struct {
		best   Strength
		winner int
		tied   bool
		seen   bool
	}
	contests := make([]contest, r.g.NodeCount())
	for _, o := range r.orders {
		if o.Type != types.Attack || !r.g.Connected(o.From, o.To) {
			continue
		}
		c := &contests[o.To]
		s := r.power[o.From]
		switch {
		case !c.seen || s > c.best:
			*c = contest{best: s, winner: o.Player, seen: true}
		case s == c.best:
			c.tied = true
		}
	}
	for node, c := range contests {
		if !c.seen || c.tied || c.best <= r.power[node] {
			continue
		}
		next[node] = types.PlayerAt(c.winner)
	}
	return next
}

// surrender strips every node of each surrendering player.
func (r *resolver) surrender(next []types.PlayerRef) {
	quit := make([]bool, r.g.PlayerCount())
	for _, o := range r.orders {
		if o.Type == types.Surrender && o.Player < len(quit) {
			quit[o.Player] = true
		}
	}
	for node, o := range next {
		if p, ok := o.Index(); ok && p < len(quit) && quit[p] {
			next[node] = types.NoPlayer
		}
	}
}

func initialOwners(g *types.GameState) []types.PlayerRef {
	owners := make([]types.PlayerRef, g.NodeCount())
	copy(owners, g.ControlledByInitial)
	return owners
}
