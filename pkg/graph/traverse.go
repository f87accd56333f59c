package graph

import "math/bits"

// Bitset is a fixed-size set of node indices.
type Bitset []uint64

// NewBitset returns an empty set able to hold n nodes.
func NewBitset(n int) Bitset {
	return make(Bitset, (n+63)/64)
}

func (b Bitset) Has(i int) bool { return b[i>>6]&(1<<(uint(i)&63)) != 0 }
func (b Bitset) Set(i int)      { b[i>>6] |= 1 << (uint(i) & 63) }

// Count returns the number of members.
func (b Bitset) Count() int {
	c := 0
	for _, w := range b {
		c += bits.OnesCount64(w)
	}
	return c
}

// Distances runs a breadth-first search from src and returns the hop
// distance to every node, Unreachable for nodes outside src's component.
func (g *Graph) Distances(src int) []int {
	dist := make([]int, g.n)
	for i := range dist {
		dist[i] = Unreachable
	}
	if !g.Valid(src) {
		return dist
	}
	queue := make([]int, 0, g.n)
	queue = append(queue, src)
	dist[src] = 0
	for head := 0; head < len(queue); head++ {
		node := queue[head]
		for next, ok := range g.Row(node) {
			if ok && dist[next] == Unreachable {
				dist[next] = dist[node] + 1
				queue = append(queue, next)
			}
		}
	}
	return dist
}

// Component returns the set of nodes reachable from src, src included.
func (g *Graph) Component(src int) Bitset {
	seen := NewBitset(g.n)
	if !g.Valid(src) {
		return seen
	}
	// Iterative depth-first walk.
	stack := []int{src}
	seen.Set(src)
	for len(stack) > 0 {
		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for next, ok := range g.Row(node) {
			if ok && !seen.Has(next) {
				seen.Set(next)
				stack = append(stack, next)
			}
		}
	}
	return seen
}

// IsConnected reports whether every node is reachable from node 0.
// The empty graph is connected.
func (g *Graph) IsConnected() bool {
	if g.n == 0 {
		return true
	}
	return g.Component(0).Count() == g.n
}

// PathWithin reports whether a path from a to b exists using only nodes
// accepted by allow. The endpoints themselves must be accepted too.
func (g *Graph) PathWithin(a, b int, allow func(node int) bool) bool {
	if !g.Valid(a) || !g.Valid(b) || !allow(a) || !allow(b) {
		return false
	}
	if a == b {
		return true
	}
	seen := NewBitset(g.n)
	seen.Set(a)
	queue := []int{a}
	for head := 0; head < len(queue); head++ {
		for next, ok := range g.Row(queue[head]) {
			if !ok || seen.Has(next) || !allow(next) {
				continue
			}
			if next == b {
				return true
			}
			seen.Set(next)
			queue = append(queue, next)
		}
	}
	return false
}
