// Package graph holds the undirected node graph of a galaxy and the
// traversals the generator and the rules engine run over it.
package graph

// Unreachable is the hop distance reported for nodes in another component.
const Unreachable = -1

// Graph is an undirected graph stored as a symmetric n*n adjacency matrix.
// The zero value is an empty graph.
type Graph struct {
	n   int
	adj []bool
}

// New returns a graph with n nodes and no edges.
func New(n int) Graph {
	if n <= 0 {
		return Graph{}
	}
	return Graph{n: n, adj: make([]bool, n*n)}
}

// NodeCount returns the number of nodes.
func (g *Graph) NodeCount() int { return g.n }

// Valid reports whether a is a node index of g.
func (g *Graph) Valid(a int) bool { return a >= 0 && a < g.n }

// Connected reports whether an edge joins a and b.
func (g *Graph) Connected(a, b int) bool {
	if !g.Valid(a) || !g.Valid(b) {
		return false
	}
	return g.adj[a*g.n+b]
}

// Connect adds the edge a-b. Self loops are ignored.
func (g *Graph) Connect(a, b int) {
	if a == b || !g.Valid(a) || !g.Valid(b) {
		return
	}
	g.adj[a*g.n+b] = true
	g.adj[b*g.n+a] = true
}

// Disconnect removes the edge a-b.
func (g *Graph) Disconnect(a, b int) {
	if !g.Valid(a) || !g.Valid(b) {
		return
	}
	g.adj[a*g.n+b] = false
	g.adj[b*g.n+a] = false
}

// Neighbors returns the nodes adjacent to a in ascending order.
func (g *Graph) Neighbors(a int) []int {
	if !g.Valid(a) {
		return nil
	}
	var out []int
	row := g.adj[a*g.n : (a+1)*g.n]
	for i, ok := range row {
		if ok {
			out = append(out, i)
		}
	}
	return out
}

// Degree returns the number of edges at a.
func (g *Graph) Degree(a int) int {
	if !g.Valid(a) {
		return 0
	}
	d := 0
	for _, ok := range g.adj[a*g.n : (a+1)*g.n] {
		if ok {
			d++
		}
	}
	return d
}

// Row returns the adjacency row of a. The slice aliases the matrix.
func (g *Graph) Row(a int) []bool {
	if !g.Valid(a) {
		return nil
	}
	return g.adj[a*g.n : (a+1)*g.n]
}

// Symmetric reports whether the matrix is symmetric with an empty diagonal.
func (g *Graph) Symmetric() bool {
	for i := 0; i < g.n; i++ {
		if g.adj[i*g.n+i] {
			return false
		}
		for j := i + 1; j < g.n; j++ {
			if g.adj[i*g.n+j] != g.adj[j*g.n+i] {
				return false
			}
		}
	}
	return true
}
