package graph

import (
	"reflect"
	"testing"
)

// ring of 4 plus a detached pair: 0-1-2-3-0, 4-5
func sample() Graph {
	g := New(6)
	g.Connect(0, 1)
	g.Connect(1, 2)
	g.Connect(2, 3)
	g.Connect(3, 0)
	g.Connect(4, 5)
	return g
}

func TestConnectIsSymmetric(t *testing.T) {
	g := sample()
	if !g.Connected(1, 0) || !g.Connected(0, 1) {
		t.Fatal("edge 0-1 should be visible from both ends")
	}
	g.Connect(2, 2)
	if g.Connected(2, 2) {
		t.Fatal("self loop was stored")
	}
	if !g.Symmetric() {
		t.Fatal("matrix not symmetric")
	}
	g.Disconnect(3, 0)
	if g.Connected(0, 3) {
		t.Fatal("disconnect left half an edge")
	}
	if g.Connected(-1, 0) || g.Connected(0, 99) {
		t.Fatal("out of range nodes reported as connected")
	}
}

func TestNeighborsAndDegree(t *testing.T) {
	g := sample()
	if got := g.Neighbors(0); !reflect.DeepEqual(got, []int{1, 3}) {
		t.Fatalf("Neighbors(0) = %v", got)
	}
	if g.Degree(4) != 1 || g.Degree(2) != 2 {
		t.Fatalf("degrees: 4=%d 2=%d", g.Degree(4), g.Degree(2))
	}
}

func TestDistancesAndConnectivity(t *testing.T) {
	g := sample()
	want := []int{0, 1, 2, 1, Unreachable, Unreachable}
	if got := g.Distances(0); !reflect.DeepEqual(got, want) {
		t.Fatalf("Distances(0) = %v, want %v", got, want)
	}
	if g.IsConnected() {
		t.Fatal("graph with an island reported connected")
	}
	if island := g.Component(5); island.Count() != 2 || !island.Has(4) || island.Has(3) {
		t.Fatal("Component(5) should hold exactly nodes 4 and 5")
	}
	g.Connect(3, 4)
	if !g.IsConnected() {
		t.Fatal("bridged graph reported disconnected")
	}
	if d := g.Distances(1)[5]; d != 4 {
		t.Fatalf("distance 1->5 = %d, want 4", d)
	}
}

func TestPathWithin(t *testing.T) {
	g := sample()
	owned := map[int]bool{0: true, 1: true, 2: true}
	allow := func(n int) bool { return owned[n] }
	if !g.PathWithin(0, 2, allow) {
		t.Fatal("expected path 0-1-2 inside owned set")
	}
	delete(owned, 1)
	if g.PathWithin(0, 2, allow) {
		t.Fatal("path should need node 1 or 3")
	}
}

func TestBitset(t *testing.T) {
	b := NewBitset(130)
	b.Set(0)
	b.Set(64)
	b.Set(129)
	if !b.Has(64) || b.Has(63) || b.Count() != 3 {
		t.Fatalf("bitset state wrong: %v", b)
	}
}
