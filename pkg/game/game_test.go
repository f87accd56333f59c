package game

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"reflect"
	"testing"

	"officewars/pkg/galaxy"
	"officewars/pkg/geom"
	"officewars/pkg/graph"
	"officewars/pkg/types"
)

var secrets = []string{"AAAAAA", "BBBBBB", "CCCCCC", "DDDDDD"}

func seeded(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// fixture builds a running game on a hand-made graph.
func fixture(t *testing.T, nodes int, edges [][2]int, owners map[int]int, players int) *types.GameState {
	t.Helper()
	g := types.NewPreGame("FIXTUR", "fixture")
	for p := 0; p < players; p++ {
		g.Players = append(g.Players, types.Player{Name: fmt.Sprintf("p%d", p), Secret: secrets[p]})
	}
	g.Graph = graph.New(nodes)
	for _, e := range edges {
		g.Graph.Connect(e[0], e[1])
	}
	g.Positions = make([]geom.Vec3, nodes)
	g.ControlledByInitial = make([]types.PlayerRef, nodes)
	for node, p := range owners {
		g.ControlledByInitial[node] = types.PlayerAt(p)
	}
	g.Winner = types.NoPlayer
	g.Turns = []types.Turn{{}}
	g.Meta = types.InGame
	return g
}

func mustOrder(t *testing.T, e *Engine, g *types.GameState, typ types.OrderType, from, to int, player int) {
	t.Helper()
	if err := e.SubmitOrder(g, typ, from, to, secrets[player]); err != nil {
		t.Fatalf("order %v %d->%d by %d: %v", typ, from, to, player, err)
	}
}

// advance closes the open turn and replays to the latest closed one.
func advance(t *testing.T, e *Engine, g *types.GameState) {
	t.Helper()
	if err := TickGame(g); err != nil {
		t.Fatal(err)
	}
	e.StepGameHistoryLatest(g)
}

// tenNodes is the two-player scenario: A on node 0 with neighbours 1, 2
// and 3, B on node 5.
func tenNodes(t *testing.T) *types.GameState {
	edges := [][2]int{{0, 1}, {0, 2}, {0, 3}, {1, 4}, {4, 5}, {5, 6}, {6, 7}, {7, 8}, {8, 9}, {9, 3}}
	return fixture(t, 10, edges, map[int]int{0: 0, 5: 1}, 2)
}

func TestNeutralCapture(t *testing.T) {
	e := NewEngine(types.DefaultRules())
	g := tenNodes(t)
	if g.Graph.Degree(0) != 3 {
		t.Fatalf("node 0 degree = %d", g.Graph.Degree(0))
	}
	mustOrder(t, e, g, types.Attack, 0, 1, 0)

	g.ControlledBy = initialOwners(g)
	r := e.newResolver(g, g.OpenTurn().Orders)
	if r.power[0] != 65536 || r.power[1] != 32768 {
		t.Fatalf("strengths attacker=%d neutral=%d", r.power[0], r.power[1])
	}

	advance(t, e, g)
	if !g.Owner(1).Is(0) {
		t.Fatalf("node 1 owner = %v, want player 0", g.Owner(1))
	}
	if !g.Owner(0).Is(0) || !g.Owner(5).Is(1) {
		t.Fatal("uninvolved nodes changed hands")
	}
}

func TestSupportAddsHalfStrength(t *testing.T) {
	e := NewEngine(types.DefaultRules())
	g := tenNodes(t)
	g.ControlledByInitial[2] = types.PlayerAt(0)
	mustOrder(t, e, g, types.Attack, 0, 1, 0)
	mustOrder(t, e, g, types.Support, 2, 0, 0)

	g.ControlledBy = initialOwners(g)
	r := e.newResolver(g, g.OpenTurn().Orders)
	if r.power[0] != 98304 {
		t.Fatalf("supported attack strength = %d, want 98304", r.power[0])
	}
	advance(t, e, g)
	if !g.Owner(1).Is(0) {
		t.Fatal("supported attack did not capture")
	}
}

func TestPinnedNodeCannotSupport(t *testing.T) {
	e := NewEngine(types.DefaultRules())
	// A holds 0 and 2, B holds 3 next to 2, node 1 is neutral
	g := fixture(t, 4, [][2]int{{0, 1}, {0, 2}, {2, 3}}, map[int]int{0: 0, 2: 0, 3: 1}, 2)
	mustOrder(t, e, g, types.Attack, 0, 1, 0)
	mustOrder(t, e, g, types.Support, 2, 0, 0)
	mustOrder(t, e, g, types.Attack, 3, 2, 1)

	g.ControlledBy = initialOwners(g)
	r := e.newResolver(g, g.OpenTurn().Orders)
	if !r.pinned.Has(2) || r.pinned.Has(0) {
		t.Fatal("pinning wrong")
	}
	if r.power[0] != Unit {
		t.Fatalf("pinned supporter still lent strength: %d", r.power[0])
	}

	advance(t, e, g)
	if !g.Owner(2).Is(0) {
		t.Fatal("equal strength attack captured a defended node")
	}
	if !g.Owner(1).Is(0) {
		t.Fatal("unsupported attack on neutral failed")
	}
}

func TestSupportChainsAndCycles(t *testing.T) {
	e := NewEngine(types.DefaultRules())
	g := fixture(t, 5, [][2]int{{0, 1}, {1, 2}, {2, 3}, {3, 4}}, map[int]int{0: 0, 1: 0, 2: 0, 3: 0}, 2)

	chain := []types.Order{
		{Player: 0, From: 1, To: 0, Type: types.Support},
		{Player: 0, From: 2, To: 1, Type: types.Support},
		{Player: 0, From: 3, To: 2, Type: types.Support},
	}
	g.ControlledBy = initialOwners(g)
	r := e.newResolver(g, chain)
	want := []Strength{122880, 114688, 98304, 65536, 32768}
	if !reflect.DeepEqual(r.power, want) {
		t.Fatalf("chain strengths %v, want %v", r.power, want)
	}

	cycle := []types.Order{
		{Player: 0, From: 0, To: 1, Type: types.Support},
		{Player: 0, From: 1, To: 0, Type: types.Support},
	}
	r = e.newResolver(g, cycle)
	if r.power[0] != 98304 || r.power[1] != 98304 {
		t.Fatalf("cycle strengths %d %d", r.power[0], r.power[1])
	}
}

func TestEqualAttackersTie(t *testing.T) {
	e := NewEngine(types.DefaultRules())
	for _, players := range []int{3, 4} {
		// every player sits on a spoke around neutral hub node `players`
		hub := players
		var edges [][2]int
		owners := make(map[int]int)
		for p := 0; p < players; p++ {
			edges = append(edges, [2]int{p, hub})
			owners[p] = p
		}
		g := fixture(t, players+1, edges, owners, players)
		for p := 0; p < players; p++ {
			mustOrder(t, e, g, types.Attack, p, hub, p)
		}
		advance(t, e, g)
		if g.Owner(hub).Valid() {
			t.Fatalf("%d players: tied attack captured hub for %v", players, g.Owner(hub))
		}

		// two equal attackers tie on their own
		g = fixture(t, players+1, edges, owners, players)
		mustOrder(t, e, g, types.Attack, 0, hub, 0)
		mustOrder(t, e, g, types.Attack, 1, hub, 1)
		advance(t, e, g)
		if g.Owner(hub).Valid() {
			t.Fatalf("%d players: two-way tie captured hub", players)
		}
	}
}

func TestAttackOnEqualDefenceFails(t *testing.T) {
	e := NewEngine(types.DefaultRules())
	g := fixture(t, 2, [][2]int{{0, 1}}, map[int]int{0: 0, 1: 1}, 2)
	mustOrder(t, e, g, types.Attack, 0, 1, 0)
	advance(t, e, g)
	if !g.Owner(1).Is(1) {
		t.Fatal("attacker equal to defence captured")
	}
}

func TestSurrenderStripsEverything(t *testing.T) {
	e := NewEngine(types.DefaultRules())
	g := fixture(t, 4, [][2]int{{0, 1}, {1, 2}, {2, 3}}, map[int]int{0: 0, 1: 0, 3: 1}, 2)
	mustOrder(t, e, g, types.Attack, 1, 2, 0)
	mustOrder(t, e, g, types.Surrender, 0, 1, 0)
	advance(t, e, g)
	for n := 0; n < 3; n++ {
		if g.Owner(n).Valid() {
			t.Fatalf("node %d still owned by %v after surrender", n, g.Owner(n))
		}
	}
	if !g.Owner(3).Is(1) {
		t.Fatal("surrender touched the other player")
	}
}

func TestWinDetection(t *testing.T) {
	e := NewEngine(types.DefaultRules())
	edges := [][2]int{{0, 4}, {1, 4}, {2, 4}, {3, 4}}
	g := fixture(t, 5, edges, map[int]int{0: 0, 1: 1, 2: 2, 3: 3}, 4)
	for p := 1; p < 4; p++ {
		mustOrder(t, e, g, types.Surrender, p, p, p)
	}
	advance(t, e, g)
	if g.Meta != types.InGame {
		t.Fatal("game ended on a turn that changed ownership")
	}

	advance(t, e, g)
	if g.Meta != types.PostGame {
		t.Fatalf("meta = %v after a quiet turn with one survivor", g.Meta)
	}
	if !g.Winner.Is(0) {
		t.Fatalf("winner = %v", g.Winner)
	}
	if err := TickGame(g); !errors.Is(err, ErrNotInGame) {
		t.Fatalf("tick after end: %v", err)
	}
}

func TestDrawWhenNobodySurvives(t *testing.T) {
	e := NewEngine(types.DefaultRules())
	g := fixture(t, 3, [][2]int{{0, 1}, {1, 2}}, map[int]int{0: 0, 2: 1}, 2)
	mustOrder(t, e, g, types.Surrender, 0, 0, 0)
	mustOrder(t, e, g, types.Surrender, 2, 1, 1)
	advance(t, e, g)
	advance(t, e, g)
	if g.Meta != types.PostGame || g.Winner.Valid() {
		t.Fatalf("meta=%v winner=%v, want draw", g.Meta, g.Winner)
	}
}

func TestSubmitOrderValidation(t *testing.T) {
	e := NewEngine(types.DefaultRules())
	g := tenNodes(t)
	g.ControlledByInitial[4] = types.PlayerAt(0)

	cases := []struct {
		name     string
		typ      types.OrderType
		from, to int
		secret   string
		want     error
	}{
		{"wrong secret", types.Attack, 0, 1, secrets[1], ErrNotOwner},
		{"redacted secret", types.Attack, 0, 1, types.Redacted, ErrNotOwner},
		{"foreign source", types.Attack, 5, 4, secrets[0], ErrNotOwner},
		{"unreachable", types.Attack, 0, 9, secrets[0], ErrUnreachable},
		{"bad source", types.Attack, 10, 1, secrets[0], ErrUnknownNode},
		{"bad target", types.Support, 0, -1, secrets[0], ErrUnknownNode},
		{"bad type", types.OrderType(7), 0, 1, secrets[0], ErrUnknownOrderType},
		{"surrender to nobody", types.Surrender, 0, 2, secrets[0], ErrUnknownPlayer},
		{"self target", types.Attack, 0, 0, secrets[0], ErrUnreachable},
	}
	for _, tc := range cases {
		err := e.SubmitOrder(g, tc.typ, tc.from, tc.to, tc.secret)
		if !errors.Is(err, tc.want) {
			t.Errorf("%s: err = %v, want %v", tc.name, err, tc.want)
		}
	}
	if n := len(g.OpenTurn().Orders); n != 0 {
		t.Fatalf("rejections recorded %d orders", n)
	}

	// non-adjacent but controlled
	mustOrder(t, e, g, types.Support, 0, 4, 0)
	mustOrder(t, e, g, types.Attack, 0, 1, 0)
	mustOrder(t, e, g, types.Attack, 4, 5, 0)
	orders := g.OpenTurn().Orders
	if len(orders) != 2 {
		t.Fatalf("expected replacement, got %+v", orders)
	}
	if orders[1] != (types.Order{Player: 0, From: 4, To: 5, Type: types.Attack}) || orders[0].To != 1 {
		t.Fatalf("orders = %+v", orders)
	}

	pre := types.NewPreGame("PREGAM", "pre")
	if err := e.SubmitOrder(pre, types.Attack, 0, 1, secrets[0]); !errors.Is(err, ErrNotInGame) {
		t.Fatalf("pregame order: %v", err)
	}
}

func TestAddPlayer(t *testing.T) {
	rules := types.DefaultRules()
	rules.MaxPlayers = 3
	e := NewEngine(rules)
	rng := seeded(1)
	g := types.NewPreGame("ABCDEF", "lobby")

	idx, err := e.AddPlayer(g, "alice", "#FF0000", "QWERTY", rng)
	if err != nil || idx != 0 {
		t.Fatalf("first player: %d %v", idx, err)
	}
	if g.Players[0].Color != (types.Color{R: 255}) {
		t.Fatalf("free color changed to %v", g.Players[0].Color)
	}
	idx, err = e.AddPlayer(g, "bob", "#fe0101", "ASDFGH", rng)
	if err != nil || idx != 1 {
		t.Fatalf("second player: %d %v", idx, err)
	}
	if d := g.Players[1].Color.Distance(g.Players[0].Color); d < rules.ColorDistance {
		t.Fatalf("colliding color kept, distance %v", d)
	}

	for _, tc := range []struct {
		name, color, secret string
		want                error
	}{
		{"x", "#123456", "ZXCVBN", ErrBadName},
		{"bad\nname", "#123456", "ZXCVBN", ErrBadName},
		{"carol", "123456", "ZXCVBN", ErrBadColor},
		{"carol", "#123456", "QWERTY", ErrBadSecret},
		{"carol", "#123456", types.Redacted, ErrBadSecret},
		{"carol", "#123456", "short", ErrBadSecret},
	} {
		if _, err := e.AddPlayer(g, tc.name, tc.color, tc.secret, rng); !errors.Is(err, tc.want) {
			t.Errorf("AddPlayer(%q, %q, %q) = %v, want %v", tc.name, tc.color, tc.secret, err, tc.want)
		}
	}

	if _, err := e.AddPlayer(g, "carol", "#000000", "ZXCVBN", rng); err != nil {
		t.Fatal(err)
	}
	c := g.Players[2].Color
	if c.Distance(types.Black) < rules.ColorDistance || c.Distance(types.White) < rules.ColorDistance {
		t.Fatalf("reserved color kept: %v", c)
	}
	if _, err := e.AddPlayer(g, "dave", "#00ff00", "POIUYT", rng); !errors.Is(err, ErrGameFull) {
		t.Fatalf("full game: %v", err)
	}

	g.Meta = types.InGame
	if _, err := e.AddPlayer(g, "erin", "#00ff00", "LKJHGF", rng); !errors.Is(err, ErrNotPregame) {
		t.Fatalf("late join: %v", err)
	}
}

func TestTickPolicies(t *testing.T) {
	e := NewEngine(types.DefaultRules())
	g := tenNodes(t)
	e.StepGameHistoryLatest(g)

	if !(TickAlways{}).Ready(g) {
		t.Fatal("always policy not ready")
	}
	wait := TickWhenAllOrdered{}
	if wait.Ready(g) {
		t.Fatal("ready before anyone ordered")
	}
	mustOrder(t, e, g, types.Attack, 0, 1, 0)
	if wait.Ready(g) {
		t.Fatal("ready with player 1 silent")
	}
	mustOrder(t, e, g, types.Attack, 5, 4, 1)
	if !wait.Ready(g) {
		t.Fatal("not ready with every survivor ordered")
	}

	g.Meta = types.PostGame
	if (TickAlways{}).Ready(g) || wait.Ready(g) {
		t.Fatal("finished game ready to tick")
	}

	for name, want := range map[string]string{"": "all-ordered", "always": "always", "all-ordered": "all-ordered"} {
		p, err := ParseTickPolicy(name)
		if err != nil || p.Name() != want {
			t.Errorf("ParseTickPolicy(%q) = %v, %v", name, p, err)
		}
	}
	if _, err := ParseTickPolicy("sometimes"); err == nil {
		t.Fatal("unknown policy accepted")
	}
}

// botGame plays a generated four player galaxy for a few turns.
func botGame(t *testing.T, e *Engine, seed uint64, turns int) *types.GameState {
	t.Helper()
	g := types.NewPreGame("BOTSGM", "bots")
	rng := seeded(seed)
	for p := 0; p < 4; p++ {
		if _, err := e.AddPlayer(g, fmt.Sprintf("bot%d", p), "#808080", secrets[p], rng); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := galaxy.Start(g, e.Rules, rng); err != nil {
		t.Fatal(err)
	}
	for turn := 0; turn < turns && g.Meta == types.InGame; turn++ {
		e.StepGameHistoryLatest(g)
		for p := range g.Players {
			for _, o := range BotOrders(g, p, rng) {
				if err := e.SubmitOrder(g, o.Type, o.From, o.To, secrets[p]); err != nil {
					t.Fatalf("bot order %+v rejected: %v", o, err)
				}
			}
		}
		advance(t, e, g)
	}
	return g
}

func TestStepGameHistoryIdempotent(t *testing.T) {
	e := NewEngine(types.DefaultRules())
	g := botGame(t, e, 11, 8)

	for target := 0; target <= g.TurnCount(); target++ {
		e.StepGameHistory(g, target)
		first := append([]types.PlayerRef(nil), g.ControlledBy...)

		// scramble the derived state; replay must not depend on it
		for i := range g.ControlledBy {
			g.ControlledBy[i] = types.PlayerAt(3)
		}
		e.StepGameHistory(g, target)
		if !reflect.DeepEqual(first, g.ControlledBy) {
			t.Fatalf("turn %d: replay not idempotent", target)
		}
		if view := e.OwnershipAt(g, target); !reflect.DeepEqual(view, first) {
			t.Fatalf("turn %d: OwnershipAt disagrees with StepGameHistory", target)
		}
	}

	e.StepGameHistory(g, 0)
	if !reflect.DeepEqual(g.ControlledBy, g.ControlledByInitial) {
		t.Fatal("turn 0 view is not the initial assignment")
	}
}

func TestReplayIsDeterministic(t *testing.T) {
	a := botGame(t, NewEngine(types.DefaultRules()), 5, 10)
	b := botGame(t, NewEngine(types.DefaultRules()), 5, 10)
	if !reflect.DeepEqual(a.ControlledBy, b.ControlledBy) || a.Meta != b.Meta || a.Winner != b.Winner {
		t.Fatal("same orders produced different outcomes")
	}
}

func TestOwnershipAtLeavesGameAlone(t *testing.T) {
	e := NewEngine(types.DefaultRules())
	g := botGame(t, e, 3, 4)
	before := append([]types.PlayerRef(nil), g.ControlledBy...)
	e.OwnershipAt(g, 0)
	if !reflect.DeepEqual(before, g.ControlledBy) {
		t.Fatal("history view mutated the live game")
	}
}

func TestStrengthArithmetic(t *testing.T) {
	if Unit.Half() != 32768 || Unit.Add(Unit.Half()) != 98304 {
		t.Fatal("basic arithmetic")
	}
	big := Strength(1 << 30)
	if big.Add(big).Add(big) != Strength(1<<31-1) {
		t.Fatal("Add must saturate")
	}
	if Strength(7).Div(2) != 3 || Strength(7).Div(0) != 0 {
		t.Fatal("Div")
	}
	if Unit.String() != "1.0000" {
		t.Fatalf("String() = %s", Unit.String())
	}
}

func TestNonAdjacentOrdersNeedOwnedPath(t *testing.T) {
	e := NewEngine(types.DefaultRules())
	line := [][2]int{{0, 1}, {1, 2}, {2, 3}}

	cases := []struct {
		name   string
		owners map[int]int
		kept   bool
	}{
		{"owned chain", map[int]int{0: 0, 1: 0, 2: 0, 3: 1}, true},
		{"neutral gap", map[int]int{0: 0, 2: 0, 3: 1}, false},
		{"enemy gap", map[int]int{0: 0, 1: 1, 2: 0, 3: 1}, false},
	}
	for _, tc := range cases {
		g := fixture(t, 4, line, tc.owners, 2)
		g.ControlledBy = initialOwners(g)
		orders := []types.Order{
			{Player: 0, From: 0, To: 2, Type: types.Support},
			{Player: 1, From: 3, To: 3, Type: types.Attack},
		}
		r := e.newResolver(g, orders)
		if kept := len(r.orders) == 1; kept != tc.kept {
			t.Errorf("%s: kept orders %+v", tc.name, r.orders)
		}
	}
}
