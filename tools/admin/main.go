package main

import (
	"context"
	"fmt"
	"math/rand/v2"
	"os"
	"strconv"

	"github.com/caarlos0/env/v11"
	"github.com/dustin/go-humanize"
	_ "modernc.org/sqlite"

	"officewars/pkg/core"
	"officewars/pkg/galaxy"
	"officewars/pkg/game"
	"officewars/pkg/store"
	"officewars/pkg/types"
)

var cfg struct {
	DBPath    string `env:"OFFICEWARS_DB_PATH" envDefault:"./data/officewars.db"`
	RulesPath string `env:"OFFICEWARS_RULES"`
}

var (
	db     *store.Store
	engine *game.Engine
	rng    = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
)

const usage = `Usage: admin <command> [args]
  list                   List every game
  show <id> [turn]       Show one game, or its snapshot taken when turn closed
  journal <id>           Print the action journal of a game
  verify [id]            Check the snapshot chain of one or every game
  start <id>             Generate the galaxy of a pregame game
  tick <id>              Close the open turn regardless of the tick policy
  bots <id> <count>      Add random players to a pregame game
  botmove [id]           Give every player of one or every running game random orders`

func main() {
	if len(os.Args) < 2 {
		fmt.Println(usage)
		os.Exit(2)
	}
	if err := env.Parse(&cfg); err != nil {
		fail(err)
	}
	rules, err := types.LoadRules(cfg.RulesPath)
	if err != nil {
		fail(err)
	}
	engine = game.NewEngine(rules)

	if db, err = store.Open("sqlite", cfg.DBPath); err != nil {
		fail(err)
	}
	defer db.Close()
	os.Chmod(cfg.DBPath, 0o600)

	if err := handleCLI(context.Background(), os.Args[1:]); err != nil {
		db.Close()
		fail(err)
	}
}

func fail(err error) {
	fmt.Fprintln(os.Stderr, "Error:", err)
	os.Exit(1)
}

func handleCLI(ctx context.Context, args []string) error {
	arg := func(i int) string {
		if i < len(args) {
			return args[i]
		}
		return ""
	}
	switch args[0] {
	case "list":
		return listGames(ctx)
	case "show":
		if arg(2) != "" {
			turn, err := strconv.Atoi(arg(2))
			if err != nil {
				return fmt.Errorf("bad turn %q", arg(2))
			}
			return showSnapshot(ctx, arg(1), turn)
		}
		return showGame(ctx, arg(1))
	case "journal":
		return printJournal(ctx, arg(1))
	case "verify":
		return verify(ctx, arg(1))
	case "start":
		return startGame(ctx, arg(1))
	case "tick":
		return tick(ctx, arg(1))
	case "bots":
		n, err := strconv.Atoi(arg(2))
		if err != nil || n < 1 {
			return fmt.Errorf("bots needs a positive count")
		}
		return addBots(ctx, arg(1), n)
	case "botmove":
		return botMove(ctx, arg(1))
	}
	fmt.Println(usage)
	return fmt.Errorf("unknown command %q", args[0])
}

// --- Read commands ---

func listGames(ctx context.Context) error {
	games, err := db.ListGames(ctx)
	if err != nil {
		return err
	}
	fmt.Println("ID     | State    | Players | Turn | Name")
	fmt.Println("-------+----------+---------+------+------------------------")
	for _, g := range games {
		fmt.Printf("%-6s | %-8s | %-7d | %-4d | %s\n", g.ID, g.Meta, g.PlayerCount(), max(g.TurnCount()-1, 0), g.Name)
	}
	return nil
}

func showGame(ctx context.Context, id string) error {
	rec, err := db.LoadGame(ctx, id)
	if err != nil {
		return err
	}
	fmt.Printf("Version %d, %s, hash %s, saved %s\n",
		rec.Version, humanize.Bytes(uint64(rec.Size)), rec.Hash[:16], humanize.Time(rec.UpdatedAt))
	printGame(rec.Game)
	return nil
}

func showSnapshot(ctx context.Context, id string, turn int) error {
	g, err := db.Snapshot(ctx, id, turn)
	if err != nil {
		return err
	}
	fmt.Printf("Snapshot taken when turn %d closed\n", turn)
	printGame(g)
	return nil
}

func printGame(g *types.GameState) {
	engine.StepGameHistoryLatest(g)
	fmt.Printf("Game %s %q (%s)\n", g.ID, g.Name, g.Meta)
	fmt.Printf("Nodes %d, closed turns %d, winner %s\n", g.NodeCount(), max(g.TurnCount()-1, 0), g.Winner)
	owned := g.NodesOwned()
	for i, p := range g.Players {
		fmt.Printf("  %2d %-24s %s %s nodes=%d\n", i, p.Name, p.Color, p.Secret, owned[i])
	}
	if t := g.OpenTurn(); t != nil {
		fmt.Printf("Open turn: %d order(s)\n", len(t.Orders))
	}
}

func printJournal(ctx context.Context, id string) error {
	acts, err := db.Actions(ctx, id)
	if err != nil {
		return err
	}
	for _, a := range acts {
		line := fmt.Sprintf("%s turn=%-3d %-6s", a.At.Format("2006-01-02 15:04:05"), a.Turn, a.Kind)
		if a.Player >= 0 {
			line += fmt.Sprintf(" player=%d", a.Player)
		}
		if a.Order != nil {
			line += fmt.Sprintf(" %s %d->%d", a.Order.Type, a.Order.From, a.Order.To)
		}
		if a.Detail != "" {
			line += " " + a.Detail
		}
		fmt.Println(line)
	}
	return nil
}

func verify(ctx context.Context, id string) error {
	ids := []string{id}
	if id == "" {
		var err error
		if ids, err = db.ListGameIDs(ctx); err != nil {
			return err
		}
	}
	bad := 0
	for _, id := range ids {
		snaps, err := db.VerifySnapshots(ctx, id)
		var total uint64
		for _, s := range snaps {
			total += uint64(s.Size)
		}
		if err != nil {
			bad++
			fmt.Printf("%s: BROKEN after %d snapshot(s): %v\n", id, len(snaps), err)
			continue
		}
		fmt.Printf("%s: %d snapshot(s) OK, %s\n", id, len(snaps), humanize.Bytes(total))
	}
	if bad > 0 {
		return fmt.Errorf("%d game(s) failed verification", bad)
	}
	return nil
}

// --- Write commands ---

func startGame(ctx context.Context, id string) error {
	_, err := db.UpdateGame(ctx, id, func(g *types.GameState) (*store.Action, error) {
		s, err := galaxy.Start(g, engine.Rules, rng)
		if err != nil {
			return nil, err
		}
		fmt.Printf("Generated %d nodes, %d edges in %d attempt(s)\n", s.Nodes, s.Edges, s.Attempts)
		return &store.Action{Kind: store.ActionStart, Player: -1, Detail: "admin"}, nil
	})
	return err
}

func tick(ctx context.Context, id string) error {
	rec, err := db.UpdateGame(ctx, id, func(g *types.GameState) (*store.Action, error) {
		if err := game.TickGame(g); err != nil {
			return nil, err
		}
		engine.StepGameHistoryLatest(g)
		if g.Meta == types.PostGame {
			return &store.Action{Kind: store.ActionEnd, Player: -1, Detail: "winner=" + g.Winner.String()}, nil
		}
		return &store.Action{Kind: store.ActionTick, Player: -1, Detail: "admin"}, nil
	})
	if err != nil {
		return err
	}
	fmt.Printf("%s now at turn %d (%s)\n", id, rec.Game.TurnCount()-1, rec.Game.Meta)
	return nil
}

func addBots(ctx context.Context, id string, n int) error {
	for i := 0; i < n; i++ {
		_, err := db.UpdateGame(ctx, id, func(g *types.GameState) (*store.Action, error) {
			secret := core.GenerateKey()
			for g.PlayerBySecret(secret) >= 0 {
				secret = core.GenerateKey()
			}
			name := fmt.Sprintf("random%d", rng.IntN(1_000_000))
			color := fmt.Sprintf("#%02x%02x%02x", rng.IntN(256), rng.IntN(256), rng.IntN(256))
			p, err := engine.AddPlayer(g, name, color, secret, rng)
			if err != nil {
				return nil, err
			}
			fmt.Printf("Added %s as player %d (secret %s)\n", name, p, secret)
			return &store.Action{Kind: store.ActionJoin, Player: p, Detail: name}, nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func botMove(ctx context.Context, id string) error {
	ids := []string{id}
	if id == "" {
		var err error
		if ids, err = db.ListGameIDs(ctx, types.InGame); err != nil {
			return err
		}
	}
	for _, id := range ids {
		var issued int
		_, err := db.UpdateGame(ctx, id, func(g *types.GameState) (*store.Action, error) {
			issued = 0
			if g.Meta != types.InGame {
				return nil, game.ErrNotInGame
			}
			engine.StepGameHistoryLatest(g)
			if g.Meta == types.PostGame {
				return &store.Action{Kind: store.ActionEnd, Player: -1, Detail: "winner=" + g.Winner.String()}, nil
			}
			for p, player := range g.Players {
				for _, o := range game.BotOrders(g, p, rng) {
					if err := engine.SubmitOrder(g, o.Type, o.From, o.To, player.Secret); err != nil {
						return nil, fmt.Errorf("player %d: %w", p, err)
					}
					issued++
				}
			}
			return &store.Action{Kind: store.ActionOrder, Player: -1, Detail: "bots orders=" + strconv.Itoa(issued)}, nil
		})
		if err != nil {
			return fmt.Errorf("%s: %w", id, err)
		}
		fmt.Printf("%s: %d order(s)\n", id, issued)
	}
	return nil
}

