package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"officewars/pkg/codec"
	"officewars/pkg/game"
	"officewars/pkg/types"
)

var ServerURL = "http://localhost:8080"

// Session
var (
	GameID string
	Secret string
)

var client = &http.Client{Timeout: 10 * time.Second}

// errRetry marks responses worth another attempt.
var errRetry = errors.New("server busy")

func main() {
	if url := os.Getenv("OFFICEWARS_SERVER"); url != "" {
		ServerURL = url
	}

	reader := bufio.NewReader(os.Stdin)
	fmt.Println("OfficeWars Client")
	fmt.Printf("Target Server: %s\n", ServerURL)
	fmt.Println("Commands: games, new, join, use, start, state, order, history, status, help, quit")

	for {
		prompt := "-"
		if GameID != "" {
			prompt = GameID
		}
		fmt.Printf("[%s]> ", prompt)
		text, err := reader.ReadString('\n')
		if err != nil {
			return
		}
		parts := strings.Fields(text)
		if len(parts) == 0 {
			continue
		}

		switch parts[0] {
		case "games":
			doGames("GET", "")
		case "new":
			if len(parts) < 2 {
				fmt.Println("Usage: new <game name>")
				continue
			}
			doGames("POST", strings.Join(parts[1:], " "))
		case "join":
			if len(parts) < 4 {
				fmt.Println("Usage: join <game_id> <#rrggbb> <name>")
				continue
			}
			doJoin(parts[1], parts[2], strings.Join(parts[3:], " "))
		case "use":
			if len(parts) < 3 {
				fmt.Println("Usage: use <game_id> <secret>")
				continue
			}
			GameID, Secret = parts[1], parts[2]
		case "start":
			doStart()
		case "state":
			doState()
		case "order":
			if len(parts) < 4 {
				fmt.Println("Usage: order <attack|support|surrender> <from> <to>")
				continue
			}
			doOrder(parts[1], parts[2], parts[3])
		case "history":
			turn := ""
			if len(parts) > 1 {
				turn = parts[1]
			}
			doHistory(turn)
		case "status":
			doStatus()
		case "help":
			fmt.Println("Available Commands:")
			fmt.Println("  games                          - List every game")
			fmt.Println("  new <name>                     - Create a game")
			fmt.Println("  join <id> <#rrggbb> <name>     - Join a game and remember the secret")
			fmt.Println("  use <id> <secret>              - Resume a session")
			fmt.Println("  start                          - Generate the galaxy")
			fmt.Println("  state                          - Show the current game")
			fmt.Println("  order <type> <from> <to>       - Issue an order")
			fmt.Println("  history [turn]                 - Owners at the start of a turn")
			fmt.Println("  quit                           - Disconnect")
		case "quit", "exit":
			fmt.Println("Disconnecting...")
			return
		default:
			fmt.Println("Unknown command. Type 'help' for options.")
		}
	}
}

// call sends one plain text request, retrying while the server rate limits
// or reports contention.
func call(method, path, body string) ([]byte, error) {
	op := func() ([]byte, error) {
		req, err := http.NewRequest(method, ServerURL+path, strings.NewReader(body))
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "text/plain")
		resp, err := client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}
		switch {
		case resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode == http.StatusServiceUnavailable:
			return nil, errRetry
		case resp.StatusCode != http.StatusOK:
			return nil, backoff.Permanent(fmt.Errorf("%s: %s", resp.Status, strings.TrimSpace(string(data))))
		}
		return data, nil
	}
	return backoff.Retry(context.Background(), op,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(5),
	)
}

func needSession() bool {
	if GameID == "" {
		fmt.Println("No game selected. Use 'join' or 'use' first.")
		return false
	}
	return true
}

func doGames(method, name string) {
	data, err := call(method, "/games", name)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	games, err := codec.DecodeList(strings.NewReader(string(data)))
	if err != nil {
		fmt.Printf("Protocol Error: %v\n", err)
		return
	}
	fmt.Printf("%d game(s)\n", len(games))
	for _, g := range games {
		fmt.Printf("  %s  %-8s players=%-2d turn=%-3d %s\n", g.ID, g.Meta, g.PlayerCount(), max(g.TurnCount()-1, 0), g.Name)
	}
}

func doJoin(id, color, name string) {
	data, err := call("POST", "/register", id+" "+color+" "+name)
	if err != nil {
		fmt.Printf("Join Failed: %v\n", err)
		return
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		fmt.Printf("Protocol Error: %q\n", data)
		return
	}
	GameID, Secret = lines[0], lines[1]
	fmt.Printf("Joined %s. Your secret is %s, keep it.\n", GameID, Secret)
}

func doStart() {
	if !needSession() {
		return
	}
	data, err := call("POST", "/start", GameID)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	fmt.Print(string(data))
}

func doState() {
	if !needSession() {
		return
	}
	data, err := call("POST", "/state/"+GameID, Secret)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	printGame(data)
}

func doOrder(kind, from, to string) {
	if !needSession() {
		return
	}
	typ := -1
	for t := types.Attack; t <= types.Surrender; t++ {
		if strings.EqualFold(t.String(), kind) {
			typ = int(t)
		}
	}
	if typ < 0 {
		fmt.Println("Order type must be attack, support or surrender.")
		return
	}
	body := fmt.Sprintf("%d\n%s\n%s\n%s\n%s\n", typ, from, to, GameID, Secret)
	data, err := call("POST", "/orders", body)
	if err != nil {
		fmt.Printf("Order Rejected: %v\n", err)
		return
	}
	printGame(data)
}

func doHistory(turn string) {
	if !needSession() {
		return
	}
	path := "/history/" + GameID
	if turn != "" {
		path += "?turn=" + turn
	}
	data, err := call("GET", path, "")
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) < 2 {
		fmt.Printf("Protocol Error: %q\n", data)
		return
	}
	fmt.Printf("Turn %s, %s nodes\n", lines[0], lines[1])
	for n, line := range lines[2:] {
		v, _ := strconv.ParseUint(line, 10, 32)
		fmt.Printf("  node %-3d %s\n", n, types.PlayerFromWire(uint32(v)))
	}
}

func doStatus() {
	data, err := call("GET", "/api/status", "")
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	fmt.Println(strings.TrimSpace(string(data)))
}

// printGame decodes a record and replays its visible turns to show who holds
// what.
func printGame(data []byte) {
	g, err := codec.Unmarshal(data)
	if err != nil {
		fmt.Printf("Protocol Error: %v\n", err)
		return
	}
	game.NewEngine(types.DefaultRules()).StepGameHistoryLatest(g)

	fmt.Printf("%s %q  %s  turn %d\n", g.ID, g.Name, g.Meta, max(g.TurnCount()-1, 0))
	if w, ok := g.Winner.Index(); ok {
		fmt.Printf("Winner: %s\n", g.Players[w].Name)
	}
	owned := g.NodesOwned()
	for i, p := range g.Players {
		me := ""
		if p.Secret == Secret {
			me = " (you)"
		}
		fmt.Printf("  player %d %-20s %s nodes=%d%s\n", i, p.Name, p.Color, owned[i], me)
	}
	for n := 0; n < g.NodeCount(); n++ {
		fmt.Printf("  node %-3d owner=%-4s links=%v\n", n, g.Owner(n), g.Neighbors(n))
	}
	if t := g.OpenTurn(); t != nil && len(t.Orders) > 0 {
		fmt.Println("Pending orders:")
		for _, o := range t.Orders {
			fmt.Printf("  %s %d -> %d\n", o.Type, o.From, o.To)
		}
	}
}
