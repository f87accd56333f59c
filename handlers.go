package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"officewars/pkg/codec"
	"officewars/pkg/core"
	"officewars/pkg/galaxy"
	"officewars/pkg/game"
	"officewars/pkg/store"
	"officewars/pkg/types"
)

func newRouter() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/games", handleGames)
	mux.HandleFunc("/state/{id}", handleState)
	mux.HandleFunc("POST /register", handleRegister)
	mux.HandleFunc("POST /start", handleStart)
	mux.HandleFunc("POST /orders", handleOrders)
	mux.HandleFunc("POST /tick", handleTick)
	mux.HandleFunc("GET /history/{id}", handleHistory)
	mux.HandleFunc("GET /api/status", handleStatus)

	handler := middlewareSecurity(mux)
	return middlewareCORS(handler)
}

// --- Helpers ---

func readBody(r *http.Request) (string, error) {
	b, err := io.ReadAll(r.Body)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func statusFor(err error) int {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, game.ErrNotOwner):
		return http.StatusForbidden
	case errors.Is(err, game.ErrNotPregame),
		errors.Is(err, game.ErrNotInGame),
		errors.Is(err, game.ErrGameFull),
		errors.Is(err, galaxy.ErrNotPregame),
		errors.Is(err, galaxy.ErrTooFewPlayers),
		errors.Is(err, galaxy.ErrTooManyPlayers),
		errors.Is(err, store.ErrExists):
		return http.StatusConflict
	case errors.Is(err, errBadRequest),
		errors.Is(err, game.ErrBadName),
		errors.Is(err, game.ErrBadColor),
		errors.Is(err, game.ErrBadSecret),
		errors.Is(err, game.ErrUnknownNode),
		errors.Is(err, game.ErrUnknownPlayer),
		errors.Is(err, game.ErrUnknownOrderType),
		errors.Is(err, game.ErrUnreachable):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrConflict):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		Log.Errorw("request failed", "id", requestID(r.Context()), "path", r.URL.Path, "err", err)
	} else {
		Log.Infow("request rejected", "id", requestID(r.Context()), "path", r.URL.Path, "status", status, "err", err)
	}
	http.Error(w, err.Error(), status)
}

func writeText(w http.ResponseWriter, body []byte) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write(body)
}

// mutateGame serializes writers of one game inside this process; the store's
// versioned save covers writers in other processes.
func mutateGame(ctx context.Context, id string, fn func(g *types.GameState) (*store.Action, error)) (*store.Record, error) {
	unlock := gameLocks.Lock(id)
	defer unlock()
	return db.UpdateGame(ctx, id, fn)
}

// createGame stores a new pregame match under a fresh id.
func createGame(ctx context.Context, name string) (string, error) {
	if err := game.CheckName(name, game.MinGameNameLength); err != nil {
		return "", err
	}
	for i := 0; i < createTries; i++ {
		g := types.NewPreGame(core.GenerateKey(), name)
		err := db.CreateGame(ctx, g, &store.Action{Kind: store.ActionCreate, Player: -1, Detail: name})
		if errors.Is(err, store.ErrExists) {
			continue
		}
		if err != nil {
			return "", err
		}
		return g.ID, nil
	}
	return "", fmt.Errorf("no free game id after %d tries: %w", createTries, store.ErrExists)
}

// --- Handlers ---

// handleGames lists every game without secrets. POST first creates a game
// named by the body.
func handleGames(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
	case http.MethodPost:
		body, err := readBody(r)
		if err != nil {
			writeError(w, r, err)
			return
		}
		id, err := createGame(r.Context(), strings.TrimRight(body, "\r\n"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		Log.Infow("game created", "game", id, "name", body)
		w.Header().Set("X-Game-ID", id)
	default:
		w.Header().Set("Allow", "GET, POST")
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	games, err := db.ListGames(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	var buf bytes.Buffer
	if err := codec.EncodeList(&buf, games, codec.Public); err != nil {
		writeError(w, r, err)
		return
	}
	writeText(w, buf.Bytes())
}

// handleState returns one game. A body holding a player's secret unlocks
// that player's own secret and pending orders.
func handleState(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !core.ValidKey(id) {
		http.NotFound(w, r)
		return
	}
	secret, err := readBody(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	rec, err := db.LoadGame(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}

	aud := codec.Public
	if secret = strings.TrimSpace(secret); core.ValidKey(secret) {
		if p := rec.Game.PlayerBySecret(secret); p >= 0 {
			aud = codec.ForPlayer(p)
		}
	}
	etag := strconv.Quote(core.Hash([]byte(rec.Hash + "/" + aud.String())))
	w.Header().Set("ETag", etag)
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	data, err := codec.Marshal(rec.Game, aud)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeText(w, data)
}

// handleRegister joins a pregame match and answers with the game id and the
// new player's secret.
func handleRegister(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	req, err := parseRegister(body)
	if err != nil {
		writeError(w, r, err)
		return
	}

	rng := newRand()
	var secret string
	var player int
	_, err = mutateGame(r.Context(), req.GameID, func(g *types.GameState) (*store.Action, error) {
		secret = core.GenerateKey()
		for g.PlayerBySecret(secret) >= 0 {
			secret = core.GenerateKey()
		}
		p, err := engine.AddPlayer(g, req.Name, req.Color, secret, rng)
		if err != nil {
			return nil, err
		}
		player = p
		return &store.Action{Kind: store.ActionJoin, Player: p, Detail: req.Name}, nil
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	Log.Infow("player joined", "game", req.GameID, "player", player, "name", req.Name)
	writeText(w, []byte(req.GameID+"\n"+secret+"\n"))
}

// handleStart generates the galaxy of the game named by the body.
func handleStart(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	id := strings.TrimSpace(body)
	if !core.ValidKey(id) {
		writeError(w, r, fmt.Errorf("%w: bad game id", errBadRequest))
		return
	}

	rng := newRand()
	var stats galaxy.Stats
	rec, err := mutateGame(r.Context(), id, func(g *types.GameState) (*store.Action, error) {
		s, err := galaxy.Start(g, engine.Rules, rng)
		if err != nil {
			return nil, err
		}
		stats = s
		detail := fmt.Sprintf("nodes=%d edges=%d attempts=%d", s.Nodes, s.Edges, s.Attempts)
		return &store.Action{Kind: store.ActionStart, Player: -1, Detail: detail}, nil
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	Log.Infow("game started", "game", id, "players", rec.Game.PlayerCount(),
		"nodes", stats.Nodes, "edges", stats.Edges, "attempts", stats.Attempts,
		"record", humanize.Bytes(uint64(rec.Size)))
	writeText(w, []byte("Start OK.\n"))
}

// handleOrders records one order and answers with the issuer's view.
func handleOrders(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	req, err := parseOrder(body)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var player int
	rec, err := mutateGame(r.Context(), req.GameID, func(g *types.GameState) (*store.Action, error) {
		if err := engine.SubmitOrder(g, req.Type, req.From, req.To, req.Secret); err != nil {
			return nil, err
		}
		player = g.PlayerBySecret(req.Secret)
		order := types.Order{Player: player, From: req.From, To: req.To, Type: req.Type}
		return &store.Action{Kind: store.ActionOrder, Player: player, Order: &order}, nil
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	Log.Debugw("order accepted", "game", req.GameID, "player", player,
		"type", req.Type, "from", req.From, "to", req.To)

	data, err := codec.Marshal(rec.Game, codec.ForPlayer(player))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeText(w, data)
}

// handleTick closes turns on demand. A game id in the body forces that game
// forward; an empty body runs one scheduler pass.
func handleTick(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if Config.AdminToken == "" || !core.SecretsEqual(token, Config.AdminToken) {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}
	body, err := readBody(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if id := strings.TrimSpace(body); id != "" {
		if _, err := tickGame(r.Context(), id, true); err != nil {
			writeError(w, r, err)
			return
		}
		writeText(w, []byte("Tick OK.\n"))
		return
	}
	n, err := tickDueGames(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeText(w, []byte(fmt.Sprintf("%d\n", n)))
}

// handleHistory lists the owner of every node at the start of a turn:
// the turn, the node count, then one owner per line.
func handleHistory(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !core.ValidKey(id) {
		http.NotFound(w, r)
		return
	}
	rec, err := db.LoadGame(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	g := rec.Game

	turn := max(g.TurnCount()-1, 0)
	if s := r.URL.Query().Get("turn"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil || v < 0 {
			writeError(w, r, fmt.Errorf("%w: bad turn %q", errBadRequest, s))
			return
		}
		turn = min(v, turn)
	}

	owners := engine.OwnershipAt(g, turn)
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%d\n%d\n", turn, len(owners))
	for _, o := range owners {
		fmt.Fprintf(&buf, "%d\n", o.Wire())
	}
	writeText(w, buf.Bytes())
}

func handleStatus(w http.ResponseWriter, r *http.Request) {
	all, err := db.ListGameIDs(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	running, err := db.ListGameIDs(r.Context(), types.InGame)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(StatusResponse{
		UUID:       ServerUUID,
		Uptime:     time.Since(StartedAt).Round(time.Second).String(),
		TickPolicy: tickPolicy.Name(),
		Games:      len(all),
		Running:    len(running),
		Locked:     gameLocks.Len(),
	})
}
