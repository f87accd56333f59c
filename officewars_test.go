package main

import (
	"context"
	"errors"
	"math/rand/v2"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"officewars/pkg/codec"
	"officewars/pkg/game"
	"officewars/pkg/store"
	"officewars/pkg/types"
)

// setupTestEnv points the server globals at a fresh database in a temp dir.
func setupTestEnv(t *testing.T) http.Handler {
	t.Helper()
	Log = zap.NewNop().Sugar()
	Config = config{AdminToken: "letmein", RateLimit: 1000, RateBurst: 1000}
	ipLock.Lock()
	ipLimiters = make(map[string]*ipLimiter)
	ipLock.Unlock()
	if err := setupGame(types.DefaultRules(), "all-ordered"); err != nil {
		t.Fatal(err)
	}

	var err error
	db, err = store.Open("sqlite", filepath.Join(t.TempDir(), "officewars.db"))
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := initIdentity(context.Background()); err != nil {
		t.Fatal(err)
	}
	StartedAt = time.Now()
	return newRouter()
}

// Helper to make plain text requests
func executeRequest(h http.Handler, method, path, body string, header ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "text/plain")
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func expectCode(t *testing.T, rr *httptest.ResponseRecorder, code int) {
	t.Helper()
	if rr.Code != code {
		t.Fatalf("status %d, want %d; body %q", rr.Code, code, rr.Body.String())
	}
}

func newTestGame(t *testing.T, h http.Handler, name string) string {
	t.Helper()
	rr := executeRequest(h, "POST", "/games", name)
	expectCode(t, rr, 200)
	id := rr.Header().Get("X-Game-ID")
	if len(id) != 6 {
		t.Fatalf("game id %q", id)
	}
	return id
}

func register(t *testing.T, h http.Handler, id, color, name string) string {
	t.Helper()
	rr := executeRequest(h, "POST", "/register", id+" "+color+" "+name)
	expectCode(t, rr, 200)
	lines := strings.Split(rr.Body.String(), "\n")
	if len(lines) != 3 || lines[0] != id || len(lines[1]) != 6 {
		t.Fatalf("register reply %q", rr.Body.String())
	}
	return lines[1]
}

// botOrder picks a legal order for player from the stored game.
func botOrder(t *testing.T, id string, player int) types.Order {
	t.Helper()
	rec, err := db.LoadGame(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	engine.StepGameHistoryLatest(rec.Game)
	orders := game.BotOrders(rec.Game, player, rand.New(rand.NewPCG(7, 7)))
	if len(orders) == 0 {
		t.Fatalf("player %d has no legal order", player)
	}
	return orders[0]
}

func orderBody(o types.Order, id, secret string) string {
	return strconv.Itoa(int(o.Type)) + "\n" + strconv.Itoa(o.From) + "\n" + strconv.Itoa(o.To) + "\n" + id + "\n" + secret + "\n"
}

func TestGameLifecycle(t *testing.T) {
	h := setupTestEnv(t)
	ctx := context.Background()

	id := newTestGame(t, h, "third floor")
	rr := executeRequest(h, "GET", "/games", "")
	expectCode(t, rr, 200)
	listed, err := codec.DecodeList(rr.Body)
	if err != nil || len(listed) != 1 || listed[0].ID != id || listed[0].Meta != types.PreGame {
		t.Fatalf("listing = %v, %v", listed, err)
	}

	secrets := []string{
		register(t, h, id, "#ff0000", "Alice"),
		register(t, h, id, "#0000ff", "Bob the Builder"),
	}
	rr = executeRequest(h, "POST", "/start", id)
	expectCode(t, rr, 200)
	if rr.Body.String() != "Start OK.\n" {
		t.Fatalf("start reply %q", rr.Body.String())
	}

	// Each player's view holds only their own secret.
	rr = executeRequest(h, "POST", "/state/"+id, secrets[0])
	expectCode(t, rr, 200)
	view, err := codec.Unmarshal(rr.Body.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	if view.Players[0].Secret != secrets[0] || view.Players[1].Secret != types.Redacted {
		t.Fatalf("player view secrets %q %q", view.Players[0].Secret, view.Players[1].Secret)
	}
	if view.Players[1].Name != "Bob the Builder" || view.Meta != types.InGame {
		t.Fatalf("view %+v", view.Players)
	}

	first := botOrder(t, id, 0)
	rr = executeRequest(h, "POST", "/orders", orderBody(first, id, secrets[0]))
	expectCode(t, rr, 200)
	view, err = codec.Unmarshal(rr.Body.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	if orders := view.OpenTurn().Orders; len(orders) != 1 || orders[0] != first {
		t.Fatalf("open orders %v, want %v", orders, first)
	}

	// Player 1 has not ordered yet.
	if ok, err := tickGame(ctx, id, false); ok || err != nil {
		t.Fatalf("tick before all ordered: %v, %v", ok, err)
	}
	rr = executeRequest(h, "POST", "/orders", orderBody(botOrder(t, id, 1), id, secrets[1]))
	expectCode(t, rr, 200)
	if n, err := tickDueGames(ctx); n != 1 || err != nil {
		t.Fatalf("tickDueGames = %d, %v", n, err)
	}

	rec, err := db.LoadGame(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Game.TurnCount() != 2 || len(rec.Game.Turns[0].Orders) != 2 {
		t.Fatalf("turns %d", rec.Game.TurnCount())
	}
	acts, err := db.Actions(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	var kinds []string
	for _, a := range acts {
		kinds = append(kinds, a.Kind)
	}
	if got := strings.Join(kinds, " "); got != "create join join start order order tick" {
		t.Fatalf("journal %q", got)
	}
}

func TestHistoryEndpoint(t *testing.T) {
	h := setupTestEnv(t)
	id := newTestGame(t, h, "history")
	register(t, h, id, "#ff0000", "Alice")
	register(t, h, id, "#00ff00", "Bob")
	expectCode(t, executeRequest(h, "POST", "/start", id), 200)

	rec, err := db.LoadGame(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	rr := executeRequest(h, "GET", "/history/"+id+"?turn=0", "")
	expectCode(t, rr, 200)
	lines := strings.Split(strings.TrimSuffix(rr.Body.String(), "\n"), "\n")
	if lines[0] != "0" || lines[1] != strconv.Itoa(rec.Game.NodeCount()) {
		t.Fatalf("header %q", lines[:2])
	}
	for n, o := range rec.Game.ControlledByInitial {
		if lines[2+n] != strconv.FormatUint(uint64(o.Wire()), 10) {
			t.Fatalf("node %d owner %s, want %d", n, lines[2+n], o.Wire())
		}
	}

	expectCode(t, executeRequest(h, "GET", "/history/"+id+"?turn=-1", ""), 400)
	expectCode(t, executeRequest(h, "GET", "/history/NOSUCH", ""), 404)
}

func TestRejections(t *testing.T) {
	h := setupTestEnv(t)
	id := newTestGame(t, h, "rejections")
	alice := register(t, h, id, "#ff0000", "Alice")

	expectCode(t, executeRequest(h, "POST", "/games", ""), 400)
	expectCode(t, executeRequest(h, "POST", "/register", id+" blue Carol"), 400)
	expectCode(t, executeRequest(h, "POST", "/register", id+" #00ff00 C"), 400)
	expectCode(t, executeRequest(h, "POST", "/register", "ZZZZZZ #00ff00 Carol"), 404)
	expectCode(t, executeRequest(h, "POST", "/start", id), 409) // one player
	expectCode(t, executeRequest(h, "POST", "/orders", "0\n0\n1\n"+id+"\n"+alice+"\n"), 409)

	register(t, h, id, "#00ff00", "Bob")
	expectCode(t, executeRequest(h, "POST", "/start", id), 200)
	expectCode(t, executeRequest(h, "POST", "/start", id), 409)
	expectCode(t, executeRequest(h, "POST", "/register", id+" #0000ff Late"), 409)

	o := botOrder(t, id, 0)
	expectCode(t, executeRequest(h, "POST", "/orders", orderBody(o, id, "WRONGS")), 403)
	expectCode(t, executeRequest(h, "POST", "/orders", "7\n0\n1\n"+id+"\n"+alice+"\n"), 400)
	expectCode(t, executeRequest(h, "POST", "/orders", "x\n"), 400)

	expectCode(t, executeRequest(h, "GET", "/state/nope", ""), 404)
	expectCode(t, executeRequest(h, "POST", "/tick", id), 403)
	expectCode(t, executeRequest(h, "POST", "/tick", id, "Authorization", "Bearer nope"), 403)
	expectCode(t, executeRequest(h, "POST", "/games", strings.Repeat("x", MaxBodyBytes+1)), 413)
	expectCode(t, executeRequest(h, "POST", "/games", "x", "Content-Type", "application/xml"), 415)
	expectCode(t, executeRequest(h, "DELETE", "/games", ""), 405)

	// Nothing rejected above reached the record.
	rec, err := db.LoadGame(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Game.PlayerCount() != 2 || len(rec.Game.OpenTurn().Orders) != 0 {
		t.Fatal("rejected request changed the game")
	}
}

func TestForcedTickAndEtag(t *testing.T) {
	h := setupTestEnv(t)
	id := newTestGame(t, h, "etag")
	register(t, h, id, "#ff0000", "Alice")
	register(t, h, id, "#00ff00", "Bob")
	expectCode(t, executeRequest(h, "POST", "/start", id), 200)

	rr := executeRequest(h, "POST", "/state/"+id, "")
	expectCode(t, rr, 200)
	etag := rr.Header().Get("ETag")
	expectCode(t, executeRequest(h, "POST", "/state/"+id, "", "If-None-Match", etag), 304)

	rr = executeRequest(h, "POST", "/tick", id, "Authorization", "Bearer letmein")
	expectCode(t, rr, 200)
	rr = executeRequest(h, "POST", "/state/"+id, "", "If-None-Match", etag)
	expectCode(t, rr, 200)
	g, err := codec.Unmarshal(rr.Body.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	if g.TurnCount() != 2 {
		t.Fatalf("forced tick left %d turns", g.TurnCount())
	}

	rr = executeRequest(h, "POST", "/tick", "", "Authorization", "Bearer letmein")
	expectCode(t, rr, 200)
	if rr.Body.String() != "0\n" {
		t.Fatalf("nobody ordered, yet ticked %q", rr.Body.String())
	}
}

func TestStatus(t *testing.T) {
	h := setupTestEnv(t)
	newTestGame(t, h, "one")
	rr := executeRequest(h, "GET", "/api/status", "")
	expectCode(t, rr, 200)
	body := rr.Body.String()
	if !strings.Contains(body, `"games":1`) || !strings.Contains(body, ServerUUID) || !strings.Contains(body, "all-ordered") {
		t.Fatalf("status %s", body)
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Fatal("no request id")
	}
}

func TestRateLimit(t *testing.T) {
	h := setupTestEnv(t)
	Config.RateLimit, Config.RateBurst = 0.001, 2
	expectCode(t, executeRequest(h, "GET", "/games", ""), 200)
	expectCode(t, executeRequest(h, "GET", "/games", ""), 200)
	expectCode(t, executeRequest(h, "GET", "/games", ""), 429)
}

func TestSweepLimitersDropsIdleClients(t *testing.T) {
	setupTestEnv(t)
	getLimiter("10.0.0.1")
	getLimiter("10.0.0.2")

	ipLock.Lock()
	ipLimiters["10.0.0.1"].lastSeen = time.Now().Add(-time.Hour)
	ipLock.Unlock()

	if n := sweepLimiters(time.Now().Add(-time.Minute)); n != 1 {
		t.Fatalf("evicted %d, want 1", n)
	}
	ipLock.Lock()
	_, stale := ipLimiters["10.0.0.1"]
	_, fresh := ipLimiters["10.0.0.2"]
	size := len(ipLimiters)
	ipLock.Unlock()
	if stale || !fresh || size != 1 {
		t.Fatalf("after sweep: stale=%v fresh=%v size=%d", stale, fresh, size)
	}

	lim := getLimiter("10.0.0.1")
	if lim == nil || sweepLimiters(time.Now().Add(-time.Minute)) != 0 {
		t.Fatal("returning client should get a fresh limiter that survives the sweep")
	}
}

func TestConcurrentRegistrations(t *testing.T) {
	h := setupTestEnv(t)
	id := newTestGame(t, h, "crowd")

	var wg sync.WaitGroup
	codes := make(chan int, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rr := executeRequest(h, "POST", "/register", id+" #808080 player"+strconv.Itoa(i))
			codes <- rr.Code
		}()
	}
	wg.Wait()
	close(codes)
	for c := range codes {
		if c != 200 {
			t.Fatalf("registration failed with %d", c)
		}
	}
	rec, err := db.LoadGame(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Game.PlayerCount() != 8 {
		t.Fatalf("%d players registered", rec.Game.PlayerCount())
	}
	if gameLocks.Len() != 0 {
		t.Fatal("lock table not drained")
	}
}

func TestParseRequests(t *testing.T) {
	req, err := parseOrder("1\r\n4\r\n9\r\nABCDEF\r\nQWERTY\r\n")
	if err != nil || req.Type != types.Support || req.From != 4 || req.To != 9 || req.GameID != "ABCDEF" || req.Secret != "QWERTY" {
		t.Fatalf("parseOrder = %+v, %v", req, err)
	}
	for _, bad := range []string{"", "1\n2\n3\nABCDEF\n", "a\n2\n3\nABCDEF\nQWERTY\n", "1\n2\n3\nabc\nQWERTY\n"} {
		if _, err := parseOrder(bad); !errors.Is(err, errBadRequest) {
			t.Errorf("parseOrder(%q) = %v", bad, err)
		}
	}

	reg, err := parseRegister("KWFEUF #0000ff Their Name\n")
	if err != nil || reg.GameID != "KWFEUF" || reg.Color != "#0000ff" || reg.Name != "Their Name" {
		t.Fatalf("parseRegister = %+v, %v", reg, err)
	}
	for _, bad := range []string{"KWFEUF #0000ff", "kwfeuf #0000ff Name"} {
		if _, err := parseRegister(bad); !errors.Is(err, errBadRequest) {
			t.Errorf("parseRegister(%q) = %v", bad, err)
		}
	}
}
