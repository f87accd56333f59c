package main

import (
	"math/rand/v2"
	"sync"
	"time"

	"go.uber.org/zap"

	"officewars/pkg/game"
	"officewars/pkg/store"
	"officewars/pkg/types"
)

// --- Configuration ---

// config is read from OFFICEWARS_* environment variables, after an optional
// .env file has been loaded.
type config struct {
	Addr         string        `env:"OFFICEWARS_ADDR" envDefault:":8080"`
	DBDriver     string        `env:"OFFICEWARS_DB_DRIVER" envDefault:"sqlite3"`
	DBPath       string        `env:"OFFICEWARS_DB_PATH" envDefault:"./data/officewars.db"`
	LogDir       string        `env:"OFFICEWARS_LOG_DIR" envDefault:"./logs"`
	LogLevel     string        `env:"OFFICEWARS_LOG_LEVEL" envDefault:"info"`
	RulesPath    string        `env:"OFFICEWARS_RULES"`
	TickPolicy   string        `env:"OFFICEWARS_TICK_POLICY" envDefault:"all-ordered"`
	TickInterval time.Duration `env:"OFFICEWARS_TICK_INTERVAL" envDefault:"5s"`
	AdminToken   string        `env:"OFFICEWARS_ADMIN_TOKEN"`
	RateLimit    float64       `env:"OFFICEWARS_RATE_LIMIT" envDefault:"10"`
	RateBurst    int           `env:"OFFICEWARS_RATE_BURST" envDefault:"20"`
	LimiterIdle  time.Duration `env:"OFFICEWARS_LIMITER_IDLE" envDefault:"10m"`
}

const (
	// MaxBodyBytes caps every request body.
	MaxBodyBytes = 1024
	// createTries bounds the search for an unused game id.
	createTries = 16
)

var (
	// Infrastructure
	db  *store.Store
	Log *zap.SugaredLogger

	// Identity
	ServerUUID string
	StartedAt  time.Time

	Config config

	// Game
	engine     *game.Engine
	tickPolicy game.TickPolicy

	// Locking
	gameLocks = newLockTable()

	// Rate Limiting
	ipLimiters = make(map[string]*ipLimiter)
	ipLock     sync.Mutex
)

// newRand returns a generator for one request. Galaxy generation and color
// resampling are not reproducible across requests.
func newRand() *rand.Rand {
	return rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
}

// setupGame installs the engine and tick policy used by every handler.
func setupGame(rules types.Rules, policy string) error {
	p, err := game.ParseTickPolicy(policy)
	if err != nil {
		return err
	}
	engine = game.NewEngine(rules)
	tickPolicy = p
	return nil
}
