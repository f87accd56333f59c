package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"officewars/pkg/types"
)

func initConfig() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	if err := env.Parse(&Config); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "officewars:", err)
		os.Exit(1)
	}
}

func run() error {
	if err := initConfig(); err != nil {
		return err
	}
	logger, err := setupLogging(Config.LogDir, Config.LogLevel)
	if err != nil {
		return err
	}
	Log = logger
	defer Log.Sync()

	rules, err := types.LoadRules(Config.RulesPath)
	if err != nil {
		return err
	}
	if err := setupGame(rules, Config.TickPolicy); err != nil {
		return err
	}
	if err := initDB(Config.DBDriver, Config.DBPath); err != nil {
		return err
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := initIdentity(ctx); err != nil {
		return err
	}
	StartedAt = time.Now()

	Log.Infow("OFFICEWARS BOOT SEQUENCE",
		"db", Config.DBPath, "driver", Config.DBDriver,
		"tick_policy", tickPolicy.Name(), "tick_interval", Config.TickInterval,
		"admin_api", Config.AdminToken != "")

	server := &http.Server{
		Addr:         Config.Addr,
		Handler:      newRouter(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		Log.Infow("listening", "uuid", ServerUUID, "addr", Config.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return runGameLoop(gctx, Config.TickInterval)
	})
	g.Go(func() error {
		return runLimiterSweep(gctx, Config.LimiterIdle)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		Log.Infow("shutting down")
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
