package main

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"officewars/pkg/store"
)

func initDB(driver, path string) error {
	s, err := store.Open(driver, path)
	if err != nil {
		return err
	}
	db = s
	return nil
}

// initIdentity loads the server UUID, minting one on first boot.
func initIdentity(ctx context.Context) error {
	id, err := db.Meta(ctx, "server_uuid")
	if err != nil {
		return fmt.Errorf("read identity: %w", err)
	}
	if id != "" {
		ServerUUID = id
		Log.Infow("identity loaded", "uuid", ServerUUID)
		return nil
	}

	ServerUUID = uuid.NewString()
	if err := db.SetMeta(ctx, "server_uuid", ServerUUID); err != nil {
		return fmt.Errorf("store identity: %w", err)
	}
	if err := db.SetMeta(ctx, "created_at", time.Now().UTC().Format(time.RFC3339)); err != nil {
		return fmt.Errorf("store identity: %w", err)
	}
	Log.Infow("new server identity", "uuid", ServerUUID)
	return nil
}
