package storage

import (
	"context"
	"errors"
	"strings"

	logx "beacon/pkg/logx"
)

// Store is the persistence API used by the engine and the router.
//
// Mutations are expected to be durable when they return: the engine only
// touches its in-memory structures after the store call succeeds.
type Store interface {
	InsertTrigger(ctx context.Context, ownerID int64, phrase string) error
	DeleteTriggers(ctx context.Context, ownerID int64, phrases []string) error
	LoadTriggers(ctx context.Context) ([]TriggerRecord, error)

	UpsertProfile(ctx context.Context, p ProfileRecord) error
	DeleteProfile(ctx context.Context, ownerID int64) error
	LoadProfiles(ctx context.Context) ([]ProfileRecord, error)

	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
