package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": dependency-free file backend (snapshot + jsonl journal)
//   - "sqlite": SQLite database file (optional build tag)
//
// If Driver is empty or "none", storage is disabled and the engine runs
// purely in memory.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// TriggerRecord is one persisted trigger phrase.
type TriggerRecord struct {
	OwnerID   int64     `json:"owner_id"`
	Phrase    string    `json:"phrase"`
	CreatedAt time.Time `json:"created_at"`
}

// ProfileRecord is one owner's persisted settings.
type ProfileRecord struct {
	OwnerID           int64   `json:"owner_id"`
	ReceiveHighlights bool    `json:"receive_highlights"`
	TimeoutMinutes    int     `json:"timeout_minutes"`
	Blocklist         []int64 `json:"blocklist,omitempty"`
}
