package config

import (
	"errors"
	"strings"
	"time"
)

type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	Storage   *StorageConfig  `json:"storage,omitempty"`
	Highlight HighlightConfig `json:"highlight"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// PollTimeout is a Go duration string (e.g. "10s").
	PollTimeout string `json:"poll_timeout,omitempty"`
	// UpdateBuffer sizes the inbound update channel.
	UpdateBuffer int `json:"update_buffer,omitempty"`
}

type LoggingConfig struct {
	Level   string        `json:"level,omitempty"` // TRACE..ERROR, default INFO
	Console bool          `json:"console"`
	File    FileLogConfig `json:"file,omitempty"`
}

type FileLogConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

// StorageConfig controls the persistence layer.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./beacon_store" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// HighlightConfig controls the notification engine.
//
// All durations are Go duration strings (e.g. "5s", "1m").
//
// Defaults (when fields are omitted/zero):
//   - dispatch_interval: "5s"
//   - rate_per_sec: 5
//   - history_depth: 64
//   - context_window: 6
//   - default_timeout_minutes: 1
type HighlightConfig struct {
	// DispatchInterval is the fixed cadence of the queue drain.
	DispatchInterval string `json:"dispatch_interval,omitempty"`
	// RatePerSec caps outbound notification sends.
	RatePerSec int `json:"rate_per_sec,omitempty"`
	// HistoryDepth is how many recent messages are retained per channel
	// for context rendering.
	HistoryDepth int `json:"history_depth,omitempty"`
	// ContextWindow is how many surrounding messages a notification shows.
	ContextWindow int `json:"context_window,omitempty"`
	// DefaultTimeoutMinutes seeds the grace window for profiles that have
	// not chosen their own timeout.
	DefaultTimeoutMinutes int `json:"default_timeout_minutes,omitempty"`
}

// DispatchIntervalOrDefault parses the dispatch cadence.
func (h HighlightConfig) DispatchIntervalOrDefault() (time.Duration, error) {
	return ParseDurationOrDefault("highlight.dispatch_interval", h.DispatchInterval, 5*time.Second)
}

// Validate rejects configs the bot cannot start with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Telegram.Token) == "" {
		return errors.New("telegram.token is required")
	}
	if _, err := ParseDurationField("telegram.poll_timeout", c.Telegram.PollTimeout); err != nil {
		return err
	}
	if _, err := c.Highlight.DispatchIntervalOrDefault(); err != nil {
		return err
	}
	if c.Storage != nil {
		if _, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout); err != nil {
			return err
		}
	}
	return nil
}
