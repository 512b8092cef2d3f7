package storage

// Package storage persists highlight state across restarts.
//
// It holds:
//   - Triggers (owner id + phrase, insertion-ordered per owner)
//   - Profiles (receive flag, grace timeout, blocklist)
