//go:build sqlite
// +build sqlite

package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "beacon/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) InsertTrigger(ctx context.Context, ownerID int64, phrase string) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO triggers(owner_id, phrase, created_at) VALUES(?,?,?)`,
		ownerID, phrase, time.Now().Format(time.RFC3339Nano),
	)
	return err
}

func (s *sqliteStore) DeleteTriggers(ctx context.Context, ownerID int64, phrases []string) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if len(phrases) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	for _, p := range phrases {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM triggers WHERE owner_id = ? AND phrase = ?`, ownerID, p); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func (s *sqliteStore) LoadTriggers(ctx context.Context) ([]TriggerRecord, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT owner_id, phrase, created_at FROM triggers ORDER BY created_at, rowid`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TriggerRecord
	for rows.Next() {
		var rec TriggerRecord
		var at string
		if err := rows.Scan(&rec.OwnerID, &rec.Phrase, &at); err != nil {
			return nil, err
		}
		rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, at)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *sqliteStore) UpsertProfile(ctx context.Context, p ProfileRecord) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	bl, err := json.Marshal(p.Blocklist)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO profiles(owner_id, receive_highlights, timeout_minutes, blocklist)
		 VALUES(?,?,?,?)
		 ON CONFLICT(owner_id) DO UPDATE SET
		   receive_highlights=excluded.receive_highlights,
		   timeout_minutes=excluded.timeout_minutes,
		   blocklist=excluded.blocklist`,
		p.OwnerID, boolToInt(p.ReceiveHighlights), p.TimeoutMinutes, string(bl),
	)
	return err
}

func (s *sqliteStore) DeleteProfile(ctx context.Context, ownerID int64) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM profiles WHERE owner_id = ?`, ownerID); err != nil {
		_ = tx.Rollback()
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM triggers WHERE owner_id = ?`, ownerID); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *sqliteStore) LoadProfiles(ctx context.Context) ([]ProfileRecord, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT owner_id, receive_highlights, timeout_minutes, blocklist FROM profiles`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ProfileRecord
	for rows.Next() {
		var rec ProfileRecord
		var recv int
		var bl string
		if err := rows.Scan(&rec.OwnerID, &recv, &rec.TimeoutMinutes, &bl); err != nil {
			return nil, err
		}
		rec.ReceiveHighlights = recv != 0
		if err := json.Unmarshal([]byte(bl), &rec.Blocklist); err != nil {
			s.log.Debug("bad blocklist json; resetting", logx.Int64("owner", rec.OwnerID))
			rec.Blocklist = nil
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
