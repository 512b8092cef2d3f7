package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	logx "beacon/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.snapshot.json (periodic snapshot of full state)
//   - <prefix>.journal.jsonl (append-only journal of mutations)
//
// The journal is periodically compacted into the snapshot.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	snapshotPath string
	journalFile  *os.File

	triggers []TriggerRecord
	profiles map[int64]ProfileRecord

	writes int
}

type journalRecord struct {
	Op      string         `json:"op"` // trigger_add | trigger_del | profile_put | profile_del
	Trigger *TriggerRecord `json:"trigger,omitempty"`
	Profile *ProfileRecord `json:"profile,omitempty"`
	OwnerID int64          `json:"owner_id,omitempty"`
	Phrases []string       `json:"phrases,omitempty"`
}

type snapshot struct {
	Triggers []TriggerRecord `json:"triggers"`
	Profiles []ProfileRecord `json:"profiles"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	snapPath := prefix + ".snapshot.json"
	journalPath := prefix + ".journal.jsonl"

	s := &fileStore{
		log:          log,
		snapshotPath: snapPath,
		profiles:     map[int64]ProfileRecord{},
	}
	_ = s.loadSnapshot(snapPath)
	_ = s.replayJournal(journalPath)

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	s.journalFile = jf
	return s, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journalFile == nil {
		return nil
	}
	err := s.compactLocked()
	cerr := s.journalFile.Close()
	s.journalFile = nil
	if err != nil {
		return err
	}
	return cerr
}

func (s *fileStore) InsertTrigger(ctx context.Context, ownerID int64, phrase string) error {
	_ = ctx
	rec := TriggerRecord{OwnerID: ownerID, Phrase: phrase, CreatedAt: time.Now()}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.appendLocked(journalRecord{Op: "trigger_add", Trigger: &rec}); err != nil {
		return err
	}
	s.triggers = append(s.triggers, rec)
	return nil
}

func (s *fileStore) DeleteTriggers(ctx context.Context, ownerID int64, phrases []string) error {
	_ = ctx
	if len(phrases) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.appendLocked(journalRecord{Op: "trigger_del", OwnerID: ownerID, Phrases: phrases}); err != nil {
		return err
	}
	s.applyTriggerDelete(ownerID, phrases)
	return nil
}

func (s *fileStore) LoadTriggers(ctx context.Context) ([]TriggerRecord, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	out := append([]TriggerRecord(nil), s.triggers...)
	return out, nil
}

func (s *fileStore) UpsertProfile(ctx context.Context, p ProfileRecord) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.appendLocked(journalRecord{Op: "profile_put", Profile: &p}); err != nil {
		return err
	}
	s.profiles[p.OwnerID] = p
	return nil
}

func (s *fileStore) DeleteProfile(ctx context.Context, ownerID int64) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.appendLocked(journalRecord{Op: "profile_del", OwnerID: ownerID}); err != nil {
		return err
	}
	delete(s.profiles, ownerID)
	// A deleted profile takes its triggers with it.
	s.applyOwnerDelete(ownerID)
	return nil
}

func (s *fileStore) LoadProfiles(ctx context.Context) ([]ProfileRecord, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ProfileRecord, 0, len(s.profiles))
	for _, p := range s.profiles {
		out = append(out, p)
	}
	return out, nil
}

func (s *fileStore) appendLocked(r journalRecord) error {
	if s.journalFile == nil {
		return errors.New("journal closed")
	}
	enc := json.NewEncoder(s.journalFile)
	if err := enc.Encode(r); err != nil {
		return err
	}
	s.writes++
	if s.writes%1000 == 0 {
		// Best-effort compact.
		if err := s.compactLocked(); err != nil {
			s.log.Debug("storage compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) applyTriggerDelete(ownerID int64, phrases []string) {
	del := make(map[string]struct{}, len(phrases))
	for _, p := range phrases {
		del[p] = struct{}{}
	}
	kept := s.triggers[:0]
	for _, t := range s.triggers {
		if t.OwnerID == ownerID {
			if _, ok := del[t.Phrase]; ok {
				continue
			}
		}
		kept = append(kept, t)
	}
	s.triggers = kept
}

func (s *fileStore) applyOwnerDelete(ownerID int64) {
	kept := s.triggers[:0]
	for _, t := range s.triggers {
		if t.OwnerID == ownerID {
			continue
		}
		kept = append(kept, t)
	}
	s.triggers = kept
}

func (s *fileStore) compactLocked() error {
	snap := snapshot{Triggers: s.triggers}
	for _, p := range s.profiles {
		snap.Profiles = append(snap.Profiles, p)
	}

	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(snap); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}
	// Truncate journal.
	if s.journalFile != nil {
		if err := s.journalFile.Truncate(0); err != nil {
			return err
		}
		if _, err := s.journalFile.Seek(0, 2); err != nil {
			return err
		}
	}
	return nil
}

func (s *fileStore) loadSnapshot(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var snap snapshot
	if err := json.NewDecoder(f).Decode(&snap); err != nil {
		return err
	}
	s.triggers = snap.Triggers
	for _, p := range snap.Profiles {
		s.profiles[p.OwnerID] = p
	}
	return nil
}

func (s *fileStore) replayJournal(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var r journalRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			continue
		}
		switch r.Op {
		case "trigger_add":
			if r.Trigger != nil {
				s.triggers = append(s.triggers, *r.Trigger)
			}
		case "trigger_del":
			s.applyTriggerDelete(r.OwnerID, r.Phrases)
		case "profile_put":
			if r.Profile != nil {
				s.profiles[r.Profile.OwnerID] = *r.Profile
			}
		case "profile_del":
			delete(s.profiles, r.OwnerID)
			s.applyOwnerDelete(r.OwnerID)
		}
	}
	return sc.Err()
}
