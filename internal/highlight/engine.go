package highlight

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/time/rate"

	"beacon/internal/eventbus"
	"beacon/internal/storage"
	"beacon/internal/transport"
	logx "beacon/pkg/logx"
)

// Config controls the engine.
//
// Defaults (when fields are omitted/zero):
//   - DispatchInterval: 5s
//   - RatePerSec: 5
//   - HistoryDepth: 64
//   - ContextWindow: 6
//   - DefaultTimeoutMinutes: 1
type Config struct {
	DispatchInterval      time.Duration
	RatePerSec            int
	HistoryDepth          int
	ContextWindow         int
	DefaultTimeoutMinutes int
}

func (c Config) withDefaults() Config {
	if c.DispatchInterval <= 0 {
		c.DispatchInterval = 5 * time.Second
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = 5
	}
	if c.HistoryDepth <= 0 {
		c.HistoryDepth = 64
	}
	if c.ContextWindow <= 0 {
		c.ContextWindow = 6
	}
	if c.DefaultTimeoutMinutes <= 0 {
		c.DefaultTimeoutMinutes = 1
	}
	return c
}

// Profile is one owner's in-memory settings.
//
// Blocklist is copy-on-write: Block/Unblock install a fresh map, so a map
// reference read under the engine lock stays safe to scan afterwards.
type Profile struct {
	OwnerID           int64
	ReceiveHighlights bool
	TimeoutMinutes    int
	Blocklist         map[int64]struct{}
}

// Engine is the highlight notification service: it scans inbound messages
// against subscribed triggers, suppresses redundant notifications for
// users active in a conversation, aggregates matches per channel and
// recipient, and delivers them on a fixed cadence.
//
// One mutex guards the index, trackers, queue and history; each match's
// eligibility pipeline runs as its own goroutine so a slow membership
// lookup never blocks ingestion of later messages.
type Engine struct {
	mu sync.Mutex

	cfg     Config
	log     logx.Logger
	bus     eventbus.Bus
	store   storage.Store // nil means in-memory only
	members MemberDirectory
	deliver Deliverer

	index    *Index
	grace    map[int64]*TimedSet
	queue    *Queue
	history  *HistoryRing
	profiles map[int64]*Profile

	limiter *rate.Limiter
	cron    *cron.Cron
	entry   cron.EntryID

	runCtx    context.Context
	runCancel context.CancelFunc
	pipeWG    sync.WaitGroup
	running   bool
}

func New(cfg Config, store storage.Store, members MemberDirectory, deliver Deliverer, log logx.Logger, bus eventbus.Bus) *Engine {
	cfg = cfg.withDefaults()
	return &Engine{
		cfg:      cfg,
		log:      log,
		bus:      bus,
		store:    store,
		members:  members,
		deliver:  deliver,
		index:    NewIndex(),
		grace:    map[int64]*TimedSet{},
		queue:    NewQueue(),
		history:  NewHistoryRing(cfg.HistoryDepth),
		profiles: map[int64]*Profile{},
		limiter:  rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
	}
}

// Start loads persisted state and begins the dispatch cadence.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return nil
	}
	e.mu.Unlock()

	var (
		trigRecs []storage.TriggerRecord
		profRecs []storage.ProfileRecord
		err      error
	)
	if e.store != nil {
		if trigRecs, err = e.store.LoadTriggers(ctx); err != nil {
			return fmt.Errorf("load triggers: %w", err)
		}
		if profRecs, err = e.store.LoadProfiles(ctx); err != nil {
			return fmt.Errorf("load profiles: %w", err)
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return nil
	}

	for _, rec := range profRecs {
		p := profileFromRecord(rec)
		e.profiles[p.OwnerID] = p
		e.grace[p.OwnerID] = NewTimedSet(e.graceTTLLocked(p.OwnerID))
	}
	skipped := 0
	for _, rec := range trigRecs {
		t, terr := NewTrigger(rec.OwnerID, rec.Phrase)
		if terr != nil {
			skipped++
			continue
		}
		e.index.Append(t)
	}

	e.runCtx, e.runCancel = context.WithCancel(ctx)
	runCtx := e.runCtx

	c := cron.New()
	id, cerr := c.AddFunc(fmt.Sprintf("@every %s", e.cfg.DispatchInterval), func() {
		e.dispatchTick(runCtx)
	})
	if cerr != nil {
		e.runCancel()
		e.runCancel = nil
		return fmt.Errorf("schedule dispatcher: %w", cerr)
	}
	e.cron, e.entry = c, id
	c.Start()
	e.running = true

	if !e.log.IsZero() {
		e.log.Info("engine started",
			logx.Int("triggers", len(e.index.Flattened())),
			logx.Int("profiles", len(e.profiles)),
			logx.Int("skipped", skipped),
			logx.Duration("dispatch_interval", e.cfg.DispatchInterval))
	}
	return nil
}

// Stop cancels the dispatch cadence and in-flight pipelines. Queued but
// undelivered entries are discarded: delivery is at-most-once.
func (e *Engine) Stop(ctx context.Context) {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	c := e.cron
	e.cron = nil
	cancel := e.runCancel
	e.runCancel = nil
	e.queue = NewQueue()
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if c != nil {
		stopCtx := c.Stop()
		select {
		case <-stopCtx.Done():
		case <-ctx.Done():
		}
	}

	done := make(chan struct{})
	go func() {
		e.pipeWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
	if !e.log.IsZero() {
		e.log.Info("engine stopped")
	}
}

// Apply swaps config at runtime. A changed dispatch interval reschedules
// the cadence; the rate limit, context window, and default timeout apply
// to subsequent work. HistoryDepth sizes the transcript ring in New and is
// not resized here.
func (e *Engine) Apply(cfg Config) {
	cfg = cfg.withDefaults()

	e.mu.Lock()
	defer e.mu.Unlock()
	old := e.cfg
	e.cfg = cfg
	e.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)

	if e.running && e.cron != nil && old.DispatchInterval != cfg.DispatchInterval {
		e.cron.Remove(e.entry)
		runCtx := e.runCtx
		id, err := e.cron.AddFunc(fmt.Sprintf("@every %s", cfg.DispatchInterval), func() {
			e.dispatchTick(runCtx)
		})
		if err != nil {
			if !e.log.IsZero() {
				e.log.Error("reschedule dispatcher failed", logx.Err(err))
			}
			return
		}
		e.entry = id
	}
}

// HandleMessage is the ingest path for one inbound chat message: record it
// for context, refresh the author's grace window, scan the flattened
// trigger list, and launch an eligibility pipeline per surviving match.
func (e *Engine) HandleMessage(m transport.Message) {
	type suppressedMatch struct {
		owner  int64
		phrase string
	}

	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.history.Record(m)

	// A user who just spoke is present; start their grace window for this
	// channel. Only trigger owners need tracking.
	if e.index.Count(m.AuthorID) > 0 {
		e.trackerLocked(m.AuthorID).Add(m.ChannelID)
	}

	var matched []*Trigger
	var suppressed []suppressedMatch
	for _, t := range e.index.Flattened() {
		if !t.Matches(m.Text) {
			continue
		}
		if tr, ok := e.grace[t.OwnerID]; ok && tr.Contains(m.ChannelID) {
			suppressed = append(suppressed, suppressedMatch{owner: t.OwnerID, phrase: t.Phrase})
			continue
		}
		matched = append(matched, t)
	}
	runCtx := e.runCtx
	e.mu.Unlock()

	for _, s := range suppressed {
		e.publishEvent(eventbus.TypeHighlightSuppressed, s.owner, m, s.phrase, nil)
	}
	for _, t := range matched {
		t := t
		e.pipeWG.Add(1)
		go func() {
			defer e.pipeWG.Done()
			defer func() {
				if r := recover(); r != nil {
					e.log.Error("panic in highlight pipeline",
						logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
				}
			}()
			e.runPipeline(runCtx, t, m)
		}()
	}
}

// runPipeline carries one matched (trigger, message) pair through the
// eligibility filter and, if it survives, merges it into the queue. An
// error anywhere affects this pair only.
func (e *Engine) runPipeline(ctx context.Context, t *Trigger, m transport.Message) {
	if ctx == nil {
		ctx = context.Background()
	}
	if ctx.Err() != nil {
		return
	}
	if !e.eligible(ctx, t, m) {
		return
	}

	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.queue.Upsert(t, m)
	e.mu.Unlock()

	e.publishEvent(eventbus.TypeHighlightQueued, t.OwnerID, m, t.Phrase, nil)
}

// ---- Trigger lifecycle ----

// AddTrigger validates, persists, and indexes a new trigger. The index is
// only touched after persistence succeeds.
func (e *Engine) AddTrigger(ctx context.Context, ownerID int64, phrase string) (*Trigger, error) {
	if err := validatePhrase(phrase); err != nil {
		return nil, err
	}

	e.mu.Lock()
	if e.index.Count(ownerID) >= MaxTriggers {
		e.mu.Unlock()
		return nil, errQuotaExceeded()
	}
	if e.index.HasPhrase(ownerID, phrase) {
		e.mu.Unlock()
		return nil, errDuplicatePhrase()
	}
	_, hasProfile := e.profiles[ownerID]
	e.mu.Unlock()

	t, err := NewTrigger(ownerID, phrase)
	if err != nil {
		return nil, err
	}

	if !hasProfile {
		if err := e.registerProfile(ctx, ownerID); err != nil {
			return nil, err
		}
	}
	if e.store != nil {
		if err := e.store.InsertTrigger(ctx, ownerID, phrase); err != nil {
			return nil, err
		}
	}

	e.mu.Lock()
	e.index.Append(t)
	e.mu.Unlock()
	return t, nil
}

// RemoveTriggers deletes triggers by 1-based positional indices. Indices
// are resolved against a snapshot taken before any removal, so selectors
// always refer to the list the caller saw.
func (e *Engine) RemoveTriggers(ctx context.Context, ownerID int64, indices []int) ([]*Trigger, error) {
	e.mu.Lock()
	resolved, err := e.index.ResolveIndices(ownerID, indices)
	e.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if len(resolved) == 0 {
		return nil, nil
	}

	phrases := phrasesOf(resolved)
	if e.store != nil {
		if err := e.store.DeleteTriggers(ctx, ownerID, phrases); err != nil {
			return nil, err
		}
	}

	e.mu.Lock()
	removed := e.index.RemovePhrases(ownerID, phrases)
	e.mu.Unlock()
	return removed, nil
}

// ClearTriggers removes all of an owner's triggers. Clearing an owner with
// none is a no-op, not an error.
func (e *Engine) ClearTriggers(ctx context.Context, ownerID int64) ([]*Trigger, error) {
	e.mu.Lock()
	list := e.index.List(ownerID)
	e.mu.Unlock()
	if len(list) == 0 {
		return nil, nil
	}

	phrases := phrasesOf(list)
	if e.store != nil {
		if err := e.store.DeleteTriggers(ctx, ownerID, phrases); err != nil {
			return nil, err
		}
	}

	e.mu.Lock()
	removed := e.index.RemoveOwner(ownerID)
	e.mu.Unlock()
	return removed, nil
}

// Triggers returns a copy of an owner's triggers in display order.
func (e *Engine) Triggers(ownerID int64) []*Trigger {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.index.List(ownerID)
}

// ---- Settings / profiles ----

// UpdateSettings replaces an owner's settings. The grace tracker is
// recreated only when the timeout actually changed; the change applies to
// future insertions only, and pending windows are discarded.
func (e *Engine) UpdateSettings(ctx context.Context, ownerID int64, receive bool, timeoutMinutes int) error {
	e.mu.Lock()
	old, ok := e.profiles[ownerID]
	var blocklist map[int64]struct{}
	oldTimeout := 0
	if ok {
		blocklist = old.Blocklist
		oldTimeout = old.TimeoutMinutes
	}
	e.mu.Unlock()

	p := &Profile{
		OwnerID:           ownerID,
		ReceiveHighlights: receive,
		TimeoutMinutes:    timeoutMinutes,
		Blocklist:         blocklist,
	}
	if e.store != nil {
		if err := e.store.UpsertProfile(ctx, recordOf(p)); err != nil {
			return err
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.profiles[ownerID] = p
	if ok && oldTimeout == timeoutMinutes {
		if _, have := e.grace[ownerID]; have {
			return nil
		}
	}
	e.grace[ownerID] = NewTimedSet(e.graceTTLLocked(ownerID))
	return nil
}

// Block adds ids to an owner's blocklist.
func (e *Engine) Block(ctx context.Context, ownerID int64, ids ...int64) error {
	return e.editBlocklist(ctx, ownerID, ids, true)
}

// Unblock removes ids from an owner's blocklist.
func (e *Engine) Unblock(ctx context.Context, ownerID int64, ids ...int64) error {
	return e.editBlocklist(ctx, ownerID, ids, false)
}

func (e *Engine) editBlocklist(ctx context.Context, ownerID int64, ids []int64, block bool) error {
	e.mu.Lock()
	old, ok := e.profiles[ownerID]
	e.mu.Unlock()
	if !ok {
		if err := e.registerProfile(ctx, ownerID); err != nil {
			return err
		}
		e.mu.Lock()
		old = e.profiles[ownerID]
		e.mu.Unlock()
	}

	next := make(map[int64]struct{}, len(old.Blocklist)+len(ids))
	for id := range old.Blocklist {
		next[id] = struct{}{}
	}
	for _, id := range ids {
		if block {
			next[id] = struct{}{}
		} else {
			delete(next, id)
		}
	}

	p := &Profile{
		OwnerID:           ownerID,
		ReceiveHighlights: old.ReceiveHighlights,
		TimeoutMinutes:    old.TimeoutMinutes,
		Blocklist:         next,
	}
	if e.store != nil {
		if err := e.store.UpsertProfile(ctx, recordOf(p)); err != nil {
			return err
		}
	}

	e.mu.Lock()
	e.profiles[ownerID] = p
	e.mu.Unlock()
	return nil
}

// Blocklist returns an owner's blocked ids, sorted for stable display.
func (e *Engine) Blocklist(ownerID int64) []int64 {
	e.mu.Lock()
	p, ok := e.profiles[ownerID]
	e.mu.Unlock()
	if !ok {
		return nil
	}
	out := make([]int64, 0, len(p.Blocklist))
	for id := range p.Blocklist {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// DeleteProfile removes an owner entirely: settings, grace tracker, and
// every trigger. Later messages that would have matched do nothing.
func (e *Engine) DeleteProfile(ctx context.Context, ownerID int64) error {
	if e.store != nil {
		if err := e.store.DeleteProfile(ctx, ownerID); err != nil {
			return err
		}
	}

	e.mu.Lock()
	delete(e.profiles, ownerID)
	delete(e.grace, ownerID)
	e.index.RemoveOwner(ownerID)
	e.mu.Unlock()
	return nil
}

func (e *Engine) registerProfile(ctx context.Context, ownerID int64) error {
	p := &Profile{
		OwnerID:           ownerID,
		ReceiveHighlights: true,
		TimeoutMinutes:    e.cfg.DefaultTimeoutMinutes,
	}
	if e.store != nil {
		if err := e.store.UpsertProfile(ctx, recordOf(p)); err != nil {
			return err
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.profiles[ownerID]; !ok {
		e.profiles[ownerID] = p
		e.grace[ownerID] = NewTimedSet(e.graceTTLLocked(ownerID))
	}
	return nil
}

// ---- helpers ----

func (e *Engine) trackerLocked(ownerID int64) *TimedSet {
	if tr, ok := e.grace[ownerID]; ok {
		return tr
	}
	tr := NewTimedSet(e.graceTTLLocked(ownerID))
	e.grace[ownerID] = tr
	return tr
}

func (e *Engine) graceTTLLocked(ownerID int64) time.Duration {
	minutes := e.cfg.DefaultTimeoutMinutes
	if p, ok := e.profiles[ownerID]; ok && p.TimeoutMinutes > 0 {
		minutes = p.TimeoutMinutes
	}
	return time.Duration(minutes) * time.Minute
}

func phrasesOf(list []*Trigger) []string {
	out := make([]string, 0, len(list))
	for _, t := range list {
		out = append(out, t.Phrase)
	}
	return out
}

func profileFromRecord(rec storage.ProfileRecord) *Profile {
	p := &Profile{
		OwnerID:           rec.OwnerID,
		ReceiveHighlights: rec.ReceiveHighlights,
		TimeoutMinutes:    rec.TimeoutMinutes,
	}
	if len(rec.Blocklist) > 0 {
		p.Blocklist = make(map[int64]struct{}, len(rec.Blocklist))
		for _, id := range rec.Blocklist {
			p.Blocklist[id] = struct{}{}
		}
	}
	return p
}

func recordOf(p *Profile) storage.ProfileRecord {
	rec := storage.ProfileRecord{
		OwnerID:           p.OwnerID,
		ReceiveHighlights: p.ReceiveHighlights,
		TimeoutMinutes:    p.TimeoutMinutes,
	}
	if len(p.Blocklist) > 0 {
		rec.Blocklist = make([]int64, 0, len(p.Blocklist))
		for id := range p.Blocklist {
			rec.Blocklist = append(rec.Blocklist, id)
		}
		sort.Slice(rec.Blocklist, func(i, j int) bool { return rec.Blocklist[i] < rec.Blocklist[j] })
	}
	return rec
}
