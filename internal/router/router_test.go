package router

import (
	"context"
	"strings"
	"testing"

	"beacon/internal/highlight"
	"beacon/internal/transport"
	logx "beacon/pkg/logx"
)

// fakeEngine records calls and returns canned results.
type fakeEngine struct {
	triggers []*highlight.Trigger
	blocked  []int64

	addErr    error
	removeErr error

	handled   []transport.Message
	added     []string
	removed   [][]int
	cleared   int
	blockIDs  []int64
	unblocked []int64
}

func (f *fakeEngine) HandleMessage(m transport.Message) { f.handled = append(f.handled, m) }

func (f *fakeEngine) AddTrigger(_ context.Context, ownerID int64, phrase string) (*highlight.Trigger, error) {
	if f.addErr != nil {
		return nil, f.addErr
	}
	f.added = append(f.added, phrase)
	t, _ := highlight.NewTrigger(ownerID, phrase)
	return t, nil
}

func (f *fakeEngine) RemoveTriggers(_ context.Context, _ int64, indices []int) ([]*highlight.Trigger, error) {
	if f.removeErr != nil {
		return nil, f.removeErr
	}
	f.removed = append(f.removed, indices)
	var out []*highlight.Trigger
	for range indices {
		t, _ := highlight.NewTrigger(1, "gone")
		out = append(out, t)
	}
	return out, nil
}

func (f *fakeEngine) ClearTriggers(context.Context, int64) ([]*highlight.Trigger, error) {
	f.cleared++
	out := f.triggers
	f.triggers = nil
	return out, nil
}

func (f *fakeEngine) Triggers(int64) []*highlight.Trigger { return f.triggers }

func (f *fakeEngine) Block(_ context.Context, _ int64, ids ...int64) error {
	f.blockIDs = append(f.blockIDs, ids...)
	f.blocked = append(f.blocked, ids...)
	return nil
}

func (f *fakeEngine) Unblock(_ context.Context, _ int64, ids ...int64) error {
	f.unblocked = append(f.unblocked, ids...)
	return nil
}

func (f *fakeEngine) Blocklist(int64) []int64 { return f.blocked }

type fakeReplier struct {
	replies []string
}

func (r *fakeReplier) Reply(_ context.Context, _ *transport.Message, text string) error {
	r.replies = append(r.replies, text)
	return nil
}

func update(text string) transport.Update {
	return transport.Update{
		Kind: transport.UpdateMessage,
		Message: &transport.Message{
			ID: 1, GuildID: 100, ChannelID: 5, AuthorID: 7, Text: text,
		},
	}
}

func newTestRouter() (*Router, *fakeEngine, *fakeReplier) {
	eng := &fakeEngine{}
	rep := &fakeReplier{}
	return New(eng, rep, logx.Nop()), eng, rep
}

func lastReply(t *testing.T, rep *fakeReplier) string {
	t.Helper()
	if len(rep.replies) == 0 {
		t.Fatal("no reply sent")
	}
	return rep.replies[len(rep.replies)-1]
}

func TestRouterPlainMessagesFeedEngine(t *testing.T) {
	t.Parallel()

	r, eng, rep := newTestRouter()
	r.HandleUpdate(context.Background(), update("just chatting about gophers"))

	if len(eng.handled) != 1 {
		t.Fatalf("engine saw %d messages, want 1", len(eng.handled))
	}
	if len(rep.replies) != 0 {
		t.Fatalf("plain message produced a reply: %q", rep.replies)
	}
}

func TestRouterCommandsStillCountAsActivity(t *testing.T) {
	t.Parallel()

	r, eng, _ := newTestRouter()
	r.HandleUpdate(context.Background(), update("/hl add gopher"))

	// The command runs, but the message itself is still channel activity:
	// it must reach the engine so the author's grace window opens and the
	// transcript ring records it.
	if len(eng.handled) != 1 {
		t.Fatalf("engine saw %d messages, want 1", len(eng.handled))
	}
	if eng.handled[0].Text != "/hl add gopher" {
		t.Fatalf("engine saw %q", eng.handled[0].Text)
	}
	if len(eng.added) != 1 || eng.added[0] != "gopher" {
		t.Fatalf("added = %v", eng.added)
	}
}

func TestRouterAdd(t *testing.T) {
	t.Parallel()

	t.Run("multi word phrase", func(t *testing.T) {
		t.Parallel()
		r, eng, rep := newTestRouter()
		r.HandleUpdate(context.Background(), update("/hl add hot take"))
		if len(eng.added) != 1 || eng.added[0] != "hot take" {
			t.Fatalf("added = %v", eng.added)
		}
		if got := lastReply(t, rep); !strings.Contains(got, `"hot take"`) {
			t.Fatalf("reply = %q", got)
		}
	})

	t.Run("validation error verbatim", func(t *testing.T) {
		t.Parallel()
		r, eng, rep := newTestRouter()
		eng.addErr = &highlight.ValidationError{Reason: "a highlight with that content already exists"}
		r.HandleUpdate(context.Background(), update("/hl add gopher"))
		if got := lastReply(t, rep); got != "a highlight with that content already exists" {
			t.Fatalf("reply = %q", got)
		}
	})

	t.Run("missing phrase shows usage", func(t *testing.T) {
		t.Parallel()
		r, _, rep := newTestRouter()
		r.HandleUpdate(context.Background(), update("/hl add"))
		if got := lastReply(t, rep); !strings.Contains(got, "/hl add <phrase>") {
			t.Fatalf("reply = %q", got)
		}
	})
}

func TestRouterRemove(t *testing.T) {
	t.Parallel()

	t.Run("indices", func(t *testing.T) {
		t.Parallel()
		r, eng, _ := newTestRouter()
		r.HandleUpdate(context.Background(), update("/hl rm 2,4 1"))
		if len(eng.removed) != 1 {
			t.Fatal("RemoveTriggers not called")
		}
		got := eng.removed[0]
		if len(got) != 3 || got[0] != 2 || got[1] != 4 || got[2] != 1 {
			t.Fatalf("indices = %v", got)
		}
	})

	t.Run("tilde clears", func(t *testing.T) {
		t.Parallel()
		r, eng, rep := newTestRouter()
		tr, _ := highlight.NewTrigger(7, "gopher")
		eng.triggers = []*highlight.Trigger{tr}
		r.HandleUpdate(context.Background(), update("/hl rm ~"))
		if eng.cleared != 1 {
			t.Fatal("ClearTriggers not called")
		}
		if got := lastReply(t, rep); !strings.Contains(got, "Cleared 1") {
			t.Fatalf("reply = %q", got)
		}
	})

	t.Run("selector error verbatim", func(t *testing.T) {
		t.Parallel()
		r, eng, rep := newTestRouter()
		eng.removeErr = &highlight.SelectorError{Index: 9, Count: 2}
		r.HandleUpdate(context.Background(), update("/hl rm 9"))
		if got := lastReply(t, rep); got != "index 9 is out of range (2 highlights exist)" {
			t.Fatalf("reply = %q", got)
		}
	})

	t.Run("garbage index", func(t *testing.T) {
		t.Parallel()
		r, eng, rep := newTestRouter()
		r.HandleUpdate(context.Background(), update("/hl rm banana"))
		if len(eng.removed) != 0 {
			t.Fatal("RemoveTriggers should not be called")
		}
		if got := lastReply(t, rep); !strings.Contains(got, "banana") {
			t.Fatalf("reply = %q", got)
		}
	})
}

func TestRouterBlocklist(t *testing.T) {
	t.Parallel()

	r, eng, rep := newTestRouter()
	r.HandleUpdate(context.Background(), update("/hl block 42 7"))
	if len(eng.blockIDs) != 2 {
		t.Fatalf("blocked = %v", eng.blockIDs)
	}
	if got := lastReply(t, rep); !strings.Contains(got, "42") || !strings.Contains(got, "7") {
		t.Fatalf("reply = %q", got)
	}

	r.HandleUpdate(context.Background(), update("/hl unblock 42"))
	if len(eng.unblocked) != 1 || eng.unblocked[0] != 42 {
		t.Fatalf("unblocked = %v", eng.unblocked)
	}
}

func TestRouterList(t *testing.T) {
	t.Parallel()

	t.Run("empty", func(t *testing.T) {
		t.Parallel()
		r, _, rep := newTestRouter()
		r.HandleUpdate(context.Background(), update("/hl list"))
		if got := lastReply(t, rep); got != "You have no highlights." {
			t.Fatalf("reply = %q", got)
		}
	})

	t.Run("numbered in display order", func(t *testing.T) {
		t.Parallel()
		r, eng, rep := newTestRouter()
		for _, p := range []string{"alpha", "bravo"} {
			tr, _ := highlight.NewTrigger(7, p)
			eng.triggers = append(eng.triggers, tr)
		}
		eng.blocked = []int64{3}
		r.HandleUpdate(context.Background(), update("/hl list"))
		got := lastReply(t, rep)
		if !strings.Contains(got, "1. alpha") || !strings.Contains(got, "2. bravo") {
			t.Fatalf("reply = %q", got)
		}
		if !strings.Contains(got, "Blocked ids: 3") {
			t.Fatalf("reply = %q", got)
		}
	})
}

func TestRouterUnknownAndForeignCommands(t *testing.T) {
	t.Parallel()

	r, eng, rep := newTestRouter()

	// Unknown subcommand answers with usage.
	r.HandleUpdate(context.Background(), update("/hl wat"))
	if got := lastReply(t, rep); !strings.Contains(got, "highlight commands") {
		t.Fatalf("reply = %q", got)
	}
	if len(eng.handled) != 1 {
		t.Fatal("command message should still feed the engine")
	}

	// Another bot's command flows through the pipeline untouched.
	r.HandleUpdate(context.Background(), update("/weather moscow"))
	if len(eng.handled) != 2 {
		t.Fatal("foreign command should feed the engine")
	}
	if len(rep.replies) != 1 {
		t.Fatalf("foreign command produced a reply: %v", rep.replies)
	}
}

func TestParseCommand(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		sub  string
		args int
		ok   bool
	}{
		{"/hl list", "list", 0, true},
		{"/hl@beacon_bot add gopher", "add", 1, true},
		{"/hl", "", 0, true},
		{"/hello", "", 0, false},
		{"hl list", "", 0, false},
		{"", "", 0, false},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.in, func(t *testing.T) {
			t.Parallel()
			sub, args, ok := parseCommand(tc.in)
			if ok != tc.ok || sub != tc.sub || len(args) != tc.args {
				t.Fatalf("parseCommand(%q) = (%q, %d args, %v)", tc.in, sub, len(args), ok)
			}
		})
	}
}
