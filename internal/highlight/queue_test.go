package highlight

import (
	"testing"

	"beacon/internal/transport"
)

func msg(id, channel, author int64, text string) transport.Message {
	return transport.Message{
		ID:        id,
		GuildID:   100,
		ChannelID: channel,
		AuthorID:  author,
		Text:      text,
	}
}

func TestQueueUpsertMerges(t *testing.T) {
	t.Parallel()

	q := NewQueue()
	tr := mustTrigger(t, 1, "gopher")

	first := msg(10, 5, 2, "a gopher appears")
	second := msg(11, 5, 3, "another gopher")

	if !q.Upsert(tr, first) {
		t.Fatal("first Upsert should create a pending entry")
	}
	if q.Upsert(tr, second) {
		t.Fatal("second Upsert for the same owner+channel should merge")
	}

	drained := q.Drain()
	if len(drained) != 1 {
		t.Fatalf("drained %d entries, want 1", len(drained))
	}
	p := drained[0]
	if p.Primary.ID != first.ID {
		t.Fatalf("primary = %d, want the first matching message", p.Primary.ID)
	}
	if len(p.Later) != 1 {
		t.Fatalf("Later has %d messages, want 1", len(p.Later))
	}
	if _, ok := p.Later[second.ID]; !ok {
		t.Fatal("Later should hold the second message")
	}
}

func TestQueueUpsertSameMessageTwice(t *testing.T) {
	t.Parallel()

	q := NewQueue()
	tr := mustTrigger(t, 1, "gopher")
	m := msg(10, 5, 2, "gopher")

	q.Upsert(tr, m)
	q.Upsert(tr, m)

	p := q.Drain()[0]
	if len(p.Later) != 0 {
		t.Fatalf("the primary must never re-enter Later, got %d", len(p.Later))
	}
}

func TestQueueSeparatesOwnersAndChannels(t *testing.T) {
	t.Parallel()

	q := NewQueue()
	a := mustTrigger(t, 1, "gopher")
	b := mustTrigger(t, 2, "gopher")

	q.Upsert(a, msg(10, 5, 3, "gopher"))
	q.Upsert(b, msg(10, 5, 3, "gopher"))
	q.Upsert(a, msg(11, 6, 3, "gopher"))

	if got := q.Len(); got != 3 {
		t.Fatalf("Len() = %d, want 3", got)
	}
}

func TestQueueDrainSwaps(t *testing.T) {
	t.Parallel()

	q := NewQueue()
	tr := mustTrigger(t, 1, "gopher")
	q.Upsert(tr, msg(10, 5, 2, "gopher"))

	if got := len(q.Drain()); got != 1 {
		t.Fatalf("first Drain returned %d entries", got)
	}
	if got := len(q.Drain()); got != 0 {
		t.Fatalf("second Drain returned %d entries, want 0", got)
	}

	// The queue stays usable after a drain.
	q.Upsert(tr, msg(12, 5, 2, "gopher again"))
	if got := q.Len(); got != 1 {
		t.Fatalf("Len() after post-drain Upsert = %d, want 1", got)
	}
}
