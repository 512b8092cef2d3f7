package highlight

import "beacon/internal/transport"

// Pending is one aggregated notification-in-waiting for an (owner,
// channel) pair: the first matching message becomes the primary, any
// further matches before the next flush fold into Later.
type Pending struct {
	Trigger *Trigger
	Primary transport.Message
	Later   map[int64]transport.Message // keyed by message id
}

// triggerIDs is the set of message ids to visually mark in the transcript.
func (p *Pending) triggerIDs() map[int64]struct{} {
	ids := make(map[int64]struct{}, len(p.Later)+1)
	ids[p.Primary.ID] = struct{}{}
	for id := range p.Later {
		ids[id] = struct{}{}
	}
	return ids
}

// Queue aggregates matched messages per channel, per recipient, between
// dispatcher ticks.
//
// Queue is not safe for concurrent use; the engine's lock guards it.
// Updates are monotonic merges, so interleaved pipelines can upsert in any
// order.
type Queue struct {
	byChannel map[int64]map[int64]*Pending
}

func NewQueue() *Queue {
	return &Queue{byChannel: map[int64]map[int64]*Pending{}}
}

// Upsert merges a match into the queue. The first match for an (owner,
// channel) pair becomes the primary; later distinct messages join the
// Later set. It reports whether a new pending entry was created.
func (q *Queue) Upsert(t *Trigger, m transport.Message) bool {
	ch := q.byChannel[m.ChannelID]
	if ch == nil {
		ch = map[int64]*Pending{}
		q.byChannel[m.ChannelID] = ch
	}
	if p, ok := ch[t.OwnerID]; ok {
		if m.ID != p.Primary.ID {
			p.Later[m.ID] = m
		}
		return false
	}
	ch[t.OwnerID] = &Pending{
		Trigger: t,
		Primary: m,
		Later:   map[int64]transport.Message{},
	}
	return true
}

// Drain atomically swaps the queue for an empty one and returns the
// removed entries. Messages arriving during the caller's iteration land in
// the fresh queue and are collected on the next tick, never lost.
func (q *Queue) Drain() []*Pending {
	snapshot := q.byChannel
	q.byChannel = map[int64]map[int64]*Pending{}

	var out []*Pending
	for _, owners := range snapshot {
		for _, p := range owners {
			out = append(out, p)
		}
	}
	return out
}

// Len counts pending entries across all channels.
func (q *Queue) Len() int {
	n := 0
	for _, owners := range q.byChannel {
		n += len(owners)
	}
	return n
}
