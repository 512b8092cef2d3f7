package highlight

import (
	"container/heap"
	"time"
)

// TimedSet is a set of member ids that expire individually, ttl after
// insertion. Membership tests are O(1); expired members vanish without any
// background timers.
//
// Expiries sit in a min-heap that is pruned on insert and on each
// dispatcher tick, so high message volume never piles up goroutines or
// runtime timers.
//
// Re-adding a member that is still live is a no-op: activity does NOT
// extend an existing window. Only insertion after expiry starts a new one.
//
// TimedSet is not safe for concurrent use; the engine's lock guards it.
type TimedSet struct {
	ttl     time.Duration
	members map[int64]time.Time // member -> deadline
	exp     expiryHeap

	now func() time.Time // overridable in tests
}

func NewTimedSet(ttl time.Duration) *TimedSet {
	return &TimedSet{
		ttl:     ttl,
		members: map[int64]time.Time{},
		now:     time.Now,
	}
}

func (s *TimedSet) TTL() time.Duration { return s.ttl }

// Add inserts member with a fresh expiry. It reports whether a new window
// started; false means the member was already live and nothing changed.
// A non-positive ttl disables the set entirely.
func (s *TimedSet) Add(member int64) bool {
	if s.ttl <= 0 {
		return false
	}
	now := s.now()
	if dl, ok := s.members[member]; ok && now.Before(dl) {
		return false
	}
	dl := now.Add(s.ttl)
	s.members[member] = dl
	heap.Push(&s.exp, expiry{member: member, deadline: dl})
	s.prune(now)
	return true
}

// Contains reports whether member is live, dropping it lazily if its
// window has passed.
func (s *TimedSet) Contains(member int64) bool {
	dl, ok := s.members[member]
	if !ok {
		return false
	}
	if !s.now().Before(dl) {
		delete(s.members, member)
		return false
	}
	return true
}

// Prune drops every expired member. The dispatcher calls this on its tick.
func (s *TimedSet) Prune() {
	s.prune(s.now())
}

func (s *TimedSet) prune(now time.Time) {
	for len(s.exp) > 0 && !now.Before(s.exp[0].deadline) {
		e := heap.Pop(&s.exp).(expiry)
		// A heap entry is stale if the member re-entered after expiring;
		// only drop the map entry it actually describes.
		if dl, ok := s.members[e.member]; ok && dl.Equal(e.deadline) {
			delete(s.members, e.member)
		}
	}
}

// Len counts live members.
func (s *TimedSet) Len() int {
	n := 0
	now := s.now()
	for _, dl := range s.members {
		if now.Before(dl) {
			n++
		}
	}
	return n
}

type expiry struct {
	member   int64
	deadline time.Time
}

type expiryHeap []expiry

func (h expiryHeap) Len() int            { return len(h) }
func (h expiryHeap) Less(i, j int) bool  { return h[i].deadline.Before(h[j].deadline) }
func (h expiryHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *expiryHeap) Push(x any)         { *h = append(*h, x.(expiry)) }
func (h *expiryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]
	return e
}
