package highlight

import "beacon/internal/transport"

// HistoryRing retains the last few messages seen per channel so the
// formatter can render a transcript around a triggering message. The
// delivery platform offers no "fetch history around a message" call, so
// the engine records what it has already observed.
//
// HistoryRing is not safe for concurrent use; the engine's lock guards it.
type HistoryRing struct {
	depth     int
	byChannel map[int64][]transport.Message
}

func NewHistoryRing(depth int) *HistoryRing {
	if depth <= 0 {
		depth = 64
	}
	return &HistoryRing{depth: depth, byChannel: map[int64][]transport.Message{}}
}

// Record appends a message to its channel's ring, dropping the oldest
// entry once the ring is full.
func (h *HistoryRing) Record(m transport.Message) {
	msgs := append(h.byChannel[m.ChannelID], m)
	if len(msgs) > h.depth {
		msgs = append(msgs[:0], msgs[len(msgs)-h.depth:]...)
	}
	h.byChannel[m.ChannelID] = msgs
}

// Around returns up to window messages from center's channel, centered on
// center, oldest first. If center is no longer in the ring, the most
// recent messages are returned with center appended.
func (h *HistoryRing) Around(center transport.Message, window int) []transport.Message {
	if window <= 0 {
		window = 6
	}
	msgs := h.byChannel[center.ChannelID]

	at := -1
	for i, m := range msgs {
		if m.ID == center.ID {
			at = i
			break
		}
	}
	if at < 0 {
		tail := msgs
		if len(tail) > window-1 {
			tail = tail[len(tail)-(window-1):]
		}
		out := append([]transport.Message(nil), tail...)
		return append(out, center)
	}

	start := at - window/2
	if start < 0 {
		start = 0
	}
	end := start + window
	if end > len(msgs) {
		end = len(msgs)
		if start = end - window; start < 0 {
			start = 0
		}
	}
	return append([]transport.Message(nil), msgs[start:end]...)
}
