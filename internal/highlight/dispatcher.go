package highlight

import (
	"context"

	"beacon/internal/eventbus"
	"beacon/internal/transport"
	logx "beacon/pkg/logx"
)

// Deliverer sends a finished notification to a recipient's direct channel.
type Deliverer interface {
	SendDM(ctx context.Context, userID int64, lead, body string) error
}

// HighlightEvent is the bus payload for engine signals.
type HighlightEvent struct {
	OwnerID   int64
	ChannelID int64
	MessageID int64
	Phrase    string
	Error     string `json:",omitempty"`
}

type delivery struct {
	pending *Pending
	history []transport.Message
}

// dispatchTick is one drain-format-deliver cycle. The drain is an atomic
// swap under the engine lock; everything after it works on the snapshot,
// so matches arriving mid-tick land in the next one. Delivery failures are
// logged and swallowed per entry.
func (e *Engine) dispatchTick(ctx context.Context) {
	e.mu.Lock()
	pendings := e.queue.Drain()
	for _, tr := range e.grace {
		tr.Prune()
	}
	items := make([]delivery, 0, len(pendings))
	for _, p := range pendings {
		items = append(items, delivery{
			pending: p,
			history: e.history.Around(p.Primary, e.cfg.ContextWindow),
		})
	}
	limiter := e.limiter
	e.mu.Unlock()

	for _, it := range items {
		if ctx != nil && ctx.Err() != nil {
			return
		}
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return
			}
		}

		p := it.pending
		lead, body := BuildNotification(p, it.history)
		if err := e.deliver.SendDM(ctx, p.Trigger.OwnerID, lead, body); err != nil {
			if !e.log.IsZero() {
				e.log.Warn("highlight delivery failed",
					logx.Int64("owner", p.Trigger.OwnerID),
					logx.Int64("channel", p.Primary.ChannelID),
					logx.Err(err))
			}
			e.publish(eventbus.TypeHighlightFailed, p, err)
			continue
		}
		if !e.log.IsZero() {
			e.log.Debug("highlight delivered",
				logx.Int64("owner", p.Trigger.OwnerID),
				logx.Int64("channel", p.Primary.ChannelID),
				logx.Int("later", len(p.Later)))
		}
		e.publish(eventbus.TypeHighlightSent, p, nil)
	}
}

func (e *Engine) publish(typ string, p *Pending, err error) {
	e.publishEvent(typ, p.Trigger.OwnerID, p.Primary, p.Trigger.Phrase, err)
}

func (e *Engine) publishEvent(typ string, ownerID int64, m transport.Message, phrase string, err error) {
	if e.bus == nil {
		return
	}
	ev := HighlightEvent{
		OwnerID:   ownerID,
		ChannelID: m.ChannelID,
		MessageID: m.ID,
		Phrase:    phrase,
	}
	if err != nil {
		ev.Error = err.Error()
	}
	e.bus.Publish(eventbus.Event{Type: typ, Data: ev})
}
