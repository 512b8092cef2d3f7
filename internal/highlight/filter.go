package highlight

import (
	"context"
	"errors"

	"beacon/internal/transport"
	logx "beacon/pkg/logx"
)

// MemberDirectory resolves guild and channel membership. Lookups may block
// on I/O; a failed resolution is a normal negative result for the filter.
type MemberDirectory interface {
	// GuildMember returns transport.ErrNotFound when userID is not a
	// member of the guild.
	GuildMember(ctx context.Context, guildID, userID int64) error
	ChannelMember(ctx context.Context, channelID, userID int64) (bool, error)
}

// blockCandidate is the fixed set of identifiers a blocklist can match.
// An explicit struct, not reflective field access: the four ids are the
// whole contract.
type blockCandidate struct {
	messageID int64
	guildID   int64
	channelID int64
	authorID  int64
}

func candidateOf(m *transport.Message) blockCandidate {
	return blockCandidate{
		messageID: m.ID,
		guildID:   m.GuildID,
		channelID: m.ChannelID,
		authorID:  m.AuthorID,
	}
}

func (c blockCandidate) anyBlocked(blocked map[int64]struct{}) bool {
	if len(blocked) == 0 {
		return false
	}
	for _, id := range [4]int64{c.messageID, c.guildID, c.channelID, c.authorID} {
		if _, ok := blocked[id]; ok {
			return true
		}
	}
	return false
}

// eligible decides whether a matched (trigger, message) pair should fire.
// It short-circuits on the first failing check and never returns an error:
// every expected failure mode, including a missed membership lookup, is an
// ordinary "no".
func (e *Engine) eligible(ctx context.Context, t *Trigger, m transport.Message) bool {
	// Direct messages never highlight.
	if m.GuildID == 0 {
		return false
	}
	// Never the owner's own messages, never automated accounts.
	if m.AuthorID == t.OwnerID || m.AuthorBot {
		return false
	}

	e.mu.Lock()
	p, ok := e.profiles[t.OwnerID]
	var receive bool
	var blocked map[int64]struct{}
	if ok {
		receive = p.ReceiveHighlights
		blocked = p.Blocklist // copy-on-write; safe to read unlocked
	}
	e.mu.Unlock()

	if !ok || !receive {
		return false
	}
	if candidateOf(&m).anyBlocked(blocked) {
		return false
	}
	// A mentioned owner was already pinged; don't notify twice.
	if m.Mentioned(t.OwnerID) {
		return false
	}

	// Membership lookup is the pipeline's I/O point. Fail closed on any
	// outcome but success.
	if err := e.members.GuildMember(ctx, m.GuildID, t.OwnerID); err != nil {
		if !errors.Is(err, transport.ErrNotFound) && !e.log.IsZero() {
			e.log.Debug("guild member lookup failed",
				logx.Int64("guild", m.GuildID), logx.Int64("owner", t.OwnerID), logx.Err(err))
		}
		return false
	}

	channelID := m.ChannelID
	switch m.ChannelKind {
	case transport.ChannelPrivateThread:
		// Private sub-conversations never highlight.
		return false
	case transport.ChannelThread:
		channelID = m.ParentChannelID
	}
	member, err := e.members.ChannelMember(ctx, channelID, t.OwnerID)
	if err != nil {
		if !e.log.IsZero() {
			e.log.Debug("channel member lookup failed",
				logx.Int64("channel", channelID), logx.Int64("owner", t.OwnerID), logx.Err(err))
		}
		return false
	}
	return member
}
