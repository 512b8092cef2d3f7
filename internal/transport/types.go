// Package transport defines the platform-neutral shapes exchanged between
// the chat adapter and the rest of the bot. Adapters translate their
// platform's updates into these types; nothing outside the adapter imports
// a platform SDK.
package transport

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound reports a failed membership resolution. Callers treat it as
// a normal negative result, not a fault.
var ErrNotFound = errors.New("member not found")

type UpdateKind string

const (
	UpdateMessage UpdateKind = "message"
)

type Update struct {
	Kind    UpdateKind
	Message *Message
}

// ChannelKind distinguishes ordinary channels from sub-conversations.
type ChannelKind int

const (
	ChannelNormal ChannelKind = iota
	ChannelThread
	ChannelPrivateThread
)

// Message is one inbound chat message with just enough identity and
// content metadata for matching, eligibility checks and context rendering.
type Message struct {
	ID        int64
	GuildID   int64 // 0 for direct messages
	GuildName string

	ChannelID   int64
	ChannelName string
	ChannelKind ChannelKind
	// ParentChannelID is the containing channel when ChannelKind is a
	// thread kind; 0 otherwise.
	ParentChannelID int64

	AuthorID   int64
	AuthorName string
	AuthorBot  bool

	Text        string
	Attachments int
	Embeds      int
	Stickers    int
	Mentions    []int64 // mentioned user ids

	Link      string // jump link to the message, may be empty
	CreatedAt time.Time
}

// Mentioned reports whether userID is among the message's mentions.
func (m *Message) Mentioned(userID int64) bool {
	for _, id := range m.Mentions {
		if id == userID {
			return true
		}
	}
	return false
}

// Adapter is the platform driver: it feeds inbound updates and performs
// outbound sends and membership lookups.
type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	// SendDM delivers a notification to a user's direct channel.
	SendDM(ctx context.Context, userID int64, lead, body string) error
	// Reply answers in the channel a message came from.
	Reply(ctx context.Context, m *Message, text string) error

	// GuildMember resolves userID's membership in a guild. It returns
	// ErrNotFound (possibly wrapped) when the user is not a member.
	GuildMember(ctx context.Context, guildID, userID int64) error
	// ChannelMember reports whether userID belongs to a channel's member
	// list.
	ChannelMember(ctx context.Context, channelID, userID int64) (bool, error)
}
