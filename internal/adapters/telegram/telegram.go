// Package telegram adapts the Telegram Bot API to the transport types.
// It is the only package that imports the platform SDK.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	tele "gopkg.in/telebot.v4"

	"beacon/internal/transport"
	logx "beacon/pkg/logx"
)

type Config struct {
	Token        string
	PollTimeout  time.Duration
	UpdateBuffer int
}

type Adapter struct {
	cfg Config
	log logx.Logger

	bot       *tele.Bot
	out       chan<- transport.Update
	runCancel context.CancelFunc
	runWG     sync.WaitGroup
	runMu     sync.Mutex
	running   bool

	// droppedUpdates counts updates dropped because the consumer was slower
	// than the poll loop. Logged periodically to avoid per-update spam.
	droppedUpdates uint64
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Adapter{cfg: cfg, log: log, bot: b}, nil
}

func (a *Adapter) Start(ctx context.Context, out chan<- transport.Update) error {
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return nil
	}
	a.running = true
	a.out = out
	rctx, cancel := context.WithCancel(ctx)
	a.runCancel = cancel
	a.runWG.Add(2)
	a.runMu.Unlock()

	// Periodic summary for dropped updates.
	go func() {
		defer a.runWG.Done()
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-rctx.Done():
				// Final flush.
				if n := atomic.SwapUint64(&a.droppedUpdates, 0); n > 0 {
					a.log.Warn("incoming updates dropped (channel full)",
						logx.Int64("count", int64(n)), logx.Int("chan_cap", cap(out)))
				}
				return
			case <-ticker.C:
				if n := atomic.SwapUint64(&a.droppedUpdates, 0); n > 0 {
					a.log.Warn("incoming updates dropped (channel full)",
						logx.Int64("count", int64(n)), logx.Int("chan_cap", cap(out)))
				}
			}
		}
	}()

	ingest := func(c tele.Context) error {
		m := c.Message()
		if m == nil || m.Sender == nil {
			return nil
		}
		up := transport.Update{
			Kind:    transport.UpdateMessage,
			Message: messageOf(m),
		}
		select {
		case out <- up:
		default:
			atomic.AddUint64(&a.droppedUpdates, 1)
		}
		return nil
	}
	a.bot.Handle(tele.OnText, ingest)
	a.bot.Handle(tele.OnPhoto, ingest)
	a.bot.Handle(tele.OnDocument, ingest)
	a.bot.Handle(tele.OnVideo, ingest)
	a.bot.Handle(tele.OnAudio, ingest)
	a.bot.Handle(tele.OnVoice, ingest)
	a.bot.Handle(tele.OnSticker, ingest)

	go func() {
		defer a.runWG.Done()
		// Stop telebot when the context is cancelled.
		go func() {
			<-rctx.Done()
			a.bot.Stop()
		}()
		a.log.Info("polling started")
		a.bot.Start() // blocks until Stop() called
	}()

	return nil
}

func (a *Adapter) Stop(ctx context.Context) error {
	// Best-effort graceful stop. Never block shutdown on a long-poll.
	a.runMu.Lock()
	cancel := a.runCancel
	a.runCancel = nil
	wasRunning := a.running
	a.running = false
	a.runMu.Unlock()

	if !wasRunning {
		return nil
	}
	if cancel != nil {
		cancel()
	}
	if a.bot != nil {
		go a.bot.Stop()
	}

	done := make(chan struct{})
	go func() {
		a.runWG.Wait()
		close(done)
	}()

	// Grace window: keep shutdown snappy even if getUpdates is still waiting.
	grace := 2 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem > 0 && rem < grace {
			grace = rem
		}
	}
	t := time.NewTimer(grace)
	defer t.Stop()

	select {
	case <-done:
		a.log.Info("polling stopped")
		return nil
	case <-ctx.Done():
		a.log.Warn("telegram stop cancelled", logx.Err(ctx.Err()))
		return ctx.Err()
	case <-t.C:
		a.log.Warn("telegram stop grace elapsed; continuing shutdown")
		return nil
	}
}

// SendDM delivers a notification to the user's private chat. The lead and
// body travel as one message so the recipient sees the triggering line
// first.
func (a *Adapter) SendDM(ctx context.Context, userID int64, lead, body string) error {
	text := lead
	if body != "" {
		text = lead + "\n\n" + body
	}
	_, err := a.bot.Send(&tele.User{ID: userID}, text, &tele.SendOptions{
		ParseMode:             tele.ModeMarkdown,
		DisableWebPagePreview: true,
	})
	return err
}

func (a *Adapter) Reply(ctx context.Context, m *transport.Message, text string) error {
	_, err := a.bot.Send(&tele.Chat{ID: m.ChannelID}, text, &tele.SendOptions{
		ParseMode:             tele.ModeMarkdown,
		DisableWebPagePreview: true,
		ReplyTo:               &tele.Message{ID: int(m.ID), Chat: &tele.Chat{ID: m.ChannelID}},
	})
	return err
}

// GuildMember resolves membership through getChatMember. Left and kicked
// members map to transport.ErrNotFound.
func (a *Adapter) GuildMember(ctx context.Context, guildID, userID int64) error {
	member, err := a.bot.ChatMemberOf(&tele.Chat{ID: guildID}, &tele.User{ID: userID})
	if err != nil {
		if isNotFound(err) {
			return fmt.Errorf("chat %d user %d: %w", guildID, userID, transport.ErrNotFound)
		}
		return err
	}
	switch member.Role {
	case tele.Left, tele.Kicked:
		return fmt.Errorf("chat %d user %d: %w", guildID, userID, transport.ErrNotFound)
	}
	return nil
}

// ChannelMember reuses the same lookup: Telegram has no member list
// distinct from the chat itself.
func (a *Adapter) ChannelMember(ctx context.Context, channelID, userID int64) (bool, error) {
	err := a.GuildMember(ctx, channelID, userID)
	if errors.Is(err, transport.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func isNotFound(err error) bool {
	var apiErr *tele.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == 400 || apiErr.Code == 404
	}
	return false
}

// messageOf maps a telebot message onto the neutral shape. Telegram has no
// guild/channel split, so the chat id serves as both; private chats carry
// a zero guild so they never highlight.
func messageOf(m *tele.Message) *transport.Message {
	out := &transport.Message{
		ID:          int64(m.ID),
		ChannelID:   m.Chat.ID,
		ChannelName: chatName(m.Chat),
		AuthorID:    m.Sender.ID,
		AuthorName:  senderName(m.Sender),
		AuthorBot:   m.Sender.IsBot,
		Text:        m.Text,
		CreatedAt:   m.Time(),
	}
	if !m.Private() {
		out.GuildID = m.Chat.ID
		out.GuildName = chatName(m.Chat)
	}
	if m.ThreadID != 0 {
		out.ChannelKind = transport.ChannelThread
		out.ParentChannelID = m.Chat.ID
	}
	if out.Text == "" {
		out.Text = m.Caption
	}
	if m.Photo != nil || m.Document != nil || m.Video != nil || m.Audio != nil || m.Voice != nil {
		out.Attachments = 1
	}
	if m.Sticker != nil {
		out.Stickers = 1
	}
	for _, ent := range m.Entities {
		if ent.Type == tele.EntityTMention && ent.User != nil {
			out.Mentions = append(out.Mentions, ent.User.ID)
		}
	}
	out.Link = messageLink(m)
	return out
}

func chatName(c *tele.Chat) string {
	if c.Title != "" {
		return c.Title
	}
	return c.Username
}

func senderName(u *tele.User) string {
	if u.Username != "" {
		return u.Username
	}
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// messageLink builds a t.me jump link. Public chats link by username;
// supergroups use the /c/ form with the -100 prefix stripped.
func messageLink(m *tele.Message) string {
	if m.Chat.Username != "" {
		return fmt.Sprintf("https://t.me/%s/%d", m.Chat.Username, m.ID)
	}
	const superPrefix = int64(-1000000000000)
	if m.Chat.ID < superPrefix {
		return fmt.Sprintf("https://t.me/c/%d/%d", -(m.Chat.ID - superPrefix), m.ID)
	}
	return ""
}
