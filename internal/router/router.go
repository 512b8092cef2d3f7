// Package router turns inbound chat updates into engine calls: plain
// messages feed the matching pipeline, /hl commands drive the trigger and
// blocklist operations.
package router

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"beacon/internal/highlight"
	"beacon/internal/transport"
	logx "beacon/pkg/logx"
)

// Engine is the slice of the highlight engine the router drives.
type Engine interface {
	HandleMessage(m transport.Message)

	AddTrigger(ctx context.Context, ownerID int64, phrase string) (*highlight.Trigger, error)
	RemoveTriggers(ctx context.Context, ownerID int64, indices []int) ([]*highlight.Trigger, error)
	ClearTriggers(ctx context.Context, ownerID int64) ([]*highlight.Trigger, error)
	Triggers(ownerID int64) []*highlight.Trigger

	Block(ctx context.Context, ownerID int64, ids ...int64) error
	Unblock(ctx context.Context, ownerID int64, ids ...int64) error
	Blocklist(ownerID int64) []int64
}

// Replier answers a command in the channel it came from.
type Replier interface {
	Reply(ctx context.Context, m *transport.Message, text string) error
}

const usage = `highlight commands:
/hl list — show your highlights
/hl add <phrase> — subscribe to a phrase
/hl rm <indices|~> — remove by list position, ~ clears all
/hl block <ids...> — suppress matches from users/channels
/hl unblock <ids...> — lift a block`

type Router struct {
	engine Engine
	reply  Replier
	log    logx.Logger
}

func New(engine Engine, reply Replier, log logx.Logger) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Router{engine: engine, reply: reply, log: log}
}

// HandleUpdate routes one inbound update. Every message flows through the
// engine first — a command is still channel activity, so it opens the
// author's grace window and joins the transcript ring like any other
// message — and /hl commands are then dispatched on top of that.
func (r *Router) HandleUpdate(ctx context.Context, up transport.Update) {
	if up.Kind != transport.UpdateMessage || up.Message == nil {
		return
	}
	m := up.Message
	r.engine.HandleMessage(*m)
	if sub, args, ok := parseCommand(m.Text); ok {
		r.handleCommand(ctx, m, sub, args)
	}
}

func (r *Router) handleCommand(ctx context.Context, m *transport.Message, sub string, args []string) {
	var text string
	switch sub {
	case "list":
		text = r.renderList(m.AuthorID)
	case "add":
		text = r.doAdd(ctx, m.AuthorID, strings.Join(args, " "))
	case "rm":
		text = r.doRemove(ctx, m.AuthorID, args)
	case "block":
		text = r.doBlocklist(ctx, m.AuthorID, args, true)
	case "unblock":
		text = r.doBlocklist(ctx, m.AuthorID, args, false)
	default:
		text = usage
	}
	if err := r.reply.Reply(ctx, m, text); err != nil {
		r.log.Warn("command reply failed",
			logx.String("command", sub), logx.Int64("user", m.AuthorID), logx.Err(err))
	}
}

func (r *Router) renderList(ownerID int64) string {
	list := r.engine.Triggers(ownerID)
	if len(list) == 0 {
		return "You have no highlights."
	}
	var b strings.Builder
	b.WriteString("Your highlights:\n")
	for i, t := range list {
		fmt.Fprintf(&b, "%d. %s\n", i+1, t.Phrase)
	}
	if blocked := r.engine.Blocklist(ownerID); len(blocked) > 0 {
		b.WriteString("Blocked ids:")
		for _, id := range blocked {
			fmt.Fprintf(&b, " %d", id)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func (r *Router) doAdd(ctx context.Context, ownerID int64, phrase string) string {
	phrase = strings.TrimSpace(phrase)
	if phrase == "" {
		return usage
	}
	t, err := r.engine.AddTrigger(ctx, ownerID, phrase)
	if err != nil {
		return r.renderError(err, "add", ownerID)
	}
	return fmt.Sprintf("Added highlight %q.", t.Phrase)
}

func (r *Router) doRemove(ctx context.Context, ownerID int64, args []string) string {
	if len(args) == 0 {
		return usage
	}
	if len(args) == 1 && args[0] == "~" {
		removed, err := r.engine.ClearTriggers(ctx, ownerID)
		if err != nil {
			return r.renderError(err, "clear", ownerID)
		}
		return fmt.Sprintf("Cleared %d highlights.", len(removed))
	}

	indices, err := parseIndices(args)
	if err != nil {
		return err.Error()
	}
	removed, err := r.engine.RemoveTriggers(ctx, ownerID, indices)
	if err != nil {
		return r.renderError(err, "rm", ownerID)
	}
	if len(removed) == 0 {
		return "Nothing removed."
	}
	names := make([]string, 0, len(removed))
	for _, t := range removed {
		names = append(names, strconv.Quote(t.Phrase))
	}
	return "Removed " + strings.Join(names, ", ") + "."
}

func (r *Router) doBlocklist(ctx context.Context, ownerID int64, args []string, block bool) string {
	if len(args) == 0 {
		return usage
	}
	ids, err := parseIDs(args)
	if err != nil {
		return err.Error()
	}
	if block {
		err = r.engine.Block(ctx, ownerID, ids...)
	} else {
		err = r.engine.Unblock(ctx, ownerID, ids...)
	}
	if err != nil {
		return r.renderError(err, "block", ownerID)
	}
	blocked := r.engine.Blocklist(ownerID)
	if len(blocked) == 0 {
		return "Your blocklist is empty."
	}
	parts := make([]string, 0, len(blocked))
	for _, id := range blocked {
		parts = append(parts, strconv.FormatInt(id, 10))
	}
	return "Blocked ids: " + strings.Join(parts, ", ")
}

// renderError surfaces user-correctable rejections verbatim and hides
// everything else behind a generic line.
func (r *Router) renderError(err error, op string, ownerID int64) string {
	if errors.Is(err, &highlight.ValidationError{}) || errors.Is(err, &highlight.SelectorError{}) {
		return err.Error()
	}
	r.log.Error("command failed", logx.String("command", op), logx.Int64("user", ownerID), logx.Err(err))
	return "Something went wrong; try again later."
}

// parseCommand recognizes "/hl" and "/hl@botname" prefixes and splits the
// subcommand from its arguments.
func parseCommand(text string) (sub string, args []string, ok bool) {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return "", nil, false
	}
	head := fields[0]
	if at := strings.IndexByte(head, '@'); at > 0 {
		head = head[:at]
	}
	if head != "/hl" {
		return "", nil, false
	}
	if len(fields) == 1 {
		return "", nil, true
	}
	return fields[1], fields[2:], true
}

// parseIndices accepts space- or comma-separated 1-based positions.
func parseIndices(args []string) ([]int, error) {
	var out []int
	for _, arg := range args {
		for _, part := range strings.Split(arg, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			n, err := strconv.Atoi(part)
			if err != nil {
				return nil, fmt.Errorf("%q is not a list position", part)
			}
			out = append(out, n)
		}
	}
	if len(out) == 0 {
		return nil, errors.New("no list positions given")
	}
	return out, nil
}

func parseIDs(args []string) ([]int64, error) {
	var out []int64
	for _, arg := range args {
		for _, part := range strings.Split(arg, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			n, err := strconv.ParseInt(part, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("%q is not an id", part)
			}
			out = append(out, n)
		}
	}
	if len(out) == 0 {
		return nil, errors.New("no ids given")
	}
	return out, nil
}
