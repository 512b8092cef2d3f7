package highlight

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"beacon/internal/transport"
	"beacon/pkg/textkit"
)

// contextBudget caps both the notification body and the lead line, in
// runes.
const contextBudget = 1500

const omittedMarker = "*[Omitted due to length]*"

// customEmoji matches platform emoji codes like <:name:1234> so they can
// be replaced with a readable placeholder without breaking formatting.
var customEmoji = regexp.MustCompile(`<a?:[a-zA-Z0-9_]{2,}:\d+>`)

// lineMarker prefixes every transcript line in place of an avatar.
const lineMarker = "•"

// sanitizeContent rewrites a message's text for transcript use: custom
// emoji codes become "❔" and non-text payloads become short counted
// placeholders.
func sanitizeContent(m transport.Message) string {
	c := customEmoji.ReplaceAllString(m.Text, "❔")
	if m.Attachments > 0 {
		c += fmt.Sprintf(" *[Attachment ×%d]*", m.Attachments)
	}
	if m.Embeds > 0 {
		c += fmt.Sprintf(" *[Embed ×%d]*", m.Embeds)
	}
	if m.Stickers > 0 {
		c += fmt.Sprintf(" *[Sticker ×%d]*", m.Stickers)
	}
	return strings.TrimSpace(c)
}

// renderLine formats one transcript line. Triggering messages get a
// link-wrapped line when a jump link is available.
func renderLine(m transport.Message, content string, isTrigger bool) string {
	if isTrigger && m.Link != "" {
		return fmt.Sprintf("[%s **%s**](%s) %s", lineMarker, m.AuthorName, m.Link, content)
	}
	return fmt.Sprintf("%s **%s** %s", lineMarker, m.AuthorName, content)
}

// BuildNotification renders the delivery payload for one pending entry:
// a lead line (the originating message) and a body (location header,
// surrounding transcript, timestamp). Both are hard-capped at the context
// budget regardless of input size.
func BuildNotification(p *Pending, history []transport.Message) (lead, body string) {
	triggers := p.triggerIDs()

	var lines []string
	total := 0
	for _, m := range history {
		content := sanitizeContent(m)
		if total+textkit.RuneLen(content) > contextBudget {
			content = omittedMarker
		}
		total += textkit.RuneLen(content)
		_, isTrigger := triggers[m.ID]
		lines = append(lines, renderLine(m, content, isTrigger))
	}

	header := fmt.Sprintf("In %s/#%s", p.Primary.GuildName, p.Primary.ChannelName)
	stamp := p.Primary.CreatedAt.UTC().Format(time.RFC1123)

	body = header + "\n" + strings.Join(lines, "\n") + "\n" + stamp
	body = textkit.TruncRunes(body, contextBudget)

	lead = fmt.Sprintf("%s: %s", p.Primary.AuthorName, p.Primary.Text)
	lead = textkit.TruncRunes(lead, contextBudget)
	return lead, body
}
