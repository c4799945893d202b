package delivery

import (
	"fmt"
	"html"
	"strings"
	"unicode/utf8"
)

const (
	maxSummaryChars  = 600
	maxTitleChars    = 256
	telegramMaxChars = 4096
	separator        = "━━━━━━━━━━━━━━━━━━━━"
)

func sentimentEmoji(s string) string {
	switch s {
	case "bullish":
		return "🟢"
	case "bearish":
		return "🔴"
	default:
		return "⚪"
	}
}

func impactEmoji(s string) string {
	switch s {
	case "high":
		return "🔥"
	case "medium":
		return "📈"
	default:
		return "📰"
	}
}

// FormatTelegram renders a message as Telegram HTML. Plain text is capped
// before escaping and whole blocks are dropped to fit, so markup is never cut.
func FormatTelegram(msg Message) string {
	if len(msg.Items) > 0 {
		return formatDigest(msg)
	}

	title := html.EscapeString(truncate(msg.Title, maxTitleChars))
	header := fmt.Sprintf("%s <b>%s</b>\n\n", impactEmoji(msg.Impact), title)
	if msg.URL != "" {
		linked := fmt.Sprintf("%s <a href=\"%s\"><b>%s</b></a>\n\n", impactEmoji(msg.Impact), html.EscapeString(msg.URL), title)
		if utf8.RuneCountInString(linked) <= telegramMaxChars {
			header = linked
		}
	}

	blocks := []string{header}
	if summary := trimSummary(msg.Summary, maxSummaryChars); summary != "" {
		blocks = append(blocks, html.EscapeString(summary)+"\n\n")
	}

	var meta []string
	if msg.Sentiment != "" {
		meta = append(meta, sentimentEmoji(msg.Sentiment)+" "+msg.Sentiment)
	}
	if msg.Impact != "" {
		meta = append(meta, "impact: "+msg.Impact)
	}
	if msg.Source != "" {
		meta = append(meta, "via "+html.EscapeString(truncate(msg.Source, 64)))
	}
	if len(meta) > 0 {
		blocks = append(blocks, "<i>"+strings.Join(meta, " · ")+"</i>\n")
	}
	if tags := hashtags(msg.Tags); tags != "" {
		blocks = append(blocks, tags+"\n")
	}

	return fitBlocks(blocks, "", telegramMaxChars)
}

func formatDigest(msg Message) string {
	blocks := []string{fmt.Sprintf("🗞 <b>%s</b>\n%s\n\n", html.EscapeString(truncate(msg.Title, maxTitleChars)), separator)}
	for i, item := range msg.Items {
		var b strings.Builder
		fmt.Fprintf(&b, "%s <b>%d.</b> <a href=\"%s\">%s</a>\n", sentimentEmoji(item.Sentiment), i+1, html.EscapeString(item.URL), html.EscapeString(truncate(item.Title, maxTitleChars)))
		if summary := trimSummary(item.Summary, 240); summary != "" {
			b.WriteString(html.EscapeString(summary))
			b.WriteString("\n")
		}
		b.WriteString("\n")
		blocks = append(blocks, b.String())
	}
	return fitBlocks(blocks, separator, telegramMaxChars)
}

// fitBlocks joins complete markup blocks in order and stops at the first one
// that would push the message, including tail, past limit.
func fitBlocks(blocks []string, tail string, limit int) string {
	var b strings.Builder
	used := utf8.RuneCountInString(tail)
	for _, block := range blocks {
		n := utf8.RuneCountInString(block)
		if used+n > limit {
			break
		}
		b.WriteString(block)
		used += n
	}
	b.WriteString(tail)
	return b.String()
}

// PlainText renders a message without markup.
func PlainText(msg Message) string {
	var b strings.Builder
	if len(msg.Items) > 0 {
		b.WriteString(msg.Title + "\n\n")
		for i, item := range msg.Items {
			fmt.Fprintf(&b, "%d. %s\n%s\n\n", i+1, item.Title, item.URL)
		}
		return strings.TrimSpace(b.String())
	}
	b.WriteString(msg.Title)
	if s := trimSummary(msg.Summary, maxSummaryChars); s != "" {
		b.WriteString("\n\n" + s)
	}
	if msg.URL != "" {
		b.WriteString("\n" + msg.URL)
	}
	return b.String()
}

func hashtags(tags []string) string {
	var out []string
	for _, t := range tags {
		t = strings.Join(strings.Fields(t), "")
		if t != "" {
			out = append(out, "#"+html.EscapeString(t))
		}
	}
	return strings.Join(out, " ")
}

// trimSummary cuts to the last full sentence that fits.
func trimSummary(s string, limit int) string {
	s = strings.TrimSpace(strings.ReplaceAll(s, "\n\n\n", "\n\n"))
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	cut := string([]rune(s)[:limit])
	sentences := strings.Split(cut, ".")
	if len(sentences) > 1 {
		return strings.Join(sentences[:len(sentences)-1], ".") + "."
	}
	return cut + "..."
}

// truncate cuts plain text by runes. Never apply it to markup.
func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit-3]) + "..."
}
