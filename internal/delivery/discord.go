package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/duiduidodge/noon-feed-sub001/internal/logger"
	"github.com/duiduidodge/noon-feed-sub001/internal/retry"
)

const (
	discordMaxDescription = 4096
	colorBullish          = 0x2ecc71
	colorBearish          = 0xe74c3c
	colorNeutral          = 0x95a5a6
)

// Discord posts embeds through an incoming webhook.
type Discord struct {
	WebhookURL string
	Client     *http.Client
	Retry      retry.RetryConfig
	logger     *slog.Logger
}

func NewDiscord(webhookURL string) *Discord {
	log := logger.With("discord")
	return &Discord{
		WebhookURL: webhookURL,
		Client:     &http.Client{Timeout: 30 * time.Second},
		logger:     log,
		Retry: retry.RetryConfig{
			MaxAttempts: 3,
			Delay:       2 * time.Second,
			Backoff:     true,
			ShouldRetry: discordRetryable,
			Logger:      log,
			Name:        "discord.send",
		},
	}
}

func (d *Discord) Name() string { return "discord" }

type discordEmbed struct {
	Title       string              `json:"title,omitempty"`
	URL         string              `json:"url,omitempty"`
	Description string              `json:"description,omitempty"`
	Color       int                 `json:"color,omitempty"`
	Fields      []discordEmbedField `json:"fields,omitempty"`
}

type discordEmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type discordPayload struct {
	Content string         `json:"content,omitempty"`
	Embeds  []discordEmbed `json:"embeds,omitempty"`
}

type discordStatusError struct {
	StatusCode int
	Body       string
}

func (e *discordStatusError) Error() string {
	return fmt.Sprintf("discord webhook: status %d: %s", e.StatusCode, e.Body)
}

func (d *Discord) Send(ctx context.Context, msg Message) (string, error) {
	body, err := json.Marshal(discordMessage(msg))
	if err != nil {
		return "", fmt.Errorf("discord: encode payload: %w", err)
	}

	endpoint, err := url.Parse(d.WebhookURL)
	if err != nil {
		return "", fmt.Errorf("discord: webhook url: %w", err)
	}
	q := endpoint.Query()
	q.Set("wait", "true")
	endpoint.RawQuery = q.Encode()

	id, err := retry.Do(ctx, d.Retry, func(ctx context.Context) (string, error) {
		return d.post(ctx, endpoint.String(), body)
	})
	if err != nil {
		return "", fmt.Errorf("discord: send: %w", err)
	}
	d.logger.Info("message sent", "message_id", id)
	return id, nil
}

func (d *Discord) post(ctx context.Context, endpoint string, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.Client.Do(req)
	if err != nil {
		return "", err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			d.logger.Warn("failed to close response body", "error", err)
		}
	}()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &discordStatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}

	var created struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &created); err != nil {
		return "", fmt.Errorf("decode webhook response: %w", err)
	}
	return created.ID, nil
}

func discordMessage(msg Message) discordPayload {
	if len(msg.Items) > 0 {
		return discordPayload{Embeds: []discordEmbed{{
			Title:       msg.Title,
			Description: truncate(digestLines(msg.Items), discordMaxDescription),
			Color:       colorNeutral,
		}}}
	}

	embed := discordEmbed{
		Title:       truncate(msg.Title, 256),
		URL:         msg.URL,
		Description: trimSummary(msg.Summary, maxSummaryChars),
		Color:       sentimentColor(msg.Sentiment),
	}
	if msg.Sentiment != "" {
		embed.Fields = append(embed.Fields, discordEmbedField{Name: "Sentiment", Value: msg.Sentiment, Inline: true})
	}
	if msg.Impact != "" {
		embed.Fields = append(embed.Fields, discordEmbedField{Name: "Impact", Value: msg.Impact, Inline: true})
	}
	if len(msg.Tags) > 0 {
		embed.Fields = append(embed.Fields, discordEmbedField{Name: "Tags", Value: strings.Join(msg.Tags, ", ")})
	}
	if msg.Source != "" {
		embed.Fields = append(embed.Fields, discordEmbedField{Name: "Source", Value: msg.Source, Inline: true})
	}
	return discordPayload{Embeds: []discordEmbed{embed}}
}

func digestLines(items []Message) string {
	var b strings.Builder
	for i, item := range items {
		fmt.Fprintf(&b, "**%d.** [%s](%s)\n", i+1, item.Title, item.URL)
	}
	return b.String()
}

func sentimentColor(s string) int {
	switch s {
	case "bullish":
		return colorBullish
	case "bearish":
		return colorBearish
	default:
		return colorNeutral
	}
}

func discordRetryable(err error) bool {
	var statusErr *discordStatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode == http.StatusTooManyRequests || statusErr.StatusCode >= 500
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
