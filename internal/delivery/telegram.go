package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/duiduidodge/noon-feed-sub001/internal/logger"
	"github.com/duiduidodge/noon-feed-sub001/internal/retry"
)

// Telegram posts HTML messages to one chat or channel.
type Telegram struct {
	bot    *tgbotapi.BotAPI
	chatID string
	Retry  retry.RetryConfig
	logger *slog.Logger
}

type TelegramOptions struct {
	Token  string
	ChatID string
	// Endpoint overrides tgbotapi.APIEndpoint; it keeps the "bot%s/%s" shape.
	Endpoint string
	Client   *http.Client
}

// NewTelegram authenticates the bot with getMe and returns a channel for it.
func NewTelegram(opts TelegramOptions) (*Telegram, error) {
	if opts.Token == "" || opts.ChatID == "" {
		return nil, errors.New("telegram: token and chat id are required")
	}
	endpoint := opts.Endpoint
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	bot, err := tgbotapi.NewBotAPIWithClient(opts.Token, endpoint, client)
	if err != nil {
		return nil, fmt.Errorf("telegram: connect bot: %w", err)
	}

	log := logger.With("telegram")
	return &Telegram{
		bot:    bot,
		chatID: opts.ChatID,
		logger: log,
		Retry: retry.RetryConfig{
			MaxAttempts: 3,
			Delay:       2 * time.Second,
			Backoff:     true,
			ShouldRetry: telegramRetryable,
			Logger:      log,
			Name:        "telegram.send",
		},
	}, nil
}

func (t *Telegram) Name() string { return "telegram" }

func (t *Telegram) Send(ctx context.Context, msg Message) (string, error) {
	cfg := t.messageConfig(FormatTelegram(msg))

	sent, err := retry.Do(ctx, t.Retry, func(ctx context.Context) (tgbotapi.Message, error) {
		if err := ctx.Err(); err != nil {
			return tgbotapi.Message{}, err
		}
		return t.bot.Send(cfg)
	})
	if err != nil {
		return "", fmt.Errorf("telegram: send: %w", err)
	}

	t.logger.Info("message sent", "chat", t.chatID, "message_id", sent.MessageID)
	return strconv.Itoa(sent.MessageID), nil
}

// messageConfig accepts numeric chat ids and @channel usernames.
func (t *Telegram) messageConfig(text string) tgbotapi.MessageConfig {
	var cfg tgbotapi.MessageConfig
	if id, err := strconv.ParseInt(t.chatID, 10, 64); err == nil {
		cfg = tgbotapi.NewMessage(id, text)
	} else {
		cfg = tgbotapi.NewMessageToChannel(t.chatID, text)
	}
	cfg.ParseMode = tgbotapi.ModeHTML
	cfg.DisableWebPagePreview = true
	return cfg
}

func telegramRetryable(err error) bool {
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= 500
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
