package notify

import (
	"context"
	"fmt"
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"boardgame-bot/internal/metrics"
)

// Config holds configuration to initialise the Telegram client.
type Config struct {
	Token   string
	Debug   bool
	Metrics *metrics.Metrics
}

// Telegram wraps the Bot API client and associated dependencies.
type Telegram struct {
	bot     *tgbotapi.BotAPI
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewTelegram creates a Telegram sender authorized with the given token.
func NewTelegram(cfg Config, logger *slog.Logger) (*Telegram, error) {
	bot, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("init telegram bot: %w", err)
	}
	bot.Debug = cfg.Debug

	t := &Telegram{
		bot:     bot,
		logger:  logger.With("component", "telegram"),
		metrics: cfg.Metrics,
	}
	t.logger.Info("telegram bot authorized", "username", bot.Self.UserName)
	return t, nil
}

// Bot exposes the underlying Bot API client for update polling.
func (t *Telegram) Bot() *tgbotapi.BotAPI {
	return t.bot
}

// Send delivers a plain text message to the chat.
func (t *Telegram) Send(ctx context.Context, chatID int64, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := t.bot.Send(msg); err != nil {
		if t.metrics != nil {
			t.metrics.Notifications.WithLabelValues("chat", "error").Inc()
		}
		return fmt.Errorf("send message: %w", err)
	}
	if t.metrics != nil {
		t.metrics.Notifications.WithLabelValues("chat", "ok").Inc()
	}
	return nil
}

// Close stops the update receiver if polling was started.
func (t *Telegram) Close() {
	t.bot.StopReceivingUpdates()
}
