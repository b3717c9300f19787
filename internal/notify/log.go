package notify

import (
	"context"
	"log/slog"
)

// LogSender writes messages to the log instead of a chat. Used when no bot
// token is configured and in tests.
type LogSender struct {
	logger *slog.Logger
}

// NewLogSender returns a Sender backed by the logger.
func NewLogSender(logger *slog.Logger) *LogSender {
	return &LogSender{logger: logger.With("component", "notify-log")}
}

// Send logs the message and always succeeds.
func (l *LogSender) Send(ctx context.Context, chatID int64, text string) error {
	l.logger.Info("outgoing message", "chat_id", chatID, "text", text)
	return nil
}
