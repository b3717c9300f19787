package engine

import (
	"context"
	"time"

	"boardgame-bot/internal/repo"
)

// Broadcast fans a message out to every known chat and records the dispatch.
// Individual delivery failures are logged and skipped.
func (e *Engine) Broadcast(ctx context.Context, adminID, message string) (*repo.Broadcast, error) {
	start := time.Now()
	b, err := e.broadcast(ctx, adminID, message)
	e.observe("broadcast", start, err)
	return b, err
}

func (e *Engine) broadcast(ctx context.Context, adminID, message string) (*repo.Broadcast, error) {
	chatIDs, err := e.store.ListUserChatIDs(ctx)
	if err != nil {
		return nil, err
	}

	delivered := 0
	for _, chatID := range chatIDs {
		if err := e.sender.Send(ctx, chatID, message); err != nil {
			e.logger.Warn("broadcast delivery failed", "chat_id", chatID, "error", err)
			continue
		}
		delivered++
	}

	b, err := e.store.InsertBroadcast(ctx, repo.Broadcast{
		Message:        message,
		SentBy:         adminID,
		RecipientCount: delivered,
	})
	if err != nil {
		return nil, err
	}
	if err := e.store.InsertActivity(ctx, &adminID, "broadcast_sent", b.ID); err != nil {
		e.logger.Warn("log broadcast failed", "broadcast_id", b.ID, "error", err)
	}
	e.logger.Info("broadcast sent", "broadcast_id", b.ID, "delivered", delivered, "total", len(chatIDs))
	return b, nil
}

// SetVIP toggles the user's VIP flag.
func (e *Engine) SetVIP(ctx context.Context, userID string, vip bool, adminID string) error {
	start := time.Now()
	err := e.store.SetVIP(ctx, userID, vip)
	e.observe("set_vip", start, err)
	if err != nil {
		return err
	}
	action := "vip_revoked"
	if vip {
		action = "vip_granted"
	}
	if err := e.store.InsertActivity(ctx, &adminID, action, userID); err != nil {
		e.logger.Warn("log vip change failed", "user_id", userID, "error", err)
	}
	return nil
}

// Inbox returns the latest notifications for a recipient.
func (e *Engine) Inbox(ctx context.Context, recipient string, limit int) ([]repo.Notification, error) {
	return e.store.ListNotifications(ctx, recipient, limit)
}

// MarkRead marks one inbox entry as read.
func (e *Engine) MarkRead(ctx context.Context, notificationID string) error {
	return e.store.MarkNotificationRead(ctx, notificationID)
}

// RecentActivity returns the newest audit trail entries.
func (e *Engine) RecentActivity(ctx context.Context, limit int) ([]repo.ActivityEntry, error) {
	return e.store.ListActivity(ctx, limit)
}
