package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"boardgame-bot/internal/metrics"
	"boardgame-bot/internal/notify"
	"boardgame-bot/internal/repo"
)

// Engine-level sentinel errors. Store-level sentinels (repo.ErrNotFound,
// repo.ErrUnavailable, repo.ErrInsufficientFunds) pass through unchanged.
var (
	// ErrBelowMinimum signals a payout request under the configured minimum.
	ErrBelowMinimum = errors.New("amount below configured minimum")
	// ErrBonusLimit signals the cap on simultaneously active bonus activations.
	ErrBonusLimit = errors.New("active bonus limit reached")
	// ErrBonusAlreadyActive signals a duplicate non-terminal activation of the
	// same bonus.
	ErrBonusAlreadyActive = errors.New("bonus already in progress")
	// ErrInvalidInput signals a structurally invalid request payload.
	ErrInvalidInput = errors.New("invalid input")
)

// adminRecipient is the inbox key for admin-channel notifications.
const adminRecipient = "admin"

// Config carries engine tunables that do not live in system settings.
type Config struct {
	AdminChatIDs   []int64
	ReferralPrefix string
}

// Engine implements the domain operations over a Store. Chat delivery is a
// best-effort side effect: the Notification row is always persisted first and
// a failed send is only logged.
type Engine struct {
	store      repo.Store
	sender     notify.Sender
	metrics    *metrics.Metrics
	logger     *slog.Logger
	cfg        Config
	onSettings func(ctx context.Context)
}

// New constructs the engine.
func New(store repo.Store, sender notify.Sender, metricRegistry *metrics.Metrics, logger *slog.Logger, cfg Config) *Engine {
	if cfg.ReferralPrefix == "" {
		cfg.ReferralPrefix = "ref_"
	}
	return &Engine{
		store:   store,
		sender:  sender,
		metrics: metricRegistry,
		logger:  logger.With("component", "engine"),
		cfg:     cfg,
	}
}

// Store exposes the underlying store for read-only surfaces.
func (e *Engine) Store() repo.Store {
	return e.store
}

// SetSettingsHook registers a callback invoked after every settings write.
// Used to invalidate the cached statistics snapshot.
func (e *Engine) SetSettingsHook(fn func(ctx context.Context)) {
	e.onSettings = fn
}

func (e *Engine) observe(op string, start time.Time, err error) {
	if e.metrics == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	e.metrics.EngineOps.WithLabelValues(op, status).Inc()
	e.metrics.EngineLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// notifyUser persists the inbox row and then attempts chat delivery.
func (e *Engine) notifyUser(ctx context.Context, user *repo.User, ntype, message string, ref *string) {
	if _, err := e.store.InsertNotification(ctx, repo.Notification{
		Recipient: user.ID,
		Type:      ntype,
		Message:   message,
		Ref:       ref,
	}); err != nil {
		e.logger.Error("persist notification failed", "type", ntype, "user_id", user.ID, "error", err)
		return
	}
	if err := e.sender.Send(ctx, user.TelegramID, message); err != nil {
		e.logger.Warn("chat delivery failed", "type", ntype, "chat_id", user.TelegramID, "error", err)
	}
}

// notifyAdmins persists one admin inbox row and fans the message out to every
// configured admin chat.
func (e *Engine) notifyAdmins(ctx context.Context, ntype, message string, ref *string) {
	if _, err := e.store.InsertNotification(ctx, repo.Notification{
		Recipient: adminRecipient,
		Type:      ntype,
		Message:   message,
		Ref:       ref,
	}); err != nil {
		e.logger.Error("persist admin notification failed", "type", ntype, "error", err)
		return
	}
	for _, chatID := range e.cfg.AdminChatIDs {
		if err := e.sender.Send(ctx, chatID, message); err != nil {
			e.logger.Warn("admin chat delivery failed", "type", ntype, "chat_id", chatID, "error", err)
		}
	}
}

// newNumber builds a human-readable entity number like ORD-20260830-1A2B.
func newNumber(prefix string) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:4])
	return fmt.Sprintf("%s-%s-%s", prefix, time.Now().UTC().Format("20060102"), suffix)
}

const numberRetries = 5

func strPtr(s string) *string {
	return &s
}
