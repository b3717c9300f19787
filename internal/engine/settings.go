package engine

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"boardgame-bot/internal/repo"
)

// System settings keys consumed by engine operations. Values are re-read on
// every use so runtime changes take effect immediately.
const (
	SettingMinPayoutAmount      = "min_payout_amount"
	SettingReferralBonus        = "referral_bonus"
	SettingReferralPercentage   = "referral_percentage"
	SettingConsultationPrice    = "consultation_price"
	SettingConsultationDuration = "consultation_duration"
	SettingPaymentTimeoutHours  = "payment_confirmation_timeout_hours"
	SettingStaleOrderHours      = "incomplete_order_reminder_hours"
	SettingReminderLeadHours    = "consultation_reminder_hours"
	SettingOrderStageCount      = "order_stage_count"
)

// GetSetting returns the raw value of a configuration key.
func (e *Engine) GetSetting(ctx context.Context, key string) (string, error) {
	return e.store.GetSetting(ctx, key)
}

// SetSetting writes a configuration key and invalidates dependent caches.
func (e *Engine) SetSetting(ctx context.Context, key, value string) error {
	start := time.Now()
	err := e.store.SetSetting(ctx, key, value)
	e.observe("set_setting", start, err)
	if err != nil {
		return fmt.Errorf("set setting %s: %w", key, err)
	}
	e.logger.Info("setting updated", "key", key)
	if e.onSettings != nil {
		e.onSettings(ctx)
	}
	return nil
}

// IntSetting reads an integer setting, falling back to def when the key is
// absent or malformed.
func (e *Engine) IntSetting(ctx context.Context, key string, def int64) int64 {
	raw, err := e.store.GetSetting(ctx, key)
	if err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			e.logger.Warn("read setting failed", "key", key, "error", err)
		}
		return def
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		e.logger.Warn("malformed integer setting", "key", key, "value", raw)
		return def
	}
	return value
}
